// Package provider abstracts the model gateway a run talks to. Implementations
// translate conversation history and tool descriptors into a single completion
// request and hand back either text or tool call requests.
package provider

import (
	"context"

	"github.com/casualjim/herald/messages"
	"github.com/casualjim/herald/tool"
)

// CompletionParams carries everything a gateway needs for one model turn.
type CompletionParams struct {
	// RunID identifies the run the completion belongs to, for logging.
	RunID string
	// Instructions become the system message.
	Instructions string
	// Messages is the conversation so far, in order.
	Messages []messages.Message
	// Tools is the set of tools the model may request, already filtered by
	// the allow-list and named by their fully qualified names.
	Tools []tool.Descriptor
	// Temperature is passed through to the model.
	Temperature float64
}

// Completion is a single model response. Content and ToolCalls are mutually
// exclusive in practice; when the model requests tools, Content is empty.
type Completion struct {
	Content   string
	ToolCalls []messages.ToolCallData
}

// Provider is a model gateway.
type Provider interface {
	Complete(ctx context.Context, params CompletionParams) (Completion, error)
}
