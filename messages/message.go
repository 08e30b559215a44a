package messages

import "github.com/go-openapi/strfmt"

// Message is the closed set of things that can appear on a completion
// thread. The marker method keeps the set sealed to this package.
type Message interface {
	message()
}

// UserPrompt is the request text that starts a run.
type UserPrompt struct {
	Content   string          `json:"content"`
	Sender    string          `json:"sender,omitempty"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

func (UserPrompt) message() {}

// AssistantMessage is a plain-text model response without tool calls.
type AssistantMessage struct {
	Content   string          `json:"content"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

func (AssistantMessage) message() {}

// ToolCallData is a single function invocation requested by the model.
// Arguments is the raw JSON payload exactly as the model produced it.
type ToolCallData struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallMessage is a model response consisting of one or more tool calls.
// It is appended to the thread before any of the calls are executed so the
// model sees its own requests on the next round.
type ToolCallMessage struct {
	ToolCalls []ToolCallData  `json:"tool_calls"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

func (ToolCallMessage) message() {}

// ToolResponse carries the outcome of one tool call back to the model.
// A failed invocation is still a ToolResponse, with IsError set and the
// failure text as Content, so the model can react to it.
type ToolResponse struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Content    string          `json:"content"`
	IsError    bool            `json:"is_error,omitempty"`
	Timestamp  strfmt.DateTime `json:"timestamp"`
}

func (ToolResponse) message() {}
