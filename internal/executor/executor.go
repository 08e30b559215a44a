// Package executor drives the model and tool loop for a single run.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/casualjim/herald/api"
	"github.com/casualjim/herald/broker"
	"github.com/casualjim/herald/bus"
	"github.com/casualjim/herald/events"
	"github.com/casualjim/herald/messages"
	"github.com/casualjim/herald/pkg/slogx"
	"github.com/casualjim/herald/provider"
	"github.com/casualjim/herald/tool"
)

// ToolInvoker routes a fully qualified tool call. Satisfied by broker.Broker.
type ToolInvoker interface {
	Invoke(ctx context.Context, fqName string, args string) (broker.Result, error)
}

// Command is everything the executor needs to drive one run.
type Command struct {
	Run          *api.Run
	Instructions string
	Gateway      provider.Provider
	Invoker      ToolInvoker
	Tools        []tool.Descriptor
	Topic        bus.Topic

	MaxRounds      int
	Temperature    float64
	GatewayTimeout time.Duration
}

// Validate reports everything missing from the command, not just the first
// problem.
func (c Command) Validate() error {
	var err error
	if c.Run == nil {
		err = errors.Join(err, errors.New("run is required"))
	}
	if c.Gateway == nil {
		err = errors.Join(err, errors.New("gateway is required"))
	}
	if c.Invoker == nil {
		err = errors.Join(err, errors.New("invoker is required"))
	}
	if c.Topic == nil {
		err = errors.Join(err, errors.New("topic is required"))
	}
	if c.MaxRounds <= 0 {
		err = errors.Join(err, errors.New("max rounds must be positive"))
	}
	return err
}

// Result is what a run produced when it finished cleanly.
type Result struct {
	FinalMessage string
	ToolsUsed    []string
}

// BudgetError means the run hit its round budget without the model producing
// a final message.
type BudgetError struct {
	Rounds int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("run exceeded its budget of %d model rounds", e.Rounds)
}

func (e *BudgetError) Code() string { return "step_budget_exceeded" }

// GatewayError wraps a model gateway failure.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("model gateway: %v", e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Code() string { return "model_gateway_error" }

// Local runs the loop in-process.
type Local struct{}

func NewLocal() *Local {
	return &Local{}
}

// Run drives the model until it produces a final message or the round budget
// runs out. Tool calls inside a round execute concurrently; their responses
// are appended in the order the model requested them.
func (l *Local) Run(ctx context.Context, command Command) (Result, error) {
	if err := command.Validate(); err != nil {
		return Result{}, err
	}

	run := command.Run
	history := []messages.Message{
		messages.UserPrompt{
			Content:   run.Prompt,
			Sender:    run.Requester.ID,
			Timestamp: strfmt.DateTime(time.Now()),
		},
	}
	var toolsUsed []string

	for round := 1; round <= command.MaxRounds; round++ {
		completion, err := l.complete(ctx, command, history)
		if err != nil {
			return Result{}, &GatewayError{Err: err}
		}

		if len(completion.ToolCalls) == 0 {
			l.publish(ctx, command.Topic, events.Message{
				RunID:     run.ID,
				Content:   completion.Content,
				Timestamp: strfmt.DateTime(time.Now()),
			})
			return Result{FinalMessage: completion.Content, ToolsUsed: toolsUsed}, nil
		}

		names := make([]string, len(completion.ToolCalls))
		for i, tc := range completion.ToolCalls {
			names[i] = tc.Name
		}
		l.publish(ctx, command.Topic, events.Plan{
			RunID:     run.ID,
			Round:     round,
			Tools:     names,
			Timestamp: strfmt.DateTime(time.Now()),
		})

		history = append(history, messages.ToolCallMessage{
			ToolCalls: completion.ToolCalls,
			Timestamp: strfmt.DateTime(time.Now()),
		})

		responses := l.executeToolCalls(ctx, command, completion.ToolCalls)
		for _, resp := range responses {
			history = append(history, resp)
		}
		toolsUsed = append(toolsUsed, names...)
	}

	return Result{}, &BudgetError{Rounds: command.MaxRounds}
}

func (l *Local) complete(ctx context.Context, command Command, history []messages.Message) (provider.Completion, error) {
	if command.GatewayTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, command.GatewayTimeout)
		defer cancel()
	}
	return command.Gateway.Complete(ctx, provider.CompletionParams{
		RunID:        command.Run.ID,
		Instructions: command.Instructions,
		Messages:     history,
		Tools:        command.Tools,
		Temperature:  command.Temperature,
	})
}

func (l *Local) executeToolCalls(ctx context.Context, command Command, calls []messages.ToolCallData) []messages.ToolResponse {
	responses := make([]messages.ToolResponse, len(calls))

	var wg sync.WaitGroup
	for i, tc := range calls {
		l.publish(ctx, command.Topic, events.ToolCall{
			RunID:     command.Run.ID,
			ID:        tc.ID,
			Name:      tc.Name,
			Arguments: tc.Arguments,
			Timestamp: strfmt.DateTime(time.Now()),
		})

		wg.Add(1)
		go func(i int, tc messages.ToolCallData) {
			defer wg.Done()

			resp := messages.ToolResponse{
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				Timestamp:  strfmt.DateTime(time.Now()),
			}

			result, err := command.Invoker.Invoke(ctx, tc.Name, tc.Arguments)
			if err != nil {
				resp.Content = err.Error()
				resp.IsError = true
			} else {
				resp.Content = result.Content
				resp.IsError = result.IsError
			}
			responses[i] = resp
		}(i, tc)
	}
	wg.Wait()

	return responses
}

func (l *Local) publish(ctx context.Context, topic bus.Topic, event events.Event) {
	if err := topic.Publish(ctx, event); err != nil {
		slog.Error("failed to publish run event", slogx.Error(err))
	}
}
