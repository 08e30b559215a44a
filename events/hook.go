package events

import "context"

// Hook receives typed callbacks for every event on a run stream. Implementations
// must be safe for concurrent use when shared across subscriptions.
type Hook interface {
	OnPlan(ctx context.Context, event Plan)
	OnToolCall(ctx context.Context, event ToolCall)
	OnToken(ctx context.Context, event Token)
	OnMessage(ctx context.Context, event Message)
	OnDone(ctx context.Context, event Done)
	OnError(ctx context.Context, event Error)
	OnPing(ctx context.Context, event Ping)
}

// NoopHook ignores every event. Embed it to implement only the callbacks you
// care about.
type NoopHook struct{}

func (NoopHook) OnPlan(context.Context, Plan)         {}
func (NoopHook) OnToolCall(context.Context, ToolCall) {}
func (NoopHook) OnToken(context.Context, Token)       {}
func (NoopHook) OnMessage(context.Context, Message)   {}
func (NoopHook) OnDone(context.Context, Done)         {}
func (NoopHook) OnError(context.Context, Error)       {}
func (NoopHook) OnPing(context.Context, Ping)         {}

// Dispatch routes an event to the matching hook callback.
func Dispatch(ctx context.Context, hook Hook, event Event) {
	switch e := event.(type) {
	case Plan:
		hook.OnPlan(ctx, e)
	case ToolCall:
		hook.OnToolCall(ctx, e)
	case Token:
		hook.OnToken(ctx, e)
	case Message:
		hook.OnMessage(ctx, e)
	case Done:
		hook.OnDone(ctx, e)
	case Error:
		hook.OnError(ctx, e)
	case Ping:
		hook.OnPing(ctx, e)
	}
}
