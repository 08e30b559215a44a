package herald

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casualjim/herald/api"
	"github.com/casualjim/herald/broker"
	"github.com/casualjim/herald/events"
	"github.com/casualjim/herald/messages"
	"github.com/casualjim/herald/provider"
)

type scriptedGateway struct {
	mu     sync.Mutex
	script []provider.Completion
	err    error
	turns  int
}

func (g *scriptedGateway) Complete(_ context.Context, _ provider.CompletionParams) (provider.Completion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err != nil {
		return provider.Completion{}, g.err
	}
	if g.turns >= len(g.script) {
		return provider.Completion{}, errors.New("script exhausted")
	}
	c := g.script[g.turns]
	g.turns++
	return c, nil
}

type recorder struct {
	mu   sync.Mutex
	seen []events.Event
}

func (r *recorder) add(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, e)
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, len(r.seen))
	for i, e := range r.seen {
		out[i] = e.EventKind()
	}
	return out
}

func (r *recorder) find(kind events.Kind) (events.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.seen {
		if e.EventKind() == kind {
			return e, true
		}
	}
	return nil, false
}

func (r *recorder) OnPlan(_ context.Context, e events.Plan)         { r.add(e) }
func (r *recorder) OnToolCall(_ context.Context, e events.ToolCall) { r.add(e) }
func (r *recorder) OnToken(_ context.Context, e events.Token)       { r.add(e) }
func (r *recorder) OnMessage(_ context.Context, e events.Message)   { r.add(e) }
func (r *recorder) OnDone(_ context.Context, e events.Done)         { r.add(e) }
func (r *recorder) OnError(_ context.Context, e events.Error)       { r.add(e) }
func (r *recorder) OnPing(_ context.Context, _ events.Ping)         {}

func validRequest() Request {
	return Request{
		Prompt:    "what time is it?",
		Requester: api.Requester{Provider: "slack", ID: "U123"},
		Context:   api.RunContext{ChannelID: "C456"},
	}
}

func TestSubmitAcknowledgesBeforeCompletion(t *testing.T) {
	gateway := &scriptedGateway{script: []provider.Completion{{Content: "It is noon."}}}
	engine, err := New(WithGateway(gateway))
	require.NoError(t, err)

	receipt, err := engine.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	require.NotEmpty(t, receipt.RunID)
	assert.False(t, receipt.Duplicate)

	hook := &recorder{}
	_, err = engine.Subscribe(context.Background(), receipt.RunID, hook)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		run, ok := engine.Run(receipt.RunID)
		return ok && run.Status == api.StatusOk
	}, time.Second, 5*time.Millisecond)

	run, _ := engine.Run(receipt.RunID)
	assert.Equal(t, "It is noon.", run.FinalMessage)

	require.Eventually(t, func() bool {
		_, ok := hook.find(events.KindDone)
		return ok
	}, time.Second, 5*time.Millisecond)

	done, _ := hook.find(events.KindDone)
	assert.Equal(t, "It is noon.", done.(events.Done).FinalMessage)
}

func TestSubmitDeduplicates(t *testing.T) {
	gateway := &scriptedGateway{script: []provider.Completion{{Content: "hi"}, {Content: "hi"}}}
	engine, err := New(WithGateway(gateway), WithDedupWindow(time.Minute))
	require.NoError(t, err)

	// Hold the gateway so the first run stays in flight during the second
	// submission.
	gateway.mu.Lock()
	first, err := engine.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	second, err := engine.Submit(context.Background(), validRequest())
	gateway.mu.Unlock()
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.RunID, second.RunID)
}

func TestSubmitDistinctPromptsAreNotDuplicates(t *testing.T) {
	gateway := &scriptedGateway{script: []provider.Completion{{Content: "a"}, {Content: "b"}}}
	engine, err := New(WithGateway(gateway))
	require.NoError(t, err)

	first, err := engine.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.Prompt = "something else entirely"
	second, err := engine.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, second.Duplicate)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestSubmitValidation(t *testing.T) {
	engine, err := New(WithGateway(&scriptedGateway{}))
	require.NoError(t, err)

	_, err = engine.Submit(context.Background(), Request{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Issues, 3)

	// Nothing was created for the rejected request.
	_, ok := engine.Run("run_whatever")
	assert.False(t, ok)
}

func TestRunWithToolsEmitsFullStream(t *testing.T) {
	gateway := &scriptedGateway{script: []provider.Completion{
		{ToolCalls: []messages.ToolCallData{
			{ID: "call_1", Name: "tool__demo__clock", Arguments: `{}`},
		}},
		{Content: "It is noon."},
	}}

	tools, err := broker.New(broker.WithProvider("demo", broker.NewLocalProvider("demo", broker.LocalTool{
		Name: "clock",
		Handler: func(_ context.Context, _ json.RawMessage) (string, error) {
			return "12:00", nil
		},
	})))
	require.NoError(t, err)
	require.NoError(t, tools.Discover(context.Background()))

	engine, err := New(WithGateway(gateway), WithToolBroker(tools))
	require.NoError(t, err)

	receipt, err := engine.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	hook := &recorder{}
	_, err = engine.Subscribe(context.Background(), receipt.RunID, hook)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := hook.find(events.KindDone)
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t,
		[]events.Kind{events.KindPlan, events.KindToolCall, events.KindMessage, events.KindDone},
		hook.kinds(),
	)

	done, _ := hook.find(events.KindDone)
	assert.Equal(t, []string{"tool__demo__clock"}, done.(events.Done).ToolsUsed)

	run, _ := engine.Run(receipt.RunID)
	assert.Equal(t, []string{"tool__demo__clock"}, run.ToolsUsed)
}

func TestRunBudgetErrorEndsStream(t *testing.T) {
	loop := provider.Completion{ToolCalls: []messages.ToolCallData{
		{ID: "call_1", Name: "tool__demo__clock", Arguments: `{}`},
	}}
	gateway := &scriptedGateway{script: []provider.Completion{loop, loop}}

	tools, err := broker.New(broker.WithProvider("demo", broker.NewLocalProvider("demo", broker.LocalTool{
		Name: "clock",
		Handler: func(_ context.Context, _ json.RawMessage) (string, error) {
			return "12:00", nil
		},
	})))
	require.NoError(t, err)
	require.NoError(t, tools.Discover(context.Background()))

	engine, err := New(WithGateway(gateway), WithToolBroker(tools), WithMaxRounds(2))
	require.NoError(t, err)

	receipt, err := engine.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	hook := &recorder{}
	_, err = engine.Subscribe(context.Background(), receipt.RunID, hook)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		run, ok := engine.Run(receipt.RunID)
		return ok && run.Status == api.StatusError
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := hook.find(events.KindError)
		return ok
	}, time.Second, 5*time.Millisecond)

	errEvent, _ := hook.find(events.KindError)
	assert.Equal(t, "step_budget_exceeded", errEvent.(events.Error).Code)

	_, hasDone := hook.find(events.KindDone)
	assert.False(t, hasDone)
}

func TestGatewayFailure(t *testing.T) {
	gateway := &scriptedGateway{err: errors.New("rate limited")}
	engine, err := New(WithGateway(gateway))
	require.NoError(t, err)

	receipt, err := engine.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	hook := &recorder{}
	_, err = engine.Subscribe(context.Background(), receipt.RunID, hook)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := hook.find(events.KindError)
		return ok
	}, time.Second, 5*time.Millisecond)

	errEvent, _ := hook.find(events.KindError)
	assert.Equal(t, "model_gateway_error", errEvent.(events.Error).Code)

	run, _ := engine.Run(receipt.RunID)
	assert.Equal(t, api.StatusError, run.Status)
	assert.Contains(t, run.Error, "rate limited")
}

func TestSubscribeUnknownRun(t *testing.T) {
	engine, err := New(WithGateway(&scriptedGateway{}))
	require.NoError(t, err)

	_, err = engine.Subscribe(context.Background(), "run_nope", &recorder{})
	require.Error(t, err)
}

func TestNewRequiresGateway(t *testing.T) {
	_, err := New()
	require.Error(t, err)
}

func TestShutdown(t *testing.T) {
	gateway := &scriptedGateway{script: []provider.Completion{{Content: "bye"}}}
	engine, err := New(WithGateway(gateway))
	require.NoError(t, err)

	_, err = engine.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, engine.Shutdown(ctx))

	_, err = engine.Submit(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrEngineClosed)
}
