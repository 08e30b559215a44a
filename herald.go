package herald

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"

	"github.com/casualjim/herald/api"
	"github.com/casualjim/herald/audit"
	"github.com/casualjim/herald/broker"
	"github.com/casualjim/herald/bus"
	"github.com/casualjim/herald/dedup"
	"github.com/casualjim/herald/events"
	"github.com/casualjim/herald/internal/executor"
	"github.com/casualjim/herald/pkg/slogx"
	"github.com/casualjim/herald/pkg/uuidx"
	"github.com/casualjim/herald/provider"
	"github.com/casualjim/herald/tool"
)

// ToolBroker is the slice of the tool broker the engine needs. Satisfied by
// *broker.Broker.
type ToolBroker interface {
	ListAllowed(patterns []string) []tool.Descriptor
	Invoke(ctx context.Context, fqName string, args string) (broker.Result, error)
}

type coded interface {
	Code() string
}

// Engine accepts run submissions and drives each one through the model and
// tool loop, streaming progress on the event bus.
type Engine struct {
	gateway    provider.Provider
	bus        bus.Bus
	broker     ToolBroker
	auditStore audit.Store

	instructions  string
	allowPatterns []string
	maxRounds     int
	temperature   float64

	gatewayTimeout time.Duration
	dedupWindow    time.Duration

	dedup *dedup.Cache
	exec  *executor.Local

	mu   sync.RWMutex
	runs *haxmap.Map[string, *api.Run]

	closed   atomic.Bool
	inflight sync.WaitGroup
}

// New builds an engine. A gateway is required; everything else has a default:
// in-process bus, in-memory audit trail, no tools, ten model rounds.
func New(options ...Option) (*Engine, error) {
	e := &Engine{
		bus:            bus.Local(),
		auditStore:     audit.NewMemoryStore(),
		broker:         nopBroker{},
		instructions:   "You are a helpful assistant.",
		maxRounds:      10,
		temperature:    0.1,
		gatewayTimeout: 30 * time.Second,
		dedupWindow:    dedup.DefaultWindow,
		exec:           executor.NewLocal(),
		runs:           haxmap.New[string, *api.Run](),
	}
	if err := opts.Apply(e, options); err != nil {
		return nil, err
	}
	if e.gateway == nil {
		return nil, &ValidationError{Issues: []string{"a model gateway is required"}}
	}
	e.dedup = dedup.New(e.dedupWindow)
	return e, nil
}

// Submit accepts a request and returns a receipt before any model call
// happens. The run proceeds in the background; watch it with Subscribe.
// Duplicate submissions inside the dedup window land on the run already in
// flight.
func (e *Engine) Submit(ctx context.Context, req Request) (Receipt, error) {
	if e.closed.Load() {
		return Receipt{}, ErrEngineClosed
	}
	if err := req.Validate(); err != nil {
		return Receipt{}, err
	}

	fingerprint := dedup.Fingerprint(
		req.Requester.ID,
		req.Requester.Provider,
		req.Context.ReplyTarget(),
		req.Prompt,
	)
	runID := uuidx.Prefixed("run")

	claim := e.dedup.TryClaim(fingerprint, runID)
	if !claim.Claimed {
		slog.Info("duplicate submission suppressed",
			slogx.RunID(claim.ExistingRunID),
			slog.String("requester", req.Requester.ID),
		)
		return Receipt{RunID: claim.ExistingRunID, Duplicate: true}, nil
	}

	run := &api.Run{
		ID:        runID,
		Status:    api.StatusCreated,
		Prompt:    req.Prompt,
		Requester: req.Requester,
		Context:   req.Context,
		StartedAt: time.Now(),
	}
	e.runs.Set(runID, run)

	// The topic exists before the receipt goes back, so a subscriber that
	// reacts to the receipt cannot miss events.
	topic := e.bus.Topic(context.Background(), runID)

	e.inflight.Add(1)
	go e.process(run, fingerprint, topic)

	return Receipt{RunID: runID}, nil
}

func (e *Engine) process(run *api.Run, fingerprint string, topic bus.Topic) {
	defer e.inflight.Done()
	ctx := context.Background()
	started := time.Now()

	e.setStatus(run, api.StatusRunning)

	recordID, err := e.auditStore.CreateRun(ctx, audit.Record{
		RunID:             run.ID,
		RequesterProvider: run.Requester.Provider,
		RequesterID:       run.Requester.ID,
		ReplyTarget:       run.Context.ReplyTarget(),
		Prompt:            run.Prompt,
		StartedAt:         run.StartedAt,
	})
	if err != nil {
		slog.Error("failed to create audit record", slogx.RunID(run.ID), slogx.Error(err))
	}

	result, runErr := e.exec.Run(ctx, executor.Command{
		Run:            run,
		Instructions:   e.instructions,
		Gateway:        e.gateway,
		Invoker:        e.broker,
		Tools:          e.broker.ListAllowed(e.allowPatterns),
		Topic:          topic,
		MaxRounds:      e.maxRounds,
		Temperature:    e.temperature,
		GatewayTimeout: e.gatewayTimeout,
	})

	update := audit.Update{Latency: time.Since(started)}
	if runErr != nil {
		code := "internal_error"
		if c, ok := runErr.(coded); ok {
			code = c.Code()
		}
		e.publish(ctx, topic, events.Error{
			RunID:     run.ID,
			Err:       runErr,
			Code:      code,
			Timestamp: now(),
		})

		e.mu.Lock()
		run.Status = api.StatusError
		run.Error = runErr.Error()
		e.mu.Unlock()

		update.Status = api.StatusError
		update.Error = runErr.Error()
		slog.Error("run failed", slogx.RunID(run.ID), slog.String("code", code), slogx.Error(runErr))
	} else {
		e.publish(ctx, topic, events.Done{
			RunID:        run.ID,
			FinalMessage: result.FinalMessage,
			ToolsUsed:    result.ToolsUsed,
			Timestamp:    now(),
		})

		e.mu.Lock()
		run.Status = api.StatusOk
		run.FinalMessage = result.FinalMessage
		run.ToolsUsed = result.ToolsUsed
		e.mu.Unlock()

		update.Status = api.StatusOk
		update.FinalMessage = result.FinalMessage
		update.ToolsUsed = result.ToolsUsed
	}

	e.dedup.Release(fingerprint, run.ID)

	if recordID != "" {
		if err := e.auditStore.UpdateRun(ctx, recordID, update); err != nil {
			slog.Error("failed to update audit record", slogx.RunID(run.ID), slogx.Error(err))
		}
	}
}

func (e *Engine) setStatus(run *api.Run, status api.RunStatus) {
	e.mu.Lock()
	run.Status = status
	e.mu.Unlock()
}

func (e *Engine) publish(ctx context.Context, topic bus.Topic, event events.Event) {
	if err := topic.Publish(ctx, event); err != nil {
		slog.Error("failed to publish run event", slogx.Error(err))
	}
}

// Run returns a snapshot of a run's current state.
func (e *Engine) Run(id string) (api.Run, bool) {
	run, ok := e.runs.Get(id)
	if !ok {
		return api.Run{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return *run, true
}

// Tools lists the tool descriptors runs are allowed to use.
func (e *Engine) Tools() []tool.Descriptor {
	return e.broker.ListAllowed(e.allowPatterns)
}

// Subscribe attaches a hook to a run's event stream. Use bus.ReplayFrom to
// resume after a disconnect.
func (e *Engine) Subscribe(ctx context.Context, runID string, hook events.Hook, options ...bus.SubscribeOption) (bus.Subscription, error) {
	if _, ok := e.runs.Get(runID); !ok {
		return nil, &ValidationError{Issues: []string{"unknown run " + runID}}
	}
	return e.bus.Topic(ctx, runID).Subscribe(ctx, hook, options...)
}

// Shutdown stops accepting submissions and waits for in-flight runs, up to
// the context deadline.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.closed.Store(true)

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func now() strfmt.DateTime {
	return strfmt.DateTime(time.Now())
}

// nopBroker serves engines configured without tools.
type nopBroker struct{}

func (nopBroker) ListAllowed([]string) []tool.Descriptor { return nil }

func (nopBroker) Invoke(_ context.Context, fqName string, _ string) (broker.Result, error) {
	return broker.Result{}, &broker.RoutingError{FQName: fqName, Reason: "no tool broker configured"}
}
