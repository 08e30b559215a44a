package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/fogfish/opts"

	"github.com/casualjim/herald/events"
	"github.com/casualjim/herald/pkg/uuidx"
)

const subscriberBuffer = 50

// ErrTopicClosed is returned by Publish once a topic's grace window after its
// terminal event has elapsed.
var ErrTopicClosed = fmt.Errorf("topic is closed")

type localBus struct {
	topics                *haxmap.Map[string, *localTopic]
	heartbeatInterval     time.Duration
	graceDelay            time.Duration
	slowSubscriberTimeout time.Duration
}

// Local builds the in-process bus. Every sequenced event is buffered per
// topic, so subscribers that attach after publishing started still see the
// full stream.
func Local(options ...opts.Option[localBus]) Bus {
	b := &localBus{
		topics:                haxmap.New[string, *localTopic](),
		heartbeatInterval:     defaultHeartbeatInterval,
		graceDelay:            defaultGraceDelay,
		slowSubscriberTimeout: defaultSlowSubscriberTimeout,
	}
	if err := opts.Apply(b, options); err != nil {
		panic(err)
	}
	return b
}

func (b *localBus) Topic(ctx context.Context, id string) Topic {
	top, _ := b.topics.GetOrCompute(id, func() *localTopic {
		return &localTopic{
			id:   id,
			bus:  b,
			subs: make(map[string]*localSub),
		}
	})
	return top
}

type localTopic struct {
	id  string
	bus *localBus

	mu        sync.Mutex
	seq       uint64
	history   []events.Event
	subs      map[string]*localSub
	closed    bool
	idleTimer *time.Timer
}

// Publish stamps the event with the topic's next sequence number, buffers it,
// and fans it out. Pings are never sequenced or buffered; they only exist as
// per-subscriber liveness signals.
func (t *localTopic) Publish(ctx context.Context, event events.Event) error {
	if _, isPing := event.(events.Ping); isPing {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return ErrTopicClosed
		}
		targets := t.snapshotLocked()
		t.mu.Unlock()
		t.fanOut(ctx, event, targets)
		return nil
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTopicClosed
	}
	t.seq++
	stamped := events.WithSequence(event, t.seq)
	t.history = append(t.history, stamped)
	targets := t.snapshotLocked()
	t.mu.Unlock()

	t.fanOut(ctx, stamped, targets)

	if kind := event.EventKind(); kind.Terminal() {
		time.AfterFunc(t.bus.graceDelay, t.close)
	}
	return nil
}

func (t *localTopic) Subscribe(ctx context.Context, hook events.Hook, options ...SubscribeOption) (Subscription, error) {
	if hook == nil {
		return nil, fmt.Errorf("hook is required")
	}
	var so subscribeOptions
	if err := opts.Apply(&so, options); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTopicClosed
	}

	var replay []events.Event
	for _, ev := range t.history {
		if events.SequenceOf(ev) > so.replayFrom {
			replay = append(replay, ev)
		}
	}

	sub := &localSub{
		id:      uuidx.NewString(),
		ctx:     ctx,
		channel: make(chan events.Event, len(replay)+subscriberBuffer),
		done:    make(chan struct{}),
		hook:    hook,
		topic:   t,
	}
	for _, ev := range replay {
		sub.channel <- ev
	}
	t.subs[sub.id] = sub
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	t.mu.Unlock()

	go sub.forwardToHook()
	go sub.heartbeat(t.bus.heartbeatInterval)
	return sub, nil
}

func (t *localTopic) snapshotLocked() []*localSub {
	targets := make([]*localSub, 0, len(t.subs))
	for _, sub := range t.subs {
		targets = append(targets, sub)
	}
	return targets
}

func (t *localTopic) fanOut(ctx context.Context, event events.Event, targets []*localSub) {
	for _, sub := range targets {
		select {
		case <-ctx.Done():
			return
		case <-sub.ctx.Done():
			sub.Unsubscribe()
		case <-sub.done:
		case sub.channel <- event:
		case <-time.After(t.bus.slowSubscriberTimeout):
			// Channel still full after the timeout, drop the subscriber.
			sub.Unsubscribe()
		}
	}
}

// close tears the topic down after the terminal grace window. Remaining
// subscribers are unsubscribed and the run ID is released from the bus.
func (t *localTopic) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	targets := t.snapshotLocked()
	t.history = nil
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	t.mu.Unlock()

	for _, sub := range targets {
		sub.Unsubscribe()
	}
	t.bus.topics.Del(t.id)
}

func (t *localTopic) removeSub(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, id)
	if len(t.subs) > 0 || t.closed {
		return
	}
	// Nobody is listening. Keep the buffer around for the grace window in
	// case a subscriber reattaches, then discard it. The sequence counter
	// survives so later events stay monotonic.
	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	t.idleTimer = time.AfterFunc(t.bus.graceDelay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if len(t.subs) == 0 && !t.closed {
			t.history = nil
		}
	})
}

type localSub struct {
	id        string
	ctx       context.Context
	channel   chan events.Event
	done      chan struct{}
	closeOnce sync.Once
	hook      events.Hook
	topic     *localTopic
}

func (s *localSub) ID() string {
	return s.id
}

func (s *localSub) Unsubscribe() {
	s.closeOnce.Do(func() {
		s.topic.removeSub(s.id)
		close(s.done)
	})
}

func (s *localSub) forwardToHook() {
	for {
		select {
		case event := <-s.channel:
			events.Dispatch(s.ctx, s.hook, event)
		case <-s.done:
			return
		case <-s.ctx.Done():
			s.Unsubscribe()
			return
		}
	}
}

// heartbeat pings the hook whenever the subscription is still alive at the
// interval. Pings bypass the event channel so a backed up subscriber still
// learns the stream is alive.
func (s *localSub) heartbeat(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.hook.OnPing(s.ctx, events.NewPing(s.topic.id))
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		}
	}
}
