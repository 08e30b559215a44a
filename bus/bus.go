// Package bus fans run events out to subscribers. The in-process
// implementation buffers every sequenced event so late subscribers can replay
// from where they left off; the NATS implementation trades replay for
// cross-process delivery.
package bus

import (
	"context"
	"time"

	"github.com/fogfish/opts"

	"github.com/casualjim/herald/events"
)

// Bus hands out topics keyed by run ID. The same ID always resolves to the
// same topic until the run's grace window elapses.
type Bus interface {
	Topic(ctx context.Context, id string) Topic
}

// Topic is the event stream for a single run.
type Topic interface {
	Publish(ctx context.Context, event events.Event) error
	Subscribe(ctx context.Context, hook events.Hook, options ...SubscribeOption) (Subscription, error)
}

// Subscription is a handle for a single subscriber on a topic.
type Subscription interface {
	ID() string
	Unsubscribe()
}

type subscribeOptions struct {
	replayFrom uint64
}

// SubscribeOption tunes a single Subscribe call.
type SubscribeOption = opts.Option[subscribeOptions]

// ReplayFrom skips buffered events with a sequence number at or below seq.
// Subscribing without it replays the full history before live events flow.
// Implementations without a buffer ignore this.
func ReplayFrom(seq uint64) SubscribeOption {
	return opts.Type[subscribeOptions](func(o *subscribeOptions) error {
		o.replayFrom = seq
		return nil
	})
}

const (
	defaultHeartbeatInterval     = 15 * time.Second
	defaultGraceDelay            = 30 * time.Second
	defaultSlowSubscriberTimeout = 100 * time.Millisecond
)

var (
	// WithHeartbeatInterval sets how often idle subscribers receive a ping.
	WithHeartbeatInterval = opts.ForName[localBus, time.Duration]("heartbeatInterval")
	// WithGraceDelay sets how long a topic lingers after its terminal event,
	// and how long history survives after the last subscriber leaves.
	WithGraceDelay = opts.ForName[localBus, time.Duration]("graceDelay")
	// WithSlowSubscriberTimeout sets how long a publish waits on a full
	// subscriber channel before dropping the subscriber.
	WithSlowSubscriberTimeout = opts.ForName[localBus, time.Duration]("slowSubscriberTimeout")
)
