package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/alphadose/haxmap"
	"github.com/nats-io/nats.go"

	"github.com/casualjim/herald/events"
	"github.com/casualjim/herald/pkg/slogx"
	"github.com/casualjim/herald/pkg/uuidx"
)

// SubjectPrefix namespaces every run stream on the NATS side.
const SubjectPrefix = "herald.events."

type natsBus struct {
	client *nats.Conn
	topics *haxmap.Map[string, *natsTopic]
}

// NATS builds a bus on a NATS connection. Sequences are stamped by the
// publishing process, events travel as JSON, and there is no replay buffer:
// subscribers only see events published after they attach.
func NATS(client *nats.Conn) Bus {
	return &natsBus{
		client: client,
		topics: haxmap.New[string, *natsTopic](),
	}
}

func (b *natsBus) Topic(ctx context.Context, id string) Topic {
	top, _ := b.topics.GetOrCompute(id, func() *natsTopic {
		return &natsTopic{
			subject: SubjectPrefix + id,
			client:  b.client,
		}
	})
	return top
}

type natsTopic struct {
	client  *nats.Conn
	subject string
	seq     atomic.Uint64
}

func (t *natsTopic) Publish(ctx context.Context, event events.Event) error {
	if _, isPing := event.(events.Ping); !isPing {
		event = events.WithSequence(event, t.seq.Add(1))
	}
	eb, err := events.ToJSON(event)
	if err != nil {
		return err
	}
	return t.client.Publish(t.subject, eb)
}

func (t *natsTopic) Subscribe(ctx context.Context, hook events.Hook, options ...SubscribeOption) (Subscription, error) {
	if hook == nil {
		return nil, fmt.Errorf("hook is required")
	}

	sub := make(chan events.Event, subscriberBuffer)
	nsub, err := t.client.Subscribe(t.subject, func(msg *nats.Msg) {
		event, err := events.FromJSON(msg.Data)
		if err != nil {
			slog.Error("failed to unmarshal event", slogx.Error(err))
			return
		}
		sub <- event
	})
	if err != nil {
		return nil, err
	}
	nsub.SetClosedHandler(func(_ string) { close(sub) })

	go func() {
		for {
			select {
			case event, ok := <-sub:
				if !ok {
					return
				}
				events.Dispatch(ctx, hook, event)
			case <-ctx.Done():
				return
			}
		}
	}()

	return &natsSubscription{
		id:  uuidx.NewString(),
		sub: nsub,
	}, nil
}

type natsSubscription struct {
	id  string
	sub *nats.Subscription
}

func (n *natsSubscription) ID() string {
	return n.id
}

func (n *natsSubscription) Unsubscribe() {
	if err := n.sub.Unsubscribe(); err != nil {
		slog.Error("failed to unsubscribe", slogx.Error(err), slog.String("subscription", n.id))
	}
}
