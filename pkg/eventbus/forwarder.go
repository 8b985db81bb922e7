package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dukex/agentflow/pkg/observer"
)

// Forwarder republishes every event of the observer bus to an external
// publisher, keyed by execution id. It is an ordinary bus subscriber: when
// the publisher falls behind the bus buffer, the forwarder is evicted and
// stops.
type Forwarder struct {
	bus       *observer.Bus
	publisher EventPublisher
	buffer    int
	logger    *slog.Logger

	mu   sync.Mutex
	sub  *observer.Subscription
	done chan struct{}
}

func NewForwarder(bus *observer.Bus, publisher EventPublisher, buffer int, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		bus:       bus,
		publisher: publisher,
		buffer:    buffer,
		logger:    logger.With("module", "event_forwarder"),
	}
}

func (f *Forwarder) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sub != nil {
		return
	}

	f.sub = f.bus.SubscribeAll(f.buffer)
	f.done = make(chan struct{})

	go f.forward(ctx, f.sub, f.done)

	f.logger.InfoContext(ctx, "Forwarding execution events", "subscription_id", f.sub.ID)
}

func (f *Forwarder) forward(ctx context.Context, sub *observer.Subscription, done chan struct{}) {
	defer close(done)

	for event := range sub.Events() {
		base := event.Base()

		err := f.publisher.Publish(ctx, base.ExecutionID, event)
		if err != nil {
			f.logger.ErrorContext(ctx, "Failed to forward event",
				"execution_id", base.ExecutionID,
				"event_type", event.GetType(),
				"error", err,
			)
		}
	}

	f.logger.InfoContext(ctx, "Event forwarder detached", "subscription_id", sub.ID)
}

// Close detaches from the bus and waits for in-flight publishes.
func (f *Forwarder) Close() {
	f.mu.Lock()
	sub, done := f.sub, f.done
	f.sub = nil
	f.mu.Unlock()

	if sub == nil {
		return
	}

	sub.Close()
	<-done
}
