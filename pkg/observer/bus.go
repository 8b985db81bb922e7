// Package observer fans execution events out to live subscribers.
package observer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/agentflow/pkg/events"
	"github.com/google/uuid"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 256

const allExecutions = "*"

// Subscription receives the events of one execution, or of every execution
// when created by SubscribeAll. The channel closes when the subscription is
// detached, evicted or the execution ends.
type Subscription struct {
	ID          string
	ExecutionID string

	bus    *Bus
	ch     chan events.Event
	mu     sync.Mutex
	closed bool
}

// Events returns the receive side of the subscription.
func (s *Subscription) Events() <-chan events.Event {
	return s.ch
}

// Close detaches the subscription from its bus.
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s)
}

// Ping delivers a pong to this subscriber only.
func (s *Subscription) Ping() bool {
	return s.send(events.NewPong(s.ExecutionID, s.bus.now()))
}

func (s *Subscription) send(event events.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type Option func(*Bus)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.buffer = size
		}
	}
}

// WithClock overrides the time source used for pong timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		b.now = now
	}
}

// Bus is a process-local publish/subscribe hub keyed by execution id.
// Publishing never blocks: a subscriber whose buffer is full is evicted.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	now    func() time.Time
	logger *slog.Logger
}

func NewBus(logger *slog.Logger, opts ...Option) *Bus {
	bus := &Bus{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: DefaultBuffer,
		now:    time.Now,
		logger: logger.With("module", "observer"),
	}

	for _, opt := range opts {
		opt(bus)
	}

	return bus
}

// Subscribe attaches a new subscriber to executionID. The returned
// subscription is live as soon as Subscribe returns.
func (b *Bus) Subscribe(executionID string) *Subscription {
	return b.attach(executionID, b.buffer)
}

// SubscribeAll attaches a subscriber that receives every execution's events.
func (b *Bus) SubscribeAll(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = b.buffer
	}

	return b.attach(allExecutions, buffer)
}

func (b *Bus) attach(key string, buffer int) *Subscription {
	sub := &Subscription{
		ID:          uuid.NewString(),
		ExecutionID: key,
		bus:         b,
		ch:          make(chan events.Event, buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[key]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[key] = set
	}

	set[sub] = struct{}{}

	b.logger.Debug("Subscriber attached", "execution_id", key, "subscription_id", sub.ID)

	return sub
}

// Unsubscribe detaches sub and closes its channel. Detaching twice is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if !b.remove(sub) {
		return
	}

	b.logger.Debug("Subscriber detached", "execution_id", sub.ExecutionID, "subscription_id", sub.ID)
}

func (b *Bus) remove(sub *Subscription) bool {
	b.mu.Lock()

	set, ok := b.subs[sub.ExecutionID]
	if ok {
		_, ok = set[sub]
		delete(set, sub)

		if len(set) == 0 {
			delete(b.subs, sub.ExecutionID)
		}
	}

	b.mu.Unlock()

	sub.close()

	return ok
}

// Publish delivers event to the subscribers of its execution and to the
// SubscribeAll subscribers.
func (b *Bus) Publish(event events.Event) {
	executionID := event.Base().ExecutionID

	for _, sub := range b.snapshot(executionID) {
		if sub.send(event) {
			continue
		}

		if b.remove(sub) {
			b.logger.Warn("Evicting slow subscriber",
				"execution_id", executionID,
				"subscription_id", sub.ID,
				"event_type", event.GetType(),
			)
		}
	}
}

// Ping delivers a pong to the subscriber subscriptionID of executionID. It
// reports false when no such subscriber is attached or its buffer is full.
func (b *Bus) Ping(executionID, subscriptionID string) bool {
	b.mu.Lock()

	var target *Subscription

	for sub := range b.subs[executionID] {
		if sub.ID == subscriptionID {
			target = sub

			break
		}
	}

	b.mu.Unlock()

	if target == nil {
		return false
	}

	return target.Ping()
}

// CloseExecution detaches every subscriber of executionID, ending their streams.
func (b *Bus) CloseExecution(executionID string) {
	b.mu.Lock()
	set := b.subs[executionID]
	delete(b.subs, executionID)
	b.mu.Unlock()

	for sub := range set {
		sub.close()
	}
}

// SubscriberCount returns the number of subscribers attached to executionID.
func (b *Bus) SubscriberCount(executionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs[executionID])
}

func (b *Bus) snapshot(executionID string) []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	targets := make([]*Subscription, 0, len(b.subs[executionID])+len(b.subs[allExecutions]))

	for sub := range b.subs[executionID] {
		targets = append(targets, sub)
	}

	for sub := range b.subs[allExecutions] {
		targets = append(targets, sub)
	}

	return targets
}
