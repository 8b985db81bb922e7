package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/agentflow/pkg/events"
)

// AnyEvent registers a handler for event types without a handler of their own.
const AnyEvent events.EventType = "*"

var ErrPublishOnly = errors.New("event bus has no subscriber")

// WatermillEventBus publishes execution events on events.Topic, keyed by
// execution id so a partitioned broker keeps one execution in order.
type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber

	mu       sync.RWMutex
	handlers map[events.EventType]EventHandler
}

// NewWatermillEventBus builds a bus over pub and sub. sub may be nil for a
// publish-only bus.
func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
		handlers:   make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.GetType(), err)
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

// Subscribe starts delivering topic messages to the registered handlers until
// ctx is done. Messages that fail to decode or whose handler fails are nacked.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	if eb.subscriber == nil {
		return ErrPublishOnly
	}

	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			if eb.dispatch(ctx, msg) {
				msg.Ack()
			} else {
				msg.Nack()
			}
		}
	}()

	return nil
}

func (eb *WatermillEventBus) dispatch(ctx context.Context, msg *message.Message) bool {
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	handler := eb.handler(eventType)
	if handler == nil {
		return true
	}

	event, err := events.Decode(eventType, msg.Payload)
	if err != nil {
		return false
	}

	return handler(ctx, event) == nil
}

func (eb *WatermillEventBus) handler(eventType events.EventType) EventHandler {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if handler, ok := eb.handlers[eventType]; ok {
		return handler
	}

	return eb.handlers[AnyEvent]
}

// Handle registers handler for eventType, replacing any previous one. Use
// AnyEvent to receive every other type.
func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()

	if eb.subscriber != nil {
		err = errors.Join(err, eb.subscriber.Close())
	}

	return err
}
