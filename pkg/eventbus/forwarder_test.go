package eventbus_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/agentflow/pkg/channels/gochannel"
	"github.com/dukex/agentflow/pkg/eventbus"
	"github.com/dukex/agentflow/pkg/events"
	"github.com/dukex/agentflow/pkg/mocks"
	"github.com/dukex/agentflow/pkg/models"
	"github.com/dukex/agentflow/pkg/observer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *collector) handle(_ context.Context, event events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, event)

	return nil
}

func (c *collector) snapshot() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]events.Event(nil), c.events...)
}

func TestWatermillEventBus_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	t.Cleanup(func() { _ = bus.Close() })

	received := &collector{}
	require.NoError(t, bus.Handle(events.CompletionEvent, received.handle))
	require.NoError(t, bus.Subscribe(ctx))

	now := time.Now()
	require.NoError(t, bus.Publish(ctx, "exec-1", events.NewStatus("exec-1", models.ExecutionStatusRunning, now)))
	require.NoError(t, bus.Publish(ctx, "exec-1", events.NewCompletion("exec-1", map[string]any{"output": "done"}, now)))

	require.Eventually(t, func() bool { return len(received.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)

	completion, ok := received.snapshot()[0].(*events.Completion)
	require.True(t, ok)
	assert.Equal(t, "exec-1", completion.ExecutionID)
	assert.Equal(t, models.ExecutionStatusCompleted, completion.Status)
	assert.Equal(t, map[string]any{"output": "done"}, completion.Result)
	assert.NotEmpty(t, bus.GenerateID())
}

func TestWatermillEventBus_AnyEventHandler(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	t.Cleanup(func() { _ = bus.Close() })

	completions := &collector{}
	others := &collector{}
	require.NoError(t, bus.Handle(events.CompletionEvent, completions.handle))
	require.NoError(t, bus.Handle(eventbus.AnyEvent, others.handle))
	require.NoError(t, bus.Subscribe(ctx))

	now := time.Now()
	require.NoError(t, bus.Publish(ctx, "exec-1", events.NewStatus("exec-1", models.ExecutionStatusRunning, now)))
	require.NoError(t, bus.Publish(ctx, "exec-1", events.NewCompletion("exec-1", "done", now)))

	require.Eventually(t, func() bool {
		return len(completions.snapshot()) == 1 && len(others.snapshot()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, events.StatusEvent, others.snapshot()[0].GetType())
}

func TestWatermillEventBus_PublishOnly(t *testing.T) {
	t.Parallel()

	pub, _, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, nil)

	require.ErrorIs(t, bus.Subscribe(context.Background()), eventbus.ErrPublishOnly)
	require.NoError(t, bus.Close())
}

func TestForwarder_RepublishesBusEvents(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	external := eventbus.NewWatermillEventBus(pub, sub)

	t.Cleanup(func() { _ = external.Close() })

	received := &collector{}
	require.NoError(t, external.Handle(events.LogEvent, received.handle))
	require.NoError(t, external.Handle(events.ErrorEvent, received.handle))
	require.NoError(t, external.Subscribe(ctx))

	observers := observer.NewBus(logger)
	forwarder := eventbus.NewForwarder(observers, external, 0, logger)
	forwarder.Start(ctx)

	entry := models.LogEntry{Timestamp: time.Now(), Level: models.LogLevelInfo, Message: "Executing node: A", NodeID: "A"}
	observers.Publish(events.NewLog("exec-1", entry))
	observers.Publish(events.NewError("exec-2", models.ExecutionStatusFailed, "boom", time.Now()))

	require.Eventually(t, func() bool { return len(received.snapshot()) == 2 }, 5*time.Second, 10*time.Millisecond)

	forwarder.Close()
	assert.Equal(t, 0, observers.SubscriberCount("*"))

	got := received.snapshot()

	logEvent, ok := got[0].(*events.Log)
	require.True(t, ok)
	assert.Equal(t, "exec-1", logEvent.ExecutionID)
	assert.Equal(t, "Executing node: A", logEvent.Log.Message)

	errorEvent, ok := got[1].(*events.Error)
	require.True(t, ok)
	assert.Equal(t, "exec-2", errorEvent.ExecutionID)
	assert.Equal(t, "boom", errorEvent.Error)
}

func TestForwarder_SurvivesPublishErrors(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	observers := observer.NewBus(logger)

	published := make(chan string, 2)
	publisher := &mocks.MockEventPublisher{}
	publisher.On("Publish", mock.Anything, "exec-1", mock.Anything).
		Run(func(args mock.Arguments) {
			published <- string(args.Get(2).(events.Event).GetType())
		}).
		Return(errors.New("broker unavailable"))

	forwarder := eventbus.NewForwarder(observers, publisher, 10, logger)
	forwarder.Start(context.Background())
	forwarder.Start(context.Background())

	observers.Publish(events.NewStatus("exec-1", models.ExecutionStatusRunning, time.Now()))
	observers.Publish(events.NewCompletion("exec-1", nil, time.Now()))

	assert.Equal(t, "status", <-published)
	assert.Equal(t, "completion", <-published)

	forwarder.Close()
	forwarder.Close()

	publisher.AssertNumberOfCalls(t, "Publish", 2)
}
