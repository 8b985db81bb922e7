package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/agentflow/pkg/channels/gochannel"
	"github.com/dukex/agentflow/pkg/eventbus"
	"github.com/dukex/agentflow/pkg/events"
	"github.com/dukex/agentflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailEvents_StopsAfterTerminalEvent(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	t.Cleanup(func() { _ = bus.Close() })

	now := time.Now()
	require.NoError(t, bus.Publish(ctx, "exec-2", events.NewStatus("exec-2", models.ExecutionStatusRunning, now)))
	require.NoError(t, bus.Publish(ctx, "exec-1", events.NewStatus("exec-1", models.ExecutionStatusRunning, now)))
	require.NoError(t, bus.Publish(ctx, "exec-1", events.NewCompletion("exec-1", "done", now)))

	var out bytes.Buffer

	require.NoError(t, tailEvents(ctx, bus, "exec-1", &out))
	require.NoError(t, ctx.Err())

	var types []string

	scanner := bufio.NewScanner(bytes.NewReader(out.Bytes()))
	for scanner.Scan() {
		var line struct {
			Type        string `json:"type"`
			ExecutionID string `json:"execution_id"`
		}

		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		assert.Equal(t, "exec-1", line.ExecutionID)

		types = append(types, line.Type)
	}

	assert.Equal(t, []string{"status", "completion"}, types)
}
