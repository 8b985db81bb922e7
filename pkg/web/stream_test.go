package web

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dukex/agentflow/pkg/events"
	"github.com/dukex/agentflow/pkg/models"
	"github.com/stretchr/testify/assert"
)

type chanSource chan events.Event

func (c chanSource) Events() <-chan events.Event {
	return c
}

func newTestStreamer(ping, idle time.Duration) *eventStreamer {
	return &eventStreamer{
		config: StreamConfig{PingInterval: ping, IdleTimeout: idle},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestEventStreamer_WritesEventsUntilClosed(t *testing.T) {
	t.Parallel()

	source := make(chanSource, 3)

	status := events.NewStatus("exec-1", models.ExecutionStatusRunning, time.Now())
	status.Sequence = 1

	completion := events.NewCompletion("exec-1", map[string]any{"output": "done"}, time.Now())
	completion.Sequence = 2

	source <- status
	source <- completion
	close(source)

	var out bytes.Buffer

	w := bufio.NewWriter(&out)
	newTestStreamer(time.Minute, time.Minute).run(w, []byte(`{"status":"running"}`), "sub-1", source)

	frames := strings.Split(strings.TrimSuffix(out.String(), "\n\n"), "\n\n")
	assert.Len(t, frames, 4)
	assert.Equal(t, "event: snapshot\ndata: {\"status\":\"running\"}", frames[0])
	assert.Equal(t, "event: subscribed\ndata: {\"subscription_id\":\"sub-1\"}", frames[1])
	assert.True(t, strings.HasPrefix(frames[2], "id: 1\nevent: status\ndata: "))
	assert.True(t, strings.HasPrefix(frames[3], "id: 2\nevent: completion\ndata: "))
	assert.Contains(t, frames[3], `"output":"done"`)
}

func TestEventStreamer_KeepAliveAndIdleTimeout(t *testing.T) {
	t.Parallel()

	source := make(chanSource)

	var out bytes.Buffer

	w := bufio.NewWriter(&out)
	newTestStreamer(10*time.Millisecond, 100*time.Millisecond).run(w, []byte(`{}`), "sub-1", source)

	body := out.String()
	assert.Contains(t, body, ": keep-alive\n\n")
	assert.True(t, strings.HasSuffix(body, "event: timeout\ndata: {\"reason\":\"idle\"}\n\n"))
}

func TestEventStreamer_PongHasNoID(t *testing.T) {
	t.Parallel()

	source := make(chanSource, 1)
	source <- events.NewPong("exec-1", time.Now())
	close(source)

	var out bytes.Buffer

	w := bufio.NewWriter(&out)
	newTestStreamer(time.Minute, time.Minute).run(w, []byte(`{}`), "sub-1", source)

	assert.NotContains(t, out.String(), "id:")
	assert.Contains(t, out.String(), "event: pong\n")
}

func TestStreamConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := StreamConfig{}.withDefaults()
	assert.Equal(t, DefaultPingInterval, cfg.PingInterval)
	assert.Equal(t, DefaultIdleTimeout, cfg.IdleTimeout)
}
