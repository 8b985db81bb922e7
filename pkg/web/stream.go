package web

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/agentflow/pkg/events"
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultIdleTimeout  = 60 * time.Second

	// SubscriptionHeader carries the id of the stream's subscription.
	SubscriptionHeader = "X-Subscription-ID"
)

// StreamConfig controls event streams: a keep-alive comment every
// PingInterval, and the stream ends after IdleTimeout without events.
type StreamConfig struct {
	PingInterval time.Duration
	IdleTimeout  time.Duration
}

func (s StreamConfig) withDefaults() StreamConfig {
	if s.PingInterval <= 0 {
		s.PingInterval = DefaultPingInterval
	}

	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}

	return s
}

type eventStreamer struct {
	config StreamConfig
	logger *slog.Logger
}

// eventSource is the receive side of an observer subscription.
type eventSource interface {
	Events() <-chan events.Event
}

func (s *eventStreamer) run(w *bufio.Writer, snapshot []byte, subscriptionID string, sub eventSource) {
	if writeEvent(w, "snapshot", 0, snapshot) != nil {
		return
	}

	subscribed, _ := json.Marshal(map[string]string{"subscription_id": subscriptionID})
	if writeEvent(w, "subscribed", 0, subscribed) != nil {
		return
	}

	ping := time.NewTicker(s.config.PingInterval)
	defer ping.Stop()

	idle := time.NewTimer(s.config.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}

			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Error("Failed to encode event", "event_type", event.GetType(), "error", err)

				continue
			}

			if writeEvent(w, string(event.GetType()), event.Base().Sequence, data) != nil {
				return
			}

			idle.Reset(s.config.IdleTimeout)
		case <-ping.C:
			_, err := w.WriteString(": keep-alive\n\n")
			if err != nil || w.Flush() != nil {
				return
			}
		case <-idle.C:
			_ = writeEvent(w, "timeout", 0, []byte(`{"reason":"idle"}`))

			return
		}
	}
}

func writeEvent(w *bufio.Writer, name string, sequence uint64, data []byte) error {
	if sequence > 0 {
		fmt.Fprintf(w, "id: %d\n", sequence)
	}

	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	if err != nil {
		return err
	}

	return w.Flush()
}
