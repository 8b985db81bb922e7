package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/agentflow/pkg/channels/gochannel"
	"github.com/dukex/agentflow/pkg/channels/kafka"
	"github.com/dukex/agentflow/pkg/config"
	"github.com/dukex/agentflow/pkg/eventbus"
)

// NewEventBus creates the external event bus for provider. It returns nil
// for the "none" provider.
func NewEventBus(provider string, brokers []string, logger *slog.Logger) (eventbus.EventBus, error) {
	watermillLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", config.EventBusNone:
		return nil, nil
	case config.EventBusGoChannel:
		pub, sub, err := gochannel.CreateChannel(watermillLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gochannel pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case config.EventBusKafka:
		pub, err := kafka.CreatePublisher(normalizeBrokers(brokers), watermillLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka publisher: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, nil), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}

// NewEventConsumer opens a consumer of the Kafka event topic in consumer group
// group, for processes that observe executions run elsewhere.
func NewEventConsumer(brokers []string, group string, logger *slog.Logger) (eventbus.EventBus, error) {
	pub, sub, err := kafka.CreateChannel(normalizeBrokers(brokers), group, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return eventbus.NewWatermillEventBus(pub, sub), nil
}

func normalizeBrokers(brokers []string) []string {
	return kafka.ParseBrokers(strings.Join(brokers, ","))
}
