package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dukex/agentflow/pkg/cmd"
	"github.com/dukex/agentflow/pkg/eventbus"
	"github.com/dukex/agentflow/pkg/events"
	"github.com/dukex/agentflow/pkg/log"
	"github.com/urfave/cli/v3"
)

func NewEventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Print execution events published on the Kafka event bus",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "kafka-brokers",
				Usage:    "Kafka brokers",
				Required: true,
				Sources:  cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "consumer-group",
				Usage:   "Kafka consumer group",
				Value:   "agentflow-events",
				Sources: cli.EnvVars("KAFKA_CONSUMER_GROUP"),
			},
			&cli.StringFlag{
				Name:  "execution-id",
				Usage: "Only print this execution and stop after its terminal event",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			closer, err := log.Setup(command.String("log-level"), "")
			if err != nil {
				return err
			}
			defer closer.Close()

			logger := log.WithModule("events")

			bus, err := cmd.NewEventConsumer(command.StringSlice("kafka-brokers"), command.String("consumer-group"), logger)
			if err != nil {
				return err
			}
			defer bus.Close()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return tailEvents(ctx, bus, command.String("execution-id"), command.Root().Writer)
		},
	}
}

// tailEvents writes every event received by bus to out as a JSON line until
// ctx is done or, when executionID is set, that execution terminates.
func tailEvents(ctx context.Context, bus eventbus.EventSubscriber, executionID string, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex

	encoder := json.NewEncoder(out)

	err := bus.Handle(eventbus.AnyEvent, func(_ context.Context, event events.Event) error {
		if executionID != "" && event.Base().ExecutionID != executionID {
			return nil
		}

		mu.Lock()
		defer mu.Unlock()

		err := encoder.Encode(event)
		if err != nil {
			return err
		}

		if executionID != "" && events.IsTerminal(event) {
			cancel()
		}

		return nil
	})
	if err != nil {
		return err
	}

	err = bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	<-ctx.Done()

	return nil
}
