package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/agentflow/pkg/cmd"
	"github.com/dukex/agentflow/pkg/events"
	"github.com/dukex/agentflow/pkg/models"
	"github.com/dukex/agentflow/pkg/services"
	"github.com/dukex/agentflow/pkg/workflow"
	"github.com/urfave/cli/v3"
)

const runEventBuffer = 1024

var (
	errWorkflowFileRequired = errors.New("--workflow is required")
	errInvalidInputs        = errors.New("--inputs must be a JSON object")
)

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute a workflow file and stream its events as JSON lines",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "workflow",
				Aliases: []string{"w"},
				Usage:   "Path to the workflow definition (JSON)",
			},
			&cli.StringFlag{
				Name:  "inputs",
				Usage: "Execution inputs as a JSON object",
				Value: "{}",
			},
			&cli.StringFlag{
				Name:    "user-id",
				Usage:   "User whose provider settings are used",
				Sources: cli.EnvVars("AGENTFLOW_USER_ID"),
			},
		}, engineFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg := configFromCommand(command)

			logger, closer, err := setupLogging(cfg, "run")
			if err != nil {
				return err
			}
			defer closer.Close()

			req, err := runRequest(command.String("workflow"), command.String("inputs"), command.String("user-id"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}

			engine, err := cmd.NewEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			execution, runErr := runWorkflow(ctx, engine, req, command.Root().Writer)

			closeErr := engine.Close(context.WithoutCancel(ctx))
			if runErr != nil {
				return errors.Join(runErr, closeErr)
			}

			if execution.Status != models.ExecutionStatusCompleted {
				return cli.Exit(fmt.Sprintf("execution %s %s: %s", execution.ID, execution.Status, execution.Error), 1)
			}

			return closeErr
		},
	}
}

func runRequest(path, rawInputs, userID string) (services.StartRequest, error) {
	if path == "" {
		return services.StartRequest{}, errWorkflowFileRequired
	}

	definition, err := workflow.LoadDefinition(path)
	if err != nil {
		return services.StartRequest{}, err
	}

	var inputs map[string]any

	err = json.Unmarshal([]byte(rawInputs), &inputs)
	if err != nil {
		return services.StartRequest{}, fmt.Errorf("%w: %w", errInvalidInputs, err)
	}

	return services.StartRequest{Workflow: definition, Inputs: inputs, UserID: userID}, nil
}

// runWorkflow starts req and writes each of its events to out until the
// execution terminates. An interrupt on ctx cancels the execution.
func runWorkflow(ctx context.Context, engine *cmd.Engine, req services.StartRequest, out io.Writer) (*models.Execution, error) {
	sub := engine.Bus.SubscribeAll(runEventBuffer)
	defer sub.Close()

	err := engine.Start(ctx)
	if err != nil {
		return nil, err
	}

	record, err := engine.Executions.Start(ctx, req)
	if err != nil {
		return nil, err
	}

	encoder := json.NewEncoder(out)

stream:
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				break stream
			}

			if event.Base().ExecutionID != record.ID {
				continue
			}

			err = encoder.Encode(event)
			if err != nil {
				return nil, fmt.Errorf("failed to write event: %w", err)
			}

			if events.IsTerminal(event) {
				break stream
			}
		case <-ctx.Done():
			_, _ = engine.Executions.Cancel(context.WithoutCancel(ctx), record.ID)

			break stream
		}
	}

	return engine.Executions.Wait(context.WithoutCancel(ctx), record.ID)
}
