package main

import (
	"context"
	"fmt"

	"github.com/dukex/agentflow/pkg/workflow"
	"github.com/urfave/cli/v3"
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check a workflow definition without running it",
		ArgsUsage: "<workflow.json>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workflow",
				Aliases: []string{"w"},
				Usage:   "Path to the workflow definition (JSON)",
			},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			path := command.String("workflow")
			if path == "" {
				path = command.Args().First()
			}

			if path == "" {
				return cli.Exit(errWorkflowFileRequired.Error(), 2)
			}

			definition, err := workflow.LoadDefinition(path)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			graph, err := workflow.NewGraph(definition)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			_, _ = fmt.Fprintf(command.Root().Writer, "workflow %q is valid: %d nodes, %d edges, order %v\n",
				definition.Name, len(definition.Nodes), len(definition.Edges), graph.Order)

			return nil
		},
	}
}
