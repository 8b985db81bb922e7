// Package main provides the agentflow command line.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  "agentflow",
		Usage:                 "Execute agentic workflows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewServeCommand(),
			NewRunCommand(),
			NewValidateCommand(),
			NewEventsCommand(),
		},
	}
}

func main() {
	err := newRootCommand().Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
