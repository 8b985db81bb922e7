// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/agentflow/pkg/persistence"
	"github.com/dukex/agentflow/pkg/persistence/file"
	"github.com/dukex/agentflow/pkg/persistence/memory"
	"github.com/dukex/agentflow/pkg/persistence/postgresql"
	"github.com/dukex/agentflow/pkg/persistence/sqlite"
)

var supportedPersistenceProviders = []string{"memory", "file", "postgres", "postgresql", "sqlite"}

// NewStore opens the execution store selected by the scheme of databaseURL.
// A URL without a known scheme is a directory for the file store.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.ExecutionStore, error) {
	provider := parsePersistenceProvider(databaseURL)

	logger.InfoContext(ctx, "Opening execution store", "provider", provider)

	switch provider {
	case "memory":
		return memory.NewStore(), nil
	case "postgres", "postgresql":
		store, err := postgresql.NewStore(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}

		return store, nil
	case "sqlite":
		store, err := sqlite.NewStore(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}

		return store, nil
	default:
		return file.NewStore(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.SplitN(databaseURL, "://", 2)
	if len(parts) < 2 {
		return "file"
	}

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
