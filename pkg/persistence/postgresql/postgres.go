// Package postgresql provides the PostgreSQL execution store.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/agentflow/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Store is the PostgreSQL-backed execution store.
type Store struct {
	*sqlbase.Store
}

// NewStore connects to databaseURL, pings it and runs migrations.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*Store, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := sqlbase.NewStore(database, logger, sqlbase.Postgres)

	_, err = store.Migrate(ctx, migrations())
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{Store: store}, nil
}
