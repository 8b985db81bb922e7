// Package sqlite provides the SQLite execution store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/agentflow/pkg/persistence/sqlbase"
	_ "modernc.org/sqlite"
)

type Store struct {
	*sqlbase.Store
}

// NewStore opens dsn (a "sqlite://" prefix is accepted), enables foreign keys
// and runs migrations. SQLite allows a single writer, so the pool is capped at one connection.
func NewStore(ctx context.Context, logger *slog.Logger, dsn string) (*Store, error) {
	dsn = strings.TrimPrefix(dsn, "sqlite://")

	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	database.SetMaxOpenConns(1)

	_, err = database.ExecContext(ctx, "PRAGMA foreign_keys = ON")
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := sqlbase.NewStore(database, logger, sqlbase.SQLite)

	_, err = store.Migrate(ctx, migrations())
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{Store: store}, nil
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE executions (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				user_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
				current_node TEXT NOT NULL DEFAULT '',
				inputs TEXT,
				started_at DATETIME NOT NULL,
				completed_at DATETIME,
				result TEXT,
				error TEXT NOT NULL DEFAULT '',
				node_states TEXT NOT NULL DEFAULT '{}'
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_user_id ON executions(user_id);
			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_started_at ON executions(started_at);

			CREATE TABLE execution_logs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				logged_at DATETIME NOT NULL,
				level TEXT NOT NULL,
				node_id TEXT NOT NULL DEFAULT '',
				message TEXT NOT NULL
			);

			CREATE INDEX idx_execution_logs_execution_id ON execution_logs(execution_id, id);
		`,
	}
}
