// Package sqlbase provides the base functionality for SQL database persistence.
package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
)

// Migrate brings the schema up to the newest of migrations, keyed by version.
// Each pending version runs in its own transaction together with its
// schema_migrations row, so a failed version leaves the schema at the one
// before it. It returns the resulting version.
func (s *Store) Migrate(ctx context.Context, migrations map[int]string) (int, error) {
	_, err := s.db.ExecContext(ctx, s.dialect.MigrationsTable)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "Migrating schema", "dialect", s.dialect.Name, "from_version", current)

	for _, version := range slices.Sorted(maps.Keys(migrations)) {
		if version <= current {
			continue
		}

		err = s.inTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, migrations[version])
			if err != nil {
				return err
			}

			_, err = tx.ExecContext(ctx, s.dialect.Rebind("INSERT INTO schema_migrations (version) VALUES (?)"), version)

			return err
		})
		if err != nil {
			return current, fmt.Errorf("migration %d: %w", version, err)
		}

		current = version

		s.logger.InfoContext(ctx, "Applied migration", "version", version)
	}

	return current, nil
}

// SchemaVersion returns the newest applied migration, 0 for none.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int

	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	return version, nil
}
