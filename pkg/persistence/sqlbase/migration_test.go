package sqlbase

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)

	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	return NewStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)), SQLite)
}

func tableExists(t *testing.T, store *Store, name string) bool {
	t.Helper()

	var count int

	err := store.DB().QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&count)
	require.NoError(t, err)

	return count == 1
}

func TestStore_Migrate(t *testing.T) {
	t.Parallel()

	store := newSQLiteStore(t)
	ctx := context.Background()

	migrations := map[int]string{
		2: `CREATE TABLE second (id TEXT PRIMARY KEY)`,
		1: `CREATE TABLE first (id TEXT PRIMARY KEY)`,
	}

	version, err := store.Migrate(ctx, migrations)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.True(t, tableExists(t, store, "first"))
	assert.True(t, tableExists(t, store, "second"))

	version, err = store.Migrate(ctx, migrations)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	current, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, current)
}

func TestStore_MigrateStopsAtFailedVersion(t *testing.T) {
	t.Parallel()

	store := newSQLiteStore(t)
	ctx := context.Background()

	version, err := store.Migrate(ctx, map[int]string{
		1: `CREATE TABLE first (id TEXT PRIMARY KEY)`,
		2: `CREATE TABLE second (id TEXT PRIMARY KEY); INSERT INTO missing VALUES (1)`,
		3: `CREATE TABLE third (id TEXT PRIMARY KEY)`,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 2")
	assert.Equal(t, 1, version)

	assert.True(t, tableExists(t, store, "first"))
	assert.False(t, tableExists(t, store, "second"))
	assert.False(t, tableExists(t, store, "third"))

	current, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, current)
}
