package sqlbase

import (
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between supported backends.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2, ...) instead of "?".
	NumberedPlaceholders bool
	// Row lock appended to the read of a read-modify-write.
	ForUpdate string
	// LIMIT value meaning "no limit", needed when only OFFSET is set.
	NoLimit string
	// DDL of the schema_migrations table.
	MigrationsTable string
}

var Postgres = Dialect{
	Name:                 "postgres",
	NumberedPlaceholders: true,
	ForUpdate:            " FOR UPDATE",
	NoLimit:              "ALL",
	MigrationsTable: `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`,
}

var SQLite = Dialect{
	Name:    "sqlite",
	NoLimit: "-1",
	MigrationsTable: `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`,
}

// Rebind rewrites "?" placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.NumberedPlaceholders {
		return query
	}

	var (
		builder strings.Builder
		n       int
	)

	builder.Grow(len(query) + 8)

	for _, r := range query {
		if r == '?' {
			n++

			builder.WriteByte('$')
			builder.WriteString(strconv.Itoa(n))

			continue
		}

		builder.WriteRune(r)
	}

	return builder.String()
}
