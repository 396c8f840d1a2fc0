package schema

import (
	"context"
	"strings"
)

// SQL dialects understood by the live backend.
const (
	DialectSQLServer = "sqlserver"
	DialectPostgres  = "postgres"
	DialectSQLite    = "sqlite3"
)

// Rows is a row set with every value rendered as text. NULL renders as the
// empty string.
type Rows struct {
	Columns []string
	Values  [][]string
}

// Backend is what the schema corpus and the SQL gate need from a database.
// Implementations are chosen once at startup.
type Backend interface {
	Kind() string
	Dialect() string
	Introspect(ctx context.Context) (*Snapshot, error)
	Execute(ctx context.Context, stmt string, maxRows int) (*Rows, error)
	Close() error
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func excluded(schema string, excludedSchemas []string) bool {
	for _, s := range excludedSchemas {
		if equalFold(schema, s) {
			return true
		}
	}
	return false
}

type unknownDatabaseError string

func (e unknownDatabaseError) Error() string { return "database " + string(e) + " not found" }

func errUnknownDatabase(name string) error { return unknownDatabaseError(name) }
