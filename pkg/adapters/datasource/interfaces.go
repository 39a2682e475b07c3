// Package datasource connects to a project's target database to read its schema
// and run confirmed statements. Dialects register themselves from init().
package datasource

import (
	"context"

	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

// MaxResultRows caps the rows returned from an executed statement.
const MaxResultRows = 100

// TableRef names one user table.
type TableRef struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// ConnectionConfig is what a dialect needs to open a connection: the project's
// database URL and, when stored separately, the decrypted database key
// which replaces the URL's password.
type ConnectionConfig struct {
	URL      string
	Password string
}

// SchemaReader reads catalog metadata.
type SchemaReader interface {
	// DiscoverTables returns user tables ordered by schema then name.
	DiscoverTables(ctx context.Context) ([]TableRef, error)
	// DiscoverColumns returns a table's columns in ordinal order.
	DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]models.SchemaColumn, error)
}

// StatementExecutor runs one statement exactly once. It is never retried.
type StatementExecutor interface {
	// Execute runs the statement as-is. Returned rows are capped at MaxResultRows.
	Execute(ctx context.Context, statement string) (*models.StatementResult, error)
}

// Connection is an open handle on a target database.
// Close releases the handle; pooled connections stay in the ConnectionManager.
type Connection interface {
	SchemaReader
	StatementExecutor
	Ping(ctx context.Context) error
	Close() error
}
