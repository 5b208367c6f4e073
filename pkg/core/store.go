package core

import (
	"context"
	"database/sql"
)

// StoreClient executes statements against the analytical store.
// It is owned by the caller; the engine never closes it.
type StoreClient interface {
	// Execute submits a statement and returns a handle to the running job.
	Execute(ctx context.Context, sql string) (Job, error)

	// Query runs a read-only statement. Only rule setup and validation hooks use it.
	Query(ctx context.Context, sql string) (*sql.Rows, error)

	// Dialect names the SQL dialect of the store (e.g. "duckdb", "postgres").
	Dialect() string
}

// Job is a submitted statement.
type Job interface {
	// ID identifies the job in logs and history.
	ID() string

	// Wait blocks until the statement finished and reports its outcome.
	Wait(ctx context.Context) error
}

// DatasetCreator is implemented by clients that can create datasets on demand.
type DatasetCreator interface {
	EnsureDataset(ctx context.Context, dataset string) error
}

// TableLoader is implemented by clients that can upload a CSV file as a table.
type TableLoader interface {
	LoadCSV(ctx context.Context, table, path string) error
}

// Column describes one column of a table as reported by the store.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Position int
}

// ColumnLister is implemented by clients that can introspect table columns.
type ColumnLister interface {
	Columns(ctx context.Context, dataset, table string) ([]Column, error)
}

// AdapterConfig holds configuration for connecting to a store.
type AdapterConfig struct {
	Type     string
	Path     string
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Options  map[string]string
	Params   map[string]any
}
