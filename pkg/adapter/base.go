package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/leapstack-labs/leapclean/pkg/core"
)

// BaseSQLClient provides common database/sql functionality for adapters.
// Embed this struct in concrete adapter implementations to get standard
// Close, Execute, Query and EnsureDataset implementations.
type BaseSQLClient struct {
	DB     *sql.DB
	Cfg    Config
	Logger *slog.Logger
}

// Close closes the database connection.
func (b *BaseSQLClient) Close() error {
	if b.DB != nil {
		b.logger().Debug("closing database connection")
		return b.DB.Close()
	}
	return nil
}

// Execute runs a statement to completion. database/sql is synchronous, so the
// returned job has already finished and Wait only reports its outcome.
func (b *BaseSQLClient) Execute(ctx context.Context, sqlStr string) (core.Job, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	job := &Job{id: uuid.NewString()}
	b.logger().Debug("executing statement", "job_id", job.id)
	if _, err := b.DB.ExecContext(ctx, sqlStr); err != nil {
		job.err = fmt.Errorf("failed to execute SQL: %w", err)
	}
	return job, nil
}

// Query executes a SQL statement that returns rows.
func (b *BaseSQLClient) Query(ctx context.Context, sqlStr string) (*sql.Rows, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := b.DB.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return rows, nil
}

// EnsureDataset creates the schema backing a dataset if it does not exist.
func (b *BaseSQLClient) EnsureDataset(ctx context.Context, dataset string) error {
	if b.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	if _, err := b.DB.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", dataset)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", dataset, err)
	}
	return nil
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLClient) IsConnected() bool {
	return b.DB != nil
}

// ColumnsCommon lists the columns of dataset.table from information_schema.
// placeholder formats the n-th bind parameter for the dialect (? or $n).
func (b *BaseSQLClient) ColumnsCommon(ctx context.Context, dataset, table string, placeholder func(n int) string) ([]core.Column, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	//nolint:gosec // Placeholders are produced by the adapter, not user input
	query := fmt.Sprintf(`
		SELECT
			column_name,
			data_type,
			is_nullable,
			ordinal_position
		FROM information_schema.columns
		WHERE table_schema = %s AND table_name = %s
		ORDER BY ordinal_position
	`, placeholder(1), placeholder(2))

	rows, err := b.DB.QueryContext(ctx, query, dataset, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []core.Column
	for rows.Next() {
		var col core.Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s.%s not found", dataset, table)
	}
	return columns, nil
}

func (b *BaseSQLClient) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.Logger
}

// Job is a statement that ran to completion.
type Job struct {
	id  string
	err error
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Wait reports the statement's outcome.
func (j *Job) Wait(context.Context) error { return j.err }
