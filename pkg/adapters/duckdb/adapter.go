// Package duckdb provides a DuckDB store client for leapclean.
// Datasets map to DuckDB schemas.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapclean/pkg/adapter"
	"github.com/leapstack-labs/leapclean/pkg/core"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// DialectName is the dialect reported by the client.
const DialectName = "duckdb"

// Client implements adapter.Client for DuckDB.
type Client struct {
	adapter.BaseSQLClient
}

// New creates a new DuckDB client instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		BaseSQLClient: adapter.BaseSQLClient{Logger: logger},
	}
}

// Dialect returns the SQL dialect for this client.
func (c *Client) Dialect() string {
	return DialectName
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" (or an empty path) for an in-memory database.
func (c *Client) Connect(ctx context.Context, cfg adapter.Config) error {
	params, err := ParseParams(cfg.Params)
	if err != nil {
		return err
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	c.Logger.Debug("connecting to duckdb", slog.String("path", path))

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	// Session settings and loaded extensions belong to a connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	for _, stmt := range setupStatements(params) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply duckdb params (%s): %w", stmt, err)
		}
	}

	c.DB = db
	c.Cfg = cfg
	return nil
}

// setupStatements returns the INSTALL/LOAD/SET statements for params, in a
// deterministic order.
func setupStatements(params *Params) []string {
	var stmts []string
	for _, ext := range params.Extensions {
		stmts = append(stmts, fmt.Sprintf("INSTALL %s", ext), fmt.Sprintf("LOAD %s", ext))
	}

	keys := make([]string, 0, len(params.Settings))
	for k := range params.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		value := strings.ReplaceAll(params.Settings[k], "'", "''")
		stmts = append(stmts, fmt.Sprintf("SET %s = '%s'", k, value))
	}
	return stmts
}

// Columns lists the columns of dataset.table. An empty dataset means the
// default "main" schema.
func (c *Client) Columns(ctx context.Context, dataset, table string) ([]core.Column, error) {
	if dataset == "" {
		dataset = "main"
	}
	return c.ColumnsCommon(ctx, dataset, table, func(int) string { return "?" })
}

// LoadCSV loads data from a CSV file into a table.
// DuckDB will automatically infer the schema from the CSV file.
func (c *Client) LoadCSV(ctx context.Context, table string, filePath string) error {
	if c.DB == nil {
		return fmt.Errorf("database connection not established")
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	query := fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto('%s', header=true)",
		table,
		strings.ReplaceAll(absPath, "'", "''"),
	)

	if _, err := c.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to load CSV into %s: %w", table, err)
	}
	return nil
}

// Ensure Client implements adapter.Client interface
var _ adapter.Client = (*Client)(nil)
