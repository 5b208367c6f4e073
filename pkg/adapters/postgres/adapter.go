// Package postgres provides a PostgreSQL store client for leapclean.
package postgres

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/leapstack-labs/leapclean/pkg/adapter"
	"github.com/leapstack-labs/leapclean/pkg/core"
)

// DialectName is the dialect reported by the client.
const DialectName = "postgres"

// Client implements adapter.Client for PostgreSQL. Datasets map to schemas
// in the connected database.
type Client struct {
	adapter.BaseSQLClient
}

// New creates a new PostgreSQL client instance.
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

// Connect establishes a connection to PostgreSQL.
func (c *Client) Connect(ctx context.Context, cfg adapter.Config) error {
	dsn := buildPostgresDSN(cfg)

	c.Logger.Debug("connecting to postgres", slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	c.DB = db
	c.Cfg = cfg
	return nil
}

// buildPostgresDSN constructs a key=value PostgreSQL connection string.
func buildPostgresDSN(cfg adapter.Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	sslmode := "disable"
	if mode, ok := cfg.Options["sslmode"]; ok {
		sslmode = mode
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		host, port, cfg.Database, sslmode)

	if cfg.Username != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.Username)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}
	if appName, ok := cfg.Options["application_name"]; ok {
		dsn += fmt.Sprintf(" application_name=%s", appName)
	}

	return dsn
}

// Columns lists the columns of dataset.table. An empty dataset means the
// "public" schema.
func (c *Client) Columns(ctx context.Context, dataset, table string) ([]core.Column, error) {
	if dataset == "" {
		dataset = "public"
	}
	return c.ColumnsCommon(ctx, dataset, table, func(n int) string { return fmt.Sprintf("$%d", n) })
}

// LoadCSV loads data from a CSV file into a table using COPY FROM STDIN.
// All columns are created as TEXT type for robustness.
func (c *Client) LoadCSV(ctx context.Context, table string, filePath string) error {
	if c.DB == nil {
		return fmt.Errorf("database connection not established")
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	file, err := os.Open(absPath) //nolint:gosec // lookup files are named by rule configuration
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer func() { _ = file.Close() }()

	headers, err := csv.NewReader(file).Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	if err := c.createTextTable(ctx, table, headers); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to reset file: %w", err)
	}

	if err := c.copyFromCSV(ctx, table, file); err != nil {
		return fmt.Errorf("failed to copy data: %w", err)
	}
	return nil
}

// createTextTable creates or replaces a table with all TEXT columns.
func (c *Client) createTextTable(ctx context.Context, table string, columns []string) error {
	if _, err := c.DB.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
		return err
	}

	colDefs := make([]string, 0, len(columns))
	for _, col := range columns {
		colDefs = append(colDefs, fmt.Sprintf("%s TEXT", sanitizeIdentifier(col)))
	}

	_, err := c.DB.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(colDefs, ", ")))
	return err
}

// copyFromCSV streams r into table with COPY on the underlying pgx connection.
func (c *Client) copyFromCSV(ctx context.Context, table string, r io.Reader) error {
	conn, err := c.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return conn.Raw(func(driverConn any) error {
		pgxConn, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		copySQL := fmt.Sprintf("COPY %s FROM STDIN WITH (FORMAT csv, HEADER true)", table)
		_, err := pgxConn.Conn().PgConn().CopyFrom(ctx, r, copySQL)
		return err
	})
}

// sanitizeIdentifier makes a column name safe for SQL.
func sanitizeIdentifier(name string) string {
	safe := strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	safe = strings.ReplaceAll(safe, "-", "_")
	if strings.ContainsAny(safe, "()[]{}") || isReservedWord(safe) {
		return fmt.Sprintf(`"%s"`, safe)
	}
	return safe
}

var reservedWords = map[string]bool{
	"user": true, "order": true, "group": true, "table": true,
	"select": true, "from": true, "where": true, "index": true,
}

// isReservedWord checks if a name is a PostgreSQL reserved word.
func isReservedWord(name string) bool {
	return reservedWords[strings.ToLower(name)]
}

// Ensure Client implements adapter.Client interface
var _ adapter.Client = (*Client)(nil)
