package engine

// dryrun.go - Client used while listing queries: reads pass through, writes are recorded

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapclean/pkg/core"
)

// dryRunClient answers read queries from the real store and records every
// statement a rule submits during setup instead of executing it.
type dryRunClient struct {
	inner    core.StoreClient
	logger   *slog.Logger
	recorded []string
}

var (
	_ core.StoreClient  = (*dryRunClient)(nil)
	_ core.ColumnLister = (*dryRunClient)(nil)
	_ core.TableLoader  = (*dryRunClient)(nil)
)

func (c *dryRunClient) Execute(_ context.Context, statement string) (core.Job, error) {
	c.recorded = append(c.recorded, statement)
	return completedJob(fmt.Sprintf("dry-run-%d", len(c.recorded))), nil
}

func (c *dryRunClient) Query(ctx context.Context, query string) (*sql.Rows, error) {
	return c.inner.Query(ctx, query)
}

func (c *dryRunClient) Dialect() string {
	return c.inner.Dialect()
}

func (c *dryRunClient) Columns(ctx context.Context, dataset, table string) ([]core.Column, error) {
	lister, ok := c.inner.(core.ColumnLister)
	if !ok {
		return nil, fmt.Errorf("list columns on %T: %w", c.inner, core.ErrUnsupported)
	}
	return lister.Columns(ctx, dataset, table)
}

// LoadCSV skips the upload; lookup tables are not needed to list statements.
func (c *dryRunClient) LoadCSV(_ context.Context, table, path string) error {
	if _, ok := c.inner.(core.TableLoader); !ok {
		return fmt.Errorf("load file on %T: %w", c.inner, core.ErrUnsupported)
	}
	c.logger.Info("dry run: skipping upload", "table", table, "path", path)
	return nil
}

// take returns and clears the statements recorded so far.
func (c *dryRunClient) take() []string {
	out := c.recorded
	c.recorded = nil
	return out
}

type completedJob string

func (j completedJob) ID() string { return string(j) }

func (j completedJob) Wait(context.Context) error { return nil }
