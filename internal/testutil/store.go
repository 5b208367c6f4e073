package testutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapclean/pkg/core"
)

// FakeClient is an in-memory core.StoreClient that records every submitted
// statement. Read queries are answered by DB (typically a sqlmock database).
type FakeClient struct {
	// DB answers Query calls; Query fails when nil.
	DB *sql.DB
	// DialectName is returned by Dialect; defaults to "duckdb".
	DialectName string
	// Fail decides the outcome of the statement at index (0-based across the
	// client's lifetime). A nil func or nil result means success.
	Fail func(index int, statement string) error
	// OnExecute runs after a statement is recorded, before its job is returned.
	OnExecute func(index int, statement string)

	Executed []string
	Datasets []string
	Loaded   map[string]string
}

var _ core.StoreClient = (*FakeClient)(nil)

// Execute records the statement and returns a job resolving to Fail's verdict.
func (c *FakeClient) Execute(_ context.Context, statement string) (core.Job, error) {
	index := len(c.Executed)
	c.Executed = append(c.Executed, statement)
	if c.OnExecute != nil {
		c.OnExecute(index, statement)
	}
	var err error
	if c.Fail != nil {
		err = c.Fail(index, statement)
	}
	return &FakeJob{JobID: fmt.Sprintf("job-%d", index+1), Err: err}, nil
}

// Query delegates to DB.
func (c *FakeClient) Query(ctx context.Context, query string) (*sql.Rows, error) {
	if c.DB == nil {
		return nil, errors.New("fake client has no database for queries")
	}
	return c.DB.QueryContext(ctx, query)
}

// Dialect returns DialectName or "duckdb".
func (c *FakeClient) Dialect() string {
	if c.DialectName == "" {
		return "duckdb"
	}
	return c.DialectName
}

// EnsureDataset records the dataset.
func (c *FakeClient) EnsureDataset(_ context.Context, dataset string) error {
	c.Datasets = append(c.Datasets, dataset)
	return nil
}

// LoadCSV records the upload.
func (c *FakeClient) LoadCSV(_ context.Context, table, path string) error {
	if c.Loaded == nil {
		c.Loaded = make(map[string]string)
	}
	c.Loaded[table] = path
	return nil
}

// FakeJob is a completed job with a fixed outcome.
type FakeJob struct {
	JobID string
	Err   error
}

// ID returns the job id.
func (j *FakeJob) ID() string { return j.JobID }

// Wait returns the fixed outcome.
func (j *FakeJob) Wait(context.Context) error { return j.Err }

// StubRule is a rule whose statements are fixed at construction.
type StubRule struct {
	core.BaseRule
	Specs []core.QuerySpec
}

// QuerySpecs returns the fixed statements.
func (r *StubRule) QuerySpecs() []core.QuerySpec {
	return r.Specs
}

// NewStubRule builds a StubRule with issue id DC1 and the given dependencies.
func NewStubRule(cfg core.RuleConfig, tag string, deps ...string) (*StubRule, error) {
	base, err := core.NewBaseRule(core.Metadata{
		Tag:          tag,
		IssueIDs:     []string{"DC1"},
		Dependencies: deps,
	}, cfg)
	if err != nil {
		return nil, err
	}
	return &StubRule{BaseRule: base}, nil
}
