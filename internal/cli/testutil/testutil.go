// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/leapstack-labs/leapclean/internal/cli/output"
	"github.com/leapstack-labs/leapclean/pkg/adapter"
	"github.com/leapstack-labs/leapclean/pkg/adapters/duckdb"
)

// DatabaseFile is the DuckDB file SetupTestProject seeds.
const DatabaseFile = "cdr.duckdb"

var seed = []string{
	"CREATE SCHEMA ds",
	`CREATE TABLE ds.person (
		person_id INTEGER,
		gender_concept_id INTEGER,
		year_of_birth INTEGER,
		gender_source_value VARCHAR
	)`,
	`INSERT INTO ds.person VALUES
		(1, 8507, 1980, 'M'),
		(2, 0, 1990, NULL),
		(3, 8532, NULL, 'F'),
		(4, 8532, 1975, NULL)`,
	`CREATE TABLE ds.observation (
		observation_id INTEGER,
		person_id INTEGER,
		observation_date DATE,
		value_as_string VARCHAR
	)`,
	`INSERT INTO ds.observation VALUES
		(10, 1, DATE '2020-01-10', NULL),
		(11, 2, DATE '2020-02-10', 'free text'),
		(12, 3, DATE '2020-03-10', NULL),
		(13, 4, DATE '2020-04-10', 'more text')`,
}

const projectConfig = `dataset_id: ds
sandbox_dataset_id: ds_sandbox
rules_file: rules.yaml
history: .leapclean/history.db
log_dir: logs
params:
  invalid_persons_tables: observation
target:
  type: duckdb
  database: cdr.duckdb
`

const projectRules = `rules:
  - tag: fill_gender_source_value
    issue_ids: [DC9001]
    description: Fills missing gender source values
    stages: [ehr]
    depends_on: [drop_rows_for_invalid_persons]
    tables: [person]
    statements:
      - sandbox_of: person
        query: |
          SELECT * FROM {{table "person"}} WHERE gender_source_value IS NULL
      - mutates: person
        query: |
          UPDATE {{table "person"}} SET gender_source_value = 'unknown'
          WHERE gender_source_value IS NULL
    validate: |
      SELECT COUNT(*) FROM {{table "person"}} WHERE gender_source_value IS NULL
`

// SetupTestProject creates a temporary project: leapclean.yaml, a rules file,
// and a DuckDB database holding a small person and observation dataset.
// Persons 2 and 3 are invalid; person 4 has no gender source value.
func SetupTestProject(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "leapclean.yaml"), projectConfig)
	writeFile(t, filepath.Join(tmpDir, "rules.yaml"), projectRules)

	ctx := context.Background()
	client := duckdb.New(nil)
	if err := client.Connect(ctx, adapter.Config{Path: filepath.Join(tmpDir, DatabaseFile)}); err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	defer func() { _ = client.Close() }()

	for _, stmt := range seed {
		job, err := client.Execute(ctx, stmt)
		if err == nil {
			err = job.Wait(ctx)
		}
		if err != nil {
			t.Fatalf("failed to seed database: %v\n%s", err, stmt)
		}
	}
	return tmpDir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
}

// QueryCount opens the project database and runs a COUNT query against it.
func QueryCount(t *testing.T, projectDir, query string) int64 {
	t.Helper()

	ctx := context.Background()
	client := duckdb.New(nil)
	if err := client.Connect(ctx, adapter.Config{Path: filepath.Join(projectDir, DatabaseFile)}); err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = client.Close() }()

	rows, err := client.Query(ctx, query)
	if err != nil {
		t.Fatalf("query failed: %v\n%s", err, query)
	}
	defer func() { _ = rows.Close() }()

	var n sql.NullInt64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	return n.Int64
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
// Output is captured in buffers for inspection.
func NewTestRenderer(mode output.OutputMode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// NewTestRendererText creates a new test renderer in text mode (simulated TTY).
func NewTestRendererText() *TestRenderer {
	return NewTestRenderer(output.ModeText, true)
}

// NewTestRendererMarkdown creates a new test renderer in markdown mode.
func NewTestRendererMarkdown() *TestRenderer {
	return NewTestRenderer(output.ModeMarkdown, false)
}

// NewTestRendererJSON creates a new test renderer in JSON mode.
func NewTestRendererJSON() *TestRenderer {
	return NewTestRenderer(output.ModeJSON, false)
}

// Output returns the stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the stderr output as a string.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertValidMarkdown performs basic markdown validation.
// It checks for unclosed code fences and empty headers.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()

	fenceCount := strings.Count(md, "```")
	if fenceCount%2 != 0 {
		t.Errorf("unbalanced code fences in markdown: found %d occurrences", fenceCount)
	}

	lines := strings.Split(md, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.TrimLeft(trimmed, "# ") == "" {
			t.Errorf("empty header at line %d: %q", i+1, line)
		}
	}
}
