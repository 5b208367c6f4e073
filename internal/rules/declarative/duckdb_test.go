package declarative_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapclean/internal/engine"
	"github.com/leapstack-labs/leapclean/internal/registry"
	"github.com/leapstack-labs/leapclean/internal/rules/declarative"
	"github.com/leapstack-labs/leapclean/internal/testutil"
	"github.com/leapstack-labs/leapclean/pkg/adapter"
	"github.com/leapstack-labs/leapclean/pkg/adapters/duckdb"
	"github.com/leapstack-labs/leapclean/pkg/core"
)

const notesRules = `
rules:
  - tag: null_visit_notes
    issue_ids: [DC2001]
    stages: [ehr]
    tables: [visit_occurrence]
    lookups:
      - table: note_concepts
        file: testdata/lookups/note_concepts.csv
    statements:
      - sandbox_of: visit_occurrence
        query: |
          SELECT * FROM {{table "visit_occurrence"}}
          WHERE visit_concept_id IN (SELECT concept_id FROM {{lookup "note_concepts"}})
      - mutates: visit_occurrence
        query: |
          UPDATE {{table "visit_occurrence"}}
          SET visit_source_value = NULL
          WHERE visit_concept_id IN (SELECT concept_id FROM {{lookup "note_concepts"}})
    validate: |
      SELECT COUNT(*) FROM {{table "visit_occurrence"}}
      WHERE visit_source_value IS NOT NULL
        AND visit_concept_id IN (SELECT concept_id FROM {{lookup "note_concepts"}})
`

func TestDuckDB_DeclarativeRule(t *testing.T) {
	ctx := context.Background()

	client := duckdb.New(testutil.NewTestLogger(t))
	require.NoError(t, client.Connect(ctx, adapter.Config{Path: ":memory:"}))
	t.Cleanup(func() { _ = client.Close() })

	for _, stmt := range []string{
		"CREATE SCHEMA ds",
		"CREATE TABLE ds.visit_occurrence (visit_occurrence_id INTEGER, visit_concept_id INTEGER, visit_source_value VARCHAR)",
		"INSERT INTO ds.visit_occurrence VALUES (1, 9201, 'inpatient note'), (2, 9202, 'outpatient'), (3, 9203, 'er note')",
	} {
		job, err := client.Execute(ctx, stmt)
		require.NoError(t, err)
		require.NoError(t, job.Wait(ctx))
	}

	f, err := declarative.Parse([]byte(notesRules))
	require.NoError(t, err)
	reg := registry.New()
	require.NoError(t, f.Register(reg))

	eng, err := engine.New(engine.Config{
		Registry:         reg,
		DatasetID:        "ds",
		SandboxDatasetID: "ds_sandbox",
		Stage:            core.StageEHR,
		Validate:         true,
		StrictValidation: true,
		Logger:           testutil.NewTestLogger(t),
	})
	require.NoError(t, err)

	result, err := eng.Run(ctx, client, nil)
	require.NoError(t, err)
	require.Len(t, result.Rules, 1)
	assert.Equal(t, core.ValidationPassed, result.Rules[0].Validation)

	count := func(query string) int64 {
		rows, err := client.Query(ctx, query)
		require.NoError(t, err)
		defer func() { _ = rows.Close() }()
		require.True(t, rows.Next())
		var n int64
		require.NoError(t, rows.Scan(&n))
		return n
	}

	assert.Equal(t, int64(2), count("SELECT COUNT(*) FROM ds_sandbox.DC2001_lookup_note_concepts"))
	assert.Equal(t, int64(2), count("SELECT COUNT(*) FROM ds_sandbox.DC2001_visit_occurrence"))
	assert.Equal(t, int64(1), count("SELECT COUNT(*) FROM ds.visit_occurrence WHERE visit_source_value IS NOT NULL"))
	assert.Equal(t, int64(3), count("SELECT COUNT(*) FROM ds.visit_occurrence"))
}
