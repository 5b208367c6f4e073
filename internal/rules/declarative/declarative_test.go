package declarative

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapclean/internal/registry"
	"github.com/leapstack-labs/leapclean/internal/sandbox"
	"github.com/leapstack-labs/leapclean/internal/testutil"
	"github.com/leapstack-labs/leapclean/pkg/core"
)

func ruleConfig(params map[string]string) core.RuleConfig {
	return core.RuleConfig{
		DatasetID:        "ds",
		SandboxDatasetID: "sb",
		Params:           params,
		Namer:            sandbox.Name,
	}
}

func loadTestdata(t *testing.T) *File {
	t.Helper()
	f, err := Load(filepath.Join("testdata", "rules.yaml"))
	require.NoError(t, err)
	return f
}

func TestLoad(t *testing.T) {
	f := loadTestdata(t)
	require.Len(t, f.Rules, 2)

	notes := f.Rules[0]
	assert.Equal(t, "null_visit_notes", notes.Tag)
	assert.Equal(t, []string{"DC2001"}, notes.IssueIDs)
	assert.Equal(t, []core.DatasetStage{core.StageEHR, core.StageCombined}, notes.stages())
	assert.Equal(t, []string{"drop_rows_for_invalid_persons"}, notes.DependsOn)
	require.Len(t, notes.Lookups, 1)
	assert.Equal(t, "lookups/note_concepts.csv", notes.Lookups[0].File)
	assert.Equal(t, "testdata", f.dir)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read rules file")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown key",
			yaml:    "rules:\n  - tag: a\n    issue_ids: [DC1]\n    statments: []\n",
			wantErr: "statments",
		},
		{
			name:    "missing tag",
			yaml:    "rules:\n  - issue_ids: [DC1]\n    statements:\n      - query: SELECT 1\n",
			wantErr: "tag is required",
		},
		{
			name:    "missing issue ids",
			yaml:    "rules:\n  - tag: a\n    statements:\n      - query: SELECT 1\n",
			wantErr: "issue_ids must not be empty",
		},
		{
			name:    "no statements",
			yaml:    "rules:\n  - tag: a\n    issue_ids: [DC1]\n",
			wantErr: "at least one statement",
		},
		{
			name:    "unknown stage",
			yaml:    "rules:\n  - tag: a\n    issue_ids: [DC1]\n    stages: [bronze]\n    statements:\n      - query: SELECT 1\n",
			wantErr: `unknown dataset stage "bronze"`,
		},
		{
			name:    "unknown disposition",
			yaml:    "rules:\n  - tag: a\n    issue_ids: [DC1]\n    statements:\n      - query: SELECT 1\n        disposition: MERGE\n",
			wantErr: `unknown disposition "MERGE"`,
		},
		{
			name:    "incomplete lookup",
			yaml:    "rules:\n  - tag: a\n    issue_ids: [DC1]\n    lookups:\n      - table: x\n    statements:\n      - query: SELECT 1\n",
			wantErr: "lookups need both table and file",
		},
		{
			name: "duplicate tag",
			yaml: "rules:\n" +
				"  - tag: a\n    issue_ids: [DC1]\n    statements:\n      - query: SELECT 1\n" +
				"  - tag: a\n    issue_ids: [DC2]\n    statements:\n      - query: SELECT 2\n",
			wantErr: "duplicate tag a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegister(t *testing.T) {
	reg := registry.New()
	f := loadTestdata(t)
	require.NoError(t, f.Register(reg))

	def, ok := reg.Get("null_visit_notes")
	require.True(t, ok)
	assert.Equal(t, []string{"DC2001"}, def.IssueIDs)
	assert.True(t, def.AppliesTo(core.StageCombined))
	assert.False(t, def.AppliesTo(core.StageRDR))
	assert.Equal(t, []string{"null_visit_notes"}, reg.ForStage(core.StageEHR))

	// A second registration of the same tags is rejected.
	assert.Error(t, f.Register(reg))
}

func TestLoadAndRegister(t *testing.T) {
	reg := registry.New()
	n, err := LoadAndRegister(reg, filepath.Join("testdata", "rules.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, reg.Count())
}

func TestNew_RendersStatements(t *testing.T) {
	f := loadTestdata(t)
	rule, err := New(f.Rules[0], f.dir, ruleConfig(nil))
	require.NoError(t, err)

	specs := rule.QuerySpecs()
	require.Len(t, specs, 2)

	assert.Equal(t, core.QuerySpec{
		Query: "SELECT * FROM ds.visit_occurrence\n" +
			"WHERE visit_concept_id IN (SELECT concept_id FROM sb.DC2001_lookup_note_concepts)",
		DestinationTable:   "DC2001_visit_occurrence",
		DestinationDataset: "sb",
		Disposition:        core.DispositionTruncate,
		SandboxOf:          "visit_occurrence",
	}, specs[0])

	assert.Equal(t, core.QuerySpec{
		Query: "UPDATE ds.visit_occurrence\n" +
			"SET visit_source_value = NULL\n" +
			"WHERE visit_concept_id IN (SELECT concept_id FROM sb.DC2001_lookup_note_concepts)",
		Disposition: core.DispositionNone,
		Mutates:     "visit_occurrence",
	}, specs[1])

	assert.Equal(t, []string{"DC2001_visit_occurrence"}, rule.SandboxTableNames())
	assert.Equal(t, []string{"drop_rows_for_invalid_persons"}, rule.Metadata().Dependencies)
}

func TestNew_Params(t *testing.T) {
	f := loadTestdata(t)

	rule, err := New(f.Rules[1], f.dir, ruleConfig(map[string]string{"excluded_site": "42"}))
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM ds.visit_occurrence\nWHERE care_site_id = 42", rule.QuerySpecs()[0].Query)

	_, err = New(f.Rules[1], f.dir, ruleConfig(nil))
	var cfgErr *core.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "drop_site_rows", cfgErr.Rule)
	assert.Contains(t, err.Error(), "--param excluded_site=")
}

func TestNew_DeclaresDestroyedTables(t *testing.T) {
	f := loadTestdata(t)
	rule, err := New(f.Rules[1], f.dir, ruleConfig(map[string]string{"excluded_site": "42"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"DC2002_visit_occurrence"}, rule.SandboxTableNames())

	spec := RuleSpec{
		Tag:      "rebuild",
		IssueIDs: []string{"DC9"},
		Tables:   []string{"person"},
		Statements: []StatementSpec{
			{Query: "SELECT 1", SandboxOf: "observation"},
			{Query: "DELETE FROM {{table \"person\"}}", Mutates: "person"},
			{Query: "SELECT 1", DestinationTable: "visit", Disposition: "TRUNCATE"},
			{Query: "SELECT 1", DestinationTable: "notes", DestinationDataset: "{{.SandboxDatasetID}}", Disposition: "TRUNCATE"},
		},
	}
	rule, err = New(spec, "", ruleConfig(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"DC9_person", "DC9_observation", "DC9_visit"}, rule.SandboxTableNames())
	assert.Equal(t, []string{"person", "observation", "visit"}, rule.Metadata().AffectedTables)
}

func TestNew_TemplateErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"bad syntax", "SELECT {{table"},
		{"undeclared lookup", `SELECT * FROM {{lookup "missing"}}`},
		{"unknown field", "SELECT '{{.Nope}}'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := RuleSpec{
				Tag:        "broken",
				IssueIDs:   []string{"DC9"},
				Statements: []StatementSpec{{Query: tt.query}},
			}
			_, err := New(spec, "", ruleConfig(nil))
			var cfgErr *core.ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, "broken", cfgErr.Rule)
		})
	}
}

func TestNew_DestinationDefaultsToActiveDataset(t *testing.T) {
	spec := RuleSpec{
		Tag:      "rebuild",
		IssueIDs: []string{"DC9"},
		Statements: []StatementSpec{
			{Query: "SELECT * FROM {{table \"person\"}}", DestinationTable: "person", Disposition: "WRITE_TRUNCATE"},
			{Query: "SELECT 1", DestinationTable: "notes", DestinationDataset: "{{.SandboxDatasetID}}", Disposition: "append"},
		},
	}
	rule, err := New(spec, "", ruleConfig(nil))
	require.NoError(t, err)

	specs := rule.QuerySpecs()
	assert.Equal(t, "ds", specs[0].DestinationDataset)
	assert.Equal(t, "person", specs[0].DestroysIn("ds"))
	assert.Equal(t, "sb", specs[1].DestinationDataset)
	assert.Equal(t, core.DispositionAppend, specs[1].Disposition)
}

func TestNew_InvalidStatement(t *testing.T) {
	spec := RuleSpec{
		Tag:        "broken",
		IssueIDs:   []string{"DC9"},
		Statements: []StatementSpec{{Query: "SELECT 1", Disposition: "TRUNCATE"}},
	}
	_, err := New(spec, "", ruleConfig(nil))
	var cfgErr *core.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, err.Error(), "requires a destination table")
}

func TestSetupRule_UploadsLookups(t *testing.T) {
	f := loadTestdata(t)
	rule, err := New(f.Rules[0], f.dir, ruleConfig(nil))
	require.NoError(t, err)

	client := &testutil.FakeClient{}
	require.NoError(t, rule.SetupRule(context.Background(), client))
	assert.Equal(t, map[string]string{
		"sb.DC2001_lookup_note_concepts": filepath.Join("testdata", "lookups", "note_concepts.csv"),
	}, client.Loaded)
}

type queryOnlyClient struct {
	core.StoreClient
}

func TestSetupRule_Errors(t *testing.T) {
	f := loadTestdata(t)
	rule, err := New(f.Rules[0], f.dir, ruleConfig(nil))
	require.NoError(t, err)

	err = rule.SetupRule(context.Background(), queryOnlyClient{&testutil.FakeClient{}})
	assert.ErrorIs(t, err, core.ErrUnsupported)

	missing, err := New(f.Rules[0], t.TempDir(), ruleConfig(nil))
	require.NoError(t, err)
	err = missing.SetupRule(context.Background(), &testutil.FakeClient{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup file")
}

func TestValidateRule(t *testing.T) {
	f := loadTestdata(t)
	rule, err := New(f.Rules[0], f.dir, ruleConfig(nil))
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	client := &testutil.FakeClient{DB: db}

	ctx := context.Background()
	require.NoError(t, rule.SetupValidation(ctx, client))

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM ds.visit_occurrence`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	require.NoError(t, rule.ValidateRule(ctx, client))

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM ds.visit_occurrence`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	err = rule.ValidateRule(ctx, client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "counted 3 rows")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateRule_NoRows(t *testing.T) {
	f := loadTestdata(t)
	rule, err := New(f.Rules[0], f.dir, ruleConfig(nil))
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	client := &testutil.FakeClient{DB: db}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM ds.visit_occurrence`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}))
	err = rule.ValidateRule(context.Background(), client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation query of null_visit_notes returned no rows")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateRule_NotDeclared(t *testing.T) {
	f := loadTestdata(t)
	rule, err := New(f.Rules[1], f.dir, ruleConfig(map[string]string{"excluded_site": "1"}))
	require.NoError(t, err)

	ctx := context.Background()
	assert.ErrorIs(t, rule.SetupValidation(ctx, &testutil.FakeClient{}), core.ErrNotImplemented)
	assert.ErrorIs(t, rule.ValidateRule(ctx, &testutil.FakeClient{}), core.ErrNotImplemented)
}
