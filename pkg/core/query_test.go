package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuerySpec_Validate(t *testing.T) {
	tests := []struct {
		name      string
		spec      QuerySpec
		errSubstr string
	}{
		{
			name: "plain statement",
			spec: QuerySpec{Query: "DELETE FROM ds.person WHERE person_id < 0"},
		},
		{
			name:      "empty text",
			spec:      QuerySpec{Query: "  "},
			errSubstr: "empty",
		},
		{
			name:      "destination without dataset",
			spec:      QuerySpec{Query: "SELECT 1", DestinationTable: "t", Disposition: DispositionTruncate},
			errSubstr: "no destination dataset",
		},
		{
			name:      "destination without disposition",
			spec:      QuerySpec{Query: "SELECT 1", DestinationTable: "t", DestinationDataset: "ds"},
			errSubstr: "requires APPEND or TRUNCATE",
		},
		{
			name:      "append without destination",
			spec:      QuerySpec{Query: "SELECT 1", Disposition: DispositionAppend},
			errSubstr: "requires a destination table",
		},
		{
			name: "truncate into table",
			spec: QuerySpec{Query: "SELECT 1", DestinationTable: "t", DestinationDataset: "ds", Disposition: DispositionTruncate},
		},
		{
			name:      "unknown disposition",
			spec:      QuerySpec{Query: "SELECT 1", Disposition: "MERGE"},
			errSubstr: "unknown disposition",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.errSubstr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestQuerySpec_DestroysIn(t *testing.T) {
	rewrite := QuerySpec{Query: "SELECT 1", DestinationTable: "person", DestinationDataset: "ds", Disposition: DispositionTruncate}
	assert.Equal(t, "person", rewrite.DestroysIn("ds"))
	assert.Empty(t, rewrite.DestroysIn("other"))

	sandbox := rewrite
	sandbox.DestinationDataset = "sb"
	sandbox.SandboxOf = "person"
	assert.Empty(t, sandbox.DestroysIn("sb"), "sandbox writes are not destructive")

	dml := QuerySpec{Query: "DELETE FROM ds.person", Mutates: "person"}
	assert.Equal(t, "person", dml.DestroysIn("ds"))

	appendSpec := QuerySpec{Query: "SELECT 1", DestinationTable: "person", DestinationDataset: "ds", Disposition: DispositionAppend}
	assert.Empty(t, appendSpec.DestroysIn("ds"))
}

func TestParseDisposition(t *testing.T) {
	d, err := ParseDisposition("write_truncate")
	require.NoError(t, err)
	assert.Equal(t, DispositionTruncate, d)

	d, err = ParseDisposition("")
	require.NoError(t, err)
	assert.Equal(t, DispositionNone, d)

	_, err = ParseDisposition("merge")
	assert.Error(t, err)
}

func TestQualify(t *testing.T) {
	assert.Equal(t, "p.ds.t", Qualify("p", "ds", "t"))
	assert.Equal(t, "ds.t", Qualify("", "ds", "t"))
}
