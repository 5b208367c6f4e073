package sandbox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapclean/pkg/core"
)

func TestName(t *testing.T) {
	tests := []struct {
		namespace string
		table     string
		want      string
	}{
		{"DC100", "person", "DC100_person"},
		{"dc-2345", "observation", "dc_2345_observation"},
		{" DC1 ", "my table", "DC1_my_table"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Name(tt.namespace, tt.table))
		})
	}
}

func TestName_StableAcrossCalls(t *testing.T) {
	first := Name("DC100", "person")
	second := Name("DC100", "person")
	assert.Equal(t, first, second)
	assert.Equal(t, "DC100_person", second, "no numeric suffix on re-run")
}

func TestRegistry_Claim(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Claim("rule_a", "DC100_person", "person"))
	require.NoError(t, r.Claim("rule_a", "DC100_person", "person"), "same rule may claim twice")

	owner, ok := r.Owner("DC100_person")
	require.True(t, ok)
	assert.Equal(t, "rule_a", owner)

	err := r.Claim("rule_b", "DC100_person", "observation")
	require.Error(t, err)

	var collision *core.SandboxCollisionError
	require.True(t, errors.As(err, &collision))
	assert.Equal(t, "rule_a", collision.Owner)
	assert.Equal(t, "rule_b", collision.Claimant)
	assert.Equal(t, "observation", collision.Other)

	assert.Equal(t, []string{"DC100_person"}, r.Tables())
}

func TestRegistry_ClaimFillsUnknownSource(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Claim("rule_a", "DC1_t", ""))
	require.NoError(t, r.Claim("rule_a", "DC1_t", "t"))

	err := r.Claim("rule_b", "DC1_t", "t")
	var collision *core.SandboxCollisionError
	require.True(t, errors.As(err, &collision))
	assert.Equal(t, "t", collision.Source)
}

func TestRegistry_ClaimSameRuleOtherSource(t *testing.T) {
	r := NewRegistry()
	table := Name("DC1", "a-b")
	require.Equal(t, Name("DC1", "a_b"), table)

	require.NoError(t, r.Claim("rule_a", table, "a-b"))
	require.NoError(t, r.Claim("rule_a", table, ""), "an unknown source matches the claim")

	err := r.Claim("rule_a", table, "a_b")
	var collision *core.SandboxCollisionError
	require.True(t, errors.As(err, &collision), "got %v", err)
	assert.Equal(t, "rule_a", collision.Owner)
	assert.Equal(t, "a-b", collision.Source)
	assert.Equal(t, "rule_a", collision.Claimant)
	assert.Equal(t, "a_b", collision.Other)
}
