package duckdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		input   map[string]any
		want    *Params
		wantErr bool
	}{
		{
			name:  "nil params",
			input: nil,
			want:  &Params{},
		},
		{
			name:  "empty params",
			input: map[string]any{},
			want:  &Params{},
		},
		{
			name: "extensions only",
			input: map[string]any{
				"extensions": []any{"httpfs", "icu"},
			},
			want: &Params{Extensions: []string{"httpfs", "icu"}},
		},
		{
			name: "settings only",
			input: map[string]any{
				"settings": map[string]any{
					"memory_limit": "4GB",
					"threads":      "2",
				},
			},
			want: &Params{Settings: map[string]string{"memory_limit": "4GB", "threads": "2"}},
		},
		{
			name: "numeric settings are stringified",
			input: map[string]any{
				"settings": map[string]any{"threads": 4},
			},
			want: &Params{Settings: map[string]string{"threads": "4"}},
		},
		{
			name: "unknown key",
			input: map[string]any{
				"secrets": []any{},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseParams(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetupStatements(t *testing.T) {
	stmts := setupStatements(&Params{
		Extensions: []string{"icu"},
		Settings: map[string]string{
			"timezone": "O'Hare",
			"threads":  "2",
		},
	})

	assert.Equal(t, []string{
		"INSTALL icu",
		"LOAD icu",
		"SET threads = '2'",
		"SET timezone = 'O''Hare'",
	}, stmts)
}
