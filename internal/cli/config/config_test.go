package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// Import adapter packages to ensure adapters are registered via init()
	_ "github.com/leapstack-labs/leapclean/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/leapclean/pkg/adapters/postgres"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func testdata(t *testing.T, name string) string {
	t.Helper()
	p, err := filepath.Abs(filepath.Join("testdata", name))
	require.NoError(t, err)
	return p
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", "", nil)
	require.NoError(t, err)

	assert.Equal(t, "duckdb", cfg.Target.Type)
	assert.Equal(t, "", cfg.Target.Database)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Equal(t, filepath.Join(cfg.ProjectRoot, DefaultLogDir), cfg.LogDir)
	assert.Empty(t, cfg.HistoryPath)
	assert.Empty(t, cfg.ConfigFile)
}

func TestLoad_File(t *testing.T) {
	path := testdata(t, "full.yaml")
	root := filepath.Dir(path)

	cfg, err := Load(path, "", nil)
	require.NoError(t, err)

	assert.Equal(t, "aou-curation", cfg.ProjectID)
	assert.Equal(t, "combined_2024", cfg.DatasetID)
	assert.Equal(t, "combined_2024_sandbox", cfg.SandboxDatasetID)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.OutputFormat)
	assert.Equal(t, map[string]string{
		"mapping_table":          "ids.person_map",
		"invalid_persons_tables": "observation,visit_occurrence",
		"batch_size":             "500",
	}, cfg.Params)

	// Paths from the file resolve against the file's directory.
	assert.Equal(t, filepath.Join(root, "rules/extra.yaml"), cfg.RulesFile)
	assert.Equal(t, filepath.Join(root, ".leapclean/history.db"), cfg.HistoryPath)
	assert.Equal(t, filepath.Join(root, "run-logs"), cfg.LogDir)
	assert.Equal(t, filepath.Join(root, "data/cdr.duckdb"), cfg.Target.Database)
	assert.Equal(t, []any{"json"}, cfg.Target.Params["extensions"])
	assert.Equal(t, path, cfg.ConfigFile)
}

func TestLoad_FlagsOverrideFileAndEnv(t *testing.T) {
	t.Setenv("LEAPCLEAN_DATASET_ID", "from_env")
	t.Setenv("LEAPCLEAN_SANDBOX_DATASET_ID", "sandbox_from_env")
	t.Setenv("LEAPCLEAN_TARGET__DATABASE", "env.duckdb")

	flags := newFlags(t,
		"--dataset_id", "from_flag",
		"--console-log",
		"--log-level", "warn",
		"--history", "hist.db",
	)

	cfg, err := Load(testdata(t, "full.yaml"), "", flags)
	require.NoError(t, err)

	assert.Equal(t, "from_flag", cfg.DatasetID)
	assert.Equal(t, "sandbox_from_env", cfg.SandboxDatasetID)
	assert.True(t, cfg.ConsoleLog)
	assert.Equal(t, "warn", cfg.LogLevel)

	// Flag paths resolve against the working directory.
	want, err := filepath.Abs("hist.db")
	require.NoError(t, err)
	assert.Equal(t, want, cfg.HistoryPath)
	assert.Equal(t, filepath.Join(cfg.ProjectRoot, "env.duckdb"), cfg.Target.Database)
}

func TestLoad_TargetFlags(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", "", newFlags(t, "--target-type", "postgres", "--database", "cdr"))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Target.Type)
	assert.Equal(t, "cdr", cfg.Target.Database, "postgres database names are not paths")

	cfg, err = Load("", "", newFlags(t, "--database", ":memory:"))
	require.NoError(t, err)
	assert.Equal(t, ":memory:", cfg.Target.Database)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("LEAPCLEAN_TEST_PGHOST", "db.internal")
	t.Setenv("LEAPCLEAN_TEST_PGPASS", "s3cret")

	cfg, err := Load(testdata(t, "full.yaml"), "prod", nil)
	require.NoError(t, err)

	assert.Equal(t, "combined_prod", cfg.DatasetID)
	assert.Equal(t, "combined_prod_sandbox", cfg.SandboxDatasetID)
	assert.Equal(t, "postgres", cfg.Target.Type)
	assert.Equal(t, "db.internal", cfg.Target.Host)
	assert.Equal(t, "s3cret", cfg.Target.Password)
	assert.Equal(t, "cdr", cfg.Target.Database)
	assert.Equal(t, "require", cfg.Target.Options["sslmode"])
	assert.Equal(t, []any{"json"}, cfg.Target.Params["extensions"], "base params are kept")

	_, err = Load(testdata(t, "full.yaml"), "staging", nil)
	assert.ErrorContains(t, err, `unknown target environment "staging"`)
}

func TestLoad_SearchesUpward(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ConfigFileName), []byte("dataset_id: found\n"), 0o600))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o750))
	t.Chdir(nested)

	cfg, err := Load("", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "found", cfg.DatasetID)
	assert.Equal(t, root, cfg.ProjectRoot)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(testdata(t, "bad_target.yaml"), "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown adapter type")
	assert.Contains(t, err.Error(), "duckdb")

	_, err = Load(testdata(t, "malformed.yaml"), "", nil)
	assert.ErrorContains(t, err, "error reading config file")

	_, err = Load(testdata(t, "missing.yaml"), "", nil)
	assert.Error(t, err)
}

func TestTargetConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		target    TargetConfig
		errSubstr string
	}{
		{"empty type", TargetConfig{}, "target type is required"},
		{"duckdb", TargetConfig{Type: "duckdb"}, ""},
		{"uppercase", TargetConfig{Type: "DuckDB"}, ""},
		{"postgres", TargetConfig{Type: "postgres"}, ""},
		{"bigquery", TargetConfig{Type: "bigquery"}, "unknown adapter type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.errSubstr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errSubstr)
		})
	}
}

func TestTargetConfig_AdapterConfig(t *testing.T) {
	target := TargetConfig{Type: "Postgres", Database: "cdr", Host: "h", Port: 5433, User: "u", Password: "p"}
	got := target.AdapterConfig()
	assert.Equal(t, "postgres", got.Type)
	assert.Equal(t, "cdr", got.Database)
	assert.Equal(t, "cdr", got.Path)
	assert.Equal(t, 5433, got.Port)
	assert.Equal(t, "u", got.Username)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR_ONE", "value_one")
	t.Setenv("TEST_VAR_TWO", "value_two")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single variable", "${TEST_VAR_ONE}", "value_one"},
		{"multiple variables", "${TEST_VAR_ONE}/${TEST_VAR_TWO}", "value_one/value_two"},
		{"unset variable stays as-is", "${UNSET_VARIABLE}", "${UNSET_VARIABLE}"},
		{"no variables", "plain string", "plain string"},
		{"mixed set and unset", "${TEST_VAR_ONE}:${UNSET_VAR}", "value_one:${UNSET_VAR}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func TestMergeTargetConfig(t *testing.T) {
	t.Run("nil base returns override", func(t *testing.T) {
		override := &TargetConfig{Type: "duckdb"}
		assert.Equal(t, override, MergeTargetConfig(nil, override))
	})

	t.Run("nil override returns base", func(t *testing.T) {
		base := &TargetConfig{Type: "duckdb"}
		assert.Equal(t, base, MergeTargetConfig(base, nil))
	})

	t.Run("override replaces set fields and merges options", func(t *testing.T) {
		base := &TargetConfig{
			Type:     "postgres",
			Host:     "localhost",
			Database: "base",
			Options:  map[string]string{"sslmode": "disable", "application_name": "leapclean"},
		}
		override := &TargetConfig{
			Database: "override",
			Options:  map[string]string{"sslmode": "require"},
		}

		got := MergeTargetConfig(base, override)
		assert.Equal(t, "postgres", got.Type)
		assert.Equal(t, "localhost", got.Host)
		assert.Equal(t, "override", got.Database)
		assert.Equal(t, map[string]string{"sslmode": "require", "application_name": "leapclean"}, got.Options)
		assert.Equal(t, "disable", base.Options["sslmode"], "base is not modified")
	})
}

func TestMergeParams(t *testing.T) {
	got, err := MergeParams(map[string]string{"a": "1", "b": "2"}, []string{"b=3", "c=x=y", " d =", "a=1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "x=y", "d": ""}, got)

	got, err = MergeParams(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = MergeParams(nil, []string{"novalue"})
	assert.ErrorContains(t, err, "want key=value")
	_, err = MergeParams(nil, []string{"=x"})
	assert.Error(t, err)
}
