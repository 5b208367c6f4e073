// Package config loads leapclean configuration.
//
// Values are layered, lowest to highest precedence: built-in defaults,
// leapclean.yaml, LEAPCLEAN_* environment variables, then explicitly set
// command-line flags.
package config

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapclean/pkg/adapter"
)

// Default configuration values.
const (
	DefaultTargetType = "duckdb"
	DefaultLogDir     = "logs"
	DefaultLogLevel   = "info"
	DefaultOutput     = "auto" // Auto-detect: TTY=text, non-TTY=markdown

	ConfigFileName    = "leapclean.yaml"
	ConfigFileNameAlt = "leapclean.yml"
)

// TargetConfig holds the store connection settings.
type TargetConfig struct {
	Type string `koanf:"type"` // duckdb, postgres

	// File path for DuckDB, database name for Postgres.
	Database string `koanf:"database"`

	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`

	// Options are driver connection options (e.g. sslmode).
	Options map[string]string `koanf:"options"`

	// Params holds adapter-specific configuration (e.g. DuckDB extensions and settings).
	Params map[string]any `koanf:"params"`
}

// Validate checks the target against the registered adapters.
func (t *TargetConfig) Validate() error {
	if t.Type == "" {
		return fmt.Errorf("target type is required")
	}
	if !adapter.IsRegistered(strings.ToLower(t.Type)) {
		return &adapter.UnknownAdapterError{
			Type:      t.Type,
			Available: adapter.ListAdapters(),
		}
	}
	return nil
}

// AdapterConfig converts the target into the adapter connection config.
func (t *TargetConfig) AdapterConfig() adapter.Config {
	return adapter.Config{
		Type:     strings.ToLower(t.Type),
		Path:     t.Database,
		Host:     t.Host,
		Port:     t.Port,
		Database: t.Database,
		Username: t.User,
		Password: t.Password,
		Options:  t.Options,
		Params:   t.Params,
	}
}

// EnvConfig holds per-environment overrides selected with --target.
type EnvConfig struct {
	DatasetID        string        `koanf:"dataset_id"`
	SandboxDatasetID string        `koanf:"sandbox_dataset_id"`
	Target           *TargetConfig `koanf:"target"`
}

// Config holds all CLI configuration options.
type Config struct {
	ProjectID        string `koanf:"project_id"`
	DatasetID        string `koanf:"dataset_id"`
	SandboxDatasetID string `koanf:"sandbox_dataset_id"`

	// Params are passed to every rule constructor; --param values override them.
	Params map[string]string `koanf:"params"`

	// RulesFile declares additional rules in YAML.
	RulesFile string `koanf:"rules_file"`
	// HistoryPath is the SQLite run-history database; empty disables history.
	HistoryPath string `koanf:"history"`

	ConsoleLog   bool   `koanf:"console_log"`
	LogDir       string `koanf:"log_dir"`
	LogLevel     string `koanf:"log_level"`
	OutputFormat string `koanf:"output"`

	Target       *TargetConfig        `koanf:"target"`
	Environments map[string]EnvConfig `koanf:"environments"`

	// ProjectRoot anchors relative paths from the config file.
	ProjectRoot string `koanf:"-"`
	// ConfigFile is the file that was loaded, if any.
	ConfigFile string `koanf:"-"`
}
