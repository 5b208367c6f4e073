package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes environment variables read as configuration.
// A double underscore separates nested keys: LEAPCLEAN_TARGET__TYPE sets target.type.
const EnvPrefix = "LEAPCLEAN_"

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// flagKeys maps flags whose names differ from their config keys.
var flagKeys = map[string]string{
	"target-type": "target.type",
	"database":    "target.database",
	"rules-file":  "rules_file",
	"console-log": "console_log",
	"log-dir":     "log_dir",
	"log-level":   "log_level",
}

// skippedFlags are handled by the loader itself.
var skippedFlags = map[string]bool{"config": true, "target": true}

// pathFlags hold file system paths; flag values resolve against the working
// directory, file values against the project root.
var pathFlags = map[string]string{
	"history":    "history",
	"rules-file": "rules_file",
	"log-dir":    "log_dir",
	"database":   "target.database",
}

// configExistsIn returns the config file in dir, or "".
func configExistsIn(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// findConfigUpward searches upward from startDir for a config file.
func findConfigUpward(startDir string) string {
	dir := startDir
	for range maxUpwardSearchLevels {
		if p := configExistsIn(dir); p != "" {
			return p
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Load reads configuration. cfgFile may be empty to search for leapclean.yaml
// from the working directory upward; targetEnv selects an entry of
// environments; flags may be nil.
func Load(cfgFile, targetEnv string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]any{
		"target.type": DefaultTargetType,
		"log_dir":     DefaultLogDir,
		"log_level":   DefaultLogLevel,
		"output":      DefaultOutput,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if cfgFile == "" {
		cfgFile = findConfigUpward(cwd)
	}
	projectRoot := cwd
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
		if abs, err := filepath.Abs(cfgFile); err == nil {
			projectRoot = filepath.Dir(abs)
		}
	}

	// 3. Environment variables
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags that were explicitly set
	explicitPaths := make(map[string]string)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed || skippedFlags[f.Name] {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			if pathKey, isPath := pathFlags[f.Name]; isPath && f.Value.String() != ":memory:" && f.Value.String() != "" {
				if abs, err := filepath.Abs(f.Value.String()); err == nil {
					explicitPaths[pathKey] = abs
				}
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ProjectRoot = projectRoot
	cfg.ConfigFile = cfgFile
	if cfg.Target == nil {
		cfg.Target = &TargetConfig{}
	}

	// 6. Environment overrides
	if targetEnv != "" {
		envCfg, ok := cfg.Environments[targetEnv]
		if !ok {
			return nil, fmt.Errorf("unknown target environment %q", targetEnv)
		}
		applyEnv(&cfg, envCfg)
	}
	if cfg.Target.Type == "" {
		cfg.Target.Type = DefaultTargetType
	}
	expandTargetEnvVars(cfg.Target)

	// 7. Paths
	resolve := func(key string, value *string) {
		if abs, ok := explicitPaths[key]; ok {
			*value = abs
			return
		}
		*value = resolvePathRelativeTo(*value, projectRoot)
	}
	resolve("history", &cfg.HistoryPath)
	resolve("rules_file", &cfg.RulesFile)
	resolve("log_dir", &cfg.LogDir)
	if strings.EqualFold(cfg.Target.Type, "duckdb") {
		resolve("target.database", &cfg.Target.Database)
	}

	if err := cfg.Target.Validate(); err != nil {
		return nil, fmt.Errorf("invalid target configuration: %w", err)
	}
	return &cfg, nil
}

// envKey maps LEAPCLEAN_DATASET_ID to dataset_id and LEAPCLEAN_TARGET__HOST
// to target.host.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func applyEnv(cfg *Config, env EnvConfig) {
	if env.DatasetID != "" {
		cfg.DatasetID = env.DatasetID
	}
	if env.SandboxDatasetID != "" {
		cfg.SandboxDatasetID = env.SandboxDatasetID
	}
	if env.Target != nil {
		cfg.Target = MergeTargetConfig(cfg.Target, env.Target)
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns; unset variables are left as written.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val := os.Getenv(match[2 : len(match)-1]); val != "" {
			return val
		}
		return match
	})
}

// expandTargetEnvVars expands environment variables in connection fields.
func expandTargetEnvVars(t *TargetConfig) {
	if t == nil {
		return
	}
	t.Password = expandEnvVars(t.Password)
	t.User = expandEnvVars(t.User)
	t.Host = expandEnvVars(t.Host)
	t.Database = expandEnvVars(t.Database)
	for k, v := range t.Options {
		t.Options[k] = expandEnvVars(v)
	}
}

// MergeTargetConfig merges two target configs, with override taking precedence.
func MergeTargetConfig(base, override *TargetConfig) *TargetConfig {
	if base == nil {
		return override
	}
	if override == nil {
		return base
	}

	merged := *base
	merged.Options = maps.Clone(base.Options)
	merged.Params = maps.Clone(base.Params)
	if merged.Options == nil {
		merged.Options = make(map[string]string)
	}
	if merged.Params == nil {
		merged.Params = make(map[string]any)
	}

	if override.Type != "" {
		merged.Type = override.Type
	}
	if override.Database != "" {
		merged.Database = override.Database
	}
	if override.Host != "" {
		merged.Host = override.Host
	}
	if override.Port != 0 {
		merged.Port = override.Port
	}
	if override.User != "" {
		merged.User = override.User
	}
	if override.Password != "" {
		merged.Password = override.Password
	}
	maps.Copy(merged.Options, override.Options)
	maps.Copy(merged.Params, override.Params)
	return &merged
}

// MergeParams returns base overlaid with key=value pairs.
func MergeParams(base map[string]string, pairs []string) (map[string]string, error) {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]string)
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q (want key=value)", pair)
		}
		out[key] = value
	}
	return out, nil
}
