package config

import "github.com/spf13/pflag"

// RegisterFlags adds the global configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default: ./leapclean.yaml)")
	fs.StringP("target", "t", "", "Environment from the environments section to use")
	fs.String("project_id", "", "Project qualifying every table name")
	fs.String("dataset_id", "", "Dataset to clean")
	fs.String("sandbox_dataset_id", "", "Dataset receiving audit copies")
	fs.Bool("console-log", false, "Mirror logs to the console")
	fs.String("log-dir", "", "Directory for log files (default: logs)")
	fs.String("log-level", "", "Log level: debug, info, warn, error")
	fs.String("target-type", "", "Store type (duckdb|postgres)")
	fs.String("database", "", "DuckDB file or Postgres database name (empty for in-memory DuckDB)")
	fs.String("history", "", "Path to the run-history database (empty disables history)")
	fs.String("rules-file", "", "YAML file declaring additional rules")
	fs.StringP("output", "o", "", "Output format (auto|text|markdown|json)")
}
