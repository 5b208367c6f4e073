// Package duckdb provides a DuckDB store client for leapclean.
//
// This file registers the DuckDB client with the adapter registry.
// Import this package with a blank identifier to register the client:
//
//	import _ "github.com/leapstack-labs/leapclean/pkg/adapters/duckdb"
package duckdb

import (
	"log/slog"

	"github.com/leapstack-labs/leapclean/pkg/adapter"
)

func init() {
	adapter.Register(DialectName, func(logger *slog.Logger) adapter.Client { return New(logger) })
}
