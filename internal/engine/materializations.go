package engine

// materializations.go - Rendering a QuerySpec's destination and disposition
// into the statement text issued to the store

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapclean/pkg/core"
)

// Dialects with a known rendering.
const (
	DialectDuckDB   = "duckdb"
	DialectPostgres = "postgres"
)

// renderStatement returns the exact text issued for spec. Dry runs and
// executing runs both go through here, so their statements never diverge.
func renderStatement(dialect, project string, spec core.QuerySpec) (string, error) {
	query := strings.TrimSpace(spec.Query)
	if spec.DestinationTable == "" {
		return query, nil
	}

	switch dialect {
	case DialectDuckDB:
		return renderDuckDB(project, spec, query)
	case DialectPostgres:
		return renderPostgres(spec, query)
	default:
		return "", fmt.Errorf("no rendering for destination tables in dialect %q", dialect)
	}
}

func renderDuckDB(project string, spec core.QuerySpec, query string) (string, error) {
	dest := core.Qualify(project, spec.DestinationDataset, spec.DestinationTable)
	switch spec.Disposition {
	case core.DispositionTruncate:
		return fmt.Sprintf("CREATE OR REPLACE TABLE %s AS\n%s", dest, query), nil
	case core.DispositionAppend:
		return fmt.Sprintf("INSERT INTO %s\n%s", dest, query), nil
	default:
		return "", fmt.Errorf("disposition %s cannot write table %s", spec.Disposition, dest)
	}
}

// renderPostgres writes through a staging table so the query may read the
// table it replaces. Postgres has no project level, so the project is dropped.
func renderPostgres(spec core.QuerySpec, query string) (string, error) {
	dest := core.Qualify(spec.DestinationDataset, spec.DestinationTable)
	switch spec.Disposition {
	case core.DispositionTruncate:
		staging := spec.DestinationTable + "__staging"
		return fmt.Sprintf(
			"DROP TABLE IF EXISTS %[1]s;\nCREATE TABLE %[1]s AS\n%[2]s;\nDROP TABLE IF EXISTS %[3]s;\nALTER TABLE %[1]s RENAME TO %[4]s",
			core.Qualify(spec.DestinationDataset, staging), query, dest, spec.DestinationTable,
		), nil
	case core.DispositionAppend:
		return fmt.Sprintf("INSERT INTO %s\n%s", dest, query), nil
	default:
		return "", fmt.Errorf("disposition %s cannot write table %s", spec.Disposition, dest)
	}
}
