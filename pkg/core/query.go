package core

import (
	"errors"
	"fmt"
	"strings"
)

// Disposition describes how a statement's result is written to its destination.
type Disposition string

// Disposition constants.
const (
	// DispositionNone means the statement has no destination (DDL, DML, queries).
	DispositionNone Disposition = "NONE"
	// DispositionAppend inserts the result into the destination table.
	DispositionAppend Disposition = "APPEND"
	// DispositionTruncate replaces the destination table with the result.
	DispositionTruncate Disposition = "TRUNCATE"
)

// ParseDisposition converts a string to a Disposition. Empty means NONE.
func ParseDisposition(s string) (Disposition, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return DispositionNone, nil
	case "APPEND", "WRITE_APPEND":
		return DispositionAppend, nil
	case "TRUNCATE", "WRITE_TRUNCATE":
		return DispositionTruncate, nil
	default:
		return "", fmt.Errorf("unknown disposition %q", s)
	}
}

// QuerySpec describes one statement a rule wants executed plus its destination.
type QuerySpec struct {
	// Query is the statement text (a SELECT when a destination is set).
	Query string
	// DestinationTable receives the result of Query when set.
	DestinationTable string
	// DestinationDataset owns DestinationTable; required when DestinationTable is set.
	DestinationDataset string
	// Disposition controls how the destination is written.
	Disposition Disposition
	// Batch marks the statement as low priority on stores that support it.
	Batch bool

	// SandboxOf names the source table this statement copies into the sandbox.
	SandboxOf string
	// Mutates names the table in the active dataset whose rows this statement
	// deletes or updates in place.
	Mutates string
}

// Validate reports whether the statement and its destination are consistent.
func (q QuerySpec) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return errors.New("query text is empty")
	}
	if q.DestinationTable != "" && q.DestinationDataset == "" {
		return fmt.Errorf("destination table %q has no destination dataset", q.DestinationTable)
	}
	switch q.Disposition {
	case "", DispositionNone:
		if q.DestinationTable != "" {
			return fmt.Errorf("destination table %q requires APPEND or TRUNCATE disposition", q.DestinationTable)
		}
	case DispositionAppend, DispositionTruncate:
		if q.DestinationTable == "" {
			return fmt.Errorf("%s disposition requires a destination table", q.Disposition)
		}
	default:
		return fmt.Errorf("unknown disposition %q", q.Disposition)
	}
	return nil
}

// IsSandbox reports whether the spec writes a sandbox copy.
func (q QuerySpec) IsSandbox() bool {
	return q.SandboxOf != ""
}

// DestroysIn returns the table of dataset whose existing rows this spec deletes
// or overwrites, or "" when it is not destructive for that dataset.
func (q QuerySpec) DestroysIn(dataset string) string {
	if q.Mutates != "" {
		return q.Mutates
	}
	if q.Disposition == DispositionTruncate && q.DestinationDataset == dataset && !q.IsSandbox() {
		return q.DestinationTable
	}
	return ""
}

// Qualify joins project, dataset and table into a dotted identifier.
// Empty leading parts are omitted.
func Qualify(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ".")
}
