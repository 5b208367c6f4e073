package engine

// guard.go - Sandbox guard: every destructive statement is preceded by an
// audit copy of the rows it touches

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/leapclean/internal/sandbox"
	"github.com/leapstack-labs/leapclean/pkg/core"
)

// guardSpecs validates a rule's specs and returns them with an automatic
// full-table sandbox copy inserted before the first destructive statement on
// any table the rule did not sandbox itself. Every sandbox destination must be
// one of the declared sandbox tables, which were claimed when the plan was
// built, so collisions never surface mid-run.
func (e *Engine) guardSpecs(meta core.Metadata, declared []string, specs []core.QuerySpec, claims *sandbox.Registry) ([]core.QuerySpec, error) {
	claim := func(table, source string) error {
		if !slices.Contains(declared, table) {
			return &core.ConfigError{
				Rule:   meta.Tag,
				Reason: fmt.Sprintf("sandbox table %s for %s is not among the rule's declared sandbox tables %v", table, source, declared),
			}
		}
		return claims.Claim(meta.Tag, table, source)
	}

	out := make([]core.QuerySpec, 0, len(specs)+1)
	sandboxed := make(map[string]bool)

	for i, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, &core.ConfigError{Rule: meta.Tag, Reason: fmt.Sprintf("query spec %d is invalid", i+1), Err: err}
		}

		if spec.IsSandbox() {
			if spec.DestinationDataset != e.ruleCfg.SandboxDatasetID {
				return nil, &core.ConfigError{
					Rule:   meta.Tag,
					Reason: fmt.Sprintf("sandbox copy of %s must be written to dataset %s, not %s", spec.SandboxOf, e.ruleCfg.SandboxDatasetID, spec.DestinationDataset),
				}
			}
			if err := claim(spec.DestinationTable, spec.SandboxOf); err != nil {
				return nil, err
			}
			sandboxed[spec.SandboxOf] = true
		}

		if table := spec.DestroysIn(e.ruleCfg.DatasetID); table != "" && !sandboxed[table] {
			auto := e.autoSandbox(meta, table)
			if err := claim(auto.DestinationTable, table); err != nil {
				return nil, err
			}
			e.logger.Debug("inserting sandbox copy", "rule", meta.Tag, "table", table, "sandbox_table", auto.DestinationTable)
			out = append(out, auto)
			sandboxed[table] = true
		}

		out = append(out, spec)
	}
	return out, nil
}

// autoSandbox copies the whole of table into the rule's sandbox table for it.
func (e *Engine) autoSandbox(meta core.Metadata, table string) core.QuerySpec {
	return core.QuerySpec{
		Query:              "SELECT * FROM " + core.Qualify(e.ruleCfg.ProjectID, e.ruleCfg.DatasetID, table),
		DestinationTable:   e.ruleCfg.Namer(meta.IssueIDs[0], table),
		DestinationDataset: e.ruleCfg.SandboxDatasetID,
		Disposition:        core.DispositionTruncate,
		SandboxOf:          table,
	}
}
