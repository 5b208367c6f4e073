// Package core defines the shared language of the leapclean system.
//
// This package contains:
//   - The cleaning rule contract (Rule, Validator, BaseRule, Metadata)
//   - Query specifications produced by rules (QuerySpec, Disposition)
//   - Dataset stages used to select rules (DatasetStage)
//   - The store client contract consumed by the engine (StoreClient, Job)
//   - Run history records (Run, RuleRun, StatementRecord)
//   - The error taxonomy shared by resolver, engine and CLI
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
