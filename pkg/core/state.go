package core

import "time"

// RunStatus represents the status of a pipeline run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunMode distinguishes executing runs from dry runs.
type RunMode string

// Run mode constants.
const (
	RunModeExecute RunMode = "execute"
	RunModeList    RunMode = "list"
)

// Run represents one pipeline invocation.
type Run struct {
	ID               string
	ProjectID        string
	DatasetID        string
	SandboxDatasetID string
	Mode             RunMode
	Rules            []string
	Status           RunStatus
	StartedAt        time.Time
	CompletedAt      *time.Time
	Error            string
}

// RuleState is the position of a rule in the execution state machine.
type RuleState string

// Rule states. FAILED is reachable from every other state.
const (
	RuleStatePending       RuleState = "PENDING"
	RuleStateSetup         RuleState = "SETUP"
	RuleStateQueriesIssued RuleState = "QUERIES_ISSUED"
	RuleStateValidated     RuleState = "VALIDATED"
	RuleStateDone          RuleState = "DONE"
	RuleStateFailed        RuleState = "FAILED"
)

// ValidationStatus is the outcome of a rule's validation hooks.
type ValidationStatus string

// Validation status constants.
const (
	ValidationSkipped        ValidationStatus = "skipped"
	ValidationPassed         ValidationStatus = "passed"
	ValidationFailed         ValidationStatus = "failed"
	ValidationNotImplemented ValidationStatus = "not_implemented"
)

// StatementStatus is the outcome of one issued statement.
type StatementStatus string

// Statement status constants.
const (
	StatementSucceeded StatementStatus = "succeeded"
	StatementFailed    StatementStatus = "failed"
)

// RuleRun is the history record of one rule within a run.
type RuleRun struct {
	ID         string
	RunID      string
	Rule       string
	Position   int
	State      RuleState
	Validation ValidationStatus
	Error      string
	StartedAt  time.Time
	EndedAt    *time.Time
}

// StatementRecord is the history record of one issued statement.
type StatementRecord struct {
	RuleRunID    string
	Sequence     int
	JobID        string
	Statement    string
	SandboxTable string
	Status       StatementStatus
	Error        string
	DurationMS   int64
}
