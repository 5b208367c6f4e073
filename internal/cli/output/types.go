package output

import "time"

// RuleInfo describes a registered rule.
type RuleInfo struct {
	Tag          string   `json:"tag"`
	IssueIDs     []string `json:"issue_ids"`
	Description  string   `json:"description,omitempty"`
	Dependencies []string `json:"dependencies"`
	Stages       []string `json:"stages"`
}

// RulesOutput is the JSON form of the rules command.
type RulesOutput struct {
	Rules []RuleInfo `json:"rules"`
}

// PlanRule is one rule in a plan.
type PlanRule struct {
	Position      int      `json:"position"`
	Tag           string   `json:"tag"`
	Requested     bool     `json:"requested"`
	Dependencies  []string `json:"dependencies"`
	SandboxTables []string `json:"sandbox_tables"`
}

// PlanOutput is the JSON form of the plan command.
type PlanOutput struct {
	Rules  []PlanRule `json:"rules"`
	Levels [][]string `json:"levels"`
}

// QueryInfo is one statement of a dry run.
type QueryInfo struct {
	Rule      string `json:"rule"`
	Phase     string `json:"phase"`
	Index     int    `json:"index"`
	SandboxOf string `json:"sandbox_of,omitempty"`
	SQL       string `json:"sql"`
}

// QueriesOutput is the JSON form of run --list-queries.
type QueriesOutput struct {
	Queries []QueryInfo `json:"queries"`
}

// StatementInfo is one issued statement.
type StatementInfo struct {
	Index      int    `json:"index"`
	JobID      string `json:"job_id,omitempty"`
	Status     string `json:"status"`
	SandboxOf  string `json:"sandbox_of,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	SQL        string `json:"sql"`
	Error      string `json:"error,omitempty"`
}

// RuleRunInfo is the outcome of one rule.
type RuleRunInfo struct {
	Tag        string          `json:"tag"`
	Requested  bool            `json:"requested"`
	State      string          `json:"state"`
	Validation string          `json:"validation"`
	Error      string          `json:"error,omitempty"`
	Statements []StatementInfo `json:"statements"`
}

// RunOutput is the JSON form of the run command.
type RunOutput struct {
	RunID              string        `json:"run_id"`
	Status             string        `json:"status"`
	Error              string        `json:"error,omitempty"`
	ValidationFailures []string      `json:"validation_failures,omitempty"`
	Rules              []RuleRunInfo `json:"rules"`
}

// HistoryRun is one run in the audit log.
type HistoryRun struct {
	ID          string     `json:"id"`
	DatasetID   string     `json:"dataset_id"`
	Mode        string     `json:"mode"`
	Status      string     `json:"status"`
	Rules       []string   `json:"rules"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// HistoryOutput is the JSON form of the history command.
type HistoryOutput struct {
	Runs []HistoryRun `json:"runs"`
}

// HistoryRuleRun is one rule outcome of a recorded run.
type HistoryRuleRun struct {
	Tag        string          `json:"tag"`
	Position   int             `json:"position"`
	State      string          `json:"state"`
	Validation string          `json:"validation"`
	Error      string          `json:"error,omitempty"`
	Statements []StatementInfo `json:"statements"`
}

// HistoryDetail is the JSON form of history <run-id>.
type HistoryDetail struct {
	Run   HistoryRun       `json:"run"`
	Rules []HistoryRuleRun `json:"rules"`
}
