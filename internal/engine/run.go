package engine

// run.go - Execution orchestration: dry runs and executing runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/leapclean/internal/sandbox"
	"github.com/leapstack-labs/leapclean/pkg/core"
)

// Phase tells which step of a rule produced a statement.
type Phase string

// Statement phases.
const (
	// PhaseSetup statements are submitted by a rule's SetupRule.
	PhaseSetup Phase = "setup"
	// PhaseQuery statements come from a rule's QuerySpecs (plus automatic sandbox copies).
	PhaseQuery Phase = "query"
)

// Statement is one rendered statement of a dry run.
type Statement struct {
	Rule  string
	Phase Phase
	// Index is the position within the rule's phase.
	Index int
	Text  string
	// SandboxOf names the source table when the statement writes an audit copy.
	SandboxOf string
}

// StatementResult is the outcome of one issued statement.
type StatementResult struct {
	Index     int
	Text      string
	JobID     string
	SandboxOf string
	Status    core.StatementStatus
	Duration  time.Duration
	Err       error
}

// RuleResult is the outcome of one rule.
type RuleResult struct {
	Tag        string
	Requested  bool
	State      core.RuleState
	Validation core.ValidationStatus
	Statements []StatementResult
	Err        error
}

// RunResult is the outcome of a run. Rules not reached keep the PENDING state.
type RunResult struct {
	RunID  string
	Mode   core.RunMode
	Status core.RunStatus
	Rules  []RuleResult
	// ValidationFailures holds the *core.ValidationError values collected in
	// non-strict validation mode.
	ValidationFailures []error
}

// Statements returns the text of every statement issued, in order.
func (r *RunResult) Statements() []string {
	var out []string
	for _, rule := range r.Rules {
		for _, st := range rule.Statements {
			out = append(out, st.Text)
		}
	}
	return out
}

// ValidationErr joins the collected validation failures, or returns nil.
func (r *RunResult) ValidationErr() error {
	return errors.Join(r.ValidationFailures...)
}

// preparedStatement is a guarded, rendered spec ready to be issued.
type preparedStatement struct {
	spec core.QuerySpec
	text string
}

// prepare turns a rule's specs into the statements issued for it.
func (e *Engine) prepare(dialect string, p PlannedRule, claims *sandbox.Registry) ([]preparedStatement, error) {
	meta := p.Rule.Metadata()
	guarded, err := e.guardSpecs(meta, p.Rule.SandboxTableNames(), p.Rule.QuerySpecs(), claims)
	if err != nil {
		return nil, err
	}

	out := make([]preparedStatement, 0, len(guarded))
	for i, spec := range guarded {
		text, err := renderStatement(dialect, e.ruleCfg.ProjectID, spec)
		if err != nil {
			return nil, &core.ConfigError{Rule: meta.Tag, Reason: fmt.Sprintf("cannot render statement %d", i+1), Err: err}
		}
		out = append(out, preparedStatement{spec: spec, text: text})
	}
	return out, nil
}

// ListQueries returns every statement a run of the requested rules would issue,
// in order, without executing any of them. Rule setup runs against a client
// that answers reads from the real store and records writes.
func (e *Engine) ListQueries(ctx context.Context, client core.StoreClient, requested []string) ([]Statement, error) {
	plan, err := e.Plan(requested)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	e.logger.Info("listing queries", "run_id", runID, "rules", plan.Tags())
	e.recordErr("start run", e.recorder.StartRun(context.WithoutCancel(ctx), e.newRun(runID, core.RunModeList, plan)))

	statements, err := e.listQueries(ctx, client, plan)
	status, msg := core.RunStatusCompleted, ""
	if err != nil {
		status, msg = runStatusFor(err), err.Error()
	}
	e.recordErr("complete run", e.recorder.CompleteRun(context.WithoutCancel(ctx), runID, status, msg))
	return statements, err
}

func (e *Engine) listQueries(ctx context.Context, client core.StoreClient, plan *Plan) ([]Statement, error) {
	dry := &dryRunClient{inner: client, logger: e.logger}

	var out []Statement
	for _, p := range plan.Rules {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("listing cancelled before rule %s: %w", p.Tag(), err)
		}

		if err := p.Rule.SetupRule(ctx, dry); err != nil {
			return out, &core.SetupError{Rule: p.Tag(), Err: err}
		}
		for i, text := range dry.take() {
			out = append(out, Statement{Rule: p.Tag(), Phase: PhaseSetup, Index: i, Text: text})
		}

		prepared, err := e.prepare(client.Dialect(), p, plan.Sandboxes)
		if err != nil {
			return out, err
		}
		for i, ps := range prepared {
			out = append(out, Statement{Rule: p.Tag(), Phase: PhaseQuery, Index: i, Text: ps.text, SandboxOf: ps.spec.SandboxOf})
		}
	}
	return out, nil
}

// Run executes the requested rules in dependency order. Configuration and
// execution errors abort the run and are returned; in non-strict validation
// mode, validation failures are collected in the result instead.
func (e *Engine) Run(ctx context.Context, client core.StoreClient, requested []string) (*RunResult, error) {
	result := &RunResult{
		RunID:  uuid.NewString(),
		Mode:   core.RunModeExecute,
		Status: core.RunStatusFailed,
	}

	plan, err := e.Plan(requested)
	if err != nil {
		e.logger.Error("planning failed", "run_id", result.RunID, "error", err)
		return result, err
	}

	result.Rules = make([]RuleResult, len(plan.Rules))
	for i, p := range plan.Rules {
		result.Rules[i] = RuleResult{
			Tag:        p.Tag(),
			Requested:  p.Requested,
			State:      core.RuleStatePending,
			Validation: core.ValidationSkipped,
		}
	}

	e.logger.Info("starting run", "run_id", result.RunID, "rules", plan.Tags(), "validate", e.validate)
	e.recordErr("start run", e.recorder.StartRun(context.WithoutCancel(ctx), e.newRun(result.RunID, core.RunModeExecute, plan)))

	runErr := e.execute(ctx, client, plan, result)

	msg := ""
	switch {
	case runErr != nil:
		result.Status = runStatusFor(runErr)
		msg = runErr.Error()
		e.logger.Error("run failed", "run_id", result.RunID, "status", string(result.Status), "error", runErr)
	case len(result.ValidationFailures) > 0:
		result.Status = core.RunStatusCompleted
		msg = fmt.Sprintf("%d validation failure(s)", len(result.ValidationFailures))
		e.logger.Warn("run completed with validation failures", "run_id", result.RunID, "failures", len(result.ValidationFailures))
	default:
		result.Status = core.RunStatusCompleted
		e.logger.Info("run completed", "run_id", result.RunID)
	}
	e.recordErr("complete run", e.recorder.CompleteRun(context.WithoutCancel(ctx), result.RunID, result.Status, msg))

	return result, runErr
}

func (e *Engine) execute(ctx context.Context, client core.StoreClient, plan *Plan, result *RunResult) error {
	if creator, ok := client.(core.DatasetCreator); ok {
		if err := creator.EnsureDataset(ctx, e.ruleCfg.SandboxDatasetID); err != nil {
			return fmt.Errorf("failed to create sandbox dataset %s: %w", e.ruleCfg.SandboxDatasetID, err)
		}
	}

	for i, p := range plan.Rules {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled before rule %s: %w", p.Tag(), err)
		}
		if err := e.runRule(ctx, client, plan, i, result); err != nil {
			return err
		}
	}
	return nil
}

// runRule drives one rule through SETUP, QUERIES_ISSUED, VALIDATED and DONE.
func (e *Engine) runRule(ctx context.Context, client core.StoreClient, plan *Plan, position int, result *RunResult) error {
	p := plan.Rules[position]
	rr := &result.Rules[position]
	logger := e.logger.With("rule", p.Tag())

	ruleRun := &core.RuleRun{
		ID:         uuid.NewString(),
		RunID:      result.RunID,
		Rule:       p.Tag(),
		Position:   position,
		Validation: core.ValidationSkipped,
		StartedAt:  time.Now(),
	}
	transition := func(state core.RuleState) {
		rr.State = state
		ruleRun.State = state
		ruleRun.Validation = rr.Validation
		if state == core.RuleStateDone || state == core.RuleStateFailed {
			now := time.Now()
			ruleRun.EndedAt = &now
		}
		e.recordErr("rule run", e.recorder.RecordRuleRun(context.WithoutCancel(ctx), ruleRun))
	}
	fail := func(err error) error {
		rr.Err = err
		ruleRun.Error = err.Error()
		transition(core.RuleStateFailed)
		logger.Error("rule failed", "error", err)
		return err
	}

	// SETUP
	transition(core.RuleStateSetup)
	logger.Info("setting up rule")
	if err := p.Rule.SetupRule(ctx, client); err != nil {
		return fail(&core.SetupError{Rule: p.Tag(), Err: err})
	}

	validator, canValidate := p.Rule.(core.Validator)
	pendingValidation := false
	if e.validate {
		switch {
		case !canValidate:
			rr.Validation = core.ValidationNotImplemented
		default:
			status, err := e.classifyValidation(p.Tag(), "setup_validation", validator.SetupValidation(ctx, client))
			rr.Validation = status
			if err != nil {
				if e.strict {
					return fail(err)
				}
				result.ValidationFailures = append(result.ValidationFailures, err)
			}
			// A rule without pre-conditions still checks its post-conditions.
			pendingValidation = status != core.ValidationFailed
		}
	}

	statements, err := e.prepare(client.Dialect(), p, plan.Sandboxes)
	if err != nil {
		return fail(err)
	}

	// QUERIES_ISSUED
	for i, ps := range statements {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("run cancelled before rule %s statement %d: %w", p.Tag(), i+1, err))
		}

		res := e.issue(ctx, client, i, ps)
		rr.Statements = append(rr.Statements, res)
		e.recordErr("statement", e.recorder.RecordStatement(context.WithoutCancel(ctx), &core.StatementRecord{
			RuleRunID:    ruleRun.ID,
			Sequence:     i,
			JobID:        res.JobID,
			Statement:    res.Text,
			SandboxTable: sandboxTable(ps.spec),
			Status:       res.Status,
			Error:        errString(res.Err),
			DurationMS:   res.Duration.Milliseconds(),
		}))

		if res.Err != nil {
			return fail(&core.ExecutionError{Rule: p.Tag(), Index: i, JobID: res.JobID, Statement: res.Text, Err: res.Err})
		}
		logger.Debug("statement completed", "index", i+1, "job_id", res.JobID, "duration_ms", res.Duration.Milliseconds())
	}
	transition(core.RuleStateQueriesIssued)

	// VALIDATED
	if pendingValidation {
		status, err := e.classifyValidation(p.Tag(), "validate_rule", validator.ValidateRule(ctx, client))
		rr.Validation = status
		if err != nil {
			if e.strict {
				return fail(err)
			}
			result.ValidationFailures = append(result.ValidationFailures, err)
		}
		transition(core.RuleStateValidated)
	}

	transition(core.RuleStateDone)
	logger.Info("rule done", "statements", len(rr.Statements), "validation", string(rr.Validation))
	return nil
}

// issue submits one statement and waits for it. The caller's cancellation is
// not propagated: an in-flight statement is never interrupted.
func (e *Engine) issue(ctx context.Context, client core.StoreClient, index int, ps preparedStatement) StatementResult {
	callCtx := context.WithoutCancel(ctx)
	res := StatementResult{Index: index, Text: ps.text, SandboxOf: ps.spec.SandboxOf}

	start := time.Now()
	job, err := client.Execute(callCtx, ps.text)
	if err == nil {
		res.JobID = job.ID()
		err = job.Wait(callCtx)
	}
	res.Duration = time.Since(start)

	res.Status = core.StatementSucceeded
	if err != nil {
		res.Status = core.StatementFailed
		res.Err = err
	}
	return res
}

// classifyValidation maps a hook's error to a validation status. A nil error
// passes; ErrNotImplemented is not a failure.
func (e *Engine) classifyValidation(tag, phase string, err error) (core.ValidationStatus, error) {
	switch {
	case err == nil:
		return core.ValidationPassed, nil
	case errors.Is(err, core.ErrNotImplemented):
		return core.ValidationNotImplemented, nil
	default:
		e.logger.Warn("validation failed", "rule", tag, "phase", phase, "error", err)
		return core.ValidationFailed, &core.ValidationError{Rule: tag, Phase: phase, Err: err}
	}
}

func (e *Engine) newRun(id string, mode core.RunMode, plan *Plan) *core.Run {
	return &core.Run{
		ID:               id,
		ProjectID:        e.ruleCfg.ProjectID,
		DatasetID:        e.ruleCfg.DatasetID,
		SandboxDatasetID: e.ruleCfg.SandboxDatasetID,
		Mode:             mode,
		Rules:            plan.Tags(),
		Status:           core.RunStatusRunning,
		StartedAt:        time.Now(),
	}
}

func (e *Engine) recordErr(what string, err error) {
	if err != nil {
		e.logger.Warn("failed to record run history", "record", what, "error", err)
	}
}

func runStatusFor(err error) core.RunStatus {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return core.RunStatusCancelled
	}
	return core.RunStatusFailed
}

func sandboxTable(spec core.QuerySpec) string {
	if spec.IsSandbox() {
		return spec.DestinationTable
	}
	return ""
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
