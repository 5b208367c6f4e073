package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/leapclean/pkg/core"
)

// StartRun inserts a new run in the running state.
func (s *SQLiteStore) StartRun(ctx context.Context, run *core.Run) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	rules, err := json.Marshal(run.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}

	s.logger.Debug("starting run", slog.String("id", run.ID), slog.String("mode", string(run.Mode)))

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, project_id, dataset_id, sandbox_dataset_id, mode, rules, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ProjectID, run.DatasetID, run.SandboxDatasetID,
		string(run.Mode), string(rules), string(run.Status), run.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished with the given status.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status core.RunStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(status), time.Now().UTC(), nullString(errMsg), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

// RecordRuleRun inserts or updates the record of one rule within a run.
// It is called on every state transition of the rule.
func (s *SQLiteStore) RecordRuleRun(ctx context.Context, rr *core.RuleRun) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rule_runs (id, run_id, rule, position, state, validation, error, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     state = excluded.state,
		     validation = excluded.validation,
		     error = excluded.error,
		     ended_at = excluded.ended_at`,
		rr.ID, rr.RunID, rr.Rule, rr.Position, string(rr.State), string(rr.Validation),
		nullString(rr.Error), rr.StartedAt.UTC(), nullTime(rr.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record rule run %s: %w", rr.Rule, err)
	}
	return nil
}

// RecordStatement inserts the record of one issued statement.
func (s *SQLiteStore) RecordStatement(ctx context.Context, st *core.StatementRecord) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO statements (rule_run_id, sequence, job_id, statement, sandbox_table, status, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		st.RuleRunID, st.Sequence, st.JobID, st.Statement, nullString(st.SandboxTable),
		string(st.Status), nullString(st.Error), st.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to record statement: %w", err)
	}
	return nil
}

const runColumns = `id, project_id, dataset_id, sandbox_dataset_id, mode, rules, status, started_at, completed_at, error`

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves the most recent runs up to the given limit, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListRuleRuns retrieves the rule records of a run in execution order.
func (s *SQLiteStore) ListRuleRuns(ctx context.Context, runID string) ([]*core.RuleRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, rule, position, state, validation, error, started_at, ended_at
		 FROM rule_runs WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.RuleRun
	for rows.Next() {
		rr := &core.RuleRun{}
		var state, validation string
		var errMsg sql.NullString
		var endedAt sql.NullTime
		if err := rows.Scan(&rr.ID, &rr.RunID, &rr.Rule, &rr.Position, &state, &validation,
			&errMsg, &rr.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule run: %w", err)
		}
		rr.State = core.RuleState(state)
		rr.Validation = core.ValidationStatus(validation)
		rr.Error = errMsg.String
		if endedAt.Valid {
			rr.EndedAt = &endedAt.Time
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

// ListStatements retrieves the statements issued for a rule run in order.
func (s *SQLiteStore) ListStatements(ctx context.Context, ruleRunID string) ([]*core.StatementRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT rule_run_id, sequence, job_id, statement, sandbox_table, status, error, duration_ms
		 FROM statements WHERE rule_run_id = ? ORDER BY sequence`, ruleRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to list statements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.StatementRecord
	for rows.Next() {
		st := &core.StatementRecord{}
		var status string
		var sandboxTable, errMsg sql.NullString
		if err := rows.Scan(&st.RuleRunID, &st.Sequence, &st.JobID, &st.Statement, &sandboxTable,
			&status, &errMsg, &st.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan statement: %w", err)
		}
		st.Status = core.StatementStatus(status)
		st.SandboxTable = sandboxTable.String
		st.Error = errMsg.String
		out = append(out, st)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*core.Run, error) {
	run := &core.Run{}
	var mode, rules, status string
	var completedAt sql.NullTime
	var errMsg sql.NullString

	if err := sc.Scan(&run.ID, &run.ProjectID, &run.DatasetID, &run.SandboxDatasetID,
		&mode, &rules, &status, &run.StartedAt, &completedAt, &errMsg); err != nil {
		return nil, err
	}

	run.Mode = core.RunMode(mode)
	run.Status = core.RunStatus(status)
	run.Error = errMsg.String
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(rules), &run.Rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules of run %s: %w", run.ID, err)
	}
	return run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
