package state

import (
	"context"

	"github.com/leapstack-labs/leapclean/internal/engine"
	"github.com/leapstack-labs/leapclean/pkg/core"
)

// HistoryReader reads the audit log back for display.
type HistoryReader interface {
	ListRuns(ctx context.Context, limit int) ([]*core.Run, error)
	GetRun(ctx context.Context, id string) (*core.Run, error)
	ListRuleRuns(ctx context.Context, runID string) ([]*core.RuleRun, error)
	ListStatements(ctx context.Context, ruleRunID string) ([]*core.StatementRecord, error)
}

var (
	_ engine.Recorder = (*SQLiteStore)(nil)
	_ HistoryReader   = (*SQLiteStore)(nil)
)
