// Package engine drives resolved cleaning rules against a store client.
// It handles planning, the per-rule state machine, the sandbox guard,
// dry runs, and optional validation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/leapstack-labs/leapclean/internal/registry"
	"github.com/leapstack-labs/leapclean/internal/sandbox"
	"github.com/leapstack-labs/leapclean/pkg/core"
)

// Recorder receives the audit trail of a run. Recording failures are logged
// and never change the outcome of a run.
type Recorder interface {
	StartRun(ctx context.Context, run *core.Run) error
	CompleteRun(ctx context.Context, runID string, status core.RunStatus, errMsg string) error
	RecordRuleRun(ctx context.Context, rr *core.RuleRun) error
	RecordStatement(ctx context.Context, rec *core.StatementRecord) error
}

type nopRecorder struct{}

func (nopRecorder) StartRun(context.Context, *core.Run) error { return nil }

func (nopRecorder) CompleteRun(context.Context, string, core.RunStatus, string) error { return nil }

func (nopRecorder) RecordRuleRun(context.Context, *core.RuleRun) error { return nil }

func (nopRecorder) RecordStatement(context.Context, *core.StatementRecord) error { return nil }

// Engine orchestrates the execution of cleaning rules.
type Engine struct {
	registry *registry.Registry
	ruleCfg  core.RuleConfig
	validate bool
	strict   bool
	recorder Recorder
	logger   *slog.Logger
}

// Config holds engine configuration.
type Config struct {
	// Registry is the rule universe (defaults to registry.Default()).
	Registry *registry.Registry
	// ProjectID qualifies every table name; may be empty for single-catalog stores.
	ProjectID string
	// DatasetID is the dataset being cleaned.
	DatasetID string
	// SandboxDatasetID receives the audit copies; must differ from DatasetID.
	SandboxDatasetID string
	// Stage selects rules when none are requested explicitly.
	Stage core.DatasetStage
	// Params are passed unchanged to every rule constructor.
	Params map[string]string
	// Namer builds sandbox table names (defaults to sandbox.Name).
	Namer core.SandboxNamer
	// Validate runs the rules' validation hooks.
	Validate bool
	// StrictValidation aborts the run on the first validation failure instead
	// of collecting failures for the end of the run.
	StrictValidation bool
	// Recorder receives the run history (optional).
	Recorder Recorder
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// New creates an engine. Identifier problems are reported as *core.ConfigError.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	reg := cfg.Registry
	if reg == nil {
		reg = registry.Default()
	}

	namer := cfg.Namer
	if namer == nil {
		namer = sandbox.Name
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	ruleCfg := core.RuleConfig{
		ProjectID:        cfg.ProjectID,
		DatasetID:        cfg.DatasetID,
		SandboxDatasetID: cfg.SandboxDatasetID,
		Stage:            cfg.Stage,
		Params:           maps.Clone(cfg.Params),
		Namer:            namer,
	}
	if err := ruleCfg.Validate(); err != nil {
		return nil, err
	}

	logger.Debug("initializing engine",
		"dataset_id", cfg.DatasetID,
		"sandbox_dataset_id", cfg.SandboxDatasetID,
		"stage", string(cfg.Stage),
		"validate", cfg.Validate,
		"strict", cfg.StrictValidation)

	return &Engine{
		registry: reg,
		ruleCfg:  ruleCfg,
		validate: cfg.Validate,
		strict:   cfg.StrictValidation,
		recorder: recorder,
		logger:   logger,
	}, nil
}

// Registry returns the rule universe the engine resolves against.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// requestedOrStage returns the explicit request, or the stage's rules when
// the request is empty.
func (e *Engine) requestedOrStage(requested []string) ([]string, error) {
	if len(requested) > 0 {
		return requested, nil
	}
	if e.ruleCfg.Stage == "" {
		return nil, &core.ConfigError{Reason: "no rules requested and no stage selected"}
	}
	tags := e.registry.ForStage(e.ruleCfg.Stage)
	if len(tags) == 0 {
		return nil, &core.ConfigError{Reason: fmt.Sprintf("no rules registered for stage %s", e.ruleCfg.Stage)}
	}
	return tags, nil
}
