package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leapclean/internal/cli/config"
	"github.com/leapstack-labs/leapclean/internal/cli/output"
	"github.com/leapstack-labs/leapclean/internal/engine"
	"github.com/leapstack-labs/leapclean/internal/registry"
	"github.com/leapstack-labs/leapclean/internal/rules/declarative"
	"github.com/leapstack-labs/leapclean/internal/state"
	"github.com/leapstack-labs/leapclean/pkg/adapter"
	"github.com/leapstack-labs/leapclean/pkg/core"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
	Registry *registry.Registry
}

// NewCommandContext builds the command context from the configuration the
// root command stored in cmd's context.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	logger := config.GetLogger(cmd.Context())

	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
		Registry: reg,
	}, nil
}

// buildRegistry copies the built-in rules into a fresh registry and adds the
// rules declared in the configured rules file.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*registry.Registry, error) {
	reg := registry.New()
	for _, def := range registry.Default().All() {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	if cfg.RulesFile == "" {
		return reg, nil
	}
	n, err := declarative.LoadAndRegister(reg, cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules from %s: %w", cfg.RulesFile, err)
	}
	logger.Debug("loaded declared rules", "path", cfg.RulesFile, "count", n)
	return reg, nil
}

// OpenClient connects to the configured store.
func (c *CommandContext) OpenClient(ctx context.Context) (adapter.Client, error) {
	client, err := adapter.NewClient(ctx, c.Cfg.Target.AdapterConfig(), c.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s store: %w", c.Cfg.Target.Type, err)
	}
	return client, nil
}

// OpenHistory opens the run-history database. It returns nil when history is
// disabled.
func (c *CommandContext) OpenHistory() (*state.SQLiteStore, error) {
	if c.Cfg.HistoryPath == "" {
		return nil, nil
	}
	if dir := filepath.Dir(c.Cfg.HistoryPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	store, err := state.OpenAndMigrate(c.Cfg.HistoryPath, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	return store, nil
}

// EngineOptions are the per-command engine settings.
type EngineOptions struct {
	Stage    string
	Params   []string
	Validate bool
	Strict   bool
	Recorder engine.Recorder
}

// NewEngine builds an engine from the configuration and opts.
func (c *CommandContext) NewEngine(opts EngineOptions) (*engine.Engine, error) {
	var stage core.DatasetStage
	if opts.Stage != "" {
		s, err := core.ParseStage(opts.Stage)
		if err != nil {
			return nil, err
		}
		stage = s
	}

	params, err := config.MergeParams(c.Cfg.Params, opts.Params)
	if err != nil {
		return nil, err
	}

	return engine.New(engine.Config{
		Registry:         c.Registry,
		ProjectID:        c.Cfg.ProjectID,
		DatasetID:        c.Cfg.DatasetID,
		SandboxDatasetID: c.Cfg.SandboxDatasetID,
		Stage:            stage,
		Params:           params,
		Validate:         opts.Validate,
		StrictValidation: opts.Strict,
		Recorder:         opts.Recorder,
		Logger:           c.Logger,
	})
}

// addEngineFlags registers the flags shared by commands that build a plan.
func addEngineFlags(cmd *cobra.Command, opts *EngineOptions) {
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "Dataset stage whose rules run when none are named")
	cmd.Flags().StringArrayVar(&opts.Params, "param", nil, "Rule parameter as key=value (repeatable)")

	_ = cmd.RegisterFlagCompletionFunc("stage", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		stages := core.AllStages()
		names := make([]string, len(stages))
		for i, s := range stages {
			names[i] = s.String()
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	})
}
