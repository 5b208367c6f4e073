// Package cli provides the command-line interface for leapclean.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/leapstack-labs/leapclean/internal/cli/commands"
	"github.com/leapstack-labs/leapclean/internal/cli/config"
	"github.com/leapstack-labs/leapclean/internal/logging"
	"github.com/spf13/cobra"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// session holds per-invocation resources released after the command ends.
type session struct {
	closeLog func() error
}

func (s *session) close() {
	if s.closeLog != nil {
		_ = s.closeLog()
		s.closeLog = nil
	}
}

// skipsConfig reports whether cmd runs without loading configuration.
func skipsConfig(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", "completion", "__complete", "version":
		return true
	}
	return false
}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *session) {
	s := &session{}

	rootCmd := &cobra.Command{
		Use:   "leapclean",
		Short: "leapclean - batch SQL cleaning rules",
		Long: `leapclean applies cleaning rules to a dataset of OMOP-style tables.

Each rule declares the rules it depends on and the SQL statements it issues.
leapclean resolves the dependencies, copies every row a rule would change or
remove into a sandbox dataset, and runs the statements in order. Use
--list-queries to see the statements without running them.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipsConfig(cmd) {
				return nil
			}

			flags := cmd.Root().PersistentFlags()
			cfgFile, _ := flags.GetString("config")
			target, _ := flags.GetString("target")

			cfg, err := config.Load(cfgFile, target, flags)
			if err != nil {
				return err
			}

			logger, closeLog, err := logging.New(logging.Options{
				Dir:     cfg.LogDir,
				Console: cfg.ConsoleLog,
				Level:   cfg.LogLevel,
				Stderr:  cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			s.closeLog = closeLog

			logger.Debug("configuration loaded",
				"config_file", cfg.ConfigFile,
				"target", target,
				"target_type", cfg.Target.Type,
				"dataset_id", cfg.DatasetID)

			ctx := config.WithConfig(cmd.Context(), cfg)
			ctx = config.WithLogger(ctx, logger)
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			s.close()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	config.RegisterFlags(rootCmd.PersistentFlags())

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"auto", "text", "markdown", "json"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("target-type", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"duckdb", "postgres"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewPlanCommand())
	rootCmd.AddCommand(commands.NewRulesCommand())
	rootCmd.AddCommand(commands.NewHistoryCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd, s
}

// Execute runs the root command.
func Execute() error {
	return ExecuteContext(context.Background(), os.Args[1:])
}

// ExecuteContext runs the root command with args.
func ExecuteContext(ctx context.Context, args []string) error {
	rootCmd, s := newRootCmd()
	defer s.close()

	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for leapclean.

To load completions:

Bash:
  $ source <(leapclean completion bash)

Zsh:
  $ leapclean completion zsh > "${fpath[1]}/_leapclean"

Fish:
  $ leapclean completion fish | source

PowerShell:
  PS> leapclean completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
