package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/leapstack-labs/leapclean/internal/cli/output"
	"github.com/leapstack-labs/leapclean/internal/engine"
	"github.com/leapstack-labs/leapclean/pkg/core"
	"github.com/spf13/cobra"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	EngineOptions
	ListQueries bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run [rule...]",
		Short: "Run cleaning rules against the dataset",
		Long: `Run the named rules, plus every rule they depend on, in dependency order.

With no rule names, every rule registered for --stage runs. Rows a rule would
change or remove are copied into the sandbox dataset before the rule modifies
them. Use --list-queries to print the statements instead of running them.`,
		Example: `  # Run every rule of the combined stage
  leapclean run --stage combined

  # Run one rule and its dependencies
  leapclean run shift_dates --param mapping_table=ids.person_map

  # Show the statements a run would issue
  leapclean run --stage ehr --list-queries

  # Run validation hooks and report every failure at the end
  leapclean run --stage ehr --validate --strict=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args, opts)
		},
	}

	addEngineFlags(cmd, &opts.EngineOptions)
	cmd.Flags().BoolVar(&opts.ListQueries, "list-queries", false, "Print the statements without running them")
	cmd.Flags().BoolVar(&opts.Validate, "validate", false, "Run the rules' validation hooks")
	cmd.Flags().BoolVar(&opts.Strict, "strict", true, "Abort on the first validation failure")

	return cmd
}

func runRun(cmd *cobra.Command, requested []string, opts *RunOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	history, err := cmdCtx.OpenHistory()
	if err != nil {
		return err
	}
	if history != nil {
		defer func() { _ = history.Close() }()
		opts.Recorder = history
	}

	eng, err := cmdCtx.NewEngine(opts.EngineOptions)
	if err != nil {
		return err
	}

	client, err := cmdCtx.OpenClient(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if opts.ListQueries {
		return listQueries(ctx, cmdCtx, eng, client, requested)
	}

	result, runErr := eng.Run(ctx, client, requested)
	if err := renderRun(cmdCtx.Renderer, result, runErr); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if n := len(result.ValidationFailures); n > 0 {
		return fmt.Errorf("%d validation failure(s)", n)
	}
	return nil
}

func listQueries(ctx context.Context, cmdCtx *CommandContext, eng *engine.Engine, client core.StoreClient, requested []string) error {
	statements, err := eng.ListQueries(ctx, client, requested)
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		out := output.QueriesOutput{Queries: make([]output.QueryInfo, len(statements))}
		for i, st := range statements {
			out.Queries[i] = output.QueryInfo{
				Rule:      st.Rule,
				Phase:     string(st.Phase),
				Index:     st.Index,
				SandboxOf: st.SandboxOf,
				SQL:       st.Text,
			}
		}
		return r.JSON(out)
	}

	r.Header(1, fmt.Sprintf("Queries (%d)", len(statements)))
	markdown := r.EffectiveMode() == output.ModeMarkdown
	for _, st := range statements {
		title := fmt.Sprintf("%s %s #%d", st.Rule, st.Phase, st.Index)
		if st.SandboxOf != "" {
			title += " (sandbox of " + st.SandboxOf + ")"
		}
		if markdown {
			r.Println(output.FormatHeader(2, title))
			r.Println("")
			r.Println(output.FormatCodeBlock("sql", st.Text))
			r.Println("")
			continue
		}
		r.Println(r.Styles().Rule.Render(title))
		r.Println(r.Styles().SQL.Render(st.Text))
		r.Println("")
	}
	return nil
}

// runOutput converts a run result into its JSON form.
func runOutput(result *engine.RunResult, runErr error) output.RunOutput {
	out := output.RunOutput{
		RunID:  result.RunID,
		Status: string(result.Status),
		Rules:  make([]output.RuleRunInfo, len(result.Rules)),
	}
	if runErr != nil {
		out.Error = runErr.Error()
	}
	for _, vf := range result.ValidationFailures {
		out.ValidationFailures = append(out.ValidationFailures, vf.Error())
	}
	for i, rr := range result.Rules {
		info := output.RuleRunInfo{
			Tag:        rr.Tag,
			Requested:  rr.Requested,
			State:      string(rr.State),
			Validation: string(rr.Validation),
			Error:      errText(rr.Err),
			Statements: make([]output.StatementInfo, len(rr.Statements)),
		}
		for j, st := range rr.Statements {
			info.Statements[j] = output.StatementInfo{
				Index:      st.Index,
				JobID:      st.JobID,
				Status:     string(st.Status),
				SandboxOf:  st.SandboxOf,
				DurationMS: st.Duration.Milliseconds(),
				SQL:        st.Text,
				Error:      errText(st.Err),
			}
		}
		out.Rules[i] = info
	}
	return out
}

func renderRun(r *output.Renderer, result *engine.RunResult, runErr error) error {
	if result == nil {
		return nil
	}
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(runOutput(result, runErr))
	}

	r.Header(1, "Run "+result.RunID)
	rows := make([][]string, 0, len(result.Rules))
	for _, rr := range result.Rules {
		rows = append(rows, []string{
			rr.Tag,
			string(rr.State),
			string(rr.Validation),
			strconv.Itoa(len(rr.Statements)),
			errText(rr.Err),
		})
	}
	if len(rows) > 0 {
		r.Table([]string{"Rule", "State", "Validation", "Statements", "Error"}, rows)
		r.Println("")
	}

	for _, vf := range result.ValidationFailures {
		r.Warning(vf.Error())
	}
	switch {
	case runErr != nil:
		r.Error(fmt.Sprintf("run %s", result.Status))
	case len(result.ValidationFailures) > 0:
		r.Warning(fmt.Sprintf("run completed with %d validation failure(s)", len(result.ValidationFailures)))
	default:
		r.Success(fmt.Sprintf("run completed: %d rule(s)", len(result.Rules)))
	}
	return nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
