package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/leapclean/internal/cli/output"
	"github.com/leapstack-labs/leapclean/internal/state"
	"github.com/leapstack-labs/leapclean/pkg/core"
	"github.com/spf13/cobra"
)

// ErrHistoryDisabled is returned when no history database is configured.
var ErrHistoryDisabled = errors.New("run history is disabled (set history in leapclean.yaml or pass --history)")

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `List recent runs from the run-history database, newest first. With a run
ID, show every rule of that run and the statements it issued.`,
		Example: `  # Last 20 runs
  leapclean history

  # One run in detail
  leapclean history 3f2c9e1a-... -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, args, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string, limit int) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	store, err := cmdCtx.OpenHistory()
	if err != nil {
		return err
	}
	if store == nil {
		return ErrHistoryDisabled
	}
	defer func() { _ = store.Close() }()

	if len(args) == 1 {
		return showRun(cmd.Context(), cmdCtx.Renderer, store, args[0])
	}
	return listRuns(cmd.Context(), cmdCtx.Renderer, store, limit)
}

func historyRun(run *core.Run) output.HistoryRun {
	return output.HistoryRun{
		ID:          run.ID,
		DatasetID:   run.DatasetID,
		Mode:        string(run.Mode),
		Status:      string(run.Status),
		Rules:       nonNil(run.Rules),
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Error:       run.Error,
	}
}

func listRuns(ctx context.Context, r *output.Renderer, store state.HistoryReader, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", limit)
	}
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}

	out := output.HistoryOutput{Runs: make([]output.HistoryRun, len(runs))}
	for i, run := range runs {
		out.Runs[i] = historyRun(run)
	}
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	r.Header(1, fmt.Sprintf("Runs (%d)", len(out.Runs)))
	if len(out.Runs) == 0 {
		r.Println(r.Muted("No runs recorded."))
		return nil
	}
	rows := make([][]string, len(out.Runs))
	for i, run := range out.Runs {
		rows[i] = []string{
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			run.Mode,
			run.Status,
			run.DatasetID,
			strings.Join(run.Rules, ", "),
		}
	}
	r.Table([]string{"Run", "Started", "Mode", "Status", "Dataset", "Rules"}, rows)
	return nil
}

func showRun(ctx context.Context, r *output.Renderer, store state.HistoryReader, runID string) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	ruleRuns, err := store.ListRuleRuns(ctx, runID)
	if err != nil {
		return err
	}

	detail := output.HistoryDetail{Run: historyRun(run)}
	for _, rr := range ruleRuns {
		statements, err := store.ListStatements(ctx, rr.ID)
		if err != nil {
			return err
		}
		hr := output.HistoryRuleRun{
			Tag:        rr.Rule,
			Position:   rr.Position,
			State:      string(rr.State),
			Validation: string(rr.Validation),
			Error:      rr.Error,
			Statements: make([]output.StatementInfo, len(statements)),
		}
		for i, st := range statements {
			hr.Statements[i] = output.StatementInfo{
				Index:      st.Sequence,
				JobID:      st.JobID,
				Status:     string(st.Status),
				SandboxOf:  st.SandboxTable,
				DurationMS: st.DurationMS,
				SQL:        st.Statement,
				Error:      st.Error,
			}
		}
		detail.Rules = append(detail.Rules, hr)
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(detail)
	}

	r.Header(1, "Run "+run.ID)
	markdown := r.EffectiveMode() == output.ModeMarkdown
	fields := [][2]string{
		{"Dataset", run.DatasetID},
		{"Sandbox", run.SandboxDatasetID},
		{"Mode", string(run.Mode)},
		{"Status", string(run.Status)},
		{"Started", run.StartedAt.Local().Format(time.DateTime)},
	}
	if run.Error != "" {
		fields = append(fields, [2]string{"Error", run.Error})
	}
	for _, f := range fields {
		if markdown {
			r.Println(output.FormatKeyValue(f[0], f[1]))
		} else {
			r.Printf("%s %s\n", r.Styles().Bold.Render(f[0]+":"), f[1])
		}
	}
	r.Println("")

	for _, hr := range detail.Rules {
		title := fmt.Sprintf("%d. %s: %s", hr.Position+1, hr.Tag, hr.State)
		if hr.Validation != string(core.ValidationSkipped) {
			title += " (validation " + hr.Validation + ")"
		}
		r.Header(2, title)
		if hr.Error != "" {
			r.Println("Error: " + hr.Error)
		}
		if len(hr.Statements) == 0 {
			continue
		}
		rows := make([][]string, len(hr.Statements))
		for i, st := range hr.Statements {
			rows[i] = []string{
				fmt.Sprint(st.Index),
				st.Status,
				st.JobID,
				fmt.Sprintf("%dms", st.DurationMS),
				oneLine(st.SQL),
			}
		}
		r.Table([]string{"#", "Status", "Job", "Duration", "Statement"}, rows)
		r.Println("")
	}
	return nil
}

// oneLine collapses whitespace so statements fit a table cell.
func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}
