package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapclean/internal/cli/output"
	"github.com/leapstack-labs/leapclean/internal/resolver"
	"github.com/spf13/cobra"
)

// NewPlanCommand creates the plan command.
func NewPlanCommand() *cobra.Command {
	opts := &EngineOptions{}

	cmd := &cobra.Command{
		Use:   "plan [rule...]",
		Short: "Show the execution order of rules",
		Long: `Resolve the named rules (or the rules of --stage) and their dependencies,
build every rule, and print the order they would run in together with the
sandbox tables each claims. Nothing is sent to the store.`,
		Example: `  # Order of the combined stage
  leapclean plan --stage combined

  # Order for one rule, as JSON
  leapclean plan shift_dates --param mapping_table=ids.person_map -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, args, opts)
		},
	}

	addEngineFlags(cmd, opts)
	return cmd
}

func runPlan(cmd *cobra.Command, requested []string, opts *EngineOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}

	eng, err := cmdCtx.NewEngine(*opts)
	if err != nil {
		return err
	}
	plan, err := eng.Plan(requested)
	if err != nil {
		return err
	}

	graph, err := resolver.Graph(cmdCtx.Registry, plan.Tags())
	if err != nil {
		return err
	}
	levels, err := graph.GetExecutionLevels()
	if err != nil {
		return err
	}

	out := output.PlanOutput{Levels: levels}
	for i, p := range plan.Rules {
		out.Rules = append(out.Rules, output.PlanRule{
			Position:      i + 1,
			Tag:           p.Tag(),
			Requested:     p.Requested,
			Dependencies:  nonNil(p.Definition.Dependencies),
			SandboxTables: nonNil(p.Rule.SandboxTableNames()),
		})
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	r.Header(1, fmt.Sprintf("Plan (%d rules)", len(out.Rules)))
	rows := make([][]string, len(out.Rules))
	for i, pr := range out.Rules {
		tag := pr.Tag
		if !pr.Requested {
			tag += " (dependency)"
		}
		rows[i] = []string{
			strconv.Itoa(pr.Position),
			tag,
			strings.Join(pr.Dependencies, ", "),
			strings.Join(pr.SandboxTables, ", "),
		}
	}
	r.Table([]string{"#", "Rule", "Depends on", "Sandbox tables"}, rows)
	r.Println("")

	r.Header(2, "Levels")
	for i, level := range levels {
		r.Printf("%d. %s\n", i+1, strings.Join(level, ", "))
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
