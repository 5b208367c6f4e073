package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapclean/internal/cli/output"
	"github.com/leapstack-labs/leapclean/internal/registry"
	"github.com/leapstack-labs/leapclean/pkg/core"
	"github.com/spf13/cobra"
)

// NewRulesCommand creates the rules command.
func NewRulesCommand() *cobra.Command {
	var stage string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the registered rules",
		Long: `List every registered rule: the built-in rules plus those declared in the
configured rules file. The command fails when a rule depends on an unknown
rule or the dependencies form a cycle.`,
		Example: `  # All rules
  leapclean rules

  # Rules of one stage, as JSON
  leapclean rules --stage ehr -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRules(cmd, stage)
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "Only list rules declaring this stage")
	return cmd
}

func runRules(cmd *cobra.Command, stageName string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	reg := cmdCtx.Registry
	if err := reg.Validate(); err != nil {
		return err
	}

	defs := reg.All()
	if stageName != "" {
		stage, err := core.ParseStage(stageName)
		if err != nil {
			return err
		}
		filtered := defs[:0]
		for _, def := range defs {
			if def.AppliesTo(stage) {
				filtered = append(filtered, def)
			}
		}
		defs = filtered
	}

	out := output.RulesOutput{Rules: make([]output.RuleInfo, len(defs))}
	for i, def := range defs {
		out.Rules[i] = ruleInfo(def)
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	r.Header(1, fmt.Sprintf("Rules (%d)", len(out.Rules)))
	rows := make([][]string, len(out.Rules))
	for i, info := range out.Rules {
		rows[i] = []string{
			info.Tag,
			strings.Join(info.IssueIDs, ", "),
			strings.Join(info.Dependencies, ", "),
			strings.Join(info.Stages, ", "),
		}
	}
	r.Table([]string{"Rule", "Issues", "Depends on", "Stages"}, rows)
	return nil
}

func ruleInfo(def registry.Definition) output.RuleInfo {
	stages := make([]string, len(def.Stages))
	for i, s := range def.Stages {
		stages[i] = s.String()
	}
	return output.RuleInfo{
		Tag:          def.Tag,
		IssueIDs:     nonNil(def.IssueIDs),
		Description:  def.Description,
		Dependencies: nonNil(def.Dependencies),
		Stages:       stages,
	}
}
