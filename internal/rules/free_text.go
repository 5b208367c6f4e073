package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapclean/internal/registry"
	"github.com/leapstack-labs/leapclean/pkg/core"
)

// TagNullFreeText redacts free-text columns.
const TagNullFreeText = "null_free_text_values"

var (
	freeTextSandbox = mustParse("free_text_sandbox", `
SELECT * FROM {{.Table}}
WHERE {{.AnySet}}`)

	freeTextUpdate = mustParse("free_text_update", `
UPDATE {{.Table}}
SET {{join .Assignments ", "}}
WHERE {{.AnySet}}`)

	freeTextCount = mustParse("free_text_count", `
SELECT COUNT(*) FROM {{.Table}}
WHERE {{.AnySet}}`)
)

type freeTextParams struct {
	Table   string   `mapstructure:"free_text_table"`
	Columns []string `mapstructure:"free_text_columns"`
}

// NullFreeText sets the configured free-text columns of one table to NULL.
type NullFreeText struct {
	core.BaseRule
	table   string
	columns []string
}

// NewNullFreeText builds the rule from run configuration.
func NewNullFreeText(cfg core.RuleConfig) (core.Rule, error) {
	params := freeTextParams{
		Table:   "observation",
		Columns: []string{"value_as_string", "observation_source_value"},
	}
	if err := decodeParams(TagNullFreeText, cfg.Params, &params); err != nil {
		return nil, err
	}
	if len(params.Columns) == 0 {
		return nil, &core.ConfigError{Rule: TagNullFreeText, Reason: "free_text_columns must name at least one column"}
	}
	if err := checkIdentifiers(TagNullFreeText, "free_text_table", params.Table); err != nil {
		return nil, err
	}
	if err := checkIdentifiers(TagNullFreeText, "free_text_columns", params.Columns...); err != nil {
		return nil, err
	}

	base, err := core.NewBaseRule(core.Metadata{
		Tag:         TagNullFreeText,
		IssueIDs:    []string{"DC500"},
		Description: "Sets free-text values to NULL so no participant-entered text is released.",
		AffectedDatasets: []core.DatasetStage{
			core.StageRegisteredTierDeid, core.StageControlledTierDeid,
		},
		AffectedTables: []string{params.Table},
	}, cfg)
	if err != nil {
		return nil, err
	}
	return &NullFreeText{BaseRule: base, table: params.Table, columns: params.Columns}, nil
}

type freeTextData struct {
	Table       string
	Assignments []string
	AnySet      string
}

func (r *NullFreeText) data() freeTextData {
	d := freeTextData{Table: r.Table(r.table)}
	conds := make([]string, 0, len(r.columns))
	for _, c := range r.columns {
		d.Assignments = append(d.Assignments, c+" = NULL")
		conds = append(conds, c+" IS NOT NULL")
	}
	d.AnySet = strings.Join(conds, " OR ")
	return d
}

// QuerySpecs copies the rows that carry free text, then blanks the columns.
func (r *NullFreeText) QuerySpecs() []core.QuerySpec {
	d := r.data()
	return []core.QuerySpec{
		r.SandboxSpec(r.table, render(freeTextSandbox, d)),
		{
			Query:   render(freeTextUpdate, d),
			Mutates: r.table,
		},
	}
}

// SetupValidation has nothing to capture; the post-condition is absolute.
func (r *NullFreeText) SetupValidation(context.Context, core.StoreClient) error {
	return nil
}

// ValidateRule checks that no free text remains.
func (r *NullFreeText) ValidateRule(ctx context.Context, client core.StoreClient) error {
	n, err := queryCount(ctx, client, render(freeTextCount, r.data()))
	if err != nil {
		return fmt.Errorf("count free text rows: %w", err)
	}
	if n != 0 {
		return fmt.Errorf("%d rows of %s still carry free text", n, r.Table(r.table))
	}
	return nil
}

func init() {
	registry.MustRegister(NullFreeTextDefinition())
}

// NullFreeTextDefinition returns the registry definition of the rule.
func NullFreeTextDefinition() registry.Definition {
	return registry.Definition{
		Tag:         TagNullFreeText,
		IssueIDs:    []string{"DC500"},
		Description: "Null free-text values",
		Stages:      []core.DatasetStage{core.StageRegisteredTierDeid, core.StageControlledTierDeid},
		New:         NewNullFreeText,
	}
}
