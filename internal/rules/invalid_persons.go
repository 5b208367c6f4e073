package rules

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/leapclean/internal/registry"
	"github.com/leapstack-labs/leapclean/pkg/core"
)

// TagDropInvalidPersons removes persons without a usable gender or year of
// birth, together with their rows in the person-keyed tables.
const TagDropInvalidPersons = "drop_rows_for_invalid_persons"

var (
	invalidPersonsSandbox = mustParse("invalid_persons_sandbox", `
SELECT * FROM {{.Table}}
WHERE person_id IN (
  SELECT person_id FROM {{.Person}}
  WHERE {{.Predicate}}
)`)

	invalidPersonsDelete = mustParse("invalid_persons_delete", `
DELETE FROM {{.Table}}
WHERE person_id IN (
  SELECT person_id FROM {{.Person}}
  WHERE {{.Predicate}}
)`)

	invalidPersonsCount = mustParse("invalid_persons_count", `
SELECT COUNT(*) FROM {{.Person}}
WHERE {{.Predicate}}`)
)

const invalidPersonPredicate = "COALESCE(gender_concept_id, 0) = 0 OR year_of_birth IS NULL"

type invalidPersonsParams struct {
	// Tables keyed by person_id whose rows are dropped with the person.
	Tables []string `mapstructure:"invalid_persons_tables"`
}

// DropInvalidPersons deletes invalid persons from person and from every
// configured person-keyed table. Child tables go first so the person rows
// still identify what to delete.
type DropInvalidPersons struct {
	core.BaseRule
	tables []string

	before int64
}

// NewDropInvalidPersons builds the rule from run configuration.
func NewDropInvalidPersons(cfg core.RuleConfig) (core.Rule, error) {
	params := invalidPersonsParams{Tables: []string{"observation", "visit_occurrence", "condition_occurrence"}}
	if err := decodeParams(TagDropInvalidPersons, cfg.Params, &params); err != nil {
		return nil, err
	}
	if err := checkIdentifiers(TagDropInvalidPersons, "invalid_persons_tables", params.Tables...); err != nil {
		return nil, err
	}

	tables := make([]string, 0, len(params.Tables)+1)
	for _, t := range params.Tables {
		if t != "person" {
			tables = append(tables, t)
		}
	}

	base, err := core.NewBaseRule(core.Metadata{
		Tag:         TagDropInvalidPersons,
		IssueIDs:    []string{"DC391"},
		Description: "Drops persons with no gender or year of birth and their rows in person-keyed tables.",
		AffectedDatasets: []core.DatasetStage{
			core.StageEHR, core.StageUnioned, core.StageCombined,
		},
		AffectedTables: append(append([]string{}, tables...), "person"),
	}, cfg)
	if err != nil {
		return nil, err
	}
	return &DropInvalidPersons{BaseRule: base, tables: tables}, nil
}

type invalidPersonsData struct {
	Table     string
	Person    string
	Predicate string
}

func (r *DropInvalidPersons) data(table string) invalidPersonsData {
	return invalidPersonsData{
		Table:     r.Table(table),
		Person:    r.Table("person"),
		Predicate: invalidPersonPredicate,
	}
}

// QuerySpecs sandboxes every affected table first, then deletes from the
// child tables and finally from person.
func (r *DropInvalidPersons) QuerySpecs() []core.QuerySpec {
	all := append(append([]string{}, r.tables...), "person")

	specs := make([]core.QuerySpec, 0, 2*len(all))
	for _, t := range all {
		specs = append(specs, r.SandboxSpec(t, render(invalidPersonsSandbox, r.data(t))))
	}
	for _, t := range all {
		specs = append(specs, core.QuerySpec{
			Query:   render(invalidPersonsDelete, r.data(t)),
			Mutates: t,
		})
	}
	return specs
}

// SetupValidation counts the persons the rule is going to drop.
func (r *DropInvalidPersons) SetupValidation(ctx context.Context, client core.StoreClient) error {
	n, err := queryCount(ctx, client, render(invalidPersonsCount, r.data("person")))
	if err != nil {
		return fmt.Errorf("count invalid persons: %w", err)
	}
	r.before = n
	return nil
}

// ValidateRule checks that no invalid person remains.
func (r *DropInvalidPersons) ValidateRule(ctx context.Context, client core.StoreClient) error {
	n, err := queryCount(ctx, client, render(invalidPersonsCount, r.data("person")))
	if err != nil {
		return fmt.Errorf("count invalid persons: %w", err)
	}
	if n != 0 {
		return fmt.Errorf("%d invalid persons remain in %s (%d before the rule ran)", n, r.Table("person"), r.before)
	}
	return nil
}

func init() {
	registry.MustRegister(DropInvalidPersonsDefinition())
}

// DropInvalidPersonsDefinition returns the registry definition of the rule.
func DropInvalidPersonsDefinition() registry.Definition {
	return registry.Definition{
		Tag:         TagDropInvalidPersons,
		IssueIDs:    []string{"DC391"},
		Description: "Drop persons with no gender or year of birth",
		Stages:      []core.DatasetStage{core.StageEHR, core.StageUnioned, core.StageCombined},
		New:         NewDropInvalidPersons,
	}
}
