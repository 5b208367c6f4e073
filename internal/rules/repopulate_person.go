package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapclean/internal/registry"
	"github.com/leapstack-labs/leapclean/pkg/core"
)

// TagRepopulatePerson rebuilds person from survey answers in observation.
const TagRepopulatePerson = "repopulate_person_from_observation"

// defaultPersonColumns is used when the store cannot list the columns of person.
var defaultPersonColumns = []string{
	"person_id",
	"gender_concept_id",
	"year_of_birth",
	"birth_datetime",
	"race_concept_id",
	"ethnicity_concept_id",
	"gender_source_value",
}

var (
	repopulateSelect = mustParse("repopulate_select", `
SELECT
  {{join .SelectList ",\n  "}}
FROM {{.Person}} p
LEFT JOIN (
  SELECT person_id, MAX(value_source_value) AS answer
  FROM {{.Observation}}
  WHERE observation_source_value = '{{.Concept}}'
  GROUP BY person_id
) a ON a.person_id = p.person_id`)

	repopulateMismatches = mustParse("repopulate_mismatches", `
SELECT COUNT(*)
FROM {{.Person}} p
JOIN (
  SELECT person_id, MAX(value_source_value) AS answer
  FROM {{.Observation}}
  WHERE observation_source_value = '{{.Concept}}'
  GROUP BY person_id
) a ON a.person_id = p.person_id
WHERE a.answer IS NOT NULL AND p.{{.Target}} IS DISTINCT FROM a.answer`)

	personCount = mustParse("person_count", `SELECT COUNT(*) FROM {{.Person}}`)
)

type repopulateParams struct {
	Concept string `mapstructure:"repopulate_source_concept"`
	Target  string `mapstructure:"repopulate_target_column"`
}

// RepopulatePerson replaces person with a copy whose target column is taken
// from the participant's latest answer to the source survey question.
type RepopulatePerson struct {
	core.BaseRule
	concept string
	target  string
	columns []string

	personsBefore int64
}

// NewRepopulatePerson builds the rule from run configuration.
func NewRepopulatePerson(cfg core.RuleConfig) (core.Rule, error) {
	params := repopulateParams{Concept: "Gender_GenderIdentity", Target: "gender_source_value"}
	if err := decodeParams(TagRepopulatePerson, cfg.Params, &params); err != nil {
		return nil, err
	}
	if err := checkIdentifiers(TagRepopulatePerson, "repopulate_target_column", params.Target); err != nil {
		return nil, err
	}
	if params.Concept == "" {
		return nil, &core.ConfigError{Rule: TagRepopulatePerson, Reason: "repopulate_source_concept is empty"}
	}

	base, err := core.NewBaseRule(core.Metadata{
		Tag:              TagRepopulatePerson,
		IssueIDs:         []string{"DC1200"},
		Description:      "Repopulates person from the participant's survey answers.",
		AffectedDatasets: []core.DatasetStage{core.StageRDR},
		AffectedTables:   []string{"person"},
	}, cfg)
	if err != nil {
		return nil, err
	}
	return &RepopulatePerson{
		BaseRule: base,
		concept:  params.Concept,
		target:   params.Target,
		columns:  defaultPersonColumns,
	}, nil
}

// SetupRule discovers the columns of person so the rebuilt table keeps them
// all in order.
func (r *RepopulatePerson) SetupRule(ctx context.Context, client core.StoreClient) error {
	cols, err := tableColumns(ctx, client, r.Metadata().DatasetID, "person")
	if err != nil {
		return fmt.Errorf("list columns of %s: %w", r.Table("person"), err)
	}
	if cols == nil {
		return nil
	}
	if !containsFold(cols, r.target) {
		return fmt.Errorf("%s has no column %s", r.Table("person"), r.target)
	}
	r.columns = cols
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

type repopulateData struct {
	Person      string
	Observation string
	Concept     string
	Target      string
	SelectList  []string
}

func (r *RepopulatePerson) data() repopulateData {
	d := repopulateData{
		Person:      r.Table("person"),
		Observation: r.Table("observation"),
		Concept:     strings.ReplaceAll(r.concept, "'", "''"),
		Target:      r.target,
	}
	for _, c := range r.columns {
		if strings.EqualFold(c, r.target) {
			d.SelectList = append(d.SelectList, fmt.Sprintf("COALESCE(a.answer, p.%s) AS %s", c, c))
			continue
		}
		d.SelectList = append(d.SelectList, "p."+c)
	}
	return d
}

// QuerySpecs copies person to the sandbox and replaces it with the
// repopulated rows.
func (r *RepopulatePerson) QuerySpecs() []core.QuerySpec {
	meta := r.Metadata()
	return []core.QuerySpec{
		r.SandboxSpec("person", "SELECT * FROM "+r.Table("person")),
		{
			Query:              render(repopulateSelect, r.data()),
			DestinationTable:   "person",
			DestinationDataset: meta.DatasetID,
			Disposition:        core.DispositionTruncate,
		},
	}
}

// SetupValidation records the number of persons.
func (r *RepopulatePerson) SetupValidation(ctx context.Context, client core.StoreClient) error {
	n, err := queryCount(ctx, client, render(personCount, r.data()))
	if err != nil {
		return fmt.Errorf("count persons: %w", err)
	}
	r.personsBefore = n
	return nil
}

// ValidateRule checks that no person was lost and every answered person
// carries the answer.
func (r *RepopulatePerson) ValidateRule(ctx context.Context, client core.StoreClient) error {
	d := r.data()
	n, err := queryCount(ctx, client, render(personCount, d))
	if err != nil {
		return fmt.Errorf("count persons: %w", err)
	}
	if n != r.personsBefore {
		return fmt.Errorf("%s has %d rows, expected %d", d.Person, n, r.personsBefore)
	}

	mismatches, err := queryCount(ctx, client, render(repopulateMismatches, d))
	if err != nil {
		return fmt.Errorf("count mismatches: %w", err)
	}
	if mismatches != 0 {
		return fmt.Errorf("%d persons do not carry their %s answer in %s", mismatches, r.concept, r.target)
	}
	return nil
}

func init() {
	registry.MustRegister(RepopulatePersonDefinition())
}

// RepopulatePersonDefinition returns the registry definition of the rule.
func RepopulatePersonDefinition() registry.Definition {
	return registry.Definition{
		Tag:         TagRepopulatePerson,
		IssueIDs:    []string{"DC1200"},
		Description: "Repopulate person from observation answers",
		Stages:      []core.DatasetStage{core.StageRDR},
		New:         NewRepopulatePerson,
	}
}
