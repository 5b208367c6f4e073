package rules

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapclean/internal/registry"
	"github.com/leapstack-labs/leapclean/pkg/core"
)

// TagShiftDates shifts participant dates by a per-person number of days.
const TagShiftDates = "shift_dates"

var (
	shiftCreate = mustParse("shift_create", `
CREATE TABLE IF NOT EXISTS {{.Into}} AS
SELECT {{.Columns}} FROM {{.Table}} WHERE 1 = 0`)

	shiftSandbox = mustParse("shift_sandbox", `
SELECT * FROM {{.Table}}
WHERE person_id IN (SELECT person_id FROM {{.Mapping}})
  AND person_id NOT IN (SELECT l.person_id FROM {{.Ledger}} l)`)

	shiftUpdate = mustParse("shift_update", `
UPDATE {{.Table}}
SET {{.Column}} = {{.Column}} - (
  SELECT CAST(m.shift AS INTEGER) FROM {{.Mapping}} m
  WHERE m.person_id = {{.Alias}}.person_id
)
WHERE person_id IN (SELECT person_id FROM {{.Mapping}})
  AND person_id NOT IN (SELECT l.person_id FROM {{.Ledger}} l)`)

	shiftRecord = mustParse("shift_record", `
SELECT DISTINCT person_id FROM {{.Table}}
WHERE person_id IN (SELECT person_id FROM {{.Mapping}})
  AND person_id NOT IN (SELECT l.person_id FROM {{.Ledger}} l)`)

	shiftMappingCheck = mustParse("shift_mapping_check", `
SELECT COUNT(*) FROM {{.Mapping}}
WHERE shift IS NULL`)
)

type shiftParams struct {
	// MappingTable holds one row per person: person_id, shift (days).
	MappingTable string `mapstructure:"mapping_table"`
	// Tables lists table:date_column pairs to shift.
	Tables []string `mapstructure:"shift_tables"`
}

type shiftTarget struct {
	table  string
	column string
}

// ShiftDates subtracts each person's shift from the configured date columns.
//
// Every shifted table has a ledger in the sandbox dataset listing the persons
// whose rows were already shifted; they are skipped on later runs. The audit
// copy is appended to for the same reason, so it keeps the original dates.
type ShiftDates struct {
	core.BaseRule
	mapping string
	tables  []string
	targets []shiftTarget
}

// NewShiftDates builds the rule from run configuration. mapping_table is
// required.
func NewShiftDates(cfg core.RuleConfig) (core.Rule, error) {
	params := shiftParams{Tables: []string{"observation:observation_date", "visit_occurrence:visit_start_date"}}
	if err := decodeParams(TagShiftDates, cfg.Params, &params); err != nil {
		return nil, err
	}
	if err := requireParam(TagShiftDates, "mapping_table", params.MappingTable); err != nil {
		return nil, err
	}
	if err := checkIdentifiers(TagShiftDates, "mapping_table", params.MappingTable); err != nil {
		return nil, err
	}

	targets, err := parseShiftTargets(params.Tables)
	if err != nil {
		return nil, &core.ConfigError{Rule: TagShiftDates, Reason: "invalid shift_tables", Err: err}
	}

	var tables []string
	for _, t := range targets {
		if !slices.Contains(tables, t.table) {
			tables = append(tables, t.table)
		}
	}

	base, err := core.NewBaseRule(core.Metadata{
		Tag:              TagShiftDates,
		IssueIDs:         []string{"DC1000"},
		Description:      "Shifts dates of every participant by the number of days in the mapping table. Persons already shifted are skipped.",
		AffectedDatasets: []core.DatasetStage{core.StageRegisteredTierDeid, core.StageControlledTierDeid},
		AffectedTables:   tables,
		Dependencies:     []string{TagDropInvalidPersons},
	}, cfg)
	if err != nil {
		return nil, err
	}
	return &ShiftDates{BaseRule: base, mapping: params.MappingTable, tables: tables, targets: targets}, nil
}

func parseShiftTargets(pairs []string) ([]shiftTarget, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no table:column pairs given")
	}
	targets := make([]shiftTarget, 0, len(pairs))
	for _, p := range pairs {
		table, column, ok := strings.Cut(p, ":")
		if !ok || !identifierOK(table) || !identifierOK(column) || strings.Contains(table, ".") {
			return nil, fmt.Errorf("%q is not a table:column pair", p)
		}
		targets = append(targets, shiftTarget{table: table, column: column})
	}
	return targets, nil
}

type shiftData struct {
	Table   string
	Alias   string
	Column  string
	Mapping string
	Ledger  string
	Into    string
	Columns string
}

// ledgerName is the unqualified ledger table of a shifted table.
func (r *ShiftDates) ledgerName(table string) string {
	return r.SandboxTableFor("shift_log_" + table)
}

func (r *ShiftDates) ledger(table string) string {
	meta := r.Metadata()
	return core.Qualify(meta.ProjectID, meta.SandboxDatasetID, r.ledgerName(table))
}

// SandboxTableNames lists the audit copy and the ledger of every table.
func (r *ShiftDates) SandboxTableNames() []string {
	names := r.BaseRule.SandboxTableNames()
	for _, t := range r.tables {
		names = append(names, r.ledgerName(t))
	}
	return names
}

// SetupRule checks that the mapping table is readable and complete, then
// creates the empty ledger and audit copy of each table if they are missing.
func (r *ShiftDates) SetupRule(ctx context.Context, client core.StoreClient) error {
	n, err := queryCount(ctx, client, render(shiftMappingCheck, shiftData{Mapping: r.mapping}))
	if err != nil {
		return fmt.Errorf("read mapping table %s: %w", r.mapping, err)
	}
	if n > 0 {
		return fmt.Errorf("mapping table %s has %d rows without a shift", r.mapping, n)
	}

	for _, t := range r.tables {
		for _, d := range []shiftData{
			{Into: r.ledger(t), Columns: "person_id", Table: r.Table(t)},
			{Into: r.SandboxTable(t), Columns: "*", Table: r.Table(t)},
		} {
			if err := execute(ctx, client, render(shiftCreate, d)); err != nil {
				return fmt.Errorf("create %s: %w", d.Into, err)
			}
		}
	}
	return nil
}

// QuerySpecs appends the rows about to change to the audit copy, shifts each
// configured column, then records the shifted persons in the ledger.
func (r *ShiftDates) QuerySpecs() []core.QuerySpec {
	meta := r.Metadata()
	var specs []core.QuerySpec
	for _, table := range r.tables {
		d := shiftData{Table: r.Table(table), Alias: table, Mapping: r.mapping, Ledger: r.ledger(table)}

		audit := r.SandboxSpec(table, render(shiftSandbox, d))
		audit.Disposition = core.DispositionAppend
		specs = append(specs, audit)

		for _, t := range r.targets {
			if t.table != table {
				continue
			}
			d.Column = t.column
			specs = append(specs, core.QuerySpec{
				Query:   render(shiftUpdate, d),
				Mutates: table,
			})
		}

		specs = append(specs, core.QuerySpec{
			Query:              render(shiftRecord, d),
			DestinationTable:   r.ledgerName(table),
			DestinationDataset: meta.SandboxDatasetID,
			Disposition:        core.DispositionAppend,
		})
	}
	return specs
}

func init() {
	registry.MustRegister(ShiftDatesDefinition())
}

// ShiftDatesDefinition returns the registry definition of the rule.
func ShiftDatesDefinition() registry.Definition {
	return registry.Definition{
		Tag:          TagShiftDates,
		IssueIDs:     []string{"DC1000"},
		Description:  "Shift participant dates",
		Dependencies: []string{TagDropInvalidPersons},
		Stages:       []core.DatasetStage{core.StageRegisteredTierDeid, core.StageControlledTierDeid},
		New:          NewShiftDates,
	}
}
