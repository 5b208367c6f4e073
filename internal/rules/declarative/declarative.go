// Package declarative loads cleaning rules declared in a YAML rules file.
//
// A rules file looks like:
//
//	rules:
//	  - tag: null_visit_notes
//	    issue_ids: [DC2001]
//	    description: Blank free-text visit notes
//	    stages: [ehr]
//	    depends_on: [drop_rows_for_invalid_persons]
//	    tables: [visit_occurrence]
//	    lookups:
//	      - table: note_concepts
//	        file: lookups/note_concepts.csv
//	    statements:
//	      - query: |
//	          UPDATE {{table "visit_occurrence"}} SET visit_source_value = NULL
//	          WHERE visit_concept_id IN (SELECT concept_id FROM {{lookup "note_concepts"}})
//	        mutates: visit_occurrence
//	    validate: |
//	      SELECT COUNT(*) FROM {{table "visit_occurrence"}} WHERE visit_source_value IS NOT NULL
//
// Statement and validation text are Go templates. Lookup CSV files are
// uploaded into the sandbox dataset during rule setup.
package declarative

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapclean/internal/registry"
	"github.com/leapstack-labs/leapclean/pkg/core"
)

// File is the top-level structure of a rules file.
type File struct {
	Rules []RuleSpec `yaml:"rules"`

	// dir is the directory of the file; lookup paths are relative to it.
	dir string
}

// RuleSpec declares one rule.
type RuleSpec struct {
	Tag         string          `yaml:"tag"`
	IssueIDs    []string        `yaml:"issue_ids"`
	Description string          `yaml:"description"`
	Stages      []string        `yaml:"stages"`
	DependsOn   []string        `yaml:"depends_on"`
	Tables      []string        `yaml:"tables"`
	Lookups     []LookupSpec    `yaml:"lookups"`
	Statements  []StatementSpec `yaml:"statements"`
	// Validate is a COUNT query that must return zero after the rule ran.
	Validate string `yaml:"validate"`
}

// LookupSpec is a CSV file uploaded as a table before the rule runs.
type LookupSpec struct {
	Table string `yaml:"table"`
	File  string `yaml:"file"`
}

// StatementSpec declares one statement of a rule.
type StatementSpec struct {
	Query              string `yaml:"query"`
	DestinationTable   string `yaml:"destination_table"`
	DestinationDataset string `yaml:"destination_dataset"`
	Disposition        string `yaml:"disposition"`
	Batch              bool   `yaml:"batch"`
	SandboxOf          string `yaml:"sandbox_of"`
	Mutates            string `yaml:"mutates"`
}

// Load reads and checks a rules file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.dir = filepath.Dir(path)
	return f, nil
}

// Parse decodes a rules file from memory. Unknown keys are errors.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	f := &File{}
	if err := dec.Decode(f); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	if err := f.check(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) check() error {
	var errs []error
	seen := make(map[string]bool)
	for i, r := range f.Rules {
		if err := r.check(); err != nil {
			errs = append(errs, fmt.Errorf("rule %d (%s): %w", i+1, r.Tag, err))
			continue
		}
		if seen[r.Tag] {
			errs = append(errs, fmt.Errorf("rule %d: duplicate tag %s", i+1, r.Tag))
		}
		seen[r.Tag] = true
	}
	return errors.Join(errs...)
}

func (r RuleSpec) check() error {
	if r.Tag == "" {
		return errors.New("tag is required")
	}
	if len(r.IssueIDs) == 0 {
		return errors.New("issue_ids must not be empty")
	}
	if len(r.Statements) == 0 {
		return errors.New("at least one statement is required")
	}
	for _, s := range r.Stages {
		if _, err := core.ParseStage(s); err != nil {
			return err
		}
	}
	for i, s := range r.Statements {
		if _, err := core.ParseDisposition(s.Disposition); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	for _, l := range r.Lookups {
		if l.Table == "" || l.File == "" {
			return errors.New("lookups need both table and file")
		}
	}
	return nil
}

func (r RuleSpec) stages() []core.DatasetStage {
	out := make([]core.DatasetStage, 0, len(r.Stages))
	for _, s := range r.Stages {
		st, _ := core.ParseStage(s)
		out = append(out, st)
	}
	return out
}

// Definitions turns every declared rule into a registry definition.
func (f *File) Definitions() []registry.Definition {
	defs := make([]registry.Definition, 0, len(f.Rules))
	for _, spec := range f.Rules {
		defs = append(defs, registry.Definition{
			Tag:          spec.Tag,
			IssueIDs:     spec.IssueIDs,
			Description:  spec.Description,
			Dependencies: spec.DependsOn,
			Stages:       spec.stages(),
			New:          newFactory(spec, f.dir),
		})
	}
	return defs
}

// Register adds every declared rule to reg.
func (f *File) Register(reg *registry.Registry) error {
	for _, def := range f.Definitions() {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// LoadAndRegister loads the rules file at path into reg.
func LoadAndRegister(reg *registry.Registry, path string) (int, error) {
	f, err := Load(path)
	if err != nil {
		return 0, err
	}
	if err := f.Register(reg); err != nil {
		return 0, err
	}
	return len(f.Rules), nil
}
