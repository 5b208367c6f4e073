package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Rule is one unit of cleaning logic.
//
// The engine drives a rule through SetupRule, QuerySpecs and, when validation
// is requested, the optional Validator hooks. Rules are built per run by a
// registered factory; configuration problems must surface from the factory,
// never from QuerySpecs.
type Rule interface {
	// Metadata returns the declared identity and scope of the rule.
	Metadata() Metadata

	// SetupRule performs one-time preparation (lookup uploads, schema
	// discovery). It must be idempotent.
	SetupRule(ctx context.Context, client StoreClient) error

	// QuerySpecs returns the statements to run, in order. It performs no I/O.
	QuerySpecs() []QuerySpec

	// SandboxTableNames lists every sandbox table the rule may create.
	SandboxTableNames() []string
}

// Validator is implemented by rules that can check their own post-conditions.
type Validator interface {
	// SetupValidation captures pre-conditions before the rule's statements run.
	SetupValidation(ctx context.Context, client StoreClient) error

	// ValidateRule fails when the invariant the rule establishes does not hold.
	ValidateRule(ctx context.Context, client StoreClient) error
}

// Metadata is the declared identity and scope of a rule.
type Metadata struct {
	Tag              string
	IssueIDs         []string
	Description      string
	AffectedDatasets []DatasetStage
	AffectedTables   []string
	Dependencies     []string
	ProjectID        string
	DatasetID        string
	SandboxDatasetID string
}

// Validate checks the metadata invariants.
func (m Metadata) Validate() error {
	if m.Tag == "" {
		return errors.New("rule tag is empty")
	}
	if len(m.IssueIDs) == 0 {
		return fmt.Errorf("rule %s declares no issue ids", m.Tag)
	}
	if slices.Contains(m.Dependencies, m.Tag) {
		return fmt.Errorf("rule %s depends on itself", m.Tag)
	}
	return nil
}

// AppliesTo reports whether the rule declares the stage.
func (m Metadata) AppliesTo(stage DatasetStage) bool {
	return slices.Contains(m.AffectedDatasets, stage)
}

// SandboxNamer derives a sandbox table name from a namespace and a table name.
type SandboxNamer func(namespace, table string) string

// RuleConfig carries the caller-supplied values every rule constructor receives.
type RuleConfig struct {
	ProjectID        string
	DatasetID        string
	SandboxDatasetID string
	Stage            DatasetStage
	// Params holds rule-specific options passed through unchanged from the CLI.
	Params map[string]string
	// Namer builds sandbox table names.
	Namer SandboxNamer
}

// Validate checks that the identifiers every rule needs are present.
func (c RuleConfig) Validate() error {
	if c.DatasetID == "" {
		return &ConfigError{Reason: "dataset_id is required"}
	}
	if c.SandboxDatasetID == "" {
		return &ConfigError{Reason: "sandbox_dataset_id is required"}
	}
	if c.SandboxDatasetID == c.DatasetID {
		return &ConfigError{Reason: "sandbox_dataset_id must differ from dataset_id"}
	}
	if c.Namer == nil {
		return &ConfigError{Reason: "no sandbox namer configured"}
	}
	return nil
}

// BaseRule implements the bookkeeping shared by concrete rules.
// Embed it and override SetupRule, QuerySpecs and the validation hooks.
type BaseRule struct {
	meta  Metadata
	namer SandboxNamer
}

// NewBaseRule binds declared metadata to the caller's identifiers.
func NewBaseRule(meta Metadata, cfg RuleConfig) (BaseRule, error) {
	if err := cfg.Validate(); err != nil {
		return BaseRule{}, err
	}
	meta.ProjectID = cfg.ProjectID
	meta.DatasetID = cfg.DatasetID
	meta.SandboxDatasetID = cfg.SandboxDatasetID
	if err := meta.Validate(); err != nil {
		return BaseRule{}, &ConfigError{Rule: meta.Tag, Err: err}
	}
	return BaseRule{meta: meta, namer: cfg.Namer}, nil
}

// Metadata returns the rule metadata.
func (b BaseRule) Metadata() Metadata {
	m := b.meta
	m.IssueIDs = slices.Clone(b.meta.IssueIDs)
	m.AffectedDatasets = slices.Clone(b.meta.AffectedDatasets)
	m.AffectedTables = slices.Clone(b.meta.AffectedTables)
	m.Dependencies = slices.Clone(b.meta.Dependencies)
	return m
}

// SetupRule does nothing by default.
func (b BaseRule) SetupRule(context.Context, StoreClient) error {
	return nil
}

// SandboxNamespace is the prefix of every sandbox table this rule writes.
func (b BaseRule) SandboxNamespace() string {
	return b.meta.IssueIDs[0]
}

// SandboxTableFor returns the unqualified sandbox table name for a source table.
func (b BaseRule) SandboxTableFor(table string) string {
	return b.namer(b.SandboxNamespace(), table)
}

// SandboxTableNames returns one sandbox table per affected table.
func (b BaseRule) SandboxTableNames() []string {
	names := make([]string, 0, len(b.meta.AffectedTables))
	for _, t := range b.meta.AffectedTables {
		names = append(names, b.SandboxTableFor(t))
	}
	return names
}

// Table qualifies a table of the active dataset.
func (b BaseRule) Table(name string) string {
	return Qualify(b.meta.ProjectID, b.meta.DatasetID, name)
}

// SandboxTable qualifies the sandbox copy of a source table.
func (b BaseRule) SandboxTable(source string) string {
	return Qualify(b.meta.ProjectID, b.meta.SandboxDatasetID, b.SandboxTableFor(source))
}

// SandboxSpec returns a statement that replaces the sandbox copy of source with
// the rows selected by query.
func (b BaseRule) SandboxSpec(source, query string) QuerySpec {
	return QuerySpec{
		Query:              query,
		DestinationTable:   b.SandboxTableFor(source),
		DestinationDataset: b.meta.SandboxDatasetID,
		Disposition:        DispositionTruncate,
		SandboxOf:          source,
	}
}

// SetupValidation is not implemented by default.
func (b BaseRule) SetupValidation(context.Context, StoreClient) error {
	return ErrNotImplemented
}

// ValidateRule is not implemented by default.
func (b BaseRule) ValidateRule(context.Context, StoreClient) error {
	return ErrNotImplemented
}
