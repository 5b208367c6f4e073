package declarative

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/template"

	"github.com/leapstack-labs/leapclean/internal/registry"
	"github.com/leapstack-labs/leapclean/pkg/core"
)

// Rule is a cleaning rule built from a RuleSpec.
type Rule struct {
	core.BaseRule
	specs    []core.QuerySpec
	lookups  []lookup
	validate string
}

type lookup struct {
	table string // qualified destination
	path  string
}

var _ core.Validator = (*Rule)(nil)

// templateData is the dot value of statement templates.
type templateData struct {
	ProjectID        string
	DatasetID        string
	SandboxDatasetID string
}

func newFactory(spec RuleSpec, dir string) registry.Factory {
	return func(cfg core.RuleConfig) (core.Rule, error) {
		return New(spec, dir, cfg)
	}
}

// New renders spec against cfg. Template and parameter problems are
// reported as *core.ConfigError.
func New(spec RuleSpec, dir string, cfg core.RuleConfig) (*Rule, error) {
	md := core.Metadata{
		Tag:              spec.Tag,
		IssueIDs:         spec.IssueIDs,
		Description:      spec.Description,
		AffectedDatasets: spec.stages(),
		AffectedTables:   spec.Tables,
		Dependencies:     spec.DependsOn,
	}
	base, err := core.NewBaseRule(md, cfg)
	if err != nil {
		return nil, err
	}

	r := &Rule{BaseRule: base}
	meta := base.Metadata()

	for _, l := range spec.Lookups {
		path := l.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		r.lookups = append(r.lookups, lookup{table: r.lookupTable(l.Table), path: path})
	}

	tmpl := r.renderer(spec, cfg.Params)
	for i, s := range spec.Statements {
		query, err := tmpl(fmt.Sprintf("statement %d", i+1), s.Query)
		if err != nil {
			return nil, err
		}
		dataset, err := tmpl(fmt.Sprintf("statement %d destination", i+1), s.DestinationDataset)
		if err != nil {
			return nil, err
		}
		disposition, _ := core.ParseDisposition(s.Disposition)

		qs := core.QuerySpec{
			Query:              query,
			DestinationTable:   s.DestinationTable,
			DestinationDataset: dataset,
			Disposition:        disposition,
			Batch:              s.Batch,
			Mutates:            s.Mutates,
		}
		if s.SandboxOf != "" {
			sb := r.SandboxSpec(s.SandboxOf, query)
			sb.Batch = s.Batch
			qs = sb
		} else if qs.DestinationTable != "" && qs.DestinationDataset == "" {
			qs.DestinationDataset = meta.DatasetID
		}
		if err := qs.Validate(); err != nil {
			return nil, &core.ConfigError{Rule: spec.Tag, Reason: fmt.Sprintf("statement %d", i+1), Err: err}
		}
		r.specs = append(r.specs, qs)
	}

	if spec.Validate != "" {
		r.validate, err = tmpl("validate", spec.Validate)
		if err != nil {
			return nil, err
		}
	}

	// The tables the statements back up or destroy are affected too, so
	// their sandbox names are declared even when spec.Tables omits them.
	md.AffectedTables = affectedTables(spec.Tables, r.specs, meta.DatasetID)
	if r.BaseRule, err = core.NewBaseRule(md, cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// affectedTables returns tables followed by every table specs sandbox or
// destroy in dataset, without repeats.
func affectedTables(tables []string, specs []core.QuerySpec, dataset string) []string {
	out := slices.Clone(tables)
	add := func(t string) {
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	for _, qs := range specs {
		add(qs.SandboxOf)
		add(qs.DestroysIn(dataset))
	}
	return out
}

// lookupTable qualifies the sandbox table a lookup file is uploaded to.
func (r *Rule) lookupTable(name string) string {
	meta := r.Metadata()
	return core.Qualify(meta.ProjectID, meta.SandboxDatasetID, r.SandboxTableFor("lookup_"+name))
}

func (r *Rule) renderer(spec RuleSpec, params map[string]string) func(name, text string) (string, error) {
	meta := r.Metadata()
	lookups := make(map[string]string, len(spec.Lookups))
	for _, l := range spec.Lookups {
		lookups[l.Table] = r.lookupTable(l.Table)
	}

	funcs := template.FuncMap{
		"table":   r.Table,
		"sandbox": r.SandboxTable,
		"lookup": func(name string) (string, error) {
			t, ok := lookups[name]
			if !ok {
				return "", fmt.Errorf("lookup %s is not declared", name)
			}
			return t, nil
		},
		"param": func(key string) (string, error) {
			v, ok := params[key]
			if !ok {
				return "", fmt.Errorf("parameter %s is required (pass --param %s=...)", key, key)
			}
			return v, nil
		},
		"quote": func(s string) string {
			return "'" + strings.ReplaceAll(s, "'", "''") + "'"
		},
		"join": strings.Join,
	}
	data := templateData{
		ProjectID:        meta.ProjectID,
		DatasetID:        meta.DatasetID,
		SandboxDatasetID: meta.SandboxDatasetID,
	}

	return func(name, text string) (string, error) {
		t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
		if err != nil {
			return "", &core.ConfigError{Rule: spec.Tag, Reason: name, Err: err}
		}
		var buf bytes.Buffer
		if err := t.Execute(&buf, data); err != nil {
			return "", &core.ConfigError{Rule: spec.Tag, Reason: name, Err: err}
		}
		return strings.TrimSpace(buf.String()), nil
	}
}

// SetupRule uploads the lookup files.
func (r *Rule) SetupRule(ctx context.Context, client core.StoreClient) error {
	if len(r.lookups) == 0 {
		return nil
	}
	loader, ok := client.(core.TableLoader)
	if !ok {
		return fmt.Errorf("store client %T cannot load lookup tables: %w", client, core.ErrUnsupported)
	}
	for _, l := range r.lookups {
		if _, err := os.Stat(l.path); err != nil {
			return fmt.Errorf("lookup file: %w", err)
		}
		if err := loader.LoadCSV(ctx, l.table, l.path); err != nil {
			return fmt.Errorf("load %s into %s: %w", l.path, l.table, err)
		}
	}
	return nil
}

// QuerySpecs returns the rendered statements.
func (r *Rule) QuerySpecs() []core.QuerySpec {
	out := make([]core.QuerySpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// SetupValidation needs no pre-conditions when a validation query is declared.
func (r *Rule) SetupValidation(ctx context.Context, client core.StoreClient) error {
	if r.validate == "" {
		return r.BaseRule.SetupValidation(ctx, client)
	}
	return nil
}

// ValidateRule runs the declared validation query, which must count zero rows.
func (r *Rule) ValidateRule(ctx context.Context, client core.StoreClient) error {
	if r.validate == "" {
		return r.BaseRule.ValidateRule(ctx, client)
	}

	rows, err := client.Query(ctx, r.validate)
	if err != nil {
		return fmt.Errorf("run validation query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("read validation count: %w", err)
		}
		return fmt.Errorf("validation query of %s returned no rows", r.Metadata().Tag)
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return fmt.Errorf("scan validation count: %w", err)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read validation count: %w", err)
	}
	if n != 0 {
		return fmt.Errorf("validation query of %s counted %d rows", r.Metadata().Tag, n)
	}
	return nil
}
