// Package registry holds the universe of cleaning rules known to the process.
// Built-in rules register from init() functions; declarative rules register at
// start-up. Registration stores a constructor, never a rule instance, so every
// run builds fresh rules from its own configuration.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/leapstack-labs/leapclean/internal/dag"
	"github.com/leapstack-labs/leapclean/pkg/core"
)

// Factory builds a rule from run configuration. Configuration problems are
// reported here, never later from QuerySpecs.
type Factory func(cfg core.RuleConfig) (core.Rule, error)

// Definition describes a registered rule.
type Definition struct {
	Tag          string
	IssueIDs     []string
	Description  string
	Dependencies []string
	Stages       []core.DatasetStage
	New          Factory
}

// Validate checks a definition in isolation.
func (d Definition) Validate() error {
	if d.Tag == "" {
		return errors.New("rule definition has no tag")
	}
	if d.New == nil {
		return fmt.Errorf("rule %s has no constructor", d.Tag)
	}
	if slices.Contains(d.Dependencies, d.Tag) {
		return fmt.Errorf("rule %s depends on itself", d.Tag)
	}
	return nil
}

// AppliesTo reports whether the definition declares the stage.
func (d Definition) AppliesTo(stage core.DatasetStage) bool {
	return slices.Contains(d.Stages, stage)
}

// Registry stores rule definitions keyed by tag.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition. Tags are unique.
func (r *Registry) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Tag]; exists {
		return fmt.Errorf("rule %s is already registered", def.Tag)
	}
	def.Dependencies = slices.Clone(def.Dependencies)
	r.defs[def.Tag] = def
	return nil
}

// MustRegister is Register for init() functions; it panics on error.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get returns a definition by tag.
func (r *Registry) Get(tag string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[tag]
	return def, ok
}

// Lookup returns a definition or an UnknownRuleError naming the available tags.
func (r *Registry) Lookup(tag, requiredBy string) (Definition, error) {
	def, ok := r.Get(tag)
	if !ok {
		return Definition{}, &core.UnknownRuleError{Tag: tag, RequiredBy: requiredBy, Available: r.Tags()}
	}
	return def, nil
}

// Tags returns all registered tags (sorted).
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.defs))
	for tag := range r.defs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// All returns all definitions sorted by tag.
func (r *Registry) All() []Definition {
	tags := r.Tags()
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(tags))
	for _, tag := range tags {
		defs = append(defs, r.defs[tag])
	}
	return defs
}

// Count returns the number of registered rules.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Graph builds the dependency graph of the whole universe. Edges point from a
// dependency to its dependent.
func (r *Registry) Graph() (*dag.Graph, error) {
	defs := r.All()
	g := dag.NewGraph()
	for _, def := range defs {
		g.AddNode(def.Tag, def)
	}
	for _, def := range defs {
		for _, dep := range def.Dependencies {
			if _, ok := g.GetNode(dep); !ok {
				return nil, &core.UnknownRuleError{Tag: dep, RequiredBy: def.Tag, Available: r.Tags()}
			}
			if err := g.AddEdge(dep, def.Tag); err != nil {
				return nil, fmt.Errorf("rule %s: %w", def.Tag, err)
			}
		}
	}
	return g, nil
}

// Validate checks the whole universe: every dependency is registered and the
// dependency graph is acyclic.
func (r *Registry) Validate() error {
	g, err := r.Graph()
	if err != nil {
		return err
	}
	if hasCycle, path := g.HasCycle(); hasCycle {
		return &core.CyclicDependencyError{Cycle: path}
	}
	return nil
}

// ForStage returns the tags of every rule declaring the stage (sorted).
func (r *Registry) ForStage(stage core.DatasetStage) []string {
	var tags []string
	for _, def := range r.All() {
		if def.AppliesTo(stage) {
			tags = append(tags, def.Tag)
		}
	}
	return tags
}

// Build constructs the rule registered under tag and checks that the instance
// agrees with its definition.
func (r *Registry) Build(tag string, cfg core.RuleConfig) (core.Rule, error) {
	def, err := r.Lookup(tag, "")
	if err != nil {
		return nil, err
	}
	rule, err := def.New(cfg)
	if err != nil {
		var cfgErr *core.ConfigError
		if errors.As(err, &cfgErr) {
			if cfgErr.Rule == "" {
				cfgErr.Rule = tag
			}
			return nil, cfgErr
		}
		return nil, &core.ConfigError{Rule: tag, Err: err}
	}
	if got := rule.Metadata().Tag; got != tag {
		return nil, &core.ConfigError{Rule: tag, Reason: fmt.Sprintf("constructor returned rule tagged %q", got)}
	}
	return rule, nil
}

var defaultRegistry = New()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a definition to the process-wide registry.
func Register(def Definition) error {
	return defaultRegistry.Register(def)
}

// MustRegister adds a definition to the process-wide registry and panics on
// error. Call this from init() functions in rule packages.
func MustRegister(def Definition) {
	defaultRegistry.MustRegister(def)
}
