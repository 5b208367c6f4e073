package engine

// plan.go - Resolution, instantiation and sandbox pre-registration

import (
	"fmt"

	"github.com/leapstack-labs/leapclean/internal/registry"
	"github.com/leapstack-labs/leapclean/internal/resolver"
	"github.com/leapstack-labs/leapclean/internal/sandbox"
	"github.com/leapstack-labs/leapclean/pkg/core"
)

// PlannedRule is an instantiated rule in execution position.
type PlannedRule struct {
	Definition registry.Definition
	Rule       core.Rule
	// Requested is false for dependencies pulled in by the resolver.
	Requested bool
}

// Tag returns the rule tag.
func (p PlannedRule) Tag() string {
	return p.Definition.Tag
}

// Plan is the resolved, instantiated and pre-registered set of rules for a run.
type Plan struct {
	Rules     []PlannedRule
	Sandboxes *sandbox.Registry
}

// Tags returns the rule tags in execution order.
func (p *Plan) Tags() []string {
	tags := make([]string, len(p.Rules))
	for i, r := range p.Rules {
		tags[i] = r.Tag()
	}
	return tags
}

// Plan resolves the requested rules (or the configured stage's rules when none
// are requested), builds every rule, and claims every sandbox table the rules
// declare. Nothing is sent to the store.
func (e *Engine) Plan(requested []string) (*Plan, error) {
	tags, err := e.requestedOrStage(requested)
	if err != nil {
		return nil, err
	}

	defs, err := resolver.Resolve(e.registry, tags)
	if err != nil {
		return nil, err
	}

	explicit := make(map[string]bool, len(tags))
	for _, tag := range tags {
		explicit[tag] = true
	}

	plan := &Plan{
		Rules:     make([]PlannedRule, 0, len(defs)),
		Sandboxes: sandbox.NewRegistry(),
	}

	for _, def := range defs {
		rule, err := e.registry.Build(def.Tag, e.ruleCfg)
		if err != nil {
			return nil, err
		}
		meta := rule.Metadata()
		if err := meta.Validate(); err != nil {
			return nil, &core.ConfigError{Rule: def.Tag, Err: err}
		}
		if err := checkDependencies(def, meta); err != nil {
			return nil, err
		}
		plan.Rules = append(plan.Rules, PlannedRule{Definition: def, Rule: rule, Requested: explicit[def.Tag]})
	}

	// Collisions must surface before anything runs.
	for _, p := range plan.Rules {
		for _, table := range p.Rule.SandboxTableNames() {
			if err := plan.Sandboxes.Claim(p.Tag(), table, ""); err != nil {
				return nil, err
			}
		}
	}

	// Statements only name tables, so their sandbox destinations can be checked
	// now. prepare checks again once setup has run.
	for _, p := range plan.Rules {
		if _, err := e.guardSpecs(p.Rule.Metadata(), p.Rule.SandboxTableNames(), p.Rule.QuerySpecs(), plan.Sandboxes); err != nil {
			return nil, err
		}
	}

	e.logger.Debug("planned rules", "rules", plan.Tags(), "sandbox_tables", plan.Sandboxes.Tables())
	return plan, nil
}

// checkDependencies rejects an instance that declares dependencies its
// definition did not, since the resolver only saw the definition.
func checkDependencies(def registry.Definition, meta core.Metadata) error {
	declared := make(map[string]bool, len(def.Dependencies))
	for _, dep := range def.Dependencies {
		declared[dep] = true
	}
	for _, dep := range meta.Dependencies {
		if !declared[dep] {
			return &core.ConfigError{
				Rule:   def.Tag,
				Reason: fmt.Sprintf("rule declares dependency %s that is not registered with its definition", dep),
			}
		}
	}
	return nil
}
