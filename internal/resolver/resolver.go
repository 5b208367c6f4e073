// Package resolver turns a list of requested rule tags into an execution order
// in which every rule follows all of its transitive dependencies.
package resolver

import (
	"fmt"

	"github.com/leapstack-labs/leapclean/internal/dag"
	"github.com/leapstack-labs/leapclean/internal/registry"
	"github.com/leapstack-labs/leapclean/pkg/core"
)

// Resolve returns the requested rules plus every undeclared transitive
// dependency, dependencies first. Ties are broken by request order, then by
// declared dependency order, so the result is the same on every run.
//
// Only the part of the registry reachable from the request is inspected: an
// unknown tag elsewhere in the universe does not affect this call.
func Resolve(reg *registry.Registry, requested []string) ([]registry.Definition, error) {
	g, err := reachable(reg, requested)
	if err != nil {
		return nil, err
	}

	order, err := g.SortFrom(requested)
	if err != nil {
		return nil, err
	}

	defs := make([]registry.Definition, 0, len(order))
	for _, tag := range order {
		node, _ := g.GetNode(tag)
		defs = append(defs, node.Data.(registry.Definition))
	}
	return defs, nil
}

// ResolveTags is Resolve returning tags only.
func ResolveTags(reg *registry.Registry, requested []string) ([]string, error) {
	defs, err := Resolve(reg, requested)
	if err != nil {
		return nil, err
	}
	tags := make([]string, len(defs))
	for i, def := range defs {
		tags[i] = def.Tag
	}
	return tags, nil
}

// ForStage resolves every registered rule that declares the stage, requested
// in tag order.
func ForStage(reg *registry.Registry, stage core.DatasetStage) ([]registry.Definition, error) {
	tags := reg.ForStage(stage)
	if len(tags) == 0 {
		return nil, &core.ConfigError{Reason: fmt.Sprintf("no rules registered for stage %s", stage)}
	}
	return Resolve(reg, tags)
}

// Graph returns the dependency graph of the requested rules and their
// transitive dependencies.
func Graph(reg *registry.Registry, requested []string) (*dag.Graph, error) {
	g, err := reachable(reg, requested)
	if err != nil {
		return nil, err
	}
	if _, err := g.SortFrom(requested); err != nil {
		return nil, err
	}
	return g, nil
}

// reachable collects the definitions reachable from requested into a graph,
// adding nodes in discovery order.
func reachable(reg *registry.Registry, requested []string) (*dag.Graph, error) {
	g := dag.NewGraph()
	queue := make([]registry.Definition, 0, len(requested))

	for _, tag := range requested {
		if _, seen := g.GetNode(tag); seen {
			continue
		}
		def, err := reg.Lookup(tag, "")
		if err != nil {
			return nil, err
		}
		g.AddNode(tag, def)
		queue = append(queue, def)
	}

	for i := 0; i < len(queue); i++ {
		def := queue[i]
		for _, dep := range def.Dependencies {
			if _, seen := g.GetNode(dep); seen {
				continue
			}
			depDef, err := reg.Lookup(dep, def.Tag)
			if err != nil {
				return nil, err
			}
			g.AddNode(dep, depDef)
			queue = append(queue, depDef)
		}
	}

	for _, def := range queue {
		for _, dep := range def.Dependencies {
			if err := g.AddEdge(dep, def.Tag); err != nil {
				return nil, &core.ConfigError{Rule: def.Tag, Err: err}
			}
		}
	}
	return g, nil
}
