// Package dag provides directed acyclic graph operations for rule dependencies.
// It supports cycle detection, stable topological ordering, and execution levels.
package dag

import (
	"fmt"
	"sort"

	"github.com/leapstack-labs/leapclean/pkg/core"
)

// Node represents a node in the DAG.
type Node struct {
	// ID is the unique identifier (rule tag)
	ID string
	// Data holds arbitrary node data
	Data any
}

// Graph represents a directed graph whose edges point from a dependency to
// its dependent. Nodes and edges keep insertion order so every traversal is
// deterministic.
type Graph struct {
	order   []string
	nodes   map[string]*Node
	edges   map[string][]string // parent -> children (dependents)
	parents map[string][]string // child -> parents (dependencies)
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddNode adds a node to the graph.
func (g *Graph) AddNode(id string, data any) {
	if _, exists := g.nodes[id]; !exists {
		g.order = append(g.order, id)
		g.nodes[id] = &Node{ID: id, Data: data}
		g.edges[id] = []string{}
		g.parents[id] = []string{}
	} else {
		// Update data if node already exists
		g.nodes[id].Data = data
	}
}

// AddEdge adds a directed edge from parent to child (child depends on parent).
func (g *Graph) AddEdge(parentID, childID string) error {
	if _, exists := g.nodes[parentID]; !exists {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, exists := g.nodes[childID]; !exists {
		return fmt.Errorf("child node %q does not exist", childID)
	}

	if parentID == childID {
		return fmt.Errorf("self-loop detected: %s", parentID)
	}

	// Add edge (avoid duplicates)
	if !contains(g.edges[parentID], childID) {
		g.edges[parentID] = append(g.edges[parentID], childID)
	}
	if !contains(g.parents[childID], parentID) {
		g.parents[childID] = append(g.parents[childID], parentID)
	}

	return nil
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// GetParents returns the parents (dependencies) of a node.
func (g *Graph) GetParents(id string) []string {
	return g.parents[id]
}

// GetChildren returns the children (dependents) of a node.
func (g *Graph) GetChildren(id string) []string {
	return g.edges[id]
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		count += len(children)
	}
	return count
}

// visit marks used by the depth-first traversals.
const (
	unvisited = iota
	inProgress
	done
)

// walker performs a dependency-first depth-first traversal with
// unvisited / in-progress / done marks.
type walker struct {
	g      *Graph
	marks  map[string]int
	stack  []string
	result []string
}

func (w *walker) visit(id string) error {
	switch w.marks[id] {
	case done:
		return nil
	case inProgress:
		// Back edge: the cycle is the stack suffix starting at id.
		start := 0
		for i, s := range w.stack {
			if s == id {
				start = i
				break
			}
		}
		cycle := append([]string{}, w.stack[start:]...)
		cycle = append(cycle, id)
		return &core.CyclicDependencyError{Cycle: cycle}
	}

	w.marks[id] = inProgress
	w.stack = append(w.stack, id)

	for _, parentID := range w.g.parents[id] {
		if err := w.visit(parentID); err != nil {
			return err
		}
	}

	w.stack = w.stack[:len(w.stack)-1]
	w.marks[id] = done
	w.result = append(w.result, id)
	return nil
}

func (g *Graph) newWalker() *walker {
	return &walker{g: g, marks: make(map[string]int, len(g.nodes))}
}

// HasCycle returns true if the graph contains a cycle, along with the cycle path.
func (g *Graph) HasCycle() (bool, []string) {
	w := g.newWalker()
	for _, id := range g.order {
		if err := w.visit(id); err != nil {
			if cycleErr, ok := err.(*core.CyclicDependencyError); ok {
				return true, cycleErr.Cycle
			}
		}
	}
	return false, nil
}

// SortFrom returns roots and all their transitive dependencies in topological
// order (dependencies before dependents). Ties are broken by the order of roots,
// then by the order in which dependencies were added. A cycle reachable from
// roots yields *core.CyclicDependencyError.
func (g *Graph) SortFrom(roots []string) ([]string, error) {
	w := g.newWalker()
	for _, id := range roots {
		if _, ok := g.nodes[id]; !ok {
			return nil, fmt.Errorf("node %q does not exist", id)
		}
		if err := w.visit(id); err != nil {
			return nil, err
		}
	}
	return w.result, nil
}

// TopologicalSort returns all nodes in topological order (dependencies before
// dependents), ties broken by insertion order.
// Returns an error if the graph contains a cycle.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	ids, err := g.SortFrom(g.order)
	if err != nil {
		return nil, err
	}
	result := make([]*Node, len(ids))
	for i, id := range ids {
		result[i] = g.nodes[id]
	}
	return result, nil
}

// GetExecutionLevels returns nodes grouped by execution level.
// Level 0 contains nodes with no dependencies; a node at level N depends on at
// least one node at level N-1.
func (g *Graph) GetExecutionLevels() ([][]string, error) {
	sorted, err := g.SortFrom(g.order)
	if err != nil {
		return nil, err
	}

	assigned := make(map[string]int, len(sorted))
	maxLevel := 0
	for _, id := range sorted {
		level := 0
		for _, parentID := range g.parents[id] {
			if l := assigned[parentID] + 1; l > level {
				level = l
			}
		}
		assigned[id] = level
		if level > maxLevel {
			maxLevel = level
		}
	}

	levels := make([][]string, maxLevel+1)
	if len(sorted) == 0 {
		return [][]string{}, nil
	}
	for _, id := range sorted {
		levels[assigned[id]] = append(levels[assigned[id]], id)
	}

	// Sort each level for deterministic output
	for i := range levels {
		sort.Strings(levels[i])
	}

	return levels, nil
}

// GetUpstreamNodes returns all nodes upstream of the given node (its dependencies and their dependencies).
func (g *Graph) GetUpstreamNodes(id string) []string {
	upstream := make(map[string]bool)

	var markUpstream func(nodeID string)
	markUpstream = func(nodeID string) {
		for _, parentID := range g.parents[nodeID] {
			if !upstream[parentID] {
				upstream[parentID] = true
				markUpstream(parentID)
			}
		}
	}

	markUpstream(id)

	result := make([]string, 0, len(upstream))
	for nodeID := range upstream {
		result = append(result, nodeID)
	}
	sort.Strings(result)
	return result
}

// contains checks if a slice contains a string.
func contains(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}
