// Package graph tracks which components depend on which. Edges are recorded
// incrementally as resolution succeeds and are consumed for destruction
// ordering: a component's dependents are always torn down before the
// component itself. Cycle detection during construction is a live recursion
// check in the instance cache, not a graph traversal, so the graph stays a
// pure bookkeeping structure.
package graph

import "sync"

// Graph holds name-keyed dependency edges in both directions.
type Graph struct {
	mu sync.RWMutex

	// dependents[name] = names that depend on name
	dependents map[string][]string

	// dependencies[name] = names that name depends on
	dependencies map[string][]string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		dependents:   make(map[string][]string),
		dependencies: make(map[string][]string),
	}
}

// AddEdge records that dependent requires dependency. Duplicate edges and
// self-edges are ignored.
func (g *Graph) AddEdge(dependent, dependency string) {
	if dependent == "" || dependency == "" || dependent == dependency {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !contains(g.dependents[dependency], dependent) {
		g.dependents[dependency] = append(g.dependents[dependency], dependent)
	}
	if !contains(g.dependencies[dependent], dependency) {
		g.dependencies[dependent] = append(g.dependencies[dependent], dependency)
	}
}

// DependentsOf returns the names that depend on name, in recording order.
func (g *Graph) DependentsOf(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return copyOf(g.dependents[name])
}

// DependenciesOf returns the names that name depends on, in recording order.
func (g *Graph) DependenciesOf(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return copyOf(g.dependencies[name])
}

// HasDependents reports whether any component depends on name.
func (g *Graph) HasDependents(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.dependents[name]) > 0
}

// Remove drops name and every edge that touches it.
func (g *Graph) Remove(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, dep := range g.dependencies[name] {
		g.dependents[dep] = without(g.dependents[dep], name)
	}
	for _, dep := range g.dependents[name] {
		g.dependencies[dep] = without(g.dependencies[dep], name)
	}

	delete(g.dependents, name)
	delete(g.dependencies, name)
}

// Clear drops all nodes and edges.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.dependents = make(map[string][]string)
	g.dependencies = make(map[string][]string)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func without(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func copyOf(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, len(list))
	copy(out, list)
	return out
}
