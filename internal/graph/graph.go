// Package graph provides the dependency graph for subtask scheduling.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/icdev-ai/dispatch/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the subtask graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph represents a directed acyclic graph of subtask dependencies.
// Subtasks are nodes, and edges represent "blocked by" relationships.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps subtask ID to the subtask itself.
	nodes map[string]*models.Subtask
	// edges maps subtask ID to IDs of subtasks it depends on (is blocked by).
	edges map[string][]string
	// succeeded tracks which subtasks have been marked succeeded.
	succeeded map[string]bool
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:     make(map[string]*models.Subtask),
		edges:     make(map[string][]string),
		succeeded: make(map[string]bool),
		debugLog:  func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs the dependency graph from a slice of subtasks.
// Returns an error if a cycle is detected or dependencies reference unknown nodes.
func (g *DependencyGraph) Build(subtasks []*models.Subtask) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d subtasks", len(subtasks))

	// First pass: register all subtasks as nodes.
	for _, st := range subtasks {
		g.nodes[st.ID] = st
		g.edges[st.ID] = nil
	}

	// Second pass: build edges from DependsOn fields.
	for _, st := range subtasks {
		for _, depID := range st.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("subtask %s depends on unknown subtask %s", st.ID, depID)
			}
			g.edges[st.ID] = append(g.edges[st.ID], depID)
		}
	}

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}

	g.debugLog("[graph.Build] graph built with %d nodes", len(g.nodes))
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with coloring to detect back edges.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked is the internal implementation that assumes the lock is held.
func (g *DependencyGraph) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int)
	for id := range g.nodes {
		colors[id] = 0
	}

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge - cycle detected.
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 {
			if visit(id) {
				return true
			}
		}
	}

	return false
}

// TopologicalSort returns subtask IDs in an order where all dependencies
// come before the subtasks that depend on them.
// Returns an error if the graph contains a cycle.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool)
	var result []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true

		for _, depID := range g.edges[id] {
			visit(depID)
		}

		result = append(result, id)
	}

	// Iterate in sorted order so the result is deterministic.
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		visit(id)
	}

	return result, nil
}

// GetReady returns subtask IDs whose predecessors have all succeeded and
// which are not themselves terminal or dispatched. These can run in parallel.
func (g *DependencyGraph) GetReady() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string

	for id, st := range g.nodes {
		if g.succeeded[id] {
			continue
		}
		if st.Status.Terminal() || st.Status == models.SubtaskStatusDispatched {
			continue
		}

		allDepsSucceeded := true
		for _, depID := range g.edges[id] {
			if !g.succeeded[depID] {
				allDepsSucceeded = false
				break
			}
		}

		if allDepsSucceeded {
			ready = append(ready, id)
		}
	}

	sort.Strings(ready)
	g.debugLog("[graph.GetReady] returning %d ready subtasks: %v", len(ready), ready)
	return ready
}

// MarkSucceeded marks a subtask as succeeded in the graph.
// This affects subsequent calls to GetReady.
func (g *DependencyGraph) MarkSucceeded(subtaskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.succeeded[subtaskID] = true
}

// GetSubtask returns the subtask for a given ID, or nil if not found.
func (g *DependencyGraph) GetSubtask(subtaskID string) *models.Subtask {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[subtaskID]
}

// Size returns the number of subtasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GetDependencies returns the IDs of subtasks the given subtask depends on.
func (g *DependencyGraph) GetDependencies(subtaskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[subtaskID]
}

// GetDependents returns the IDs of subtasks that depend directly on the
// given subtask.
func (g *DependencyGraph) GetDependents(subtaskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dependentsLocked(subtaskID)
}

func (g *DependencyGraph) dependentsLocked(subtaskID string) []string {
	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == subtaskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}

// Descendants returns the IDs of every subtask downstream of the given
// subtask, direct or transitive. Used to cascade-skip dependents of a
// failed or vetoed node.
func (g *DependencyGraph) Descendants(subtaskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		for _, dep := range g.dependentsLocked(id) {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(subtaskID)

	result := make([]string, 0, len(seen))
	for id := range seen {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// SucceededIDs returns the IDs of all subtasks marked succeeded in the graph.
func (g *DependencyGraph) SucceededIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []string
	for id, done := range g.succeeded {
		if done {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
