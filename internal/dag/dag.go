// SPDX-License-Identifier: MPL-2.0

// Package dag orders the nodes of a directed graph topologically. The module
// engine uses it to tear a release closure down importers-first.
package dag

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCycle is wrapped by every CycleError.
var ErrCycle = errors.New("dependency cycle")

type (
	// CycleError indicates that the graph contains a cycle, preventing topological ordering.
	CycleError[K comparable] struct {
		// Cycle holds the nodes left with incoming edges, in insertion order.
		// At least one cycle runs through them.
		Cycle []K
	}

	// Graph is a directed graph. An edge from A to B means A is ordered before B.
	// Nodes are kept in insertion order so the output is deterministic.
	Graph[K comparable] struct {
		adjacency map[K][]K
		nodes     []K
		nodeSet   map[K]struct{}
	}
)

func (e *CycleError[K]) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, n := range e.Cycle {
		parts[i] = fmt.Sprint(n)
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(parts, " -> "))
}

// Unwrap returns ErrCycle.
func (e *CycleError[K]) Unwrap() error { return ErrCycle }

// New creates an empty Graph.
func New[K comparable]() *Graph[K] {
	return &Graph[K]{
		adjacency: make(map[K][]K),
		nodeSet:   make(map[K]struct{}),
	}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph[K]) AddNode(n K) {
	if _, ok := g.nodeSet[n]; ok {
		return
	}
	g.nodeSet[n] = struct{}{}
	g.nodes = append(g.nodes, n)
}

// AddEdge adds from -> to, adding either node if missing.
func (g *Graph[K]) AddEdge(from, to K) {
	g.AddNode(from)
	g.AddNode(to)
	g.adjacency[from] = append(g.adjacency[from], to)
}

// Len returns the number of nodes.
func (g *Graph[K]) Len() int { return len(g.nodes) }

// TopologicalSort returns the nodes ordered with Kahn's algorithm, or a
// *CycleError. Nodes at the same level appear in insertion order.
func (g *Graph[K]) TopologicalSort() ([]K, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[K]int, len(g.nodes))
	for _, neighbors := range g.adjacency {
		for _, neighbor := range neighbors {
			inDegree[neighbor]++
		}
	}

	queue := make([]K, 0, len(g.nodes))
	for _, n := range g.nodes {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	result := make([]K, 0, len(g.nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		result = append(result, n)

		for _, neighbor := range g.adjacency[n] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	if len(result) != len(g.nodes) {
		var cycle []K
		for _, n := range g.nodes {
			if inDegree[n] > 0 {
				cycle = append(cycle, n)
			}
		}
		return nil, &CycleError[K]{Cycle: cycle}
	}
	return result, nil
}
