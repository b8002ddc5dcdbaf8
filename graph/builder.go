// Package graph builds execution order from typed dependency links.
// It turns a flat node set plus requires/blocks edges into a linear
// build order and parallel execution groups using Kahn's algorithm.
package graph

import "fmt"

// EdgeType classifies a dependency link between two nodes.
type EdgeType string

const (
	// EdgeRequires means the source node cannot start until the target completes.
	EdgeRequires EdgeType = "requires"

	// EdgeBlocks means the source node prevents the target from starting.
	EdgeBlocks EdgeType = "blocks"

	// EdgeSuggests is an informational relationship with no scheduling effect.
	EdgeSuggests EdgeType = "suggests"
)

// Edge is a typed link between two nodes. Only requires and blocks
// edges participate in scheduling; every other type is ignored.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Type EdgeType `json:"type"`
}

// BuildResult holds the computed execution ordering.
type BuildResult struct {
	// Order is a topological ordering of all acyclic nodes.
	// Ties are broken by declaration order, so repeated builds over
	// the same input produce the same ordering.
	Order []string

	// Groups partitions the ordered nodes such that nodes in the same
	// group have no dependency relationship to each other and every
	// dependency of a node in group k lies in an earlier group.
	Groups [][]string

	// Cycle lists nodes that could not be ordered because they sit on
	// or behind a dependency cycle. Empty when the graph is acyclic.
	Cycle []string
}

// HasCycle reports whether any nodes were left unordered.
func (r *BuildResult) HasCycle() bool {
	return len(r.Cycle) > 0
}

// Build computes a deterministic build order and parallel groups for
// the given nodes. Unknown edge endpoints are rejected; cycles are
// not: the acyclic prefix is ordered and the remainder reported in
// Cycle so callers can degrade to unordered scheduling instead of
// failing the whole plan.
func Build(nodes []string, edges []Edge) (*BuildResult, error) {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if _, dup := index[n]; dup {
			return nil, fmt.Errorf("duplicate node %q", n)
		}
		index[n] = i
	}

	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		inDegree[n] = 0
	}

	for _, e := range edges {
		if !e.Type.schedulable() {
			continue
		}
		from, to := e.From, e.To
		// A blocks edge is a requires edge with the arrow reversed:
		// "A blocks B" schedules B after A.
		if e.Type == EdgeBlocks {
			from, to = to, from
		}
		if _, ok := index[from]; !ok {
			return nil, fmt.Errorf("edge references unknown node %q", from)
		}
		if _, ok := index[to]; !ok {
			return nil, fmt.Errorf("edge references unknown node %q", to)
		}
		if from == to {
			return nil, fmt.Errorf("node %q depends on itself", from)
		}
		inDegree[from]++
		dependents[to] = append(dependents[to], from)
	}

	result := &BuildResult{}
	remaining := make(map[string]int, len(nodes))
	for n, d := range inDegree {
		remaining[n] = d
	}

	// Layered Kahn: each pass collects every node whose dependencies
	// are already ordered, which yields the parallel groups directly.
	ordered := make(map[string]bool, len(nodes))
	for len(ordered) < len(nodes) {
		var group []string
		for _, n := range nodes {
			if !ordered[n] && remaining[n] == 0 {
				group = append(group, n)
			}
		}
		if len(group) == 0 {
			break // every unordered node is on or behind a cycle
		}
		for _, n := range group {
			ordered[n] = true
			result.Order = append(result.Order, n)
			for _, dep := range dependents[n] {
				remaining[dep]--
			}
		}
		result.Groups = append(result.Groups, group)
	}

	for _, n := range nodes {
		if !ordered[n] {
			result.Cycle = append(result.Cycle, n)
		}
	}

	return result, nil
}

func (t EdgeType) schedulable() bool {
	return t == EdgeRequires || t == EdgeBlocks
}
