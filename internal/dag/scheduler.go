package dag

import (
	"sort"
)

// ReadyNodes returns the deterministically ordered list of node IDs that are
// eligible to start.
//
// Policy:
//   - A node is ready iff it is PENDING and all its dependencies are DONE or FRESH.
//   - The returned list is sorted by (topological depth asc, canonical index asc).
//
// This function is pure: it does not mutate graph or state.
func ReadyNodes(g *Graph, state ExecutionState) []string {
	if g == nil {
		return nil
	}

	var ready []*Step
	for _, s := range g.steps {
		if st, ok := state[s.ID()]; !ok || st != NodePending {
			continue
		}
		depsOK := true
		for _, p := range g.incoming[s.canonicalIndex] {
			if !IsSuccessful(state[g.steps[p].ID()]) {
				depsOK = false
				break
			}
		}
		if depsOK {
			ready = append(ready, s)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i].canonicalIndex, ready[j].canonicalIndex
		if g.depth[a] != g.depth[b] {
			return g.depth[a] < g.depth[b]
		}
		return a < b
	})

	out := make([]string, len(ready))
	for i, s := range ready {
		out[i] = s.ID()
	}
	return out
}
