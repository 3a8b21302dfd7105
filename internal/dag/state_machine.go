package dag

import (
	"fmt"
)

// IsTerminal reports whether the state is terminal (finished).
func IsTerminal(s NodeState) bool {
	switch s {
	case NodeFresh, NodeDone, NodeFailed, NodeNotReached:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether the state satisfies dependents.
func IsSuccessful(s NodeState) bool {
	return s == NodeFresh || s == NodeDone
}

// Transition performs an atomic validated transition for a single node.
//
// The caller supplies the expected prior state (from) to make races observable.
// The state map is mutated if and only if the transition is valid.
func Transition(state ExecutionState, id string, from, to NodeState) error {
	cur, ok := state[id]
	if !ok {
		return invariantf("unknown node in state: %q", id)
	}
	if cur != from {
		return invariantf("invalid transition for %q: expected %s, got %s", id, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return invariantf("disallowed transition for %q: %s -> %s", id, from, to)
	}
	state[id] = to
	return nil
}

func isAllowedTransition(from, to NodeState) bool {
	switch from {
	case NodePending:
		return to == NodeStale || to == NodeFresh || to == NodeFailed || to == NodeNotReached
	case NodeStale:
		return to == NodeRunning || to == NodeDone || to == NodeFailed || to == NodeNotReached
	case NodeRunning:
		return to == NodeDone || to == NodeFailed
	default:
		return false
	}
}

// MarkDownstreamNotReached marks every node transitively depending on id
// that has not started as NotReached, and returns their IDs in canonical
// order.
//
// A downstream node found Running means a dependent started before its
// dependency finished and is reported as an invariant violation.
func MarkDownstreamNotReached(g *Graph, state ExecutionState, id string) ([]string, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	s, ok := g.stepsByID[id]
	if !ok {
		return nil, invariantf("unknown node: %q", id)
	}

	var marked []string
	for _, u := range g.reachable(s.canonicalIndex) {
		name := g.steps[u].ID()
		st, ok := state[name]
		if !ok {
			return nil, invariantf("missing state for %q", name)
		}
		switch st {
		case NodePending, NodeStale:
			state[name] = NodeNotReached
			marked = append(marked, name)
		case NodeRunning:
			return nil, invariantf("downstream node %q is RUNNING while %q failed", name, id)
		}
	}
	return marked, nil
}

// MarkAllNotReached marks every node that has not started as NotReached.
// It implements fail-fast: once a failure is recorded nothing new starts.
func MarkAllNotReached(g *Graph, state ExecutionState) []string {
	var marked []string
	for _, s := range g.steps {
		switch state[s.ID()] {
		case NodePending, NodeStale:
			state[s.ID()] = NodeNotReached
			marked = append(marked, s.ID())
		}
	}
	return marked
}
