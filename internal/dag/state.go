package dag

// NodeState is the runtime execution state of a node within one run.
//
//	Pending -> Stale | Fresh
//	Stale   -> Running
//	Running -> Done | Failed
//
// Pending and Stale nodes may also end as NotReached when an upstream
// failure stops the run before they start. A Stale node satisfied from the
// cache moves straight to Done.
type NodeState string

const (
	NodePending    NodeState = "PENDING"
	NodeStale      NodeState = "STALE"
	NodeFresh      NodeState = "FRESH"
	NodeRunning    NodeState = "RUNNING"
	NodeDone       NodeState = "DONE"
	NodeFailed     NodeState = "FAILED"
	NodeNotReached NodeState = "NOT_REACHED"
)

// ExecutionState maps node ID to its current NodeState.
//
// It is a plain map so the scheduler can remain a pure function without
// coupling to an executor implementation. It is discarded when a run ends.
type ExecutionState map[string]NodeState

// NewExecutionState returns a state with every step of g Pending.
func NewExecutionState(g *Graph) ExecutionState {
	st := make(ExecutionState, len(g.steps))
	for _, s := range g.steps {
		st[s.ID()] = NodePending
	}
	return st
}

// Clone returns a copy of the state.
func (s ExecutionState) Clone() ExecutionState {
	cp := make(ExecutionState, len(s))
	for k, v := range s {
		cp[k] = v
	}
	return cp
}
