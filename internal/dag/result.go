package dag

import (
	"time"

	"brickflow/internal/core"
)

// Outcome is the user-visible verdict for one node of a run.
type Outcome string

const (
	OutcomeSkipped    Outcome = "Skipped"
	OutcomeCacheHit   Outcome = "CacheHit"
	OutcomeComputed   Outcome = "Computed"
	OutcomeFailed     Outcome = "Failed"
	OutcomeNotReached Outcome = "NotReached"
)

// Outcomes lists every outcome in report order.
var Outcomes = []Outcome{OutcomeSkipped, OutcomeCacheHit, OutcomeComputed, OutcomeFailed, OutcomeNotReached}

// NodeResult is what happened to one node.
type NodeResult struct {
	ID      string           `json:"id"`
	Outcome Outcome          `json:"outcome"`
	Reason  core.StaleReason `json:"reason,omitempty"`
	Slot    string           `json:"slot,omitempty"`

	CacheKey core.CacheKey `json:"cacheKey,omitempty"`
	ExitCode int           `json:"exitCode,omitempty"`

	// Cause names the failed node that kept a NotReached node from starting.
	Cause string `json:"cause,omitempty"`

	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// RunResult is the summary of one executor run.
type RunResult struct {
	GraphHash GraphHash `json:"graphHash"`

	// Order is the graph's topological order; Nodes holds one result per ID.
	Order []string               `json:"order"`
	Nodes map[string]*NodeResult `json:"nodes"`

	// Started lists the nodes whose work callback was invoked, in start order.
	Started []string `json:"started"`

	// Failures holds every node-level failure in topological order.
	Failures []error `json:"-"`

	FinalState ExecutionState `json:"finalState"`
}

// Outcome returns the outcome of node id, or "" when id is unknown.
func (r *RunResult) Outcome(id string) Outcome {
	if n, ok := r.Nodes[id]; ok {
		return n.Outcome
	}
	return ""
}

// Failed reports whether any node failed.
func (r *RunResult) Failed() bool {
	return len(r.Failures) > 0
}

// Results returns the node results in topological order.
func (r *RunResult) Results() []NodeResult {
	out := make([]NodeResult, 0, len(r.Order))
	for _, id := range r.Order {
		if n, ok := r.Nodes[id]; ok {
			out = append(out, *n)
		}
	}
	return out
}

// Counts tallies nodes per outcome.
func (r *RunResult) Counts() map[Outcome]int {
	c := make(map[Outcome]int, len(Outcomes))
	for _, n := range r.Nodes {
		c[n.Outcome]++
	}
	return c
}
