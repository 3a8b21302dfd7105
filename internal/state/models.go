package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"brickflow/internal/dag"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// NodeReport is one node's line in the run ledger.
type NodeReport struct {
	ID       string      `json:"id"`
	Outcome  dag.Outcome `json:"outcome"`
	Reason   string      `json:"reason,omitempty"`
	CacheKey string      `json:"cache_key,omitempty"`
	Cause    string      `json:"cause,omitempty"`
	Error    string      `json:"error,omitempty"`
	Millis   int64       `json:"millis"`
}

// Run is the ledger entry for one execution of an experiment.
//
// previous_run_id is always present and null for the first run in a work root.
type Run struct {
	RunID         string         `json:"run_id"`
	Experiment    string         `json:"experiment"`
	GraphHash     string         `json:"graph_hash"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       *time.Time     `json:"end_time"`
	Status        RunStatus      `json:"status"`
	Jobs          int            `json:"jobs"`
	KeepGoing     bool           `json:"keep_going"`
	Nodes         []NodeReport   `json:"nodes"`
	Counts        map[string]int `json:"counts,omitempty"`
	TraceHash     string         `json:"trace_hash,omitempty"`
	PreviousRunID *string        `json:"previous_run_id"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.TrimSpace(r.Experiment) == "" {
		errs = append(errs, errors.New("experiment is required"))
	}
	// A run rejected before its graph compiled has no graph hash.
	if strings.TrimSpace(r.GraphHash) == "" && r.Status != RunStatusFailed {
		errs = append(errs, errors.New("graph_hash is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch r.Status {
	case RunStatusRunning:
		if r.EndTime != nil {
			errs = append(errs, errors.New("running run must not have end_time"))
		}
	case RunStatusSucceeded, RunStatusFailed:
		if r.EndTime == nil {
			errs = append(errs, fmt.Errorf("%s run requires end_time", r.Status))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if r.Jobs < 0 {
		errs = append(errs, errors.New("jobs must be >= 0"))
	}
	if r.Nodes == nil {
		errs = append(errs, errors.New("nodes must be an array (not null)"))
	}
	for i, n := range r.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			errs = append(errs, fmt.Errorf("nodes[%d]: id is required", i))
		}
	}
	if r.PreviousRunID != nil && strings.TrimSpace(*r.PreviousRunID) == "" {
		errs = append(errs, errors.New("previous_run_id must not be empty when provided"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Complete fills the outcome of a finished run from the executor's result.
func (r *Run) Complete(res *dag.RunResult, end time.Time) {
	end = end.UTC()
	r.EndTime = &end
	r.Status = RunStatusSucceeded
	if res.Failed() {
		r.Status = RunStatusFailed
	}
	r.Nodes = make([]NodeReport, 0, len(res.Order))
	for _, n := range res.Results() {
		r.Nodes = append(r.Nodes, NodeReport{
			ID:       n.ID,
			Outcome:  n.Outcome,
			Reason:   string(n.Reason),
			CacheKey: string(n.CacheKey),
			Cause:    n.Cause,
			Error:    n.Error,
			Millis:   n.Duration.Milliseconds(),
		})
	}
	r.Counts = make(map[string]int, len(dag.Outcomes))
	for o, c := range res.Counts() {
		r.Counts[string(o)] = c
	}
}

type FailureClass string

const (
	FailureClassGraph     FailureClass = "graph"
	FailureClassWorkspace FailureClass = "workspace"
	FailureClassExecution FailureClass = "execution"
	FailureClassSystem    FailureClass = "system"
)

// Failure is a recorded run termination reason.
type Failure struct {
	FailureClass FailureClass `json:"failure_class"`
	NodeID       *string      `json:"node_id,omitempty"`
	ErrorCode    string       `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassGraph, FailureClassWorkspace, FailureClassExecution, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if f.NodeID != nil && strings.TrimSpace(*f.NodeID) == "" {
		errs = append(errs, errors.New("node_id must not be empty when provided"))
	}
	if strings.TrimSpace(f.ErrorCode) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
