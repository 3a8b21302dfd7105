package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"brickflow/internal/dag"
)

// Ledger writes run.json and failure.json artifacts for runs.
//
// Callers open a run before executing, close it with the executor's result
// and record the error that ended it, if any.
type Ledger struct {
	Store *Store
	Now   func() time.Time
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// Begin persists a running entry for experiment and links it to the latest
// run found in the store.
func (l *Ledger) Begin(experiment string, graphHash dag.GraphHash, jobs int, keepGoing bool) (Run, error) {
	if l == nil || l.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	run := Run{
		RunID:      uuid.NewString(),
		Experiment: experiment,
		GraphHash:  string(graphHash),
		StartTime:  l.now(),
		Status:     RunStatusRunning,
		Jobs:       jobs,
		KeepGoing:  keepGoing,
		Nodes:      []NodeReport{},
	}
	prev, ok, err := l.Store.LatestRun()
	if err != nil {
		return Run{}, fmt.Errorf("reading ledger: %w", err)
	}
	if ok {
		id := prev.RunID
		run.PreviousRunID = &id
	}
	if err := l.Store.SaveRun(run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// Reject records a run that ended before its graph could be compiled.
func (l *Ledger) Reject(experiment string, cause error) (Run, error) {
	if l == nil || l.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	start := l.now()
	run := Run{
		RunID:      uuid.NewString(),
		Experiment: experiment,
		StartTime:  start,
		EndTime:    &start,
		Status:     RunStatusFailed,
		Nodes:      []NodeReport{},
	}
	if err := l.Store.SaveRun(run); err != nil {
		return Run{}, err
	}
	return run, l.RecordFailure(run.RunID, cause)
}

// Finish records the executor's result and the canonical trace hash.
func (l *Ledger) Finish(run Run, res *dag.RunResult, traceHash string) (Run, error) {
	if l == nil || l.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	run.Complete(res, l.now())
	run.TraceHash = traceHash
	if err := l.Store.SaveRun(run); err != nil {
		return Run{}, err
	}
	if len(res.Failures) > 0 {
		if err := l.RecordFailure(run.RunID, res.Failures[0]); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}

// Abort closes a run that ended without a result.
func (l *Ledger) Abort(run Run, cause error) error {
	if l == nil || l.Store == nil {
		return errors.New("Store is required")
	}
	end := l.now()
	run.EndTime = &end
	run.Status = RunStatusFailed
	if err := l.Store.SaveRun(run); err != nil {
		return err
	}
	return l.RecordFailure(run.RunID, cause)
}

func (l *Ledger) RecordFailure(runID string, err error) error {
	if l == nil || l.Store == nil {
		return errors.New("Store is required")
	}
	f, ferr := FailureFromError(err)
	if ferr != nil {
		return ferr
	}
	return l.Store.SaveFailure(runID, f)
}
