package dag

import (
	"context"
	"errors"

	"brickflow/internal/core"
)

// PlanEntry is the predicted decision for one node.
type PlanEntry struct {
	ID     string
	Stale  bool
	Reason core.StaleReason
	Slot   string

	// CacheKey and Cached are set for stale cache-eligible nodes whose inputs
	// are already known. Cached means the entry is present now.
	CacheKey core.CacheKey
	Cached   bool

	// Err is set when the node's inputs cannot be read.
	Err error
}

// Plan predicts, in topological order, which nodes a run would reproduce.
// It reads production records and the cache but changes nothing.
//
// A node whose dependency is predicted stale is predicted stale too, since
// its inputs are about to change.
func (e *Executor) Plan(ctx context.Context, g *Graph) ([]PlanEntry, error) {
	if g == nil {
		return nil, errors.New("nil graph")
	}
	if e.Workspace == nil {
		return nil, errors.New("nil workspace")
	}
	fps := core.NewFingerprintStore(e.Records)
	stale := make([]bool, len(g.steps))

	out := make([]PlanEntry, 0, len(g.steps))
	for _, idx := range g.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := g.steps[idx]
		entry := PlanEntry{ID: s.ID()}

		for _, p := range g.incoming[idx] {
			if stale[p] {
				entry.Stale, entry.Reason = true, core.ReasonUpstreamChanged
				break
			}
		}

		if !entry.Stale {
			variant, err := variantOf(s.Node)
			if err != nil {
				return nil, err
			}
			inputs, outputs := resolveRefs(e.Workspace.Layout, s)
			verdict, err := fps.Check(s.ID(), variant, inputs, outputs)
			if err != nil {
				entry.Stale, entry.Err = true, err
			} else {
				entry.Stale, entry.Reason, entry.Slot = verdict.Stale, verdict.Reason, verdict.Slot
			}
			if err == nil && verdict.Stale && s.CacheEligible() && e.Cache != nil {
				if key, kerr := core.DeriveCacheKey(verdict.Inputs, variant); kerr == nil {
					entry.CacheKey = key
					hit, lerr := core.Peek(ctx, e.Cache, key)
					entry.Cached = lerr == nil && hit != nil
				}
			}
		}

		stale[idx] = entry.Stale
		out = append(out, entry)
	}
	return out, nil
}
