package dag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"brickflow/internal/brick"
	"brickflow/internal/core"
	"brickflow/internal/trace"
	"brickflow/internal/workspace"
)

// Work runs the node's own work in its prepared working directory.
//
// A non-zero status marks the node Failed. A non-nil error means the work
// could not run at all and is reported the same way.
type Work interface {
	Invoke(ctx context.Context, nodeID, dir string) (int, error)
}

// WorkFunc adapts a function to Work.
type WorkFunc func(ctx context.Context, nodeID, dir string) (int, error)

func (f WorkFunc) Invoke(ctx context.Context, nodeID, dir string) (int, error) {
	return f(ctx, nodeID, dir)
}

// Executor runs a Graph, invoking the work callback only for nodes that are
// stale and not satisfied from the cache.
//
// Guarantees:
//   - A node starts only after every node it depends on is Done or Fresh.
//   - The work callback runs at most once per node per run.
//   - Independent nodes run concurrently on up to Jobs workers.
//   - After a node fails no new node starts, unless KeepGoing is set, in
//     which case only the failed node's downstream cone is NotReached.
//
// The executor holds no state between runs; an Executor may be reused.
type Executor struct {
	Work      Work
	Workspace *workspace.Workspace

	// Records persists production records. Nil keeps them in memory, so
	// every node is stale on the first run of a process.
	Records core.RecordStore

	// Cache is consulted for cache-eligible nodes. Nil disables caching.
	Cache core.ContentCache

	Jobs      int
	KeepGoing bool

	Logger *slog.Logger
	Trace  trace.Sink
}

type run struct {
	e   *Executor
	g   *Graph
	fps *core.FingerprintStore
	log *slog.Logger

	mu      sync.Mutex
	state   ExecutionState
	results map[string]*NodeResult
	started []string
}

type nodeReport struct {
	id     string
	failed bool
	fatal  error
}

// Run executes g.
//
// Node-level failures (unreadable inputs, failed work) are collected in the
// result. Run returns an error only when the run itself cannot continue:
// cancellation, or a violated scheduling invariant.
func (e *Executor) Run(ctx context.Context, g *Graph) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if e.Work == nil {
		return nil, fmt.Errorf("nil work callback")
	}
	if e.Workspace == nil {
		return nil, fmt.Errorf("nil workspace")
	}
	jobs := max(e.Jobs, 1)

	r := &run{
		e:       e,
		g:       g,
		fps:     core.NewFingerprintStore(e.Records),
		log:     e.logger().With("graph", g.Hash().String()[:12]),
		state:   NewExecutionState(g),
		results: make(map[string]*NodeResult, len(g.steps)),
	}

	workCh := make(chan *Step, jobs)
	doneCh := make(chan nodeReport, len(g.steps))

	var wg sync.WaitGroup
	var stopOnce sync.Once
	stopWorkers := func() {
		stopOnce.Do(func() {
			close(workCh)
			wg.Wait()
		})
	}
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range workCh {
				doneCh <- r.execute(ctx, s)
			}
		}()
	}

	dispatched := make(map[string]bool, len(g.steps))
	inFlight := 0
	firstFailure := ""

	for {
		r.mu.Lock()
		var batch []*Step
		if firstFailure == "" || e.KeepGoing {
			for _, id := range ReadyNodes(g, r.state) {
				if inFlight+len(batch) >= jobs {
					break
				}
				if dispatched[id] {
					continue
				}
				dispatched[id] = true
				batch = append(batch, g.stepsByID[id])
			}
		}
		r.mu.Unlock()

		for _, s := range batch {
			workCh <- s
			inFlight++
		}
		if inFlight == 0 {
			break
		}

		select {
		case <-ctx.Done():
			stopWorkers()
			return nil, fmt.Errorf("run cancelled: %w", ctx.Err())
		case rep := <-doneCh:
			inFlight--
			if rep.fatal != nil {
				stopWorkers()
				return nil, rep.fatal
			}
			if !rep.failed {
				continue
			}
			r.mu.Lock()
			if firstFailure == "" {
				firstFailure = rep.id
			}
			if e.KeepGoing {
				marked, err := MarkDownstreamNotReached(g, r.state, rep.id)
				if err != nil {
					r.mu.Unlock()
					stopWorkers()
					return nil, err
				}
				r.notReached(marked, rep.id)
			}
			r.mu.Unlock()
		}
	}
	stopWorkers()

	r.mu.Lock()
	defer r.mu.Unlock()
	if firstFailure != "" {
		r.notReached(MarkAllNotReached(g, r.state), firstFailure)
	}
	for _, s := range g.steps {
		if st := r.state[s.ID()]; !IsTerminal(st) {
			return nil, invariantf("run ended with %q in state %s", s.ID(), st)
		}
	}

	res := &RunResult{
		GraphHash:  g.Hash(),
		Order:      g.TopoOrder(),
		Nodes:      r.results,
		Started:    r.started,
		FinalState: r.state.Clone(),
	}
	for _, id := range res.Order {
		if n := r.results[id]; n.Outcome == OutcomeFailed {
			res.Failures = append(res.Failures, n.Err)
		}
	}
	counts := res.Counts()
	r.log.Info("run finished",
		"skipped", counts[OutcomeSkipped],
		"cache_hit", counts[OutcomeCacheHit],
		"computed", counts[OutcomeComputed],
		"failed", counts[OutcomeFailed],
		"not_reached", counts[OutcomeNotReached])
	return res, nil
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e.Logger
}

// notReached records results for nodes marked NotReached. Callers hold r.mu.
func (r *run) notReached(ids []string, cause string) {
	for _, id := range ids {
		r.results[id] = &NodeResult{ID: id, Outcome: OutcomeNotReached, Cause: cause}
		trace.SafeRecord(r.e.Trace, trace.TraceEvent{Kind: trace.EventNodeNotReached, NodeID: id, Cause: cause})
		r.log.Debug("node not reached", "node", id, "cause", cause)
	}
}

func (r *run) execute(ctx context.Context, s *Step) nodeReport {
	rep := nodeReport{id: s.ID()}
	if err := ctx.Err(); err != nil {
		rep.fatal = fmt.Errorf("run cancelled: %w", err)
		return rep
	}

	res := &NodeResult{ID: s.ID()}
	begin := time.Now()
	if err := r.produce(ctx, s, res); err != nil {
		rep.fatal = err
		return rep
	}
	res.Duration = time.Since(begin)

	r.mu.Lock()
	r.results[s.ID()] = res
	r.mu.Unlock()
	rep.failed = res.Outcome == OutcomeFailed
	return rep
}

// produce takes the node through staleness, cache and work. It fills res
// and returns an error only for violated invariants.
func (r *run) produce(ctx context.Context, s *Step, res *NodeResult) error {
	id := s.ID()
	ws := r.e.Workspace
	log := r.log.With("node", id)

	if err := r.checkDependencies(s); err != nil {
		return err
	}
	inputs, outputs := r.refs(s)
	own := ownRefs(s, outputs)

	variant, err := variantOf(s.Node)
	if err != nil {
		return r.fail(s, res, NodePending, err, "variant")
	}
	verdict, err := r.fps.Check(id, variant, inputs, outputs)
	if err != nil {
		reason := "check"
		if errors.Is(err, core.ErrUnreadableArtifact) {
			reason = "unreadable-artifact"
		}
		return r.fail(s, res, NodePending, err, reason)
	}
	if !verdict.Stale && r.upstreamChanged(s) {
		verdict.Stale = true
		verdict.Reason = core.ReasonUpstreamChanged
	}

	if !verdict.Stale {
		if err := r.prepare(s, inputs, outputs); err != nil {
			return r.fail(s, res, NodePending, err, "workspace")
		}
		if err := r.transition(id, NodePending, NodeFresh); err != nil {
			return err
		}
		res.Outcome = OutcomeSkipped
		trace.SafeRecord(r.e.Trace, trace.TraceEvent{Kind: trace.EventNodeSkipped, NodeID: id})
		log.Debug("node fresh")
		return nil
	}

	if err := r.transition(id, NodePending, NodeStale); err != nil {
		return err
	}
	res.Reason, res.Slot = verdict.Reason, verdict.Slot
	trace.SafeRecord(r.e.Trace, trace.TraceEvent{Kind: trace.EventNodeStale, NodeID: id, Reason: string(verdict.Reason), Artifacts: slotArtifacts(id, verdict.Slot)})
	log.Info("node stale", "reason", verdict.Reason, "slot", verdict.Slot)

	if err := r.prepare(s, inputs, outputs); err != nil {
		return r.fail(s, res, NodeStale, err, "workspace")
	}

	var key core.CacheKey
	if s.CacheEligible() && r.e.Cache != nil {
		key, err = core.DeriveCacheKey(verdict.Inputs, variant)
		if err != nil {
			return r.fail(s, res, NodeStale, err, "cache-key")
		}
		res.CacheKey = key
		hit, err := r.restore(ctx, s, key, own)
		if err != nil {
			return r.fail(s, res, NodeStale, err, "cache-restore")
		}
		if hit {
			if _, err := r.fps.Record(id, variant, verdict.Inputs, outputs, key, core.SourceCache); err != nil {
				return r.fail(s, res, NodeStale, err, "record")
			}
			if err := r.transition(id, NodeStale, NodeDone); err != nil {
				return err
			}
			res.Outcome = OutcomeCacheHit
			trace.SafeRecord(r.e.Trace, trace.TraceEvent{Kind: trace.EventCacheHit, NodeID: id, CacheKey: key.String()})
			log.Info("cache hit", "key", key)
			return nil
		}
	}

	if err := r.fps.Invalidate(id, own); err != nil {
		return r.fail(s, res, NodeStale, err, "record")
	}
	for _, out := range own {
		if err := ws.ClearOutput(out.Slot); err != nil {
			return r.fail(s, res, NodeStale, err, "workspace")
		}
	}

	if err := r.transition(id, NodeStale, NodeRunning); err != nil {
		return err
	}
	r.mu.Lock()
	r.started = append(r.started, id)
	r.mu.Unlock()

	code, err := r.e.Work.Invoke(ctx, id, ws.NodeDir(id))
	if err != nil || code != 0 {
		res.ExitCode = code
		return r.fail(s, res, NodeRunning, &WorkCallbackError{Node: id, ExitCode: code, Err: err}, "exit-status")
	}
	for _, out := range outputs {
		ok, err := out.Exists()
		if err == nil && !ok {
			err = fmt.Errorf("output %s was not produced", out.Slot.Name)
		}
		if err != nil {
			return r.fail(s, res, NodeRunning, &WorkCallbackError{Node: id, Err: err}, "output-missing")
		}
	}

	if key != "" {
		if _, err := r.e.Cache.Publish(ctx, key, ws.Stage(own)); err != nil {
			log.Warn("cache publish failed", "key", key, "err", err)
		} else {
			trace.SafeRecord(r.e.Trace, trace.TraceEvent{Kind: trace.EventCachePublished, NodeID: id, CacheKey: key.String()})
			log.Debug("cache published", "key", key)
		}
	}

	if _, err := r.fps.Record(id, variant, verdict.Inputs, outputs, key, core.SourceComputed); err != nil {
		return r.fail(s, res, NodeRunning, err, "record")
	}
	if err := r.transition(id, NodeRunning, NodeDone); err != nil {
		return err
	}
	res.Outcome = OutcomeComputed
	trace.SafeRecord(r.e.Trace, trace.TraceEvent{Kind: trace.EventNodeComputed, NodeID: id})
	log.Info("node computed")
	return nil
}

// restore satisfies the node's own outputs from the cache. Corrupt or
// unusable entries count as misses.
func (r *run) restore(ctx context.Context, s *Step, key core.CacheKey, own []core.ArtifactRef) (bool, error) {
	id := s.ID()
	log := r.log.With("node", id, "key", key)

	entry, err := r.e.Cache.Lookup(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrCacheCorruption) {
			trace.SafeRecord(r.e.Trace, trace.TraceEvent{Kind: trace.EventCacheCorrupted, NodeID: id, CacheKey: key.String()})
			log.Warn("cache entry corrupt, recomputing", "err", err)
		} else {
			log.Warn("cache lookup failed, recomputing", "err", err)
		}
		return false, nil
	}
	if entry == nil {
		log.Debug("cache miss")
		return false, nil
	}

	if err := r.fps.Invalidate(id, own); err != nil {
		return false, err
	}
	if err := r.e.Workspace.MaterializeEntry(entry, own); err != nil {
		trace.SafeRecord(r.e.Trace, trace.TraceEvent{Kind: trace.EventCacheCorrupted, NodeID: id, Reason: "materialize", CacheKey: key.String()})
		log.Warn("cache entry unusable, recomputing", "err", err)
		return false, nil
	}
	return true, nil
}

// fail marks the node Failed from state from. It returns an error only when
// the transition itself is invalid.
func (r *run) fail(s *Step, res *NodeResult, from NodeState, err error, reason string) error {
	if terr := r.transition(s.ID(), from, NodeFailed); terr != nil {
		return terr
	}
	res.Outcome = OutcomeFailed
	res.Err = err
	res.Error = err.Error()
	trace.SafeRecord(r.e.Trace, trace.TraceEvent{Kind: trace.EventNodeFailed, NodeID: s.ID(), Reason: reason})
	r.log.Error("node failed", "node", s.ID(), "reason", reason, "err", err)
	return nil
}

func (r *run) transition(id string, from, to NodeState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Transition(r.state, id, from, to)
}

// checkDependencies verifies that every producer the node reads from has
// finished successfully.
func (r *run) checkDependencies(s *Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.g.incoming[s.canonicalIndex] {
		dep := r.g.steps[p].ID()
		if st := r.state[dep]; !IsSuccessful(st) {
			return invariantf("%s started while dependency %s is %s", s.ID(), dep, st)
		}
	}
	return nil
}

// upstreamChanged reports whether a dependency was reproduced in this run.
func (r *run) upstreamChanged(s *Step) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.g.incoming[s.canonicalIndex] {
		if res, ok := r.results[r.g.steps[p].ID()]; ok {
			if res.Outcome == OutcomeComputed || res.Outcome == OutcomeCacheHit {
				return true
			}
		}
	}
	return false
}

// refs resolves the node's slots to artifact refs. Refs carry the node's own
// slot identity while pointing at the producing location.
func (r *run) refs(s *Step) (inputs, outputs []core.ArtifactRef) {
	return resolveRefs(r.e.Workspace.Layout, s)
}

func resolveRefs(lay workspace.Layout, s *Step) (inputs, outputs []core.ArtifactRef) {
	for _, in := range s.Inputs {
		slot := s.Node.SlotID(in.Slot.Name)
		var ref core.ArtifactRef
		switch {
		case !in.IsExternal():
			ref = lay.OutputRef(in.Producer, in.Slot.Kind)
			ref.Slot = slot
		case in.Slot.Kind == core.FileList:
			ref = core.ListRef(slot, in.External)
		default:
			ref = core.FileRef(slot, in.External[0])
		}
		inputs = append(inputs, ref)
	}
	for _, out := range s.Outputs {
		ref := lay.OutputRef(out.Producer, out.Slot.Kind)
		ref.Slot = s.Node.SlotID(out.Slot.Name)
		outputs = append(outputs, ref)
	}
	return inputs, outputs
}

func ownRefs(s *Step, outputs []core.ArtifactRef) []core.ArtifactRef {
	var own []core.ArtifactRef
	for i, out := range s.Outputs {
		if !out.Bound {
			own = append(own, outputs[i])
		}
	}
	return own
}

// prepare materializes inputs and bound outputs into the node directory.
func (r *run) prepare(s *Step, inputs, outputs []core.ArtifactRef) error {
	ws := r.e.Workspace
	if err := ws.EnsureNodeDir(s.ID()); err != nil {
		return err
	}
	for _, in := range inputs {
		if err := ws.LinkInput(in.Slot, in); err != nil {
			return err
		}
	}
	for i, out := range s.Outputs {
		if !out.Bound {
			continue
		}
		if err := ws.LinkOutput(outputs[i].Slot, outputs[i]); err != nil {
			return err
		}
	}
	return nil
}

func variantOf(n *brick.Node) (string, error) {
	v := core.Variant{Template: n.Template, Run: n.Run, Config: n.Config}
	if n.Cache != nil {
		v.Version = n.Cache.Version
	}
	return core.VariantTag(v)
}

func slotArtifacts(node, slot string) []string {
	if slot == "" {
		return nil
	}
	return []string{node + ":" + slot}
}
