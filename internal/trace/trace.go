package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ExecutionTrace is the canonical, deterministic record of a graph run.
//
// Invariants:
//   - Captures the GraphHash and the logical decisions taken per node.
//   - Contains no timestamps, durations, error strings, or pointer-derived
//     values, so two runs taking the same decisions produce identical bytes
//     regardless of scheduling.
//
// Events are put in canonical order by Canonicalize; CanonicalJSON fixes
// field order and omits absent optional fields.
//
// The trace is observational only and must never affect execution behavior.
type ExecutionTrace struct {
	GraphHash string
	Events    []TraceEvent
}

// TraceEventKind is the stable, canonical discriminator for TraceEvent.
// The string values are part of the trace's canonical bytes; do not rename.
type TraceEventKind string

const (
	EventNodeStale      TraceEventKind = "NodeStale"
	EventNodeSkipped    TraceEventKind = "NodeSkipped"
	EventCacheCorrupted TraceEventKind = "CacheCorrupted"
	EventCacheHit       TraceEventKind = "CacheHit"
	EventNodeComputed   TraceEventKind = "NodeComputed"
	EventCachePublished TraceEventKind = "CachePublished"
	EventNodeFailed     TraceEventKind = "NodeFailed"
	EventNodeNotReached TraceEventKind = "NodeNotReached"
)

// TraceEvent is a single logical decision about one node.
//
// Optional fields must be set deterministically:
//   - Reason is a stable code such as "input-changed" or "exit-status".
//   - Cause names a related node, e.g. the failed upstream of a NotReached node.
//   - CacheKey is set on cache events.
//   - Artifacts lists slot identifiers and is sorted on canonicalization.
type TraceEvent struct {
	Kind   TraceEventKind
	NodeID string

	Reason   string
	Cause    string
	CacheKey string

	Artifacts []string
}

// Validate checks basic invariants and returns a descriptive error.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.GraphHash == "" {
		return errors.New("graphHash is required")
	}
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.NodeID == "" {
			return fmt.Errorf("events[%d].nodeId is required for kind %q", i, e.Kind)
		}
		for j, a := range e.Artifacts {
			if a == "" {
				return fmt.Errorf("events[%d].artifacts[%d] is empty", i, j)
			}
		}
	}
	return nil
}

// Canonicalize normalizes and sorts the trace into its canonical form.
//
// Rules:
//   - Artifacts are copied and sorted; empty slices become nil.
//   - Events are stably sorted by (nodeId, kindOrder, reason, cause,
//     cacheKey, artifactsLex).
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Artifacts) == 0 {
			t.Events[i].Artifacts = nil
			continue
		}
		art := make([]string, len(t.Events[i].Artifacts))
		copy(art, t.Events[i].Artifacts)
		sort.Strings(art)
		t.Events[i].Artifacts = art
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a, b := t.Events[i], t.Events[j]
		if a.NodeID != b.NodeID {
			return a.NodeID < b.NodeID
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		if a.Cause != b.Cause {
			return a.Cause < b.Cause
		}
		if a.CacheKey != b.CacheKey {
			return a.CacheKey < b.CacheKey
		}
		return compareStringSlices(a.Artifacts, b.Artifacts)
	})
}

// kindOrder follows the order decisions are taken for a node.
func kindOrder(k TraceEventKind) int {
	switch k {
	case EventNodeStale:
		return 10
	case EventNodeSkipped:
		return 20
	case EventCacheCorrupted:
		return 30
	case EventCacheHit:
		return 40
	case EventNodeComputed:
		return 50
	case EventCachePublished:
		return 60
	case EventNodeFailed:
		return 70
	case EventNodeNotReached:
		return 80
	default:
		return 1000
	}
}

func compareStringSlices(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// CanonicalJSON returns the canonical JSON encoding of the trace.
// It canonicalizes a copy of the trace to avoid mutating the caller's slices.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	cp := ExecutionTrace{GraphHash: t.GraphHash}
	cp.Events = make([]TraceEvent, len(t.Events))
	copy(cp.Events, t.Events)
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash returns the deterministic trace hash of the canonical JSON bytes.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// MarshalJSON fixes field order. It does not sort events.
func (t ExecutionTrace) MarshalJSON() ([]byte, error) {
	if t.GraphHash == "" {
		return nil, errors.New("graphHash is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"graphHash":`)
	gh, _ := json.Marshal(t.GraphHash)
	buf.Write(gh)

	buf.WriteString(`,"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e TraceEvent) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var artifacts []string
	if len(e.Artifacts) > 0 {
		artifacts = make([]string, len(e.Artifacts))
		copy(artifacts, e.Artifacts)
		sort.Strings(artifacts)
	}

	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)

	field := func(name, value string) {
		if value == "" {
			return
		}
		buf.WriteString(`,"` + name + `":`)
		vb, _ := json.Marshal(value)
		buf.Write(vb)
	}
	field("nodeId", e.NodeID)
	field("reason", e.Reason)
	field("cause", e.Cause)
	field("cacheKey", e.CacheKey)

	if len(artifacts) > 0 {
		buf.WriteString(`,"artifacts":`)
		ab, _ := json.Marshal(artifacts)
		buf.Write(ab)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
