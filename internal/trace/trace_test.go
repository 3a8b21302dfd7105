package trace

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestCanonicalTraceStability_ByteForByte(t *testing.T) {
	trace1 := ExecutionTrace{
		GraphHash: "graph-abc",
		Events: []TraceEvent{
			{Kind: EventNodeComputed, NodeID: "Exp/b"},
			{Kind: EventCacheHit, NodeID: "Exp/a", CacheKey: "k1"},
			{Kind: EventNodeNotReached, NodeID: "Exp/c", Reason: "upstream-failed", Cause: "Exp/b"},
		},
	}
	trace2 := ExecutionTrace{
		GraphHash: "graph-abc",
		Events: []TraceEvent{
			{Kind: EventNodeNotReached, NodeID: "Exp/c", Cause: "Exp/b", Reason: "upstream-failed"},
			{Kind: EventCacheHit, NodeID: "Exp/a", CacheKey: "k1"},
			{Kind: EventNodeComputed, NodeID: "Exp/b"},
		},
	}

	b1, err := trace1.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (1): %v", err)
	}
	b2, err := trace2.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (2): %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected identical bytes\n1=%s\n2=%s", b1, b2)
	}
}

func TestCanonicalOrdering_NodeThenDecision(t *testing.T) {
	tr := ExecutionTrace{
		GraphHash: "g",
		Events: []TraceEvent{
			{Kind: EventNodeComputed, NodeID: "b"},
			{Kind: EventCachePublished, NodeID: "a", CacheKey: "k"},
			{Kind: EventNodeStale, NodeID: "a", Reason: "no-record"},
		},
	}
	b, err := tr.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	expected := `{"graphHash":"g","events":[` +
		`{"kind":"NodeStale","nodeId":"a","reason":"no-record"},` +
		`{"kind":"CachePublished","nodeId":"a","cacheKey":"k"},` +
		`{"kind":"NodeComputed","nodeId":"b"}]}`
	if string(b) != expected {
		t.Fatalf("unexpected canonical bytes\nexpected=%s\nactual  =%s", expected, b)
	}
}

func TestEventArtifacts_CanonicalizedAndOmittedWhenEmpty(t *testing.T) {
	tr := ExecutionTrace{
		GraphHash: "g",
		Events: []TraceEvent{{
			Kind:      EventCacheHit,
			NodeID:    "a",
			Artifacts: []string{"a:z", "a:b"},
		}},
	}
	b, err := tr.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	expected := `{"graphHash":"g","events":[{"kind":"CacheHit","nodeId":"a","artifacts":["a:b","a:z"]}]}`
	if string(b) != expected {
		t.Fatalf("unexpected canonical bytes\nexpected=%s\nactual  =%s", expected, b)
	}

	tr2 := ExecutionTrace{GraphHash: "g", Events: []TraceEvent{{Kind: EventNodeSkipped, NodeID: "a", Artifacts: []string{}}}}
	b2, err := tr2.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	if want := `{"graphHash":"g","events":[{"kind":"NodeSkipped","nodeId":"a"}]}`; string(b2) != want {
		t.Fatalf("unexpected canonical bytes\nexpected=%s\nactual  =%s", want, b2)
	}
}

func TestValidate_RejectsIncompleteEvents(t *testing.T) {
	tests := []ExecutionTrace{
		{Events: nil},
		{GraphHash: "g", Events: []TraceEvent{{NodeID: "a"}}},
		{GraphHash: "g", Events: []TraceEvent{{Kind: EventNodeSkipped}}},
		{GraphHash: "g", Events: []TraceEvent{{Kind: EventNodeSkipped, NodeID: "a", Artifacts: []string{""}}}},
	}
	for i, tr := range tests {
		if _, err := tr.CanonicalJSON(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestRecorder_ConcurrentRecordingIsOrderIndependent(t *testing.T) {
	events := []TraceEvent{
		{Kind: EventNodeComputed, NodeID: "Exp/a"},
		{Kind: EventNodeComputed, NodeID: "Exp/b"},
		{Kind: EventNodeFailed, NodeID: "Exp/c", Reason: "exit-status"},
		{Kind: EventNodeNotReached, NodeID: "Exp", Cause: "Exp/c"},
	}

	hashes := make(map[string]struct{})
	for round := 0; round < 5; round++ {
		rec := NewRecorder()
		var wg sync.WaitGroup
		for _, e := range events {
			wg.Add(1)
			go func(e TraceEvent) {
				defer wg.Done()
				SafeRecord(rec, e)
			}(e)
		}
		wg.Wait()
		h, err := rec.Trace("g").Hash()
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		hashes[h] = struct{}{}
	}
	if len(hashes) != 1 {
		t.Fatalf("expected one canonical hash, got %d", len(hashes))
	}
}

func TestRecorder_WriteFile(t *testing.T) {
	rec := NewRecorder()
	rec.Record(TraceEvent{Kind: EventNodeSkipped, NodeID: "Exp"})

	path := filepath.Join(t.TempDir(), "traces", "run.json")
	h, err := rec.WriteFile(path, "g")
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := ComputeTraceHash(bytes.TrimSuffix(b, []byte("\n"))); got != h {
		t.Fatalf("file hash %s != returned %s", got, h)
	}
}

type panickySink struct{}

func (panickySink) Record(TraceEvent) { panic("boom") }

func TestSafeRecord_SwallowsPanics(t *testing.T) {
	SafeRecord(panickySink{}, TraceEvent{Kind: EventNodeSkipped, NodeID: "a"})
	SafeRecord(nil, TraceEvent{Kind: EventNodeSkipped, NodeID: "a"})
}
