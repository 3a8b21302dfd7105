package state

import (
	"os"
	"path/filepath"
	"testing"

	"brickflow/internal/core"
)

func TestFileRecordStore_RoundTrip(t *testing.T) {
	s := NewFileRecordStore(t.TempDir())
	rec := core.ProductionRecord{
		Node:     "Exp/prep/tokenize",
		Variant:  "v1",
		Inputs:   map[string]core.Fingerprint{"text": "aa"},
		Outputs:  map[string]core.Fingerprint{"tokens": "bb"},
		CacheKey: "aa,v1",
		Source:   core.SourceComputed,
	}
	if err := s.SaveRecord(rec); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir, "Exp", "prep", "tokenize.cbor")); err != nil {
		t.Fatalf("record not stored under the node path: %v", err)
	}

	got, err := s.LoadRecord(rec.Node)
	if err != nil || got == nil {
		t.Fatalf("LoadRecord: rec=%v err=%v", got, err)
	}
	if got.Variant != "v1" || got.Inputs["text"] != "aa" || got.Outputs["tokens"] != "bb" || got.CacheKey != "aa,v1" {
		t.Fatalf("loaded = %+v", got)
	}

	if err := s.DeleteRecord(rec.Node); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if got, err := s.LoadRecord(rec.Node); err != nil || got != nil {
		t.Fatalf("after delete: rec=%v err=%v", got, err)
	}
	if err := s.DeleteRecord(rec.Node); err != nil {
		t.Fatalf("deleting a missing record: %v", err)
	}
}

func TestFileRecordStore_CorruptRecordIsAbsent(t *testing.T) {
	s := NewFileRecordStore(t.TempDir())
	p := filepath.Join(s.Dir, "Exp.cbor")
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte{0xa5, 0x64, 0x6e}, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadRecord("Exp")
	if err != nil || got != nil {
		t.Fatalf("corrupt record: rec=%v err=%v", got, err)
	}
}

func TestFileRecordStore_RecordForOtherNodeIsAbsent(t *testing.T) {
	s := NewFileRecordStore(t.TempDir())
	rec := core.ProductionRecord{Node: "Exp/a", Source: core.SourceCache}
	if err := s.SaveRecord(rec); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, "Exp", "a.cbor"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir, "Exp", "b.cbor"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if got, err := s.LoadRecord("Exp/b"); err != nil || got != nil {
		t.Fatalf("misplaced record: rec=%v err=%v", got, err)
	}
}

func TestFileRecordStore_RejectsEscapingIDs(t *testing.T) {
	s := NewFileRecordStore(t.TempDir())
	for _, id := range []string{"", "../x", "a/../../x", "/abs", "a//b"} {
		if _, err := s.LoadRecord(id); err == nil {
			t.Errorf("LoadRecord(%q): expected error", id)
		}
	}
	if err := s.SaveRecord(core.ProductionRecord{Node: "Exp", Source: "bogus"}); err == nil {
		t.Fatal("expected invalid record to be rejected")
	}
}
