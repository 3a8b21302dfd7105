package core

import (
	"os"
	"path/filepath"
	"testing"
)

type stalenessFixture struct {
	store   *FingerprintStore
	records *MemoryRecordStore
	in      ArtifactRef
	out     ArtifactRef
}

func newStalenessFixture(t *testing.T) *stalenessFixture {
	t.Helper()
	dir := t.TempDir()
	in := writeFile(t, filepath.Join(dir, "in.txt"), "input v1")
	out := writeFile(t, filepath.Join(dir, "out.txt"), "output v1")
	records := NewMemoryRecordStore()
	return &stalenessFixture{
		store:   NewFingerprintStore(records),
		records: records,
		in:      FileRef(SlotID{"Exp/a", "text"}, in),
		out:     FileRef(SlotID{"Exp/a", "model"}, out),
	}
}

func (f *stalenessFixture) record(t *testing.T, variant string) {
	t.Helper()
	v, err := f.store.Check("Exp/a", variant, []ArtifactRef{f.in}, []ArtifactRef{f.out})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if _, err := f.store.Record("Exp/a", variant, v.Inputs, []ArtifactRef{f.out}, "", SourceComputed); err != nil {
		t.Fatalf("Record: %v", err)
	}
}

// check runs a staleness check with a fresh per-run store over the same records.
func (f *stalenessFixture) check(t *testing.T, variant string) Verdict {
	t.Helper()
	store := NewFingerprintStore(f.records)
	v, err := store.Check("Exp/a", variant, []ArtifactRef{f.in}, []ArtifactRef{f.out})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	return v
}

func TestCheck_NoRecordIsStale(t *testing.T) {
	f := newStalenessFixture(t)
	v := f.check(t, "v1")
	if !v.Stale || v.Reason != ReasonNoRecord {
		t.Fatalf("verdict = %+v, want stale/no-record", v)
	}
	if v.Inputs["text"] == "" {
		t.Error("verdict does not carry current input fingerprints")
	}
}

func TestCheck_FreshAfterRecord(t *testing.T) {
	f := newStalenessFixture(t)
	f.record(t, "v1")
	if v := f.check(t, "v1"); v.Stale {
		t.Fatalf("verdict = %+v, want fresh", v)
	}
}

func TestCheck_Reasons(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(t *testing.T, f *stalenessFixture)
		variant string
		want    StaleReason
	}{
		{
			name: "input changed",
			mutate: func(t *testing.T, f *stalenessFixture) {
				writeFile(t, f.in.Paths[0], "input v2")
			},
			variant: "v1",
			want:    ReasonInputChanged,
		},
		{
			name: "output missing",
			mutate: func(t *testing.T, f *stalenessFixture) {
				if err := os.Remove(f.out.Paths[0]); err != nil {
					t.Fatal(err)
				}
			},
			variant: "v1",
			want:    ReasonOutputMissing,
		},
		{
			name: "output replaced externally",
			mutate: func(t *testing.T, f *stalenessFixture) {
				writeFile(t, f.out.Paths[0], "hand edited")
			},
			variant: "v1",
			want:    ReasonOutputChanged,
		},
		{
			name:    "variant changed",
			mutate:  func(t *testing.T, f *stalenessFixture) {},
			variant: "v2",
			want:    ReasonVariantChanged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStalenessFixture(t)
			f.record(t, "v1")
			tt.mutate(t, f)
			v := f.check(t, tt.variant)
			if !v.Stale || v.Reason != tt.want {
				t.Fatalf("verdict = %+v, want stale/%s", v, tt.want)
			}
		})
	}
}

func TestCheck_UnreadableInputIsError(t *testing.T) {
	f := newStalenessFixture(t)
	if err := os.Remove(f.in.Paths[0]); err != nil {
		t.Fatal(err)
	}
	_, err := f.store.Check("Exp/a", "v1", []ArtifactRef{f.in}, []ArtifactRef{f.out})
	if err == nil {
		t.Fatal("expected error for unreadable input")
	}
}

func TestIsStale_FollowsRecord(t *testing.T) {
	f := newStalenessFixture(t)
	stale, err := f.store.IsStale(f.out, []ArtifactRef{f.in})
	if err != nil || !stale {
		t.Fatalf("IsStale before record = (%v, %v), want (true, nil)", stale, err)
	}

	f.record(t, "v1")
	store := NewFingerprintStore(f.records)
	stale, err = store.IsStale(f.out, []ArtifactRef{f.in})
	if err != nil || stale {
		t.Fatalf("IsStale after record = (%v, %v), want (false, nil)", stale, err)
	}

	writeFile(t, f.in.Paths[0], "input v2")
	store = NewFingerprintStore(f.records)
	stale, err = store.IsStale(f.out, []ArtifactRef{f.in})
	if err != nil || !stale {
		t.Fatalf("IsStale after input change = (%v, %v), want (true, nil)", stale, err)
	}
}

func TestInvalidate_RemovesRecord(t *testing.T) {
	f := newStalenessFixture(t)
	f.record(t, "v1")
	if err := f.store.Invalidate("Exp/a", []ArtifactRef{f.out}); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	rec, err := f.records.LoadRecord("Exp/a")
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Error("record survived Invalidate")
	}
}
