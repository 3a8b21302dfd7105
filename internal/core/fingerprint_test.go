package core

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestFingerprint_IdenticalContentDifferentPaths(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, filepath.Join(dir, "a.txt"), "same bytes")
	b := writeFile(t, filepath.Join(dir, "nested", "b.txt"), "same bytes")

	store := NewFingerprintStore(nil)
	fa, err := store.Fingerprint(FileRef(SlotID{"n", "a"}, a))
	if err != nil {
		t.Fatalf("Fingerprint(a): %v", err)
	}
	fb, err := store.Fingerprint(FileRef(SlotID{"m", "b"}, b))
	if err != nil {
		t.Fatalf("Fingerprint(b): %v", err)
	}
	if fa != fb {
		t.Errorf("identical content produced %s and %s", fa, fb)
	}
}

func TestFingerprint_ContentChangeChangesFingerprint(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, filepath.Join(dir, "f"), "v1")
	before, err := FingerprintFile(p)
	if err != nil {
		t.Fatalf("FingerprintFile: %v", err)
	}
	writeFile(t, p, "v2")
	after, err := FingerprintFile(p)
	if err != nil {
		t.Fatalf("FingerprintFile: %v", err)
	}
	if before == after {
		t.Error("content change did not change fingerprint")
	}
}

func TestFingerprint_MemoizedWithinRun(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, filepath.Join(dir, "f"), "v1")
	store := NewFingerprintStore(nil)
	ref := FileRef(SlotID{"n", "in"}, p)

	first, err := store.Fingerprint(ref)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	writeFile(t, p, "changed behind the store's back")
	second, err := store.Fingerprint(ref)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if first != second {
		t.Error("fingerprint was recomputed within one run")
	}
	if store.Hashed() != 1 {
		t.Errorf("Hashed() = %d, want 1", store.Hashed())
	}

	store.Forget(p)
	third, err := store.Fingerprint(ref)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if third == first {
		t.Error("Forget did not drop the memoized fingerprint")
	}

	fresh := NewFingerprintStore(nil)
	again, err := fresh.Fingerprint(ref)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if again != third {
		t.Error("a new store must digest current content")
	}
}

func TestFingerprint_ListOrderAndMembership(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, filepath.Join(dir, "a"), "alpha")
	b := writeFile(t, filepath.Join(dir, "b"), "beta")
	c := writeFile(t, filepath.Join(dir, "c"), "gamma")
	slot := SlotID{"n", "corpus"}
	store := NewFingerprintStore(nil)

	fp := func(paths ...string) Fingerprint {
		t.Helper()
		f, err := store.Fingerprint(ListRef(slot, paths))
		if err != nil {
			t.Fatalf("Fingerprint(list): %v", err)
		}
		return f
	}

	base := fp(a, b)
	if base != fp(a, b) {
		t.Fatal("list fingerprint is not deterministic")
	}
	if base == fp(b, a) {
		t.Error("reordered members produced the same fingerprint")
	}
	if base == fp(a, b, c) {
		t.Error("added member produced the same fingerprint")
	}
	if base == fp(a) {
		t.Error("removed member produced the same fingerprint")
	}
	if fp() == fp(a) {
		t.Error("empty list collides with one-member list")
	}
}

func TestFingerprint_DirectoryListingIsLexicographic(t *testing.T) {
	dir := t.TempDir()
	listDir := filepath.Join(dir, "out")
	writeFile(t, filepath.Join(listDir, "0002.txt"), "two")
	writeFile(t, filepath.Join(listDir, "0001.txt"), "one")
	slot := SlotID{"n", "out"}

	store := NewFingerprintStore(nil)
	got, err := store.Fingerprint(DirListRef(slot, listDir))
	if err != nil {
		t.Fatalf("Fingerprint(dir list): %v", err)
	}
	want, err := store.Fingerprint(ListRef(slot, []string{
		filepath.Join(listDir, "0001.txt"),
		filepath.Join(listDir, "0002.txt"),
	}))
	if err != nil {
		t.Fatalf("Fingerprint(list): %v", err)
	}
	if got != want {
		t.Error("directory listing does not match explicit lexicographic list")
	}
}

func TestFingerprint_MissingFileIsUnreadable(t *testing.T) {
	store := NewFingerprintStore(nil)
	slot := SlotID{"Exp/a", "text"}
	_, err := store.Fingerprint(FileRef(slot, filepath.Join(t.TempDir(), "absent")))
	if !errors.Is(err, ErrUnreadableArtifact) {
		t.Fatalf("expected ErrUnreadableArtifact, got %v", err)
	}
	var ue *UnreadableArtifactError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnreadableArtifactError, got %T", err)
	}
	if ue.Slot != slot {
		t.Errorf("error slot = %v, want %v", ue.Slot, slot)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("underlying not-exist cause was lost")
	}
}

func TestFingerprint_ConcurrentRequestsHashOnce(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, filepath.Join(dir, "big"), string(make([]byte, 4<<20)))
	store := NewFingerprintStore(nil)

	const workers = 16
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		fps   = make([]Fingerprint, workers)
		errs  = make([]error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			fps[i], errs[i] = store.Fingerprint(FileRef(SlotID{"n", "in"}, p))
		}(i)
	}
	close(start)
	wg.Wait()

	for i := range fps {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if fps[i] != fps[0] {
			t.Fatalf("worker %d saw %s, worker 0 saw %s", i, fps[i], fps[0])
		}
	}
	if store.Hashed() != 1 {
		t.Errorf("Hashed() = %d, want 1", store.Hashed())
	}
}
