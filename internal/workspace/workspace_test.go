package workspace

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"brickflow/internal/core"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func TestLayout_Paths(t *testing.T) {
	l := Layout{Root: "/work"}
	slot := core.SlotID{Node: "Exp/prep/tok", Name: "text"}
	if got := l.NodeDir("Exp/prep/tok"); got != filepath.FromSlash("/work/Exp/prep/tok") {
		t.Errorf("NodeDir = %s", got)
	}
	if got := l.InputPath(slot); got != filepath.FromSlash("/work/Exp/prep/tok/input/text") {
		t.Errorf("InputPath = %s", got)
	}
	if got := l.OutputPath(slot); got != filepath.FromSlash("/work/Exp/prep/tok/output/text") {
		t.Errorf("OutputPath = %s", got)
	}
	if got := l.LogPath("Exp"); got != filepath.FromSlash("/work/Exp/brick.log") {
		t.Errorf("LogPath = %s", got)
	}
	if ref := l.OutputRef(slot, core.FileList); !ref.Listing || ref.Kind != core.FileList {
		t.Errorf("list output ref = %+v", ref)
	}
	if ref := l.OutputRef(slot, core.SingleFile); ref.Listing || ref.Location() != l.OutputPath(slot) {
		t.Errorf("file output ref = %+v", ref)
	}
}

func TestLinkInput_File(t *testing.T) {
	for name, linker := range map[string]Linker{"symlink": SymlinkLinker{}, "copy": CopyLinker{}} {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			src := writeFile(t, filepath.Join(root, "data", "src.txt"), "hello")
			ws := New(filepath.Join(root, "work"), linker)
			slot := core.SlotID{Node: "Exp/a", Name: "in"}
			if err := ws.EnsureNodeDir("Exp/a"); err != nil {
				t.Fatal(err)
			}
			if err := ws.LinkInput(slot, core.FileRef(core.SlotID{}, src)); err != nil {
				t.Fatalf("LinkInput: %v", err)
			}
			if got := readFile(t, ws.InputPath(slot)); got != "hello" {
				t.Fatalf("input content = %q", got)
			}

			// Relinking replaces the previous link.
			other := writeFile(t, filepath.Join(root, "data", "other.txt"), "bye")
			if err := ws.LinkInput(slot, core.FileRef(core.SlotID{}, other)); err != nil {
				t.Fatalf("relink: %v", err)
			}
			if got := readFile(t, ws.InputPath(slot)); got != "bye" {
				t.Fatalf("relinked content = %q", got)
			}
		})
	}
}

func TestLinkInput_ExplicitListKeepsOrder(t *testing.T) {
	root := t.TempDir()
	z := writeFile(t, filepath.Join(root, "z.txt"), "z")
	a := writeFile(t, filepath.Join(root, "a.txt"), "a")
	ws := New(filepath.Join(root, "work"), nil)
	slot := core.SlotID{Node: "Exp/a", Name: "texts"}

	if err := ws.LinkInput(slot, core.ListRef(core.SlotID{}, []string{z, a})); err != nil {
		t.Fatalf("LinkInput: %v", err)
	}
	members, err := core.DirListRef(slot, ws.InputPath(slot)).Members()
	if err != nil {
		t.Fatal(err)
	}
	var names, contents []string
	for _, m := range members {
		names = append(names, filepath.Base(m))
		contents = append(contents, readFile(t, m))
	}
	if !reflect.DeepEqual(names, []string{"0000-z.txt", "0001-a.txt"}) {
		t.Fatalf("member names = %v", names)
	}
	if !reflect.DeepEqual(contents, []string{"z", "a"}) {
		t.Fatalf("member contents = %v", contents)
	}
}

func TestLinkInput_DirectoryListUsesOneLink(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "produced")
	writeFile(t, filepath.Join(dir, "b.txt"), "b")
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	ws := New(filepath.Join(root, "work"), SymlinkLinker{})
	slot := core.SlotID{Node: "Exp/b", Name: "in"}

	if err := ws.LinkInput(slot, core.DirListRef(core.SlotID{}, dir)); err != nil {
		t.Fatal(err)
	}
	info, err := os.Lstat(ws.InputPath(slot))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatalf("expected the list directory itself to be linked, mode %v", info.Mode())
	}
	members, err := core.DirListRef(slot, ws.InputPath(slot)).Members()
	if err != nil || len(members) != 2 || filepath.Base(members[0]) != "a.txt" {
		t.Fatalf("members = %v err = %v", members, err)
	}
}

func TestStageAndMaterializeEntry(t *testing.T) {
	root := t.TempDir()
	ws := New(filepath.Join(root, "work"), nil)
	model := core.SlotID{Node: "Exp/train", Name: "model"}
	shards := core.SlotID{Node: "Exp/train", Name: "shards"}
	writeFile(t, ws.OutputPath(model), "weights")
	writeFile(t, filepath.Join(ws.OutputPath(shards), "s0"), "zero")
	writeFile(t, filepath.Join(ws.OutputPath(shards), "s1"), "one")
	outs := []core.ArtifactRef{ws.OutputRef(model, core.SingleFile), ws.OutputRef(shards, core.FileList)}

	staged := t.TempDir()
	if err := ws.Stage(outs)(staged); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	entry, err := core.CollectEntry("k", staged)
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	for _, f := range entry.Files {
		paths = append(paths, f.Path)
	}
	if !reflect.DeepEqual(paths, []string{"model", "shards/s0", "shards/s1"}) {
		t.Fatalf("staged paths = %v", paths)
	}

	// Restore into another root's node.
	other := New(filepath.Join(root, "other"), nil)
	om := core.SlotID{Node: "Exp2/train", Name: "model"}
	osh := core.SlotID{Node: "Exp2/train", Name: "shards"}
	writeFile(t, filepath.Join(other.OutputPath(osh), "stale"), "old")
	targets := []core.ArtifactRef{other.OutputRef(om, core.SingleFile), other.OutputRef(osh, core.FileList)}
	if err := other.MaterializeEntry(entry, targets); err != nil {
		t.Fatalf("MaterializeEntry: %v", err)
	}
	if got := readFile(t, other.OutputPath(om)); got != "weights" {
		t.Fatalf("model = %q", got)
	}
	members, err := targets[1].Members()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, m := range members {
		names = append(names, filepath.Base(m))
	}
	if !reflect.DeepEqual(names, []string{"s0", "s1"}) {
		t.Fatalf("restored list members = %v", names)
	}
	leftovers, err := filepath.Glob(filepath.Join(other.NodeDir("Exp2/train"), "output", ".tmp-*"))
	if err != nil || len(leftovers) != 0 {
		t.Fatalf("temporary directories left behind: %v", leftovers)
	}
}

func TestMaterializeEntry_MissingFileOutput(t *testing.T) {
	ws := New(t.TempDir(), nil)
	slot := core.SlotID{Node: "Exp/a", Name: "out"}
	entry := &core.CacheEntry{Key: "k", Files: []core.CachedFile{{Path: "other", Content: []byte("x")}}}
	if err := ws.MaterializeEntry(entry, []core.ArtifactRef{ws.OutputRef(slot, core.SingleFile)}); err == nil {
		t.Fatal("expected error for entry without the output file")
	}
}

func TestLinkOutputAndClear(t *testing.T) {
	root := t.TempDir()
	ws := New(filepath.Join(root, "work"), nil)
	child := core.SlotID{Node: "Exp/b", Name: "out"}
	parent := core.SlotID{Node: "Exp", Name: "result"}
	writeFile(t, ws.OutputPath(child), "v1")

	if err := ws.LinkOutput(parent, ws.OutputRef(child, core.SingleFile)); err != nil {
		t.Fatalf("LinkOutput: %v", err)
	}
	if got := readFile(t, ws.OutputPath(parent)); got != "v1" {
		t.Fatalf("bound output = %q", got)
	}
	writeFile(t, ws.OutputPath(child), "v2")
	if got := readFile(t, ws.OutputPath(parent)); got != "v2" {
		t.Fatalf("symlinked output must follow the part, got %q", got)
	}

	if err := ws.ClearOutput(child); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(ws.OutputPath(child)); !os.IsNotExist(err) {
		t.Fatalf("output still present: %v", err)
	}
}

func TestParseLinker(t *testing.T) {
	for name, want := range map[string]Linker{"": SymlinkLinker{}, "symlink": SymlinkLinker{}, "copy": CopyLinker{}} {
		got, err := ParseLinker(name)
		if err != nil || got != want {
			t.Errorf("ParseLinker(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseLinker("hardlink"); err == nil {
		t.Fatal("expected error for unknown linker")
	}
}

func TestCopyLinker_CopiesTrees(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "a"), "a")
	writeFile(t, filepath.Join(src, "nested", "b"), "b")
	dst := filepath.Join(root, "dst")
	if err := (CopyLinker{}).Link(src, dst); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if got := readFile(t, filepath.Join(dst, "nested", "b")); got != "b" {
		t.Fatalf("copied = %q", got)
	}
	writeFile(t, filepath.Join(src, "a"), "changed")
	if got := readFile(t, filepath.Join(dst, "a")); got != "a" {
		t.Fatalf("copy must not follow later changes, got %q", got)
	}
}
