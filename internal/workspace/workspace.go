// Package workspace lays out brick directories and materializes artifacts
// into them.
//
// Every node owns one directory under the work root, named by its ID:
//
//	{Root}/{Experiment}/{part}/{subpart}/
//	  brick.log          output of the node's command
//	  input/{slot}       link to the artifact bound to the input
//	  output/{slot}      produced file, or link for bound outputs
//
// A file-list input becomes a directory of ordered links named
// 0000-{basename}, 0001-{basename}, ...
package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"brickflow/internal/core"
)

const (
	inputDir  = "input"
	outputDir = "output"
	logName   = "brick.log"
)

// Layout maps node and slot identities to filesystem locations.
type Layout struct {
	Root string
}

// NodeDir returns the directory of node id.
func (l Layout) NodeDir(id string) string {
	return filepath.Join(l.Root, filepath.FromSlash(id))
}

// InputPath returns where slot's input is materialized.
func (l Layout) InputPath(slot core.SlotID) string {
	return filepath.Join(l.NodeDir(slot.Node), inputDir, slot.Name)
}

// OutputPath returns where slot's output lives.
func (l Layout) OutputPath(slot core.SlotID) string {
	return filepath.Join(l.NodeDir(slot.Node), outputDir, slot.Name)
}

// LogPath returns the node's command log.
func (l Layout) LogPath(id string) string {
	return filepath.Join(l.NodeDir(id), logName)
}

// OutputRef returns the artifact ref of a produced output. File-list
// outputs are directories whose files are the members.
func (l Layout) OutputRef(slot core.SlotID, kind core.ArtifactKind) core.ArtifactRef {
	p := l.OutputPath(slot)
	if kind == core.FileList {
		return core.DirListRef(slot, p)
	}
	return core.FileRef(slot, p)
}

// Workspace materializes artifacts under a Layout using a Linker.
type Workspace struct {
	Layout
	Linker Linker
}

// New returns a workspace rooted at root. A nil linker means symlinks.
func New(root string, linker Linker) *Workspace {
	if linker == nil {
		linker = SymlinkLinker{}
	}
	return &Workspace{Layout: Layout{Root: root}, Linker: linker}
}

// EnsureNodeDir creates the node directory with its input and output
// subdirectories.
func (w *Workspace) EnsureNodeDir(id string) error {
	for _, d := range []string{inputDir, outputDir} {
		if err := os.MkdirAll(filepath.Join(w.NodeDir(id), d), 0o755); err != nil {
			return fmt.Errorf("creating %s directory of %s: %w", d, id, err)
		}
	}
	return nil
}

// LinkInput materializes src as slot's input, replacing whatever was there.
func (w *Workspace) LinkInput(slot core.SlotID, src core.ArtifactRef) error {
	dst := w.InputPath(slot)
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("clearing input %s: %w", slot, err)
	}
	if src.Kind == core.FileList && !src.Listing {
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return fmt.Errorf("creating list input %s: %w", slot, err)
		}
		for i, p := range src.Paths {
			name := fmt.Sprintf("%04d-%s", i, filepath.Base(p))
			if err := w.Linker.Link(p, filepath.Join(dst, name)); err != nil {
				return fmt.Errorf("linking input %s member %d: %w", slot, i, err)
			}
		}
		return nil
	}
	if err := w.Linker.Link(src.Location(), dst); err != nil {
		return fmt.Errorf("linking input %s: %w", slot, err)
	}
	return nil
}

// LinkOutput makes slot's output resolve to src, for outputs bound to a
// part's output.
func (w *Workspace) LinkOutput(slot core.SlotID, src core.ArtifactRef) error {
	dst := w.OutputPath(slot)
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("clearing output %s: %w", slot, err)
	}
	if err := w.Linker.Link(src.Location(), dst); err != nil {
		return fmt.Errorf("linking output %s: %w", slot, err)
	}
	return nil
}

// ClearOutput removes a produced output so a recomputation starts clean.
func (w *Workspace) ClearOutput(slot core.SlotID) error {
	if err := os.RemoveAll(w.OutputPath(slot)); err != nil {
		return fmt.Errorf("clearing output %s: %w", slot, err)
	}
	return nil
}

// Stage returns a cache producer that copies the node's own outputs into
// the producer's location: file outputs as {slot}, list members as
// {slot}/{name}.
func (w *Workspace) Stage(outputs []core.ArtifactRef) core.Producer {
	return func(dir string) error {
		for _, out := range outputs {
			dst := filepath.Join(dir, out.Slot.Name)
			if out.Kind == core.FileList {
				members, err := out.Members()
				if err != nil {
					return err
				}
				if err := os.MkdirAll(dst, 0o755); err != nil {
					return err
				}
				for _, m := range members {
					if err := copyFile(m, filepath.Join(dst, filepath.Base(m))); err != nil {
						return err
					}
				}
				continue
			}
			if err := copyFile(out.Location(), dst); err != nil {
				return err
			}
		}
		return nil
	}
}

// MaterializeEntry installs the outputs of a cache entry into the node's
// output directory. Each output is written to a temporary sibling and
// renamed into place. An entry missing a file output yields an error.
func (w *Workspace) MaterializeEntry(entry *core.CacheEntry, outputs []core.ArtifactRef) error {
	for _, out := range outputs {
		final := out.Location()
		parent := filepath.Dir(final)
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return err
		}

		var files []core.CachedFile
		prefix := out.Slot.Name + "/"
		for _, f := range entry.Files {
			if out.Kind == core.FileList && strings.HasPrefix(f.Path, prefix) {
				files = append(files, core.CachedFile{Path: strings.TrimPrefix(f.Path, prefix), Content: f.Content})
			}
			if out.Kind == core.SingleFile && f.Path == out.Slot.Name {
				files = append(files, f)
			}
		}
		if out.Kind == core.SingleFile && len(files) != 1 {
			return fmt.Errorf("cache entry %s has no file for output %s", entry.Key, out.Slot.Name)
		}

		tmp, err := os.MkdirTemp(parent, ".tmp-"+out.Slot.Name+"-")
		if err != nil {
			return err
		}
		staged := tmp
		if out.Kind == core.FileList {
			if err := core.WriteEntry(&core.CacheEntry{Key: entry.Key, Files: files}, tmp); err != nil {
				_ = os.RemoveAll(tmp)
				return err
			}
		} else {
			staged = filepath.Join(tmp, out.Slot.Name)
			if err := os.WriteFile(staged, files[0].Content, 0o644); err != nil {
				_ = os.RemoveAll(tmp)
				return err
			}
		}
		if err := os.RemoveAll(final); err != nil {
			_ = os.RemoveAll(tmp)
			return err
		}
		err = os.Rename(staged, final)
		_ = os.RemoveAll(tmp)
		if err != nil {
			return fmt.Errorf("installing output %s: %w", out.Slot, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if info.IsDir() {
			if d.Type()&fs.ModeSymlink != 0 && p != src {
				return errors.New("linked directory inside copied tree: " + p)
			}
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
}
