// Package core defines the artifact, fingerprint, and cache models of the brick engine.
package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ArtifactKind distinguishes a single file from an ordered list of files.
type ArtifactKind string

const (
	// SingleFile is one file at one location.
	SingleFile ArtifactKind = "file"

	// FileList is an ordered sequence of files. Order is significant.
	FileList ArtifactKind = "list"
)

// ParseArtifactKind maps a declaration keyword to an ArtifactKind.
// The empty string defaults to SingleFile.
func ParseArtifactKind(s string) (ArtifactKind, error) {
	switch s {
	case "", string(SingleFile):
		return SingleFile, nil
	case string(FileList):
		return FileList, nil
	default:
		return "", fmt.Errorf("unknown artifact kind %q", s)
	}
}

// Direction tells whether a slot is consumed or produced by its node.
type Direction string

const (
	Input  Direction = "input"
	Output Direction = "output"
)

// ArtifactSlot is a named input or output declared by a brick.
//
// Identity is (owning node, Name). Slots are immutable once declared.
type ArtifactSlot struct {
	Name      string
	Kind      ArtifactKind
	Direction Direction
}

// SlotID identifies a slot across the whole brick tree.
type SlotID struct {
	Node string
	Name string
}

func (s SlotID) String() string {
	return s.Node + ":" + s.Name
}

// ArtifactRef is a slot resolved to concrete filesystem locations.
//
// A SingleFile ref has exactly one path. A FileList ref either enumerates its
// member paths explicitly or, when Listing is set, names one directory whose
// regular files are the members in lexicographic order.
type ArtifactRef struct {
	Slot    SlotID
	Kind    ArtifactKind
	Paths   []string
	Listing bool
}

// FileRef returns a SingleFile ref.
func FileRef(slot SlotID, path string) ArtifactRef {
	return ArtifactRef{Slot: slot, Kind: SingleFile, Paths: []string{path}}
}

// ListRef returns a FileList ref over explicit member paths.
func ListRef(slot SlotID, paths []string) ArtifactRef {
	cp := make([]string, len(paths))
	copy(cp, paths)
	return ArtifactRef{Slot: slot, Kind: FileList, Paths: cp}
}

// DirListRef returns a FileList ref whose members are the files of dir.
func DirListRef(slot SlotID, dir string) ArtifactRef {
	return ArtifactRef{Slot: slot, Kind: FileList, Paths: []string{dir}, Listing: true}
}

// Location returns the primary location of the ref: the file for SingleFile,
// the directory for listing refs, and the first member otherwise.
func (r ArtifactRef) Location() string {
	if len(r.Paths) == 0 {
		return ""
	}
	return r.Paths[0]
}

// Members returns the ordered concrete files of the ref.
//
// Listing refs are enumerated at call time; a missing directory yields an
// *UnreadableArtifactError.
func (r ArtifactRef) Members() ([]string, error) {
	if !r.Listing {
		out := make([]string, len(r.Paths))
		copy(out, r.Paths)
		return out, nil
	}
	dir := r.Location()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &UnreadableArtifactError{Slot: r.Slot, Path: dir, Err: err}
	}
	members := make([]string, 0, len(entries))
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		// Stat follows links so that linked members count as files.
		info, err := os.Stat(p)
		if err != nil {
			return nil, &UnreadableArtifactError{Slot: r.Slot, Path: p, Err: err}
		}
		if info.IsDir() {
			continue
		}
		members = append(members, p)
	}
	sort.Strings(members)
	return members, nil
}

// Exists reports whether every location of the ref is present.
func (r ArtifactRef) Exists() (bool, error) {
	if len(r.Paths) == 0 {
		return r.Kind == FileList, nil
	}
	for _, p := range r.Paths {
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return false, nil
			}
			return false, fmt.Errorf("stat %s: %w", p, err)
		}
		if r.Listing != info.IsDir() {
			return false, nil
		}
	}
	return true, nil
}
