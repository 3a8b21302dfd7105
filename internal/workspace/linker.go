package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Linker makes dst resolve to the artifact at src.
//
// Implementations differ in whether dst shares src's bytes; graph semantics
// are the same either way.
type Linker interface {
	Link(src, dst string) error
}

// SymlinkLinker links with absolute symbolic links.
type SymlinkLinker struct{}

func (SymlinkLinker) Link(src, dst string) error {
	abs, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	_ = os.Remove(dst)
	return os.Symlink(abs, dst)
}

// CopyLinker copies files and directory trees. Use it where symlinks are
// unavailable or where consumers must not observe later replacement of src.
type CopyLinker struct{}

func (CopyLinker) Link(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if info.IsDir() {
		return copyTree(src, dst)
	}
	return copyFile(src, dst)
}

// ParseLinker maps a configuration keyword to a Linker.
func ParseLinker(name string) (Linker, error) {
	switch name {
	case "", "symlink":
		return SymlinkLinker{}, nil
	case "copy":
		return CopyLinker{}, nil
	default:
		return nil, fmt.Errorf("unknown linker %q (want symlink or copy)", name)
	}
}
