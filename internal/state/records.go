package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"brickflow/internal/core"
)

// FileRecordStore persists production records as deterministic CBOR, one
// file per node, mirroring the node ID hierarchy.
type FileRecordStore struct {
	Dir string
}

// NewFileRecordStore returns a store rooted at dir.
func NewFileRecordStore(dir string) *FileRecordStore {
	return &FileRecordStore{Dir: dir}
}

func (s *FileRecordStore) path(node string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(node)))
	if node == "" || clean != node || strings.HasPrefix(clean, "../") || clean == ".." || filepath.IsAbs(node) {
		return "", fmt.Errorf("invalid node id %q", node)
	}
	return filepath.Join(s.Dir, filepath.FromSlash(node)+".cbor"), nil
}

// LoadRecord returns node's record, or nil when none exists. A record that
// cannot be decoded counts as absent, which makes the node stale.
func (s *FileRecordStore) LoadRecord(node string) (*core.ProductionRecord, error) {
	p, err := s.path(node)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var rec core.ProductionRecord
	if err := core.UnmarshalCBOR(data, &rec); err != nil {
		return nil, nil
	}
	if rec.Validate() != nil || rec.Node != node {
		return nil, nil
	}
	return &rec, nil
}

func (s *FileRecordStore) SaveRecord(rec core.ProductionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	p, err := s.path(rec.Node)
	if err != nil {
		return err
	}
	data, err := core.MarshalCBOR(rec)
	if err != nil {
		return fmt.Errorf("encoding record for %s: %w", rec.Node, err)
	}
	return writeFileAtomicDurable(p, data, 0o644)
}

func (s *FileRecordStore) DeleteRecord(node string) error {
	p, err := s.path(node)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
