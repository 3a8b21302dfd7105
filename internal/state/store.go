// Package state persists what outlives a run: the run ledger and the
// production records that staleness decisions are based on.
//
// Layout under the work root:
//
//	.brickflow/runs/<run-id>/run.json       run report
//	.brickflow/runs/<run-id>/failure.json   why the run failed, if it did
//	.brickflow/records/<node-id>.cbor       production record per node
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const stateDirName = ".brickflow"

// Store provides persistent storage for run reports.
//
// All writes are atomic and durable (file sync + atomic rename + dir sync).
type Store struct {
	baseDir string
}

func NewStore(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("baseDir is required")
	}
	return &Store{baseDir: baseDir}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return filepath.Join(s.baseDir, stateDirName)
}

func (s *Store) runsRootDir() string {
	return filepath.Join(s.Dir(), "runs")
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.runsRootDir(), runID)
}

// RunPath returns the location of a run's report.
func (s *Store) RunPath(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

func (s *Store) failurePath(runID string) string {
	return filepath.Join(s.runDir(runID), "failure.json")
}

// Records returns the production record store kept alongside the ledger.
func (s *Store) Records() *FileRecordStore {
	return NewFileRecordStore(filepath.Join(s.Dir(), "records"))
}

// ListRunIDs returns all run IDs currently present on disk, sorted.
func (s *Store) ListRunIDs() ([]string, error) {
	entries, err := os.ReadDir(s.runsRootDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && strings.TrimSpace(e.Name()) != "" {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// LatestRun returns the most recently started run, or ok=false when there
// is none.
func (s *Store) LatestRun() (run Run, ok bool, err error) {
	ids, err := s.ListRunIDs()
	if err != nil {
		return Run{}, false, err
	}
	for _, id := range ids {
		r, err := s.LoadRun(id)
		if err != nil {
			// A run directory without a readable report is an interrupted write.
			continue
		}
		if !ok || r.StartTime.After(run.StartTime) {
			run, ok = r, true
		}
	}
	return run, ok, nil
}

func (s *Store) SaveRun(run Run) error {
	return s.save(run.RunID, s.RunPath(run.RunID), "run", &run)
}

func (s *Store) LoadRun(runID string) (Run, error) {
	var run Run
	err := s.load(runID, s.RunPath(runID), "run", &run)
	return run, err
}

func (s *Store) SaveFailure(runID string, failure Failure) error {
	return s.save(runID, s.failurePath(runID), "failure", &failure)
}

func (s *Store) LoadFailure(runID string) (Failure, error) {
	var failure Failure
	err := s.load(runID, s.failurePath(runID), "failure", &failure)
	return failure, err
}

type validator interface {
	Validate() error
}

// save validates v and replaces path with its stable JSON encoding.
func (s *Store) save(runID, path, what string, v validator) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("invalid %s: %w", what, err)
	}
	if err := ensureDirDurable(s.runDir(runID), 0o755); err != nil {
		return fmt.Errorf("ensure run dir: %w", err)
	}
	data, err := jsonMarshalStable(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", what, err)
	}
	if err := writeFileAtomicDurable(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", what, err)
	}
	return nil
}

// load decodes path strictly into v; a decoded value that fails validation
// is an error, not a partial result.
func (s *Store) load(runID, path, what string, v validator) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	if err := readJSONStrict(path, v); err != nil {
		return err
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("invalid %s on disk: %w", what, err)
	}
	return nil
}

func jsonMarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}

func ensureDirDurable(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	if err := fsyncDir(dir); err != nil {
		return err
	}
	if parent := filepath.Dir(dir); parent != dir {
		return fsyncDir(parent)
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
