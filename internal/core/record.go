package core

import (
	"fmt"
	"sync"
)

// ProductionSource says how a node's outputs came to exist.
type ProductionSource string

const (
	SourceComputed ProductionSource = "computed"
	SourceCache    ProductionSource = "cache"
)

// ProductionRecord is the persisted lineage of a node's last successful
// production: the input fingerprints it was produced from and the output
// fingerprints it left behind.
type ProductionRecord struct {
	Node     string                 `cbor:"node" json:"node"`
	Variant  string                 `cbor:"variant" json:"variant"`
	Inputs   map[string]Fingerprint `cbor:"inputs" json:"inputs"`
	Outputs  map[string]Fingerprint `cbor:"outputs" json:"outputs"`
	CacheKey CacheKey               `cbor:"cache_key,omitempty" json:"cache_key,omitempty"`
	Source   ProductionSource       `cbor:"source" json:"source"`
}

// Validate checks the structural invariants of a record.
func (r *ProductionRecord) Validate() error {
	if r.Node == "" {
		return fmt.Errorf("production record: node is required")
	}
	switch r.Source {
	case SourceComputed, SourceCache:
	default:
		return fmt.Errorf("production record %s: unknown source %q", r.Node, r.Source)
	}
	for name, fp := range r.Outputs {
		if fp == "" {
			return fmt.Errorf("production record %s: output %s has no fingerprint", r.Node, name)
		}
	}
	return nil
}

// RecordStore persists production records between runs.
//
// LoadRecord returns (nil, nil) when no record exists.
type RecordStore interface {
	LoadRecord(node string) (*ProductionRecord, error)
	SaveRecord(rec ProductionRecord) error
	DeleteRecord(node string) error
}

// MemoryRecordStore implements RecordStore in memory.
// Useful for tests and dry runs.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records map[string]ProductionRecord
}

// NewMemoryRecordStore creates an empty in-memory record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]ProductionRecord)}
}

func (m *MemoryRecordStore) LoadRecord(node string) (*ProductionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[node]
	if !ok {
		return nil, nil
	}
	cp := copyRecord(rec)
	return &cp, nil
}

func (m *MemoryRecordStore) SaveRecord(rec ProductionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Node] = copyRecord(rec)
	return nil
}

func (m *MemoryRecordStore) DeleteRecord(node string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, node)
	return nil
}

func copyRecord(rec ProductionRecord) ProductionRecord {
	cp := rec
	cp.Inputs = make(map[string]Fingerprint, len(rec.Inputs))
	for k, v := range rec.Inputs {
		cp.Inputs[k] = v
	}
	cp.Outputs = make(map[string]Fingerprint, len(rec.Outputs))
	for k, v := range rec.Outputs {
		cp.Outputs[k] = v
	}
	return cp
}
