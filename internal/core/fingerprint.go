package core

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"
)

// Fingerprint is the hex form of a content digest.
//
// Two artifacts with identical content have identical fingerprints
// regardless of where they live on disk.
type Fingerprint string

func (f Fingerprint) String() string {
	return string(f)
}

// Short returns the first 12 hex characters, for logs and reports.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

type domainKey [32]byte

// Domain separation keys: the ASCII domain name zero-padded to 32 bytes.
// Changing one invalidates every persisted record in that domain.
var (
	fileDomainKey = domainKey{
		'b', 'r', 'i', 'c', 'k', 'f', 'l', 'o', 'w', '.', 'f', 'i', 'l', 'e',
	}
	listDomainKey = domainKey{
		'b', 'r', 'i', 'c', 'k', 'f', 'l', 'o', 'w', '.', 'l', 'i', 's', 't',
	}
	variantDomainKey = domainKey{
		'b', 'r', 'i', 'c', 'k', 'f', 'l', 'o', 'w', '.', 'v', 'a', 'r', 'i', 'a', 'n', 't',
	}
	keyDomainKey = domainKey{
		'b', 'r', 'i', 'c', 'k', 'f', 'l', 'o', 'w', '.', 'k', 'e', 'y',
	}
	graphDomainKey = domainKey{
		'b', 'r', 'i', 'c', 'k', 'f', 'l', 'o', 'w', '.', 'g', 'r', 'a', 'p', 'h',
	}
)

func newKeyedHasher(key domainKey) *blake3.Hasher {
	// NewKeyed only fails for keys that are not 32 bytes long.
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("core: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return h
}

func keyedHex(key domainKey, data []byte) string {
	h := newKeyedHasher(key)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// GraphDigest hashes an already canonical byte description of a graph.
func GraphDigest(canonical []byte) string {
	return keyedHex(graphDomainKey, canonical)
}

// FingerprintFile digests one file's content without memoization.
func FingerprintFile(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := newKeyedHasher(fileDomainKey)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// FingerprintList digests an ordered sequence of member fingerprints.
//
// The member count and each member are length-prefixed, so added, removed,
// or reordered members all change the result.
func FingerprintList(members []Fingerprint) Fingerprint {
	h := newKeyedHasher(listDomainKey)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(len(members)))
	h.Write(buf[:])
	for _, m := range members {
		binary.BigEndian.PutUint64(buf[:], uint64(len(m)))
		h.Write(buf[:])
		h.Write([]byte(m))
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// FingerprintStore computes content fingerprints and answers staleness
// questions against persisted production records.
//
// Fingerprints are memoized for the lifetime of the store, which is one run.
// Nothing is remembered across runs except what the RecordStore persists,
// since artifacts may be replaced externally between runs. Callers that
// rewrite an artifact during the run must Forget it.
//
// FingerprintStore is safe for concurrent use. Concurrent requests for the
// same path share one digest.
type FingerprintStore struct {
	records RecordStore

	mu       sync.Mutex
	memo     map[string]Fingerprint
	hashed   int
	inflight singleflight.Group
}

// NewFingerprintStore returns a store backed by records.
// A nil RecordStore behaves as an empty in-memory store.
func NewFingerprintStore(records RecordStore) *FingerprintStore {
	if records == nil {
		records = NewMemoryRecordStore()
	}
	return &FingerprintStore{
		records: records,
		memo:    make(map[string]Fingerprint),
	}
}

// Records returns the backing record store.
func (s *FingerprintStore) Records() RecordStore {
	return s.records
}

// Fingerprint returns the fingerprint of ref.
//
// A SingleFile ref digests its file. A FileList ref digests the ordered
// sequence of member fingerprints. A missing or unreadable member yields an
// *UnreadableArtifactError.
func (s *FingerprintStore) Fingerprint(ref ArtifactRef) (Fingerprint, error) {
	switch ref.Kind {
	case SingleFile:
		if len(ref.Paths) != 1 {
			return "", &UnreadableArtifactError{
				Slot: ref.Slot,
				Err:  fmt.Errorf("single file ref has %d paths", len(ref.Paths)),
			}
		}
		return s.file(ref.Slot, ref.Paths[0])
	case FileList:
		members, err := ref.Members()
		if err != nil {
			return "", err
		}
		fps := make([]Fingerprint, 0, len(members))
		for _, m := range members {
			fp, err := s.file(ref.Slot, m)
			if err != nil {
				return "", err
			}
			fps = append(fps, fp)
		}
		return FingerprintList(fps), nil
	default:
		return "", &UnreadableArtifactError{Slot: ref.Slot, Err: fmt.Errorf("unknown artifact kind %q", ref.Kind)}
	}
}

func (s *FingerprintStore) file(slot SlotID, path string) (Fingerprint, error) {
	key := filepath.Clean(path)
	if fp, ok := s.memoized(key); ok {
		return fp, nil
	}

	v, err, _ := s.inflight.Do(key, func() (any, error) {
		// A digest may have landed between the check above and Do.
		if fp, ok := s.memoized(key); ok {
			return fp, nil
		}
		fp, err := FingerprintFile(key)
		if err != nil {
			return Fingerprint(""), err
		}
		s.mu.Lock()
		s.memo[key] = fp
		s.hashed++
		s.mu.Unlock()
		return fp, nil
	})
	if err != nil {
		return "", &UnreadableArtifactError{Slot: slot, Path: path, Err: err}
	}
	return v.(Fingerprint), nil
}

func (s *FingerprintStore) memoized(key string) (Fingerprint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.memo[key]
	return fp, ok
}

// Forget drops memoized fingerprints for the given locations. A location
// that is a directory also drops every memoized path beneath it.
func (s *FingerprintStore) Forget(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		clean := filepath.Clean(p)
		delete(s.memo, clean)
		prefix := clean + string(filepath.Separator)
		for k := range s.memo {
			if strings.HasPrefix(k, prefix) {
				delete(s.memo, k)
			}
		}
	}
}

// ForgetRef drops memoized fingerprints for every location of ref.
func (s *FingerprintStore) ForgetRef(ref ArtifactRef) {
	s.Forget(ref.Paths...)
}

// Hashed reports how many files were actually read and digested.
func (s *FingerprintStore) Hashed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hashed
}
