package core

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// entryFormatVersion is bumped whenever the stored layout changes.
// Entries of another version are treated as corrupt, hence as misses.
const entryFormatVersion = 1

// CacheEntry is the content of one cache key: the files a computation
// produced, addressed by slash-separated paths relative to the producer's
// temporary location (e.g. "lm" or "corpus/0001.txt").
type CacheEntry struct {
	Key   CacheKey
	Files []CachedFile
}

// CachedFile is one stored file.
type CachedFile struct {
	Path    string
	Content []byte
}

// Size returns the total uncompressed size of the entry.
func (e *CacheEntry) Size() int64 {
	var n int64
	for _, f := range e.Files {
		n += int64(len(f.Content))
	}
	return n
}

type storedEntry struct {
	Version int            `cbor:"1,keyasint"`
	Key     string         `cbor:"2,keyasint"`
	Members []storedMember `cbor:"3,keyasint"`
}

type storedMember struct {
	Path        string      `cbor:"1,keyasint"`
	Size        int64       `cbor:"2,keyasint"`
	Digest      []byte      `cbor:"3,keyasint"`
	Compression Compression `cbor:"4,keyasint"`
	Data        []byte      `cbor:"5,keyasint"`
}

func memberDigest(data []byte) []byte {
	sum := blake3.Sum256(data)
	return sum[:]
}

// encodeEntry serializes e with every member compressed by c and carrying
// a digest of its uncompressed bytes.
func encodeEntry(e *CacheEntry, c Compression) ([]byte, error) {
	stored := storedEntry{
		Version: entryFormatVersion,
		Key:     string(e.Key),
		Members: make([]storedMember, 0, len(e.Files)),
	}
	for _, f := range e.Files {
		data, used, err := compress(f.Content, c)
		if err != nil {
			return nil, fmt.Errorf("compressing %s: %w", f.Path, err)
		}
		stored.Members = append(stored.Members, storedMember{
			Path:        f.Path,
			Size:        int64(len(f.Content)),
			Digest:      memberDigest(f.Content),
			Compression: used,
			Data:        data,
		})
	}
	return MarshalCBOR(stored)
}

// decodeEntry parses and verifies a stored entry. Every failure is a
// *CacheCorruptionError.
func decodeEntry(key CacheKey, data []byte) (*CacheEntry, error) {
	var stored storedEntry
	if err := UnmarshalCBOR(data, &stored); err != nil {
		return nil, corruptf(key, "decoding entry: %v", err)
	}
	if stored.Version != entryFormatVersion {
		return nil, corruptf(key, "entry format version %d, want %d", stored.Version, entryFormatVersion)
	}
	if stored.Key != string(key) {
		return nil, corruptf(key, "entry is stored for key %q", stored.Key)
	}
	entry := &CacheEntry{Key: key, Files: make([]CachedFile, 0, len(stored.Members))}
	seen := make(map[string]bool, len(stored.Members))
	for _, m := range stored.Members {
		if err := validEntryPath(m.Path); err != nil {
			return nil, corruptf(key, "%v", err)
		}
		if seen[m.Path] {
			return nil, corruptf(key, "duplicate member %s", m.Path)
		}
		seen[m.Path] = true
		if m.Size < 0 || m.Size > maxMemberSize {
			return nil, corruptf(key, "member %s declares size %d", m.Path, m.Size)
		}
		content, err := decompress(m.Data, m.Compression, m.Size)
		if err != nil {
			return nil, corruptf(key, "member %s: %v", m.Path, err)
		}
		if !bytes.Equal(memberDigest(content), m.Digest) {
			return nil, corruptf(key, "member %s digest mismatch", m.Path)
		}
		entry.Files = append(entry.Files, CachedFile{Path: m.Path, Content: content})
	}
	return entry, nil
}

func validEntryPath(p string) error {
	if p == "" || path.IsAbs(p) || path.Clean(p) != p || p == ".." || strings.HasPrefix(p, "../") {
		return fmt.Errorf("invalid member path %q", p)
	}
	return nil
}

// CollectEntry reads every regular file under dir into an entry, in
// lexicographic path order. Symlinks are followed.
func CollectEntry(key CacheKey, dir string) (*CacheEntry, error) {
	entry := &CacheEntry{Key: key}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if info.IsDir() {
			if d.Type()&fs.ModeSymlink != 0 {
				return fmt.Errorf("linked directory %s cannot be cached", p)
			}
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		entry.Files = append(entry.Files, CachedFile{Path: filepath.ToSlash(rel), Content: content})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collecting cache entry %s: %w", key, err)
	}
	sort.Slice(entry.Files, func(i, j int) bool { return entry.Files[i].Path < entry.Files[j].Path })
	return entry, nil
}

// WriteEntry writes the files of e beneath dir, creating parents as needed.
func WriteEntry(e *CacheEntry, dir string) error {
	for _, f := range e.Files {
		if err := validEntryPath(f.Path); err != nil {
			return err
		}
		dst := filepath.Join(dir, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(dst, f.Content, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", f.Path, err)
		}
	}
	return nil
}

// EntryProducer returns a producer that writes e into its location.
func EntryProducer(e *CacheEntry) Producer {
	return func(dir string) error {
		return WriteEntry(e, dir)
	}
}
