package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Producer writes a computation's result into a private temporary
// directory. Everything it leaves there becomes the cache entry.
type Producer func(dir string) error

// ContentCache maps cache keys to previously produced artifacts.
//
// Lookup returns (nil, nil) for an absent key and a *CacheCorruptionError
// for an entry that exists but fails validation. Publish runs the producer
// against a private location and makes the result visible under key in a
// single atomic step. Concurrent publishers of one key may both do the
// work; the last to publish wins, which is harmless because any two valid
// producers for a key yield identical bytes.
type ContentCache interface {
	Lookup(ctx context.Context, key CacheKey) (*CacheEntry, error)
	Publish(ctx context.Context, key CacheKey, produce Producer) (*CacheEntry, error)
}

// Peeker is implemented by caches whose Lookup has side effects, such as
// filling a nearer tier. Peek answers the same question without them.
type Peeker interface {
	Peek(ctx context.Context, key CacheKey) (*CacheEntry, error)
}

// Peek looks key up in c without changing any tier.
func Peek(ctx context.Context, c ContentCache, key CacheKey) (*CacheEntry, error) {
	if p, ok := c.(Peeker); ok {
		return p.Peek(ctx, key)
	}
	return c.Lookup(ctx, key)
}

// FileCache implements ContentCache on the local filesystem.
//
// Structure:
//
//	{Dir}/
//	  {key shard}/
//	    {key}          (one CBOR container, members compressed)
//	    .tmp-*         (in-flight publishes, never read)
//
// Entries can be deleted externally at any time; a deleted entry is a miss.
type FileCache struct {
	Dir         string
	Compression Compression
	Logger      *slog.Logger
}

// NewFileCache creates a cache rooted at dir using zstd compression.
func NewFileCache(dir string) *FileCache {
	return &FileCache{Dir: dir, Compression: CompressionZstd}
}

func (c *FileCache) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c.Logger
}

// EntryPath returns the location of key's entry file.
func (c *FileCache) EntryPath(key CacheKey) string {
	return filepath.Join(c.Dir, key.shard(), string(key))
}

// Lookup reads and verifies the entry for key.
func (c *FileCache) Lookup(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.EntryPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache entry %s: %w", key, err)
	}
	return decodeEntry(key, data)
}

// Publish produces, encodes, and atomically installs the entry for key.
func (c *FileCache) Publish(ctx context.Context, key CacheKey, produce Producer) (*CacheEntry, error) {
	if produce == nil {
		return nil, fmt.Errorf("publishing %s: producer is nil", key)
	}
	shardDir := filepath.Dir(c.EntryPath(key))

	// Temporary locations live in the shard so the final rename never
	// crosses a filesystem boundary.
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	workDir, err := os.MkdirTemp(shardDir, ".tmp-produce-")
	if err != nil {
		return nil, fmt.Errorf("creating producer directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	if err := produce(workDir); err != nil {
		return nil, fmt.Errorf("producing cache entry %s: %w", key, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry, err := CollectEntry(key, workDir)
	if err != nil {
		return nil, err
	}
	data, err := encodeEntry(entry, c.Compression)
	if err != nil {
		return nil, fmt.Errorf("encoding cache entry %s: %w", key, err)
	}
	if err := writeFileAtomic(c.EntryPath(key), data, 0o644); err != nil {
		return nil, fmt.Errorf("committing cache entry %s: %w", key, err)
	}
	c.logger().Debug("cache entry published",
		"key", string(key), "files", len(entry.Files), "bytes", len(data))
	return entry, nil
}

// writeFileAtomic writes data to a temporary sibling of path and renames it
// into place. Readers observe either the previous state or the complete file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-entry-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// MemoryCache implements ContentCache in memory.
// Entries are stored encoded so that lookups exercise the same
// verification path as the file cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[CacheKey][]byte

	// Lookups and Publishes count calls, for tests.
	Lookups   int
	Publishes int
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[CacheKey][]byte)}
}

func (c *MemoryCache) Lookup(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.Lookups++
	data, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decodeEntry(key, data)
}

func (c *MemoryCache) Publish(ctx context.Context, key CacheKey, produce Producer) (*CacheEntry, error) {
	if produce == nil {
		return nil, fmt.Errorf("publishing %s: producer is nil", key)
	}
	workDir, err := os.MkdirTemp("", "brickflow-produce-")
	if err != nil {
		return nil, fmt.Errorf("creating producer directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	if err := produce(workDir); err != nil {
		return nil, fmt.Errorf("producing cache entry %s: %w", key, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, err := CollectEntry(key, workDir)
	if err != nil {
		return nil, err
	}
	data, err := encodeEntry(entry, CompressionNone)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = data
	c.Publishes++
	c.mu.Unlock()
	return entry, nil
}

// Corrupt replaces the stored bytes of key, for tests.
func (c *MemoryCache) Corrupt(key CacheKey, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = data
}

// Len returns the number of stored entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
