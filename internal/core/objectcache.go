package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectCacheConfig configures an S3-compatible cache tier.
type ObjectCacheConfig struct {
	Endpoint    string
	Region      string
	AccessKey   string
	SecretKey   string
	Bucket      string
	Prefix      string
	UseSSL      bool
	Compression Compression
}

// ObjectCache implements ContentCache on an S3-compatible object store.
//
// An object is written with one PutObject call, so a reader sees either no
// object or a complete one. Entries are verified on every lookup.
type ObjectCache struct {
	client      *minio.Client
	bucket      string
	region      string
	prefix      string
	compression Compression
	Logger      *slog.Logger

	initOnce sync.Once
	initErr  error
}

// NewObjectCache connects to the configured endpoint. No request is made
// until the first lookup or publish.
func NewObjectCache(cfg ObjectCacheConfig) (*ObjectCache, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object cache endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("object cache access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("object cache bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init object cache client: %w", err)
	}
	return &ObjectCache{
		client:      client,
		bucket:      bucket,
		region:      region,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		compression: cfg.Compression,
	}, nil
}

func (c *ObjectCache) ensureBucket(ctx context.Context) error {
	c.initOnce.Do(func() {
		exists, err := c.client.BucketExists(ctx, c.bucket)
		if err != nil {
			c.initErr = err
			return
		}
		if exists {
			return
		}
		c.initErr = c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: c.region})
	})
	return c.initErr
}

// ObjectKey returns the object name for key.
func (c *ObjectCache) ObjectKey(key CacheKey) string {
	name := key.shard() + "/" + string(key)
	if c.prefix == "" {
		return name
	}
	return c.prefix + "/" + name
}

func (c *ObjectCache) Lookup(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	if err := c.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	obj, err := c.client.GetObject(ctx, c.bucket, c.ObjectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching cache object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "NoSuchKey" || code == "NoSuchBucket" {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache object %s: %w", key, err)
	}
	return decodeEntry(key, data)
}

func (c *ObjectCache) Publish(ctx context.Context, key CacheKey, produce Producer) (*CacheEntry, error) {
	if produce == nil {
		return nil, fmt.Errorf("publishing %s: producer is nil", key)
	}
	if err := c.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	workDir, err := os.MkdirTemp("", "brickflow-produce-")
	if err != nil {
		return nil, fmt.Errorf("creating producer directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	if err := produce(workDir); err != nil {
		return nil, fmt.Errorf("producing cache entry %s: %w", key, err)
	}
	entry, err := CollectEntry(key, workDir)
	if err != nil {
		return nil, err
	}
	data, err := encodeEntry(entry, c.compression)
	if err != nil {
		return nil, fmt.Errorf("encoding cache entry %s: %w", key, err)
	}
	_, err = c.client.PutObject(ctx, c.bucket, c.ObjectKey(key), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/cbor",
	})
	if err != nil {
		return nil, fmt.Errorf("uploading cache object %s: %w", key, err)
	}
	if c.Logger != nil {
		c.Logger.Debug("cache object published", "key", string(key), "bytes", len(data))
	}
	return entry, nil
}

// TieredCache consults a local cache before a remote one.
//
// Remote hits are copied into the local tier. Publishes go to the local
// tier first; a failed remote publish is logged and otherwise ignored, since
// the entry is already usable locally.
type TieredCache struct {
	Local  ContentCache
	Remote ContentCache
	Logger *slog.Logger
}

func (t *TieredCache) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return t.Logger
}

func (t *TieredCache) Lookup(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	entry, err := t.Local.Lookup(ctx, key)
	if err != nil || entry != nil {
		return entry, err
	}
	entry, err = t.Remote.Lookup(ctx, key)
	if err != nil || entry == nil {
		return entry, err
	}
	if _, err := t.Local.Publish(ctx, key, EntryProducer(entry)); err != nil {
		t.logger().Warn("backfilling local cache failed", "key", string(key), "error", err)
	}
	return entry, nil
}

// Peek consults both tiers and copies nothing.
func (t *TieredCache) Peek(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	entry, err := Peek(ctx, t.Local, key)
	if err != nil || entry != nil {
		return entry, err
	}
	return Peek(ctx, t.Remote, key)
}

func (t *TieredCache) Publish(ctx context.Context, key CacheKey, produce Producer) (*CacheEntry, error) {
	entry, err := t.Local.Publish(ctx, key, produce)
	if err != nil {
		return nil, err
	}
	if _, err := t.Remote.Publish(ctx, key, EntryProducer(entry)); err != nil {
		t.logger().Warn("remote cache publish failed", "key", string(key), "error", err)
	}
	return entry, nil
}
