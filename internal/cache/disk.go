package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DiskCache persists entries as JSON files under a sharded directory tree.
// Document bodies live here rather than in the relational store; the
// fallback TTL is the configured document expiry.
type DiskCache struct {
	dir        string
	defaultTTL time.Duration
}

// NewDiskCache creates a disk cache rooted at dir.
func NewDiskCache(dir string, defaultTTL time.Duration) *DiskCache {
	return &DiskCache{dir: dir, defaultTTL: defaultTTL}
}

// diskEntry is the on-disk envelope around a cached value.
type diskEntry struct {
	Body        []byte `json:"body"`
	ExpiresUnix int64  `json:"expires_unix"`
}

// Get returns the cached value when present and fresh. Expired and
// unreadable files are removed on read.
func (c *DiskCache) Get(key string) ([]byte, bool) {
	path := c.entryPath(key)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var e diskEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		_ = os.Remove(path)
		return nil, false
	}
	if time.Now().Unix() >= e.ExpiresUnix {
		_ = os.Remove(path)
		return nil, false
	}
	return e.Body, true
}

// Set writes the value under the key's shard. The write goes through a temp
// file and a rename so a crash never leaves a truncated entry behind.
func (c *DiskCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	raw, err := json.Marshal(diskEntry{Body: value, ExpiresUnix: time.Now().Add(ttl).Unix()})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	path := c.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache shard: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".entry-*")
	if err != nil {
		return fmt.Errorf("stage cache entry: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("stage cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("stage cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("publish cache entry: %w", err)
	}
	return nil
}

// Delete removes the entry. A missing entry is not an error.
func (c *DiskCache) Delete(key string) error {
	err := os.Remove(c.entryPath(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Clear removes the whole cache tree.
func (c *DiskCache) Clear() error {
	return os.RemoveAll(c.dir)
}

// entryPath shards entries by the leading byte of the key hash so no single
// directory grows unbounded. Hashing also keeps arbitrary key characters
// out of filenames.
func (c *DiskCache) entryPath(key string) string {
	sum := HashContent(key)
	return filepath.Join(c.dir, sum[:2], sum[2:]+".json")
}
