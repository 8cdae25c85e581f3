package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is the hot layer: a go-cache store holding raw byte values.
// A ttl of zero on Set falls back to the cache's default expiry, which is
// also what layer promotion uses.
type MemoryCache struct {
	inner *gocache.Cache
}

// NewMemoryCache creates a memory cache with the given default TTL and
// sweep interval for expired entries.
func NewMemoryCache(defaultTTL, sweepEvery time.Duration) *MemoryCache {
	return &MemoryCache{inner: gocache.New(defaultTTL, sweepEvery)}
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	val, found := c.inner.Get(key)
	if !found {
		return nil, false
	}
	body, ok := val.([]byte)
	return body, ok
}

func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	c.inner.Set(key, value, ttl)
	return nil
}

func (c *MemoryCache) Delete(key string) error {
	c.inner.Delete(key)
	return nil
}

func (c *MemoryCache) Clear() error {
	c.inner.Flush()
	return nil
}

// LayeredCache fronts a persistent backing cache with a memory layer.
// The document cache layers memory over disk; the extraction cache layers
// memory over the relational store.
type LayeredCache struct {
	memory Cache
	back   Cache
}

// NewLayeredCache creates a layered cache over the given backing cache.
func NewLayeredCache(memoryTTL time.Duration, back Cache) *LayeredCache {
	return &LayeredCache{
		memory: NewMemoryCache(memoryTTL, 10*time.Minute),
		back:   back,
	}
}

// Get checks memory first, then the backing cache, promoting hits.
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if val, found := c.memory.Get(key); found {
		return val, true
	}

	if val, found := c.back.Get(key); found {
		_ = c.memory.Set(key, val, 0) // default TTL
		return val, true
	}

	return nil, false
}

// Set stores a value in both layers.
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	if err := c.memory.Set(key, value, ttl); err != nil {
		return err
	}
	return c.back.Set(key, value, ttl)
}

// Delete removes a value from both layers.
func (c *LayeredCache) Delete(key string) error {
	_ = c.memory.Delete(key)
	return c.back.Delete(key)
}

// Clear removes all values from both layers.
func (c *LayeredCache) Clear() error {
	_ = c.memory.Clear()
	return c.back.Clear()
}
