// Package cache provides a namespaced, TTL-scoped cache-aside layer over a
// pluggable key/value Store. Store failures never reach callers: reads
// degrade to a miss and writes report false.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Cache namespaces every key with a prefix and JSON-encodes values
type Cache struct {
	store      Store
	prefix     string
	defaultTTL time.Duration
	logger     *zap.Logger
}

// Options configures a Cache
type Options struct {
	Prefix     string
	DefaultTTL time.Duration
	Logger     *zap.Logger
}

// New creates a Cache over store. A nil store yields a cache that always misses.
func New(store Store, opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:      store,
		prefix:     opts.Prefix,
		defaultTTL: opts.DefaultTTL,
		logger:     logger,
	}
}

// Prefix returns the namespace applied to every key
func (c *Cache) Prefix() string {
	return c.prefix
}

// DefaultTTL returns the TTL used when Set is called with ttl <= 0
func (c *Cache) DefaultTTL() time.Duration {
	return c.defaultTTL
}

func (c *Cache) key(key string) string {
	return c.prefix + key
}

// Get decodes the value stored at key into dest and reports whether it was
// found. An undecodable value counts as a miss.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if c.store == nil {
		return false
	}

	raw, ok, err := c.store.Get(ctx, c.key(key))
	if err != nil {
		c.logger.Warn("Cache get failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		c.logger.Warn("Discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Set encodes value and stores it at key. ttl <= 0 uses the default TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if c.store == nil {
		return false
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Cache encode failed", zap.String("key", key), zap.Error(err))
		return false
	}

	if err := c.store.Set(ctx, c.key(key), string(raw), ttl); err != nil {
		c.logger.Warn("Cache set failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Delete removes key and reports whether it existed
func (c *Cache) Delete(ctx context.Context, key string) bool {
	if c.store == nil {
		return false
	}

	n, err := c.store.Delete(ctx, c.key(key))
	if err != nil {
		c.logger.Warn("Cache delete failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return n > 0
}

// DeleteMatching removes every key in the namespace matching the glob
// pattern and returns how many were removed
func (c *Cache) DeleteMatching(ctx context.Context, pattern string) int {
	if c.store == nil {
		return 0
	}

	n, err := c.store.DeleteMatching(ctx, c.key(pattern))
	if err != nil {
		c.logger.Warn("Cache pattern delete failed", zap.String("pattern", pattern), zap.Error(err))
	}
	return n
}

// Exists reports whether key is present
func (c *Cache) Exists(ctx context.Context, key string) bool {
	if c.store == nil {
		return false
	}

	ok, err := c.store.Exists(ctx, c.key(key))
	if err != nil {
		c.logger.Warn("Cache exists failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

// Clear removes every key in this cache's namespace. Keys belonging to
// other prefixes sharing the store are left alone.
func (c *Cache) Clear(ctx context.Context) bool {
	if c.store == nil {
		return false
	}

	if _, err := c.store.DeleteMatching(ctx, c.key("*")); err != nil {
		c.logger.Warn("Cache clear failed", zap.Error(err))
		return false
	}
	return true
}

// Ping checks the backing store
func (c *Cache) Ping(ctx context.Context) error {
	if c.store == nil {
		return ErrNoStore
	}
	return c.store.Ping(ctx)
}

// Close releases the backing store
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}
