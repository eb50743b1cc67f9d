package cache

import (
	"context"
	"errors"
	"time"
)

// Store is the raw key/value backend behind Cache. Keys arrive already
// prefixed; values are pre-serialized strings.
type Store interface {
	// Get returns the value and whether it was present
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes keys and returns how many existed
	Delete(ctx context.Context, keys ...string) (int, error)
	// DeleteMatching removes keys matching a glob pattern and returns how many were removed
	DeleteMatching(ctx context.Context, pattern string) (int, error)
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// ErrNoStore is returned by Ping when the cache runs without a backend
var ErrNoStore = errors.New("cache: no store configured")
