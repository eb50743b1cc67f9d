package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tidwall/match"
)

// memoryEntry is a stored value with its expiry; a zero expiry never expires
type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process Store with per-entry TTL. Expired entries are
// hidden on read and swept periodically.
type MemoryStore struct {
	data     map[string]*memoryEntry
	mutex    sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewMemoryStore creates a store whose sweeper runs every cleanupInterval
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	m := &MemoryStore{
		data:   make(map[string]*memoryEntry),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}

	go m.cleanup(cleanupInterval)

	return m
}

var _ Store = (*MemoryStore)(nil)

// Get retrieves a value if it exists and hasn't expired
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	entry, ok := m.data[key]
	if !ok || entry.expired(m.now()) {
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores a value with an expiry
func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry := &memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.data[key] = entry
	return nil
}

// Delete removes keys
func (m *MemoryStore) Delete(_ context.Context, keys ...string) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	removed := 0
	for _, key := range keys {
		if entry, ok := m.data[key]; ok {
			if !entry.expired(now) {
				removed++
			}
			delete(m.data, key)
		}
	}
	return removed, nil
}

// DeleteMatching removes keys matching a Redis-style glob. As with SCAN
// MATCH, "*" spans any bytes including "/" and ":".
func (m *MemoryStore) DeleteMatching(_ context.Context, pattern string) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	removed := 0
	for key, entry := range m.data {
		if match.Match(key, pattern) {
			if !entry.expired(now) {
				removed++
			}
			delete(m.data, key)
		}
	}
	return removed, nil
}

// Exists reports whether a live entry is stored at key
func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

// Ping always succeeds
func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// Size returns the number of entries, including ones not yet swept
func (m *MemoryStore) Size() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return len(m.data)
}

// cleanup runs periodically to remove expired entries
func (m *MemoryStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.removeExpired()
		case <-m.stopCh:
			return
		}
	}
}

func (m *MemoryStore) removeExpired() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	for key, entry := range m.data {
		if entry.expired(now) {
			delete(m.data, key)
		}
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}
