package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type page struct {
	Items []string `json:"items"`
	Total int      `json:"total"`
}

// brokenStore fails every operation, standing in for an unreachable backend
type brokenStore struct{}

var errDown = errors.New("connection refused")

func (brokenStore) Get(context.Context, string) (string, bool, error) { return "", false, errDown }
func (brokenStore) Set(context.Context, string, string, time.Duration) error {
	return errDown
}
func (brokenStore) Delete(context.Context, ...string) (int, error)      { return 0, errDown }
func (brokenStore) DeleteMatching(context.Context, string) (int, error) { return 0, errDown }
func (brokenStore) Exists(context.Context, string) (bool, error)        { return false, errDown }
func (brokenStore) Ping(context.Context) error                          { return errDown }
func (brokenStore) Close() error                                        { return nil }

func newMemoryCache(t *testing.T, prefix string) (*Cache, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, Options{Prefix: prefix, DefaultTTL: 30 * time.Second}), store
}

func TestCache(t *testing.T) {
	ctx := context.Background()

	t.Run("SetThenGetRoundTrips", func(t *testing.T) {
		c, _ := newMemoryCache(t, "meme-coin:")
		want := page{Items: []string{"a", "b"}, Total: 2}

		require.True(t, c.Set(ctx, "tokens:list", want, 0))

		var got page
		require.True(t, c.Get(ctx, "tokens:list", &got))
		assert.Equal(t, want, got)
		assert.True(t, c.Exists(ctx, "tokens:list"))
	})

	t.Run("KeysAreNamespacedByPrefix", func(t *testing.T) {
		c, store := newMemoryCache(t, "meme-coin:")
		c.Set(ctx, "asset:abc", page{Total: 1}, 0)

		ok, err := store.Exists(ctx, "meme-coin:asset:abc")
		require.NoError(t, err)
		assert.True(t, ok)

		other := New(store, Options{Prefix: "other:"})
		var got page
		assert.False(t, other.Get(ctx, "asset:abc", &got))
	})

	t.Run("EntriesExpire", func(t *testing.T) {
		c, store := newMemoryCache(t, "p:")
		now := time.Now()
		store.now = func() time.Time { return now }

		c.Set(ctx, "k", page{Total: 1}, time.Second)
		now = now.Add(2 * time.Second)

		var got page
		assert.False(t, c.Get(ctx, "k", &got))
		assert.False(t, c.Exists(ctx, "k"))
	})

	t.Run("DeleteMatchingRemovesOnlyMatchingKeys", func(t *testing.T) {
		c, _ := newMemoryCache(t, "p:")
		c.Set(ctx, "tokens:list", 1, 0)
		c.Set(ctx, "tokens:list:limit=50", 2, 0)
		c.Set(ctx, "asset:abc", 3, 0)

		assert.Equal(t, 2, c.DeleteMatching(ctx, "tokens:*"))
		assert.False(t, c.Exists(ctx, "tokens:list"))
		assert.True(t, c.Exists(ctx, "asset:abc"))
	})

	t.Run("DeleteMatchingSpansSlashes", func(t *testing.T) {
		c, _ := newMemoryCache(t, "p:")
		c.Set(ctx, "tokens:list:proto=raydium/clmm", 1, 0)
		c.Set(ctx, "tokens:list:proto=a/b/c:offset=20", 2, 0)
		c.Set(ctx, "asset:x/y", 3, 0)

		assert.Equal(t, 2, c.DeleteMatching(ctx, "tokens:*"))
		assert.False(t, c.Exists(ctx, "tokens:list:proto=raydium/clmm"))
		assert.True(t, c.Exists(ctx, "asset:x/y"))
	})

	t.Run("DeleteAndClear", func(t *testing.T) {
		c, store := newMemoryCache(t, "p:")
		foreign := New(store, Options{Prefix: "q:"})
		c.Set(ctx, "a", 1, 0)
		c.Set(ctx, "b", 2, 0)
		foreign.Set(ctx, "a", 3, 0)

		assert.True(t, c.Delete(ctx, "a"))
		assert.False(t, c.Delete(ctx, "a"))

		assert.True(t, c.Clear(ctx))
		assert.False(t, c.Exists(ctx, "b"))
		assert.True(t, foreign.Exists(ctx, "a"))
	})

	t.Run("UndecodableEntryIsAMiss", func(t *testing.T) {
		c, store := newMemoryCache(t, "p:")
		require.NoError(t, store.Set(ctx, "p:k", "{not json", 0))

		var got page
		assert.False(t, c.Get(ctx, "k", &got))
	})

	t.Run("UnavailableStoreDegradesSilently", func(t *testing.T) {
		c := New(brokenStore{}, Options{Prefix: "p:"})

		var got page
		assert.False(t, c.Get(ctx, "k", &got))
		assert.False(t, c.Set(ctx, "k", page{}, time.Second))
		assert.False(t, c.Delete(ctx, "k"))
		assert.Equal(t, 0, c.DeleteMatching(ctx, "*"))
		assert.False(t, c.Exists(ctx, "k"))
		assert.False(t, c.Clear(ctx))
		assert.Error(t, c.Ping(ctx))
	})

	t.Run("NilStoreAlwaysMisses", func(t *testing.T) {
		c := New(nil, Options{})

		var got page
		assert.False(t, c.Set(ctx, "k", page{}, time.Second))
		assert.False(t, c.Get(ctx, "k", &got))
		assert.ErrorIs(t, c.Ping(ctx), ErrNoStore)
		assert.NoError(t, c.Close())
	})
}

func TestMemoryStoreSweep(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }
	require.NoError(t, store.Set(ctx, "short", "1", time.Second))
	require.NoError(t, store.Set(ctx, "forever", "2", 0))

	now = now.Add(time.Minute)
	store.removeExpired()

	assert.Equal(t, 1, store.Size())
	assert.NoError(t, store.Close())
}
