package ratelimiter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	t.Run("IsAllowedAdmitsUpToTheLimit", func(t *testing.T) {
		rl := New(3, time.Minute)

		for i := 0; i < 3; i++ {
			assert.True(t, rl.IsAllowed("dexscreener"), "request %d should be allowed", i+1)
		}
		assert.False(t, rl.IsAllowed("dexscreener"))

		count, _ := rl.GetRequestInfo("dexscreener")
		assert.Equal(t, 3, count)
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		rl := New(1, time.Minute)

		assert.True(t, rl.IsAllowed("a"))
		assert.False(t, rl.IsAllowed("a"))
		assert.True(t, rl.IsAllowed("b"))
	})

	t.Run("WindowSlides", func(t *testing.T) {
		rl := New(2, time.Minute)
		now := time.Unix(1_700_000_000, 0)
		rl.now = func() time.Time { return now }

		assert.True(t, rl.IsAllowed("k"))
		now = now.Add(30 * time.Second)
		assert.True(t, rl.IsAllowed("k"))
		assert.False(t, rl.IsAllowed("k"))

		// first stamp leaves the window, second is still inside
		now = now.Add(31 * time.Second)
		assert.True(t, rl.IsAllowed("k"))
		assert.False(t, rl.IsAllowed("k"))
	})

	t.Run("ResetAndCleanup", func(t *testing.T) {
		rl := New(1, time.Minute)
		now := time.Unix(1_700_000_000, 0)
		rl.now = func() time.Time { return now }

		rl.IsAllowed("a")
		rl.IsAllowed("b")
		rl.Reset("a")
		assert.True(t, rl.IsAllowed("a"))

		now = now.Add(2 * time.Minute)
		rl.Cleanup()
		rl.mutex.Lock()
		assert.Empty(t, rl.requests)
		rl.mutex.Unlock()
	})
}

func TestAcquire(t *testing.T) {
	t.Run("BlocksTheExtraCallUntilTheWindowRollsOver", func(t *testing.T) {
		rl := NewWithConfig(Config{
			Limit:       3,
			Window:      150 * time.Millisecond,
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    40 * time.Millisecond,
			MaxAttempts: 50,
		})
		ctx := context.Background()

		start := time.Now()
		for i := 0; i < 3; i++ {
			require.NoError(t, rl.Acquire(ctx, "src"))
		}
		assert.Less(t, time.Since(start), 100*time.Millisecond)

		require.NoError(t, rl.Acquire(ctx, "src"))
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	})

	t.Run("ExhaustionReturnsErrRateLimitExceeded", func(t *testing.T) {
		rl := NewWithConfig(Config{Limit: 1, Window: time.Hour, MaxAttempts: 3})
		var mu sync.Mutex
		var delays []time.Duration
		rl.sleep = func(_ context.Context, d time.Duration) error {
			mu.Lock()
			delays = append(delays, d)
			mu.Unlock()
			return nil
		}

		require.NoError(t, rl.Acquire(context.Background(), "src"))
		err := rl.Acquire(context.Background(), "src")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRateLimitExceeded))
		// no sleep after the last rejected attempt
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
	})

	t.Run("BackoffIsCapped", func(t *testing.T) {
		rl := NewWithConfig(Config{BaseDelay: time.Second, MaxDelay: 5 * time.Second})
		assert.Equal(t, time.Second, rl.backoff(0))
		assert.Equal(t, 4*time.Second, rl.backoff(2))
		assert.Equal(t, 5*time.Second, rl.backoff(3))
		assert.Equal(t, 5*time.Second, rl.backoff(70))
	})

	t.Run("ContextCancellationStopsWaiting", func(t *testing.T) {
		rl := NewWithConfig(Config{Limit: 1, Window: time.Hour, BaseDelay: time.Hour})
		require.NoError(t, rl.Acquire(context.Background(), "src"))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := rl.Acquire(ctx, "src")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := New(2, time.Minute)

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/api/tokens", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/tokens", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		last = w
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "2", last.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
}
