package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimitExceeded is returned by Acquire when no slot opened up within
// the configured number of attempts. Callers must not retry it.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Config controls the window and the backoff used while waiting for a slot
type Config struct {
	Limit       int           `yaml:"limit"`
	Window      time.Duration `yaml:"window"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// DefaultConfig returns 300 requests per minute with a 1s doubling backoff
// capped at 30s over at most 10 attempts
func DefaultConfig() Config {
	return Config{
		Limit:       300,
		Window:      time.Minute,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 10,
	}
}

// RateLimiter is a per-key sliding-window limiter. Each key holds the
// timestamps of the requests admitted inside the trailing window.
type RateLimiter struct {
	requests map[string][]time.Time
	mutex    sync.Mutex
	cfg      Config
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a new RateLimiter with specified limit and window
func New(limit int, window time.Duration) *RateLimiter {
	cfg := DefaultConfig()
	cfg.Limit = limit
	cfg.Window = window
	return NewWithConfig(cfg)
}

// NewWithConfig creates a RateLimiter from a full config, filling zero fields
// with defaults
func NewWithConfig(cfg Config) *RateLimiter {
	def := DefaultConfig()
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		cfg:      cfg,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Limit returns the number of requests admitted per window
func (rl *RateLimiter) Limit() int {
	return rl.cfg.Limit
}

// Acquire blocks until key has a free slot in the window. Between attempts it
// sleeps base*2^attempt (capped) without holding the lock. It fails with
// ErrRateLimitExceeded as soon as the last of MaxAttempts is rejected, or
// with the context error if ctx is done first.
func (rl *RateLimiter) Acquire(ctx context.Context, key string) error {
	for attempt := 0; attempt < rl.cfg.MaxAttempts; attempt++ {
		if rl.IsAllowed(key) {
			return nil
		}
		if attempt == rl.cfg.MaxAttempts-1 {
			break
		}
		if err := rl.sleep(ctx, rl.backoff(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: key %q after %d attempts", ErrRateLimitExceeded, key, rl.cfg.MaxAttempts)
}

func (rl *RateLimiter) backoff(attempt int) time.Duration {
	d := rl.cfg.BaseDelay << uint(attempt)
	if d <= 0 || d > rl.cfg.MaxDelay {
		return rl.cfg.MaxDelay
	}
	return d
}

// IsAllowed records a request for key and reports whether it fits in the
// window. Rejected requests are not recorded.
func (rl *RateLimiter) IsAllowed(key string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	live := rl.prune(key, now)
	if len(live) >= rl.cfg.Limit {
		return false
	}
	rl.requests[key] = append(live, now)
	return true
}

// prune drops timestamps that fell out of the window; callers hold the lock
func (rl *RateLimiter) prune(key string, now time.Time) []time.Time {
	stamps := rl.requests[key]
	cutoff := now.Add(-rl.cfg.Window)
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		stamps = append(stamps[:0], stamps[i:]...)
		rl.requests[key] = stamps
	}
	return stamps
}

// GetRequestInfo returns the number of requests counted in the current window
// for key and the time at which the oldest of them leaves the window
func (rl *RateLimiter) GetRequestInfo(key string) (count int, resetTime time.Time) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	live := rl.prune(key, now)
	if len(live) == 0 {
		return 0, now.Add(rl.cfg.Window)
	}
	return len(live), live[0].Add(rl.cfg.Window)
}

// Reset forgets every request recorded for key
func (rl *RateLimiter) Reset(key string) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	delete(rl.requests, key)
}

// Cleanup removes keys with no requests left in the window
func (rl *RateLimiter) Cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for key := range rl.requests {
		if len(rl.prune(key, now)) == 0 {
			delete(rl.requests, key)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
