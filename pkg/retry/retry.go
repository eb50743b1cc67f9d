// Package retry runs fallible operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Retryable is implemented by errors that know whether a retry may succeed,
// such as upstream HTTP errors carrying a status code
type Retryable interface {
	IsRetryable() bool
}

// Config controls the retry policy
type Config struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// DefaultConfig returns 3 retries with a 1s doubling delay capped at 10s
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
	}
}

// Executor retries operations according to its Config
type Executor struct {
	cfg    Config
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates an Executor. A nil logger disables retry logging.
func New(cfg Config, logger *zap.Logger) *Executor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, logger: logger, sleep: sleepContext}
}

// Delay returns the backoff before retry number attempt (zero based)
func (e *Executor) Delay(attempt int) time.Duration {
	d := e.cfg.BaseDelay << uint(attempt)
	if d <= 0 || d > e.cfg.MaxDelay {
		return e.cfg.MaxDelay
	}
	return d
}

// Execute runs op up to MaxRetries+1 times. Non-retryable errors are
// returned immediately; after the last attempt the last error is returned.
func Execute[T any](ctx context.Context, e *Executor, label string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.Delay(attempt - 1)
			e.logger.Debug("Retrying operation",
				zap.String("operation", label),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(lastErr),
			)
			if err := e.sleep(ctx, delay); err != nil {
				return zero, err
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}
	}

	e.logger.Warn("Retries exhausted",
		zap.String("operation", label),
		zap.Int("attempts", e.cfg.MaxRetries+1),
		zap.Error(lastErr),
	)
	return zero, fmt.Errorf("%s: retries exhausted: %w", label, lastErr)
}

// IsRetryable classifies err as transient. Context cancellation is never
// retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var r Retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
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
