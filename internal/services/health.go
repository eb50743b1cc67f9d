package services

import (
	"context"
	"fmt"
	"time"
)

// HealthStatus represents the health status of a service
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheck represents a health check result
type HealthCheck struct {
	Service      string        `json:"service"`
	Status       HealthStatus  `json:"status"`
	Message      string        `json:"message,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Pinger is anything that can report its own reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping calls f
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthChecker aggregates the dependency checks behind /health.
// The cache and chain RPC are optional: when unreachable the service still
// answers from upstream sources, so they only degrade the result.
type HealthChecker struct {
	cache    Pinger
	chain    Pinger
	snapshot func() *Snapshot
	maxAge   time.Duration
	timeout  time.Duration
	now      func() time.Time
}

// NewHealthChecker creates a checker. Any dependency may be nil. A snapshot
// older than maxAge is reported as degraded.
func NewHealthChecker(cache, chain Pinger, snapshot func() *Snapshot, maxAge time.Duration) *HealthChecker {
	return &HealthChecker{
		cache:    cache,
		chain:    chain,
		snapshot: snapshot,
		maxAge:   maxAge,
		timeout:  5 * time.Second,
		now:      time.Now,
	}
}

// CheckCache pings the cache store
func (h *HealthChecker) CheckCache(ctx context.Context) *HealthCheck {
	return h.ping(ctx, "cache", h.cache)
}

// CheckChain pings the Solana RPC endpoint
func (h *HealthChecker) CheckChain(ctx context.Context) *HealthCheck {
	return h.ping(ctx, "solana_rpc", h.chain)
}

func (h *HealthChecker) ping(ctx context.Context, service string, p Pinger) *HealthCheck {
	start := h.now()
	check := &HealthCheck{Service: service, Timestamp: start}

	if p == nil {
		check.Status = HealthStatusDegraded
		check.Message = "not configured"
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("ping failed: %v", err)
	} else {
		check.Status = HealthStatusHealthy
	}
	check.ResponseTime = time.Since(start)
	return check
}

// CheckSnapshot reports whether the aggregated token set is present and fresh
func (h *HealthChecker) CheckSnapshot() *HealthCheck {
	now := h.now()
	check := &HealthCheck{Service: "snapshot", Timestamp: now}

	var snap *Snapshot
	if h.snapshot != nil {
		snap = h.snapshot()
	}

	switch {
	case snap == nil:
		check.Status = HealthStatusDegraded
		check.Message = "no snapshot loaded yet"
	case h.maxAge > 0 && now.Sub(snap.RefreshedAt) > h.maxAge:
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("snapshot is %s old", now.Sub(snap.RefreshedAt).Round(time.Second))
	default:
		check.Status = HealthStatusHealthy
		check.Message = fmt.Sprintf("%d tokens", snap.Len())
	}
	return check
}

// GetDetailedHealth runs every check
func (h *HealthChecker) GetDetailedHealth(ctx context.Context) map[string]*HealthCheck {
	return map[string]*HealthCheck{
		"cache":      h.CheckCache(ctx),
		"solana_rpc": h.CheckChain(ctx),
		"snapshot":   h.CheckSnapshot(),
	}
}

// Overall folds individual checks into one status
func Overall(checks map[string]*HealthCheck) HealthStatus {
	status := HealthStatusHealthy
	for _, c := range checks {
		switch c.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			status = HealthStatusDegraded
		}
	}
	return status
}
