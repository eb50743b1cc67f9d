package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is a point-in-time copy of the collected counters
type Metrics struct {
	// HTTP request metrics
	TotalRequests       int64         `json:"total_requests"`
	SuccessfulRequests  int64         `json:"successful_requests"`
	FailedRequests      int64         `json:"failed_requests"`
	ActiveRequests      int64         `json:"active_requests"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	MaxResponseTime     time.Duration `json:"max_response_time"`

	// Cache metrics
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`

	// Upstream metrics, keyed by source name
	Upstream map[string]UpstreamMetrics `json:"upstream"`

	// Pipeline metrics
	SnapshotRefreshes int64     `json:"snapshot_refreshes"`
	LastRefresh       time.Time `json:"last_refresh,omitempty"`
	SnapshotSize      int64     `json:"snapshot_size"`
	Broadcasts        int64     `json:"broadcasts"`
	ChangedTokens     int64     `json:"changed_tokens"`
	Subscribers       int64     `json:"subscribers"`
	CoalescedWaits    int64     `json:"coalesced_waits"`
}

// UpstreamMetrics counts calls made to one source
type UpstreamMetrics struct {
	Calls       int64         `json:"calls"`
	Failures    int64         `json:"failures"`
	AverageTime time.Duration `json:"average_time"`
}

type upstreamCounter struct {
	calls     int64
	failures  int64
	totalTime time.Duration
}

// MetricsCollector provides thread-safe metrics collection
type MetricsCollector struct {
	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64
	activeRequests     atomic.Int64
	cacheHits          atomic.Int64
	cacheMisses        atomic.Int64
	refreshes          atomic.Int64
	snapshotSize       atomic.Int64
	broadcasts         atomic.Int64
	changedTokens      atomic.Int64
	subscribers        atomic.Int64
	coalescedWaits     atomic.Int64

	mu                sync.Mutex
	totalResponseTime time.Duration
	completed         int64
	maxResponseTime   time.Duration
	lastRefresh       time.Time
	upstream          map[string]*upstreamCounter
	startTime         time.Time
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		upstream:  make(map[string]*upstreamCounter),
		startTime: time.Now(),
	}
}

// RecordRequest records a new inbound request
func (mc *MetricsCollector) RecordRequest() {
	mc.totalRequests.Add(1)
	mc.activeRequests.Add(1)
}

// RecordRequestComplete records request completion
func (mc *MetricsCollector) RecordRequestComplete(duration time.Duration, success bool) {
	mc.activeRequests.Add(-1)
	if success {
		mc.successfulRequests.Add(1)
	} else {
		mc.failedRequests.Add(1)
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.totalResponseTime += duration
	mc.completed++
	if duration > mc.maxResponseTime {
		mc.maxResponseTime = duration
	}
}

// RecordCacheHit records a cache hit
func (mc *MetricsCollector) RecordCacheHit() {
	mc.cacheHits.Add(1)
}

// RecordCacheMiss records a cache miss
func (mc *MetricsCollector) RecordCacheMiss() {
	mc.cacheMisses.Add(1)
}

// RecordUpstreamCall records one call to a named source
func (mc *MetricsCollector) RecordUpstreamCall(source string, duration time.Duration, success bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	c, ok := mc.upstream[source]
	if !ok {
		c = &upstreamCounter{}
		mc.upstream[source] = c
	}
	c.calls++
	c.totalTime += duration
	if !success {
		c.failures++
	}
}

// RecordRefresh records a completed snapshot refresh
func (mc *MetricsCollector) RecordRefresh(size int) {
	mc.refreshes.Add(1)
	mc.snapshotSize.Store(int64(size))

	mc.mu.Lock()
	mc.lastRefresh = time.Now()
	mc.mu.Unlock()
}

// RecordBroadcast records a published update carrying changed tokens
func (mc *MetricsCollector) RecordBroadcast(changed int) {
	mc.broadcasts.Add(1)
	mc.changedTokens.Add(int64(changed))
}

// SetSubscribers records the number of connected subscribers
func (mc *MetricsCollector) SetSubscribers(n int) {
	mc.subscribers.Store(int64(n))
}

// RecordCoalescedWait records a request that waited on an identical in-flight one
func (mc *MetricsCollector) RecordCoalescedWait() {
	mc.coalescedWaits.Add(1)
}

// GetMetrics returns a copy of current metrics
func (mc *MetricsCollector) GetMetrics() *Metrics {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	m := &Metrics{
		TotalRequests:      mc.totalRequests.Load(),
		SuccessfulRequests: mc.successfulRequests.Load(),
		FailedRequests:     mc.failedRequests.Load(),
		ActiveRequests:     mc.activeRequests.Load(),
		MaxResponseTime:    mc.maxResponseTime,
		CacheHits:          mc.cacheHits.Load(),
		CacheMisses:        mc.cacheMisses.Load(),
		SnapshotRefreshes:  mc.refreshes.Load(),
		LastRefresh:        mc.lastRefresh,
		SnapshotSize:       mc.snapshotSize.Load(),
		Broadcasts:         mc.broadcasts.Load(),
		ChangedTokens:      mc.changedTokens.Load(),
		Subscribers:        mc.subscribers.Load(),
		CoalescedWaits:     mc.coalescedWaits.Load(),
		Upstream:           make(map[string]UpstreamMetrics, len(mc.upstream)),
	}
	if mc.completed > 0 {
		m.AverageResponseTime = mc.totalResponseTime / time.Duration(mc.completed)
	}
	for name, c := range mc.upstream {
		um := UpstreamMetrics{Calls: c.calls, Failures: c.failures}
		if c.calls > 0 {
			um.AverageTime = c.totalTime / time.Duration(c.calls)
		}
		m.Upstream[name] = um
	}
	return m
}

// Sources returns the names of sources seen so far, sorted
func (mc *MetricsCollector) Sources() []string {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	names := make([]string, 0, len(mc.upstream))
	for name := range mc.upstream {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetUptime returns the uptime since metrics collection started
func (mc *MetricsCollector) GetUptime() time.Duration {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return time.Since(mc.startTime)
}

// Reset resets all metrics
func (mc *MetricsCollector) Reset() {
	for _, c := range []*atomic.Int64{
		&mc.totalRequests, &mc.successfulRequests, &mc.failedRequests, &mc.activeRequests,
		&mc.cacheHits, &mc.cacheMisses, &mc.refreshes, &mc.snapshotSize,
		&mc.broadcasts, &mc.changedTokens, &mc.subscribers, &mc.coalescedWaits,
	} {
		c.Store(0)
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.totalResponseTime = 0
	mc.completed = 0
	mc.maxResponseTime = 0
	mc.lastRefresh = time.Time{}
	mc.upstream = make(map[string]*upstreamCounter)
	mc.startTime = time.Now()
}

// GetCacheHitRatio returns the cache hit ratio as a percentage
func (mc *MetricsCollector) GetCacheHitRatio() float64 {
	hits := mc.cacheHits.Load()
	total := hits + mc.cacheMisses.Load()
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total) * 100.0
}

// GetSuccessRate returns the success rate of completed requests as a percentage
func (mc *MetricsCollector) GetSuccessRate() float64 {
	successful := mc.successfulRequests.Load()
	total := successful + mc.failedRequests.Load()
	if total == 0 {
		return 0.0
	}
	return float64(successful) / float64(total) * 100.0
}
