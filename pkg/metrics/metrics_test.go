package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsCollector(t *testing.T) {
	collector := NewMetricsCollector()

	t.Run("InitialState", func(t *testing.T) {
		metrics := collector.GetMetrics()
		assert.Equal(t, int64(0), metrics.TotalRequests)
		assert.Equal(t, int64(0), metrics.CacheHits)
		assert.Equal(t, int64(0), metrics.SnapshotRefreshes)
		assert.Empty(t, metrics.Upstream)
		assert.True(t, metrics.LastRefresh.IsZero())
	})

	t.Run("Requests", func(t *testing.T) {
		collector.RecordRequest()
		assert.Equal(t, int64(1), collector.GetMetrics().ActiveRequests)

		collector.RecordRequestComplete(100*time.Millisecond, true)
		collector.RecordRequest()
		collector.RecordRequestComplete(300*time.Millisecond, false)

		metrics := collector.GetMetrics()
		assert.Equal(t, int64(2), metrics.TotalRequests)
		assert.Equal(t, int64(0), metrics.ActiveRequests)
		assert.Equal(t, 200*time.Millisecond, metrics.AverageResponseTime)
		assert.Equal(t, 300*time.Millisecond, metrics.MaxResponseTime)
		assert.InDelta(t, 50.0, collector.GetSuccessRate(), 0.01)
	})

	t.Run("CacheMetrics", func(t *testing.T) {
		collector.RecordCacheHit()
		collector.RecordCacheHit()
		collector.RecordCacheMiss()

		metrics := collector.GetMetrics()
		assert.Equal(t, int64(2), metrics.CacheHits)
		assert.Equal(t, int64(1), metrics.CacheMisses)
		assert.InDelta(t, 66.67, collector.GetCacheHitRatio(), 0.1)
	})

	t.Run("UpstreamMetrics", func(t *testing.T) {
		collector.RecordUpstreamCall("dexscreener", 50*time.Millisecond, true)
		collector.RecordUpstreamCall("dexscreener", 100*time.Millisecond, false)
		collector.RecordUpstreamCall("jupiter", 10*time.Millisecond, true)

		metrics := collector.GetMetrics()
		dex := metrics.Upstream["dexscreener"]
		assert.Equal(t, int64(2), dex.Calls)
		assert.Equal(t, int64(1), dex.Failures)
		assert.Equal(t, 75*time.Millisecond, dex.AverageTime)
		assert.Equal(t, []string{"dexscreener", "jupiter"}, collector.Sources())
	})

	t.Run("PipelineMetrics", func(t *testing.T) {
		collector.RecordRefresh(42)
		collector.RecordBroadcast(3)
		collector.RecordBroadcast(2)
		collector.SetSubscribers(7)
		collector.RecordCoalescedWait()

		metrics := collector.GetMetrics()
		assert.Equal(t, int64(1), metrics.SnapshotRefreshes)
		assert.Equal(t, int64(42), metrics.SnapshotSize)
		assert.False(t, metrics.LastRefresh.IsZero())
		assert.Equal(t, int64(2), metrics.Broadcasts)
		assert.Equal(t, int64(5), metrics.ChangedTokens)
		assert.Equal(t, int64(7), metrics.Subscribers)
		assert.Equal(t, int64(1), metrics.CoalescedWaits)
	})

	t.Run("Reset", func(t *testing.T) {
		collector.Reset()

		metrics := collector.GetMetrics()
		assert.Equal(t, int64(0), metrics.TotalRequests)
		assert.Equal(t, int64(0), metrics.CacheHits)
		assert.Equal(t, int64(0), metrics.Broadcasts)
		assert.Empty(t, metrics.Upstream)
		assert.Equal(t, 0.0, collector.GetSuccessRate())
	})
}

func TestMetricsCollectorConcurrent(t *testing.T) {
	collector := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordRequest()
			collector.RecordUpstreamCall("dexscreener", time.Millisecond, true)
			collector.RecordRequestComplete(time.Millisecond, true)
		}()
	}
	wg.Wait()

	metrics := collector.GetMetrics()
	assert.Equal(t, int64(50), metrics.TotalRequests)
	assert.Equal(t, int64(50), metrics.Upstream["dexscreener"].Calls)
}
