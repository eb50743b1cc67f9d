package middleware

import (
	"time"

	"meme-coin-aggregator/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// RequestMetrics records request counts and latency. Anything below 400 is a
// success.
func RequestMetrics(collector *metrics.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		collector.RecordRequest()

		c.Next()

		collector.RecordRequestComplete(time.Since(startTime), c.Writer.Status() < 400)
	}
}
