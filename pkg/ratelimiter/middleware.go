package ratelimiter

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// RejectFunc writes the response for a request over its quota. The
// rate-limit headers are already set when it runs.
type RejectFunc func(c *gin.Context, retryAfter time.Duration)

// Middleware limits inbound requests per client IP. With no reject function
// a bare 429 is written.
func (rl *RateLimiter) Middleware(reject ...RejectFunc) gin.HandlerFunc {
	onReject := func(c *gin.Context, _ time.Duration) {
		c.AbortWithStatus(http.StatusTooManyRequests)
	}
	if len(reject) > 0 && reject[0] != nil {
		onReject = reject[0]
	}
	limit := strconv.Itoa(rl.cfg.Limit)

	return func(c *gin.Context) {
		key := c.ClientIP()
		allowed := rl.IsAllowed(key)
		used, reset := rl.GetRequestInfo(key)

		h := c.Writer.Header()
		h.Set("X-RateLimit-Limit", limit)
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(max(rl.cfg.Limit-used, 0)))

		if allowed {
			c.Next()
			return
		}

		wait := max(time.Until(reset).Round(time.Second), time.Second)
		h.Set("Retry-After", strconv.Itoa(int(wait/time.Second)))
		onReject(c, wait)
		c.Abort()
	}
}
