package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"meme-coin-aggregator/internal/models"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
)

// Timeout bounds the request context. Upstream fetches observe it; the
// handler still writes its own response.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Concurrency rejects requests beyond max in flight with 503
func Concurrency(max int) gin.HandlerFunc {
	if max <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	sem := semaphore.NewWeighted(int64(max))

	return func(c *gin.Context) {
		if !sem.TryAcquire(1) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, models.ErrorResponse{
				Success: false,
				Error: models.ErrorDetail{
					Code:    models.ErrorCodeInternalError,
					Message: "Server is at capacity, retry shortly",
				},
				Timestamp: time.Now(),
			})
			return
		}
		defer sem.Release(1)
		c.Next()
	}
}

// CORS answers preflight requests and sets the allow headers. An empty list
// or "*" allows any origin.
func CORS(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "":
			if _, ok := allowed[origin]; ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
		}
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, X-Correlation-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
