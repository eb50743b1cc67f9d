package handlers

import (
	"net/http"
	"time"

	"meme-coin-aggregator/internal/services"

	"github.com/gin-gonic/gin"
)

// HealthHandler serves the liveness, readiness and dependency probes.
type HealthHandler struct {
	checker *services.HealthChecker
	version string
}

func NewHealthHandler(checker *services.HealthChecker, version string) *HealthHandler {
	return &HealthHandler{checker: checker, version: version}
}

// HealthResponse aggregates every dependency check.
type HealthResponse struct {
	Success   bool                             `json:"success"`
	Status    services.HealthStatus            `json:"status"`
	Timestamp time.Time                        `json:"timestamp"`
	Services  map[string]*services.HealthCheck `json:"services"`
	Version   string                           `json:"version,omitempty"`
}

// probeResponse is the body of the lightweight probes.
type probeResponse struct {
	Success   bool      `json:"success"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// statusCodeFor maps a health status to its HTTP code. A degraded service
// keeps serving, so only unhealthy answers 503.
func statusCodeFor(status services.HealthStatus) int {
	if status == services.HealthStatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (h *HealthHandler) GetHealth(c *gin.Context) {
	checks := h.checker.GetDetailedHealth(c.Request.Context())
	overall := services.Overall(checks)

	c.JSON(statusCodeFor(overall), HealthResponse{
		Success:   overall != services.HealthStatusUnhealthy,
		Status:    overall,
		Timestamp: time.Now(),
		Services:  checks,
		Version:   h.version,
	})
}

// GetLiveness answers as long as the process serves HTTP.
func (h *HealthHandler) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, probeResponse{Success: true, Status: "healthy", Timestamp: time.Now()})
}

// GetReadiness waits for the first token snapshot and reports stale ones.
func (h *HealthHandler) GetReadiness(c *gin.Context) {
	snapshot := h.checker.CheckSnapshot()
	if snapshot.Status != services.HealthStatusHealthy {
		c.JSON(http.StatusServiceUnavailable, probeResponse{
			Status:    "not_ready",
			Message:   snapshot.Message,
			Timestamp: time.Now(),
		})
		return
	}
	c.JSON(http.StatusOK, probeResponse{Success: true, Status: "ready", Timestamp: time.Now()})
}

func (h *HealthHandler) GetCacheHealth(c *gin.Context) {
	h.dependency(c, h.checker.CheckCache(c.Request.Context()))
}

func (h *HealthHandler) GetChainHealth(c *gin.Context) {
	h.dependency(c, h.checker.CheckChain(c.Request.Context()))
}

// dependency writes a single check; anything short of healthy is a 503 so
// that orchestrators can alert on the individual dependency.
func (h *HealthHandler) dependency(c *gin.Context, check *services.HealthCheck) {
	code := http.StatusOK
	if check.Status != services.HealthStatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, check)
}
