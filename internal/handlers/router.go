package handlers

import (
	"meme-coin-aggregator/internal/services"

	"github.com/gin-gonic/gin"
)

// Router owns the HTTP handlers and mounts them on a gin engine.
type Router struct {
	tokens *TokenHandler
	health *HealthHandler
}

// NewRouter builds the token handler over tokenService and pairs it with
// the health handler.
func NewRouter(tokenService services.TokenServiceInterface, health *HealthHandler) *Router {
	return &Router{tokens: NewTokenHandler(tokenService), health: health}
}

// SetupRoutes mounts the token API. The given middleware, such as the
// inbound rate limiter, wraps the /api group only.
func (r *Router) SetupRoutes(engine *gin.Engine, middleware ...gin.HandlerFunc) {
	api := engine.Group("/api", middleware...)
	api.GET("/tokens", r.tokens.GetTokens)
	// registered before :address so "search" is never read as a mint
	api.GET("/tokens/search", r.tokens.SearchTokens)
	api.GET("/tokens/:address", r.tokens.GetTokenByAddress)
	api.GET("/health", r.health.GetLiveness)
}

// SetupHealthRoutes mounts the probes outside /api so they bypass rate limiting.
func (r *Router) SetupHealthRoutes(engine *gin.Engine) {
	probes := engine.Group("/health")
	probes.GET("", r.health.GetHealth)
	probes.GET("/live", r.health.GetLiveness)
	probes.GET("/ready", r.health.GetReadiness)
	probes.GET("/cache", r.health.GetCacheHealth)
	probes.GET("/chain", r.health.GetChainHealth)
}
