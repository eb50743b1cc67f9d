package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"meme-coin-aggregator/internal/models"
	"meme-coin-aggregator/internal/services"
	"meme-coin-aggregator/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TokenHandler handles token listing, lookup and search requests
type TokenHandler struct {
	tokenService services.TokenServiceInterface
}

// NewTokenHandler creates a new TokenHandler instance
func NewTokenHandler(tokenService services.TokenServiceInterface) *TokenHandler {
	return &TokenHandler{
		tokenService: tokenService,
	}
}

// GetTokens handles GET /api/tokens
func (h *TokenHandler) GetTokens(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	opts, err := parseFilterOptions(c)
	if err != nil {
		log.Warn("Invalid listing parameters", zap.Error(err), zap.String("query", c.Request.URL.RawQuery))
		models.HandleError(c, err, log)
		return
	}

	result, err := h.tokenService.FetchTokens(c.Request.Context(), opts)
	if err != nil {
		models.HandleError(c, serviceError(err), log)
		return
	}

	c.JSON(http.StatusOK, models.TokenListResponse{
		Success:          true,
		PaginationResult: *result,
	})
}

// GetTokenByAddress handles GET /api/tokens/:address
func (h *TokenHandler) GetTokenByAddress(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())
	address := strings.TrimSpace(c.Param("address"))

	if _, err := services.ValidateAddress(address); err != nil {
		models.HandleError(c, models.NewInvalidAddressError(address, err), log)
		return
	}

	token, err := h.tokenService.GetTokenByAddress(c.Request.Context(), address)
	if err != nil {
		models.HandleError(c, serviceError(err), log)
		return
	}
	if token == nil {
		models.HandleError(c, models.NewNotFoundError(address), log)
		return
	}

	c.JSON(http.StatusOK, models.TokenResponse{Success: true, Data: token})
}

// SearchTokens handles GET /api/tokens/search?q=
func (h *TokenHandler) SearchTokens(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		models.HandleError(c, models.NewAppError(models.ErrorCodeMissingQuery, "Search query is required"), log)
		return
	}

	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		models.HandleError(c, err, log)
		return
	}

	log.Info("Searching tokens", zap.String("query", query))

	tokens, err := h.tokenService.SearchTokens(c.Request.Context(), query, limit)
	if err != nil {
		models.HandleError(c, serviceError(err), log)
		return
	}

	c.JSON(http.StatusOK, models.SearchResponse{
		Success: true,
		Data:    tokens,
		Total:   len(tokens),
	})
}

// parseFilterOptions reads the listing query parameters. Unknown sort keys
// are accepted; every other malformed value is a validation error.
func parseFilterOptions(c *gin.Context) (models.FilterOptions, error) {
	var opts models.FilterOptions

	if tf := c.Query("timeframe"); tf != "" {
		opts.Timeframe = models.Timeframe(strings.ToLower(tf))
		if !opts.Timeframe.Valid() {
			return opts, models.NewValidationError("Invalid timeframe", "timeframe must be one of 1h, 24h, 7d, all")
		}
	}

	if sortBy := c.Query("sortBy"); sortBy != "" {
		opts.SortBy = models.SortKey(sortBy)
	}

	if order := c.Query("sortOrder"); order != "" {
		opts.SortOrder = models.SortOrder(strings.ToLower(order))
		if !opts.SortOrder.Valid() {
			return opts, models.NewValidationError("Invalid sort order", "sortOrder must be asc or desc")
		}
	}

	var err error
	if opts.MinVolume, err = parseThreshold("minVolume", c.Query("minVolume")); err != nil {
		return opts, err
	}
	if opts.MinLiquidity, err = parseThreshold("minLiquidity", c.Query("minLiquidity")); err != nil {
		return opts, err
	}

	opts.Protocol = strings.TrimSpace(c.Query("protocol"))
	opts.Cursor = c.Query("cursor")

	if opts.Limit, err = parseLimit(c.Query("limit")); err != nil {
		return opts, err
	}
	return opts, nil
}

func parseThreshold(name, raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return nil, models.NewValidationError("Invalid "+name, name+" must be a non-negative number")
	}
	return &v, nil
}

// parseLimit returns zero for an absent limit so the default applies
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, models.NewValidationError("Invalid limit", "limit must be a positive integer")
	}
	if n > models.MaxLimit {
		n = models.MaxLimit
	}
	return n, nil
}

func serviceError(err error) error {
	switch {
	case errors.Is(err, services.ErrNoSources):
		return models.NewUpstreamError("No token sources available", err)
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewUpstreamError("Token sources did not answer in time", err)
	}
	return err
}
