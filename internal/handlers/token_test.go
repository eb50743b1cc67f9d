package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"meme-coin-aggregator/internal/models"
	"meme-coin-aggregator/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bonkAddress = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

// MockTokenService implements TokenServiceInterface for testing
type MockTokenService struct {
	mu         sync.Mutex
	tokens     map[string]*models.Token
	lastOpts   models.FilterOptions
	lastQuery  string
	lastLimit  int
	fetchError error
}

func NewMockTokenService() *MockTokenService {
	return &MockTokenService{tokens: make(map[string]*models.Token)}
}

func (m *MockTokenService) FetchTokens(_ context.Context, opts models.FilterOptions) (*models.PaginationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOpts = opts
	if m.fetchError != nil {
		return nil, m.fetchError
	}

	data := make([]models.Token, 0, len(m.tokens))
	for _, t := range m.tokens {
		data = append(data, *t)
	}
	return &models.PaginationResult{
		Data:       data,
		Total:      len(data),
		HasMore:    true,
		NextCursor: models.EncodeCursor(20),
	}, nil
}

func (m *MockTokenService) GetTokenByAddress(_ context.Context, address string) (*models.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[address], nil
}

func (m *MockTokenService) SearchTokens(_ context.Context, query string, limit int) ([]models.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQuery = query
	m.lastLimit = limit

	out := []models.Token{}
	for _, t := range m.tokens {
		out = append(out, *t)
	}
	return out, nil
}

func setupTokenEngine(t *testing.T) (*gin.Engine, *MockTokenService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := NewMockTokenService()
	svc.tokens[bonkAddress] = &models.Token{
		Address:     bonkAddress,
		Name:        "Bonk",
		Ticker:      "BONK",
		PriceSOL:    0.0000001,
		VolumeSOL:   1200,
		Protocol:    "Raydium",
		LastUpdated: time.Now(),
		DataSources: []string{"dexscreener"},
	}

	checker := services.NewHealthChecker(nil, nil, nil, time.Minute)
	router := NewRouter(svc, NewHealthHandler(checker, "test"))

	engine := gin.New()
	router.SetupRoutes(engine)
	router.SetupHealthRoutes(engine)
	return engine, svc
}

func perform(engine *gin.Engine, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	return resp
}

func TestTokenHandler_GetTokens(t *testing.T) {
	engine, svc := setupTokenEngine(t)

	t.Run("ParsesTypedParameters", func(t *testing.T) {
		w := perform(engine, "/api/tokens?timeframe=24h&sortBy=market_cap&sortOrder=ASC&minVolume=10.5&minLiquidity=3&protocol=raydium&limit=500&cursor=abc")
		require.Equal(t, http.StatusOK, w.Code)

		var resp models.TokenListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Len(t, resp.Data, 1)
		assert.True(t, resp.HasMore)
		assert.NotEmpty(t, resp.NextCursor)

		opts := svc.lastOpts
		assert.Equal(t, models.Timeframe24h, opts.Timeframe)
		assert.Equal(t, models.SortByMarketCap, opts.SortBy)
		assert.Equal(t, models.SortAsc, opts.SortOrder)
		require.NotNil(t, opts.MinVolume)
		assert.Equal(t, 10.5, *opts.MinVolume)
		require.NotNil(t, opts.MinLiquidity)
		assert.Equal(t, 3.0, *opts.MinLiquidity)
		assert.Equal(t, "raydium", opts.Protocol)
		assert.Equal(t, models.MaxLimit, opts.Limit)
		assert.Equal(t, "abc", opts.Cursor)
	})

	t.Run("DefaultsAreLeftToTheService", func(t *testing.T) {
		w := perform(engine, "/api/tokens")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.FilterOptions{}, svc.lastOpts)
	})

	t.Run("UnknownSortKeyIsAccepted", func(t *testing.T) {
		w := perform(engine, "/api/tokens?sortBy=holders")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.SortKey("holders"), svc.lastOpts.SortBy)
	})

	t.Run("MalformedParameters", func(t *testing.T) {
		for _, target := range []string{
			"/api/tokens?minVolume=lots",
			"/api/tokens?minLiquidity=-1",
			"/api/tokens?limit=0",
			"/api/tokens?limit=ten",
			"/api/tokens?timeframe=1y",
			"/api/tokens?sortOrder=sideways",
		} {
			w := perform(engine, target)
			assert.Equal(t, http.StatusBadRequest, w.Code, target)
			assert.Equal(t, models.ErrorCodeInvalidRequest, decodeError(t, w).Error.Code, target)
		}
	})

	t.Run("NoSources", func(t *testing.T) {
		svc.fetchError = services.ErrNoSources
		defer func() { svc.fetchError = nil }()

		w := perform(engine, "/api/tokens")
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, models.ErrorCodeUpstreamUnavailable, decodeError(t, w).Error.Code)
	})

	t.Run("InternalError", func(t *testing.T) {
		svc.fetchError = errors.New("boom")
		defer func() { svc.fetchError = nil }()

		w := perform(engine, "/api/tokens")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestTokenHandler_GetTokenByAddress(t *testing.T) {
	engine, _ := setupTokenEngine(t)

	t.Run("Found", func(t *testing.T) {
		w := perform(engine, "/api/tokens/"+bonkAddress)
		require.Equal(t, http.StatusOK, w.Code)

		var resp models.TokenResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		require.NotNil(t, resp.Data)
		assert.Equal(t, "BONK", resp.Data.Ticker)
	})

	t.Run("NotFound", func(t *testing.T) {
		w := perform(engine, "/api/tokens/EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, models.ErrorCodeTokenNotFound, decodeError(t, w).Error.Code)
	})

	t.Run("InvalidAddress", func(t *testing.T) {
		w := perform(engine, "/api/tokens/not-a-mint")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, models.ErrorCodeInvalidAddress, decodeError(t, w).Error.Code)
	})
}

func TestTokenHandler_SearchTokens(t *testing.T) {
	engine, svc := setupTokenEngine(t)

	t.Run("MissingQuery", func(t *testing.T) {
		w := perform(engine, "/api/tokens/search")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, models.ErrorCodeMissingQuery, decodeError(t, w).Error.Code)
	})

	t.Run("Search", func(t *testing.T) {
		w := perform(engine, "/api/tokens/search?q=bonk&limit=5")
		require.Equal(t, http.StatusOK, w.Code)

		var resp models.SearchResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, 1, resp.Total)
		assert.Equal(t, "bonk", svc.lastQuery)
		assert.Equal(t, 5, svc.lastLimit)
	})
}

func TestHealthHandler(t *testing.T) {
	engine, _ := setupTokenEngine(t)

	t.Run("Liveness", func(t *testing.T) {
		w := perform(engine, "/api/health")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	})

	t.Run("DegradedStillAnswers", func(t *testing.T) {
		w := perform(engine, "/health")
		require.Equal(t, http.StatusOK, w.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, services.HealthStatusDegraded, resp.Status)
		assert.Contains(t, resp.Services, "cache")
		assert.Equal(t, "test", resp.Version)
	})

	t.Run("NotReadyWithoutSnapshot", func(t *testing.T) {
		w := perform(engine, "/health/ready")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
