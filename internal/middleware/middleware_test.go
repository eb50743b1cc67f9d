package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"meme-coin-aggregator/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(engine *gin.Engine, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRequestMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	collector := metrics.NewMetricsCollector()

	engine := gin.New()
	engine.Use(RequestMetrics(collector))
	engine.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	serve(engine, http.MethodGet, "/ok", nil)
	serve(engine, http.MethodGet, "/ok", nil)
	serve(engine, http.MethodGet, "/missing", nil)

	m := collector.GetMetrics()
	assert.Equal(t, int64(3), m.TotalRequests)
	assert.Equal(t, int64(2), m.SuccessfulRequests)
	assert.Equal(t, int64(1), m.FailedRequests)
	assert.Equal(t, int64(0), m.ActiveRequests)
}

func TestTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(Timeout(50 * time.Millisecond))
	engine.GET("/slow", func(c *gin.Context) {
		select {
		case <-c.Request.Context().Done():
			c.Status(http.StatusGatewayTimeout)
		case <-time.After(time.Second):
			c.Status(http.StatusOK)
		}
	})

	w := serve(engine, http.MethodGet, "/slow", nil)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestConcurrency(t *testing.T) {
	gin.SetMode(gin.TestMode)

	release := make(chan struct{})
	entered := make(chan struct{})
	engine := gin.New()
	engine.Use(Concurrency(1))
	engine.GET("/hold", func(c *gin.Context) {
		close(entered)
		<-release
		c.Status(http.StatusOK)
	})

	var wg sync.WaitGroup
	wg.Add(1)
	var first *httptest.ResponseRecorder
	go func() {
		defer wg.Done()
		first = serve(engine, http.MethodGet, "/hold", nil)
	}()
	<-entered

	second := serve(engine, http.MethodGet, "/hold", nil)
	assert.Equal(t, http.StatusServiceUnavailable, second.Code)

	close(release)
	wg.Wait()
	require.NotNil(t, first)
	assert.Equal(t, http.StatusOK, first.Code)
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)

	build := func(origins []string) *gin.Engine {
		engine := gin.New()
		engine.Use(CORS(origins))
		engine.GET("/api/tokens", func(c *gin.Context) { c.Status(http.StatusOK) })
		return engine
	}

	t.Run("Wildcard", func(t *testing.T) {
		w := serve(build([]string{"*"}), http.MethodGet, "/api/tokens", map[string]string{"Origin": "https://a.example"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("ExplicitOrigin", func(t *testing.T) {
		engine := build([]string{"https://app.example"})

		w := serve(engine, http.MethodGet, "/api/tokens", map[string]string{"Origin": "https://app.example"})
		assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

		w = serve(engine, http.MethodGet, "/api/tokens", map[string]string{"Origin": "https://other.example"})
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Preflight", func(t *testing.T) {
		w := serve(build(nil), http.MethodOptions, "/api/tokens", map[string]string{"Origin": "https://a.example"})
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}
