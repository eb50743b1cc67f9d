package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"meme-coin-aggregator/internal/config"
	"meme-coin-aggregator/internal/handlers"
	"meme-coin-aggregator/internal/middleware"
	"meme-coin-aggregator/internal/models"
	"meme-coin-aggregator/internal/services"
	"meme-coin-aggregator/internal/websocket"
	"meme-coin-aggregator/pkg/cache"
	"meme-coin-aggregator/pkg/logger"
	"meme-coin-aggregator/pkg/metrics"
	"meme-coin-aggregator/pkg/ratelimiter"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	serviceName = "meme-coin-aggregator"
	version     = "1.0.0"
)

// Server owns every long-lived component of the process
type Server struct {
	config      *config.Config
	httpServer  *http.Server
	cache       *cache.Cache
	metrics     *metrics.MetricsCollector
	aggregator  *services.AggregatorService
	chain       *services.ChainClient
	checker     *services.HealthChecker
	hub         *websocket.Hub
	broadcaster *services.Broadcaster
	sink        *services.KafkaSink
	rateLimiter *ratelimiter.RateLimiter
	router      *handlers.Router
	wsHandler   *websocket.Handler
	startedAt   time.Time

	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(&logger.Config{
		Level:       cfg.Logging.Level,
		Environment: cfg.Logging.Environment,
		Version:     version,
		OutputPaths: cfg.Logging.OutputPaths,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log := logger.GetLogger()
	log.Info("Starting meme coin aggregator",
		zap.String("address", cfg.Server.Address()),
		zap.Bool("redis", cfg.Redis.Addr != ""),
		zap.Bool("dexscreener", cfg.Sources.DexScreener.Enabled),
		zap.Bool("jupiter", cfg.Sources.Jupiter.Enabled),
		zap.Bool("kafka", cfg.Kafka.Enabled()),
		zap.Duration("cache_ttl", cfg.Cache.TTL),
		zap.Duration("update_interval", cfg.WebSocket.UpdateInterval),
		zap.String("environment", cfg.Logging.Environment),
	)

	server := NewServer(cfg, log)
	if err := server.Run(); err != nil {
		log.Fatal("Server stopped with error", zap.Error(err))
	}
}

// NewServer wires all components. Nothing is started until Run.
func NewServer(cfg *config.Config, log *logger.Logger) *Server {
	collector := metrics.NewMetricsCollector()

	var store cache.Store
	if cfg.Redis.Addr != "" {
		log.Debug("Using Redis cache store", zap.String("addr", cfg.Redis.Addr))
		store = cache.NewRedisStore(cache.RedisOptions{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
	} else {
		log.Debug("Using in-process cache store")
		store = cache.NewMemoryStore(cfg.Cache.CleanupInterval)
	}
	tokenCache := cache.New(store, cache.Options{
		Prefix:     cfg.Cache.KeyPrefix,
		DefaultTTL: cfg.Cache.TTL,
		Logger:     log.Logger,
	})

	var sources []services.Source
	if cfg.Sources.DexScreener.Enabled {
		sources = append(sources, services.NewDexScreenerService(cfg.Sources.DexScreener, collector, log))
	}
	if cfg.Sources.Jupiter.Enabled {
		sources = append(sources, services.NewJupiterService(cfg.Sources.Jupiter, collector, log))
	}
	if len(sources) == 0 {
		log.Warn("No token sources enabled")
	}

	aggregator := services.NewAggregatorService(sources, tokenCache, collector, services.AggregatorOptions{
		DefaultQuery: cfg.Sources.DefaultQuery,
		CacheTTL:     cfg.Cache.TTL,
		FetchTimeout: cfg.Sources.FetchTimeout,
	}, log)

	chain := services.NewChainClient(cfg.Solana)
	checker := services.NewHealthChecker(tokenCache, services.PingFunc(chain.IsHealthy), aggregator.Snapshot, 3*cfg.WebSocket.UpdateInterval)

	hub := websocket.NewHub(websocket.Options{
		SendBuffer:        cfg.WebSocket.SendBuffer,
		HeartbeatInterval: cfg.WebSocket.HeartbeatInterval,
		AllowedOrigins:    cfg.WebSocket.AllowedOrigins,
	}, log, collector.SetSubscribers)

	var sinks []services.EventSink
	sink := services.NewKafkaSink(cfg.Kafka, log)
	if sink != nil {
		sinks = append(sinks, sink)
	}

	broadcaster := services.NewBroadcaster(aggregator, hub, sinks, collector, services.BroadcastOptions{
		Interval:             cfg.WebSocket.UpdateInterval,
		PriceChangeThreshold: cfg.WebSocket.PriceChangeThreshold,
		InitialLimit:         cfg.WebSocket.InitialLimit,
	}, log)

	wsHandler := websocket.NewHandler(hub, func(ctx context.Context, s *websocket.Session) {
		broadcaster.OnConnect(ctx, s)
	})

	router := handlers.NewRouter(aggregator, handlers.NewHealthHandler(checker, version))

	log.Info("Server components initialized")

	return &Server{
		config:      cfg,
		cache:       tokenCache,
		metrics:     collector,
		aggregator:  aggregator,
		chain:       chain,
		checker:     checker,
		hub:         hub,
		broadcaster: broadcaster,
		sink:        sink,
		rateLimiter: ratelimiter.New(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window),
		router:      router,
		wsHandler:   wsHandler,
		startedAt:   time.Now(),
		stopCleanup: make(chan struct{}),
	}
}

// Engine builds the gin engine with the full middleware stack and routes
func (s *Server) Engine() *gin.Engine {
	engine := gin.New()
	engine.MaxMultipartMemory = s.config.Server.MaxRequestSize

	engine.Use(logger.RecoveryMiddleware())
	engine.Use(logger.LoggingMiddleware())
	engine.Use(middleware.CORS(s.config.Server.CORSOrigins))
	engine.Use(middleware.RequestMetrics(s.metrics))

	var apiMiddleware []gin.HandlerFunc
	if s.config.RateLimit.Enabled {
		apiMiddleware = append(apiMiddleware, s.rateLimiter.Middleware(s.rejectRateLimited))
	}
	apiMiddleware = append(apiMiddleware,
		middleware.Concurrency(s.config.Server.MaxConcurrent),
		middleware.Timeout(s.config.Server.RequestTimeout),
	)

	s.router.SetupRoutes(engine, apiMiddleware...)
	s.router.SetupHealthRoutes(engine)

	engine.GET("/", s.indexHandler)
	engine.GET("/ws", s.wsHandler.ServeWS)
	engine.GET("/metrics", s.metricsHandler)
	engine.GET("/status", s.statusHandler)

	return engine
}

func (s *Server) rejectRateLimited(c *gin.Context, retryAfter time.Duration) {
	models.HandleError(c, models.NewRateLimitError(fmt.Sprintf("Maximum %d requests per %s, retry in %s",
		s.config.RateLimit.RequestsPerWindow, s.config.RateLimit.Window, retryAfter)), logger.GetLogger())
}

// Run starts the broadcaster and HTTP server and blocks until a shutdown
// signal arrives
func (s *Server) Run() error {
	log := logger.GetLogger()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	s.httpServer = &http.Server{
		Addr:              s.config.Server.Address(),
		Handler:           s.Engine(),
		ReadTimeout:       s.config.Server.ReadTimeout,
		WriteTimeout:      s.config.Server.WriteTimeout,
		IdleTimeout:       s.config.Server.IdleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	if err := s.broadcaster.Start(context.Background()); err != nil {
		return fmt.Errorf("start broadcaster: %w", err)
	}
	s.startCleanupRoutines()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			s.Shutdown(context.Background())
			return fmt.Errorf("listen: %w", err)
		}
	}

	// the process exits even if a component refuses to stop
	hardDeadline := time.AfterFunc(s.config.Shutdown.HardDeadline, func() {
		log.Error("Shutdown deadline exceeded, forcing exit")
		_ = log.Sync()
		os.Exit(1)
	})
	defer hardDeadline.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Shutdown.GracePeriod)
	defer cancel()

	s.Shutdown(ctx)
	log.Info("Server gracefully stopped")
	return nil
}

// Shutdown stops the update loop first so no broadcast races the closing
// hub, then drains HTTP and releases the stores
func (s *Server) Shutdown(ctx context.Context) {
	s.shutdownOnce.Do(func() { s.shutdown(ctx) })
}

func (s *Server) shutdown(ctx context.Context) {
	log := logger.GetLogger()

	log.Debug("Stopping broadcaster")
	s.broadcaster.Stop()

	log.Debug("Closing subscriber sessions")
	s.hub.Close()

	if s.httpServer != nil {
		log.Debug("Shutting down HTTP server")
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Error("HTTP server forced to shut down", zap.Error(err))
		}
	}

	close(s.stopCleanup)

	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			log.Warn("Error closing Kafka writer", zap.Error(err))
		}
	}
	if err := s.chain.Close(); err != nil {
		log.Debug("Error closing RPC client", zap.Error(err))
	}
	if err := s.cache.Close(); err != nil {
		log.Warn("Error closing cache store", zap.Error(err))
	}

	_ = log.Sync()
}

func (s *Server) indexHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": serviceName,
		"version": version,
		"endpoints": gin.H{
			"tokens":    "GET /api/tokens",
			"token":     "GET /api/tokens/:address",
			"search":    "GET /api/tokens/search?q=",
			"health":    "GET /api/health",
			"websocket": "GET /ws",
			"metrics":   "GET /metrics",
		},
	})
}

func (s *Server) metricsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":         serviceName,
		"version":         version,
		"uptime":          s.metrics.GetUptime().String(),
		"cache_hit_ratio": s.metrics.GetCacheHitRatio(),
		"success_rate":    s.metrics.GetSuccessRate(),
		"metrics":         s.metrics.GetMetrics(),
	})
}

func (s *Server) statusHandler(c *gin.Context) {
	snapshot := s.aggregator.Snapshot()

	status := gin.H{
		"service":       serviceName,
		"status":        "running",
		"version":       version,
		"uptime":        time.Since(s.startedAt).String(),
		"broadcaster":   s.broadcaster.State().String(),
		"subscribers":   s.hub.Count(),
		"snapshot_size": snapshot.Len(),
		"sources":       s.metrics.Sources(),
		"kafka_enabled": s.sink != nil,
		"chain":         s.checker.CheckChain(c.Request.Context()).Status,
	}
	if snapshot != nil {
		status["snapshot_refreshed_at"] = snapshot.RefreshedAt
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) startCleanupRoutines() {
	interval := s.config.RateLimit.CleanupInterval
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCleanup:
				return
			case <-ticker.C:
				s.rateLimiter.Cleanup()
			}
		}
	}()
}
