package logger

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ContextKey names a value that WithContext copies into log fields. The
// string form doubles as the field name and the gin context key.
type ContextKey string

const (
	CorrelationIDKey ContextKey = "correlation_id"
	RequestIDKey     ContextKey = "request_id"
	SessionIDKey     ContextKey = "session_id"
)

var contextKeys = []ContextKey{CorrelationIDKey, RequestIDKey, SessionIDKey}

// Logger embeds zap so callers log with typed fields directly.
type Logger struct {
	*zap.Logger
}

// Config selects the zap preset and level. Service and Version are stamped
// on every entry.
type Config struct {
	Level       string   `yaml:"level"`
	Environment string   `yaml:"environment"`
	Service     string   `yaml:"service"`
	Version     string   `yaml:"version"`
	OutputPaths []string `yaml:"output_paths"`
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// New builds a logger from config without touching the global instance
func New(config *Config) (*Logger, error) {
	var zapConfig zap.Config
	if config.Environment == "production" {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
	} else {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level, err := zap.ParseAtomicLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zapConfig.Level = level

	if len(config.OutputPaths) > 0 {
		zapConfig.OutputPaths = config.OutputPaths
	}

	service := config.Service
	if service == "" {
		service = "meme-coin-aggregator"
	}
	zapConfig.InitialFields = map[string]interface{}{"service": service}
	if config.Version != "" {
		zapConfig.InitialFields["version"] = config.Version
	}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return wrap(zapLogger), nil
}

// Initialize sets up the global logger
func Initialize(config *Config) error {
	l, err := New(config)
	if err != nil {
		return err
	}
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
	return nil
}

// GetLogger returns the global logger instance, building a development
// logger on first use if Initialize was never called
func GetLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	if err := Initialize(&Config{Level: "info", Environment: "development"}); err != nil {
		panic(fmt.Sprintf("failed to initialize fallback logger: %v", err))
	}
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// NewNop returns a logger that discards everything, for tests
func NewNop() *Logger {
	return wrap(zap.NewNop())
}

func wrap(z *zap.Logger) *Logger {
	return &Logger{Logger: z}
}

// Named returns a child logger tagged with the component name
func (l *Logger) Named(component string) *Logger {
	return wrap(l.Logger.With(zap.String("component", component)))
}

// WithContext creates a logger carrying the ids stored in ctx
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := make([]zap.Field, 0, len(contextKeys))
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	if len(fields) == 0 {
		return l
	}
	return wrap(l.Logger.With(fields...))
}

// GenerateID returns a fresh random identifier
func GenerateID() string {
	return uuid.New().String()
}

// ContextWithCorrelationID stores the id picked up by WithContext
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// ContextWithSessionID adds a subscriber session ID to context
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetCorrelationIDFromContext returns the correlation id in ctx, or ""
func GetCorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(CorrelationIDKey).(string)
	return id
}

// LoggingMiddleware creates a Gin middleware for structured request logging.
// An incoming X-Correlation-ID header is honoured, otherwise one is generated.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = GenerateID()
		}
		requestID := GenerateID()

		c.Set(string(CorrelationIDKey), correlationID)
		c.Set(string(RequestIDKey), requestID)

		ctx := context.WithValue(ContextWithCorrelationID(c.Request.Context(), correlationID), RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Correlation-ID", correlationID)
		c.Header("X-Request-ID", requestID)

		log := GetLogger().WithContext(ctx)
		log.Debug("Request started",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()),
		)

		c.Next()

		statusCode := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status_code", statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.Int("response_size", c.Writer.Size()),
		}
		switch {
		case statusCode >= 500:
			log.Error("Request completed", fields...)
		case statusCode >= 400:
			log.Warn("Request completed", fields...)
		default:
			log.Info("Request completed", fields...)
		}

		for _, err := range c.Errors {
			log.Error("Request error", zap.Uint64("error_type", uint64(err.Type)), zap.Error(err.Err))
		}
	}
}

// RecoveryMiddleware logs a panic with the request ids and answers 500.
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		ctx := c.Request.Context()
		GetLogger().WithContext(ctx).Error("Panic recovered",
			zap.Any("panic", recovered),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)

		// same envelope as the API error responses
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success":        false,
			"error":          gin.H{"code": "INTERNAL_ERROR", "message": "Internal server error"},
			"timestamp":      time.Now().UTC(),
			"correlation_id": GetCorrelationIDFromContext(ctx),
		})
	})
}
