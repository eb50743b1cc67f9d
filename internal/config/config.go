package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Sources   SourcesConfig   `yaml:"sources"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Solana    SolanaConfig    `yaml:"solana"`
	Logging   LoggingConfig   `yaml:"logging"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string        `yaml:"port"`
	Host           string        `yaml:"host"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxRequestSize int64         `yaml:"max_request_size"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CORSOrigins    []string      `yaml:"cors_origins"`
}

// RedisConfig holds the cache store connection. An empty Addr selects the
// in-process store.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	KeyPrefix       string        `yaml:"key_prefix"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// RateLimitConfig limits inbound API requests per client IP
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerWindow int           `yaml:"requests_per_window"`
	Window            time.Duration `yaml:"window"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// SourcesConfig holds per-upstream settings
type SourcesConfig struct {
	DexScreener DexScreenerConfig `yaml:"dexscreener"`
	Jupiter     JupiterConfig     `yaml:"jupiter"`
	// DefaultQuery seeds the listing fetch against search-only sources
	DefaultQuery string `yaml:"default_query"`
	// FetchTimeout bounds one aggregated fetch across every source
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// DexScreenerConfig configures the pair-search source
type DexScreenerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	RateLimit      int           `yaml:"rate_limit"`
	RateWindow     time.Duration `yaml:"rate_window"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
}

// JupiterConfig configures the verified token list source
type JupiterConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	ListTTL        time.Duration `yaml:"list_ttl"`
	RateLimit      int           `yaml:"rate_limit"`
	RateWindow     time.Duration `yaml:"rate_window"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
}

// WebSocketConfig controls the broadcast loop and subscriber sessions
type WebSocketConfig struct {
	UpdateInterval       time.Duration `yaml:"update_interval"`
	PriceChangeThreshold float64       `yaml:"price_change_threshold"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	InitialLimit         int           `yaml:"initial_limit"`
	SendBuffer           int           `yaml:"send_buffer"`
	AllowedOrigins       []string      `yaml:"allowed_origins"`
}

// KafkaConfig enables publishing token updates to a topic. No brokers means
// disabled.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Enabled reports whether a broker list is configured
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// SolanaConfig holds the chain RPC used for health reporting
type SolanaConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level       string   `yaml:"level"`
	Environment string   `yaml:"environment"`
	OutputPaths []string `yaml:"output_paths"`
}

// ShutdownConfig bounds graceful shutdown
type ShutdownConfig struct {
	GracePeriod  time.Duration `yaml:"grace_period"`
	HardDeadline time.Duration `yaml:"hard_deadline"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "3000",
			Host:           "0.0.0.0",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxRequestSize: 1 << 20,
			MaxConcurrent:  1000,
			RequestTimeout: 30 * time.Second,
			CORSOrigins:    []string{"*"},
		},
		Redis: RedisConfig{
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Cache: CacheConfig{
			TTL:             30 * time.Second,
			KeyPrefix:       "meme-coin:",
			CleanupInterval: time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerWindow: 100,
			Window:            time.Minute,
			CleanupInterval:   5 * time.Minute,
		},
		Sources: SourcesConfig{
			DexScreener: DexScreenerConfig{
				Enabled:        true,
				BaseURL:        "https://api.dexscreener.com/latest/dex",
				Timeout:        10 * time.Second,
				RateLimit:      300,
				RateWindow:     time.Minute,
				MaxRetries:     3,
				RetryBaseDelay: time.Second,
				RetryMaxDelay:  10 * time.Second,
			},
			Jupiter: JupiterConfig{
				Enabled:        true,
				BaseURL:        "https://lite-api.jup.ag/tokens/v1",
				Timeout:        5 * time.Second,
				ListTTL:        5 * time.Minute,
				RateLimit:      60,
				RateWindow:     time.Minute,
				MaxRetries:     2,
				RetryBaseDelay: time.Second,
				RetryMaxDelay:  10 * time.Second,
			},
			DefaultQuery: "SOL",
			FetchTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			UpdateInterval:       30 * time.Second,
			PriceChangeThreshold: 5,
			HeartbeatInterval:    30 * time.Second,
			InitialLimit:         30,
			SendBuffer:           256,
		},
		Kafka: KafkaConfig{
			Topic:        "token-updates",
			WriteTimeout: 5 * time.Second,
		},
		Solana: SolanaConfig{
			Endpoint: "https://api.mainnet-beta.solana.com",
			Timeout:  5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Environment: "development",
			OutputPaths: []string{"stdout"},
		},
		Shutdown: ShutdownConfig{
			GracePeriod:  8 * time.Second,
			HardDeadline: 10 * time.Second,
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional .env file,
// an optional YAML file named by CONFIG_FILE, and finally environment
// variables. The result is validated.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// loadFile overlays a YAML file onto cfg, expanding ${VAR} references first
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

// applyEnv overrides fields from environment variables
func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Host = getEnv("HOST", c.Server.Host)
	c.Server.ReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getDurationEnv("SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.RequestTimeout = getDurationEnv("SERVER_REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.MaxConcurrent = getIntEnv("SERVER_MAX_CONCURRENT", c.Server.MaxConcurrent)
	c.Server.CORSOrigins = getStringSliceEnv("CORS_ORIGINS", c.Server.CORSOrigins)

	if host := os.Getenv("REDIS_HOST"); host != "" {
		c.Redis.Addr = host + ":" + getEnv("REDIS_PORT", "6379")
	}
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getIntEnv("REDIS_DB", c.Redis.DB)

	c.Cache.TTL = getSecondsEnv("CACHE_TTL", c.Cache.TTL)
	c.Cache.KeyPrefix = getEnv("CACHE_KEY_PREFIX", c.Cache.KeyPrefix)

	c.RateLimit.Enabled = getBoolEnv("API_RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RequestsPerWindow = getIntEnv("API_RATE_LIMIT_REQUESTS", c.RateLimit.RequestsPerWindow)
	c.RateLimit.Window = getDurationEnv("API_RATE_LIMIT_WINDOW", c.RateLimit.Window)

	dex := &c.Sources.DexScreener
	dex.Enabled = getBoolEnv("DEXSCREENER_ENABLED", dex.Enabled)
	dex.BaseURL = getEnv("DEXSCREENER_BASE_URL", dex.BaseURL)
	dex.RateLimit = getIntEnv("DEXSCREENER_RATE_LIMIT", dex.RateLimit)
	dex.MaxRetries = getIntEnv("DEXSCREENER_MAX_RETRIES", dex.MaxRetries)

	jup := &c.Sources.Jupiter
	jup.Enabled = getBoolEnv("JUPITER_ENABLED", jup.Enabled)
	jup.BaseURL = getEnv("JUPITER_BASE_URL", jup.BaseURL)
	jup.ListTTL = getDurationEnv("JUPITER_LIST_TTL", jup.ListTTL)
	jup.RateLimit = getIntEnv("JUPITER_RATE_LIMIT", jup.RateLimit)

	c.Sources.DefaultQuery = getEnv("DEFAULT_QUERY", c.Sources.DefaultQuery)
	c.Sources.FetchTimeout = getDurationEnv("SOURCES_FETCH_TIMEOUT", c.Sources.FetchTimeout)

	c.WebSocket.UpdateInterval = getSecondsEnv("WS_UPDATE_INTERVAL", c.WebSocket.UpdateInterval)
	c.WebSocket.PriceChangeThreshold = getFloatEnv("WS_PRICE_CHANGE_THRESHOLD", c.WebSocket.PriceChangeThreshold)
	c.WebSocket.HeartbeatInterval = getDurationEnv("WS_HEARTBEAT_INTERVAL", c.WebSocket.HeartbeatInterval)

	c.Kafka.Brokers = getStringSliceEnv("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)

	c.Solana.Endpoint = getEnv("SOLANA_RPC_ENDPOINT", c.Solana.Endpoint)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Environment = getEnv("LOG_ENVIRONMENT", c.Logging.Environment)
	c.Logging.OutputPaths = getStringSliceEnv("LOG_OUTPUT_PATHS", c.Logging.OutputPaths)

	c.Shutdown.HardDeadline = getDurationEnv("SHUTDOWN_HARD_DEADLINE", c.Shutdown.HardDeadline)
}

// Address returns host:port for the HTTP listener
func (s ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getSecondsEnv accepts either a Go duration ("30s") or a bare number of seconds
func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return getDurationEnv(key, defaultValue)
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
