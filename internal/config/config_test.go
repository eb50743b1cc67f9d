package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "meme-coin:", cfg.Cache.KeyPrefix)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.UpdateInterval)
	assert.Equal(t, 5.0, cfg.WebSocket.PriceChangeThreshold)
	assert.Equal(t, 300, cfg.Sources.DexScreener.RateLimit)
	assert.Equal(t, 5*time.Minute, cfg.Sources.Jupiter.ListTTL)
	assert.Equal(t, 60, cfg.Sources.Jupiter.RateLimit)
	assert.Equal(t, 30*time.Second, cfg.Sources.FetchTimeout)
	assert.Equal(t, 10*time.Second, cfg.Shutdown.HardDeadline)
	assert.False(t, cfg.Kafka.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	t.Run("YamlFileWithEnvExpansion", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "8081"
redis:
  addr: ${TEST_REDIS_ADDR}
cache:
  ttl: 45s
websocket:
  update_interval: 10s
  price_change_threshold: 2.5
kafka:
  brokers: ["localhost:9092"]
`), 0o600))

		t.Setenv("CONFIG_FILE", path)
		t.Setenv("TEST_REDIS_ADDR", "cache:6379")

		cfg, err := LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, "8081", cfg.Server.Port)
		assert.Equal(t, "cache:6379", cfg.Redis.Addr)
		assert.Equal(t, 45*time.Second, cfg.Cache.TTL)
		assert.Equal(t, 10*time.Second, cfg.WebSocket.UpdateInterval)
		assert.Equal(t, 2.5, cfg.WebSocket.PriceChangeThreshold)
		assert.True(t, cfg.Kafka.Enabled())
		// untouched sections keep their defaults
		assert.Equal(t, "meme-coin:", cfg.Cache.KeyPrefix)
	})

	t.Run("EnvironmentOverrides", func(t *testing.T) {
		t.Setenv("PORT", "9090")
		t.Setenv("REDIS_HOST", "redis.internal")
		t.Setenv("CACHE_TTL", "15")
		t.Setenv("WS_UPDATE_INTERVAL", "5s")
		t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
		t.Setenv("JUPITER_ENABLED", "false")

		cfg, err := LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, "9090", cfg.Server.Port)
		assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
		assert.Equal(t, 15*time.Second, cfg.Cache.TTL)
		assert.Equal(t, 5*time.Second, cfg.WebSocket.UpdateInterval)
		assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
		assert.False(t, cfg.Sources.Jupiter.Enabled)
	})

	t.Run("MissingYamlFileIsAnError", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

		_, err := LoadConfig()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = "0"
	cfg.Cache.TTL = 0
	cfg.Sources.DexScreener.Enabled = false
	cfg.Sources.Jupiter.Enabled = false
	cfg.Kafka.Brokers = []string{"k:9092"}
	cfg.Kafka.Topic = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "cache.ttl")
	assert.Contains(t, err.Error(), "at least one source")
	assert.Contains(t, err.Error(), "kafka.topic")

	cfg = Default()
	cfg.Sources.DexScreener.BaseURL = "not a url"
	assert.ErrorContains(t, cfg.Validate(), "sources.dexscreener.base_url")
}
