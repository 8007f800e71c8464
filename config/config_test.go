package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("REDIS_URL", "")

	cfg := LoadConfig()

	assert.Equal(t, 5, cfg.RateLimit.Capacity)
	assert.Equal(t, time.Minute, cfg.RateLimit.RefillPeriod)
	assert.Equal(t, 2*time.Minute, cfg.Promotion.Window)
	assert.Equal(t, time.Minute, cfg.Promotion.Interval)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "vin-topic", cfg.Queue.Topic)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, "https://vpic.nhtsa.dot.gov/api/vehicles/DecodeVin", cfg.Registry.BaseURL)
	assert.False(t, cfg.UsesKafka())
	assert.False(t, cfg.UsesRedis())
	assert.InDelta(t, 100.0/900, cfg.APIThrottle.RequestsPerSecond, 1e-9)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("RATE_LIMIT_CAPACITY", "10")
	t.Setenv("RATE_LIMIT_REFILL_PERIOD", "30s")
	t.Setenv("PROMOTION_WINDOW", "0s")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("REGISTRY_BASE_URL", "http://registry.local/decode/")
	t.Setenv("PIPELINE_ENABLED", "false")

	cfg := LoadConfig()

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Queue.Brokers)
	assert.True(t, cfg.UsesKafka())
	assert.True(t, cfg.UsesRedis())
	assert.Equal(t, 10, cfg.RateLimit.Capacity)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.RefillPeriod)
	assert.Equal(t, time.Duration(0), cfg.Promotion.Window)
	assert.Equal(t, StoreDriverMemory, cfg.Database.Driver)
	assert.Equal(t, "http://registry.local/decode", cfg.Registry.BaseURL)
	assert.False(t, cfg.Pipeline.Enabled)
}

func TestValidateAndApplyDefaultsFixesInvalidValues(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "not-a-number")
	t.Setenv("PIPELINE_WORKERS", "-4")
	t.Setenv("CACHE_TTL", "soon")
	t.Setenv("STORE_DRIVER", "sqlite")

	cfg := LoadConfig()

	assert.Equal(t, 5, cfg.RateLimit.Capacity)
	assert.Equal(t, 1, cfg.Pipeline.Workers)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, StoreDriverPostgres, cfg.Database.Driver)
}
