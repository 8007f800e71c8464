package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Cache       CacheConfig
	Queue       QueueConfig
	Registry    RegistryConfig
	RateLimit   RateLimitConfig
	Pipeline    PipelineConfig
	Promotion   PromotionConfig
	APIThrottle APIThrottleConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Port string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// CacheConfig holds cache configuration. An empty RedisURL selects the in-memory cache.
type CacheConfig struct {
	RedisURL  string
	TTL       time.Duration
	KeyPrefix string
	MaxSize   int
}

// QueueConfig holds broker settings. No brokers selects the in-process broker.
type QueueConfig struct {
	Brokers         []string
	ClientID        string
	GroupID         string
	Topic           string
	DeadLetterTopic string
}

type RegistryConfig struct {
	BaseURL string
	Timeout time.Duration
}

// RateLimitConfig configures the token bucket in front of the registry.
type RateLimitConfig struct {
	Capacity     int
	RefillPeriod time.Duration
}

type PipelineConfig struct {
	Enabled       bool
	Workers       int
	MaxAttempts   int
	RetryBackoff  time.Duration
	ShutdownGrace time.Duration
}

type PromotionConfig struct {
	Enabled  bool
	Interval time.Duration
	Window   time.Duration
}

// APIThrottleConfig limits requests per client IP on the HTTP API.
type APIThrottleConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		logrus.Warn("Error loading .env file, using system environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "3000"),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			PingTimeout:     getEnvDuration("DB_PING_TIMEOUT", 5*time.Second),
		},
		Cache: CacheConfig{
			RedisURL:  getEnv("REDIS_URL", ""),
			TTL:       getEnvDuration("CACHE_TTL", time.Hour),
			KeyPrefix: getEnv("CACHE_KEY_PREFIX", ""),
			MaxSize:   getEnvInt("CACHE_MAX_SIZE", 10000),
		},
		Queue: QueueConfig{
			Brokers:         splitList(getEnv("KAFKA_BROKERS", "")),
			ClientID:        getEnv("KAFKA_CLIENT_ID", "vin-backend"),
			GroupID:         getEnv("KAFKA_GROUP_ID", "vin-decoder"),
			Topic:           getEnv("KAFKA_TOPIC", "vin-topic"),
			DeadLetterTopic: getEnv("KAFKA_DEAD_LETTER_TOPIC", "vin-dead-letter"),
		},
		Registry: RegistryConfig{
			BaseURL: getEnv("REGISTRY_BASE_URL", "https://vpic.nhtsa.dot.gov/api/vehicles/DecodeVin"),
			Timeout: getEnvDuration("REGISTRY_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Capacity:     getEnvInt("RATE_LIMIT_CAPACITY", 5),
			RefillPeriod: getEnvDuration("RATE_LIMIT_REFILL_PERIOD", time.Minute),
		},
		Pipeline: PipelineConfig{
			Enabled:       getEnvBool("PIPELINE_ENABLED", true),
			Workers:       getEnvInt("PIPELINE_WORKERS", 1),
			MaxAttempts:   getEnvInt("PIPELINE_MAX_ATTEMPTS", 3),
			RetryBackoff:  getEnvDuration("PIPELINE_RETRY_BACKOFF", time.Second),
			ShutdownGrace: getEnvDuration("PIPELINE_SHUTDOWN_GRACE", 30*time.Second),
		},
		Promotion: PromotionConfig{
			Enabled:  getEnvBool("PROMOTER_ENABLED", true),
			Interval: getEnvDuration("PROMOTION_INTERVAL", time.Minute),
			Window:   getEnvDuration("PROMOTION_WINDOW", 2*time.Minute),
		},
		APIThrottle: APIThrottleConfig{
			// 100 requests per 15 minutes per client
			RequestsPerSecond: getEnvFloat("API_RATE_LIMIT_RPS", 100.0/(15*60)),
			Burst:             getEnvInt("API_RATE_LIMIT_BURST", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	cfg.ValidateAndApplyDefaults()
	return cfg
}

// ValidateAndApplyDefaults replaces unusable values with defaults.
func (c *Config) ValidateAndApplyDefaults() {
	logger := logrus.WithField("component", "Config")

	if c.Server.Port == "" {
		c.Server.Port = "3000"
		logger.Debug("Applied default Server.Port")
	}

	if c.Database.Driver != StoreDriverPostgres && c.Database.Driver != StoreDriverMemory {
		logger.Warnf("Unknown STORE_DRIVER %q, using %s", c.Database.Driver, StoreDriverPostgres)
		c.Database.Driver = StoreDriverPostgres
	}

	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 25
		logger.Debug("Applied default Database.MaxOpenConns")
	}

	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
		logger.Debug("Applied default Database.MaxIdleConns")
	}

	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
		logger.Debug("Applied default Database.ConnMaxLifetime")
	}

	if c.Database.PingTimeout <= 0 {
		c.Database.PingTimeout = 5 * time.Second
		logger.Debug("Applied default Database.PingTimeout")
	}

	if c.Cache.TTL <= 0 {
		c.Cache.TTL = time.Hour
		logger.Debug("Applied default Cache.TTL")
	}

	if c.Cache.MaxSize <= 0 {
		c.Cache.MaxSize = 10000
		logger.Debug("Applied default Cache.MaxSize")
	}

	if c.Queue.Topic == "" {
		c.Queue.Topic = "vin-topic"
		logger.Debug("Applied default Queue.Topic")
	}

	if c.Queue.DeadLetterTopic == "" {
		c.Queue.DeadLetterTopic = "vin-dead-letter"
		logger.Debug("Applied default Queue.DeadLetterTopic")
	}

	if c.Queue.GroupID == "" {
		c.Queue.GroupID = "vin-decoder"
		logger.Debug("Applied default Queue.GroupID")
	}

	if c.Registry.BaseURL == "" {
		c.Registry.BaseURL = "https://vpic.nhtsa.dot.gov/api/vehicles/DecodeVin"
		logger.Debug("Applied default Registry.BaseURL")
	}
	c.Registry.BaseURL = strings.TrimRight(c.Registry.BaseURL, "/")

	if c.Registry.Timeout <= 0 {
		c.Registry.Timeout = 30 * time.Second
		logger.Debug("Applied default Registry.Timeout")
	}

	if c.RateLimit.Capacity <= 0 {
		c.RateLimit.Capacity = 5
		logger.Debug("Applied default RateLimit.Capacity")
	}

	if c.RateLimit.RefillPeriod <= 0 {
		c.RateLimit.RefillPeriod = time.Minute
		logger.Debug("Applied default RateLimit.RefillPeriod")
	}

	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 1
		logger.Debug("Applied default Pipeline.Workers")
	}

	if c.Pipeline.MaxAttempts <= 0 {
		c.Pipeline.MaxAttempts = 3
		logger.Debug("Applied default Pipeline.MaxAttempts")
	}

	if c.Pipeline.RetryBackoff <= 0 {
		c.Pipeline.RetryBackoff = time.Second
		logger.Debug("Applied default Pipeline.RetryBackoff")
	}

	if c.Pipeline.ShutdownGrace <= 0 {
		c.Pipeline.ShutdownGrace = 30 * time.Second
		logger.Debug("Applied default Pipeline.ShutdownGrace")
	}

	if c.Promotion.Interval <= 0 {
		c.Promotion.Interval = time.Minute
		logger.Debug("Applied default Promotion.Interval")
	}

	if c.Promotion.Window < 0 {
		c.Promotion.Window = 2 * time.Minute
		logger.Debug("Applied default Promotion.Window")
	}

	if c.APIThrottle.RequestsPerSecond <= 0 {
		c.APIThrottle.RequestsPerSecond = 100.0 / (15 * 60)
		logger.Debug("Applied default APIThrottle.RequestsPerSecond")
	}

	if c.APIThrottle.Burst <= 0 {
		c.APIThrottle.Burst = 100
		logger.Debug("Applied default APIThrottle.Burst")
	}
}

// UsesKafka reports whether a broker list was configured.
func (c *Config) UsesKafka() bool {
	return len(c.Queue.Brokers) > 0
}

// UsesRedis reports whether a Redis URL was configured.
func (c *Config) UsesRedis() bool {
	return c.Cache.RedisURL != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logrus.Warnf("Invalid %s value: %s, using default %d", key, value, fallback)
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logrus.Warnf("Invalid %s value: %s, using default %v", key, value, fallback)
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logrus.Warnf("Invalid %s value: %s, using default %v", key, value, fallback)
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		logrus.Warnf("Invalid %s value: %s, using default %v", key, value, fallback)
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
