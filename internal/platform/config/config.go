package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. WALLETCACHE_STORE_URL
const EnvPrefix = "WALLETCACHE"

// Store backends
const (
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// Config holds all configuration for the wallet cache service
type Config struct {
	Service       ServiceConfig       `mapstructure:"service"`
	Store         StoreConfig         `mapstructure:"store"`
	DynamoDB      DynamoDBConfig      `mapstructure:"dynamodb"`
	HotCache      HotCacheConfig      `mapstructure:"hot_cache"`
	Warmer        WarmerConfig        `mapstructure:"warmer"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// ServiceConfig identifies the running service
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StoreConfig selects and tunes the durable store
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // redis, dynamodb or memory
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`

	// RequireToken treats a missing token as an unconfigured store. Turn it
	// off for a self-hosted redis without AUTH.
	RequireToken bool `mapstructure:"require_token"`

	OpTimeout       time.Duration `mapstructure:"op_timeout"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	MemoryMaxKeys   int           `mapstructure:"memory_max_keys"`
	Breaker         BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig tunes the store circuit breaker
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// Configured reports whether enough connection parameters are present for
// the selected backend. An unconfigured store makes the service fail open.
func (s StoreConfig) Configured() bool {
	switch s.Backend {
	case BackendMemory, BackendDynamoDB:
		return true
	case BackendRedis:
		if s.URL == "" {
			return false
		}
		return s.Token != "" || !s.RequireToken
	default:
		return false
	}
}

// DynamoDBConfig holds the DynamoDB backend settings
type DynamoDBConfig struct {
	Table    string `mapstructure:"table"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// HotCacheConfig tunes the wallet metrics cache
type HotCacheConfig struct {
	L1Size             int           `mapstructure:"l1_size"`
	PromotionThreshold int64         `mapstructure:"promotion_threshold"`
	TTL                time.Duration `mapstructure:"ttl"`
	TrendingCapacity   int           `mapstructure:"trending_capacity"`
	TrendingLimit      int           `mapstructure:"trending_limit"`
	WarmConcurrency    int           `mapstructure:"warm_concurrency"`
	WarmRate           float64       `mapstructure:"warm_rate"`
	BackgroundWorkers  int           `mapstructure:"background_workers"`
	BackgroundQueue    int           `mapstructure:"background_queue"`
	BackgroundTimeout  time.Duration `mapstructure:"background_timeout"`
}

// WarmerConfig schedules periodic warming of trending wallets
type WarmerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	TopN     int           `mapstructure:"top_n"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// OTLPEndpoint, when set, also pushes metrics to a collector
	OTLPEndpoint string        `mapstructure:"otlp_endpoint"`
	OTLPInterval time.Duration `mapstructure:"otlp_interval"`
	OTLPInsecure bool          `mapstructure:"otlp_insecure"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Sampler     string  `mapstructure:"sampler"` // always, never, ratio
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // gin mode: debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	LeaderboardTTL  time.Duration `mapstructure:"leaderboard_ttl"`
}

// Load loads configuration from .env, an optional YAML file and
// WALLETCACHE_* environment variables, in increasing precedence.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "wallet-cache")
	v.SetDefault("service.environment", "development")

	// Store defaults
	v.SetDefault("store.backend", BackendRedis)
	v.SetDefault("store.url", "")
	v.SetDefault("store.token", "")
	v.SetDefault("store.require_token", true)
	v.SetDefault("store.op_timeout", "500ms")
	v.SetDefault("store.pool_size", 20)
	v.SetDefault("store.connect_attempts", 3)
	v.SetDefault("store.memory_max_keys", 100000)
	v.SetDefault("store.breaker.failure_threshold", 5)
	v.SetDefault("store.breaker.timeout", "30s")

	// DynamoDB defaults
	v.SetDefault("dynamodb.table", "wallet-cache")
	v.SetDefault("dynamodb.region", "us-east-1")
	v.SetDefault("dynamodb.endpoint", "")

	// Hot cache defaults
	v.SetDefault("hot_cache.l1_size", 1000)
	v.SetDefault("hot_cache.promotion_threshold", 5)
	v.SetDefault("hot_cache.ttl", "1h")
	v.SetDefault("hot_cache.trending_capacity", 10000)
	v.SetDefault("hot_cache.trending_limit", 10)
	v.SetDefault("hot_cache.warm_concurrency", 8)
	v.SetDefault("hot_cache.warm_rate", 50)
	v.SetDefault("hot_cache.background_workers", 4)
	v.SetDefault("hot_cache.background_queue", 1024)
	v.SetDefault("hot_cache.background_timeout", "2s")

	// Warmer defaults
	v.SetDefault("warmer.enabled", true)
	v.SetDefault("warmer.interval", "5m")
	v.SetDefault("warmer.top_n", 50)
	v.SetDefault("warmer.timeout", "30s")

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.otlp_endpoint", "")
	v.SetDefault("observability.metrics.otlp_interval", "30s")
	v.SetDefault("observability.metrics.otlp_insecure", true)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sampler", "always")
	v.SetDefault("observability.tracing.sample_ratio", 0.1)

	// HTTP defaults
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.mode", "release")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.shutdown_timeout", "15s")
	v.SetDefault("http.cors_origins", []string{})
	v.SetDefault("http.leaderboard_ttl", "30s")
}

func (c *Config) normalize() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Observability.Logging.Level = strings.ToLower(c.Observability.Logging.Level)
	c.Observability.Logging.Format = strings.ToLower(c.Observability.Logging.Format)
	c.Observability.Tracing.Sampler = strings.ToLower(c.Observability.Tracing.Sampler)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendRedis, BackendMemory:
	case BackendDynamoDB:
		if c.DynamoDB.Table == "" {
			return fmt.Errorf("dynamodb table is required")
		}
	default:
		return fmt.Errorf("invalid store backend: %q", c.Store.Backend)
	}

	if c.Store.OpTimeout <= 0 {
		return fmt.Errorf("store op timeout must be > 0")
	}

	// Hot cache validation
	if c.HotCache.L1Size <= 0 {
		return fmt.Errorf("hot cache l1 size must be > 0")
	}
	if c.HotCache.PromotionThreshold <= 0 {
		return fmt.Errorf("hot cache promotion threshold must be > 0")
	}
	if c.HotCache.TTL < 0 {
		return fmt.Errorf("hot cache ttl must be >= 0")
	}
	if c.HotCache.TrendingCapacity <= 0 || c.HotCache.TrendingLimit <= 0 {
		return fmt.Errorf("trending capacity and limit must be > 0")
	}
	if c.HotCache.WarmRate < 0 {
		return fmt.Errorf("warm rate must be >= 0")
	}

	if c.Warmer.Enabled && (c.Warmer.Interval <= 0 || c.Warmer.TopN <= 0) {
		return fmt.Errorf("warmer interval and top_n must be > 0 when enabled")
	}

	// Observability validation
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	validSamplers := map[string]bool{
		"always": true,
		"never":  true,
		"ratio":  true,
	}
	if !validSamplers[c.Observability.Tracing.Sampler] {
		return fmt.Errorf("invalid tracing sampler: %s", c.Observability.Tracing.Sampler)
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}

	return nil
}
