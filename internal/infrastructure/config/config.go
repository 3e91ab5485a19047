// Package config provides centralized configuration management
// using Viper for configuration loading and validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all gateway configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Routes     RoutesConfig     `mapstructure:"routes"`
	Redis      RedisConfig      `mapstructure:"redis"`
	AWS        AWSConfig        `mapstructure:"aws"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

// AppConfig contains application-level configuration.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	EnableCompression bool          `mapstructure:"enable_compression"`
}

// CategoryPolicy is a per-object-type cache policy override.
type CategoryPolicy struct {
	MaxAge time.Duration `mapstructure:"max_age"`
	Tags   []string      `mapstructure:"tags"`
}

// TagsConfig controls Cache-Tag emission.
type TagsConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Prefix      string   `mapstructure:"prefix"`
	DefaultTags []string `mapstructure:"default_tags"`
}

// GatewayConfig contains the object-read cache policy.
type GatewayConfig struct {
	DefaultMaxAge      time.Duration              `mapstructure:"default_max_age"`
	DefaultSWR         time.Duration              `mapstructure:"default_swr"`
	CacheEnabled       bool                       `mapstructure:"cache_enabled"`
	BypassParamEnabled bool                       `mapstructure:"bypass_param_enabled"`
	BypassParamName    string                     `mapstructure:"bypass_param_name"`
	Tags               TagsConfig                 `mapstructure:"tags"`
	ObjectTypeConfig   map[string]CategoryPolicy  `mapstructure:"object_type_config"`
	FastCacheCapBytes  int64                      `mapstructure:"fast_cache_cap_bytes"`
}

// StorageConfig contains the chunked-KV cache format's tunables plus origin
// retry policy.
type StorageConfig struct {
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	ExponentialBackoff bool          `mapstructure:"exponential_backoff"`
	SingleEntryMaxBytes int64        `mapstructure:"single_entry_max_bytes"`
	ChunkSizeBytes      int64        `mapstructure:"chunk_size_bytes"`
	TotalMaxBytes       int64        `mapstructure:"total_max_bytes"`
	MinReadTTL          time.Duration `mapstructure:"min_read_ttl"`
	MinWriteTTL         time.Duration `mapstructure:"min_write_ttl"`
}

// RouteConfig is one entry of the bucket-routing table.
type RouteConfig struct {
	HostPattern       string `mapstructure:"host_pattern"`
	PathPrefix        string `mapstructure:"path_prefix"`
	Bucket            string `mapstructure:"bucket"`
	BucketDisplayName string `mapstructure:"bucket_display_name"`
	StripPrefix       bool   `mapstructure:"strip_prefix"`
}

// RoutesConfig is the ordered route table plus the default-bucket fallback.
type RoutesConfig struct {
	Routes        []RouteConfig `mapstructure:"routes"`
	DefaultBucket string        `mapstructure:"default_bucket"`
}

// RedisConfig contains the slow-tier key-value store connection settings.
type RedisConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Password        string        `mapstructure:"password"`
	Database        int           `mapstructure:"database"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PoolSize        int           `mapstructure:"pool_size"`
	EnableCluster   bool          `mapstructure:"enable_cluster"`
	ClusterNodes    []string      `mapstructure:"cluster_nodes"`
}

// AWSConfig contains the origin (blob store) binding.
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	Endpoint        string `mapstructure:"endpoint"`
	S3Bucket        string `mapstructure:"s3_bucket"`
	CloudFrontDistributionID string `mapstructure:"cloudfront_distribution_id"`
}

// MonitoringConfig contains metrics/tracing configuration.
type MonitoringConfig struct {
	EnableMetrics   bool    `mapstructure:"enable_metrics"`
	MetricsPort     int     `mapstructure:"metrics_port"`
	EnableTracing   bool    `mapstructure:"enable_tracing"`
	SamplingRate    float64 `mapstructure:"sampling_rate"`
	HealthCheckPath string  `mapstructure:"health_check_path"`
}

// RateLimitConfig contains the optional origin-bypass rate limiting
// middleware's settings. Disabled by default; not required by the core.
type RateLimitConfig struct {
	Enable         bool          `mapstructure:"enable"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec"`
	BurstSize      int           `mapstructure:"burst_size"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/gateway")
	}

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "object-gateway")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.enable_compression", false)

	v.SetDefault("gateway.default_max_age", "3600s")
	v.SetDefault("gateway.default_swr", "86400s")
	v.SetDefault("gateway.cache_enabled", true)
	v.SetDefault("gateway.bypass_param_enabled", true)
	v.SetDefault("gateway.bypass_param_name", "no-cache")
	v.SetDefault("gateway.tags.enabled", true)
	v.SetDefault("gateway.tags.prefix", "cdn-")
	v.SetDefault("gateway.fast_cache_cap_bytes", 25*1024*1024)

	v.SetDefault("storage.max_retries", 3)
	v.SetDefault("storage.retry_delay", "200ms")
	v.SetDefault("storage.exponential_backoff", true)
	v.SetDefault("storage.single_entry_max_bytes", 20*1024*1024)
	v.SetDefault("storage.chunk_size_bytes", 20*1024*1024)
	v.SetDefault("storage.total_max_bytes", 500*1024*1024)
	v.SetDefault("storage.min_read_ttl", "60s")
	v.SetDefault("storage.min_write_ttl", "60s")

	v.SetDefault("routes.default_bucket", "")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	v.SetDefault("monitoring.enable_metrics", true)
	v.SetDefault("monitoring.metrics_port", 9090)
	v.SetDefault("monitoring.sampling_rate", 0.1)
	v.SetDefault("monitoring.health_check_path", "/healthz")

	v.SetDefault("rate_limit.enable", false)
	v.SetDefault("rate_limit.requests_per_sec", 50)
	v.SetDefault("rate_limit.burst_size", 100)
	v.SetDefault("rate_limit.cleanup_interval", "1m")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Routes.DefaultBucket == "" && len(c.Routes.Routes) == 0 {
		return fmt.Errorf("routes: at least one route or a default_bucket is required")
	}

	if c.Storage.ChunkSizeBytes <= 0 {
		return fmt.Errorf("storage.chunk_size_bytes must be positive")
	}

	if c.Storage.TotalMaxBytes < c.Storage.SingleEntryMaxBytes {
		return fmt.Errorf("storage.total_max_bytes must be >= storage.single_entry_max_bytes")
	}

	return nil
}

// IsProduction returns true if running in production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
