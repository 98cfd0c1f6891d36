package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/cachemgr/internal/blockstore"
	"github.com/objectfs/cachemgr/internal/kvstore"
	"github.com/objectfs/cachemgr/pkg/types"
	"github.com/objectfs/cachemgr/pkg/utils"
)

// Persisted store drivers
const (
	PersistedMemory = "memory"
	PersistedFile   = "file"
	PersistedRedis  = "redis"
)

// Durable store drivers
const (
	DurableNone     = "none"
	DurableMemory   = "memory"
	DurableS3       = "s3"
	DurablePostgres = "postgres"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global    GlobalConfig                 `yaml:"global"`
	Defaults  types.CacheConfig            `yaml:"defaults"`
	Caches    map[string]types.CacheConfig `yaml:"caches"`
	Persisted PersistedConfig              `yaml:"persisted"`
	Durable   DurableConfig                `yaml:"durable"`
	Metrics   MetricsConfig                `yaml:"metrics"`
	Admin     AdminConfig                  `yaml:"admin"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// PersistedConfig selects and configures the key/value store behind
// persisted caches
type PersistedConfig struct {
	Driver     string                   `yaml:"driver"`
	KeyPrefix  string                   `yaml:"key_prefix"`
	QuotaBytes int64                    `yaml:"quota_bytes"`
	File       kvstore.FileStoreConfig  `yaml:"file"`
	Redis      kvstore.RedisStoreConfig `yaml:"redis"`
}

// DurableConfig selects and configures the block store behind durable caches
type DurableConfig struct {
	Driver     string                    `yaml:"driver"`
	Collection string                    `yaml:"collection"`
	S3         blockstore.S3Config       `yaml:"s3"`
	Postgres   blockstore.PostgresConfig `yaml:"postgres"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// AdminConfig configures the admin API served by cachectl serve
type AdminConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Address             string        `yaml:"address"`
	StatsMaxAge         time.Duration `yaml:"stats_max_age"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Defaults: types.CacheConfig{
			TTL:      0,
			MaxSize:  types.DefaultMaxSize,
			Strategy: types.DefaultStrategy,
			Storage:  types.DefaultStorage,
			Compress: false,
		},
		Caches: make(map[string]types.CacheConfig),
		Persisted: PersistedConfig{
			Driver: PersistedMemory,
			File: kvstore.FileStoreConfig{
				Path: "/var/lib/cachemgr/store.json",
			},
			Redis: kvstore.RedisStoreConfig{
				Addr: "localhost:6379",
			},
		},
		Durable: DurableConfig{
			Driver:     DurableNone,
			Collection: "cachemgr",
			S3: blockstore.S3Config{
				Region:     "us-east-1",
				MaxRetries: 3,
			},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "cachemgr",
		},
		Admin: AdminConfig{
			Enabled:             true,
			Address:             "localhost:8080",
			StatsMaxAge:         5 * time.Second,
			HealthCheckInterval: 15 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304 - path supplied by operator
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from CACHEMGR_* environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("CACHEMGR_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := os.Getenv("CACHEMGR_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = strings.ToLower(val)
	}

	// Cache defaults
	if val := os.Getenv("CACHEMGR_DEFAULT_TTL"); val != "" {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid CACHEMGR_DEFAULT_TTL: %w", err)
		}
		c.Defaults.TTL = duration
	}
	if val := os.Getenv("CACHEMGR_DEFAULT_MAX_SIZE"); val != "" {
		size, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid CACHEMGR_DEFAULT_MAX_SIZE: %w", err)
		}
		c.Defaults.MaxSize = size
	}
	if val := os.Getenv("CACHEMGR_DEFAULT_STRATEGY"); val != "" {
		c.Defaults.Strategy = types.Strategy(strings.ToLower(val))
	}
	if val := os.Getenv("CACHEMGR_DEFAULT_STORAGE"); val != "" {
		c.Defaults.Storage = types.StorageKind(strings.ToLower(val))
	}
	if val := os.Getenv("CACHEMGR_COMPRESS"); val != "" {
		c.Defaults.Compress = strings.ToLower(val) == "true"
	}

	// Persisted store
	if val := os.Getenv("CACHEMGR_PERSISTED_DRIVER"); val != "" {
		c.Persisted.Driver = strings.ToLower(val)
	}
	if val := os.Getenv("CACHEMGR_KEY_PREFIX"); val != "" {
		c.Persisted.KeyPrefix = val
	}
	if val := os.Getenv("CACHEMGR_PERSISTED_QUOTA"); val != "" {
		quota, err := utils.ParseBytes(val)
		if err != nil {
			return fmt.Errorf("invalid CACHEMGR_PERSISTED_QUOTA: %w", err)
		}
		c.Persisted.QuotaBytes = quota
		c.Persisted.File.QuotaBytes = quota
	}
	if val := os.Getenv("CACHEMGR_FILE_PATH"); val != "" {
		c.Persisted.File.Path = val
	}
	if val := os.Getenv("CACHEMGR_REDIS_ADDR"); val != "" {
		c.Persisted.Redis.Addr = val
	}
	if val := os.Getenv("CACHEMGR_REDIS_PASSWORD"); val != "" {
		c.Persisted.Redis.Password = val
	}
	if val := os.Getenv("CACHEMGR_REDIS_DB"); val != "" {
		db, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid CACHEMGR_REDIS_DB: %w", err)
		}
		c.Persisted.Redis.DB = db
	}

	// Durable store
	if val := os.Getenv("CACHEMGR_DURABLE_DRIVER"); val != "" {
		c.Durable.Driver = strings.ToLower(val)
	}
	if val := os.Getenv("CACHEMGR_S3_BUCKET"); val != "" {
		c.Durable.S3.Bucket = val
	}
	if val := os.Getenv("CACHEMGR_S3_REGION"); val != "" {
		c.Durable.S3.Region = val
	}
	if val := os.Getenv("CACHEMGR_S3_ENDPOINT"); val != "" {
		c.Durable.S3.Endpoint = val
		c.Durable.S3.ForcePathStyle = true
	}
	if val := os.Getenv("CACHEMGR_POSTGRES_DSN"); val != "" {
		c.Durable.Postgres.DSN = val
	}

	// Metrics
	if val := os.Getenv("CACHEMGR_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CACHEMGR_METRICS_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid CACHEMGR_METRICS_PORT: %w", err)
		}
		c.Metrics.Port = port
	}

	// Admin API
	if val := os.Getenv("CACHEMGR_ADMIN_ENABLED"); val != "" {
		c.Admin.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CACHEMGR_ADMIN_ADDR"); val != "" {
		c.Admin.Address = val
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CacheConfig returns the settings for a named cache: its own entry with
// unset fields taken from Defaults.
func (c *Configuration) CacheConfig(name string) types.CacheConfig {
	cfg, ok := c.Caches[name]
	if !ok {
		return c.Defaults.WithDefaults()
	}
	if cfg.TTL == 0 {
		cfg.TTL = c.Defaults.TTL
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = c.Defaults.MaxSize
	}
	if cfg.Strategy == "" {
		cfg.Strategy = c.Defaults.Strategy
	}
	if cfg.Storage == "" {
		cfg.Storage = c.Defaults.Storage
	}
	if !cfg.Compress {
		cfg.Compress = c.Defaults.Compress
	}
	return cfg.WithDefaults()
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Global.LogLevel) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	switch strings.ToLower(c.Global.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("invalid defaults: %w", err)
	}
	for name, cache := range c.Caches {
		if name == "" {
			return fmt.Errorf("cache name cannot be empty")
		}
		if err := cache.Validate(); err != nil {
			return fmt.Errorf("invalid cache %q: %w", name, err)
		}
	}

	switch c.Persisted.Driver {
	case PersistedMemory:
	case PersistedFile:
		if c.Persisted.File.Path == "" {
			return fmt.Errorf("persisted.file.path is required for the file driver")
		}
	case PersistedRedis:
		if c.Persisted.Redis.Addr == "" {
			return fmt.Errorf("persisted.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("invalid persisted driver: %q", c.Persisted.Driver)
	}
	if c.Persisted.QuotaBytes < 0 {
		return fmt.Errorf("persisted.quota_bytes must not be negative")
	}

	switch c.Durable.Driver {
	case "", DurableNone, DurableMemory:
	case DurableS3:
		if c.Durable.S3.Bucket == "" {
			return fmt.Errorf("durable.s3.bucket is required for the s3 driver")
		}
	case DurablePostgres:
		if c.Durable.Postgres.DSN == "" {
			return fmt.Errorf("durable.postgres.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid durable driver: %q", c.Durable.Driver)
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics port must be between 1 and 65535")
	}

	if c.Admin.Enabled && c.Admin.Address == "" {
		return fmt.Errorf("admin.address is required when the admin API is enabled")
	}
	if c.Admin.StatsMaxAge < 0 || c.Admin.HealthCheckInterval < 0 {
		return fmt.Errorf("admin durations must not be negative")
	}

	return nil
}
