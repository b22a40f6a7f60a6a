package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"syncline/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Storage    StorageConfig    `yaml:"storage"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Cache      CacheConfig      `yaml:"cache"`
	Queue      QueueConfig      `yaml:"queue"`
	Sync       SyncConfig       `yaml:"sync"`
	API        APIConfig        `yaml:"api"`
	Exports    ExportConfig     `yaml:"exports"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	TenantID    string `yaml:"tenant_id"`
}

type StorageConfig struct {
	// Backend selects the key-value store: sqlite, redis, badger or memory.
	Backend string `yaml:"backend"`

	SQLitePath string `yaml:"sqlite_path"`
	BadgerPath string `yaml:"badger_path"`

	Redis RedisConfig `yaml:"redis"`

	// FallbackToMemory wraps the backend in a failover decorator that keeps
	// serving from an in-memory store while the backend is unreachable.
	FallbackToMemory bool `yaml:"fallback_to_memory"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type UpstreamConfig struct {
	BaseURL        string `yaml:"base_url"`
	AuthToken      string `yaml:"auth_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`

	HealthPath           string `yaml:"health_path"`
	ProbeIntervalSeconds int    `yaml:"probe_interval_seconds"`
}

type CacheConfig struct {
	CapacityBytes int64 `yaml:"capacity_bytes"`

	HighTTLSeconds   int `yaml:"high_ttl_seconds"`
	MediumTTLSeconds int `yaml:"medium_ttl_seconds"`
	LowTTLSeconds    int `yaml:"low_ttl_seconds"`
}

type QueueConfig struct {
	MaxAttempts          int     `yaml:"max_attempts"`
	QueueCap             int     `yaml:"queue_cap"`
	DeadLetterCap        int     `yaml:"dead_letter_cap"`
	DrainIntervalSeconds int     `yaml:"drain_interval_seconds"`
	InitialDelaySeconds  int     `yaml:"initial_delay_seconds"`
	MaxDelaySeconds      int     `yaml:"max_delay_seconds"`
	BackoffFactor        float64 `yaml:"backoff_factor"`
}

type SyncConfig struct {
	HistoryCap  int      `yaml:"history_cap"`
	EntityOrder []string `yaml:"entity_order"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Environment variables are expanded before parsing so secrets stay
	// out of the YAML file.
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return errors.New("upstream base_url is required")
	}

	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return errors.New("storage sqlite_path is required for the sqlite backend")
		}
	case "badger":
		if c.Storage.BadgerPath == "" {
			return errors.New("storage badger_path is required for the badger backend")
		}
	case "redis":
		if c.Storage.Redis.Address == "" {
			return errors.New("storage redis.address is required for the redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	return ValidateEntityOrder(c.Sync.EntityOrder)
}

// ValidateEntityOrder rejects unknown and duplicate entity kinds.
func ValidateEntityOrder(order []string) error {
	seen := make(map[string]bool, len(order))
	for _, kind := range order {
		if !models.KnownEntityKind(kind) {
			return fmt.Errorf("unknown entity kind %q in sync order", kind)
		}
		if seen[kind] {
			return fmt.Errorf("duplicate entity kind %q in sync order", kind)
		}
		seen[kind] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "syncline"
	}
	if c.App.TenantID == "" {
		c.App.TenantID = "default"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
	}
	if c.Storage.Backend == "sqlite" && c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/syncline.db"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.HealthPath == "" {
		c.Upstream.HealthPath = "/health"
	}
	if c.Upstream.ProbeIntervalSeconds == 0 {
		c.Upstream.ProbeIntervalSeconds = 30
	}

	if c.Cache.CapacityBytes == 0 {
		c.Cache.CapacityBytes = models.DefaultCacheCapacityBytes
	}

	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = models.DefaultMaxAttempts
	}
	if c.Queue.QueueCap == 0 {
		c.Queue.QueueCap = models.DefaultQueueCap
	}
	if c.Queue.DeadLetterCap == 0 {
		c.Queue.DeadLetterCap = models.DefaultDeadLetterCap
	}
	if c.Queue.DrainIntervalSeconds == 0 {
		c.Queue.DrainIntervalSeconds = int(models.DefaultDrainInterval / time.Second)
	}
	if c.Queue.InitialDelaySeconds == 0 {
		c.Queue.InitialDelaySeconds = 1
	}
	if c.Queue.MaxDelaySeconds == 0 {
		c.Queue.MaxDelaySeconds = 300
	}
	if c.Queue.BackoffFactor == 0 {
		c.Queue.BackoffFactor = 2
	}

	if c.Sync.HistoryCap == 0 {
		c.Sync.HistoryCap = models.DefaultHistoryCap
	}
	if len(c.Sync.EntityOrder) == 0 {
		c.Sync.EntityOrder = append([]string(nil), models.DefaultSyncOrder...)
	}

	if c.API.Enabled && c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

// CacheTTLs maps the three priority bands to their configured lifetimes,
// falling back to the built-in defaults for unset bands.
func (c *Config) CacheTTLs() map[string]time.Duration {
	ttls := map[string]time.Duration{
		models.PriorityHigh:   models.DefaultTTLHigh,
		models.PriorityMedium: models.DefaultTTLMedium,
		models.PriorityLow:    models.DefaultTTLLow,
	}
	if c.Cache.HighTTLSeconds > 0 {
		ttls[models.PriorityHigh] = time.Duration(c.Cache.HighTTLSeconds) * time.Second
	}
	if c.Cache.MediumTTLSeconds > 0 {
		ttls[models.PriorityMedium] = time.Duration(c.Cache.MediumTTLSeconds) * time.Second
	}
	if c.Cache.LowTTLSeconds > 0 {
		ttls[models.PriorityLow] = time.Duration(c.Cache.LowTTLSeconds) * time.Second
	}
	return ttls
}
