// Package config provides configuration management for the mirror daemon
// and the lookup server.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration shared by the sync daemon and the
// lookup server.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Origin      OriginConfig      `mapstructure:"origin"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Dataset     DatasetConfig     `mapstructure:"dataset"`
	Cache       CacheConfig       `mapstructure:"cache"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration for the lookup server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBatchSize    int           `mapstructure:"max_batch_size"`
}

// OriginConfig holds the remote origin endpoints and transport limits.
type OriginConfig struct {
	MarkerURL       string        `mapstructure:"marker_url"`
	ArchiveURL      string        `mapstructure:"archive_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
}

// SyncConfig holds the sync loop and serving-process supervision settings.
type SyncConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	ServerBinary string        `mapstructure:"server_binary"`
}

// DatasetConfig holds the local dataset layout.
type DatasetConfig struct {
	Dir         string `mapstructure:"dir"`
	File        string `mapstructure:"file"`
	ArchiveFile string `mapstructure:"archive_file"`
	MarkerFile  string `mapstructure:"marker_file"`
}

// Path returns the full path of the installed dataset file.
func (d DatasetConfig) Path() string {
	return filepath.Join(d.Dir, d.File)
}

// ArchivePath returns the full path of the temporary download archive.
func (d DatasetConfig) ArchivePath() string {
	return filepath.Join(d.Dir, d.ArchiveFile)
}

// MarkerPath returns the full path of the persisted freshness marker.
func (d DatasetConfig) MarkerPath() string {
	return filepath.Join(d.Dir, d.MarkerFile)
}

// CacheConfig holds lookup cache configuration.
type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RateLimiterConfig holds token bucket configuration.
type RateLimiterConfig struct {
	Capacity        int     `mapstructure:"capacity"`
	TokensPerMinute float64 `mapstructure:"tokens_per_minute"`
}

// MetricsConfig holds Prometheus metrics configuration. The daemon and
// the serving process run side by side, so each gets its own listener.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Port     int    `mapstructure:"port"`
	SyncPort int    `mapstructure:"sync_port"`
	Path     string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/anilyzer/")
	}

	v.SetEnvPrefix("ANILYZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional, defaults and env cover everything.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. The defaults are
// complete enough to run both daemons with zero configuration against
// the public origin.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_batch_size", 50)

	// Origin defaults
	v.SetDefault("origin.marker_url", "https://api.mangabaka.dev/v1/database/series.timestamp.txt")
	v.SetDefault("origin.archive_url", "https://api.mangabaka.dev/v1/database/series.sqlite.zst")
	v.SetDefault("origin.request_timeout", "30s")
	v.SetDefault("origin.download_timeout", "15m")

	// Sync defaults
	v.SetDefault("sync.interval", "6h")
	v.SetDefault("sync.server_binary", "./anilyzer-server")

	// Dataset defaults
	v.SetDefault("dataset.dir", "./data")
	v.SetDefault("dataset.file", "series.sqlite")
	v.SetDefault("dataset.archive_file", "series.sqlite.zst")
	v.SetDefault("dataset.marker_file", "series.timestamp.local")

	// Cache defaults
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.sweep_interval", "1h")

	// Rate limiter defaults
	v.SetDefault("rate_limiter.capacity", 25)
	v.SetDefault("rate_limiter.tokens_per_minute", 25.0)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.sync_port", 9091)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be positive")
	}

	if c.Origin.MarkerURL == "" || c.Origin.ArchiveURL == "" {
		return fmt.Errorf("origin marker and archive URLs are required")
	}

	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync interval must be positive")
	}

	if c.Dataset.Dir == "" || c.Dataset.File == "" {
		return fmt.Errorf("dataset directory and file are required")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}

	if c.RateLimiter.Capacity <= 0 {
		return fmt.Errorf("rate limiter capacity must be positive")
	}
	if c.RateLimiter.TokensPerMinute <= 0 {
		return fmt.Errorf("rate limiter refill must be positive")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
	}

	return nil
}
