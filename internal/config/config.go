// Package config loads and validates the engine's runtime configuration
// via viper + environment variables, adapted from the teacher's
// internal/config.LoadConfig (spec §6 "Configuration").
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for the lineage-observer process.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Checks    ChecksConfig    `mapstructure:"checks"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	App       AppConfig       `mapstructure:"app"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
	RateLimitPerMinute      int           `mapstructure:"rate_limit_per_minute"`
	RateLimitBurst          int           `mapstructure:"rate_limit_burst"`
}

// LogConfig holds structured-logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// ArtifactsConfig points at the manifest/catalog/sources files and the
// directories the Comparison Resolver (C3) may read from (spec §4.3, §6).
type ArtifactsConfig struct {
	ManifestPath       string `mapstructure:"manifest_path"`
	CatalogPath        string `mapstructure:"catalog_path"`
	SourcesPath        string `mapstructure:"sources_path"`
	WorkDir            string `mapstructure:"work_dir"`
	SnapshotRoot       string `mapstructure:"snapshot_root"`
	FreshnessCacheSize int    `mapstructure:"freshness_cache_size"`
}

// CacheConfig holds the tiered-cache Prometheus toggle; the hot/warm/cold
// TTLs themselves are fixed per spec §4.7 and not operator-configurable.
type CacheConfig struct {
	EnableMetrics bool `mapstructure:"enable_metrics"`
}

// ChecksConfig holds the broad-checks thresholds from spec §10
// "Environment variables".
type ChecksConfig struct {
	VolumeThresholdPct              float64 `mapstructure:"volume_threshold_pct"`
	FreshnessThresholdMinutes       int     `mapstructure:"freshness_threshold_minutes"`
	ReferenceFreshnessThresholdMins int     `mapstructure:"reference_freshness_threshold_minutes"`
}

// MetricsConfig holds Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// AppConfig holds process-identity configuration.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Load reads configuration from configPath (if non-empty) layered under
// environment variables and documented defaults, then validates the result
// (spec §6 "Configuration").
func Load(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("obs")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")
	viper.SetDefault("server.rate_limit_per_minute", 600)
	viper.SetDefault("server.rate_limit_burst", 50)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.filename", "")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("artifacts.manifest_path", "manifest.json")
	viper.SetDefault("artifacts.catalog_path", "catalog.json")
	viper.SetDefault("artifacts.sources_path", "sources.json")
	viper.SetDefault("artifacts.work_dir", ".")
	viper.SetDefault("artifacts.snapshot_root", "snapshots")
	viper.SetDefault("artifacts.freshness_cache_size", 32)

	viper.SetDefault("cache.enable_metrics", true)

	viper.SetDefault("checks.volume_threshold_pct", 25.0)
	viper.SetDefault("checks.freshness_threshold_minutes", 180)
	viper.SetDefault("checks.reference_freshness_threshold_minutes", 10080)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("app.name", "lineage-observer")
	viper.SetDefault("app.version", "0.1.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)
}

// Validate checks structural invariants and falls back to documented
// defaults for zero, negative or non-finite threshold values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Artifacts.ManifestPath == "" {
		return fmt.Errorf("artifacts manifest_path cannot be empty")
	}
	if c.Artifacts.WorkDir == "" {
		return fmt.Errorf("artifacts work_dir cannot be empty")
	}

	if !isFinitePositive(c.Checks.VolumeThresholdPct) {
		c.Checks.VolumeThresholdPct = 25
	}
	if c.Checks.FreshnessThresholdMinutes <= 0 {
		c.Checks.FreshnessThresholdMinutes = 180
	}
	if c.Checks.ReferenceFreshnessThresholdMins <= 0 {
		c.Checks.ReferenceFreshnessThresholdMins = 10080
	}
	return nil
}

func isFinitePositive(f float64) bool {
	return f > 0 && f < 1e18 && f == f // f == f excludes NaN
}
