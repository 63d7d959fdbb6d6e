// Package config loads and validates docfetch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/docfetch/internal/fetch"
	"github.com/JakeFAU/docfetch/internal/filter"
	"github.com/JakeFAU/docfetch/internal/proxy"
)

// Storage backends accepted by storage.backend.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Proxy      ProxyConfig      `mapstructure:"proxy"`
	Filter     FilterConfig     `mapstructure:"filter"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FetchConfig holds the per-attempt download settings.
type FetchConfig struct {
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	OverallTimeout   time.Duration `mapstructure:"overall_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	Compression      bool          `mapstructure:"compression"`
	CompressionRatio float64       `mapstructure:"compression_ratio"`
	UserAgent        string        `mapstructure:"user_agent"`
	Referer          string        `mapstructure:"referer"`
}

// BatchConfig governs the bulk fetch worker pool.
type BatchConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
	MaxFailures    int `mapstructure:"max_failures"`
}

// ProxyConfig lists proxies as "host:port" strings.
type ProxyConfig struct {
	Endpoints    []string      `mapstructure:"endpoints"`
	SwitchEvery  int           `mapstructure:"switch_every"`
	ProbeURL     string        `mapstructure:"probe_url"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// FilterConfig holds the download filter rules.
type FilterConfig struct {
	IncludeTypes []string `mapstructure:"include_types"`
	ExcludeTypes []string `mapstructure:"exclude_types"`
	// MaxBytes of zero or less disables the size limit.
	MaxBytes int64 `mapstructure:"max_bytes"`
}

// PolitenessConfig throttles requests per host. Zero RPS disables it.
type PolitenessConfig struct {
	PerHostRPS float64 `mapstructure:"per_host_rps"`
	Burst      int     `mapstructure:"burst"`
}

// StorageConfig selects where downloaded bodies are written.
type StorageConfig struct {
	Backend        string `mapstructure:"backend"`
	LocalDir       string `mapstructure:"local_dir"`
	GCSBucket      string `mapstructure:"gcs_bucket"`
	Prefix         string `mapstructure:"prefix"`
	RecordFailures bool   `mapstructure:"record_failures"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("fetch.connect_timeout", fetch.DefaultConnectTimeout)
	v.SetDefault("fetch.read_timeout", fetch.DefaultReadTimeout)
	v.SetDefault("fetch.overall_timeout", fetch.DefaultOverallTimeout)
	v.SetDefault("fetch.max_retries", 0)
	v.SetDefault("fetch.retry_backoff", 250*time.Millisecond)
	v.SetDefault("fetch.compression", true)
	v.SetDefault("fetch.compression_ratio", 1.0)
	v.SetDefault("fetch.user_agent", fetch.DefaultUserAgent)
	v.SetDefault("fetch.referer", fetch.DefaultReferer)
	v.SetDefault("batch.max_concurrency", 10)
	v.SetDefault("batch.max_failures", 10)
	v.SetDefault("proxy.endpoints", []string{})
	v.SetDefault("proxy.switch_every", proxy.NeverSwitch)
	v.SetDefault("proxy.probe_url", proxy.DefaultProbeURL)
	v.SetDefault("proxy.probe_timeout", proxy.DefaultProbeTimeout)
	v.SetDefault("filter.max_bytes", filter.Unbounded)
	v.SetDefault("politeness.per_host_rps", 0)
	v.SetDefault("politeness.burst", 1)
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.prefix", "documents")
	v.SetDefault("db.table", "retrievals")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Fetch.ConnectTimeout <= 0 || c.Fetch.ReadTimeout <= 0 || c.Fetch.OverallTimeout <= 0 {
		return fmt.Errorf("fetch timeouts must be > 0")
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must be >= 0")
	}
	if c.Fetch.CompressionRatio < 1 {
		return fmt.Errorf("fetch.compression_ratio must be >= 1")
	}
	if c.Batch.MaxConcurrency <= 0 {
		return fmt.Errorf("batch.max_concurrency must be > 0")
	}
	if c.Politeness.PerHostRPS < 0 {
		return fmt.Errorf("politeness.per_host_rps must be >= 0")
	}
	if _, err := proxy.ParseAll(c.Proxy.Endpoints); err != nil {
		return fmt.Errorf("proxy.endpoints: %w", err)
	}
	switch c.Storage.Backend {
	case StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of none, memory, local, gcs", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	return nil
}

// FetchSettings converts the fetch section into downloader settings.
func (c Config) FetchSettings() fetch.Settings {
	return fetch.Settings{
		ConnectTimeout:   c.Fetch.ConnectTimeout,
		ReadTimeout:      c.Fetch.ReadTimeout,
		OverallTimeout:   c.Fetch.OverallTimeout,
		MaxRetries:       c.Fetch.MaxRetries,
		Compression:      c.Fetch.Compression,
		CompressionRatio: c.Fetch.CompressionRatio,
		UserAgent:        c.Fetch.UserAgent,
		Referer:          c.Fetch.Referer,
	}
}

// FilterRules converts the filter section.
func (c Config) FilterRules() filter.Config {
	return filter.Config{
		IncludeTypes: c.Filter.IncludeTypes,
		ExcludeTypes: c.Filter.ExcludeTypes,
		MaxBytes:     c.Filter.MaxBytes,
	}
}

// Proxies parses the configured endpoints. Validate has already vetted them.
func (c Config) Proxies() []proxy.Endpoint {
	eps, err := proxy.ParseAll(c.Proxy.Endpoints)
	if err != nil {
		return nil
	}
	return eps
}
