package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docfetch/internal/fetch"
	"github.com/JakeFAU/docfetch/internal/filter"
	"github.com/JakeFAU/docfetch/internal/proxy"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, fetch.DefaultSettings(), cfg.FetchSettings())
	require.Equal(t, 10, cfg.Batch.MaxConcurrency)
	require.Equal(t, 10, cfg.Batch.MaxFailures)
	require.Equal(t, proxy.NeverSwitch, cfg.Proxy.SwitchEvery)
	require.Empty(t, cfg.Proxies())
	require.Equal(t, filter.Unbounded, cfg.FilterRules().MaxBytes)
	require.Equal(t, StorageNone, cfg.Storage.Backend)
	require.Equal(t, "retrievals", cfg.DB.Table)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
fetch:
  connect_timeout: 3s
  read_timeout: 4s
  overall_timeout: 30s
  max_retries: 2
  retry_backoff: 100ms
  compression: false
  compression_ratio: 4
  user_agent: test-agent
batch:
  max_concurrency: 6
  max_failures: 3
proxy:
  endpoints: ["10.0.0.1:3128", "10.0.0.2:8080"]
  switch_every: 5
filter:
  include_types: [html, pdf]
  exclude_types: [zip]
  max_bytes: 1048576
politeness:
  per_host_rps: 2.5
  burst: 3
storage:
  backend: local
  local_dir: /tmp/docs
logging:
  development: false
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	settings := cfg.FetchSettings()
	require.Equal(t, 3*time.Second, settings.ConnectTimeout)
	require.Equal(t, 4*time.Second, settings.ReadTimeout)
	require.Equal(t, 30*time.Second, settings.OverallTimeout)
	require.Equal(t, 2, settings.MaxRetries)
	require.False(t, settings.Compression)
	require.InDelta(t, 4.0, settings.CompressionRatio, 1e-9)
	require.Equal(t, "test-agent", settings.UserAgent)
	require.Equal(t, fetch.DefaultReferer, settings.Referer)
	require.Equal(t, 100*time.Millisecond, cfg.Fetch.RetryBackoff)
	require.Equal(t, 6, cfg.Batch.MaxConcurrency)
	require.Equal(t, 3, cfg.Batch.MaxFailures)
	require.Equal(t, []proxy.Endpoint{{Host: "10.0.0.1", Port: 3128}, {Host: "10.0.0.2", Port: 8080}}, cfg.Proxies())
	require.Equal(t, 5, cfg.Proxy.SwitchEvery)
	rules := cfg.FilterRules()
	require.Equal(t, []string{"html", "pdf"}, rules.IncludeTypes)
	require.Equal(t, []string{"zip"}, rules.ExcludeTypes)
	require.Equal(t, int64(1<<20), rules.MaxBytes)
	require.InDelta(t, 2.5, cfg.Politeness.PerHostRPS, 1e-9)
	require.Equal(t, StorageLocal, cfg.Storage.Backend)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DOCFETCH_BATCH_MAX_FAILURES", "0")
	t.Setenv("DOCFETCH_FETCH_MAX_RETRIES", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Zero(t, cfg.Batch.MaxFailures)
	require.Equal(t, 3, cfg.Fetch.MaxRetries)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "zero timeout", mutate: func(c *Config) { c.Fetch.ReadTimeout = 0 }, want: "fetch timeouts"},
		{name: "negative retries", mutate: func(c *Config) { c.Fetch.MaxRetries = -1 }, want: "fetch.max_retries"},
		{name: "ratio below one", mutate: func(c *Config) { c.Fetch.CompressionRatio = 0.5 }, want: "fetch.compression_ratio"},
		{name: "no workers", mutate: func(c *Config) { c.Batch.MaxConcurrency = 0 }, want: "batch.max_concurrency"},
		{name: "negative rps", mutate: func(c *Config) { c.Politeness.PerHostRPS = -1 }, want: "politeness.per_host_rps"},
		{name: "bad proxy", mutate: func(c *Config) { c.Proxy.Endpoints = []string{"nope"} }, want: "proxy.endpoints"},
		{name: "local without dir", mutate: func(c *Config) { c.Storage.Backend = StorageLocal }, want: "storage.local_dir"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = StorageGCS }, want: "storage.gcs_bucket"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.TopicName = "done" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Proxy.Endpoints = append([]string(nil), base.Proxy.Endpoints...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.want), "got %v", err)
		})
	}
}
