package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawler:
  workers: 6
  pool_size: 3
  timeout: 90m
  user_agent: test-agent
  blocked_domains: ["*.facebook.com", "cars.com"]
  pacing:
    base: 1500ms
    floor: 500ms
    ceiling: 10s
  frontier:
    max_edges: 100
pipeline:
  flush_size: 10
  sibling_freshness: 24h
catalog:
  path: /etc/gatherer/catalog.json
storage:
  backend: gcs
  gcs_bucket: snapshots
pubsub:
  project_id: dealers
  report_topic: reports
  work_subscription: work-orders
logging:
  development: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, 6, cfg.Crawler.Workers)
	require.False(t, cfg.Logging.Development)

	engine := cfg.EngineConfig()
	require.Equal(t, 3, engine.PoolSize)
	require.Equal(t, 90*time.Minute, engine.Timeout)
	require.Equal(t, 1500*time.Millisecond, engine.Pacing.Base)
	require.Equal(t, 10*time.Second, engine.Pacing.Ceiling)
	require.Equal(t, 100, engine.Frontier.MaxEdges)
	require.Equal(t, 512, engine.Frontier.MaxParents)
	require.Equal(t, []string{"*.facebook.com", "cars.com"}, engine.BlockedDomains)
	require.Equal(t, 10, engine.Session.FlushSize)
	require.Equal(t, 24*time.Hour, engine.Session.SiblingFreshness)
	require.Equal(t, "snapshots", engine.SnapshotPrefix)

	runner := cfg.RunnerConfig()
	require.Equal(t, 90*time.Minute, runner.Timeout)
	require.Equal(t, 200, runner.MaxIndexPages)

	require.Equal(t, "test-agent", cfg.FetcherConfig().UserAgent)
	require.Equal(t, "reports", cfg.WorkerConfig().Topic)
}

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("CRAWLER_CATALOG_PATH", "catalog.json")
	t.Setenv("CRAWLER_CRAWLER_WORKERS", "2")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 2, cfg.Crawler.Workers)
	require.Equal(t, "catalog.json", cfg.Catalog.Path)
	require.Equal(t, StorageMemory, cfg.Storage.Backend)
	require.Equal(t, 3*time.Hour, cfg.Crawler.Timeout)
	require.Equal(t, 25, cfg.Pipeline.FlushSize)
	require.True(t, cfg.Logging.Development)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "catalog:\n  path: catalog.json\n")
	base, err := Load(path)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "no workers", mutate: func(c *Config) { c.Crawler.Workers = 0 }, want: "crawler.workers"},
		{name: "no queue", mutate: func(c *Config) { c.Crawler.QueueDepth = 0 }, want: "crawler.queue_depth"},
		{name: "no download timeout", mutate: func(c *Config) { c.Crawler.DownloadTimeout = 0 }, want: "crawler.download_timeout"},
		{name: "engine pool", mutate: func(c *Config) { c.Crawler.PoolSize = 0 }, want: "crawler.pool_size"},
		{
			name: "pacing ceiling below floor",
			mutate: func(c *Config) {
				c.Crawler.Pacing.Floor = 5 * time.Second
				c.Crawler.Pacing.Ceiling = time.Second
			},
			want: "crawler.pacing.ceiling",
		},
		{name: "flush size", mutate: func(c *Config) { c.Pipeline.FlushSize = 0 }, want: "pipeline.flush_size"},
		{name: "no catalog", mutate: func(c *Config) { c.Catalog.Path = "" }, want: "catalog.path"},
		{name: "local without dir", mutate: func(c *Config) { c.Storage.Backend = StorageLocal }, want: "storage.local_dir"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = StorageGCS }, want: "storage.gcs_bucket"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{
			name:   "pubsub without subscription",
			mutate: func(c *Config) { c.PubSub.ProjectID = "dealers" },
			want:   "pubsub.work_subscription",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
	require.NoError(t, base.Validate())
}
