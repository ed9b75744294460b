// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/dealer-gatherer/internal/bots"
	"github.com/JakeFAU/dealer-gatherer/internal/crawler"
	collyfetcher "github.com/JakeFAU/dealer-gatherer/internal/fetcher/colly"
	"github.com/JakeFAU/dealer-gatherer/internal/frontier"
	"github.com/JakeFAU/dealer-gatherer/internal/pipeline"
	"github.com/JakeFAU/dealer-gatherer/internal/policy/ratelimit"
	"github.com/JakeFAU/dealer-gatherer/internal/storage/postgres"
	"github.com/JakeFAU/dealer-gatherer/internal/worker"
)

// Storage backends for raw snapshots.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	DB       DBConfig       `mapstructure:"db"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs work-order execution and the crawl engine.
type CrawlerConfig struct {
	// Workers is the number of work orders executed concurrently.
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
	// PoolSize bounds concurrent page workers inside one crawl.
	PoolSize        int           `mapstructure:"pool_size"`
	HelperThreshold int           `mapstructure:"helper_threshold"`
	MaxHelpers      int           `mapstructure:"max_helpers"`
	Timeout         time.Duration `mapstructure:"timeout"`
	FlushTimeout    time.Duration `mapstructure:"flush_timeout"`
	SaveTimeout     time.Duration `mapstructure:"save_timeout"`

	UserAgent       string        `mapstructure:"user_agent"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	MaxBodyBytes    int           `mapstructure:"max_body_bytes"`
	BlockMarkers    []string      `mapstructure:"block_markers"`
	BlockedDomains  []string      `mapstructure:"blocked_domains"`

	BackoffLimit   int           `mapstructure:"backoff_limit"`
	BackoffWindow  time.Duration `mapstructure:"backoff_window"`
	MaxSitemaps    int           `mapstructure:"max_sitemaps"`
	MaxSitemapURLs int           `mapstructure:"max_sitemap_urls"`
	MaxIndexPages  int           `mapstructure:"max_index_pages"`

	Pacing   PacingConfig   `mapstructure:"pacing"`
	Frontier FrontierConfig `mapstructure:"frontier"`
}

// PacingConfig bounds the adaptive delay between downloads.
type PacingConfig struct {
	Base    time.Duration `mapstructure:"base"`
	Floor   time.Duration `mapstructure:"floor"`
	Ceiling time.Duration `mapstructure:"ceiling"`
	Step    time.Duration `mapstructure:"step"`
}

// FrontierConfig bounds the crawl frontier.
type FrontierConfig struct {
	MaxEdges         int `mapstructure:"max_edges"`
	MaxParents       int `mapstructure:"max_parents"`
	InitialMaxDepth  int `mapstructure:"initial_max_depth"`
	AbsoluteMaxDepth int `mapstructure:"absolute_max_depth"`
}

// PipelineConfig tunes product sessions.
type PipelineConfig struct {
	FlushSize        int           `mapstructure:"flush_size"`
	SiblingFreshness time.Duration `mapstructure:"sibling_freshness"`
	MaxSiblings      int           `mapstructure:"max_siblings"`
	ExpectedItems    int           `mapstructure:"expected_items"`
	Actor            string        `mapstructure:"actor"`
}

// CatalogConfig locates the make/model/trim catalog when no database is configured.
type CatalogConfig struct {
	// Path is a JSON file of catalog records.
	Path string `mapstructure:"path"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory stores.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ProductsTable   string        `mapstructure:"products_table"`
	SourcesTable    string        `mapstructure:"sources_table"`
	PostalTable     string        `mapstructure:"postal_table"`
	CatalogView     string        `mapstructure:"catalog_view"`
}

// StorageConfig selects where raw snapshots of blocked pages go.
type StorageConfig struct {
	Backend        string `mapstructure:"backend"`
	SnapshotPrefix string `mapstructure:"snapshot_prefix"`
	LocalDir       string `mapstructure:"local_dir"`
	GCSBucket      string `mapstructure:"gcs_bucket"`
	GCSPrefix      string `mapstructure:"gcs_prefix"`
}

// PubSubConfig holds the Pub/Sub project and resource names. An empty ProjectID keeps
// the queue and report publisher in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	// ReportTopic receives final data-source reports.
	ReportTopic string `mapstructure:"report_topic"`
	// WorkSubscription delivers work orders; WorkTopic is where Submit publishes them.
	WorkTopic        string `mapstructure:"work_topic"`
	WorkSubscription string `mapstructure:"work_subscription"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	engine := crawler.DefaultConfig()
	session := pipeline.DefaultConfig()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.pool_size", engine.PoolSize)
	v.SetDefault("crawler.helper_threshold", engine.HelperThreshold)
	v.SetDefault("crawler.max_helpers", engine.MaxHelpers)
	v.SetDefault("crawler.timeout", engine.Timeout)
	v.SetDefault("crawler.flush_timeout", engine.FlushTimeout)
	v.SetDefault("crawler.save_timeout", "30s")
	v.SetDefault("crawler.user_agent", "dealer-gatherer/1.0 (+https://github.com/JakeFAU/dealer-gatherer)")
	v.SetDefault("crawler.download_timeout", "30s")
	v.SetDefault("crawler.max_body_bytes", 8<<20)
	v.SetDefault("crawler.backoff_limit", engine.BackoffLimit)
	v.SetDefault("crawler.backoff_window", engine.BackoffWindow)
	v.SetDefault("crawler.max_sitemaps", engine.MaxSitemaps)
	v.SetDefault("crawler.max_sitemap_urls", engine.MaxSitemapURLs)
	v.SetDefault("crawler.max_index_pages", 200)
	v.SetDefault("crawler.pacing.base", engine.Pacing.Base)
	v.SetDefault("crawler.pacing.floor", engine.Pacing.Floor)
	v.SetDefault("crawler.pacing.ceiling", engine.Pacing.Ceiling)
	v.SetDefault("crawler.pacing.step", engine.Pacing.Step)
	v.SetDefault("crawler.frontier.max_edges", engine.Frontier.MaxEdges)
	v.SetDefault("crawler.frontier.max_parents", engine.Frontier.MaxParents)
	v.SetDefault("crawler.frontier.initial_max_depth", engine.Frontier.InitialMaxDepth)
	v.SetDefault("crawler.frontier.absolute_max_depth", engine.Frontier.AbsoluteMaxDepth)
	v.SetDefault("pipeline.flush_size", session.FlushSize)
	v.SetDefault("pipeline.sibling_freshness", session.SiblingFreshness)
	v.SetDefault("pipeline.max_siblings", session.MaxSiblings)
	v.SetDefault("pipeline.expected_items", session.ExpectedItems)
	v.SetDefault("pipeline.actor", session.Actor)
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.snapshot_prefix", engine.SnapshotPrefix)
	v.SetDefault("logging.development", true)

	// Keys without a default must be bound for Unmarshal to see their env values.
	for _, key := range []string{
		"auth.enabled", "auth.api_key", "catalog.path",
		"db.dsn", "db.max_conns", "db.min_conns", "db.max_conn_lifetime",
		"db.products_table", "db.sources_table", "db.postal_table", "db.catalog_view",
		"logging.level",
		"storage.local_dir", "storage.gcs_bucket", "storage.gcs_prefix",
		"pubsub.project_id", "pubsub.report_topic", "pubsub.work_topic", "pubsub.work_subscription",
		"crawler.block_markers", "crawler.blocked_domains",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Crawler.DownloadTimeout <= 0 {
		return fmt.Errorf("crawler.download_timeout must be > 0")
	}
	if err := c.EngineConfig().Validate(); err != nil {
		return err
	}
	if c.Pipeline.FlushSize <= 0 {
		return fmt.Errorf("pipeline.flush_size must be > 0")
	}
	if c.DB.DSN == "" && c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path must be set when db.dsn is empty")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.WorkSubscription == "" {
		return fmt.Errorf("pubsub.work_subscription must be set when pubsub.project_id is set")
	}
	return nil
}

// SessionConfig builds the product session settings.
func (c Config) SessionConfig() pipeline.Config {
	return pipeline.Config{
		FlushSize:        c.Pipeline.FlushSize,
		SiblingFreshness: c.Pipeline.SiblingFreshness,
		MaxSiblings:      c.Pipeline.MaxSiblings,
		Actor:            c.Pipeline.Actor,
		ExpectedItems:    c.Pipeline.ExpectedItems,
	}
}

// Pacing converts the pacing section.
func (c Config) Pacing() ratelimit.Config {
	return ratelimit.Config{
		Base:    c.Crawler.Pacing.Base,
		Floor:   c.Crawler.Pacing.Floor,
		Ceiling: c.Crawler.Pacing.Ceiling,
		Step:    c.Crawler.Pacing.Step,
	}
}

// EngineConfig builds the crawl engine settings on top of its defaults.
func (c Config) EngineConfig() crawler.Config {
	cfg := crawler.DefaultConfig()
	cfg.PoolSize = c.Crawler.PoolSize
	cfg.HelperThreshold = c.Crawler.HelperThreshold
	cfg.MaxHelpers = c.Crawler.MaxHelpers
	cfg.Timeout = c.Crawler.Timeout
	cfg.FlushTimeout = c.Crawler.FlushTimeout
	cfg.Pacing = c.Pacing()
	cfg.Session = c.SessionConfig()
	cfg.BackoffLimit = c.Crawler.BackoffLimit
	cfg.BackoffWindow = c.Crawler.BackoffWindow
	cfg.MaxSitemaps = c.Crawler.MaxSitemaps
	cfg.MaxSitemapURLs = c.Crawler.MaxSitemapURLs
	cfg.BlockedDomains = c.Crawler.BlockedDomains
	cfg.SnapshotPrefix = c.Storage.SnapshotPrefix
	cfg.Frontier = frontier.DefaultConfig()
	cfg.Frontier.MaxEdges = c.Crawler.Frontier.MaxEdges
	cfg.Frontier.MaxParents = c.Crawler.Frontier.MaxParents
	cfg.Frontier.InitialMaxDepth = c.Crawler.Frontier.InitialMaxDepth
	cfg.Frontier.AbsoluteMaxDepth = c.Crawler.Frontier.AbsoluteMaxDepth
	return cfg
}

// RunnerConfig builds the site-bot runner settings.
func (c Config) RunnerConfig() bots.RunnerConfig {
	return bots.RunnerConfig{
		Session:       c.SessionConfig(),
		Pacing:        c.Pacing(),
		FlushTimeout:  c.Crawler.FlushTimeout,
		Timeout:       c.Crawler.Timeout,
		MaxIndexPages: c.Crawler.MaxIndexPages,
	}
}

// FetcherConfig builds the colly transport settings.
func (c Config) FetcherConfig() collyfetcher.Config {
	return collyfetcher.Config{
		UserAgent:    c.Crawler.UserAgent,
		Timeout:      c.Crawler.DownloadTimeout,
		MaxBodyBytes: c.Crawler.MaxBodyBytes,
		BlockMarkers: c.Crawler.BlockMarkers,
	}
}

// WorkerConfig builds the per-worker settings.
func (c Config) WorkerConfig() worker.Config {
	return worker.Config{
		Topic:       c.PubSub.ReportTopic,
		SaveTimeout: c.Crawler.SaveTimeout,
	}
}

// PostgresConfig builds the pool settings.
func (c Config) PostgresConfig() postgres.Config {
	return postgres.Config{
		DSN:             c.DB.DSN,
		MaxConns:        c.DB.MaxConns,
		MinConns:        c.DB.MinConns,
		MaxConnLifetime: c.DB.MaxConnLifetime,
	}
}
