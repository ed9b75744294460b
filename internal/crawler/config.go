package crawler

import (
	"fmt"
	"time"

	"github.com/JakeFAU/dealer-gatherer/internal/abort"
	"github.com/JakeFAU/dealer-gatherer/internal/frontier"
	"github.com/JakeFAU/dealer-gatherer/internal/pipeline"
	"github.com/JakeFAU/dealer-gatherer/internal/policy/ratelimit"
)

// Config holds the settings for the crawl engine.
// This struct is decoupled from Viper, making the crawler and its configuration
// more modular and easier to test independently.
type Config struct {
	// PoolSize bounds concurrent page workers per crawl.
	PoolSize int
	// HelperThreshold is the backlog length above which idle slots help drain a parent.
	HelperThreshold int
	MaxHelpers      int
	// Timeout bounds one work order; draining waits up to half of it.
	Timeout      time.Duration
	FlushTimeout time.Duration

	Frontier frontier.Config
	Pacing   ratelimit.Config
	Session  pipeline.Config

	// AbortSteps is the yield staircase over built products, IdentifierSteps the one
	// over distinct listing identifiers.
	AbortSteps      []abort.Step
	IdentifierSteps []abort.Step
	BackoffLimit    int
	BackoffWindow   time.Duration

	MaxSitemaps    int
	MaxSitemapURLs int
	// BlockedDomains are never accepted as roots. Entries may be "*.example.com".
	BlockedDomains []string
	SnapshotPrefix string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:        1,
		HelperThreshold: 40,
		MaxHelpers:      2,
		Timeout:         3 * time.Hour,
		FlushTimeout:    30 * time.Second,
		Frontier:        frontier.DefaultConfig(),
		Pacing:          ratelimit.DefaultConfig(),
		Session:         pipeline.DefaultConfig(),
		AbortSteps:      abort.DefaultSteps,
		IdentifierSteps: abort.DefaultSteps,
		BackoffLimit:    8,
		BackoffWindow:   10 * time.Minute,
		MaxSitemaps:     10,
		MaxSitemapURLs:  5000,
		SnapshotPrefix:  "snapshots",
	}
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.PoolSize <= 0 {
		return fmt.Errorf("crawler.pool_size must be > 0")
	}
	if c.HelperThreshold < 0 {
		return fmt.Errorf("crawler.helper_threshold must be >= 0")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("crawler.timeout must be > 0")
	}
	if c.BackoffLimit <= 0 {
		return fmt.Errorf("crawler.backoff_limit must be > 0")
	}
	if c.BackoffWindow <= 0 {
		return fmt.Errorf("crawler.backoff_window must be > 0")
	}
	if c.Pacing.Ceiling > 0 && c.Pacing.Ceiling < c.Pacing.Floor {
		return fmt.Errorf("crawler.pacing.ceiling must be >= crawler.pacing.floor")
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PoolSize <= 0 {
		c.PoolSize = def.PoolSize
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = def.FlushTimeout
	}
	if len(c.AbortSteps) == 0 {
		c.AbortSteps = def.AbortSteps
	}
	if len(c.IdentifierSteps) == 0 {
		c.IdentifierSteps = def.IdentifierSteps
	}
	if c.BackoffLimit <= 0 {
		c.BackoffLimit = def.BackoffLimit
	}
	if c.BackoffWindow <= 0 {
		c.BackoffWindow = def.BackoffWindow
	}
	if c.MaxSitemaps <= 0 {
		c.MaxSitemaps = def.MaxSitemaps
	}
	if c.MaxSitemapURLs <= 0 {
		c.MaxSitemapURLs = def.MaxSitemapURLs
	}
	if c.SnapshotPrefix == "" {
		c.SnapshotPrefix = def.SnapshotPrefix
	}
	return c
}
