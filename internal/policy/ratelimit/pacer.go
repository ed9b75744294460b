// Package ratelimit paces downloads against one site. A token bucket enforces the
// robots.txt crawl-delay floor; a jittered sleep around an adaptive base rate spreads
// requests and backs off when the site pushes back.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/dealer-gatherer/internal/metrics"
	"github.com/JakeFAU/dealer-gatherer/internal/transport"
)

// Config bounds the adaptive base rate.
type Config struct {
	// Base is the starting delay between downloads.
	Base    time.Duration
	Floor   time.Duration
	Ceiling time.Duration
	// Step is added on backoff-class responses and removed on the others.
	Step time.Duration
}

// DefaultConfig returns the production pacing bounds.
func DefaultConfig() Config {
	return Config{
		Base:    2 * time.Second,
		Floor:   time.Second,
		Ceiling: 30 * time.Second,
		Step:    time.Second,
	}
}

// Pacer is shared by every worker crawling the same site.
type Pacer struct {
	mu         sync.Mutex
	cfg        Config
	host       string
	base       time.Duration
	crawlDelay time.Duration
	limiter    *rate.Limiter

	jitter func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

// New builds a Pacer for host.
func New(cfg Config, host string) *Pacer {
	if cfg.Floor <= 0 {
		cfg.Floor = DefaultConfig().Floor
	}
	if cfg.Ceiling < cfg.Floor {
		cfg.Ceiling = cfg.Floor
	}
	if cfg.Step <= 0 {
		cfg.Step = DefaultConfig().Step
	}
	base := clamp(cfg.Base, cfg.Floor, cfg.Ceiling)
	return &Pacer{
		cfg:     cfg,
		host:    host,
		base:    base,
		limiter: rate.NewLimiter(rate.Inf, 1),
		jitter:  rand.Float64,
		sleep:   sleepContext,
	}
}

// SetCrawlDelay installs a robots.txt crawl-delay as a hard floor between downloads.
func (p *Pacer) SetCrawlDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.crawlDelay = d
	if d <= 0 {
		p.limiter.SetLimit(rate.Inf)
		return
	}
	p.limiter.SetLimit(rate.Every(d))
}

// Base returns the current adaptive delay.
func (p *Pacer) Base() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.base
}

// Wait blocks until the next download may start.
func (p *Pacer) Wait(ctx context.Context) error {
	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacer wait: %w", err)
	}
	if err := p.sleep(ctx, p.nextDelay()); err != nil {
		return err
	}
	metrics.ObserveRateLimitDelay(p.host, time.Since(start))
	return nil
}

// nextDelay is max(base, crawl-delay) scaled by a factor in [0.5, 1.5).
func (p *Pacer) nextDelay() time.Duration {
	p.mu.Lock()
	center := max(p.base, p.crawlDelay)
	p.mu.Unlock()
	return time.Duration(float64(center) * (0.5 + p.jitter()))
}

// Observe adjusts the base rate after a response with the given status.
func (p *Pacer) Observe(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if transport.IsBackoffStatus(status) {
		p.base = clamp(p.base+p.cfg.Step, p.cfg.Floor, p.cfg.Ceiling)
		return
	}
	p.base = clamp(p.base-p.cfg.Step, p.cfg.Floor, p.cfg.Ceiling)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	return min(max(d, lo), hi)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pacer sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
