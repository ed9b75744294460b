package bots

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/dealer-gatherer/internal/crawler"
	"github.com/JakeFAU/dealer-gatherer/internal/metrics"
	"github.com/JakeFAU/dealer-gatherer/internal/pipeline"
	"github.com/JakeFAU/dealer-gatherer/internal/policy/ratelimit"
	"github.com/JakeFAU/dealer-gatherer/internal/product"
	"github.com/JakeFAU/dealer-gatherer/internal/seen"
	"github.com/JakeFAU/dealer-gatherer/internal/transport"
)

// RunnerConfig tunes bot runs.
type RunnerConfig struct {
	Session      pipeline.Config
	Pacing       ratelimit.Config
	FlushTimeout time.Duration
	// Timeout bounds one run; reaching it ends the run normally.
	Timeout time.Duration
	// MaxIndexPages caps index pages (base URLs plus pagination) per run.
	MaxIndexPages int
}

// Runner drives a Bot through download, build and persistence.
type Runner struct {
	cfg       RunnerConfig
	transport transport.Transport
	products  product.Store
	clock     crawler.Clock
	logger    *zap.Logger
}

// NewRunner builds a Runner.
func NewRunner(cfg RunnerConfig, tr transport.Transport, products product.Store, clock crawler.Clock, logger *zap.Logger) *Runner {
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Hour
	}
	if cfg.MaxIndexPages <= 0 {
		cfg.MaxIndexPages = 200
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, transport: tr, products: products, clock: clock, logger: logger.Named("bots")}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type botRun struct {
	*Runner
	bot     Bot
	ds      crawler.DataSource
	src     pipeline.Source
	session *pipeline.Session
	pacer   *ratelimit.Pacer
	logger  *zap.Logger

	visited  *seen.Set
	pages    int
	rejected int
	backoffs int
	reason   crawler.Reason
	details  string
}

// Run executes bot against ds and returns ds with its report filled in. Like the generic
// engine it never returns an error; panics become an EXCEPTION status.
func (r *Runner) Run(ctx context.Context, bot Bot, ds crawler.DataSource) (out crawler.DataSource) {
	started := r.clock.Now()
	src := pipeline.Source{ID: ds.ID, URL: ds.URL, Name: ds.Name}
	pacing := r.cfg.Pacing
	if ds.CrawlRate > 0 {
		pacing.Base = time.Duration(ds.CrawlRate) * time.Millisecond
	}
	run := &botRun{
		Runner:  r,
		bot:     bot,
		ds:      ds,
		src:     src,
		session: pipeline.NewSession(r.cfg.Session, src, nil, r.products, r.transport, r.clock.Now, r.logger),
		pacer:   ratelimit.New(pacing, transport.HostOf(ds.URL)),
		logger:  r.logger.With(zap.Int64("data_source_id", ds.ID), zap.String("bot_key", ds.BotKey)),
		visited: seen.New(r.cfg.Session.ExpectedItems),
	}
	defer func() {
		if rec := recover(); rec != nil {
			run.logger.Error("bot panicked", zap.Any("panic", rec), zap.Stack("stack"))
			run.fail(crawler.ReasonException, fmt.Sprintf("panic: %v", rec))
		}
		out = run.finish(ctx, started)
	}()
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	run.execute(runCtx)
	return out
}

func (b *botRun) execute(ctx context.Context) {
	bases, err := b.bot.RetrieveBaseURLs(ctx, b.ds)
	if err != nil {
		if ctx.Err() == nil {
			b.fail(crawler.ReasonInvalidRootURL, fmt.Sprintf("retrieve base urls: %v", err))
		}
		return
	}
	queue := append([]string(nil), bases...)
	var listings []string
	for indexed := 0; len(queue) > 0 && indexed < b.cfg.MaxIndexPages && b.running(ctx); indexed++ {
		next := queue[0]
		queue = queue[1:]
		if !b.visited.Add(next) {
			continue
		}
		page, ok := b.download(ctx, next)
		if !ok {
			continue
		}
		found, more, err := b.bot.GatherProductURLs(ctx, page)
		if err != nil {
			b.logger.Debug("gather product urls failed", zap.String("url", next), zap.Error(err))
			continue
		}
		listings = append(listings, found...)
		queue = append(queue, more...)
	}
	b.logger.Info("bot gathered listings", zap.Int("listings", len(listings)))

	for _, link := range listings {
		if !b.running(ctx) {
			return
		}
		if !b.visited.Add(link) || b.session.Known(link) {
			continue
		}
		page, ok := b.download(ctx, link)
		if !ok {
			continue
		}
		b.build(ctx, page)
	}
}

func (b *botRun) build(ctx context.Context, page *transport.Page) {
	p, err := b.bot.BuildProduct(ctx, b.src, page)
	if err == nil {
		if p.SourceURL == "" {
			p.SourceURL = page.FinalURL
		}
		_, err = b.session.Accept(ctx, p)
	}
	if err == nil {
		return
	}
	if errors.Is(err, pipeline.ErrStore) {
		b.fail(crawler.ReasonException, err.Error())
		return
	}
	reason := pipeline.RejectReason(err)
	metrics.ObserveRejection(reason)
	b.rejected++
	b.logger.Debug("listing rejected", zap.String("url", page.FinalURL), zap.String("reason", reason), zap.Error(err))
}

func (b *botRun) download(ctx context.Context, link string) (*transport.Page, bool) {
	if err := b.pacer.Wait(ctx); err != nil {
		return nil, false
	}
	res, err := b.transport.Download(ctx, link)
	if err != nil {
		return nil, false
	}
	b.pages++
	if code := res.Decision.StatusCode; code > 0 {
		b.pacer.Observe(code)
	}
	if res.Decision.Backoff {
		b.backoffs++
		metrics.ObserveBackoff(link)
	}
	if res.Decision.Action == transport.ActionAbortCrawl {
		b.fail(crawler.ReasonBlocked, fmt.Sprintf("%s at %s", res.Decision.Message, link))
		return nil, false
	}
	if res.Page == nil {
		if res.Decision.StatusCode != http.StatusNotFound {
			b.logger.Debug("download unusable", zap.String("url", link), zap.Int("status", res.Decision.StatusCode))
		}
		return nil, false
	}
	return res.Page, true
}

func (b *botRun) running(ctx context.Context) bool {
	return ctx.Err() == nil && b.reason == crawler.ReasonNone
}

func (b *botRun) fail(reason crawler.Reason, details string) {
	if b.reason != crawler.ReasonNone {
		return
	}
	b.reason, b.details = reason, details
	b.logger.Warn("bot aborted", zap.String("reason", string(reason)), zap.String("details", details))
}

func (b *botRun) finish(ctx context.Context, started time.Time) crawler.DataSource {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.FlushTimeout)
	defer cancel()
	if err := b.session.Flush(flushCtx); err != nil {
		b.fail(crawler.ReasonException, err.Error())
	}

	counts := b.session.Counts()
	now := b.clock.Now()
	ds := b.ds
	ds.LastRun = now
	ds.Stats = crawler.Stats{
		Pages:             b.pages,
		Rejected:          b.rejected,
		BackoffResponses:  b.backoffs,
		ProductsBuilt:     counts.Built,
		ProductsRefreshed: counts.Refreshed,
		ProductsDeleted:   counts.Deleted,
		ProductsSaved:     counts.Saved,
		Duration:          now.Sub(started),
	}
	switch {
	case ctx.Err() != nil:
		ds.Status, ds.Reason, ds.Details = crawler.StatusFailure, crawler.ReasonShutdown, "interrupted"
	case b.reason != crawler.ReasonNone:
		ds.Status, ds.Reason, ds.Details = crawler.StatusFailure, b.reason, b.details
	case ds.Stats.Products() > 0:
		ds.Status, ds.Reason, ds.Details = crawler.StatusSuccess, crawler.ReasonNone, fmt.Sprintf("%d products", ds.Stats.Products())
	default:
		ds.Status, ds.Reason, ds.Details = crawler.StatusFailure, crawler.ReasonNoProducts, "no products found"
	}
	metrics.ObserveCrawl(string(ds.Status), string(ds.Reason))
	b.logger.Info("bot finished",
		zap.String("status", string(ds.Status)),
		zap.String("reason", string(ds.Reason)),
		zap.Int("pages", ds.Stats.Pages),
		zap.Int("products", ds.Stats.Products()),
	)
	return ds
}
