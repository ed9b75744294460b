package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/dealer-gatherer/internal/pipeline"
	"github.com/JakeFAU/dealer-gatherer/internal/product"
	"github.com/JakeFAU/dealer-gatherer/internal/transport"
)

// Deps are the collaborators an Engine drives.
type Deps struct {
	Transport transport.Transport
	Builder   *pipeline.Builder
	Products  product.Store
	Sources   SourceStore
	// Blobs receives raw snapshots of blocked pages; nil disables snapshots.
	Blobs    BlobStore
	Clock    Clock
	IDs      IDGenerator
	Strategy Strategy
}

// Engine executes GATHER and BUILD work orders with the generic crawler.
type Engine struct {
	cfg     Config
	deps    Deps
	blocked hostBlocklist
	logger  *zap.Logger
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// New constructs an Engine.
func New(cfg Config, deps Deps, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	if deps.Strategy == nil {
		deps.Strategy = AutomotiveStrategy{}
	}
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:     cfg,
		deps:    deps,
		blocked: newHostBlocklist(cfg.BlockedDomains),
		logger:  logger.Named("engine"),
	}
}

// Gather crawls ds and returns it with Status, Reason, Details, LastRun and Stats set.
// It never panics and never returns an error; failures are reported through the status.
func (e *Engine) Gather(ctx context.Context, ds DataSource) DataSource {
	r := e.newRun(ctx, ds)
	defer r.cancel()
	return r.guard(r.gather)
}

// Build downloads each of urls directly and builds products from them.
func (e *Engine) Build(ctx context.Context, ds DataSource, urls []string) DataSource {
	r := e.newRun(ctx, ds)
	defer r.cancel()
	return r.guard(func() { r.build(urls) })
}

func (r *run) build(urls []string) {
	r.state("BUILDING")
	if len(urls) == 0 {
		r.abort(ReasonNoProducts, "no urls to work")
		return
	}
	first, err := url.Parse(strings.TrimSpace(urls[0]))
	if err != nil || first.Host == "" {
		r.abort(ReasonInvalidRootURL, fmt.Sprintf("invalid url %q", urls[0]))
		return
	}
	r.setRoot(first)
	for _, raw := range urls {
		if r.stopped() {
			return
		}
		link, err := NormalizeURL(strings.TrimSpace(raw))
		if err != nil || !r.visited.Add(link) {
			continue
		}
		res, ok := r.download(link)
		if !ok || res.Page == nil {
			continue
		}
		r.extract(res.Page)
	}
}

func (e *Engine) runID() string {
	if e.deps.IDs == nil {
		return ""
	}
	id, err := e.deps.IDs.NewID()
	if err != nil {
		e.logger.Warn("run id generation failed", zap.Error(err))
		return ""
	}
	return id
}
