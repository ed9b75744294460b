package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/dealer-gatherer/internal/extract"
	"github.com/JakeFAU/dealer-gatherer/internal/metrics"
	"github.com/JakeFAU/dealer-gatherer/internal/product"
	"github.com/JakeFAU/dealer-gatherer/internal/seen"
	"github.com/JakeFAU/dealer-gatherer/internal/transport"
)

// Config tunes a Session.
type Config struct {
	// FlushSize is the buffered record count that triggers a save.
	FlushSize int
	// SiblingFreshness is how recently a same-VIN listing from another source must have
	// been visited to skip re-validating it.
	SiblingFreshness time.Duration
	// MaxSiblings caps sibling re-validations per session.
	MaxSiblings int
	// Actor tags created/modified/visited metadata.
	Actor string
	// ExpectedItems sizes the seen-sets.
	ExpectedItems int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FlushSize:        25,
		SiblingFreshness: 72 * time.Hour,
		MaxSiblings:      20,
		Actor:            "generic-crawler",
		ExpectedItems:    5000,
	}
}

// Downloader fetches sibling listings for re-validation.
type Downloader interface {
	Download(ctx context.Context, rawURL string) (transport.Result, error)
}

// Outcome describes what CreateIfFound did with a page.
type Outcome struct {
	Product *product.Product
	// Created is true when no stored record matched.
	Created bool
	// Deleted is true when the page retired a stored record (sold listing).
	Deleted bool
}

// Counts are the session totals reported in crawl stats.
type Counts struct {
	Built     int
	Refreshed int
	Deleted   int
	Saved     int
}

// Session owns deduplication and buffered persistence for one crawl of one source.
type Session struct {
	cfg        Config
	src        Source
	builder    *Builder
	store      product.Store
	downloader Downloader
	now        func() time.Time
	logger     *zap.Logger

	identifiers *seen.Set
	vins        *seen.Set

	mu       sync.Mutex
	buffer   []*product.Product
	counts   Counts
	siblings int
}

// NewSession starts a session for src.
func NewSession(
	cfg Config,
	src Source,
	builder *Builder,
	store product.Store,
	downloader Downloader,
	now func() time.Time,
	logger *zap.Logger,
) *Session {
	def := DefaultConfig()
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = def.FlushSize
	}
	if cfg.Actor == "" {
		cfg.Actor = def.Actor
	}
	if cfg.ExpectedItems <= 0 {
		cfg.ExpectedItems = def.ExpectedItems
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:         cfg,
		src:         src,
		builder:     builder,
		store:       store,
		downloader:  downloader,
		now:         now,
		logger:      logger.Named("session").With(zap.Int64("data_source_id", src.ID)),
		identifiers: seen.New(cfg.ExpectedItems),
		vins:        seen.New(cfg.ExpectedItems),
	}
}

// Known reports whether rawURL embeds an identifier this session already handled.
func (s *Session) Known(rawURL string) bool {
	return s.identifiers.AnyContainedIn(rawURL)
}

// CreateIfFound extracts a product from page, merges it with any stored record and
// buffers it for saving. The error is a hard reject or a persistence failure.
func (s *Session) CreateIfFound(ctx context.Context, page *transport.Page) (Outcome, error) {
	if page == nil {
		return Outcome{}, fmt.Errorf("create: nil page")
	}
	pageURL := page.FinalURL
	if pageURL == "" {
		pageURL = page.URL
	}
	id, err := Identify(pageURL, page.Body)
	if err != nil {
		return Outcome{}, err
	}
	if !s.identifiers.Add(id) {
		return Outcome{}, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}

	fresh, err := s.builder.Build(ctx, s.src, page, id)
	if errors.Is(err, extract.ErrSold) {
		deleted, delErr := s.deleteByIdentity(ctx, id)
		if delErr != nil {
			return Outcome{}, delErr
		}
		return Outcome{Deleted: deleted}, err
	}
	if err != nil {
		return Outcome{}, err
	}
	return s.accept(ctx, id, fresh)
}

// Accept merges a product built outside the page pipeline, such as by a site bot, with
// any stored record and buffers it.
func (s *Session) Accept(ctx context.Context, fresh *product.Product) (Outcome, error) {
	if fresh == nil {
		return Outcome{}, fmt.Errorf("accept: nil product")
	}
	id := fresh.ListingID
	if id == "" {
		id = fresh.VIN
	}
	if id != "" && !s.identifiers.Add(id) {
		return Outcome{}, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	fresh.DataSourceID = s.src.ID
	if fresh.DealerName == "" {
		fresh.DealerName = s.src.Name
	}
	if err := fresh.Validate(); err != nil {
		return Outcome{}, err
	}
	fresh.Status = product.StatusSuccess
	return s.accept(ctx, id, fresh)
}

func (s *Session) accept(ctx context.Context, id string, fresh *product.Product) (Outcome, error) {
	if fresh.VIN != "" && !s.vins.Add(fresh.VIN) {
		return Outcome{}, fmt.Errorf("%w: vin %s", ErrDuplicate, fresh.VIN)
	}

	existing, err := s.findExisting(ctx, id, fresh.VIN)
	if err != nil {
		return Outcome{}, err
	}
	merged := product.Merge(existing, fresh, s.now(), s.cfg.Actor)
	if err := s.buffered(ctx, merged, func(c *Counts) { c.Built++ }); err != nil {
		return Outcome{}, err
	}
	metrics.ObserveProducts("built", 1)
	s.revalidateSiblings(ctx, fresh.VIN)
	return Outcome{Product: merged, Created: existing == nil}, nil
}

// Seed marks a stored product as handled without touching the store, so the crawl
// neither rebuilds nor re-queues it.
func (s *Session) Seed(p *product.Product) {
	if p == nil {
		return
	}
	if p.ListingID != "" {
		s.identifiers.Add(p.ListingID)
	}
	if p.VIN != "" {
		s.vins.Add(p.VIN)
	}
}

// Refresh re-extracts a stored product from its freshly downloaded page. A nil page or
// a failed extraction retires the record.
func (s *Session) Refresh(ctx context.Context, existing *product.Product, page *transport.Page) (bool, error) {
	if existing == nil {
		return false, fmt.Errorf("refresh: nil product")
	}
	s.Seed(existing)
	if page == nil {
		return false, s.retire(ctx, existing, "listing gone")
	}
	id := existing.ListingID
	if id == "" {
		id = existing.VIN
	}
	fresh, err := s.builder.Build(ctx, s.src, page, id)
	if err != nil {
		s.logger.Debug("refresh rejected", zap.String("url", existing.SourceURL), zap.Error(err))
		return false, s.retire(ctx, existing, err.Error())
	}
	merged := product.Merge(existing, fresh, s.now(), s.cfg.Actor)
	if err := s.buffered(ctx, merged, func(c *Counts) { c.Refreshed++ }); err != nil {
		return false, err
	}
	metrics.ObserveProducts("refreshed", 1)
	return true, nil
}

// Flush saves every buffered record.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// Identifiers is the number of distinct listing identifiers seen so far.
func (s *Session) Identifiers() int {
	return s.identifiers.Len()
}

// Counts returns the running totals.
func (s *Session) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

func (s *Session) buffered(ctx context.Context, p *product.Product, count func(*Counts)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, p)
	count(&s.counts)
	if len(s.buffer) < s.cfg.FlushSize {
		return nil
	}
	return s.flushLocked(ctx)
}

func (s *Session) flushLocked(ctx context.Context) error {
	if len(s.buffer) == 0 {
		return nil
	}
	if err := s.store.SaveAll(ctx, s.buffer); err != nil {
		s.logger.Error("save products failed", zap.Int("count", len(s.buffer)), zap.Error(err))
		return fmt.Errorf("%w: save %d products: %w", ErrStore, len(s.buffer), err)
	}
	s.counts.Saved += len(s.buffer)
	metrics.ObserveProducts("saved", len(s.buffer))
	s.buffer = nil
	return nil
}

func (s *Session) findExisting(ctx context.Context, id, vin string) (*product.Product, error) {
	existing, err := s.store.FindByIdentity(ctx, s.src.ID, id)
	if err != nil {
		return nil, fmt.Errorf("%w: find product %s: %w", ErrStore, id, err)
	}
	if existing != nil {
		return existing, nil
	}
	byVIN, err := s.store.FindByVIN(ctx, vin)
	if err != nil {
		return nil, fmt.Errorf("%w: find product by vin %s: %w", ErrStore, vin, err)
	}
	for _, p := range byVIN {
		if p.DataSourceID == s.src.ID {
			return p, nil
		}
	}
	return nil, nil
}

func (s *Session) deleteByIdentity(ctx context.Context, id string) (bool, error) {
	existing, err := s.store.FindByIdentity(ctx, s.src.ID, id)
	if err != nil {
		return false, fmt.Errorf("%w: find sold product %s: %w", ErrStore, id, err)
	}
	if existing == nil {
		return false, nil
	}
	return true, s.retire(ctx, existing, "sold")
}

func (s *Session) retire(ctx context.Context, p *product.Product, reason string) error {
	if err := s.store.DeleteByID(ctx, p.ID); err != nil {
		return fmt.Errorf("%w: delete product %d: %w", ErrStore, p.ID, err)
	}
	s.mu.Lock()
	s.counts.Deleted++
	s.mu.Unlock()
	metrics.ObserveProducts("deleted", 1)
	s.logger.Info("product retired",
		zap.Int64("product_id", p.ID),
		zap.String("vin", p.VIN),
		zap.String("reason", reason),
	)
	return nil
}

// revalidateSiblings re-downloads stale same-VIN listings held by other sources,
// refreshing the live ones and retiring the ones that are gone.
func (s *Session) revalidateSiblings(ctx context.Context, vin string) {
	if s.downloader == nil || s.cfg.MaxSiblings <= 0 {
		return
	}
	siblings, err := s.store.FindByVIN(ctx, vin)
	if err != nil {
		s.logger.Debug("sibling lookup failed", zap.String("vin", vin), zap.Error(err))
		return
	}
	cutoff := s.now().Add(-s.cfg.SiblingFreshness)
	for _, sib := range siblings {
		if sib.DataSourceID == s.src.ID || sib.SourceURL == "" || sib.VisitedAt.After(cutoff) {
			continue
		}
		if !s.claimSibling() {
			return
		}
		res, err := s.downloader.Download(ctx, sib.SourceURL)
		if err != nil {
			return
		}
		if err := s.revalidate(ctx, sib, res); err != nil {
			s.logger.Error("revalidate sibling failed", zap.Int64("product_id", sib.ID), zap.Error(err))
		}
	}
}

func (s *Session) revalidate(ctx context.Context, sib *product.Product, res transport.Result) error {
	if res.Page == nil {
		code := res.Decision.StatusCode
		if code != http.StatusNotFound && code != http.StatusGone {
			return nil
		}
		return s.retire(ctx, sib, "sibling listing gone")
	}
	id := sib.ListingID
	if id == "" {
		id = sib.VIN
	}
	src := Source{ID: sib.DataSourceID, URL: sib.DealerURL, Name: sib.DealerName}
	fresh, err := s.builder.Build(ctx, src, res.Page, id)
	if err != nil {
		s.logger.Debug("sibling rejected", zap.String("url", sib.SourceURL), zap.Error(err))
		return s.retire(ctx, sib, err.Error())
	}
	if !strings.EqualFold(fresh.VIN, sib.VIN) {
		return s.retire(ctx, sib, "sibling listing shows another vehicle")
	}
	merged := product.Merge(sib, fresh, s.now(), s.cfg.Actor)
	if err := s.buffered(ctx, merged, func(c *Counts) { c.Refreshed++ }); err != nil {
		return err
	}
	metrics.ObserveProducts("refreshed", 1)
	return nil
}

func (s *Session) claimSibling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.siblings >= s.cfg.MaxSiblings {
		return false
	}
	s.siblings++
	return true
}
