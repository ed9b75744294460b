package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/dealer-gatherer/internal/abort"
	"github.com/JakeFAU/dealer-gatherer/internal/frontier"
	"github.com/JakeFAU/dealer-gatherer/internal/metrics"
	"github.com/JakeFAU/dealer-gatherer/internal/pipeline"
	"github.com/JakeFAU/dealer-gatherer/internal/policy/ratelimit"
	"github.com/JakeFAU/dealer-gatherer/internal/seen"
	"github.com/JakeFAU/dealer-gatherer/internal/transport"
)

// run is the state of one work order.
type run struct {
	e       *Engine
	ds      DataSource
	id      string
	logger  *zap.Logger
	started time.Time

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	root  *url.URL
	host  string
	rules transport.RobotRules
	pacer *ratelimit.Pacer

	frontier    *frontier.Frontier
	visited     *seen.Set
	session     *pipeline.Session
	productStep *abort.Staircase
	idStep      *abort.Staircase
	backoff     *abort.Window

	mu            sync.Mutex
	reason        Reason
	details       string
	pages         int
	rejected      int
	backoffs      int
	robotsDeleted int

	active   atomic.Int32
	sitemaps atomic.Int32
	wake     chan struct{}
}

func (e *Engine) newRun(parent context.Context, ds DataSource) *run {
	ctx, cancel := context.WithTimeout(parent, e.cfg.Timeout)
	id := e.runID()
	logger := e.logger.With(zap.Int64("data_source_id", ds.ID), zap.String("run_id", id))
	r := &run{
		e:           e,
		ds:          ds,
		id:          id,
		logger:      logger,
		started:     e.deps.Clock.Now(),
		parent:      parent,
		ctx:         ctx,
		cancel:      cancel,
		rules:       transport.RobotRules{},
		frontier:    frontier.New(e.cfg.Frontier, e.deps.Strategy.ParentScore, e.deps.Strategy.EdgeScore),
		visited:     seen.New(e.cfg.Frontier.MaxEdges * 4),
		productStep: abort.NewStaircase(e.cfg.AbortSteps),
		idStep:      abort.NewStaircase(e.cfg.IdentifierSteps),
		backoff:     abort.NewWindow(e.cfg.BackoffLimit, e.cfg.BackoffWindow),
		wake:        make(chan struct{}, 1),
	}
	r.session = pipeline.NewSession(
		e.cfg.Session,
		pipeline.Source{ID: ds.ID, URL: ds.URL, Name: ds.Name},
		e.deps.Builder,
		e.deps.Products,
		e.deps.Transport,
		e.deps.Clock.Now,
		logger,
	)
	return r
}

// guard runs fn and converts any panic into an EXCEPTION report.
func (r *run) guard(fn func()) (out DataSource) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("crawl panicked", zap.Any("panic", rec), zap.Stack("stack"))
			r.abort(ReasonException, fmt.Sprintf("panic: %v", rec))
			out = r.finish()
		}
	}()
	fn()
	return r.finish()
}

func (r *run) gather() {
	if !r.validateRoot() || !r.checkRobots() {
		return
	}
	r.revisit()
	if r.stopped() {
		return
	}
	r.seed()
	r.crawl()
}

func (r *run) state(name string) {
	r.logger.Info("crawl state", zap.String("state", name), zap.String("url", r.ds.URL))
}

func (r *run) setRoot(u *url.URL) {
	r.root = u
	r.host = transport.HostOf(u.String())
	pacing := r.e.cfg.Pacing
	if r.ds.CrawlRate > 0 {
		pacing.Base = time.Duration(r.ds.CrawlRate) * time.Millisecond
	}
	r.pacer = ratelimit.New(pacing, r.host)
}

func (r *run) validateRoot() bool {
	r.state("VALIDATING_ROOT")
	u, err := url.Parse(strings.TrimSpace(r.ds.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		r.abort(ReasonInvalidRootURL, fmt.Sprintf("invalid root url %q", r.ds.URL))
		return false
	}
	if r.e.blocked.Blocked(u.Hostname()) {
		r.abort(ReasonInvalidRootURL, fmt.Sprintf("root host %s is blocked", u.Hostname()))
		return false
	}

	final, err := r.e.deps.Transport.Resolve(r.ctx, u.String())
	if err != nil {
		if r.ctx.Err() == nil {
			r.abort(ReasonInvalidRootURL, fmt.Sprintf("resolve root: %v", err))
		}
		return false
	}
	finalURL, err := url.Parse(final)
	if err != nil || finalURL.Host == "" {
		r.abort(ReasonInvalidRootURL, fmt.Sprintf("root redirected to invalid url %q", final))
		return false
	}
	if transport.HostOf(final) != transport.HostOf(u.String()) {
		if r.e.deps.Sources != nil {
			exists, err := r.e.deps.Sources.ExistsAtURL(r.ctx, final, r.ds.ID)
			if err != nil {
				r.logger.Warn("duplicate source check failed", zap.String("url", final), zap.Error(err))
			}
			if exists {
				r.abort(ReasonDuplicate, fmt.Sprintf("root redirects to %s which another data source covers", final))
				return false
			}
		}
		r.logger.Info("root redirected", zap.String("from", r.ds.URL), zap.String("to", final))
		r.ds.URL = rootOf(finalURL)
	}
	r.setRoot(finalURL)
	return true
}

func (r *run) checkRobots() bool {
	r.state("CHECKING_ROBOTS")
	rules, err := r.e.deps.Transport.DownloadRobotRules(r.ctx, rootOf(r.root))
	if err != nil {
		return false
	}
	switch {
	case rules.Defer:
		r.abort(ReasonRobotsTxt, "robots.txt unavailable, crawl deferred")
		return false
	case rules.AllowNone:
		removed := r.removeAllProducts()
		r.abort(ReasonRobotsTxt, fmt.Sprintf("robots.txt disallows crawling, %d products removed", removed))
		return false
	}
	r.rules = rules
	if rules.CrawlDelay > 0 {
		r.pacer.SetCrawlDelay(rules.CrawlDelay)
		r.logger.Info("crawl delay applied", zap.Duration("delay", rules.CrawlDelay))
	}
	return true
}

func (r *run) removeAllProducts() int {
	existing, err := r.e.deps.Products.FindBySource(r.ctx, r.ds.ID)
	if err != nil {
		r.logger.Error("load products for removal failed", zap.Error(err))
		return 0
	}
	if len(existing) == 0 {
		return 0
	}
	ids := make([]int64, 0, len(existing))
	for _, p := range existing {
		ids = append(ids, p.ID)
	}
	if err := r.e.deps.Products.DeleteAllByID(r.ctx, ids); err != nil {
		r.logger.Error("remove products failed", zap.Int("count", len(ids)), zap.Error(err))
		return 0
	}
	metrics.ObserveProducts("deleted", len(ids))
	r.mu.Lock()
	r.robotsDeleted += len(ids)
	r.mu.Unlock()
	return len(ids)
}

// revisit refreshes every stored product of the source before new links are explored.
func (r *run) revisit() {
	r.state("REVISITING")
	existing, err := r.e.deps.Products.FindBySource(r.ctx, r.ds.ID)
	if err != nil {
		r.logger.Error("load known products failed", zap.Error(err))
		return
	}
	for _, p := range existing {
		if r.stopped() {
			r.session.Seed(p)
			continue
		}
		link := p.SourceURL
		if link == "" || !r.rules.IsAllowed(link) {
			r.session.Seed(p)
			continue
		}
		r.visited.Add(link)
		res, ok := r.download(link)
		if !ok {
			r.session.Seed(p)
			continue
		}
		page := res.Page
		if page == nil && !gone(res.Decision.StatusCode) {
			r.session.Seed(p)
			continue
		}
		if page != nil {
			r.visited.Add(page.FinalURL)
		}
		if _, err := r.session.Refresh(r.ctx, p, page); err != nil {
			r.storeFailed(err)
		}
	}
}

func gone(status int) bool {
	return status == http.StatusNotFound || status == http.StatusGone
}

// seed fills the frontier from the sitemaps and the root page. The root page is left
// to the frontier when a sitemap already lists it.
func (r *run) seed() {
	r.state("SEEDING")
	sitemaps := r.rules.Sitemaps
	if len(sitemaps) == 0 {
		sitemaps = []string{rootOf(r.root) + "/sitemap.xml"}
	}
	var links []string
	queue := append([]string(nil), sitemaps...)
	for len(queue) > 0 && !r.stopped() {
		next := queue[0]
		queue = queue[1:]
		if !r.claimSitemap() {
			break
		}
		r.visited.Add(next)
		res, ok := r.download(next)
		if !ok || res.Page == nil {
			continue
		}
		sm, err := parseSitemap(res.Page.Body)
		if err != nil {
			r.logger.Debug("sitemap unreadable", zap.String("url", next), zap.Error(err))
			continue
		}
		queue = append(queue, sm.nested...)
		for _, loc := range sm.pages {
			if len(links) >= r.e.cfg.MaxSitemapURLs {
				break
			}
			if link, ok := resolveLink(r.root, loc); ok && r.shouldVisit(link) {
				links = append(links, link)
			}
		}
	}
	rootURL := r.root.String()
	covered := false
	if len(links) > 0 {
		links = dedupe(links)
		covered = containsRoot(links, rootURL)
		added := r.frontier.Add(sitemaps[0], links)
		r.logger.Info("sitemap seeded", zap.Int("links", len(links)), zap.Int("queued", added), zap.Bool("root_listed", covered))
	}

	if r.stopped() || covered {
		return
	}
	r.visited.Add(rootURL)
	if res, ok := r.download(rootURL); ok && res.Page != nil {
		r.process(res.Page)
	}
}

func (r *run) claimSitemap() bool {
	return int(r.sitemaps.Add(1)) <= r.e.cfg.MaxSitemaps
}

func containsRoot(links []string, rootURL string) bool {
	want, err := NormalizeURL(rootURL)
	if err != nil {
		return false
	}
	want = strings.TrimSuffix(want, "/")
	for _, l := range links {
		if strings.EqualFold(strings.TrimSuffix(l, "/"), want) {
			return true
		}
	}
	return false
}

// crawl drains the frontier with a bounded pool until it is exhausted or the run stops.
func (r *run) crawl() {
	r.state("CRAWLING")
	sem := semaphore.NewWeighted(int64(r.e.cfg.PoolSize))
	var wg sync.WaitGroup
	var jobs []*claim
	for !r.stopped() {
		jobs = r.sendBackup(&wg, sem, jobs)
		backlog, ok := r.frontier.Claim()
		if !ok {
			if r.active.Load() == 0 {
				break
			}
			select {
			case <-r.wake:
			case <-r.ctx.Done():
			}
			continue
		}
		if err := sem.Acquire(r.ctx, 1); err != nil {
			break
		}
		job := &claim{Backlog: backlog}
		r.launch(&wg, sem, job)
		jobs = append(jobs, job)
	}
	r.drain(&wg)
}

// sendBackup puts spare pool slots on running parents whose backlog is past the helper
// threshold. It returns the parents still being worked.
func (r *run) sendBackup(wg *sync.WaitGroup, sem *semaphore.Weighted, jobs []*claim) []*claim {
	live := jobs[:0]
	spare := true
	for _, job := range jobs {
		if job.completed.Load() || job.workers.Load() == 0 {
			continue
		}
		live = append(live, job)
		for spare && job.helpers < r.e.cfg.MaxHelpers && job.Len() > r.e.cfg.HelperThreshold {
			if !sem.TryAcquire(1) {
				spare = false
				break
			}
			job.helpers++
			r.logger.Debug("sending backup", zap.String("parent", job.Parent()), zap.Int("backlog", job.Len()))
			r.launch(wg, sem, job)
		}
	}
	return live
}

// claim is a parent backlog shared by its worker and helpers. The last one out
// reports the parent complete.
type claim struct {
	*frontier.Backlog
	workers   atomic.Int32
	found     atomic.Bool
	completed atomic.Bool
	// helpers is only touched by the crawl loop.
	helpers int
}

func (r *run) launch(wg *sync.WaitGroup, sem *semaphore.Weighted, job *claim) {
	wg.Add(1)
	r.active.Add(1)
	job.workers.Add(1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("crawl worker panicked", zap.Any("panic", rec), zap.Stack("stack"))
				r.abort(ReasonException, fmt.Sprintf("panic: %v", rec))
			}
			if job.workers.Add(-1) == 0 && job.completed.CompareAndSwap(false, true) {
				r.frontier.CompleteParent(job.found.Load())
			}
			sem.Release(1)
			r.active.Add(-1)
			wg.Done()
			r.signal()
		}()
		for !r.stopped() {
			link, ok := job.Next()
			if !ok {
				return
			}
			if r.visit(link) {
				job.found.Store(true)
			}
		}
	}()
}

func (r *run) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// drain waits up to half the work-order timeout for in-flight workers.
func (r *run) drain(wg *sync.WaitGroup) {
	r.state("DRAINING")
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(r.e.cfg.Timeout / 2)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		r.logger.Warn("drain timed out with workers still running", zap.Int32("active", r.active.Load()))
	}
}

// visit downloads one frontier link and processes it. It reports whether a product was found.
func (r *run) visit(link string) bool {
	if !r.visited.Add(link) {
		return false
	}
	res, ok := r.download(link)
	if !ok || res.Page == nil {
		return false
	}
	if final := res.Page.FinalURL; final != link {
		if transport.HostOf(final) != r.host {
			return false
		}
		r.visited.Add(final)
	}
	if isSitemap(res.Page) {
		r.followSitemap(res.Page)
		return false
	}
	return r.process(res.Page)
}

// followSitemap folds the entries of a sitemap met during the crawl back into the
// frontier, nested sitemaps included.
func (r *run) followSitemap(page *transport.Page) {
	if !r.claimSitemap() {
		r.logger.Debug("sitemap limit reached", zap.String("url", page.FinalURL))
		return
	}
	sm, err := parseSitemap(page.Body)
	if err != nil {
		r.logger.Debug("sitemap unreadable", zap.String("url", page.FinalURL), zap.Error(err))
		return
	}
	base, err := url.Parse(page.FinalURL)
	if err != nil {
		return
	}
	var links []string
	for _, loc := range append(sm.nested, sm.pages...) {
		if len(links) >= r.e.cfg.MaxSitemapURLs {
			break
		}
		if link, ok := resolveLink(base, loc); ok && r.shouldVisit(link) {
			links = append(links, link)
		}
	}
	if len(links) > 0 && r.frontier.Add(page.FinalURL, dedupe(links)) > 0 {
		r.signal()
	}
}

// process runs the pipeline on page and folds its links back into the frontier.
func (r *run) process(page *transport.Page) bool {
	found := r.extract(page)
	if links := r.links(page); len(links) > 0 {
		if r.frontier.Add(page.FinalURL, links) > 0 {
			r.signal()
		}
	}
	r.checkYield()
	return found
}

func (r *run) extract(page *transport.Page) bool {
	out, err := r.session.CreateIfFound(r.ctx, page)
	if err == nil {
		r.logger.Debug("product built",
			zap.String("url", page.FinalURL),
			zap.String("vin", out.Product.VIN),
			zap.String("title", out.Product.Title()),
			zap.Bool("created", out.Created),
		)
		return true
	}
	if errors.Is(err, pipeline.ErrStore) {
		r.storeFailed(err)
		return false
	}
	reason := pipeline.RejectReason(err)
	metrics.ObserveRejection(reason)
	if !errors.Is(err, pipeline.ErrNoIdentifier) {
		r.mu.Lock()
		r.rejected++
		r.mu.Unlock()
	}
	r.logger.Debug("page rejected", zap.String("url", page.FinalURL), zap.String("reason", reason), zap.Error(err))
	return false
}

func (r *run) storeFailed(err error) {
	if !errors.Is(err, pipeline.ErrStore) {
		return
	}
	r.logger.Error("product store failed", zap.Error(err))
	r.abort(ReasonException, err.Error())
}

func (r *run) checkYield() {
	elapsed := r.e.deps.Clock.Now().Sub(r.started)
	if ids := r.session.Identifiers(); r.idStep.ShouldAbort(ids, elapsed) {
		r.abort(ReasonNoProducts, fmt.Sprintf("%d listings identified after %s", ids, elapsed.Round(time.Second)))
		return
	}
	counts := r.session.Counts()
	if built := counts.Built + counts.Refreshed; r.productStep.ShouldAbort(built, elapsed) {
		r.abort(ReasonNoProducts, fmt.Sprintf("%d products after %s", built, elapsed.Round(time.Second)))
	}
}

// links returns the page's crawlable links, normalized and de-duplicated.
func (r *run) links(page *transport.Page) []string {
	base, err := url.Parse(page.FinalURL)
	if err != nil {
		return nil
	}
	var out []string
	page.Doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		link, ok := resolveLink(base, href)
		if ok && r.shouldVisit(link) {
			out = append(out, link)
		}
	})
	return dedupe(out)
}

// shouldVisit filters a normalized absolute link.
func (r *run) shouldVisit(link string) bool {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return false
	}
	switch {
	case transport.HostOf(link) != r.host:
		return false
	case r.visited.Contains(link):
		return false
	case r.e.deps.Strategy.Avoid(link):
		return false
	case r.session.Known(link):
		return false
	case hasNonWebpageExtension(u), embedsURL(u):
		return false
	case !r.rules.IsAllowed(link):
		return false
	}
	return true
}

// download paces, fetches and screens one URL. ok is false when the run should not use
// the result: cancellation, or a block that aborted the crawl.
func (r *run) download(link string) (transport.Result, bool) {
	if err := r.pacer.Wait(r.ctx); err != nil {
		return transport.Result{}, false
	}
	res, err := r.e.deps.Transport.Download(r.ctx, link)
	if err != nil {
		return transport.Result{}, false
	}
	r.mu.Lock()
	r.pages++
	r.mu.Unlock()
	if res.Decision.StatusCode > 0 {
		r.pacer.Observe(res.Decision.StatusCode)
	}
	if res.Decision.Backoff {
		r.noteBackoff(link, res.Decision.StatusCode)
	}
	if res.Decision.Action == transport.ActionAbortCrawl {
		r.blocked(link, res)
		return res, false
	}
	return res, true
}

func (r *run) noteBackoff(link string, status int) {
	metrics.ObserveBackoff(link)
	r.mu.Lock()
	r.backoffs++
	r.mu.Unlock()
	if r.backoff.Record(r.e.deps.Clock.Now()) {
		r.abort(ReasonBackoff, fmt.Sprintf("%d backoff responses within %s, last %d from %s",
			r.e.cfg.BackoffLimit, r.e.cfg.BackoffWindow, status, link))
	}
}

// blocked records a bot-detection wall, snapshotting the raw body when a blob store is set.
func (r *run) blocked(link string, res transport.Result) {
	details := fmt.Sprintf("%s at %s", res.Decision.Message, link)
	if uri := r.snapshot(res.Raw); uri != "" {
		details += ", snapshot " + uri
	}
	r.abort(ReasonBlocked, details)
}

func (r *run) snapshot(raw []byte) string {
	if r.e.deps.Blobs == nil || len(raw) == 0 {
		return ""
	}
	name := r.id
	if name == "" {
		name = r.started.Format("20060102T150405")
	}
	key := path.Join(r.e.cfg.SnapshotPrefix, fmt.Sprint(r.ds.ID), name+".html")
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.e.cfg.FlushTimeout)
	defer cancel()
	uri, err := r.e.deps.Blobs.PutObject(ctx, key, "text/html; charset=utf-8", bytes.NewReader(raw))
	if err != nil {
		r.logger.Warn("snapshot failed", zap.String("path", key), zap.Error(err))
		return ""
	}
	return uri
}

// abort records the first fatal reason and stops the crawl.
func (r *run) abort(reason Reason, details string) {
	r.mu.Lock()
	first := r.reason == ReasonNone
	if first {
		r.reason = reason
		r.details = details
	}
	r.mu.Unlock()
	if first {
		r.logger.Warn("crawl aborted", zap.String("reason", string(reason)), zap.String("details", details))
	}
	r.cancel()
}

func (r *run) stopped() bool {
	return r.ctx.Err() != nil
}

// finish flushes buffered products and builds the report.
func (r *run) finish() DataSource {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.parent), r.e.cfg.FlushTimeout)
	defer cancel()
	if err := r.session.Flush(ctx); err != nil {
		r.logger.Error("final flush failed", zap.Error(err))
		r.abort(ReasonException, err.Error())
	}

	counts := r.session.Counts()
	now := r.e.deps.Clock.Now()
	r.mu.Lock()
	reason, details := r.reason, r.details
	stats := Stats{
		RunID:             r.id,
		Pages:             r.pages,
		Rejected:          r.rejected,
		BackoffResponses:  r.backoffs,
		ProductsBuilt:     counts.Built,
		ProductsRefreshed: counts.Refreshed,
		ProductsDeleted:   counts.Deleted + r.robotsDeleted,
		ProductsSaved:     counts.Saved,
		MaxDepth:          r.frontier.Stats().MaxDepth,
		Duration:          now.Sub(r.started),
	}
	r.mu.Unlock()

	ds := r.ds
	ds.Stats = stats
	ds.LastRun = now
	switch {
	case r.parent.Err() != nil:
		ds.Status, ds.Reason, ds.Details = StatusFailure, ReasonShutdown, "interrupted"
	case reason != ReasonNone:
		ds.Status, ds.Reason, ds.Details = StatusFailure, reason, details
	case stats.Products() > 0:
		ds.Status, ds.Reason, ds.Details = StatusSuccess, ReasonNone, fmt.Sprintf("%d products", stats.Products())
	default:
		ds.Status, ds.Reason, ds.Details = StatusFailure, ReasonNoProducts, "no products found"
	}
	metrics.ObserveCrawl(string(ds.Status), string(ds.Reason))
	r.logger.Info("crawl finished",
		zap.String("status", string(ds.Status)),
		zap.String("reason", string(ds.Reason)),
		zap.Int("pages", stats.Pages),
		zap.Int("products", stats.Products()),
		zap.Duration("duration", stats.Duration),
	)
	return ds
}

func dedupe(links []string) []string {
	seenLinks := make(map[string]struct{}, len(links))
	out := links[:0]
	for _, l := range links {
		key := strings.ToLower(l)
		if _, dup := seenLinks[key]; dup {
			continue
		}
		seenLinks[key] = struct{}{}
		out = append(out, l)
	}
	return out
}
