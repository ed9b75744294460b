// Package collyfetcher implements transport.Transport using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/dealer-gatherer/internal/metrics"
	"github.com/JakeFAU/dealer-gatherer/internal/transport"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	// BlockMarkers are lower-cased body fragments that identify a bot-detection wall.
	BlockMarkers []string
}

// DefaultBlockMarkers covers the common challenge pages.
var DefaultBlockMarkers = []string{
	"cf-browser-verification",
	"challenge-platform",
	"px-captcha",
	"distil_r_captcha",
	"are you a human",
	"access to this page has been denied",
	"request unsuccessful. incapsula",
	"pardon our interruption",
}

// Fetcher implements transport.Transport using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Robots rules are evaluated by the caller, so the collector
// ignores robots.txt itself.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.BlockMarkers) == 0 {
		cfg.BlockMarkers = DefaultBlockMarkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)

	baseTransport := newHTTPTransport()
	c.WithTransport(baseTransport)

	return &Fetcher{
		cfg:           cfg,
		transport:     baseTransport,
		baseCollector: c,
		logger:        logger.Named("colly"),
	}
}

type capture struct {
	finalURL string
	status   int
	body     []byte
}

// Download fetches rawURL. Network failures yield a Result without a page; only
// cancellation is returned as an error.
func (f *Fetcher) Download(ctx context.Context, rawURL string) (transport.Result, error) {
	var (
		got      capture
		fetchErr error
	)
	collector := f.buildCollector(ctx)
	f.configureCollectorHooks(collector, &got, &fetchErr)

	err := f.runCollector(ctx, collector, rawURL, &fetchErr)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return transport.Result{}, fmt.Errorf("download %s: %w", rawURL, ctxErr)
	}
	if err != nil {
		f.logger.Debug("download failed", zap.String("url", rawURL), zap.Error(err))
		metrics.ObservePage(rawURL, 0, 0)
		return transport.Result{Decision: transport.Decision{
			Action:  transport.ActionProceed,
			Message: err.Error(),
		}}, nil
	}
	metrics.ObservePage(rawURL, got.status, len(got.body))
	return f.decide(rawURL, got), nil
}

func (f *Fetcher) decide(rawURL string, got capture) transport.Result {
	result := transport.Result{
		Raw: got.body,
		Decision: transport.Decision{
			Action:     transport.ActionProceed,
			StatusCode: got.status,
			Message:    http.StatusText(got.status),
			Backoff:    transport.IsBackoffStatus(got.status),
		},
	}
	if marker, blocked := f.blocked(got.body); blocked {
		result.Decision.Action = transport.ActionAbortCrawl
		result.Decision.Message = "bot detection: " + marker
		return result
	}
	if got.status < 200 || got.status >= 300 {
		return result
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(got.body))
	if err != nil {
		result.Decision.Message = fmt.Sprintf("parse body: %v", err)
		return result
	}
	finalURL := got.finalURL
	if finalURL == "" {
		finalURL = rawURL
	}
	result.Page = &transport.Page{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: got.status,
		Body:       got.body,
		Doc:        doc,
	}
	return result
}

func (f *Fetcher) blocked(body []byte) (string, bool) {
	lower := strings.ToLower(string(body))
	for _, marker := range f.cfg.BlockMarkers {
		if strings.Contains(lower, marker) {
			return marker, true
		}
	}
	return "", false
}

// Resolve follows redirects and aborts once headers arrive.
func (f *Fetcher) Resolve(ctx context.Context, rawURL string) (string, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return "", fmt.Errorf("resolve %q: %w", rawURL, err)
	}
	var (
		finalURL string
		fetchErr error
	)
	collector := f.buildCollector(ctx)
	collector.OnResponseHeaders(func(r *colly.Response) {
		finalURL = r.Request.URL.String()
		r.Request.Abort()
	})
	collector.OnError(func(_ *colly.Response, err error) {
		if !errors.Is(err, colly.ErrAbortedAfterHeaders) {
			fetchErr = err
		}
	})
	err := f.runCollector(ctx, collector, rawURL, &fetchErr)
	if err != nil && !errors.Is(err, colly.ErrAbortedAfterHeaders) {
		return "", err
	}
	if finalURL == "" {
		return "", fmt.Errorf("resolve %q: no response", rawURL)
	}
	return finalURL, nil
}

func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, got *capture, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*got = capture{
			finalURL: r.Request.URL.String(),
			status:   r.StatusCode,
			body:     append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
