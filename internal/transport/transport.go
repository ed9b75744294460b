// Package transport defines the download collaborator the crawl engine drives, and the
// robots.txt rules it consumes.
package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/temoto/robotstxt"
)

// Action tells the engine whether to keep crawling after a download.
type Action string

// Download actions.
const (
	ActionProceed    Action = "PROCEED"
	ActionAbortCrawl Action = "ABORT_CRAWL"
)

// Decision is the transport's verdict on one download.
type Decision struct {
	Action     Action
	StatusCode int
	Message    string
	// Backoff marks a backoff-class HTTP status (429, 5xx gateway family).
	Backoff bool
}

// Page is a successfully parsed HTML (or XML) response.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Doc        *goquery.Document
}

// Host returns the lower-cased host of the final URL.
func (p *Page) Host() string {
	return HostOf(p.FinalURL)
}

// Result bundles the page (nil when unusable), the decision and the raw body kept for
// diagnostics.
type Result struct {
	Page     *Page
	Decision Decision
	Raw      []byte
}

// RobotRules are the crawl permissions for one site.
type RobotRules struct {
	// AllowNone means the site disallows everything for our agent.
	AllowNone bool
	// Defer means robots.txt could not be evaluated now; try again later.
	Defer      bool
	CrawlDelay time.Duration
	Sitemaps   []string
	Allow      func(rawURL string) bool
}

// IsAllowed reports whether rawURL may be fetched.
func (r RobotRules) IsAllowed(rawURL string) bool {
	if r.AllowNone {
		return false
	}
	if r.Allow == nil {
		return true
	}
	return r.Allow(rawURL)
}

// Transport downloads pages on behalf of the crawl engine. Errors are returned only for
// cancellation; fetch failures surface as a Result with a nil Page.
type Transport interface {
	// Resolve follows redirects for rawURL without downloading a body and returns the final URL.
	Resolve(ctx context.Context, rawURL string) (string, error)
	Download(ctx context.Context, rawURL string) (Result, error)
	DownloadRobotRules(ctx context.Context, root string) (RobotRules, error)
}

// IsBackoffStatus reports whether code asks the client to slow down.
func IsBackoffStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout, 509, 520, 521, 522, 523, 524:
		return true
	}
	return false
}

// HostOf returns the lower-cased host of rawURL without a leading "www.".
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Paths probed to tell "Disallow: /" with carve-outs from a blanket disallow.
var allowProbes = []string{"/", "/inventory", "/used", "/new", "/vehicle", "/cars", "/sitemap.xml"}

// ParseRobots turns a robots.txt response into rules for userAgent. Server errors and
// 429 defer the crawl; other client errors mean no restrictions.
func ParseRobots(status int, body []byte, userAgent string) RobotRules {
	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return RobotRules{Defer: true}
	case status >= http.StatusBadRequest:
		return RobotRules{}
	}
	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return RobotRules{}
	}
	group := data.FindGroup(userAgent)
	if group == nil {
		return RobotRules{Sitemaps: data.Sitemaps}
	}
	allowNone := true
	for _, p := range allowProbes {
		if group.Test(p) {
			allowNone = false
			break
		}
	}
	return RobotRules{
		AllowNone:  allowNone,
		CrawlDelay: group.CrawlDelay,
		Sitemaps:   data.Sitemaps,
		Allow: func(rawURL string) bool {
			u, err := url.Parse(rawURL)
			if err != nil {
				return false
			}
			path := u.EscapedPath()
			if path == "" {
				path = "/"
			}
			if u.RawQuery != "" {
				path += "?" + u.RawQuery
			}
			return group.Test(path)
		},
	}
}
