// Package inventory is a site bot for dealer sites built on the common inventory
// platforms: search pages under a handful of well-known paths, listing pages whose URL
// carries a VIN or a year-make-model slug, and rel=next pagination.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/dealer-gatherer/internal/bots"
	"github.com/JakeFAU/dealer-gatherer/internal/crawler"
	"github.com/JakeFAU/dealer-gatherer/internal/pipeline"
	"github.com/JakeFAU/dealer-gatherer/internal/product"
	"github.com/JakeFAU/dealer-gatherer/internal/transport"
)

// Key selects this bot through DataSource.BotKey.
const Key = "dealer-inventory"

// DefaultPaths are the search pages tried on every site.
var DefaultPaths = []string{
	"/used-inventory/",
	"/new-inventory/",
	"/certified-inventory/",
	"/used-vehicles/",
	"/new-vehicles/",
}

var (
	vinInPath  = regexp.MustCompile(`(?i)(?:^|[/_=-])[a-hj-npr-z0-9]{17}(?:[/_.&-]|$)`)
	detailPath = regexp.MustCompile(`(?i)/(?:vehicle-details|vehicle-info|vdp)/|/(?:used|new|certified)-(?:19|20)\d{2}-`)
	nextText   = regexp.MustCompile(`(?i)^(?:next|next page|›|»|>)$`)
)

// Bot implements bots.Bot.
type Bot struct {
	builder *pipeline.Builder
	paths   []string
	logger  *zap.Logger
}

// New is the bots.Factory for this bot.
func New(deps bots.Deps) bots.Bot {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{builder: deps.Builder, paths: DefaultPaths, logger: logger.Named(Key)}
}

// Register adds the bot to r under Key.
func Register(r *bots.Registry) error {
	return r.Register(Key, New)
}

// RetrieveBaseURLs returns the search pages on the data source's host.
func (b *Bot) RetrieveBaseURLs(_ context.Context, ds crawler.DataSource) ([]string, error) {
	u, err := url.Parse(strings.TrimSpace(ds.URL))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("data source url %q is not absolute", ds.URL)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	out := make([]string, 0, len(b.paths))
	for _, p := range b.paths {
		out = append(out, scheme+"://"+u.Host+p)
	}
	return out, nil
}

// GatherProductURLs collects same-host listing links and the pagination links of one
// search page.
func (b *Bot) GatherProductURLs(_ context.Context, page *transport.Page) ([]string, []string, error) {
	if page == nil || page.Doc == nil {
		return nil, nil, errors.New("empty search page")
	}
	base, err := url.Parse(pageURL(page))
	if err != nil {
		return nil, nil, fmt.Errorf("parse page url: %w", err)
	}
	var listings, next []string
	seenLinks := make(map[string]struct{})
	page.Doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		link, ok := resolve(base, s.AttrOr("href", ""))
		if !ok {
			return
		}
		if isNext(s) {
			next = appendUnique(next, seenLinks, "next:"+link, link)
			return
		}
		if IsListing(link) {
			listings = appendUnique(listings, seenLinks, link, link)
		}
	})
	b.logger.Debug("search page scanned",
		zap.String("url", base.String()),
		zap.Int("listings", len(listings)),
		zap.Int("next", len(next)),
	)
	return listings, next, nil
}

// BuildProduct extracts the listing with the shared product builder.
func (b *Bot) BuildProduct(ctx context.Context, src pipeline.Source, page *transport.Page) (*product.Product, error) {
	if b.builder == nil {
		return nil, errors.New("inventory bot has no product builder")
	}
	p, err := b.builder.Extract(ctx, src, page)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", pageURL(page), err)
	}
	return p, nil
}

// IsListing reports whether rawURL looks like a vehicle detail page.
func IsListing(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	target := u.EscapedPath()
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return detailPath.MatchString(target) || vinInPath.MatchString(target)
}

func isNext(s *goquery.Selection) bool {
	if rel, _ := s.Attr("rel"); strings.EqualFold(strings.TrimSpace(rel), "next") {
		return true
	}
	if label, _ := s.Attr("aria-label"); strings.EqualFold(strings.TrimSpace(label), "next page") {
		return true
	}
	return nextText.MatchString(strings.TrimSpace(s.Text()))
}

func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if transport.HostOf(abs.String()) != transport.HostOf(base.String()) {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

func appendUnique(dst []string, seenLinks map[string]struct{}, key, link string) []string {
	if _, ok := seenLinks[key]; ok {
		return dst
	}
	seenLinks[key] = struct{}{}
	return append(dst, link)
}

func pageURL(page *transport.Page) string {
	if page.FinalURL != "" {
		return page.FinalURL
	}
	return page.URL
}
