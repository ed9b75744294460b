package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/JakeFAU/dealer-gatherer/internal/transport"
)

const (
	sitemapIndexLocs = "//*[local-name()='sitemap']/*[local-name()='loc']"
	sitemapPageLocs  = "//*[local-name()='url']/*[local-name()='loc']"
)

// sitemap is one parsed sitemap document: page URLs from a urlset, nested sitemap URLs
// from a sitemapindex.
type sitemap struct {
	pages  []string
	nested []string
}

func parseSitemap(body []byte) (sitemap, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return sitemap{}, fmt.Errorf("parse sitemap: %w", err)
	}
	var sm sitemap
	for _, n := range xmlquery.Find(doc, sitemapIndexLocs) {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			sm.nested = append(sm.nested, loc)
		}
	}
	for _, n := range xmlquery.Find(doc, sitemapPageLocs) {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			sm.pages = append(sm.pages, loc)
		}
	}
	return sm, nil
}

// isSitemap reports a page that is a sitemap rather than HTML: an .xml path, or a
// urlset/sitemapindex root near the top of the body.
func isSitemap(page *transport.Page) bool {
	if u, err := url.Parse(page.FinalURL); err == nil && strings.EqualFold(path.Ext(u.Path), ".xml") {
		return true
	}
	head := page.Body
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.ToLower(head)
	return bytes.Contains(head, []byte("<urlset")) || bytes.Contains(head, []byte("<sitemapindex"))
}
