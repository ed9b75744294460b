package crawler

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/dealer-gatherer/internal/catalog"
)

// Strategy customises link ranking and filtering for a family of sites.
type Strategy interface {
	// ParentScore ranks a page as a source of further links.
	ParentScore(rawURL string) int
	// EdgeScore ranks a link for visiting.
	EdgeScore(rawURL string) int
	// Avoid rejects links that never lead to listings.
	Avoid(rawURL string) bool
}

// AutomotiveStrategy favours inventory listings and search result pages on dealer sites.
type AutomotiveStrategy struct {
	// ExtraAvoid is appended to the built-in avoid keywords.
	ExtraAvoid []string
}

var (
	inventoryTokens = []string{
		"inventory", "used", "new", "pre-owned", "preowned", "certified", "vehicle", "vehicles",
		"detail", "details", "vdp", "cars", "trucks", "suv", "search", "listing", "stock",
	}
	paginationTokens = []string{"page=", "/page/", "pg=", "start=", "offset=", "pagenum"}
	avoidKeywords    = []string{
		"login", "logout", "signin", "sign-in", "register", "account", "cart", "privacy", "terms",
		"career", "careers", "employment", "jobs", "blog", "news", "event", "events",
		"service", "services", "parts", "accessory", "accessories", "finance", "financing",
		"credit", "apply", "lease-special", "lease-specials", "trade", "trade-in", "value-your",
		"compare", "print", "schedule", "appointment", "coupon", "coupons", "review", "reviews",
		"testimonial", "testimonials", "about-us", "contact", "contact-us", "feed", "rss",
		"facebook", "twitter", "instagram", "youtube", "wp-admin", "wp-json", "cdn-cgi",
		"calculator", "calculators", "share", "email-friend",
	}
	listingIDPattern = regexp.MustCompile(`(?i)(?:\d{6,}|[a-hj-npr-z0-9]{17})`)
)

// ParentScore prefers sitemaps and pages that list many vehicles.
func (s AutomotiveStrategy) ParentScore(rawURL string) int {
	lower := strings.ToLower(rawURL)
	score := 0
	for _, tok := range inventoryTokens {
		if strings.Contains(lower, tok) {
			score += 2
		}
	}
	for _, tok := range paginationTokens {
		if strings.Contains(lower, tok) {
			score += 4
		}
	}
	if strings.Contains(lower, "sitemap") {
		score += 6
	}
	if listingIDPattern.MatchString(pathOf(rawURL)) {
		score -= 3
	}
	return score
}

// EdgeScore prefers links that look like a single listing, then inventory pages.
func (s AutomotiveStrategy) EdgeScore(rawURL string) int {
	lower := strings.ToLower(rawURL)
	score := 0
	if listingIDPattern.MatchString(pathOf(rawURL)) {
		score += 10
	}
	for _, tok := range inventoryTokens {
		if strings.Contains(lower, tok) {
			score += 2
		}
	}
	for _, tok := range paginationTokens {
		if strings.Contains(lower, tok) {
			score++
		}
	}
	return score
}

// Avoid matches the avoid keywords as whole words of the path and query, so "print"
// skips ?view=print but keeps a Sprinter listing.
func (s AutomotiveStrategy) Avoid(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	rest := u.Path + "?" + u.RawQuery
	for _, kw := range avoidKeywords {
		if catalog.ContainsLone(rest, kw) {
			return true
		}
	}
	for _, kw := range s.ExtraAvoid {
		if catalog.ContainsLone(rest, kw) {
			return true
		}
	}
	return false
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path + "?" + u.RawQuery
}
