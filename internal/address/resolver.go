package address

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/dealer-gatherer/internal/dom"
	"github.com/JakeFAU/dealer-gatherer/internal/product"
)

// Lookup is the postal lookup collaborator.
type Lookup interface {
	PlaceByZip(ctx context.Context, zip string) (Place, bool, error)
	PlacesByName(ctx context.Context, pattern string) ([]Place, error)
}

var (
	addressKeywords = []string{"addr", "map", "direction", "location"}
	textKeywords    = []string{"address", "directions", "location", "visit us", "find us"}

	phonePattern        = regexp.MustCompile(`(?:\+?1[\s.-]?)?\(?\d{3}\)?[\s.-]\d{3}[\s.-]\d{4}`)
	streetNumberPattern = regexp.MustCompile(`\b\d{1,6}\s+[A-Za-z]`)
	cityStatePattern    = regexp.MustCompile(`([A-Z][A-Za-z.'-]*(?:\s+[A-Z][A-Za-z.'-]*){0,3}),\s*([A-Z]{2})\b`)
	paddedStatePattern  = regexp.MustCompile(`(?:^|[\s,])([A-Z]{2})(?:[\s,]|$)`)
)

const (
	maxCandidateLength = 800
	streetLookahead    = 5
	cityWordsMax       = 3
)

// Resolver finds dealer addresses. It never fails: a missing address is reported as
// ok=false and lookup errors only degrade the result.
type Resolver struct {
	lookup Lookup
	parser Parser
	logger *zap.Logger
}

// NewResolver builds a Resolver. A nil parser defaults to USParser; a nil lookup
// disables enrichment and the free-text strategies.
func NewResolver(lookup Lookup, parser Parser, logger *zap.Logger) *Resolver {
	if parser == nil {
		parser = USParser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{lookup: lookup, parser: parser, logger: logger}
}

// ResolveDocument runs the DOM strategies in order and returns the first distinct
// address carrying a ZIP.
func (r *Resolver) ResolveDocument(ctx context.Context, doc *goquery.Document) (product.Address, bool) {
	stripped := dom.Strip(doc)
	strategies := []func(*goquery.Document) []string{
		microdataCandidates,
		attributeCandidates,
		keywordTextCandidates,
		stateTokenCandidates,
	}
	for _, strategy := range strategies {
		if parsed, ok := r.firstParsed(strategy(stripped)); ok {
			return r.enrich(ctx, parsed), true
		}
	}
	return product.Address{}, false
}

func (r *Resolver) firstParsed(raw []string) (Parsed, bool) {
	seen := make(map[string]struct{})
	var fallback *Parsed
	for _, candidate := range raw {
		if !Acceptable(candidate) {
			continue
		}
		norm := Normalize(candidate)
		key := strings.ToLower(norm)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		parsed, ok := r.parser.Parse(norm)
		if !ok {
			continue
		}
		if parsed.Zip != "" {
			return parsed, true
		}
		if fallback == nil {
			p := parsed
			fallback = &p
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Parsed{}, false
}

func (r *Resolver) enrich(ctx context.Context, p Parsed) product.Address {
	addr := product.Address{Line: p.Line, City: p.City, State: p.State, Zip: p.Zip}
	if r.lookup == nil || p.Zip == "" {
		return addr
	}
	place, ok, err := r.lookup.PlaceByZip(ctx, p.Zip)
	if err != nil {
		r.logger.Debug("zip lookup failed", zap.String("zip", p.Zip), zap.Error(err))
		return addr
	}
	if !ok {
		return addr
	}
	if place.City != "" {
		addr.City = place.City
	}
	if place.State != "" {
		addr.State = place.State
	}
	addr.Latitude = place.Latitude
	addr.Longitude = place.Longitude
	return addr
}

// ResolveText resolves a city/state/zip from free text through the postal lookup:
// "City, ST" first, then any city preceding a lone state token, then a bare ZIP.
func (r *Resolver) ResolveText(ctx context.Context, text string) (product.Address, bool) {
	if r.lookup == nil || strings.TrimSpace(text) == "" {
		return product.Address{}, false
	}
	for _, m := range cityStatePattern.FindAllStringSubmatch(text, -1) {
		if !IsState(m[2]) {
			continue
		}
		if place, ok := r.placeByName(ctx, m[1], m[2]); ok {
			return fromPlace(place), true
		}
	}
	words := strings.Fields(text)
	for i, w := range words {
		state := strings.Trim(w, ",.")
		if len(state) != 2 || !IsState(state) || strings.ToUpper(state) != state {
			continue
		}
		for n := cityWordsMax; n >= 1; n-- {
			if i-n < 0 {
				continue
			}
			city := strings.Trim(strings.Join(words[i-n:i], " "), ",. ")
			if place, ok := r.placeByName(ctx, city, state); ok {
				return fromPlace(place), true
			}
		}
	}
	if zip := zipPattern.FindString(text); zip != "" {
		place, ok, err := r.lookup.PlaceByZip(ctx, zip[:5])
		if err != nil {
			r.logger.Debug("zip lookup failed", zap.String("zip", zip), zap.Error(err))
			return product.Address{}, false
		}
		if ok {
			return fromPlace(place), true
		}
	}
	return product.Address{}, false
}

func (r *Resolver) placeByName(ctx context.Context, city, state string) (Place, bool) {
	if city == "" {
		return Place{}, false
	}
	places, err := r.lookup.PlacesByName(ctx, city)
	if err != nil {
		r.logger.Debug("place lookup failed", zap.String("city", city), zap.Error(err))
		return Place{}, false
	}
	for _, p := range places {
		if strings.EqualFold(p.State, state) && strings.EqualFold(p.City, city) {
			return p, true
		}
	}
	return Place{}, false
}

func fromPlace(p Place) product.Address {
	return product.Address{City: p.City, State: p.State, Zip: p.Zip, Latitude: p.Latitude, Longitude: p.Longitude}
}

// Acceptable reports whether s looks like a postal address: it holds a digit, a ZIP,
// and either a state code or a street suffix.
func Acceptable(s string) bool {
	if s == "" || len(s) > maxCandidateLength || !strings.ContainsFunc(s, unicode.IsDigit) {
		return false
	}
	if !zipPattern.MatchString(s) {
		return false
	}
	for _, m := range stateZipPattern.FindAllStringSubmatch(s, -1) {
		if IsState(m[1]) {
			return true
		}
	}
	return hasStreetSuffix(s)
}

// Normalize strips phone numbers, cuts everything after the state/ZIP pair and everything
// before the street number.
func Normalize(s string) string {
	s = dom.Collapse(phonePattern.ReplaceAllString(s, " "))
	for _, loc := range stateZipPattern.FindAllStringSubmatchIndex(s, -1) {
		if IsState(s[loc[2]:loc[3]]) {
			s = s[:loc[1]]
			break
		}
	}
	if start := streetStart(s); start > 0 {
		s = s[start:]
	}
	return strings.Trim(dom.Collapse(s), " ,")
}

// streetStart prefers a digit run followed closely by a street suffix, else the first digit run.
func streetStart(s string) int {
	locs := streetNumberPattern.FindAllStringIndex(s, -1)
	for _, loc := range locs {
		words := strings.Fields(s[loc[0]:])
		limit := streetLookahead
		if len(words) < limit {
			limit = len(words)
		}
		for _, w := range words[1:limit] {
			if hasStreetSuffix(strings.Trim(w, ".,")) {
				return loc[0]
			}
		}
	}
	if len(locs) > 0 {
		return locs[0][0]
	}
	return -1
}

func microdataCandidates(doc *goquery.Document) []string {
	var out []string
	doc.Find(`[itemtype*="schema.org/PostalAddress"]`).Each(func(_ int, sel *goquery.Selection) {
		prop := func(name string) string {
			return dom.Text(sel.Find(fmt.Sprintf(`[itemprop="%s"]`, name)).First())
		}
		street, city := prop("streetAddress"), prop("addressLocality")
		region, zip := prop("addressRegion"), prop("postalCode")
		if zip != "" && region != "" {
			out = append(out, fmt.Sprintf("%s, %s, %s %s", street, city, region, zip))
		}
		out = append(out, dom.Text(sel))
	})
	return out
}

func attributeCandidates(doc *goquery.Document) []string {
	var out []string
	dom.Elements(doc).Each(func(_ int, sel *goquery.Selection) {
		attrs := dom.Attrs(sel)
		for _, kw := range addressKeywords {
			if strings.Contains(attrs, kw) {
				out = appendCandidate(out, dom.Text(sel))
				return
			}
		}
	})
	return out
}

func keywordTextCandidates(doc *goquery.Document) []string {
	var out []string
	dom.Elements(doc).Each(func(_ int, sel *goquery.Selection) {
		own := strings.ToLower(dom.OwnText(sel))
		for _, kw := range textKeywords {
			if !strings.Contains(own, kw) {
				continue
			}
			out = appendCandidate(out, dom.Text(sel))
			sel.Siblings().Each(func(_ int, sib *goquery.Selection) {
				out = appendCandidate(out, dom.Text(sib))
			})
			out = appendCandidate(out, dom.Text(sel.Parent()))
			out = appendCandidate(out, dom.Text(sel.Parent().Parent()))
			return
		}
	})
	return out
}

func stateTokenCandidates(doc *goquery.Document) []string {
	var out []string
	dom.Elements(doc).Each(func(_ int, sel *goquery.Selection) {
		own := dom.OwnText(sel)
		for _, m := range paddedStatePattern.FindAllStringSubmatch(own, -1) {
			if IsState(m[1]) {
				out = appendCandidate(out, dom.Text(sel))
				out = appendCandidate(out, dom.Text(sel.Parent()))
				return
			}
		}
	})
	return out
}

func appendCandidate(out []string, s string) []string {
	if s == "" || len(s) > maxCandidateLength {
		return out
	}
	return append(out, s)
}
