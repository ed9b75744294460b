// Package extract pulls listing attributes out of arbitrary dealer markup with
// keyword-adjacency heuristics.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/dealer-gatherer/internal/dom"
)

// Query describes one keyword/value lookup.
type Query struct {
	// Keywords are matched case-insensitively against each element's own text.
	Keywords []string
	// Avoid rejects a keyword element whose outer HTML contains any of these.
	Avoid []string
	// Match accepts a single cleaned token as a value shape.
	Match func(token string) bool
	// Valid optionally re-checks a token Match accepted.
	Valid func(token string) bool
	// AfterKeyword restricts co-located values to tokens following the keyword.
	AfterKeyword bool
}

func (q Query) accepts(token string) bool {
	if token == "" || q.Match == nil || !q.Match(token) {
		return false
	}
	return q.Valid == nil || q.Valid(token)
}

// Value returns the first token satisfying q. Elements are scanned in document order;
// for each, the keyword's own text span is tried first, then the adjacent sibling.
func Value(doc *goquery.Document, q Query) (string, bool) {
	var (
		found string
		ok    bool
	)
	dom.Elements(dom.Strip(doc)).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		own := dom.OwnText(sel)
		if own == "" {
			return true
		}
		lower := strings.ToLower(own)
		kwIdx, kw := keywordIndex(lower, q.Keywords)
		if kwIdx < 0 {
			return true
		}
		if containsAnyFold(dom.OuterHTML(sel), q.Avoid) {
			return true
		}
		if found, ok = q.colocated(own, kwIdx, len(kw)); ok {
			return false
		}
		if found, ok = q.firstIn(dom.Text(sel.Next())); ok {
			return false
		}
		if found, ok = q.firstIn(dom.Text(sel.Children())); ok {
			return false
		}
		return true
	})
	return found, ok
}

func (q Query) colocated(text string, kwIdx, kwLen int) (string, bool) {
	if v, ok := q.firstIn(text[kwIdx+kwLen:]); ok {
		return v, true
	}
	if q.AfterKeyword {
		return "", false
	}
	before := strings.Fields(text[:kwIdx])
	for i := len(before) - 1; i >= 0; i-- {
		if token := cleanToken(before[i]); q.accepts(token) {
			return token, true
		}
	}
	return "", false
}

func (q Query) firstIn(text string) (string, bool) {
	for _, raw := range strings.Fields(text) {
		if token := cleanToken(raw); q.accepts(token) {
			return token, true
		}
	}
	return "", false
}

func keywordIndex(lower string, keywords []string) (int, string) {
	for _, kw := range keywords {
		if idx := strings.Index(lower, strings.ToLower(kw)); idx >= 0 {
			return idx, kw
		}
	}
	return -1, ""
}

func containsAnyFold(s string, needles []string) bool {
	if len(needles) == 0 {
		return false
	}
	lower := strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func cleanToken(s string) string {
	return strings.Trim(s, " :;,.()[]{}\"'|#*")
}
