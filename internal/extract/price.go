package extract

import (
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/dealer-gatherer/internal/catalog"
	"github.com/JakeFAU/dealer-gatherer/internal/dom"
)

// ErrSold reports a listing flagged as sold. It is a hard reject, unlike a missing price.
var ErrSold = errors.New("listing marked sold")

const (
	minPrice        = 1000
	priceAncestors  = 3
	soldTextMax     = 12
	separationRatio = 0.7
)

var (
	dollarPattern   = regexp.MustCompile(`\$\s?(\d{1,3}(?:,\d{3})+|\d{4,7})(?:\.\d{2})?`)
	currencyPattern = regexp.MustCompile(`^\$\d{1,3}(?:,\d{3})+(?:\.\d{2})?$`)
)

// Ancestry walks stop at these tags.
var priceBoundaryTags = map[string]struct{}{
	"body": {}, "nav": {}, "header": {}, "footer": {}, "script": {}, "form": {},
}

// PriceBounds carries what the scrubber knows about the vehicle.
type PriceBounds struct {
	Year          int
	MinPrice      int
	MaxPrice      int
	ReferenceYear int
}

// Plausible applies the domain scrubber to one candidate price.
func (b PriceBounds) Plausible(v int) bool {
	if v < minPrice {
		return false
	}
	if b.Year > 0 && b.ReferenceYear > 0 {
		switch age := b.ReferenceYear - b.Year; {
		case age <= 2 && v < 7500:
			return false
		case age <= 5 && v < 4000:
			return false
		}
	}
	if b.MinPrice > 0 && v < b.MinPrice {
		return false
	}
	if b.MaxPrice > 0 && v > b.MaxPrice {
		return false
	}
	return true
}

type priceToken struct {
	value   int
	context string
}

// Price finds the listing price. The bool is false when no plausible price exists;
// ErrSold is returned when the page flags the vehicle as sold.
func Price(doc *goquery.Document, bounds PriceBounds) (int, bool, error) {
	stripped := dom.Strip(doc)
	if isSold(stripped) {
		return 0, false, ErrSold
	}

	tokens := priceTokens(stripped)
	passes := []func(priceToken) bool{
		func(t priceToken) bool {
			return strings.Contains(t.context, "price") && !strings.Contains(t.context, "msrp")
		},
		func(t priceToken) bool { return strings.Contains(t.context, "price") },
	}
	for _, keep := range passes {
		var values []int
		for _, t := range tokens {
			if keep(t) && bounds.Plausible(t.value) {
				values = append(values, t.value)
			}
		}
		if len(values) > 0 {
			return SelectPrice(values), true, nil
		}
	}

	if values := strictCurrency(stripped, bounds); len(values) > 0 {
		return SelectPrice(values), true, nil
	}
	return 0, false, nil
}

// SelectPrice picks the most frequent value. When several values tie, they are walked
// in descending order and the first lower neighbour at or below 70% of its predecessor
// wins; with no such gap the last value visited before the end of the walk is kept.
func SelectPrice(values []int) int {
	if len(values) == 0 {
		return 0
	}
	counts := make(map[int]int, len(values))
	top := 0
	for _, v := range values {
		counts[v]++
		if counts[v] > top {
			top = counts[v]
		}
	}
	var tied []int
	for v, n := range counts {
		if n == top {
			tied = append(tied, v)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}
	sort.Sort(sort.Reverse(sort.IntSlice(tied)))

	selected := tied[0]
	for i := 0; i < len(tied)-1; i++ {
		selected = tied[i]
		if float64(tied[i+1]) <= separationRatio*float64(tied[i]) {
			selected = tied[i+1]
			break
		}
	}
	return selected
}

func priceTokens(doc *goquery.Document) []priceToken {
	var out []priceToken
	dom.Elements(doc).Each(func(_ int, sel *goquery.Selection) {
		own := dom.OwnText(sel)
		if !strings.Contains(own, "$") {
			return
		}
		matches := dollarPattern.FindAllStringSubmatch(own, -1)
		if len(matches) == 0 {
			return
		}
		nearby := ancestryText(sel)
		for _, m := range matches {
			if v, ok := parseAmount(m[1]); ok {
				out = append(out, priceToken{value: v, context: nearby})
			}
		}
	})
	return out
}

func strictCurrency(doc *goquery.Document, bounds PriceBounds) []int {
	var out []int
	dom.Elements(doc).Each(func(_ int, sel *goquery.Selection) {
		own := dom.OwnText(sel)
		if !strings.Contains(own, "$") {
			return
		}
		for _, field := range strings.Fields(own) {
			field = strings.TrimRight(field, ".,;:!*")
			if !currencyPattern.MatchString(field) {
				continue
			}
			if v, ok := parseAmount(strings.TrimPrefix(field, "$")); ok && bounds.Plausible(v) {
				out = append(out, v)
			}
		}
	})
	return out
}

// ancestryText is the lower-cased attributes and own text of sel and a few ancestors.
func ancestryText(sel *goquery.Selection) string {
	var b strings.Builder
	cur := sel
	for i := 0; i <= priceAncestors && cur.Length() > 0; i++ {
		if _, stop := priceBoundaryTags[goquery.NodeName(cur)]; stop {
			break
		}
		b.WriteString(dom.Attrs(cur))
		b.WriteByte(' ')
		b.WriteString(strings.ToLower(dom.OwnText(cur)))
		b.WriteByte(' ')
		cur = cur.Parent()
	}
	return b.String()
}

func isSold(doc *goquery.Document) bool {
	sold := false
	dom.Elements(doc).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		own := dom.OwnText(sel)
		if own == "" || len(own) >= soldTextMax || !catalog.ContainsLone(own, "sold") {
			return true
		}
		cur := sel
		for i := 0; i <= priceAncestors && cur.Length() > 0; i++ {
			if _, stop := priceBoundaryTags[goquery.NodeName(cur)]; stop {
				break
			}
			attrs := dom.Attrs(cur)
			if strings.Contains(attrs, "price") || strings.Contains(attrs, "sold") {
				sold = true
				return false
			}
			cur = cur.Parent()
		}
		return true
	})
	return sold
}

func parseAmount(s string) (int, bool) {
	s = strings.ReplaceAll(s, ",", "")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
