package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/dealer-gatherer/internal/catalog"
	"github.com/JakeFAU/dealer-gatherer/internal/dom"
)

// ErrMileageRange reports an odometer reading outside [0, MaxMileage].
var ErrMileageRange = errors.New("mileage out of range")

// MaxMileage is the largest odometer reading accepted.
const MaxMileage = 500000

var (
	mileagePattern = regexp.MustCompile(`^(?:\d{1,3}(?:,\d{3})+|\d{1,6})(?:mi|k)?$`)
	stockPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{2,19}$`)
)

var mileageQuery = Query{
	Keywords: []string{"mileage", "odometer", "miles"},
	Avoid:    []string{"month", "warranty", "mpg", "away", "radius", "within"},
	Match:    func(t string) bool { return mileagePattern.MatchString(strings.ToLower(t)) },
}

var stockQuery = Query{
	Keywords: []string{"stock number", "stock no", "stock #", "stock#", "stock"},
	Avoid:    []string{"in stock", "out of stock"},
	Match: func(t string) bool {
		return stockPattern.MatchString(t) && strings.ContainsAny(t, "0123456789")
	},
	AfterKeyword: true,
}

// MileageHints lets Mileage default to zero for new vehicles.
type MileageHints struct {
	Year          int
	ReferenceYear int
}

// Mileage returns the odometer reading. When nothing is found and the page reads as a
// new-vehicle listing, or the model year is current, the reading defaults to zero.
func Mileage(doc *goquery.Document, hints MileageHints) (int, bool, error) {
	raw, ok := Value(doc, mileageQuery)
	if !ok {
		if looksNew(doc) || (hints.Year > 0 && hints.ReferenceYear > 0 && hints.Year >= hints.ReferenceYear) {
			return 0, true, nil
		}
		return 0, false, nil
	}
	miles, err := parseMileage(raw)
	if err != nil {
		return 0, false, err
	}
	return miles, true, nil
}

func parseMileage(raw string) (int, error) {
	s := strings.ToLower(strings.ReplaceAll(raw, ",", ""))
	multiplier := 1
	switch {
	case strings.HasSuffix(s, "mi"):
		s = strings.TrimSuffix(s, "mi")
	case strings.HasSuffix(s, "k"):
		s = strings.TrimSuffix(s, "k")
		multiplier = 1000
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse mileage %q: %w", raw, err)
	}
	v *= multiplier
	if v < 0 || v > MaxMileage {
		return 0, fmt.Errorf("%w: %d", ErrMileageRange, v)
	}
	return v, nil
}

func looksNew(doc *goquery.Document) bool {
	found := false
	doc.Find("title, h1").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if catalog.ContainsLone(dom.Text(sel), "new") {
			found = true
			return false
		}
		return true
	})
	return found
}

// StockNumber returns the dealer stock number, upper-cased.
func StockNumber(doc *goquery.Document) (string, bool) {
	v, ok := Value(doc, stockQuery)
	if !ok {
		return "", false
	}
	return strings.ToUpper(v), true
}

var colorWords = []string{
	"black", "white", "silver", "gray", "grey", "red", "blue", "green", "brown", "beige",
	"tan", "gold", "orange", "yellow", "purple", "maroon", "burgundy", "charcoal", "pearl",
	"ivory", "bronze", "copper", "graphite", "champagne", "navy", "ebony", "titanium",
}

const maxColorLength = 40

// ExteriorColor returns the paint color phrase.
func ExteriorColor(doc *goquery.Document) (string, bool) {
	return colorValue(doc, []string{"exterior color", "exterior colour", "ext. color", "exterior", "color"},
		[]string{"interior"})
}

// InteriorColor returns the upholstery color phrase.
func InteriorColor(doc *goquery.Document) (string, bool) {
	return colorValue(doc, []string{"interior color", "interior colour", "int. color", "interior"}, nil)
}

// colorValue keeps whole phrases ("Midnight Black Metallic") instead of single tokens.
func colorValue(doc *goquery.Document, keywords, avoid []string) (string, bool) {
	var (
		found string
		ok    bool
	)
	dom.Elements(dom.Strip(doc)).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		own := dom.OwnText(sel)
		idx, kw := keywordIndex(strings.ToLower(own), keywords)
		if idx < 0 || containsAnyFold(dom.OuterHTML(sel), avoid) {
			return true
		}
		for _, candidate := range []string{own[idx+len(kw):], dom.Text(sel.Next()), dom.Text(sel.Children())} {
			if found, ok = colorPhrase(candidate); ok {
				return false
			}
		}
		return true
	})
	return found, ok
}

func colorPhrase(s string) (string, bool) {
	s = dom.Collapse(strings.Trim(s, " :-|"))
	if s == "" || len(s) > maxColorLength {
		return "", false
	}
	for _, w := range colorWords {
		if catalog.ContainsLone(s, w) {
			return titleCase(s), true
		}
	}
	return "", false
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
