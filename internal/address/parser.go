// Package address finds, normalizes and resolves US dealer addresses in pages and text.
package address

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/dealer-gatherer/internal/catalog"
)

// Place is one postal-code record from the lookup collaborator.
type Place struct {
	City      string
	State     string
	Zip       string
	Latitude  float64
	Longitude float64
}

// Parsed is an address split into its components.
type Parsed struct {
	Line  string
	City  string
	State string
	Zip   string
}

// Parser splits a normalized one-line address.
type Parser interface {
	Parse(s string) (Parsed, bool)
}

var states = map[string]struct{}{
	"AL": {}, "AK": {}, "AZ": {}, "AR": {}, "CA": {}, "CO": {}, "CT": {}, "DE": {}, "DC": {}, "FL": {},
	"GA": {}, "HI": {}, "ID": {}, "IL": {}, "IN": {}, "IA": {}, "KS": {}, "KY": {}, "LA": {}, "ME": {},
	"MD": {}, "MA": {}, "MI": {}, "MN": {}, "MS": {}, "MO": {}, "MT": {}, "NE": {}, "NV": {}, "NH": {},
	"NJ": {}, "NM": {}, "NY": {}, "NC": {}, "ND": {}, "OH": {}, "OK": {}, "OR": {}, "PA": {}, "PR": {},
	"RI": {}, "SC": {}, "SD": {}, "TN": {}, "TX": {}, "UT": {}, "VT": {}, "VA": {}, "WA": {}, "WV": {},
	"WI": {}, "WY": {},
}

var streetSuffixes = []string{
	"st", "street", "ave", "avenue", "blvd", "boulevard", "rd", "road", "dr", "drive", "ln", "lane",
	"hwy", "highway", "pkwy", "parkway", "way", "ct", "court", "pl", "place", "cir", "circle", "pike",
	"trl", "trail", "ter", "terrace", "sq", "square", "expy", "expressway", "fwy", "freeway", "route",
}

var (
	stateZipPattern = regexp.MustCompile(`\b([A-Za-z]{2})[\s,]+(\d{5})(?:-\d{4})?\b`)
	zipPattern      = regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)
	tailPattern     = regexp.MustCompile(`^(.*?)[,\s]+([A-Za-z]{2})[\s,]+(\d{5})(?:-\d{4})?$`)
)

// IsState reports whether s is a two-letter US state or territory code.
func IsState(s string) bool {
	_, ok := states[strings.ToUpper(s)]
	return ok
}

func hasStreetSuffix(s string) bool {
	for _, suf := range streetSuffixes {
		if catalog.ContainsLone(s, suf) {
			return true
		}
	}
	return false
}

// USParser parses "line, city, ST 12345" and "line city ST 12345" forms.
type USParser struct{}

// Parse implements Parser.
func (USParser) Parse(s string) (Parsed, bool) {
	s = strings.TrimSpace(strings.TrimRight(s, " ,."))
	m := tailPattern.FindStringSubmatch(s)
	if m == nil || !IsState(m[2]) {
		return Parsed{}, false
	}
	p := Parsed{State: strings.ToUpper(m[2]), Zip: m[3][:5]}
	head := strings.TrimSpace(strings.TrimRight(m[1], " ,"))

	if i := strings.LastIndex(head, ","); i >= 0 {
		p.Line = strings.TrimSpace(head[:i])
		p.City = strings.TrimSpace(head[i+1:])
		return p, true
	}
	words := strings.Fields(head)
	for i := len(words) - 1; i >= 0; i-- {
		if hasStreetSuffix(strings.Trim(words[i], ".")) {
			p.Line = strings.Join(words[:i+1], " ")
			p.City = strings.Join(words[i+1:], " ")
			return p, true
		}
	}
	p.City = head
	return p, true
}
