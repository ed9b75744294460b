package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/dealer-gatherer/internal/dom"
)

// Identification failures. All are hard rejects for the page.
var (
	ErrNoMake         = errors.New("no make matched")
	ErrAmbiguousMake  = errors.New("ambiguous make")
	ErrNoModel        = errors.New("no model matched")
	ErrAmbiguousModel = errors.New("ambiguous model")
)

const (
	urlBonus      = 3
	shortTextSize = 80
)

var yearPattern = regexp.MustCompile(`(?:19|20)\d{2}`)

// Makes that share model lines; when both tie, the second name wins.
var makePreference = [][2]string{
	{"dodge", "ram"},
	{"hyundai", "genesis"},
}

// Match is one candidate with its accumulated weight and the texts it matched in.
type Match struct {
	Attribute *Attribute
	Weight    int
	Texts     []string
}

// Vehicle is the resolved identity of a listing page.
type Vehicle struct {
	Make  *Attribute
	Model *Attribute
	Trim  *Attribute
	Year  int
}

type weightedText struct {
	text   string
	weight int
}

// Matcher recognizes catalog entries in pages.
type Matcher struct {
	catalog *Catalog
}

// NewMatcher builds a Matcher over an immutable catalog.
func NewMatcher(c *Catalog) *Matcher {
	return &Matcher{catalog: c}
}

// Catalog exposes the underlying catalog.
func (m *Matcher) Catalog() *Catalog {
	return m.catalog
}

// MatchDocument returns the maximal-weight subset of candidates found in doc. Each element
// whose own text holds a lone permutation contributes its tag weight; every lone occurrence
// in the page URL path adds a fixed bonus.
func MatchDocument(doc *goquery.Document, pageURL string, candidates []*Attribute) []Match {
	return best(score(collect(doc), urlPath(pageURL), candidates))
}

// MatchText is MatchDocument for plain text: one point per lone occurrence.
func MatchText(text string, candidates []*Attribute) []Match {
	var matches []Match
	for _, c := range candidates {
		weight := 0
		for _, p := range c.permutations {
			if n := CountLone(text, p); n > weight {
				weight = n
			}
		}
		if weight > 0 {
			matches = append(matches, Match{Attribute: c, Weight: weight, Texts: []string{text}})
		}
	}
	return best(matches)
}

// Identify resolves make, model, trim and year for a page. Missing make or model is
// reported as an error; trim and year are optional.
func (m *Matcher) Identify(doc *goquery.Document, pageURL string) (Vehicle, error) {
	elements := collect(doc)
	path := urlPath(pageURL)

	makes := best(score(elements, path, m.catalog.Makes()))
	if len(makes) == 0 {
		return Vehicle{}, ErrNoMake
	}
	mk, err := resolveMake(makes)
	if err != nil {
		return Vehicle{}, err
	}

	models := best(score(elements, path, mk.Children()))
	if len(models) == 0 {
		return Vehicle{}, fmt.Errorf("%w for %s", ErrNoModel, mk.Name)
	}
	model, err := resolveModel(models)
	if err != nil {
		return Vehicle{}, err
	}

	v := Vehicle{Make: mk, Model: model}
	if trims := best(score(elements, path, model.Children())); len(trims) > 0 {
		v.Trim = longestName(trims)
	}
	v.Year = matchYear(elements, path, model)
	return v, nil
}

func collect(doc *goquery.Document) []weightedText {
	var out []weightedText
	dom.Elements(dom.Strip(doc)).Each(func(_ int, sel *goquery.Selection) {
		text := dom.OwnText(sel)
		if text == "" {
			return
		}
		out = append(out, weightedText{text: text, weight: elementWeight(sel, text)})
	})
	return out
}

func elementWeight(sel *goquery.Selection, text string) int {
	var w int
	switch goquery.NodeName(sel) {
	case "title", "h1":
		w = 4
	case "h2":
		w = 3
	case "h3":
		w = 2
	default:
		w = 1
	}
	attrs := dom.Attrs(sel)
	if strings.Contains(attrs, "title") || strings.Contains(attrs, "name") || strings.Contains(attrs, "heading") {
		w++
	}
	if len(text) <= shortTextSize {
		w++
	}
	return w
}

func score(elements []weightedText, path string, candidates []*Attribute) []Match {
	var matches []Match
	for _, c := range candidates {
		m := Match{Attribute: c}
		for _, el := range elements {
			if containsAny(el.text, c.permutations) {
				m.Weight += el.weight
				m.Texts = append(m.Texts, el.text)
			}
		}
		urlHits := 0
		for _, p := range c.permutations {
			if n := CountLone(path, p); n > urlHits {
				urlHits = n
			}
		}
		m.Weight += urlHits * urlBonus
		if m.Weight > 0 {
			matches = append(matches, m)
		}
	}
	return matches
}

func best(matches []Match) []Match {
	top := 0
	for _, m := range matches {
		if m.Weight > top {
			top = m.Weight
		}
	}
	if top == 0 {
		return nil
	}
	var out []Match
	for _, m := range matches {
		if m.Weight == top {
			out = append(out, m)
		}
	}
	return out
}

func containsAny(text string, perms []string) bool {
	for _, p := range perms {
		if ContainsLone(text, p) {
			return true
		}
	}
	return false
}

func resolveMake(matches []Match) (*Attribute, error) {
	if len(matches) == 1 {
		return matches[0].Attribute, nil
	}
	if len(matches) == 2 {
		a, b := matches[0].Attribute, matches[1].Attribute
		an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
		for _, pair := range makePreference {
			switch {
			case an == pair[0] && bn == pair[1]:
				return b, nil
			case an == pair[1] && bn == pair[0]:
				return a, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAmbiguousMake, names(matches))
}

func resolveModel(matches []Match) (*Attribute, error) {
	winner := matches[0]
	for _, other := range matches[1:] {
		picked, ok := disambiguate(winner, other)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAmbiguousModel, names(matches))
		}
		winner = picked
	}
	return winner.Attribute, nil
}

// disambiguate picks between two models when one name contains the other. The longer
// name wins only when its extra text shows up lone in the matched elements more than once.
func disambiguate(a, b Match) (Match, bool) {
	long, short := a, b
	if len(short.Attribute.Name) > len(long.Attribute.Name) {
		long, short = short, long
	}
	ln := strings.ToLower(long.Attribute.Name)
	sn := strings.ToLower(short.Attribute.Name)
	if !strings.Contains(ln, sn) {
		return Match{}, false
	}
	diff := strings.Trim(strings.Replace(ln, sn, "", 1), " -")
	if diff == "" {
		return long, true
	}
	hits := 0
	for _, t := range long.Texts {
		hits += CountLone(t, diff)
	}
	if hits > 1 {
		return long, true
	}
	return short, true
}

func longestName(matches []Match) *Attribute {
	winner := matches[0].Attribute
	for _, m := range matches[1:] {
		if len(m.Attribute.Name) > len(winner.Name) {
			winner = m.Attribute
		}
	}
	return winner
}

func matchYear(elements []weightedText, path string, model *Attribute) int {
	ordered := make([]weightedText, len(elements))
	copy(ordered, elements)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].weight > ordered[j].weight })
	texts := make([]string, 0, len(ordered)+1)
	for _, el := range ordered {
		texts = append(texts, el.text)
	}
	texts = append(texts, path)

	for _, t := range texts {
		for _, loc := range yearPattern.FindAllStringIndex(t, -1) {
			if !loneAt(t, loc[0], loc[1]) {
				continue
			}
			year, err := strconv.Atoi(t[loc[0]:loc[1]])
			if err == nil && model.ContainsYear(year) {
				return year
			}
		}
	}
	return 0
}

func urlPath(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Path)
}

func names(matches []Match) string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Attribute.Name)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
