package catalog

import (
	"sort"
	"strings"
	"unicode"
)

// Attribute is one node of the make -> model -> trim hierarchy.
type Attribute struct {
	ID       int
	Name     string
	MinYear  int
	MaxYear  int
	MinPrice int
	MaxPrice int

	// Valid option sets, populated on model nodes.
	Fuels         []string
	Transmissions []string
	Drivetrains   []string
	Bodies        []string

	permutations []string
	children     map[int]*Attribute
}

func newAttribute(id int, name string) *Attribute {
	return &Attribute{
		ID:           id,
		Name:         name,
		permutations: Permutations(name),
		children:     make(map[int]*Attribute),
	}
}

// Permutations returns a copy of the node's match strings. The first entry is always
// the lower-cased canonical name.
func (a *Attribute) Permutations() []string {
	out := make([]string, len(a.permutations))
	copy(out, a.permutations)
	return out
}

// Child returns the child node with the given id, or nil.
func (a *Attribute) Child(id int) *Attribute {
	return a.children[id]
}

// Children returns child nodes ordered by id.
func (a *Attribute) Children() []*Attribute {
	out := make([]*Attribute, 0, len(a.children))
	for _, c := range a.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ContainsYear reports whether year lies in the node's valid range. Open bounds accept.
func (a *Attribute) ContainsYear(year int) bool {
	if a.MinYear > 0 && year < a.MinYear {
		return false
	}
	if a.MaxYear > 0 && year > a.MaxYear {
		return false
	}
	return true
}

var synonyms = map[string][]string{
	"chevrolet":     {"chevy"},
	"volkswagen":    {"vw"},
	"mercedes-benz": {"mercedes", "benz"},
	"land rover":    {"landrover"},
	"alfa romeo":    {"alfa"},
}

// Permutations expands a canonical name into the spacing, dash and synonym variants
// used for lone-token matching. Output is lower-cased and de-duplicated.
func Permutations(name string) []string {
	base := strings.ToLower(strings.TrimSpace(name))
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	add(base)
	if strings.Contains(base, "-") {
		add(strings.ReplaceAll(base, "-", " "))
		add(strings.ReplaceAll(base, "-", ""))
	}
	if strings.Contains(base, " ") {
		add(strings.ReplaceAll(base, " ", "-"))
		add(strings.ReplaceAll(base, " ", ""))
	}
	if split := splitLetterDigit(base); split != base {
		add(split)
		add(strings.ReplaceAll(split, "-", " "))
	}
	for _, syn := range synonyms[base] {
		add(syn)
	}
	return out
}

// splitLetterDigit inserts a dash at letter/digit boundaries: "f150" -> "f-150".
func splitLetterDigit(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 {
			prev := runes[i-1]
			if (unicode.IsLetter(prev) && unicode.IsDigit(r)) || (unicode.IsDigit(prev) && unicode.IsLetter(r)) {
				b.WriteRune('-')
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}
