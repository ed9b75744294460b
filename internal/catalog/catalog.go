// Package catalog holds the immutable make/model/trim hierarchy and the matcher that
// recognizes it in page text and DOM fragments.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Record is one flat catalog row as delivered by a Source. A zero TrimID describes
// the model itself.
type Record struct {
	MakeID   int
	Make     string
	ModelID  int
	Model    string
	TrimID   int
	Trim     string
	MinYear  int
	MaxYear  int
	MinPrice int
	MaxPrice int

	Fuels         []string
	Transmissions []string
	Drivetrains   []string
	Bodies        []string
}

// Source delivers catalog rows.
type Source interface {
	CatalogRecords(ctx context.Context) ([]Record, error)
}

// Catalog is built once at startup and is read-only afterwards.
type Catalog struct {
	makes map[int]*Attribute
}

// Load reads every record from src and builds the hierarchy.
func Load(ctx context.Context, src Source) (*Catalog, error) {
	records, err := src.CatalogRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog records: %w", err)
	}
	return Build(records)
}

// Build assembles a catalog from flat records.
func Build(records []Record) (*Catalog, error) {
	c := &Catalog{makes: make(map[int]*Attribute)}
	for i, rec := range records {
		if rec.MakeID <= 0 || strings.TrimSpace(rec.Make) == "" {
			return nil, fmt.Errorf("catalog record %d: make id and name are required", i)
		}
		mk, ok := c.makes[rec.MakeID]
		if !ok {
			mk = newAttribute(rec.MakeID, rec.Make)
			c.makes[rec.MakeID] = mk
		}
		if rec.ModelID <= 0 {
			continue
		}
		model, ok := mk.children[rec.ModelID]
		if !ok {
			model = newAttribute(rec.ModelID, rec.Model)
			mk.children[rec.ModelID] = model
		}
		mergeModel(model, rec)
		if rec.TrimID > 0 && strings.TrimSpace(rec.Trim) != "" {
			if _, exists := model.children[rec.TrimID]; !exists {
				model.children[rec.TrimID] = newAttribute(rec.TrimID, rec.Trim)
			}
		}
	}
	if len(c.makes) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}
	return c, nil
}

func mergeModel(model *Attribute, rec Record) {
	if rec.MinYear > 0 && (model.MinYear == 0 || rec.MinYear < model.MinYear) {
		model.MinYear = rec.MinYear
	}
	if rec.MaxYear > model.MaxYear {
		model.MaxYear = rec.MaxYear
	}
	if rec.MinPrice > 0 && (model.MinPrice == 0 || rec.MinPrice < model.MinPrice) {
		model.MinPrice = rec.MinPrice
	}
	if rec.MaxPrice > model.MaxPrice {
		model.MaxPrice = rec.MaxPrice
	}
	model.Fuels = union(model.Fuels, rec.Fuels)
	model.Transmissions = union(model.Transmissions, rec.Transmissions)
	model.Drivetrains = union(model.Drivetrains, rec.Drivetrains)
	model.Bodies = union(model.Bodies, rec.Bodies)
}

func union(dst, src []string) []string {
	for _, s := range src {
		found := false
		for _, d := range dst {
			if strings.EqualFold(d, s) {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, s)
		}
	}
	return dst
}

// Makes returns all makes ordered by id.
func (c *Catalog) Makes() []*Attribute {
	out := make([]*Attribute, 0, len(c.makes))
	for _, m := range c.makes {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Make returns a make by id, or nil.
func (c *Catalog) Make(id int) *Attribute {
	return c.makes[id]
}

// Names returns every make and model name, lower-cased. Used by URL scoring.
func (c *Catalog) Names() []string {
	var out []string
	for _, mk := range c.Makes() {
		out = append(out, strings.ToLower(mk.Name))
		for _, model := range mk.Children() {
			out = append(out, strings.ToLower(model.Name))
		}
	}
	return out
}
