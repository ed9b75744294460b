// Package product defines the vehicle listing record, its quality gate and merge rules.
package product

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status marks whether a record passed the quality gate.
type Status string

// Product status values.
const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Quality gate failures.
var (
	ErrMissingMake  = errors.New("product missing make")
	ErrMissingModel = errors.New("product missing model")
	ErrInvalidVIN   = errors.New("product vin failed check digit")
	ErrNoIdentity   = errors.New("product has neither listing id nor vin")
)

// Address is a normalized US postal address.
type Address struct {
	Line      string  `json:"line,omitempty"`
	City      string  `json:"city,omitempty"`
	State     string  `json:"state,omitempty"`
	Zip       string  `json:"zip,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// IsZero reports whether no address component is set.
func (a Address) IsZero() bool {
	return a.Line == "" && a.City == "" && a.State == "" && a.Zip == ""
}

// String renders the address on one line.
func (a Address) String() string {
	parts := make([]string, 0, 3)
	if a.Line != "" {
		parts = append(parts, a.Line)
	}
	if a.City != "" {
		parts = append(parts, a.City)
	}
	tail := strings.TrimSpace(a.State + " " + a.Zip)
	if tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ", ")
}

// Product is one distinct real-world vehicle listing.
type Product struct {
	ID           int64  `json:"id,omitempty"`
	DataSourceID int64  `json:"data_source_id"`
	ListingID    string `json:"listing_id,omitempty"`
	VIN          string `json:"vin,omitempty"`

	Make    string `json:"make,omitempty"`
	MakeID  int    `json:"make_id,omitempty"`
	Model   string `json:"model,omitempty"`
	ModelID int    `json:"model_id,omitempty"`
	Trim    string `json:"trim,omitempty"`
	TrimID  int    `json:"trim_id,omitempty"`
	Year    int    `json:"year,omitempty"`

	// Price and Mileage are nil when the page did not carry them.
	Price   *int `json:"price,omitempty"`
	Mileage *int `json:"mileage,omitempty"`

	ExteriorColor string  `json:"exterior_color,omitempty"`
	InteriorColor string  `json:"interior_color,omitempty"`
	Address       Address `json:"address"`
	ImageURL      string  `json:"image_url,omitempty"`
	DealerName    string  `json:"dealer_name,omitempty"`
	DealerURL     string  `json:"dealer_url,omitempty"`
	StockNumber   string  `json:"stock_number,omitempty"`
	Fuel          string  `json:"fuel,omitempty"`
	Transmission  string  `json:"transmission,omitempty"`
	Drivetrain    string  `json:"drivetrain,omitempty"`
	Body          string  `json:"body,omitempty"`

	SourceURL  string    `json:"source_url"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	CreatedBy  string    `json:"created_by,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`
	ModifiedBy string    `json:"modified_by,omitempty"`
	VisitedAt  time.Time `json:"visited_at"`
	VisitedBy  string    `json:"visited_by,omitempty"`
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}

// Validate applies the quality gate required before a record may be persisted.
func (p *Product) Validate() error {
	if p.ListingID == "" && p.VIN == "" {
		return ErrNoIdentity
	}
	if p.MakeID == 0 {
		return ErrMissingMake
	}
	if p.ModelID == 0 {
		return ErrMissingModel
	}
	if !IsValidVIN(p.VIN) {
		return fmt.Errorf("%w: %q", ErrInvalidVIN, p.VIN)
	}
	return nil
}

// Title renders "year make model trim" for logs.
func (p *Product) Title() string {
	parts := make([]string, 0, 4)
	if p.Year > 0 {
		parts = append(parts, fmt.Sprintf("%d", p.Year))
	}
	for _, s := range []string{p.Make, p.Model, p.Trim} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Merge folds a freshly extracted record into the stored one and returns the result.
// Creation metadata always comes from existing; modification metadata only moves when
// the price changed; an empty image falls back to the stored one.
func Merge(existing, fresh *Product, now time.Time, actor string) *Product {
	if existing == nil {
		out := *fresh
		out.CreatedAt, out.CreatedBy = now, actor
		out.ModifiedAt, out.ModifiedBy = now, actor
		out.VisitedAt, out.VisitedBy = now, actor
		return &out
	}
	out := *fresh
	out.ID = existing.ID
	out.CreatedAt = existing.CreatedAt
	out.CreatedBy = existing.CreatedBy
	if out.ListingID == "" {
		out.ListingID = existing.ListingID
	}
	if samePrice(existing.Price, fresh.Price) {
		out.ModifiedAt = existing.ModifiedAt
		out.ModifiedBy = existing.ModifiedBy
	} else {
		out.ModifiedAt = now
		out.ModifiedBy = actor
	}
	if out.ImageURL == "" {
		out.ImageURL = existing.ImageURL
	}
	out.VisitedAt = now
	out.VisitedBy = actor
	return &out
}

func samePrice(a, b *int) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return *a == *b
	}
}
