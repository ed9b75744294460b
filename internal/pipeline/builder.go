// Package pipeline turns downloaded pages into validated product records and manages
// their deduplication, merging and buffered persistence for one crawl.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/dealer-gatherer/internal/address"
	"github.com/JakeFAU/dealer-gatherer/internal/catalog"
	"github.com/JakeFAU/dealer-gatherer/internal/dom"
	"github.com/JakeFAU/dealer-gatherer/internal/extract"
	"github.com/JakeFAU/dealer-gatherer/internal/product"
	"github.com/JakeFAU/dealer-gatherer/internal/transport"
)

// Hard rejects. Catalog and extract sentinels (catalog.ErrNoMake, extract.ErrSold, ...)
// are wrapped unchanged.
var (
	ErrNoIdentifier        = errors.New("no listing identifier in url")
	ErrIdentifierNotInBody = errors.New("listing identifier not found in page body")
	ErrNoVIN               = errors.New("no valid vin on page")
	ErrDuplicate           = errors.New("listing already processed in this crawl")
)

// ErrStore marks persistence failures, which are crawl-fatal rather than page rejects.
var ErrStore = errors.New("product store")

var vinQuery = extract.Query{
	Keywords: []string{"vin"},
	Avoid:    []string{"vin decoder", "vin lookup"},
	Match:    product.LooksLikeVIN,
	Valid:    product.IsValidVIN,
}

// Source is the data source a page belongs to.
type Source struct {
	ID   int64
	URL  string
	Name string
}

// Builder extracts a product from one page.
type Builder struct {
	matcher  *catalog.Matcher
	resolver *address.Resolver
	now      func() time.Time
	logger   *zap.Logger
}

// NewBuilder wires a Builder. now supplies the reference year for price and mileage scrubbing.
func NewBuilder(matcher *catalog.Matcher, resolver *address.Resolver, now func() time.Time, logger *zap.Logger) *Builder {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolver == nil {
		resolver = address.NewResolver(nil, nil, logger)
	}
	return &Builder{matcher: matcher, resolver: resolver, now: now, logger: logger.Named("builder")}
}

// Extract builds a product from page. Any returned error is a hard reject.
func (b *Builder) Extract(ctx context.Context, src Source, page *transport.Page) (*product.Product, error) {
	if page == nil || page.Doc == nil {
		return nil, fmt.Errorf("extract: empty page")
	}
	pageURL := page.FinalURL
	if pageURL == "" {
		pageURL = page.URL
	}
	id, err := Identify(pageURL, page.Body)
	if err != nil {
		return nil, err
	}
	return b.build(ctx, src, page, pageURL, id)
}

// Build is Extract for a page whose identifier is already known.
func (b *Builder) Build(ctx context.Context, src Source, page *transport.Page, id string) (*product.Product, error) {
	if page == nil || page.Doc == nil {
		return nil, fmt.Errorf("build: empty page")
	}
	pageURL := page.FinalURL
	if pageURL == "" {
		pageURL = page.URL
	}
	return b.build(ctx, src, page, pageURL, id)
}

func (b *Builder) build(ctx context.Context, src Source, page *transport.Page, pageURL, id string) (*product.Product, error) {
	doc := page.Doc
	vehicle, err := b.matcher.Identify(doc, pageURL)
	if err != nil {
		return nil, fmt.Errorf("identify vehicle: %w", err)
	}

	text := dom.PageText(doc)
	vin := findVIN(doc, id, text)
	if vin == "" {
		return nil, ErrNoVIN
	}

	refYear := b.now().Year() + 1
	p := &product.Product{
		DataSourceID: src.ID,
		ListingID:    id,
		VIN:          vin,
		Make:         vehicle.Make.Name,
		MakeID:       vehicle.Make.ID,
		Model:        vehicle.Model.Name,
		ModelID:      vehicle.Model.ID,
		Year:         vehicle.Year,
		DealerName:   src.Name,
		DealerURL:    src.URL,
		SourceURL:    pageURL,
	}
	if vehicle.Trim != nil {
		p.Trim = vehicle.Trim.Name
		p.TrimID = vehicle.Trim.ID
	}

	price, ok, err := extract.Price(doc, extract.PriceBounds{
		Year:          vehicle.Year,
		MinPrice:      vehicle.Model.MinPrice,
		MaxPrice:      vehicle.Model.MaxPrice,
		ReferenceYear: refYear,
	})
	if err != nil {
		return nil, fmt.Errorf("extract price: %w", err)
	}
	if ok {
		p.Price = product.Int(price)
	}

	miles, ok, err := extract.Mileage(doc, extract.MileageHints{Year: vehicle.Year, ReferenceYear: refYear})
	if err != nil {
		return nil, fmt.Errorf("extract mileage: %w", err)
	}
	if ok {
		p.Mileage = product.Int(miles)
	}

	if stock, ok := extract.StockNumber(doc); ok {
		p.StockNumber = stock
	}
	if color, ok := extract.ExteriorColor(doc); ok {
		p.ExteriorColor = color
	}
	if color, ok := extract.InteriorColor(doc); ok {
		p.InteriorColor = color
	}
	if addr, ok := b.resolver.ResolveDocument(ctx, doc); ok {
		p.Address = addr
	}
	if img, ok := extract.MainImage(doc, pageURL, []string{id, vin, p.StockNumber}); ok {
		p.ImageURL = img
	}

	specs := extract.Specs(text, extract.SpecOptions{
		Fuels:         vehicle.Model.Fuels,
		Transmissions: vehicle.Model.Transmissions,
		Drivetrains:   vehicle.Model.Drivetrains,
		Bodies:        vehicle.Model.Bodies,
		Trim:          p.Trim,
	})
	p.Fuel, p.Transmission, p.Drivetrain, p.Body = specs.Fuel, specs.Transmission, specs.Drivetrain, specs.Body

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", p.Title(), err)
	}
	p.Status = product.StatusSuccess
	return p, nil
}

// findVIN prefers a VIN labeled on the page, then the identifier itself, then any
// check-digit-valid VIN in the page text.
func findVIN(doc *goquery.Document, id, text string) string {
	if v, found := extract.Value(doc, vinQuery); found {
		return strings.ToUpper(v)
	}
	if product.IsValidVIN(id) {
		return strings.ToUpper(id)
	}
	return product.ScanVIN(text)
}
