package extract

import (
	"errors"
	"strconv"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dealer-gatherer/internal/dom"
)

func mustParse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := dom.Parse(html)
	require.NoError(t, err)
	return doc
}

func isNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func TestValueKeywordPositions(t *testing.T) {
	t.Parallel()

	doc := mustParse(t, `<html><body><p>4 doors</p></body></html>`)

	v, ok := Value(doc, Query{Keywords: []string{"doors"}, Match: isNumber})
	require.True(t, ok)
	require.Equal(t, "4", v)

	_, ok = Value(doc, Query{Keywords: []string{"doors"}, Match: isNumber, AfterKeyword: true})
	require.False(t, ok)

	_, ok = Value(doc, Query{Keywords: []string{"doors"}, Match: isNumber, Valid: func(s string) bool { return s != "4" }})
	require.False(t, ok)
}

func TestSelectPrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values []int
		want   int
	}{
		{"sale under crossed out msrp", []int{45000, 12000}, 12000},
		{"too close keeps last visited", []int{45000, 44000}, 45000},
		{"frequency wins", []int{24999, 24999, 19999}, 24999},
		{"gap further down", []int{50000, 45000, 30000}, 30000},
		{"single", []int{18500}, 18500},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, SelectPrice(tt.values))
		})
	}
}

func TestPrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		html    string
		bounds  PriceBounds
		want    int
		found   bool
		wantErr error
	}{
		{
			name:  "price block",
			html:  `<div class="price">Price: <span>$24,999</span></div>`,
			want:  24999,
			found: true,
		},
		{
			name:  "msrp skipped",
			html:  `<div class="msrp">MSRP: <span>$31,000</span></div><div class="price">Internet Price: <span>$28,500</span></div>`,
			want:  28500,
			found: true,
		},
		{
			name:  "strict currency fallback",
			html:  `<p>Only $19,995 today</p>`,
			want:  19995,
			found: true,
		},
		{
			name: "below floor",
			html: `<div class="price">Price $500</div>`,
		},
		{
			name:   "above model range",
			html:   `<span class="price">$95,000</span>`,
			bounds: PriceBounds{MinPrice: 5000, MaxPrice: 60000},
		},
		{
			name:   "too cheap for a new model year",
			html:   `<span class="price">$5,000</span>`,
			bounds: PriceBounds{Year: 2024, ReferenceYear: 2025},
		},
		{
			name:    "sold flag",
			html:    `<div class="vehicle-price"><span>SOLD</span> $22,000</div>`,
			wantErr: ErrSold,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			doc := mustParse(t, "<html><body>"+tt.html+"</body></html>")
			got, found, err := Price(doc, tt.bounds)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.found, found)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestMileage(t *testing.T) {
	t.Parallel()

	doc := mustParse(t, `<html><body><ul><li>Mileage: 12,345 miles</li></ul></body></html>`)
	miles, ok, err := Mileage(doc, MileageHints{})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 12345, miles)

	doc = mustParse(t, `<html><body><li>Warranty: 36 months / 36,000 miles</li><li>Odometer 48,210</li></body></html>`)
	miles, ok, err = Mileage(doc, MileageHints{})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 48210, miles)

	doc = mustParse(t, `<html><body><dl><dt>Mileage</dt><dd>7,500</dd></dl></body></html>`)
	miles, _, err = Mileage(doc, MileageHints{})
	require.NoError(t, err)
	require.Equal(t, 7500, miles)

	doc = mustParse(t, `<html><body><p>Mileage: 900,000</p></body></html>`)
	_, _, err = Mileage(doc, MileageHints{})
	require.True(t, errors.Is(err, ErrMileageRange))
}

func TestMileageDefaultsForNewVehicles(t *testing.T) {
	t.Parallel()

	doc := mustParse(t, `<html><head><title>New 2025 Toyota Camry</title></head><body><p>Call us</p></body></html>`)
	miles, ok, err := Mileage(doc, MileageHints{})
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, miles)

	doc = mustParse(t, `<html><body><p>Call us</p></body></html>`)
	_, ok, err = Mileage(doc, MileageHints{Year: 2025, ReferenceYear: 2025})
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = Mileage(doc, MileageHints{Year: 2018, ReferenceYear: 2025})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStockAndColors(t *testing.T) {
	t.Parallel()

	doc := mustParse(t, `<html><body><ul>
<li>Stock #: t12345</li>
<li>Exterior Color: Midnight Black Metallic</li>
<li>Interior Color: Ash Gray Cloth</li>
</ul></body></html>`)

	stock, ok := StockNumber(doc)
	require.True(t, ok)
	require.Equal(t, "T12345", stock)

	ext, ok := ExteriorColor(doc)
	require.True(t, ok)
	require.Equal(t, "Midnight Black Metallic", ext)

	interior, ok := InteriorColor(doc)
	require.True(t, ok)
	require.Equal(t, "Ash Gray Cloth", interior)
}

func TestMainImage(t *testing.T) {
	t.Parallel()

	doc := mustParse(t, `<html><body>
<div class="gallery"><img src="/photos/a.jpg"></div>
<img src="/img/logo.png">
<img data-src="https://cdn.example.com/4T1G11AK2MU100001/1.jpg" src="data:image/png;base64,AAAA">
</body></html>`)

	img, ok := MainImage(doc, "https://dealer.example.com/inventory/100001", []string{"100001"})
	require.True(t, ok)
	require.Equal(t, "https://cdn.example.com/4T1G11AK2MU100001/1.jpg", img)

	img, ok = MainImage(doc, "https://dealer.example.com/inventory/100001", nil)
	require.True(t, ok)
	require.Equal(t, "https://dealer.example.com/photos/a.jpg", img)

	empty := mustParse(t, `<html><body><img src="/img/logo.png"></body></html>`)
	_, ok = MainImage(empty, "https://dealer.example.com/", nil)
	require.False(t, ok)
}

func TestFilterOutliers(t *testing.T) {
	t.Parallel()

	images := []string{
		"https://cdn.example.com/p/1.jpg",
		"https://cdn.example.com/p/2.jpg",
		"https://cdn.example.com/p/3.jpg",
		"https://cdn.example.com/p/4.jpg",
		"https://cdn.example.com/p/5.jpg",
		"https://cdn.example.com/p/6.jpg",
		"https://tracking.adserver.example.org/pixel/abcdefghijklmnop.jpg",
	}
	kept := filterOutliers(images)
	require.Len(t, kept, 6)
	require.NotContains(t, kept, images[6])

	require.Equal(t, images[:3], filterOutliers(images[:3]))
}

func TestSpecs(t *testing.T) {
	t.Parallel()

	got := Specs("This hybrid sedan features AWD", SpecOptions{
		Fuels:         []string{"Gasoline", "Hybrid"},
		Transmissions: []string{"CVT"},
		Drivetrains:   []string{"FWD", "AWD"},
		Trim:          "XSE Coupe",
	})
	require.Equal(t, SpecSet{Fuel: "Hybrid", Transmission: "CVT", Drivetrain: "AWD", Body: "Coupe"}, got)

	require.Equal(t, SpecSet{}, Specs("", SpecOptions{}))
}
