package product

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validProduct() *Product {
	return &Product{
		DataSourceID: 7,
		ListingID:    "100001",
		VIN:          "4T1G11AK2MU100001",
		Make:         "Toyota",
		MakeID:       1,
		Model:        "Camry",
		ModelID:      10,
		Year:         2021,
		Price:        Int(24999),
		ImageURL:     "https://dealer.example.com/img/100001.jpg",
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(p *Product)
		want   error
	}{
		{"valid", func(*Product) {}, nil},
		{"missing make", func(p *Product) { p.MakeID = 0 }, ErrMissingMake},
		{"missing model", func(p *Product) { p.ModelID = 0 }, ErrMissingModel},
		{"bad vin", func(p *Product) { p.VIN = "4T1G11AK3MU100001" }, ErrInvalidVIN},
		{"no identity", func(p *Product) { p.ListingID, p.VIN = "", "" }, ErrNoIdentity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := validProduct()
			tt.mutate(p)
			err := p.Validate()
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestMergePreservesCreationAndTracksPriceChanges(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	modified := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	existing := validProduct()
	existing.ID = 42
	existing.CreatedAt, existing.CreatedBy = created, "crawler-a"
	existing.ModifiedAt, existing.ModifiedBy = modified, "crawler-a"

	samePrice := validProduct()
	samePrice.ImageURL = ""
	merged := Merge(existing, samePrice, now, "crawler-b")
	require.Equal(t, int64(42), merged.ID)
	require.Equal(t, created, merged.CreatedAt)
	require.Equal(t, "crawler-a", merged.CreatedBy)
	require.Equal(t, modified, merged.ModifiedAt)
	require.Equal(t, existing.ImageURL, merged.ImageURL)
	require.Equal(t, now, merged.VisitedAt)

	cheaper := validProduct()
	cheaper.Price = Int(23999)
	merged = Merge(existing, cheaper, now, "crawler-b")
	require.Equal(t, now, merged.ModifiedAt)
	require.Equal(t, "crawler-b", merged.ModifiedBy)
	require.Equal(t, created, merged.CreatedAt)
}

func TestMergeWithoutExistingStampsEverything(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	merged := Merge(nil, validProduct(), now, "gatherer")
	require.Equal(t, now, merged.CreatedAt)
	require.Equal(t, now, merged.ModifiedAt)
	require.Equal(t, "gatherer", merged.VisitedBy)
}

func TestAddressString(t *testing.T) {
	t.Parallel()

	a := Address{Line: "123 Main St", City: "Springfield", State: "IL", Zip: "62704"}
	require.Equal(t, "123 Main St, Springfield, IL 62704", a.String())
	require.True(t, Address{}.IsZero())
}
