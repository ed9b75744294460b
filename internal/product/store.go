package product

import "context"

// Store persists products. Deletes move rows to history rather than dropping them.
type Store interface {
	FindByIdentity(ctx context.Context, dataSourceID int64, listingID string) (*Product, error)
	FindByVIN(ctx context.Context, vin string) ([]*Product, error)
	FindBySource(ctx context.Context, dataSourceID int64) ([]*Product, error)
	SaveAll(ctx context.Context, products []*Product) error
	DeleteAllByID(ctx context.Context, ids []int64) error
	DeleteByID(ctx context.Context, id int64) error
}
