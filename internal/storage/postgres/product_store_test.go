package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dealer-gatherer/internal/product"
)

func productRow(p *product.Product) []any {
	return append([]any{p.ID}, productArgs(p)...)
}

func newProductMock(t *testing.T) (pgxmock.PgxPoolIface, *ProductStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewProductStore(mock, "")
	require.NoError(t, err)
	return mock, store
}

func sampleProduct() *product.Product {
	now := time.Unix(1700000000, 0).UTC()
	return &product.Product{
		DataSourceID: 7,
		ListingID:    "A1",
		VIN:          "4T1B11HK5KU000001",
		Make:         "Toyota",
		MakeID:       1,
		Model:        "Camry",
		ModelID:      10,
		Year:         2021,
		Price:        product.Int(21500),
		Address:      product.Address{City: "Austin", State: "TX", Zip: "78701"},
		SourceURL:    "https://dealer.example/used/a1",
		Status:       product.StatusSuccess,
		CreatedAt:    now,
		ModifiedAt:   now,
		VisitedAt:    now,
	}
}

func TestNewProductStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewProductStore(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewProductStore(mock, "products; DROP TABLE x")
	require.Error(t, err)

	store, err := NewProductStore(mock, "listings")
	require.NoError(t, err)
	require.Equal(t, "listings_history", store.history)
}

func TestFindByIdentity(t *testing.T) {
	t.Parallel()

	mock, store := newProductMock(t)
	want := sampleProduct()
	want.ID = 42
	mock.ExpectQuery("SELECT id, data_source_id, listing_id .* FROM products WHERE data_source_id = \\$1").
		WithArgs(int64(7), "A1").
		WillReturnRows(mock.NewRows(productColumns).AddRow(productRow(want)...))

	got, err := store.FindByIdentity(context.Background(), 7, "A1")
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIdentityMissing(t *testing.T) {
	t.Parallel()

	mock, store := newProductMock(t)
	mock.ExpectQuery("FROM products").
		WithArgs(int64(7), "nope").
		WillReturnRows(mock.NewRows(productColumns))

	got, err := store.FindByIdentity(context.Background(), 7, "nope")
	require.NoError(t, err)
	require.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByVINAndSource(t *testing.T) {
	t.Parallel()

	mock, store := newProductMock(t)
	first, second := sampleProduct(), sampleProduct()
	first.ID, second.ID = 1, 2
	second.DataSourceID = 9
	second.Price = nil
	mock.ExpectQuery("WHERE upper\\(vin\\) = upper\\(\\$1\\)").
		WithArgs("4T1B11HK5KU000001").
		WillReturnRows(mock.NewRows(productColumns).AddRow(productRow(first)...).AddRow(productRow(second)...))
	mock.ExpectQuery("WHERE data_source_id = \\$1 ORDER BY id").
		WithArgs(int64(7)).
		WillReturnError(errors.New("connection reset"))

	ctx := context.Background()
	byVIN, err := store.FindByVIN(ctx, "4T1B11HK5KU000001")
	require.NoError(t, err)
	require.Len(t, byVIN, 2)
	require.Nil(t, byVIN[1].Price)

	_, err = store.FindBySource(ctx, 7)
	require.ErrorContains(t, err, "connection reset")

	none, err := store.FindByVIN(ctx, "")
	require.NoError(t, err)
	require.Empty(t, none)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAllInsertsAndUpdates(t *testing.T) {
	t.Parallel()

	mock, store := newProductMock(t)
	fresh := sampleProduct()
	known := sampleProduct()
	known.ID = 5
	known.ListingID = "B2"

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO products \\(data_source_id, listing_id").
		WithArgs(productArgs(fresh)...).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec("UPDATE products SET data_source_id = \\$2").
		WithArgs(productRow(known)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := store.SaveAll(context.Background(), []*product.Product{fresh, known})
	require.NoError(t, err)
	require.Equal(t, int64(11), fresh.ID)
	require.Equal(t, int64(5), known.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAllRollsBackMissingRow(t *testing.T) {
	t.Parallel()

	mock, store := newProductMock(t)
	ghost := sampleProduct()
	ghost.ID = 99

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE products").
		WithArgs(productRow(ghost)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := store.SaveAll(context.Background(), []*product.Product{ghost})
	require.ErrorIs(t, err, ErrProductNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
	require.NoError(t, store.SaveAll(context.Background(), nil))
}

func TestDeleteMovesRowsToHistory(t *testing.T) {
	t.Parallel()

	mock, store := newProductMock(t)
	mock.ExpectExec("WITH moved AS \\(DELETE FROM products WHERE id = ANY\\(\\$1\\) RETURNING \\*\\)\\s+INSERT INTO products_history").
		WithArgs([]int64{3, 4}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec("INSERT INTO products_history").
		WithArgs([]int64{8}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := context.Background()
	require.NoError(t, store.DeleteAllByID(ctx, []int64{3, 4}))
	require.NoError(t, store.DeleteByID(ctx, 8))
	require.NoError(t, store.DeleteAllByID(ctx, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
