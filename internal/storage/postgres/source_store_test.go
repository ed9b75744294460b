package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dealer-gatherer/internal/address"
	"github.com/JakeFAU/dealer-gatherer/internal/catalog"
	"github.com/JakeFAU/dealer-gatherer/internal/crawler"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestSourceStoreExistsAtURL(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewSourceStore(mock, "")
	require.NoError(t, err)
	mock.ExpectQuery("SELECT EXISTS \\(SELECT 1 FROM data_sources WHERE host = \\$1 AND id <> \\$2\\)").
		WithArgs("dealer.example", int64(7)).
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.ExistsAtURL(context.Background(), "https://www.Dealer.example/used", 7)
	require.NoError(t, err)
	require.True(t, exists)

	_, err = store.ExistsAtURL(context.Background(), "relative/path", 7)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceStoreSaveStatus(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewSourceStore(mock, "sources")
	require.NoError(t, err)
	lastRun := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ds := crawler.DataSource{
		ID:           7,
		URL:          "https://www.dealer.example",
		Name:         "Dealer",
		FailureCount: 2,
		Status:       crawler.StatusFailure,
		Reason:       crawler.ReasonBlocked,
		Details:      "bot detection: px-captcha",
		LastRun:      lastRun,
		Stats:        crawler.Stats{RunID: "run-1", Pages: 3},
	}
	mock.ExpectExec("INSERT INTO sources .* ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs(
			int64(7), "https://www.dealer.example", "dealer.example", "Dealer", "", "", 0,
			2, "FAILURE", "BLOCKED", "bot detection: px-captcha", &lastRun, pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveStatus(context.Background(), ds))
	require.Error(t, store.SaveStatus(context.Background(), crawler.DataSource{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceStoreGet(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewSourceStore(mock, "")
	require.NoError(t, err)
	lastRun := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	columns := []string{"id", "url", "name", "asset_type", "bot_key", "crawl_rate",
		"failure_count", "status", "reason", "details", "last_run", "stats"}
	mock.ExpectQuery("FROM data_sources WHERE id = \\$1").
		WithArgs(int64(7)).
		WillReturnRows(mock.NewRows(columns).AddRow(
			int64(7), "https://dealer.example", "Dealer", "dealer", "", 500,
			1, "SUCCESS", "", "", &lastRun, []byte(`{"run_id":"run-1","pages":4,"products_saved":2}`),
		))
	mock.ExpectQuery("FROM data_sources WHERE id = \\$1").
		WithArgs(int64(8)).
		WillReturnRows(mock.NewRows(columns))

	ds, ok, err := store.Get(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, crawler.StatusSuccess, ds.Status)
	require.Equal(t, 500, ds.CrawlRate)
	require.Equal(t, lastRun, ds.LastRun)
	require.Equal(t, 4, ds.Stats.Pages)
	require.Equal(t, 2, ds.Stats.ProductsSaved)

	_, ok, err = store.Get(context.Background(), 8)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostalStore(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewPostalStore(mock, "")
	require.NoError(t, err)
	columns := []string{"city", "state", "zip", "latitude", "longitude"}
	mock.ExpectQuery("FROM postal_codes WHERE zip = \\$1").
		WithArgs("78701").
		WillReturnRows(mock.NewRows(columns).AddRow("Austin", "TX", "78701", 30.27, -97.74))
	mock.ExpectQuery("FROM postal_codes WHERE zip = \\$1").
		WithArgs("00000").
		WillReturnRows(mock.NewRows(columns))
	mock.ExpectQuery("WHERE city ILIKE \\$1").
		WithArgs(`St\_ Louis`).
		WillReturnRows(mock.NewRows(columns).
			AddRow("St_ Louis", "MO", "63101", 38.63, -90.19))

	ctx := context.Background()
	place, ok, err := store.PlaceByZip(ctx, "78701")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, address.Place{City: "Austin", State: "TX", Zip: "78701", Latitude: 30.27, Longitude: -97.74}, place)

	_, ok, err = store.PlaceByZip(ctx, "00000")
	require.NoError(t, err)
	require.False(t, ok)

	places, err := store.PlacesByName(ctx, " St_ Louis ")
	require.NoError(t, err)
	require.Len(t, places, 1)
	require.Equal(t, "MO", places[0].State)

	none, err := store.PlacesByName(ctx, "  ")
	require.NoError(t, err)
	require.Empty(t, none)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogSource(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	src, err := NewCatalogSource(mock, "")
	require.NoError(t, err)
	columns := []string{"make_id", "make", "model_id", "model", "trim_id", "trim",
		"min_year", "max_year", "min_price", "max_price",
		"fuels", "transmissions", "drivetrains", "bodies"}
	mock.ExpectQuery("FROM catalog_records ORDER BY make_id, model_id, trim_id").
		WillReturnRows(mock.NewRows(columns).
			AddRow(1, "Toyota", 10, "Camry", 0, "", 1983, 2026, 5000, 45000,
				[]string{"gas", "hybrid"}, []string{"automatic"}, []string{"fwd", "awd"}, []string{"sedan"}).
			AddRow(1, "Toyota", 10, "Camry", 100, "SE", 0, 0, 0, 0,
				[]string(nil), []string(nil), []string(nil), []string(nil)))

	records, err := src.CatalogRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, []string{"gas", "hybrid"}, records[0].Fuels)
	require.Equal(t, "SE", records[1].Trim)

	cat, err := catalog.Build(records)
	require.NoError(t, err)
	require.NotNil(t, cat)
	require.NoError(t, mock.ExpectationsWereMet())
}
