package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/dealer-gatherer/internal/product"
)

// ErrProductNotFound is returned when an update targets a missing row.
var ErrProductNotFound = errors.New("product not found")

// productColumns lists every persisted column; id comes first and is never written.
var productColumns = []string{
	"id", "data_source_id", "listing_id", "vin",
	"make", "make_id", "model", "model_id", "trim", "trim_id", "year",
	"price", "mileage", "exterior_color", "interior_color",
	"address_line", "city", "state", "zip", "latitude", "longitude",
	"image_url", "dealer_name", "dealer_url", "stock_number",
	"fuel", "transmission", "drivetrain", "body",
	"source_url", "status",
	"created_at", "created_by", "modified_at", "modified_by", "visited_at", "visited_by",
}

// ProductStore implements product.Store. Deleted rows move to <table>_history with a
// deleted_at stamp.
type ProductStore struct {
	db      DB
	table   string
	history string

	selectSQL string
	insertSQL string
	updateSQL string
	deleteSQL string
}

// NewProductStore builds a store over db. An empty table defaults to "products".
func NewProductStore(db DB, table string) (*ProductStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table, "products")
	if err != nil {
		return nil, err
	}
	s := &ProductStore{db: db, table: table, history: table + "_history"}
	s.prepare()
	return s, nil
}

func (s *ProductStore) prepare() {
	writable := productColumns[1:]
	sets := make([]string, len(writable))
	values := make([]string, len(writable))
	for i, col := range writable {
		values[i] = fmt.Sprintf("$%d", i+1)
		sets[i] = fmt.Sprintf("%s = $%d", col, i+2)
	}
	s.selectSQL = fmt.Sprintf("SELECT %s FROM %s", strings.Join(productColumns, ", "), s.table)
	s.insertSQL = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		s.table, strings.Join(writable, ", "), strings.Join(values, ", "))
	s.updateSQL = fmt.Sprintf("UPDATE %s SET %s WHERE id = $1", s.table, strings.Join(sets, ", "))
	s.deleteSQL = fmt.Sprintf(`WITH moved AS (DELETE FROM %s WHERE id = ANY($1) RETURNING *)
INSERT INTO %s SELECT moved.*, now() FROM moved`, s.table, s.history)
}

// Close releases the pool.
func (s *ProductStore) Close() {
	s.db.Close()
}

// FindByIdentity returns the product of dataSourceID whose listing id equals id, or
// whose VIN equals id when it has no listing id.
func (s *ProductStore) FindByIdentity(ctx context.Context, dataSourceID int64, id string) (*product.Product, error) {
	query := s.selectSQL + ` WHERE data_source_id = $1
  AND (listing_id = $2 OR (listing_id = '' AND upper(vin) = upper($2)))
ORDER BY id LIMIT 1`
	p, err := scanProduct(s.db.QueryRow(ctx, query, dataSourceID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find product %d/%s: %w", dataSourceID, id, err)
	}
	return p, nil
}

// FindByVIN returns every product carrying vin across data sources.
func (s *ProductStore) FindByVIN(ctx context.Context, vin string) ([]*product.Product, error) {
	if vin == "" {
		return nil, nil
	}
	return s.list(ctx, s.selectSQL+" WHERE upper(vin) = upper($1) ORDER BY id", vin)
}

// FindBySource returns every product of dataSourceID.
func (s *ProductStore) FindBySource(ctx context.Context, dataSourceID int64) ([]*product.Product, error) {
	return s.list(ctx, s.selectSQL+" WHERE data_source_id = $1 ORDER BY id", dataSourceID)
}

func (s *ProductStore) list(ctx context.Context, query string, arg any) ([]*product.Product, error) {
	rows, err := s.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()
	var out []*product.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return out, nil
}

// SaveAll writes products in one transaction. Rows without an id are inserted and
// receive the generated id.
func (s *ProductStore) SaveAll(ctx context.Context, products []*product.Product) error {
	if len(products) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	ids := make([]int64, len(products))
	for i, p := range products {
		if err := s.save(ctx, tx, p, &ids[i]); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	for i, p := range products {
		p.ID = ids[i]
	}
	return nil
}

func (s *ProductStore) save(ctx context.Context, tx pgx.Tx, p *product.Product, id *int64) error {
	args := productArgs(p)
	if p.ID == 0 {
		if err := tx.QueryRow(ctx, s.insertSQL, args...).Scan(id); err != nil {
			return fmt.Errorf("insert product %s: %w", identity(p), err)
		}
		return nil
	}
	tag, err := tx.Exec(ctx, s.updateSQL, append([]any{p.ID}, args...)...)
	if err != nil {
		return fmt.Errorf("update product %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update product %d: %w", p.ID, ErrProductNotFound)
	}
	*id = p.ID
	return nil
}

// DeleteAllByID moves the listed rows to history.
func (s *ProductStore) DeleteAllByID(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, s.deleteSQL, ids); err != nil {
		return fmt.Errorf("delete %d products: %w", len(ids), err)
	}
	return nil
}

// DeleteByID moves one row to history.
func (s *ProductStore) DeleteByID(ctx context.Context, id int64) error {
	return s.DeleteAllByID(ctx, []int64{id})
}

// productArgs follows productColumns without the id.
func productArgs(p *product.Product) []any {
	return []any{
		p.DataSourceID, p.ListingID, p.VIN,
		p.Make, p.MakeID, p.Model, p.ModelID, p.Trim, p.TrimID, p.Year,
		p.Price, p.Mileage, p.ExteriorColor, p.InteriorColor,
		p.Address.Line, p.Address.City, p.Address.State, p.Address.Zip, p.Address.Latitude, p.Address.Longitude,
		p.ImageURL, p.DealerName, p.DealerURL, p.StockNumber,
		p.Fuel, p.Transmission, p.Drivetrain, p.Body,
		p.SourceURL, string(p.Status),
		p.CreatedAt, p.CreatedBy, p.ModifiedAt, p.ModifiedBy, p.VisitedAt, p.VisitedBy,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*product.Product, error) {
	var p product.Product
	var status string
	var created, modified, visited time.Time
	err := row.Scan(
		&p.ID, &p.DataSourceID, &p.ListingID, &p.VIN,
		&p.Make, &p.MakeID, &p.Model, &p.ModelID, &p.Trim, &p.TrimID, &p.Year,
		&p.Price, &p.Mileage, &p.ExteriorColor, &p.InteriorColor,
		&p.Address.Line, &p.Address.City, &p.Address.State, &p.Address.Zip, &p.Address.Latitude, &p.Address.Longitude,
		&p.ImageURL, &p.DealerName, &p.DealerURL, &p.StockNumber,
		&p.Fuel, &p.Transmission, &p.Drivetrain, &p.Body,
		&p.SourceURL, &status,
		&created, &p.CreatedBy, &modified, &p.ModifiedBy, &visited, &p.VisitedBy,
	)
	if err != nil {
		return nil, err
	}
	p.Status = product.Status(status)
	p.CreatedAt, p.ModifiedAt, p.VisitedAt = created.UTC(), modified.UTC(), visited.UTC()
	return &p, nil
}

func identity(p *product.Product) string {
	if p.ListingID != "" {
		return p.ListingID
	}
	return p.VIN
}
