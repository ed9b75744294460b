package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/dealer-gatherer/internal/catalog"
)

// CatalogSource reads the make/model/trim hierarchy from a flat view with one row per
// trim, plus one row per model with trim_id 0.
type CatalogSource struct {
	db   DB
	view string
}

// NewCatalogSource builds a source over db. An empty view defaults to "catalog_records".
func NewCatalogSource(db DB, view string) (*CatalogSource, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	view, err := tableName(view, "catalog_records")
	if err != nil {
		return nil, err
	}
	return &CatalogSource{db: db, view: view}, nil
}

// CatalogRecords returns every row of the view.
func (c *CatalogSource) CatalogRecords(ctx context.Context) ([]catalog.Record, error) {
	query := fmt.Sprintf(`SELECT make_id, make, model_id, model, trim_id, trim,
	min_year, max_year, min_price, max_price,
	fuels, transmissions, drivetrains, bodies
FROM %s ORDER BY make_id, model_id, trim_id`, c.view)
	rows, err := c.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()
	var records []catalog.Record
	for rows.Next() {
		var r catalog.Record
		err := rows.Scan(
			&r.MakeID, &r.Make, &r.ModelID, &r.Model, &r.TrimID, &r.Trim,
			&r.MinYear, &r.MaxYear, &r.MinPrice, &r.MaxPrice,
			&r.Fuels, &r.Transmissions, &r.Drivetrains, &r.Bodies,
		)
		if err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog: %w", err)
	}
	return records, nil
}
