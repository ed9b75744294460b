package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/dealer-gatherer/internal/address"
)

// maxPlaces bounds PlacesByName; common city names repeat across states.
const maxPlaces = 50

// PostalStore implements address.Lookup over a postal code table.
type PostalStore struct {
	db    DB
	table string
}

// NewPostalStore builds a lookup over db. An empty table defaults to "postal_codes".
func NewPostalStore(db DB, table string) (*PostalStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table, "postal_codes")
	if err != nil {
		return nil, err
	}
	return &PostalStore{db: db, table: table}, nil
}

// PlaceByZip returns the place for a five digit ZIP.
func (s *PostalStore) PlaceByZip(ctx context.Context, zip string) (address.Place, bool, error) {
	query := fmt.Sprintf("SELECT city, state, zip, latitude, longitude FROM %s WHERE zip = $1", s.table)
	var p address.Place
	err := s.db.QueryRow(ctx, query, zip).Scan(&p.City, &p.State, &p.Zip, &p.Latitude, &p.Longitude)
	if errors.Is(err, pgx.ErrNoRows) {
		return address.Place{}, false, nil
	}
	if err != nil {
		return address.Place{}, false, fmt.Errorf("lookup zip %s: %w", zip, err)
	}
	return p, true, nil
}

// PlacesByName returns places whose city matches pattern case-insensitively.
func (s *PostalStore) PlacesByName(ctx context.Context, pattern string) ([]address.Place, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT city, state, zip, latitude, longitude FROM %s
WHERE city ILIKE $1 ORDER BY state, zip LIMIT %d`, s.table, maxPlaces)
	rows, err := s.db.Query(ctx, query, escapeLike(pattern))
	if err != nil {
		return nil, fmt.Errorf("lookup city %s: %w", pattern, err)
	}
	defer rows.Close()
	var places []address.Place
	for rows.Next() {
		var p address.Place
		if err := rows.Scan(&p.City, &p.State, &p.Zip, &p.Latitude, &p.Longitude); err != nil {
			return nil, fmt.Errorf("scan place: %w", err)
		}
		places = append(places, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate places: %w", err)
	}
	return places, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
