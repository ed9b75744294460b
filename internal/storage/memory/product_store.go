package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/dealer-gatherer/internal/product"
)

// ProductStore implements product.Store in memory. Deleted products move to a history
// list the same way the Postgres store moves them to a history table.
type ProductStore struct {
	mu      sync.RWMutex
	nextID  int64
	rows    map[int64]product.Product
	history []product.Product
	now     func() time.Time
}

// NewProductStore constructs an empty ProductStore.
func NewProductStore() *ProductStore {
	return &ProductStore{
		rows: make(map[int64]product.Product),
		now:  time.Now,
	}
}

// FindByIdentity returns the product of dataSourceID whose listing id (or VIN when the
// listing carried none) equals id.
func (s *ProductStore) FindByIdentity(_ context.Context, dataSourceID int64, id string) (*product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.sortedIDs() {
		p := s.rows[key]
		if p.DataSourceID != dataSourceID {
			continue
		}
		if p.ListingID == id || (p.ListingID == "" && strings.EqualFold(p.VIN, id)) {
			return clone(p), nil
		}
	}
	return nil, nil
}

// FindByVIN returns every product carrying vin, across data sources.
func (s *ProductStore) FindByVIN(_ context.Context, vin string) ([]*product.Product, error) {
	if vin == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*product.Product
	for _, key := range s.sortedIDs() {
		if p := s.rows[key]; strings.EqualFold(p.VIN, vin) {
			out = append(out, clone(p))
		}
	}
	return out, nil
}

// FindBySource returns every product of dataSourceID.
func (s *ProductStore) FindBySource(_ context.Context, dataSourceID int64) ([]*product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*product.Product
	for _, key := range s.sortedIDs() {
		if p := s.rows[key]; p.DataSourceID == dataSourceID {
			out = append(out, clone(p))
		}
	}
	return out, nil
}

// SaveAll inserts products without an id and replaces the rest. New ids are written
// back into the given products.
func (s *ProductStore) SaveAll(_ context.Context, products []*product.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		if p == nil {
			continue
		}
		if p.ID == 0 {
			s.nextID++
			p.ID = s.nextID
		} else if _, ok := s.rows[p.ID]; !ok {
			return fmt.Errorf("product %d not found", p.ID)
		}
		s.rows[p.ID] = *clone(*p)
	}
	return nil
}

// DeleteAllByID moves every listed product to history.
func (s *ProductStore) DeleteAllByID(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.retire(id)
	}
	return nil
}

// DeleteByID moves one product to history. Unknown ids are ignored.
func (s *ProductStore) DeleteByID(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retire(id)
	return nil
}

// History returns the deleted products in deletion order.
func (s *ProductStore) History() []product.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]product.Product(nil), s.history...)
}

// Len returns the number of live products.
func (s *ProductStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *ProductStore) retire(id int64) {
	p, ok := s.rows[id]
	if !ok {
		return
	}
	delete(s.rows, id)
	p.ModifiedAt = s.now().UTC()
	s.history = append(s.history, p)
}

// sortedIDs keeps lookups deterministic. Callers hold the lock.
func (s *ProductStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func clone(p product.Product) *product.Product {
	if p.Price != nil {
		p.Price = product.Int(*p.Price)
	}
	if p.Mileage != nil {
		p.Mileage = product.Int(*p.Mileage)
	}
	return &p
}
