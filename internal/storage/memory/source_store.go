package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/dealer-gatherer/internal/crawler"
	"github.com/JakeFAU/dealer-gatherer/internal/transport"
)

// SourceStore keeps data sources keyed by id.
type SourceStore struct {
	mu      sync.RWMutex
	sources map[int64]crawler.DataSource
}

// NewSourceStore constructs a SourceStore seeded with sources.
func NewSourceStore(sources ...crawler.DataSource) *SourceStore {
	s := &SourceStore{sources: make(map[int64]crawler.DataSource, len(sources))}
	for _, ds := range sources {
		s.sources[ds.ID] = ds
	}
	return s
}

// ExistsAtURL reports whether a source other than excludeID already covers the host
// of rawURL.
func (s *SourceStore) ExistsAtURL(_ context.Context, rawURL string, excludeID int64) (bool, error) {
	host := transport.HostOf(rawURL)
	if host == "" {
		return false, fmt.Errorf("url %q has no host", rawURL)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, ds := range s.sources {
		if id != excludeID && transport.HostOf(ds.URL) == host {
			return true, nil
		}
	}
	return false, nil
}

// SaveStatus stores the run outcome of ds, creating the source when it is unknown.
func (s *SourceStore) SaveStatus(_ context.Context, ds crawler.DataSource) error {
	if ds.ID <= 0 {
		return fmt.Errorf("data source id must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[ds.ID] = ds
	return nil
}

// Get returns the stored source with id.
func (s *SourceStore) Get(_ context.Context, id int64) (crawler.DataSource, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.sources[id]
	return ds, ok, nil
}
