// Package seen provides the case-insensitive sets that gate crawl-wide deduplication
// of URLs, listing identifiers and VINs.
package seen

import (
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	minEstimate       = 1000
	falsePositiveRate = 0.001
	// Shorter values are too generic to be treated as a URL fingerprint.
	minContainedLength = 5
)

// Set is a concurrency-safe string set with case-insensitive membership. A Bloom filter
// answers most negative lookups; an exact map settles the rest.
type Set struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

// New creates a set sized for estimatedItems.
func New(estimatedItems int) *Set {
	if estimatedItems < minEstimate {
		estimatedItems = minEstimate
	}
	return &Set{
		filter: bloom.NewWithEstimates(uint(estimatedItems), falsePositiveRate),
		exact:  make(map[string]struct{}),
	}
}

func key(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// Add inserts v and reports whether it was absent. Only one of several concurrent
// callers adding the same value observes true.
func (s *Set) Add(v string) bool {
	k := key(v)
	if k == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.exact[k]; exists {
		return false
	}
	s.filter.AddString(k)
	s.exact[k] = struct{}{}
	return true
}

// Contains reports whether v was added.
func (s *Set) Contains(v string) bool {
	k := key(v)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.filter.TestString(k) {
		return false
	}
	_, exists := s.exact[k]
	return exists
}

// Remove deletes v. The Bloom filter keeps its bit, so later lookups fall through to the map.
func (s *Set) Remove(v string) {
	k := key(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.exact, k)
}

// Len returns the number of distinct values.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exact)
}

// Values returns a snapshot of the set, lower-cased.
func (s *Set) Values() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.exact))
	for v := range s.exact {
		out = append(out, v)
	}
	return out
}

// AnyContainedIn reports whether some member of the set is a substring of text.
func (s *Set) AnyContainedIn(text string) bool {
	lower := strings.ToLower(text)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for v := range s.exact {
		if len(v) >= minContainedLength && strings.Contains(lower, v) {
			return true
		}
	}
	return false
}
