// Package frontier holds the crawl adjacency map: unvisited links grouped under the page
// that discovered them, bounded in size and in expansion depth.
package frontier

import (
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

// Config bounds the frontier.
type Config struct {
	MaxEdges         int
	MaxParents       int
	AbsoluteMaxDepth int
	InitialMaxDepth  int
	// DepthStep is how far the max depth grows each time it fires.
	DepthStep int
	// DepthSlack is how close depth must be to the max before growth is considered.
	DepthSlack int
	// Near-duplicate filter: queries longer than SimilarQueryLength are compared against
	// the parent's queued links and dropped below SimilarDistance.
	SimilarQueryLength int
	SimilarDistance    int
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		MaxEdges:           4096,
		MaxParents:         512,
		AbsoluteMaxDepth:   16,
		InitialMaxDepth:    8,
		DepthStep:          2,
		DepthSlack:         2,
		SimilarQueryLength: 24,
		SimilarDistance:    3,
	}
}

// ScoreFunc ranks a URL; higher is visited first.
type ScoreFunc func(rawURL string) int

// Stats is a point-in-time view of the frontier.
type Stats struct {
	Edges    int
	Parents  int
	Depth    int
	MaxDepth int
}

type edge struct {
	url      string
	priority int
	seq      uint64
}

type parentQueue struct {
	url      string
	priority int
	seq      uint64
	edges    []edge
}

// Frontier is safe for concurrent use; every compound update runs under one lock.
type Frontier struct {
	mu          sync.Mutex
	cfg         Config
	parentScore ScoreFunc
	edgeScore   ScoreFunc

	parents  map[string]*parentQueue
	queued   map[string]struct{}
	total    int
	depth    int
	maxDepth int
	seq      uint64
}

// New builds an empty frontier. Nil score functions rank everything equally.
func New(cfg Config, parentScore, edgeScore ScoreFunc) *Frontier {
	def := DefaultConfig()
	if cfg.MaxEdges <= 0 {
		cfg.MaxEdges = def.MaxEdges
	}
	if cfg.MaxParents <= 0 {
		cfg.MaxParents = def.MaxParents
	}
	if cfg.AbsoluteMaxDepth <= 0 {
		cfg.AbsoluteMaxDepth = def.AbsoluteMaxDepth
	}
	if cfg.InitialMaxDepth <= 0 || cfg.InitialMaxDepth > cfg.AbsoluteMaxDepth {
		cfg.InitialMaxDepth = min(def.InitialMaxDepth, cfg.AbsoluteMaxDepth)
	}
	if cfg.DepthStep <= 0 {
		cfg.DepthStep = def.DepthStep
	}
	if cfg.SimilarQueryLength <= 0 {
		cfg.SimilarQueryLength = def.SimilarQueryLength
	}
	if cfg.SimilarDistance <= 0 {
		cfg.SimilarDistance = def.SimilarDistance
	}
	if parentScore == nil {
		parentScore = func(string) int { return 0 }
	}
	if edgeScore == nil {
		edgeScore = func(string) int { return 0 }
	}
	return &Frontier{
		cfg:         cfg,
		parentScore: parentScore,
		edgeScore:   edgeScore,
		parents:     make(map[string]*parentQueue),
		queued:      make(map[string]struct{}),
		maxDepth:    cfg.InitialMaxDepth,
	}
}

// Add queues urls under parent and returns how many were accepted before trimming.
// Nothing is accepted once depth has reached the current max depth.
func (f *Frontier) Add(parent string, urls []string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.depth >= f.maxDepth || len(urls) == 0 {
		return 0
	}

	pq, exists := f.parents[parent]
	if !exists {
		f.seq++
		pq = &parentQueue{url: parent, priority: f.parentScore(parent), seq: f.seq}
	}

	accepted := 0
	for _, raw := range urls {
		k := strings.ToLower(raw)
		if k == "" {
			continue
		}
		if _, dup := f.queued[k]; dup {
			continue
		}
		if f.nearDuplicate(pq, raw) {
			continue
		}
		f.seq++
		pq.edges = append(pq.edges, edge{url: raw, priority: f.edgeScore(raw), seq: f.seq})
		f.queued[k] = struct{}{}
		accepted++
	}
	if accepted == 0 {
		return 0
	}

	if !exists {
		if len(f.parents) >= f.cfg.MaxParents && !f.evictParentBelow(pq.priority) {
			for _, e := range pq.edges {
				delete(f.queued, strings.ToLower(e.url))
			}
			return 0
		}
		f.parents[parent] = pq
	}
	f.total += accepted
	f.trimEdges()
	return accepted
}

func (f *Frontier) nearDuplicate(pq *parentQueue, raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || len(u.RawQuery) <= f.cfg.SimilarQueryLength {
		return false
	}
	for _, e := range pq.edges {
		if levenshtein.ComputeDistance(strings.ToLower(e.url), strings.ToLower(raw)) < f.cfg.SimilarDistance {
			return true
		}
	}
	return false
}

// evictParentBelow drops the lowest-priority parent if it ranks under priority.
func (f *Frontier) evictParentBelow(priority int) bool {
	var lowest *parentQueue
	for _, pq := range f.parents {
		if lowest == nil || pq.priority < lowest.priority || (pq.priority == lowest.priority && pq.seq > lowest.seq) {
			lowest = pq
		}
	}
	if lowest == nil || lowest.priority >= priority {
		return false
	}
	f.dropParent(lowest)
	return true
}

func (f *Frontier) dropParent(pq *parentQueue) {
	for _, e := range pq.edges {
		delete(f.queued, strings.ToLower(e.url))
	}
	f.total -= len(pq.edges)
	delete(f.parents, pq.url)
}

// trimEdges removes the lowest-priority, most recently queued edges until the cap holds.
func (f *Frontier) trimEdges() {
	excess := f.total - f.cfg.MaxEdges
	if excess <= 0 {
		return
	}
	type ref struct {
		pq *parentQueue
		e  edge
	}
	all := make([]ref, 0, f.total)
	for _, pq := range f.parents {
		for _, e := range pq.edges {
			all = append(all, ref{pq: pq, e: e})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].e.priority != all[j].e.priority {
			return all[i].e.priority < all[j].e.priority
		}
		return all[i].e.seq > all[j].e.seq
	})
	drop := make(map[uint64]struct{}, excess)
	for _, r := range all[:excess] {
		drop[r.e.seq] = struct{}{}
		delete(f.queued, strings.ToLower(r.e.url))
	}
	for _, pq := range f.parents {
		kept := pq.edges[:0]
		for _, e := range pq.edges {
			if _, gone := drop[e.seq]; !gone {
				kept = append(kept, e)
			}
		}
		pq.edges = kept
		if len(pq.edges) == 0 {
			delete(f.parents, pq.url)
		}
	}
	f.total -= excess
}

// Claim removes the highest-priority parent and returns its edges as a shared backlog.
func (f *Frontier) Claim() (*Backlog, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var best *parentQueue
	for _, pq := range f.parents {
		if best == nil || pq.priority > best.priority || (pq.priority == best.priority && pq.seq < best.seq) {
			best = pq
		}
	}
	if best == nil {
		return nil, false
	}
	delete(f.parents, best.url)
	f.total -= len(best.edges)

	edges := make([]edge, len(best.edges))
	copy(edges, best.edges)
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].priority > edges[j].priority })
	urls := make([]string, len(edges))
	for i, e := range edges {
		urls[i] = e.url
	}
	return &Backlog{parent: best.url, urls: urls}, true
}

// CompleteParent advances the depth counter after a parent's backlog drained. When
// depth nears the max and the drain produced products, the max grows toward the
// absolute cap.
func (f *Frontier) CompleteParent(foundProducts bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.depth < f.maxDepth {
		f.depth++
	}
	if foundProducts && f.depth >= f.maxDepth-f.cfg.DepthSlack && f.maxDepth < f.cfg.AbsoluteMaxDepth {
		f.maxDepth = min(f.maxDepth+f.cfg.DepthStep, f.cfg.AbsoluteMaxDepth)
	}
}

// Len returns the number of queued edges.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

// Stats returns the current sizes and depth.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{Edges: f.total, Parents: len(f.parents), Depth: f.depth, MaxDepth: f.maxDepth}
}

// Backlog is one claimed parent's edge queue, shared by its worker and any helpers.
type Backlog struct {
	mu     sync.Mutex
	parent string
	urls   []string
}

// Parent returns the page the edges were discovered on.
func (b *Backlog) Parent() string {
	return b.parent
}

// Next pops the next edge.
func (b *Backlog) Next() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.urls) == 0 {
		return "", false
	}
	next := b.urls[0]
	b.urls = b.urls[1:]
	return next, true
}

// Len returns the edges left.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.urls)
}
