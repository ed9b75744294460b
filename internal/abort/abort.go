// Package abort decides when a crawl has stopped paying for itself.
package abort

import (
	"sort"
	"sync"
	"time"
)

// Step requires at least Minimum items once After has elapsed.
type Step struct {
	After   time.Duration
	Minimum int
}

// DefaultSteps is the yield staircase used for both identifiers and built products.
var DefaultSteps = []Step{
	{15 * time.Minute, 1},
	{30 * time.Minute, 5},
	{45 * time.Minute, 11},
	{60 * time.Minute, 22},
	{75 * time.Minute, 38},
	{90 * time.Minute, 60},
	{105 * time.Minute, 88},
	{120 * time.Minute, 118},
	{135 * time.Minute, 150},
	{150 * time.Minute, 182},
}

// Staircase aborts when a count lags behind its elapsed-time threshold.
type Staircase struct {
	steps []Step
}

// NewStaircase sorts a copy of steps by threshold. Empty input uses DefaultSteps.
func NewStaircase(steps []Step) *Staircase {
	if len(steps) == 0 {
		steps = DefaultSteps
	}
	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].After < sorted[j].After })
	return &Staircase{steps: sorted}
}

// ShouldAbort reports whether count is below the minimum of any threshold already passed.
func (s *Staircase) ShouldAbort(count int, elapsed time.Duration) bool {
	for _, step := range s.steps {
		if elapsed < step.After {
			break
		}
		if count < step.Minimum {
			return true
		}
	}
	return false
}

// Window counts backoff-class responses over a rolling time window.
type Window struct {
	mu     sync.Mutex
	limit  int
	span   time.Duration
	events []time.Time
}

// NewWindow trips after limit events within span.
func NewWindow(limit int, span time.Duration) *Window {
	return &Window{limit: limit, span: span}
}

// Record adds an event at now and reports whether the window is full.
func (w *Window) Record(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, now)
	w.expire(now)
	return w.limit > 0 && len(w.events) >= w.limit
}

// Count returns the events still inside the window at now.
func (w *Window) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expire(now)
	return len(w.events)
}

func (w *Window) expire(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.events) && !w.events[i].After(cutoff) {
		i++
	}
	w.events = w.events[i:]
}
