// Package dispatcher fans work orders out to a pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/JakeFAU/dealer-gatherer/internal/crawler"
	"github.com/JakeFAU/dealer-gatherer/internal/worker"
)

// ErrInvalidOrder is returned by Submit for work orders that can never run.
var ErrInvalidOrder = errors.New("invalid work order")

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	ids     crawler.IDGenerator
	clock   crawler.Clock
}

// New creates a Dispatcher. ids and clock stamp submitted orders and may be nil.
func New(queue crawler.Queue, workers []*worker.Worker, ids crawler.IDGenerator, clock crawler.Clock) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		ids:     ids,
		clock:   clock,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit validates order, assigns an ID when missing and queues it.
func (d *Dispatcher) Submit(ctx context.Context, order crawler.WorkOrder) (crawler.WorkOrder, error) {
	if err := Validate(order); err != nil {
		return crawler.WorkOrder{}, err
	}
	if order.ID == "" && d.ids != nil {
		id, err := d.ids.NewID()
		if err != nil {
			return crawler.WorkOrder{}, fmt.Errorf("generate work order id: %w", err)
		}
		order.ID = id
	}
	item := crawler.QueueItem{Order: order, Attempt: 1}
	if d.clock != nil {
		item.Submitted = d.clock.Now().Unix()
	}
	if err := d.Enqueue(ctx, item); err != nil {
		return crawler.WorkOrder{}, err
	}
	return order, nil
}

// Validate rejects work orders with an unknown type, no source URL, or a BUILD without URLs.
func Validate(order crawler.WorkOrder) error {
	switch order.Type {
	case crawler.OrderGather:
	case crawler.OrderBuild:
		if len(order.URLsToWork) == 0 {
			return fmt.Errorf("%w: BUILD requires urls_to_work", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOrder, order.Type)
	}
	if strings.TrimSpace(order.Source.URL) == "" {
		return fmt.Errorf("%w: data source url is required", ErrInvalidOrder)
	}
	return nil
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
