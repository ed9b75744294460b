// Package pubsub implements crawler.Queue on Google Cloud Pub/Sub: work orders published
// by the cluster arrive on a subscription, and Enqueue publishes to the matching topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/dealer-gatherer/internal/crawler"
)

const attemptAttribute = "attempt"

// ErrStopped is returned by Dequeue after the receive loop ended.
var ErrStopped = errors.New("pubsub receive stopped")

// Queue delivers work orders from a subscription. Messages are acknowledged once a worker
// has taken them, so an order is worked at most once.
type Queue struct {
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	items chan crawler.QueueItem
	done  chan struct{}
	once  sync.Once
	err   error
}

// New builds a queue over topic (for Enqueue) and sub (for Dequeue). Either may be nil
// when the process only produces or only consumes.
func New(topic *pubsub.Topic, sub *pubsub.Subscription, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		topic:  topic,
		sub:    sub,
		logger: logger.Named("pubsub_queue"),
		items:  make(chan crawler.QueueItem),
		done:   make(chan struct{}),
	}
}

// Start runs the subscription receive loop until ctx ends.
func (q *Queue) Start(ctx context.Context) {
	q.once.Do(func() {
		if q.sub == nil {
			q.err = errors.New("pubsub subscription is not configured")
			close(q.done)
			return
		}
		go func() {
			defer close(q.done)
			err := q.sub.Receive(ctx, q.receive)
			if err != nil && ctx.Err() == nil {
				q.logger.Error("pubsub receive failed", zap.Error(err))
				q.err = err
			}
		}()
	})
}

func (q *Queue) receive(ctx context.Context, msg *pubsub.Message) {
	var order crawler.WorkOrder
	if err := json.Unmarshal(msg.Data, &order); err != nil {
		q.logger.Warn("dropping undecodable work order", zap.String("message_id", msg.ID), zap.Error(err))
		msg.Ack()
		return
	}
	item := crawler.QueueItem{Order: order, Attempt: attempt(msg), Submitted: msg.PublishTime.Unix()}
	select {
	case q.items <- item:
		msg.Ack()
	case <-ctx.Done():
		msg.Nack()
	}
}

func attempt(msg *pubsub.Message) int {
	if msg.DeliveryAttempt != nil {
		return *msg.DeliveryAttempt
	}
	if n, err := strconv.Atoi(msg.Attributes[attemptAttribute]); err == nil && n > 0 {
		return n
	}
	return 1
}

// Dequeue blocks until a work order arrives. Start must have been called.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item := <-q.items:
		return item, nil
	case <-q.done:
		if q.err != nil {
			return crawler.QueueItem{}, fmt.Errorf("%w: %w", ErrStopped, q.err)
		}
		return crawler.QueueItem{}, ErrStopped
	}
}

// Enqueue publishes item's work order and waits for the server to accept it.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if q.topic == nil {
		return errors.New("pubsub topic is not configured")
	}
	data, err := json.Marshal(item.Order)
	if err != nil {
		return fmt.Errorf("marshal work order: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{attemptAttribute: strconv.Itoa(max(item.Attempt, 1))},
	}
	if _, err := q.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish work order: %w", err)
	}
	return nil
}

// Stop flushes pending publishes.
func (q *Queue) Stop() {
	if q.topic != nil {
		q.topic.Stop()
	}
}
