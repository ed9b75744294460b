package crawler

import (
	"context"
	"io"
	"time"
)

// SourceStore persists data-source state.
type SourceStore interface {
	// ExistsAtURL reports whether a data source other than excludeID already covers rawURL's site.
	ExistsAtURL(ctx context.Context, rawURL string, excludeID int64) (bool, error)
	SaveStatus(ctx context.Context, ds DataSource) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes data-source reports to the cluster.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for work orders.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and work-order IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a work order ready to run.
type QueueItem struct {
	Order     WorkOrder
	Attempt   int
	Submitted int64
}
