package pubsub

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/dealer-gatherer/internal/crawler"
)

func newFakeClient(t *testing.T) *pubsub.Client {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestQueueRoundTrip(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := newFakeClient(t)
	topic, err := client.CreateTopic(ctx, "work-orders")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "gatherer", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	q := New(topic, sub, nil)
	defer q.Stop()
	q.Start(ctx)

	order := crawler.WorkOrder{
		ID:         "wo-1",
		Type:       crawler.OrderBuild,
		Source:     crawler.DataSource{ID: 12, URL: "https://d.example", BotKey: "group"},
		URLsToWork: []string{"https://d.example/v/1"},
	}
	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{Order: order, Attempt: 2}))

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, order, item.Order)
	require.Equal(t, 2, item.Attempt)
	require.NotZero(t, item.Submitted)
}

func TestQueueDropsUndecodableMessages(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := newFakeClient(t)
	topic, err := client.CreateTopic(ctx, "work-orders")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "gatherer", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)
	defer topic.Stop()

	_, err = topic.Publish(ctx, &pubsub.Message{Data: []byte("not json")}).Get(ctx)
	require.NoError(t, err)
	_, err = topic.Publish(ctx, &pubsub.Message{Data: []byte(`{"id":"wo-2","type":"GATHER","data_source":{"id":1,"url":"https://d.example"}}`)}).Get(ctx)
	require.NoError(t, err)

	q := New(nil, sub, nil)
	q.Start(ctx)

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "wo-2", item.Order.ID)
	require.Equal(t, 1, item.Attempt)
}

func TestQueueWithoutSubscription(t *testing.T) {
	t.Parallel()

	q := New(nil, nil, nil)
	q.Start(context.Background())

	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrStopped)
	require.Error(t, q.Enqueue(context.Background(), crawler.QueueItem{}))
}
