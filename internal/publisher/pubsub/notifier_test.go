package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

func newTestTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "archive-batches")
	require.NoError(t, err)
	return srv, topic
}

func TestNewRequiresTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)

	var n *Notifier
	require.Error(t, n.Notify(context.Background(), archive.Report{}))
	n.Stop()
}

func TestNotifyPublishesReport(t *testing.T) {
	t.Parallel()

	srv, topic := newTestTopic(t)
	n, err := New(topic)
	require.NoError(t, err)
	defer n.Stop()

	started := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	report := archive.Report{
		BatchID:   "0190c1a2-0000-7000-8000-000000000000",
		Field:     "Post3",
		Processed: 10,
		Succeeded: 8,
		Failed:    2,
		Started:   started,
		Finished:  started.Add(2 * time.Minute),
	}
	require.NoError(t, n.Notify(context.Background(), report))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, EventBatchCompleted, msgs[0].Attributes["event"])
	assert.Equal(t, report.BatchID, msgs[0].Attributes["batch_id"])
	assert.Equal(t, "Post3", msgs[0].Attributes["field"])

	var got archive.Report
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, 10, got.Processed)
	assert.Equal(t, 2, got.Failed)
	assert.True(t, got.Finished.Equal(report.Finished))
}
