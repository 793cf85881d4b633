// Package pubsub announces finished archiving batches on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

// EventBatchCompleted is the event attribute set on every notification.
const EventBatchCompleted = "batch.completed"

// Notifier publishes one message per finished batch.
type Notifier struct {
	topic *pubsub.Topic
}

// New creates a Notifier for the provided topic.
func New(topic *pubsub.Topic) (*Notifier, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &Notifier{topic: topic}, nil
}

// Connect creates a client for projectID and checks that topicName exists.
// The caller owns the returned client and must Close it after stopping the
// notifier.
func Connect(ctx context.Context, projectID, topicName string, logger *zap.Logger) (*pubsub.Client, *Notifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicName)
	ok, err := topic.Exists(ctx)
	if err == nil && !ok {
		err = fmt.Errorf("topic %q does not exist", topicName)
	}
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, nil, fmt.Errorf("check pubsub topic: %w", err)
	}
	n, err := New(topic)
	if err != nil {
		return nil, nil, err
	}
	return client, n, nil
}

// Notify publishes the report as JSON and waits for the server to ack it.
func (n *Notifier) Notify(ctx context.Context, report archive.Report) error {
	if n == nil || n.topic == nil {
		return fmt.Errorf("pubsub notifier is not configured")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event":    EventBatchCompleted,
			"batch_id": report.BatchID,
			"field":    report.Field,
		},
	}
	if _, err := n.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish batch report: %w", err)
	}
	return nil
}

// Stop flushes pending messages and releases the topic's goroutines.
func (n *Notifier) Stop() {
	if n == nil || n.topic == nil {
		return
	}
	n.topic.Stop()
}
