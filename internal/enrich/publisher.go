// Package enrich contains the best-effort downstream collaborators invoked
// after a job completes: queue publishers and the content archiver. Their
// failures never affect job status.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// Publisher publishes one JSON payload and returns the broker message id.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// TopicPublisher implements Publisher over a Google Cloud Pub/Sub topic.
type TopicPublisher struct {
	topic *pubsub.Topic
}

// NewTopicPublisher wraps an existing topic handle.
func NewTopicPublisher(topic *pubsub.Topic) *TopicPublisher {
	return &TopicPublisher{topic: topic}
}

// Publish marshals the payload to JSON and publishes it, blocking until the
// broker acknowledges.
func (p *TopicPublisher) Publish(ctx context.Context, payload any) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}
