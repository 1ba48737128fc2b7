// Package pubsub publishes artifact notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// Attributer is implemented by payloads that carry message attributes.
type Attributer interface {
	Attributes() map[string]string
}

// Publisher publishes JSON payloads, keeping one topic handle per topic id.
type Publisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Publisher on top of client. The caller owns the client.
func New(client *pubsub.Client) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	return &Publisher{
		client: client,
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

// Publish marshals the payload to JSON and waits for the server ack.
func (p *Publisher) Publish(ctx context.Context, topicID string, payload any) (string, error) {
	if topicID == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data}
	if attr, ok := payload.(Attributer); ok {
		msg.Attributes = attr.Attributes()
	}

	result := p.topic(topicID).Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes and stops every topic handle.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, topic := range p.topics {
		topic.Stop()
		delete(p.topics, id)
	}
}

func (p *Publisher) topic(id string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	topic, ok := p.topics[id]
	if !ok {
		topic = p.client.Topic(id)
		p.topics[id] = topic
	}
	return topic
}
