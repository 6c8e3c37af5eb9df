// Package pubsub publishes completion events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
)

type sendFunc func(ctx context.Context, topic string, msg *pubsub.Message) (string, error)

// Publisher sends JSON payloads, keeping one topic publisher per topic.
type Publisher struct {
	send sendFunc
	stop func()
}

// New creates a Publisher backed by client. Close stops every topic
// publisher it opened; the client itself stays owned by the caller.
func New(client *pubsub.Client) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	var mu sync.Mutex
	topics := make(map[string]*pubsub.Publisher)
	send := func(ctx context.Context, topic string, msg *pubsub.Message) (string, error) {
		mu.Lock()
		pub, ok := topics[topic]
		if !ok {
			pub = client.Publisher(topic)
			topics[topic] = pub
		}
		mu.Unlock()
		return pub.Publish(ctx, msg).Get(ctx)
	}
	stop := func() {
		mu.Lock()
		defer mu.Unlock()
		for name, pub := range topics {
			pub.Stop()
			delete(topics, name)
		}
	}
	return &Publisher{send: send, stop: stop}, nil
}

func newPublisher(send sendFunc) *Publisher {
	return &Publisher{send: send, stop: func() {}}
}

// Publish marshals the payload to JSON and waits for the server-assigned ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	}
	id, err := p.send(ctx, topic, msg)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes and stops the topic publishers.
func (p *Publisher) Close() error {
	p.stop()
	return nil
}
