// Package pubsub publishes events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

type keyed interface {
	Key() string
}

// Publisher keeps one topic handle per topic name.
type Publisher struct {
	client   *pubsub.Client
	ordering bool

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// Option customises the Publisher.
type Option func(*Publisher)

// WithOrdering publishes keyed payloads with an ordering key.
func WithOrdering() Option {
	return func(p *Publisher) { p.ordering = true }
}

// New wraps an existing client. The client is closed by Close.
func New(client *pubsub.Client, opts ...Option) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	p := &Publisher{client: client, topics: make(map[string]*pubsub.Topic)}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Dial creates a client for project using Application Default Credentials.
func Dial(ctx context.Context, project string, opts ...Option) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return New(client, opts...)
}

// Publish marshals payload to JSON and waits for the server ack.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	if k, ok := payload.(keyed); ok {
		msg.Attributes["key"] = k.Key()
		if p.ordering {
			msg.OrderingKey = k.Key()
		}
	}
	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		t.EnableMessageOrdering = p.ordering
		p.topics[name] = t
	}
	return t
}

// Close flushes every topic and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = map[string]*pubsub.Topic{}
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
