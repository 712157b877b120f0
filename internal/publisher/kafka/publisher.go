// Package kafka publishes events to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config lists the brokers of the cluster.
type Config struct {
	Brokers      []string
	WriteTimeout time.Duration
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type keyed interface {
	Key() string
}

// Publisher writes one message per Publish call; the topic is set per message
// so a single writer serves every topic.
type Publisher struct {
	writer writer
	now    func() time.Time
}

// New builds a synchronous writer that waits for one replica ack.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: timeout,
	}
	return newWithWriter(w), nil
}

func newWithWriter(w writer) *Publisher {
	return &Publisher{writer: w, now: time.Now}
}

// Publish marshals payload and writes it. Keyed payloads use their key so
// events of one announcement land on one partition. Kafka assigns no message
// id, so the returned id is "topic/key".
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("topic is required")
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	msg := kafka.Message{Topic: topic, Value: value, Time: p.now()}
	if k, ok := payload.(keyed); ok {
		msg.Key = []byte(k.Key())
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write message to kafka: %w", err)
	}
	return topic + "/" + string(msg.Key), nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
