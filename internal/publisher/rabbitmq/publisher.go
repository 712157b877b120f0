// Package rabbitmq publishes events to a RabbitMQ exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Config describes the exchange and the queue bound to it.
type Config struct {
	URL      string
	Exchange string
	// Queue, when set, is declared durable and bound with RoutingKey.
	Queue      string
	RoutingKey string
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type keyed interface {
	Key() string
}

// Publisher sends persistent JSON messages. The topic passed to Publish is
// used as routing key.
type Publisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	logger   *zap.Logger
	now      func() time.Time
}

// Dial connects, declares a durable topic exchange and optionally binds a queue.
func Dial(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.URL == "" || cfg.Exchange == "" {
		return nil, errors.New("rabbitmq url and exchange are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declare(ch, cfg); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	logger.Info("connected to rabbitmq",
		zap.String("exchange", cfg.Exchange),
		zap.String("queue", cfg.Queue),
	)
	p := newWithChannel(ch, cfg.Exchange, logger)
	p.conn = conn
	return p, nil
}

func declare(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if cfg.Queue == "" {
		return nil
	}
	q, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

func newWithChannel(ch channel, exchange string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{channel: ch, exchange: exchange, logger: logger, now: time.Now}
}

// Publish marshals payload and publishes it with the topic as routing key.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    uuid.NewString(),
		Timestamp:    p.now().UTC(),
		Body:         body,
	}
	if k, ok := payload.(keyed); ok {
		msg.Headers = amqp.Table{"key": k.Key()}
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, topic, false, false, msg); err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	p.logger.Debug("published message",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", topic),
		zap.String("message_id", msg.MessageId),
	)
	return msg.MessageId, nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
