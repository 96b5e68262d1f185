// Package publisher announces committed deliveries on a RabbitMQ exchange so
// downstream consumers can follow what the relay has sent.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"feed_relay/internal/domain"
)

// RabbitMQ publishes DeliveredMessage events as persistent JSON messages.
type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	// QueueName is bound to Exchange with RoutingKey on connect. Empty
	// leaves queue management to consumers.
	QueueName string
}

// NewRabbitMQ dials the broker and declares the relay's topology. Any
// failure after the dial releases the connection before returning.
func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open channel: %w", err), conn.Close())
	}

	if err := declareTopology(ch, cfg); err != nil {
		return nil, errors.Join(err, ch.Close(), conn.Close())
	}

	logger.Info("delivery events enabled",
		"exchange", cfg.Exchange,
		"routing_key", cfg.RoutingKey,
		"queue", cfg.QueueName,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

// declareTopology makes a durable direct exchange and, when a queue is
// configured, a durable queue bound to it. Declarations are idempotent so
// every relay instance runs them on start.
func declareTopology(ch *amqp.Channel, cfg Config) error {
	const (
		durable    = true
		autoDelete = false
		internal   = false
		exclusive  = false
		noWait     = false
	)

	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, durable, autoDelete, internal, noWait, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", cfg.Exchange, err)
	}
	if cfg.QueueName == "" {
		return nil
	}

	q, err := ch.QueueDeclare(cfg.QueueName, durable, autoDelete, exclusive, noWait, nil)
	if err != nil {
		return fmt.Errorf("declare queue %q: %w", cfg.QueueName, err)
	}
	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, noWait, nil); err != nil {
		return fmt.Errorf("bind queue %q to %q: %w", q.Name, cfg.Exchange, err)
	}
	return nil
}

// DeliveredMessage announces that an entry reached its recipients and the
// source's progress was committed.
type DeliveredMessage struct {
	RunID     string                 `json:"run_id"`
	SourceID  string                 `json:"source_id"`
	Entry     domain.Entry           `json:"entry"`
	Outcome   domain.DeliveryOutcome `json:"outcome"`
	Timestamp time.Time              `json:"timestamp"`
}

// messageID is stable across re-deliveries of the same entry so consumers
// can deduplicate.
func (m DeliveredMessage) messageID() string {
	return m.SourceID + "/" + m.Entry.Identifier
}

// envelope encodes msg for the wire, stamping it with now when the caller
// left Timestamp unset.
func envelope(msg DeliveredMessage, now time.Time) (amqp.Publishing, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now.UTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode delivery event: %w", err)
	}

	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    msg.messageID(),
		Type:         string(msg.Outcome),
		Timestamp:    msg.Timestamp,
		Body:         body,
	}, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, msg DeliveredMessage) error {
	pub, err := envelope(msg, time.Now())
	if err != nil {
		return err
	}

	// Not mandatory: with no queue bound the event is dropped by the broker.
	if err := r.channel.PublishWithContext(ctx, r.exchange, r.routingKey, false, false, pub); err != nil {
		return fmt.Errorf("publish %s: %w", pub.MessageId, err)
	}

	r.logger.Debug("delivery event published",
		"message_id", pub.MessageId,
		"outcome", msg.Outcome,
	)
	return nil
}

func (r *RabbitMQ) Close() error {
	var errs []error
	if r.channel != nil {
		errs = append(errs, r.channel.Close())
	}
	if r.conn != nil {
		errs = append(errs, r.conn.Close())
	}
	return errors.Join(errs...)
}
