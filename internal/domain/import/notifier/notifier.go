// Package notifier publishes import progress events to an AMQP exchange so
// other services can follow long imports.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/service"
)

const (
	publishTimeout = 5 * time.Second
	queueSize      = 256
)

// Publisher is the part of *amqp091.Channel the notifier uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// ProgressMessage is the JSON body of every published event.
type ProgressMessage struct {
	service.Event
	PublishedAt time.Time `json:"published_at"`
}

// RoutingKey is import.<kind>.<status>, e.g. import.expense.success.
func RoutingKey(e service.Event) string {
	return fmt.Sprintf("import.%s.%s", e.Kind, e.Status)
}

// Notifier implements service.Observer. Events are queued and published from
// Run; when the queue is full, intermediate events are dropped.
type Notifier struct {
	publisher Publisher
	exchange  string
	logger    *slog.Logger
	queue     chan service.Event

	conn    *amqp091.Connection
	channel *amqp091.Channel
}

var _ service.Observer = (*Notifier)(nil)

// New wraps an open publisher.
func New(publisher Publisher, exchange string, logger *slog.Logger) *Notifier {
	return &Notifier{
		publisher: publisher,
		exchange:  exchange,
		logger:    logger,
		queue:     make(chan service.Event, queueSize),
	}
}

// Dial connects to the broker and declares a durable topic exchange.
func Dial(url, exchange string, logger *slog.Logger) (*Notifier, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	n := New(channel, exchange, logger)
	n.conn = conn
	n.channel = channel
	return n, nil
}

// OnEvent queues e without blocking the import.
func (n *Notifier) OnEvent(ctx context.Context, e service.Event) {
	select {
	case n.queue <- e:
	default:
		if e.Terminal() {
			n.logger.Warn("notifier queue full, dropping terminal event",
				slog.String("import_id", e.ImportID.String()), slog.String("status", string(e.Status)))
		}
	}
}

// Run publishes queued events until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-n.queue:
			if err := n.publish(ctx, e); err != nil {
				n.logger.Warn("failed to publish import event",
					slog.String("import_id", e.ImportID.String()), slog.Any("error", err))
			}
		}
	}
}

func (n *Notifier) publish(ctx context.Context, e service.Event) error {
	body, err := json.Marshal(ProgressMessage{Event: e, PublishedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = n.publisher.PublishWithContext(
		ctx,
		n.exchange,    // exchange
		RoutingKey(e), // routing key
		false,         // mandatory
		false,         // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			MessageId:    e.ImportID.String(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close releases the broker connection opened by Dial.
func (n *Notifier) Close() error {
	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
