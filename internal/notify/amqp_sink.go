package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Damqn23/auction-marketplace/internal/domain"
)

// AMQPConfig configures the AMQP sink.
type AMQPConfig struct {
	URL           string
	Exchange      string
	RoutingPrefix string
}

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type amqpConnection interface {
	Channel() (amqpChannel, error)
	IsClosed() bool
	Close() error
}

type dialFunc func(url string) (amqpConnection, error)

// connAdapter narrows *amqp.Connection to amqpConnection.
type connAdapter struct {
	*amqp.Connection
}

func (c connAdapter) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return connAdapter{conn}, nil
}

// AMQPSink publishes events as persistent JSON messages to a topic exchange
// with routing key "<prefix>.<kind>". The connection is opened lazily and
// re-established on the next delivery after it drops.
type AMQPSink struct {
	cfg    AMQPConfig
	dial   dialFunc
	logger *slog.Logger

	mu   sync.Mutex
	conn amqpConnection
	ch   amqpChannel
}

// NewAMQPSink creates a sink; no connection is made until the first Deliver.
func NewAMQPSink(cfg AMQPConfig, logger *slog.Logger) *AMQPSink {
	if cfg.RoutingPrefix == "" {
		cfg.RoutingPrefix = "auction"
	}
	return &AMQPSink{
		cfg:    cfg,
		dial:   dialAMQP,
		logger: logger.With(slog.String("component", "amqp_sink")),
	}
}

// RoutingKey returns the routing key used for kind.
func (s *AMQPSink) RoutingKey(kind domain.EventKind) string {
	return s.cfg.RoutingPrefix + "." + string(kind)
}

func (s *AMQPSink) Deliver(ctx context.Context, e domain.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("amqp: marshal event %s: %w", e.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connectLocked(); err != nil {
		return err
	}

	err = s.ch.PublishWithContext(ctx, s.cfg.Exchange, s.RoutingKey(e.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         string(e.Kind),
		Timestamp:    e.OccurredAt,
		Body:         body,
	})
	if err != nil {
		s.resetLocked()
		return fmt.Errorf("amqp: publish %s: %w", e.ID, err)
	}
	return nil
}

func (s *AMQPSink) connectLocked() error {
	if s.conn != nil && !s.conn.IsClosed() && s.ch != nil {
		return nil
	}
	s.resetLocked()

	conn, err := s.dial(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		s.cfg.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("amqp: declare exchange %s: %w", s.cfg.Exchange, err)
	}

	s.conn, s.ch = conn, ch
	s.logger.Info("amqp: connected", slog.String("exchange", s.cfg.Exchange))
	return nil
}

func (s *AMQPSink) resetLocked() {
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Close releases the connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	return nil
}

func (s *AMQPSink) Name() string { return "amqp" }
