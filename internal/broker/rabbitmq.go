package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Guizzs26/go-datasync/internal/models"
	"github.com/Guizzs26/go-datasync/pkg/metrics"
)

const (
	Exchange      = "datasync.topic"
	routingPrefix = "datasync.table."
)

// RoutingKey is the topic a change of table is published under.
func RoutingKey(table string, op models.OperationKind) string {
	return routingPrefix + table + "." + string(op)
}

// TablePattern matches every change of table.
func TablePattern(table string) string {
	return routingPrefix + table + ".#"
}

// TableFromRoutingKey extracts the table of a change topic.
func TableFromRoutingKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, routingPrefix)
	if !ok {
		return "", false
	}
	i := strings.LastIndexByte(rest, '.')
	if i <= 0 {
		return "", false
	}
	return rest[:i], true
}

// Publisher announces accepted writes on the topic exchange so that
// listening clients can pull early. It satisfies service.Notifier.
type Publisher struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	logger     *slog.Logger
	connClosed chan *amqp.Error
	chanClosed chan *amqp.Error
	closeOnce  sync.Once
	healthy    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewPublisher initializes a connection and a channel, enabling Publisher Confirms by default
func NewPublisher(url string, l *slog.Logger) (*Publisher, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to declare topic exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to activate Publisher Confirms: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		conn:       c,
		channel:    ch,
		logger:     l,
		connClosed: make(chan *amqp.Error, 1),
		chanClosed: make(chan *amqp.Error, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	p.healthy.Store(true)
	metrics.HealthStatus.Set(1)

	p.conn.NotifyClose(p.connClosed)
	p.channel.NotifyClose(p.chanClosed)

	go func() {
		select {
		case err := <-p.connClosed:
			p.healthy.Store(false)
			metrics.HealthStatus.Set(0)
			l.Warn("RabbitMQ connection closed", "error", err)
		case err := <-p.chanClosed:
			p.healthy.Store(false)
			metrics.HealthStatus.Set(0)
			l.Warn("RabbitMQ channel closed", "error", err)
		case <-p.ctx.Done():
			return
		}
	}()
	l.Info("Successfully connected to RabbitMQ and monitors established", "exchange", Exchange)
	return p, nil
}

// Notify publishes ev and blocks until a confirmation (ACK/NACK) is received
func (p *Publisher) Notify(ctx context.Context, ev models.ChangeEvent) error {
	if !p.IsHealthy() {
		return fmt.Errorf("broker connection is closed")
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	routingKey := RoutingKey(ev.Table, ev.Operation)
	deferred, err := p.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		Exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			MessageId:   ev.EventID,
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
	if err != nil {
		p.logger.Error("failed to publish event to exchange", "routing_key", routingKey, "error", err)
		return fmt.Errorf("publish call failed: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("RabbitMQ NACK received for %s", routingKey)
		}
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("publisher confirm timeout")
	}
}

// Close gracefully shuts down the RabbitMQ resources
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		p.logger.Info("Terminating RabbitMQ publisher")
		p.cancel()
		if p.channel != nil {
			p.channel.Close()
		}
		if p.conn != nil {
			p.conn.Close()
		}
	})
	return nil
}

// IsHealthy returns true if the connection and channel are active
func (p *Publisher) IsHealthy() bool {
	return p.healthy.Load()
}

// Check adapts IsHealthy to a health check.
func (p *Publisher) Check(context.Context) error {
	if !p.IsHealthy() {
		return fmt.Errorf("broker connection is closed")
	}
	return nil
}
