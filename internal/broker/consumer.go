package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Guizzs26/go-datasync/internal/models"
)

// Listener turns change events of the watched tables into sync triggers.
type Listener struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	tables  []string
	logger  *slog.Logger
}

func NewListener(url string, tables []string, logger *slog.Logger) (*Listener, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare topic exchange: %w", err)
	}

	return &Listener{
		conn:    conn,
		channel: ch,
		tables:  tables,
		logger:  logger,
	}, nil
}

// Listen binds a private queue to the watched tables and forwards the table
// of every event to triggers. Events for a table that already has a trigger
// waiting are merged into it.
func (c *Listener) Listen(ctx context.Context, triggers chan<- string) error {
	// Server named, exclusive and auto-deleted: missed events are recovered by polling.
	q, err := c.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	for _, table := range c.tables {
		if err := c.channel.QueueBind(q.Name, TablePattern(table), Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue: %w", err)
		}
	}

	msgs, err := c.channel.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Listener is online and waiting for change events", "queue", q.Name, "tables", c.tables)

	fwdCtx, stop := context.WithCancel(ctx)
	defer stop()
	pending := NewCoalescer()
	go pending.Forward(fwdCtx, triggers)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			table, ok := TableFromRoutingKey(d.RoutingKey)
			if !ok {
				var ev models.ChangeEvent
				if err := json.Unmarshal(d.Body, &ev); err != nil || ev.Table == "" {
					c.logger.Error("Dropping malformed change event", "routing_key", d.RoutingKey, "error", err)
					d.Nack(false, false)
					continue
				}
				table = ev.Table
			}

			if !pending.Add(table) {
				c.logger.Debug("Sync trigger already pending, event merged", "table", table)
			}

			if err := d.Ack(false); err != nil {
				c.logger.Error("Failed to Ack message", "table", table, "error", err)
			}
		}
	}
}

// Close gracefully terminates RabbitMQ resources
func (c *Listener) Close() {
	c.logger.Info("Shutting down RabbitMQ listener")
	c.channel.Close()
	c.conn.Close()
}
