// Package queue moves batch sync work through RabbitMQ so evaluations can
// run on worker processes separate from the HTTP server.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue names
const (
	SyncQueueName   = "guild.sync"
	ResultQueueName = "guild.sync.results"
)

const maxReconnectAttempts = 10

// Connection holds one AMQP connection and channel and redials them when
// the broker drops the link.
type Connection struct {
	url    string
	logger *slog.Logger

	mu         sync.RWMutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	closed     bool
	reconnects int
}

// NewConnection dials url and declares the sync queues.
func NewConnection(rawURL string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{url: rawURL, logger: logger}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connection) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareQueues(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn, c.channel = conn, ch
	c.mu.Unlock()

	go c.watch(conn)

	c.logger.Info("connected to RabbitMQ", "url", redactURL(c.url))
	return nil
}

func declareQueues(ch *amqp.Channel) error {
	queues := []struct {
		name string
		ttl  time.Duration
	}{
		// A sync that waited this long has a stale view of the drafts.
		{SyncQueueName, 10 * time.Minute},
		{ResultQueueName, time.Minute},
	}
	for _, q := range queues {
		_, err := ch.QueueDeclare(
			q.name,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			amqp.Table{"x-message-ttl": int32(q.ttl.Milliseconds())},
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

// watch redials with exponential backoff after an unexpected close.
func (c *Connection) watch(conn *amqp.Connection) {
	err, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if !ok || err == nil {
		return
	}

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.reconnects++
		c.mu.Unlock()

		backoff := min(time.Duration(1<<(attempt-1))*time.Second, 30*time.Second)
		c.logger.Warn("RabbitMQ connection lost, reconnecting", "error", err, "attempt", attempt, "backoff", backoff)
		time.Sleep(backoff)

		if rerr := c.connect(); rerr != nil {
			c.logger.Error("reconnection failed", "error", rerr, "attempt", attempt)
			continue
		}
		return
	}
	c.logger.Error("giving up on RabbitMQ", "attempts", maxReconnectAttempts)
}

// Channel returns the current channel.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Reconnects reports how many redials have been attempted.
func (c *Connection) Reconnects() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnects
}

// Close closes the channel and connection and stops redialing.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected reports whether the connection is open.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// PublishJSON publishes data as a persistent JSON message to queue.
func (c *Connection) PublishJSON(ctx context.Context, queue string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.Channel().PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// redactURL hides the password of an AMQP URL for logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "amqp://<invalid>"
	}
	return u.Redacted()
}
