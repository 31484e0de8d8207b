package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// JobHandler runs one sync job.
type JobHandler func(ctx context.Context, job *SyncJob) (*SyncResult, error)

// ResultPublisher sends job outcomes back. *Producer implements it.
type ResultPublisher interface {
	PublishResult(ctx context.Context, result *SyncResult) error
}

// Consumer runs sync jobs from the queue on a pool of workers.
type Consumer struct {
	conn       *Connection
	handler    JobHandler
	results    ResultPublisher
	cfg        ConsumerConfig
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Workers    int           // concurrent workers
	Prefetch   int           // unacked deliveries per channel
	JobTimeout time.Duration // upper bound for one sync run
}

// DefaultConsumerConfig returns sensible defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:    3,
		Prefetch:   1,
		JobTimeout: 10 * time.Minute,
	}
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	def := DefaultConsumerConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.Prefetch <= 0 {
		c.Prefetch = def.Prefetch
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = def.JobTimeout
	}
	return c
}

// NewConsumer creates a consumer that reports results through conn.
func NewConsumer(conn *Connection, handler JobHandler, cfg ConsumerConfig) *Consumer {
	c := &Consumer{
		conn:    conn,
		handler: handler,
		cfg:     cfg.withDefaults(),
		logger:  slog.Default(),
	}
	if conn != nil {
		c.results = NewProducer(conn)
		c.logger = conn.logger
	}
	return c
}

// Start begins consuming. Workers stop when ctx is cancelled or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancelFunc = context.WithCancel(ctx)

	ch := c.conn.Channel()
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	msgs, err := ch.Consume(
		SyncQueueName,
		"",    // consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("starting sync consumer", "workers", c.cfg.Workers, "prefetch", c.cfg.Prefetch)
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, msgs)
	}
	return nil
}

func (c *Consumer) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Info("delivery channel closed", "worker_id", id)
				return
			}
			c.processMessage(ctx, id, msg)
		}
	}
}

// processMessage runs one delivery and acks it. Malformed bodies are
// rejected without requeue.
func (c *Consumer) processMessage(ctx context.Context, workerID int, msg amqp.Delivery) {
	var job SyncJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		c.logger.Error("dropping malformed sync job", "worker_id", workerID, "error", err)
		_ = msg.Reject(false)
		return
	}

	result := c.run(ctx, &job)
	c.logger.Info("sync job finished",
		"worker_id", workerID,
		"job_id", job.ID,
		"status", result.Status,
		"duration", result.Duration,
	)

	if c.results != nil {
		if err := c.results.PublishResult(ctx, result); err != nil {
			c.logger.Error("failed to publish sync result", "job_id", job.ID, "error", err)
		}
	}
	if err := msg.Ack(false); err != nil {
		c.logger.Error("failed to ack sync job", "job_id", job.ID, "error", err)
	}
}

func (c *Consumer) run(ctx context.Context, job *SyncJob) *SyncResult {
	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, c.cfg.JobTimeout)
	defer cancel()

	result, err := c.handler(jobCtx, job)
	if err != nil {
		result = &SyncResult{Status: StatusFailed, Error: err.Error()}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			result.Status = StatusTimeout
			result.Error = "sync timed out"
		}
	}
	if result.Status == "" {
		result.Status = StatusCompleted
	}
	result.JobID = job.ID
	result.StudentID = job.StudentID
	result.TeacherID = job.TeacherID
	result.CatalogID = job.CatalogID
	result.Duration = time.Since(start)
	result.CompletedAt = time.Now()
	return result
}

// Stop cancels the workers and waits for in-flight jobs.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
}

// ResultHandler receives the result of a subscribed job.
type ResultHandler func(result *SyncResult)

// ResultConsumer fans sync results out to per-job subscribers.
type ResultConsumer struct {
	conn       *Connection
	handlers   map[string]ResultHandler
	forward    ResultHandler
	handlersMu sync.RWMutex
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

func NewResultConsumer(conn *Connection) *ResultConsumer {
	return &ResultConsumer{
		conn:     conn,
		handlers: make(map[string]ResultHandler),
	}
}

// Subscribe registers handler for jobID, replacing any earlier one.
func (rc *ResultConsumer) Subscribe(jobID string, handler ResultHandler) {
	rc.handlersMu.Lock()
	defer rc.handlersMu.Unlock()
	rc.handlers[jobID] = handler
}

// Forward registers a handler that sees every result, after any per-job
// subscriber.
func (rc *ResultConsumer) Forward(handler ResultHandler) {
	rc.handlersMu.Lock()
	defer rc.handlersMu.Unlock()
	rc.forward = handler
}

func (rc *ResultConsumer) Unsubscribe(jobID string) {
	rc.handlersMu.Lock()
	defer rc.handlersMu.Unlock()
	delete(rc.handlers, jobID)
}

// Start begins consuming results.
func (rc *ResultConsumer) Start(ctx context.Context) error {
	ctx, rc.cancelFunc = context.WithCancel(ctx)

	msgs, err := rc.conn.Channel().Consume(
		ResultQueueName,
		"",    // consumer tag
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start result consumer: %w", err)
	}

	rc.wg.Add(1)
	go func() {
		defer rc.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				rc.dispatch(msg.Body)
			}
		}
	}()
	return nil
}

func (rc *ResultConsumer) dispatch(body []byte) {
	var result SyncResult
	if err := json.Unmarshal(body, &result); err != nil {
		slog.Error("failed to unmarshal sync result", "error", err)
		return
	}
	rc.handlersMu.RLock()
	handler, ok := rc.handlers[result.JobID.String()]
	forward := rc.forward
	rc.handlersMu.RUnlock()
	if ok {
		handler(&result)
	}
	if forward != nil {
		forward(&result)
	}
}

func (rc *ResultConsumer) Stop() {
	if rc.cancelFunc != nil {
		rc.cancelFunc()
	}
	rc.wg.Wait()
}
