//go:build integration

package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/batchsync"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/queue"
)

func setupRabbitMQ(t *testing.T) *queue.Connection {
	t.Helper()
	ctx := context.Background()

	container, err := rabbitmq.Run(ctx, "rabbitmq:3.12-management")
	if err != nil {
		t.Fatalf("failed to start RabbitMQ container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	amqpURL, err := container.AmqpURL(ctx)
	if err != nil {
		t.Fatalf("failed to get AMQP URL: %v", err)
	}
	conn, err := queue.NewConnection(amqpURL, nil)
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestIntegration_Connection(t *testing.T) {
	conn := setupRabbitMQ(t)
	if !conn.IsConnected() {
		t.Error("expected connection to be active")
	}
	for _, name := range []string{queue.SyncQueueName, queue.ResultQueueName} {
		if _, err := conn.Channel().QueueInspect(name); err != nil {
			t.Errorf("queue %s not declared: %v", name, err)
		}
	}
}

func TestIntegration_Connection_InvalidURL(t *testing.T) {
	if _, err := queue.NewConnection("amqp://invalid:5672", nil); err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestIntegration_PublishSyncJob(t *testing.T) {
	conn := setupRabbitMQ(t)

	if err := queue.NewProducer(conn).PublishSyncJob(context.Background(), &queue.SyncJob{StudentID: "s", CatalogID: "c"}); err != nil {
		t.Fatalf("PublishSyncJob() error = %v", err)
	}
	q, err := conn.Channel().QueueInspect(queue.SyncQueueName)
	if err != nil {
		t.Fatalf("QueueInspect() error = %v", err)
	}
	if q.Messages != 1 {
		t.Errorf("messages = %d; want 1", q.Messages)
	}
}

func TestIntegration_RoundTrip(t *testing.T) {
	conn := setupRabbitMQ(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	consumer := queue.NewConsumer(conn, func(ctx context.Context, job *queue.SyncJob) (*queue.SyncResult, error) {
		if job.CatalogID == "broken" {
			return nil, errors.New("catalog missing")
		}
		return &queue.SyncResult{Report: &batchsync.Report{CatalogID: job.CatalogID, Staged: 1, Complete: true}}, nil
	}, queue.ConsumerConfig{Workers: 2})
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("consumer Start() error = %v", err)
	}
	defer consumer.Stop()

	results := queue.NewResultConsumer(conn)
	if err := results.Start(ctx); err != nil {
		t.Fatalf("result consumer Start() error = %v", err)
	}
	defer results.Stop()

	jobs := []*queue.SyncJob{
		queue.NewSyncJob("s1", "t1", "set-1"),
		queue.NewSyncJob("s2", "t1", "broken"),
	}
	var mu sync.Mutex
	got := make(map[string]*queue.SyncResult)
	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		results.Subscribe(job.ID.String(), func(r *queue.SyncResult) {
			mu.Lock()
			defer mu.Unlock()
			if _, seen := got[r.CatalogID]; !seen {
				got[r.CatalogID] = r
				wg.Done()
			}
		})
	}

	producer := queue.NewProducer(conn)
	for _, job := range jobs {
		if err := producer.PublishSyncJob(ctx, job); err != nil {
			t.Fatalf("PublishSyncJob() error = %v", err)
		}
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for results")
	}

	if r := got["set-1"]; r.Status != queue.StatusCompleted || r.Report == nil || !r.Report.Complete {
		t.Errorf("set-1 result = %+v", r)
	}
	if r := got["broken"]; r.Status != queue.StatusFailed || r.Error != "catalog missing" {
		t.Errorf("broken result = %+v", r)
	}
}
