package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Producer publishes sync jobs and results.
type Producer struct {
	conn *Connection
}

func NewProducer(conn *Connection) *Producer {
	return &Producer{conn: conn}
}

// PublishSyncJob enqueues job, filling in its id and timestamp if unset.
func (p *Producer) PublishSyncJob(ctx context.Context, job *SyncJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now()
	}
	if err := p.conn.PublishJSON(ctx, SyncQueueName, job); err != nil {
		return fmt.Errorf("failed to publish sync job: %w", err)
	}
	p.conn.logger.Info("published sync job",
		"job_id", job.ID,
		"student_id", job.StudentID,
		"catalog_id", job.CatalogID,
	)
	return nil
}

// PublishResult sends a job outcome to the results queue.
func (p *Producer) PublishResult(ctx context.Context, result *SyncResult) error {
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now()
	}
	if err := p.conn.PublishJSON(ctx, ResultQueueName, result); err != nil {
		return fmt.Errorf("failed to publish sync result: %w", err)
	}
	p.conn.logger.Debug("published sync result",
		"job_id", result.JobID,
		"teacher_id", result.TeacherID,
		"status", result.Status,
	)
	return nil
}
