package practice

import (
	"context"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/batchsync"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/queue"
)

// HandleSyncJob runs a queued batch sync. It satisfies queue.JobHandler.
// A run that stopped on a failing verdict is still a completed job.
func (s *Service) HandleSyncJob(ctx context.Context, job *queue.SyncJob) (*queue.SyncResult, error) {
	report, err := s.Sync(ctx, job.StudentID, job.CatalogID, batchsync.Hooks{})
	if err != nil {
		s.logger.Warn("queued sync failed", "job_id", job.ID, "student_id", job.StudentID, "error", err)
		return nil, err
	}
	return &queue.SyncResult{Report: report}, nil
}
