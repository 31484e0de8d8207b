package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/batchsync"
)

// Result statuses
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

// SyncJob asks a worker to run batch sync for one progress record.
type SyncJob struct {
	ID          uuid.UUID `json:"id"`
	StudentID   string    `json:"student_id"`
	TeacherID   string    `json:"teacher_id"`
	CatalogID   string    `json:"catalog_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewSyncJob creates a job with a fresh id.
func NewSyncJob(studentID, teacherID, catalogID string) *SyncJob {
	return &SyncJob{
		ID:          uuid.New(),
		StudentID:   studentID,
		TeacherID:   teacherID,
		CatalogID:   catalogID,
		RequestedAt: time.Now(),
	}
}

// SyncResult is the outcome of a SyncJob.
type SyncResult struct {
	JobID       uuid.UUID         `json:"job_id"`
	StudentID   string            `json:"student_id"`
	TeacherID   string            `json:"teacher_id"`
	CatalogID   string            `json:"catalog_id"`
	Status      string            `json:"status"`
	Report      *batchsync.Report `json:"report,omitempty"`
	Error       string            `json:"error,omitempty"`
	Duration    time.Duration     `json:"duration"`
	CompletedAt time.Time         `json:"completed_at"`
}
