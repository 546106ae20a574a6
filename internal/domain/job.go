package domain

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IsTerminal returns true if the status is final (completed or failed).
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ImportJob tracks one import request. Counters only grow while the job is
// processing; TotalPhotos may shrink as drive items fail in the background.
type ImportJob struct {
	ID              string     `json:"id"`
	RoomID          int64      `json:"room_id"`
	SourceType      SourceKind `json:"source_type"`
	SourcePath      string     `json:"source_path,omitempty"`
	Status          JobStatus  `json:"status"`
	TotalPhotos     int        `json:"total_photos"`
	ProcessedPhotos int        `json:"processed_photos"`
	FailedPhotos    int        `json:"failed_photos"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}
