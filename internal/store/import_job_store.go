package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vbonduro/vowselect/internal/domain"
)

type ImportJobStore struct {
	db *sql.DB
}

func NewImportJobStore(db *sql.DB) *ImportJobStore {
	return &ImportJobStore{db: db}
}

func (s *ImportJobStore) Create(ctx context.Context, j *domain.ImportJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_jobs
			(id, room_id, source_type, source_path, status, total_photos, processed_photos, failed_photos, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.RoomID, j.SourceType, j.SourcePath, domain.JobPending,
		j.TotalPhotos, j.ProcessedPhotos, j.FailedPhotos, j.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}
	return nil
}

func (s *ImportJobStore) Get(ctx context.Context, id string) (*domain.ImportJob, error) {
	j := &domain.ImportJob{}
	var startedAt, completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, source_type, source_path, status, total_photos, processed_photos,
		       failed_photos, error, created_at, started_at, completed_at
		FROM import_jobs WHERE id = ?
	`, id).Scan(&j.ID, &j.RoomID, &j.SourceType, &j.SourcePath, &j.Status, &j.TotalPhotos,
		&j.ProcessedPhotos, &j.FailedPhotos, &j.Error, &j.CreatedAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import job %s: %w", id, err)
	}

	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return j, nil
}

func (s *ImportJobStore) MarkProcessing(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE import_jobs SET status = ?, started_at = ? WHERE id = ?
	`, domain.JobProcessing, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark import job %s processing: %w", id, err)
	}
	return nil
}

// UpdateProgress records counters for a job that is still processing.
func (s *ImportJobStore) UpdateProgress(ctx context.Context, id string, total, processed, failed int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE import_jobs SET status = ?, total_photos = ?, processed_photos = ?, failed_photos = ?
		WHERE id = ?
	`, domain.JobProcessing, total, processed, failed, id)
	if err != nil {
		return fmt.Errorf("failed to update progress for import job %s: %w", id, err)
	}
	return nil
}

// Finish moves the job to a terminal status with its final counters.
func (s *ImportJobStore) Finish(ctx context.Context, id string, status domain.JobStatus, total, processed, failed int, errMsg string) error {
	var completedAt any
	if status.IsTerminal() {
		completedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE import_jobs
		SET status = ?, total_photos = ?, processed_photos = ?, failed_photos = ?, error = ?, completed_at = ?
		WHERE id = ?
	`, status, total, processed, failed, errMsg, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to finish import job %s: %w", id, err)
	}
	return nil
}

// MarkFailed fails the job without touching its counters.
func (s *ImportJobStore) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE import_jobs SET status = ?, error = ?, completed_at = ? WHERE id = ?
	`, domain.JobFailed, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark import job %s failed: %w", id, err)
	}
	return nil
}
