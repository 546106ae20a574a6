package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vbonduro/vowselect/internal/domain"
)

type ExportJobStore struct {
	db *sql.DB
}

func NewExportJobStore(db *sql.DB) *ExportJobStore {
	return &ExportJobStore{db: db}
}

func (s *ExportJobStore) Create(ctx context.Context, j *domain.ExportJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO export_jobs (id, room_id, top_n, destination_type, destination_path, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.RoomID, j.TopN, j.DestinationType, j.DestinationPath, j.Status, j.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create export job: %w", err)
	}
	return nil
}

func (s *ExportJobStore) Get(ctx context.Context, id string) (*domain.ExportJob, error) {
	j := &domain.ExportJob{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, top_n, destination_type, destination_path, status, created_at
		FROM export_jobs WHERE id = ?
	`, id).Scan(&j.ID, &j.RoomID, &j.TopN, &j.DestinationType, &j.DestinationPath, &j.Status, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get export job %s: %w", id, err)
	}
	return j, nil
}
