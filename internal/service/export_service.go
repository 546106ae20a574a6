package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vbonduro/vowselect/internal/domain"
	"github.com/vbonduro/vowselect/internal/logging"
)

// exportJobRepository is the subset of store.ExportJobStore that ExportService requires.
type exportJobRepository interface {
	Create(ctx context.Context, j *domain.ExportJob) error
	Get(ctx context.Context, id string) (*domain.ExportJob, error)
}

// rankingSource computes rankings; RankingService satisfies it.
type rankingSource interface {
	ComputeRankings(ctx context.Context, roomID int64) ([]*domain.PhotoRanking, error)
}

type ExportService struct {
	rankings rankingSource
	jobs     exportJobRepository
	logger   *slog.Logger
}

func NewExportService(rankings rankingSource, jobs exportJobRepository, logger *slog.Logger) *ExportService {
	return &ExportService{rankings: rankings, jobs: jobs, logger: logging.Component(logger, "export")}
}

type ExportRequest struct {
	RoomID          int64  `json:"room_id"`
	TopN            int    `json:"top_n"`
	DestinationType string `json:"destination_type"`
	DestinationPath string `json:"destination_path"`
}

type ExportResult struct {
	JobID     string                 `json:"job_id"`
	Status    domain.JobStatus       `json:"status"`
	TopPhotos []*domain.PhotoRanking `json:"top_photos"`
	CSVReport string                 `json:"csv_report"`
}

// ExportTop records an export of the room's best N photos and returns them
// with a CSV report.
func (s *ExportService) ExportTop(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	if req.TopN < 1 {
		return nil, fmt.Errorf("%w: top_n must be at least 1", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(req.DestinationType) == "" {
		return nil, fmt.Errorf("%w: destination_type is required", domain.ErrInvalidInput)
	}

	rankings, err := s.rankings.ComputeRankings(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	top := rankings[:min(req.TopN, len(rankings))]

	job := &domain.ExportJob{
		ID:              uuid.NewString(),
		RoomID:          req.RoomID,
		TopN:            req.TopN,
		DestinationType: req.DestinationType,
		DestinationPath: req.DestinationPath,
		Status:          domain.JobCompleted,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	report, err := csvReport(top)
	if err != nil {
		return nil, err
	}

	s.logger.Info("export recorded", "job_id", job.ID, "room_id", req.RoomID, "photos", len(top))
	return &ExportResult{JobID: job.ID, Status: job.Status, TopPhotos: top, CSVReport: report}, nil
}

func (s *ExportService) GetExportJob(ctx context.Context, id string) (*domain.ExportJob, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("export job %s: %w", id, domain.ErrNotFound)
	}
	return job, nil
}

func csvReport(rankings []*domain.PhotoRanking) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"rank", "photo_id", "filename", "score", "votes"}); err != nil {
		return "", fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, r := range rankings {
		row := []string{
			strconv.Itoa(r.Rank),
			strconv.FormatInt(r.PhotoID, 10),
			r.Filename,
			strconv.FormatFloat(r.WeightedScore, 'f', 2, 64),
			strconv.Itoa(r.VoteCount),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.String(), nil
}
