package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vbonduro/vowselect/internal/domain"
	"github.com/vbonduro/vowselect/internal/live"
	"github.com/vbonduro/vowselect/internal/logging"
	"github.com/vbonduro/vowselect/internal/metrics"
	"github.com/vbonduro/vowselect/internal/photostore"
	"github.com/vbonduro/vowselect/internal/queue"
	"github.com/vbonduro/vowselect/internal/source"
	"github.com/vbonduro/vowselect/internal/transform"
)

const (
	DefaultBatchSize  = 10
	DefaultBatchPause = 100 * time.Millisecond
)

// importPhotoRepository is the subset of store.PhotoStore that ImportService requires.
type importPhotoRepository interface {
	Create(ctx context.Context, p *domain.Photo) (*domain.Photo, error)
	NextIndex(ctx context.Context, roomID int64) (int, error)
}

// jobRepository is the subset of store.ImportJobStore that ImportService requires.
type jobRepository interface {
	Create(ctx context.Context, j *domain.ImportJob) error
	Get(ctx context.Context, id string) (*domain.ImportJob, error)
	MarkProcessing(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, total, processed, failed int) error
	Finish(ctx context.Context, id string, status domain.JobStatus, total, processed, failed int, errMsg string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

type compressor interface {
	Compress(ctx context.Context, data []byte) ([]byte, int, error)
}

type localScanner interface {
	Scan(folder string) ([]source.Item, error)
	Read(item source.Item) ([]byte, error)
}

type taskQueue interface {
	Enqueue(t queue.Task) error
}

type ImportConfig struct {
	BatchSize  int
	BatchPause time.Duration
}

// ImportRequest describes one import. Which fields are required depends on
// SourceType.
type ImportRequest struct {
	RoomID        int64
	SourceType    domain.SourceKind
	FolderPath    string
	DriveFolderID string
	AccessToken   string
	Uploads       []source.Item
}

// ImportSummary is what the caller learns before the request returns. For a
// drive import that continues in the background, Status is processing and
// PendingCount items are still queued.
type ImportSummary struct {
	JobID         string           `json:"job_id"`
	Status        domain.JobStatus `json:"status"`
	ImportedCount int              `json:"imported_count"`
	TotalFound    int              `json:"total_found,omitempty"`
	PendingCount  int              `json:"pending_count,omitempty"`
}

// ImportService creates photos from a source. Local folders and uploads are
// imported before StartImport returns; drive folders larger than one batch
// return after the first batch and finish on the task queue.
type ImportService struct {
	rooms      roomGetter
	photos     importPhotoRepository
	jobs       jobRepository
	payloads   photostore.PhotoStore
	compressor compressor
	scanner    localScanner
	drives     source.DriveFactory
	tasks      taskQueue
	caches     *Caches
	events     publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger

	indexes    *indexAllocator
	batchSize  int
	batchPause time.Duration
}

func NewImportService(
	rooms roomGetter,
	photos importPhotoRepository,
	jobs jobRepository,
	payloads photostore.PhotoStore,
	comp compressor,
	scanner localScanner,
	drives source.DriveFactory,
	tasks taskQueue,
	caches *Caches,
	events publisher,
	m *metrics.Metrics,
	cfg ImportConfig,
	logger *slog.Logger,
) *ImportService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchPause < 0 {
		cfg.BatchPause = DefaultBatchPause
	}
	return &ImportService{
		rooms:      rooms,
		photos:     photos,
		jobs:       jobs,
		payloads:   payloads,
		compressor: comp,
		scanner:    scanner,
		drives:     drives,
		tasks:      tasks,
		caches:     caches,
		events:     orNop(events),
		metrics:    m,
		logger:     logging.Component(logger, "import"),
		indexes:    newIndexAllocator(photos),
		batchSize:  cfg.BatchSize,
		batchPause: cfg.BatchPause,
	}
}

// fetchFunc loads the raw bytes of one source item.
type fetchFunc func(ctx context.Context, item source.Item) ([]byte, error)

// plan is an enumerated source, ready to be imported.
type plan struct {
	items []source.Item
	fetch fetchFunc
	drive source.Drive
}

// StartImport validates the request, enumerates the source and imports it.
// Nothing is written until the source has been enumerated, so precondition
// failures leave no job behind.
func (s *ImportService) StartImport(ctx context.Context, req ImportRequest) (*ImportSummary, error) {
	if _, err := requireRoom(ctx, s.rooms, req.RoomID); err != nil {
		return nil, err
	}

	p, err := s.enumerate(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(p.items) == 0 {
		return nil, fmt.Errorf("%s import: %w", req.SourceType, domain.ErrSourceEmpty)
	}

	job := &domain.ImportJob{
		ID:         uuid.NewString(),
		RoomID:     req.RoomID,
		SourceType: req.SourceType,
		SourcePath: sourcePath(req),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	if err := s.jobs.MarkProcessing(ctx, job.ID); err != nil {
		return nil, s.fail(ctx, job, err)
	}

	logger := s.logger.With("job_id", job.ID, "room_id", req.RoomID, "source", req.SourceType)
	logger.Info("import started", "items", len(p.items))
	s.metrics.ImportsStarted.WithLabelValues(string(req.SourceType)).Inc()

	if req.SourceType != domain.SourceDrive {
		imported, failed, err := s.importSlice(ctx, req.RoomID, req.SourceType, p.fetch, p.items, s.nextIndex(req.RoomID))
		if err != nil {
			return nil, s.fail(ctx, job, err)
		}
		return s.complete(ctx, logger, job, len(p.items), imported, failed)
	}

	// Drive indices are reserved up front so items that fail keep their slot.
	firstIndex, err := s.indexes.Reserve(ctx, req.RoomID, len(p.items))
	if err != nil {
		return nil, s.fail(ctx, job, err)
	}

	initial, remainder := p.items, []source.Item(nil)
	if len(p.items) > s.batchSize {
		initial, remainder = p.items[:s.batchSize], p.items[s.batchSize:]
	}

	imported, failed, err := s.importSlice(ctx, req.RoomID, req.SourceType, p.fetch, initial, reservedIndex(firstIndex))
	if err != nil {
		return nil, s.fail(ctx, job, err)
	}
	if len(remainder) == 0 {
		return s.complete(ctx, logger, job, len(p.items), imported, failed)
	}

	processed := len(initial)
	if err := s.jobs.UpdateProgress(ctx, job.ID, len(p.items), processed, failed); err != nil {
		return nil, s.fail(ctx, job, err)
	}

	c := &continuation{
		svc:              s,
		jobID:            job.ID,
		roomID:           req.RoomID,
		drive:            p.drive,
		items:            remainder,
		firstIndex:       firstIndex + len(initial),
		alreadyProcessed: processed,
		alreadyFailed:    failed,
	}
	if err := s.tasks.Enqueue(queue.Task{Name: "import:" + job.ID, Run: c.run}); err != nil {
		return nil, s.fail(ctx, job, err)
	}
	logger.Info("import continuing in background", "imported", imported, "failed", failed, "pending", len(remainder))

	s.caches.InvalidateRoom(req.RoomID)
	s.events.Publish(req.RoomID, live.EventImportProgress, progressEvent(job.ID, domain.JobProcessing, len(p.items), processed, failed))
	return &ImportSummary{
		JobID:         job.ID,
		Status:        domain.JobProcessing,
		ImportedCount: imported,
		TotalFound:    len(p.items),
		PendingCount:  len(remainder),
	}, nil
}

// complete finishes a job whose items were all handled inline.
func (s *ImportService) complete(ctx context.Context, logger *slog.Logger, job *domain.ImportJob, found, imported, failed int) (*ImportSummary, error) {
	if err := s.jobs.Finish(ctx, job.ID, domain.JobCompleted, imported, imported, failed, ""); err != nil {
		return nil, s.fail(ctx, job, err)
	}
	s.metrics.ImportsFinished.WithLabelValues(string(job.SourceType), string(domain.JobCompleted)).Inc()
	logger.Info("import completed", "imported", imported, "skipped", failed)

	s.caches.InvalidateRoom(job.RoomID)
	s.events.Publish(job.RoomID, live.EventImportProgress, progressEvent(job.ID, domain.JobCompleted, imported, imported, failed))
	return &ImportSummary{JobID: job.ID, Status: domain.JobCompleted, ImportedCount: imported, TotalFound: found}, nil
}

// GetJobStatus returns the job record as last written.
func (s *ImportService) GetJobStatus(ctx context.Context, jobID string) (*domain.ImportJob, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("import job %s: %w", jobID, domain.ErrNotFound)
	}
	return job, nil
}

func (s *ImportService) enumerate(ctx context.Context, req ImportRequest) (*plan, error) {
	switch req.SourceType {
	case domain.SourceLocal:
		if strings.TrimSpace(req.FolderPath) == "" {
			return nil, fmt.Errorf("%w: folder_path is required for local import", domain.ErrInvalidInput)
		}
		items, err := s.scanner.Scan(req.FolderPath)
		if err != nil {
			return nil, err
		}
		return &plan{
			items: items,
			fetch: func(_ context.Context, item source.Item) ([]byte, error) { return s.scanner.Read(item) },
		}, nil

	case domain.SourceUpload:
		if len(req.Uploads) == 0 {
			return nil, fmt.Errorf("%w: no files uploaded", domain.ErrInvalidInput)
		}
		items := make([]source.Item, 0, len(req.Uploads))
		for _, u := range req.Uploads {
			if len(u.Data) > 0 {
				items = append(items, u)
			}
		}
		return &plan{
			items: items,
			fetch: func(_ context.Context, item source.Item) ([]byte, error) { return item.Data, nil },
		}, nil

	case domain.SourceDrive:
		if strings.TrimSpace(req.DriveFolderID) == "" || strings.TrimSpace(req.AccessToken) == "" {
			return nil, fmt.Errorf("%w: drive_folder_id and access token are required", domain.ErrInvalidInput)
		}
		// The client outlives this request when the import continues in the background.
		drive, err := s.drives(context.WithoutCancel(ctx), req.AccessToken)
		if err != nil {
			return nil, err
		}
		items, err := drive.ListImages(ctx, req.DriveFolderID)
		if err != nil {
			return nil, err
		}
		return &plan{
			items: items,
			fetch: func(ctx context.Context, item source.Item) ([]byte, error) { return drive.Download(ctx, item.ID) },
			drive: drive,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown source type %q", domain.ErrInvalidInput, req.SourceType)
	}
}

// indexFunc yields the index for an item once its payload is stored.
type indexFunc func(ctx context.Context, pos int) (int, error)

// reservedIndex hands out positions within a block reserved up front.
func reservedIndex(first int) indexFunc {
	return func(_ context.Context, pos int) (int, error) { return first + pos, nil }
}

// nextIndex claims one index per stored photo, so skipped items leave no gap.
func (s *ImportService) nextIndex(roomID int64) indexFunc {
	return func(ctx context.Context, _ int) (int, error) { return s.indexes.Reserve(ctx, roomID, 1) }
}

// importSlice materializes items inline. Local and upload items that cannot
// be fetched or transformed are skipped; drive items leave a placeholder at
// their reserved index. It stops on the first fatal error.
func (s *ImportService) importSlice(ctx context.Context, roomID int64, kind domain.SourceKind, fetch fetchFunc, items []source.Item, index indexFunc) (imported, failed int, err error) {
	for i, item := range items {
		res := s.importItem(ctx, roomID, kind, fetch, item, func(ctx context.Context) (int, error) { return index(ctx, i) })
		if res.fatal {
			return imported, failed, res.err
		}
		if res.err != nil {
			failed++
			s.logger.Warn("skipping photo", "room_id", roomID, "name", item.Name, "error", res.err)
			s.metrics.PhotosFailed.WithLabelValues(string(kind)).Inc()
			if kind == domain.SourceDrive {
				at, _ := index(ctx, i)
				s.placeholder(ctx, roomID, item, at)
			}
			continue
		}
		imported++
		s.metrics.PhotosImported.WithLabelValues(string(kind)).Inc()
		s.logger.Debug("photo imported", "room_id", roomID, "photo_id", res.photo.ID, "index", res.photo.Index)
	}
	return imported, failed, nil
}

// placeholder records a failed drive item at its reserved index so the index
// stays taken. The photo has no payload and is never listed or ranked.
func (s *ImportService) placeholder(ctx context.Context, roomID int64, item source.Item, index int) {
	p := newPhoto(roomID, domain.SourceDrive, item, index)
	if _, err := s.photos.Create(ctx, p); err != nil {
		s.logger.Warn("failed to record placeholder photo", "room_id", roomID, "index", index, "error", err)
	}
}

// itemResult is the outcome of importing one source item. fatal errors stop
// the whole import; the rest only affect the item.
type itemResult struct {
	photo *domain.Photo
	err   error
	fatal bool
}

func (s *ImportService) importItem(ctx context.Context, roomID int64, kind domain.SourceKind, fetch fetchFunc, item source.Item, index func(context.Context) (int, error)) itemResult {
	data, err := fetch(ctx, item)
	if err != nil {
		return itemResult{err: fmt.Errorf("failed to fetch %s: %w", item.Name, err), fatal: isFatal(ctx, err)}
	}

	start := time.Now()
	encoded, sizeKB, err := s.compressor.Compress(ctx, data)
	s.metrics.TransformSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return itemResult{err: fmt.Errorf("failed to transform %s: %w", item.Name, err), fatal: isFatal(ctx, err)}
	}

	key, err := s.payloads.Save(ctx, fmt.Sprintf("room_%d", roomID), transform.MimeType, bytes.NewReader(encoded))
	if err != nil {
		return itemResult{err: fmt.Errorf("failed to save payload for %s: %w", item.Name, err), fatal: isFatal(ctx, err)}
	}

	at, err := index(ctx)
	if err != nil {
		s.deletePayload(ctx, key)
		return itemResult{err: err, fatal: true}
	}
	photo := newPhoto(roomID, kind, item, at)
	photo.StorageKey = key
	photo.MimeType = transform.MimeType
	photo.SizeKB = sizeKB

	created, err := s.photos.Create(ctx, photo)
	if err != nil {
		s.deletePayload(ctx, key)
		return itemResult{err: err, fatal: true}
	}
	return itemResult{photo: created}
}

func (s *ImportService) deletePayload(ctx context.Context, key string) {
	if err := s.payloads.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Error("failed to delete orphaned payload", "storage_key", key, "error", err)
	}
}

func newPhoto(roomID int64, kind domain.SourceKind, item source.Item, index int) *domain.Photo {
	p := &domain.Photo{
		RoomID:     roomID,
		SourceType: kind,
		Filename:   item.Name,
		Index:      index,
	}
	switch kind {
	case domain.SourceLocal:
		p.Path = item.Path
	case domain.SourceDrive:
		p.DriveID = item.ID
		p.DriveThumbnailURL = item.ThumbnailURL
	}
	return p
}

// isFatal reports whether err should abort the import rather than skip the item.
func isFatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, domain.ErrUnauthorized) ||
		errors.Is(err, domain.ErrForbidden)
}

// fail marks the job failed and returns cause. The job update uses a context
// that survives cancellation of ctx.
func (s *ImportService) fail(ctx context.Context, job *domain.ImportJob, cause error) error {
	if err := s.jobs.MarkFailed(context.WithoutCancel(ctx), job.ID, cause.Error()); err != nil {
		s.logger.Error("failed to mark import job failed", "job_id", job.ID, "error", err)
	}
	s.metrics.ImportsFinished.WithLabelValues(string(job.SourceType), string(domain.JobFailed)).Inc()
	s.logger.Error("import failed", "job_id", job.ID, "room_id", job.RoomID, "error", cause)
	s.events.Publish(job.RoomID, live.EventImportProgress, map[string]any{
		"job_id": job.ID,
		"status": domain.JobFailed,
		"error":  cause.Error(),
	})
	return cause
}

func progressEvent(jobID string, status domain.JobStatus, total, processed, failed int) map[string]any {
	return map[string]any{
		"job_id":           jobID,
		"status":           status,
		"total_photos":     total,
		"processed_photos": processed,
		"failed_photos":    failed,
	}
}

func sourcePath(req ImportRequest) string {
	switch req.SourceType {
	case domain.SourceLocal:
		return req.FolderPath
	case domain.SourceDrive:
		return req.DriveFolderID
	}
	return ""
}
