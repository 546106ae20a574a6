package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vbonduro/vowselect/internal/domain"
	"github.com/vbonduro/vowselect/internal/live"
	"github.com/vbonduro/vowselect/internal/source"
)

var errNothingImported = errors.New("no remaining photos could be imported")

// continuation imports the rest of a drive folder in batches after
// StartImport has returned. The job record is its only output; it never
// touches the request that started it.
type continuation struct {
	svc *ImportService

	jobID            string
	roomID           int64
	drive            source.Drive
	items            []source.Item
	firstIndex       int
	alreadyProcessed int
	alreadyFailed    int
}

func (c *continuation) run(ctx context.Context) {
	s := c.svc
	logger := s.logger.With("job_id", c.jobID, "room_id", c.roomID)
	logger.Info("background import started", "items", len(c.items), "first_index", c.firstIndex)

	fetch := func(ctx context.Context, item source.Item) ([]byte, error) {
		return c.drive.Download(ctx, item.ID)
	}

	succeeded, failed := 0, 0
	index := c.firstIndex

	for start := 0; start < len(c.items); start += s.batchSize {
		if err := ctx.Err(); err != nil {
			c.abort(ctx, fmt.Errorf("import interrupted: %w", err), succeeded, failed)
			return
		}

		batchStart := time.Now()
		end := min(start+s.batchSize, len(c.items))

		for _, item := range c.items[start:end] {
			at := index
			res := s.importItem(ctx, c.roomID, domain.SourceDrive, fetch, item, func(context.Context) (int, error) { return at, nil })
			if res.fatal {
				c.abort(ctx, res.err, succeeded, failed)
				return
			}
			if res.err != nil {
				failed++
				s.metrics.PhotosFailed.WithLabelValues(string(domain.SourceDrive)).Inc()
				logger.Warn("photo failed", "name", item.Name, "index", index, "error", res.err)
				s.placeholder(ctx, c.roomID, item, index)
			} else {
				succeeded++
				s.metrics.PhotosImported.WithLabelValues(string(domain.SourceDrive)).Inc()
			}
			index++
		}

		processed, total, failedTotal := c.counters(succeeded, failed)
		if err := s.jobs.UpdateProgress(ctx, c.jobID, total, processed, failedTotal); err != nil {
			c.abort(ctx, err, succeeded, failed)
			return
		}
		s.caches.Photos.InvalidatePrefix(photoPrefix(c.roomID))
		s.caches.Rankings.Invalidate(rankingKey(c.roomID))
		s.events.Publish(c.roomID, live.EventImportProgress, progressEvent(c.jobID, domain.JobProcessing, total, processed, failedTotal))
		s.metrics.BatchDuration.Observe(time.Since(batchStart).Seconds())
		logger.Debug("batch finished", "processed", processed, "total", total, "failed", failedTotal)

		if end < len(c.items) && s.batchPause > 0 {
			select {
			case <-ctx.Done():
				c.abort(ctx, fmt.Errorf("import interrupted: %w", ctx.Err()), succeeded, failed)
				return
			case <-time.After(s.batchPause):
			}
		}
	}

	processed, total, failedTotal := c.counters(succeeded, failed)
	status, errMsg := domain.JobCompleted, ""
	if succeeded == 0 {
		status, errMsg = domain.JobFailed, errNothingImported.Error()
	}
	if err := s.jobs.Finish(ctx, c.jobID, status, total, processed, failedTotal, errMsg); err != nil {
		logger.Error("failed to finish import job", "error", err)
		return
	}

	s.metrics.ImportsFinished.WithLabelValues(string(domain.SourceDrive), string(status)).Inc()
	s.events.Publish(c.roomID, live.EventImportProgress, progressEvent(c.jobID, status, total, processed, failedTotal))
	logger.Info("background import finished", "status", status, "processed", processed, "failed", failedTotal)
}

// counters returns the job's processed, total and failed counts. The first
// batch counts as processed in full. Failed items of later batches drop out
// of the total so processed can still reach it.
func (c *continuation) counters(succeeded, failed int) (processed, total, failedTotal int) {
	return c.alreadyProcessed + succeeded, c.alreadyProcessed + len(c.items) - failed, c.alreadyFailed + failed
}

// abort marks the job failed after a fatal error. Photos already written stay.
func (c *continuation) abort(ctx context.Context, cause error, succeeded, failed int) {
	s := c.svc
	processed, total, failedTotal := c.counters(succeeded, failed)
	if err := s.jobs.Finish(context.WithoutCancel(ctx), c.jobID, domain.JobFailed, total, processed, failedTotal, cause.Error()); err != nil {
		s.logger.Error("failed to mark import job failed", "job_id", c.jobID, "error", err)
	}
	s.caches.InvalidateRoom(c.roomID)
	s.metrics.ImportsFinished.WithLabelValues(string(domain.SourceDrive), string(domain.JobFailed)).Inc()
	s.events.Publish(c.roomID, live.EventImportProgress, progressEvent(c.jobID, domain.JobFailed, total, processed, failedTotal))
	s.logger.Error("background import aborted", "job_id", c.jobID, "room_id", c.roomID, "error", cause)
}
