package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vbonduro/vowselect/internal/domain"
	"github.com/vbonduro/vowselect/internal/logging"
	"github.com/vbonduro/vowselect/internal/metrics"
	"github.com/vbonduro/vowselect/internal/photostore"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100

	photoCacheName = "photos"
)

// photoRepository is the subset of store.PhotoStore that PhotoService requires.
type photoRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Photo, error)
	ListReadyByRoom(ctx context.Context, roomID int64, skip, limit int) ([]*domain.Photo, error)
	CountReadyByRoom(ctx context.Context, roomID int64) (int, error)
}

type PhotoService struct {
	rooms    roomGetter
	photos   photoRepository
	payloads photostore.PhotoStore
	caches   *Caches
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewPhotoService(rooms roomGetter, photos photoRepository, payloads photostore.PhotoStore, caches *Caches, m *metrics.Metrics, logger *slog.Logger) *PhotoService {
	return &PhotoService{
		rooms:    rooms,
		photos:   photos,
		payloads: payloads,
		caches:   caches,
		metrics:  m,
		logger:   logging.Component(logger, "photos"),
	}
}

// ClampPage normalizes paging parameters: a non-positive limit selects the
// default, larger limits are capped and negative skips become zero.
func ClampPage(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return skip, limit
}

// ListReadyPhotos returns one page of the room's ready photos in index order.
// Pages are cached until the room's photo set changes or the TTL elapses.
func (s *PhotoService) ListReadyPhotos(ctx context.Context, roomID int64, skip, limit int) (*PhotoPage, error) {
	skip, limit = ClampPage(skip, limit)
	key := photoPageKey(roomID, skip, limit)

	if page, ok := s.caches.Photos.Get(key); ok {
		s.metrics.CacheHit(photoCacheName)
		return page, nil
	}
	s.metrics.CacheMiss(photoCacheName)

	if _, err := requireRoom(ctx, s.rooms, roomID); err != nil {
		return nil, err
	}

	photos, err := s.photos.ListReadyByRoom(ctx, roomID, skip, limit)
	if err != nil {
		return nil, err
	}
	total, err := s.photos.CountReadyByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if photos == nil {
		photos = []*domain.Photo{}
	}

	page := &PhotoPage{Photos: photos, Total: total, Skip: skip, Limit: limit}
	s.caches.Photos.Set(key, page)
	return page, nil
}

func (s *PhotoService) GetPhoto(ctx context.Context, photoID int64) (*domain.Photo, error) {
	photo, err := s.photos.GetByID(ctx, photoID)
	if err != nil {
		return nil, err
	}
	if photo == nil {
		return nil, fmt.Errorf("photo %d: %w", photoID, domain.ErrNotFound)
	}
	return photo, nil
}

// OpenPayload opens the encoded image of a ready photo. The caller must close
// the returned reader.
func (s *PhotoService) OpenPayload(ctx context.Context, photoID int64) (io.ReadCloser, string, error) {
	photo, err := s.GetPhoto(ctx, photoID)
	if err != nil {
		return nil, "", err
	}
	if !photo.Ready() {
		return nil, "", fmt.Errorf("photo %d has no payload: %w", photoID, domain.ErrNotFound)
	}

	rc, mimeType, err := s.payloads.Get(ctx, photo.StorageKey)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open payload for photo %d: %w", photoID, err)
	}
	if photo.MimeType != "" {
		mimeType = photo.MimeType
	}
	return rc, mimeType, nil
}

// InvalidateRoomCaches drops every cached read for the room.
func (s *PhotoService) InvalidateRoomCaches(ctx context.Context, roomID int64) (int, error) {
	if _, err := requireRoom(ctx, s.rooms, roomID); err != nil {
		return 0, err
	}
	n := s.caches.InvalidateRoom(roomID)
	s.logger.Info("room caches invalidated", "room_id", roomID, "entries", n)
	return n, nil
}
