package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vbonduro/vowselect/internal/domain"
)

const photoColumns = `id, room_id, source_type, path, drive_id, drive_thumbnail_url, filename,
	storage_key, mime_type, size_kb, idx, created_at`

type PhotoStore struct {
	db *sql.DB
}

func NewPhotoStore(db *sql.DB) *PhotoStore {
	return &PhotoStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhoto(row rowScanner) (*domain.Photo, error) {
	p := &domain.Photo{}
	err := row.Scan(&p.ID, &p.RoomID, &p.SourceType, &p.Path, &p.DriveID, &p.DriveThumbnailURL,
		&p.Filename, &p.StorageKey, &p.MimeType, &p.SizeKB, &p.Index, &p.CreatedAt)
	return p, err
}

// Create inserts p and returns the stored record. An empty StorageKey
// creates a placeholder that is never listed or ranked.
func (s *PhotoStore) Create(ctx context.Context, p *domain.Photo) (*domain.Photo, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO photos (room_id, source_type, path, drive_id, drive_thumbnail_url, filename,
			storage_key, mime_type, size_kb, idx)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.RoomID, p.SourceType, p.Path, p.DriveID, p.DriveThumbnailURL, p.Filename,
		p.StorageKey, p.MimeType, p.SizeKB, p.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to create photo: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *PhotoStore) GetByID(ctx context.Context, id int64) (*domain.Photo, error) {
	photo, err := scanPhoto(s.db.QueryRowContext(ctx, `SELECT `+photoColumns+` FROM photos WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get photo: %w", err)
	}

	return photo, nil
}

// ListByRoom returns every photo in the room, ready or not, in index order.
func (s *PhotoStore) ListByRoom(ctx context.Context, roomID int64) ([]*domain.Photo, error) {
	return s.list(ctx, `SELECT `+photoColumns+` FROM photos WHERE room_id = ? ORDER BY idx ASC`, roomID)
}

// ListReadyByRoom returns one page of photos that have a payload, in index order.
func (s *PhotoStore) ListReadyByRoom(ctx context.Context, roomID int64, skip, limit int) ([]*domain.Photo, error) {
	return s.list(ctx, `SELECT `+photoColumns+` FROM photos
		WHERE room_id = ? AND storage_key != '' ORDER BY idx ASC LIMIT ? OFFSET ?`, roomID, limit, skip)
}

func (s *PhotoStore) CountReadyByRoom(ctx context.Context, roomID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM photos WHERE room_id = ? AND storage_key != ''
	`, roomID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count photos: %w", err)
	}
	return n, nil
}

// NextIndex returns one past the highest index used in the room, or 0 for an
// empty room.
func (s *PhotoStore) NextIndex(ctx context.Context, roomID int64) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(idx) + 1, 0) FROM photos WHERE room_id = ?
	`, roomID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to get max photo index: %w", err)
	}
	return next, nil
}

func (s *PhotoStore) list(ctx context.Context, query string, args ...any) ([]*domain.Photo, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}
	defer closeRows(rows)

	var photos []*domain.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan photo: %w", err)
		}
		photos = append(photos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating photos: %w", err)
	}
	return photos, nil
}

func (s *PhotoStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM photos WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete photo: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("failed to delete photo %d: %w", id, domain.ErrNotFound)
	}

	return nil
}
