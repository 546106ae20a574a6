package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vbonduro/vowselect/internal/domain"
)

type VoteStore struct {
	db *sql.DB
}

func NewVoteStore(db *sql.DB) *VoteStore {
	return &VoteStore{db: db}
}

// Upsert records the user's score for a photo, replacing any earlier score
// and timestamp. created is false when an existing vote was replaced.
func (s *VoteStore) Upsert(ctx context.Context, roomID, photoID, userID int64, score int, at time.Time) (vote *domain.Vote, created bool, err error) {
	existing, err := s.get(ctx, roomID, photoID, userID)
	if err != nil {
		return nil, false, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO votes (room_id, photo_id, user_id, score, timestamp) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (room_id, photo_id, user_id)
		DO UPDATE SET score = excluded.score, timestamp = excluded.timestamp
	`, roomID, photoID, userID, score, at.UTC())
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert vote: %w", err)
	}

	vote, err = s.get(ctx, roomID, photoID, userID)
	if err != nil {
		return nil, false, err
	}
	return vote, existing == nil, nil
}

func (s *VoteStore) get(ctx context.Context, roomID, photoID, userID int64) (*domain.Vote, error) {
	v := &domain.Vote{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, photo_id, user_id, score, timestamp FROM votes
		WHERE room_id = ? AND photo_id = ? AND user_id = ?
	`, roomID, photoID, userID).Scan(&v.ID, &v.RoomID, &v.PhotoID, &v.UserID, &v.Score, &v.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vote: %w", err)
	}
	return v, nil
}

// ListByRoom returns every vote cast in the room in a single query.
func (s *VoteStore) ListByRoom(ctx context.Context, roomID int64) ([]*domain.Vote, error) {
	return s.list(ctx, `
		SELECT id, room_id, photo_id, user_id, score, timestamp FROM votes
		WHERE room_id = ? ORDER BY id ASC
	`, roomID)
}

func (s *VoteStore) ListByUser(ctx context.Context, roomID, userID int64) ([]*domain.Vote, error) {
	return s.list(ctx, `
		SELECT id, room_id, photo_id, user_id, score, timestamp FROM votes
		WHERE room_id = ? AND user_id = ? ORDER BY timestamp DESC, id DESC
	`, roomID, userID)
}

func (s *VoteStore) ListByPhoto(ctx context.Context, roomID, photoID int64) ([]*domain.Vote, error) {
	return s.list(ctx, `
		SELECT id, room_id, photo_id, user_id, score, timestamp FROM votes
		WHERE room_id = ? AND photo_id = ? ORDER BY timestamp ASC, id ASC
	`, roomID, photoID)
}

// DeleteLatestByUser removes the user's most recent vote in the room and
// returns it, or nil when the user has not voted.
func (s *VoteStore) DeleteLatestByUser(ctx context.Context, roomID, userID int64) (*domain.Vote, error) {
	v := &domain.Vote{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, photo_id, user_id, score, timestamp FROM votes
		WHERE room_id = ? AND user_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1
	`, roomID, userID).Scan(&v.ID, &v.RoomID, &v.PhotoID, &v.UserID, &v.Score, &v.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest vote: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM votes WHERE id = ?`, v.ID); err != nil {
		return nil, fmt.Errorf("failed to delete vote: %w", err)
	}
	return v, nil
}

func (s *VoteStore) list(ctx context.Context, query string, args ...any) ([]*domain.Vote, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer closeRows(rows)

	var votes []*domain.Vote
	for rows.Next() {
		v := &domain.Vote{}
		if err := rows.Scan(&v.ID, &v.RoomID, &v.PhotoID, &v.UserID, &v.Score, &v.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating votes: %w", err)
	}
	return votes, nil
}
