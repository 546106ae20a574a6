package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vbonduro/vowselect/internal/domain"
)

// ErrCodeTaken is returned by Create when the room code is already in use.
var ErrCodeTaken = errors.New("room code already in use")

type RoomStore struct {
	db *sql.DB
}

func NewRoomStore(db *sql.DB) *RoomStore {
	return &RoomStore{db: db}
}

func (s *RoomStore) Create(ctx context.Context, code string, creatorID int64) (*domain.Room, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (code, creator_id, status) VALUES (?, ?, ?)
	`, code, creatorID, domain.RoomActive)
	if isUniqueViolation(err) {
		return nil, ErrCodeTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *RoomStore) GetByID(ctx context.Context, id int64) (*domain.Room, error) {
	return s.getOne(ctx, `SELECT id, code, creator_id, status, created_at FROM rooms WHERE id = ?`, id)
}

func (s *RoomStore) GetByCode(ctx context.Context, code string) (*domain.Room, error) {
	return s.getOne(ctx, `SELECT id, code, creator_id, status, created_at FROM rooms WHERE code = ?`, code)
}

func (s *RoomStore) getOne(ctx context.Context, query string, arg any) (*domain.Room, error) {
	r := &domain.Room{}
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&r.ID, &r.Code, &r.CreatorID, &r.Status, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return r, nil
}

// AddParticipant adds the user to the room. It reports false without error
// when the user is already a participant.
func (s *RoomStore) AddParticipant(ctx context.Context, roomID, userID int64, username string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO room_participants (room_id, user_id, username) VALUES (?, ?, ?)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`, roomID, userID, username)
	if err != nil {
		return false, fmt.Errorf("failed to add participant: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *RoomStore) ListParticipants(ctx context.Context, roomID int64) ([]*domain.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, user_id, username, joined_at FROM room_participants
		WHERE room_id = ? ORDER BY joined_at ASC, id ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer closeRows(rows)

	var out []*domain.Participant
	for rows.Next() {
		p := &domain.Participant{}
		if err := rows.Scan(&p.ID, &p.RoomID, &p.UserID, &p.Username, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}
	return out, nil
}
