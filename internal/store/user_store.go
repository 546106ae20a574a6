package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vbonduro/vowselect/internal/domain"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// Create inserts a user. A duplicate username returns domain.ErrNameTaken.
func (s *UserStore) Create(ctx context.Context, username string) (*domain.User, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username) VALUES (?)
	`, username)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("failed to create user %q: %w", username, domain.ErrNameTaken)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	u := &domain.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, created_at FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Username, &u.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return u, nil
}
