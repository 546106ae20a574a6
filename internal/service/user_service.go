package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/vbonduro/vowselect/internal/domain"
	"github.com/vbonduro/vowselect/internal/live"
	"github.com/vbonduro/vowselect/internal/logging"
	"github.com/vbonduro/vowselect/internal/store"
)

const maxCodeAttempts = 10

// userRepository is the subset of store.UserStore that the services require.
type userRepository interface {
	Create(ctx context.Context, username string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

// roomRepository is the subset of store.RoomStore that RoomService requires.
type roomRepository interface {
	Create(ctx context.Context, code string, creatorID int64) (*domain.Room, error)
	GetByID(ctx context.Context, id int64) (*domain.Room, error)
	GetByCode(ctx context.Context, code string) (*domain.Room, error)
	AddParticipant(ctx context.Context, roomID, userID int64, username string) (bool, error)
	ListParticipants(ctx context.Context, roomID int64) ([]*domain.Participant, error)
}

// photoCounter is the subset of store.PhotoStore used for room summaries.
type photoCounter interface {
	CountReadyByRoom(ctx context.Context, roomID int64) (int, error)
}

type UserService struct {
	users  userRepository
	logger *slog.Logger
}

func NewUserService(users userRepository, logger *slog.Logger) *UserService {
	return &UserService{users: users, logger: logging.Component(logger, "users")}
}

func (s *UserService) CreateUser(ctx context.Context, username string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", domain.ErrInvalidInput)
	}
	u, err := s.users.Create(ctx, username)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user created", "user_id", u.ID)
	return u, nil
}

func (s *UserService) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	return u, nil
}

type RoomService struct {
	rooms  roomRepository
	users  userRepository
	photos photoCounter
	events publisher
	logger *slog.Logger

	// newCode is swapped in tests to force collisions.
	newCode func() (string, error)
}

func NewRoomService(rooms roomRepository, users userRepository, photos photoCounter, events publisher, logger *slog.Logger) *RoomService {
	return &RoomService{
		rooms:   rooms,
		users:   users,
		photos:  photos,
		events:  orNop(events),
		logger:  logging.Component(logger, "rooms"),
		newCode: randomCode,
	}
}

// randomCode returns five decimal digits.
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(100000))
	if err != nil {
		return "", fmt.Errorf("failed to generate room code: %w", err)
	}
	return fmt.Sprintf("%05d", n.Int64()), nil
}

// CreateRoom opens a room with a fresh code and adds the creator as its first
// participant.
func (s *RoomService) CreateRoom(ctx context.Context, creatorID int64) (*domain.Room, error) {
	creator, err := s.users.GetByID(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to get creator: %w", err)
	}
	if creator == nil {
		return nil, fmt.Errorf("user %d: %w", creatorID, domain.ErrNotFound)
	}

	var room *domain.Room
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}
		room, err = s.rooms.Create(ctx, code, creatorID)
		if errors.Is(err, store.ErrCodeTaken) {
			s.logger.Debug("room code collision", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}
	if room == nil {
		return nil, fmt.Errorf("failed to allocate a room code after %d attempts", maxCodeAttempts)
	}

	if _, err := s.rooms.AddParticipant(ctx, room.ID, creator.ID, creator.Username); err != nil {
		return nil, fmt.Errorf("failed to add creator to room: %w", err)
	}

	s.logger.Info("room created", "room_id", room.ID, "code", room.Code, "creator_id", creatorID)
	return room, nil
}

// JoinRoom adds the user to the room with the given code. joined is false
// when the user was already a participant.
func (s *RoomService) JoinRoom(ctx context.Context, code string, userID int64, username string) (room *domain.Room, joined bool, err error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, false, fmt.Errorf("%w: room code is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(username) == "" {
		return nil, false, fmt.Errorf("%w: username is required", domain.ErrInvalidInput)
	}

	room, err = s.rooms.GetByCode(ctx, code)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get room: %w", err)
	}
	if room == nil {
		return nil, false, fmt.Errorf("room %s: %w", code, domain.ErrNotFound)
	}

	joined, err = s.rooms.AddParticipant(ctx, room.ID, userID, username)
	if err != nil {
		return nil, false, err
	}
	if joined {
		s.logger.Info("user joined room", "room_id", room.ID, "user_id", userID)
		s.events.Publish(room.ID, live.EventUserJoined, map[string]any{"user_id": userID, "username": username})
	}
	return room, joined, nil
}

// RoomDetails is a room with its participants and the number of ready photos.
type RoomDetails struct {
	Room         *domain.Room          `json:"room"`
	Participants []*domain.Participant `json:"participants"`
	PhotoCount   int                   `json:"photo_count"`
}

func (s *RoomService) GetRoom(ctx context.Context, roomID int64) (*RoomDetails, error) {
	room, err := requireRoom(ctx, s.rooms, roomID)
	if err != nil {
		return nil, err
	}
	participants, err := s.rooms.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	count, err := s.photos.CountReadyByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if participants == nil {
		participants = []*domain.Participant{}
	}
	return &RoomDetails{Room: room, Participants: participants, PhotoCount: count}, nil
}

func (s *RoomService) ListParticipants(ctx context.Context, roomID int64) ([]*domain.Participant, error) {
	if _, err := requireRoom(ctx, s.rooms, roomID); err != nil {
		return nil, err
	}
	participants, err := s.rooms.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if participants == nil {
		participants = []*domain.Participant{}
	}
	return participants, nil
}
