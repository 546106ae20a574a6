package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vbonduro/vowselect/internal/domain"
	"github.com/vbonduro/vowselect/internal/live"
	"github.com/vbonduro/vowselect/internal/logging"
	"github.com/vbonduro/vowselect/internal/metrics"
)

// voteRepository is the subset of store.VoteStore that VoteService requires.
type voteRepository interface {
	Upsert(ctx context.Context, roomID, photoID, userID int64, score int, at time.Time) (*domain.Vote, bool, error)
	ListByUser(ctx context.Context, roomID, userID int64) ([]*domain.Vote, error)
	ListByPhoto(ctx context.Context, roomID, photoID int64) ([]*domain.Vote, error)
	DeleteLatestByUser(ctx context.Context, roomID, userID int64) (*domain.Vote, error)
}

// photoGetter is the subset of store.PhotoStore used to look up one photo.
type photoGetter interface {
	GetByID(ctx context.Context, id int64) (*domain.Photo, error)
}

type VoteService struct {
	rooms   roomGetter
	photos  photoGetter
	votes   voteRepository
	caches  *Caches
	events  publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewVoteService(rooms roomGetter, photos photoGetter, votes voteRepository, caches *Caches, events publisher, m *metrics.Metrics, logger *slog.Logger) *VoteService {
	return &VoteService{
		rooms:   rooms,
		photos:  photos,
		votes:   votes,
		caches:  caches,
		events:  orNop(events),
		metrics: m,
		logger:  logging.Component(logger, "votes"),
	}
}

// CastVote records the user's score for a photo, replacing an earlier vote
// on the same photo. created reports whether this was the first vote.
func (s *VoteService) CastVote(ctx context.Context, roomID, photoID, userID int64, score int) (vote *domain.Vote, created bool, err error) {
	if !domain.ValidScore(score) {
		return nil, false, fmt.Errorf("%w: score must be one of %v", domain.ErrInvalidInput, domain.VoteScores)
	}
	if _, err := requireRoom(ctx, s.rooms, roomID); err != nil {
		return nil, false, err
	}

	photo, err := s.photos.GetByID(ctx, photoID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get photo: %w", err)
	}
	if photo == nil || photo.RoomID != roomID {
		return nil, false, fmt.Errorf("photo %d in room %d: %w", photoID, roomID, domain.ErrNotFound)
	}
	if !photo.Ready() {
		return nil, false, fmt.Errorf("%w: photo %d has not finished importing", domain.ErrInvalidInput, photoID)
	}

	vote, created, err = s.votes.Upsert(ctx, roomID, photoID, userID, score, time.Now())
	if err != nil {
		return nil, false, err
	}

	s.caches.Rankings.Invalidate(rankingKey(roomID))
	s.metrics.VotesCast.Inc()
	s.events.Publish(roomID, live.EventVoteCast, vote)
	s.events.Publish(roomID, live.EventRankingsChanged, nil)

	s.logger.Debug("vote recorded", "room_id", roomID, "photo_id", photoID, "user_id", userID, "created", created)
	return vote, created, nil
}

// UndoLastVote deletes the user's most recent vote in the room.
func (s *VoteService) UndoLastVote(ctx context.Context, roomID, userID int64) (*domain.Vote, error) {
	vote, err := s.votes.DeleteLatestByUser(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if vote == nil {
		return nil, fmt.Errorf("no votes to undo: %w", domain.ErrNotFound)
	}

	s.caches.Rankings.Invalidate(rankingKey(roomID))
	s.events.Publish(roomID, live.EventVoteUndone, vote)
	s.events.Publish(roomID, live.EventRankingsChanged, nil)

	s.logger.Debug("vote undone", "room_id", roomID, "photo_id", vote.PhotoID, "user_id", userID)
	return vote, nil
}

func (s *VoteService) ListUserVotes(ctx context.Context, roomID, userID int64) ([]*domain.Vote, error) {
	votes, err := s.votes.ListByUser(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if votes == nil {
		votes = []*domain.Vote{}
	}
	return votes, nil
}

// PhotoVoteSummary is every vote on one photo with their count and mean.
type PhotoVoteSummary struct {
	Votes        []*domain.Vote `json:"votes"`
	VoteCount    int            `json:"vote_count"`
	AverageScore float64        `json:"average_score"`
}

func (s *VoteService) PhotoVotes(ctx context.Context, roomID, photoID int64) (*PhotoVoteSummary, error) {
	votes, err := s.votes.ListByPhoto(ctx, roomID, photoID)
	if err != nil {
		return nil, err
	}
	if votes == nil {
		votes = []*domain.Vote{}
	}

	scores := make([]int, len(votes))
	for i, v := range votes {
		scores[i] = v.Score
	}
	return &PhotoVoteSummary{Votes: votes, VoteCount: len(votes), AverageScore: mean(scores)}, nil
}
