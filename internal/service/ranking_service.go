package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/vbonduro/vowselect/internal/domain"
	"github.com/vbonduro/vowselect/internal/logging"
	"github.com/vbonduro/vowselect/internal/metrics"
	"golang.org/x/sync/singleflight"
)

const rankingCacheName = "rankings"

// roomPhotoLister is the subset of store.PhotoStore used for aggregation.
type roomPhotoLister interface {
	ListByRoom(ctx context.Context, roomID int64) ([]*domain.Photo, error)
}

// roomVoteLister is the subset of store.VoteStore used for aggregation.
type roomVoteLister interface {
	ListByRoom(ctx context.Context, roomID int64) ([]*domain.Vote, error)
}

// RankingService computes a room's photo ranking and caches it.
type RankingService struct {
	rooms   roomGetter
	photos  roomPhotoLister
	votes   roomVoteLister
	caches  *Caches
	metrics *metrics.Metrics
	logger  *slog.Logger

	group singleflight.Group
}

func NewRankingService(rooms roomGetter, photos roomPhotoLister, votes roomVoteLister, caches *Caches, m *metrics.Metrics, logger *slog.Logger) *RankingService {
	return &RankingService{
		rooms:   rooms,
		photos:  photos,
		votes:   votes,
		caches:  caches,
		metrics: m,
		logger:  logging.Component(logger, "rankings"),
	}
}

// ComputeRankings returns the room's ready photos ordered by mean vote score,
// highest first, with 1-based ranks. The slice is shared with the cache and
// must not be modified.
func (s *RankingService) ComputeRankings(ctx context.Context, roomID int64) ([]*domain.PhotoRanking, error) {
	key := rankingKey(roomID)
	if cached, ok := s.caches.Rankings.Get(key); ok {
		s.metrics.CacheHit(rankingCacheName)
		return cached, nil
	}
	s.metrics.CacheMiss(rankingCacheName)

	// The computation is shared, so one caller going away must not fail the
	// others. Each caller still stops waiting when its own ctx ends.
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(strconv.FormatInt(roomID, 10), func() (any, error) {
		// Another caller may have filled the cache while we waited to enter.
		if cached, ok := s.caches.Rankings.Get(key); ok {
			return cached, nil
		}
		rankings, err := s.aggregate(detached, roomID)
		if err != nil {
			return nil, err
		}
		s.caches.Rankings.Set(key, rankings)
		return rankings, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.Debug("ranking computation shared", "room_id", roomID)
		}
		return res.Val.([]*domain.PhotoRanking), nil
	}
}

func (s *RankingService) aggregate(ctx context.Context, roomID int64) ([]*domain.PhotoRanking, error) {
	start := time.Now()

	if _, err := requireRoom(ctx, s.rooms, roomID); err != nil {
		return nil, err
	}

	photos, err := s.photos.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos for ranking: %w", err)
	}
	votes, err := s.votes.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes for ranking: %w", err)
	}

	scores := make(map[int64][]int, len(photos))
	for _, v := range votes {
		scores[v.PhotoID] = append(scores[v.PhotoID], v.Score)
	}

	rankings := make([]*domain.PhotoRanking, 0, len(photos))
	for _, p := range photos {
		if !p.Ready() {
			continue
		}
		photoScores := scores[p.ID]
		rankings = append(rankings, &domain.PhotoRanking{
			PhotoID:           p.ID,
			Filename:          p.Filename,
			SourceType:        p.SourceType,
			Path:              p.Path,
			DriveID:           p.DriveID,
			DriveThumbnailURL: p.DriveThumbnailURL,
			WeightedScore:     mean(photoScores),
			VoteCount:         len(photoScores),
		})
	}

	// Photos arrive in index order, so equal scores stay in index order.
	sort.SliceStable(rankings, func(i, j int) bool {
		return rankings[i].WeightedScore > rankings[j].WeightedScore
	})
	for i, r := range rankings {
		r.Rank = i + 1
	}

	s.metrics.RankingComputeTime.Observe(time.Since(start).Seconds())
	s.logger.Debug("rankings computed", "room_id", roomID, "photos", len(rankings), "votes", len(votes))
	return rankings, nil
}

func mean(scores []int) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return float64(sum) / float64(len(scores))
}
