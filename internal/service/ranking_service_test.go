package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/vowselect/internal/domain"
)

// countingVotes wraps a vote lister, counting calls and optionally blocking
// until gate is closed.
type countingVotes struct {
	inner roomVoteLister
	calls atomic.Int32
	gate  chan struct{}
}

func (c *countingVotes) ListByRoom(ctx context.Context, roomID int64) ([]*domain.Vote, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.inner.ListByRoom(ctx, roomID)
}

func newRankingService(env *testEnv, votes roomVoteLister) *RankingService {
	return NewRankingService(env.rooms, env.photos, votes, env.caches, env.metrics, env.logger)
}

func vote(t *testing.T, env *testEnv, roomID, photoID, userID int64, score int) {
	t.Helper()
	_, _, err := env.votes.Upsert(context.Background(), roomID, photoID, userID, score, time.Now())
	require.NoError(t, err)
}

func TestComputeRankings_OrdersByMeanScore(t *testing.T) {
	env := newTestEnv(t)
	alice, room := env.seedRoom(t, "alice")
	bob, err := env.users.Create(context.Background(), "bob")
	require.NoError(t, err)

	p0 := env.addPhoto(t, room.ID, 0, "p0.jpg", true)
	p1 := env.addPhoto(t, room.ID, 1, "p1.jpg", true)
	p2 := env.addPhoto(t, room.ID, 2, "p2.jpg", true)
	env.addPhoto(t, room.ID, 3, "pending.jpg", false)

	vote(t, env, room.ID, p0.ID, alice.ID, 1)
	vote(t, env, room.ID, p0.ID, bob.ID, -1) // mean 0
	vote(t, env, room.ID, p1.ID, alice.ID, 3)
	vote(t, env, room.ID, p1.ID, bob.ID, 2) // mean 2.5
	// p2 has no votes

	svc := newRankingService(env, env.votes)
	rankings, err := svc.ComputeRankings(context.Background(), room.ID)
	require.NoError(t, err)
	require.Len(t, rankings, 3, "non-ready photos are excluded")

	assert.Equal(t, p1.ID, rankings[0].PhotoID)
	assert.InDelta(t, 2.5, rankings[0].WeightedScore, 1e-9)
	assert.Equal(t, 2, rankings[0].VoteCount)

	// p0 and p2 tie at 0 and keep index order.
	assert.Equal(t, p0.ID, rankings[1].PhotoID)
	assert.Equal(t, p2.ID, rankings[2].PhotoID)
	assert.Zero(t, rankings[2].WeightedScore)
	assert.Zero(t, rankings[2].VoteCount)

	for i, r := range rankings {
		assert.Equal(t, i+1, r.Rank)
		if i > 0 {
			assert.GreaterOrEqual(t, rankings[i-1].WeightedScore, r.WeightedScore)
		}
	}
}

func TestComputeRankings_EmptyRoom(t *testing.T) {
	env := newTestEnv(t)
	_, room := env.seedRoom(t, "alice")

	rankings, err := newRankingService(env, env.votes).ComputeRankings(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Empty(t, rankings)
}

func TestComputeRankings_UnknownRoom(t *testing.T) {
	env := newTestEnv(t)

	_, err := newRankingService(env, env.votes).ComputeRankings(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestComputeRankings_ServesFromCacheUntilInvalidated(t *testing.T) {
	env := newTestEnv(t)
	alice, room := env.seedRoom(t, "alice")
	p0 := env.addPhoto(t, room.ID, 0, "p0.jpg", true)
	p1 := env.addPhoto(t, room.ID, 1, "p1.jpg", true)
	vote(t, env, room.ID, p0.ID, alice.ID, 1)

	votes := &countingVotes{inner: env.votes}
	svc := newRankingService(env, votes)
	ctx := context.Background()

	first, err := svc.ComputeRankings(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, p0.ID, first[0].PhotoID)

	// A vote written behind the cache's back is not seen yet.
	vote(t, env, room.ID, p1.ID, alice.ID, 3)
	cached, err := svc.ComputeRankings(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, p0.ID, cached[0].PhotoID)
	assert.Equal(t, int32(1), votes.calls.Load())

	env.caches.Rankings.Invalidate(rankingKey(room.ID))
	fresh, err := svc.ComputeRankings(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, p1.ID, fresh[0].PhotoID)
	assert.Equal(t, int32(2), votes.calls.Load())
}

func TestComputeRankings_ConcurrentMissesAggregateOnce(t *testing.T) {
	env := newTestEnv(t)
	_, room := env.seedRoom(t, "alice")
	env.addPhoto(t, room.ID, 0, "p0.jpg", true)

	votes := &countingVotes{inner: env.votes, gate: make(chan struct{})}
	svc := newRankingService(env, votes)

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]*domain.PhotoRanking, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := svc.ComputeRankings(context.Background(), room.ID)
			assert.NoError(t, err)
			results[i] = r
		}()
	}

	require.Eventually(t, func() bool { return votes.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(votes.gate)
	wg.Wait()

	assert.Equal(t, int32(1), votes.calls.Load())
	for _, r := range results {
		require.Len(t, r, 1)
	}
}

func TestComputeRankings_CancelledCallerDoesNotFailOthers(t *testing.T) {
	env := newTestEnv(t)
	_, room := env.seedRoom(t, "alice")
	env.addPhoto(t, room.ID, 0, "p0.jpg", true)

	votes := &countingVotes{inner: env.votes, gate: make(chan struct{})}
	svc := newRankingService(env, votes)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.ComputeRankings(firstCtx, room.ID)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return votes.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		rankings []*domain.PhotoRanking
		err      error
	}
	second := make(chan result, 1)
	go func() {
		r, err := svc.ComputeRankings(context.Background(), room.ID)
		second <- result{r, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(votes.gate)
	res := <-second
	require.NoError(t, res.err)
	assert.Len(t, res.rankings, 1)
	assert.Equal(t, int32(1), votes.calls.Load())

	_, ok := env.caches.Rankings.Get(rankingKey(room.ID))
	assert.True(t, ok, "the shared result is cached")
}

func TestComputeRankings_ExpiresAfterTTL(t *testing.T) {
	env := newTestEnv(t)
	_, room := env.seedRoom(t, "alice")
	env.addPhoto(t, room.ID, 0, "p0.jpg", true)

	now := time.Now()
	env.caches.Rankings.WithClock(func() time.Time { return now })

	votes := &countingVotes{inner: env.votes}
	svc := newRankingService(env, votes)
	ctx := context.Background()

	_, err := svc.ComputeRankings(ctx, room.ID)
	require.NoError(t, err)

	now = now.Add(defaultTestTTL)
	_, err = svc.ComputeRankings(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), votes.calls.Load())
}
