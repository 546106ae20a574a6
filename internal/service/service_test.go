package service

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/vowselect/internal/db"
	"github.com/vbonduro/vowselect/internal/domain"
	"github.com/vbonduro/vowselect/internal/metrics"
	"github.com/vbonduro/vowselect/internal/photostore/blob"
	"github.com/vbonduro/vowselect/internal/store"
)

const defaultTestTTL = time.Minute

// recordingPublisher captures live events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ int64, eventType string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type testEnv struct {
	db       *sql.DB
	users    *store.UserStore
	rooms    *store.RoomStore
	photos   *store.PhotoStore
	votes    *store.VoteStore
	jobs     *store.ImportJobStore
	exports  *store.ExportJobStore
	payloads *blob.BlobPhotoStore
	caches   *Caches
	metrics  *metrics.Metrics
	events   *recordingPublisher
	logger   *slog.Logger

	codes int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	payloads, err := blob.Open(context.Background(), "mem://", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = payloads.Close() })

	return &testEnv{
		db:       d,
		users:    store.NewUserStore(d),
		rooms:    store.NewRoomStore(d),
		photos:   store.NewPhotoStore(d),
		votes:    store.NewVoteStore(d),
		jobs:     store.NewImportJobStore(d),
		exports:  store.NewExportJobStore(d),
		payloads: payloads,
		caches:   NewCaches(defaultTestTTL, defaultTestTTL),
		metrics:  metrics.New("test", nil),
		events:   &recordingPublisher{},
		logger:   logger,
	}
}

// seedRoom creates a user and a room owned by that user.
func (e *testEnv) seedRoom(t *testing.T, username string) (*domain.User, *domain.Room) {
	t.Helper()
	ctx := context.Background()
	u, err := e.users.Create(ctx, username)
	require.NoError(t, err)
	e.codes++
	r, err := e.rooms.Create(ctx, fmt.Sprintf("%05d", e.codes), u.ID)
	require.NoError(t, err)
	return u, r
}

// addPhoto inserts a photo directly. Ready photos get a dummy storage key.
func (e *testEnv) addPhoto(t *testing.T, roomID int64, idx int, name string, ready bool) *domain.Photo {
	t.Helper()
	p := &domain.Photo{RoomID: roomID, SourceType: domain.SourceLocal, Filename: name, Path: "/img/" + name, Index: idx}
	if ready {
		p.StorageKey = fmt.Sprintf("room_%d/%s", roomID, name)
		p.MimeType = "image/jpeg"
	}
	created, err := e.photos.Create(context.Background(), p)
	require.NoError(t, err)
	return created
}

func (e *testEnv) countJobs(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.QueryRow(`SELECT COUNT(*) FROM import_jobs`).Scan(&n))
	return n
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 30, G: 120, B: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
