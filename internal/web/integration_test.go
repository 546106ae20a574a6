package web_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/vowselect/internal/db"
	"github.com/vbonduro/vowselect/internal/domain"
	"github.com/vbonduro/vowselect/internal/live"
	"github.com/vbonduro/vowselect/internal/metrics"
	"github.com/vbonduro/vowselect/internal/photostore/blob"
	"github.com/vbonduro/vowselect/internal/queue"
	"github.com/vbonduro/vowselect/internal/service"
	"github.com/vbonduro/vowselect/internal/source"
	"github.com/vbonduro/vowselect/internal/source/local"
	"github.com/vbonduro/vowselect/internal/store"
	"github.com/vbonduro/vowselect/internal/transform"
	"github.com/vbonduro/vowselect/internal/web"
)

// fakeDrive lists n images and serves the same PNG for every download.
type fakeDrive struct {
	items []source.Item
	image []byte
}

func (d *fakeDrive) ListImages(context.Context, string) ([]source.Item, error) {
	return d.items, nil
}

func (d *fakeDrive) Download(context.Context, string) ([]byte, error) {
	return d.image, nil
}

func newFakeDrive(t *testing.T, n int) *fakeDrive {
	t.Helper()
	items := make([]source.Item, n)
	for i := range items {
		items[i] = source.Item{
			ID:           fmt.Sprintf("f%d", i),
			Name:         fmt.Sprintf("DSC_%04d.jpg", i),
			ThumbnailURL: fmt.Sprintf("https://thumbs.example/f%d", i),
		}
	}
	return &fakeDrive{items: items, image: testPNG(t)}
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := imaging.New(48, 32, color.NRGBA{R: 200, G: 80, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type testServerOptions struct {
	driveItems int
	writeRPS   float64
}

// newTestServer sets up a real web.Server backed by in-memory SQLite, a
// mem:// bucket, a running task queue and live hub.
func newTestServer(t *testing.T, opts testServerOptions) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	database, err := db.OpenForTesting()
	require.NoError(t, err)
	payloads, err := blob.Open(context.Background(), "mem://", logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	q := queue.New(10, 1, logger)
	q.Start(ctx)
	hub := live.NewHub(logger)
	go hub.Run(ctx)

	users := store.NewUserStore(database)
	rooms := store.NewRoomStore(database)
	photos := store.NewPhotoStore(database)
	votes := store.NewVoteStore(database)
	jobs := store.NewImportJobStore(database)
	exports := store.NewExportJobStore(database)
	caches := service.NewCaches(time.Minute, time.Minute)
	m := metrics.New("test", q.Len)

	drv := newFakeDrive(t, opts.driveItems)
	factory := func(context.Context, string) (source.Drive, error) { return drv, nil }

	rankings := service.NewRankingService(rooms, photos, votes, caches, m, logger)
	svcs := web.Services{
		Users:    service.NewUserService(users, logger),
		Rooms:    service.NewRoomService(rooms, users, photos, hub, logger),
		Votes:    service.NewVoteService(rooms, photos, votes, caches, hub, m, logger),
		Photos:   service.NewPhotoService(rooms, photos, payloads, caches, m, logger),
		Rankings: rankings,
		Imports: service.NewImportService(
			rooms, photos, jobs, payloads,
			transform.NewCompressor(64, 80, 2),
			local.NewScanner(t.TempDir()),
			factory, q, caches, hub, m,
			service.ImportConfig{BatchSize: 10},
			logger,
		),
		Exports: service.NewExportService(rankings, exports, logger),
	}

	ws := web.NewServer(svcs, hub, m, opts.writeRPS, logger)
	srv := httptest.NewServer(ws)
	t.Cleanup(func() {
		srv.Close()
		_ = ws.Shutdown(context.Background())
		cancel()
		q.Shutdown()
		_ = payloads.Close()
		_ = database.Close()
	})
	return srv
}

// doJSON sends body as JSON and decodes the response into out when non-nil.
func doJSON(t *testing.T, method, url string, body, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// buildMultipartBody creates a multipart/form-data body with one "files"
// part per entry.
func buildMultipartBody(t *testing.T, files map[string][]byte) (body *bytes.Buffer, contentType string) {
	t.Helper()
	body = &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for name, data := range files {
		fw, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

// seedRoom creates a user and a room they own, returning both ids.
func seedRoom(t *testing.T, srv *httptest.Server, username string) (userID, roomID int64) {
	t.Helper()
	var user domain.User
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, srv.URL+"/api/users", map[string]string{"username": username}, &user))
	var room domain.Room
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/rooms?user_id=%d", srv.URL, user.ID), nil, &room))
	return user.ID, room.ID
}

func uploadPhotos(t *testing.T, srv *httptest.Server, roomID int64, files map[string][]byte) *http.Response {
	t.Helper()
	body, contentType := buildMultipartBody(t, files)
	resp, err := http.Post(fmt.Sprintf("%s/api/rooms/%d/uploads", srv.URL, roomID), contentType, body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestIntegration_Health(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t, testServerOptions{})

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestIntegration_UsersAndRooms(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t, testServerOptions{})
	_, roomID := seedRoom(t, srv, "alice")

	var dup map[string]string
	assert.Equal(t, http.StatusConflict, doJSON(t, http.MethodPost, srv.URL+"/api/users", map[string]string{"username": "alice"}, &dup))
	assert.NotEmpty(t, dup["error"])

	var bob domain.User
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, srv.URL+"/api/users", map[string]string{"username": "bob"}, &bob))

	var details service.RoomDetails
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/rooms/%d", srv.URL, roomID), nil, &details))
	require.Len(t, details.Participants, 1)

	join := map[string]any{"code": details.Room.Code, "user_id": bob.ID, "username": bob.Username}
	var joined struct {
		Message string      `json:"message"`
		Room    domain.Room `json:"room"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/api/rooms/join", join, &joined))
	assert.Equal(t, "Joined successfully", joined.Message)
	assert.Equal(t, roomID, joined.Room.ID)

	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/api/rooms/join", join, &joined))
	assert.Equal(t, "Already in room", joined.Message)

	var participants []domain.Participant
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/rooms/%d/participants", srv.URL, roomID), nil, &participants))
	assert.Len(t, participants, 2)

	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/api/rooms/999", nil, nil))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodGet, srv.URL+"/api/rooms/abc", nil, nil))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, srv.URL+"/api/rooms", nil, nil))
}

// TestIntegration_UploadVoteRankExport walks the main flow: upload photos,
// vote on them, read rankings and export the winners.
func TestIntegration_UploadVoteRankExport(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t, testServerOptions{})
	userID, roomID := seedRoom(t, srv, "alice")

	img := testPNG(t)
	resp := uploadPhotos(t, srv, roomID, map[string][]byte{"one.png": img, "two.png": img})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary service.ImportSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, domain.JobCompleted, summary.Status)
	assert.Equal(t, 2, summary.ImportedCount)

	var page service.PhotoPage
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/rooms/%d/photos", srv.URL, roomID), nil, &page))
	require.Len(t, page.Photos, 2)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 50, page.Limit)
	low, high := page.Photos[0], page.Photos[1]

	imgResp, err := http.Get(fmt.Sprintf("%s/api/photos/%d/image", srv.URL, high.ID))
	require.NoError(t, err)
	t.Cleanup(func() { _ = imgResp.Body.Close() })
	assert.Equal(t, http.StatusOK, imgResp.StatusCode)
	assert.Equal(t, "image/jpeg", imgResp.Header.Get("Content-Type"))

	var cast struct {
		Message string      `json:"message"`
		Vote    domain.Vote `json:"vote"`
	}
	vote := func(photoID int64, score int) int {
		return doJSON(t, http.MethodPost, srv.URL+"/api/votes",
			map[string]any{"room_id": roomID, "photo_id": photoID, "user_id": userID, "score": score}, &cast)
	}
	require.Equal(t, http.StatusCreated, vote(low.ID, -2))
	assert.Equal(t, "Vote created", cast.Message)
	require.Equal(t, http.StatusCreated, vote(high.ID, 1))
	require.Equal(t, http.StatusOK, vote(high.ID, 3))
	assert.Equal(t, "Vote updated", cast.Message)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, srv.URL+"/api/votes",
		map[string]any{"room_id": roomID, "photo_id": high.ID, "user_id": userID, "score": 0}, nil))

	var rankings []domain.PhotoRanking
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/rooms/%d/rankings", srv.URL, roomID), nil, &rankings))
	require.Len(t, rankings, 2)
	assert.Equal(t, high.ID, rankings[0].PhotoID)
	assert.Equal(t, 3.0, rankings[0].WeightedScore)
	assert.Equal(t, 1, rankings[0].Rank)
	assert.Equal(t, 2, rankings[1].Rank)

	var photoVotes service.PhotoVoteSummary
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/photos/%d/votes", srv.URL, high.ID), nil, &photoVotes))
	assert.Equal(t, 1, photoVotes.VoteCount)

	var export service.ExportResult
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/api/export",
		map[string]any{"room_id": roomID, "top_n": 1, "destination_type": "local", "destination_path": "/out"}, &export))
	require.Len(t, export.TopPhotos, 1)
	assert.Equal(t, high.ID, export.TopPhotos[0].PhotoID)
	assert.True(t, strings.HasPrefix(export.CSVReport, "rank,photo_id,filename,score,votes\n"))

	var job domain.ExportJob
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/export/"+export.JobID, nil, &job))
	assert.Equal(t, 1, job.TopN)

	var undone map[string]any
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/api/votes/undo",
		map[string]any{"room_id": roomID, "user_id": userID}, &undone))
	assert.Equal(t, "Vote undone", undone["message"])
	assert.EqualValues(t, high.ID, undone["photo_id"])

	var mine []domain.Vote
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/rooms/%d/votes?user_id=%d", srv.URL, roomID, userID), nil, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, low.ID, mine[0].PhotoID)
}

func TestIntegration_UploadRejectsNonImage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t, testServerOptions{})
	_, roomID := seedRoom(t, srv, "alice")

	resp := uploadPhotos(t, srv, roomID, map[string][]byte{"notes.pdf": []byte("%PDF-1.4 not an image")})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = uploadPhotos(t, srv, 999, map[string][]byte{"a.png": testPNG(t)})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIntegration_JSONUploadImport(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t, testServerOptions{})
	_, roomID := seedRoom(t, srv, "alice")
	url := fmt.Sprintf("%s/api/rooms/%d/imports", srv.URL, roomID)

	var summary service.ImportSummary
	body := map[string]any{
		"source_type": "upload",
		"files":       []map[string]string{{"name": "a.png", "data": base64.StdEncoding.EncodeToString(testPNG(t))}},
	}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, url, body, &summary))
	assert.Equal(t, 1, summary.ImportedCount)

	var job domain.ImportJob
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/imports/"+summary.JobID, nil, &job))
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Equal(t, domain.SourceUpload, job.SourceType)

	// Bodies past the generic JSON limit are accepted on the import route.
	large := map[string]any{
		"source_type": "upload",
		"files": []map[string]string{
			{"name": "b.png", "data": base64.StdEncoding.EncodeToString(testPNG(t))},
			{"name": "big.bin", "data": base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 2<<20))},
		},
	}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, url, large, &summary))
	assert.Equal(t, 1, summary.ImportedCount)

	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, url, map[string]any{"source_type": "ftp"}, nil))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, url, map[string]any{"source_type": "upload"}, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/api/imports/missing", nil, nil))
}

// TestIntegration_DriveImportContinues verifies that a drive folder larger
// than one batch returns after the first batch and completes on the queue.
func TestIntegration_DriveImportContinues(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t, testServerOptions{driveItems: 25})
	_, roomID := seedRoom(t, srv, "alice")

	var summary service.ImportSummary
	status := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/rooms/%d/imports", srv.URL, roomID),
		map[string]any{"source_type": "drive", "drive_folder_id": "folder", "drive_access_token": "tok"}, &summary)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, domain.JobProcessing, summary.Status)
	assert.Equal(t, 10, summary.ImportedCount)
	assert.Equal(t, 25, summary.TotalFound)
	assert.Equal(t, 15, summary.PendingCount)

	require.Eventually(t, func() bool {
		var job domain.ImportJob
		doJSON(t, http.MethodGet, srv.URL+"/api/imports/"+summary.JobID, nil, &job)
		return job.Status == domain.JobCompleted && job.ProcessedPhotos == 25
	}, 10*time.Second, 50*time.Millisecond)

	var page service.PhotoPage
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/rooms/%d/photos?limit=100", srv.URL, roomID), nil, &page))
	assert.Equal(t, 25, page.Total)
	assert.Equal(t, 24, page.Photos[24].Index)
}

func TestIntegration_PhotoPagingValidation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t, testServerOptions{})
	_, roomID := seedRoom(t, srv, "alice")

	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/rooms/%d/photos?skip=x", srv.URL, roomID), nil, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/api/rooms/999/photos", nil, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/api/rooms/999/rankings", nil, nil))

	var invalidated map[string]int
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/rooms/%d/cache/invalidate", srv.URL, roomID), nil, &invalidated))
	assert.Contains(t, invalidated, "invalidated")
}

func TestIntegration_VoteRateLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t, testServerOptions{writeRPS: 1})
	userID, roomID := seedRoom(t, srv, "alice")

	body := map[string]any{"room_id": roomID, "photo_id": 999, "user_id": userID, "score": 1}
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodPost, srv.URL+"/api/votes", body, nil))

	var limited map[string]string
	assert.Equal(t, http.StatusTooManyRequests, doJSON(t, http.MethodPost, srv.URL+"/api/votes", body, &limited))
	assert.Contains(t, limited["error"], "rate limit")

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/health", nil, nil))
}

func TestIntegration_LiveEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t, testServerOptions{})
	userID, roomID := seedRoom(t, srv, "alice")

	wsURL := fmt.Sprintf("ws%s/api/rooms/%d/live", strings.TrimPrefix(srv.URL, "http"), roomID)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	_, _, err = websocket.DefaultDialer.Dial(fmt.Sprintf("ws%s/api/rooms/999/live", strings.TrimPrefix(srv.URL, "http")), nil)
	assert.Error(t, err)

	up := uploadPhotos(t, srv, roomID, map[string][]byte{"a.png": testPNG(t)})
	require.Equal(t, http.StatusOK, up.StatusCode)

	var page service.PhotoPage
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/rooms/%d/photos", srv.URL, roomID), nil, &page))
	require.Len(t, page.Photos, 1)
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, srv.URL+"/api/votes",
		map[string]any{"room_id": roomID, "photo_id": page.Photos[0].ID, "user_id": userID, "score": 2}, nil))

	seen := map[string]bool{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for !seen[live.EventVoteCast] {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev live.Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, roomID, ev.RoomID)
		seen[ev.Type] = true
	}
}

func TestIntegration_Metrics(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t, testServerOptions{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "test_")
}
