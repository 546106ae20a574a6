package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/vbonduro/vowselect/internal/live"
	"github.com/vbonduro/vowselect/internal/metrics"
	"github.com/vbonduro/vowselect/internal/service"
)

// Services bundles everything the HTTP layer calls into.
type Services struct {
	Users    *service.UserService
	Rooms    *service.RoomService
	Votes    *service.VoteService
	Photos   *service.PhotoService
	Rankings *service.RankingService
	Imports  *service.ImportService
	Exports  *service.ExportService
}

type Server struct {
	users    *service.UserService
	rooms    *service.RoomService
	votes    *service.VoteService
	photos   *service.PhotoService
	rankings *service.RankingService
	imports  *service.ImportService
	exports  *service.ExportService

	hub     *live.Hub
	metrics *metrics.Metrics
	limiter *RateLimiter
	mux     *http.ServeMux
	handler http.Handler
	srv     *http.Server
	logger  *slog.Logger
}

// NewServer wires the routes. m may be nil to disable /metrics, and a
// non-positive writeRPS disables rate limiting.
func NewServer(svcs Services, hub *live.Hub, m *metrics.Metrics, writeRPS float64, logger *slog.Logger) *Server {
	s := &Server{
		users:    svcs.Users,
		rooms:    svcs.Rooms,
		votes:    svcs.Votes,
		photos:   svcs.Photos,
		rankings: svcs.Rankings,
		imports:  svcs.Imports,
		exports:  svcs.Exports,
		hub:      hub,
		metrics:  m,
		limiter:  NewRateLimiter(writeRPS),
		mux:      http.NewServeMux(),
		logger:   logger,
	}
	s.registerRoutes()

	compressed := gzhttp.GzipHandler(s.mux)
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Upgraded connections need the raw writer.
		if websocket.IsWebSocketUpgrade(r) {
			s.mux.ServeHTTP(w, r)
			return
		}
		compressed.ServeHTTP(w, r)
	})
	s.handler = requestID(requestLogger(s.logger, securityHeaders(root)))
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("POST /api/users", s.handleCreateUser)
	s.mux.HandleFunc("GET /api/users/{id}", s.handleGetUser)

	s.mux.HandleFunc("POST /api/rooms", s.handleCreateRoom)
	s.mux.HandleFunc("POST /api/rooms/join", s.handleJoinRoom)
	s.mux.HandleFunc("GET /api/rooms/{id}", s.handleGetRoom)
	s.mux.HandleFunc("GET /api/rooms/{id}/participants", s.handleListParticipants)

	s.mux.Handle("POST /api/rooms/{id}/imports", s.limited(s.handleStartImport))
	s.mux.Handle("POST /api/rooms/{id}/uploads", s.limited(s.handleUpload))
	s.mux.HandleFunc("GET /api/imports/{id}", s.handleGetImport)

	s.mux.HandleFunc("GET /api/rooms/{id}/photos", s.handleListPhotos)
	s.mux.HandleFunc("GET /api/photos/{id}", s.handleGetPhoto)
	s.mux.HandleFunc("GET /api/photos/{id}/image", s.handleGetPhotoImage)

	s.mux.Handle("POST /api/votes", s.limited(s.handleCastVote))
	s.mux.Handle("POST /api/votes/undo", s.limited(s.handleUndoVote))
	s.mux.HandleFunc("GET /api/rooms/{id}/votes", s.handleListUserVotes)
	s.mux.HandleFunc("GET /api/photos/{id}/votes", s.handlePhotoVotes)

	s.mux.HandleFunc("GET /api/rooms/{id}/rankings", s.handleRankings)
	s.mux.HandleFunc("POST /api/rooms/{id}/cache/invalidate", s.handleInvalidateCache)

	s.mux.HandleFunc("POST /api/export", s.handleExport)
	s.mux.HandleFunc("GET /api/export/{id}", s.handleGetExport)

	s.mux.HandleFunc("GET /api/rooms/{id}/live", s.handleLive)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe blocks until the server stops. It returns nil after a
// graceful Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("starting server", "addr", addr)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the rate limiter sweeper.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Close()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
