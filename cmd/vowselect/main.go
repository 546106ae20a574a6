package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vbonduro/vowselect/internal/config"
	"github.com/vbonduro/vowselect/internal/db"
	"github.com/vbonduro/vowselect/internal/live"
	"github.com/vbonduro/vowselect/internal/logging"
	"github.com/vbonduro/vowselect/internal/metrics"
	"github.com/vbonduro/vowselect/internal/photostore/blob"
	"github.com/vbonduro/vowselect/internal/queue"
	"github.com/vbonduro/vowselect/internal/service"
	"github.com/vbonduro/vowselect/internal/source/drive"
	"github.com/vbonduro/vowselect/internal/source/local"
	"github.com/vbonduro/vowselect/internal/store"
	"github.com/vbonduro/vowselect/internal/transform"
	"github.com/vbonduro/vowselect/internal/web"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		cleanup()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payloads, err := blob.Open(appCtx, cfg.PayloadBucketURL, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := payloads.Close(); err != nil {
			logger.Error("failed to close payload bucket", "error", err)
		}
	}()

	userStore := store.NewUserStore(database)
	roomStore := store.NewRoomStore(database)
	photoStore := store.NewPhotoStore(database)
	voteStore := store.NewVoteStore(database)
	importJobs := store.NewImportJobStore(database)
	exportJobs := store.NewExportJobStore(database)

	tasks := queue.New(cfg.QueueSize, cfg.QueueWorkers, logger)
	tasks.Start(appCtx)

	m := metrics.New("vowselect", tasks.Len)
	var exposed *metrics.Metrics
	if cfg.MetricsEnabled {
		exposed = m
	}

	hub := live.NewHub(logger)
	go hub.Run(appCtx)

	caches := service.NewCaches(cfg.RankingTTL, cfg.PhotoTTL)
	rankings := service.NewRankingService(roomStore, photoStore, voteStore, caches, m, logger)
	svcs := web.Services{
		Users:    service.NewUserService(userStore, logger),
		Rooms:    service.NewRoomService(roomStore, userStore, photoStore, hub, logger),
		Votes:    service.NewVoteService(roomStore, photoStore, voteStore, caches, hub, m, logger),
		Photos:   service.NewPhotoService(roomStore, photoStore, payloads, caches, m, logger),
		Rankings: rankings,
		Imports: service.NewImportService(
			roomStore, photoStore, importJobs, payloads,
			transform.NewCompressor(cfg.MaxEdge, cfg.Quality, cfg.TransformConcurrency),
			local.NewScanner(cfg.LocalImportRoot),
			drive.Factory(),
			tasks, caches, hub, m,
			service.ImportConfig{BatchSize: cfg.BatchSize, BatchPause: cfg.BatchPause},
			logger,
		),
		Exports: service.NewExportService(rankings, exportJobs, logger),
	}
	server := web.NewServer(svcs, hub, exposed, cfg.VoteRateLimit, logger)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe(cfg.ListenAddr) }()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-sigCtx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down http server", "error", err)
	}

	// Running continuations see the cancellation and mark their jobs failed.
	cancel()
	tasks.Shutdown()

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}
