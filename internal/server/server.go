// Package server wires the full service together: database, repositories,
// playback services, per-channel schedulers, background jobs, and the HTTP
// surface. It owns startup recovery and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/retrovue/retrovue/internal/bumper"
	"github.com/retrovue/retrovue/internal/config"
	"github.com/retrovue/retrovue/internal/database"
	"github.com/retrovue/retrovue/internal/epg"
	"github.com/retrovue/retrovue/internal/ffmpeg"
	"github.com/retrovue/retrovue/internal/hls"
	"github.com/retrovue/retrovue/internal/observability"
	"github.com/retrovue/retrovue/internal/repository"
	"github.com/retrovue/retrovue/internal/resolver"
	"github.com/retrovue/retrovue/internal/scanner"
	"github.com/retrovue/retrovue/internal/scheduler"
	"github.com/retrovue/retrovue/internal/sessions"
	"github.com/retrovue/retrovue/internal/state"
	"github.com/retrovue/retrovue/internal/worker"
)

// Server is the composed retrovue service.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string

	db       *database.DB
	channels repository.ChannelRepository
	media    repository.MediaRepository
	folders  repository.LibraryFolderRepository
	blocks   repository.ScheduleBlockRepository
	buckets  repository.BucketRepository
	epgCache repository.EPGRepository

	playlists *hls.Service
	tracker   *sessions.Tracker
	resolve   *resolver.Resolver
	projector *epg.Projector
	states    *state.Store

	detector *ffmpeg.BinaryDetector

	// Built during Run once the FFmpeg binaries are known.
	workers *worker.Manager
	bumpers *bumper.Generator
	group   *scheduler.Group
	scan    *scanner.Scanner

	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	jobs       *cron.Cron
}

// New builds the service from configuration. Everything that needs a running
// context (FFmpeg detection, orphan cleanup, schedulers) is deferred to Run.
func New(cfg *config.Config, version string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		version:  version,
		db:       db,
		channels: repository.NewChannelRepository(db.DB),
		media:    repository.NewMediaRepository(db.DB),
		folders:  repository.NewLibraryFolderRepository(db.DB),
		blocks:   repository.NewScheduleBlockRepository(db.DB),
		buckets:  repository.NewBucketRepository(db.DB),
		epgCache: repository.NewEPGRepository(db.DB),
		detector: ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath),
	}

	s.playlists = hls.NewService(observability.WithComponent(logger, "hls"))
	s.tracker = sessions.NewTracker(cfg.Streaming.ViewerGracePeriod, observability.WithComponent(logger, "sessions"))
	s.resolve = resolver.New(s.blocks, s.buckets, observability.WithComponent(logger, "resolver"))
	s.projector = epg.New(s.channels, s.resolve, s.epgCache, cfg.EPG, observability.WithComponent(logger, "epg"))
	s.states = state.NewStore(cfg.Storage.StatePath(), cfg.Storage.StateBackupPath(), observability.WithComponent(logger, "state"))

	return s, nil
}

// Run starts the service and blocks until ctx is cancelled, then shuts down
// within the configured deadline.
func (s *Server) Run(ctx context.Context) error {
	// Transcoders from a previous run would fight over output directories
	// and segment numbering.
	if killed := worker.KillOrphans(ctx, s.cfg.Storage.BaseDir, s.logger); killed > 0 {
		s.logger.Info("killed orphaned transcoders", slog.Int("count", killed))
	}

	info, err := s.detector.Detect(ctx)
	if err != nil {
		return fmt.Errorf("detecting ffmpeg: %w", err)
	}
	s.logger.Info("ffmpeg detected",
		slog.String("version", info.Version),
		slog.String("ffmpeg", info.FFmpegPath),
		slog.String("ffprobe", info.FFprobePath),
	)

	s.workers = worker.NewManager(info.FFmpegPath, observability.WithComponent(s.logger, "worker"))
	s.bumpers = bumper.NewGenerator(info.FFmpegPath, s.cfg.Storage.BumperCacheDir(), observability.WithComponent(s.logger, "bumper"))
	s.scan = scanner.New(s.folders, s.media,
		ffmpeg.NewProber(info.FFprobePath),
		s.cfg.Storage,
		observability.WithComponent(s.logger, "scanner"),
	)

	s.group = scheduler.NewGroup(scheduler.Deps{
		Channels:  s.channels,
		Resolver:  s.resolve,
		Recovery:  s.projector,
		Workers:   s.workers,
		Bumpers:   s.bumpers,
		Playlists: s.playlists,
		Semaphore: semaphore.NewWeighted(int64(s.cfg.Streaming.MaxConcurrentStreams)),
		Streaming: s.cfg.Streaming,
		Storage:   s.cfg.Storage,
		Logger:    observability.WithComponent(s.logger, "scheduler"),
	})

	channels, err := s.channels.GetEnabled(ctx)
	if err != nil {
		return fmt.Errorf("loading channels: %w", err)
	}
	for _, channel := range channels {
		s.group.Add(ctx, channel)
	}

	s.restoreState()

	go s.tracker.Run(ctx)
	go s.group.ConsumeSessionEvents(ctx, s.tracker.Events())
	go s.scanOnStartup(ctx)

	if err := s.startJobs(); err != nil {
		return fmt.Errorf("starting background jobs: %w", err)
	}

	s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.Address(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  2 * time.Minute,
	}

	s.logger.Info("starting http server",
		slog.String("address", s.cfg.Server.Address()),
		slog.String("version", s.version),
		slog.Int("channels", len(channels)),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		s.shutdown(context.Background())
		return err
	case <-ctx.Done():
		return s.shutdown(context.Background())
	}
}

// restoreState seeds schedulers from the persisted snapshot. Restored
// channels are not auto-started; a viewer request starts them at the
// position the clock dictates.
func (s *Server) restoreState() {
	snapshot, err := s.states.Load()
	if err != nil {
		s.logger.Warn("state restore failed, starting fresh", slog.String("error", err.Error()))
		return
	}
	if len(snapshot.Channels) == 0 {
		return
	}
	s.group.Restore(snapshot)
	s.logger.Info("restored channel state",
		slog.Int("channels", len(snapshot.Channels)),
		slog.Time("last_saved", snapshot.LastSaved),
	)
}

// scanOnStartup runs one library scan pass when folders are configured.
func (s *Server) scanOnStartup(ctx context.Context) {
	folders, err := s.folders.GetEnabled(ctx)
	if err != nil {
		s.logger.Warn("loading library folders", slog.String("error", err.Error()))
		return
	}
	if len(folders) == 0 {
		return
	}
	if _, err := s.scan.ScanAll(ctx); err != nil {
		s.logger.Warn("startup library scan failed", slog.String("error", err.Error()))
	}
}

// startJobs schedules the periodic state snapshot and EPG cache sweep.
func (s *Server) startJobs() error {
	s.jobs = cron.New()

	interval := s.cfg.Storage.StateSaveInterval
	if interval <= 0 {
		interval = time.Minute
	}
	if _, err := s.jobs.AddFunc(fmt.Sprintf("@every %s", interval), s.saveState); err != nil {
		return fmt.Errorf("scheduling state snapshot: %w", err)
	}

	if _, err := s.jobs.AddFunc("@every 1h", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		cutoff := time.Now().Add(-24 * time.Hour)
		removed, err := s.epgCache.DeleteBefore(ctx, cutoff)
		if err != nil {
			s.logger.Warn("epg cache sweep failed", slog.String("error", err.Error()))
			return
		}
		if removed > 0 {
			s.logger.Debug("swept stale epg entries", slog.Int64("removed", removed))
		}
	}); err != nil {
		return fmt.Errorf("scheduling epg sweep: %w", err)
	}

	s.jobs.Start()
	return nil
}

func (s *Server) saveState() {
	snapshot := state.Snapshot{Channels: s.group.Snapshot()}
	if err := s.states.Save(snapshot); err != nil {
		s.logger.Error("saving state snapshot", slog.String("error", err.Error()))
	}
}

// buildRouter assembles middleware, the admin API, and playback routes.
func (s *Server) buildRouter() {
	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(RequestID)
	router.Use(RequestLogger(s.logger))
	router.Use(Recovery(s.logger))
	if s.cfg.Server.RequireAuth {
		router.Use(BearerAuth(s.cfg.Server.AuthToken))
	}

	humaConfig := huma.DefaultConfig("retrovue API", s.version)
	humaConfig.Info.Description = "Linear channel streaming and guide management API"
	api := humachi.New(router, humaConfig)

	redactor := observability.NewPathRedactor(
		append([]string{s.cfg.Storage.BaseDir}, s.cfg.Storage.AllowedLibraryPaths...)...,
	)

	apiHandler := NewAPIHandler(
		s.channels, s.group, s.projector, s.resolve,
		s.db, redactor, s.version,
		observability.WithComponent(s.logger, "api"),
	)
	apiHandler.Register(api)

	playback := NewPlaybackHandler(
		s.channels, s.playlists, s.tracker, s.projector,
		s.cfg.Storage, s.cfg.Streaming,
		observability.WithComponent(s.logger, "playback"),
	)
	playback.Routes(router)

	s.router = router
	s.api = api
}

// shutdown stops intake first, then the streaming machinery, then persists
// state. The whole sequence is bounded by the configured deadline; workers
// that outlive it are killed.
func (s *Server) shutdown(ctx context.Context) error {
	deadline := s.cfg.Server.ShutdownTimeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	s.logger.Info("shutting down", slog.Duration("deadline", deadline))

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown", slog.String("error", err.Error()))
		}
	}
	if s.jobs != nil {
		s.jobs.Stop()
	}

	s.group.Shutdown()
	s.workers.StopAll()

	s.saveState()

	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing database", slog.String("error", err.Error()))
	}

	s.logger.Info("shutdown complete")
	return nil
}

// Router exposes the HTTP handler, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
