package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/lucky-verma/music-discovery/internal/fetch"
	"github.com/lucky-verma/music-discovery/internal/history"
	"github.com/lucky-verma/music-discovery/internal/importer"
	"github.com/lucky-verma/music-discovery/internal/library"
	"github.com/lucky-verma/music-discovery/internal/models"
	"github.com/lucky-verma/music-discovery/internal/notifier"
	"github.com/lucky-verma/music-discovery/internal/orchestrator"
	"github.com/lucky-verma/music-discovery/internal/queue"
	"github.com/lucky-verma/music-discovery/internal/server"
	"github.com/lucky-verma/music-discovery/internal/services"
	"github.com/lucky-verma/music-discovery/internal/shared"
)

const (
	historyRetention = 30 * 24 * time.Hour
	cleanupInterval  = 6 * time.Hour
	shutdownTimeout  = 10 * time.Second
)

// Setup creates the config file if needed, initializes the database, and runs migrations.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	if _, err := os.Stat(configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		r.logger.Info("config file created", "path", configPath)
	}

	config := r.reloadConfig(cmd)

	r.logger.Info("initializing database", "path", config.Database.Path)
	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	r.logger.Info("running database migrations")
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	r.logger.Infof("setup complete for database: %v", config.Database.Path)
	return nil
}

// Serve runs the full pipeline: database, scheduler, import watcher, rescan
// notifier, and HTTP API. Blocks until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	config := r.reloadConfig(cmd)
	logger := r.logger

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	store := history.NewStore(db, logger)

	index, err := library.NewIndex(db)
	if err != nil {
		return fmt.Errorf("failed to load library index: %w", err)
	}
	logger.Info("library index loaded", "entries", index.Len())

	organizer := library.NewOrganizer(
		config.Library.Root,
		config.Library.DuplicatesDir,
		library.DuplicatePolicy(config.Library.DuplicatePolicy),
		index,
		logger,
	)

	fetcher := fetch.NewYTDLPFetcher(config.Downloads.TmpDir, logger)
	pipeline := orchestrator.NewPipeline(fetcher, organizer)

	scheduler := queue.NewScheduler(config.Downloads, pipeline, store, logger)
	notif := notifier.New(config.Navidrome, logger)
	defer notif.Close()

	orch := orchestrator.New(scheduler, notif, config.Downloads.Quality, logger)
	scheduler.OnTerminal = orch.JobTerminal
	scheduler.Start(ctx)
	defer scheduler.Stop()

	if err := reconcileOpenJobs(store, orch, logger); err != nil {
		logger.Warn("startup reconcile failed", "error", err)
	}

	watcher, err := importer.New(config.Library.StagingDir, orch, logger)
	if err != nil {
		return fmt.Errorf("failed to create import watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start import watcher: %w", err)
	}
	defer watcher.Close()

	go cleanupLoop(ctx, store, logger)

	catalogs := buildCatalogs(ctx, config, logger)

	api := server.NewAPI(scheduler, orch, store, notif, catalogs, logger)
	srv := server.NewServer(config.Server, api.Handler(server.Logging(logger)), logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildCatalogs wires every catalog service the config has credentials for.
func buildCatalogs(ctx context.Context, config *shared.Config, logger *log.Logger) map[string]services.Service {
	catalogs := map[string]services.Service{}

	if spotify, err := services.NewSpotifyService(ctx, config.Credentials.Spotify); err == nil {
		catalogs["spotify"] = spotify
	} else {
		logger.Warn("spotify catalog disabled", "error", err)
	}

	if config.Credentials.YouTube.ProxyURL != "" {
		catalogs["youtube"] = services.NewYouTubeService(config.Credentials.YouTube.ProxyURL)
	}

	return catalogs
}

// reconcileOpenJobs settles jobs left open by a previous run. Jobs with a
// usable source ref are requeued as fresh jobs; the rest are marked failed so
// they stop counting as active.
func reconcileOpenJobs(store *history.Store, orch *orchestrator.Orchestrator, logger *log.Logger) error {
	open, err := store.OpenJobs()
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return nil
	}
	logger.Info("reconciling jobs from previous run", "count", len(open))

	for _, event := range open {
		if err := store.Append(models.JobEvent{
			JobID:     event.JobID,
			BatchID:   event.BatchID,
			Kind:      event.Kind,
			State:     models.StateFailed,
			SourceRef: event.SourceRef,
			Attempt:   event.Attempt,
			ErrorKind: "cancelled",
			ErrorMsg:  "interrupted by daemon restart",
		}); err != nil {
			logger.Warn("failed to close interrupted job", "job", event.JobID, "error", err)
			continue
		}

		// Import jobs reference a staged file that may already be gone; the
		// watcher re-sweeps the staging tree on startup anyway.
		if event.Kind == models.KindImport || event.SourceRef == "" {
			continue
		}
		if _, err := orch.DownloadTrack(event.SourceRef, "", models.TrackMetadata{}); err != nil {
			logger.Warn("failed to requeue interrupted job", "job", event.JobID, "error", err)
		}
	}
	return nil
}

// cleanupLoop prunes settled history on a fixed interval.
func cleanupLoop(ctx context.Context, store *history.Store, logger *log.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Cleanup(historyRetention)
			if err != nil {
				logger.Warn("history cleanup failed", "error", err)
			} else if removed > 0 {
				logger.Info("history cleaned up", "rows", removed)
			}
		}
	}
}
