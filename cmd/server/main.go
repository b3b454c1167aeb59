package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clearshot/photoarc/internal/api"
	"github.com/clearshot/photoarc/internal/api/handler"
	"github.com/clearshot/photoarc/internal/capability"
	"github.com/clearshot/photoarc/internal/config"
	"github.com/clearshot/photoarc/internal/repository"
	"github.com/clearshot/photoarc/internal/service"
	"github.com/clearshot/photoarc/internal/store"
	"github.com/clearshot/photoarc/internal/worker"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("photoarc %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting photoarc",
		"version", Version,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Ensure local directories exist
	if err := os.MkdirAll(cfg.Export.DestDir, 0755); err != nil {
		logger.Error("failed to create export directory", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Store.MetadataPath), 0755); err != nil {
		logger.Error("failed to create metadata directory", "error", err)
		os.Exit(1)
	}

	// Initialize dependencies
	meta, err := store.NewSQLiteStore(cfg.Store.MetadataPath, logger)
	if err != nil {
		logger.Error("failed to open metadata store", "error", err)
		os.Exit(1)
	}
	defer meta.Close()

	byteStore := store.NewHTTPStore(cfg.Store)
	byteStore.SetLogger(logger)

	sampler := capability.NewSampler(capability.DefaultProbes(), logger)
	jobRepo := repository.NewInMemoryJobRepository()

	// Initialize services
	eventSvc, err := service.NewEventService(service.EventServiceConfig{
		RingBufferSize: cfg.Events.RingBufferSize,
		PersistPath:    cfg.Events.PersistPath,
	}, logger)
	if err != nil {
		logger.Error("failed to init event service", "error", err)
		os.Exit(1)
	}
	defer eventSvc.Close()

	exportSvc := service.NewExportService(meta, byteStore, sampler, jobRepo, cfg.Export, logger, eventSvc)

	// Initialize handlers
	exportHandler := handler.NewExportHandler(exportSvc, jobRepo, logger)
	collectionHandler := handler.NewCollectionHandler(meta, exportSvc, logger)
	eventHandler := handler.NewEventHandler(eventSvc, logger)
	healthHandler := handler.NewHealthHandler(jobRepo, cfg.Export.DestDir)

	// Setup router
	router := api.NewRouter(exportHandler, collectionHandler, eventHandler, healthHandler, cfg.Server.APIKey)

	// Initialize worker pool
	pool := worker.NewPool(
		worker.Config{
			Workers:      cfg.Worker.Count,
			PollInterval: cfg.Worker.PollInterval,
		},
		jobRepo,
		exportSvc,
		logger,
	)
	pool.Start()

	// Setup HTTP server. WriteTimeout must cover a full archive download.
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// daily sweep of persisted events past retention
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := eventSvc.CleanupOldEvents(gctx); err != nil {
					logger.Warn("event cleanup failed", "error", err)
				}
			}
		}
	})

	<-gctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Stop workers; a running export is cancelled and aborts its sink
	if err := pool.Stop(25 * time.Second); err != nil {
		logger.Error("worker pool shutdown error", "error", err)
	}

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
