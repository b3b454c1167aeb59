package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/clearshot/photoarc/internal/capability"
	"github.com/clearshot/photoarc/internal/config"
	"github.com/clearshot/photoarc/internal/domain"
	"github.com/clearshot/photoarc/internal/retry"
	"github.com/clearshot/photoarc/internal/sink"
	"github.com/clearshot/photoarc/internal/store"
	"github.com/clearshot/photoarc/internal/zipper"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	collection := flag.String("collection", "", "Collection ID to export (required)")
	dest := flag.String("dest", "", "Destination directory (default: configured export directory)")
	title := flag.String("title", "", "Archive title (default: collection title)")
	part := flag.Int("part", 0, "Part number suffix for split exports")
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("photoarc-export %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	if *collection == "" {
		fmt.Fprintln(os.Stderr, "Error: --collection flag is required")
		fmt.Fprintln(os.Stderr, "Usage: photoarc-export --collection <id> [--dest /path/to/dir]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	destDir := *dest
	if destDir == "" {
		destDir = cfg.Export.DestDir
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		logger.Error("failed to create destination directory", "error", err)
		os.Exit(1)
	}

	meta, err := store.NewSQLiteStore(cfg.Store.MetadataPath, logger)
	if err != nil {
		logger.Error("failed to open metadata store", "error", err)
		os.Exit(1)
	}
	defer meta.Close()

	byteStore := store.NewHTTPStore(cfg.Store)
	byteStore.SetLogger(logger)
	sampler := capability.NewSampler(capability.DefaultProbes(), logger)

	// Setup context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nExport cancelled")
		cancel()
	}()

	col, err := meta.GetCollection(ctx, domain.CollectionID(*collection))
	if err != nil {
		logger.Error("failed to resolve collection", "collection_id", *collection, "error", err)
		os.Exit(1)
	}

	archiveTitle := *title
	if archiveTitle == "" {
		archiveTitle = col.Title
	}
	destPath := filepath.Join(destDir, zipper.ZipFileName(archiveTitle, *part))

	snk, err := sink.Open(ctx, sink.Options{DestPath: destPath}, logger)
	if err != nil {
		logger.Error("failed to open destination", "path", destPath, "error", err)
		os.Exit(1)
	}

	preparer := zipper.NewPreparer(byteStore, sampler, logger)
	writer := zipper.New(snk, sampler, zipper.Config{
		Retry: retry.Config{
			MaxAttempts:   cfg.Export.RetryAttempts,
			InitialDelay:  cfg.Export.RetryDelay,
			MaxDelay:      cfg.Export.MaxRetryDelay,
			BackoffFactor: 2.0,
		},
		TuneInterval: cfg.Export.TuneInterval,
	}, logger)

	outcome, stats, err := writer.Run(ctx, preparer, col.Files, domain.ExportProgress{
		OnFileFailure: func(id domain.FileID, ferr error) {
			logger.Warn("file skipped", "file_id", id, "error", ferr)
		},
	})

	switch outcome {
	case domain.OutcomeSuccess:
		fmt.Println()
		fmt.Println("Export Complete!")
		fmt.Println("----------------")
		fmt.Printf("Archive: %s\n", destPath)
		fmt.Printf("Files: %d ok, %d skipped\n", stats.FilesSucceeded, stats.FilesFailed)
		fmt.Printf("Entries: %d\n", stats.EntriesCompleted)
	case domain.OutcomeCancelled:
		os.Remove(destPath)
		logger.Info("export was cancelled")
		os.Exit(130)
	default:
		if stats.Salvaged {
			logger.Warn("export incomplete, partial archive kept", "path", destPath, "error", err)
			os.Exit(2)
		}
		os.Remove(destPath)
		logger.Error("export failed", "error", err)
		os.Exit(1)
	}
}
