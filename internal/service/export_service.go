package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearshot/photoarc/internal/capability"
	"github.com/clearshot/photoarc/internal/config"
	"github.com/clearshot/photoarc/internal/domain"
	"github.com/clearshot/photoarc/internal/repository"
	"github.com/clearshot/photoarc/internal/retry"
	"github.com/clearshot/photoarc/internal/sink"
	"github.com/clearshot/photoarc/internal/store"
	"github.com/clearshot/photoarc/internal/zipper"
)

// ErrExportInProgress is returned when trying to start an export while one is already running.
var ErrExportInProgress = errors.New("export already in progress")

const (
	exportSizeSafetyMargin = 0.10
	exportSizeMinHeadroom  = 64 * 1024 * 1024 // 64MB
)

// ExportService orchestrates collection exports: it resolves collections,
// opens the sink, and drives the streaming ZIP writer.
type ExportService struct {
	meta    store.MetadataStore
	bytes   store.ByteStore
	sampler *capability.Sampler
	jobs    repository.JobRepository
	cfg     config.ExportConfig
	logger  *slog.Logger
	emitter domain.EventEmitter

	streamWriter sink.StreamWriter
	freeSpace    func(path string) int64

	// Async export state
	mu     sync.Mutex
	active *ActiveExport
}

// ActiveExport tracks an in-progress export operation.
type ActiveExport struct {
	ID            string             `json:"export_id"`
	JobID         string             `json:"job_id,omitempty"`
	CollectionID  string             `json:"collection_id"`
	DestPath      string             `json:"dest_path,omitempty"`
	Phase         string             `json:"phase"` // preparing, exporting, finalizing, completed, failed, cancelled
	TotalFiles    int                `json:"total_files"`
	ExportedFiles int                `json:"exported_files"`
	FailedFiles   int                `json:"failed_files"`
	CurrentFile   string             `json:"current_file,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	Outcome       string             `json:"outcome,omitempty"`
	Error         string             `json:"error,omitempty"`
	cancelFunc    context.CancelFunc `json:"-"`
}

// NewExportService creates a new export service.
func NewExportService(meta store.MetadataStore, bytes store.ByteStore, sampler *capability.Sampler, jobs repository.JobRepository, cfg config.ExportConfig, logger *slog.Logger, emitter domain.EventEmitter) *ExportService {
	return &ExportService{
		meta:         meta,
		bytes:        bytes,
		sampler:      sampler,
		jobs:         jobs,
		cfg:          cfg,
		logger:       logger,
		emitter:      emitter,
		streamWriter: sink.FileStreamWriter,
		freeSpace:    getFreeDiskSpace,
	}
}

// emitEvent emits an event if the event emitter is configured.
func (s *ExportService) emitEvent(severity domain.EventSeverity, message string, metadata domain.EventMetadata) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(domain.Event{
		Timestamp: time.Now(),
		Severity:  severity,
		Category:  domain.EventCategoryExport,
		Message:   message,
		Source:    "ExportService",
		Metadata:  metadata.ToJSON(),
	})
}

// StartExport validates the collection and enqueues a background export job.
func (s *ExportService) StartExport(ctx context.Context, collectionID domain.CollectionID, title string) (*domain.ExportJob, error) {
	s.mu.Lock()
	if s.active != nil && exportRunning(s.active.Phase) {
		s.mu.Unlock()
		return nil, ErrExportInProgress
	}
	s.mu.Unlock()

	col, err := s.meta.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("resolve collection: %w", err)
	}
	if title == "" {
		title = col.Title
	}

	destPath := filepath.Join(s.cfg.DestDir, zipper.ZipFileName(title, 0))
	job := domain.NewExportJob(domain.JobID(uuid.NewString()), collectionID, title, destPath)
	job.FilesTotal = len(col.Files)

	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.emitEvent(domain.EventSeverityInfo,
		fmt.Sprintf("Export queued for collection %s (%d files)", collectionID, len(col.Files)),
		domain.EventMetadata{"job_id": job.ID.String(), "collection_id": collectionID, "dest_path": destPath})

	return job, nil
}

// RunJob executes one queued export job end to end. It is called from the
// worker pool; the ctx is the worker's shutdown context.
func (s *ExportService) RunJob(ctx context.Context, job *domain.ExportJob) error {
	col, err := s.meta.GetCollection(ctx, job.CollectionID)
	if err != nil {
		s.finishJob(job, domain.OutcomeError, zipper.Stats{}, fmt.Errorf("resolve collection: %w", err))
		return err
	}

	if err := s.ensureExportSpace(job.DestPath, col.Files); err != nil {
		s.finishJob(job, domain.OutcomeUnavailable, zipper.Stats{}, err)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.active != nil && exportRunning(s.active.Phase) {
		s.mu.Unlock()
		cancel()
		return ErrExportInProgress
	}
	s.active = &ActiveExport{
		ID:           fmt.Sprintf("exp_%d", time.Now().UnixNano()),
		JobID:        job.ID.String(),
		CollectionID: string(job.CollectionID),
		DestPath:     job.DestPath,
		Phase:        "preparing",
		TotalFiles:   len(col.Files),
		StartedAt:    time.Now(),
		cancelFunc:   cancel,
	}
	s.mu.Unlock()

	job.MarkProcessing()
	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Warn("failed to persist job state", "job_id", job.ID, "error", err)
	}

	s.emitEvent(domain.EventSeverityInfo,
		fmt.Sprintf("Export started to %s", job.DestPath),
		domain.EventMetadata{"job_id": job.ID.String(), "dest_path": job.DestPath, "files": len(col.Files)})

	snk, err := sink.Open(runCtx, sink.Options{
		DestPath:     job.DestPath,
		StreamWriter: s.streamWriter,
	}, s.logger)
	if err != nil {
		s.setPhase("failed", err)
		s.finishJob(job, domain.OutcomeUnavailable, zipper.Stats{}, fmt.Errorf("open sink: %w", err))
		return err
	}

	outcome, stats, runErr := s.Export(runCtx, domain.ExportRequest{
		Files: col.Files,
		Title: job.Title,
	}, snk, s.progressHooks())

	if outcome != domain.OutcomeSuccess && !stats.Salvaged {
		// the sink already discarded its bytes; drop the leftover file too
		os.Remove(job.DestPath)
	}

	s.setOutcome(outcome, runErr)
	s.finishJob(job, outcome, stats, runErr)
	return runErr
}

// Export streams one collection into the given sink. This is the core
// synchronous operation shared by background jobs and direct downloads.
func (s *ExportService) Export(ctx context.Context, req domain.ExportRequest, snk sink.Sink, progress domain.ExportProgress) (domain.Outcome, zipper.Stats, error) {
	preparer := zipper.NewPreparer(s.bytes, s.sampler, s.logger)
	writer := zipper.New(snk, s.sampler, zipper.Config{
		Retry: retry.Config{
			MaxAttempts:   s.cfg.RetryAttempts,
			InitialDelay:  s.cfg.RetryDelay,
			MaxDelay:      s.cfg.MaxRetryDelay,
			BackoffFactor: 2.0,
		},
		TuneInterval: s.cfg.TuneInterval,
	}, s.logger)

	s.setPhase("exporting", nil)
	outcome, stats, err := writer.Run(ctx, preparer, req.Files, progress)

	s.logger.Info("export finished",
		"outcome", outcome,
		"files_ok", stats.FilesSucceeded,
		"files_failed", stats.FilesFailed,
		"entries", stats.EntriesCompleted,
		"salvaged", stats.Salvaged,
	)
	return outcome, stats, err
}

// ExportDownload resolves a collection and streams it into the supplied
// sink, typically a download sink wrapping the HTTP response.
func (s *ExportService) ExportDownload(ctx context.Context, collectionID domain.CollectionID, title string, snk sink.Sink) (domain.Outcome, zipper.Stats, error) {
	col, err := s.meta.GetCollection(ctx, collectionID)
	if err != nil {
		return domain.OutcomeError, zipper.Stats{}, fmt.Errorf("resolve collection: %w", err)
	}
	if title == "" {
		title = col.Title
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.active != nil && exportRunning(s.active.Phase) {
		s.mu.Unlock()
		return domain.OutcomeUnavailable, zipper.Stats{}, ErrExportInProgress
	}
	s.active = &ActiveExport{
		ID:           fmt.Sprintf("exp_%d", time.Now().UnixNano()),
		CollectionID: string(collectionID),
		Phase:        "preparing",
		TotalFiles:   len(col.Files),
		StartedAt:    time.Now(),
		cancelFunc:   cancel,
	}
	s.mu.Unlock()

	outcome, stats, err := s.Export(runCtx, domain.ExportRequest{
		Files: col.Files,
		Title: title,
	}, snk, s.progressHooks())

	s.setOutcome(outcome, err)
	return outcome, stats, err
}

// ensureExportSpace validates there is room for the archive before any
// bytes are fetched.
func (s *ExportService) ensureExportSpace(destPath string, files []domain.FileRef) error {
	var estimated int64
	for _, f := range files {
		estimated += f.Size
	}

	required := int64(float64(estimated)*(1.0+exportSizeSafetyMargin)) + exportSizeMinHeadroom
	dir := filepath.Dir(destPath)
	free := s.freeSpace(dir)
	if free == 0 {
		return fmt.Errorf("%w: unable to determine free space for %s", domain.ErrSinkUnavailable, dir)
	}
	if free < required {
		return fmt.Errorf("%w: insufficient space on %s: need %s, have %s",
			domain.ErrSinkUnavailable, dir, formatBytes(required), formatBytes(free))
	}
	return nil
}

// progressHooks wires per-file results into the active export snapshot.
func (s *ExportService) progressHooks() domain.ExportProgress {
	return domain.ExportProgress{
		OnFileSuccess: func(id domain.FileID, fileCount int) {
			s.mu.Lock()
			if s.active != nil {
				s.active.ExportedFiles += fileCount
				s.active.CurrentFile = string(id)
			}
			s.mu.Unlock()
		},
		OnFileFailure: func(id domain.FileID, err error) {
			s.mu.Lock()
			if s.active != nil {
				s.active.FailedFiles++
			}
			s.mu.Unlock()
		},
	}
}

// GetExportStatus returns a copy of the current export status.
func (s *ExportService) GetExportStatus() *ActiveExport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return &ActiveExport{Phase: "idle"}
	}
	snapshot := *s.active
	snapshot.cancelFunc = nil
	return &snapshot
}

// CancelExport cancels an in-progress export.
func (s *ExportService) CancelExport() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return fmt.Errorf("no export in progress")
	}
	if !exportRunning(s.active.Phase) {
		return fmt.Errorf("export not in progress (phase: %s)", s.active.Phase)
	}

	s.active.Phase = "cancelled"
	s.active.Error = "export cancelled by user"
	if s.active.cancelFunc != nil {
		s.active.cancelFunc()
	}
	return nil
}

// finishJob records the terminal job state and emits the matching event.
func (s *ExportService) finishJob(job *domain.ExportJob, outcome domain.Outcome, stats zipper.Stats, runErr error) {
	job.FilesOK = stats.FilesSucceeded
	job.FilesFailed = stats.FilesFailed
	job.MarkDone(outcome, runErr)
	if err := s.jobs.Update(context.Background(), job); err != nil {
		s.logger.Warn("failed to persist job state", "job_id", job.ID, "error", err)
	}

	switch outcome {
	case domain.OutcomeSuccess:
		s.emitEvent(domain.EventSeveritySuccess,
			fmt.Sprintf("Export completed: %d files to %s", stats.FilesSucceeded, job.DestPath),
			domain.EventMetadata{"job_id": job.ID.String(), "files_ok": stats.FilesSucceeded, "files_failed": stats.FilesFailed})
	case domain.OutcomeCancelled:
		s.emitEvent(domain.EventSeverityWarning,
			"Export cancelled",
			domain.EventMetadata{"job_id": job.ID.String(), "files_ok": stats.FilesSucceeded})
	default:
		msg := "Export failed"
		if stats.Salvaged {
			msg = fmt.Sprintf("Export failed, salvaged partial archive with %d entries", stats.EntriesCompleted)
		}
		meta := domain.EventMetadata{"job_id": job.ID.String(), "salvaged": stats.Salvaged}
		if runErr != nil {
			meta["error"] = runErr.Error()
		}
		s.emitEvent(domain.EventSeverityError, msg, meta)
	}
}

func (s *ExportService) setPhase(phase string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || !exportRunning(s.active.Phase) {
		return
	}
	s.active.Phase = phase
	if err != nil {
		s.active.Error = err.Error()
	}
}

func (s *ExportService) setOutcome(outcome domain.Outcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return
	}
	s.active.Outcome = string(outcome)
	switch outcome {
	case domain.OutcomeSuccess:
		s.active.Phase = "completed"
		s.active.CurrentFile = ""
	case domain.OutcomeCancelled:
		s.active.Phase = "cancelled"
	default:
		s.active.Phase = "failed"
		if err != nil {
			s.active.Error = err.Error()
		}
	}
}

func exportRunning(phase string) bool {
	return phase == "preparing" || phase == "exporting" || phase == "finalizing"
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	suffixes := []string{"KB", "MB", "GB", "TB", "PB"}
	if exp >= len(suffixes) {
		exp = len(suffixes) - 1
	}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), suffixes[exp])
}
