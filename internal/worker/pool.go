package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/clearshot/photoarc/internal/domain"
	"github.com/clearshot/photoarc/internal/repository"
	"github.com/clearshot/photoarc/internal/service"
)

// ErrShutdownTimeout is returned when workers don't stop within timeout.
var ErrShutdownTimeout = errors.New("worker pool shutdown timed out")

// Pool manages a pool of workers draining the export job queue.
type Pool struct {
	workers      int
	pollInterval time.Duration
	jobRepo      repository.JobRepository
	exportSvc    *service.ExportService
	logger       *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds worker pool configuration.
type Config struct {
	Workers      int
	PollInterval time.Duration
}

// NewPool creates a new worker pool.
func NewPool(
	cfg Config,
	jobRepo repository.JobRepository,
	exportSvc *service.ExportService,
	logger *slog.Logger,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		jobRepo:      jobRepo,
		exportSvc:    exportSvc,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches all workers.
func (p *Pool) Start() {
	p.logger.Info("starting worker pool", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop gracefully stops all workers. A running export is cancelled through
// the pool context; the export pipeline aborts its sink on cancellation.
func (p *Pool) Stop(timeout time.Duration) error {
	p.logger.Info("stopping worker pool")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Info("worker started")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			logger.Info("worker stopping")
			return
		case <-ticker.C:
			p.processNextJob(logger)
		}
	}
}

func (p *Pool) processNextJob(logger *slog.Logger) {
	job, err := p.jobRepo.Dequeue(p.ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNoJobs) {
			logger.Error("failed to dequeue job", "error", err)
		}
		return
	}

	logger = logger.With("job_id", job.ID, "collection_id", job.CollectionID)
	logger.Info("processing export job")

	// RunJob owns the status transitions and terminal outcome
	if err := p.exportSvc.RunJob(p.ctx, job); err != nil {
		if errors.Is(err, service.ErrExportInProgress) {
			logger.Warn("export already running, requeueing job")
			job.Status = domain.JobStatusQueued
			if enqErr := p.jobRepo.Enqueue(p.ctx, job); enqErr != nil {
				logger.Error("failed to requeue job", "error", enqErr)
			}
			return
		}
		logger.Error("export job failed", "error", err, "outcome", job.Outcome)
		return
	}

	logger.Info("export job completed", "files_ok", job.FilesOK, "files_failed", job.FilesFailed)
}
