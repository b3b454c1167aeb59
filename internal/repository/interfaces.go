package repository

import (
	"context"

	"github.com/clearshot/photoarc/internal/domain"
)

// JobRepository manages the export job queue.
type JobRepository interface {
	// Enqueue adds a job to the queue.
	Enqueue(ctx context.Context, job *domain.ExportJob) error

	// Dequeue retrieves the next queued job (FIFO).
	Dequeue(ctx context.Context) (*domain.ExportJob, error)

	// Update modifies job state.
	Update(ctx context.Context, job *domain.ExportJob) error

	// Get retrieves a job by ID.
	Get(ctx context.Context, id domain.JobID) (*domain.ExportJob, error)

	// GetByCollectionID finds the most recent job for a collection.
	GetByCollectionID(ctx context.Context, id domain.CollectionID) (*domain.ExportJob, error)

	// List returns all jobs, newest first.
	List(ctx context.Context) ([]*domain.ExportJob, error)

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*QueueStats, error)
}

// QueueStats contains job queue statistics.
type QueueStats struct {
	Queued     int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}
