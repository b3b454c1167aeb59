package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/clearshot/photoarc/internal/domain"
)

// InMemoryJobRepository implements JobRepository using in-memory storage.
type InMemoryJobRepository struct {
	mu           sync.RWMutex
	jobs         map[domain.JobID]*domain.ExportJob
	byCollection map[domain.CollectionID]domain.JobID
	queue        []domain.JobID // FIFO queue of queued job IDs
}

// NewInMemoryJobRepository creates a new in-memory job repository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobs:         make(map[domain.JobID]*domain.ExportJob),
		byCollection: make(map[domain.CollectionID]domain.JobID),
		queue:        make([]domain.JobID, 0),
	}
}

// Enqueue adds a job to the queue.
func (r *InMemoryJobRepository) Enqueue(ctx context.Context, job *domain.ExportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = job
	r.byCollection[job.CollectionID] = job.ID
	r.queue = append(r.queue, job.ID)

	return nil
}

// Dequeue retrieves the next queued job (FIFO).
func (r *InMemoryJobRepository) Dequeue(ctx context.Context) (*domain.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, jobID := range r.queue {
		job, ok := r.jobs[jobID]
		if !ok {
			continue
		}
		if job.Status == domain.JobStatusQueued {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return job, nil
		}
	}

	return nil, domain.ErrNoJobs
}

// Update modifies job state.
func (r *InMemoryJobRepository) Update(ctx context.Context, job *domain.ExportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}
	r.jobs[job.ID] = job

	return nil
}

// Get retrieves a job by ID.
func (r *InMemoryJobRepository) Get(ctx context.Context, id domain.JobID) (*domain.ExportJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	return job, nil
}

// GetByCollectionID finds the most recent job for a collection.
func (r *InMemoryJobRepository) GetByCollectionID(ctx context.Context, id domain.CollectionID) (*domain.ExportJob, error) {
	r.mu.RLock()
	jobID, ok := r.byCollection[id]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.ErrJobNotFound
	}

	return r.Get(ctx, jobID)
}

// List returns all jobs, newest first.
func (r *InMemoryJobRepository) List(ctx context.Context) ([]*domain.ExportJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.ExportJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		result = append(result, job)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

// Stats returns queue statistics.
func (r *InMemoryJobRepository) Stats(ctx context.Context) (*QueueStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &QueueStats{}
	for _, job := range r.jobs {
		switch job.Status {
		case domain.JobStatusQueued:
			stats.Queued++
		case domain.JobStatusProcessing:
			stats.Processing++
		case domain.JobStatusCompleted:
			stats.Completed++
		case domain.JobStatusFailed:
			stats.Failed++
		case domain.JobStatusCancelled:
			stats.Cancelled++
		}
	}

	return stats, nil
}

// Clear removes all jobs (useful for testing).
func (r *InMemoryJobRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs = make(map[domain.JobID]*domain.ExportJob)
	r.byCollection = make(map[domain.CollectionID]domain.JobID)
	r.queue = make([]domain.JobID, 0)
}
