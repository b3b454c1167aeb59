package domain

import (
	"time"
)

// JobID is a unique identifier for an export job.
type JobID string

// String returns the string representation of the JobID.
func (id JobID) String() string {
	return string(id)
}

// JobStatus represents the current state of an export job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// ExportJob represents one queued export in the job queue.
type ExportJob struct {
	ID           JobID
	CollectionID CollectionID
	Title        string
	DestPath     string // filesystem destination; empty means download-only
	Status       JobStatus
	Outcome      Outcome
	FilesTotal   int
	FilesOK      int
	FilesFailed  int
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewExportJob creates a new queued export job.
func NewExportJob(id JobID, collectionID CollectionID, title, destPath string) *ExportJob {
	now := time.Now()
	return &ExportJob{
		ID:           id,
		CollectionID: collectionID,
		Title:        title,
		DestPath:     destPath,
		Status:       JobStatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// MarkProcessing updates the job status to processing.
func (j *ExportJob) MarkProcessing() {
	j.Status = JobStatusProcessing
	j.UpdatedAt = time.Now()
}

// MarkDone records the terminal outcome of the export run.
func (j *ExportJob) MarkDone(outcome Outcome, err error) {
	j.Outcome = outcome
	switch outcome {
	case OutcomeSuccess:
		j.Status = JobStatusCompleted
	case OutcomeCancelled:
		j.Status = JobStatusCancelled
	default:
		j.Status = JobStatusFailed
	}
	if err != nil {
		j.LastError = err.Error()
	}
	j.UpdatedAt = time.Now()
}
