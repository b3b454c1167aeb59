package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clearshot/photoarc/internal/domain"
	"github.com/clearshot/photoarc/internal/repository"
	"github.com/clearshot/photoarc/internal/service"
)

// ExportHandler handles export-related HTTP requests.
type ExportHandler struct {
	exportSvc *service.ExportService
	jobRepo   repository.JobRepository
	logger    *slog.Logger
}

// NewExportHandler creates a new export handler.
func NewExportHandler(exportSvc *service.ExportService, jobRepo repository.JobRepository, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{
		exportSvc: exportSvc,
		jobRepo:   jobRepo,
		logger:    logger,
	}
}

// ExportStartRequest is the request body for starting an export.
type ExportStartRequest struct {
	CollectionID string `json:"collection_id"`
	Title        string `json:"title,omitempty"`
}

// JobResponse represents an export job in API responses.
type JobResponse struct {
	JobID        string    `json:"job_id"`
	CollectionID string    `json:"collection_id"`
	Title        string    `json:"title"`
	DestPath     string    `json:"dest_path,omitempty"`
	Status       string    `json:"status"`
	Outcome      string    `json:"outcome,omitempty"`
	FilesTotal   int       `json:"files_total"`
	FilesOK      int       `json:"files_ok"`
	FilesFailed  int       `json:"files_failed"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func jobToResponse(job *domain.ExportJob) JobResponse {
	return JobResponse{
		JobID:        job.ID.String(),
		CollectionID: string(job.CollectionID),
		Title:        job.Title,
		DestPath:     job.DestPath,
		Status:       string(job.Status),
		Outcome:      string(job.Outcome),
		FilesTotal:   job.FilesTotal,
		FilesOK:      job.FilesOK,
		FilesFailed:  job.FilesFailed,
		Error:        job.LastError,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}

// Start handles POST /api/v1/exports - enqueue a background export.
func (h *ExportHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req ExportStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CollectionID == "" {
		writeError(w, http.StatusBadRequest, "collection_id is required")
		return
	}

	job, err := h.exportSvc.StartExport(r.Context(), domain.CollectionID(req.CollectionID), req.Title)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrExportInProgress):
			writeError(w, http.StatusConflict, "an export is already in progress")
		case errors.Is(err, domain.ErrCollectionNotFound):
			writeError(w, http.StatusNotFound, "collection not found")
		default:
			h.logger.Error("failed to start export", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to start export")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, jobToResponse(job))
}

// List handles GET /api/v1/exports - all jobs, newest first.
func (h *ExportHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobRepo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list exports")
		return
	}

	resp := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, jobToResponse(job))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"exports": resp, "total": len(resp)})
}

// Get handles GET /api/v1/exports/{jobID}.
func (h *ExportHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.jobRepo.Get(r.Context(), domain.JobID(jobID))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "export not found")
			return
		}
		h.logger.Error("failed to get job", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get export")
		return
	}

	writeJSON(w, http.StatusOK, jobToResponse(job))
}

// Cancel handles DELETE /api/v1/exports/{jobID}.
func (h *ExportHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.jobRepo.Get(r.Context(), domain.JobID(jobID))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "export not found")
			return
		}
		h.logger.Error("failed to get job", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to cancel export")
		return
	}

	switch job.Status {
	case domain.JobStatusQueued:
		job.MarkDone(domain.OutcomeCancelled, domain.ErrExportCancelled)
		if err := h.jobRepo.Update(r.Context(), job); err != nil {
			h.logger.Error("failed to cancel queued job", "job_id", jobID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to cancel export")
			return
		}
	case domain.JobStatusProcessing:
		if err := h.exportSvc.CancelExport(); err != nil {
			h.logger.Warn("cancel requested but no export running", "job_id", jobID, "error", err)
		}
	default:
		writeError(w, http.StatusConflict, "export already finished")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "job_id": jobID})
}

// Status handles GET /api/v1/exports/status - the live export snapshot.
func (h *ExportHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := h.exportSvc.GetExportStatus()
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
