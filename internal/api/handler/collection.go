package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clearshot/photoarc/internal/domain"
	"github.com/clearshot/photoarc/internal/service"
	"github.com/clearshot/photoarc/internal/sink"
	"github.com/clearshot/photoarc/internal/store"
	"github.com/clearshot/photoarc/internal/zipper"
)

// CollectionHandler handles collection-related HTTP requests.
type CollectionHandler struct {
	meta      store.MetadataStore
	exportSvc *service.ExportService
	logger    *slog.Logger
}

// NewCollectionHandler creates a new collection handler.
func NewCollectionHandler(meta store.MetadataStore, exportSvc *service.ExportService, logger *slog.Logger) *CollectionHandler {
	return &CollectionHandler{
		meta:      meta,
		exportSvc: exportSvc,
		logger:    logger,
	}
}

// CollectionResponse represents a collection in API responses.
type CollectionResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	FileCount int    `json:"file_count"`
}

// FileResponse represents one file of a collection.
type FileResponse struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	Size        int64  `json:"size,omitempty"`
}

// List handles GET /api/v1/collections.
func (h *CollectionHandler) List(w http.ResponseWriter, r *http.Request) {
	collections, err := h.meta.ListCollections(r.Context())
	if err != nil {
		h.logger.Error("failed to list collections", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list collections")
		return
	}

	resp := make([]CollectionResponse, 0, len(collections))
	for _, col := range collections {
		resp = append(resp, CollectionResponse{
			ID:        string(col.ID),
			Title:     col.Title,
			FileCount: len(col.Files),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"collections": resp, "total": len(resp)})
}

// Get handles GET /api/v1/collections/{collectionID}.
func (h *CollectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "collectionID")

	col, err := h.meta.GetCollection(r.Context(), domain.CollectionID(id))
	if err != nil {
		if errors.Is(err, domain.ErrCollectionNotFound) {
			writeError(w, http.StatusNotFound, "collection not found")
			return
		}
		h.logger.Error("failed to get collection", "collection_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get collection")
		return
	}

	files := make([]FileResponse, 0, len(col.Files))
	for _, f := range col.Files {
		files = append(files, FileResponse{
			ID:          string(f.ID),
			Type:        string(f.Type),
			DisplayName: f.DisplayName,
			Size:        f.Size,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":    string(col.ID),
		"title": col.Title,
		"files": files,
	})
}

// Download handles GET /api/v1/collections/{collectionID}/download.
// The archive is streamed straight into the response; once the first
// bytes are flushed the status code can no longer change, so failures
// mid-stream surface as a truncated download.
func (h *CollectionHandler) Download(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "collectionID")
	title := r.URL.Query().Get("title")

	col, err := h.meta.GetCollection(r.Context(), domain.CollectionID(id))
	if err != nil {
		if errors.Is(err, domain.ErrCollectionNotFound) {
			writeError(w, http.StatusNotFound, "collection not found")
			return
		}
		h.logger.Error("failed to get collection", "collection_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get collection")
		return
	}
	if title == "" {
		title = col.Title
	}

	snk, err := sink.Open(r.Context(), sink.Options{
		ResponseWriter: w,
		Filename:       zipper.ZipFileName(title, 0),
	}, h.logger)
	if err != nil {
		if errors.Is(err, domain.ErrSinkUnavailable) {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}
		h.logger.Error("failed to open download sink", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start download")
		return
	}

	outcome, stats, err := h.exportSvc.ExportDownload(r.Context(), domain.CollectionID(id), title, snk)
	if outcome == domain.OutcomeUnavailable {
		writeError(w, http.StatusConflict, "an export is already in progress")
		return
	}
	if err != nil {
		// the response is already committed; log and let the client see
		// the truncated body
		h.logger.Error("download export failed",
			"collection_id", id,
			"outcome", outcome,
			"salvaged", stats.Salvaged,
			"error", err,
		)
	}
}
