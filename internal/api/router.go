package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clearshot/photoarc/internal/api/handler"
	mw "github.com/clearshot/photoarc/internal/api/middleware"
)

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(
	exportHandler *handler.ExportHandler,
	collectionHandler *handler.CollectionHandler,
	eventHandler *handler.EventHandler,
	healthHandler *handler.HealthHandler,
	apiKey string,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CleanPath) // Normalize paths (e.g., //ready -> /ready)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Health endpoints (no auth)
	r.Get("/health", healthHandler.Live)
	r.Get("/ready", healthHandler.Ready)

	// API v1 (authenticated)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(apiKey))

		// System stats
		r.Get("/stats", healthHandler.Stats)

		// Collections and streaming downloads. No router-level timeout:
		// a large archive legitimately streams for a long time.
		r.Get("/collections", collectionHandler.List)
		r.Get("/collections/{collectionID}", collectionHandler.Get)
		r.Get("/collections/{collectionID}/download", collectionHandler.Download)

		// Background export jobs
		r.Post("/exports", exportHandler.Start)
		r.Get("/exports", exportHandler.List)
		r.Get("/exports/status", exportHandler.Status)
		r.Get("/exports/{jobID}", exportHandler.Get)
		r.Delete("/exports/{jobID}", exportHandler.Cancel)

		// Activity log
		r.With(middleware.Timeout(30*time.Second)).Get("/events", eventHandler.List)
		r.With(middleware.Timeout(30*time.Second)).Get("/events/recent", eventHandler.Recent)
		r.Get("/events/stream", eventHandler.Stream)
	})

	return r
}
