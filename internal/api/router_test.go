package api

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/clearshot/photoarc/internal/api/handler"
	"github.com/clearshot/photoarc/internal/capability"
	"github.com/clearshot/photoarc/internal/config"
	"github.com/clearshot/photoarc/internal/domain"
	"github.com/clearshot/photoarc/internal/repository"
	"github.com/clearshot/photoarc/internal/service"
	"github.com/clearshot/photoarc/internal/store"
)

type routerMetaStore struct {
	collections map[domain.CollectionID]*domain.Collection
}

func (f *routerMetaStore) GetCollection(ctx context.Context, id domain.CollectionID) (*domain.Collection, error) {
	col, ok := f.collections[id]
	if !ok {
		return nil, domain.ErrCollectionNotFound
	}
	return col, nil
}

func (f *routerMetaStore) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	var out []domain.Collection
	for _, c := range f.collections {
		out = append(out, *c)
	}
	return out, nil
}

type routerByteStore struct{}

func (routerByteStore) FetchBytes(ctx context.Context, ref domain.FileRef) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader([]byte("payload"))), nil
}

func (routerByteStore) FetchLivePhoto(ctx context.Context, ref domain.FileRef) (*store.LivePhoto, error) {
	return nil, domain.ErrLivePhotoIncomplete
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	meta := &routerMetaStore{collections: map[domain.CollectionID]*domain.Collection{
		"c1": {ID: "c1", Title: "trip", Files: []domain.FileRef{
			{ID: "f1", Type: domain.FileTypeOrdinary, DisplayName: "a.jpg", Size: 7},
		}},
	}}
	sampler := capability.NewSampler(capability.Probes{
		UsedMemory:   func() (uint64, error) { return 0, nil },
		DeviceMemory: func() (uint64, error) { return 8 << 30, nil },
		CPUCount:     func() int { return 4 },
	}, logger)

	jobs := repository.NewInMemoryJobRepository()
	events, err := service.NewEventService(service.EventServiceConfig{RingBufferSize: 50}, logger)
	if err != nil {
		t.Fatalf("NewEventService: %v", err)
	}
	t.Cleanup(func() { events.Close() })

	destDir := t.TempDir()
	svc := service.NewExportService(meta, routerByteStore{}, sampler, jobs, config.ExportConfig{
		DestDir:       destDir,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
		TuneInterval:  time.Second,
	}, logger, events)

	return NewRouter(
		handler.NewExportHandler(svc, jobs, logger),
		handler.NewCollectionHandler(meta, svc, logger),
		handler.NewEventHandler(events, logger),
		handler.NewHealthHandler(jobs, destDir),
		"test-key",
	)
}

func TestRouter_HealthEndpointsSkipAuth(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/health", "/ready"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200 without credentials", path, rec.Code)
		}
	}
}

func TestRouter_APIRequiresKey(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/collections", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/collections", nil)
	req.Header.Set("X-API-Key", "test-key")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated request = %d, want 200", rec.Code)
	}
}

func TestRouter_StatsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/stats = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestRouter_CleanPath(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "//health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET //health = %d, want 200 after path normalization", rec.Code)
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown route = %d, want 404", rec.Code)
	}
}
