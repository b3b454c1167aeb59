package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clearshot/photoarc/internal/capability"
	"github.com/clearshot/photoarc/internal/config"
	"github.com/clearshot/photoarc/internal/domain"
	"github.com/clearshot/photoarc/internal/repository"
	"github.com/clearshot/photoarc/internal/service"
	"github.com/clearshot/photoarc/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeMetaStore struct {
	collections map[domain.CollectionID]*domain.Collection
}

func (f *fakeMetaStore) GetCollection(ctx context.Context, id domain.CollectionID) (*domain.Collection, error) {
	col, ok := f.collections[id]
	if !ok {
		return nil, domain.ErrCollectionNotFound
	}
	return col, nil
}

func (f *fakeMetaStore) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	var out []domain.Collection
	for _, c := range f.collections {
		out = append(out, *c)
	}
	return out, nil
}

type fakeByteStore struct {
	payloads map[domain.FileID][]byte
}

func (f *fakeByteStore) FetchBytes(ctx context.Context, ref domain.FileRef) (io.ReadCloser, error) {
	data, ok := f.payloads[ref.ID]
	if !ok {
		return nil, domain.ErrFileNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeByteStore) FetchLivePhoto(ctx context.Context, ref domain.FileRef) (*store.LivePhoto, error) {
	return nil, domain.ErrLivePhotoIncomplete
}

type testEnv struct {
	svc    *service.ExportService
	events *service.EventService
	jobs   *repository.InMemoryJobRepository
	meta   *fakeMetaStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	meta := &fakeMetaStore{collections: map[domain.CollectionID]*domain.Collection{
		"c1": {
			ID:    "c1",
			Title: "Summer Trip",
			Files: []domain.FileRef{
				{ID: "f1", Type: domain.FileTypeOrdinary, DisplayName: "beach.jpg", Size: 5},
				{ID: "f2", Type: domain.FileTypeOrdinary, DisplayName: "dunes.jpg", Size: 5},
			},
		},
	}}
	blobs := &fakeByteStore{payloads: map[domain.FileID][]byte{
		"f1": []byte("beach"),
		"f2": []byte("dunes"),
	}}
	sampler := capability.NewSampler(capability.Probes{
		UsedMemory:   func() (uint64, error) { return 0, nil },
		DeviceMemory: func() (uint64, error) { return 8 << 30, nil },
		CPUCount:     func() int { return 4 },
	}, testLogger())

	jobs := repository.NewInMemoryJobRepository()
	events, err := service.NewEventService(service.EventServiceConfig{RingBufferSize: 100}, testLogger())
	if err != nil {
		t.Fatalf("NewEventService: %v", err)
	}
	t.Cleanup(func() { events.Close() })

	svc := service.NewExportService(meta, blobs, sampler, jobs, config.ExportConfig{
		DestDir:       t.TempDir(),
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
		TuneInterval:  time.Second,
	}, testLogger(), events)

	return &testEnv{svc: svc, events: events, jobs: jobs, meta: meta}
}

func (e *testEnv) exportRouter() *chi.Mux {
	h := NewExportHandler(e.svc, e.jobs, testLogger())
	r := chi.NewRouter()
	r.Post("/exports", h.Start)
	r.Get("/exports", h.List)
	r.Get("/exports/status", h.Status)
	r.Get("/exports/{jobID}", h.Get)
	r.Delete("/exports/{jobID}", h.Cancel)
	return r
}

func (e *testEnv) collectionRouter() *chi.Mux {
	h := NewCollectionHandler(e.meta, e.svc, testLogger())
	r := chi.NewRouter()
	r.Get("/collections", h.List)
	r.Get("/collections/{collectionID}", h.Get)
	r.Get("/collections/{collectionID}/download", h.Download)
	return r
}

func (e *testEnv) eventRouter() *chi.Mux {
	h := NewEventHandler(e.events, testLogger())
	r := chi.NewRouter()
	r.Get("/events", h.List)
	r.Get("/events/recent", h.Recent)
	r.Get("/events/stream", h.Stream)
	return r
}
