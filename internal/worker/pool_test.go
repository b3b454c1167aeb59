package worker

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

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

type staticMetaStore struct {
	col *domain.Collection
}

func (s *staticMetaStore) GetCollection(ctx context.Context, id domain.CollectionID) (*domain.Collection, error) {
	if s.col == nil || s.col.ID != id {
		return nil, domain.ErrCollectionNotFound
	}
	return s.col, nil
}

func (s *staticMetaStore) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	if s.col == nil {
		return nil, nil
	}
	return []domain.Collection{{ID: s.col.ID, Title: s.col.Title}}, nil
}

type staticByteStore struct {
	payloads map[domain.FileID][]byte
}

func (s *staticByteStore) FetchBytes(ctx context.Context, ref domain.FileRef) (io.ReadCloser, error) {
	data, ok := s.payloads[ref.ID]
	if !ok {
		return nil, domain.ErrFileNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *staticByteStore) FetchLivePhoto(ctx context.Context, ref domain.FileRef) (*store.LivePhoto, error) {
	return nil, domain.ErrLivePhotoIncomplete
}

func newPoolEnv(t *testing.T) (*Pool, *repository.InMemoryJobRepository, *service.ExportService) {
	t.Helper()

	meta := &staticMetaStore{col: &domain.Collection{
		ID:    "c1",
		Title: "pool test",
		Files: []domain.FileRef{
			{ID: "f1", Type: domain.FileTypeOrdinary, DisplayName: "one.jpg", Size: 3},
			{ID: "f2", Type: domain.FileTypeOrdinary, DisplayName: "two.jpg", Size: 3},
		},
	}}
	blobs := &staticByteStore{payloads: map[domain.FileID][]byte{
		"f1": []byte("one"),
		"f2": []byte("two"),
	}}
	sampler := capability.NewSampler(capability.Probes{
		UsedMemory:   func() (uint64, error) { return 0, nil },
		DeviceMemory: func() (uint64, error) { return 8 << 30, nil },
		CPUCount:     func() int { return 4 },
	}, testLogger())

	jobs := repository.NewInMemoryJobRepository()
	svc := service.NewExportService(meta, blobs, sampler, jobs, config.ExportConfig{
		DestDir:       t.TempDir(),
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
		TuneInterval:  time.Second,
	}, testLogger(), nil)

	pool := NewPool(Config{Workers: 1, PollInterval: 10 * time.Millisecond}, jobs, svc, testLogger())
	return pool, jobs, svc
}

func TestPool_ProcessesQueuedJob(t *testing.T) {
	pool, jobs, svc := newPoolEnv(t)
	ctx := context.Background()

	job, err := svc.StartExport(ctx, "c1", "")
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}

	pool.Start()
	defer pool.Stop(time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := jobs.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status == domain.JobStatusCompleted {
			if got.FilesOK != 2 {
				t.Errorf("FilesOK = %d, want 2", got.FilesOK)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never completed, status %s", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	zr, err := zip.OpenReader(job.DestPath)
	if err != nil {
		t.Fatalf("archive not readable: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 2 {
		t.Errorf("archive has %d entries, want 2", len(zr.File))
	}
}

func TestPool_StopWithIdleQueue(t *testing.T) {
	pool, _, _ := newPoolEnv(t)

	pool.Start()
	time.Sleep(50 * time.Millisecond) // let workers poll an empty queue

	if err := pool.Stop(time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNewPool_Defaults(t *testing.T) {
	_, jobs, svc := newPoolEnv(t)
	p := NewPool(Config{}, jobs, svc, testLogger())
	if p.workers != 1 {
		t.Errorf("workers = %d, want default 1", p.workers)
	}
	if p.pollInterval != 2*time.Second {
		t.Errorf("pollInterval = %v, want default 2s", p.pollInterval)
	}
}
