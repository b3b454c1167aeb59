package zipper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clearshot/photoarc/internal/domain"
	"github.com/clearshot/photoarc/internal/store"
)

// slowLiveStore resolves live photos with per-file delays so later files
// finish before earlier ones.
type slowLiveStore struct {
	mu     sync.Mutex
	delays map[domain.FileID]time.Duration
	fail   map[domain.FileID]error
}

func (s *slowLiveStore) FetchBytes(ctx context.Context, ref domain.FileRef) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (s *slowLiveStore) FetchLivePhoto(ctx context.Context, ref domain.FileRef) (*store.LivePhoto, error) {
	s.mu.Lock()
	delay := s.delays[ref.ID]
	err := s.fail[ref.ID]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	open := func(ctx context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return &store.LivePhoto{
		ImageName: string(ref.ID) + ".heic",
		VideoName: string(ref.ID) + ".mov",
		Image:     open,
		Video:     open,
	}, nil
}

func livePhoto(id string) domain.FileRef {
	return domain.FileRef{ID: domain.FileID(id), Type: domain.FileTypeLivePhoto, DisplayName: id}
}

func TestPreparer_Prepare_OrderPreserved(t *testing.T) {
	// invert completion order: the first file takes the longest
	s := &slowLiveStore{delays: map[domain.FileID]time.Duration{
		"p1": 40 * time.Millisecond,
		"p2": 20 * time.Millisecond,
		"p3": 5 * time.Millisecond,
		"p4": 0,
	}}

	files := []domain.FileRef{livePhoto("p1"), livePhoto("p2"), livePhoto("p3"), livePhoto("p4")}
	p := NewPreparer(s, testSampler(8<<30), testLogger())

	var got []domain.FileID
	for pf := range p.Prepare(context.Background(), files) {
		if pf.Err != nil {
			t.Fatalf("prepare %s: %v", pf.Ref.ID, pf.Err)
		}
		got = append(got, pf.Ref.ID)
	}

	want := []domain.FileID{"p1", "p2", "p3", "p4"}
	if len(got) != len(want) {
		t.Fatalf("prepared %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("prepared order %v, want %v", got, want)
		}
	}
}

func TestPreparer_Prepare_LivePhotoEntries(t *testing.T) {
	s := &slowLiveStore{}
	p := NewPreparer(s, testSampler(8<<30), testLogger())

	var pf *PreparedFile
	for got := range p.Prepare(context.Background(), []domain.FileRef{livePhoto("p1")}) {
		pf = got
	}
	if pf == nil || pf.Err != nil {
		t.Fatalf("prepare failed: %+v", pf)
	}
	if len(pf.Entries) != 2 {
		t.Fatalf("live photo produced %d entries, want 2", len(pf.Entries))
	}
	if pf.Entries[0].Name != "p1.heic" || pf.Entries[1].Name != "p1.mov" {
		t.Errorf("entries = %q, %q; want image first, then video", pf.Entries[0].Name, pf.Entries[1].Name)
	}
	for _, e := range pf.Entries {
		if e.Owner != "p1" {
			t.Errorf("entry owner = %q, want p1", e.Owner)
		}
	}
}

func TestPreparer_Prepare_DecodeErrorDelivered(t *testing.T) {
	boom := errors.New("manifest corrupt")
	s := &slowLiveStore{fail: map[domain.FileID]error{"p2": boom}}

	files := []domain.FileRef{livePhoto("p1"), livePhoto("p2"), livePhoto("p3")}
	p := NewPreparer(s, testSampler(8<<30), testLogger())

	var results []*PreparedFile
	for pf := range p.Prepare(context.Background(), files) {
		results = append(results, pf)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Error("healthy files reported errors")
	}
	if !errors.Is(results[1].Err, boom) {
		t.Errorf("p2 error = %v, want %v", results[1].Err, boom)
	}
}

func TestPreparer_Prepare_OrdinaryFileIsLazy(t *testing.T) {
	// an ordinary file must not touch the store during preparation; its
	// payload opens on demand
	fs := newFakeStore()
	fs.payloads["a"] = []byte("data")

	p := NewPreparer(fs, testSampler(8<<30), testLogger())

	var pf *PreparedFile
	for got := range p.Prepare(context.Background(), []domain.FileRef{ordinary("a", "a.jpg")}) {
		pf = got
	}
	if pf == nil || pf.Err != nil || len(pf.Entries) != 1 {
		t.Fatalf("unexpected result: %+v", pf)
	}
	if got := fs.attemptCount("a"); got != 0 {
		t.Fatalf("store touched %d times during preparation, want 0", got)
	}

	rc, err := pf.Entries[0].Open(context.Background())
	if err != nil {
		t.Fatalf("open payload: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "data" {
		t.Errorf("payload = %q, want %q", data, "data")
	}
	if got := fs.attemptCount("a"); got != 1 {
		t.Errorf("store touched %d times after open, want 1", got)
	}
}

// gatedLiveStore blocks every live-photo decode on a shared gate and
// counts how many are in flight at once.
type gatedLiveStore struct {
	mu       sync.Mutex
	inflight int
	peak     int
	gate     chan struct{}
}

func (s *gatedLiveStore) FetchBytes(ctx context.Context, ref domain.FileRef) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (s *gatedLiveStore) FetchLivePhoto(ctx context.Context, ref domain.FileRef) (*store.LivePhoto, error) {
	s.mu.Lock()
	s.inflight++
	if s.inflight > s.peak {
		s.peak = s.inflight
	}
	s.mu.Unlock()

	select {
	case <-s.gate:
	case <-ctx.Done():
	}

	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()

	open := func(ctx context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return &store.LivePhoto{
		ImageName: string(ref.ID) + ".heic",
		VideoName: string(ref.ID) + ".mov",
		Image:     open,
		Video:     open,
	}, nil
}

func (s *gatedLiveStore) counts() (inflight, peak int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight, s.peak
}

func TestPreparer_Prepare_LookaheadExceedsWriterSlots(t *testing.T) {
	s := &gatedLiveStore{gate: make(chan struct{})}
	sampler := testSampler(600 << 20)
	p := NewPreparer(s, sampler, testLogger())

	files := make([]domain.FileRef, 12)
	for i := range files {
		files[i] = livePhoto(fmt.Sprintf("p%d", i))
	}
	out := p.Prepare(context.Background(), files)

	// the preparation window runs ahead of the writer's slot limit
	wantWindow := sampler.Sample().Concurrency + prepareLookaheadSlack
	deadline := time.Now().Add(2 * time.Second)
	for {
		if inflight, _ := s.counts(); inflight == wantWindow {
			break
		}
		if time.Now().After(deadline) {
			inflight, _ := s.counts()
			t.Fatalf("in-flight preparations = %d, want %d", inflight, wantWindow)
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if inflight, peak := s.counts(); inflight != wantWindow || peak != wantWindow {
		t.Fatalf("in-flight/peak = %d/%d, want the window to hold at %d", inflight, peak, wantWindow)
	}

	close(s.gate)
	count := 0
	for range out {
		count++
	}
	if count != len(files) {
		t.Errorf("delivered %d results, want %d", count, len(files))
	}
}

func TestPreparer_Prepare_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &slowLiveStore{}
	p := NewPreparer(s, testSampler(8<<30), testLogger())

	count := 0
	for range p.Prepare(ctx, []domain.FileRef{livePhoto("p1"), livePhoto("p2")}) {
		count++
	}
	if count != 0 {
		t.Errorf("delivered %d results after cancellation, want 0", count)
	}
}
