package zipper

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clearshot/photoarc/internal/domain"
)

// seqSink records chunks one by one and can block or fail on demand.
type seqSink struct {
	mu      sync.Mutex
	chunks  [][]byte
	failErr error
	gate    chan struct{} // when set, Write blocks until closed
}

func (s *seqSink) Write(ctx context.Context, p []byte) error {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *seqSink) Close(ctx context.Context) error { return nil }
func (s *seqSink) Abort()                          {}

func (s *seqSink) joined() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Join(s.chunks, nil)
}

func TestWriteChain_OrderAndCounters(t *testing.T) {
	snk := &seqSink{}
	c := newWriteChain(context.Background(), snk, func() int { return 8 })

	var want bytes.Buffer
	for i := 0; i < 50; i++ {
		chunk := []byte{byte(i), byte(i + 1), byte(i + 2)}
		want.Write(chunk)
		if _, err := c.Write(chunk); err != nil {
			t.Fatalf("Write(%d): %v", i, err)
		}
	}
	if err := c.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if got := snk.joined(); !bytes.Equal(got, want.Bytes()) {
		t.Error("sink received chunks out of order or corrupted")
	}
	requested, queued := c.counters()
	if requested != 50 || queued != 50 {
		t.Errorf("counters = %d/%d, want 50/50", requested, queued)
	}
}

func TestWriteChain_BackpressureStillDelivers(t *testing.T) {
	gate := make(chan struct{})
	snk := &seqSink{gate: gate}
	c := newWriteChain(context.Background(), snk, func() int { return 1 })

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 10; i++ {
			if _, err := c.Write([]byte{byte(i)}); err != nil {
				done <- err
				return
			}
		}
		done <- c.Finish()
	}()

	// producers must be blocked on the depth limit, not dropping chunks
	select {
	case err := <-done:
		t.Fatalf("writes finished while the sink was stalled: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Finish: %v", err)
	}

	want := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	if got := snk.joined(); !bytes.Equal(got, want) {
		t.Errorf("sink received %v, want %v", got, want)
	}
	requested, queued := c.counters()
	if requested != 10 || queued != 10 {
		t.Errorf("counters = %d/%d, want 10/10", requested, queued)
	}
}

func TestWriteChain_SinkErrorSurfacesOnFinish(t *testing.T) {
	boom := errors.New("device gone")
	snk := &seqSink{failErr: boom}
	c := newWriteChain(context.Background(), snk, func() int { return 8 })

	if _, err := c.Write([]byte("x")); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	if err := c.Finish(); !errors.Is(err, boom) {
		t.Fatalf("Finish = %v, want %v", err, boom)
	}
	if err := c.Err(); !errors.Is(err, boom) {
		t.Errorf("Err = %v, want %v", err, boom)
	}
	if _, err := c.Write([]byte("y")); !errors.Is(err, boom) {
		t.Errorf("Write after failure = %v, want %v", err, boom)
	}
}

func TestWriteChain_AbandonDropsQueue(t *testing.T) {
	gate := make(chan struct{})
	snk := &seqSink{gate: gate}
	c := newWriteChain(context.Background(), snk, func() int { return 8 })

	for i := 0; i < 3; i++ {
		if _, err := c.Write([]byte{byte(i)}); err != nil {
			t.Fatalf("Write(%d): %v", i, err)
		}
	}

	abandoned := make(chan struct{})
	go func() {
		c.Abandon()
		close(abandoned)
	}()
	close(gate) // let the in-flight sink write settle

	select {
	case <-abandoned:
	case <-time.After(time.Second):
		t.Fatal("Abandon did not return")
	}

	if err := c.Err(); !errors.Is(err, domain.ErrSinkClosed) {
		t.Errorf("Err after Abandon = %v, want %v", err, domain.ErrSinkClosed)
	}
	if _, err := c.Write([]byte("z")); err == nil {
		t.Error("Write after Abandon succeeded, want error")
	}
	requested, queued := c.counters()
	if requested != 4 || queued != 3 {
		t.Errorf("counters = %d/%d, want 4/3 (rejected writes count as requested only)", requested, queued)
	}
}

func TestWriteChain_CancelledContextRejectsWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	snk := &seqSink{}
	c := newWriteChain(ctx, snk, func() int { return 8 })

	cancel()
	if _, err := c.Write([]byte("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("Write after cancel = %v, want context.Canceled", err)
	}
	c.Abandon()
}
