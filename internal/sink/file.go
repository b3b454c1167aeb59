package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/clearshot/photoarc/internal/domain"
)

// StreamWriter is the external primitive that consumes a byte stream and
// persists it at a path. It runs for the lifetime of one export.
type StreamWriter func(ctx context.Context, path string, r io.Reader) error

// FileStreamWriter is the default StreamWriter: it creates the file,
// copies the stream into it and fsyncs before close. The sync matters for
// removable drives which may not flush immediately.
func FileStreamWriter(ctx context.Context, path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write archive file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync archive file: %w", err)
	}

	return f.Close()
}

// FileSink bridges sequential chunk writes to a StreamWriter through a
// pipe. A StreamWriter failure tears the pipe down immediately so that
// producers fail fast instead of accumulating backpressure against a dead
// destination.
type FileSink struct {
	pw     *io.PipeWriter
	done   chan struct{}
	logger *slog.Logger

	mu        sync.Mutex
	streamErr error
	closed    bool
	aborted   bool
}

// NewFileSink starts the StreamWriter and returns a sink feeding it.
func NewFileSink(ctx context.Context, path string, sw StreamWriter, logger *slog.Logger) *FileSink {
	pr, pw := io.Pipe()
	s := &FileSink{
		pw:     pw,
		done:   make(chan struct{}),
		logger: logger,
	}

	go func() {
		defer close(s.done)
		err := sw(ctx, path, pr)

		s.mu.Lock()
		s.streamErr = err
		s.mu.Unlock()

		if err != nil {
			logger.Error("archive stream writer failed", "path", path, "error", err)
			// Fail the writable side so in-flight and future writes
			// unblock with this error.
			pr.CloseWithError(err)
			return
		}
		pr.Close()
	}()

	return s
}

// Write delivers one chunk into the pipe. Returns the StreamWriter's
// failure once it has died.
func (s *FileSink) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed || s.aborted {
		s.mu.Unlock()
		return domain.ErrSinkClosed
	}
	if err := s.streamErr; err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if _, err := s.pw.Write(p); err != nil {
		return err
	}
	return nil
}

// Close finishes the stream and waits for the StreamWriter to settle. Any
// captured failure is surfaced rather than reporting false success.
func (s *FileSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.aborted {
		err := s.streamErr
		s.mu.Unlock()
		return err
	}
	s.closed = true
	s.mu.Unlock()

	s.pw.Close()

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamErr
}

// Abort tears the pipe down without finalizing. No-op after Close.
func (s *FileSink) Abort() {
	s.mu.Lock()
	if s.closed || s.aborted {
		s.mu.Unlock()
		return
	}
	s.aborted = true
	s.mu.Unlock()

	s.pw.CloseWithError(domain.ErrExportCancelled)
	<-s.done
}

// Err reports an asynchronous StreamWriter failure, if any.
func (s *FileSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.streamErr
	}
	// Before close, a nil streamErr only counts once the writer is dead.
	select {
	case <-s.done:
		if s.streamErr != nil {
			return s.streamErr
		}
		return domain.ErrSinkClosed
	default:
	}
	return s.streamErr
}
