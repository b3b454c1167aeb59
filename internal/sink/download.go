package sink

import (
	"context"
	"mime"
	"net/http"
	"sync"

	"github.com/clearshot/photoarc/internal/domain"
)

// DownloadSink streams archive bytes into an HTTP response as a file
// download, flushing after every chunk so the client sees progress while
// the archive is still being produced.
type DownloadSink struct {
	w http.ResponseWriter
	f http.Flusher

	mu      sync.Mutex
	started bool
	closed  bool
	aborted bool
	err     error
}

// NewDownloadSink probes the response writer for streaming support.
// Returns ok=false when the runtime cannot stream (no flush support);
// callers fall through to another backend.
func NewDownloadSink(w http.ResponseWriter, filename string) (*DownloadSink, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	if filename == "" {
		filename = "photos.zip"
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": filename}))

	return &DownloadSink{w: w, f: f}, true
}

// Write sends one chunk and flushes it to the client.
func (s *DownloadSink) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed || s.aborted {
		s.mu.Unlock()
		return domain.ErrSinkClosed
	}
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return err
	}
	s.started = true
	s.mu.Unlock()

	if _, err := s.w.Write(p); err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		return err
	}
	s.f.Flush()
	return nil
}

// Close finalizes the response. Idempotent; calling after Abort is a no-op.
func (s *DownloadSink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.aborted {
		return s.err
	}
	s.closed = true
	return s.err
}

// Abort stops the download. The connection is left for the HTTP server to
// tear down; a truncated body fails the client-side download, which is the
// intended signal. No-op after Close.
func (s *DownloadSink) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.aborted {
		return
	}
	s.aborted = true
}

// Err reports a captured transport failure, if any.
func (s *DownloadSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
