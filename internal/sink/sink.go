// Package sink abstracts the destination of archive bytes behind a uniform
// writable contract. Two backends exist: a filesystem sink bridging an
// external streaming write primitive, and an HTTP download sink streaming
// into a flushable response writer. The set of backends is closed; callers
// resolve one through Open.
package sink

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/clearshot/photoarc/internal/domain"
)

// Sink receives archive bytes sequentially. Write calls never overlap;
// the export pipeline serializes all writes through a single queue.
type Sink interface {
	// Write delivers one chunk. The chunk is owned by the sink after the
	// call returns.
	Write(ctx context.Context, p []byte) error

	// Close finalizes the destination. It surfaces any failure captured
	// from the underlying write primitive instead of reporting false
	// success. Idempotent.
	Close(ctx context.Context) error

	// Abort discards the destination without finalizing. Idempotent, and
	// a no-op after Close.
	Abort()
}

// Health is implemented by sinks that can fail asynchronously, outside any
// Write call. The export pipeline polls it between archive entries so
// producers stop enqueueing the moment the underlying write has failed.
type Health interface {
	// Err returns the captured failure, or nil while the sink is healthy.
	Err() error
}

// Options selects a sink backend.
type Options struct {
	// DestPath, when set, selects the filesystem backend.
	DestPath string

	// StreamWriter is the external write primitive for the filesystem
	// backend. Defaults to FileStreamWriter.
	StreamWriter StreamWriter

	// ResponseWriter, when set (and DestPath empty), selects the HTTP
	// download backend.
	ResponseWriter http.ResponseWriter

	// Filename is the suggested download file name for the HTTP backend.
	Filename string
}

// Open probes the fixed set of sink backends and returns the first one
// that can be constructed. Returns domain.ErrSinkUnavailable when no
// backend fits the current runtime.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.DestPath != "" {
		sw := opts.StreamWriter
		if sw == nil {
			sw = FileStreamWriter
		}
		return NewFileSink(ctx, opts.DestPath, sw, logger), nil
	}

	if opts.ResponseWriter != nil {
		if s, ok := NewDownloadSink(opts.ResponseWriter, opts.Filename); ok {
			return s, nil
		}
	}

	return nil, domain.ErrSinkUnavailable
}
