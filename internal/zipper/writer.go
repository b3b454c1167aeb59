// Package zipper implements the streaming bulk-export pipeline: prepared
// entries are fetched with bounded, adaptively tuned concurrency, framed
// into a ZIP stream entry by entry, and drained into a sink through a
// single serialized write chain.
package zipper

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/clearshot/photoarc/internal/capability"
	"github.com/clearshot/photoarc/internal/domain"
	"github.com/clearshot/photoarc/internal/retry"
	"github.com/clearshot/photoarc/internal/sink"
)

// errAbandoned marks files that never started because the export died.
var errAbandoned = errors.New("export aborted before file started")

// Config tunes one writer run.
type Config struct {
	Retry        retry.Config
	TuneInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Retry:        retry.DefaultConfig(),
		TuneInterval: 2 * time.Second,
	}
}

// Stats is a snapshot of the archive accounting at the end of a run.
// A success requires EntriesAdded == EntriesCompleted and
// WritesRequested == WritesQueued.
type Stats struct {
	EntriesAdded     int
	EntriesCompleted int
	WritesRequested  int64
	WritesQueued     int64
	FilesSucceeded   int
	FilesFailed      int
	Salvaged         bool
}

// Writer drives one export: it consumes prepared files in source order,
// frames their entries into a ZIP stream (stored, not deflated) and
// serializes all bytes into the sink.
type Writer struct {
	snk     sink.Sink
	sampler *capability.Sampler
	cfg     Config
	logger  *slog.Logger
}

// New creates a writer for one export run.
func New(snk sink.Sink, sampler *capability.Sampler, cfg Config, logger *slog.Logger) *Writer {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.TuneInterval <= 0 {
		cfg.TuneInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{snk: snk, sampler: sampler, cfg: cfg, logger: logger}
}

// openedEntry is an entry whose payload stream is ready to be framed.
type openedEntry struct {
	name string
	rc   io.ReadCloser
}

// fetchResult is one file's fetch-phase outcome, delivered to the framing
// loop in source order.
type fetchResult struct {
	pf      *PreparedFile
	opened  []openedEntry
	err     error
	slotted bool
	done    chan struct{}
}

func (fr *fetchResult) closeOpened() {
	for _, oe := range fr.opened {
		if oe.rc != nil {
			oe.rc.Close()
		}
	}
	fr.opened = nil
}

// runState is shared between the fetch scheduler, the framing loop and
// the re-tuning ticker. Counter mutation happens only under mu; the
// chunk-accounting invariant is safety-critical.
type runState struct {
	mu   sync.Mutex
	cond *sync.Cond

	active           int
	fatal            error
	entriesAdded     int
	entriesCompleted int
	filesSucceeded   int
	filesFailed      int
}

func (st *runState) setFatal(err error) {
	st.mu.Lock()
	if st.fatal == nil {
		st.fatal = err
	}
	st.cond.Broadcast()
	st.mu.Unlock()
}

func (st *runState) fatalErr() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.fatal
}

// Run executes the export. The outcome is success, cancelled, or error;
// per-file results are reported incrementally through progress as each
// file settles.
func (w *Writer) Run(ctx context.Context, preparer *Preparer, files []domain.FileRef, progress domain.ExportProgress) (domain.Outcome, Stats, error) {
	st := &runState{}
	st.cond = sync.NewCond(&st.mu)
	unwake := context.AfterFunc(ctx, st.cond.Broadcast)
	defer unwake()

	chain := newWriteChain(ctx, w.snk, func() int {
		return w.sampler.Sample().WriteQueueLimit
	})
	zw := zip.NewWriter(chain)

	// periodic re-tune: a concurrency change immediately re-evaluates how
	// many fetches may start, without waiting for a natural scheduling tick
	tuneCtx, stopTune := context.WithCancel(ctx)
	defer stopTune()
	go w.retune(tuneCtx, st)

	prepared := preparer.Prepare(ctx, files)
	pending := w.scheduleFetches(ctx, st, prepared)

	outcome, stats, err := w.frame(ctx, st, chain, zw, pending, progress)

	st.mu.Lock()
	stats.EntriesAdded = st.entriesAdded
	stats.EntriesCompleted = st.entriesCompleted
	stats.FilesSucceeded = st.filesSucceeded
	stats.FilesFailed = st.filesFailed
	st.mu.Unlock()
	stats.WritesRequested, stats.WritesQueued = chain.counters()

	return outcome, stats, err
}

// scheduleFetches starts fetch tasks under the adaptive concurrency
// limit and forwards results in source order.
func (w *Writer) scheduleFetches(ctx context.Context, st *runState, prepared <-chan *PreparedFile) <-chan *fetchResult {
	pending := make(chan *fetchResult, capability.MaxConcurrency)

	go func() {
		defer close(pending)
		for pf := range prepared {
			fr := &fetchResult{pf: pf, done: make(chan struct{})}

			if pf.Err != nil {
				fr.err = pf.Err
				close(fr.done)
			} else if !w.acquireSlot(ctx, st) {
				// export died: forward unstarted so accounting settles
				fr.err = errAbandoned
				close(fr.done)
			} else {
				fr.slotted = true
				go w.fetch(ctx, fr)
			}

			select {
			case pending <- fr:
			case <-ctx.Done():
				if fr.err == nil {
					<-fr.done
					fr.closeOpened()
				}
				return
			}
		}
	}()

	return pending
}

// acquireSlot blocks until a fetch-or-write slot is free. The limit is
// re-read from the sampler at every decision.
func (w *Writer) acquireSlot(ctx context.Context, st *runState) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	for st.active >= w.sampler.Sample().Concurrency && ctx.Err() == nil && st.fatal == nil {
		st.cond.Wait()
	}
	if ctx.Err() != nil || st.fatal != nil {
		return false
	}
	st.active++
	return true
}

func (w *Writer) releaseSlot(st *runState) {
	st.mu.Lock()
	st.active--
	st.cond.Signal()
	st.mu.Unlock()
}

// fetch opens every payload of one file, retrying transient failures.
// Retries happen only here, before any encoder state exists for the file;
// re-adding a partially written entry would corrupt the archive.
func (w *Writer) fetch(ctx context.Context, fr *fetchResult) {
	defer close(fr.done)

	for _, e := range fr.pf.Entries {
		rc, err := retry.DoWithCheck(ctx, w.cfg.Retry, func() (io.ReadCloser, error) {
			return e.Open(ctx)
		}, func(err error) bool {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return !errors.Is(err, domain.ErrURLExpired)
		})
		if err != nil {
			fr.closeOpened()
			fr.err = &domain.ExportError{FileID: fr.pf.Ref.ID, Op: "fetch", Err: err}
			return
		}
		fr.opened = append(fr.opened, openedEntry{name: e.Name, rc: rc})
	}
}

// frame is the single ordered ZIP loop. All entries enter the encoder
// here, in source-file order, one at a time.
func (w *Writer) frame(ctx context.Context, st *runState, chain *writeChain, zw *zip.Writer, pending <-chan *fetchResult, progress domain.ExportProgress) (domain.Outcome, Stats, error) {
	seen := make(map[string]struct{})
	buf := make([]byte, 64*1024)

	for fr := range pending {
		select {
		case <-fr.done:
		case <-ctx.Done():
			w.abort(chain)
			go drainAbandoned(pending, fr)
			return domain.OutcomeCancelled, Stats{}, nil
		}
		if err := ctx.Err(); err != nil {
			fr.closeOpened()
			w.abort(chain)
			go drainAbandoned(pending, nil)
			return domain.OutcomeCancelled, Stats{}, nil
		}

		// stop enqueueing the moment the sink has failed
		if err := w.sinkErr(chain); err != nil {
			fr.closeOpened()
			if fr.slotted {
				w.releaseSlot(st)
			}
			return w.fail(ctx, st, chain, zw, pending, progress, fr.pf.Ref.ID, err)
		}

		if fr.err != nil {
			// fetch-phase failure: recovered locally, never aborts the
			// archive
			if fr.slotted {
				w.releaseSlot(st)
			}
			w.fileFailed(st, progress, fr.pf.Ref.ID, fr.err)
			continue
		}

		// the slot stays held while the file is being framed, so writing
		// counts against the concurrency limit just like fetching
		err := w.writeEntries(st, zw, fr, seen, buf)
		w.releaseSlot(st)
		if err != nil {
			fr.closeOpened()
			return w.fail(ctx, st, chain, zw, pending, progress, fr.pf.Ref.ID, err)
		}

		st.mu.Lock()
		st.filesSucceeded++
		st.mu.Unlock()
		if progress.OnFileSuccess != nil {
			progress.OnFileSuccess(fr.pf.Ref.ID, 1)
		}
	}

	if err := ctx.Err(); err != nil {
		w.abort(chain)
		return domain.OutcomeCancelled, Stats{}, nil
	}
	if err := w.sinkErr(chain); err != nil {
		return w.fail(ctx, st, chain, zw, pending, progress, "", err)
	}

	// finalize: no more entries, flush everything, then verify the
	// chunk accounting before closing the sink
	if err := zw.Close(); err != nil {
		return w.fail(ctx, st, chain, zw, nil, progress, "", fmt.Errorf("finalize archive: %w", err))
	}
	if err := chain.Finish(); err != nil {
		return w.fail(ctx, st, chain, zw, nil, progress, "", fmt.Errorf("flush archive: %w", err))
	}
	if err := w.verify(st, chain); err != nil {
		w.snk.Abort()
		return domain.OutcomeError, Stats{}, err
	}
	if err := w.snk.Close(ctx); err != nil {
		w.snk.Abort()
		return domain.OutcomeError, Stats{}, fmt.Errorf("close sink: %w", err)
	}

	return domain.OutcomeSuccess, Stats{}, nil
}

// writeEntries frames one file's entries into the archive.
func (w *Writer) writeEntries(st *runState, zw *zip.Writer, fr *fetchResult, seen map[string]struct{}, buf []byte) error {
	for i := range fr.opened {
		oe := &fr.opened[i]
		name := uniqueEntryName(seen, oe.name)

		ew, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Store,
			Modified: time.Now(),
		})
		if err != nil {
			return fmt.Errorf("add entry %q: %w", name, err)
		}
		st.mu.Lock()
		st.entriesAdded++
		st.mu.Unlock()

		if _, err := io.CopyBuffer(ew, oe.rc, buf); err != nil {
			oe.rc.Close()
			return &domain.ExportError{FileID: fr.pf.Ref.ID, Op: "write entry", Err: err}
		}
		oe.rc.Close()
		oe.rc = nil

		// push this entry's bytes to the sink promptly
		if err := zw.Flush(); err != nil {
			return fmt.Errorf("flush entry %q: %w", name, err)
		}

		st.mu.Lock()
		st.entriesCompleted++
		st.mu.Unlock()
	}
	return nil
}

// fail handles an unrecoverable error: mark every file that had not yet
// started as failed so progress is never left stuck, wait for in-flight
// fetches to settle, then either salvage a valid truncated archive or
// abort the sink.
func (w *Writer) fail(ctx context.Context, st *runState, chain *writeChain, zw *zip.Writer, pending <-chan *fetchResult, progress domain.ExportProgress, failedFile domain.FileID, cause error) (domain.Outcome, Stats, error) {
	// cancellation surfaces mid-entry as a failed chain write or flush;
	// that is a cancel, not an export failure
	if ctx.Err() != nil {
		w.abort(chain)
		if pending != nil {
			go drainAbandoned(pending, nil)
		}
		return domain.OutcomeCancelled, Stats{}, nil
	}

	st.setFatal(cause)

	if failedFile != "" {
		w.fileFailed(st, progress, failedFile, cause)
	}

	if pending != nil {
		// wait for in-flight fetches to settle so counters are accurate
		for fr := range pending {
			<-fr.done
			fr.closeOpened()
			if fr.slotted {
				w.releaseSlot(st)
			}
			w.fileFailed(st, progress, fr.pf.Ref.ID, errAbandoned)
		}
	}

	var stats Stats
	if w.trySalvage(ctx, st, chain, zw) {
		stats.Salvaged = true
		w.logger.Warn("export failed, salvaged partial archive",
			"error", cause,
			"entries", st.entriesCompleted,
		)
		return domain.OutcomeError, stats, fmt.Errorf("export incomplete (partial archive salvaged): %w", cause)
	}

	w.abort(chain)
	return domain.OutcomeError, stats, cause
}

// trySalvage finalizes a truncated archive containing only the entries
// that completed cleanly. Eligible only when at least one entry was
// added, every added entry completed, and no chunk was dropped.
func (w *Writer) trySalvage(ctx context.Context, st *runState, chain *writeChain, zw *zip.Writer) bool {
	st.mu.Lock()
	eligible := st.entriesAdded > 0 && st.entriesAdded == st.entriesCompleted
	st.mu.Unlock()
	if !eligible {
		return false
	}
	if chain.Err() != nil {
		// bytes already failed to reach the sink; finalizing cannot
		// produce a valid archive
		return false
	}

	if err := zw.Close(); err != nil {
		return false
	}
	if err := chain.Finish(); err != nil {
		return false
	}
	if err := w.verify(st, chain); err != nil {
		return false
	}
	if err := w.snk.Close(ctx); err != nil {
		return false
	}
	return true
}

// verify checks the integrity invariants before any terminal close.
func (w *Writer) verify(st *runState, chain *writeChain) error {
	requested, queued := chain.counters()
	if requested != queued {
		return fmt.Errorf("%w: %d chunks requested, %d queued", domain.ErrWriteDropped, requested, queued)
	}
	st.mu.Lock()
	added, completed := st.entriesAdded, st.entriesCompleted
	st.mu.Unlock()
	if added != completed {
		return fmt.Errorf("%w: %d entries added, %d completed", domain.ErrWriteDropped, added, completed)
	}
	return nil
}

func (w *Writer) abort(chain *writeChain) {
	chain.Abandon()
	w.snk.Abort()
}

// sinkErr reports a failure already captured by the chain or the sink's
// out-of-band health signal.
func (w *Writer) sinkErr(chain *writeChain) error {
	if err := chain.Err(); err != nil {
		return err
	}
	if h, ok := w.snk.(sink.Health); ok {
		if err := h.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) fileFailed(st *runState, progress domain.ExportProgress, id domain.FileID, err error) {
	st.mu.Lock()
	st.filesFailed++
	st.mu.Unlock()
	w.logger.Warn("file export failed", "file_id", id, "error", err)
	if progress.OnFileFailure != nil {
		progress.OnFileFailure(id, err)
	}
}

// retune polls the sampler and wakes slot waiters when the concurrency
// figure changes.
func (w *Writer) retune(ctx context.Context, st *runState) {
	ticker := time.NewTicker(w.cfg.TuneInterval)
	defer ticker.Stop()

	last := w.sampler.Sample().Concurrency
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := w.sampler.Sample().Concurrency
			if cur != last {
				last = cur
				st.mu.Lock()
				st.cond.Broadcast()
				st.mu.Unlock()
			}
		}
	}
}

// drainAbandoned settles and discards remaining fetch results after a
// cancellation, closing any payload streams the fetchers had opened.
func drainAbandoned(pending <-chan *fetchResult, first *fetchResult) {
	if first != nil {
		<-first.done
		first.closeOpened()
	}
	for fr := range pending {
		<-fr.done
		fr.closeOpened()
	}
}

// uniqueEntryName keeps archive entry names collision-free while
// preserving the original name where possible.
func uniqueEntryName(seen map[string]struct{}, name string) string {
	if name == "" {
		name = "file"
	}
	if _, ok := seen[name]; !ok {
		seen[name] = struct{}{}
		return name
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s(%d)%s", base, i, ext)
		if _, ok := seen[candidate]; !ok {
			seen[candidate] = struct{}{}
			return candidate
		}
	}
}
