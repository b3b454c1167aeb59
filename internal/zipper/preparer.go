package zipper

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/clearshot/photoarc/internal/capability"
	"github.com/clearshot/photoarc/internal/domain"
	"github.com/clearshot/photoarc/internal/store"
)

// PreparedEntry is one named archive entry with a lazy byte producer. It
// is consumed exactly once by the archive writer.
type PreparedEntry struct {
	Name  string
	Owner domain.FileID
	Open  store.Payload
}

// PreparedFile is the result of preparing one source file: one entry for
// an ordinary file, exactly two (image before video) for a live photo, or
// an error when the file could not be decoded.
type PreparedFile struct {
	Ref     domain.FileRef
	Entries []PreparedEntry
	Err     error
}

// Preparer turns file references into prepared archive entries, running a
// bounded look-ahead window independent of archive-writing concurrency.
type Preparer struct {
	store   store.ByteStore
	sampler *capability.Sampler
	logger  *slog.Logger
}

// NewPreparer creates a preparer backed by the given byte store.
func NewPreparer(bs store.ByteStore, sampler *capability.Sampler, logger *slog.Logger) *Preparer {
	return &Preparer{store: bs, sampler: sampler, logger: logger}
}

// Prepare schedules preparation of all files and delivers results on the
// returned channel in input order. The concurrency window is re-read from
// the sampler at every scheduling decision, so a mid-export tuning change
// takes effect immediately. The channel closes after the last file, or
// early on cancellation with unresolved preparations abandoned.
func (p *Preparer) Prepare(ctx context.Context, files []domain.FileRef) <-chan *PreparedFile {
	out := make(chan *PreparedFile)
	results := make([]*PreparedFile, len(files))
	done := make([]chan struct{}, len(files))
	for i := range done {
		done[i] = make(chan struct{})
	}

	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	active := 0

	// scheduler: while scheduled < total && active < currentLimit, start next
	go func() {
		unwake := context.AfterFunc(ctx, cond.Broadcast)
		defer unwake()

		for i := range files {
			mu.Lock()
			for active >= p.limit() && ctx.Err() == nil {
				cond.Wait()
			}
			if ctx.Err() != nil {
				mu.Unlock()
				return
			}
			active++
			mu.Unlock()

			go func(i int) {
				results[i] = p.prepareOne(ctx, files[i])
				close(done[i])

				mu.Lock()
				active--
				cond.Signal()
				mu.Unlock()
			}(i)
		}
	}()

	// emitter: strict input order into the writer
	go func() {
		defer close(out)
		for i := range files {
			select {
			case <-done[i]:
			case <-ctx.Done():
				return
			}
			select {
			case out <- results[i]:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// prepareLookaheadSlack widens the preparation window beyond the archive
// writer's slot limit so the ordered frame loop rarely has to wait on a
// live-photo decode.
const prepareLookaheadSlack = 4

func (p *Preparer) limit() int {
	return p.sampler.Sample().Concurrency + prepareLookaheadSlack
}

func (p *Preparer) prepareOne(ctx context.Context, ref domain.FileRef) *PreparedFile {
	pf := &PreparedFile{Ref: ref}

	if err := ctx.Err(); err != nil {
		pf.Err = err
		return pf
	}

	switch ref.Type {
	case domain.FileTypeLivePhoto:
		lp, err := p.store.FetchLivePhoto(ctx, ref)
		if err != nil {
			p.logger.Warn("live photo decode failed", "file_id", ref.ID, "error", err)
			pf.Err = err
			return pf
		}
		pf.Entries = []PreparedEntry{
			{Name: lp.ImageName, Owner: ref.ID, Open: lp.Image},
			{Name: lp.VideoName, Owner: ref.ID, Open: lp.Video},
		}
	default:
		ref := ref
		pf.Entries = []PreparedEntry{{
			Name:  ref.DisplayName,
			Owner: ref.ID,
			Open: func(ctx context.Context) (io.ReadCloser, error) {
				return p.store.FetchBytes(ctx, ref)
			},
		}}
	}

	return pf
}
