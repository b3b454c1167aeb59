package zipper

import (
	"context"
	"sync"

	"github.com/clearshot/photoarc/internal/domain"
	"github.com/clearshot/photoarc/internal/sink"
)

// writeChain is the sole point of total ordering into the sink: every
// chunk the archive encoder produces is enqueued here and drained by a
// single consumer goroutine in FIFO order.
//
// It keeps the chunk-accounting counters: requested counts Write calls,
// queued counts chunks actually handed to the queue. The two must be
// equal before any successful close; a mismatch means a write was
// silently dropped, which is never allowed to produce a success.
type writeChain struct {
	snk   sink.Sink
	ctx   context.Context
	limit func() int

	mu   sync.Mutex
	cond *sync.Cond

	queue     [][]byte
	depth     int // queued-but-unconfirmed chunks, bounded by limit
	requested int64
	queued    int64
	err       error
	closed    bool

	drained chan struct{}
}

func newWriteChain(ctx context.Context, snk sink.Sink, limit func() int) *writeChain {
	c := &writeChain{
		snk:     snk,
		ctx:     ctx,
		limit:   limit,
		drained: make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)

	// wake producers blocked on backpressure when the export is cancelled
	stop := context.AfterFunc(ctx, c.cond.Broadcast)

	go func() {
		defer stop()
		c.consume()
	}()

	return c
}

// Write enqueues one chunk, blocking while the queue is at its depth
// limit. The chunk is copied: the archive encoder reuses its buffers.
func (c *writeChain) Write(p []byte) (int, error) {
	c.mu.Lock()
	c.requested++

	for c.err == nil && !c.closed && c.ctx.Err() == nil && c.depth >= c.limit() {
		c.cond.Wait()
	}
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return 0, err
	}
	if c.closed {
		c.mu.Unlock()
		return 0, domain.ErrSinkClosed
	}
	if err := c.ctx.Err(); err != nil {
		c.mu.Unlock()
		return 0, err
	}

	buf := make([]byte, len(p))
	copy(buf, p)
	c.queue = append(c.queue, buf)
	c.depth++
	c.queued++
	c.cond.Broadcast()
	c.mu.Unlock()

	return len(p), nil
}

// consume drains the queue into the sink, one chunk at a time.
func (c *writeChain) consume() {
	defer close(c.drained)

	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed && c.err == nil {
			c.cond.Wait()
		}
		if c.err != nil || (len(c.queue) == 0 && c.closed) {
			c.mu.Unlock()
			return
		}
		chunk := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		werr := c.snk.Write(c.ctx, chunk)

		c.mu.Lock()
		c.depth--
		if werr != nil && c.err == nil {
			c.err = werr
		}
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

// Err returns the first sink write failure, if any.
func (c *writeChain) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Finish marks the chain closed, waits until every queued chunk has been
// confirmed by the sink, and returns the first failure.
func (c *writeChain) Finish() error {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()

	select {
	case <-c.drained:
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Abandon stops the chain without draining; pending chunks are dropped.
func (c *writeChain) Abandon() {
	c.mu.Lock()
	if c.err == nil {
		c.err = domain.ErrSinkClosed
	}
	c.closed = true
	c.queue = nil
	c.cond.Broadcast()
	c.mu.Unlock()

	<-c.drained
}

// counters returns (requested, queued).
func (c *writeChain) counters() (int64, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requested, c.queued
}
