package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler hands records to a single writer goroutine so that process
// waiters and read loops never block on a slow stderr. Output keeps the
// order records were logged in. When the queue is full, records below
// warn are dropped; warnings and errors wait for room.
type AsyncHandler struct {
	inner slog.Handler
	q     *logQueue
}

// logQueue is shared by an AsyncHandler and the handlers derived from it
// through WithAttrs and WithGroup.
type logQueue struct {
	entries chan entry
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex // read-held while enqueueing, write-held by Close
	closed bool
	final  slog.Handler // receives the drop summary on Close
}

type entry struct {
	h   slog.Handler
	rec slog.Record
}

// NewAsyncHandler starts the writer goroutine with room for size records.
func NewAsyncHandler(inner slog.Handler, size int) *AsyncHandler {
	q := &logQueue{
		entries: make(chan entry, max(size, 1)),
		done:    make(chan struct{}),
		final:   inner,
	}
	go q.write()
	return &AsyncHandler{inner: inner, q: q}
}

func (q *logQueue) write() {
	defer close(q.done)
	for e := range q.entries {
		_ = e.h.Handle(context.Background(), e.rec)
	}
}

// Enabled delegates to the wrapped handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle queues rec. Records logged after Close are counted as dropped.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	q := h.q
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.dropped.Add(1)
		return nil
	}

	e := entry{h: h.inner, rec: rec.Clone()}
	if rec.Level >= slog.LevelWarn {
		select {
		case q.entries <- e:
		case <-ctx.Done():
			q.dropped.Add(1)
		}
		return nil
	}
	select {
	case q.entries <- e:
	default:
		q.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler that shares the queue.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

// WithGroup returns a handler that shares the queue.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// DroppedCount returns the number of records that were never written.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.q.dropped.Load()
}

// Close writes out the queued records and stops the writer. If records
// were dropped, a warning with their count is written last. Calling Close
// again does nothing.
func (h *AsyncHandler) Close() {
	q := h.q
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.entries)
	q.mu.Unlock()
	<-q.done

	if n := q.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "log records dropped", 0)
		rec.AddAttrs(slog.Int64("dropped", n))
		_ = q.final.Handle(context.Background(), rec)
	}
}
