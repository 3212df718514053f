package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// captureHandler records messages, optionally blocking until released.
type captureHandler struct {
	mu    sync.Mutex
	msgs  []string
	attrs []slog.Attr
	gate  chan struct{}
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.gate != nil {
		<-h.gate
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, rec.Message)
	rec.Attrs(func(a slog.Attr) bool {
		h.attrs = append(h.attrs, a)
		return true
	})
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.msgs...)
}

func record(level slog.Level, msg string) slog.Record {
	return slog.NewRecord(time.Now(), level, msg, 0)
}

func TestAsyncHandler_KeepsOrder(t *testing.T) {
	inner := &captureHandler{}
	ah := NewAsyncHandler(inner, 64)
	want := []string{"spawn", "ready", "analysis done", "crash", "restart"}
	for _, m := range want {
		_ = ah.Handle(context.Background(), record(slog.LevelInfo, m))
	}
	ah.Close()

	got := inner.messages()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAsyncHandler_FullQueueDropsInfoButNotWarn(t *testing.T) {
	inner := &captureHandler{gate: make(chan struct{})}
	ah := NewAsyncHandler(inner, 1)

	// The writer holds the first record, the queue holds the second.
	_ = ah.Handle(context.Background(), record(slog.LevelInfo, "held"))
	_ = ah.Handle(context.Background(), record(slog.LevelInfo, "queued"))
	time.Sleep(10 * time.Millisecond)
	for range 5 {
		_ = ah.Handle(context.Background(), record(slog.LevelDebug, "noise"))
	}
	if got := ah.DroppedCount(); got < 4 {
		t.Fatalf("expected debug records to be dropped, dropped=%d", got)
	}

	warned := make(chan struct{})
	go func() {
		_ = ah.Handle(context.Background(), record(slog.LevelWarn, "analyzer crashed"))
		close(warned)
	}()
	close(inner.gate)
	<-warned
	ah.Close()

	found := false
	for _, m := range inner.messages() {
		if m == "analyzer crashed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("warning must survive a full queue, got %v", inner.messages())
	}
}

func TestAsyncHandler_CloseReportsDrops(t *testing.T) {
	inner := &captureHandler{}
	ah := NewAsyncHandler(inner, 8)
	ah.Close()
	ah.Close()

	_ = ah.Handle(context.Background(), record(slog.LevelInfo, "late"))
	if got := ah.DroppedCount(); got != 1 {
		t.Fatalf("expected 1 dropped record, got %d", got)
	}

	inner2 := &captureHandler{}
	ah2 := NewAsyncHandler(inner2, 8)
	ah2.q.dropped.Add(3)
	ah2.Close()
	msgs := inner2.messages()
	if len(msgs) != 1 || msgs[0] != "log records dropped" {
		t.Fatalf("expected drop summary, got %v", msgs)
	}
	if a := inner2.attrs[0]; a.Key != "dropped" || a.Value.Int64() != 3 {
		t.Fatalf("unexpected summary attr %v", a)
	}
}

func TestAsyncHandler_DerivedHandlersShareQueue(t *testing.T) {
	inner := &captureHandler{}
	ah := NewAsyncHandler(inner, 16)
	child := ah.WithAttrs([]slog.Attr{slog.String("component", "supervisor")}).WithGroup("process")

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = child.Handle(context.Background(), record(slog.LevelWarn, "stderr line"))
		}()
	}
	wg.Wait()
	ah.Close()

	if got := len(inner.messages()); got != 4 {
		t.Fatalf("expected 4 records through the shared queue, got %d", got)
	}
	if _, ok := child.(*AsyncHandler); !ok {
		t.Fatalf("derived handler has type %T", child)
	}
}
