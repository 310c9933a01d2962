package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingWriter struct {
	mu      sync.Mutex
	written []any
	failAt  int
}

func (w *recordingWriter) WriteMessage(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAt > 0 && len(w.written)+1 == w.failAt {
		return errors.New("write failed")
	}
	w.written = append(w.written, v)
	return nil
}

func (w *recordingWriter) messages() []any {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]any, len(w.written))
	copy(out, w.written)
	return out
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestDispatcherPreservesOrderAcrossConnect(t *testing.T) {
	d := NewDispatcher(8, 100*time.Millisecond)
	defer d.Close()

	// Batches queued before any consumer exists must come out in
	// submission order once Run starts.
	for _, msg := range []string{"first", "second", "third"} {
		if err := d.Enqueue(msg); err != nil {
			t.Fatalf("enqueue %q: %v", msg, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &recordingWriter{}
	go d.Run(ctx, w)

	waitFor(t, "all messages written", func() bool { return len(w.messages()) == 3 })
	got := w.messages()
	for i, want := range []string{"first", "second", "third"} {
		if got[i] != want {
			t.Fatalf("messages = %v", got)
		}
	}
}

func TestDispatcherBatchStaysAdjacent(t *testing.T) {
	d := NewDispatcher(8, 100*time.Millisecond)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &recordingWriter{}
	go d.Run(ctx, w)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Enqueue("output", "trigger")
		}()
	}
	wg.Wait()

	waitFor(t, "all batches written", func() bool { return len(w.messages()) == 16 })
	got := w.messages()
	for i := 0; i < len(got); i += 2 {
		if got[i] != "output" || got[i+1] != "trigger" {
			t.Fatalf("batch split at %d: %v", i, got)
		}
	}
}

func TestDispatcherEnqueueBoundedWait(t *testing.T) {
	d := NewDispatcher(1, 20*time.Millisecond)
	defer d.Close()

	if err := d.Enqueue("fits"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	start := time.Now()
	err := d.Enqueue("overflows")
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("enqueue returned after %v, want at least the bounded wait", elapsed)
	}
}

func TestDispatcherCloseRejectsAndDiscards(t *testing.T) {
	d := NewDispatcher(4, 20*time.Millisecond)
	if err := d.Enqueue("queued"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.Close()
	d.Close()

	if err := d.Enqueue("late"); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("err = %v, want ErrDispatcherClosed", err)
	}

	w := &recordingWriter{}
	if err := d.Run(context.Background(), w); err != nil {
		t.Fatalf("run after close: %v", err)
	}
	if len(w.messages()) != 0 {
		t.Fatalf("closed dispatcher delivered %v", w.messages())
	}
}

func TestDispatcherWriteFailureStopsRun(t *testing.T) {
	d := NewDispatcher(8, 20*time.Millisecond)
	defer d.Close()

	d.Enqueue("one")
	d.Enqueue("two")
	d.Enqueue("never delivered")

	w := &recordingWriter{failAt: 2}
	err := d.Run(context.Background(), w)
	if err == nil || err.Error() != "write failed" {
		t.Fatalf("run err = %v", err)
	}
	if len(w.messages()) != 1 {
		t.Fatalf("messages = %v", w.messages())
	}
}
