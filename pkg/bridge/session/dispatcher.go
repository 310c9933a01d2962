package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MessageWriter sends one client message to the engine.
type MessageWriter interface {
	WriteMessage(v any) error
}

var (
	// ErrQueueFull reports that the outbound queue stayed full past the
	// bounded enqueue wait.
	ErrQueueFull = errors.New("outbound queue full")
	// ErrDispatcherClosed reports an enqueue after teardown began.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// Dispatcher owns the single outbound path to the engine. Producers enqueue
// batches; one consumer drains them in FIFO order. A batch is admitted to
// the queue atomically, so multi-message sequences that must stay adjacent
// (tool output followed by response.create) are enqueued as one batch.
//
// Enqueue works before the engine connection exists; batches simply wait in
// the queue until Run starts consuming.
type Dispatcher struct {
	batches     chan []any
	enqueueWait time.Duration
	closed      chan struct{}
	closeOnce   sync.Once
}

func NewDispatcher(capacity int, enqueueWait time.Duration) *Dispatcher {
	if capacity <= 0 {
		capacity = 64
	}
	return &Dispatcher{
		batches:     make(chan []any, capacity),
		enqueueWait: enqueueWait,
		closed:      make(chan struct{}),
	}
}

// Enqueue appends one batch. When the queue is full it waits up to the
// configured bound, then fails with ErrQueueFull without blocking the
// caller further.
func (d *Dispatcher) Enqueue(msgs ...any) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := make([]any, len(msgs))
	copy(batch, msgs)

	select {
	case <-d.closed:
		return ErrDispatcherClosed
	default:
	}

	select {
	case d.batches <- batch:
		return nil
	case <-d.closed:
		return ErrDispatcherClosed
	default:
	}

	timer := time.NewTimer(d.enqueueWait)
	defer timer.Stop()
	select {
	case d.batches <- batch:
		return nil
	case <-d.closed:
		return ErrDispatcherClosed
	case <-timer.C:
		return ErrQueueFull
	}
}

// Run consumes batches until the context ends, the dispatcher closes, or a
// write fails. Remaining batches are discarded on every exit path; a failed
// write additionally returns the write error so the session tears down.
func (d *Dispatcher) Run(ctx context.Context, w MessageWriter) error {
	for {
		// Shutdown wins over pending batches.
		select {
		case <-ctx.Done():
			d.discard()
			return ctx.Err()
		case <-d.closed:
			d.discard()
			return nil
		default:
		}

		select {
		case <-ctx.Done():
			d.discard()
			return ctx.Err()
		case <-d.closed:
			d.discard()
			return nil
		case batch := <-d.batches:
			for _, msg := range batch {
				if err := w.WriteMessage(msg); err != nil {
					d.discard()
					return err
				}
			}
		}
	}
}

// Close stops the dispatcher and rejects further enqueues. Idempotent.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.closed) })
}

func (d *Dispatcher) discard() {
	for {
		select {
		case <-d.batches:
		default:
			return
		}
	}
}
