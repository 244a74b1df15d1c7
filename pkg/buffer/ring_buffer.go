// Package buffer provides the bounded, drop-oldest output queue every
// continuous query's ingest loop uses to decouple event processing from a
// possibly slow downstream subscriber.
package buffer

import (
	"context"
	"errors"
	"sync"

	"github.com/user/viewstream"
)

// ErrClosed is returned by Produce/Consume once Close has been called.
var ErrClosed = errors.New("buffer closed")

// RingBuffer is a fixed-capacity queue of viewstream.ResultChange values.
// When full, Produce drops the oldest queued value rather than blocking the
// producer — per spec this is the one acceptable backpressure strategy for
// the processor's output stream. Dropped counts are reported through
// DroppedCount so a caller can feed a metric/counter.
type RingBuffer struct {
	mu      sync.Mutex
	notify  chan struct{}
	items   []viewstream.ResultChange
	cap     int
	closed  bool
	dropped uint64
}

// NewRingBuffer creates a RingBuffer holding at most size values. size must
// be positive.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{
		notify: make(chan struct{}, 1),
		items:  make([]viewstream.ResultChange, 0, size),
		cap:    size,
	}
}

// Produce appends a value, dropping the oldest queued value first if the
// buffer is already at capacity. It never blocks on a full buffer.
func (b *RingBuffer) Produce(ctx context.Context, rc viewstream.ResultChange) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if len(b.items) >= b.cap {
		b.items = b.items[1:]
		b.dropped++
	}
	b.items = append(b.items, rc)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// Handler processes one dequeued ResultChange. Returning an error stops
// Consume, which returns that error.
type Handler func(ctx context.Context, rc viewstream.ResultChange) error

// Consume drains the buffer, invoking handler for each value in FIFO order,
// until the context is cancelled or Close is called.
func (b *RingBuffer) Consume(ctx context.Context, handler Handler) error {
	for {
		rc, ok := b.pop()
		if ok {
			if err := handler(ctx, rc); err != nil {
				return err
			}
			continue
		}

		b.mu.Lock()
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return nil
		}

		select {
		case <-b.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *RingBuffer) pop() (viewstream.ResultChange, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return viewstream.ResultChange{}, false
	}
	rc := b.items[0]
	b.items = b.items[1:]
	return rc, true
}

// Len reports the number of values currently queued.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// DroppedCount reports how many values have been evicted by Produce because
// the buffer was full.
func (b *RingBuffer) DroppedCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close marks the buffer closed; queued values may still be drained by
// Consume, but Produce starts returning ErrClosed and Consume returns once
// drained.
func (b *RingBuffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}
