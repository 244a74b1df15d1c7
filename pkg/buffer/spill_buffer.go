package buffer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/user/viewstream"
)

// SpillBuffer is RingBuffer's two-tier sibling: an in-memory ring for the
// common case plus a file-backed overflow for a query whose subscriber
// falls far enough behind that RingBuffer's drop-oldest policy would
// otherwise discard rows a caller wants to retain. Produce tries the ring
// first; once the ring is at capacity, rows spill to an append-only JSON
// lines file instead of evicting the ring's oldest entry. Consume drains
// the ring first, then the spill file, so ordering across the tiers is
// preserved.
type SpillBuffer struct {
	ring *RingBuffer
	path string

	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	closed   bool
	spilling bool
}

// NewSpillBuffer creates a SpillBuffer whose ring holds ringCapacity
// values before overflowing to a JSON-lines file at path.
func NewSpillBuffer(ringCapacity int, path string) (*SpillBuffer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("buffer: spill: open %q: %w", path, err)
	}
	return &SpillBuffer{
		ring:   NewRingBuffer(ringCapacity),
		path:   path,
		file:   f,
		writer: bufio.NewWriter(f),
	}, nil
}

// Produce enqueues rc on the ring, or appends it to the spill file if the
// ring is already at capacity. Once a value has spilled, every later value
// is appended to the spill file too, so none overtakes an older one.
func (b *SpillBuffer) Produce(ctx context.Context, rc viewstream.ResultChange) error {
	b.mu.Lock()
	spilling := b.spilling
	b.mu.Unlock()
	if !spilling && b.ring.Len() < b.ring.cap {
		return b.ring.Produce(ctx, rc)
	}
	return b.spill(rc)
}

func (b *SpillBuffer) spill(rc viewstream.ResultChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.spilling = true
	data, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("buffer: spill: encode: %w", err)
	}
	if _, err := b.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("buffer: spill: write: %w", err)
	}
	return b.writer.Flush()
}

// Consume drains the ring, then replays the spill file, invoking handler
// for each value. It returns once both tiers are exhausted and Close has
// been called, or the context is cancelled.
func (b *SpillBuffer) Consume(ctx context.Context, handler Handler) error {
	if err := b.ring.Consume(ctx, handler); err != nil && err != ctx.Err() {
		return err
	}
	return b.replaySpillFile(ctx, handler)
}

func (b *SpillBuffer) replaySpillFile(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	_ = b.writer.Flush()
	b.mu.Unlock()

	f, err := os.Open(b.path)
	if err != nil {
		return fmt.Errorf("buffer: spill: reopen %q: %w", b.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		var rc viewstream.ResultChange
		if err := json.Unmarshal(scanner.Bytes(), &rc); err != nil {
			continue
		}
		if err := handler(ctx, rc); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Close closes the ring and the spill file. Queued-but-unread spill rows
// remain on disk at path until the caller removes it.
func (b *SpillBuffer) Close() error {
	_ = b.ring.Close()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	_ = b.writer.Flush()
	return b.file.Close()
}
