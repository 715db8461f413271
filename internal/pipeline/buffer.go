package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Buffer is the backpressure boundary between the capture goroutine and the
// broadcast loop. Offer never blocks: on a full buffer the oldest frame is
// evicted to admit the newest. Take blocks up to a bounded timeout.
type Buffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames []*Frame
	cap    int

	dropped uint64
	offered uint64

	closed bool
}

// NewBuffer creates a buffer with a fixed capacity of at least 1.
func NewBuffer(capacity int) (*Buffer, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("buffer capacity must be at least 1, got %d", capacity)
	}
	b := &Buffer{
		frames: make([]*Frame, 0, capacity),
		cap:    capacity,
	}
	b.cond = sync.NewCond(&b.mu)
	return b, nil
}

// Offer inserts a frame, evicting the oldest entry if the buffer is full.
// It never blocks and never fails; offers to a closed buffer are discarded.
func (b *Buffer) Offer(f *Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	atomic.AddUint64(&b.offered, 1)
	if len(b.frames) == b.cap {
		copy(b.frames, b.frames[1:])
		b.frames = b.frames[:len(b.frames)-1]
		atomic.AddUint64(&b.dropped, 1)
	}
	b.frames = append(b.frames, f)
	b.cond.Signal()
}

// Take removes and returns the oldest buffered frame, waiting up to timeout
// for one to arrive. The second return is false on timeout or after Close.
func (b *Buffer) Take(timeout time.Duration) (*Frame, bool) {
	deadline := time.Now().Add(timeout)

	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.frames) == 0 {
		if b.closed {
			return nil, false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		// Cond has no deadline wait; a timer broadcast bounds the wait. The
		// callback takes the lock so the wakeup cannot fire before Wait parks.
		t := time.AfterFunc(remaining, func() {
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		})
		b.cond.Wait()
		t.Stop()
	}

	f := b.frames[0]
	copy(b.frames, b.frames[1:])
	b.frames = b.frames[:len(b.frames)-1]
	return f, true
}

// Len returns the number of buffered frames
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Cap returns the fixed capacity
func (b *Buffer) Cap() int {
	return b.cap
}

// Dropped returns the number of frames evicted under capacity pressure
func (b *Buffer) Dropped() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

// Offered returns the total number of frames offered
func (b *Buffer) Offered() uint64 {
	return atomic.LoadUint64(&b.offered)
}

// Close wakes any waiting consumer. Subsequent offers are discarded.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.cond.Broadcast()
}
