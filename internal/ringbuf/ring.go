// Package ringbuf holds the fixed-capacity buffers the indicator engine is
// built on: a lock-free SPSC queue of bars for hand-off between goroutines,
// and the float sliding windows indicators keep their state in.
package ringbuf

import (
	"sync/atomic"

	"trading-indicators/internal/model"
)

const cacheLine = 64

// Ring is a single-producer single-consumer queue of bars. Capacity is a
// power of two so the slot index is a mask, not a modulo.
type Ring struct {
	buf  []model.Bar
	mask uint64

	_pad0 [cacheLine]byte
	head  atomic.Uint64 // producer
	_pad1 [cacheLine]byte
	tail  atomic.Uint64 // consumer
	_pad2 [cacheLine]byte

	dropped atomic.Uint64
}

// NewRing creates a ring with capacity rounded up to the next power of two (min 2).
func NewRing(capacity int) *Ring {
	n := nextPow2(capacity)
	if n < 2 {
		n = 2
	}
	return &Ring{
		buf:  make([]model.Bar, n),
		mask: uint64(n - 1),
	}
}

// Push enqueues b. It returns false and counts a drop when the ring is full.
func (r *Ring) Push(b model.Bar) bool {
	head := r.head.Load()
	if head-r.tail.Load() >= uint64(len(r.buf)) {
		r.dropped.Add(1)
		return false
	}
	r.buf[head&r.mask] = b
	r.head.Store(head + 1)
	return true
}

// Pop dequeues the oldest bar.
func (r *Ring) Pop() (model.Bar, bool) {
	tail := r.tail.Load()
	if tail >= r.head.Load() {
		return model.Bar{}, false
	}
	b := r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return b, true
}

// Drain appends every queued bar to dst in FIFO order and returns it.
// Only the consumer goroutine may call it.
func (r *Ring) Drain(dst []model.Bar) []model.Bar {
	tail := r.tail.Load()
	head := r.head.Load()
	for i := tail; i < head; i++ {
		dst = append(dst, r.buf[i&r.mask])
	}
	r.tail.Store(head)
	return dst
}

func (r *Ring) Len() int        { return int(r.head.Load() - r.tail.Load()) }
func (r *Ring) Cap() int        { return len(r.buf) }
func (r *Ring) Dropped() uint64 { return r.dropped.Load() }

func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
