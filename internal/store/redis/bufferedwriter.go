package redis

import (
	"context"
	"log"
	"sync"
	"time"

	"trading-indicators/internal/model"
)

// BufferedWriter wraps a Writer with a circuit breaker. While Redis is
// failing, rows are kept in a bounded local buffer and written ahead of the
// next batch once a write succeeds again.
type BufferedWriter struct {
	write func(context.Context, []model.Output) error
	cb    *CircuitBreaker

	mu      sync.Mutex
	buffer  []model.Output
	maxBuf  int
	dropped int

	OnBuffer func(n int)     // rows buffered after a failed or rejected write
	OnFlush  func(count int) // buffered rows written
	OnDrop   func(n int)     // rows evicted from a full buffer
	OnWrite  func(d time.Duration)
}

// NewBufferedWriter creates a BufferedWriter over w. maxBufferSize bounds
// the number of rows held while the circuit is open (default 10000).
func NewBufferedWriter(w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	return NewBufferedWriterFunc(w.writeOutputs, cb, maxBufferSize)
}

// NewBufferedWriterFunc buffers writes made through an arbitrary write
// function.
func NewBufferedWriterFunc(write func(context.Context, []model.Output) error, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	return &BufferedWriter{
		write:  write,
		cb:     cb,
		buffer: make([]model.Output, 0, 256),
		maxBuf: maxBufferSize,
	}
}

// WriteOutputBatch writes any buffered rows followed by outs. On failure
// everything is buffered again; only the oldest rows are lost when the
// buffer overflows.
func (bw *BufferedWriter) WriteOutputBatch(ctx context.Context, outs []model.Output) error {
	bw.mu.Lock()
	pending := bw.buffer
	bw.buffer = make([]model.Output, 0, 256)
	bw.mu.Unlock()

	batch := outs
	if len(pending) > 0 {
		batch = append(pending, outs...)
	}
	start := time.Now()
	err := bw.cb.Execute(func() error { return bw.write(ctx, batch) })
	if err == nil && bw.OnWrite != nil {
		bw.OnWrite(time.Since(start))
	}
	if err != nil {
		bw.bufferRows(batch)
		if err != ErrCircuitOpen {
			log.Printf("[buffered-writer] write failed, buffered %d rows: %v", len(batch), err)
		}
		return err
	}
	if len(pending) > 0 {
		log.Printf("[buffered-writer] flushed %d buffered rows", len(pending))
		if bw.OnFlush != nil {
			bw.OnFlush(len(pending))
		}
	}
	return nil
}

func (bw *BufferedWriter) bufferRows(rows []model.Output) {
	bw.mu.Lock()
	// rows written meanwhile by another caller go after the failed batch
	merged := make([]model.Output, 0, len(rows)+len(bw.buffer))
	merged = append(merged, rows...)
	merged = append(merged, bw.buffer...)
	drop := 0
	if len(merged) > bw.maxBuf {
		drop = len(merged) - bw.maxBuf
		merged = merged[drop:]
		bw.dropped += drop
	}
	bw.buffer = merged
	bw.mu.Unlock()

	if bw.OnBuffer != nil {
		bw.OnBuffer(len(rows) - drop)
	}
	if drop > 0 && bw.OnDrop != nil {
		bw.OnDrop(drop)
	}
}

// RunOutputs drains outCh in batches through WriteOutputBatch until ctx is
// cancelled or the channel is closed.
func (bw *BufferedWriter) RunOutputs(ctx context.Context, outCh <-chan model.Output) {
	batch := make([]model.Output, 0, 256)
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-outCh:
			if !ok {
				return
			}
			batch = append(batch[:0], o)
		drain:
			for len(batch) < cap(batch) {
				select {
				case o, ok := <-outCh:
					if !ok {
						break drain
					}
					batch = append(batch, o)
				default:
					break drain
				}
			}
			// the slice is retained by the buffer on failure
			rows := make([]model.Output, len(batch))
			copy(rows, batch)
			bw.WriteOutputBatch(ctx, rows)
		}
	}
}

// PendingCount returns the number of rows waiting to be written.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Dropped returns how many rows were evicted from a full buffer.
func (bw *BufferedWriter) Dropped() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.dropped
}

func (bw *BufferedWriter) State() State { return bw.cb.CurrentState() }
