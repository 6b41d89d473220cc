package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"trading-indicators/internal/model"
)

type recordingSink struct {
	fail    bool
	written []int64
}

func (s *recordingSink) write(_ context.Context, outs []model.Output) error {
	if s.fail {
		return errors.New("connection refused")
	}
	for _, o := range outs {
		s.written = append(s.written, o.TS)
	}
	return nil
}

func rows(ts ...int64) []model.Output {
	out := make([]model.Output, len(ts))
	for i, t := range ts {
		out[i] = model.Output{Key: "SMA(2)", Symbol: "SBIN", TF: 60, TS: t, Ready: true}
	}
	return out
}

func TestBufferedWriter_BuffersAndFlushesInOrder(t *testing.T) {
	cb, clk := newTestBreaker(2, time.Second)
	sink := &recordingSink{fail: true}
	bw := NewBufferedWriterFunc(sink.write, cb, 100)
	var flushed int
	bw.OnFlush = func(n int) { flushed = n }
	ctx := context.Background()

	bw.WriteOutputBatch(ctx, rows(1))
	bw.WriteOutputBatch(ctx, rows(2))
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected open, got %v", cb.CurrentState())
	}
	if err := bw.WriteOutputBatch(ctx, rows(3)); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if bw.PendingCount() != 3 {
		t.Fatalf("pending %d, want 3", bw.PendingCount())
	}

	sink.fail = false
	clk.advance(time.Second)
	if err := bw.WriteOutputBatch(ctx, rows(4)); err != nil {
		t.Fatal(err)
	}
	want := []int64{1, 2, 3, 4}
	if len(sink.written) != len(want) {
		t.Fatalf("written %v, want %v", sink.written, want)
	}
	for i := range want {
		if sink.written[i] != want[i] {
			t.Fatalf("written %v, want %v", sink.written, want)
		}
	}
	if flushed != 3 || bw.PendingCount() != 0 || bw.State() != StateClosed {
		t.Errorf("flushed %d pending %d state %v", flushed, bw.PendingCount(), bw.State())
	}
}

func TestBufferedWriter_DropsOldestWhenFull(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Hour)
	sink := &recordingSink{fail: true}
	bw := NewBufferedWriterFunc(sink.write, cb, 3)
	var dropped int
	bw.OnDrop = func(n int) { dropped += n }
	ctx := context.Background()

	bw.WriteOutputBatch(ctx, rows(1, 2))
	bw.WriteOutputBatch(ctx, rows(3, 4))
	bw.WriteOutputBatch(ctx, rows(5))

	if bw.PendingCount() != 3 || bw.Dropped() != 2 || dropped != 2 {
		t.Fatalf("pending %d dropped %d/%d", bw.PendingCount(), bw.Dropped(), dropped)
	}
	bw.mu.Lock()
	first := bw.buffer[0].TS
	bw.mu.Unlock()
	if first != 3 {
		t.Errorf("oldest kept row ts=%d, want 3", first)
	}
}

func TestBufferedWriter_RunOutputs(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	sink := &recordingSink{}
	bw := NewBufferedWriterFunc(sink.write, cb, 10)

	ch := make(chan model.Output, 4)
	for _, o := range rows(1, 2, 3) {
		ch <- o
	}
	close(ch)
	bw.RunOutputs(context.Background(), ch)

	if len(sink.written) != 3 || sink.written[2] != 3 {
		t.Errorf("written %v", sink.written)
	}
}
