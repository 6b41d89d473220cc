package engine

import (
	"context"
	"fmt"
	"log"

	"trading-indicators/internal/model"
)

// DefaultChunk is the number of bars requested per ReadBars call.
const DefaultChunk = 5000

// Warmup replays stored history for each series through the engine, one
// chunk at a time, starting after the last bar the engine already has.
// emit, when set, receives the rows produced by each chunk. It returns the
// number of bars processed.
func (e *Engine) Warmup(ctx context.Context, r model.BarReader, series []model.SeriesKey, chunk int, emit func([]model.Output)) (int, error) {
	if chunk <= 0 {
		chunk = DefaultChunk
	}
	total := 0
	for _, key := range series {
		if _, ok := e.tfIndexOf(key.TF); !ok {
			continue
		}
		after := e.LastTS(key)
		n := 0
		for {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			bars, err := r.ReadBars(ctx, key.Symbol, key.TF, after, chunk)
			if err != nil {
				return total, fmt.Errorf("warmup %s: %w", key, err)
			}
			var outs []model.Output
			for _, bar := range bars {
				outs = append(outs, e.Process(bar)...)
			}
			if emit != nil && len(outs) > 0 {
				emit(outs)
			}
			n += len(bars)
			if len(bars) < chunk {
				break
			}
			after = bars[len(bars)-1].TS
		}
		if n > 0 {
			e.markReplayed(key)
			log.Printf("[engine] warmed %s with %d bars", key, n)
		}
		total += n
	}
	return total, nil
}

func (e *Engine) markReplayed(key model.SeriesKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if set := e.lookup(key); set != nil {
		set.replayedTS = set.lastTS
	}
}

func (e *Engine) tfIndexOf(tf int) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.tfIndex[tf]
	return i, ok
}
