package indengine

import (
	"context"
	"log/slog"
	"time"

	"trading-indicators/internal/engine"
	"trading-indicators/internal/indicator"
	"trading-indicators/internal/logger"
	"trading-indicators/internal/model"
	"trading-indicators/internal/ringbuf"

	"golang.org/x/time/rate"
)

// defaultSlowBar is the per-bar compute time worth a warning.
const defaultSlowBar = 50 * time.Millisecond

// barPipe hands bars from the stream consumer to the compute loop through
// an SPSC ring. The consumer side waits while the ring is full, so bars
// that were already acknowledged upstream are never dropped here.
type barPipe struct {
	ring   *ringbuf.Ring
	notify chan struct{}

	// OnFull is called each time the producer finds the ring full.
	OnFull func()
	// OnBatch sees every drained batch before it is computed. The slice is
	// reused afterwards.
	OnBatch func([]model.Bar)
	// SlowBar is the compute time above which a bar is logged; 0 disables.
	SlowBar time.Duration

	log     *slog.Logger
	limiter *rate.Limiter
}

func newBarPipe(capacity int) *barPipe {
	return &barPipe{
		ring:    ringbuf.NewRing(capacity),
		notify:  make(chan struct{}, 1),
		SlowBar: defaultSlowBar,
		log:     slog.Default().With(slog.String("component", "pipeline")),
		limiter: rate.NewLimiter(rate.Every(5*time.Second), 2),
	}
}

// feed moves bars from in to the ring until ctx is done or in is closed.
// It is the ring's only producer.
func (p *barPipe) feed(ctx context.Context, in <-chan model.Bar) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-in:
			if !ok {
				return
			}
			for !p.ring.Push(b) {
				if p.OnFull != nil {
					p.OnFull()
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(200 * time.Microsecond):
				}
			}
			select {
			case p.notify <- struct{}{}:
			default:
			}
		}
	}
}

// computeStats is what one drained batch produced.
type computeStats struct {
	Bars     int
	Self     int // rows sent, by backend
	External int
	Dropped  int
	Elapsed  time.Duration
}

// compute drains the ring into eng and sends rows to out, dropping rows when
// out is full. It is the ring's only consumer.
func (p *barPipe) compute(ctx context.Context, eng *engine.Engine, out chan<- model.Output, observe func(computeStats)) {
	batch := make([]model.Bar, 0, 256)
	for {
		batch = p.ring.Drain(batch[:0])
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-p.notify:
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		if p.OnBatch != nil {
			p.OnBatch(batch)
		}
		for i := range batch {
			bar := batch[i]
			bctx := logger.WithTraceID(ctx, logger.GenerateTraceID(bar.Key(), time.Unix(bar.TS, 0)))
			st := computeStats{Bars: 1}
			start := time.Now()
			rows := eng.Process(bar)
			st.Elapsed = time.Since(start)
			for _, r := range rows {
				select {
				case out <- r:
					if r.Backend == indicator.External.String() {
						st.External++
					} else {
						st.Self++
					}
				default:
					st.Dropped++
				}
			}
			p.warn(bctx, st)
			if observe != nil {
				observe(st)
			}
		}
	}
}

// warn logs, rate-limited, a bar whose rows did not all fit into out or
// that took longer than SlowBar.
func (p *barPipe) warn(ctx context.Context, st computeStats) {
	slow := p.SlowBar > 0 && st.Elapsed > p.SlowBar
	if st.Dropped == 0 && !slow {
		return
	}
	if !p.limiter.Allow() {
		return
	}
	attrs := append(logger.LogWithTrace(ctx),
		slog.Int("dropped_rows", st.Dropped),
		slog.Duration("elapsed", st.Elapsed))
	if st.Dropped > 0 {
		p.log.Warn("output channel full, rows dropped", attrs...)
		return
	}
	p.log.Warn("slow bar", attrs...)
}
