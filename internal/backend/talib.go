package backend

import (
	"fmt"

	"trading-indicators/internal/indicator"
	"trading-indicators/internal/model"

	"github.com/markcheno/go-talib"
)

// talib functions are batch: each adapter keeps a price history, recomputes
// over it on every bar and takes the last element. Windowed functions only
// need lookback+1 bars. Recursive ones keep a long history so the seed
// washes out; it is trimmed once it reaches twice settleBars.
const settleBars = 2000

type series struct {
	high, low, close []float64
	keep             int // bars handed to calc, 0 = everything
	limit            int // trim threshold, 0 = never
}

func (s *series) push(b model.Bar) {
	s.high = append(s.high, b.High)
	s.low = append(s.low, b.Low)
	s.close = append(s.close, b.Close)
	if s.limit > 0 && len(s.close) >= 2*s.limit {
		n := len(s.close) - s.limit
		s.high = append(s.high[:0], s.high[n:]...)
		s.low = append(s.low[:0], s.low[n:]...)
		s.close = append(s.close[:0], s.close[n:]...)
	}
}

// view returns the trailing bars calc works on.
func (s *series) view() (h, l, c []float64) {
	n := len(s.close)
	from := 0
	if s.keep > 0 && n > s.keep {
		from = n - s.keep
	}
	return s.high[from:], s.low[from:], s.close[from:]
}

func (s *series) reset() {
	s.high, s.low, s.close = s.high[:0], s.low[:0], s.close[:0]
}

type calcFunc func(h, l, c []float64, dst []float64)

// adapter presents a talib function through the Indicator contract. Key,
// slots and warm-up come from the equivalent self-contained indicator so
// both backends have the same output shape.
type adapter struct {
	indicator.Base
	hist     series
	lookback int
	calc     calcFunc
}

func newAdapter(p indicator.Params, recursive bool, calc calcFunc) (indicator.Indicator, error) {
	ref, err := indicator.New(p)
	if err != nil {
		return nil, err
	}
	lb := ref.MaxLookback()
	a := &adapter{lookback: lb, calc: calc}
	if recursive {
		a.hist.limit = max(settleBars, 50*p.MaxPeriod())
	} else {
		a.hist.keep = lb + 1
		a.hist.limit = lb + 1
	}
	a.Base = indicator.NewBase(ref.Key(), ref.Slots(), lb, a.step, a.hist.reset)
	return a, nil
}

func (a *adapter) step(bar model.Bar, dst []float64) {
	a.hist.push(bar)
	if len(a.hist.close) <= a.lookback {
		return
	}
	h, l, c := a.hist.view()
	a.calc(h, l, c, dst)
}

func last(v []float64) float64 { return v[len(v)-1] }

var talibConstructors = map[string]indicator.Constructor{
	"SMA": func(p indicator.Params) (indicator.Indicator, error) {
		n := p.Period(0, 20)
		return newAdapter(p, false, func(_, _, c, dst []float64) {
			dst[0] = last(talib.Sma(c, n))
		})
	},
	"EMA": func(p indicator.Params) (indicator.Indicator, error) {
		n := p.Period(0, 20)
		return newAdapter(p, true, func(_, _, c, dst []float64) {
			dst[0] = last(talib.Ema(c, n))
		})
	},
	"RSI": func(p indicator.Params) (indicator.Indicator, error) {
		n := p.Period(0, 14)
		return newAdapter(p, true, func(_, _, c, dst []float64) {
			dst[0] = last(talib.Rsi(c, n))
		})
	},
	"MACD": func(p indicator.Params) (indicator.Indicator, error) {
		fast, slow, sig := p.Period(0, 12), p.Period(1, 26), p.Period(2, 9)
		// talib.Macd runs the signal EMA over the zero-filled head of the
		// MACD line, so the line and signal are built from talib.Ema here.
		return newAdapter(p, true, func(_, _, c, dst []float64) {
			ef, es := talib.Ema(c, fast), talib.Ema(c, slow)
			line := make([]float64, len(c)-slow+1)
			for i := range line {
				line[i] = ef[i+slow-1] - es[i+slow-1]
			}
			m, s := last(line), last(talib.Ema(line, sig))
			dst[0], dst[1], dst[2] = m, s, m-s
		})
	},
	"ATR": func(p indicator.Params) (indicator.Indicator, error) {
		n := p.Period(0, 14)
		return newAdapter(p, true, func(h, l, c, dst []float64) {
			dst[0] = last(talib.Atr(h, l, c, n))
		})
	},
	"BBANDS": func(p indicator.Params) (indicator.Indicator, error) {
		n, k := p.Period(0, 20), p.Const("k", 2)
		return newAdapter(p, false, func(_, _, c, dst []float64) {
			u, m, l := talib.BBands(c, n, k, k, talib.SMA)
			dst[0], dst[1], dst[2] = last(u), last(m), last(l)
		})
	},
	"DONCHIAN": func(p indicator.Params) (indicator.Indicator, error) {
		n := p.Period(0, 20)
		return newAdapter(p, false, func(h, l, _, dst []float64) {
			hi, lo := last(talib.Max(h, n)), last(talib.Min(l, n))
			dst[0], dst[1], dst[2] = hi, (hi+lo)/2, lo
		})
	},
	"KELTNER": func(p indicator.Params) (indicator.Indicator, error) {
		emaP, atrP, mult := p.Period(0, 20), p.Period(1, 10), p.Const("mult", 2)
		return newAdapter(p, true, func(h, l, c, dst []float64) {
			mid := last(talib.Ema(c, emaP))
			band := mult * last(talib.Atr(h, l, c, atrP))
			dst[0], dst[1], dst[2] = mid+band, mid, mid-band
		})
	},
	"CHANDELIER": func(p indicator.Params) (indicator.Indicator, error) {
		n, mult := p.Period(0, 22), p.Const("mult", 3)
		return newAdapter(p, true, func(h, l, c, dst []float64) {
			atr := last(talib.Atr(h, l, c, n))
			dst[0] = last(talib.Max(h, n)) - mult*atr
			dst[1] = last(talib.Min(l, n)) + mult*atr
		})
	},
	"STOCH": func(p indicator.Params) (indicator.Indicator, error) {
		k, smooth, d := p.Period(0, 14), p.Period(1, 3), p.Period(2, 3)
		return newAdapter(p, false, func(h, l, c, dst []float64) {
			sk, sd := talib.Stoch(h, l, c, k, smooth, talib.SMA, d, talib.SMA)
			dst[0], dst[1] = last(sk), last(sd)
		})
	},
	"ADX": func(p indicator.Params) (indicator.Indicator, error) {
		n := p.Period(0, 14)
		return newAdapter(p, true, func(h, l, c, dst []float64) {
			dst[0] = last(talib.Adx(h, l, c, n))
			dst[1] = last(talib.PlusDI(h, l, c, n))
			dst[2] = last(talib.MinusDI(h, l, c, n))
		})
	},
	"CCI": func(p indicator.Params) (indicator.Indicator, error) {
		n := p.Period(0, 20)
		return newAdapter(p, false, func(h, l, c, dst []float64) {
			dst[0] = last(talib.Cci(h, l, c, n))
		})
	},
	"SAR": func(p indicator.Params) (indicator.Indicator, error) {
		start, step, maxAF := p.Const("start", 0.02), p.Const("step", 0.02), p.Const("max", 0.2)
		if start != step {
			return nil, fmt.Errorf("%w: talib SAR uses one acceleration for start and step (%v, %v)",
				indicator.ErrBackendUnavailable, start, step)
		}
		return newAdapter(p, true, func(h, l, _, dst []float64) {
			dst[0] = last(talib.Sar(h, l, step, maxAF))
		})
	},
}
