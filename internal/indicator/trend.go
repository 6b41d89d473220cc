package indicator

import (
	"math"

	"trading-indicators/internal/model"
)

// ADX is Wilder's average directional index with the +DI and -DI lines.
// True range and directional movement use the TA-Lib seed (see
// NewDMSmoother); a bar with no directional movement leaves ADX unchanged.
type ADX struct {
	Base
	tr           trueRange
	trS          *Smoother
	plusS        *Smoother
	minusS       *Smoother
	dxS          *Smoother
	prevH, prevL float64
	started      bool
}

func NewADX(period int) (*ADX, error) {
	if err := checkPeriod("ADX", period, 2); err != nil {
		return nil, err
	}
	a := &ADX{
		trS:    NewDMSmoother(period),
		plusS:  NewDMSmoother(period),
		minusS: NewDMSmoother(period),
		dxS:    NewSmoother(period, Wilder),
	}
	key := Params{Type: "ADX", Periods: []int{period}}.Key()
	a.Base = NewBase(key, []Slot{"ADX", "+DI", "-DI"}, 2*period-1, a.step, func() {
		a.tr.reset()
		a.trS.Reset()
		a.plusS.Reset()
		a.minusS.Reset()
		a.dxS.Reset()
		a.prevH, a.prevL, a.started = 0, 0, false
	})
	return a, nil
}

func (a *ADX) step(bar model.Bar, dst []float64) {
	tr, ok := a.tr.next(bar)
	if !a.started || !ok {
		a.started = true
		a.prevH, a.prevL = bar.High, bar.Low
		return
	}
	up := bar.High - a.prevH
	down := a.prevL - bar.Low
	a.prevH, a.prevL = bar.High, bar.Low

	var plusDM, minusDM float64
	if up > down && up > 0 {
		plusDM = up
	}
	if down > up && down > 0 {
		minusDM = down
	}

	str, seeded := a.trS.Add(tr)
	sp, _ := a.plusS.Add(plusDM)
	sm, _ := a.minusS.Add(minusDM)
	if !seeded {
		return
	}

	var plusDI, minusDI, dx float64
	if str > 0 {
		plusDI = 100 * sp / str
		minusDI = 100 * sm / str
	}
	sum := plusDI + minusDI
	if sum > 0 {
		dx = 100 * math.Abs(plusDI-minusDI) / sum
	}
	adx := a.dxS.Value()
	if sum > 0 || !a.dxS.Seeded() {
		adx, _ = a.dxS.Add(dx)
	}
	dst[0], dst[1], dst[2] = adx, plusDI, minusDI
}

// SAR is Wilder's parabolic stop-and-reverse. The acceleration factor is the
// regime offset: it starts at start, grows by step on every new extreme and
// is capped at maxAF. The second bar picks the initial direction: short when
// its low dropped further than its high rose, long otherwise.
type SAR struct {
	Base
	reg               *Regime
	sar               float64
	prevHigh, prevLow float64
	seen              bool
}

func NewSAR(start, step, maxAF float64) (*SAR, error) {
	if start <= 0 || step <= 0 {
		return nil, invalidf("SAR start=%v step=%v, need > 0", start, step)
	}
	reg, err := NewRegime(RegimeConfig{Floor: start, Ceiling: maxAF, Increment: step})
	if err != nil {
		return nil, err
	}
	s := &SAR{reg: reg}
	key := Params{Type: "SAR", Consts: map[string]float64{"start": start, "step": step, "max": maxAF}}.Key()
	s.Base = NewBase(key, []Slot{"SAR"}, 1, s.step, func() {
		s.reg.Reset()
		s.sar, s.prevHigh, s.prevLow, s.seen = 0, 0, 0, false
	})
	return s, nil
}

func (s *SAR) step(bar model.Bar, dst []float64) {
	if !s.seen {
		s.seen = true
		s.prevHigh, s.prevLow = bar.High, bar.Low
		return
	}
	if !s.reg.Started() {
		if down := s.prevLow - bar.Low; down > 0 && down > bar.High-s.prevHigh {
			s.reg.Seed(Short, bar.Low)
			s.sar = s.prevHigh
		} else {
			s.reg.Seed(Long, bar.High)
			s.sar = s.prevLow
		}
		s.prevHigh, s.prevLow = bar.High, bar.Low
	}

	ep := s.reg.Extreme()
	if s.reg.Step(bar.High, bar.Low, s.sar, true) {
		// the reversal stop is the old extreme, kept outside the last two bars
		if s.reg.Direction() == Short {
			s.sar = max(ep, bar.High, s.prevHigh)
		} else {
			s.sar = min(ep, bar.Low, s.prevLow)
		}
	}
	dst[0] = s.sar

	next := s.sar + s.reg.Offset()*(s.reg.Extreme()-s.sar)
	if s.reg.Direction() == Long {
		next = min(next, bar.Low, s.prevLow)
	} else {
		next = max(next, bar.High, s.prevHigh)
	}
	s.sar = next
	s.prevHigh, s.prevLow = bar.High, bar.Low
}

// Supertrend trails an ATR band below price in an uptrend and above it in a
// downtrend, flipping when the close touches the active band.
type Supertrend struct {
	Base
	mult         float64
	atr          *atrCalc
	reg          *Regime
	upper, lower float64
	prevClose    float64
}

func NewSupertrend(atrPeriod int, mult float64) (*Supertrend, error) {
	if err := checkPeriod("SUPERTREND", atrPeriod, 1); err != nil {
		return nil, err
	}
	if mult <= 0 {
		return nil, invalidf("SUPERTREND mult=%v, need > 0", mult)
	}
	reg, _ := NewRegime(RegimeConfig{})
	s := &Supertrend{mult: mult, atr: newATRCalc(atrPeriod), reg: reg}
	key := Params{Type: "SUPERTREND", Periods: []int{atrPeriod}, Consts: map[string]float64{"mult": mult}}.Key()
	s.Base = NewBase(key, []Slot{"Supertrend", "Direction"}, atrPeriod, s.step, func() {
		s.atr.reset()
		s.reg.Reset()
		s.upper, s.lower, s.prevClose = 0, 0, 0
	})
	return s, nil
}

func (s *Supertrend) step(bar model.Bar, dst []float64) {
	atr, ok := s.atr.add(bar)
	if !ok {
		s.prevClose = bar.Close
		return
	}
	mid := (bar.High + bar.Low) / 2
	basicUpper := mid + s.mult*atr
	basicLower := mid - s.mult*atr

	if !s.reg.Started() {
		s.upper, s.lower = basicUpper, basicLower
		s.reg.Start(bar.Close, bar.Close)
	} else {
		if basicUpper < s.upper || s.prevClose > s.upper {
			s.upper = basicUpper
		}
		if basicLower > s.lower || s.prevClose < s.lower {
			s.lower = basicLower
		}
		stop := s.lower
		if s.reg.Direction() == Short {
			stop = s.upper
		}
		s.reg.Step(bar.Close, bar.Close, stop, true)
	}
	s.prevClose = bar.Close

	if s.reg.Direction() == Long {
		dst[0], dst[1] = s.lower, float64(Long)
	} else {
		dst[0], dst[1] = s.upper, float64(Short)
	}
}

// ZigZag follows swings of at least pct percent. A reversal needs the leg,
// counting the reversing bar, to be at least minBars long; each reversal confirms the previous extreme as a
// pivot. Before the first reversal Pivot holds the first close.
type ZigZag struct {
	Base
	pct     float64
	minBars int
	reg     *Regime
	pivot   float64
}

func NewZigZag(minBars int, pct float64) (*ZigZag, error) {
	if err := checkPeriod("ZIGZAG min bars", minBars, 1); err != nil {
		return nil, err
	}
	if pct <= 0 || pct >= 100 {
		return nil, invalidf("ZIGZAG pct=%v, need 0 < pct < 100", pct)
	}
	reg, _ := NewRegime(RegimeConfig{})
	z := &ZigZag{pct: pct, minBars: minBars, reg: reg}
	key := Params{Type: "ZIGZAG", Periods: []int{minBars}, Consts: map[string]float64{"pct": pct}}.Key()
	z.Base = NewBase(key, []Slot{"Direction", "Extreme", "Pivot"}, 0, z.step, func() {
		z.reg.Reset()
		z.pivot = 0
	})
	return z, nil
}

func (z *ZigZag) step(bar model.Bar, dst []float64) {
	if !z.reg.Started() {
		z.reg.Start(bar.High, bar.Low)
		z.pivot = bar.Close
	} else {
		ext := z.reg.Extreme()
		stop := ext * (1 - z.pct/100)
		if z.reg.Direction() == Short {
			stop = ext * (1 + z.pct/100)
		}
		// the leg length counts this bar
		if z.reg.Step(bar.High, bar.Low, stop, z.reg.LegBars()+1 >= z.minBars) {
			z.pivot = ext
		}
	}
	dst[0] = float64(z.reg.Direction())
	dst[1] = z.reg.Extreme()
	dst[2] = z.pivot
}
