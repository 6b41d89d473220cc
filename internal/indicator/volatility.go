package indicator

import (
	"math"

	"trading-indicators/internal/model"
	"trading-indicators/internal/ringbuf"
)

var bandSlots = []Slot{"Upper", "Middle", "Lower"}

// trueRange yields max(high-low, |high-prevClose|, |low-prevClose|) from the
// second bar on.
type trueRange struct {
	prevClose float64
	started   bool
}

func (t *trueRange) next(bar model.Bar) (float64, bool) {
	if !t.started {
		t.started = true
		t.prevClose = bar.Close
		return 0, false
	}
	tr := max(bar.High-bar.Low, math.Abs(bar.High-t.prevClose), math.Abs(bar.Low-t.prevClose))
	t.prevClose = bar.Close
	return tr, true
}

func (t *trueRange) reset() { *t = trueRange{} }

// atrCalc is Wilder-smoothed true range, first valid on bar index period.
type atrCalc struct {
	tr trueRange
	f  *Smoother
}

func newATRCalc(period int) *atrCalc {
	return &atrCalc{f: NewSmoother(period, Wilder)}
}

func (a *atrCalc) add(bar model.Bar) (float64, bool) {
	tr, ok := a.tr.next(bar)
	if !ok {
		return math.NaN(), false
	}
	return a.f.Add(tr)
}

func (a *atrCalc) reset() {
	a.tr.reset()
	a.f.Reset()
}

// ATR is the average true range.
type ATR struct {
	Base
	calc *atrCalc
}

func NewATR(period int) (*ATR, error) {
	if err := checkPeriod("ATR", period, 1); err != nil {
		return nil, err
	}
	a := &ATR{calc: newATRCalc(period)}
	key := Params{Type: "ATR", Periods: []int{period}}.Key()
	a.Base = NewBase(key, valueSlot, period, a.step, a.calc.reset)
	return a, nil
}

func (a *ATR) step(bar model.Bar, dst []float64) {
	dst[0], _ = a.calc.add(bar)
}

// BBands are Bollinger bands: SMA of closes plus/minus k population
// standard deviations.
type BBands struct {
	Base
	k   float64
	win *ringbuf.Window
}

func NewBBands(period int, k float64) (*BBands, error) {
	if err := checkPeriod("BBANDS", period, 2); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, invalidf("BBANDS k=%v, need > 0", k)
	}
	b := &BBands{k: k, win: ringbuf.NewWindow(period)}
	key := Params{Type: "BBANDS", Periods: []int{period}, Consts: map[string]float64{"k": k}}.Key()
	b.Base = NewBase(key, bandSlots, period-1, b.step, b.win.Reset)
	return b, nil
}

func (b *BBands) step(bar model.Bar, dst []float64) {
	b.win.Push(bar.Close)
	mid := b.win.Mean()
	dev := b.k * b.win.StdDev()
	dst[0], dst[1], dst[2] = mid+dev, mid, mid-dev
}

// Donchian channel: highest high, midpoint and lowest low over period bars.
type Donchian struct {
	Base
	ch *ringbuf.Channel
}

func NewDonchian(period int) (*Donchian, error) {
	if err := checkPeriod("DONCHIAN", period, 1); err != nil {
		return nil, err
	}
	d := &Donchian{ch: ringbuf.NewChannel(period)}
	key := Params{Type: "DONCHIAN", Periods: []int{period}}.Key()
	d.Base = NewBase(key, bandSlots, period-1, d.step, d.ch.Reset)
	return d, nil
}

func (d *Donchian) step(bar model.Bar, dst []float64) {
	up, lo := d.ch.Push(bar.High, bar.Low)
	dst[0], dst[1], dst[2] = up, (up+lo)/2, lo
}

// Keltner channel: EMA of closes plus/minus mult * ATR.
type Keltner struct {
	Base
	mult float64
	ema  *Smoother
	atr  *atrCalc
}

func NewKeltner(emaPeriod, atrPeriod int, mult float64) (*Keltner, error) {
	if err := checkPeriod("KELTNER ema", emaPeriod, 1); err != nil {
		return nil, err
	}
	if err := checkPeriod("KELTNER atr", atrPeriod, 1); err != nil {
		return nil, err
	}
	if mult <= 0 {
		return nil, invalidf("KELTNER mult=%v, need > 0", mult)
	}
	k := &Keltner{mult: mult, ema: NewSmoother(emaPeriod, Exponential), atr: newATRCalc(atrPeriod)}
	key := Params{Type: "KELTNER", Periods: []int{emaPeriod, atrPeriod}, Consts: map[string]float64{"mult": mult}}.Key()
	k.Base = NewBase(key, bandSlots, max(emaPeriod-1, atrPeriod), k.step, func() {
		k.ema.Reset()
		k.atr.reset()
	})
	return k, nil
}

func (k *Keltner) step(bar model.Bar, dst []float64) {
	mid, _ := k.ema.Add(bar.Close)
	atr, _ := k.atr.add(bar)
	dst[0], dst[1], dst[2] = mid+k.mult*atr, mid, mid-k.mult*atr
}

// Chandelier exit: trailing stops hung from the period extremes by mult * ATR.
type Chandelier struct {
	Base
	mult float64
	ch   *ringbuf.Channel
	atr  *atrCalc
}

func NewChandelier(period int, mult float64) (*Chandelier, error) {
	if err := checkPeriod("CHANDELIER", period, 1); err != nil {
		return nil, err
	}
	if mult <= 0 {
		return nil, invalidf("CHANDELIER mult=%v, need > 0", mult)
	}
	c := &Chandelier{mult: mult, ch: ringbuf.NewChannel(period), atr: newATRCalc(period)}
	key := Params{Type: "CHANDELIER", Periods: []int{period}, Consts: map[string]float64{"mult": mult}}.Key()
	c.Base = NewBase(key, []Slot{"Long", "Short"}, period, c.step, func() {
		c.ch.Reset()
		c.atr.reset()
	})
	return c, nil
}

func (c *Chandelier) step(bar model.Bar, dst []float64) {
	up, lo := c.ch.Push(bar.High, bar.Low)
	atr, _ := c.atr.add(bar)
	dst[0] = up - c.mult*atr
	dst[1] = lo + c.mult*atr
}
