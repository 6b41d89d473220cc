package indicator

import (
	"trading-indicators/internal/model"
	"trading-indicators/internal/ringbuf"
)

var valueSlot = []Slot{"Value"}

// SMA is the simple moving average of closes over a rolling window.
type SMA struct {
	Base
	win *ringbuf.Window
}

func NewSMA(period int) (*SMA, error) {
	if err := checkPeriod("SMA", period, 1); err != nil {
		return nil, err
	}
	s := &SMA{win: ringbuf.NewWindow(period)}
	key := Params{Type: "SMA", Periods: []int{period}}.Key()
	s.Base = NewBase(key, valueSlot, period-1, s.step, s.win.Reset)
	return s, nil
}

func (s *SMA) step(bar model.Bar, dst []float64) {
	s.win.Push(bar.Close)
	dst[0] = s.win.Mean()
}

// EMA is the exponential moving average of closes, seeded with the SMA of
// the first period closes.
type EMA struct {
	Base
	f *Smoother
}

func NewEMA(period int) (*EMA, error) {
	if err := checkPeriod("EMA", period, 1); err != nil {
		return nil, err
	}
	e := &EMA{f: NewSmoother(period, Exponential)}
	key := Params{Type: "EMA", Periods: []int{period}}.Key()
	e.Base = NewBase(key, valueSlot, period-1, e.step, e.f.Reset)
	return e, nil
}

func (e *EMA) step(bar model.Bar, dst []float64) {
	dst[0], _ = e.f.Add(bar.Close)
}

// SMMA is Wilder's smoothed moving average (alpha = 1/period).
type SMMA struct {
	Base
	f *Smoother
}

func NewSMMA(period int) (*SMMA, error) {
	if err := checkPeriod("SMMA", period, 1); err != nil {
		return nil, err
	}
	s := &SMMA{f: NewSmoother(period, Wilder)}
	key := Params{Type: "SMMA", Periods: []int{period}}.Key()
	s.Base = NewBase(key, valueSlot, period-1, s.step, s.f.Reset)
	return s, nil
}

func (s *SMMA) step(bar model.Bar, dst []float64) {
	dst[0], _ = s.f.Add(bar.Close)
}
