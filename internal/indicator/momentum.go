package indicator

import (
	"math"

	"trading-indicators/internal/model"
	"trading-indicators/internal/ringbuf"
)

// RSI is Wilder's relative strength index. With no gains and no losses in
// the averaging window it reports 50.
type RSI struct {
	Base
	gain, loss *Smoother
	prev       float64
	started    bool
}

func NewRSI(period int) (*RSI, error) {
	if err := checkPeriod("RSI", period, 2); err != nil {
		return nil, err
	}
	r := &RSI{gain: NewSmoother(period, Wilder), loss: NewSmoother(period, Wilder)}
	key := Params{Type: "RSI", Periods: []int{period}}.Key()
	r.Base = NewBase(key, valueSlot, period, r.step, func() {
		r.gain.Reset()
		r.loss.Reset()
		r.prev, r.started = 0, false
	})
	return r, nil
}

func (r *RSI) step(bar model.Bar, dst []float64) {
	if !r.started {
		r.started = true
		r.prev = bar.Close
		return
	}
	change := bar.Close - r.prev
	r.prev = bar.Close
	g, ok := r.gain.Add(max(change, 0))
	l, _ := r.loss.Add(max(-change, 0))
	if ok {
		dst[0] = rsiValue(g, l)
	}
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// MACD is the fast EMA minus the slow EMA, its signal EMA and the histogram.
type MACD struct {
	Base
	fast, slow, signal *Smoother
}

func NewMACD(fast, slow, signal int) (*MACD, error) {
	if err := checkPeriod("MACD fast", fast, 1); err != nil {
		return nil, err
	}
	if err := checkPeriod("MACD signal", signal, 1); err != nil {
		return nil, err
	}
	if slow <= fast {
		return nil, invalidf("MACD slow period %d must exceed fast %d", slow, fast)
	}
	m := &MACD{
		fast:   NewSmoother(fast, Exponential),
		slow:   NewSmoother(slow, Exponential),
		signal: NewSmoother(signal, Exponential),
	}
	key := Params{Type: "MACD", Periods: []int{fast, slow, signal}}.Key()
	m.Base = NewBase(key, []Slot{"MACD", "Signal", "Histogram"}, slow-1+signal-1, m.step, func() {
		m.fast.Reset()
		m.slow.Reset()
		m.signal.Reset()
	})
	return m, nil
}

func (m *MACD) step(bar model.Bar, dst []float64) {
	f, _ := m.fast.Add(bar.Close)
	s, ok := m.slow.Add(bar.Close)
	if !ok {
		return
	}
	line := f - s
	sig, _ := m.signal.Add(line)
	dst[0], dst[1], dst[2] = line, sig, line-sig
}

// Stoch is the slow stochastic oscillator: raw %K over kPeriod bars,
// smoothed by an SMA of kSmooth into %K, and %D as the SMA of %K.
// A flat range reports 50.
type Stoch struct {
	Base
	ch   *ringbuf.Channel
	kWin *ringbuf.Window
	dWin *ringbuf.Window
}

func NewStoch(kPeriod, kSmooth, dPeriod int) (*Stoch, error) {
	for _, c := range []struct {
		name string
		v    int
	}{{"STOCH k", kPeriod}, {"STOCH smooth", kSmooth}, {"STOCH d", dPeriod}} {
		if err := checkPeriod(c.name, c.v, 1); err != nil {
			return nil, err
		}
	}
	s := &Stoch{
		ch:   ringbuf.NewChannel(kPeriod),
		kWin: ringbuf.NewWindow(kSmooth),
		dWin: ringbuf.NewWindow(dPeriod),
	}
	key := Params{Type: "STOCH", Periods: []int{kPeriod, kSmooth, dPeriod}}.Key()
	s.Base = NewBase(key, []Slot{"%K", "%D"}, kPeriod-1+kSmooth-1+dPeriod-1, s.step, func() {
		s.ch.Reset()
		s.kWin.Reset()
		s.dWin.Reset()
	})
	return s, nil
}

func (s *Stoch) step(bar model.Bar, dst []float64) {
	up, lo := s.ch.Push(bar.High, bar.Low)
	if !s.ch.Full() {
		return
	}
	raw := 50.0
	if up > lo {
		raw = 100 * (bar.Close - lo) / (up - lo)
	}
	s.kWin.Push(raw)
	if !s.kWin.Full() {
		return
	}
	k := s.kWin.Mean()
	s.dWin.Push(k)
	dst[0] = k
	dst[1] = s.dWin.Mean()
}

// CCI is the commodity channel index of the typical price.
type CCI struct {
	Base
	win *ringbuf.Window
}

func NewCCI(period int) (*CCI, error) {
	if err := checkPeriod("CCI", period, 2); err != nil {
		return nil, err
	}
	c := &CCI{win: ringbuf.NewWindow(period)}
	key := Params{Type: "CCI", Periods: []int{period}}.Key()
	c.Base = NewBase(key, valueSlot, period-1, c.step, c.win.Reset)
	return c, nil
}

func (c *CCI) step(bar model.Bar, dst []float64) {
	tp := (bar.High + bar.Low + bar.Close) / 3
	c.win.Push(tp)
	if !c.win.Full() {
		return
	}
	mean := c.win.Mean()
	var dev float64
	for i := 0; i < c.win.Len(); i++ {
		dev += math.Abs(c.win.At(i) - mean)
	}
	dev /= float64(c.win.Len())
	if dev == 0 {
		dst[0] = 0
		return
	}
	dst[0] = (tp - mean) / (0.015 * dev)
}
