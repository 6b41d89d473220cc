package indicator

import "trading-indicators/internal/model"

// StepFunc advances indicator state by one bar and writes the resulting row
// into dst. Rows written during warm-up are overwritten with Missing.
type StepFunc func(bar model.Bar, dst []float64)

type subscription struct {
	id int
	fn Observer
}

// Base carries the bookkeeping every indicator shares: warm-up counting,
// row emission with skip/out handling, and subscribers. Concrete indicators
// embed it and supply a StepFunc.
type Base struct {
	key      string
	slots    []Slot
	lookback int
	step     StepFunc
	clear    func()

	n      int
	values []float64

	subs   []subscription
	nextID int
}

// NewBase wires a StepFunc and an optional clear func into the shared
// contract. clear resets the embedding indicator's own state.
func NewBase(key string, slots []Slot, lookback int, step StepFunc, clear func()) Base {
	b := Base{
		key:      key,
		slots:    slots,
		lookback: lookback,
		step:     step,
		clear:    clear,
		values:   make([]float64, len(slots)),
	}
	fillMissing(b.values)
	return b
}

func (b *Base) Key() string       { return b.key }
func (b *Base) Slots() []Slot     { return b.slots }
func (b *Base) MaxLookback() int  { return b.lookback }
func (b *Base) IsReady() bool     { return b.n > b.lookback }
func (b *Base) Values() []float64 { return b.values }

// Count is the number of bars consumed since construction or Reset.
func (b *Base) Count() int { return b.n }

func (b *Base) Update(bars []model.Bar, out []float64, start, skip int) int {
	width := len(b.slots)
	rows := 0
	for i := range bars {
		b.step(bars[i], b.values)
		b.n++
		if b.n <= b.lookback {
			fillMissing(b.values)
		} else {
			for _, s := range b.subs {
				s.fn(bars[i], b.values)
			}
		}

		if skip > 0 {
			skip--
			continue
		}
		if out != nil {
			copy(out[start:start+width], b.values)
			start += width
			rows++
		}
	}
	return rows
}

func (b *Base) Reset() {
	b.n = 0
	fillMissing(b.values)
	if b.clear != nil {
		b.clear()
	}
}

func (b *Base) Subscribe(fn Observer) func() {
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	return func() {
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

func fillMissing(v []float64) {
	for i := range v {
		v[i] = Missing
	}
}
