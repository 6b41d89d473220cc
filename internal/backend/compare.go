package backend

import (
	"fmt"
	"math"

	"trading-indicators/internal/indicator"
	"trading-indicators/internal/model"
)

// Tolerance is the largest relative divergence accepted between backends.
const Tolerance = 1e-6

// Divergence summarises a side-by-side run of two implementations.
type Divergence struct {
	Key      string  `json:"key"`
	Bars     int     `json:"bars"`
	Compared int     `json:"compared"` // bars where both were ready
	MaxRel   float64 `json:"max_rel"`
	AtBar    int     `json:"at_bar"`
	Slot     string  `json:"slot"`
}

func (d Divergence) OK() bool { return d.MaxRel <= Tolerance }

func (d Divergence) String() string {
	return fmt.Sprintf("%s: max rel %.3g at bar %d slot %s (%d/%d bars compared)",
		d.Key, d.MaxRel, d.AtBar, d.Slot, d.Compared, d.Bars)
}

// Compare streams the same bars through a and b and reports the largest
// |a-b| / max(1, |b|) once both are ready. A value missing on one side only
// counts as infinite divergence.
func Compare(a, b indicator.Indicator, bars []model.Bar) (Divergence, error) {
	slots := a.Slots()
	if len(slots) != len(b.Slots()) {
		return Divergence{}, fmt.Errorf("compare %s: %d slots vs %d", a.Key(), len(slots), len(b.Slots()))
	}
	d := Divergence{Key: a.Key(), Bars: len(bars), AtBar: -1}
	one := make([]model.Bar, 1)
	for i := range bars {
		one[0] = bars[i]
		a.Update(one, nil, 0, 0)
		b.Update(one, nil, 0, 0)
		if !a.IsReady() || !b.IsReady() {
			continue
		}
		d.Compared++
		av, bv := a.Values(), b.Values()
		for j := range slots {
			rel := relDiff(av[j], bv[j])
			if rel > d.MaxRel || d.AtBar < 0 {
				d.MaxRel, d.AtBar, d.Slot = rel, i, string(slots[j])
			}
		}
	}
	return d, nil
}

func relDiff(a, b float64) float64 {
	am, bm := indicator.IsMissing(a), indicator.IsMissing(b)
	switch {
	case am && bm:
		return 0
	case am || bm:
		return math.Inf(1)
	}
	return math.Abs(a-b) / math.Max(1, math.Abs(b))
}

// CrossValidate builds p on both engines from reg and compares them.
func CrossValidate(reg *Registry, p indicator.Params, bars []model.Bar) (Divergence, error) {
	e, ok := reg.Lookup(p.Type)
	if !ok {
		return Divergence{}, fmt.Errorf("%w: indicator %q", indicator.ErrUnsupportedType, p.Type)
	}
	if e.External == nil {
		return Divergence{}, fmt.Errorf("%w: no external implementation of %s", indicator.ErrBackendUnavailable, p.Type)
	}
	self, err := e.SelfContained(p)
	if err != nil {
		return Divergence{}, err
	}
	ext, err := e.External(p)
	if err != nil {
		return Divergence{}, err
	}
	return Compare(self, ext, bars)
}
