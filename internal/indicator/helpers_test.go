package indicator

import (
	"math"
	"math/rand"
	"testing"

	"trading-indicators/internal/model"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// closeBar is a bar whose open, high, low and close are all c.
func closeBar(i int, c float64) model.Bar {
	return model.Bar{Symbol: "TEST", TF: 60, TS: int64(i) * 60, Open: c, High: c, Low: c, Close: c}
}

func hlcBar(i int, h, l, c float64) model.Bar {
	return model.Bar{Symbol: "TEST", TF: 60, TS: int64(i) * 60, Open: c, High: h, Low: l, Close: c}
}

func closes(vals ...float64) []model.Bar {
	bars := make([]model.Bar, len(vals))
	for i, v := range vals {
		bars[i] = closeBar(i, v)
	}
	return bars
}

// noisySeries is a trending sine wave with gaussian noise and realistic
// high/low wicks.
func noisySeries(n int, seed int64) []model.Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]model.Bar, n)
	for i := range bars {
		base := 100 + 10*math.Sin(float64(i)/9) + 0.05*float64(i)
		c := base + rng.NormFloat64()
		o := c + rng.NormFloat64()*0.5
		h := max(o, c) + rng.Float64()*1.5 + 0.01
		l := min(o, c) - rng.Float64()*1.5 - 0.01
		bars[i] = model.Bar{
			Symbol: "TEST", TF: 60, TS: int64(i) * 60,
			Open: o, High: h, Low: l, Close: c,
			Volume: 1000 + rng.Float64()*100,
		}
	}
	return bars
}

// runAll feeds bars one at a time and returns one row per bar.
func runAll(ind Indicator, bars []model.Bar) [][]float64 {
	rows := make([][]float64, len(bars))
	for i := range bars {
		ind.Update(bars[i:i+1], nil, 0, 0)
		rows[i] = append([]float64(nil), ind.Values()...)
	}
	return rows
}

func sameFloat(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return a == b
}

func mustNew(t *testing.T, p Params) Indicator {
	t.Helper()
	ind, err := New(p)
	if err != nil {
		t.Fatalf("New(%s): %v", p.Key(), err)
	}
	return ind
}
