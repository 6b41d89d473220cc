package indicator

import (
	"math"
	"sort"

	"trading-indicators/internal/model"
	"trading-indicators/internal/ringbuf"
)

// KNNConfig configures the k-nearest-neighbour pattern classifier.
type KNNConfig struct {
	K          int      // neighbours per vote
	Horizon    int      // bars until a sample's label is known
	History    int      // labelled samples kept, oldest evicted first
	NormWindow int      // bars in each feature's rolling min/max
	Threshold  float64  // forward return beyond +/-Threshold labels +1/-1
	Features   []Params // slot 0 of each is one feature
}

// DefaultKNNFeatures is RSI(14), CCI(20), ADX(14), RSI(9).
func DefaultKNNFeatures() []Params {
	return []Params{
		{Type: "RSI", Periods: []int{14}},
		{Type: "CCI", Periods: []int{20}},
		{Type: "ADX", Periods: []int{14}},
		{Type: "RSI", Periods: []int{9}},
	}
}

type knnSample struct {
	vec   []float64
	close float64
	label int
}

// KNN predicts the direction of the next Horizon bars by majority vote of
// the K labelled samples nearest to the current feature vector under
// Lorentzian distance sum(ln(1+|a_i-b_i|)).
//
// Samples only become neighbours once their label is known. With no
// labelled history, or a tied vote, the prediction is 0 with confidence 0.
type KNN struct {
	Base
	cfg      KNNConfig
	features []Indicator
	norms    []*ringbuf.Window

	pending []knnSample // FIFO of unlabelled samples, at most Horizon long
	hist    []knnSample // circular labelled history
	histPos int

	scratch []neighbour
	one     [1]model.Bar
}

type neighbour struct {
	dist  float64
	label int
}

func NewKNN(cfg KNNConfig) (*KNN, error) {
	if cfg.K < 1 || cfg.Horizon < 1 || cfg.History < 1 || cfg.NormWindow < 1 {
		return nil, invalidf("KNN k=%d horizon=%d history=%d norm=%d, all need >= 1",
			cfg.K, cfg.Horizon, cfg.History, cfg.NormWindow)
	}
	if cfg.Threshold < 0 {
		return nil, invalidf("KNN threshold %v is negative", cfg.Threshold)
	}
	if len(cfg.Features) == 0 {
		cfg.Features = DefaultKNNFeatures()
	}

	k := &KNN{cfg: cfg}
	lookback := 0
	for _, fp := range cfg.Features {
		if t := normType(fp.Type); t == "KNN" {
			return nil, invalidf("KNN cannot use itself as a feature")
		}
		f, err := New(fp)
		if err != nil {
			return nil, err
		}
		k.features = append(k.features, f)
		k.norms = append(k.norms, ringbuf.NewWindow(cfg.NormWindow))
		lookback = max(lookback, f.MaxLookback())
	}

	key := Params{
		Type:    "KNN",
		Periods: []int{cfg.K, cfg.Horizon, cfg.History, cfg.NormWindow},
		Consts:  map[string]float64{"threshold": cfg.Threshold},
	}.Key()
	k.Base = NewBase(key, []Slot{"Prediction", "Confidence", "Neighbors"}, lookback, k.step, k.clear)
	return k, nil
}

func (k *KNN) clear() {
	for i, f := range k.features {
		f.Reset()
		k.norms[i].Reset()
	}
	k.pending = k.pending[:0]
	k.hist = k.hist[:0]
	k.histPos = 0
}

func (k *KNN) step(bar model.Bar, dst []float64) {
	k.one[0] = bar
	ready := true
	for _, f := range k.features {
		f.Update(k.one[:], nil, 0, 0)
		ready = ready && f.IsReady()
	}
	if !ready {
		return
	}

	vec := make([]float64, len(k.features))
	for i, f := range k.features {
		raw := f.Values()[0]
		w := k.norms[i]
		w.Push(raw)
		lo, _ := w.Min()
		hi, _ := w.Max()
		if hi > lo {
			vec[i] = (raw - lo) / (hi - lo)
		} else {
			vec[i] = 0.5
		}
	}

	if len(k.pending) == k.cfg.Horizon {
		s := k.pending[0]
		k.pending = append(k.pending[:0], k.pending[1:]...)
		s.label = k.labelFor(s.close, bar.Close)
		k.remember(s)
	}
	k.pending = append(k.pending, knnSample{vec: vec, close: bar.Close})

	pred, conf, used := k.classify(vec)
	dst[0], dst[1], dst[2] = float64(pred), conf, float64(used)
}

func (k *KNN) labelFor(then, now float64) int {
	if then == 0 {
		return 0
	}
	ret := now/then - 1
	switch {
	case ret > k.cfg.Threshold:
		return 1
	case ret < -k.cfg.Threshold:
		return -1
	}
	return 0
}

func (k *KNN) remember(s knnSample) {
	if len(k.hist) < k.cfg.History {
		k.hist = append(k.hist, s)
		return
	}
	k.hist[k.histPos] = s
	k.histPos = (k.histPos + 1) % k.cfg.History
}

func (k *KNN) classify(vec []float64) (pred int, conf float64, used int) {
	if len(k.hist) == 0 {
		return 0, 0, 0
	}
	k.scratch = k.scratch[:0]
	for _, s := range k.hist {
		k.scratch = append(k.scratch, neighbour{dist: lorentzian(vec, s.vec), label: s.label})
	}
	used = min(k.cfg.K, len(k.scratch))
	if used < len(k.scratch) {
		sort.Slice(k.scratch, func(i, j int) bool { return k.scratch[i].dist < k.scratch[j].dist })
	}

	var votes [3]int // -1, 0, +1
	for _, n := range k.scratch[:used] {
		votes[n.label+1]++
	}
	best, bestVotes, tied := 0, -1, false
	for i, v := range votes {
		switch {
		case v > bestVotes:
			best, bestVotes, tied = i-1, v, false
		case v == bestVotes:
			tied = true
		}
	}
	if tied {
		return 0, 0, used
	}
	return best, float64(bestVotes) / float64(used), used
}

func lorentzian(a, b []float64) float64 {
	var d float64
	for i := range a {
		d += math.Log1p(math.Abs(a[i] - b[i]))
	}
	return d
}
