package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"trading-indicators/internal/backend"
	"trading-indicators/internal/indicator"
	"trading-indicators/internal/model"
)

func newSelector() *backend.Selector {
	return backend.NewSelector(backend.DefaultRegistry(), backend.DefaultPolicy(),
		backend.Capabilities{External: true}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func mustEngine(t *testing.T, configs []TFConfig) *Engine {
	t.Helper()
	e, err := New(configs, newSelector())
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func makeBar(symbol string, tf int, ts int64, c float64) model.Bar {
	return model.Bar{Symbol: symbol, TF: tf, TS: ts, Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 100}
}

// memReader serves bars from memory with the chunked BarReader contract.
type memReader struct {
	bars  map[model.SeriesKey][]model.Bar
	calls int
}

func (m *memReader) ReadBars(_ context.Context, symbol string, tf int, afterTS int64, limit int) ([]model.Bar, error) {
	m.calls++
	var out []model.Bar
	for _, b := range m.bars[model.SeriesKey{Symbol: symbol, TF: tf}] {
		if b.TS > afterTS {
			out = append(out, b)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memReader) ListSeries(context.Context) ([]model.SeriesKey, error) {
	var keys []model.SeriesKey
	for k := range m.bars {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *memReader) Close() error { return nil }

func rampBars(symbol string, tf, n int) []model.Bar {
	bars := make([]model.Bar, n)
	for i := range bars {
		bars[i] = makeBar(symbol, tf, int64(i+1)*int64(tf), float64(i+1))
	}
	return bars
}

func TestEngine_EMA5EndToEnd(t *testing.T) {
	e := mustEngine(t, []TFConfig{{TF: 60, Indicators: []indicator.Params{{Type: "EMA", Periods: []int{5}}}}})

	for i, bar := range rampBars("SBIN", 60, 30) {
		outs := e.Process(bar)
		switch {
		case i < 4:
			if len(outs) != 0 {
				t.Fatalf("bar %d: %d rows during warm-up", i+1, len(outs))
			}
		case i == 4:
			if len(outs) != 1 || math.Abs(outs[0].Values[0]-3) > 1e-12 {
				t.Fatalf("bar 5: %+v", outs)
			}
			if outs[0].Key != "EMA(5)" || outs[0].Symbol != "SBIN" || outs[0].Backend != "self" || !outs[0].Ready {
				t.Fatalf("bar 5 metadata: %+v", outs[0])
			}
		case i == 5:
			if math.Abs(outs[0].Values[0]-(3+(2.0/6.0)*(6-3))) > 1e-12 {
				t.Fatalf("bar 6: %v", outs[0].Values[0])
			}
		}
	}
}

func TestEngine_SeriesAreIndependent(t *testing.T) {
	e := mustEngine(t, []TFConfig{
		{TF: 60, Indicators: []indicator.Params{{Type: "SMA", Periods: []int{2}}}},
		{TF: 300, Indicators: []indicator.Params{{Type: "SMA", Periods: []int{2}}, {Type: "RSI", Periods: []int{2}}}},
	})
	e.Process(makeBar("A", 60, 60, 10))
	e.Process(makeBar("B", 60, 60, 20))
	outA := e.Process(makeBar("A", 60, 120, 12))
	outB := e.Process(makeBar("B", 60, 120, 22))
	if outA[0].Values[0] != 11 || outB[0].Values[0] != 21 {
		t.Fatalf("A=%v B=%v", outA[0].Values, outB[0].Values)
	}
	if outs := e.Process(makeBar("A", 900, 900, 1)); outs != nil {
		t.Fatalf("unconfigured TF produced %v", outs)
	}
	e.Process(makeBar("A", 300, 300, 1))

	s := e.Stats()
	if s.Series != 3 || s.Instances != 4 || s.Bars != 5 {
		t.Fatalf("stats %+v", s)
	}
}

func TestEngine_OutOfOrderSkipped(t *testing.T) {
	e := mustEngine(t, []TFConfig{{TF: 60, Indicators: []indicator.Params{{Type: "SMA", Periods: []int{1}}}}})
	var skipped []int64
	e.OnOutOfOrder = func(b model.Bar) { skipped = append(skipped, b.TS) }

	e.Process(makeBar("X", 60, 120, 1))
	if outs := e.Process(makeBar("X", 60, 60, 2)); outs != nil {
		t.Fatalf("stale bar produced %v", outs)
	}
	if len(skipped) != 1 || e.Stats().OutOfOrder != 1 {
		t.Fatalf("skipped=%v", skipped)
	}

	// non-decreasing is enough: a second bar at the same TS is processed
	outs := e.Process(makeBar("X", 60, 120, 3))
	if len(outs) != 1 || outs[0].Values[0] != 3 || outs[0].TS != 120 {
		t.Fatalf("equal-TS bar: %v", outs)
	}
	if len(skipped) != 1 || e.Stats().Bars != 2 {
		t.Fatalf("equal-TS bar skipped: skipped=%v stats=%+v", skipped, e.Stats())
	}
	if e.LastTS(model.SeriesKey{Symbol: "X", TF: 60}) != 120 {
		t.Fatal("last TS moved backwards")
	}
}

func TestEngine_OutputValuesAreCopies(t *testing.T) {
	e := mustEngine(t, []TFConfig{{TF: 60, Indicators: []indicator.Params{{Type: "SMA", Periods: []int{1}}}}})
	first := e.Process(makeBar("X", 60, 60, 1))
	e.Process(makeBar("X", 60, 120, 2))
	if first[0].Values[0] != 1 {
		t.Fatalf("earlier row mutated: %v", first[0].Values)
	}
}

func TestEngine_SnapshotDecimal(t *testing.T) {
	e := mustEngine(t, []TFConfig{{TF: 60, Indicators: []indicator.Params{
		{Type: "SMA", Periods: []int{2}},
		{Type: "SMA", Periods: []int{5}},
	}}})
	key := model.SeriesKey{Symbol: "X", TF: 60}
	if outs, err := e.SnapshotDecimal(key); outs != nil || err != nil {
		t.Fatalf("unknown series: %v %v", outs, err)
	}
	e.Process(makeBar("X", 60, 60, 0.1))
	e.Process(makeBar("X", 60, 120, 0.2))

	outs, err := e.SnapshotDecimal(key)
	if err != nil {
		t.Fatal(err)
	}
	// SMA(5) is still warming up
	if len(outs) != 1 || outs[0].Key != "SMA(2)" || outs[0].TS != 120 {
		t.Fatalf("snapshot %+v", outs)
	}
	v := outs[0].Values[0]
	if !v.Valid || v.Decimal.StringFixed(2) != "0.15" {
		t.Fatalf("value %v", v)
	}
}

func TestEngine_Warmup(t *testing.T) {
	key := model.SeriesKey{Symbol: "SBIN", TF: 60}
	r := &memReader{bars: map[model.SeriesKey][]model.Bar{key: rampBars("SBIN", 60, 30)}}
	e := mustEngine(t, []TFConfig{{TF: 60, Indicators: []indicator.Params{{Type: "EMA", Periods: []int{5}}}}})

	var emitted int
	n, err := e.Warmup(context.Background(), r, []model.SeriesKey{key, {Symbol: "SBIN", TF: 15}}, 7, func(outs []model.Output) {
		emitted += len(outs)
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 30 || emitted != 26 {
		t.Fatalf("warmed %d bars, emitted %d rows", n, emitted)
	}
	// 7+7+7+7+2
	if r.calls != 5 {
		t.Fatalf("ReadBars called %d times, want 5", r.calls)
	}
	snap := e.Snapshot(key)
	if len(snap) != 1 || math.Abs(snap[0].Values[0]-28) > 1e-9 || snap[0].TS != 30*60 {
		t.Fatalf("snapshot %+v", snap)
	}

	// a second warm-up resumes after the last bar
	if n, _ := e.Warmup(context.Background(), r, []model.SeriesKey{key}, 7, nil); n != 0 {
		t.Fatalf("re-warmup replayed %d bars", n)
	}

	// the stream redelivering the last stored bar is not applied twice
	if outs := e.Process(makeBar("SBIN", 60, 30*60, 30)); outs != nil || e.Stats().OutOfOrder != 1 {
		t.Fatalf("replayed bar processed: %v", outs)
	}
	if outs := e.Process(makeBar("SBIN", 60, 31*60, 31)); len(outs) != 1 {
		t.Fatalf("live bar after warm-up: %v", outs)
	}
}

func TestEngine_ReloadPreservesAndBackfills(t *testing.T) {
	key := model.SeriesKey{Symbol: "SBIN", TF: 60}
	bars := rampBars("SBIN", 60, 20)
	r := &memReader{bars: map[model.SeriesKey][]model.Bar{key: bars}}

	e := mustEngine(t, []TFConfig{{TF: 60, Indicators: []indicator.Params{{Type: "SMA", Periods: []int{3}}}}})
	for _, b := range bars[:10] {
		e.Process(b)
	}

	next := []TFConfig{{TF: 60, Indicators: []indicator.Params{
		{Type: "SMA", Periods: []int{3}},
		{Type: "EMA", Periods: []int{5}},
	}}}
	preserved, created, err := e.Reload(context.Background(), next, r, 4)
	if err != nil {
		t.Fatal(err)
	}
	if preserved != 1 || created != 1 {
		t.Fatalf("preserved=%d created=%d", preserved, created)
	}

	outs := e.Process(bars[10])
	if len(outs) != 2 {
		t.Fatalf("after reload got %d rows, want 2 (EMA warmed from history)", len(outs))
	}
	// same value a never-reloaded EMA(5) would give at bar 11
	ref, _ := indicator.NewEMA(5)
	ref.Update(bars[:11], nil, 0, 0)
	if got := outs[1].Values[0]; math.Abs(got-ref.Values()[0]) > 1e-12 {
		t.Fatalf("EMA after reload %v, want %v", got, ref.Values()[0])
	}
	if outs[0].Values[0] != 10 {
		t.Fatalf("preserved SMA %v, want 10", outs[0].Values[0])
	}
}

func TestEngine_ReloadNewTimeframeColdStarts(t *testing.T) {
	e := mustEngine(t, []TFConfig{{TF: 60, Indicators: []indicator.Params{{Type: "SMA", Periods: []int{1}}}}})
	e.Process(makeBar("X", 60, 60, 1))
	_, _, err := e.Reload(context.Background(), []TFConfig{
		{TF: 300, Indicators: []indicator.Params{{Type: "SMA", Periods: []int{1}}}},
	}, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if outs := e.Process(makeBar("X", 60, 120, 2)); outs != nil {
		t.Fatal("dropped TF still processed")
	}
	if outs := e.Process(makeBar("X", 300, 300, 2)); len(outs) != 1 {
		t.Fatal("new TF not processed")
	}
}

func TestValidateSpecs(t *testing.T) {
	bad := [][]TFConfig{
		{{TF: 0}},
		{{TF: 60}, {TF: 60}},
		{{TF: 60, Indicators: []indicator.Params{{Type: "NOPE"}}}},
		{{TF: 60, Indicators: []indicator.Params{{Type: "SMA", Periods: []int{0}}}}},
		{{TF: 60, Indicators: []indicator.Params{{Type: "SMA", Periods: []int{5}}, {Type: "sma", Periods: []int{5}}}}},
	}
	for i, cfg := range bad {
		if err := ValidateSpecs(cfg, nil); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
	ok := []TFConfig{{TF: 60, Indicators: []indicator.Params{
		{Type: "SMA", Periods: []int{5}},
		{Type: "SMA", Periods: []int{5}, Backend: indicator.External},
	}}}
	if err := ValidateSpecs(ok, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateSpecs(ok, newSelector()); err != nil {
		t.Fatalf("selector rejected external SMA: %v", err)
	}
}

func TestValidateSpecs_ExplicitBackendMustBeBuildable(t *testing.T) {
	smma := []TFConfig{{TF: 60, Indicators: []indicator.Params{
		{Type: "SMMA", Periods: []int{3}, Backend: indicator.External},
	}}}
	// parameters alone are fine, the external engine has no SMMA
	if err := ValidateSpecs(smma, nil); err != nil {
		t.Fatalf("params check: %v", err)
	}
	if err := ValidateSpecs(smma, newSelector()); !errors.Is(err, indicator.ErrBackendUnavailable) {
		t.Fatalf("err=%v, want ErrBackendUnavailable", err)
	}
	if _, err := New(smma, newSelector()); !errors.Is(err, indicator.ErrBackendUnavailable) {
		t.Fatalf("New: err=%v", err)
	}

	e := mustEngine(t, []TFConfig{{TF: 60, Indicators: []indicator.Params{{Type: "SMA", Periods: []int{1}}}}})
	e.Process(makeBar("X", 60, 60, 1))
	preserved, created, err := e.Reload(context.Background(), smma, nil, 0)
	if !errors.Is(err, indicator.ErrBackendUnavailable) || preserved != 0 || created != 0 {
		t.Fatalf("reload: preserved=%d created=%d err=%v", preserved, created, err)
	}
	if got := e.Configs()[0].Indicators[0].Key(); got != "SMA(1)" {
		t.Fatalf("config replaced by rejected reload: %s", got)
	}
}

func TestEngine_Run(t *testing.T) {
	e := mustEngine(t, []TFConfig{{TF: 60, Indicators: []indicator.Params{{Type: "SMA", Periods: []int{2}}}}})
	in := make(chan model.Bar, 10)
	out := make(chan model.Output, 10)
	for _, b := range rampBars("X", 60, 5) {
		in <- b
	}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e.Run(ctx, in, out)

	if len(out) != 4 {
		t.Fatalf("got %d rows, want 4", len(out))
	}
	first := <-out
	if first.Values[0] != 1.5 {
		t.Fatalf("first row %v", first.Values)
	}
}
