package backend

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"trading-indicators/internal/indicator"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func preferAll() Policy {
	return Policy{Default: Rule{PreferExternal: true}}
}

func TestSelector_ExplicitBackends(t *testing.T) {
	sel := NewSelector(DefaultRegistry(), DefaultPolicy(), Capabilities{External: true}, quietLogger())

	_, kind, err := sel.Build(indicator.Params{Type: "EMA", Periods: []int{5}, Backend: indicator.External})
	if err != nil || kind != indicator.External {
		t.Fatalf("external EMA: kind=%v err=%v", kind, err)
	}
	_, kind, err = sel.Build(indicator.Params{Type: "EMA", Periods: []int{5}, Backend: indicator.SelfContained})
	if err != nil || kind != indicator.SelfContained {
		t.Fatalf("self EMA: kind=%v err=%v", kind, err)
	}
}

func TestSelector_ExternalUnavailable(t *testing.T) {
	off := NewSelector(DefaultRegistry(), preferAll(), Capabilities{}, quietLogger())
	ind, _, err := off.Build(indicator.Params{Type: "RSI", Backend: indicator.External})
	if !errors.Is(err, indicator.ErrBackendUnavailable) || ind != nil {
		t.Fatalf("disabled engine: ind=%v err=%v", ind, err)
	}

	on := NewSelector(DefaultRegistry(), preferAll(), Capabilities{External: true}, quietLogger())
	_, _, err = on.Build(indicator.Params{Type: "ZIGZAG", Backend: indicator.External})
	if !errors.Is(err, indicator.ErrBackendUnavailable) {
		t.Fatalf("no talib ZIGZAG: err=%v", err)
	}
}

func TestSelector_Check(t *testing.T) {
	on := NewSelector(DefaultRegistry(), DefaultPolicy(), Capabilities{External: true}, quietLogger())
	off := NewSelector(DefaultRegistry(), DefaultPolicy(), Capabilities{}, quietLogger())

	cases := []struct {
		sel  *Selector
		p    indicator.Params
		want error
	}{
		{on, indicator.Params{Type: "EMA", Periods: []int{5}, Backend: indicator.External}, nil},
		{on, indicator.Params{Type: "SMMA", Periods: []int{3}}, nil},
		{on, indicator.Params{Type: "SMMA", Periods: []int{3}, Backend: indicator.External}, indicator.ErrBackendUnavailable},
		{off, indicator.Params{Type: "EMA", Periods: []int{5}, Backend: indicator.External}, indicator.ErrBackendUnavailable},
		{off, indicator.Params{Type: "EMA", Periods: []int{5}}, nil},
		{on, indicator.Params{Type: "SAR", Consts: map[string]float64{"start": 0.01, "step": 0.02}, Backend: indicator.External}, indicator.ErrBackendUnavailable},
		{on, indicator.Params{Type: "SMA", Periods: []int{0}, Backend: indicator.External}, indicator.ErrInvalidParameter},
		{on, indicator.Params{Type: "VWAP2"}, indicator.ErrUnsupportedType},
	}
	for _, c := range cases {
		err := c.sel.Check(c.p)
		if (c.want == nil && err != nil) || (c.want != nil && !errors.Is(err, c.want)) {
			t.Errorf("%s@%s: err=%v, want %v", c.p.Key(), c.p.Backend, err, c.want)
		}
	}
	if on.Fallbacks() != 0 {
		t.Fatal("Check counted a fallback")
	}
}

func TestSelector_UnknownType(t *testing.T) {
	sel := NewSelector(nil, DefaultPolicy(), Capabilities{}, nil)
	if _, _, err := sel.Build(indicator.Params{Type: "VWAP2"}); !errors.Is(err, indicator.ErrUnsupportedType) {
		t.Fatalf("err=%v", err)
	}
}

func TestSelector_AutomaticFollowsPolicy(t *testing.T) {
	sel := NewSelector(DefaultRegistry(), preferAll(), Capabilities{External: true}, quietLogger())
	sel.MemoryPressure = func() float64 { return 0 }

	if _, kind, _ := sel.Build(indicator.Params{Type: "ATR"}); kind != indicator.External {
		t.Fatalf("ATR: %v, want external", kind)
	}
	// no reference implementation, so the policy never sees it as loaded
	if _, kind, _ := sel.Build(indicator.Params{Type: "SUPERTREND"}); kind != indicator.SelfContained {
		t.Fatalf("SUPERTREND: %v, want self", kind)
	}

	def := NewSelector(DefaultRegistry(), DefaultPolicy(), Capabilities{External: true}, quietLogger())
	if _, kind, _ := def.Build(indicator.Params{Type: "ATR"}); kind != indicator.SelfContained {
		t.Fatalf("default policy picked %v", kind)
	}
}

func TestSelector_AutomaticFallsBack(t *testing.T) {
	sel := NewSelector(DefaultRegistry(), preferAll(), Capabilities{External: true}, quietLogger())
	var seen []bool
	sel.OnSelect = func(_ indicator.Params, _ indicator.Preference, fellBack bool) { seen = append(seen, fellBack) }

	// talib SAR cannot take a start different from its step
	p := indicator.Params{Type: "SAR", Consts: map[string]float64{"start": 0.01, "step": 0.02, "max": 0.2}}
	ind, kind, err := sel.Build(p)
	if err != nil {
		t.Fatalf("automatic must not fail: %v", err)
	}
	if kind != indicator.SelfContained || ind == nil {
		t.Fatalf("kind=%v ind=%v", kind, ind)
	}
	if sel.Fallbacks() != 1 || len(seen) != 1 || !seen[0] {
		t.Fatalf("fallbacks=%d seen=%v", sel.Fallbacks(), seen)
	}

	// the same request with an explicit preference is an error
	p.Backend = indicator.External
	if _, _, err := sel.Build(p); !errors.Is(err, indicator.ErrBackendUnavailable) {
		t.Fatalf("explicit external SAR: err=%v", err)
	}
}

func TestSelector_InvalidParamsNotMasked(t *testing.T) {
	sel := NewSelector(DefaultRegistry(), preferAll(), Capabilities{External: true}, quietLogger())
	_, _, err := sel.Build(indicator.Params{Type: "RSI", Periods: []int{1}})
	if !errors.Is(err, indicator.ErrInvalidParameter) {
		t.Fatalf("err=%v", err)
	}
}

func TestPolicy_Choose(t *testing.T) {
	p := Policy{
		Default: Rule{PreferExternal: true},
		Families: map[string]Rule{
			"EMA": {PreferExternal: true, MaxPeriod: 50},
			"ADX": {PreferExternal: true, MaxMemoryPressure: 0.8},
			"RSI": {},
		},
	}
	loaded := Context{ExternalLoaded: true}
	cases := []struct {
		params indicator.Params
		ctx    Context
		want   indicator.Preference
	}{
		{indicator.Params{Type: "SMA"}, loaded, indicator.External},
		{indicator.Params{Type: "SMA"}, Context{}, indicator.SelfContained},
		{indicator.Params{Type: "ema", Periods: []int{20}}, loaded, indicator.External},
		{indicator.Params{Type: "EMA", Periods: []int{200}}, loaded, indicator.SelfContained},
		{indicator.Params{Type: "ADX"}, Context{ExternalLoaded: true, MemoryPressure: 0.5}, indicator.External},
		{indicator.Params{Type: "ADX"}, Context{ExternalLoaded: true, MemoryPressure: 0.9}, indicator.SelfContained},
		{indicator.Params{Type: "RSI"}, loaded, indicator.SelfContained},
	}
	for _, tc := range cases {
		if got := p.Choose(tc.params, tc.ctx); got != tc.want {
			t.Errorf("%s %+v: got %v, want %v", tc.params.Key(), tc.ctx, got, tc.want)
		}
	}
}

func TestRegistry_Types(t *testing.T) {
	reg := DefaultRegistry()
	if len(reg.Types()) != len(indicator.Types()) {
		t.Fatalf("registry has %d types, factory %d", len(reg.Types()), len(indicator.Types()))
	}
	ext := map[string]bool{}
	for _, typ := range reg.ExternalTypes() {
		ext[typ] = true
	}
	for _, typ := range []string{"SMA", "EMA", "RSI", "ATR", "BBANDS", "DONCHIAN", "CCI"} {
		if !ext[typ] {
			t.Errorf("%s has no external implementation", typ)
		}
	}
	if ext["KNN"] {
		t.Error("KNN should be self-contained only")
	}
}
