package main

import (
	"context"
	"testing"

	"trading-indicators/internal/backend"
	"trading-indicators/internal/model"
)

type sliceReader []model.Bar

func (s sliceReader) ReadBars(_ context.Context, _ string, _ int, afterTS int64, limit int) ([]model.Bar, error) {
	var out []model.Bar
	for _, b := range s {
		if b.TS > afterTS && len(out) < limit {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s sliceReader) ListSeries(context.Context) ([]model.SeriesKey, error) {
	return []model.SeriesKey{{Symbol: "INFY", TF: 300}, {Symbol: "SBIN", TF: 60}}, nil
}

func (s sliceReader) Close() error { return nil }

func TestReadBars_PagesUntilLimit(t *testing.T) {
	var r sliceReader
	for i := 1; i <= 2500; i++ {
		r = append(r, model.Bar{Symbol: "SBIN", TF: 60, TS: int64(i * 60), Close: float64(i)})
	}
	bars, err := readBars(context.Background(), r, model.SeriesKey{Symbol: "SBIN", TF: 60}, 2200)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2200 || bars[2199].TS != 2200*60 {
		t.Fatalf("read %d bars", len(bars))
	}

	bars, _ = readBars(context.Background(), r, model.SeriesKey{Symbol: "SBIN", TF: 60}, 10000)
	if len(bars) != 2500 {
		t.Errorf("read %d bars, want all 2500", len(bars))
	}
}

func TestFirstSeries(t *testing.T) {
	k, err := firstSeries(context.Background(), sliceReader{}, 60)
	if err != nil || k.Symbol != "SBIN" {
		t.Errorf("got %v, %v", k, err)
	}
	if _, err := firstSeries(context.Background(), sliceReader{}, 900); err == nil {
		t.Error("missing TF accepted")
	}
}

func TestSelectSpecs(t *testing.T) {
	reg := backend.DefaultRegistry()
	specs, err := selectSpecs(reg, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range specs {
		if e, _ := reg.Lookup(p.Type); e.External == nil {
			t.Errorf("%s has no external implementation", p.Key())
		}
	}
	specs, err = selectSpecs(reg, "EMA:5")
	if err != nil || len(specs) != 1 || specs[0].Key() != "EMA(5)" {
		t.Errorf("explicit specs %v, %v", specs, err)
	}
}
