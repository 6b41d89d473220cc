// Package engine runs configured indicator sets over many bar series.
// Each (symbol, timeframe) series gets its own instances, built through the
// backend selector on the first bar seen for that series.
package engine

import (
	"context"
	"log"
	"sync"

	"trading-indicators/internal/backend"
	"trading-indicators/internal/indicator"
	"trading-indicators/internal/model"

	"github.com/shopspring/decimal"
)

// TFConfig lists the indicators computed for one timeframe.
type TFConfig struct {
	TF         int                `json:"tf" yaml:"tf"` // seconds
	Indicators []indicator.Params `json:"indicators" yaml:"indicators"`
}

type instance struct {
	id     string // params key + backend preference, stable across reloads
	params indicator.Params
	ind    indicator.Indicator
	kind   indicator.Preference
	slots  []string
}

// seriesSet holds the live instances for one symbol on one TF.
type seriesSet struct {
	instances []*instance
	lastTS    int64
	bars      int
	// history holds one bar per timestamp, so once warmed a live bar at or
	// before replayedTS is a redelivery of a stored one
	replayedTS int64
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Series     int   `json:"series"`
	Instances  int   `json:"instances"`
	Bars       int64 `json:"bars"`
	OutOfOrder int64 `json:"out_of_order"`
	Dropped    int64 `json:"dropped"`
}

// Engine computes every configured indicator for every series it sees.
// Process, Reload and Warmup are serialized; indicator instances are only
// ever touched under mu.
type Engine struct {
	mu  sync.Mutex
	sel *backend.Selector

	configs []TFConfig
	tfIndex map[int]int

	// state[tfIdx][symbol] → instances
	state []map[string]*seriesSet

	stats Stats

	// OnOutOfOrder, when set, is called for bars older than the last
	// processed timestamp of their series, or inside the history replayed
	// by Warmup. Such bars are skipped. Equal timestamps are processed.
	OnOutOfOrder func(bar model.Bar)
}

// New validates configs and returns an engine building through sel.
func New(configs []TFConfig, sel *backend.Selector) (*Engine, error) {
	if err := ValidateSpecs(configs, sel); err != nil {
		return nil, err
	}
	e := &Engine{sel: sel}
	e.install(configs, make([]map[string]*seriesSet, len(configs)))
	for i := range e.state {
		e.state[i] = make(map[string]*seriesSet, 64)
	}
	return e, nil
}

func (e *Engine) install(configs []TFConfig, state []map[string]*seriesSet) {
	e.configs = configs
	e.state = state
	e.tfIndex = make(map[int]int, len(configs))
	for i, cfg := range configs {
		e.tfIndex[cfg.TF] = i
	}
}

// Configs returns the active configuration.
func (e *Engine) Configs() []TFConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.configs
}

// Process feeds one closed bar to every indicator of its series and returns
// the rows of the indicators that are ready.
func (e *Engine) Process(bar model.Bar) []model.Output {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.process(bar)
}

func (e *Engine) process(bar model.Bar) []model.Output {
	tfIdx, ok := e.tfIndex[bar.TF]
	if !ok {
		return nil
	}
	set, exists := e.state[tfIdx][bar.Symbol]
	if !exists {
		set = e.newSeriesSet(e.configs[tfIdx].Indicators)
		e.state[tfIdx][bar.Symbol] = set
	} else if bar.TS < set.lastTS || bar.TS <= set.replayedTS {
		e.stats.OutOfOrder++
		if e.OnOutOfOrder != nil {
			e.OnOutOfOrder(bar)
		}
		return nil
	}
	set.lastTS = bar.TS
	set.bars++
	e.stats.Bars++

	one := [1]model.Bar{bar}
	results := make([]model.Output, 0, len(set.instances))
	for _, in := range set.instances {
		in.ind.Update(one[:], nil, 0, 0)
		if !in.ind.IsReady() {
			continue
		}
		results = append(results, in.output(bar))
	}
	return results
}

func (in *instance) output(bar model.Bar) model.Output {
	return model.Output{
		Key:     in.ind.Key(),
		Symbol:  bar.Symbol,
		TF:      bar.TF,
		TS:      bar.TS,
		Slots:   in.slots,
		Values:  append([]float64(nil), in.ind.Values()...),
		Ready:   true,
		Backend: in.kind.String(),
	}
}

func instanceID(p indicator.Params) string {
	return p.Key() + "@" + p.Backend.String()
}

// newSeriesSet builds fresh instances. Specs were validated up front, so a
// failure here is a selector misconfiguration; the indicator is skipped.
func (e *Engine) newSeriesSet(specs []indicator.Params) *seriesSet {
	set := &seriesSet{instances: make([]*instance, 0, len(specs))}
	for _, p := range specs {
		in, err := e.build(p)
		if err != nil {
			log.Printf("[engine] build %s: %v (skipped)", p.Key(), err)
			continue
		}
		set.instances = append(set.instances, in)
	}
	return set
}

func (e *Engine) build(p indicator.Params) (*instance, error) {
	ind, kind, err := e.sel.Build(p)
	if err != nil {
		return nil, err
	}
	return &instance{
		id:     instanceID(p),
		params: p,
		ind:    ind,
		kind:   kind,
		slots:  indicator.SlotNames(ind.Slots()),
	}, nil
}

// Run consumes bars and emits rows until ctx is done or in is closed.
// Rows are dropped when out is full.
func (e *Engine) Run(ctx context.Context, in <-chan model.Bar, out chan<- model.Output) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-in:
			if !ok {
				return
			}
			for _, r := range e.Process(bar) {
				select {
				case out <- r:
				default:
					e.mu.Lock()
					e.stats.Dropped++
					e.mu.Unlock()
				}
			}
		}
	}
}

// Stats returns counters and the current series/instance totals.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	for _, m := range e.state {
		s.Series += len(m)
		for _, set := range m {
			s.Instances += len(set.instances)
		}
	}
	return s
}

// LastTS returns the last processed timestamp of a series, or 0.
func (e *Engine) LastTS(key model.SeriesKey) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if set := e.lookup(key); set != nil {
		return set.lastTS
	}
	return 0
}

func (e *Engine) lookup(key model.SeriesKey) *seriesSet {
	tfIdx, ok := e.tfIndex[key.TF]
	if !ok {
		return nil
	}
	return e.state[tfIdx][key.Symbol]
}

// SnapshotDecimal is Snapshot with the values converted to decimals.
func (e *Engine) SnapshotDecimal(key model.SeriesKey) ([]model.DecimalOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.lookup(key)
	if set == nil {
		return nil, nil
	}
	var outs []model.DecimalOutput
	for _, in := range set.instances {
		if !in.ind.IsReady() {
			continue
		}
		sink, err := indicator.NewSink[decimal.NullDecimal](in.ind)
		if err != nil {
			return nil, err
		}
		outs = append(outs, model.DecimalOutput{
			Key:     in.ind.Key(),
			Symbol:  key.Symbol,
			TF:      key.TF,
			TS:      set.lastTS,
			Slots:   in.slots,
			Values:  sink.Values(),
			Ready:   true,
			Backend: in.kind.String(),
		})
	}
	return outs, nil
}

// Snapshot returns the latest ready row of every instance of a series.
func (e *Engine) Snapshot(key model.SeriesKey) []model.Output {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.lookup(key)
	if set == nil {
		return nil
	}
	bar := model.Bar{Symbol: key.Symbol, TF: key.TF, TS: set.lastTS}
	var outs []model.Output
	for _, in := range set.instances {
		if in.ind.IsReady() {
			outs = append(outs, in.output(bar))
		}
	}
	return outs
}
