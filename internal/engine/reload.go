package engine

import (
	"context"
	"fmt"
	"log"

	"trading-indicators/internal/backend"
	"trading-indicators/internal/indicator"
	"trading-indicators/internal/model"
)

// ValidateSpecs checks a configuration before it is installed. With a
// selector every spec must be buildable through it, including explicit
// backend requests; without one only the parameters are checked.
func ValidateSpecs(configs []TFConfig, sel *backend.Selector) error {
	check := func(p indicator.Params) error {
		_, err := indicator.New(p)
		return err
	}
	if sel != nil {
		check = sel.Check
	}

	seen := make(map[int]bool, len(configs))
	for _, cfg := range configs {
		if cfg.TF <= 0 {
			return fmt.Errorf("invalid TF=%d: must be positive", cfg.TF)
		}
		if seen[cfg.TF] {
			return fmt.Errorf("duplicate TF=%d", cfg.TF)
		}
		seen[cfg.TF] = true

		ids := make(map[string]bool, len(cfg.Indicators))
		for _, p := range cfg.Indicators {
			if err := check(p); err != nil {
				return fmt.Errorf("TF=%d: %w", cfg.TF, err)
			}
			id := instanceID(p)
			if ids[id] {
				return fmt.Errorf("TF=%d: duplicate indicator %s", cfg.TF, p.Key())
			}
			ids[id] = true
		}
	}
	return nil
}

// Reload installs new configs. Instances whose key and backend preference
// survive keep their state; others are built cold. When r is not nil the
// new instances of an existing series are warmed from its history up to the
// series' last processed bar, so they line up with the preserved ones.
func (e *Engine) Reload(ctx context.Context, configs []TFConfig, r model.BarReader, chunk int) (preserved, created int, err error) {
	if err := ValidateSpecs(configs, e.sel); err != nil {
		return 0, 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	oldByTF := make(map[int]map[string]*seriesSet, len(e.configs))
	for i, cfg := range e.configs {
		oldByTF[cfg.TF] = e.state[i]
	}

	newState := make([]map[string]*seriesSet, len(configs))
	for i, cfg := range configs {
		oldSets := oldByTF[cfg.TF]
		newState[i] = make(map[string]*seriesSet, max(len(oldSets), 64))
		if len(oldSets) == 0 {
			log.Printf("[reload] TF=%d: new timeframe, cold-starting", cfg.TF)
			continue
		}
		for symbol, old := range oldSets {
			set, fresh := e.migrate(old, cfg.Indicators)
			preserved += len(set.instances) - len(fresh)
			created += len(fresh)
			newState[i][symbol] = set
			if r != nil && len(fresh) > 0 {
				n, err := backfill(ctx, r, model.SeriesKey{Symbol: symbol, TF: cfg.TF}, set.lastTS, chunk, fresh)
				if err != nil {
					log.Printf("[reload] backfill %s:%d: %v", symbol, cfg.TF, err)
				} else {
					log.Printf("[reload] %s:%d: warmed %d new indicators with %d bars", symbol, cfg.TF, len(fresh), n)
				}
			}
		}
		log.Printf("[reload] TF=%d: migrated %d series", cfg.TF, len(oldSets))
	}

	e.install(configs, newState)
	log.Printf("[reload] config reloaded: %d TFs, %d preserved, %d new", len(configs), preserved, created)
	return preserved, created, nil
}

// migrate reuses instances of old that match specs and builds the rest.
func (e *Engine) migrate(old *seriesSet, specs []indicator.Params) (*seriesSet, []*instance) {
	byID := make(map[string]*instance, len(old.instances))
	for _, in := range old.instances {
		byID[in.id] = in
	}
	set := &seriesSet{lastTS: old.lastTS, bars: old.bars, replayedTS: old.replayedTS, instances: make([]*instance, 0, len(specs))}
	var fresh []*instance
	for _, p := range specs {
		if in, ok := byID[instanceID(p)]; ok {
			set.instances = append(set.instances, in)
			continue
		}
		in, err := e.build(p)
		if err != nil {
			log.Printf("[reload] build %s: %v (skipped)", p.Key(), err)
			continue
		}
		set.instances = append(set.instances, in)
		fresh = append(fresh, in)
	}
	return set, fresh
}

// backfill feeds stored bars with TS <= until to the given instances only.
func backfill(ctx context.Context, r model.BarReader, key model.SeriesKey, until int64, chunk int, ins []*instance) (int, error) {
	if chunk <= 0 {
		chunk = DefaultChunk
	}
	var after int64
	fed := 0
	for {
		if err := ctx.Err(); err != nil {
			return fed, err
		}
		bars, err := r.ReadBars(ctx, key.Symbol, key.TF, after, chunk)
		if err != nil {
			return fed, err
		}
		for i := range bars {
			if bars[i].TS > until {
				return fed, nil
			}
			for _, in := range ins {
				in.ind.Update(bars[i:i+1], nil, 0, 0)
			}
			fed++
		}
		if len(bars) < chunk {
			return fed, nil
		}
		after = bars[len(bars)-1].TS
	}
}
