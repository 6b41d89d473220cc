package backend

import (
	"math"
	"runtime"
	"runtime/debug"

	"trading-indicators/internal/indicator"
)

// Capabilities is injected at start-up. External reports whether the
// reference engine may be used at all.
type Capabilities struct {
	External bool `yaml:"external" json:"external"`
}

// Rule decides the automatic backend for one indicator family.
type Rule struct {
	// PreferExternal picks the reference engine when it is available.
	PreferExternal bool `yaml:"prefer_external" json:"prefer_external"`
	// MaxPeriod above which the self-contained engine is used. 0 = no limit.
	MaxPeriod int `yaml:"max_period" json:"max_period"`
	// MaxMemoryPressure in [0,1] above which the self-contained engine is
	// used. 0 = ignore memory pressure.
	MaxMemoryPressure float64 `yaml:"max_memory_pressure" json:"max_memory_pressure"`
}

// Policy is the single table consulted for every automatic choice.
type Policy struct {
	Default  Rule            `yaml:"default" json:"default"`
	Families map[string]Rule `yaml:"families" json:"families"`
}

// Context is what the policy sees at construction time.
type Context struct {
	ExternalLoaded bool
	MemoryPressure float64
}

// DefaultPolicy prefers the self-contained engine for every family.
func DefaultPolicy() Policy {
	return Policy{}
}

func (p Policy) rule(typ string) Rule {
	if r, ok := p.Families[typ]; ok {
		return r
	}
	return p.Default
}

// Choose returns SelfContained or External for an automatic request.
func (p Policy) Choose(params indicator.Params, ctx Context) indicator.Preference {
	r := p.rule(upper(params.Type))
	switch {
	case !ctx.ExternalLoaded, !r.PreferExternal:
		return indicator.SelfContained
	case r.MaxPeriod > 0 && params.MaxPeriod() > r.MaxPeriod:
		return indicator.SelfContained
	case r.MaxMemoryPressure > 0 && ctx.MemoryPressure > r.MaxMemoryPressure:
		return indicator.SelfContained
	}
	return indicator.External
}

// MemoryPressure is heap in use over the runtime memory limit, or 0 when no
// limit is set.
func MemoryPressure() float64 {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return 0
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapInuse) / float64(limit)
}
