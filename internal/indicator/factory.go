package indicator

import (
	"fmt"
	"sort"
	"strings"
)

// Constructor builds an indicator from a parameter set.
type Constructor func(p Params) (Indicator, error)

// constructors is the static self-contained factory: type name to builder.
// Periods and constants missing from Params fall back to the usual defaults.
var constructors map[string]Constructor

func init() {
	constructors = map[string]Constructor{
		"SMA": func(p Params) (Indicator, error) { return NewSMA(p.Period(0, 20)) },
		"EMA": func(p Params) (Indicator, error) { return NewEMA(p.Period(0, 20)) },
		"SMMA": func(p Params) (Indicator, error) {
			return NewSMMA(p.Period(0, 14))
		},
		"RSI": func(p Params) (Indicator, error) { return NewRSI(p.Period(0, 14)) },
		"MACD": func(p Params) (Indicator, error) {
			return NewMACD(p.Period(0, 12), p.Period(1, 26), p.Period(2, 9))
		},
		"ATR": func(p Params) (Indicator, error) { return NewATR(p.Period(0, 14)) },
		"BBANDS": func(p Params) (Indicator, error) {
			return NewBBands(p.Period(0, 20), p.Const("k", 2))
		},
		"DONCHIAN": func(p Params) (Indicator, error) { return NewDonchian(p.Period(0, 20)) },
		"KELTNER": func(p Params) (Indicator, error) {
			return NewKeltner(p.Period(0, 20), p.Period(1, 10), p.Const("mult", 2))
		},
		"CHANDELIER": func(p Params) (Indicator, error) {
			return NewChandelier(p.Period(0, 22), p.Const("mult", 3))
		},
		"STOCH": func(p Params) (Indicator, error) {
			return NewStoch(p.Period(0, 14), p.Period(1, 3), p.Period(2, 3))
		},
		"ADX": func(p Params) (Indicator, error) { return NewADX(p.Period(0, 14)) },
		"CCI": func(p Params) (Indicator, error) { return NewCCI(p.Period(0, 20)) },
		"SAR": func(p Params) (Indicator, error) {
			return NewSAR(p.Const("start", 0.02), p.Const("step", 0.02), p.Const("max", 0.2))
		},
		"SUPERTREND": func(p Params) (Indicator, error) {
			return NewSupertrend(p.Period(0, 10), p.Const("mult", 3))
		},
		"ZIGZAG": func(p Params) (Indicator, error) {
			return NewZigZag(p.Period(0, 1), p.Const("pct", 5))
		},
		"KNN": func(p Params) (Indicator, error) {
			return NewKNN(KNNConfig{
				K:          p.Period(0, 8),
				Horizon:    p.Period(1, 4),
				History:    p.Period(2, 2000),
				NormWindow: p.Period(3, 100),
				Threshold:  p.Const("threshold", 0),
			})
		},
	}
}

// New builds the self-contained implementation for p.Type.
func New(p Params) (Indicator, error) {
	ctor, ok := constructors[normType(p.Type)]
	if !ok {
		return nil, fmt.Errorf("%w: indicator %q", ErrUnsupportedType, p.Type)
	}
	for _, v := range p.Periods {
		if v < 1 {
			return nil, invalidf("%s period %d, need >= 1", p.Type, v)
		}
	}
	ind, err := ctor(p)
	if err != nil {
		return nil, err
	}
	return ind, nil
}

// Types lists every type New accepts, sorted.
func Types() []string {
	out := make([]string, 0, len(constructors))
	for t := range constructors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Supported reports whether New accepts typ.
func Supported(typ string) bool {
	_, ok := constructors[normType(typ)]
	return ok
}

func normType(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
