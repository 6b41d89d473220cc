package indicator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Preference selects which backend answers a construction request.
type Preference int

const (
	Automatic     Preference = iota // policy decides, self-contained on failure
	SelfContained                   // in-process streaming implementation only
	External                        // reference library only, error if absent
)

func (p Preference) String() string {
	switch p {
	case SelfContained:
		return "self"
	case External:
		return "external"
	default:
		return "auto"
	}
}

// ParsePreference accepts "auto", "self" and "external" plus a few aliases.
func ParsePreference(s string) (Preference, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto", "automatic":
		return Automatic, nil
	case "self", "self-contained", "selfcontained", "native":
		return SelfContained, nil
	case "external", "talib", "reference":
		return External, nil
	}
	return Automatic, fmt.Errorf("%w: backend preference %q", ErrInvalidParameter, s)
}

func (p Preference) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Preference) UnmarshalText(b []byte) error {
	v, err := ParsePreference(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Params is the construction request for one indicator instance.
type Params struct {
	Type    string             `json:"type" yaml:"type"`
	Periods []int              `json:"periods,omitempty" yaml:"periods,omitempty"`
	Consts  map[string]float64 `json:"consts,omitempty" yaml:"consts,omitempty"`
	Backend Preference         `json:"backend,omitempty" yaml:"backend,omitempty"`
}

// Key renders "TYPE(p1,p2;name=v,...)" with constants sorted by name.
// The backend preference is not part of the key.
func (p Params) Key() string {
	var parts []string
	if len(p.Periods) > 0 {
		ps := make([]string, len(p.Periods))
		for i, v := range p.Periods {
			ps[i] = strconv.Itoa(v)
		}
		parts = append(parts, strings.Join(ps, ","))
	}
	if len(p.Consts) > 0 {
		names := make([]string, 0, len(p.Consts))
		for k := range p.Consts {
			names = append(names, k)
		}
		sort.Strings(names)
		cs := make([]string, len(names))
		for i, k := range names {
			cs[i] = k + "=" + strconv.FormatFloat(p.Consts[k], 'g', -1, 64)
		}
		parts = append(parts, strings.Join(cs, ","))
	}
	typ := strings.ToUpper(p.Type)
	if len(parts) == 0 {
		return typ
	}
	return typ + "(" + strings.Join(parts, ";") + ")"
}

// Period returns Periods[i], or def when not given.
func (p Params) Period(i, def int) int {
	if i < len(p.Periods) {
		return p.Periods[i]
	}
	return def
}

// Const returns Consts[name], or def when not given.
func (p Params) Const(name string, def float64) float64 {
	if v, ok := p.Consts[name]; ok {
		return v
	}
	return def
}

// MaxPeriod is the largest period in the set, 0 when there are none.
func (p Params) MaxPeriod() int {
	m := 0
	for _, v := range p.Periods {
		if v > m {
			m = v
		}
	}
	return m
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidParameter}, args...)...)
}

func checkPeriod(name string, v, min int) error {
	if v < min {
		return invalidf("%s period %d, need >= %d", name, v, min)
	}
	return nil
}
