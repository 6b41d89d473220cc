// Package backend decides which implementation answers an indicator
// construction request: the self-contained engine in package indicator or
// the external reference engine (go-talib adapters). Both expose the same
// Indicator contract, slot layout and warm-up length.
package backend

import (
	"sort"
	"strings"

	"trading-indicators/internal/indicator"
)

// Entry holds the constructors registered for one indicator type. External
// is nil when the reference engine has no equivalent.
type Entry struct {
	SelfContained indicator.Constructor
	External      indicator.Constructor
}

// Registry maps an upper-case indicator type to its constructors.
type Registry struct {
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry, 32)}
}

// Register adds or replaces the entry for typ.
func (r *Registry) Register(typ string, e Entry) {
	r.entries[strings.ToUpper(strings.TrimSpace(typ))] = e
}

func (r *Registry) Lookup(typ string) (Entry, bool) {
	e, ok := r.entries[strings.ToUpper(strings.TrimSpace(typ))]
	return e, ok
}

// Types lists registered types, sorted.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ExternalTypes lists the types that have a reference implementation.
func (r *Registry) ExternalTypes() []string {
	var out []string
	for _, t := range r.Types() {
		if r.entries[t].External != nil {
			out = append(out, t)
		}
	}
	return out
}

// DefaultRegistry registers every self-contained indicator and the go-talib
// adapters that exist for them.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, typ := range indicator.Types() {
		r.Register(typ, Entry{SelfContained: indicator.New, External: talibConstructors[typ]})
	}
	return r
}
