// Package indicator implements incremental technical indicators over an
// ordered, gap-free stream of bars.
//
// Every indicator follows one contract: bars go in one at a time or in
// batches, each bar produces one row with a value per declared slot, and
// until MaxLookback bars were seen every slot holds Missing.
package indicator

import (
	"errors"
	"math"

	"trading-indicators/internal/model"
)

var (
	ErrInvalidParameter   = errors.New("invalid indicator parameter")
	ErrUnsupportedType    = errors.New("unsupported type")
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Missing is the warm-up sentinel. It is NaN, never zero.
var Missing = math.NaN()

// IsMissing reports whether v is the warm-up sentinel.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// Slot names one output channel of an indicator, e.g. "Upper" or "%K".
type Slot string

// Observer receives the bar and the row it produced. Values is only valid
// for the duration of the call.
type Observer func(bar model.Bar, values []float64)

// Indicator is the contract shared by every indicator and every backend.
type Indicator interface {
	// Key is the deterministic identity, e.g. "BBANDS(20;k=2)".
	Key() string

	// Slots lists the output channels in row order. It never changes.
	Slots() []Slot

	// MaxLookback is the number of bars consumed before the first valid row.
	MaxLookback() int

	// Update consumes bars in order. For each bar, once state has advanced:
	// if skip > 0 it is decremented and nothing is written; otherwise when
	// out is non-nil one row is written at out[start:] and start advances
	// by len(Slots()). It returns the number of rows written.
	// Feeding N bars in one call is identical to N single-bar calls.
	Update(bars []model.Bar, out []float64, start, skip int) int

	// IsReady is true once more than MaxLookback bars were consumed.
	IsReady() bool

	// Values is the latest row. Callers must not retain it across Update.
	Values() []float64

	// Reset returns the indicator to its freshly constructed state.
	Reset()

	// Subscribe registers fn to be called synchronously for every row
	// produced once the indicator is ready. The returned func unsubscribes
	// and may be called any number of times.
	Subscribe(fn Observer) func()
}

// SlotNames converts slots to plain strings.
func SlotNames(slots []Slot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = string(s)
	}
	return out
}
