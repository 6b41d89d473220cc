package indicator

import (
	"fmt"
	"math"

	"trading-indicators/internal/model"

	"github.com/shopspring/decimal"
)

// Sink drives an indicator and converts its rows into T. Supported element
// types are float64, float32 and decimal.NullDecimal; Missing becomes NaN
// or an invalid NullDecimal.
type Sink[T any] struct {
	ind  Indicator
	conv func(float64) T
	buf  []float64
}

// NewSink fails with ErrUnsupportedType for any other T.
func NewSink[T any](ind Indicator) (*Sink[T], error) {
	var conv func(float64) T
	var zero T
	switch any(zero).(type) {
	case float64:
		conv = func(v float64) T { return any(v).(T) }
	case float32:
		conv = func(v float64) T { return any(float32(v)).(T) }
	case decimal.NullDecimal:
		conv = func(v float64) T {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return any(decimal.NullDecimal{}).(T)
			}
			return any(decimal.NewNullDecimal(decimal.NewFromFloat(v))).(T)
		}
	default:
		return nil, fmt.Errorf("%w: output element %T", ErrUnsupportedType, zero)
	}
	return &Sink[T]{ind: ind, conv: conv}, nil
}

// Update feeds bars through the indicator and writes converted rows into out
// with the same start/skip semantics as Indicator.Update.
func (s *Sink[T]) Update(bars []model.Bar, out []T, start, skip int) int {
	width := len(s.ind.Slots())
	if need := len(bars) * width; cap(s.buf) < need {
		s.buf = make([]float64, need)
	}
	buf := s.buf[:len(bars)*width]
	var dst []float64
	if out != nil {
		dst = buf
	}
	rows := s.ind.Update(bars, dst, 0, skip)
	for i := 0; i < rows*width; i++ {
		out[start+i] = s.conv(buf[i])
	}
	return rows
}

// Values converts the latest row.
func (s *Sink[T]) Values() []T {
	vals := s.ind.Values()
	out := make([]T, len(vals))
	for i, v := range vals {
		out[i] = s.conv(v)
	}
	return out
}

func (s *Sink[T]) Indicator() Indicator { return s.ind }
