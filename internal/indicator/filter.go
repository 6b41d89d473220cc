package indicator

import "math"

// SmoothMode picks the recursive filter's alpha.
type SmoothMode int

const (
	Exponential SmoothMode = iota // alpha = 2/(p+1)
	Wilder                        // alpha = 1/p
)

// Smoother is the recursive filter behind EMA, SMMA, RSI, ATR, ADX and MACD.
// The first period inputs are averaged into a seed; afterwards each input
// moves the output by alpha*(x - prev).
type Smoother struct {
	period  int
	alpha   float64
	partial bool

	n    int
	sum  float64
	prev float64
}

func NewSmoother(period int, mode SmoothMode) *Smoother {
	s := &Smoother{period: period}
	switch mode {
	case Wilder:
		s.alpha = 1 / float64(period)
	default:
		s.alpha = 2 / float64(period+1)
	}
	return s
}

// NewDMSmoother is the Wilder smoother ADX applies to true range and
// directional movement. The seed is the sum of the first period-1 inputs
// over period, and the period-th input is already a regular step.
func NewDMSmoother(period int) *Smoother {
	s := NewSmoother(period, Wilder)
	s.partial = true
	return s
}

// Add feeds x and returns the current output and whether the seed is complete.
func (s *Smoother) Add(x float64) (float64, bool) {
	if s.n < s.period {
		s.n++
		s.sum += x
		if s.n < s.period {
			return math.NaN(), false
		}
		if s.partial {
			s.prev = (s.sum - x) / float64(s.period)
			s.prev += s.alpha * (x - s.prev)
		} else {
			s.prev = s.sum / float64(s.period)
		}
		return s.prev, true
	}
	s.prev += s.alpha * (x - s.prev)
	return s.prev, true
}

// Value is the last output, NaN before seeding.
func (s *Smoother) Value() float64 {
	if s.n < s.period {
		return math.NaN()
	}
	return s.prev
}

func (s *Smoother) Seeded() bool { return s.n >= s.period }
func (s *Smoother) Period() int  { return s.period }

func (s *Smoother) Reset() {
	s.n = 0
	s.sum = 0
	s.prev = 0
}
