package indicator

// Direction of a trend regime.
type Direction int8

const (
	Short Direction = -1
	Long  Direction = 1
)

func (d Direction) String() string {
	if d == Short {
		return "short"
	}
	return "long"
}

// RegimeConfig bounds the adaptive offset of a Regime. The offset starts at
// Floor and grows by Increment on every new extreme, capped at Ceiling.
// Increment 0 means a fixed offset.
type RegimeConfig struct {
	Floor     float64
	Ceiling   float64
	Increment float64
}

func (c RegimeConfig) Validate() error {
	if c.Increment < 0 {
		return invalidf("regime increment %v is negative", c.Increment)
	}
	if c.Increment > 0 && c.Ceiling <= c.Floor {
		return invalidf("regime ceiling %v must exceed floor %v", c.Ceiling, c.Floor)
	}
	return nil
}

// Regime is the two-state trend-reversal machine shared by SAR, Supertrend
// and ZigZag. The caller derives a stop level from the regime each bar; the
// regime flips when price touches or crosses it.
//
// A fresh regime starts Long with the first bar's high as its extreme.
type Regime struct {
	cfg RegimeConfig

	started bool
	dir     Direction
	extreme float64
	offset  float64
	since   int // bars since the extreme was set
	leg     int // bars since the last flip
}

func NewRegime(cfg RegimeConfig) (*Regime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Regime{cfg: cfg}, nil
}

// Start seeds the regime from the first bar.
func (r *Regime) Start(high, low float64) {
	r.Seed(Long, high)
}

// Seed starts the regime in an explicit direction.
func (r *Regime) Seed(dir Direction, extreme float64) {
	r.started = true
	r.dir = dir
	r.extreme = extreme
	r.offset = r.cfg.Floor
	r.since, r.leg = 0, 0
}

// Step advances one bar against the given stop level. When gate is false a
// crossing is ignored. It returns true if the regime flipped on this bar;
// the new extreme is then the bar's low (now Short) or high (now Long) and
// the offset is back at its floor.
func (r *Regime) Step(high, low, stop float64, gate bool) bool {
	r.since++
	r.leg++

	switch {
	case r.dir == Long && gate && low <= stop:
		r.flip(Short, low)
		return true
	case r.dir == Short && gate && high >= stop:
		r.flip(Long, high)
		return true
	}

	if (r.dir == Long && high > r.extreme) || (r.dir == Short && low < r.extreme) {
		if r.dir == Long {
			r.extreme = high
		} else {
			r.extreme = low
		}
		r.since = 0
		r.offset = min(r.offset+r.cfg.Increment, max(r.cfg.Ceiling, r.cfg.Floor))
	}
	return false
}

func (r *Regime) flip(to Direction, extreme float64) {
	r.dir = to
	r.extreme = extreme
	r.offset = r.cfg.Floor
	r.since, r.leg = 0, 0
}

func (r *Regime) Started() bool         { return r.started }
func (r *Regime) Direction() Direction  { return r.dir }
func (r *Regime) Extreme() float64      { return r.extreme }
func (r *Regime) Offset() float64       { return r.offset }
func (r *Regime) BarsSinceExtreme() int { return r.since }
func (r *Regime) LegBars() int          { return r.leg }

func (r *Regime) Reset() {
	*r = Regime{cfg: r.cfg}
}
