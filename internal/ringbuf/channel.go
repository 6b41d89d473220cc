package ringbuf

// Channel tracks the highest high and lowest low over the last period bars.
// While fewer than period bars were pushed the extrema cover what is there;
// callers gate on Full when they need a complete window.
type Channel struct {
	highs *Window
	lows  *Window
}

func NewChannel(period int) *Channel {
	return &Channel{highs: NewWindow(period), lows: NewWindow(period)}
}

// Push records one bar and returns the current upper and lower bounds.
func (c *Channel) Push(high, low float64) (upper, lower float64) {
	c.highs.Push(high)
	c.lows.Push(low)
	return c.Upper(), c.Lower()
}

func (c *Channel) Upper() float64 {
	v, _ := c.highs.Max()
	return v
}

func (c *Channel) Lower() float64 {
	v, _ := c.lows.Min()
	return v
}

// UpperAge is the number of bars since the highest high.
func (c *Channel) UpperAge() int {
	_, age := c.highs.Max()
	return age
}

// LowerAge is the number of bars since the lowest low.
func (c *Channel) LowerAge() int {
	_, age := c.lows.Min()
	return age
}

func (c *Channel) Len() int   { return c.highs.Len() }
func (c *Channel) Full() bool { return c.highs.Full() }

func (c *Channel) Reset() {
	c.highs.Reset()
	c.lows.Reset()
}
