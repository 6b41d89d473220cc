package ringbuf

import "math"

// Window is a fixed-capacity sliding window over float64 samples.
//
// Push is O(1). Once full, each push overwrites the oldest sample. Min and Max
// scan the filled region linearly; Mean and Variance come from a running
// Welford accumulator that is updated on every insert and eviction.
type Window struct {
	buf   []float64
	next  int // write cursor
	count int // filled slots, saturates at len(buf)

	mean float64
	m2   float64
	sum  float64
}

// NewWindow creates a window holding at most capacity samples (min 1).
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]float64, capacity)}
}

// Push inserts v. When the window was already full it returns the evicted
// sample and true.
func (w *Window) Push(v float64) (evicted float64, full bool) {
	if w.count == len(w.buf) {
		evicted = w.buf[w.next]
		full = true
		w.remove(evicted)
	} else {
		w.count++
	}
	w.buf[w.next] = v
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
	}
	w.add(v)
	return evicted, full
}

func (w *Window) add(v float64) {
	w.sum += v
	n := float64(w.count)
	d := v - w.mean
	w.mean += d / n
	w.m2 += d * (v - w.mean)
}

// remove undoes add for x; count has not been decremented yet.
func (w *Window) remove(x float64) {
	w.sum -= x
	n := float64(w.count - 1)
	if n == 0 {
		w.mean, w.m2 = 0, 0
		return
	}
	d := x - w.mean
	w.mean -= d / n
	w.m2 -= d * (x - w.mean)
	if w.m2 < 0 {
		w.m2 = 0
	}
}

// Len is the number of filled slots.
func (w *Window) Len() int { return w.count }

// Cap is the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Full reports whether Len() == Cap().
func (w *Window) Full() bool { return w.count == len(w.buf) }

// At returns the sample pushed age pushes ago; At(0) is the latest.
func (w *Window) At(age int) float64 {
	if age < 0 || age >= w.count {
		return math.NaN()
	}
	i := w.next - 1 - age
	if i < 0 {
		i += len(w.buf)
	}
	return w.buf[i]
}

// Last is At(0).
func (w *Window) Last() float64 { return w.At(0) }

// Oldest returns the sample that the next push into a full window evicts.
func (w *Window) Oldest() float64 { return w.At(w.count - 1) }

// Max returns the largest sample and its age. On ties the most recently
// pushed occurrence wins. An empty window returns (NaN, -1).
func (w *Window) Max() (float64, int) {
	if w.count == 0 {
		return math.NaN(), -1
	}
	best, bestAge := w.At(0), 0
	for age := 1; age < w.count; age++ {
		if v := w.At(age); v > best {
			best, bestAge = v, age
		}
	}
	return best, bestAge
}

// Min returns the smallest sample and its age, most recent on ties.
func (w *Window) Min() (float64, int) {
	if w.count == 0 {
		return math.NaN(), -1
	}
	best, bestAge := w.At(0), 0
	for age := 1; age < w.count; age++ {
		if v := w.At(age); v < best {
			best, bestAge = v, age
		}
	}
	return best, bestAge
}

// Sum of the filled region.
func (w *Window) Sum() float64 { return w.sum }

// Mean of the filled region; NaN when empty.
func (w *Window) Mean() float64 {
	if w.count == 0 {
		return math.NaN()
	}
	return w.mean
}

// Variance is the population variance of the filled region.
func (w *Window) Variance() float64 {
	if w.count == 0 {
		return math.NaN()
	}
	return w.m2 / float64(w.count)
}

// SampleVariance divides by n-1; NaN below two samples.
func (w *Window) SampleVariance() float64 {
	if w.count < 2 {
		return math.NaN()
	}
	return w.m2 / float64(w.count-1)
}

// StdDev is the population standard deviation.
func (w *Window) StdDev() float64 { return math.Sqrt(w.Variance()) }

// Reset empties the window without reallocating.
func (w *Window) Reset() {
	for i := range w.buf {
		w.buf[i] = 0
	}
	w.next, w.count = 0, 0
	w.mean, w.m2, w.sum = 0, 0, 0
}
