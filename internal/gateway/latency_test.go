package gateway

import (
	"math"
	"testing"
	"time"
)

func TestLatencyTracker_Empty(t *testing.T) {
	if q := NewLatencyTracker(100).Quantiles(); q != (Quantiles{}) {
		t.Errorf("empty tracker: got %+v", q)
	}
}

func TestLatencyTracker_SingleSample(t *testing.T) {
	lt := NewLatencyTracker(100)
	lt.Observe(42500 * time.Microsecond)
	q := lt.Quantiles()
	if q.P50 != 42.5 || q.P95 != 42.5 || q.P99 != 42.5 || q.Count != 1 {
		t.Errorf("got %+v", q)
	}
}

func TestLatencyTracker_Quantiles(t *testing.T) {
	lt := NewLatencyTracker(1000)
	for i := 100; i >= 1; i-- {
		lt.Observe(time.Duration(i) * time.Millisecond)
	}
	q := lt.Quantiles()
	// 1..100: rank q*99
	for _, c := range []struct {
		name      string
		got, want float64
	}{{"p50", q.P50, 50.5}, {"p95", q.P95, 95.05}, {"p99", q.P99, 99.01}} {
		if math.Abs(c.got-c.want) > 1e-9 {
			t.Errorf("%s: got %f, want %f", c.name, c.got, c.want)
		}
	}
}

func TestLatencyTracker_WrapsAndIgnoresNegative(t *testing.T) {
	lt := NewLatencyTracker(10)
	for i := 1; i <= 20; i++ {
		lt.Observe(time.Duration(i) * time.Millisecond)
	}
	lt.Observe(-time.Second)

	q := lt.Quantiles()
	if q.Count != 10 {
		t.Fatalf("count %d, want 10", q.Count)
	}
	// buffer holds 11..20
	if math.Abs(q.P50-15.5) > 1e-9 {
		t.Errorf("p50 after wraparound: got %f, want 15.5", q.P50)
	}
}
