package bus

import (
	"context"
	"testing"
	"time"

	"trading-indicators/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New[model.Output](10)
	out1 := fo.Subscribe("redis")
	out2 := fo.Subscribe("ws")

	input := make(chan model.Output, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.Output{Key: "EMA(5)", Symbol: "SBIN", TF: 60, TS: 120}

	for name, ch := range map[string]<-chan model.Output{"redis": out1, "ws": out2} {
		select {
		case o := <-ch:
			if o.Key != "EMA(5)" || o.TS != 120 {
				t.Errorf("%s: got %+v", name, o)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: timed out waiting for output", name)
		}
	}
}

func TestFanOut_DropsForSlowSubscriber(t *testing.T) {
	fo := New[int](1)
	fast := fo.Subscribe("fast")
	_ = fo.Subscribe("slow")

	var dropped []string
	fo.OnDrop = func(name string) { dropped = append(dropped, name) }

	input := make(chan int)
	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), input)
		close(done)
	}()

	input <- 1
	if v := <-fast; v != 1 {
		t.Fatalf("fast got %d", v)
	}
	input <- 2
	if v := <-fast; v != 2 {
		t.Fatalf("fast got %d", v)
	}
	close(input)
	<-done

	if len(dropped) != 1 || dropped[0] != "slow" {
		t.Errorf("dropped %v, want [slow]", dropped)
	}
	if _, ok := <-fast; ok {
		t.Error("expected fast channel closed after Run returns")
	}
	if _, ok := <-fo.Subscribe("late"); ok {
		t.Error("expected late subscription to be closed")
	}
}

func TestChannelStats(t *testing.T) {
	fo := New[int](4)
	fo.Subscribe("a")
	stats := fo.ChannelStats()
	if len(stats) != 1 || stats[0].Name != "a" || stats[0].Cap != 4 || stats[0].Saturation() != 0 {
		t.Errorf("stats %+v", stats)
	}
}
