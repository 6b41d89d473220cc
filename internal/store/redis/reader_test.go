package redis

import (
	"errors"
	"testing"
)

func TestDecodeBar(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]interface{}
		ok     bool
	}{
		{"valid", map[string]interface{}{"data": `{"symbol":"SBIN","tf":60,"ts":120,"open":1,"high":2,"low":0.5,"close":1.5,"volume":10}`}, true},
		{"missing data", map[string]interface{}{"other": "x"}, false},
		{"not a string", map[string]interface{}{"data": 42}, false},
		{"bad json", map[string]interface{}{"data": `{"symbol":`}, false},
		{"no symbol", map[string]interface{}{"data": `{"tf":60,"ts":120}`}, false},
		{"zero tf", map[string]interface{}{"data": `{"symbol":"SBIN","ts":120}`}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, ok := decodeBar(tt.values)
			if ok != tt.ok {
				t.Fatalf("ok=%v, want %v", ok, tt.ok)
			}
			if ok && (b.Symbol != "SBIN" || b.TF != 60 || b.TS != 120 || b.Close != 1.5) {
				t.Errorf("decoded %+v", b)
			}
		})
	}
}

func TestGroupStreamArgs(t *testing.T) {
	got := groupStreamArgs([]string{"bar:60s:A", "bar:60s:B"})
	want := []string{"bar:60s:A", "bar:60s:B", ">", ">"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestBarStreams(t *testing.T) {
	got := BarStreams([]int{60, 300}, []string{"SBIN"})
	if len(got) != 2 || got[0] != "bar:60s:SBIN" || got[1] != "bar:300s:SBIN" {
		t.Errorf("got %v", got)
	}
}

func TestStreamMaxLen(t *testing.T) {
	if got := streamMaxLen(60); got != 280 {
		t.Errorf("60s: %d", got)
	}
	if got := streamMaxLen(3600); got != minStreamLen {
		t.Errorf("3600s: %d", got)
	}
	if got := streamMaxLen(0); got != minStreamLen {
		t.Errorf("0s: %d", got)
	}
}

func TestIsBusyGroup(t *testing.T) {
	if !isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")) {
		t.Error("expected busy group")
	}
	if isBusyGroup(errors.New("ERR no such key")) {
		t.Error("unexpected busy group")
	}
}
