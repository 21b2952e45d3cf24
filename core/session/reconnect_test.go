package session

import (
	"testing"
	"time"
)

func TestReconnectDelaysDoubleUpToCeiling(t *testing.T) {
	p := NewReconnectPolicy()
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
		300 * time.Second,
		300 * time.Second,
		300 * time.Second,
	}
	for i, w := range want {
		if got := p.NextDelay(); got != w {
			t.Fatalf("failure %d: got %s want %s", i+1, got, w)
		}
	}
}

func TestReconnectResetReturnsToFloor(t *testing.T) {
	p := NewReconnectPolicy()
	for i := 0; i < 4; i++ {
		p.NextDelay()
	}
	p.Reset()
	if got := p.NextDelay(); got != 5*time.Second {
		t.Fatalf("after reset: got %s want 5s", got)
	}
}
