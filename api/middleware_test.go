package api

import (
	"fmt"
	"testing"
	"time"
)

func TestIPLimiterSweep(t *testing.T) {
	l := newIPLimiter(1, 1)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		l.allow(fmt.Sprintf("10.0.0.%d", i), start)
	}
	if len(l.visitors) != 5 {
		t.Fatalf("Expected 5 visitors, got %d", len(l.visitors))
	}

	// Past the idle window but inside the sweep interval of the last sweep
	l.lastSweep = start.Add(l.idle)
	l.allow("10.0.0.9", start.Add(l.idle+time.Second))
	if len(l.visitors) != 6 {
		t.Errorf("Expected no sweep before the interval, got %d visitors", len(l.visitors))
	}

	l.allow("10.0.0.9", start.Add(l.idle+l.sweepEvery))
	if len(l.visitors) != 1 {
		t.Errorf("Expected idle visitors swept, got %d visitors", len(l.visitors))
	}
	if _, ok := l.visitors["10.0.0.9"]; !ok {
		t.Error("Active visitor was swept")
	}
}

func TestIPLimiterAllow(t *testing.T) {
	l := newIPLimiter(1, 2)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		key  string
		at   time.Time
		want bool
	}{
		{"10.0.0.1", now, true},
		{"10.0.0.1", now, true},
		{"10.0.0.1", now, false},
		{"10.0.0.2", now, true},
		{"10.0.0.1", now.Add(time.Second), true},
	}

	for i, tt := range tests {
		if got := l.allow(tt.key, tt.at); got != tt.want {
			t.Errorf("call %d: allow(%s) = %v, want %v", i, tt.key, got, tt.want)
		}
	}
}
