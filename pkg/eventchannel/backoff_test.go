package eventchannel

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second, CapExponent: 5}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{50, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffCapExponent(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Hour, CapExponent: 3}
	if got := b.Delay(10); got != 800*time.Millisecond {
		t.Errorf("Delay(10) = %v, want 800ms", got)
	}
}

func TestBackoffMonotonicAndBounded(t *testing.T) {
	policies := []Backoff{
		{Base: time.Second, Max: 30 * time.Second, CapExponent: 5, Jitter: time.Second},
		{Base: 250 * time.Millisecond, Max: 2 * time.Second, CapExponent: 10, Jitter: 50 * time.Millisecond},
		{Base: time.Minute, Max: time.Minute, CapExponent: 1},
		{Base: time.Second, Max: 24 * time.Hour, CapExponent: 62},
	}
	for _, b := range policies {
		prev := time.Duration(0)
		for attempt := 1; attempt <= 100; attempt++ {
			d := b.Delay(attempt)
			if d < prev {
				t.Fatalf("%+v: Delay(%d) = %v decreased from %v", b, attempt, d, prev)
			}
			if d > b.Max {
				t.Fatalf("%+v: Delay(%d) = %v exceeds max", b, attempt, d)
			}
			prev = d
			for i := 0; i < 5; i++ {
				if n := b.Next(attempt); n < d || n > b.Max+b.Jitter {
					t.Fatalf("%+v: Next(%d) = %v outside [%v, %v]", b, attempt, n, d, b.Max+b.Jitter)
				}
			}
		}
	}
}
