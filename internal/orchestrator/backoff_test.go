package orchestrator

import (
	"testing"
	"time"
)

func TestBackoffDelayDoubles(t *testing.T) {
	base := 250 * time.Millisecond
	max := 10 * time.Second

	want := []time.Duration{
		250 * time.Millisecond,
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
	}
	for attempt, expected := range want {
		if got := backoffDelay(attempt, base, max); got != expected {
			t.Errorf("attempt %d: expected %s, got %s", attempt, expected, got)
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	if got := backoffDelay(20, 250*time.Millisecond, 10*time.Second); got != 10*time.Second {
		t.Errorf("expected cap at 10s, got %s", got)
	}
}

func TestBackoffDelayDefaultsBase(t *testing.T) {
	if got := backoffDelay(0, 0, 0); got != 250*time.Millisecond {
		t.Errorf("expected default base, got %s", got)
	}
}
