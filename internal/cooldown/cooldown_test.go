package cooldown

import (
	"testing"
	"time"
)

func TestCooldownOpenWhenNeverPoked(t *testing.T) {
	c := New(10 * time.Second)
	if _, closed := c.Check(time.Now()); closed {
		t.Fatal("fresh cooldown should be open")
	}
}

func TestCooldownPokeClosesThenOpens(t *testing.T) {
	window := 10 * time.Second
	c := New(window)
	t0 := time.Unix(1000, 0)
	c = c.Poke(t0)

	remaining, closed := c.Check(t0.Add(3 * time.Second))
	if !closed {
		t.Fatal("expected closed immediately after poke")
	}
	if remaining != window-3*time.Second {
		t.Fatalf("remaining = %v, want %v", remaining, window-3*time.Second)
	}

	if _, closed := c.Check(t0.Add(window)); closed {
		t.Fatal("expected open once window has fully elapsed")
	}
}

func TestCounterResetsAfterInterval(t *testing.T) {
	c := NewCounter(2, time.Minute)
	t0 := time.Unix(2000, 0)

	c = c.Increment(t0)
	c = c.Increment(t0.Add(time.Second))
	if c.Remaining(t0.Add(time.Second)) != 0 {
		t.Fatal("expected counter exhausted")
	}

	if c.Remaining(t0.Add(2 * time.Minute)) != 2 {
		t.Fatal("expected counter reset after interval elapsed")
	}
}
