package idle

import "testing"

func TestIsIdleBelowThreshold(t *testing.T) {
	d := New(5)
	for i := 0; i < 3; i++ {
		d.Count()
	}
	if !d.IsIdle() {
		t.Fatal("expected idle below threshold")
	}
}

func TestIsIdleResetsOnceThresholdReached(t *testing.T) {
	d := New(3)
	for i := 0; i < 3; i++ {
		d.Count()
	}
	if d.IsIdle() {
		t.Fatal("expected not idle once threshold reached")
	}
	if !d.IsIdle() {
		t.Fatal("expected counter reset after crossing threshold, so immediately idle again")
	}
}
