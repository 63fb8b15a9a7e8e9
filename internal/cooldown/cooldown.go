// Package cooldown implements the time-gate and counter primitives used by
// Request Intake to enforce per-user and per-channel limits.
package cooldown

import "time"

// Cooldown is a value type: the window is what gets persisted, the instant
// is transient and resets on process restart. Freely copyable.
type Cooldown struct {
	window     time.Duration
	lastAction time.Time
}

// New returns a Cooldown with the given window and no prior action.
func New(window time.Duration) Cooldown {
	return Cooldown{window: window}
}

// Window returns the configured gate duration.
func (c Cooldown) Window() time.Duration {
	return c.window
}

// Check returns the remaining wait, or false if the gate is open.
func (c Cooldown) Check(now time.Time) (time.Duration, bool) {
	if c.lastAction.IsZero() {
		return 0, false
	}
	elapsed := now.Sub(c.lastAction)
	if elapsed >= c.window {
		return 0, false
	}
	return c.window - elapsed, true
}

// Poke advances last-action to now, returning the updated value. Cooldown
// is a value type so callers must store the result.
func (c Cooldown) Poke(now time.Time) Cooldown {
	c.lastAction = now
	return c
}

// Counter is a per-key quota with a reset policy evaluated lazily on read.
type Counter struct {
	max      int
	resetAt  time.Time
	interval time.Duration
	count    int
}

// NewCounter returns a Counter capped at max, resetting every interval.
func NewCounter(max int, interval time.Duration) Counter {
	return Counter{max: max, interval: interval}
}

// Remaining returns how many more increments are allowed at now, resetting
// the window first if it has elapsed.
func (c Counter) Remaining(now time.Time) int {
	c = c.maybeReset(now)
	if c.count >= c.max {
		return 0
	}
	return c.max - c.count
}

// Increment records one use at now, resetting the window first if needed.
func (c Counter) Increment(now time.Time) Counter {
	c = c.maybeReset(now)
	c.count++
	return c
}

func (c Counter) maybeReset(now time.Time) Counter {
	if c.resetAt.IsZero() || !now.Before(c.resetAt) {
		c.count = 0
		c.resetAt = now.Add(c.interval)
	}
	return c
}
