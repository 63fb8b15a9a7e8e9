// Package backend defines the uniform contract the Player State Machine
// drives regardless of which provider a track belongs to.
package backend

import (
	"context"

	"songbot/internal/events"
)

// Backend is the contract every playback backend exposes. Calling Load
// while already playing implicitly stops the prior track and emits a
// synthetic Ended(reason=Preempted) on Events before the new Started.
type Backend interface {
	// Load fetches/primes track and blocks until playback can begin (Local:
	// enough data decoded to start; Remote: the hosted device accepted the
	// track), or ctx is cancelled. On cancellation it aborts and emits
	// Ended(reason=Cancelled).
	Load(ctx context.Context, trackID string, offsetMS int64) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	// Volume clamps percent to 0..100 and applies it.
	Volume(ctx context.Context, percent int) error
	// Events returns the channel of upstream BackendEvents. Closed when
	// the backend is shut down.
	Events() <-chan events.BackendEvent
	// Kind identifies this backend for logging/diagnostics.
	Kind() string
}

func clampVolume(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
