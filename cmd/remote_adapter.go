package cmd

import (
	"context"

	"songbot/internal/backend/remote"
	"songbot/internal/events"
)

// mergingRemote adapts *remote.Remote to backend.Backend such that events
// the reconciler publishes (DeviceLost, and any future device-state-derived
// kinds) and events the Remote backend originates itself (Started on Load)
// arrive on the same channel the Player State Machine forwards from,
// without either internal/backend/remote or internal/reconciler needing to
// know about the other.
type mergingRemote struct {
	remote *remote.Remote
	merged chan events.BackendEvent
	done   chan struct{}
}

func newMergingRemote(r *remote.Remote) *mergingRemote {
	m := &mergingRemote{
		remote: r,
		merged: make(chan events.BackendEvent, 8),
		done:   make(chan struct{}),
	}
	go m.relay()
	return m
}

func (m *mergingRemote) relay() {
	for {
		select {
		case ev, ok := <-m.remote.Events():
			if !ok {
				return
			}
			select {
			case m.merged <- ev:
			case <-m.done:
				return
			}
		case <-m.done:
			return
		}
	}
}

func (m *mergingRemote) Events() <-chan events.BackendEvent { return m.merged }
func (m *mergingRemote) Kind() string                       { return m.remote.Kind() }

func (m *mergingRemote) Load(ctx context.Context, trackID string, offsetMS int64) error {
	return m.remote.Load(ctx, trackID, offsetMS)
}
func (m *mergingRemote) Play(ctx context.Context) error    { return m.remote.Play(ctx) }
func (m *mergingRemote) Pause(ctx context.Context) error   { return m.remote.Pause(ctx) }
func (m *mergingRemote) Stop(ctx context.Context) error    { return m.remote.Stop(ctx) }
func (m *mergingRemote) Volume(ctx context.Context, percent int) error {
	return m.remote.Volume(ctx, percent)
}
