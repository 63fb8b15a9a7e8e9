// Package reconciler polls the Remote backend's hosted device and drives
// its observed state back toward the Player State Machine's intended
// state. It never drives the device synchronously, only via this poll
// loop, and is always cancellable.
package reconciler

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"songbot/internal/backend/remote"
	"songbot/internal/events"
)

// Intended is the snapshot of the Player's intended state the reconciler
// diffs observed device state against.
type Intended struct {
	Mode          events.PlayerMode
	TrackID       string
	ElapsedMS     int64
	VolumePercent int
}

// Device is the subset of the Remote backend the reconciler drives.
type Device interface {
	Status(ctx context.Context) (*remote.DeviceState, error)
	Load(ctx context.Context, trackID string, offsetMS int64) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Volume(ctx context.Context, percent int) error
}

// Callbacks lets the reconciler report corrections back to the owner
// (normally internal/playerfsm) without importing it.
type Callbacks struct {
	// UpdateElapsed is called when observed progress drifts from
	// intended by more than the drift threshold; the caller should trust
	// the remote's reported elapsed.
	UpdateElapsed func(ms int64)
	// Warn is called for the "N consecutive refusals" downgrade case and
	// other user-visible but non-fatal conditions.
	Warn func(msg string)
	// ForcePause is called alongside Warn once refusals reach MaxRefusals:
	// the device is no longer trusted to honor play commands, so the
	// Player's own mode is downgraded to Paused rather than left claiming
	// a Playing state the device keeps refusing.
	ForcePause func()
}

// Config tunes the reconciler's poll cadence and drift tolerance.
type Config struct {
	IdleInterval    time.Duration
	PlayingInterval time.Duration
	DriftThreshold  time.Duration
	MaxRefusals     int
}

// DefaultConfig: 5s idle, 1s playing, three refusals before downgrade.
func DefaultConfig() Config {
	return Config{
		IdleInterval:    5 * time.Second,
		PlayingInterval: 1 * time.Second,
		DriftThreshold:  2 * time.Second,
		MaxRefusals:     3,
	}
}

// Reconciler is the poll-and-correct loop for one channel's Remote device.
type Reconciler struct {
	device    Device
	intended  func() Intended
	callbacks Callbacks
	cfg       Config
	events    chan<- events.BackendEvent
	log       *logrus.Entry

	deviceLostNotified bool
	refusals           int
}

// New builds a Reconciler. evCh is the shared backend event channel the
// Player State Machine's mailbox is already listening on — DeviceLost is
// published there so the Player treats it identically to any other
// backend-originated event.
func New(device Device, intended func() Intended, callbacks Callbacks, cfg Config, evCh chan<- events.BackendEvent, log *logrus.Entry) *Reconciler {
	return &Reconciler{
		device:    device,
		intended:  intended,
		callbacks: callbacks,
		cfg:       cfg,
		events:    evCh,
		log:       log.WithField("component", "reconciler"),
	}
}

// Run polls until ctx is cancelled, completing within one poll period of
// cancellation.
func (r *Reconciler) Run(ctx context.Context) {
	interval := r.cfg.IdleInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			intended := r.intended()
			r.tick(ctx, intended)

			if intended.Mode == events.ModePlaying {
				interval = r.cfg.PlayingInterval
			} else {
				interval = r.cfg.IdleInterval
			}
			timer.Reset(interval)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context, intended Intended) {
	state, err := r.device.Status(ctx)
	if err != nil {
		r.log.WithError(err).Warn("status poll failed")
		return
	}

	if state == nil {
		if intended.Mode == events.ModePlaying {
			r.reportDeviceLost()
		}
		return
	}
	r.deviceLostNotified = false

	if intended.TrackID != "" && state.CurrentTrackID != nil && *state.CurrentTrackID != intended.TrackID {
		r.correctTrackMismatch(ctx, intended)
		return
	}
	if intended.TrackID != "" && state.CurrentTrackID == nil && intended.Mode == events.ModePlaying {
		r.correctTrackMismatch(ctx, intended)
		return
	}

	r.correctPlayPause(ctx, intended, state)
	r.correctDrift(intended, state)
	r.correctVolume(ctx, intended, state)
}

func (r *Reconciler) reportDeviceLost() {
	if r.deviceLostNotified {
		return
	}
	r.deviceLostNotified = true
	select {
	case r.events <- events.BackendEvent{Kind: events.DeviceLost}:
	default:
	}
}

func (r *Reconciler) correctTrackMismatch(ctx context.Context, intended Intended) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 60 * time.Second
	b.MaxElapsedTime = 0 // caller-bounded by ctx, not by total retry time

	op := func() error {
		return r.device.Load(ctx, intended.TrackID, intended.ElapsedMS)
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		r.log.WithError(err).Warn("failed to correct track mismatch")
	}
}

func (r *Reconciler) correctPlayPause(ctx context.Context, intended Intended, state *remote.DeviceState) {
	wantPlaying := intended.Mode == events.ModePlaying
	if wantPlaying == state.IsPlaying {
		r.refusals = 0
		return
	}

	var err error
	if wantPlaying {
		err = r.device.Play(ctx)
	} else {
		err = r.device.Pause(ctx)
	}
	if err == nil {
		r.refusals = 0
		return
	}

	r.refusals++
	r.log.WithError(err).WithField("refusals", r.refusals).Warn("device refused play/pause correction")
	if r.refusals >= r.cfg.MaxRefusals {
		r.refusals = 0
		if r.callbacks.Warn != nil {
			r.callbacks.Warn("the remote device is not responding; playback paused")
		}
		if r.callbacks.ForcePause != nil {
			r.callbacks.ForcePause()
		}
	}
}

func (r *Reconciler) correctDrift(intended Intended, state *remote.DeviceState) {
	observed := time.Duration(state.ProgressMS) * time.Millisecond
	want := time.Duration(intended.ElapsedMS) * time.Millisecond
	diff := observed - want
	if diff < 0 {
		diff = -diff
	}
	if diff > r.cfg.DriftThreshold && r.callbacks.UpdateElapsed != nil {
		r.callbacks.UpdateElapsed(state.ProgressMS)
	}
}

func (r *Reconciler) correctVolume(ctx context.Context, intended Intended, state *remote.DeviceState) {
	if state.VolumePercent == intended.VolumePercent {
		return
	}
	if err := r.device.Volume(ctx, intended.VolumePercent); err != nil {
		r.log.WithError(err).Warn("failed to write intended volume to device")
	}
}
