// Package local implements the Local backend: tracks are fetched and
// decoded by the bot's own process through a controllable
// play/pause/stop/load/volume FFmpeg pipeline.
package local

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"songbot/internal/buffer"
	"songbot/internal/encoder"
	"songbot/internal/events"
)

// StreamResolver turns a streaming_audio track's opaque id into a directly
// fetchable stream URL, abstracting whatever external resolver backs this
// provider.
type StreamResolver interface {
	ResolveStreamURL(ctx context.Context, opaqueID string) (string, error)
}

// Local is a Backend driving one FFmpeg decode pipeline at a time.
type Local struct {
	resolver StreamResolver
	encCfg   encoder.Config
	pacing   buffer.Config

	mu      sync.Mutex
	current *playthrough
	volume  int
	evCh    chan events.BackendEvent
	paused  atomic.Bool
}

// playthrough is one Load's pipeline plus the end reason recorded for it.
// Each Load gets its own value so a slow-draining old pipeline's watch can
// never observe a newer generation's reason.
type playthrough struct {
	pipeline   encoder.Pipeline
	cancel     context.CancelFunc
	stopReason events.EndReason
}

// New builds a Local backend with the given encoder and pacing
// configuration, using resolver to turn track ids into stream URLs.
func New(resolver StreamResolver, encCfg encoder.Config, pacing buffer.Config) *Local {
	return &Local{
		resolver: resolver,
		encCfg:   encCfg,
		pacing:   pacing,
		volume:   100,
		evCh:     make(chan events.BackendEvent, 8),
	}
}

// Kind identifies this backend.
func (l *Local) Kind() string { return "local" }

// Events returns the channel of upstream events.
func (l *Local) Events() <-chan events.BackendEvent { return l.evCh }

// Load stops any in-flight track (emitting Ended(Preempted)), then starts
// decoding the new one, returning once the paced buffer releases its first
// prebuffered chunk. If ctx is cancelled first, the new pipeline is torn
// down with Ended(Cancelled) and ctx's error is returned.
func (l *Local) Load(ctx context.Context, trackID string, offsetMS int64) error {
	l.preempt(events.EndReasonPreempted)

	streamURL, err := l.resolver.ResolveStreamURL(ctx, trackID)
	if err != nil {
		return fmt.Errorf("local: resolve stream: %w", err)
	}

	cfg := l.encCfg
	cfg.Volume = float64(l.currentVolume()) / 100.0
	pipeline := encoder.NewFFmpegPipeline(cfg)
	pipeline.SetTrackID(trackID)

	pctx, cancel := context.WithCancel(context.Background())
	if err := pipeline.Start(pctx, streamURL, encoder.FormatOpus, float64(offsetMS)/1000.0); err != nil {
		cancel()
		return fmt.Errorf("local: start pipeline: %w", err)
	}

	pacing := l.pacing
	pacing.TrackID = trackID
	paced := buffer.NewPacedBuffer(pacing).Start(pctx, pipeline.Output())

	pt := &playthrough{pipeline: pipeline, cancel: cancel}
	l.mu.Lock()
	l.current = pt
	l.mu.Unlock()
	l.paused.Store(false)

	select {
	case <-paced: // first prebuffered chunk; a closed stream is reported by watch
	case <-ctx.Done():
		l.preempt(events.EndReasonCancelled)
		go l.watch(pt, paced)
		return ctx.Err()
	}

	go l.watch(pt, paced)

	select {
	case l.evCh <- events.BackendEvent{Kind: events.Started}:
	default:
	}
	return nil
}

// watch drains the paced output until it closes (stream ended, context
// cancelled, or process died) and emits the corresponding Ended event. The
// paced buffer is the sole consumer of the raw pipeline so nothing else
// may read from it concurrently.
func (l *Local) watch(pt *playthrough, paced <-chan []byte) {
	for range paced {
	}
	l.mu.Lock()
	reason := pt.stopReason
	if reason == "" {
		reason = events.EndReasonCompleted
	}
	if l.current == pt {
		l.current = nil
	}
	l.mu.Unlock()

	select {
	case l.evCh <- events.BackendEvent{Kind: events.Ended, EndReason: reason}:
	default:
	}
}

func (l *Local) preempt(reason events.EndReason) {
	l.mu.Lock()
	pt := l.current
	if pt == nil {
		l.mu.Unlock()
		return
	}
	pt.stopReason = reason
	l.current = nil
	l.mu.Unlock()

	if pt.cancel != nil {
		pt.cancel()
	}
	pt.pipeline.Stop()
}

func (l *Local) currentVolume() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.volume
}

// Play resumes a paused pipeline (SIGCONT). A no-op when the pipeline is
// already running.
func (l *Local) Play(ctx context.Context) error {
	l.mu.Lock()
	pt := l.current
	l.mu.Unlock()
	if pt == nil {
		return fmt.Errorf("local: no track loaded")
	}
	if !l.paused.Swap(false) {
		return nil
	}
	pt.pipeline.Resume()
	select {
	case l.evCh <- events.BackendEvent{Kind: events.Resumed}:
	default:
	}
	return nil
}

// Pause suspends the pipeline (SIGSTOP). A no-op when already paused.
func (l *Local) Pause(ctx context.Context) error {
	l.mu.Lock()
	pt := l.current
	l.mu.Unlock()
	if pt == nil {
		return fmt.Errorf("local: no track loaded")
	}
	if l.paused.Swap(true) {
		return nil
	}
	pt.pipeline.Pause()
	select {
	case l.evCh <- events.BackendEvent{Kind: events.Paused}:
	default:
	}
	return nil
}

// Stop tears down the current pipeline and emits Ended(Cancelled).
func (l *Local) Stop(ctx context.Context) error {
	l.preempt(events.EndReasonCancelled)
	return nil
}

// Volume clamps percent to 0..100 and re-applies it via a fresh filter on
// the next Load (FFmpeg's volume filter cannot be adjusted mid-stream
// without restarting the graph, so this takes effect starting the next
// track; live ducking is an overlay-side concern for this backend).
func (l *Local) Volume(ctx context.Context, percent int) error {
	percent = clampVolume(percent)
	l.mu.Lock()
	l.volume = percent
	l.mu.Unlock()
	select {
	case l.evCh <- events.BackendEvent{Kind: events.VolumeChanged, VolumePercent: percent}:
	default:
	}
	return nil
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
