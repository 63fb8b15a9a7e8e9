package playerfsm

import (
	"context"
	"time"

	"songbot/internal/events"
	"songbot/internal/eventbus"
	"songbot/internal/store"
	"songbot/internal/track"
)

func (f *FSM) handleRequestPlay() {
	if f.mode == events.ModeLoading {
		return
	}
	if f.current != nil {
		if f.mode == events.ModePaused {
			if b := f.activeBackend(); b != nil {
				_ = b.Play(f.ctx)
			}
			f.mode = events.ModePlaying
			f.publish()
		}
		return
	}

	ctx, cancel := context.WithTimeout(f.ctx, 10*time.Second)
	defer cancel()
	head, ok, err := f.st.Head(ctx, f.channel)
	if err != nil {
		f.log.WithError(err).Warn("failed to read queue head")
		return
	}
	if !ok {
		f.bus.Publish(eventbus.Player, events.PlayerStateChanged{Channel: f.channel, Mode: events.ModeNone, At: time.Now().UTC()})
		return
	}

	f.mode = events.ModeLoading
	f.publish()
	f.startLoad(head, false, nil, 0)
}

func (f *FSM) handleRequestPause() {
	if f.mode != events.ModePlaying {
		return
	}
	if b := f.activeBackend(); b != nil {
		_ = b.Pause(f.ctx)
	}
	f.mode = events.ModePaused
	f.publish()
}

// handleRequestSkip tombstones the current request and advances. A
// backend Ended lands here too: completion and skip share the same
// continuation, differing only in the recorded reason.
func (f *FSM) handleRequestSkip(reason events.EndReason) {
	if f.theme != nil {
		// Skip is not defined while a theme is pre-empting; themes always
		// run to completion or are ended by their own backend event.
		return
	}
	if f.mode == events.ModeLoading {
		f.cancelInFlightLoad()
		if f.loading != nil {
			ctx, cancel := context.WithTimeout(f.ctx, 10*time.Second)
			if _, err := f.st.Delete(ctx, f.loading.ID); err != nil {
				f.log.WithError(err).Warn("failed to tombstone loading request")
			}
			cancel()
			f.loading = nil
		}
		f.current = nil
		f.mode = events.ModeNone
		f.handleRequestPlay()
		return
	}
	if f.current == nil {
		f.mode = events.ModeNone
		f.publish()
		return
	}

	if b := f.backends[f.provider]; b != nil {
		_ = b.Stop(f.ctx)
	}

	ctx, cancel := context.WithTimeout(f.ctx, 10*time.Second)
	defer cancel()
	if reason == events.EndReasonCompleted {
		if _, err := f.st.Complete(ctx, f.current.ID); err != nil {
			f.log.WithError(err).Warn("failed to record request completion")
		}
	} else {
		if _, err := f.st.Delete(ctx, f.current.ID); err != nil {
			f.log.WithError(err).Warn("failed to tombstone current request")
		}
	}

	f.bus.Publish(eventbus.Song, events.SongUpdate{Channel: f.channel, Playing: false})
	f.current = nil
	f.mode = events.ModeNone
	f.handleRequestPlay()
}

// cancelInFlightLoad aborts a Loading transition and waits (bounded) for
// the load goroutine to finish before the caller proceeds.
func (f *FSM) cancelInFlightLoad() {
	if f.loadCancel == nil {
		return
	}
	f.loadCancel()
	select {
	case <-f.loadDone:
	case <-time.After(5 * time.Second):
		f.log.Warn("load goroutine did not exit within cancellation bound")
	}
	// Invalidate the cancelled load's generation so its completion message,
	// already queued in the mailbox, is discarded instead of resurrecting a
	// track that was just skipped.
	f.loadGen++
	f.loadCancel = nil
	f.loadDone = nil
}

func (f *FSM) handleSetVolume(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	f.volumePercent = percent

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = f.st.SetSetting(ctx, "volume:"+f.channel, itoa(percent))

	if b := f.activeBackend(); b != nil {
		_ = b.Volume(f.ctx, percent)
	}
	f.publish()
	if f.provider == track.VideoHost {
		f.bus.Publish(eventbus.YouTubeVolume, events.YouTubeVolumeDirective{Channel: f.channel, VolumePercent: percent})
	}
}

func (f *FSM) handlePlayTheme(name string) {
	if f.theme != nil {
		f.bus.Publish(eventbus.Chat, events.ChatMessage{Channel: f.channel, Text: "a theme is already playing"})
		return
	}
	theme, ok := f.themeByName(name)
	if !ok {
		f.bus.Publish(eventbus.Chat, events.ChatMessage{Channel: f.channel, Text: "no such theme: " + name})
		return
	}

	var savedReq *store.Request
	if f.current != nil {
		cp := *f.current
		savedReq = &cp
	}
	f.theme = &themeFrame{
		savedRequest: savedReq,
		savedElapsed: f.elapsedMS,
		savedMode:    f.mode,
		themeName:    name,
	}

	if b := f.backends[f.provider]; f.current != nil && b != nil {
		_ = b.Stop(f.ctx)
	}

	f.mode = events.ModeLoading
	f.publish()
	f.startLoad(store.Request{TrackID: theme.TrackID}, true, f.theme, theme.Offset.Milliseconds())
}

func (f *FSM) handleBackendEvent(provider track.Provider, ev events.BackendEvent) {
	switch ev.Kind {
	case events.Ended:
		if provider != f.provider || f.current == nil {
			return
		}
		if ev.EndReason == events.EndReasonCancelled || ev.EndReason == events.EndReasonPreempted {
			// Echoes of a Stop/Load this machine issued itself; the
			// transition that caused them already advanced the state, and
			// by the time they drain here f.current may be the next track.
			return
		}
		if f.theme != nil {
			f.restoreFromTheme()
			return
		}
		f.handleRequestSkip(ev.EndReason)
	case events.DeviceLost:
		if provider != f.provider || f.mode != events.ModePlaying {
			return
		}
		f.mode = events.ModePaused
		f.publish()
		if !f.deviceLostNotified {
			f.deviceLostNotified = true
			f.bus.Publish(eventbus.Chat, events.ChatMessage{Channel: f.channel, Text: "lost contact with the remote device; playback paused"})
		}
	case events.VolumeChanged:
		if provider != f.provider {
			return
		}
		f.volumePercent = ev.VolumePercent
		f.publish()
	case events.Started, events.Paused, events.Resumed:
		// applied synchronously by the command that caused them; these
		// are informational echoes from the backend and need no handling.
	}
}

func (f *FSM) restoreFromTheme() {
	frame := f.theme
	f.theme = nil

	if frame.savedRequest == nil {
		f.current = nil
		f.mode = events.ModeNone
		f.publish()
		return
	}

	f.pendingRestoreMode = frame.savedMode
	f.mode = events.ModeLoading
	f.publish()
	f.startLoad(*frame.savedRequest, false, nil, frame.savedElapsed)
}
