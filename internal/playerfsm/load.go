package playerfsm

import (
	"context"
	"errors"
	"strconv"

	"songbot/internal/events"
	"songbot/internal/eventbus"
	"songbot/internal/store"
	"songbot/internal/track"
)

// startLoad spawns the child task that performs the (possibly slow)
// backend.Load call and reports back via msgLoadCompleted, keeping the
// mailbox handler itself non-blocking.
func (f *FSM) startLoad(req store.Request, isTheme bool, frame *themeFrame, offsetMS int64) {
	ctx, cancel := context.WithCancel(f.ctx)
	f.loadGen++
	gen := f.loadGen
	f.loading = &req
	f.loadCancel = cancel
	done := make(chan struct{})
	f.loadDone = done

	go func() {
		defer close(done)

		id, err := track.Parse(req.TrackID)
		if err != nil {
			f.send(mailboxMsg{kind: msgLoadCompleted, loadGen: gen, loadErr: err, loadRequest: &req, loadIsTheme: isTheme, loadTheme: frame})
			return
		}

		meta, metaErr := f.metadata.Resolve(id)
		if metaErr != nil {
			f.send(mailboxMsg{kind: msgLoadCompleted, loadGen: gen, loadErr: metaErr, loadRequest: &req, loadIsTheme: isTheme, loadTheme: frame})
			return
		}

		b := f.backends[id.Provider]
		if b == nil {
			f.send(mailboxMsg{kind: msgLoadCompleted, loadGen: gen, loadErr: context.Canceled, loadRequest: &req, loadIsTheme: isTheme, loadTheme: frame})
			return
		}

		loadErr := b.Load(ctx, req.TrackID, offsetMS)
		f.send(mailboxMsg{
			kind:         msgLoadCompleted,
			loadGen:      gen,
			loadErr:      loadErr,
			loadRequest:  &req,
			loadProvider: id.Provider,
			loadOffsetMS: offsetMS,
			loadMeta:     trackLoadMeta{title: meta.Title, artists: meta.Artists, durationS: meta.DurationS},
			loadIsTheme:  isTheme,
			loadTheme:    frame,
		})
	}()
}

func (f *FSM) handleLoadCompleted(m mailboxMsg) {
	if m.loadGen != f.loadGen {
		// Superseded: a skip cancelled this load, or a newer load replaced
		// it. The current generation's own completion is still in flight.
		return
	}
	f.loading = nil
	f.loadCancel = nil
	f.loadDone = nil

	if m.loadErr != nil {
		f.log.WithError(m.loadErr).Warn("failed to load track")
		f.theme = nil
		f.current = nil
		f.mode = events.ModeNone
		f.publish()
		if !errors.Is(m.loadErr, context.Canceled) {
			f.bus.Publish(eventbus.Chat, events.ChatMessage{Channel: f.channel, Text: "could not play that track"})
		}
		return
	}

	f.current = m.loadRequest
	f.provider = m.loadProvider
	f.elapsedMS = m.loadOffsetMS
	f.mode = events.ModePlaying
	f.deviceLostNotified = false

	if m.loadIsTheme {
		f.theme = m.loadTheme
	}

	if f.pendingRestoreMode == events.ModePaused {
		f.pendingRestoreMode = ""
		if b := f.activeBackend(); b != nil {
			_ = b.Pause(f.ctx)
		}
		f.mode = events.ModePaused
	}
	f.pendingRestoreMode = ""

	f.publish()

	f.bus.Publish(eventbus.Song, events.SongUpdate{
		Channel:   f.channel,
		Title:     m.loadMeta.title,
		Artists:   m.loadMeta.artists,
		User:      f.current.RequestedBy,
		DurationS: float64(m.loadMeta.durationS),
		Playing:   f.mode == events.ModePlaying,
		Paused:    f.mode == events.ModePaused,
	})

	if m.loadProvider == track.VideoHost {
		if id, err := track.Parse(f.current.TrackID); err == nil {
			f.bus.Publish(eventbus.Overlay, events.OverlayDirective{
				Channel:   f.channel,
				Action:    "play",
				VideoID:   id.Opaque,
				ElapsedS:  float64(m.loadOffsetMS) / 1000.0,
				DurationS: float64(m.loadMeta.durationS),
			})
		}
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
