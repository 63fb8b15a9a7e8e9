// Package playerfsm is the Player State Machine: the single mailbox that
// serialises every play/pause/skip/volume/theme transition. Messages are a
// tagged variant of kinds with a per-variant handler in run(), not a
// runtime-typed handler map.
package playerfsm

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"songbot/internal/backend"
	"songbot/internal/events"
	"songbot/internal/eventbus"
	"songbot/internal/store"
	"songbot/internal/track"
)

// Theme is a named, pre-empting one-shot track.
type Theme struct {
	Name    string
	TrackID string
	Offset  time.Duration
}

type themeFrame struct {
	savedRequest  *store.Request
	savedElapsed  int64
	savedMode     events.PlayerMode
	themeName     string
}

// FSM owns one channel's playback state. All mutating access goes through
// its mailbox; reads of the last published state are safe from any
// goroutine via Snapshot.
type FSM struct {
	channel  string
	st       *store.Store
	backends map[track.Provider]backend.Backend
	metadata *track.Registry
	bus      *eventbus.Bus
	log      *logrus.Entry

	mailbox chan mailboxMsg

	mu       sync.RWMutex
	snapshot events.PlayerStateChanged

	// single-owner state, touched only inside run().
	mode          events.PlayerMode
	current       *store.Request
	provider      track.Provider
	elapsedMS     int64
	volumePercent int
	theme         *themeFrame
	themes        map[string]Theme

	deviceLostNotified bool
	pendingRestoreMode events.PlayerMode

	loading    *store.Request
	loadGen    uint64
	loadCancel context.CancelFunc
	loadDone   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an idle FSM for one channel. backends maps each provider to
// the Backend that plays its tracks (streaming_audio -> Local, video_host
// -> Remote).
func New(channel string, st *store.Store, backends map[track.Provider]backend.Backend, metadata *track.Registry, bus *eventbus.Bus, themes map[string]Theme, log *logrus.Entry) *FSM {
	ctx, cancel := context.WithCancel(context.Background())
	f := &FSM{
		channel:       channel,
		st:            st,
		backends:      backends,
		metadata:      metadata,
		bus:           bus,
		themes:        themes,
		log:           log.WithField("channel", channel),
		mailbox:       make(chan mailboxMsg, 64),
		mode:          events.ModeNone,
		volumePercent: 100,
		ctx:           ctx,
		cancel:        cancel,
	}
	f.publish()
	return f
}

func (f *FSM) themeByName(name string) (Theme, bool) {
	t, ok := f.themes[name]
	return t, ok
}

// Start launches the mailbox loop and the per-backend event forwarders.
// Call once.
func (f *FSM) Start() {
	for provider, b := range f.backends {
		f.wg.Add(1)
		go f.forwardBackendEvents(provider, b)
	}
	go f.run()
}

// Close stops the mailbox loop and waits for forwarders to exit.
func (f *FSM) Close() {
	f.cancel()
	f.wg.Wait()
}

func (f *FSM) forwardBackendEvents(provider track.Provider, b backend.Backend) {
	defer f.wg.Done()
	for {
		select {
		case <-f.ctx.Done():
			return
		case ev, ok := <-b.Events():
			if !ok {
				return
			}
			select {
			case f.mailbox <- mailboxMsg{kind: msgBackendEvent, provider: provider, backendEvent: ev}:
			case <-f.ctx.Done():
				return
			}
		}
	}
}

// Snapshot returns the most recently published state, safe for concurrent
// readers (the HTTP status endpoint, tests).
func (f *FSM) Snapshot() events.PlayerStateChanged {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snapshot
}

func (f *FSM) publish() {
	snap := events.PlayerStateChanged{
		Channel:       f.channel,
		Mode:          f.mode,
		ElapsedMS:     f.elapsedMS,
		VolumePercent: f.volumePercent,
		At:            time.Now().UTC(),
	}
	if f.current != nil {
		snap.TrackID = f.current.TrackID
	}
	f.mu.Lock()
	f.snapshot = snap
	f.mu.Unlock()
	f.bus.Publish(eventbus.Player, snap)
}

// send enqueues a message, never blocking the caller beyond mailbox
// capacity; callers outside run() (intake, reconciler callbacks) use this.
func (f *FSM) send(m mailboxMsg) {
	select {
	case f.mailbox <- m:
	case <-f.ctx.Done():
	}
}

// RequestPlay asks the FSM to start or resume playback.
func (f *FSM) RequestPlay() { f.send(mailboxMsg{kind: msgRequestPlay}) }

// RequestPause asks the FSM to pause.
func (f *FSM) RequestPause() { f.send(mailboxMsg{kind: msgRequestPause}) }

// RequestSkip asks the FSM to tombstone the current track and advance.
func (f *FSM) RequestSkip() { f.send(mailboxMsg{kind: msgRequestSkip}) }

// SetVolume asks the FSM to clamp and apply a new volume.
func (f *FSM) SetVolume(percent int) { f.send(mailboxMsg{kind: msgSetVolume, volumePercent: percent}) }

// PlayTheme asks the FSM to pre-empt the queue with a named theme.
func (f *FSM) PlayTheme(name string) { f.send(mailboxMsg{kind: msgPlayTheme, themeName: name}) }

// Wake notifies the FSM that a new request has been appended to the
// store, so an idle player picks it up.
func (f *FSM) Wake() { f.send(mailboxMsg{kind: msgRequestPlay}) }

// ReconcilerUpdateElapsed lets the reconciler correct drift.
func (f *FSM) ReconcilerUpdateElapsed(ms int64) {
	f.send(mailboxMsg{kind: msgElapsedUpdate, elapsedMS: ms})
}

// ReconcilerWarn surfaces a non-fatal reconciler warning to chat.
func (f *FSM) ReconcilerWarn(text string) {
	f.send(mailboxMsg{kind: msgWarn, warnText: text})
}

func (f *FSM) run() {
	for {
		select {
		case <-f.ctx.Done():
			return
		case m := <-f.mailbox:
			f.handle(m)
		}
	}
}

func (f *FSM) handle(m mailboxMsg) {
	if f.mode == events.ModeNone && f.current != nil {
		f.fatal("current request present while mode=None")
	}
	switch m.kind {
	case msgRequestPlay:
		f.handleRequestPlay()
	case msgRequestPause:
		f.handleRequestPause()
	case msgRequestSkip:
		f.handleRequestSkip(events.EndReasonSkipped)
	case msgSetVolume:
		f.handleSetVolume(m.volumePercent)
	case msgPlayTheme:
		f.handlePlayTheme(m.themeName)
	case msgBackendEvent:
		f.handleBackendEvent(m.provider, m.backendEvent)
	case msgLoadCompleted:
		f.handleLoadCompleted(m)
	case msgElapsedUpdate:
		f.elapsedMS = m.elapsedMS
		f.publish()
	case msgWarn:
		f.bus.Publish(eventbus.Chat, events.ChatMessage{Channel: f.channel, Text: m.warnText})
	}
}

// activeBackend returns the backend for the currently playing provider,
// or nil if nothing is current.
func (f *FSM) activeBackend() backend.Backend {
	if f.current == nil {
		return nil
	}
	return f.backends[f.provider]
}

func (f *FSM) fatal(reason string) {
	// A state machine invariant violation is fatal: log and let the
	// process supervisor restart cleanly rather than limping on with
	// corrupted state.
	f.log.WithField("reason", reason).Fatal("player state machine invariant violated")
}
