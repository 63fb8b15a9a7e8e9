package playerfsm

import (
	"songbot/internal/events"
	"songbot/internal/store"
	"songbot/internal/track"
)

type msgKind int

const (
	msgRequestPlay msgKind = iota
	msgRequestPause
	msgRequestSkip
	msgSetVolume
	msgPlayTheme
	msgBackendEvent
	msgLoadCompleted
	msgElapsedUpdate
	msgWarn
)

// mailboxMsg is the tagged variant every mailbox message takes. Only the
// fields relevant to kind are populated; run()'s handle() switches on kind
// exactly once per message.
type mailboxMsg struct {
	kind msgKind

	volumePercent int
	themeName     string

	provider     track.Provider
	backendEvent events.BackendEvent

	elapsedMS int64
	warnText  string

	// set by the load goroutine when it completes, consumed by
	// handleLoadCompleted.
	loadGen      uint64
	loadErr      error
	loadRequest  *store.Request
	loadMeta     trackLoadMeta
	loadProvider track.Provider
	loadOffsetMS int64
	loadIsTheme  bool
	loadTheme    *themeFrame
}

type trackLoadMeta struct {
	title     string
	artists   []string
	durationS int
}
