package playerfsm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"songbot/internal/backend"
	"songbot/internal/events"
	"songbot/internal/eventbus"
	"songbot/internal/store"
	"songbot/internal/track"
)

type fakeBackend struct {
	evCh chan events.BackendEvent
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{evCh: make(chan events.BackendEvent, 8)}
}

func (f *fakeBackend) Load(ctx context.Context, trackID string, offsetMS int64) error { return nil }
func (f *fakeBackend) Play(ctx context.Context) error                                 { return nil }
func (f *fakeBackend) Pause(ctx context.Context) error                                { return nil }
func (f *fakeBackend) Stop(ctx context.Context) error                                 { return nil }
func (f *fakeBackend) Volume(ctx context.Context, percent int) error                  { return nil }
func (f *fakeBackend) Events() <-chan events.BackendEvent                             { return f.evCh }
func (f *fakeBackend) Kind() string                                                   { return "fake" }

type fakeResolver struct{}

func (fakeResolver) Resolve(id track.ID) (track.Metadata, error) {
	return track.Metadata{Title: "Title", Artists: []string{"Artist"}, DurationS: 180, Playable: true}, nil
}

func newTestFSM(t *testing.T) (*FSM, *fakeBackend, *store.Store) {
	return newTestFSMWithThemes(t, nil)
}

func newTestFSMWithThemes(t *testing.T, themes map[string]Theme) (*FSM, *fakeBackend, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	fb := newFakeBackend()
	registry := track.NewRegistry()
	registry.Register(track.VideoHost, fakeResolver{})

	f := New("chan", st, map[track.Provider]backend.Backend{track.VideoHost: fb}, registry, eventbus.New(), themes, logrus.NewEntry(logrus.New()))
	f.Start()
	t.Cleanup(f.Close)
	return f, fb, st
}

func waitForMode(t *testing.T, f *FSM, want events.PlayerMode) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if f.Snapshot().Mode == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for mode %s, last seen %s", want, f.Snapshot().Mode)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func waitForTrack(t *testing.T, f *FSM, want string) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		snap := f.Snapshot()
		if snap.TrackID == want && snap.Mode == events.ModePlaying {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for track %q, last seen %q in mode %s", want, snap.TrackID, snap.Mode)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRequestPlayLoadsHeadAndTransitionsToPlaying(t *testing.T) {
	f, _, st := newTestFSM(t)
	ctx := context.Background()
	if _, err := st.Append(ctx, "chan", "video_host:abc", "alice"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	f.RequestPlay()
	waitForMode(t, f, events.ModePlaying)

	if f.Snapshot().TrackID != "video_host:abc" {
		t.Fatalf("got track %q", f.Snapshot().TrackID)
	}
}

func TestRequestPlayWithEmptyQueueStaysNone(t *testing.T) {
	f, _, _ := newTestFSM(t)
	f.RequestPlay()
	time.Sleep(50 * time.Millisecond)
	if f.Snapshot().Mode != events.ModeNone {
		t.Fatalf("expected mode None with empty queue, got %s", f.Snapshot().Mode)
	}
}

func TestRequestSkipAdvancesToNextRequest(t *testing.T) {
	f, _, st := newTestFSM(t)
	ctx := context.Background()
	st.Append(ctx, "chan", "video_host:1", "alice")
	st.Append(ctx, "chan", "video_host:2", "bob")

	f.RequestPlay()
	waitForMode(t, f, events.ModePlaying)
	first := f.Snapshot().TrackID

	f.RequestSkip()
	waitForTrack(t, f, "video_host:2")

	if first == f.Snapshot().TrackID {
		t.Fatalf("expected skip to advance past %q", first)
	}
}

func TestThemePreemptsAndRestoresAtSavedElapsed(t *testing.T) {
	themes := map[string]Theme{
		"intro": {Name: "intro", TrackID: "video_host:theme", Offset: 5 * time.Second},
	}
	f, fb, st := newTestFSMWithThemes(t, themes)
	ctx := context.Background()
	st.Append(ctx, "chan", "video_host:1", "alice")

	f.RequestPlay()
	waitForTrack(t, f, "video_host:1")
	f.ReconcilerUpdateElapsed(45_000)

	f.PlayTheme("intro")
	waitForTrack(t, f, "video_host:theme")
	if got := f.Snapshot().ElapsedMS; got != 5_000 {
		t.Fatalf("theme should start at its offset, got elapsed %d", got)
	}

	fb.evCh <- events.BackendEvent{Kind: events.Ended, EndReason: events.EndReasonCompleted}
	waitForTrack(t, f, "video_host:1")
	if got := f.Snapshot().ElapsedMS; got != 45_000 {
		t.Fatalf("restore should resume at saved elapsed, got %d", got)
	}

	list, err := st.List(ctx, "chan")
	if err != nil || len(list) != 1 {
		t.Fatalf("restored request must not be tombstoned: %v %v", list, err)
	}
}

func TestSecondThemeDuringThemeIsRejected(t *testing.T) {
	themes := map[string]Theme{
		"intro": {Name: "intro", TrackID: "video_host:theme", Offset: 0},
	}
	f, _, st := newTestFSMWithThemes(t, themes)
	ctx := context.Background()
	st.Append(ctx, "chan", "video_host:1", "alice")

	f.RequestPlay()
	waitForTrack(t, f, "video_host:1")

	sub := f.bus.Subscribe(eventbus.Chat)
	defer sub.Unsubscribe()

	f.PlayTheme("intro")
	waitForTrack(t, f, "video_host:theme")

	f.PlayTheme("intro")
	select {
	case payload := <-sub.Events():
		msg, ok := payload.(events.ChatMessage)
		if !ok || msg.Text != "a theme is already playing" {
			t.Fatalf("expected reentrancy rejection, got %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a rejection message for the second theme")
	}
	if f.Snapshot().TrackID != "video_host:theme" {
		t.Fatalf("active theme must be untouched, got %q", f.Snapshot().TrackID)
	}
}

func TestCompletedEndedAdvancesToNextRequest(t *testing.T) {
	f, fb, st := newTestFSM(t)
	ctx := context.Background()
	st.Append(ctx, "chan", "video_host:1", "alice")
	st.Append(ctx, "chan", "video_host:2", "bob")

	f.RequestPlay()
	waitForTrack(t, f, "video_host:1")

	fb.evCh <- events.BackendEvent{Kind: events.Ended, EndReason: events.EndReasonCompleted}
	waitForTrack(t, f, "video_host:2")
}

func TestCancelledEndedDoesNotAdvance(t *testing.T) {
	f, fb, st := newTestFSM(t)
	ctx := context.Background()
	st.Append(ctx, "chan", "video_host:1", "alice")
	st.Append(ctx, "chan", "video_host:2", "bob")

	f.RequestPlay()
	waitForTrack(t, f, "video_host:1")

	fb.evCh <- events.BackendEvent{Kind: events.Ended, EndReason: events.EndReasonCancelled}
	time.Sleep(50 * time.Millisecond)

	snap := f.Snapshot()
	if snap.TrackID != "video_host:1" || snap.Mode != events.ModePlaying {
		t.Fatalf("a cancelled Ended echo must not advance the queue, got %q in mode %s", snap.TrackID, snap.Mode)
	}
}

func TestDeviceLostPausesAndNotifiesOnce(t *testing.T) {
	f, fb, st := newTestFSM(t)
	ctx := context.Background()
	st.Append(ctx, "chan", "video_host:1", "alice")
	f.RequestPlay()
	waitForMode(t, f, events.ModePlaying)

	sub := f.bus.Subscribe(eventbus.Chat)
	defer sub.Unsubscribe()

	fb.evCh <- events.BackendEvent{Kind: events.DeviceLost}
	waitForMode(t, f, events.ModePaused)

	select {
	case <-sub.Events():
	case <-time.After(time.Second):
		t.Fatal("expected one chat notice on device lost")
	}

	fb.evCh <- events.BackendEvent{Kind: events.DeviceLost}
	time.Sleep(50 * time.Millisecond)
	select {
	case <-sub.Events():
		t.Fatal("did not expect a second chat notice for a repeated DeviceLost")
	default:
	}
}
