package intake

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"songbot/internal/store"
	"songbot/internal/track"
)

type fakeResolver struct {
	meta track.Metadata
	err  error
}

func (f fakeResolver) Resolve(id track.ID) (track.Metadata, error) {
	return f.meta, f.err
}

func newTestIntake(t *testing.T, cfg Config) (*Intake, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := track.NewRegistry()
	reg.Register(track.StreamingAudio, fakeResolver{meta: track.Metadata{Title: "Title", Artists: []string{"Artist"}, DurationS: 180, Playable: true}})

	return New(st, reg, cfg), st
}

func TestSubmitSuccess(t *testing.T) {
	in, st := newTestIntake(t, DefaultConfig())
	ctx := context.Background()

	res, err := in.Submit(ctx, "chan", "alice", nil, "spotify:track:abc")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.QueuePosition != 1 {
		t.Fatalf("QueuePosition = %d, want 1", res.QueuePosition)
	}

	all, err := st.List(ctx, "chan")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 || all[0].TrackID != "spotify:abc" {
		t.Fatalf("unexpected store contents: %+v", all)
	}
}

func TestSubmitRejectsOnUserCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UserCooldown = 10 * time.Second
	in, _ := newTestIntake(t, cfg)
	ctx := context.Background()

	if _, err := in.Submit(ctx, "chan", "alice", nil, "spotify:track:abc"); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	_, err := in.Submit(ctx, "chan", "alice", nil, "spotify:track:def")
	if err == nil {
		t.Fatal("expected second request within cooldown window to be rejected")
	}
	rej, ok := err.(*Rejection)
	if !ok || rej.Reason != ReasonUserCooldown {
		t.Fatalf("unexpected rejection: %+v", err)
	}
}

func TestSubmitRejectsParseError(t *testing.T) {
	in, _ := newTestIntake(t, DefaultConfig())
	_, err := in.Submit(context.Background(), "chan", "alice", nil, "not a track")
	rej, ok := err.(*Rejection)
	if !ok || rej.Reason != ReasonParse {
		t.Fatalf("expected parse rejection, got %+v", err)
	}
}

func TestSubmitRejectsBannedTrack(t *testing.T) {
	in, st := newTestIntake(t, DefaultConfig())
	ctx := context.Background()
	if err := st.Ban(ctx, "chan", store.BanTrack, "spotify:abc", "dmca"); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	_, err := in.Submit(ctx, "chan", "alice", nil, "spotify:track:abc")
	rej, ok := err.(*Rejection)
	if !ok || rej.Reason != ReasonBannedTrack {
		t.Fatalf("expected banned_track rejection, got %+v", err)
	}
}

func TestSubmitRejectsOverMaxDurationWithoutElevatedScope(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDurationS = 60
	in, _ := newTestIntake(t, cfg)
	_, err := in.Submit(context.Background(), "chan", "alice", nil, "spotify:track:abc")
	rej, ok := err.(*Rejection)
	if !ok || rej.Reason != ReasonDurationTooLong {
		t.Fatalf("expected duration rejection, got %+v", err)
	}
}

func TestSubmitAllowsOverMaxDurationForElevatedScope(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDurationS = 60
	in, _ := newTestIntake(t, cfg)
	_, err := in.Submit(context.Background(), "chan", "alice", []string{"moderator"}, "spotify:track:abc")
	if err != nil {
		t.Fatalf("expected moderator to bypass duration limit, got %v", err)
	}
}
