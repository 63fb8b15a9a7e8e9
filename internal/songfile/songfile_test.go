package songfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"songbot/internal/events"
)

func TestWriteRendersTemplateWhilePlaying(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current_song.txt")
	w := New(path, "{title} by {artists} [{elapsed}/{duration}]", logrus.NewEntry(logrus.New()))

	err := w.write(events.SongUpdate{
		Title: "Song", Artists: []string{"A", "B"}, ElapsedS: 65, DurationS: 125, Playing: true,
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "Song by A, B [1:05/2:05]"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWriteNotPlayingWhenPausedOrNone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current_song.txt")
	w := New(path, "", logrus.NewEntry(logrus.New()))

	if err := w.write(events.SongUpdate{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != NotPlaying {
		t.Fatalf("got %q, want %q", got, NotPlaying)
	}
}
