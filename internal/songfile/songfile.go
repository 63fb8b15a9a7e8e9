// Package songfile is the Current-Song Writer: on every Player state
// change while Playing it truncates and rewrites a user-specified path
// using a user-supplied mustache-style template; while Paused or None it
// writes a fixed "not playing" string instead.
package songfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"songbot/internal/events"
	"songbot/internal/eventbus"
)

// NotPlaying is written verbatim when the player is Paused or has nothing
// queued.
const NotPlaying = "Not playing"

// DefaultTemplate mirrors a typical "now playing" line: title by artists,
// requested by user.
const DefaultTemplate = "{title} by {artists} (requested by {user})"

// Writer subscribes to the Song topic and keeps path in sync with the
// latest SongUpdate.
type Writer struct {
	path     string
	template string
	log      *logrus.Entry
}

// New builds a Writer that rewrites path using template on every Song
// event. An empty template falls back to DefaultTemplate.
func New(path, template string, log *logrus.Entry) *Writer {
	if template == "" {
		template = DefaultTemplate
	}
	return &Writer{path: path, template: template, log: log.WithField("component", "songfile")}
}

// Run subscribes to bus's Song topic and writes until done is closed or
// the bus disconnects the subscription.
func (w *Writer) Run(bus *eventbus.Bus, done <-chan struct{}) {
	sub := bus.Subscribe(eventbus.Song)
	defer sub.Unsubscribe()
	for {
		select {
		case <-done:
			return
		case payload, ok := <-sub.Events():
			if !ok {
				return
			}
			update, ok := payload.(events.SongUpdate)
			if !ok {
				continue
			}
			if err := w.write(update); err != nil {
				w.log.WithError(err).Warn("failed to write current-song file")
			}
		}
	}
}

func (w *Writer) write(update events.SongUpdate) error {
	if w.path == "" {
		return nil
	}
	var content string
	if !update.Playing {
		content = NotPlaying
	} else {
		content = render(w.template, update)
	}
	return os.WriteFile(w.path, []byte(content), 0o644)
}

// render substitutes "{var}" tokens in tmpl for update's fields. It is a
// minimal, hand-rolled substitution rather than text/template because the
// wire format is fixed mustache-style "{name}" tags, not Go's "{{.Name}}".
func render(tmpl string, update events.SongUpdate) string {
	replacer := strings.NewReplacer(
		"{title}", update.Title,
		"{artists}", strings.Join(update.Artists, ", "),
		"{user}", update.User,
		"{elapsed}", formatSeconds(update.ElapsedS),
		"{duration}", formatSeconds(update.DurationS),
		"{paused}", strconv.FormatBool(update.Paused),
	)
	return replacer.Replace(tmpl)
}

func formatSeconds(s float64) string {
	mins := int(s) / 60
	secs := int(s) % 60
	return fmt.Sprintf("%d:%02d", mins, secs)
}
