// Package provider supplies the two track.Resolver implementations the bot
// ships with, one per provider in internal/track's registry, plus the
// caching decorator both are registered behind.
package provider

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// ytdlpMetadata is the subset of yt-dlp's -j output the bot reads.
type ytdlpMetadata struct {
	Title    string `json:"title"`
	Duration int    `json:"duration"`
	Artist   string `json:"artist"`
	Uploader string `json:"uploader"`
}

func runYtDlpJSON(query string) (ytdlpMetadata, error) {
	cmd := exec.Command("yt-dlp",
		"--ignore-config",
		"--no-playlist",
		"--no-warnings",
		"--no-check-certificate",
		"--socket-timeout", "10",
		"-j",
		"--skip-download",
		query,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return ytdlpMetadata{}, fmt.Errorf("provider: yt-dlp metadata failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	var meta ytdlpMetadata
	if err := json.Unmarshal(out, &meta); err != nil {
		return ytdlpMetadata{}, fmt.Errorf("provider: parse yt-dlp metadata: %w", err)
	}
	return meta, nil
}

func runYtDlpStreamURL(query string) (string, error) {
	cmd := exec.Command("yt-dlp",
		"--ignore-config",
		"--no-playlist",
		"--no-warnings",
		"--no-check-certificate",
		"--socket-timeout", "10",
		"-f", "bestaudio/best",
		"--get-url",
		query,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("provider: yt-dlp stream url failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return "", fmt.Errorf("provider: yt-dlp returned no stream url")
	}
	return strings.TrimSpace(lines[0]), nil
}

func artistList(meta ytdlpMetadata) []string {
	name := meta.Artist
	if name == "" {
		name = meta.Uploader
	}
	if name == "" {
		return nil
	}
	return []string{name}
}
