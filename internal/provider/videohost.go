package provider

import (
	"fmt"

	"songbot/internal/track"
)

// VideoHost resolves video_host ids (YouTube video ids) to metadata via
// yt-dlp's JSON metadata mode. The Remote backend plays these tracks
// itself via the hosted device API, so unlike Streaming this resolver has
// no ResolveStreamURL half.
type VideoHost struct{}

// NewVideoHost builds a VideoHost resolver.
func NewVideoHost() *VideoHost { return &VideoHost{} }

// Resolve implements track.Resolver.
func (v *VideoHost) Resolve(id track.ID) (track.Metadata, error) {
	meta, err := runYtDlpJSON(fmt.Sprintf("https://www.youtube.com/watch?v=%s", id.Opaque))
	if err != nil {
		return track.Metadata{}, err
	}
	return track.Metadata{
		Title:     meta.Title,
		Artists:   artistList(meta),
		DurationS: meta.Duration,
		Playable:  true,
	}, nil
}
