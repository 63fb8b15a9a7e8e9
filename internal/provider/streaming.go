package provider

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"

	"songbot/internal/track"
)

// StreamingConfig holds the app-only Spotify Web API credentials used to
// resolve streaming_audio metadata.
type StreamingConfig struct {
	ClientID     string
	ClientSecret string
	Market       string // ISO 3166-1 alpha-2; empty means no market filter
}

// Streaming resolves streaming_audio ids (Spotify track ids) to metadata
// via the Spotify Web API. Spotify never hands out direct audio stream
// URLs, so the Local backend's StreamResolver half instead searches the
// video host for the resolved title and decodes that audio.
type Streaming struct {
	client *spotify.Client
	market string
}

// NewStreaming builds a Streaming resolver authenticated via the client
// credentials flow (app-only; no end-user login required to read public
// track metadata).
func NewStreaming(ctx context.Context, cfg StreamingConfig) (*Streaming, error) {
	authCfg := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	httpClient := authCfg.Client(ctx)
	return &Streaming{
		client: spotify.New(httpClient),
		market: cfg.Market,
	}, nil
}

// Resolve implements track.Resolver.
func (s *Streaming) Resolve(id track.ID) (track.Metadata, error) {
	ctx := context.Background()
	var opts []spotify.RequestOption
	if s.market != "" {
		opts = append(opts, spotify.Market(s.market))
	}
	full, err := s.client.GetTrack(ctx, spotify.ID(id.Opaque), opts...)
	if err != nil {
		return track.Metadata{}, fmt.Errorf("provider: resolve spotify track %s: %w", id.Opaque, err)
	}
	artists := make([]string, 0, len(full.Artists))
	for _, a := range full.Artists {
		artists = append(artists, a.Name)
	}
	playable := full.IsPlayable == nil || *full.IsPlayable
	return track.Metadata{
		Title:     full.Name,
		Artists:   artists,
		DurationS: int(full.Duration / 1000),
		Playable:  playable,
	}, nil
}

// ResolveStreamURL implements backend/local.StreamResolver: it re-resolves
// the track's title/artists and hands the video host a search query,
// taking the best audio format yt-dlp can find for it.
func (s *Streaming) ResolveStreamURL(ctx context.Context, opaqueID string) (string, error) {
	meta, err := s.Resolve(track.ID{Provider: track.StreamingAudio, Opaque: opaqueID})
	if err != nil {
		return "", err
	}
	query := meta.Title
	if len(meta.Artists) > 0 {
		query = fmt.Sprintf("%s %s", meta.Artists[0], meta.Title)
	}
	return runYtDlpStreamURL(fmt.Sprintf("ytsearch1:%s", query))
}
