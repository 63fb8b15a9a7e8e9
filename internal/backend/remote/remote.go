// Package remote implements the Remote backend: video_host tracks are
// played by a browser overlay the bot does not own. Commands are issued
// as HTTPS+JSON requests against the overlay's device API; the actual
// drift-correction loop lives in internal/reconciler, which polls this
// same device and drives it back toward the Player's intended state.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"songbot/internal/events"
)

// DeviceState is what GET /device returns: the overlay's self-reported
// playback state, as the reconciler polls it.
type DeviceState struct {
	DeviceID        string  `json:"device_id"`
	IsPlaying       bool    `json:"is_playing"`
	ProgressMS      int64   `json:"progress_ms"`
	CurrentTrackID  *string `json:"current_track_id,omitempty"`
	VolumePercent   int     `json:"volume_percent"`
}

// Remote drives a hosted device over HTTP. It satisfies backend.Backend;
// the reconciler additionally calls Status to poll observed state.
type Remote struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
	evCh       chan events.BackendEvent
	loaded     atomic.Bool
}

// Config configures a Remote backend's HTTP client.
type Config struct {
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration
}

// New builds a Remote backend against the given hosted device API.
func New(cfg Config) *Remote {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "songbot/1.0"
	}
	return &Remote{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
		evCh:       make(chan events.BackendEvent, 8),
	}
}

// Kind identifies this backend.
func (r *Remote) Kind() string { return "remote" }

// Events returns the channel of upstream events. Device-state-derived
// events (DeviceLost etc.) are published by the reconciler, not here;
// this channel only carries events this Remote itself originates.
func (r *Remote) Events() <-chan events.BackendEvent { return r.evCh }

type loadRequest struct {
	TrackID  string `json:"track_id"`
	OffsetMS int64  `json:"offset_ms"`
}

// Load posts a load command and waits for the device to accept it. A load
// while a track is already on the device implicitly displaces it, so a
// synthetic Ended(Preempted) precedes the new Started.
func (r *Remote) Load(ctx context.Context, trackID string, offsetMS int64) error {
	if err := r.post(ctx, "/device/load", loadRequest{TrackID: trackID, OffsetMS: offsetMS}); err != nil {
		if ctx.Err() != nil {
			select {
			case r.evCh <- events.BackendEvent{Kind: events.Ended, EndReason: events.EndReasonCancelled}:
			default:
			}
		}
		return err
	}
	if r.loaded.Swap(true) {
		select {
		case r.evCh <- events.BackendEvent{Kind: events.Ended, EndReason: events.EndReasonPreempted}:
		default:
		}
	}
	select {
	case r.evCh <- events.BackendEvent{Kind: events.Started}:
	default:
	}
	return nil
}

// Play issues a play command to the device.
func (r *Remote) Play(ctx context.Context) error {
	return r.post(ctx, "/device/play", nil)
}

// Pause issues a pause command to the device.
func (r *Remote) Pause(ctx context.Context) error {
	return r.post(ctx, "/device/pause", nil)
}

// Stop issues a stop command to the device, emitting Ended(Cancelled) for
// whatever track it displaces.
func (r *Remote) Stop(ctx context.Context) error {
	if err := r.post(ctx, "/device/stop", nil); err != nil {
		return err
	}
	if r.loaded.Swap(false) {
		select {
		case r.evCh <- events.BackendEvent{Kind: events.Ended, EndReason: events.EndReasonCancelled}:
		default:
		}
	}
	return nil
}

type volumeRequest struct {
	VolumePercent int `json:"volume_percent"`
}

// Volume clamps percent and writes it to the device.
func (r *Remote) Volume(ctx context.Context, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return r.post(ctx, "/device/volume", volumeRequest{VolumePercent: percent})
}

// Status fetches the device's current observed state. The reconciler uses
// this to diff observed vs intended state.
//
// Status handling: 404 yields (nil, nil) ("no active device"); any other
// non-2xx yields an error with the body preserved.
func (r *Remote) Status(ctx context.Context) (*DeviceState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/device", nil)
	if err != nil {
		return nil, err
	}
	r.setHeaders(req)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		body := make([]byte, 4096)
		n, _ := resp.Body.Read(body)
		return nil, fmt.Errorf("remote: status %d: %s", resp.StatusCode, body[:n])
	}

	var state DeviceState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("remote: decode status: %w", err)
	}
	return &state, nil
}

func (r *Remote) post(ctx context.Context, path string, body interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	r.setHeaders(req)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		buf := make([]byte, 4096)
		n, _ := resp.Body.Read(buf)
		return fmt.Errorf("remote: %s: status %d: %s", path, resp.StatusCode, buf[:n])
	}
	return nil
}

func (r *Remote) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", r.userAgent)
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
}
