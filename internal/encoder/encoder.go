// Package encoder is the Local backend's decode pipeline: it runs FFmpeg
// against a resolved stream URL and hands the Opus frames it produces to
// internal/buffer for pacing. Codec work itself stays inside FFmpeg --
// this package only drives the process and shapes its arguments.
package encoder

import "context"

// Format specifies the output format for encoded audio.
type Format string

const (
	// FormatPCM outputs raw PCM s16le, useful for exercising a pipeline
	// without an Opus decoder on the consuming end (local debugging).
	FormatPCM Format = "pcm"
	// FormatOpus is what the Local backend actually loads tracks with:
	// Opus frames sized for internal/buffer's pacing.
	FormatOpus Format = "opus"
)

// Config holds encoding configuration.
type Config struct {
	SampleRate int     // Sample rate in Hz (default: 48000)
	Channels   int     // Number of channels (default: 2 for stereo)
	Bitrate    int     // Bitrate in bps (default: 128000)
	Volume     float64 // Volume multiplier 0.0-2.0 (default: 1.0)
}

// DefaultConfig returns the encoding configuration the Local backend loads
// every track with unless a channel's settings override it.
func DefaultConfig() Config {
	return Config{
		SampleRate: 48000,
		Channels:   2,
		Bitrate:    128000,
		Volume:     1.0,
	}
}

// Pipeline is one FFmpeg decode run, shaped to the Local backend's needs:
// start it against a resolved stream URL, drain Output until it closes,
// and Pause/Resume/Stop to mirror backend.Backend calls onto the live
// FFmpeg process instead of tearing it down and re-fetching.
type Pipeline interface {
	// Start begins decoding streamURL at startAtSec, producing format
	// chunks on Output. Returns once FFmpeg has been launched, not once
	// it has produced its first chunk.
	Start(ctx context.Context, streamURL string, format Format, startAtSec float64) error

	// Output returns the channel of encoded audio chunks. Closed when the
	// stream ends or Stop is called.
	Output() <-chan []byte

	// Pause suspends the FFmpeg process (SIGSTOP) without losing its
	// position, so Resume can continue exactly where it left off.
	Pause()

	// Resume continues a paused FFmpeg process (SIGCONT).
	Resume()

	// Stop tears down the pipeline and releases its resources.
	Stop()
}
