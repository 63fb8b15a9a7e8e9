package encoder

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"syscall"

	"github.com/sirupsen/logrus"
)

// FFmpegPipeline implements Pipeline by driving an ffmpeg subprocess.
type FFmpegPipeline struct {
	config         Config
	cmd            *exec.Cmd
	stdout         io.ReadCloser
	stderr         io.ReadCloser
	output         chan []byte
	cancel         context.CancelFunc
	readBufferSize int
	trackID        string // request this pipeline is serving, for log correlation
	log            *logrus.Entry
}

// NewFFmpegPipeline creates a new FFmpeg-based encoding pipeline.
func NewFFmpegPipeline(config Config) *FFmpegPipeline {
	return &FFmpegPipeline{
		config:         config,
		output:         make(chan []byte, 30), // ~600ms buffered for internal/buffer to draw from
		readBufferSize: 16384,
		log:            logrus.WithField("component", "encoder"),
	}
}

// SetTrackID attaches a request's track id to every log line this pipeline
// emits, so a stderr warning or an early exit can be traced back to the
// Request that triggered it.
func (p *FFmpegPipeline) SetTrackID(id string) {
	p.trackID = id
	p.log = p.log.WithField("track_id", id)
}

// Start begins the encoding pipeline.
func (p *FFmpegPipeline) Start(ctx context.Context, streamURL string, format Format, startAtSec float64) error {
	ctx, p.cancel = context.WithCancel(ctx)

	switch format {
	case FormatOpus:
		p.readBufferSize = 4096
	default:
		p.readBufferSize = 16384
	}

	args := p.buildArgs(streamURL, format, startAtSec)
	p.log.WithField("format", format).Info("starting ffmpeg pipeline")
	p.cmd = exec.CommandContext(ctx, "ffmpeg", args...)

	var err error
	p.stdout, err = p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	p.stderr, err = p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	go p.readStderr()
	go p.readOutput(ctx)

	return nil
}

// Output returns the channel receiving encoded audio chunks.
func (p *FFmpegPipeline) Output() <-chan []byte {
	return p.output
}

// Stop stops the encoding pipeline.
func (p *FFmpegPipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
}

// Pause pauses FFmpeg using SIGSTOP and drains buffered output so Resume
// doesn't hand the caller audio that was already stale when it paused.
func (p *FFmpegPipeline) Pause() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	p.cmd.Process.Signal(syscall.SIGSTOP)
	p.log.WithField("pid", p.cmd.Process.Pid).Debug("ffmpeg paused (SIGSTOP)")

	drained := 0
	for {
		select {
		case <-p.output:
			drained++
		default:
			if drained > 0 {
				p.log.WithField("drained", drained).Debug("drained buffered chunks on pause")
			}
			return
		}
	}
}

// Resume resumes FFmpeg using SIGCONT.
func (p *FFmpegPipeline) Resume() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	drained := 0
	for {
		select {
		case <-p.output:
			drained++
		default:
			goto done
		}
	}
done:
	if drained > 0 {
		p.log.WithField("drained", drained).Debug("drained stale chunks before resume")
	}

	p.cmd.Process.Signal(syscall.SIGCONT)
	p.log.WithField("pid", p.cmd.Process.Pid).Debug("ffmpeg resumed (SIGCONT)")
}

// buildArgs constructs FFmpeg command arguments based on format. The
// reconnect flags and browser-shaped user agent exist because streamURL is
// typically a signed, time-limited CDN URL resolved moments earlier by the
// provider's yt-dlp lookup, and those CDNs are quick to reset a connection
// that looks automated.
func (p *FFmpegPipeline) buildArgs(streamURL string, format Format, startAtSec float64) []string {
	volume := fmt.Sprintf("volume=%.2f", p.config.Volume)
	sampleRate := fmt.Sprintf("%d", p.config.SampleRate)
	channels := fmt.Sprintf("%d", p.config.Channels)

	args := []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_on_network_error", "1",
		"-reconnect_on_http_error", "4xx,5xx",
		"-reconnect_delay_max", "5",
		"-multiple_requests", "1",
		"-user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		"-referer", "https://www.youtube.com/",
	}

	if startAtSec > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", startAtSec))
	}

	args = append(args,
		"-i", streamURL,
		"-af", volume,
		"-ar", sampleRate,
		"-ac", channels,
		"-loglevel", "warning",
	)

	switch format {
	case FormatPCM:
		// Raw PCM s16le; -re paces input to real time so a debug listener
		// isn't handed a whole track's worth of audio at once.
		args = append([]string{"-re"}, args...)
		args = append(args,
			"-f", "s16le",
			"pipe:1",
		)
	case FormatOpus:
		// -re paces input to real time, which keeps internal/buffer's
		// prebuffer from filling faster than playback drains it.
		args = append([]string{"-re"}, args...)
		args = append(args,
			"-c:a", "libopus",
			"-b:a", fmt.Sprintf("%d", p.config.Bitrate),
			"-vbr", "on",
			"-compression_level", "10",
			"-frame_duration", "20",
			"-application", "audio",
			"-f", "ogg",
			"-page_duration", "20000",
			"-flush_packets", "1",
			"pipe:1",
		)
	}

	return args
}

// readStderr reads FFmpeg stderr and logs any errors/warnings, which is
// often the only signal a stream ended early because a CDN URL expired.
func (p *FFmpegPipeline) readStderr() {
	if p.stderr == nil {
		return
	}
	defer p.stderr.Close()

	buf := make([]byte, 4096)
	var accumulated []byte

	for {
		n, err := p.stderr.Read(buf)
		if n > 0 {
			accumulated = append(accumulated, buf[:n]...)
			for {
				idx := -1
				for i, b := range accumulated {
					if b == '\n' {
						idx = i
						break
					}
				}
				if idx < 0 {
					break
				}
				line := string(accumulated[:idx])
				accumulated = accumulated[idx+1:]
				if len(line) > 0 {
					p.log.WithField("stream", "stderr").Warn(line)
				}
			}
		}
		if err != nil {
			if len(accumulated) > 0 {
				p.log.WithField("stream", "stderr").Warn(string(accumulated))
			}
			return
		}
	}
}

// readOutput reads from FFmpeg stdout and sends chunks to output channel.
func (p *FFmpegPipeline) readOutput(ctx context.Context) {
	defer close(p.output)
	defer p.stdout.Close()

	buf := make([]byte, p.readBufferSize)
	totalBytes := 0
	chunkCount := 0

	for {
		select {
		case <-ctx.Done():
			p.log.WithField("total_bytes", totalBytes).Debug("pipeline stopped (context cancelled)")
			p.waitAndLogExit()
			return
		default:
			n, err := p.stdout.Read(buf)
			if err != nil {
				if err != io.EOF {
					p.log.WithError(err).Warn("stdout read error")
				}
				p.log.WithFields(logrus.Fields{"total_bytes": totalBytes, "chunks": chunkCount}).Debug("stream ended")
				p.waitAndLogExit()
				return
			}
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				totalBytes += n
				chunkCount++
				select {
				case p.output <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// waitAndLogExit waits for FFmpeg to exit and logs the exit code.
func (p *FFmpegPipeline) waitAndLogExit() {
	if p.cmd == nil {
		return
	}
	err := p.cmd.Wait()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			p.log.WithField("exit_code", exitErr.ExitCode()).Warn("ffmpeg exited non-zero")
		} else {
			p.log.WithError(err).Warn("ffmpeg wait error")
		}
	} else {
		p.log.Debug("ffmpeg exited normally")
	}
}
