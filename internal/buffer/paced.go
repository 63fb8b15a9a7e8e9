// Package buffer is the Local backend's jitter buffer: it sits between the
// FFmpeg decode pipeline and whatever drains the Local backend's output,
// prebuffering before the first chunk and pacing delivery so a CPU burst
// from the encoder doesn't dump a whole song's worth of frames at once.
package buffer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Config tunes one paced buffer. Bitrate/MinDelay/MaxDelay/Interval let a
// caller either compute per-chunk pacing from Bitrate or fix it at
// Interval; MaxBuffer bounds how far the buffer may grow before it starts
// dropping the oldest chunks rather than let playback drift further and
// further behind the decoder.
type Config struct {
	Bitrate     int
	Prebuffer   time.Duration
	MinDelay    time.Duration
	MaxDelay    time.Duration
	MaxBuffer   time.Duration
	Interval    time.Duration
	Passthrough bool

	// TrackID, when set, is attached to every log line this buffer emits
	// so a stall or drop in the logs can be tied back to the Request that
	// caused it.
	TrackID string
}

// PacedBuffer paces one Local backend playthrough. It is single-use: call
// Start once per loaded track.
type PacedBuffer struct {
	cfg Config
	log *logrus.Entry
}

// NewPacedBuffer builds a PacedBuffer for cfg.
func NewPacedBuffer(cfg Config) *PacedBuffer {
	return &PacedBuffer{
		cfg: cfg,
		log: logrus.WithField("component", "buffer").WithField("track_id", cfg.TrackID),
	}
}

// Start consumes input and produces output paced per cfg, closing output
// once input closes and drains. Dropped chunks (buffer overflow) and the
// final chunk/drop counts are logged at the configured level so a
// reconciler- or intake-visible stall has a paper trail in internal/buffer
// rather than just in the FFmpeg process's own stderr.
func (p *PacedBuffer) Start(ctx context.Context, input <-chan []byte) <-chan []byte {
	output := make(chan []byte)

	go func() {
		defer close(output)
		var delivered, dropped int
		defer func() {
			p.log.WithFields(logrus.Fields{"delivered": delivered, "dropped": dropped}).Debug("paced buffer drained")
		}()

		var queue [][]byte
		var buffered time.Duration
		var timer *time.Timer
		inputOpen := true
		ready := false
		started := false

		for {
			if !ready {
				if !inputOpen && len(queue) == 0 {
					return
				}

				select {
				case <-ctx.Done():
					return
				case chunk, ok := <-input:
					if !ok {
						inputOpen = false
						if len(queue) > 0 {
							ready = true
						}
						continue
					}
					queue = append(queue, chunk)
					buffered += p.durationFor(chunk)
					dropped += p.trimQueue(&queue, &buffered)
					if buffered >= p.cfg.Prebuffer {
						ready = true
					}
				}
				continue
			}

			if len(queue) == 0 {
				if !inputOpen {
					return
				}
				select {
				case <-ctx.Done():
					return
				case chunk, ok := <-input:
					if !ok {
						inputOpen = false
						continue
					}
					queue = append(queue, chunk)
					buffered += p.durationFor(chunk)
				}
				continue
			}

			if p.cfg.Passthrough {
				chunk := queue[0]
				queue = queue[1:]
				buffered -= p.durationFor(chunk)
				if buffered < 0 {
					buffered = 0
				}
				select {
				case <-ctx.Done():
					return
				case output <- chunk:
					delivered++
				}
				continue
			}

			if timer == nil {
				delay := time.Duration(0)
				if started {
					delay = p.durationFor(queue[0])
					if delay < time.Millisecond {
						delay = time.Millisecond
					}
				}
				timer = time.NewTimer(delay)
			}

			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case chunk, ok := <-input:
				if !ok {
					inputOpen = false
					continue
				}
				queue = append(queue, chunk)
				buffered += p.durationFor(chunk)
				dropped += p.trimQueue(&queue, &buffered)
			case <-timer.C:
				timer = nil
				chunk := queue[0]
				queue = queue[1:]
				buffered -= p.durationFor(chunk)
				if buffered < 0 {
					buffered = 0
				}
				started = true
				select {
				case <-ctx.Done():
					return
				case output <- chunk:
					delivered++
				}
			}
		}
	}()

	return output
}

// trimQueue drops the oldest queued chunks once buffered exceeds
// MaxBuffer, returning how many it dropped. Dropping here means the
// decoder is producing faster than pacing can deliver; the caller
// aggregates this into the drained-buffer log line rather than warning
// per chunk.
func (p *PacedBuffer) trimQueue(queue *[][]byte, buffered *time.Duration) int {
	if p.cfg.MaxBuffer <= 0 {
		return 0
	}

	n := 0
	for *buffered > p.cfg.MaxBuffer && len(*queue) > 0 {
		chunk := (*queue)[0]
		*queue = (*queue)[1:]
		*buffered -= p.durationFor(chunk)
		n++
		if *buffered < 0 {
			*buffered = 0
			break
		}
	}
	if n > 0 {
		p.log.WithField("dropped", n).Warn("paced buffer overflow, dropping oldest chunks")
	}
	return n
}

func (p *PacedBuffer) durationFor(chunk []byte) time.Duration {
	if p.cfg.Interval > 0 {
		return p.cfg.Interval
	}
	if p.cfg.Bitrate <= 0 {
		return 20 * time.Millisecond
	}
	bytesPerSecond := float64(p.cfg.Bitrate) / 8.0
	seconds := float64(len(chunk)) / bytesPerSecond
	duration := time.Duration(seconds * float64(time.Second))
	if p.cfg.MinDelay > 0 && duration < p.cfg.MinDelay {
		return p.cfg.MinDelay
	}
	if p.cfg.MaxDelay > 0 && duration > p.cfg.MaxDelay {
		return p.cfg.MaxDelay
	}
	return duration
}
