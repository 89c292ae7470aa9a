// Package playback keeps a replay engine, the chat timeline and the views
// derived from them in step. One sampler reads the engine clock every frame
// and hands the frame to each view; views publish only when their own value
// changes. Seeks drive the engine at full speed and poll for arrival.
package playback

import (
	"errors"
	"math"
	"time"

	"github.com/zulandar/gptreplay/internal/editor"
)

// Engine is the replay engine contract. editor.Player satisfies it.
type Engine interface {
	CurrentTime() int64 // ms
	Duration() int64    // ms
	Play()
	Pause()
	SetSpeed(multiplier float64)
	Seek(targetMs int64)
	Status() editor.Status
}

// SeekReporter is implemented by engines whose seek runs over several of
// their own ticks. A seek has not arrived while Seeking reports true.
type SeekReporter interface {
	Seeking() bool
}

// engineSeeking reports whether e is still working through a seek.
func engineSeeking(e Engine) bool {
	sr, ok := e.(SeekReporter)
	return ok && sr.Seeking()
}

// ContentReader is implemented by engines that expose the replayed text.
type ContentReader interface {
	Content() string
}

var (
	ErrInvalidPercent = errors.New("playback: seek percent must be a finite number")
	ErrInvalidSpeed   = errors.New("playback: unsupported speed")
	ErrNoDuration     = errors.New("playback: nothing to seek, duration is zero")
	ErrSeekTimeout    = errors.New("playback: seek did not converge")
	ErrClosed         = errors.New("playback: session closed")
	ErrNoEvent        = errors.New("playback: no such event")
)

// Frame is one sample of the engine clock.
type Frame struct {
	CurrentMs  int64
	DurationMs int64
	Progress   float64 // [0, 100]
	Status     editor.Status
	At         time.Time
}

// CurrentSec returns the sampled time in seconds.
func (f Frame) CurrentSec() float64 {
	return float64(f.CurrentMs) / 1000
}

// sample reads the engine once. A nil engine or a negative time reads as 0;
// progress is only computed when the duration is positive.
func sample(e Engine, now time.Time) Frame {
	f := Frame{Status: editor.StatusPause, At: now}
	if e == nil {
		return f
	}
	f.CurrentMs = e.CurrentTime()
	if f.CurrentMs < 0 {
		f.CurrentMs = 0
	}
	f.DurationMs = e.Duration()
	f.Status = e.Status()
	if f.DurationMs > 0 {
		f.Progress = clampPercent(float64(f.CurrentMs) / float64(f.DurationMs) * 100)
	}
	return f
}

func clampPercent(p float64) float64 {
	return math.Max(0, math.Min(p, 100))
}
