package playback

import (
	"math"
	"sync"

	"github.com/zulandar/gptreplay/internal/timeline"
)

// DefaultProgressEpsilon is the smallest progress change worth redrawing.
const DefaultProgressEpsilon = 0.01

// ProgressView publishes the [0, 100] progress value when it moves by more
// than epsilon.
type ProgressView struct {
	epsilon float64
	publish func(progress, currentSec float64)

	mu    sync.Mutex
	value float64
}

// NewProgressView creates a ProgressView. publish may be nil.
func NewProgressView(epsilon float64, publish func(progress, currentSec float64)) *ProgressView {
	if epsilon <= 0 {
		epsilon = DefaultProgressEpsilon
	}
	return &ProgressView{epsilon: epsilon, publish: publish}
}

func (v *ProgressView) Observe(f Frame) {
	if f.DurationMs <= 0 {
		return
	}
	v.mu.Lock()
	if math.Abs(f.Progress-v.value) <= v.epsilon {
		v.mu.Unlock()
		return
	}
	v.value = f.Progress
	v.mu.Unlock()
	if v.publish != nil {
		v.publish(f.Progress, f.CurrentSec())
	}
}

// Set publishes p immediately, bypassing the epsilon check. Seeks use it so
// the bar jumps to the target before the engine gets there.
func (v *ProgressView) Set(p, currentSec float64) {
	p = clampPercent(p)
	v.mu.Lock()
	v.value = p
	v.mu.Unlock()
	if v.publish != nil {
		v.publish(p, currentSec)
	}
}

// Value returns the last published progress.
func (v *ProgressView) Value() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// MessageView publishes the events visible at the sampled time. It compares
// only the number of visible events with what it last published, so a change
// that keeps the count (none occurs with an immutable timeline) is not
// redrawn.
type MessageView struct {
	timeline *timeline.Timeline
	publish  func([]timeline.Event)

	mu      sync.Mutex
	visible []timeline.Event
}

// NewMessageView creates a MessageView over tl. publish may be nil.
func NewMessageView(tl *timeline.Timeline, publish func([]timeline.Event)) *MessageView {
	return &MessageView{timeline: tl, publish: publish, visible: []timeline.Event{}}
}

func (v *MessageView) Observe(f Frame) {
	sec := f.CurrentSec()
	n := v.timeline.VisibleCount(sec)

	v.mu.Lock()
	if n == len(v.visible) {
		v.mu.Unlock()
		return
	}
	v.visible = v.timeline.Visible(sec)
	out := v.copyLocked()
	v.mu.Unlock()

	if v.publish != nil {
		v.publish(out)
	}
}

// Visible returns the last published set.
func (v *MessageView) Visible() []timeline.Event {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.copyLocked()
}

func (v *MessageView) copyLocked() []timeline.Event {
	out := make([]timeline.Event, len(v.visible))
	copy(out, v.visible)
	return out
}

// ContentView publishes the replayed editor text when it changes.
type ContentView struct {
	reader  ContentReader
	publish func(string)

	mu      sync.Mutex
	content string
	seen    bool
}

// NewContentView creates a ContentView. publish may be nil.
func NewContentView(reader ContentReader, publish func(string)) *ContentView {
	return &ContentView{reader: reader, publish: publish}
}

func (v *ContentView) Observe(Frame) {
	c := v.reader.Content()
	v.mu.Lock()
	if v.seen && c == v.content {
		v.mu.Unlock()
		return
	}
	v.content, v.seen = c, true
	v.mu.Unlock()
	if v.publish != nil {
		v.publish(c)
	}
}

// Content returns the last published text.
func (v *ContentView) Content() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.content
}
