package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"github.com/zulandar/gptreplay/internal/editor"
	"github.com/zulandar/gptreplay/internal/timeline"
)

// DefaultSpeeds are the speed multipliers offered by the transport.
var DefaultSpeeds = []float64{0.1, 0.5, 1, 1.5, 2, 3, 10, 100}

// Update event names.
const (
	EventProgress = "progress"
	EventMessages = "messages"
	EventContent  = "content"
	EventStatus   = "status"
	EventSeek     = "seek"
)

// Update is one change pushed to session subscribers. Data is one of
// ProgressUpdate, MessagesUpdate, ContentUpdate, StatusUpdate or SeekUpdate.
type Update struct {
	Event string
	Data  any
}

type ProgressUpdate struct {
	Progress   float64 `json:"progress"`
	CurrentSec float64 `json:"current_sec"`
	Clock      string  `json:"clock"`
}

type MessagesUpdate struct {
	Count    int              `json:"count"`
	Messages []timeline.Event `json:"messages"`
}

type ContentUpdate struct {
	Content string `json:"content"`
}

type StatusUpdate struct {
	Playing bool    `json:"playing"`
	Seeking bool    `json:"seeking"`
	Speed   float64 `json:"speed"`
}

type SeekUpdate struct {
	State    string  `json:"state"`
	Percent  float64 `json:"percent"`
	TargetMs int64   `json:"target_ms"`
	Resumed  bool    `json:"resumed"`
	Error    string  `json:"error,omitempty"`
}

// Options tunes a Session. Zero values take defaults.
type Options struct {
	FrameInterval   time.Duration
	ProgressEpsilon float64
	DefaultSpeed    float64
	Speeds          []float64
	Seek            SeekOpts // callbacks are owned by the session
	UpdateBuffer    int
}

// Config describes a Session to create.
type Config struct {
	ID          string
	Participant string
	Engine      Engine
	Timeline    *timeline.Timeline
	Options     Options
}

// State is a point-in-time view of a session.
type State struct {
	ID          string           `json:"id"`
	Participant string           `json:"participant"`
	CurrentSec  float64          `json:"current_sec"`
	DurationSec float64          `json:"duration_sec"`
	Progress    float64          `json:"progress"`
	Clock       string           `json:"clock"`
	Total       string           `json:"total"`
	Playing     bool             `json:"playing"`
	Seeking     bool             `json:"seeking"`
	SeekState   string           `json:"seek_state"`
	Speed       float64          `json:"speed"`
	Speeds      []float64        `json:"speeds"`
	Messages    []timeline.Event `json:"messages"`
	Content     string           `json:"content,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
}

// Session is the per-viewer context: one engine, one sampler feeding the
// progress, message and content views, one seek controller, and the
// subscribers that receive their updates. Transport and seek requests are
// serialized; views only read.
type Session struct {
	id          string
	participant string
	engine      Engine
	timeline    *timeline.Timeline
	speeds      []float64

	sampler  *Sampler
	progress *ProgressView
	messages *MessageView
	content  *ContentView
	seeker   *SeekController
	bus      *broadcaster

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex // serializes writers
	closed     bool
	started    bool
	lastActive time.Time

	statusMu    sync.Mutex
	speed       float64
	lastStatus  StatusUpdate
	lastSeekErr string
}

// NewSession wires a session around cfg.Engine. Call Start to begin
// sampling and Close to release it.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Engine == nil {
		return nil, errors.New("playback: session needs an engine")
	}
	tl := cfg.Timeline
	if tl == nil {
		var err error
		if tl, err = timeline.New(nil); err != nil {
			return nil, err
		}
	}
	opts := cfg.Options
	if len(opts.Speeds) == 0 {
		opts.Speeds = DefaultSpeeds
	}
	if opts.DefaultSpeed <= 0 {
		opts.DefaultSpeed = 1
	}
	if !containsSpeed(opts.Speeds, opts.DefaultSpeed) {
		return nil, fmt.Errorf("playback: default speed %g is not one of %v", opts.DefaultSpeed, opts.Speeds)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          cfg.ID,
		participant: cfg.Participant,
		engine:      cfg.Engine,
		timeline:    tl,
		speeds:      append([]float64(nil), opts.Speeds...),
		bus:         newBroadcaster(opts.UpdateBuffer),
		ctx:         ctx,
		cancel:      cancel,
		speed:       opts.DefaultSpeed,
		lastActive:  time.Now(),
	}
	s.engine.SetSpeed(s.speed)

	s.progress = NewProgressView(opts.ProgressEpsilon, func(p, sec float64) {
		s.bus.publish(Update{Event: EventProgress, Data: ProgressUpdate{
			Progress: p, CurrentSec: sec, Clock: timeline.FormatClock(sec),
		}})
	})
	s.messages = NewMessageView(tl, func(events []timeline.Event) {
		s.bus.publish(Update{Event: EventMessages, Data: MessagesUpdate{
			Count: len(events), Messages: events,
		}})
	})
	subs := []Subscriber{s.progress, s.messages}
	if cr, ok := cfg.Engine.(ContentReader); ok {
		s.content = NewContentView(cr, func(c string) {
			s.bus.publish(Update{Event: EventContent, Data: ContentUpdate{Content: c}})
		})
		subs = append(subs, s.content)
	}
	subs = append(subs, SubscriberFunc(func(Frame) { s.publishStatus(false) }))
	s.sampler = NewSampler(cfg.Engine, opts.FrameInterval, subs...)

	seekOpts := opts.Seek
	seekOpts.OnStart = s.seekStarted
	seekOpts.OnDone = s.seekDone
	s.seeker = NewSeekController(cfg.Engine, seekOpts)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Participant returns the participant key being replayed.
func (s *Session) Participant() string { return s.participant }

// Timeline returns the chat timeline.
func (s *Session) Timeline() *timeline.Timeline { return s.timeline }

// Speeds returns the accepted speed multipliers.
func (s *Session) Speeds() []float64 {
	return append([]float64(nil), s.speeds...)
}

// Start begins the frame loop. Calling it again has no effect.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sampler.Run(s.ctx)
	}()
}

// Tick samples the engine once outside the frame loop.
func (s *Session) Tick() Frame {
	return s.sampler.Tick()
}

// Play resumes playback, or records the intent to resume when a seek is in
// flight. Playing twice is the same as playing once.
func (s *Session) Play() error {
	return s.transport(true)
}

// Pause stops playback, or cancels the pending resume of an in-flight seek.
func (s *Session) Pause() error {
	return s.transport(false)
}

func (s *Session) transport(play bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.lastActive = time.Now()
	if !s.seeker.Intent(play) {
		if play {
			s.engine.Play()
		} else {
			s.engine.Pause()
		}
	}
	s.mu.Unlock()
	s.publishStatus(true)
	return nil
}

// SetSpeed changes the playback multiplier. Only the configured speeds are
// accepted.
func (s *Session) SetSpeed(multiplier float64) error {
	if math.IsNaN(multiplier) || math.IsInf(multiplier, 0) || !containsSpeed(s.speeds, multiplier) {
		return fmt.Errorf("%w: %g", ErrInvalidSpeed, multiplier)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.lastActive = time.Now()
	s.engine.SetSpeed(multiplier)
	s.statusMu.Lock()
	s.speed = multiplier
	s.statusMu.Unlock()
	s.mu.Unlock()
	s.publishStatus(true)
	return nil
}

// Seek moves playback to percent of the duration. See SeekController.Seek.
func (s *Session) Seek(percent float64) (<-chan SeekResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.lastActive = time.Now()
	return s.seeker.Seek(s.ctx, percent)
}

// SeekToEvent seeks to the timestamp of the i-th chat event.
func (s *Session) SeekToEvent(i int) (<-chan SeekResult, error) {
	ev, ok := s.timeline.At(i)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoEvent, i)
	}
	dur := s.engine.Duration()
	if dur <= 0 {
		return nil, ErrNoDuration
	}
	return s.Seek(ev.Timestamp * 1000 / float64(dur) * 100)
}

func (s *Session) seekStarted(percent float64, targetMs int64) {
	s.progress.Set(percent, float64(targetMs)/1000)
	s.bus.publish(Update{Event: EventSeek, Data: SeekUpdate{
		State: SeekSeeking.String(), Percent: percent, TargetMs: targetMs,
	}})
	s.publishStatus(true)
}

func (s *Session) seekDone(res SeekResult) {
	u := SeekUpdate{
		State:    SeekIdle.String(),
		Percent:  res.Percent,
		TargetMs: res.TargetMs,
		Resumed:  res.Resumed,
	}
	s.statusMu.Lock()
	s.lastSeekErr = ""
	if res.Err != nil {
		u.Error = res.Err.Error()
		s.lastSeekErr = u.Error
	}
	s.statusMu.Unlock()

	s.sampler.Tick()
	s.bus.publish(Update{Event: EventSeek, Data: u})
	s.publishStatus(true)
}

func (s *Session) status() StatusUpdate {
	s.statusMu.Lock()
	speed := s.speed
	s.statusMu.Unlock()

	seeking := s.seeker.State() != SeekIdle
	playing := s.engine.Status() == editor.StatusPlay
	switch {
	case seeking:
		playing = s.seeker.ResumeIntent()
	case engineSeeking(s.engine):
		// A seek that outlived its poll; the engine pauses when it lands.
		seeking, playing = true, false
	}
	return StatusUpdate{Playing: playing, Seeking: seeking, Speed: speed}
}

// publishStatus sends the transport status when it changed, or always when
// force is set.
func (s *Session) publishStatus(force bool) {
	st := s.status()
	s.statusMu.Lock()
	changed := st != s.lastStatus
	s.lastStatus = st
	s.statusMu.Unlock()
	if changed || force {
		s.bus.publish(Update{Event: EventStatus, Data: st})
	}
}

// Snapshot samples the engine and returns the full session state.
func (s *Session) Snapshot() State {
	f := sample(s.engine, time.Now())
	st := s.status()

	progress := f.Progress
	if st.Seeking {
		progress = s.progress.Value()
	}
	out := State{
		ID:          s.id,
		Participant: s.participant,
		CurrentSec:  f.CurrentSec(),
		DurationSec: float64(f.DurationMs) / 1000,
		Progress:    progress,
		Clock:       timeline.FormatClock(f.CurrentSec()),
		Total:       timeline.FormatClock(float64(f.DurationMs) / 1000),
		Playing:     st.Playing,
		Seeking:     st.Seeking,
		SeekState:   s.seeker.State().String(),
		Speed:       st.Speed,
		Speeds:      s.Speeds(),
		Messages:    s.timeline.Visible(f.CurrentSec()),
	}
	if cr, ok := s.engine.(ContentReader); ok {
		out.Content = cr.Content()
	}
	s.statusMu.Lock()
	out.LastError = s.lastSeekErr
	s.statusMu.Unlock()
	return out
}

// Markers returns the chat event markers for the seek bar.
func (s *Session) Markers() []timeline.Marker {
	return s.timeline.Markers(float64(s.engine.Duration()) / 1000)
}

// Subscribe returns a channel of updates and a function that cancels the
// subscription. Slow subscribers miss updates rather than block the session.
func (s *Session) Subscribe() (<-chan Update, func()) {
	return s.bus.subscribe()
}

// LastActive returns when a transport or seek request last arrived.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Touch marks the session active.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// Close stops the frame loop, abandons any in-flight seek, closes the
// engine when it is an io.Closer and ends every subscription.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.seeker.Wait()
	s.bus.close()

	if c, ok := s.engine.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Printf("playback: session %s: close engine: %v", s.id, err)
			return fmt.Errorf("playback: close engine: %w", err)
		}
	}
	return nil
}

func containsSpeed(speeds []float64, x float64) bool {
	for _, v := range speeds {
		if math.Abs(v-x) < 1e-9 {
			return true
		}
	}
	return false
}
