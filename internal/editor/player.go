package editor

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Status is the observable run state of a Player.
type Status string

const (
	StatusPlay  Status = "PLAY"
	StatusPause Status = "PAUSE"
)

// Default player settings.
const (
	DefaultTick      = 10 * time.Millisecond
	DefaultSeekBatch = 250
)

// PlayerOpts configures a Player.
type PlayerOpts struct {
	Speed          float64          // defaults to 1
	Tick           time.Duration    // engine clock resolution, defaults to DefaultTick
	SeekBatch      int              // operations applied per tick while seeking, defaults to DefaultSeekBatch
	InitialContent string           // buffer contents before the first operation
	Now            func() time.Time // defaults to time.Now
}

// Player replays a Log. Time only advances inside its own loop, so reads
// from other goroutines observe it asynchronously.
type Player struct {
	ops       Log
	initial   string
	tick      time.Duration
	seekBatch int
	now       func() time.Time

	mu         sync.Mutex
	buf        *Buffer
	next       int     // index of the next operation to apply
	current    float64 // elapsed ms
	duration   int64
	speed      float64
	status     Status
	seeking    bool
	seekTarget int64
	resume     bool // play once the seek completes
	last       time.Time
	closed     bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewPlayer prepares a player for log and starts its clock loop. The player
// starts paused at time 0. Call Close to stop the loop.
func NewPlayer(log Log, opts PlayerOpts) (*Player, error) {
	p, err := newPlayer(log, opts)
	if err != nil {
		return nil, err
	}
	p.wg.Add(1)
	go p.run()
	return p, nil
}

// newPlayer builds a player without starting its loop.
func newPlayer(log Log, opts PlayerOpts) (*Player, error) {
	if err := log.Validate(); err != nil {
		return nil, err
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.SeekBatch <= 0 {
		opts.SeekBatch = DefaultSeekBatch
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ops := make(Log, len(log))
	copy(ops, log)
	return &Player{
		ops:       ops,
		initial:   opts.InitialContent,
		tick:      opts.Tick,
		seekBatch: opts.SeekBatch,
		now:       opts.Now,
		buf:       NewBuffer(opts.InitialContent),
		duration:  ops.Duration(),
		speed:     opts.Speed,
		status:    StatusPause,
		last:      opts.Now(),
		done:      make(chan struct{}),
	}, nil
}

func (p *Player) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.step(p.now())
		}
	}
}

// step advances the clock to now.
func (p *Player) step(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := now.Sub(p.last)
	p.last = now
	if elapsed < 0 {
		elapsed = 0
	}

	if p.seeking {
		p.seekStep()
		return
	}
	if p.status != StatusPlay {
		return
	}
	if p.speed <= 0 {
		// Fastest: behave like a seek to the end.
		p.seeking = true
		p.seekTarget = p.duration
		p.seekStep()
		return
	}

	p.current += float64(elapsed) / float64(time.Millisecond) * p.speed
	if p.current >= float64(p.duration) {
		p.current = float64(p.duration)
		p.status = StatusPause
	}
	p.applyUntil(int64(p.current), -1)
}

// seekStep applies at most one batch of operations toward the seek target.
func (p *Player) seekStep() {
	applied := p.applyUntil(p.seekTarget, p.seekBatch)
	if p.next < len(p.ops) && p.ops[p.next].Time.Start <= p.seekTarget {
		// More work remains; report the time of the last applied operation.
		if applied > 0 {
			p.current = math.Max(p.current, float64(p.ops[p.next-1].Time.Start))
		}
		return
	}
	p.current = float64(p.seekTarget)
	p.seeking = false
	p.status = StatusPause
	if p.resume && p.seekTarget < p.duration {
		p.status = StatusPlay
	}
	p.resume = false
}

// applyUntil applies operations starting at or before ms, at most limit of
// them (limit < 0 means no limit). It returns how many were applied.
func (p *Player) applyUntil(ms int64, limit int) int {
	n := 0
	for p.next < len(p.ops) && p.ops[p.next].Time.Start <= ms {
		if limit >= 0 && n >= limit {
			break
		}
		for _, c := range p.ops[p.next].Changes {
			p.buf.Apply(c)
		}
		p.next++
		n++
	}
	return n
}

// CurrentTime returns elapsed playback time in milliseconds.
func (p *Player) CurrentTime() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(p.current)
}

// Duration returns the total playback time in milliseconds.
func (p *Player) Duration() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// Status returns PLAY while playing or seeking and PAUSE otherwise.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Seeking reports whether a seek is in progress.
func (p *Player) Seeking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seeking
}

// Speed returns the current speed multiplier.
func (p *Player) Speed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}

// Play starts advancing the clock. While seeking it defers playback until
// the target is reached. It is a no-op while playing or at the end of the
// log.
func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.seeking {
		p.resume = true
		return
	}
	if p.status == StatusPlay {
		return
	}
	if int64(p.current) >= p.duration {
		return
	}
	p.status = StatusPlay
	p.last = p.now()
}

// Pause stops the clock. A seek in progress stops where it is.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeking = false
	p.resume = false
	p.status = StatusPause
}

// SetSpeed changes the multiplier for subsequent advancement. A value <= 0
// means as fast as possible.
func (p *Player) SetSpeed(multiplier float64) {
	if math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speed = multiplier
}

// Seek moves playback to targetMs. It returns immediately; the player
// replays intervening operations at the fastest rate over the following
// ticks and pauses once CurrentTime reaches the target. Seeking backwards
// rebuilds the buffer from the initial content.
func (p *Player) Seek(targetMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if targetMs < 0 {
		targetMs = 0
	}
	if targetMs > p.duration {
		targetMs = p.duration
	}
	if float64(targetMs) < p.current {
		p.buf = NewBuffer(p.initial)
		p.next = 0
		p.current = 0
	}
	p.seekTarget = targetMs
	p.resume = false
	p.seeking = true
	p.status = StatusPlay
}

// Content returns the current buffer text.
func (p *Player) Content() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.String()
}

// Close stops the clock loop. It is safe to call more than once.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.status = StatusPause
	p.seeking = false
	close(p.done)
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

// String describes the player state for logs.
func (p *Player) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("player{%s %d/%dms x%.2g seeking=%t}",
		p.status, int64(p.current), p.duration, p.speed, p.seeking)
}
