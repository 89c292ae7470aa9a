package playback

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/zulandar/gptreplay/internal/editor"
)

// Seek defaults.
const (
	DefaultPollInterval    = 5 * time.Millisecond
	DefaultSeekTolerance   = 50 * time.Millisecond
	DefaultSeekMaxAttempts = 2000
)

// SeekState is the seek controller state.
type SeekState int

const (
	SeekIdle SeekState = iota
	SeekSeeking
	SeekReconciling
)

func (s SeekState) String() string {
	switch s {
	case SeekIdle:
		return "idle"
	case SeekSeeking:
		return "seeking"
	case SeekReconciling:
		return "reconciling"
	}
	return fmt.Sprintf("SeekState(%d)", int(s))
}

// SeekOpts configures a SeekController.
type SeekOpts struct {
	PollInterval time.Duration
	Tolerance    time.Duration
	MaxAttempts  int

	// OnStart is called with the clamped percent and target right after the
	// engine is told to seek.
	OnStart func(percent float64, targetMs int64)
	// OnDone is called once per seek that was not superseded.
	OnDone func(SeekResult)
}

// SeekResult reports how a seek ended.
type SeekResult struct {
	Percent  float64 `json:"percent"`
	TargetMs int64   `json:"target_ms"`
	Resumed  bool    `json:"resumed"`
	Attempts int     `json:"attempts"`
	Err      error   `json:"-"`
}

// SeekController drives an engine to a target and restores the prior play
// state once the engine arrives. A new seek supersedes one in flight and
// inherits its resume intent.
type SeekController struct {
	engine Engine
	opts   SeekOpts

	mu         sync.Mutex
	state      SeekState
	gen        uint64
	wasPlaying bool
	cancel     context.CancelFunc
	target     int64

	wg sync.WaitGroup
}

// NewSeekController creates a controller with defaults applied.
func NewSeekController(engine Engine, opts SeekOpts) *SeekController {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultSeekTolerance
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultSeekMaxAttempts
	}
	return &SeekController{engine: engine, opts: opts}
}

// State returns the current state.
func (c *SeekController) State() SeekState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Target returns the target of the in-flight seek and whether one exists.
func (c *SeekController) Target() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target, c.state != SeekIdle
}

// Intent records the play state to restore after an in-flight seek. It
// reports false when no seek is in flight, in which case the caller should
// act on the engine directly.
func (c *SeekController) Intent(playing bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == SeekIdle {
		return false
	}
	c.wasPlaying = playing
	return true
}

// ResumeIntent reports whether playback resumes after the in-flight seek.
func (c *SeekController) ResumeIntent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wasPlaying
}

// Seek moves the engine to percent of its duration. NaN and infinities are
// rejected; anything else is clamped to [0, 100]. The returned channel
// receives the result once the engine arrives, the attempt budget runs out
// or a later seek supersedes this one (in which case it is closed without a
// value). Cancelling ctx abandons the poll.
func (c *SeekController) Seek(ctx context.Context, percent float64) (<-chan SeekResult, error) {
	if math.IsNaN(percent) || math.IsInf(percent, 0) {
		return nil, ErrInvalidPercent
	}
	percent = clampPercent(percent)

	dur := c.engine.Duration()
	if dur <= 0 {
		return nil, ErrNoDuration
	}
	target := int64(math.Round(percent / 100 * float64(dur)))

	c.mu.Lock()
	if c.state != SeekIdle {
		c.cancel()
	} else {
		c.wasPlaying = c.engine.Status() == editor.StatusPlay
	}
	c.gen++
	gen := c.gen
	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = SeekSeeking
	c.target = target
	c.engine.Seek(target)
	c.mu.Unlock()

	if c.opts.OnStart != nil {
		c.opts.OnStart(percent, target)
	}

	out := make(chan SeekResult, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(out)
		res, ok := c.poll(pollCtx, gen, percent, target)
		cancel()
		if !ok {
			return
		}
		if c.opts.OnDone != nil {
			c.opts.OnDone(res)
		}
		out <- res
	}()
	return out, nil
}

// poll waits for arrival. It returns ok=false when superseded or cancelled.
func (c *SeekController) poll(ctx context.Context, gen uint64, percent float64, target int64) (SeekResult, bool) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	res := SeekResult{Percent: percent, TargetMs: target}
	for {
		select {
		case <-ctx.Done():
			c.abandon(gen)
			return res, false
		case <-ticker.C:
		}
		res.Attempts++

		if c.arrived(target) {
			return c.reconcile(gen, res)
		}
		if res.Attempts >= c.opts.MaxAttempts {
			c.mu.Lock()
			if gen != c.gen {
				c.mu.Unlock()
				return res, false
			}
			c.state = SeekIdle
			c.mu.Unlock()
			res.Err = fmt.Errorf("%w: target %dms, engine at %dms after %d attempts",
				ErrSeekTimeout, target, c.engine.CurrentTime(), res.Attempts)
			log.Printf("playback: %v", res.Err)
			return res, true
		}
	}
}

func (c *SeekController) arrived(target int64) bool {
	if engineSeeking(c.engine) {
		return false
	}
	diff := c.engine.CurrentTime() - target
	if diff < 0 {
		diff = -diff
	}
	return time.Duration(diff)*time.Millisecond < c.opts.Tolerance ||
		c.engine.Status() == editor.StatusPause
}

func (c *SeekController) reconcile(gen uint64, res SeekResult) (SeekResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return res, false
	}
	c.state = SeekReconciling
	if c.wasPlaying {
		c.engine.Play()
		res.Resumed = true
	}
	c.state = SeekIdle
	return res, true
}

// abandon returns to idle if gen is still the latest seek.
func (c *SeekController) abandon(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen {
		c.state = SeekIdle
	}
}

// Wait blocks until every poll goroutine has exited.
func (c *SeekController) Wait() {
	c.wg.Wait()
}
