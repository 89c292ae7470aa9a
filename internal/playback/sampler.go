package playback

import (
	"context"
	"sync"
	"time"
)

// DefaultFrameInterval is roughly one display frame at 60Hz.
const DefaultFrameInterval = 16 * time.Millisecond

// Subscriber receives every sampled frame.
type Subscriber interface {
	Observe(Frame)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(Frame)

func (fn SubscriberFunc) Observe(f Frame) { fn(f) }

// Sampler reads the engine clock once per frame and fans the frame out to
// its subscribers in registration order.
type Sampler struct {
	engine   Engine
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	subs []Subscriber
	last Frame
}

// NewSampler creates a Sampler. A non-positive interval uses
// DefaultFrameInterval.
func NewSampler(engine Engine, interval time.Duration, subs ...Subscriber) *Sampler {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Sampler{
		engine:   engine,
		interval: interval,
		now:      time.Now,
		subs:     subs,
	}
}

// Subscribe adds a subscriber for subsequent frames.
func (s *Sampler) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
}

// Tick samples the engine once and delivers the frame.
func (s *Sampler) Tick() Frame {
	f := sample(s.engine, s.now())
	s.mu.Lock()
	s.last = f
	subs := make([]Subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Observe(f)
	}
	return f
}

// Last returns the most recent frame.
func (s *Sampler) Last() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Run ticks every interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}
