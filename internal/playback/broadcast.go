package playback

import "sync"

const defaultUpdateBuffer = 64

type broadcaster struct {
	size int

	mu     sync.Mutex
	subs   map[int]chan Update
	next   int
	closed bool
}

func newBroadcaster(size int) *broadcaster {
	if size <= 0 {
		size = defaultUpdateBuffer
	}
	return &broadcaster{size: size, subs: make(map[int]chan Update)}
}

func (b *broadcaster) subscribe() (<-chan Update, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Update, b.size)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// publish never blocks; a full subscriber misses the update.
func (b *broadcaster) publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
