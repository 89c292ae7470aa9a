package viewer

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/gptreplay/internal/editor"
	"github.com/zulandar/gptreplay/internal/ingest"
	"github.com/zulandar/gptreplay/internal/playback"
)

// errBadParticipant marks selectors that do not name a participant.
var errBadParticipant = errors.New("invalid participant")

// Loader fetches the replayable session for a participant key.
type Loader func(key string) (*ingest.Session, error)

type view struct {
	session  *playback.Session
	created  time.Time
	attached int
}

// Registry owns the open views. Each view is one playback session with its
// own engine; closing the view releases both.
type Registry struct {
	load Loader
	opts playback.Options

	mu    sync.Mutex
	views map[string]*view
}

// NewRegistry creates an empty registry.
func NewRegistry(load Loader, opts playback.Options) *Registry {
	return &Registry{load: load, opts: opts, views: make(map[string]*view)}
}

// Create loads the participant named by selector and opens a view on it.
func (r *Registry) Create(selector string) (*playback.Session, error) {
	key, _, err := ingest.ParseParticipant(selector)
	if err != nil {
		return nil, fmt.Errorf("viewer: %w: %v", errBadParticipant, err)
	}
	sess, err := r.load(key)
	if err != nil {
		return nil, err
	}

	player, err := editor.NewPlayer(sess.Operations, editor.PlayerOpts{
		Speed:          r.opts.DefaultSpeed,
		InitialContent: sess.InitialContent,
	})
	if err != nil {
		return nil, fmt.Errorf("viewer: start engine for %s: %w", key, err)
	}
	ps, err := playback.NewSession(playback.Config{
		ID:          uuid.NewString(),
		Participant: key,
		Engine:      player,
		Timeline:    sess.Timeline,
		Options:     r.opts,
	})
	if err != nil {
		player.Close()
		return nil, fmt.Errorf("viewer: open session for %s: %w", key, err)
	}
	ps.Start()

	r.mu.Lock()
	r.views[ps.ID()] = &view{session: ps, created: time.Now()}
	r.mu.Unlock()
	log.Printf("viewer: opened view %s for %s (%d events, %dms)",
		ps.ID(), key, sess.Timeline.Len(), player.Duration())
	return ps, nil
}

// Get returns the session of view id.
func (r *Registry) Get(id string) (*playback.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[id]
	if !ok {
		return nil, false
	}
	return v.session, true
}

// Attach marks a streaming client on view id. The returned release must be
// called when the client goes away.
func (r *Registry) Attach(id string) (*playback.Session, func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[id]
	if !ok {
		return nil, nil, false
	}
	v.attached++
	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			v.attached--
			r.mu.Unlock()
			v.session.Touch()
		})
	}
	return v.session, release, true
}

// Delete closes and forgets view id.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	v, ok := r.views[id]
	delete(r.views, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	if err := v.session.Close(); err != nil {
		log.Printf("viewer: close view %s: %v", id, err)
	}
	return true
}

// ReapIdle closes views with no attached client that have been inactive for
// longer than timeout. It returns how many were closed.
func (r *Registry) ReapIdle(now time.Time, timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}
	r.mu.Lock()
	var idle []string
	for id, v := range r.views {
		if v.attached == 0 && now.Sub(v.session.LastActive()) > timeout {
			idle = append(idle, id)
		}
	}
	r.mu.Unlock()

	for _, id := range idle {
		if r.Delete(id) {
			log.Printf("viewer: reaped idle view %s", id)
		}
	}
	return len(idle)
}

// IDs lists open views, oldest first.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.views))
	for id := range r.views {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.views[ids[i]].created.Before(r.views[ids[j]].created)
	})
	return ids
}

// CloseAll closes every view.
func (r *Registry) CloseAll() {
	for _, id := range r.IDs() {
		r.Delete(id)
	}
}
