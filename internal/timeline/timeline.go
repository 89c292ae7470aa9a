// Package timeline holds the ordered chat events of one recorded session and
// answers time-based visibility queries against them.
package timeline

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
)

// Role identifies who authored a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Event is one chat turn. Timestamp is elapsed seconds since session start.
type Event struct {
	ID          int     `json:"id"`
	Role        Role    `json:"role"`
	Content     string  `json:"content"`
	Timestamp   float64 `json:"time"`
	Highlighted bool    `json:"highlighted,omitempty"`
}

// Timeline is an immutable, chronologically ordered set of events.
// The zero value is an empty timeline.
type Timeline struct {
	events []Event
}

// New validates events and returns a Timeline. Events are copied. Out-of-order
// timestamps are stable-sorted (insertion order breaks ties) and logged once.
func New(events []Event) (*Timeline, error) {
	cp := make([]Event, len(events))
	copy(cp, events)

	var errs []string
	for i, e := range cp {
		if !e.Role.Valid() {
			errs = append(errs, fmt.Sprintf("event[%d]: unknown role %q", i, e.Role))
		}
		if e.Timestamp < 0 || math.IsNaN(e.Timestamp) || math.IsInf(e.Timestamp, 0) {
			errs = append(errs, fmt.Sprintf("event[%d]: invalid timestamp %v", i, e.Timestamp))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("timeline: %s", strings.Join(errs, "; "))
	}

	if !sort.SliceIsSorted(cp, func(i, j int) bool { return cp[i].Timestamp < cp[j].Timestamp }) {
		log.Printf("timeline: %d events arrived out of order, sorting by timestamp", len(cp))
		sort.SliceStable(cp, func(i, j int) bool { return cp[i].Timestamp < cp[j].Timestamp })
	}
	return &Timeline{events: cp}, nil
}

// Len returns the number of events.
func (t *Timeline) Len() int {
	if t == nil {
		return 0
	}
	return len(t.events)
}

// Events returns a copy of all events in order.
func (t *Timeline) Events() []Event {
	if t == nil {
		return nil
	}
	cp := make([]Event, len(t.events))
	copy(cp, t.events)
	return cp
}

// At returns the i-th event.
func (t *Timeline) At(i int) (Event, bool) {
	if t == nil || i < 0 || i >= len(t.events) {
		return Event{}, false
	}
	return t.events[i], true
}

// VisibleCount returns how many events have Timestamp <= sec. It is computed
// from the full timeline on every call, so a smaller sec yields a smaller count.
func (t *Timeline) VisibleCount(sec float64) int {
	if t == nil {
		return 0
	}
	return sort.Search(len(t.events), func(i int) bool {
		return t.events[i].Timestamp > sec
	})
}

// Visible returns a copy of the events with Timestamp <= sec.
func (t *Timeline) Visible(sec float64) []Event {
	n := t.VisibleCount(sec)
	out := make([]Event, n)
	if n > 0 {
		copy(out, t.events[:n])
	}
	return out
}

// Marker is an event position on the seek bar.
type Marker struct {
	EventID int     `json:"event_id"`
	Role    Role    `json:"role"`
	Time    float64 `json:"time"`
	Percent float64 `json:"percent"`
	Label   string  `json:"label"`
}

// Markers places every event on a [0,100] scale for the given total duration
// in seconds. A non-positive duration puts every marker at 0.
func (t *Timeline) Markers(durationSec float64) []Marker {
	if t == nil {
		return nil
	}
	out := make([]Marker, 0, len(t.events))
	for _, e := range t.events {
		pct := 0.0
		if durationSec > 0 {
			pct = math.Min(e.Timestamp/durationSec*100, 100)
		}
		out = append(out, Marker{
			EventID: e.ID,
			Role:    e.Role,
			Time:    e.Timestamp,
			Percent: pct,
			Label:   "Message at " + FormatClock(e.Timestamp),
		})
	}
	return out
}

// FormatClock renders seconds as m:ss.
func FormatClock(sec float64) string {
	if sec < 0 || math.IsNaN(sec) {
		sec = 0
	}
	total := int(math.Floor(sec))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
