// Package editor replays recorded editor operations against an in-memory
// text buffer on its own clock. It is the replay engine behind a playback
// session: it advances time while playing, exposes elapsed time and total
// duration, and can fast-forward or rewind to any time.
package editor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedLog is returned when an operation log is not a well-formed
// operation sequence.
var ErrMalformedLog = errors.New("malformed operation log")

// Pos is a zero-based [line, ch] position in the buffer.
type Pos struct {
	Line int
	Ch   int
}

func (p Pos) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.Line, p.Ch})
}

func (p *Pos) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("position: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("position: want [line, ch], got %d values", len(pair))
	}
	if pair[0] < 0 || pair[1] < 0 {
		return fmt.Errorf("position: negative coordinate %v", pair)
	}
	p.Line, p.Ch = pair[0], pair[1]
	return nil
}

// Text is inserted text. On the wire it is a string or an array of lines.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var lines []string
		if err := json.Unmarshal(data, &lines); err != nil {
			return fmt.Errorf("text: %w", err)
		}
		*t = Text(strings.Join(lines, "\n"))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("text: %w", err)
	}
	*t = Text(s)
	return nil
}

// Span is the time of an operation in milliseconds. On the wire it is a
// single number or a [start, end] pair.
type Span struct {
	Start int64
	End   int64
}

func (s Span) MarshalJSON() ([]byte, error) {
	if s.Start == s.End {
		return json.Marshal(s.Start)
	}
	return json.Marshal([2]int64{s.Start, s.End})
}

func (s *Span) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []float64
		if err := json.Unmarshal(data, &pair); err != nil {
			return fmt.Errorf("time: %w", err)
		}
		if len(pair) != 2 {
			return fmt.Errorf("time: want [start, end], got %d values", len(pair))
		}
		s.Start, s.End = int64(pair[0]), int64(pair[1])
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("time: %w", err)
	}
	s.Start, s.End = int64(v), int64(v)
	return nil
}

// Change replaces the range From..To with Text. When To is absent the range
// is empty unless Removed counts characters to delete after From.
type Change struct {
	From    Pos  `json:"a"`
	To      *Pos `json:"b,omitempty"`
	Text    Text `json:"i"`
	Removed int  `json:"r,omitempty"`
}

// Operation is a group of changes applied at one instant.
type Operation struct {
	Time    Span     `json:"t"`
	Changes []Change `json:"o"`
}

// Log is an ordered operation sequence.
type Log []Operation

// ParseLog decodes and validates a strict-JSON operation log.
func ParseLog(data []byte) (Log, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("editor: %w: %v", ErrMalformedLog, err)
	}
	ops := make(Log, 0, len(raw))
	for i, r := range raw {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(r, &probe); err != nil {
			return nil, fmt.Errorf("editor: %w: operation %d: %v", ErrMalformedLog, i, err)
		}
		if _, ok := probe["t"]; !ok {
			return nil, fmt.Errorf("editor: %w: operation %d: missing time", ErrMalformedLog, i)
		}
		if _, ok := probe["o"]; !ok {
			return nil, fmt.Errorf("editor: %w: operation %d: missing changes", ErrMalformedLog, i)
		}
		var op Operation
		if err := json.Unmarshal(r, &op); err != nil {
			return nil, fmt.Errorf("editor: %w: operation %d: %v", ErrMalformedLog, i, err)
		}
		ops = append(ops, op)
	}
	if err := ops.Validate(); err != nil {
		return nil, err
	}
	return ops, nil
}

// Validate checks time ordering and change shapes.
func (l Log) Validate() error {
	var prev int64
	for i, op := range l {
		if op.Time.Start < 0 || op.Time.End < op.Time.Start {
			return fmt.Errorf("editor: %w: operation %d: bad time span [%d, %d]",
				ErrMalformedLog, i, op.Time.Start, op.Time.End)
		}
		if op.Time.Start < prev {
			return fmt.Errorf("editor: %w: operation %d: time %d before previous %d",
				ErrMalformedLog, i, op.Time.Start, prev)
		}
		prev = op.Time.Start
		for j, c := range op.Changes {
			if c.Removed < 0 {
				return fmt.Errorf("editor: %w: operation %d change %d: negative removal",
					ErrMalformedLog, i, j)
			}
		}
	}
	return nil
}

// Duration returns the latest end time in the log.
func (l Log) Duration() int64 {
	var d int64
	for _, op := range l {
		if op.Time.End > d {
			d = op.Time.End
		}
	}
	return d
}
