package editor

import "strings"

// Buffer is the replayed document.
type Buffer struct {
	text []rune
}

// NewBuffer returns a buffer holding s.
func NewBuffer(s string) *Buffer {
	return &Buffer{text: []rune(s)}
}

// String returns the buffer contents.
func (b *Buffer) String() string {
	return string(b.text)
}

// Offset converts a position to a rune offset, clamping the line to the last
// line and the column to the line length.
func (b *Buffer) Offset(p Pos) int {
	off, line := 0, 0
	for line < p.Line {
		nl := indexRune(b.text[off:], '\n')
		if nl < 0 {
			// Past the last line: clamp to end of buffer.
			return len(b.text)
		}
		off += nl + 1
		line++
	}
	end := indexRune(b.text[off:], '\n')
	lineLen := len(b.text) - off
	if end >= 0 {
		lineLen = end
	}
	if p.Ch > lineLen {
		return off + lineLen
	}
	return off + p.Ch
}

// Apply performs one change.
func (b *Buffer) Apply(c Change) {
	from := b.Offset(c.From)
	to := from
	switch {
	case c.To != nil:
		to = b.Offset(*c.To)
	case c.Removed > 0:
		to = from + c.Removed
	}
	if to < from {
		from, to = to, from
	}
	if to > len(b.text) {
		to = len(b.text)
	}
	ins := []rune(string(c.Text))
	out := make([]rune, 0, len(b.text)-(to-from)+len(ins))
	out = append(out, b.text[:from]...)
	out = append(out, ins...)
	out = append(out, b.text[to:]...)
	b.text = out
}

// Lines returns the buffer split on newlines.
func (b *Buffer) Lines() []string {
	return strings.Split(string(b.text), "\n")
}

func indexRune(rs []rune, r rune) int {
	for i, c := range rs {
		if c == r {
			return i
		}
	}
	return -1
}
