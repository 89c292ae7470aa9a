package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// NormalizeLiteral converts a recorded operation payload into strict JSON.
//
// Payloads are written in a Python-literal dialect: strings may use single
// or double quotes, and True/False/None stand in for true/false/null. The
// grammar accepted is
//
//	value  = object | array | string | number | "true" | "false" | "null"
//	       | "True" | "False" | "None"
//	object = "{" [ pair { "," pair } [","] ] "}"
//	pair   = string ":" value
//	array  = "[" [ value { "," value } [","] ] "]"
//	string = "'" chars "'" | '"' chars '"'   (backslash escapes as in JSON, plus \')
//
// Anything else is rejected with the byte offset of the first problem.
func NormalizeLiteral(s string) ([]byte, error) {
	p := &literalParser{src: s}
	p.skipSpace()
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("trailing data")
	}
	return json.Marshal(v)
}

type literalParser struct {
	src string
	pos int
}

func (p *literalParser) errorf(format string, args ...any) error {
	return fmt.Errorf("literal: offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *literalParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *literalParser) value() (any, error) {
	switch c := p.peek(); {
	case c == '{':
		return p.object()
	case c == '[':
		return p.array()
	case c == '\'' || c == '"':
		return p.str()
	case c == '-' || (c >= '0' && c <= '9'):
		return p.number()
	case c == 0:
		return nil, p.errorf("unexpected end of input")
	default:
		return p.keyword()
	}
}

func (p *literalParser) keyword() (any, error) {
	words := []struct {
		word string
		val  any
	}{
		{"true", true}, {"True", true},
		{"false", false}, {"False", false},
		{"null", nil}, {"None", nil},
	}
	for _, w := range words {
		if strings.HasPrefix(p.src[p.pos:], w.word) {
			p.pos += len(w.word)
			return w.val, nil
		}
	}
	return nil, p.errorf("unexpected character %q", p.peek())
}

func (p *literalParser) object() (any, error) {
	p.pos++ // {
	obj := map[string]any{}
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.pos++
			return obj, nil
		}
		if c := p.peek(); c != '\'' && c != '"' {
			return nil, p.errorf("expected string key")
		}
		key, err := p.str()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ':' {
			return nil, p.errorf("expected ':' after key %q", key)
		}
		p.pos++
		p.skipSpace()
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		obj[key] = v
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return obj, nil
		default:
			return nil, p.errorf("expected ',' or '}' in object")
		}
	}
}

func (p *literalParser) array() (any, error) {
	p.pos++ // [
	arr := []any{}
	for {
		p.skipSpace()
		if p.peek() == ']' {
			p.pos++
			return arr, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return arr, nil
		default:
			return nil, p.errorf("expected ',' or ']' in array")
		}
	}
}

func (p *literalParser) str() (string, error) {
	quote := p.src[p.pos]
	p.pos++
	var sb strings.Builder
	for {
		if p.pos >= len(p.src) {
			return "", p.errorf("unterminated string")
		}
		c := p.src[p.pos]
		switch {
		case c == quote:
			p.pos++
			return sb.String(), nil
		case c == '\\':
			if err := p.escape(&sb); err != nil {
				return "", err
			}
		default:
			r, size := utf8.DecodeRuneInString(p.src[p.pos:])
			if r == utf8.RuneError && size == 1 {
				return "", p.errorf("invalid utf-8")
			}
			sb.WriteRune(r)
			p.pos += size
		}
	}
}

func (p *literalParser) escape(sb *strings.Builder) error {
	p.pos++ // backslash
	if p.pos >= len(p.src) {
		return p.errorf("unterminated escape")
	}
	c := p.src[p.pos]
	p.pos++
	switch c {
	case '\'', '"', '\\', '/':
		sb.WriteByte(c)
	case 'n':
		sb.WriteByte('\n')
	case 't':
		sb.WriteByte('\t')
	case 'r':
		sb.WriteByte('\r')
	case 'b':
		sb.WriteByte('\b')
	case 'f':
		sb.WriteByte('\f')
	case 'u':
		if p.pos+4 > len(p.src) {
			return p.errorf("short \\u escape")
		}
		n, err := strconv.ParseUint(p.src[p.pos:p.pos+4], 16, 32)
		if err != nil {
			return p.errorf("bad \\u escape")
		}
		p.pos += 4
		sb.WriteRune(rune(n))
	default:
		return p.errorf("unknown escape \\%c", c)
	}
	return nil
}

func (p *literalParser) number() (any, error) {
	start := p.pos
	if p.peek() == '-' {
		p.pos++
	}
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-' {
			p.pos++
			continue
		}
		break
	}
	lit := p.src[start:p.pos]
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		p.pos = start
		return nil, p.errorf("bad number %q", lit)
	}
	if !json.Valid([]byte(lit)) {
		// Python accepts forms like "1." and "007"; JSON does not.
		lit = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return json.Number(lit), nil
}
