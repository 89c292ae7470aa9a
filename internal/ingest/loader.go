package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/zulandar/gptreplay/internal/editor"
	"github.com/zulandar/gptreplay/internal/timeline"
)

// DefaultInitialContent is the editor text shown before the first operation.
const DefaultInitialContent = "\n\n\n\n"

// Session is everything needed to replay one participant.
type Session struct {
	Participant    string
	EssayNum       int
	Timeline       *timeline.Timeline
	Operations     editor.Log
	Pastes         []string
	InitialContent string
}

// Report summarizes a load.
type Report struct {
	Rows       int `json:"rows"`
	Skipped    int `json:"skipped"`
	Events     int `json:"events"`
	Operations int `json:"operations"`
	Pastes     int `json:"pastes"`
}

// ParseParticipant maps a selector like "p12" (or "12") to its key and
// essay number. An empty selector means "p1".
func ParseParticipant(sel string) (string, int, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return "p1", 1, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(sel), "p"))
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("ingest: invalid participant %q", sel)
	}
	return "p" + strconv.Itoa(n), n, nil
}

// ParticipantLabel is the display name for key pN.
func ParticipantLabel(essayNum int) string {
	return fmt.Sprintf("Participant %d", essayNum+1)
}

// Build assembles the session of one participant from decoded records.
// Malformed records are skipped and counted. A participant without rows is
// ErrLogFetch; an operation log that does not validate as a whole is
// ErrLogStructure.
func Build(records []Record, participant string) (*Session, Report, error) {
	key, essay, err := ParseParticipant(participant)
	if err != nil {
		return nil, Report{}, err
	}

	var (
		rep    Report
		events []timeline.Event
		ops    editor.Log
		pastes []string
	)
	for _, rec := range records {
		if rec.Err != nil {
			if rec.EssayNum == essay && rec.OpLoc != "" {
				rep.Rows++
				rep.Skipped++
				logSkip(rec, rec.Err)
			}
			continue
		}
		if rec.EssayNum != essay {
			continue
		}
		rep.Rows++

		switch rec.OpLoc {
		case LocGPT:
			role, ok := roleFor(rec.OpType)
			if !ok {
				continue
			}
			events = append(events, timeline.Event{
				ID:        len(events),
				Role:      role,
				Content:   rec.SelectedText,
				Timestamp: rec.Time,
			})
		case LocEditor:
			if strings.TrimSpace(rec.RecordingObj) == "" {
				rep.Skipped++
				logSkip(rec, errors.New("empty recording_obj"))
				continue
			}
			recOps, err := decodeOperations(rec.RecordingObj)
			if err != nil {
				rep.Skipped++
				logSkip(rec, err)
				continue
			}
			ops = append(ops, recOps...)
			if rec.OpType == TypePaste && strings.TrimSpace(rec.SelectedText) != "" {
				pastes = append(pastes, rec.SelectedText)
			}
		}
	}

	if rep.Rows == 0 {
		return nil, rep, fmt.Errorf("ingest: %w: no data for participant %s (essay_num %d)", ErrLogFetch, key, essay)
	}

	if err := ops.Validate(); err != nil {
		return nil, rep, fmt.Errorf("ingest: %w: %v", ErrLogStructure, err)
	}
	tl, err := timeline.New(timeline.MarkPasted(events, pastes))
	if err != nil {
		return nil, rep, fmt.Errorf("ingest: %w: %v", ErrLogStructure, err)
	}

	rep.Events = tl.Len()
	rep.Operations = len(ops)
	rep.Pastes = len(pastes)
	log.Printf("ingest: participant %s: %d rows, %d events, %d operations, %d skipped",
		key, rep.Rows, rep.Events, rep.Operations, rep.Skipped)

	return &Session{
		Participant:    key,
		EssayNum:       essay,
		Timeline:       tl,
		Operations:     ops,
		Pastes:         pastes,
		InitialContent: DefaultInitialContent,
	}, rep, nil
}

// Participants lists the distinct essay numbers present in records, sorted.
func Participants(records []Record) []int {
	seen := map[int]bool{}
	var out []int
	for _, rec := range records {
		if rec.Err != nil || seen[rec.EssayNum] {
			continue
		}
		seen[rec.EssayNum] = true
		out = append(out, rec.EssayNum)
	}
	sort.Ints(out)
	return out
}

func roleFor(opType string) (timeline.Role, bool) {
	switch opType {
	case TypeInquiry:
		return timeline.RoleUser, true
	case TypeResponse:
		return timeline.RoleAssistant, true
	}
	return "", false
}

// decodeOperations normalizes one recording_obj (a single operation or a
// list of them) and decodes it against the editor operation grammar.
func decodeOperations(raw string) (editor.Log, error) {
	data, err := NormalizeLiteral(raw)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		data = append(append([]byte{'['}, data...), ']')
	}
	var probe []json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("recording_obj is neither an operation nor a list: %v", err)
	}
	return editor.ParseLog(data)
}
