// Package ingest turns a recorded session export (CSV) into the chat events
// and the editor operation log of each participant.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
)

// Sentinel errors for load failures.
var (
	// ErrLogFetch means the export could not be read or holds no rows for
	// the requested participant.
	ErrLogFetch = errors.New("log fetch failed")
	// ErrLogStructure means the log as a whole is invalid. Nothing from it
	// may be installed.
	ErrLogStructure = errors.New("log structure invalid")
)

// Operation location and type discriminators.
const (
	LocEditor = "editor"
	LocGPT    = "gpt"

	TypeInquiry  = "gpt_inquiry"
	TypeResponse = "gpt_response"
	TypePaste    = "paste"
)

// requiredColumns must all be present in the CSV header.
var requiredColumns = []string{"essay_num", "op_loc", "op_type", "time", "selected_text", "recording_obj"}

// Record is one row of the export.
type Record struct {
	Line          int
	EssayNum      int
	OpLoc         string
	OpType        string
	Time          float64
	SelectedText  string
	RecordingObj  string
	CurrentEditor string

	// Err is set when the row could not be decoded. Such rows are skipped.
	Err error
}

// ReadFile reads the export at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w: %v", ErrLogFetch, err)
	}
	defer f.Close()
	return ReadRecords(f)
}

// ReadRecords decodes CSV rows. A missing header column is a structure
// failure; a bad row is returned with Err set so the caller can skip it.
func ReadRecords(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("ingest: %w: empty export", ErrLogFetch)
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: %w: header: %v", ErrLogStructure, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("ingest: %w: missing columns %s", ErrLogStructure, strings.Join(missing, ", "))
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var records []Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				records = append(records, Record{Line: pe.Line, Err: err})
				continue
			}
			return nil, fmt.Errorf("ingest: %w: %v", ErrLogFetch, err)
		}
		if isBlank(row) {
			continue
		}
		line, _ := cr.FieldPos(0)
		rec := Record{
			Line:          line,
			OpLoc:         strings.TrimSpace(field(row, "op_loc")),
			OpType:        strings.TrimSpace(field(row, "op_type")),
			SelectedText:  field(row, "selected_text"),
			RecordingObj:  field(row, "recording_obj"),
			CurrentEditor: field(row, "current_editor"),
		}
		rec.EssayNum, err = parseEssayNum(field(row, "essay_num"))
		if err != nil {
			rec.EssayNum = -1
			rec.Err = err
			records = append(records, rec)
			continue
		}
		if t := strings.TrimSpace(field(row, "time")); t != "" {
			rec.Time, err = strconv.ParseFloat(t, 64)
			if err != nil || rec.Time < 0 || math.IsNaN(rec.Time) || math.IsInf(rec.Time, 0) {
				rec.Err = fmt.Errorf("bad time %q", t)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// parseEssayNum accepts integers and integral floats ("3", "3.0").
func parseEssayNum(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("bad essay_num %q", s)
	}
	return int(f), nil
}

func isBlank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// logSkip reports a skipped record.
func logSkip(rec Record, reason error) {
	log.Printf("ingest: skipping line %d (%s/%s): %v", rec.Line, rec.OpLoc, rec.OpType, reason)
}
