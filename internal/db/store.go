package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/gptreplay/internal/editor"
	"github.com/zulandar/gptreplay/internal/ingest"
	"github.com/zulandar/gptreplay/internal/models"
	"github.com/zulandar/gptreplay/internal/timeline"
	"gorm.io/gorm"
)

// Ingest run statuses.
const (
	RunRunning = "running"
	RunOK      = "ok"
	RunPartial = "partial"
	RunFailed  = "failed"
)

// ImportSession replaces everything stored for s.Participant in one
// transaction. On error the previous rows are left untouched.
func ImportSession(db *gorm.DB, s *ingest.Session, source string) (*models.Participant, error) {
	if s == nil || s.Timeline == nil {
		return nil, errors.New("db: import: empty session")
	}

	p := models.Participant{
		Key:        s.Participant,
		EssayNum:   s.EssayNum,
		Label:      ingest.ParticipantLabel(s.EssayNum),
		DurationMs: s.Operations.Duration(),
		EventCount: s.Timeline.Len(),
		OpCount:    len(s.Operations),
		PasteCount: len(s.Pastes),
		Source:     source,
		ImportedAt: time.Now(),
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		var existing models.Participant
		err := tx.Where(&models.Participant{Key: s.Participant}).First(&existing).Error
		switch {
		case err == nil:
			p.ID = existing.ID
			p.CreatedAt = existing.CreatedAt
			for _, m := range []interface{}{&models.ChatEvent{}, &models.EditorOp{}, &models.PasteText{}} {
				if err := tx.Where("participant_id = ?", p.ID).Delete(m).Error; err != nil {
					return fmt.Errorf("clear %T: %w", m, err)
				}
			}
			if err := tx.Save(&p).Error; err != nil {
				return fmt.Errorf("update participant: %w", err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&p).Error; err != nil {
				return fmt.Errorf("create participant: %w", err)
			}
		default:
			return fmt.Errorf("find participant: %w", err)
		}

		events := make([]models.ChatEvent, 0, s.Timeline.Len())
		for i, e := range s.Timeline.Events() {
			events = append(events, models.ChatEvent{
				ParticipantID: p.ID,
				Seq:           i,
				Role:          string(e.Role),
				Content:       e.Content,
				TimestampSec:  e.Timestamp,
				Highlighted:   e.Highlighted,
			})
		}
		if len(events) > 0 {
			if err := tx.CreateInBatches(events, 200).Error; err != nil {
				return fmt.Errorf("insert events: %w", err)
			}
		}

		ops := make([]models.EditorOp, 0, len(s.Operations))
		for i, op := range s.Operations {
			payload, err := json.Marshal(op)
			if err != nil {
				return fmt.Errorf("encode operation %d: %w", i, err)
			}
			ops = append(ops, models.EditorOp{
				ParticipantID: p.ID,
				Seq:           i,
				TimeMs:        op.Time.Start,
				Payload:       string(payload),
			})
		}
		if len(ops) > 0 {
			if err := tx.CreateInBatches(ops, 200).Error; err != nil {
				return fmt.Errorf("insert operations: %w", err)
			}
		}

		pastes := make([]models.PasteText, 0, len(s.Pastes))
		for i, text := range s.Pastes {
			pastes = append(pastes, models.PasteText{ParticipantID: p.ID, Seq: i, Content: text})
		}
		if len(pastes) > 0 {
			if err := tx.Create(&pastes).Error; err != nil {
				return fmt.Errorf("insert pastes: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("db: import %s: %w", s.Participant, err)
	}
	return &p, nil
}

// LoadSession rebuilds the replayable session stored for key. A participant
// that was never imported is ingest.ErrLogFetch; stored operations that no
// longer form a valid log are ingest.ErrLogStructure.
func LoadSession(db *gorm.DB, key string) (*ingest.Session, error) {
	var p models.Participant
	err := db.Where(&models.Participant{Key: key}).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("db: %w: participant %s has not been imported", ingest.ErrLogFetch, key)
	}
	if err != nil {
		return nil, fmt.Errorf("db: load participant %s: %w", key, err)
	}

	var rows []models.ChatEvent
	if err := db.Where("participant_id = ?", p.ID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("db: load events for %s: %w", key, err)
	}
	events := make([]timeline.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, timeline.Event{
			ID:          r.Seq,
			Role:        timeline.Role(r.Role),
			Content:     r.Content,
			Timestamp:   r.TimestampSec,
			Highlighted: r.Highlighted,
		})
	}
	tl, err := timeline.New(events)
	if err != nil {
		return nil, fmt.Errorf("db: %w: %v", ingest.ErrLogStructure, err)
	}

	var opRows []models.EditorOp
	if err := db.Where("participant_id = ?", p.ID).Order("seq ASC").Find(&opRows).Error; err != nil {
		return nil, fmt.Errorf("db: load operations for %s: %w", key, err)
	}
	payloads := make([]string, 0, len(opRows))
	for _, r := range opRows {
		payloads = append(payloads, r.Payload)
	}
	ops, err := editor.ParseLog([]byte("[" + strings.Join(payloads, ",") + "]"))
	if err != nil {
		return nil, fmt.Errorf("db: %w: %v", ingest.ErrLogStructure, err)
	}

	var pasteRows []models.PasteText
	if err := db.Where("participant_id = ?", p.ID).Order("seq ASC").Find(&pasteRows).Error; err != nil {
		return nil, fmt.Errorf("db: load pastes for %s: %w", key, err)
	}
	pastes := make([]string, 0, len(pasteRows))
	for _, r := range pasteRows {
		pastes = append(pastes, r.Content)
	}

	return &ingest.Session{
		Participant:    p.Key,
		EssayNum:       p.EssayNum,
		Timeline:       tl,
		Operations:     ops,
		Pastes:         pastes,
		InitialContent: ingest.DefaultInitialContent,
	}, nil
}

// ListParticipants returns every imported participant ordered by essay
// number.
func ListParticipants(db *gorm.DB) ([]models.Participant, error) {
	var out []models.Participant
	if err := db.Order("essay_num ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("db: list participants: %w", err)
	}
	return out, nil
}

// ListIngestRuns returns the most recent runs first.
func ListIngestRuns(db *gorm.DB, limit int) ([]models.IngestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []models.IngestRun
	if err := db.Order("started_at DESC").Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("db: list ingest runs: %w", err)
	}
	return out, nil
}

// ImportFile reads the CSV at path and imports every participant in it,
// recording the attempt as an IngestRun. A participant whose log does not
// validate keeps whatever was stored for it before; the run is then marked
// partial. trigger is a free-form label such as "manual", "watch" or
// "schedule".
func ImportFile(db *gorm.DB, path, trigger string) (*models.IngestRun, error) {
	if trigger == "" {
		trigger = "manual"
	}
	run := models.IngestRun{
		RunID:     uuid.NewString(),
		Source:    path,
		Trigger:   trigger,
		Status:    RunRunning,
		StartedAt: time.Now(),
	}
	if err := db.Create(&run).Error; err != nil {
		return nil, fmt.Errorf("db: create ingest run: %w", err)
	}

	records, err := ingest.ReadFile(path)
	if err != nil {
		finishRun(db, &run, RunFailed, err)
		return &run, err
	}

	var failed []string
	for _, essay := range ingest.Participants(records) {
		key := fmt.Sprintf("p%d", essay)
		sess, rep, err := ingest.Build(records, key)
		run.Rows += rep.Rows
		run.Skipped += rep.Skipped
		if err != nil {
			log.Printf("db: ingest run %s: %s: %v", run.RunID, key, err)
			failed = append(failed, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		if _, err := ImportSession(db, sess, path); err != nil {
			log.Printf("db: ingest run %s: %v", run.RunID, err)
			failed = append(failed, err.Error())
			continue
		}
		run.Participants++
	}

	switch {
	case len(failed) == 0:
		finishRun(db, &run, RunOK, nil)
		return &run, nil
	case run.Participants > 0:
		finishRun(db, &run, RunPartial, errors.New(strings.Join(failed, "; ")))
		return &run, nil
	default:
		err := fmt.Errorf("db: ingest %s: no participant imported: %s", path, strings.Join(failed, "; "))
		finishRun(db, &run, RunFailed, err)
		return &run, err
	}
}

func finishRun(db *gorm.DB, run *models.IngestRun, status string, cause error) {
	now := time.Now()
	run.Status = status
	run.FinishedAt = &now
	if cause != nil {
		run.ErrorMessage = cause.Error()
	}
	if err := db.Save(run).Error; err != nil {
		log.Printf("db: ingest run %s: save status: %v", run.RunID, err)
	}
}
