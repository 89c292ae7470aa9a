package models

import "time"

// Participant is one imported essay session, keyed "p<essay_num>".
type Participant struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Key        string `gorm:"column:participant_key;size:16;not null;uniqueIndex"`
	EssayNum   int    `gorm:"not null;index"`
	Label      string `gorm:"size:64"`
	DurationMs int64
	EventCount int
	OpCount    int
	PasteCount int
	Source     string `gorm:"size:256"`
	ImportedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Events []ChatEvent `gorm:"foreignKey:ParticipantID;constraint:OnDelete:CASCADE"`
	Ops    []EditorOp  `gorm:"foreignKey:ParticipantID;constraint:OnDelete:CASCADE"`
	Pastes []PasteText `gorm:"foreignKey:ParticipantID;constraint:OnDelete:CASCADE"`
}

// ChatEvent is one GPT inquiry or response in a participant's chat.
type ChatEvent struct {
	ID            uint    `gorm:"primaryKey;autoIncrement"`
	ParticipantID uint    `gorm:"not null;index:idx_event_seq,priority:1"`
	Seq           int     `gorm:"not null;index:idx_event_seq,priority:2"`
	Role          string  `gorm:"size:16;not null"`
	Content       string  `gorm:"type:text"`
	TimestampSec  float64 `gorm:"not null"`
	Highlighted   bool    `gorm:"default:false"`
}

// EditorOp is one editor operation, stored as strict JSON.
type EditorOp struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	ParticipantID uint   `gorm:"not null;index:idx_op_seq,priority:1"`
	Seq           int    `gorm:"not null;index:idx_op_seq,priority:2"`
	TimeMs        int64  `gorm:"not null"`
	Payload       string `gorm:"type:text;not null"`
}

// PasteText is text the participant pasted into the editor.
type PasteText struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	ParticipantID uint   `gorm:"not null;index"`
	Seq           int    `gorm:"not null"`
	Content       string `gorm:"type:text"`
}
