package models

import "time"

// IngestRun records one CSV import.
type IngestRun struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	RunID        string `gorm:"size:36;uniqueIndex"`
	Source       string `gorm:"size:256;not null"`
	Trigger      string `gorm:"size:16;default:manual"`
	Status       string `gorm:"size:16;default:running;index"`
	Rows         int
	Participants int
	Skipped      int
	StartedAt    time.Time
	FinishedAt   *time.Time
	ErrorMessage string `gorm:"type:text"`
}
