package models

import (
	"time"
)

// AuditEvent is inserted at operation start with a placeholder outcome and
// updated in place on completion. DurationMillis stays null for events too
// short to be worth timing.
type AuditEvent struct {
	ID int64 `json:"id" gorm:"primaryKey;autoIncrement"`

	WhoSubjectID   string `json:"whoSubjectId" gorm:"type:text;index"`
	WhoDisplayName string `json:"whoDisplayName" gorm:"type:text"`

	OccurredAt     time.Time `json:"occurredAt" gorm:"type:timestamp with time zone;not null;default:clock_timestamp()"`
	DurationMillis *int64    `json:"durationMillis" gorm:"type:bigint"`

	Category    string `json:"category" gorm:"type:text"`
	Description string `json:"description" gorm:"type:text"`
	Outcome     int    `json:"outcome" gorm:"not null;default:8"`
	Details     string `json:"details" gorm:"type:text"`

	ReleaseKey string `json:"releaseKey" gorm:"type:text;index"`
}
