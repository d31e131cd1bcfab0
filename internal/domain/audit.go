package domain

import "time"

// AuditCategory classifies an audited action.
type AuditCategory string

const (
	AuditCreate  AuditCategory = "C"
	AuditRead    AuditCategory = "R"
	AuditUpdate  AuditCategory = "U"
	AuditDelete  AuditCategory = "D"
	AuditExecute AuditCategory = "E"
)

// AuditOutcome is the numeric outcome code of an audited action.
type AuditOutcome int

const (
	AuditSuccess        AuditOutcome = 0
	AuditMinorFailure   AuditOutcome = 4
	AuditSeriousFailure AuditOutcome = 8
	AuditMajorFailure   AuditOutcome = 12
)

// AuditEvent records who did what and how it turned out. Events are created
// at operation start with a placeholder failure outcome and updated in place
// at completion; an event that still shows AuditSeriousFailure with the
// placeholder details never completed.
type AuditEvent struct {
	ID int64 `json:"id"`

	WhoSubjectID   string `json:"-"`
	WhoDisplayName string `json:"whoDisplay"`

	OccurredAt time.Time      `json:"when"`
	Duration   *time.Duration `json:"duration,omitempty"`

	Category    AuditCategory `json:"actionCategory"`
	Description string        `json:"actionDescription"`
	Outcome     AuditOutcome  `json:"outcome"`

	// opaque payload, JSON-encoded
	Details string `json:"details,omitempty"`

	// attached to a release, or empty for user/system scoped events
	ReleaseKey string `json:"-"`
}
