package models

import (
	"time"

	"github.com/google/uuid"
)

// EventPublication is one outbox row: one event destined for one listener.
// (EventID, ListenerID) is unique.
type EventPublication struct {
	ID              uuid.UUID  `json:"id"`
	EventID         uuid.UUID  `json:"event_id"`
	EventType       string     `json:"event_type"`
	ListenerID      string     `json:"listener_id"`
	SerializedEvent string     `json:"serialized_event"`
	PublicationDate time.Time  `json:"publication_date"`
	CompletionDate  *time.Time `json:"completion_date,omitempty"`
	Attempts        int        `json:"attempts"`
	LastError       string     `json:"last_error,omitempty"`
	NextAttemptAt   *time.Time `json:"next_attempt_at,omitempty"`
	FailedDate      *time.Time `json:"failed_date,omitempty"`
}

type PublicationStatus string

const (
	PublicationMissing   PublicationStatus = "MISSING"
	PublicationPending   PublicationStatus = "PENDING"
	PublicationCompleted PublicationStatus = "COMPLETED"
	PublicationFailed    PublicationStatus = "FAILED"
)

// Status derives the delivery state from the row's dates.
func (p EventPublication) Status() PublicationStatus {
	switch {
	case p.CompletionDate != nil:
		return PublicationCompleted
	case p.FailedDate != nil:
		return PublicationFailed
	default:
		return PublicationPending
	}
}

// ReadyAt reports whether a pending row may be attempted at now.
func (p EventPublication) ReadyAt(now time.Time) bool {
	return p.NextAttemptAt == nil || !p.NextAttemptAt.After(now)
}
