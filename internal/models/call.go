package models

import (
	"time"

	"github.com/google/uuid"
)

// CallKind is the media kind of a call.
type CallKind string

const (
	CallKindVoice CallKind = "voice"
	CallKindVideo CallKind = "video"
)

// Participant is one endpoint of a call session.
type Participant struct {
	ID                string `json:"id"`
	DisplayName       string `json:"display_name"`
	PreferredLanguage string `json:"preferred_language"` // ISO 639-1, e.g. "hi", "en"
}

// Session is one call between two participants. Owned by the session
// registry; state changes only through state-machine transitions.
type Session struct {
	ID                 uuid.UUID   `json:"id"`
	Caller             Participant `json:"caller"`
	Callee             Participant `json:"callee"`
	Kind               CallKind    `json:"call_kind"`
	TranslationEnabled bool        `json:"translation_enabled"`
	State              string      `json:"state"`
	CreatedAt          time.Time   `json:"created_at"`
	EndedAt            *time.Time  `json:"ended_at,omitempty"`
}

// CallRecord is a session archived to Postgres once it reaches a terminal state.
type CallRecord struct {
	ID                 uuid.UUID  `json:"id"`
	CallerID           string     `json:"caller_id"`
	CalleeID           string     `json:"callee_id"`
	Kind               CallKind   `json:"call_kind"`
	TranslationEnabled bool       `json:"translation_enabled"`
	FinalState         string     `json:"final_state"`
	FailReason         string     `json:"fail_reason,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
	DurationSeconds    int64      `json:"duration_seconds"`
	CreatedAt          time.Time  `json:"created_at"`
}
