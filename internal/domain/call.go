package domain

import (
	"time"

	"github.com/google/uuid"
)

// Medium is the media kind negotiated for a call
type Medium string

const (
	MediumAudio Medium = "audio"
	MediumVideo Medium = "video"
)

// Valid reports whether m is a supported medium
func (m Medium) Valid() bool {
	return m == MediumAudio || m == MediumVideo
}

// CallState is the lifecycle state of an in-progress call session
type CallState string

const (
	CallStateRinging   CallState = "ringing"
	CallStateConnected CallState = "connected"
)

// Outcome is the terminal result recorded for a finished call
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeMissed    Outcome = "missed"
	OutcomeDeclined  Outcome = "declined"
	OutcomeCancelled Outcome = "cancelled"
)

// CallSession represents one in-flight call negotiation between two participants.
// Owned by the session table; callers only ever see copies.
type CallSession struct {
	Key          SessionKey `json:"session_key"`
	CallerID     string     `json:"caller_id"`
	CallerRole   Role       `json:"caller_role"`
	ReceiverID   string     `json:"receiver_id"`
	ReceiverRole Role       `json:"receiver_role"`
	Medium       Medium     `json:"medium"`
	State        CallState  `json:"state"`
	StartedAt    time.Time  `json:"started_at"`
	ConnectedAt  *time.Time `json:"connected_at,omitempty"`
}

// Involves reports whether participantID is one side of the session
func (s *CallSession) Involves(participantID string) bool {
	return s.CallerID == participantID || s.ReceiverID == participantID
}

// Finish converts the session into an immutable call record
func (s *CallSession) Finish(endedAt time.Time, outcome Outcome) *CallRecord {
	duration := int(endedAt.Sub(s.StartedAt) / time.Second)
	if duration < 0 {
		duration = 0
	}

	return &CallRecord{
		RecordID:     uuid.New(),
		CallerID:     s.CallerID,
		CallerRole:   s.CallerRole,
		ReceiverID:   s.ReceiverID,
		ReceiverRole: s.ReceiverRole,
		Medium:       s.Medium,
		Outcome:      outcome,
		StartedAt:    s.StartedAt,
		EndedAt:      endedAt,
		Duration:     duration,
	}
}

// CallRecord is the append-only log entry written once per terminated session
// Maps to CockroachDB call_records table
type CallRecord struct {
	RecordID     uuid.UUID `json:"record_id" db:"record_id"`
	CallerID     string    `json:"caller_id" db:"caller_id"`
	CallerRole   Role      `json:"caller_role" db:"caller_role"`
	ReceiverID   string    `json:"receiver_id" db:"receiver_id"`
	ReceiverRole Role      `json:"receiver_role" db:"receiver_role"`
	Medium       Medium    `json:"medium" db:"medium"`
	Outcome      Outcome   `json:"outcome" db:"outcome"`
	StartedAt    time.Time `json:"started_at" db:"started_at"`
	EndedAt      time.Time `json:"ended_at" db:"ended_at"`
	Duration     int       `json:"duration" db:"duration"` // in seconds
}
