package domain

import "strings"

// Role is the participant class tag supplied on presence announcement
type Role string

const (
	RoleClinician Role = "clinician"
	RolePatient   Role = "patient"
)

// PresenceStatus is broadcast whenever a participant comes online or goes offline
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceChange describes one presence transition emitted by the registry
type PresenceChange struct {
	ParticipantID string         `json:"participant_id"`
	Role          Role           `json:"role,omitempty"`
	ConnectionID  string         `json:"connection_id"`
	Status        PresenceStatus `json:"status"`
}

// SessionKey identifies a call session by its unordered participant pair.
// Lo <= Hi always holds, so the key is the same whichever side builds it.
type SessionKey struct {
	Lo string
	Hi string
}

// NewSessionKey builds the canonical key for the pair (a, b)
func NewSessionKey(a, b string) SessionKey {
	if b < a {
		a, b = b, a
	}
	return SessionKey{Lo: a, Hi: b}
}

// String renders the key for logs and JSON
func (k SessionKey) String() string {
	return k.Lo + ":" + k.Hi
}

// MarshalText lets SessionKey be used as a JSON string
func (k SessionKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Other returns the peer of participantID within the pair
func (k SessionKey) Other(participantID string) string {
	if k.Lo == participantID {
		return k.Hi
	}
	return k.Lo
}

// NormalizeID trims surrounding whitespace from an externally supplied identity
func NormalizeID(id string) string {
	return strings.TrimSpace(id)
}
