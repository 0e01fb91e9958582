package signaling

import (
	"context"
	"encoding/json"

	"medipredict-backend/internal/domain"
)

// Inbound event types
const (
	EventPresenceAnnounce = "presence-announce"
	EventInvite           = "invite"
	EventAccept           = "accept"
	EventICECandidate     = "ice-candidate"
	EventDecline          = "decline"
	EventCancel           = "cancel"
	EventEnd              = "end"
)

// Outbound event types. ice-candidate is relayed under its inbound name.
const (
	EventPresenceChanged = "presence-changed"
	EventIncomingCall    = "incoming-call"
	EventInviteError     = "invite-error"
	EventCallAccepted    = "call-accepted"
	EventCallDeclined    = "call-declined"
	EventCallCancelled   = "call-cancelled"
	EventCallEnded       = "call-ended"
	EventCallMissed      = "call-missed"
)

// Event is the JSON envelope exchanged over a signaling connection.
// Offer, Answer and Candidate are opaque and relayed byte-for-byte.
type Event struct {
	Type          string                `json:"type"`
	ParticipantID string                `json:"participantId,omitempty"`
	Role          domain.Role           `json:"role,omitempty"`
	Status        domain.PresenceStatus `json:"status,omitempty"`
	ToID          string                `json:"toId,omitempty"`
	FromID        string                `json:"fromId,omitempty"`
	CallerRole    domain.Role           `json:"callerRole,omitempty"`
	ReceiverRole  domain.Role           `json:"receiverRole,omitempty"`
	Medium        domain.Medium         `json:"medium,omitempty"`
	Offer         json.RawMessage       `json:"offer,omitempty"`
	Answer        json.RawMessage       `json:"answer,omitempty"`
	Candidate     json.RawMessage       `json:"candidate,omitempty"`
	Code          string                `json:"code,omitempty"`
	Message       string                `json:"message,omitempty"`
}

// Transport delivers outbound events to live connections. It is implemented
// by the WebSocket hub; the router never touches connection handles directly.
type Transport interface {
	// Send delivers ev to one connection. An error means the frame was not queued.
	Send(connectionID string, ev *Event) error
	// Broadcast delivers ev to every open connection.
	Broadcast(ev *Event)
}

// CallRecordSink is the durable store for finished calls
type CallRecordSink interface {
	Append(ctx context.Context, record *domain.CallRecord) error
}
