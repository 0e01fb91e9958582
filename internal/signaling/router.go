package signaling

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"medipredict-backend/internal/domain"
	apperrors "medipredict-backend/pkg/errors"
	"medipredict-backend/pkg/logger"
	"medipredict-backend/pkg/metrics"
)

// Router drives call setup and teardown. It resolves targets through the
// ConnectionRegistry, keeps call state in the SessionTable, relays events over
// the Transport and hands every terminated session to the RecordQueue exactly once.
type Router struct {
	registry  *ConnectionRegistry
	sessions  *SessionTable
	transport Transport
	records   RecordQueue
	metrics   *metrics.Metrics
}

// NewRouter wires a router and subscribes the presence broadcast to the registry
func NewRouter(registry *ConnectionRegistry, sessions *SessionTable, transport Transport, records RecordQueue, m *metrics.Metrics) *Router {
	r := &Router{
		registry:  registry,
		sessions:  sessions,
		transport: transport,
		records:   records,
		metrics:   m,
	}

	registry.Subscribe(&presenceBroadcaster{
		transport: transport,
		onChange: func() {
			m.SetParticipantsOnline(registry.Count())
		},
	})

	return r
}

// Dispatch routes one inbound event received on connectionID
func (r *Router) Dispatch(ctx context.Context, connectionID string, ev *Event) {
	switch ev.Type {
	case EventPresenceAnnounce:
		r.Announce(ctx, connectionID, ev.ParticipantID, ev.Role)
	case EventInvite:
		r.Invite(ctx, connectionID, ev)
	case EventAccept:
		r.Accept(ctx, connectionID, ev.ToID, ev.Answer)
	case EventICECandidate:
		r.RelayICE(ctx, connectionID, ev.ToID, ev.Candidate)
	case EventDecline:
		r.Decline(ctx, connectionID, ev.ToID)
	case EventCancel:
		r.Cancel(ctx, connectionID, ev.ToID)
	case EventEnd:
		r.End(ctx, connectionID, ev.ToID)
	default:
		logger.FromContext(ctx).Warn("Unknown signaling event dropped",
			zap.String("connection_id", connectionID),
			zap.String("type", ev.Type))
	}
}

// Announce registers the connection as the live presence of participantID
func (r *Router) Announce(ctx context.Context, connectionID, participantID string, role domain.Role) {
	if err := r.registry.Announce(participantID, connectionID, role); err != nil {
		logger.FromContext(ctx).Warn("Presence announcement rejected",
			zap.String("connection_id", connectionID),
			zap.Error(err))
		return
	}

	logger.FromContext(ctx).Info("Participant online",
		zap.String("participant_id", domain.NormalizeID(participantID)),
		zap.String("role", string(role)),
		zap.String("connection_id", connectionID))
}

// Disconnect removes the presence owned by connectionID. Open sessions involving
// the participant are kept until an explicit termination arrives.
func (r *Router) Disconnect(ctx context.Context, connectionID string) {
	change, ok := r.registry.Remove(connectionID)
	if !ok {
		logger.FromContext(ctx).Debug("Disconnect of stale or unannounced connection",
			zap.String("connection_id", connectionID))
		return
	}

	logger.FromContext(ctx).Info("Participant offline",
		zap.String("participant_id", change.ParticipantID),
		zap.String("connection_id", connectionID))
}

// Invite opens a ringing session and rings the receiver. An offline receiver
// or an already active pair is reported back to the inviter.
func (r *Router) Invite(ctx context.Context, connectionID string, ev *Event) {
	log := logger.FromContext(ctx).With(zap.String("connection_id", connectionID))

	callerID, ok := r.sender(connectionID, ev.FromID)
	receiverID := domain.NormalizeID(ev.ToID)
	if !ok || receiverID == "" {
		log.Warn("Malformed invite dropped",
			zap.String("from_id", ev.FromID),
			zap.String("to_id", ev.ToID))
		return
	}

	medium := ev.Medium
	if medium == "" {
		medium = domain.MediumVideo
	}
	if !medium.Valid() {
		r.metrics.RecordInvite(string(medium), "invalid_medium")
		r.inviteError(connectionID, apperrors.ValidationError("unsupported call medium: "+string(medium)))
		return
	}

	receiverConn, online := r.registry.Lookup(receiverID)
	if !online {
		log.Info("Invite to offline participant",
			zap.String("caller_id", callerID),
			zap.String("receiver_id", receiverID))
		r.metrics.RecordInvite(string(medium), "offline")
		r.inviteError(connectionID, apperrors.TargetOfflineError(receiverID))
		return
	}

	callerRole, receiverRole := ev.CallerRole, ev.ReceiverRole
	if callerRole == "" {
		callerRole = r.roleOf(callerID)
	}
	if receiverRole == "" {
		receiverRole = r.roleOf(receiverID)
	}

	key, err := r.sessions.Open(callerID, callerRole, receiverID, receiverRole, medium)
	if err != nil {
		if errors.Is(err, ErrSessionExists) {
			r.metrics.RecordInvite(string(medium), "busy")
		} else {
			r.metrics.RecordInvite(string(medium), "rejected")
		}
		log.Info("Invite rejected",
			zap.String("session_key", key.String()),
			zap.Error(err))
		r.inviteError(connectionID, apperrors.GetAppError(err))
		return
	}

	err = r.transport.Send(receiverConn, &Event{
		Type:         EventIncomingCall,
		FromID:       callerID,
		CallerRole:   callerRole,
		ReceiverRole: receiverRole,
		Medium:       medium,
		Offer:        ev.Offer,
	})
	if err != nil {
		// The invitation never reached the receiver, so there is no call to record
		r.sessions.Discard(callerID, receiverID)
		log.Warn("Failed to deliver invite",
			zap.String("session_key", key.String()),
			zap.Error(err))
		r.metrics.RecordInvite(string(medium), "undeliverable")
		r.inviteError(connectionID, apperrors.TargetOfflineError(receiverID))
		return
	}

	r.metrics.RecordInvite(string(medium), "ringing")
	r.metrics.SetActiveSessions(r.sessions.Len())
	log.Info("Call ringing",
		zap.String("session_key", key.String()),
		zap.String("caller_id", callerID),
		zap.String("receiver_id", receiverID),
		zap.String("medium", string(medium)))
}

// Accept marks the ringing session with callerID connected and relays the answer
func (r *Router) Accept(ctx context.Context, connectionID, callerID string, answer []byte) {
	log := logger.FromContext(ctx).With(zap.String("connection_id", connectionID))

	receiverID, ok := r.sender(connectionID, "")
	callerID = domain.NormalizeID(callerID)
	if !ok || callerID == "" {
		log.Warn("Malformed accept dropped", zap.String("to_id", callerID))
		return
	}

	session, ok := r.sessions.Connect(callerID, receiverID)
	if !ok {
		log.Debug("Accept without ringing session ignored",
			zap.String("caller_id", callerID),
			zap.String("receiver_id", receiverID))
		return
	}

	r.forward(callerID, &Event{
		Type:   EventCallAccepted,
		FromID: receiverID,
		Answer: answer,
	})

	log.Info("Call connected", zap.String("session_key", session.Key.String()))
}

// RelayICE forwards an ICE candidate to targetID verbatim
func (r *Router) RelayICE(ctx context.Context, connectionID, targetID string, candidate []byte) {
	fromID, ok := r.sender(connectionID, "")
	targetID = domain.NormalizeID(targetID)
	if !ok || targetID == "" {
		logger.FromContext(ctx).Warn("Malformed ice-candidate dropped",
			zap.String("connection_id", connectionID))
		return
	}

	r.forward(targetID, &Event{
		Type:      EventICECandidate,
		FromID:    fromID,
		Candidate: candidate,
	})
}

// Decline terminates a ringing session refused by its receiver
func (r *Router) Decline(ctx context.Context, connectionID, callerID string) {
	receiverID, ok := r.sender(connectionID, "")
	if !ok || domain.NormalizeID(callerID) == "" {
		logger.FromContext(ctx).Warn("Malformed decline dropped", zap.String("connection_id", connectionID))
		return
	}

	record, ok := r.sessions.Decline(receiverID, callerID)
	r.terminate(ctx, record, ok, receiverID, callerID, EventCallDeclined)
}

// Cancel terminates a ringing session withdrawn by its caller
func (r *Router) Cancel(ctx context.Context, connectionID, receiverID string) {
	callerID, ok := r.sender(connectionID, "")
	if !ok || domain.NormalizeID(receiverID) == "" {
		logger.FromContext(ctx).Warn("Malformed cancel dropped", zap.String("connection_id", connectionID))
		return
	}

	record, ok := r.sessions.Cancel(callerID, receiverID)
	r.terminate(ctx, record, ok, callerID, receiverID, EventCallCancelled)
}

// End terminates the session between the sender and otherID, whoever started it
func (r *Router) End(ctx context.Context, connectionID, otherID string) {
	fromID, ok := r.sender(connectionID, "")
	if !ok || domain.NormalizeID(otherID) == "" {
		logger.FromContext(ctx).Warn("Malformed end dropped", zap.String("connection_id", connectionID))
		return
	}

	record, ok := r.sessions.End(fromID, otherID)
	r.terminate(ctx, record, ok, fromID, otherID, EventCallEnded)
}

// ExpireRinging closes sessions left ringing longer than timeout as missed.
// The receiver sees the invitation withdrawn and the caller is told it went unanswered.
func (r *Router) ExpireRinging(ctx context.Context, timeout time.Duration) int {
	records := r.sessions.ExpireRinging(timeout)
	for _, record := range records {
		r.forward(record.ReceiverID, &Event{Type: EventCallCancelled, FromID: record.CallerID})
		r.forward(record.CallerID, &Event{Type: EventCallMissed, FromID: record.ReceiverID})
		r.finish(ctx, record)
	}
	return len(records)
}

// RunRingTimeout expires ringing sessions every interval until ctx is cancelled
func (r *Router) RunRingTimeout(ctx context.Context, timeout, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.ExpireRinging(ctx, timeout); n > 0 {
				logger.Info("Expired unanswered calls", zap.Int("count", n))
			}
		}
	}
}

// terminate relays the termination to the peer and records the session, in that order
func (r *Router) terminate(ctx context.Context, record *domain.CallRecord, closed bool, fromID, toID, eventType string) {
	if !closed {
		logger.FromContext(ctx).Debug("Termination without matching session ignored",
			zap.String("type", eventType),
			zap.String("from_id", fromID),
			zap.String("to_id", toID))
		return
	}

	r.forward(domain.NormalizeID(toID), &Event{Type: eventType, FromID: fromID})
	r.finish(ctx, record)
}

func (r *Router) finish(ctx context.Context, record *domain.CallRecord) {
	r.metrics.RecordCallRecord(string(record.Medium), string(record.Outcome), time.Duration(record.Duration)*time.Second)
	r.metrics.SetActiveSessions(r.sessions.Len())
	r.records.Enqueue(record)

	logger.FromContext(ctx).Info("Call terminated",
		zap.String("caller_id", record.CallerID),
		zap.String("receiver_id", record.ReceiverID),
		zap.String("outcome", string(record.Outcome)),
		zap.Int("duration", record.Duration))
}

// forward relays ev to participantID when online. Offline targets are skipped.
func (r *Router) forward(participantID string, ev *Event) {
	connectionID, ok := r.registry.Lookup(participantID)
	if !ok {
		logger.Debug("Relay target offline, event skipped",
			zap.String("participant_id", participantID),
			zap.String("type", ev.Type))
		return
	}

	if err := r.transport.Send(connectionID, ev); err != nil {
		logger.Warn("Relay to participant failed",
			zap.String("participant_id", participantID),
			zap.String("connection_id", connectionID),
			zap.String("type", ev.Type),
			zap.Error(err))
	}
}

// sender resolves the identity bound to connectionID. A claimed id that
// disagrees with the bound one is treated as malformed.
func (r *Router) sender(connectionID, claimed string) (string, bool) {
	bound, ok := r.registry.ParticipantOf(connectionID)
	if !ok {
		return "", false
	}
	if claimed = domain.NormalizeID(claimed); claimed != "" && claimed != bound {
		return "", false
	}
	return bound, true
}

func (r *Router) roleOf(participantID string) domain.Role {
	entry, _ := r.registry.Entry(participantID)
	return entry.Role
}

func (r *Router) inviteError(connectionID string, appErr *apperrors.AppError) {
	err := r.transport.Send(connectionID, &Event{
		Type:    EventInviteError,
		Code:    string(appErr.Code),
		Message: appErr.Message,
	})
	if err != nil {
		logger.Warn("Failed to deliver invite error",
			zap.String("connection_id", connectionID),
			zap.Error(err))
	}
}
