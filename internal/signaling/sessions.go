package signaling

import (
	"sync"
	"time"

	"medipredict-backend/internal/domain"
	apperrors "medipredict-backend/pkg/errors"
)

var (
	// ErrSessionExists is returned by Open while the pair already has a session
	ErrSessionExists = apperrors.SessionExistsError()
	// ErrSelfCall is returned when both sides of a call are the same participant
	ErrSelfCall = apperrors.MalformedEventError("caller and receiver must differ")
)

// SessionTable holds in-progress call sessions keyed by their unordered participant pair.
// All mutations for a pair are serialized by one mutex, so a pair can never have two
// sessions and a session can only be closed once.
type SessionTable struct {
	mu       sync.Mutex
	sessions map[domain.SessionKey]*domain.CallSession
	now      func() time.Time
}

// NewSessionTable creates an empty session table
func NewSessionTable() *SessionTable {
	return &SessionTable{
		sessions: make(map[domain.SessionKey]*domain.CallSession),
		now:      time.Now,
	}
}

// Open starts a ringing session from caller to receiver
func (t *SessionTable) Open(callerID string, callerRole domain.Role, receiverID string, receiverRole domain.Role, medium domain.Medium) (domain.SessionKey, error) {
	callerID = domain.NormalizeID(callerID)
	receiverID = domain.NormalizeID(receiverID)
	if callerID == "" || receiverID == "" {
		return domain.SessionKey{}, ErrEmptyIdentity
	}
	if callerID == receiverID {
		return domain.SessionKey{}, ErrSelfCall
	}

	key := domain.NewSessionKey(callerID, receiverID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sessions[key]; exists {
		return key, ErrSessionExists
	}

	t.sessions[key] = &domain.CallSession{
		Key:          key,
		CallerID:     callerID,
		CallerRole:   callerRole,
		ReceiverID:   receiverID,
		ReceiverRole: receiverRole,
		Medium:       medium,
		State:        domain.CallStateRinging,
		StartedAt:    t.now(),
	}

	return key, nil
}

// Connect moves a ringing session to connected. Only the receiver may answer.
func (t *SessionTable) Connect(callerID, receiverID string) (domain.CallSession, bool) {
	key := domain.NewSessionKey(domain.NormalizeID(callerID), domain.NormalizeID(receiverID))

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[key]
	if !ok || s.State != domain.CallStateRinging || s.ReceiverID != domain.NormalizeID(receiverID) {
		return domain.CallSession{}, false
	}

	connectedAt := t.now()
	s.State = domain.CallStateConnected
	s.ConnectedAt = &connectedAt

	return *s, true
}

// Close terminates the session between a and b, in either order, with outcome.
// It returns false when no session exists, so repeated terminations are no-ops.
func (t *SessionTable) Close(a, b string, outcome domain.Outcome) (*domain.CallRecord, bool) {
	return t.closeIf(a, b, func(*domain.CallSession) (domain.Outcome, bool) {
		return outcome, true
	})
}

// Decline closes a ringing session refused by its receiver
func (t *SessionTable) Decline(receiverID, callerID string) (*domain.CallRecord, bool) {
	receiverID = domain.NormalizeID(receiverID)
	return t.closeIf(receiverID, callerID, func(s *domain.CallSession) (domain.Outcome, bool) {
		return domain.OutcomeDeclined, s.State == domain.CallStateRinging && s.ReceiverID == receiverID
	})
}

// Cancel closes a ringing session withdrawn by its caller
func (t *SessionTable) Cancel(callerID, receiverID string) (*domain.CallRecord, bool) {
	callerID = domain.NormalizeID(callerID)
	return t.closeIf(callerID, receiverID, func(s *domain.CallSession) (domain.Outcome, bool) {
		return domain.OutcomeCancelled, s.State == domain.CallStateRinging && s.CallerID == callerID
	})
}

// End closes the session between a and b as completed. A still-ringing session
// is ended too so that a hang-up is never lost.
func (t *SessionTable) End(a, b string) (*domain.CallRecord, bool) {
	return t.Close(a, b, domain.OutcomeCompleted)
}

// Discard removes a session without producing a record. Used when the
// invitation could not be delivered at all.
func (t *SessionTable) Discard(a, b string) bool {
	key := domain.NewSessionKey(domain.NormalizeID(a), domain.NormalizeID(b))

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[key]; !ok {
		return false
	}
	delete(t.sessions, key)
	return true
}

// ExpireRinging closes every session that has been ringing longer than timeout as missed
func (t *SessionTable) ExpireRinging(timeout time.Duration) []*domain.CallRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var records []*domain.CallRecord
	for key, s := range t.sessions {
		if s.State != domain.CallStateRinging || now.Sub(s.StartedAt) < timeout {
			continue
		}
		delete(t.sessions, key)
		records = append(records, s.Finish(now, domain.OutcomeMissed))
	}
	return records
}

// Get returns a copy of the session between a and b
func (t *SessionTable) Get(a, b string) (domain.CallSession, bool) {
	key := domain.NewSessionKey(domain.NormalizeID(a), domain.NormalizeID(b))

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[key]
	if !ok {
		return domain.CallSession{}, false
	}
	return *s, true
}

// Len returns the number of active sessions
func (t *SessionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *SessionTable) closeIf(a, b string, decide func(*domain.CallSession) (domain.Outcome, bool)) (*domain.CallRecord, bool) {
	key := domain.NewSessionKey(domain.NormalizeID(a), domain.NormalizeID(b))

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[key]
	if !ok {
		return nil, false
	}
	outcome, ok := decide(s)
	if !ok {
		return nil, false
	}

	delete(t.sessions, key)
	return s.Finish(t.now(), outcome), true
}
