package signaling

import (
	"errors"
	"sync"

	"medipredict-backend/internal/domain"
	"medipredict-backend/pkg/constants"
	apperrors "medipredict-backend/pkg/errors"
)

var (
	// ErrEmptyIdentity is returned when an announcement carries no participant id
	ErrEmptyIdentity = apperrors.MalformedEventError("participant id is required")
	// ErrEmptyConnection is returned when an announcement carries no connection id
	ErrEmptyConnection = errors.New("connection id is required")
)

// PresenceListener is notified after every presence transition. Calls are
// serialized in mutation order and run without the registry lock held, so a
// listener may read the registry but must not call back into Announce or Remove.
type PresenceListener interface {
	PresenceChanged(change domain.PresenceChange)
}

// PresenceEntry is the live binding of one participant to one connection
type PresenceEntry struct {
	ParticipantID string
	ConnectionID  string
	Role          domain.Role
}

// ConnectionRegistry maps participant identities to their current connection.
// At most one entry exists per participant; a newer announcement wins.
type ConnectionRegistry struct {
	mu            sync.RWMutex
	byParticipant map[string]PresenceEntry
	byConnection  map[string]string

	// pending holds changes in mutation order until delivered; guarded by mu.
	// notifyMu serializes delivery and is never acquired while mu is held.
	pending   []domain.PresenceChange
	notifyMu  sync.Mutex
	listeners []PresenceListener
}

// NewConnectionRegistry creates an empty registry
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byParticipant: make(map[string]PresenceEntry),
		byConnection:  make(map[string]string),
	}
}

// Subscribe adds a presence listener. Listeners should be added before traffic starts.
func (r *ConnectionRegistry) Subscribe(l PresenceListener) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Announce binds participantID to connectionID, replacing any previous binding
// for that participant. The replaced connection receives no eviction signal.
func (r *ConnectionRegistry) Announce(participantID, connectionID string, role domain.Role) error {
	participantID = domain.NormalizeID(participantID)
	if participantID == "" {
		return ErrEmptyIdentity
	}
	if len(participantID) > constants.MaxParticipantIDLength {
		return apperrors.MalformedEventError("participant id is too long")
	}
	if connectionID == "" {
		return ErrEmptyConnection
	}

	changes := make([]domain.PresenceChange, 0, 2)

	r.mu.Lock()
	// A connection re-announcing under a different identity gives up the old one
	if prev, ok := r.byConnection[connectionID]; ok && prev != participantID {
		if entry, ok := r.byParticipant[prev]; ok && entry.ConnectionID == connectionID {
			delete(r.byParticipant, prev)
			changes = append(changes, domain.PresenceChange{
				ParticipantID: prev,
				Role:          entry.Role,
				ConnectionID:  connectionID,
				Status:        domain.PresenceOffline,
			})
		}
	}
	if old, ok := r.byParticipant[participantID]; ok && old.ConnectionID != connectionID {
		delete(r.byConnection, old.ConnectionID)
	}

	r.byParticipant[participantID] = PresenceEntry{
		ParticipantID: participantID,
		ConnectionID:  connectionID,
		Role:          role,
	}
	r.byConnection[connectionID] = participantID
	changes = append(changes, domain.PresenceChange{
		ParticipantID: participantID,
		Role:          role,
		ConnectionID:  connectionID,
		Status:        domain.PresenceOnline,
	})
	r.pending = append(r.pending, changes...)
	r.mu.Unlock()

	r.flush()

	return nil
}

// Remove drops the presence entry owned by connectionID. If the participant has
// since announced on a newer connection the entry is left alone and false is returned.
func (r *ConnectionRegistry) Remove(connectionID string) (domain.PresenceChange, bool) {
	r.mu.Lock()
	participantID, ok := r.byConnection[connectionID]
	if !ok {
		r.mu.Unlock()
		return domain.PresenceChange{}, false
	}
	delete(r.byConnection, connectionID)

	entry, ok := r.byParticipant[participantID]
	if !ok || entry.ConnectionID != connectionID {
		r.mu.Unlock()
		return domain.PresenceChange{}, false
	}
	delete(r.byParticipant, participantID)

	change := domain.PresenceChange{
		ParticipantID: participantID,
		Role:          entry.Role,
		ConnectionID:  connectionID,
		Status:        domain.PresenceOffline,
	}
	r.pending = append(r.pending, change)
	r.mu.Unlock()

	r.flush()

	return change, true
}

// Lookup returns the current connection of participantID
func (r *ConnectionRegistry) Lookup(participantID string) (string, bool) {
	entry, ok := r.Entry(participantID)
	return entry.ConnectionID, ok
}

// Entry returns the full presence entry of participantID
func (r *ConnectionRegistry) Entry(participantID string) (PresenceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byParticipant[domain.NormalizeID(participantID)]
	return entry, ok
}

// ParticipantOf returns the identity currently bound to connectionID
func (r *ConnectionRegistry) ParticipantOf(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConnection[connectionID]
	return id, ok
}

// Count returns the number of online participants
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byParticipant)
}

// flush delivers queued changes. Batches are taken off the queue while
// notifyMu is held, so delivery order matches mutation order, and a caller's
// own changes have been delivered by the time flush returns.
func (r *ConnectionRegistry) flush() {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	changes := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, change := range changes {
		for _, l := range r.listeners {
			l.PresenceChanged(change)
		}
	}
}
