package signaling

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"medipredict-backend/internal/domain"
	"medipredict-backend/pkg/logger"
)

// presenceBroadcaster announces every presence change to all connections.
// Kept behind PresenceListener so targeted subscriptions can replace it later.
type presenceBroadcaster struct {
	transport Transport
	onChange  func()
}

func (b *presenceBroadcaster) PresenceChanged(change domain.PresenceChange) {
	b.transport.Broadcast(&Event{
		Type:          EventPresenceChanged,
		ParticipantID: change.ParticipantID,
		Role:          change.Role,
		Status:        change.Status,
	})
	if b.onChange != nil {
		b.onChange()
	}
}

// PresenceStore is an external, queryable copy of who is online
type PresenceStore interface {
	SetOnline(ctx context.Context, participantID string, role domain.Role) error
	SetOffline(ctx context.Context, participantID string) error
}

// PresenceMirror copies registry changes into a PresenceStore from one worker
// goroutine, preserving change order. It never blocks the registry.
// Entries it has written online are re-written every refresh interval so
// that expiring store keys stay alive while the participant is connected.
type PresenceMirror struct {
	store   PresenceStore
	changes chan domain.PresenceChange
	timeout time.Duration
	refresh time.Duration

	// owned by the worker goroutine
	online map[string]domain.Role

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewPresenceMirror starts a mirror writing to store. A zero refresh disables re-writes.
func NewPresenceMirror(store PresenceStore, bufferSize int, timeout, refresh time.Duration) *PresenceMirror {
	m := &PresenceMirror{
		store:   store,
		changes: make(chan domain.PresenceChange, bufferSize),
		timeout: timeout,
		refresh: refresh,
		online:  make(map[string]domain.Role),
		done:    make(chan struct{}),
	}

	go m.run()

	return m
}

// PresenceChanged implements PresenceListener
func (m *PresenceMirror) PresenceChanged(change domain.PresenceChange) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}

	select {
	case m.changes <- change:
	default:
		logger.Warn("Presence mirror backlog full, change dropped",
			zap.String("participant_id", change.ParticipantID),
			zap.String("status", string(change.Status)))
	}
}

// Close stops the mirror after flushing buffered changes
func (m *PresenceMirror) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.changes)
	}
	m.mu.Unlock()

	<-m.done
}

func (m *PresenceMirror) run() {
	defer close(m.done)

	var tick <-chan time.Time
	if m.refresh > 0 {
		ticker := time.NewTicker(m.refresh)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case change, ok := <-m.changes:
			if !ok {
				return
			}
			m.apply(change)
		case <-tick:
			m.refreshOnline()
		}
	}
}

func (m *PresenceMirror) refreshOnline() {
	for id, role := range m.online {
		m.write(domain.PresenceChange{ParticipantID: id, Role: role, Status: domain.PresenceOnline})
	}
}

func (m *PresenceMirror) apply(change domain.PresenceChange) {
	if change.Status == domain.PresenceOnline {
		m.online[change.ParticipantID] = change.Role
	} else {
		delete(m.online, change.ParticipantID)
	}
	m.write(change)
}

func (m *PresenceMirror) write(change domain.PresenceChange) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var err error
	if change.Status == domain.PresenceOnline {
		err = m.store.SetOnline(ctx, change.ParticipantID, change.Role)
	} else {
		err = m.store.SetOffline(ctx, change.ParticipantID)
	}
	if err != nil {
		logger.Warn("Failed to mirror presence",
			zap.String("participant_id", change.ParticipantID),
			zap.String("status", string(change.Status)),
			zap.Error(err))
	}
}
