// Package memory is an in-process Store used by tests and by the CLI when no
// database is configured.
package memory

import (
	"context"
	"sync"

	"github.com/chriscow/callbridge-go/pkg/call"
	"github.com/chriscow/callbridge-go/pkg/store"
	"github.com/google/uuid"
)

// Store keeps everything in maps guarded by a mutex.
type Store struct {
	mu          sync.RWMutex
	sessions    map[uuid.UUID]call.Session
	history     map[uuid.UUID][]call.Status
	outcomes    map[uuid.UUID]call.Outcome
	outcomeHits map[uuid.UUID]int
	evaluations []uuid.UUID
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		sessions:    make(map[uuid.UUID]call.Session),
		history:     make(map[uuid.UUID][]call.Status),
		outcomes:    make(map[uuid.UUID]call.Outcome),
		outcomeHits: make(map[uuid.UUID]int),
	}
}

var _ store.Store = (*Store)(nil)

// SaveSession implements store.Store.
func (m *Store) SaveSession(ctx context.Context, s call.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.history[s.ID]
	if len(h) == 0 || h[len(h)-1] != s.Status {
		m.history[s.ID] = append(h, s.Status)
	}
	s.Credential = ""
	m.sessions[s.ID] = s
	return nil
}

// SaveOutcome implements store.Store.
func (m *Store) SaveOutcome(ctx context.Context, o call.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[o.SessionID] = o
	m.outcomeHits[o.SessionID]++
	return nil
}

// TriggerEvaluation implements store.Store.
func (m *Store) TriggerEvaluation(ctx context.Context, sessionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluations = append(m.evaluations, sessionID)
	return nil
}

// Session implements store.Store.
func (m *Store) Session(ctx context.Context, id uuid.UUID) (call.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return call.Session{}, store.ErrNotFound
	}
	return s, nil
}

// Outcome implements store.Store.
func (m *Store) Outcome(ctx context.Context, sessionID uuid.UUID) (call.Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.outcomes[sessionID]
	if !ok {
		return call.Outcome{}, store.ErrNotFound
	}
	return o, nil
}

// StatusHistory returns the distinct statuses a session was saved with, in order.
func (m *Store) StatusHistory(id uuid.UUID) []call.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]call.Status(nil), m.history[id]...)
}

// OutcomeWrites returns how many times an outcome was saved for a session.
func (m *Store) OutcomeWrites(id uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outcomeHits[id]
}

// Evaluations returns the queued evaluation triggers.
func (m *Store) Evaluations() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]uuid.UUID(nil), m.evaluations...)
}
