// Package call holds the data model shared by the bridge, the poller and the
// store: the live call session, its final outcome and the error taxonomy.
package call

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a bridged call.
type Status string

const (
	StatusInitiating Status = "initiating"
	StatusConnecting Status = "connecting"
	StatusBridging   Status = "bridging"
	StatusEnded      Status = "ended"
	StatusFailed     Status = "failed"
)

// Live reports whether the session still holds a transport.
func (s Status) Live() bool {
	return s == StatusConnecting || s == StatusBridging
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusFailed
}

// Speaker identifies who produced a turn or segment.
type Speaker string

const (
	SpeakerRemoteAgent     Speaker = "remote_agent"
	SpeakerSyntheticCaller Speaker = "synthetic_caller"
)

// Session is one synthetic call against a platform-hosted agent.
type Session struct {
	ID             uuid.UUID `json:"id"`
	EvaluationID   string    `json:"evaluation_id"`
	Platform       string    `json:"platform"`
	AgentID        string    `json:"agent_id"`
	ProviderCallID string    `json:"provider_call_id"`
	Transport      string    `json:"transport"`

	// Credential is the join token or room URL. Never logged or persisted.
	Credential string `json:"-"`
	ServerURL  string `json:"server_url,omitempty"`

	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`

	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a session in the Initiating state.
func NewSession(evaluationID, platform, agentID string) Session {
	now := time.Now()
	return Session{
		ID:           uuid.New(),
		EvaluationID: evaluationID,
		Platform:     platform,
		AgentID:      agentID,
		Channels:     1,
		Status:       StatusInitiating,
		StartedAt:    now,
		UpdatedAt:    now,
	}
}

// Record guards a Session shared between the bridge and the poller. Readers
// always get a full copy, and writers replace the whole value, so the stored
// row never mixes fields from two writers.
type Record struct {
	mu sync.RWMutex
	s  Session
}

// NewRecord wraps s.
func NewRecord(s Session) *Record {
	return &Record{s: s}
}

// Snapshot returns a copy of the current session.
func (r *Record) Snapshot() Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s
}

// Update applies fn to the session and returns the resulting copy.
func (r *Record) Update(fn func(*Session)) Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.s)
	r.s.UpdatedAt = time.Now()
	return r.s
}

// Transition moves the session to status unless it is already terminal.
// The returned bool is false when the transition was refused.
func (r *Record) Transition(status Status, errMsg string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s.Status.Terminal() {
		return r.s, false
	}
	r.s.Status = status
	if errMsg != "" {
		r.s.Error = errMsg
	}
	r.s.UpdatedAt = time.Now()
	return r.s, true
}
