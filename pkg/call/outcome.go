package call

import (
	"time"

	"github.com/google/uuid"
)

// OutcomeStatus is the final verdict recorded for a session.
type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Turn is one utterance observed live during the call.
type Turn struct {
	Speaker Speaker       `json:"speaker"`
	Text    string        `json:"text"`
	Offset  time.Duration `json:"offset"`
}

// Segment is one speaker-attributed span of the authoritative transcript.
type Segment struct {
	Speaker Speaker       `json:"speaker"`
	Text    string        `json:"text"`
	Start   time.Duration `json:"start"`
	End     time.Duration `json:"end"`
}

// Cost is the platform-reported charge for the call.
type Cost struct {
	Total     float64            `json:"total"`
	Breakdown map[string]float64 `json:"breakdown,omitempty"`
}

// Outcome is the reconciled result of a session. The poller produces exactly
// one per session.
type Outcome struct {
	SessionID      uuid.UUID     `json:"session_id"`
	EvaluationID   string        `json:"evaluation_id"`
	ProviderCallID string        `json:"provider_call_id"`
	Status         OutcomeStatus `json:"status"`
	Duration       time.Duration `json:"duration"`
	Transcript     string        `json:"transcript"`
	Segments       []Segment     `json:"segments,omitempty"`
	RecordingURL   string        `json:"recording_url,omitempty"`
	RecordingPath  string        `json:"recording_path,omitempty"`
	Cost           *Cost         `json:"cost,omitempty"`
	LocalTurns     []Turn        `json:"local_turns,omitempty"`
	Error          string        `json:"error,omitempty"`
	FinalizedAt    time.Time     `json:"finalized_at"`
}

// Failed builds a failure outcome for s.
func Failed(s Session, err error) Outcome {
	o := Outcome{
		SessionID:      s.ID,
		EvaluationID:   s.EvaluationID,
		ProviderCallID: s.ProviderCallID,
		Status:         OutcomeFailed,
		FinalizedAt:    time.Now(),
	}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}
