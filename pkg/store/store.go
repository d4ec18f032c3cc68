// Package store persists call sessions and outcomes and hands finished calls
// to the evaluation pipeline.
package store

import (
	"context"
	"errors"

	"github.com/chriscow/callbridge-go/pkg/call"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a session or outcome does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence collaborator. Every write replaces the whole row.
type Store interface {
	// SaveSession upserts the session.
	SaveSession(ctx context.Context, s call.Session) error

	// SaveOutcome upserts the outcome for its session.
	SaveOutcome(ctx context.Context, o call.Outcome) error

	// TriggerEvaluation queues the finished session for evaluation.
	TriggerEvaluation(ctx context.Context, sessionID uuid.UUID) error

	// Session loads a session by id.
	Session(ctx context.Context, id uuid.UUID) (call.Session, error)

	// Outcome loads the outcome for a session.
	Outcome(ctx context.Context, sessionID uuid.UUID) (call.Outcome, error)
}
