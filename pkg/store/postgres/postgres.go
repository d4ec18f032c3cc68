// Package postgres is the pgx-backed Store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chriscow/callbridge-go/pkg/call"
	"github.com/chriscow/callbridge-go/pkg/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EvaluationChannel is the NOTIFY channel evaluation workers listen on.
const EvaluationChannel = "call_evaluations"

const schema = `
CREATE TABLE IF NOT EXISTS call_sessions (
	id               UUID PRIMARY KEY,
	evaluation_id    TEXT NOT NULL,
	platform         TEXT NOT NULL,
	agent_id         TEXT NOT NULL,
	provider_call_id TEXT NOT NULL DEFAULT '',
	transport        TEXT NOT NULL DEFAULT '',
	server_url       TEXT NOT NULL DEFAULT '',
	sample_rate      INTEGER NOT NULL DEFAULT 0,
	channels         INTEGER NOT NULL DEFAULT 1,
	status           TEXT NOT NULL,
	error            TEXT NOT NULL DEFAULT '',
	started_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS call_outcomes (
	session_id       UUID PRIMARY KEY REFERENCES call_sessions(id),
	evaluation_id    TEXT NOT NULL,
	provider_call_id TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	duration_ms      BIGINT NOT NULL DEFAULT 0,
	transcript       TEXT NOT NULL DEFAULT '',
	segments         JSONB,
	recording_url    TEXT NOT NULL DEFAULT '',
	recording_path   TEXT NOT NULL DEFAULT '',
	cost             JSONB,
	local_turns      JSONB,
	error            TEXT NOT NULL DEFAULT '',
	finalized_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS evaluation_queue (
	session_id UUID PRIMARY KEY REFERENCES call_sessions(id),
	queued_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store writes sessions and outcomes as whole-row upserts.
type Store struct {
	db *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Connect opens a pool and makes sure the schema exists.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := New(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

// EnsureSchema creates the tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.db.Close()
}

// SaveSession implements store.Store.
func (s *Store) SaveSession(ctx context.Context, sess call.Session) error {
	query := `
		INSERT INTO call_sessions (
			id, evaluation_id, platform, agent_id, provider_call_id, transport,
			server_url, sample_rate, channels, status, error, started_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			evaluation_id = EXCLUDED.evaluation_id,
			platform = EXCLUDED.platform,
			agent_id = EXCLUDED.agent_id,
			provider_call_id = EXCLUDED.provider_call_id,
			transport = EXCLUDED.transport,
			server_url = EXCLUDED.server_url,
			sample_rate = EXCLUDED.sample_rate,
			channels = EXCLUDED.channels,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.Exec(ctx, query,
		sess.ID, sess.EvaluationID, sess.Platform, sess.AgentID, sess.ProviderCallID, sess.Transport,
		sess.ServerURL, sess.SampleRate, sess.Channels, string(sess.Status), sess.Error,
		sess.StartedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}

// SaveOutcome implements store.Store.
func (s *Store) SaveOutcome(ctx context.Context, o call.Outcome) error {
	segments, err := json.Marshal(o.Segments)
	if err != nil {
		return fmt.Errorf("failed to encode segments: %w", err)
	}
	cost, err := json.Marshal(o.Cost)
	if err != nil {
		return fmt.Errorf("failed to encode cost: %w", err)
	}
	turns, err := json.Marshal(o.LocalTurns)
	if err != nil {
		return fmt.Errorf("failed to encode local turns: %w", err)
	}

	query := `
		INSERT INTO call_outcomes (
			session_id, evaluation_id, provider_call_id, status, duration_ms, transcript,
			segments, recording_url, recording_path, cost, local_turns, error, finalized_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (session_id) DO UPDATE SET
			evaluation_id = EXCLUDED.evaluation_id,
			provider_call_id = EXCLUDED.provider_call_id,
			status = EXCLUDED.status,
			duration_ms = EXCLUDED.duration_ms,
			transcript = EXCLUDED.transcript,
			segments = EXCLUDED.segments,
			recording_url = EXCLUDED.recording_url,
			recording_path = EXCLUDED.recording_path,
			cost = EXCLUDED.cost,
			local_turns = EXCLUDED.local_turns,
			error = EXCLUDED.error,
			finalized_at = EXCLUDED.finalized_at
	`

	_, err = s.db.Exec(ctx, query,
		o.SessionID, o.EvaluationID, o.ProviderCallID, string(o.Status), o.Duration.Milliseconds(), o.Transcript,
		segments, o.RecordingURL, o.RecordingPath, cost, turns, o.Error, o.FinalizedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save outcome for %s: %w", o.SessionID, err)
	}
	return nil
}

// TriggerEvaluation queues the session and notifies listeners in one transaction.
func (s *Store) TriggerEvaluation(ctx context.Context, sessionID uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO evaluation_queue (session_id) VALUES ($1) ON CONFLICT (session_id) DO NOTHING`,
		sessionID); err != nil {
		return fmt.Errorf("failed to queue evaluation: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, EvaluationChannel, sessionID.String()); err != nil {
		return fmt.Errorf("failed to notify evaluation: %w", err)
	}
	return tx.Commit(ctx)
}

// Session implements store.Store.
func (s *Store) Session(ctx context.Context, id uuid.UUID) (call.Session, error) {
	query := `
		SELECT id, evaluation_id, platform, agent_id, provider_call_id, transport,
		       server_url, sample_rate, channels, status, error, started_at, updated_at
		FROM call_sessions WHERE id = $1
	`

	var sess call.Session
	var status string
	err := s.db.QueryRow(ctx, query, id).Scan(
		&sess.ID, &sess.EvaluationID, &sess.Platform, &sess.AgentID, &sess.ProviderCallID, &sess.Transport,
		&sess.ServerURL, &sess.SampleRate, &sess.Channels, &status, &sess.Error, &sess.StartedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return call.Session{}, store.ErrNotFound
	}
	if err != nil {
		return call.Session{}, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	sess.Status = call.Status(status)
	return sess, nil
}

// Outcome implements store.Store.
func (s *Store) Outcome(ctx context.Context, sessionID uuid.UUID) (call.Outcome, error) {
	query := `
		SELECT session_id, evaluation_id, provider_call_id, status, duration_ms, transcript,
		       segments, recording_url, recording_path, cost, local_turns, error, finalized_at
		FROM call_outcomes WHERE session_id = $1
	`

	var (
		o                     call.Outcome
		status                string
		durationMS            int64
		segments, cost, turns []byte
	)
	err := s.db.QueryRow(ctx, query, sessionID).Scan(
		&o.SessionID, &o.EvaluationID, &o.ProviderCallID, &status, &durationMS, &o.Transcript,
		&segments, &o.RecordingURL, &o.RecordingPath, &cost, &turns, &o.Error, &o.FinalizedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return call.Outcome{}, store.ErrNotFound
	}
	if err != nil {
		return call.Outcome{}, fmt.Errorf("failed to load outcome %s: %w", sessionID, err)
	}

	o.Status = call.OutcomeStatus(status)
	o.Duration = time.Duration(durationMS) * time.Millisecond
	if err := unmarshalNullable(segments, &o.Segments); err != nil {
		return call.Outcome{}, err
	}
	if err := unmarshalNullable(cost, &o.Cost); err != nil {
		return call.Outcome{}, err
	}
	if err := unmarshalNullable(turns, &o.LocalTurns); err != nil {
		return call.Outcome{}, err
	}
	return o, nil
}

func unmarshalNullable(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode column: %w", err)
	}
	return nil
}
