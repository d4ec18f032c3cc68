// Package poller reconciles a bridged call with the platform's own record of
// it. The platform finalizes calls asynchronously, so the poller waits, polls
// on a fixed interval and writes exactly one outcome per session.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chriscow/callbridge-go/pkg/call"
	"github.com/chriscow/callbridge-go/pkg/platform"
	"github.com/chriscow/callbridge-go/pkg/recorder"
	"github.com/chriscow/callbridge-go/pkg/store"
)

// ErrAbandoned is the cause recorded when polling is abandoned without a
// more specific reason.
var ErrAbandoned = errors.New("polling abandoned")

// Config holds configuration for creating a Poller.
type Config struct {
	Platform platform.Client
	Store    store.Store
	Record   *call.Record

	// Recorder is the local fallback recording, if any.
	Recorder *recorder.Recorder

	// LocalTurns returns the turns observed live, for the outcome.
	LocalTurns func() []call.Turn

	// InitialDelay before the first query. The platform needs time after
	// hangup to finalize the transcript.
	InitialDelay time.Duration

	// Interval between queries
	Interval time.Duration

	// MaxAttempts bounds the number of queries, errors included
	MaxAttempts int

	// FlushWait bounds how long to wait for the local recording to be
	// written before finalizing without it.
	FlushWait time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the default timings: 30s, then every 5s for up to
// 120 queries.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 30 * time.Second,
		Interval:     5 * time.Second,
		MaxAttempts:  120,
		FlushWait:    10 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Platform == nil {
		return fmt.Errorf("platform is required")
	}
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Record == nil {
		return fmt.Errorf("session record is required")
	}
	if c.InitialDelay < 0 {
		return fmt.Errorf("initial delay must not be negative")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	return nil
}

// Poller polls one call until it can be finalized.
type Poller struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelCauseFunc
	pending error // cause passed to Abandon before Run started

	once     sync.Once
	outcome  call.Outcome
	finished chan struct{}
	attempts int
}

// New creates a Poller.
func New(cfg Config) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		snap := cfg.Record.Snapshot()
		cfg.Logger = slog.Default().With(
			slog.String("session_id", snap.ID.String()),
			slog.String("provider_call_id", snap.ProviderCallID))
	}
	return &Poller{
		cfg:      cfg,
		logger:   cfg.Logger,
		finished: make(chan struct{}),
	}, nil
}

// Done is closed once the outcome has been finalized.
func (p *Poller) Done() <-chan struct{} {
	return p.finished
}

// Outcome returns the final outcome. It is only meaningful after Done.
func (p *Poller) Outcome() call.Outcome {
	<-p.finished
	return p.outcome
}

// Attempts returns how many queries were issued.
func (p *Poller) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Abandon stops polling and finalizes a failure carrying cause.
func (p *Poller) Abandon(cause error) {
	if cause == nil {
		cause = ErrAbandoned
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel(cause)
		return
	}
	p.pending = cause
}

// Run polls until the call is finalized, the attempts run out, or ctx is
// cancelled, and returns the single outcome written for the session.
func (p *Poller) Run(ctx context.Context) call.Outcome {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	p.mu.Lock()
	p.cancel = cancel
	if p.pending != nil {
		cancel(p.pending)
	}
	p.mu.Unlock()

	started := time.Now()
	p.logger.Info("Polling for call result",
		slog.Duration("initial_delay", p.cfg.InitialDelay),
		slog.Duration("interval", p.cfg.Interval),
		slog.Int("max_attempts", p.cfg.MaxAttempts))

	wait := p.cfg.InitialDelay
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := sleep(ctx, wait); err != nil {
			return p.finalizeCancelled(ctx)
		}
		wait = p.cfg.Interval

		p.mu.Lock()
		p.attempts = attempt
		p.mu.Unlock()

		status, err := p.cfg.Platform.GetCall(ctx, p.cfg.Record.Snapshot().ProviderCallID)
		if err != nil {
			if ctx.Err() != nil {
				return p.finalizeCancelled(ctx)
			}
			p.logger.Warn("Call status query failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			continue
		}
		if !status.Ended {
			p.logger.Debug("Call not finished yet",
				slog.Int("attempt", attempt),
				slog.String("status", status.Status))
			continue
		}

		p.logger.Info("Call finished on platform",
			slog.Int("attempt", attempt),
			slog.String("status", status.Status))
		return p.finalizeEnded(ctx, status)
	}

	err := &call.PollTimeoutError{Attempts: p.cfg.MaxAttempts, Elapsed: time.Since(started)}
	p.logger.Warn("Giving up on call result", slog.String("error", err.Error()))
	return p.finalize(call.Failed(p.cfg.Record.Snapshot(), err))
}

func (p *Poller) finalizeCancelled(ctx context.Context) call.Outcome {
	cause := context.Cause(ctx)
	p.logger.Warn("Polling cancelled", slog.String("cause", cause.Error()))
	return p.finalize(call.Failed(p.cfg.Record.Snapshot(), fmt.Errorf("polling cancelled: %w", cause)))
}

func (p *Poller) finalizeEnded(ctx context.Context, st *platform.CallStatus) call.Outcome {
	sess := p.cfg.Record.Snapshot()

	if strings.TrimSpace(st.Transcript) == "" && len(st.Segments) == 0 {
		return p.finalize(call.Failed(sess, &call.NoTranscriptError{ProviderCallID: sess.ProviderCallID}))
	}

	transcript := st.Transcript
	if strings.TrimSpace(transcript) == "" {
		transcript = joinSegments(st.Segments)
	}

	out := call.Outcome{
		SessionID:      sess.ID,
		EvaluationID:   sess.EvaluationID,
		ProviderCallID: sess.ProviderCallID,
		Status:         call.OutcomeCompleted,
		Duration:       platform.DurationOf(st, sess.StartedAt),
		Transcript:     transcript,
		Segments:       st.Segments,
		Cost:           st.Cost,
	}
	if p.cfg.LocalTurns != nil {
		out.LocalTurns = p.cfg.LocalTurns()
	}
	p.attachRecording(ctx, &out, st.RecordingURL)
	return p.finalize(out)
}

// attachRecording prefers the platform's recording and discards the local
// copy when there is one; otherwise it waits for the local flush.
func (p *Poller) attachRecording(ctx context.Context, out *call.Outcome, url string) {
	rec := p.cfg.Recorder
	if url != "" {
		out.RecordingURL = url
		if rec != nil {
			p.waitFlushed(ctx, rec)
			if err := rec.Discard(); err != nil {
				p.logger.Warn("Failed to discard local recording", slog.String("error", err.Error()))
			}
		}
		return
	}
	if rec == nil {
		return
	}
	if p.waitFlushed(ctx, rec) {
		out.RecordingPath = rec.Path()
	} else {
		p.logger.Warn("Local recording not flushed in time", slog.Duration("waited", p.cfg.FlushWait))
	}
}

func (p *Poller) waitFlushed(ctx context.Context, rec *recorder.Recorder) bool {
	wait := p.cfg.FlushWait
	if wait <= 0 {
		wait = DefaultConfig().FlushWait
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-rec.Flushed():
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// finalize writes the outcome exactly once. Later calls return the first
// outcome unchanged.
func (p *Poller) finalize(out call.Outcome) call.Outcome {
	p.once.Do(func() {
		if out.FinalizedAt.IsZero() {
			out.FinalizedAt = time.Now()
		}
		p.outcome = out

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := p.cfg.Store.SaveOutcome(ctx, out); err != nil {
			p.logger.Error("Failed to save outcome", slog.String("error", err.Error()))
		}

		sess := p.cfg.Record.Update(func(s *call.Session) {
			if out.Status == call.OutcomeFailed && s.Error == "" {
				s.Error = out.Error
			}
		})
		if err := p.cfg.Store.SaveSession(ctx, sess); err != nil {
			p.logger.Error("Failed to save session", slog.String("error", err.Error()))
		}

		if out.Status == call.OutcomeCompleted {
			if err := p.cfg.Store.TriggerEvaluation(ctx, out.SessionID); err != nil {
				p.logger.Error("Failed to trigger evaluation", slog.String("error", err.Error()))
			}
		}

		p.logger.Info("Call outcome finalized",
			slog.String("status", string(out.Status)),
			slog.Duration("duration", out.Duration),
			slog.String("error", out.Error))
		close(p.finished)
	})
	return p.outcome
}

func joinSegments(segs []call.Segment) string {
	var b strings.Builder
	for _, s := range segs {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", s.Speaker, s.Text)
	}
	return b.String()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
