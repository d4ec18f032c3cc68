// Package bridge runs one synthetic call: it joins the platform's transport,
// turns remote speaker events into utterances for the orchestrator, plays the
// caller's replies back at real-time pace and keeps the session record in
// step with what happened.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chriscow/callbridge-go/pkg/agent"
	"github.com/chriscow/callbridge-go/pkg/call"
	"github.com/chriscow/callbridge-go/pkg/job"
	"github.com/chriscow/callbridge-go/pkg/recorder"
	"github.com/chriscow/callbridge-go/pkg/rtc"
	"github.com/chriscow/callbridge-go/pkg/store"
	"github.com/chriscow/callbridge-go/pkg/transport"
	"github.com/chriscow/callbridge-go/pkg/turn"
)

const (
	// DefaultMaxDuration is the hard limit on a bridged call.
	DefaultMaxDuration = job.DefaultJobTimeout

	persistTimeout = 5 * time.Second
)

// Config holds configuration for creating a Session.
type Config struct {
	Record    *call.Record
	Store     store.Store
	Transport transport.Transport

	// Agent configures the synthetic caller. Speaker and SampleRate are
	// filled in by the session.
	Agent agent.Config

	// MergeMode is how transcript fragments of one utterance combine.
	MergeMode turn.MergeMode

	// Recorder, when set, receives both sides of the call and is flushed to
	// RecordingsDir on teardown.
	Recorder      *recorder.Recorder
	RecordingsDir string

	// Background is mixed under the caller's speech when set.
	Background *agent.BackgroundAudio

	// MaxDuration is the hard timeout once the session starts.
	MaxDuration time.Duration

	Logger *slog.Logger
}

// Session is the bridge for one call.
type Session struct {
	cfg     Config
	logger  *slog.Logger
	tr      transport.Transport
	orch    *agent.Orchestrator
	acc     *turn.Accumulator
	chunker *rtc.Chunker

	runtimeErrs chan error
	done        chan struct{}
	wg          sync.WaitGroup

	mu        sync.Mutex
	endReason string
	endedAt   time.Time
}

// New validates cfg and builds the session and its orchestrator.
func New(cfg Config) (*Session, error) {
	if cfg.Record == nil {
		return nil, fmt.Errorf("session record is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	// A supplied logger is expected to carry the session attributes already.
	logger := cfg.Logger
	if logger == nil {
		snap := cfg.Record.Snapshot()
		logger = slog.Default().With(
			slog.String("session_id", snap.ID.String()),
			slog.String("evaluation_id", snap.EvaluationID))
	}
	cfg.Logger = logger

	s := &Session{
		cfg:         cfg,
		logger:      logger,
		tr:          cfg.Transport,
		acc:         turn.NewAccumulator(cfg.MergeMode, logger),
		chunker:     rtc.NewChunker(cfg.Transport.FrameDuration(), cfg.Transport.SampleRate()),
		runtimeErrs: make(chan error, 1),
		done:        make(chan struct{}),
	}

	agentCfg := cfg.Agent
	agentCfg.Speaker = s
	agentCfg.SampleRate = cfg.Transport.SampleRate()
	if agentCfg.Logger == nil {
		agentCfg.Logger = logger
	}
	orch, err := agent.New(agentCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	s.orch = orch
	return s, nil
}

// Orchestrator returns the session's synthetic caller.
func (s *Session) Orchestrator() *agent.Orchestrator {
	return s.orch
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// EndReason returns why the call ended, once it has.
func (s *Session) EndReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// EndedAt returns when the event loop stopped.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// Run connects the transport and bridges the call until the remote party
// hangs up, the caller finishes its script, the hard timeout fires or ctx is
// cancelled. Connection failures leave the session Failed and are returned as
// *call.ConnectionError.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	snap := s.cfg.Record.Snapshot()
	j, err := job.New(ctx, job.Config{
		ID:           snap.ID.String(),
		EvaluationID: snap.EvaluationID,
		Timeout:      s.cfg.MaxDuration,
		Logger:       s.logger,
	})
	if err != nil {
		return s.fail(fmt.Errorf("failed to start job: %w", err))
	}

	convCtx, cancelConv := context.WithCancel(j.Context.Ctx)
	defer cancelConv()

	// The hook may fire from the hard timeout while the loop is still
	// running, so it stops the conversation and waits for the loop first.
	loopDone := make(chan struct{})
	j.Context.OnShutdown(func(reason string) {
		cancelConv()
		<-loopDone
		s.teardown()
	})

	if err := s.tr.Connect(convCtx); err != nil {
		s.logger.Error("Failed to connect transport", slog.String("error", err.Error()))
		var connErr *call.ConnectionError
		if !errors.As(err, &connErr) {
			err = &call.ConnectionError{Transport: snap.Transport, Err: err}
		}
		err = s.fail(err)
		close(loopDone)
		j.Shutdown("connect failed")
		j.Wait()
		return err
	}

	start := time.Now()
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.Start(start)
	}
	s.orch.Begin(start)
	s.transition(call.StatusBridging, "")
	s.logger.Info("Call bridged",
		slog.Int("sample_rate", s.tr.SampleRate()),
		slog.Duration("frame", s.tr.FrameDuration()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.orch.Opening(convCtx); err != nil {
			s.logger.Warn("Opening line failed", slog.String("error", err.Error()))
		}
	}()

	reason, runErr := s.loop(convCtx, j)
	close(loopDone)

	s.mu.Lock()
	s.endReason = reason
	s.endedAt = time.Now()
	s.mu.Unlock()

	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	s.transition(call.StatusEnded, msg)
	s.logger.Info("Call ended",
		slog.String("reason", reason),
		slog.Duration("duration", time.Since(start)),
		slog.Int("turns", len(s.orch.Turns())))

	j.Shutdown(reason)
	j.Wait()
	return runErr
}

// loop is the session's single event loop.
func (s *Session) loop(ctx context.Context, j *job.Job) (string, error) {
	events := s.tr.Events()
	audio := s.tr.Audio()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return "transport closed", nil
			}
			if ev.Type == transport.EventRemoteDisconnected {
				s.acc.Observe(ev)
				reason := "remote disconnected"
				if ev.Reason != "" {
					reason = reason + ": " + ev.Reason
				}
				return reason, nil
			}
			s.handle(ctx, ev)

		case samples, ok := <-audio:
			if !ok {
				audio = nil
				continue
			}
			if s.cfg.Recorder != nil {
				s.cfg.Recorder.AddInbound(samples)
			}

		case <-s.orch.EndRequested():
			return "conversation complete", nil

		case err := <-s.runtimeErrs:
			return "transport error", err

		case <-ctx.Done():
			if j.TimedOut() {
				return job.ReasonTimeout, nil
			}
			return "cancelled", nil
		}
	}
}

// handle feeds one control event through the accumulator to the orchestrator.
func (s *Session) handle(ctx context.Context, ev transport.Event) {
	stopped, uttered := false, false
	for _, d := range s.acc.Observe(ev) {
		switch d.Kind {
		case turn.TalkingChanged:
			s.orch.SetRemoteTalking(d.Talking)
			stopped = !d.Talking
		case turn.Utterance:
			uttered = true
			s.logger.Debug("Remote utterance", slog.Int("length", len(d.Text)))
			s.orch.Submit(ctx, d.Text)
		}
	}
	// An empty episode can still unblock an utterance parked while the
	// remote was talking.
	if stopped && !uttered {
		s.orch.Drain(ctx)
	}
}

// Speak implements agent.Speaker: it paces pcm out through the transport in
// frame-sized pieces, recording each frame as it goes.
func (s *Session) Speak(ctx context.Context, pcm []byte) error {
	rate := s.tr.SampleRate()
	var offset time.Duration
	err := s.chunker.Stream(ctx, pcm, func(frame []byte) error {
		if s.cfg.Background != nil {
			if af, err := rtc.NewAudioFrame(frame, rate, 1, offset); err == nil {
				s.cfg.Background.Mix(af)
			}
		}
		offset += s.chunker.FrameDuration

		samples := rtc.BytesToSamples(frame)
		if s.cfg.Recorder != nil {
			s.cfg.Recorder.AddOutbound(samples)
		}
		return s.tr.PublishAudio(ctx, samples)
	})

	var rt *call.TransportRuntimeError
	if errors.As(err, &rt) {
		select {
		case s.runtimeErrs <- err:
		default:
		}
	}
	return err
}

// teardown runs as the job's shutdown hook.
func (s *Session) teardown() {
	if err := s.tr.Disconnect(); err != nil {
		s.logger.Warn("Failed to disconnect transport", slog.String("error", err.Error()))
	}
	s.wg.Wait()
	s.orch.Wait()

	if s.cfg.Recorder == nil {
		return
	}
	dir := s.cfg.RecordingsDir
	if dir == "" {
		dir = "recordings"
	}
	name := s.cfg.Record.Snapshot().ID.String()
	if _, err := s.cfg.Recorder.Flush(dir, name); err != nil {
		s.logger.Error("Failed to flush recording", slog.String("error", err.Error()))
	}
}

func (s *Session) fail(err error) error {
	s.transition(call.StatusFailed, err.Error())
	return err
}

// transition moves the record and persists the whole session.
func (s *Session) transition(status call.Status, errMsg string) {
	snap, ok := s.cfg.Record.Transition(status, errMsg)
	if !ok {
		s.logger.Debug("Ignoring transition on finished session", slog.String("status", string(status)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.cfg.Store.SaveSession(ctx, snap); err != nil {
		s.logger.Error("Failed to persist session",
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
	}
}
