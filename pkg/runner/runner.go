// Package runner is the entry point for a test call. It registers the call
// with the platform, then runs the bridge and the result poller side by side.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chriscow/callbridge-go/pkg/agent"
	"github.com/chriscow/callbridge-go/pkg/bridge"
	"github.com/chriscow/callbridge-go/pkg/call"
	"github.com/chriscow/callbridge-go/pkg/platform"
	"github.com/chriscow/callbridge-go/pkg/poller"
	"github.com/chriscow/callbridge-go/pkg/recorder"
	"github.com/chriscow/callbridge-go/pkg/store"
	"github.com/chriscow/callbridge-go/pkg/transport"
	"github.com/chriscow/callbridge-go/pkg/turn"
)

// ErrSessionLive is returned when the evaluation already has a connecting or
// bridging session.
var ErrSessionLive = errors.New("evaluation already has a live session")

// DefaultAbandonAfter is how long the poller keeps going after the bridge
// failed to connect. The platform may still have a record worth reading.
const DefaultAbandonAfter = 2 * time.Minute

// Config holds configuration for creating a Runner.
type Config struct {
	Store     store.Store
	Platforms map[string]platform.Client

	// Agent is the base caller configuration. LLM and TTS are required;
	// persona and scenario come from each Request.
	Agent agent.Config

	// Poll timings. Collaborators are filled in per session.
	Poll poller.Config

	MaxDuration   time.Duration
	RecordingsDir string

	// Background, when set, is loaded per call at the negotiated sample rate.
	Background *agent.BackgroundAudioConfig

	// AbandonAfter bounds polling once the bridge has failed.
	AbandonAfter time.Duration

	// NewTransport builds the transport for a registration. Defaults to
	// transport.New.
	NewTransport func(transport.Config) (transport.Transport, error)

	Logger *slog.Logger
}

// Request describes one test call.
type Request struct {
	EvaluationID string
	Platform     string
	AgentID      string
	Persona      agent.Persona
	Scenario     agent.Scenario
	MaxTurns     int
	Metadata     map[string]any
}

// Handle tracks a started call.
type Handle struct {
	Record  *call.Record
	Bridge  *bridge.Session
	Poller  *poller.Poller
	cancel  context.CancelFunc
	bridged chan error
}

// BridgeErr blocks until the bridge finishes and returns its error.
func (h *Handle) BridgeErr() error {
	err := <-h.bridged
	h.bridged <- err
	return err
}

// Wait blocks until the outcome is finalized or ctx ends.
func (h *Handle) Wait(ctx context.Context) (call.Outcome, error) {
	select {
	case <-h.Poller.Done():
		return h.Poller.Outcome(), nil
	case <-ctx.Done():
		return call.Outcome{}, ctx.Err()
	}
}

// Cancel stops the bridge and the poller.
func (h *Handle) Cancel() {
	h.cancel()
}

// Runner starts calls and keeps at most one live session per evaluation.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	live map[string]*Handle
}

// New creates a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if len(cfg.Platforms) == 0 {
		return nil, fmt.Errorf("at least one platform is required")
	}
	if cfg.Agent.LLM == nil || cfg.Agent.TTS == nil {
		return nil, fmt.Errorf("agent LLM and TTS are required")
	}
	if cfg.Poll.Interval == 0 {
		d := poller.DefaultConfig()
		cfg.Poll.InitialDelay, cfg.Poll.Interval, cfg.Poll.MaxAttempts, cfg.Poll.FlushWait =
			d.InitialDelay, d.Interval, d.MaxAttempts, d.FlushWait
	}
	if cfg.AbandonAfter == 0 {
		cfg.AbandonAfter = DefaultAbandonAfter
	}
	if cfg.NewTransport == nil {
		cfg.NewTransport = transport.New
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		cfg:    cfg,
		logger: cfg.Logger,
		live:   make(map[string]*Handle),
	}, nil
}

// Live returns the live handle for an evaluation, if any.
func (r *Runner) Live(evaluationID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.live[evaluationID]
	return h, ok
}

// Start registers the call and launches the bridge and poller. It returns
// once both are running; the call itself continues in the background and
// outlives ctx.
func (r *Runner) Start(ctx context.Context, req Request) (*Handle, error) {
	if req.EvaluationID == "" {
		return nil, fmt.Errorf("evaluation ID is required")
	}
	client, ok := r.cfg.Platforms[req.Platform]
	if !ok {
		return nil, fmt.Errorf("unknown platform %q", req.Platform)
	}

	r.mu.Lock()
	if _, busy := r.live[req.EvaluationID]; busy {
		r.mu.Unlock()
		return nil, ErrSessionLive
	}
	r.live[req.EvaluationID] = nil // reserved while registering
	r.mu.Unlock()

	h, err := r.start(ctx, client, req)
	if err != nil {
		r.release(req.EvaluationID)
		return nil, err
	}

	r.mu.Lock()
	r.live[req.EvaluationID] = h
	r.mu.Unlock()
	return h, nil
}

func (r *Runner) start(ctx context.Context, client platform.Client, req Request) (*Handle, error) {
	record := call.NewRecord(call.NewSession(req.EvaluationID, client.Name(), req.AgentID))
	logger := r.logger.With(
		slog.String("session_id", record.Snapshot().ID.String()),
		slog.String("evaluation_id", req.EvaluationID),
		slog.String("platform", client.Name()))

	if err := r.cfg.Store.SaveSession(ctx, record.Snapshot()); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	reg, err := client.Register(ctx, platform.RegisterRequest{
		AgentID:  req.AgentID,
		Metadata: withEvaluation(req.Metadata, req.EvaluationID),
	})
	if err != nil {
		err = fmt.Errorf("failed to register call: %w", err)
		r.fail(ctx, record, err)
		return nil, err
	}

	record.Update(func(s *call.Session) {
		s.ProviderCallID = reg.ProviderCallID
		s.Credential = reg.Credential
		s.ServerURL = reg.ServerURL
		s.SampleRate = reg.SampleRate
		s.Transport = string(reg.Transport)
	})
	snap, _ := record.Transition(call.StatusConnecting, "")
	if err := r.cfg.Store.SaveSession(ctx, snap); err != nil {
		logger.Error("Failed to persist session", slog.String("error", err.Error()))
	}
	logger.Info("Call registered",
		slog.String("provider_call_id", reg.ProviderCallID),
		slog.String("transport", string(reg.Transport)),
		slog.Int("sample_rate", reg.SampleRate))

	tr, err := r.cfg.NewTransport(transport.Config{
		Kind:       reg.Transport,
		Credential: reg.Credential,
		ServerURL:  reg.ServerURL,
		SampleRate: reg.SampleRate,
		Logger:     logger,
	})
	if err != nil {
		err = &call.ConnectionError{Transport: string(reg.Transport), Err: err}
		r.fail(ctx, record, err)
		return nil, err
	}

	rec := recorder.New(tr.SampleRate(), logger)

	agentCfg := r.cfg.Agent
	agentCfg.Persona = req.Persona
	agentCfg.Scenario = req.Scenario
	if req.MaxTurns > 0 {
		agentCfg.MaxTurns = req.MaxTurns
	}
	agentCfg.Logger = logger

	var bg *agent.BackgroundAudio
	if r.cfg.Background != nil {
		bgCfg := *r.cfg.Background
		bgCfg.SampleRate = tr.SampleRate()
		if bg, err = agent.NewBackgroundAudio(bgCfg); err != nil {
			logger.Warn("Failed to load background audio, continuing without",
				slog.String("file", bgCfg.AudioFile),
				slog.String("error", err.Error()))
			bg = nil
		}
	}

	sess, err := bridge.New(bridge.Config{
		Record:        record,
		Store:         r.cfg.Store,
		Transport:     tr,
		Agent:         agentCfg,
		MergeMode:     mergeModeFor(reg.Transport),
		Recorder:      rec,
		RecordingsDir: r.cfg.RecordingsDir,
		Background:    bg,
		MaxDuration:   r.cfg.MaxDuration,
		Logger:        logger,
	})
	if err != nil {
		r.fail(ctx, record, err)
		return nil, err
	}

	pollCfg := r.cfg.Poll
	pollCfg.Platform = client
	pollCfg.Store = r.cfg.Store
	pollCfg.Record = record
	pollCfg.Recorder = rec
	pollCfg.LocalTurns = sess.Orchestrator().Turns
	pollCfg.Logger = logger.With(slog.String("provider_call_id", reg.ProviderCallID))
	p, err := poller.New(pollCfg)
	if err != nil {
		r.fail(ctx, record, err)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Handle{
		Record:  record,
		Bridge:  sess,
		Poller:  p,
		cancel:  cancel,
		bridged: make(chan error, 1),
	}

	// Once the platform has finalized the call there is nothing left to bridge.
	go func() {
		defer cancel()
		p.Run(runCtx)
	}()

	go func() {
		err := sess.Run(runCtx)
		h.bridged <- err
		r.release(req.EvaluationID)
		if err == nil {
			return
		}

		logger.Warn("Bridge failed, poller will be abandoned",
			slog.String("error", err.Error()),
			slog.Duration("abandon_after", r.cfg.AbandonAfter))
		t := time.NewTimer(r.cfg.AbandonAfter)
		defer t.Stop()
		select {
		case <-p.Done():
		case <-t.C:
			p.Abandon(fmt.Errorf("bridge failed: %w", err))
		}
	}()

	return h, nil
}

func (r *Runner) release(evaluationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, evaluationID)
}

func (r *Runner) fail(ctx context.Context, record *call.Record, err error) {
	snap, ok := record.Transition(call.StatusFailed, err.Error())
	if !ok {
		return
	}
	if serr := r.cfg.Store.SaveSession(context.WithoutCancel(ctx), snap); serr != nil {
		r.logger.Error("Failed to persist session", slog.String("error", serr.Error()))
	}
	if oerr := r.cfg.Store.SaveOutcome(context.WithoutCancel(ctx), call.Failed(snap, err)); oerr != nil {
		r.logger.Error("Failed to persist outcome", slog.String("error", oerr.Error()))
	}
}

// mergeModeFor picks how transcript fragments combine. Token-join rooms
// resend the whole utterance; room-url-join sends finalized pieces.
func mergeModeFor(kind transport.Kind) turn.MergeMode {
	if kind == transport.KindRoomURLJoin {
		return turn.MergeAppend
	}
	return turn.MergeReplace
}

func withEvaluation(meta map[string]any, evaluationID string) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["evaluation_id"] = evaluationID
	return out
}
