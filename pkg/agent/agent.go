// Package agent is the synthetic caller. It turns each completed remote
// utterance into a persona-driven reply through an LLM and a TTS engine and
// speaks it back through the bridge, taking one turn at a time.
package agent

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chriscow/callbridge-go/pkg/ai"
	"github.com/chriscow/callbridge-go/pkg/ai/llm"
	"github.com/chriscow/callbridge-go/pkg/ai/tts"
	"github.com/chriscow/callbridge-go/pkg/call"
)

// AgentState is where the caller is in its turn.
type AgentState int32

const (
	StateIdle AgentState = iota
	StateListening
	StateThinking
	StateSpeaking
)

func (s AgentState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateListening:
		return "Listening"
	case StateThinking:
		return "Thinking"
	case StateSpeaking:
		return "Speaking"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

const (
	DefaultMaxTurns     = 10
	DefaultHistoryLimit = 20
	DefaultClosingLine  = "Okay, that's everything I needed. Thanks for your help, goodbye!"
)

// Speaker plays synthesized PCM16 mono to the remote party. It returns once
// the audio has been sent.
type Speaker interface {
	Speak(ctx context.Context, pcm []byte) error
}

// SpeakerFunc adapts a function to Speaker.
type SpeakerFunc func(ctx context.Context, pcm []byte) error

// Speak implements Speaker.
func (f SpeakerFunc) Speak(ctx context.Context, pcm []byte) error { return f(ctx, pcm) }

// Persona is who the synthetic caller pretends to be.
type Persona struct {
	Name        string
	Description string

	// FirstLine is spoken as soon as the call connects. Empty means wait for
	// the remote agent to speak first.
	FirstLine string
}

// Scenario is what the caller is trying to get done.
type Scenario struct {
	Goal         string
	Instructions string
}

// Config holds configuration for creating an Orchestrator.
type Config struct {
	LLM     llm.LLM
	TTS     tts.TTS
	Speaker Speaker

	Persona  Persona
	Scenario Scenario

	// LLM parameters
	Model       string
	Temperature float32
	MaxTokens   int

	// TTS parameters
	Voice      string
	TTSModel   string
	SampleRate int

	// MaxTurns is the number of generated replies before the closing line.
	MaxTurns int

	// HistoryLimit bounds how many turns are sent to the LLM.
	HistoryLimit int

	ClosingLine string

	// Retry applies to recoverable LLM errors. Zero means ai.DefaultRetryConfig.
	Retry ai.RetryConfig

	Logger *slog.Logger
}

// Reply is one spoken turn.
type Reply struct {
	Text    string
	Audio   []byte
	Closing bool
}

// ConversationState is a snapshot of the conversation.
type ConversationState struct {
	Turns         []call.Turn
	RemoteTalking bool
	Pending       *string
	TurnCount     int
	ShouldEnd     bool
	Busy          bool
	Agent         AgentState
}

// AgentMetrics holds performance metrics for the caller.
type AgentMetrics struct {
	FirstReplyLatency  *expvar.Float
	Replies            *expvar.Int
	GenerationFailures *expvar.Int
	SupersededPending  *expvar.Int
	StateTransitions   *expvar.Map
}

// Orchestrator serialises reply generation for one call.
type Orchestrator struct {
	cfg     Config
	logger  *slog.Logger
	metrics *AgentMetrics

	state atomic.Int32

	mu            sync.Mutex
	start         time.Time
	turns         []call.Turn
	remoteTalking bool
	busy          bool

	// parked holds remote turns that arrived while busy or while the remote
	// was talking. The last one is the pending utterance. They join the
	// history when it is claimed.
	parked    []call.Turn
	turnCount int
	shouldEnd bool

	firstReply sync.Once
	end        chan struct{}
	endOnce    sync.Once
	wg         sync.WaitGroup
}

// New creates an Orchestrator with the given configuration.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("LLM is required")
	}
	if cfg.TTS == nil {
		return nil, fmt.Errorf("TTS is required")
	}
	if cfg.Speaker == nil {
		return nil, fmt.Errorf("Speaker is required")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("SampleRate is required")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.ClosingLine == "" {
		cfg.ClosingLine = DefaultClosingLine
	}
	if cfg.Retry == (ai.RetryConfig{}) {
		cfg.Retry = ai.DefaultRetryConfig
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	o := &Orchestrator{
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: newAgentMetrics(),
		start:   time.Now(),
		end:     make(chan struct{}),
	}
	o.setState(StateIdle)
	return o, nil
}

// Begin sets the time turn offsets are measured from.
func (o *Orchestrator) Begin(t0 time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.start = t0
}

// Metrics returns the orchestrator's counters.
func (o *Orchestrator) Metrics() *AgentMetrics {
	return o.metrics
}

// GetState returns the current agent state.
func (o *Orchestrator) GetState() AgentState {
	return AgentState(o.state.Load())
}

// EndRequested is closed after the closing line has been spoken.
func (o *Orchestrator) EndRequested() <-chan struct{} {
	return o.end
}

// State returns a snapshot of the conversation.
func (o *Orchestrator) State() ConversationState {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := ConversationState{
		Turns:         o.turnsLocked(),
		RemoteTalking: o.remoteTalking,
		TurnCount:     o.turnCount,
		ShouldEnd:     o.shouldEnd,
		Busy:          o.busy,
		Agent:         o.GetState(),
	}
	if n := len(o.parked); n > 0 {
		p := o.parked[n-1].Text
		s.Pending = &p
	}
	return s
}

// Opening speaks the persona's first line, if it has one.
func (o *Orchestrator) Opening(ctx context.Context) (*Reply, error) {
	line := strings.TrimSpace(o.cfg.Persona.FirstLine)
	if line == "" {
		return nil, nil
	}

	o.mu.Lock()
	if o.busy || o.shouldEnd {
		o.mu.Unlock()
		return nil, nil
	}
	o.busy = true
	o.mu.Unlock()

	reply, err := o.say(ctx, line, false)
	o.drain(ctx)
	return reply, err
}

// HandleUtterance responds to a completed remote utterance. If the remote
// party is still talking or a reply is already in progress the utterance is
// parked as pending, replacing any earlier one, and nil is returned. Otherwise
// the reply is generated and spoken, then any pending utterance is handled
// before returning.
func (o *Orchestrator) HandleUtterance(ctx context.Context, text string) (*Reply, error) {
	t, ok := o.admit(text)
	if !ok {
		return nil, nil
	}
	reply, err := o.respond(ctx, t)
	o.drain(ctx)
	return reply, err
}

// Submit is HandleUtterance without blocking the caller: generation runs on
// its own goroutine.
func (o *Orchestrator) Submit(ctx context.Context, text string) {
	t, ok := o.admit(text)
	if !ok {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.respond(ctx, t)
		o.drain(ctx)
	}()
}

// SetRemoteTalking records whether the remote party is speaking.
func (o *Orchestrator) SetRemoteTalking(talking bool) {
	o.mu.Lock()
	o.remoteTalking = talking
	busy := o.busy
	o.mu.Unlock()

	if busy {
		return
	}
	if talking {
		o.setState(StateListening)
	} else {
		o.setState(StateIdle)
	}
}

// Drain starts work on the pending utterance if the orchestrator is free and
// the remote party is silent. It does not block.
func (o *Orchestrator) Drain(ctx context.Context) {
	t, ok := o.takePending()
	if !ok {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.respond(ctx, t)
		o.drain(ctx)
	}()
}

// Wait blocks until background generation has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Turns returns the turns observed so far, including parked ones.
func (o *Orchestrator) Turns() []call.Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turnsLocked()
}

func (o *Orchestrator) turnsLocked() []call.Turn {
	turns := make([]call.Turn, 0, len(o.turns)+len(o.parked))
	turns = append(turns, o.turns...)
	return append(turns, o.parked...)
}

// replyTurn is one claimed utterance with the prompt captured at claim time.
type replyTurn struct {
	text     string
	messages []llm.Message
	closing  bool
}

// admit decides whether to process the remote turn now. On true the caller
// owns the busy flag.
func (o *Orchestrator) admit(text string) (replyTurn, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return replyTurn{}, false
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	t := call.Turn{
		Speaker: call.SpeakerRemoteAgent,
		Text:    text,
		Offset:  time.Since(o.start),
	}

	if o.shouldEnd {
		o.turns = append(o.turns, t)
		return replyTurn{}, false
	}
	if o.remoteTalking || o.busy {
		if n := len(o.parked); n > 0 {
			o.metrics.SupersededPending.Add(1)
			o.logger.Debug("Pending utterance superseded", slog.String("dropped", o.parked[n-1].Text))
		}
		o.parked = append(o.parked, t)
		return replyTurn{}, false
	}

	// Anything still parked is older than this utterance.
	if len(o.parked) > 0 {
		o.metrics.SupersededPending.Add(1)
	}
	o.parked = append(o.parked, t)
	o.busy = true
	return o.claimLocked(), true
}

// takePending claims the pending utterance if the orchestrator is free.
func (o *Orchestrator) takePending() (replyTurn, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.busy || o.remoteTalking || o.shouldEnd || len(o.parked) == 0 {
		return replyTurn{}, false
	}
	o.busy = true
	return o.claimLocked(), true
}

// claimLocked moves the parked turns into the history and builds the prompt
// for the newest one. o.mu must be held and o.parked must not be empty.
func (o *Orchestrator) claimLocked() replyTurn {
	text := o.parked[len(o.parked)-1].Text
	o.turns = append(o.turns, o.parked...)
	o.parked = nil

	closing := o.turnCount >= o.cfg.MaxTurns
	if closing {
		o.shouldEnd = true
		return replyTurn{text: text, closing: true}
	}
	return replyTurn{text: text, messages: o.promptLocked()}
}

// drain processes pending utterances until there are none left, then
// releases the busy flag. The caller must own it.
func (o *Orchestrator) drain(ctx context.Context) {
	for {
		o.mu.Lock()
		if len(o.parked) == 0 || o.remoteTalking || o.shouldEnd || ctx.Err() != nil {
			o.busy = false
			talking := o.remoteTalking
			o.mu.Unlock()
			if talking {
				o.setState(StateListening)
			} else {
				o.setState(StateIdle)
			}
			return
		}
		t := o.claimLocked()
		o.mu.Unlock()

		o.respond(ctx, t)
	}
}

// respond generates and speaks one reply. Failures are logged and the turn
// is skipped.
func (o *Orchestrator) respond(ctx context.Context, t replyTurn) (*Reply, error) {
	if t.closing {
		o.logger.Info("Turn budget reached, closing the call", slog.Int("max_turns", o.cfg.MaxTurns))
		reply, err := o.say(ctx, o.cfg.ClosingLine, true)
		o.requestEnd()
		return reply, err
	}

	o.setState(StateThinking)
	line, err := o.generate(ctx, t.messages)
	if err != nil {
		o.metrics.GenerationFailures.Add(1)
		o.logger.Warn("Skipping turn",
			slog.String("utterance", t.text),
			slog.String("error", err.Error()))
		return nil, err
	}

	reply, err := o.say(ctx, line, false)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.turnCount++
	o.mu.Unlock()
	return reply, nil
}

func (o *Orchestrator) generate(ctx context.Context, messages []llm.Message) (string, error) {
	var resp llm.ChatResponse
	err := ai.Retry(ctx, o.cfg.Retry, func(ctx context.Context) error {
		var err error
		resp, err = o.cfg.LLM.Chat(ctx, llm.ChatRequest{
			Messages:    messages,
			Model:       o.cfg.Model,
			MaxTokens:   o.cfg.MaxTokens,
			Temperature: o.cfg.Temperature,
		})
		return err
	})
	if err != nil {
		return "", &call.GenerationError{Stage: "llm", Err: err}
	}

	line := strings.TrimSpace(resp.Message.Content)
	if line == "" {
		return "", &call.GenerationError{Stage: "llm", Err: errors.New("empty reply")}
	}
	return line, nil
}

// say synthesizes text and hands it to the speaker.
func (o *Orchestrator) say(ctx context.Context, text string, closing bool) (*Reply, error) {
	o.setState(StateThinking)
	pcm, err := o.cfg.TTS.Synthesize(ctx, tts.SynthesizeRequest{
		Text:       text,
		Voice:      o.cfg.Voice,
		Model:      o.cfg.TTSModel,
		SampleRate: o.cfg.SampleRate,
	})
	if err != nil {
		o.metrics.GenerationFailures.Add(1)
		gerr := &call.GenerationError{Stage: "tts", Err: err}
		o.logger.Warn("Skipping turn", slog.String("error", gerr.Error()))
		return nil, gerr
	}

	o.mu.Lock()
	o.turns = append(o.turns, call.Turn{
		Speaker: call.SpeakerSyntheticCaller,
		Text:    text,
		Offset:  time.Since(o.start),
	})
	start := o.start
	o.mu.Unlock()

	o.firstReply.Do(func() {
		o.metrics.FirstReplyLatency.Set(float64(time.Since(start).Milliseconds()))
	})

	o.setState(StateSpeaking)
	if err := o.cfg.Speaker.Speak(ctx, pcm); err != nil {
		o.logger.Warn("Failed to speak reply", slog.String("error", err.Error()))
		return nil, err
	}
	o.metrics.Replies.Add(1)
	o.logger.Debug("Spoke reply", slog.String("text", text), slog.Bool("closing", closing))

	return &Reply{Text: text, Audio: pcm, Closing: closing}, nil
}

func (o *Orchestrator) requestEnd() {
	o.endOnce.Do(func() { close(o.end) })
}

// setState atomically updates the state and records the transition.
func (o *Orchestrator) setState(newState AgentState) {
	oldState := AgentState(o.state.Swap(int32(newState)))
	if oldState == newState {
		return
	}

	transitionKey := fmt.Sprintf("%s_to_%s", oldState.String(), newState.String())
	if counter := o.metrics.StateTransitions.Get(transitionKey); counter != nil {
		counter.(*expvar.Int).Add(1)
	} else {
		newCounter := &expvar.Int{}
		newCounter.Set(1)
		o.metrics.StateTransitions.Set(transitionKey, newCounter)
	}
}

// newAgentMetrics creates unpublished metrics; the CLI publishes them.
func newAgentMetrics() *AgentMetrics {
	transitions := &expvar.Map{}
	transitions.Init()
	return &AgentMetrics{
		FirstReplyLatency:  &expvar.Float{},
		Replies:            &expvar.Int{},
		GenerationFailures: &expvar.Int{},
		SupersededPending:  &expvar.Int{},
		StateTransitions:   transitions,
	}
}
