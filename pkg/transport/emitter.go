package transport

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Emitter fans transport callbacks into the Events and Audio channels.
//
// Control events are never dropped: Emit blocks until the session reads the
// event or the emitter is closed. Audio is best effort and dropped when the
// channel is full.
type Emitter struct {
	events chan Event
	audio  chan []int16

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	droppedAudio atomic.Int64
	logger       *slog.Logger
}

// NewEmitter creates an Emitter with the given buffer sizes.
func NewEmitter(eventBuffer, audioBuffer int, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Emitter{
		events: make(chan Event, eventBuffer),
		audio:  make(chan []int16, audioBuffer),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Events returns the control event channel.
func (e *Emitter) Events() <-chan Event { return e.events }

// Audio returns the inbound audio channel.
func (e *Emitter) Audio() <-chan []int16 { return e.audio }

// Emit delivers ev in order. It returns false if the emitter was closed first.
func (e *Emitter) Emit(ev Event) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return false
	}

	select {
	case e.events <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// EmitAudio delivers one frame of remote audio if there is room.
func (e *Emitter) EmitAudio(samples []int16) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return
	}

	select {
	case e.audio <- samples:
	default:
		if n := e.droppedAudio.Add(1); n == 1 || n%500 == 0 {
			e.logger.Warn("Inbound audio channel is full, dropping frame",
				slog.Int64("dropped", n))
		}
	}
}

// DroppedAudio reports how many inbound frames were discarded.
func (e *Emitter) DroppedAudio() int64 {
	return e.droppedAudio.Load()
}

// Close unblocks pending emits and closes both channels. Idempotent.
func (e *Emitter) Close() {
	// Cancel first so a blocked Emit releases its read lock.
	e.cancel()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	close(e.events)
	close(e.audio)
}
