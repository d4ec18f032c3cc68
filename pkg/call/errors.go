package call

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoTranscript is matched by NoTranscriptError.
var ErrNoTranscript = errors.New("call ended without a transcript")

// ConnectionError means the transport could not join the session: bad or expired
// credential, timeout, or a refused handshake. It is not retried.
type ConnectionError struct {
	Transport string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection failed: %v", e.Transport, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportRuntimeError is a failure after the session was established. The
// bridge ends the call and leaves the result to the poller.
type TransportRuntimeError struct {
	Op  string
	Err error
}

func (e *TransportRuntimeError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportRuntimeError) Unwrap() error { return e.Err }

// GenerationError wraps an LLM or TTS failure for a single turn. The turn is
// skipped and the conversation continues.
type GenerationError struct {
	Stage string // "llm" or "tts"
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// PollTimeoutError is reported when the platform never marks the call ended.
type PollTimeoutError struct {
	Attempts int
	Elapsed  time.Duration
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("call did not complete in time (%d polls over %s)", e.Attempts, e.Elapsed.Round(time.Second))
}

// NoTranscriptError is reported when the platform ended the call but returned no transcript.
type NoTranscriptError struct {
	ProviderCallID string
}

func (e *NoTranscriptError) Error() string {
	return fmt.Sprintf("%v (provider call %s)", ErrNoTranscript, e.ProviderCallID)
}

func (e *NoTranscriptError) Unwrap() error { return ErrNoTranscript }
