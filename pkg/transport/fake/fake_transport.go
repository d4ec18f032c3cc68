// Package fake provides a scriptable in-memory Transport for tests.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chriscow/callbridge-go/pkg/call"
	"github.com/chriscow/callbridge-go/pkg/plugin"
	"github.com/chriscow/callbridge-go/pkg/transport"
)

// Name is the registry name of the fake transport.
const Name = "fake"

func init() {
	plugin.Register(transport.PluginKind, Name, func(m map[string]any) (any, error) {
		cfg, err := transport.ConfigFrom(m)
		if err != nil {
			return nil, err
		}
		return New(cfg.SampleRate, cfg.FrameDuration), nil
	})
}

// Frame is one published caller frame.
type Frame struct {
	Samples []int16
	At      time.Time
}

// Transport records everything the bridge sends and lets tests push events.
type Transport struct {
	// ConnectErr, when set, is returned from Connect wrapped in a ConnectionError.
	ConnectErr error

	// PublishErr, when set, is returned from every PublishAudio call.
	PublishErr error

	emitter *transport.Emitter
	rate    int
	frame   time.Duration

	mu           sync.Mutex
	connected    bool
	disconnected bool
	frames       []Frame
	controls     []any
	published    chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

// New returns a fake transport. Zero values default to 16kHz and 20ms frames.
func New(sampleRate int, frameDuration time.Duration) *Transport {
	if sampleRate == 0 {
		sampleRate = 16000
	}
	if frameDuration == 0 {
		frameDuration = 20 * time.Millisecond
	}
	return &Transport{
		emitter:   transport.NewEmitter(64, 256, nil),
		rate:      sampleRate,
		frame:     frameDuration,
		published: make(chan struct{}, 1),
	}
}

// Connect implements transport.Transport.
func (t *Transport) Connect(ctx context.Context) error {
	if t.ConnectErr != nil {
		return &call.ConnectionError{Transport: Name, Err: t.ConnectErr}
	}
	if err := ctx.Err(); err != nil {
		return &call.ConnectionError{Transport: Name, Err: err}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

// PublishAudio implements transport.Transport.
func (t *Transport) PublishAudio(ctx context.Context, samples []int16) error {
	if t.PublishErr != nil {
		return &call.TransportRuntimeError{Op: "publish", Err: t.PublishErr}
	}

	t.mu.Lock()
	if !t.connected || t.disconnected {
		t.mu.Unlock()
		return &call.TransportRuntimeError{Op: "publish", Err: fmt.Errorf("not connected")}
	}
	t.frames = append(t.frames, Frame{Samples: append([]int16(nil), samples...), At: time.Now()})
	t.mu.Unlock()

	select {
	case t.published <- struct{}{}:
	default:
	}
	return nil
}

// Events implements transport.Transport.
func (t *Transport) Events() <-chan transport.Event { return t.emitter.Events() }

// Audio implements transport.Transport.
func (t *Transport) Audio() <-chan []int16 { return t.emitter.Audio() }

// SendControl implements transport.Transport.
func (t *Transport) SendControl(ctx context.Context, msg any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.controls = append(t.controls, msg)
	return nil
}

// FrameDuration implements transport.Transport.
func (t *Transport) FrameDuration() time.Duration { return t.frame }

// SampleRate implements transport.Transport.
func (t *Transport) SampleRate() int { return t.rate }

// Disconnect implements transport.Transport.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	if t.disconnected {
		t.mu.Unlock()
		return nil
	}
	t.disconnected = true
	t.mu.Unlock()
	t.emitter.Close()
	return nil
}

// Push delivers events as if they came from the remote platform.
func (t *Transport) Push(events ...transport.Event) {
	for _, ev := range events {
		t.emitter.Emit(ev)
	}
}

// Say pushes one full remote utterance: start, a fragment and stop.
func (t *Transport) Say(text string) {
	t.Push(
		transport.NewEvent(transport.EventRemoteStartedTalking),
		transport.NewEvent(transport.EventTranscriptFragment).WithText(text),
		transport.NewEvent(transport.EventRemoteStoppedTalking),
	)
}

// Hangup pushes a remote disconnect.
func (t *Transport) Hangup(reason string) {
	t.Push(transport.NewEvent(transport.EventRemoteDisconnected).WithReason(reason))
}

// SendAudio delivers remote audio to the bridge.
func (t *Transport) SendAudio(samples []int16) {
	t.emitter.EmitAudio(samples)
}

// Frames returns a copy of the published frames.
func (t *Transport) Frames() []Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Frame(nil), t.frames...)
}

// Controls returns the control messages sent.
func (t *Transport) Controls() []any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]any(nil), t.controls...)
}

// Disconnected reports whether Disconnect was called.
func (t *Transport) Disconnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnected
}

// WaitQuiet blocks until at least one frame has been published and then no
// frame arrives for quiet.
func (t *Transport) WaitQuiet(ctx context.Context, quiet time.Duration) error {
	select {
	case <-t.published:
	case <-ctx.Done():
		return ctx.Err()
	}
	for {
		timer := time.NewTimer(quiet)
		select {
		case <-t.published:
			timer.Stop()
		case <-timer.C:
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
