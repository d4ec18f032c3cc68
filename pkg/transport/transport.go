// Package transport defines the real-time audio link between the bridge and a
// hosted voice-AI platform. Concrete transports register themselves with the
// plugin registry under kind "transport" and are chosen by Kind, so callers
// never branch on which platform is on the other end.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chriscow/callbridge-go/pkg/plugin"
)

// Kind selects a transport implementation.
type Kind string

const (
	// KindTokenJoin joins a media room with a short-lived signed token.
	KindTokenJoin Kind = "token-join"

	// KindRoomURLJoin joins a media room by URL and completes a ready handshake.
	KindRoomURLJoin Kind = "room-url-join"
)

// PluginKind is the registry kind transports register under.
const PluginKind = "transport"

// Transport is a bidirectional audio and control link to the remote agent.
type Transport interface {
	// Connect joins the session. Failures are reported as *call.ConnectionError.
	Connect(ctx context.Context) error

	// PublishAudio sends one frame of PCM16 mono at SampleRate.
	PublishAudio(ctx context.Context, samples []int16) error

	// Events delivers control events in arrival order. Closed on Disconnect.
	Events() <-chan Event

	// Audio delivers decoded remote audio. Frames are dropped if the reader lags.
	Audio() <-chan []int16

	// SendControl sends a JSON control message to the platform.
	SendControl(ctx context.Context, msg any) error

	// FrameDuration is the pacing interval the platform expects.
	FrameDuration() time.Duration

	// SampleRate is the negotiated PCM rate.
	SampleRate() int

	// Disconnect leaves the session. Safe to call more than once.
	Disconnect() error
}

// Config carries everything a transport needs to join a session.
type Config struct {
	// Kind of transport to build
	Kind Kind

	// Credential is the signed token or room URL issued at registration
	Credential string

	// ServerURL is the media server, for transports that need one
	ServerURL string

	// SampleRate of the PCM exchanged with the bridge
	SampleRate int

	// FrameDuration overrides the transport's default pacing
	FrameDuration time.Duration

	// Identity is the participant name the synthetic caller joins as
	Identity string

	// EventBufferSize for the control event channel
	EventBufferSize int

	// AudioBufferSize for the inbound audio channel
	AudioBufferSize int

	// ReadyTimeout bounds how long Connect waits for the session to be usable
	ReadyTimeout time.Duration

	Logger *slog.Logger
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Identity == "" {
		c.Identity = "synthetic-caller"
	}
	if c.EventBufferSize == 0 {
		c.EventBufferSize = 64
	}
	if c.AudioBufferSize == 0 {
		c.AudioBufferSize = 256
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate checks the fields every transport needs.
func (c Config) Validate() error {
	if c.Kind == "" {
		return fmt.Errorf("transport kind is required")
	}
	if c.Credential == "" {
		return fmt.Errorf("credential is required")
	}
	switch c.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("unsupported sample rate %d", c.SampleRate)
	}
	return nil
}

// New builds the transport registered for cfg.Kind.
func New(cfg Config) (Transport, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	factory, ok := plugin.Get(PluginKind, string(cfg.Kind))
	if !ok {
		return nil, fmt.Errorf("no transport registered for kind %q", cfg.Kind)
	}

	inst, err := factory(map[string]any{"config": cfg})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s transport: %w", cfg.Kind, err)
	}

	t, ok := inst.(Transport)
	if !ok {
		return nil, fmt.Errorf("plugin %s/%s does not implement Transport", PluginKind, cfg.Kind)
	}
	return t, nil
}

// ConfigFrom extracts the Config passed to a transport factory.
func ConfigFrom(m map[string]any) (Config, error) {
	cfg, ok := m["config"].(Config)
	if !ok {
		return Config{}, fmt.Errorf("transport config missing")
	}
	return cfg.WithDefaults(), nil
}
