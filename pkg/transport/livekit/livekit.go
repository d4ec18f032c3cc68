// Package livekit is the token-join transport: it joins a LiveKit room with a
// short-lived access token issued by the platform, publishes the synthetic
// caller as an Opus microphone track and listens to the agent over the data
// channel.
package livekit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/chriscow/callbridge-go/pkg/call"
	"github.com/chriscow/callbridge-go/pkg/plugin"
	"github.com/chriscow/callbridge-go/pkg/transport"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"
)

const (
	defaultFrameDuration = 20 * time.Millisecond
	trackName            = "caller-audio"

	// maxOpusFrame is the longest frame an Opus packet can carry.
	maxOpusFrame = 120 * time.Millisecond
)

var (
	ErrMalformedToken = errors.New("malformed access token")
	ErrTokenExpired   = errors.New("access token expired")
)

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        transport.PluginKind,
		Name:        string(transport.KindTokenJoin),
		Description: "LiveKit room joined with a platform-issued access token",
		Version:     "1.0.0",
		Factory: func(m map[string]any) (any, error) {
			cfg, err := transport.ConfigFrom(m)
			if err != nil {
				return nil, err
			}
			return New(cfg)
		},
		Config: map[string]any{
			"config": "transport.Config with Credential set to the access token and ServerURL to the LiveKit URL",
		},
	})
}

// Transport joins a LiveKit room as the synthetic caller.
type Transport struct {
	cfg     transport.Config
	logger  *slog.Logger
	emitter *transport.Emitter

	mu        sync.Mutex
	room      *lksdk.Room
	track     *lksdk.LocalSampleTrack
	encoder   *opus.Encoder
	packet    []byte
	connected bool
	closed    bool

	remoteGone sync.Once
	now        func() time.Time
}

var _ transport.Transport = (*Transport)(nil)

// New creates an unconnected transport.
func New(cfg transport.Config) (*Transport, error) {
	cfg = cfg.WithDefaults()
	if cfg.Kind == "" {
		cfg.Kind = transport.KindTokenJoin
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if cfg.FrameDuration == 0 {
		cfg.FrameDuration = defaultFrameDuration
	}

	logger := cfg.Logger.With(slog.String("transport", string(transport.KindTokenJoin)))
	return &Transport{
		cfg:     cfg,
		logger:  logger,
		emitter: transport.NewEmitter(cfg.EventBufferSize, cfg.AudioBufferSize, logger),
		now:     time.Now,
	}, nil
}

// Connect checks the token and joins the room. The token is short-lived so
// the join is attempted immediately after the check.
func (t *Transport) Connect(ctx context.Context) error {
	if err := checkToken(t.cfg.Credential, t.now()); err != nil {
		return t.connErr(err)
	}

	t.mu.Lock()
	if t.connected || t.closed {
		t.mu.Unlock()
		return t.connErr(fmt.Errorf("transport already used"))
	}
	t.mu.Unlock()

	callback := &lksdk.RoomCallback{
		OnDisconnected:            t.onDisconnected,
		OnParticipantDisconnected: t.onParticipantDisconnected,
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: t.onTrackSubscribed,
			OnDataReceived:    t.onDataReceived,
		},
	}

	type result struct {
		room *lksdk.Room
		err  error
	}
	done := make(chan result, 1)
	go func() {
		room, err := lksdk.ConnectToRoomWithToken(t.cfg.ServerURL, t.cfg.Credential, callback)
		done <- result{room, err}
	}()

	var room *lksdk.Room
	select {
	case res := <-done:
		if res.err != nil {
			return t.connErr(fmt.Errorf("failed to connect to room: %w", res.err))
		}
		room = res.room
	case <-ctx.Done():
		// The dial cannot be interrupted; leave the room if it lands later.
		go func() {
			if res := <-done; res.room != nil {
				res.room.Disconnect()
			}
		}()
		return t.connErr(ctx.Err())
	}

	encoder, err := opus.NewEncoder(t.cfg.SampleRate, 1, opus.AppVoIP)
	if err != nil {
		room.Disconnect()
		return t.connErr(fmt.Errorf("failed to create Opus encoder: %w", err))
	}

	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  1,
	})
	if err != nil {
		room.Disconnect()
		return t.connErr(fmt.Errorf("failed to create local sample track: %w", err))
	}

	if _, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   trackName,
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		room.Disconnect()
		return t.connErr(fmt.Errorf("failed to publish caller track: %w", err))
	}

	t.mu.Lock()
	t.room = room
	t.track = track
	t.encoder = encoder
	t.packet = make([]byte, 4000)
	t.connected = true
	closed := t.closed
	t.mu.Unlock()

	if closed {
		room.Disconnect()
		return t.connErr(fmt.Errorf("transport closed during connect"))
	}

	t.logger.Info("Connected to LiveKit room",
		slog.String("room", room.Name()),
		slog.Int("sample_rate", t.cfg.SampleRate))
	return nil
}

// PublishAudio Opus-encodes one frame and writes it to the caller track.
func (t *Transport) PublishAudio(ctx context.Context, samples []int16) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.closed {
		return &call.TransportRuntimeError{Op: "publish", Err: fmt.Errorf("not connected")}
	}

	n, err := t.encoder.Encode(samples, t.packet)
	if err != nil {
		return &call.TransportRuntimeError{Op: "encode", Err: err}
	}

	data := make([]byte, n)
	copy(data, t.packet[:n])
	if err := t.track.WriteSample(media.Sample{Data: data, Duration: t.cfg.FrameDuration}, nil); err != nil {
		return &call.TransportRuntimeError{Op: "publish", Err: err}
	}
	return nil
}

// Events implements transport.Transport.
func (t *Transport) Events() <-chan transport.Event { return t.emitter.Events() }

// Audio implements transport.Transport.
func (t *Transport) Audio() <-chan []int16 { return t.emitter.Audio() }

// SendControl publishes msg as a reliable JSON data packet.
func (t *Transport) SendControl(ctx context.Context, msg any) error {
	data, err := encodeControl(msg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	room := t.room
	t.mu.Unlock()
	if room == nil {
		return &call.TransportRuntimeError{Op: "send control", Err: fmt.Errorf("not connected")}
	}

	if err := room.LocalParticipant.PublishData(data, lksdk.WithDataPublishReliable(true)); err != nil {
		return &call.TransportRuntimeError{Op: "send control", Err: err}
	}
	return nil
}

// FrameDuration implements transport.Transport.
func (t *Transport) FrameDuration() time.Duration { return t.cfg.FrameDuration }

// SampleRate implements transport.Transport.
func (t *Transport) SampleRate() int { return t.cfg.SampleRate }

// Disconnect leaves the room and closes the event channels.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	room := t.room
	t.connected = false
	t.mu.Unlock()

	// Close the emitter first so a callback blocked on Emit lets go.
	t.emitter.Close()
	if room != nil {
		room.Disconnect()
		t.logger.Info("Disconnected from LiveKit room")
	}
	return nil
}

// DroppedAudio reports inbound frames discarded because the reader lagged.
func (t *Transport) DroppedAudio() int64 {
	return t.emitter.DroppedAudio()
}

func (t *Transport) connErr(err error) error {
	return &call.ConnectionError{Transport: string(transport.KindTokenJoin), Err: err}
}

func (t *Transport) markRemoteGone(reason string) {
	t.remoteGone.Do(func() {
		t.logger.Info("Remote party left", slog.String("reason", reason))
		t.emitter.Emit(transport.NewEvent(transport.EventRemoteDisconnected).WithReason(reason))
	})
}

func (t *Transport) onDisconnected() {
	t.markRemoteGone("room disconnected")
}

func (t *Transport) onParticipantDisconnected(rp *lksdk.RemoteParticipant) {
	t.markRemoteGone("participant " + rp.Identity() + " left")
}

func (t *Transport) onDataReceived(data []byte, rp *lksdk.RemoteParticipant) {
	events, err := parseDataEvent(data)
	if err != nil {
		t.logger.Warn("Ignoring data packet",
			slog.String("participant", rp.Identity()),
			slog.String("error", err.Error()))
		return
	}
	for _, ev := range events {
		if ev.Type == transport.EventRemoteDisconnected {
			t.markRemoteGone(ev.Reason)
			continue
		}
		t.emitter.Emit(ev)
	}
}

func (t *Transport) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	t.logger.Info("Subscribed to agent audio",
		slog.String("participant", rp.Identity()),
		slog.String("track_sid", pub.SID()))
	go t.readRemoteAudio(track)
}

// readRemoteAudio decodes RTP payloads until the track ends.
func (t *Transport) readRemoteAudio(track *webrtc.TrackRemote) {
	decoder, err := opus.NewDecoder(t.cfg.SampleRate, 1)
	if err != nil {
		t.logger.Error("Failed to create Opus decoder", slog.String("error", err.Error()))
		return
	}
	pcm := make([]int16, int(int64(t.cfg.SampleRate)*int64(maxOpusFrame)/int64(time.Second)))

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Debug("Remote audio read ended", slog.String("error", err.Error()))
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := decoder.Decode(pkt.Payload, pcm)
		if err != nil {
			t.logger.Debug("Dropping undecodable packet", slog.String("error", err.Error()))
			continue
		}
		t.emitter.EmitAudio(append([]int16(nil), pcm[:n]...))
	}
}

// checkToken rejects tokens that are not JWTs or have already expired. The
// signature is not verified; only the media server can do that.
func checkToken(token string, now time.Time) error {
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	var claims jwt.Claims
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if claims.Expiry != nil && !now.Before(claims.Expiry.Time()) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, claims.Expiry.Time().Format(time.RFC3339))
	}
	return nil
}
