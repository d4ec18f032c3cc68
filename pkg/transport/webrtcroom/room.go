// Package webrtcroom is the room-url-join transport. It joins a WebRTC room by
// URL, exposes a virtual microphone and speaker to the bridge and completes
// the room's ready handshake before any caller audio is sent.
package webrtcroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chriscow/callbridge-go/pkg/call"
	"github.com/chriscow/callbridge-go/pkg/plugin"
	"github.com/chriscow/callbridge-go/pkg/transport"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"
)

const (
	defaultFrameDuration = 40 * time.Millisecond

	micBuffer     = 32
	speakerBuffer = 128

	maxOpusFrame = 120 * time.Millisecond
)

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        transport.PluginKind,
		Name:        string(transport.KindRoomURLJoin),
		Description: "WebRTC room joined by URL with a ready handshake",
		Version:     "1.0.0",
		Factory: func(m map[string]any) (any, error) {
			cfg, err := transport.ConfigFrom(m)
			if err != nil {
				return nil, err
			}
			return New(cfg)
		},
		Config: map[string]any{
			"config": "transport.Config with Credential set to the room URL",
		},
	})
}

// Transport is a room-url-join session.
type Transport struct {
	cfg     transport.Config
	logger  *slog.Logger
	emitter *transport.Emitter

	signal *signalClient
	pc     *webrtc.PeerConnection
	track  *webrtc.TrackLocalStaticSample

	mic     chan []int16
	speaker chan []byte

	ready     chan struct{}
	readyOnce sync.Once
	failed    chan error

	// pending remote candidates until the answer is applied
	candMu     sync.Mutex
	haveRemote bool
	pending    []webrtc.ICECandidateInit

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	connected bool
	closed    bool

	remoteGone  sync.Once
	droppedMic  atomic.Int64
	droppedSpkr atomic.Int64
}

var _ transport.Transport = (*Transport)(nil)

// New creates an unconnected transport.
func New(cfg transport.Config) (*Transport, error) {
	cfg = cfg.WithDefaults()
	if cfg.Kind == "" {
		cfg.Kind = transport.KindRoomURLJoin
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.FrameDuration == 0 {
		cfg.FrameDuration = defaultFrameDuration
	}

	logger := cfg.Logger.With(slog.String("transport", string(transport.KindRoomURLJoin)))
	sc, err := newSignalClient(cfg.Credential, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		cfg:     cfg,
		logger:  logger,
		emitter: transport.NewEmitter(cfg.EventBufferSize, cfg.AudioBufferSize, logger),
		signal:  sc,
		mic:     make(chan []int16, micBuffer),
		speaker: make(chan []byte, speakerBuffer),
		ready:   make(chan struct{}),
		failed:  make(chan error, 1),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Connect joins the room and blocks until the ready handshake has been sent.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected || t.closed {
		t.mu.Unlock()
		return t.connErr(fmt.Errorf("transport already used"))
	}
	t.connected = true
	t.mu.Unlock()

	if err := t.connect(ctx); err != nil {
		t.teardown()
		return t.connErr(err)
	}
	t.logger.Info("Joined room", slog.Int("sample_rate", t.cfg.SampleRate))
	return nil
}

func (t *Transport) connect(ctx context.Context) error {
	api, err := initDevices()
	if err != nil {
		return err
	}

	if err := t.signal.Connect(ctx); err != nil {
		return err
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}
	t.pc = pc

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"caller-audio", t.cfg.Identity,
	)
	if err != nil {
		return fmt.Errorf("failed to create microphone track: %w", err)
	}
	t.track = track

	sender, err := pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add microphone track: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		if err := t.signal.Write(&signalMessage{
			Type:          msgCandidate,
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		}); err != nil {
			t.logger.Debug("Failed to send candidate", slog.String("error", err.Error()))
		}
	})
	pc.OnTrack(t.onTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debug("Peer connection state", slog.String("state", state.String()))
		if state == webrtc.PeerConnectionStateFailed {
			t.fail(fmt.Errorf("peer connection failed"))
			t.markRemoteGone("peer connection failed")
		}
	})

	encoder, err := opus.NewEncoder(t.cfg.SampleRate, 1, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("failed to create Opus encoder: %w", err)
	}
	decoder, err := opus.NewDecoder(t.cfg.SampleRate, 1)
	if err != nil {
		return fmt.Errorf("failed to create Opus decoder: %w", err)
	}

	t.wg.Add(4)
	go t.readSignals()
	go t.microphoneLoop(encoder)
	go t.speakerLoop(decoder)
	go t.drainRTCP(sender)

	if err := t.signal.Write(&signalMessage{Type: msgJoin, Identity: t.cfg.Identity}); err != nil {
		return err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	if err := t.signal.Write(&signalMessage{Type: msgOffer, SDP: offer.SDP}); err != nil {
		return err
	}

	timer := time.NewTimer(t.cfg.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-t.ready:
		return nil
	case err := <-t.failed:
		return err
	case <-timer.C:
		return fmt.Errorf("remote audio not playable after %s", t.cfg.ReadyTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishAudio hands one frame to the microphone worker. Frames sent before
// the ready handshake are dropped because the room would discard them.
func (t *Transport) PublishAudio(ctx context.Context, samples []int16) error {
	select {
	case <-t.ready:
	default:
		if n := t.droppedMic.Add(1); n == 1 {
			t.logger.Warn("Dropping caller audio before room is ready")
		}
		return nil
	}

	frame := append([]int16(nil), samples...)
	select {
	case t.mic <- frame:
		return nil
	case <-t.ctx.Done():
		return &call.TransportRuntimeError{Op: "publish", Err: fmt.Errorf("transport closed")}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events implements transport.Transport.
func (t *Transport) Events() <-chan transport.Event { return t.emitter.Events() }

// Audio implements transport.Transport.
func (t *Transport) Audio() <-chan []int16 { return t.emitter.Audio() }

// SendControl sends msg to the room as an app message.
func (t *Transport) SendControl(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode control message: %w", err)
	}
	if err := t.signal.Write(&signalMessage{Type: msgAppMessage, Data: data}); err != nil {
		return &call.TransportRuntimeError{Op: "send control", Err: err}
	}
	return nil
}

// FrameDuration implements transport.Transport.
func (t *Transport) FrameDuration() time.Duration { return t.cfg.FrameDuration }

// SampleRate implements transport.Transport.
func (t *Transport) SampleRate() int { return t.cfg.SampleRate }

// Disconnect leaves the room, stops the device workers and closes channels.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.teardown()
	t.logger.Info("Left room",
		slog.Int64("dropped_before_ready", t.droppedMic.Load()),
		slog.Int64("dropped_inbound", t.droppedSpkr.Load()+t.emitter.DroppedAudio()))
	return nil
}

// DroppedBeforeReady reports caller frames discarded before the handshake.
func (t *Transport) DroppedBeforeReady() int64 {
	return t.droppedMic.Load()
}

func (t *Transport) teardown() {
	t.cancel()
	if err := t.signal.Close(); err != nil {
		t.logger.Debug("Error closing signalling", slog.String("error", err.Error()))
	}
	if t.pc != nil {
		if err := t.pc.Close(); err != nil {
			t.logger.Debug("Error closing peer connection", slog.String("error", err.Error()))
		}
	}
	// Closing the emitter first releases a worker blocked on Emit.
	t.emitter.Close()
	t.wg.Wait()
}

func (t *Transport) connErr(err error) error {
	return &call.ConnectionError{Transport: string(transport.KindRoomURLJoin), Err: err}
}

func (t *Transport) fail(err error) {
	select {
	case t.failed <- err:
	default:
	}
}

func (t *Transport) isReady() bool {
	select {
	case <-t.ready:
		return true
	default:
		return false
	}
}

func (t *Transport) markRemoteGone(reason string) {
	if !t.isReady() {
		return
	}
	t.remoteGone.Do(func() {
		t.logger.Info("Remote party left", slog.String("reason", reason))
		t.emitter.Emit(transport.NewEvent(transport.EventRemoteDisconnected).WithReason(reason))
	})
}

func (t *Transport) markReady() {
	t.readyOnce.Do(func() {
		if err := t.signal.Write(&signalMessage{Type: msgAppMessage, Data: json.RawMessage(`"` + readyMessage + `"`)}); err != nil {
			t.fail(fmt.Errorf("failed to send ready message: %w", err))
			return
		}
		t.logger.Debug("Remote audio playable, ready message sent")
		close(t.ready)
	})
}

// readSignals owns the websocket read side.
func (t *Transport) readSignals() {
	defer t.wg.Done()

	for {
		msg, err := t.signal.Read()
		if err != nil {
			if t.ctx.Err() == nil {
				t.fail(fmt.Errorf("signalling closed: %w", err))
				t.markRemoteGone("signalling closed")
			}
			return
		}

		switch msg.Type {
		case msgAnswer:
			if err := t.applyAnswer(msg.SDP); err != nil {
				t.fail(err)
			}
		case msgCandidate:
			t.addCandidate(webrtc.ICECandidateInit{
				Candidate:     msg.Candidate,
				SDPMid:        msg.SDPMid,
				SDPMLineIndex: msg.SDPMLineIndex,
			})
		case msgAppMessage:
			events, err := parseAppMessage(msg.Data)
			if err != nil {
				t.logger.Warn("Ignoring app message", slog.String("error", err.Error()))
				continue
			}
			for _, ev := range events {
				if ev.Type == transport.EventRemoteDisconnected {
					t.markRemoteGone(ev.Reason)
					continue
				}
				t.emitter.Emit(ev)
			}
		case msgBye:
			t.markRemoteGone("bye")
		case msgError:
			t.fail(fmt.Errorf("room error: %s", msg.Error))
		default:
			t.logger.Debug("Unknown signal", slog.String("type", msg.Type))
		}
	}
}

func (t *Transport) applyAnswer(sdp string) error {
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("failed to apply answer: %w", err)
	}

	t.candMu.Lock()
	t.haveRemote = true
	pending := t.pending
	t.pending = nil
	t.candMu.Unlock()

	for _, c := range pending {
		t.addCandidate(c)
	}
	return nil
}

func (t *Transport) addCandidate(c webrtc.ICECandidateInit) {
	if c.Candidate == "" {
		return
	}

	t.candMu.Lock()
	if !t.haveRemote {
		t.pending = append(t.pending, c)
		t.candMu.Unlock()
		return
	}
	t.candMu.Unlock()

	if err := t.pc.AddICECandidate(c); err != nil {
		t.logger.Debug("Rejected remote candidate", slog.String("error", err.Error()))
	}
}

func (t *Transport) onTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if remote.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	t.logger.Info("Remote audio subscribed", slog.String("codec", remote.Codec().MimeType))

	// ReadRTP blocks, so the read loop is not tracked by wg; it ends when the
	// peer connection closes.
	go func() {
		for {
			pkt, _, err := remote.ReadRTP()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					t.logger.Debug("Remote audio read ended", slog.String("error", err.Error()))
				}
				return
			}
			if len(pkt.Payload) == 0 {
				continue
			}
			select {
			case t.speaker <- pkt.Payload:
			case <-t.ctx.Done():
				return
			default:
				t.droppedSpkr.Add(1)
			}
		}
	}()
}

// speakerLoop decodes remote audio. The first packet that decodes marks the
// track playable.
func (t *Transport) speakerLoop(decoder *opus.Decoder) {
	defer t.wg.Done()

	pcm := make([]int16, int(int64(t.cfg.SampleRate)*int64(maxOpusFrame)/int64(time.Second)))
	for {
		select {
		case <-t.ctx.Done():
			return
		case payload := <-t.speaker:
			n, err := decoder.Decode(payload, pcm)
			if err != nil {
				t.logger.Debug("Dropping undecodable packet", slog.String("error", err.Error()))
				continue
			}
			t.markReady()
			t.emitter.EmitAudio(append([]int16(nil), pcm[:n]...))
		}
	}
}

// microphoneLoop encodes caller frames and writes them to the track.
func (t *Transport) microphoneLoop(encoder *opus.Encoder) {
	defer t.wg.Done()

	packet := make([]byte, 4000)
	for {
		select {
		case <-t.ctx.Done():
			return
		case frame := <-t.mic:
			n, err := encoder.Encode(frame, packet)
			if err != nil {
				t.logger.Warn("Failed to encode caller frame", slog.String("error", err.Error()))
				continue
			}
			data := make([]byte, n)
			copy(data, packet[:n])
			if err := t.track.WriteSample(media.Sample{Data: data, Duration: t.cfg.FrameDuration}); err != nil {
				t.logger.Debug("Failed to write caller frame", slog.String("error", err.Error()))
			}
		}
	}
}

func (t *Transport) drainRTCP(sender *webrtc.RTPSender) {
	defer t.wg.Done()

	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
