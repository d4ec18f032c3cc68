package webrtcroom

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Signalling message types.
const (
	msgJoin       = "join"
	msgOffer      = "offer"
	msgAnswer     = "answer"
	msgCandidate  = "candidate"
	msgAppMessage = "app-message"
	msgBye        = "bye"
	msgError      = "error"
)

// readyMessage tells the room the caller can hear the remote party.
const readyMessage = "playable"

type signalMessage struct {
	Type string `json:"type"`

	Identity string `json:"identity,omitempty"`

	SDP string `json:"sdp,omitempty"`

	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`

	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// signalClient is the room's signalling websocket. Writes are serialised;
// reads happen on a single goroutine.
type signalClient struct {
	url    string
	logger *slog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool
}

func newSignalClient(roomURL string, logger *slog.Logger) (*signalClient, error) {
	u, err := signalURL(roomURL)
	if err != nil {
		return nil, err
	}
	return &signalClient{url: u, logger: logger}, nil
}

// signalURL maps a room URL to its websocket endpoint.
func signalURL(roomURL string) (string, error) {
	u, err := url.Parse(roomURL)
	if err != nil {
		return "", fmt.Errorf("invalid room URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid room URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid room URL: missing host")
	}
	return u.String(), nil
}

func (c *signalClient) Connect(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn
	c.logger.Debug("Signalling connected")
	return nil
}

func (c *signalClient) Read() (*signalMessage, error) {
	var msg signalMessage
	if err := c.conn.ReadJSON(&msg); err != nil {
		return nil, fmt.Errorf("failed to read signal: %w", err)
	}
	return &msg, nil
}

func (c *signalClient) Write(msg *signalMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil || c.closed {
		return fmt.Errorf("not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write %s: %w", msg.Type, err)
	}
	return nil
}

func (c *signalClient) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil || c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteJSON(&signalMessage{Type: msgBye})
	return c.conn.Close()
}
