// Package vapi is the platform client for Vapi web calls. Calls are joined by
// room URL (room-url-join transport).
package vapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chriscow/callbridge-go/pkg/call"
	"github.com/chriscow/callbridge-go/pkg/platform"
	"github.com/chriscow/callbridge-go/pkg/plugin"
	"github.com/chriscow/callbridge-go/pkg/transport"
)

const (
	DefaultBaseURL    = "https://api.vapi.ai"
	DefaultSampleRate = 16000
)

// Config for the Vapi client.
type Config struct {
	APIKey     string
	BaseURL    string
	SampleRate int
	HTTPClient *http.Client
}

// Client implements platform.Client for Vapi.
type Client struct {
	cfg Config
}

// New creates a Vapi client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vapi API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = platform.DefaultHTTPClient()
	}
	return &Client{cfg: cfg}, nil
}

// Name implements platform.Client.
func (c *Client) Name() string { return "vapi" }

type webCallRequest struct {
	AssistantID string         `json:"assistantId"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type webCallResponse struct {
	ID         string `json:"id"`
	WebCallURL string `json:"webCallUrl"`
}

// Register creates a web call and returns the room URL to join.
func (c *Client) Register(ctx context.Context, req platform.RegisterRequest) (*platform.Registration, error) {
	if req.AgentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}

	var resp webCallResponse
	err := platform.DoJSON(ctx, c.cfg.HTTPClient, http.MethodPost, c.cfg.BaseURL+"/call/web", c.cfg.APIKey,
		webCallRequest{AssistantID: req.AgentID, Metadata: req.Metadata}, &resp)
	if err != nil {
		return nil, fmt.Errorf("vapi create web call: %w", err)
	}
	if resp.ID == "" || resp.WebCallURL == "" {
		return nil, fmt.Errorf("vapi create web call: response missing id or webCallUrl")
	}

	return &platform.Registration{
		ProviderCallID: resp.ID,
		Credential:     resp.WebCallURL,
		SampleRate:     c.cfg.SampleRate,
		Transport:      transport.KindRoomURLJoin,
	}, nil
}

type message struct {
	Role             string  `json:"role"`
	Message          string  `json:"message"`
	SecondsFromStart float64 `json:"secondsFromStart"`
	Duration         float64 `json:"duration"` // milliseconds
}

type artifact struct {
	Transcript   string    `json:"transcript"`
	Messages     []message `json:"messages"`
	RecordingURL string    `json:"recordingUrl"`
}

type getCallResponse struct {
	ID            string             `json:"id"`
	Status        string             `json:"status"`
	StartedAt     *time.Time         `json:"startedAt"`
	EndedAt       *time.Time         `json:"endedAt"`
	EndedReason   string             `json:"endedReason"`
	Cost          float64            `json:"cost"`
	CostBreakdown map[string]float64 `json:"costBreakdown"`
	Artifact      *artifact          `json:"artifact"`

	// Older call records keep these at the top level.
	Transcript   string `json:"transcript"`
	RecordingURL string `json:"recordingUrl"`
}

// GetCall fetches and normalizes the call record.
func (c *Client) GetCall(ctx context.Context, providerCallID string) (*platform.CallStatus, error) {
	var resp getCallResponse
	endpoint := c.cfg.BaseURL + "/call/" + url.PathEscape(providerCallID)
	if err := platform.DoJSON(ctx, c.cfg.HTTPClient, http.MethodGet, endpoint, c.cfg.APIKey, nil, &resp); err != nil {
		return nil, fmt.Errorf("vapi get call: %w", err)
	}
	return normalize(&resp), nil
}

func normalize(r *getCallResponse) *platform.CallStatus {
	s := &platform.CallStatus{
		Status:       r.Status,
		Ended:        r.Status == "ended",
		Transcript:   strings.TrimSpace(r.Transcript),
		RecordingURL: r.RecordingURL,
	}
	if r.StartedAt != nil {
		s.StartedAt = *r.StartedAt
	}
	if r.EndedAt != nil {
		s.EndedAt = *r.EndedAt
	}

	if a := r.Artifact; a != nil {
		if t := strings.TrimSpace(a.Transcript); t != "" {
			s.Transcript = t
		}
		if a.RecordingURL != "" {
			s.RecordingURL = a.RecordingURL
		}
		for _, m := range a.Messages {
			if m.Role == "system" || strings.TrimSpace(m.Message) == "" {
				continue
			}
			start := time.Duration(m.SecondsFromStart * float64(time.Second))
			s.Segments = append(s.Segments, call.Segment{
				Speaker: speakerOf(m.Role),
				Text:    strings.TrimSpace(m.Message),
				Start:   start,
				End:     start + time.Duration(m.Duration*float64(time.Millisecond)),
			})
		}
	}

	if r.Cost > 0 || len(r.CostBreakdown) > 0 {
		cost := &call.Cost{Total: r.Cost}
		for k, v := range r.CostBreakdown {
			if k == "total" || v == 0 {
				continue
			}
			if cost.Breakdown == nil {
				cost.Breakdown = make(map[string]float64)
			}
			cost.Breakdown[k] = v
		}
		s.Cost = cost
	}
	return s
}

func speakerOf(role string) call.Speaker {
	switch role {
	case "bot", "assistant":
		return call.SpeakerRemoteAgent
	default:
		return call.SpeakerSyntheticCaller
	}
}

func newFromPlugin(cfg map[string]any) (any, error) {
	c := Config{}
	c.APIKey, _ = cfg["api_key"].(string)
	if c.APIKey == "" {
		c.APIKey = os.Getenv("VAPI_API_KEY")
	}
	c.BaseURL, _ = cfg["base_url"].(string)
	c.SampleRate, _ = cfg["sample_rate"].(int)
	c.HTTPClient, _ = cfg["http_client"].(*http.Client)
	return New(c)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        platform.PluginKind,
		Name:        "vapi",
		Factory:     newFromPlugin,
		Description: "Vapi web calls joined by room URL (room-url-join)",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":     "Vapi private API key (or set VAPI_API_KEY env var)",
			"base_url":    DefaultBaseURL,
			"sample_rate": DefaultSampleRate,
		},
	})
}
