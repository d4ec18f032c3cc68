// Package retell is the platform client for Retell web calls. Calls are joined
// with a short-lived LiveKit access token (token-join transport).
package retell

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
	DefaultBaseURL    = "https://api.retellai.com"
	DefaultLiveKitURL = "wss://retell-ai-4ihahnq7.livekit.cloud"

	// Web calls stream 24kHz PCM unless the platform says otherwise.
	DefaultSampleRate = 24000
)

// Config for the Retell client.
type Config struct {
	APIKey     string
	BaseURL    string
	LiveKitURL string
	SampleRate int
	HTTPClient *http.Client
}

// Client implements platform.Client for Retell.
type Client struct {
	cfg Config
}

// New creates a Retell client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("retell API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.LiveKitURL == "" {
		cfg.LiveKitURL = DefaultLiveKitURL
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = platform.DefaultHTTPClient()
	}
	return &Client{cfg: cfg}, nil
}

// Name implements platform.Client.
func (c *Client) Name() string { return "retell" }

type createWebCallRequest struct {
	AgentID  string         `json:"agent_id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type createWebCallResponse struct {
	CallID      string `json:"call_id"`
	AccessToken string `json:"access_token"`
	SampleRate  int    `json:"sample_rate"`
}

// Register creates a web call and returns its LiveKit access token.
func (c *Client) Register(ctx context.Context, req platform.RegisterRequest) (*platform.Registration, error) {
	if req.AgentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}

	var resp createWebCallResponse
	err := platform.DoJSON(ctx, c.cfg.HTTPClient, http.MethodPost, c.cfg.BaseURL+"/v2/create-web-call", c.cfg.APIKey,
		createWebCallRequest{AgentID: req.AgentID, Metadata: req.Metadata}, &resp)
	if err != nil {
		return nil, fmt.Errorf("retell create web call: %w", err)
	}
	if resp.CallID == "" || resp.AccessToken == "" {
		return nil, fmt.Errorf("retell create web call: response missing call_id or access_token")
	}

	rate := resp.SampleRate
	if rate == 0 {
		rate = c.cfg.SampleRate
	}

	return &platform.Registration{
		ProviderCallID: resp.CallID,
		Credential:     resp.AccessToken,
		ServerURL:      c.cfg.LiveKitURL,
		SampleRate:     rate,
		Transport:      transport.KindTokenJoin,
	}, nil
}

type word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type utterance struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Words   []word `json:"words"`
}

type productCost struct {
	Product string  `json:"product"`
	Cost    float64 `json:"cost"`
}

type callCost struct {
	CombinedCost float64       `json:"combined_cost"`
	ProductCosts []productCost `json:"product_costs"`
}

type getCallResponse struct {
	CallID           string      `json:"call_id"`
	CallStatus       string      `json:"call_status"`
	StartTimestamp   int64       `json:"start_timestamp"`
	EndTimestamp     int64       `json:"end_timestamp"`
	DurationMS       int64       `json:"duration_ms"`
	Transcript       string      `json:"transcript"`
	TranscriptObject []utterance `json:"transcript_object"`
	RecordingURL     string      `json:"recording_url"`
	CallCost         *callCost   `json:"call_cost"`
}

// GetCall fetches and normalizes the call record.
func (c *Client) GetCall(ctx context.Context, providerCallID string) (*platform.CallStatus, error) {
	var resp getCallResponse
	endpoint := c.cfg.BaseURL + "/v2/get-call/" + url.PathEscape(providerCallID)
	if err := platform.DoJSON(ctx, c.cfg.HTTPClient, http.MethodGet, endpoint, c.cfg.APIKey, nil, &resp); err != nil {
		return nil, fmt.Errorf("retell get call: %w", err)
	}
	return normalize(&resp), nil
}

func normalize(r *getCallResponse) *platform.CallStatus {
	s := &platform.CallStatus{
		Status:       r.CallStatus,
		Ended:        r.CallStatus == "ended" || r.CallStatus == "error",
		Transcript:   strings.TrimSpace(r.Transcript),
		RecordingURL: r.RecordingURL,
		Duration:     time.Duration(r.DurationMS) * time.Millisecond,
	}
	if r.StartTimestamp > 0 {
		s.StartedAt = time.UnixMilli(r.StartTimestamp)
	}
	if r.EndTimestamp > 0 {
		s.EndedAt = time.UnixMilli(r.EndTimestamp)
	}

	for _, u := range r.TranscriptObject {
		seg := call.Segment{
			Speaker: speakerOf(u.Role),
			Text:    strings.TrimSpace(u.Content),
		}
		if len(u.Words) > 0 {
			seg.Start = seconds(u.Words[0].Start)
			seg.End = seconds(u.Words[len(u.Words)-1].End)
		}
		s.Segments = append(s.Segments, seg)
	}

	if r.CallCost != nil {
		// combined_cost is reported in cents.
		cost := &call.Cost{Total: r.CallCost.CombinedCost / 100}
		if len(r.CallCost.ProductCosts) > 0 {
			cost.Breakdown = make(map[string]float64, len(r.CallCost.ProductCosts))
			for _, p := range r.CallCost.ProductCosts {
				cost.Breakdown[p.Product] += p.Cost / 100
			}
		}
		s.Cost = cost
	}
	return s
}

func speakerOf(role string) call.Speaker {
	if role == "agent" {
		return call.SpeakerRemoteAgent
	}
	return call.SpeakerSyntheticCaller
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func newFromPlugin(cfg map[string]any) (any, error) {
	c := Config{}
	c.APIKey, _ = cfg["api_key"].(string)
	if c.APIKey == "" {
		c.APIKey = os.Getenv("RETELL_API_KEY")
	}
	c.BaseURL, _ = cfg["base_url"].(string)
	c.LiveKitURL, _ = cfg["livekit_url"].(string)
	c.SampleRate, _ = cfg["sample_rate"].(int)
	c.HTTPClient, _ = cfg["http_client"].(*http.Client)
	return New(c)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        platform.PluginKind,
		Name:        "retell",
		Factory:     newFromPlugin,
		Description: "Retell web calls over LiveKit (token-join)",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":     "Retell API key (or set RETELL_API_KEY env var)",
			"base_url":    DefaultBaseURL,
			"livekit_url": DefaultLiveKitURL,
			"sample_rate": DefaultSampleRate,
		},
	})
}
