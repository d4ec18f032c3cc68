// Package platform talks to the hosted voice-AI platforms the bridge calls:
// it registers outbound web calls and reads back the finalized call record.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chriscow/callbridge-go/pkg/call"
	"github.com/chriscow/callbridge-go/pkg/transport"
)

// PluginKind is the registry kind platform clients register under.
const PluginKind = "platform"

// RegisterRequest asks the platform to create a web call for an agent.
type RegisterRequest struct {
	AgentID  string
	Metadata map[string]any
}

// Registration is what the platform hands back for a new call.
type Registration struct {
	ProviderCallID string
	Credential     string // signed token or room URL
	ServerURL      string // media server for token-join
	SampleRate     int
	Transport      transport.Kind
}

// CallStatus is a platform call record normalized across providers.
type CallStatus struct {
	Status       string
	Ended        bool
	StartedAt    time.Time
	EndedAt      time.Time
	Duration     time.Duration
	Transcript   string
	Segments     []call.Segment
	RecordingURL string
	Cost         *call.Cost
}

// Client is implemented by each supported platform.
type Client interface {
	// Name is the registry name of the platform.
	Name() string

	// Register creates an outbound web call.
	Register(ctx context.Context, req RegisterRequest) (*Registration, error)

	// GetCall fetches the current call record.
	GetCall(ctx context.Context, providerCallID string) (*CallStatus, error)
}

// DefaultHTTPClient is used when a platform config does not supply one.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// DoJSON sends body as JSON with a bearer token and decodes the response into out.
func DoJSON(ctx context.Context, hc *http.Client, method, url, apiKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(msg)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// APIError is a non-2xx platform response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Body)
}

// DurationOf returns the call duration, preferring the platform's own figure.
func DurationOf(s *CallStatus, sessionStart time.Time) time.Duration {
	if s.Duration > 0 {
		return s.Duration
	}
	start := s.StartedAt
	if start.IsZero() {
		start = sessionStart
	}
	if s.EndedAt.IsZero() || start.IsZero() || s.EndedAt.Before(start) {
		return 0
	}
	return s.EndedAt.Sub(start)
}
