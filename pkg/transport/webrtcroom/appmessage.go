package webrtcroom

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chriscow/callbridge-go/pkg/transport"
)

type appMessage struct {
	Type           string `json:"type"`
	Status         string `json:"status"`
	Role           string `json:"role"`
	TranscriptType string `json:"transcriptType"`
	Transcript     string `json:"transcript"`
	EndedReason    string `json:"endedReason"`
}

// parseAppMessage maps an app-message payload to transport events. The
// payload is either a JSON object or a string holding one.
func parseAppMessage(raw json.RawMessage) ([]transport.Event, error) {
	data := []byte(raw)

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		data = []byte(s)
	}

	var m appMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid app message: %w", err)
	}

	switch m.Type {
	case "speech-update":
		if m.Role != "assistant" {
			return nil, nil
		}
		switch m.Status {
		case "started":
			return []transport.Event{transport.NewEvent(transport.EventRemoteStartedTalking)}, nil
		case "stopped":
			return []transport.Event{transport.NewEvent(transport.EventRemoteStoppedTalking)}, nil
		}

	case "transcript":
		if m.Role != "assistant" || m.TranscriptType != "final" {
			return nil, nil
		}
		if text := strings.TrimSpace(m.Transcript); text != "" {
			return []transport.Event{transport.NewEvent(transport.EventTranscriptFragment).WithText(text)}, nil
		}

	case "hang", "call-ended":
		return []transport.Event{transport.NewEvent(transport.EventRemoteDisconnected).WithReason(m.Type)}, nil

	case "status-update":
		if m.Status == "ended" {
			reason := m.EndedReason
			if reason == "" {
				reason = "ended"
			}
			return []transport.Event{transport.NewEvent(transport.EventRemoteDisconnected).WithReason(reason)}, nil
		}
	}
	return nil, nil
}
