package livekit

import (
	"encoding/json"
	"fmt"

	"github.com/chriscow/callbridge-go/pkg/transport"
)

// Data channel event names sent by the platform agent.
const (
	eventAgentStartTalking = "agent_start_talking"
	eventAgentStopTalking  = "agent_stop_talking"
	eventUpdate            = "update"
	eventCallEnded         = "call_ended"
)

type transcriptEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type dataEvent struct {
	EventType  string            `json:"event_type"`
	Transcript []transcriptEntry `json:"transcript"`
}

// parseDataEvent maps one data packet to transport events. Unknown event types
// yield no events and no error.
func parseDataEvent(data []byte) ([]transport.Event, error) {
	var de dataEvent
	if err := json.Unmarshal(data, &de); err != nil {
		return nil, fmt.Errorf("invalid data event: %w", err)
	}

	switch de.EventType {
	case eventAgentStartTalking:
		return []transport.Event{transport.NewEvent(transport.EventRemoteStartedTalking)}, nil

	case eventAgentStopTalking:
		return []transport.Event{transport.NewEvent(transport.EventRemoteStoppedTalking)}, nil

	case eventUpdate:
		// The update carries the whole transcript so far. While the agent is
		// speaking its current utterance is the last entry.
		if n := len(de.Transcript); n > 0 {
			last := de.Transcript[n-1]
			if last.Role == "agent" && last.Content != "" {
				return []transport.Event{
					transport.NewEvent(transport.EventTranscriptFragment).WithText(last.Content),
				}, nil
			}
		}
		return nil, nil

	case eventCallEnded:
		return []transport.Event{
			transport.NewEvent(transport.EventRemoteDisconnected).WithReason("call ended"),
		}, nil
	}

	return nil, nil
}
