package transport

import "time"

// EventType identifies a control event coming from the remote platform.
type EventType string

const (
	// EventRemoteStartedTalking is fired when the remote agent begins an utterance
	EventRemoteStartedTalking EventType = "remote_started_talking"

	// EventRemoteStoppedTalking is fired when the remote agent finishes an utterance
	EventRemoteStoppedTalking EventType = "remote_stopped_talking"

	// EventTranscriptFragment carries platform-provided text for the current utterance
	EventTranscriptFragment EventType = "transcript_fragment"

	// EventRemoteDisconnected is fired once when the remote side leaves or the link drops
	EventRemoteDisconnected EventType = "remote_disconnected"
)

// Event is a control event relayed by a Transport.
type Event struct {
	// Type of the event
	Type EventType

	// Timestamp when the event was received
	Timestamp time.Time

	// Text of a transcript fragment
	Text string

	// Reason for a disconnect, when known
	Reason string
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

// WithText sets the fragment text.
func (e Event) WithText(text string) Event {
	e.Text = text
	return e
}

// WithReason sets the disconnect reason.
func (e Event) WithReason(reason string) Event {
	e.Reason = reason
	return e
}
