// Package turn turns the remote platform's speaker and transcript events into
// complete utterances. Turn boundaries come from the platform's own
// start/stop talking signals; nothing here inspects audio.
package turn

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/chriscow/callbridge-go/pkg/transport"
)

// MergeMode controls how fragments within one talking episode combine.
type MergeMode int

const (
	// MergeReplace keeps only the latest fragment. Platforms that resend the
	// whole utterance on every update use this.
	MergeReplace MergeMode = iota

	// MergeAppend joins fragments with a single space. Platforms that send
	// finalized pieces use this.
	MergeAppend
)

func (m MergeMode) String() string {
	switch m {
	case MergeReplace:
		return "replace"
	case MergeAppend:
		return "append"
	default:
		return "unknown"
	}
}

// DeliveryKind tells the consumer what a Delivery carries.
type DeliveryKind int

const (
	// TalkingChanged reports a change of the remote talking flag.
	TalkingChanged DeliveryKind = iota

	// Utterance carries the complete text of a finished episode.
	Utterance
)

// Delivery is one notification for the conversation orchestrator.
type Delivery struct {
	Kind    DeliveryKind
	Talking bool
	Text    string
}

// Accumulator is a two-state machine (idle, remote talking) that buffers
// transcript fragments for the current episode.
type Accumulator struct {
	mode   MergeMode
	logger *slog.Logger

	mu      sync.Mutex
	talking bool
	buffer  []string
}

// NewAccumulator creates an Accumulator in the idle state.
func NewAccumulator(mode MergeMode, logger *slog.Logger) *Accumulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accumulator{mode: mode, logger: logger}
}

// Talking reports whether the remote party is mid-utterance.
func (a *Accumulator) Talking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.talking
}

// Observe feeds one transport event and returns what the orchestrator should
// hear, in order. On stop the talking flag change is delivered before the
// utterance so the orchestrator knows it may respond.
func (a *Accumulator) Observe(ev transport.Event) []Delivery {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.Type {
	case transport.EventRemoteStartedTalking:
		if a.talking {
			return nil
		}
		a.talking = true
		a.buffer = a.buffer[:0]
		return []Delivery{{Kind: TalkingChanged, Talking: true}}

	case transport.EventTranscriptFragment:
		if !a.talking {
			a.logger.Debug("Ignoring transcript fragment while idle",
				slog.Int("length", len(ev.Text)))
			return nil
		}
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return nil
		}
		if a.mode == MergeReplace {
			a.buffer = append(a.buffer[:0], text)
		} else {
			a.buffer = append(a.buffer, text)
		}
		return nil

	case transport.EventRemoteStoppedTalking:
		if !a.talking {
			return nil
		}
		a.talking = false
		text := strings.Join(a.buffer, " ")
		a.buffer = a.buffer[:0]

		out := []Delivery{{Kind: TalkingChanged, Talking: false}}
		if text != "" {
			out = append(out, Delivery{Kind: Utterance, Text: text})
		}
		return out

	case transport.EventRemoteDisconnected:
		// A dangling episode is discarded; the authoritative transcript
		// comes from the platform afterwards.
		if a.talking {
			a.talking = false
			a.buffer = a.buffer[:0]
			return []Delivery{{Kind: TalkingChanged, Talking: false}}
		}
		return nil
	}

	return nil
}
