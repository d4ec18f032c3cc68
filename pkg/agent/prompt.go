package agent

import (
	"fmt"
	"strings"

	"github.com/chriscow/callbridge-go/pkg/ai/llm"
	"github.com/chriscow/callbridge-go/pkg/call"
)

// promptLocked builds the chat messages from the persona and the most recent
// turns. o.mu must be held.
func (o *Orchestrator) promptLocked() []llm.Message {
	history := o.turns
	if len(history) > o.cfg.HistoryLimit {
		history = history[len(history)-o.cfg.HistoryLimit:]
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: o.systemPrompt()})
	for _, t := range history {
		role := llm.RoleUser
		if t.Speaker == call.SpeakerSyntheticCaller {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Text})
	}
	return messages
}

func (o *Orchestrator) systemPrompt() string {
	p, s := o.cfg.Persona, o.cfg.Scenario

	var b strings.Builder
	b.WriteString("You are a person on a phone call with a company's voice assistant.")
	if p.Name != "" {
		fmt.Fprintf(&b, " Your name is %s.", p.Name)
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "\n\nAbout you: %s", p.Description)
	}
	if s.Goal != "" {
		fmt.Fprintf(&b, "\n\nWhat you want from this call: %s", s.Goal)
	}
	if s.Instructions != "" {
		fmt.Fprintf(&b, "\n\n%s", s.Instructions)
	}
	b.WriteString("\n\nSpeak the way a caller talks: one or two short sentences per turn, no lists, " +
		"no stage directions. Stay in character and never mention that you are an AI.")
	return b.String()
}
