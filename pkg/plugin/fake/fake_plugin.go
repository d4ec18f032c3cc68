// Package fake registers the canned LLM and TTS providers so a dry-run call
// can be wired entirely from the plugin registry.
package fake

import (
	llmfake "github.com/chriscow/callbridge-go/pkg/ai/llm/fake"
	ttsfake "github.com/chriscow/callbridge-go/pkg/ai/tts/fake"
	"github.com/chriscow/callbridge-go/pkg/plugin"
)

func newFakeTTS(cfg map[string]any) (any, error) {
	return ttsfake.NewFakeTTS(), nil
}

func newFakeLLM(cfg map[string]any) (any, error) {
	responses := []string{
		"Hi, I'm calling about my order.",
		"It still hasn't arrived, can you check on it?",
		"Great, thanks for looking into that.",
	}
	if r, ok := cfg["responses"].([]string); ok && len(r) > 0 {
		responses = r
	}
	return llmfake.NewFakeLLM(responses...), nil
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        "tts",
		Name:        "fake",
		Factory:     newFakeTTS,
		Description: "Fake TTS provider for dry runs and tests",
		Version:     "1.0.0",
		Config:      map[string]any{},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        "llm",
		Name:        "fake",
		Factory:     newFakeLLM,
		Description: "Fake LLM provider cycling through canned caller lines",
		Version:     "1.0.0",
		Config: map[string]any{
			"responses": []string{"List of predefined responses"},
		},
	})
}
