// Package openai registers OpenAI-backed LLM and TTS providers.
package openai

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/chriscow/callbridge-go/pkg/ai"
	"github.com/chriscow/callbridge-go/pkg/plugin"
	openai "github.com/sashabaranov/go-openai"
)

// newClient builds a go-openai client from plugin config, falling back to
// OPENAI_API_KEY. base_url is mainly for tests and compatible gateways.
func newClient(cfg map[string]any) (*openai.Client, error) {
	apiKey, _ := cfg["api_key"].(string)
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (set OPENAI_API_KEY environment variable or provide api_key in config)")
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL, ok := cfg["base_url"].(string); ok && baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(clientCfg), nil
}

// classify marks rate limits, server errors and transport failures as
// recoverable and everything else as fatal.
func classify(err error, op string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500 {
			return ai.NewRecoverableError(err, op)
		}
		return ai.NewFatalError(err, op)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500 {
			return ai.NewRecoverableError(err, op)
		}
		return ai.NewFatalError(err, op)
	}

	return ai.NewRecoverableError(err, op)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        "llm",
		Name:        "openai",
		Factory:     newOpenAILLM,
		Description: "OpenAI chat completion service",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":  "OpenAI API key (or set OPENAI_API_KEY env var)",
			"model":    defaultChatModel,
			"base_url": "override API base URL",
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        "tts",
		Name:        "openai",
		Factory:     newOpenAITTS,
		Description: "OpenAI text-to-speech service (raw PCM output)",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":  "OpenAI API key (or set OPENAI_API_KEY env var)",
			"model":    defaultSpeechModel,
			"voice":    defaultVoice,
			"base_url": "override API base URL",
		},
	})
}
