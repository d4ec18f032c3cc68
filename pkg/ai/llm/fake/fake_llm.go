package fake

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chriscow/callbridge-go/pkg/ai/llm"
)

// FakeLLM is a fake LLM implementation for testing. It cycles through its
// canned responses and records every request it sees.
type FakeLLM struct {
	mu        sync.Mutex
	responses []string
	callCount int
	requests  []llm.ChatRequest

	// Delay is applied before each reply, honouring ctx.
	Delay time.Duration

	// Errs are returned, in order, before any canned response.
	Errs []error
}

// NewFakeLLM creates a new fake LLM provider with predefined responses.
func NewFakeLLM(responses ...string) *FakeLLM {
	if len(responses) == 0 {
		responses = []string{
			"Hi, I'm calling about my order.",
			"Could you check the status for me?",
			"Great, thank you.",
		}
	}
	return &FakeLLM{responses: responses}
}

// Chat returns the next canned response.
func (f *FakeLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var err error
	if len(f.Errs) > 0 {
		err, f.Errs = f.Errs[0], f.Errs[1:]
	}
	response := f.responses[f.callCount%len(f.responses)]
	if err == nil {
		f.callCount++
	}
	delay := f.Delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return llm.ChatResponse{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return llm.ChatResponse{}, err
	}

	return llm.ChatResponse{
		Message: llm.Message{
			Role:    llm.RoleAssistant,
			Content: response,
		},
		TokensUsed:   len(strings.Fields(response)) + 10,
		FinishReason: "stop",
	}, nil
}

// Requests returns a copy of every request received so far.
func (f *FakeLLM) Requests() []llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.ChatRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// Calls returns the number of successful replies.
func (f *FakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

// Capabilities returns the fake LLM capabilities.
func (f *FakeLLM) Capabilities() llm.LLMCapabilities {
	return llm.LLMCapabilities{
		MaxTokens:          4096,
		SupportedModels:    []string{"fake-model-1"},
		SupportsSystemRole: true,
	}
}
