package fake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chriscow/callbridge-go/pkg/ai/llm"
)

func TestFakeLLMCapabilities(t *testing.T) {
	caps := NewFakeLLM().Capabilities()

	if caps.MaxTokens <= 0 {
		t.Error("Expected MaxTokens to be positive")
	}
	if !caps.SupportsSystemRole {
		t.Error("Expected SupportsSystemRole to be true")
	}
}

func TestFakeLLMChat(t *testing.T) {
	provider := NewFakeLLM("Test response 1", "Test response 2")
	ctx := context.Background()

	req := llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hello"}},
	}

	for _, want := range []string{"Test response 1", "Test response 2", "Test response 1"} {
		resp, err := provider.Chat(ctx, req)
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if resp.Message.Role != llm.RoleAssistant {
			t.Errorf("Expected assistant role, got %v", resp.Message.Role)
		}
		if resp.Message.Content != want {
			t.Errorf("Expected %q, got %q", want, resp.Message.Content)
		}
	}

	if got := len(provider.Requests()); got != 3 {
		t.Errorf("Expected 3 recorded requests, got %d", got)
	}
}

func TestFakeLLMErrors(t *testing.T) {
	boom := errors.New("boom")
	provider := NewFakeLLM("ok")
	provider.Errs = []error{boom}

	if _, err := provider.Chat(context.Background(), llm.ChatRequest{}); !errors.Is(err, boom) {
		t.Fatalf("Expected injected error, got %v", err)
	}
	resp, err := provider.Chat(context.Background(), llm.ChatRequest{})
	if err != nil || resp.Message.Content != "ok" {
		t.Fatalf("Expected recovery after injected error, got %q, %v", resp.Message.Content, err)
	}
	if provider.Calls() != 1 {
		t.Errorf("Expected 1 successful call, got %d", provider.Calls())
	}
}

func TestFakeLLMDelayHonoursContext(t *testing.T) {
	provider := NewFakeLLM()
	provider.Delay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := provider.Chat(ctx, llm.ChatRequest{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
}
