package openai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chriscow/callbridge-go/pkg/ai"
	"github.com/chriscow/callbridge-go/pkg/ai/llm"
	openai "github.com/sashabaranov/go-openai"
)

const defaultChatModel = "gpt-4o-mini"

// OpenAILLM implements the LLM interface using OpenAI chat models
type OpenAILLM struct {
	client *openai.Client
	model  string
}

func newOpenAILLM(cfg map[string]any) (any, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	model, _ := cfg["model"].(string)
	if model == "" {
		model = defaultChatModel
	}

	return &OpenAILLM{client: client, model: model}, nil
}

// Chat performs a chat completion over the whole prompt.
func (o *OpenAILLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	start := time.Now()

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return llm.ChatResponse{}, classify(err, "chat completion request failed")
	}
	if len(resp.Choices) == 0 {
		return llm.ChatResponse{}, ai.NewRecoverableError(fmt.Errorf("empty choices"), "no chat completion choices returned")
	}

	choice := resp.Choices[0]
	slog.Debug("OpenAI chat completion",
		slog.String("model", model),
		slog.Int("messages", len(messages)),
		slog.Int("tokens", resp.Usage.TotalTokens),
		slog.Duration("duration", time.Since(start)))

	return llm.ChatResponse{
		Message: llm.Message{
			Role:    llm.RoleAssistant,
			Content: choice.Message.Content,
		},
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(choice.FinishReason),
	}, nil
}

// Capabilities returns the OpenAI provider's capabilities
func (o *OpenAILLM) Capabilities() llm.LLMCapabilities {
	return llm.LLMCapabilities{
		MaxTokens:          128000,
		SupportedModels:    []string{"gpt-4o-mini", "gpt-4o", "gpt-4.1-mini"},
		SupportsSystemRole: true,
	}
}
