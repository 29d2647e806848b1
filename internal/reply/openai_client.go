package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type chatCompletionAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient adapts the OpenAI chat completion API to LLMClient.
type OpenAIClient struct {
	api chatCompletionAPI
}

// NewOpenAIClient builds a client from an API key.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{api: openai.NewClient(apiKey)}
}

// NewOpenAIClientWithAPI is used by tests to inject a stub API.
func NewOpenAIClientWithAPI(api chatCompletionAPI) *OpenAIClient {
	if api == nil {
		panic("reply: chat completion api required")
	}
	return &OpenAIClient{api: api}
}

// Complete implements LLMClient.
func (c *OpenAIClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	if strings.TrimSpace(req.Model) == "" {
		return LLMResponse{}, errors.New("reply: openai model is required")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.System)+len(req.Messages))
	for _, system := range req.System {
		if strings.TrimSpace(system) == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range req.Messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		var role string
		switch msg.Role {
		case ChatRoleSystem:
			role = openai.ChatMessageRoleSystem
		case ChatRoleUser:
			role = openai.ChatMessageRoleUser
		case ChatRoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			return LLMResponse{}, fmt.Errorf("reply: unsupported role %q", msg.Role)
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: content})
	}

	request := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		request.MaxTokens = int(req.MaxTokens)
	}
	if req.Temperature > 0 {
		request.Temperature = req.Temperature
	}

	resp, err := c.api.CreateChatCompletion(ctx, request)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("reply: openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return LLMResponse{}, errors.New("reply: openai returned no choices")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return LLMResponse{}, errors.New("reply: openai returned empty completion")
	}
	return LLMResponse{
		Text:       text,
		StopReason: string(resp.Choices[0].FinishReason),
	}, nil
}
