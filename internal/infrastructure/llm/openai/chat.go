package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
	"github.com/kirillkom/catalog-assistant/internal/core/ports"
)

type ChatModel struct {
	client *Client
}

func NewChatModel(client *Client) *ChatModel {
	return &ChatModel{client: client}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (m *ChatModel) Complete(ctx context.Context, messages []ports.ChatMessage) (string, error) {
	temperature := m.client.opts.Temperature
	return m.complete(ctx, chatRequest{
		Model:       m.client.opts.ChatModel,
		Messages:    toChatMessages(messages),
		Temperature: &temperature,
	}, "chat")
}

// CompleteJSON asks for a JSON object response at temperature zero.
func (m *ChatModel) CompleteJSON(ctx context.Context, messages []ports.ChatMessage) (string, error) {
	zero := 0.0
	return m.complete(ctx, chatRequest{
		Model:          m.client.opts.ChatModel,
		Messages:       toChatMessages(messages),
		Temperature:    &zero,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}, "chat_json")
}

func (m *ChatModel) complete(ctx context.Context, request chatRequest, operation string) (string, error) {
	var response chatResponse
	if err := m.client.postJSON(ctx, "/chat/completions", request, &response, operation); err != nil {
		if isAuthStatus(err) {
			return "", domain.WrapError(domain.ErrConfiguration, operation, err)
		}
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("openai %s: no choices in response", operation)
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

func toChatMessages(messages []ports.ChatMessage) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, chatMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}
