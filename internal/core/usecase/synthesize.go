package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
	"github.com/kirillkom/catalog-assistant/internal/core/ports"
)

// AnswerSynthesizer turns retrieved context plus the previous answer into a reply.
type AnswerSynthesizer struct {
	model   ports.ChatModel
	subject string
	timeout time.Duration
}

func NewAnswerSynthesizer(model ports.ChatModel, subject string, timeout time.Duration) *AnswerSynthesizer {
	if strings.TrimSpace(subject) == "" {
		subject = "product"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AnswerSynthesizer{
		model:   model,
		subject: subject,
		timeout: timeout,
	}
}

func (s *AnswerSynthesizer) Synthesize(ctx context.Context, question, contextBlock, previousAnswer string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.model.Complete(callCtx, BuildAnswerMessages(s.subject, question, contextBlock, previousAnswer))
	if err != nil {
		return "", domain.WrapError(domain.ErrSynthesis, "synthesize answer", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.WrapError(domain.ErrSynthesis, "synthesize answer", fmt.Errorf("empty completion"))
	}
	return text, nil
}

// BuildAnswerMessages renders the system instructions and the user turn.
func BuildAnswerMessages(subject, question, contextBlock, previousAnswer string) []ports.ChatMessage {
	return []ports.ChatMessage{
		{Role: "system", Content: buildSystemPrompt(subject)},
		{Role: domain.RoleUser, Content: buildUserPrompt(subject, question, contextBlock, previousAnswer)},
	}
}

func buildSystemPrompt(subject string) string {
	return fmt.Sprintf(`You are an expert %[1]s specialist for an online catalog.
When a user asks a question, do the following:

- If it is about %[1]s, answer using the %[1]s information provided in the message only.
  Give the information the user asked for. Only when the user asks for more detail, include:
  1. PRODUCT INFORMATION: product name and brand, SKU/UPC codes, price, weight and packaging,
     image URLs formatted as markdown (![Product image](image_url)).
  2. CHARACTERISTICS: flavor, texture, appearance and origin where relevant.
  If several products are shown, give each its own section.
  Never invent products, prices or identifiers that are not in the provided information.
- If it is a general question that is not about %[1]s, give a common, non-political answer
  without using the catalog information.
- Use casual American English and clean markdown formatting.
- The previous answer is your own last reply. When the question follows up on it, answer
  based on the previous answer and the new question together.`, subject)
}

func buildUserPrompt(subject, question, contextBlock, previousAnswer string) string {
	if strings.TrimSpace(previousAnswer) == "" {
		previousAnswer = "(none)"
	}
	return fmt.Sprintf(`%s INFORMATION:
%s

PREVIOUS ANSWER:
%s

User question: %s`, strings.ToUpper(subject), contextBlock, previousAnswer, question)
}
