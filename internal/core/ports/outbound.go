package ports

import (
	"context"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
)

// Embedder turns query text into a vector for the product index.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ChatMessage is one role-tagged message sent to a chat model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatModel is a single request/response chat-completion service.
type ChatModel interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
	CompleteJSON(ctx context.Context, messages []ChatMessage) (string, error)
}

// ProductIndex performs similarity search over catalog records.
type ProductIndex interface {
	Search(ctx context.Context, queryVector []float32, filter *domain.FilterPredicate, limit int) ([]domain.ProductRecord, error)
	VerifyDimension(ctx context.Context, dimension int) error
}

// SessionStore persists conversation state between turns.
type SessionStore interface {
	Create(ctx context.Context, state *domain.ConversationState) error
	Get(ctx context.Context, id string) (*domain.ConversationState, error)
	Update(ctx context.Context, state *domain.ConversationState) error
	Delete(ctx context.Context, id string) error
}

// TurnPublisher announces finished turns to downstream consumers.
type TurnPublisher interface {
	PublishTurnCompleted(ctx context.Context, event domain.TurnEvent) error
}

// FilterExtractor derives an optional metadata predicate from a question.
type FilterExtractor interface {
	Extract(ctx context.Context, query string) *domain.FilterPredicate
}

// AnswerSynthesizer produces the reply for a turn from assembled context.
type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, question, contextBlock, previousAnswer string) (string, error)
}
