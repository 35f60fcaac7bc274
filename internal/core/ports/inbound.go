package ports

import (
	"context"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
)

// ConversationService is the inbound contract of the session boundary.
type ConversationService interface {
	Start(ctx context.Context) (*domain.ConversationState, error)
	Ask(ctx context.Context, sessionID, question string) (domain.TurnResult, error)
	Get(ctx context.Context, sessionID string) (*domain.ConversationState, error)
	Clear(ctx context.Context, sessionID string) error
	End(ctx context.Context, sessionID string) error
}
