package domain

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultMaxMessages bounds the retained history when no limit is configured.
const DefaultMaxMessages = 50

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationState is owned by exactly one session. It is not safe for
// concurrent use; callers serialise access per session.
type ConversationState struct {
	ID             string    `json:"id"`
	Messages       []Message `json:"messages"`
	PreviousAnswer string    `json:"previous_answer"`
	MaxMessages    int       `json:"max_messages"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func NewConversationState(id string, maxMessages int) *ConversationState {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	now := time.Now().UTC()
	return &ConversationState{
		ID:          id,
		Messages:    []Message{},
		MaxMessages: maxMessages,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RecordTurn appends a message, dropping the oldest ones past the bound.
func (s *ConversationState) RecordTurn(role, content string) {
	now := time.Now().UTC()
	s.Messages = append(s.Messages, Message{Role: role, Content: content, CreatedAt: now})
	limit := s.MaxMessages
	if limit <= 0 {
		limit = DefaultMaxMessages
	}
	if over := len(s.Messages) - limit; over > 0 {
		trimmed := make([]Message, limit)
		copy(trimmed, s.Messages[over:])
		s.Messages = trimmed
	}
	s.UpdatedAt = now
}

func (s *ConversationState) SetPreviousAnswer(text string) {
	s.PreviousAnswer = text
	s.UpdatedAt = time.Now().UTC()
}

func (s *ConversationState) Clear() {
	s.Messages = []Message{}
	s.PreviousAnswer = ""
	s.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy safe to hand to readers outside the session lock.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return &out
}
