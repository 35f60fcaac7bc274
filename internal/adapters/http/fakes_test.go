package httpadapter

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/kirillkom/catalog-assistant/internal/config"
	"github.com/kirillkom/catalog-assistant/internal/core/domain"
)

type sessionsFake struct {
	mu       sync.Mutex
	states   map[string]*domain.ConversationState
	result   domain.TurnResult
	askErr   error
	startErr error
	asked    []string
}

func newSessionsFake() *sessionsFake {
	return &sessionsFake{states: make(map[string]*domain.ConversationState)}
}

func (f *sessionsFake) Start(context.Context) (*domain.ConversationState, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	state := domain.NewConversationState(uuid.NewString(), 50)
	f.states[state.ID] = state
	return state.Clone(), nil
}

func (f *sessionsFake) Ask(_ context.Context, id, question string) (domain.TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.askErr != nil {
		return domain.TurnResult{}, f.askErr
	}
	state, ok := f.states[id]
	if !ok {
		return domain.TurnResult{}, domain.WrapError(domain.ErrSessionNotFound, "ask", errors.New(id))
	}
	f.asked = append(f.asked, question)
	state.RecordTurn(domain.RoleUser, question)
	state.RecordTurn(domain.RoleAssistant, f.result.Answer)
	state.SetPreviousAnswer(f.result.Answer)
	return f.result, nil
}

func (f *sessionsFake) Get(_ context.Context, id string) (*domain.ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "get", errors.New(id))
	}
	return state.Clone(), nil
}

func (f *sessionsFake) Clear(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[id]
	if !ok {
		return domain.WrapError(domain.ErrSessionNotFound, "clear", errors.New(id))
	}
	state.Clear()
	return nil
}

func (f *sessionsFake) End(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.states[id]; !ok {
		return domain.WrapError(domain.ErrSessionNotFound, "end", errors.New(id))
	}
	delete(f.states, id)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		MaxInFlight:    16,
	}
}

func wrap(kind error, msg string) error {
	return domain.WrapError(kind, "ask", errors.New(msg))
}
