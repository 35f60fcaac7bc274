package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
	"github.com/kirillkom/catalog-assistant/internal/core/ports"
)

type chatModelFake struct {
	mu sync.Mutex

	jsonReply string
	jsonErr   error
	textReply string
	textErr   error

	jsonCalls [][]ports.ChatMessage
	textCalls [][]ports.ChatMessage
}

func (f *chatModelFake) Complete(_ context.Context, messages []ports.ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textCalls = append(f.textCalls, messages)
	if f.textErr != nil {
		return "", f.textErr
	}
	return f.textReply, nil
}

func (f *chatModelFake) CompleteJSON(_ context.Context, messages []ports.ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jsonCalls = append(f.jsonCalls, messages)
	if f.jsonErr != nil {
		return "", f.jsonErr
	}
	return f.jsonReply, nil
}

func (f *chatModelFake) lastTextPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.textCalls) == 0 {
		return ""
	}
	var out string
	for _, m := range f.textCalls[len(f.textCalls)-1] {
		out += m.Content + "\n"
	}
	return out
}

type embedderFake struct {
	vector []float32
	err    error
	calls  int
}

func (f *embedderFake) EmbedQuery(context.Context, string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type indexFake struct {
	records []domain.ProductRecord
	err     error

	gotFilter *domain.FilterPredicate
	gotLimit  int
	calls     int
}

func (f *indexFake) Search(_ context.Context, _ []float32, filter *domain.FilterPredicate, limit int) ([]domain.ProductRecord, error) {
	f.calls++
	f.gotFilter = filter
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func (f *indexFake) VerifyDimension(context.Context, int) error { return nil }

type sessionStoreFake struct {
	mu     sync.Mutex
	states map[string]*domain.ConversationState
}

func newSessionStoreFake() *sessionStoreFake {
	return &sessionStoreFake{states: make(map[string]*domain.ConversationState)}
}

func (s *sessionStoreFake) Create(_ context.Context, state *domain.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ID] = state.Clone()
	return nil
}

func (s *sessionStoreFake) Get(_ context.Context, id string) (*domain.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "get session", fmt.Errorf("id=%s", id))
	}
	return state.Clone(), nil
}

func (s *sessionStoreFake) Update(_ context.Context, state *domain.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[state.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	s.states[state.ID] = state.Clone()
	return nil
}

func (s *sessionStoreFake) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
	return nil
}

type publisherFake struct {
	mu     sync.Mutex
	events []domain.TurnEvent
	err    error
}

func (p *publisherFake) PublishTurnCompleted(_ context.Context, event domain.TurnEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

var errServiceDown = errors.New("service down")

func product(name string, price string) domain.ProductRecord {
	return domain.ProductRecord{
		ProductName: domain.Some(name),
		CompanyName: domain.Some("Tillamook"),
		Price:       domain.Some(price),
	}
}
