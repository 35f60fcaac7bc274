package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
	"github.com/kirillkom/catalog-assistant/internal/core/ports"
)

const DefaultMaxQuestionChars = 2000

type turnRunner interface {
	Run(ctx context.Context, question, previousAnswer string) domain.TurnResult
}

type SessionConfig struct {
	MaxMessages      int
	MaxQuestionChars int
}

// SessionService owns the conversation state of every session and serialises
// turns per session so two concurrent asks cannot interleave their updates.
type SessionService struct {
	pipeline  turnRunner
	store     ports.SessionStore
	publisher ports.TurnPublisher
	cfg       SessionConfig
	locks     *keyedMutex
	logger    *zap.Logger
}

func NewSessionService(
	pipeline turnRunner,
	store ports.SessionStore,
	publisher ports.TurnPublisher,
	cfg SessionConfig,
	logger *zap.Logger,
) *SessionService {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = domain.DefaultMaxMessages
	}
	if cfg.MaxQuestionChars <= 0 {
		cfg.MaxQuestionChars = DefaultMaxQuestionChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		pipeline:  pipeline,
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		locks:     newKeyedMutex(),
		logger:    logger,
	}
}

func (s *SessionService) Start(ctx context.Context) (*domain.ConversationState, error) {
	state := domain.NewConversationState(uuid.NewString(), s.cfg.MaxMessages)
	if err := s.store.Create(ctx, state); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return state.Clone(), nil
}

func (s *SessionService) Ask(ctx context.Context, sessionID, question string) (domain.TurnResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.TurnResult{}, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("question is required"))
	}
	if utf8.RuneCountInString(question) > s.cfg.MaxQuestionChars {
		return domain.TurnResult{}, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("question exceeds %d characters", s.cfg.MaxQuestionChars))
	}

	result, err := s.runTurn(ctx, sessionID, question)
	if err != nil {
		return domain.TurnResult{}, err
	}
	// The session lock is already released here.
	s.publish(ctx, sessionID, result)
	return result, nil
}

func (s *SessionService) runTurn(ctx context.Context, sessionID, question string) (domain.TurnResult, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	state, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return domain.TurnResult{}, err
	}

	result := s.pipeline.Run(ctx, question, state.PreviousAnswer)
	ApplyTurn(state, question, result)
	if err := s.store.Update(ctx, state); err != nil {
		return domain.TurnResult{}, fmt.Errorf("save session: %w", err)
	}

	s.logger.Info("turn_completed",
		zap.String("session_id", sessionID),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("records", len(result.Records)),
		zap.Bool("filter_applied", !result.Filter.Empty()),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (s *SessionService) Get(ctx context.Context, sessionID string) (*domain.ConversationState, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	state, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return state.Clone(), nil
}

func (s *SessionService) Clear(ctx context.Context, sessionID string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	state, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	state.Clear()
	if err := s.store.Update(ctx, state); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SessionService) End(ctx context.Context, sessionID string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	if _, err := s.store.Get(ctx, sessionID); err != nil {
		return err
	}
	return s.store.Delete(ctx, sessionID)
}

func (s *SessionService) publish(ctx context.Context, sessionID string, result domain.TurnResult) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTurnCompleted(ctx, domain.NewTurnEvent(sessionID, result)); err != nil {
		s.logger.Warn("turn_event_publish_failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// keyedMutex hands out one mutex per key and forgets it once nobody holds it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
