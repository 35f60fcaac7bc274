// Package memory keeps conversation state in process with sliding expiry.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
)

const DefaultTTL = 24 * time.Hour

type Store struct {
	// mu makes the version check and the write in Update one step.
	mu    sync.Mutex
	cache *cache.Cache
	ttl   time.Duration
}

func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cleanup := ttl / 6
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &Store{
		cache: cache.New(ttl, cleanup),
		ttl:   ttl,
	}
}

func (s *Store) Create(_ context.Context, state *domain.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.cache.Get(state.ID); found {
		return domain.WrapError(domain.ErrConflict, "create session", fmt.Errorf("session %s already exists", state.ID))
	}
	state.Version = 1
	s.cache.Set(state.ID, state.Clone(), s.ttl)
	return nil
}

// Get returns a copy; callers never share state with the store.
func (s *Store) Get(_ context.Context, id string) (*domain.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.lookup(id)
	if !ok {
		return nil, notFound(id)
	}
	// Touch to slide the expiry.
	s.cache.Set(id, stored, s.ttl)
	return stored.Clone(), nil
}

func (s *Store) Update(_ context.Context, state *domain.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.lookup(state.ID)
	if !ok {
		return notFound(state.ID)
	}
	if stored.Version != state.Version {
		return domain.WrapError(domain.ErrConflict, "update session", fmt.Errorf("session %s version %d, stored %d", state.ID, state.Version, stored.Version))
	}
	state.Version++
	state.UpdatedAt = time.Now().UTC()
	s.cache.Set(state.ID, state.Clone(), s.ttl)
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.cache.Delete(id)
	return nil
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	return s.cache.ItemCount()
}

func (s *Store) lookup(id string) (*domain.ConversationState, bool) {
	x, found := s.cache.Get(id)
	if !found {
		return nil, false
	}
	state, ok := x.(*domain.ConversationState)
	return state, ok
}

func notFound(id string) error {
	return domain.WrapError(domain.ErrSessionNotFound, "get session", fmt.Errorf("id=%s", id))
}
