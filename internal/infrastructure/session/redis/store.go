// Package redis persists conversation state in Redis with optimistic locking,
// so several service replicas can share sessions.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
)

const (
	DefaultKeyPrefix = "catalog:session:"
	DefaultTTL       = 24 * time.Hour
)

type Options struct {
	KeyPrefix string
	TTL       time.Duration
}

type Store struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

func New(client goredis.UniversalClient, opts Options) *Store {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Store{client: client, prefix: opts.KeyPrefix, ttl: opts.TTL}
}

// Open connects to a single Redis node and checks it answers PING.
func Open(ctx context.Context, addr, password string, db int, opts Options) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, domain.WrapError(domain.ErrConfiguration, "connect redis", err)
	}
	return New(client, opts), nil
}

func (s *Store) Create(ctx context.Context, state *domain.ConversationState) error {
	state.Version = 1
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	created, err := s.client.SetNX(ctx, s.key(state.ID), payload, s.ttl).Result()
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "create session", err)
	}
	if !created {
		return domain.WrapError(domain.ErrConflict, "create session", fmt.Errorf("session %s already exists", state.ID))
	}
	return nil
}

// Get refreshes the TTL on every read.
func (s *Store) Get(ctx context.Context, id string) (*domain.ConversationState, error) {
	raw, err := s.client.GetEx(ctx, s.key(id), s.ttl).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "get session", err)
	}
	return decodeState(raw)
}

// Update writes the state only if nobody else has written since it was read.
// The version is bumped on success; a stale version yields ErrConflict.
func (s *Store) Update(ctx context.Context, state *domain.ConversationState) error {
	key := s.key(state.ID)

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return notFound(state.ID)
		}
		if err != nil {
			return err
		}
		stored, err := decodeState(raw)
		if err != nil {
			return err
		}
		if stored.Version != state.Version {
			return domain.WrapError(domain.ErrConflict, "update session", fmt.Errorf("session %s version %d, stored %d", state.ID, state.Version, stored.Version))
		}

		next := state.Clone()
		next.Version++
		next.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}

		if _, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		}); err != nil {
			return err
		}
		state.Version = next.Version
		state.UpdatedAt = next.UpdatedAt
		return nil
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, goredis.TxFailedErr):
		return domain.WrapError(domain.ErrConflict, "update session", err)
	case domain.IsKind(err, domain.ErrConflict), domain.IsKind(err, domain.ErrSessionNotFound):
		return err
	default:
		return domain.WrapError(domain.ErrTemporary, "update session", err)
	}
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return domain.WrapError(domain.ErrTemporary, "delete session", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func decodeState(raw []byte) (*domain.ConversationState, error) {
	var state domain.ConversationState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if state.Messages == nil {
		state.Messages = []domain.Message{}
	}
	return &state, nil
}

func notFound(id string) error {
	return domain.WrapError(domain.ErrSessionNotFound, "get session", fmt.Errorf("id=%s", id))
}
