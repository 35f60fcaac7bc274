package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
)

// SessionRepository stores one row per conversation. The version column gives
// the same lost-update protection as the Redis store.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across replicas starting together.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id TEXT PRIMARY KEY,
	messages JSONB NOT NULL DEFAULT '[]'::jsonb,
	previous_answer TEXT NOT NULL DEFAULT '',
	max_messages INTEGER NOT NULL,
	version BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated_at ON chat_sessions(updated_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *SessionRepository) Create(ctx context.Context, state *domain.ConversationState) error {
	messages, err := json.Marshal(state.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	state.Version = 1
	res, err := r.db.ExecContext(ctx, `
INSERT INTO chat_sessions (id, messages, previous_answer, max_messages, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO NOTHING
`, state.ID, messages, state.PreviousAnswer, state.MaxMessages, state.Version, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.WrapError(domain.ErrConflict, "create session", fmt.Errorf("session %s already exists", state.ID))
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.ConversationState, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, messages, previous_answer, max_messages, version, created_at, updated_at
FROM chat_sessions
WHERE id = $1
`, id)

	var (
		state       domain.ConversationState
		messagesRaw []byte
	)
	err := row.Scan(&state.ID, &messagesRaw, &state.PreviousAnswer, &state.MaxMessages, &state.Version, &state.CreatedAt, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrSessionNotFound, "get session", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal(messagesRaw, &state.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	if state.Messages == nil {
		state.Messages = []domain.Message{}
	}
	return &state, nil
}

func (r *SessionRepository) Update(ctx context.Context, state *domain.ConversationState) error {
	messages, err := json.Marshal(state.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
UPDATE chat_sessions
SET messages = $2, previous_answer = $3, version = version + 1, updated_at = $4
WHERE id = $1 AND version = $5
`, state.ID, messages, state.PreviousAnswer, now, state.Version)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session rows affected: %w", err)
	}
	if n == 0 {
		return r.missingOrConflict(ctx, state.ID, state.Version)
	}
	state.Version++
	state.UpdatedAt = now
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PurgeIdle removes sessions untouched since before the cutoff.
func (r *SessionRepository) PurgeIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge idle sessions: %w", err)
	}
	return res.RowsAffected()
}

func (r *SessionRepository) missingOrConflict(ctx context.Context, id string, version int64) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM chat_sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return domain.WrapError(domain.ErrSessionNotFound, "update session", fmt.Errorf("id=%s", id))
	}
	return domain.WrapError(domain.ErrConflict, "update session", fmt.Errorf("session %s changed since version %d", id, version))
}
