package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kirillkom/catalog-assistant/internal/config"
	"github.com/kirillkom/catalog-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/catalog-assistant/internal/infrastructure/repository/postgres"
)

// Worker holds what the background process needs: the turn event
// subscription and, for the postgres session backend, idle session purging.
// Either may be nil when not configured.
type Worker struct {
	Events      *nats.TurnPublisher
	SessionRepo *postgres.SessionRepository

	closers []func()
}

func NewWorker(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *Worker, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{}
	defer func() {
		if err != nil {
			w.Close()
		}
	}()

	if cfg.NATSURL != "" {
		events, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{Logger: logger.Named("nats")})
		if err != nil {
			return nil, fmt.Errorf("init turn subscriber: %w", err)
		}
		w.Events = events
		w.closers = append(w.closers, events.Close)
	}

	if cfg.SessionBackend == config.SessionBackendPostgres {
		db, err := postgres.OpenDB(ctx, cfg.DatabaseURL, 2)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		w.closers = append(w.closers, func() { _ = db.Close() })
		repo := postgres.NewSessionRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure session schema: %w", err)
		}
		w.SessionRepo = repo
	}
	return w, nil
}

func (w *Worker) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
	w.closers = nil
}
