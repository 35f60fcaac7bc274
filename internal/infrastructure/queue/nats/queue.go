package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
	"github.com/kirillkom/catalog-assistant/internal/infrastructure/resilience"
)

const DefaultSubject = "catalog.turns.completed"

// publisher is the part of *nats.Conn the publisher uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// TurnPublisher announces completed turns as JSON on a NATS subject.
type TurnPublisher struct {
	nc       *nats.Conn
	conn     publisher
	closer   func()
	subject  string
	executor *resilience.Executor
	logger   *zap.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *zap.Logger
}

func New(url, subject string, options Options) (*TurnPublisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("catalog-assistant"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "connect nats", err)
	}
	return &TurnPublisher{
		nc:       conn,
		conn:     conn,
		closer:   conn.Close,
		subject:  subject,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (p *TurnPublisher) Close() {
	if p.closer != nil {
		p.closer()
	}
}

func (p *TurnPublisher) PublishTurnCompleted(ctx context.Context, event domain.TurnEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal turn event: %w", err)
	}

	call := func(_ context.Context) error {
		if err := p.conn.Publish(p.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if p.executor != nil {
		err = p.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeTurnCompleted delivers decoded turn events to handler until ctx is
// done. Subscribers share the "turn-consumers" queue group.
func (p *TurnPublisher) SubscribeTurnCompleted(ctx context.Context, handler func(context.Context, domain.TurnEvent) error) error {
	if p.nc == nil {
		return errors.New("nats subscribe: not connected")
	}
	sub, err := p.nc.QueueSubscribe(p.subject, "turn-consumers", func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		event, err := decodeTurnEvent(msg.Data)
		if err != nil {
			p.logger.Warn("turn_event_decode_failed", zap.Error(err))
			return
		}
		if err := handler(ctx, event); err != nil {
			p.logger.Warn("turn_event_handler_failed",
				zap.String("session_id", event.SessionID),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := p.nc.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := p.nc.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func decodeTurnEvent(data []byte) (domain.TurnEvent, error) {
	var event domain.TurnEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.TurnEvent{}, fmt.Errorf("decode turn event: %w", err)
	}
	if event.SessionID == "" || event.Outcome == "" {
		return domain.TurnEvent{}, errors.New("decode turn event: session_id and outcome are required")
	}
	return event, nil
}
