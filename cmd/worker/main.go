package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kirillkom/catalog-assistant/internal/bootstrap"
	"github.com/kirillkom/catalog-assistant/internal/config"
	"github.com/kirillkom/catalog-assistant/internal/core/domain"
	"github.com/kirillkom/catalog-assistant/internal/observability/logging"
	"github.com/kirillkom/catalog-assistant/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.New(logging.Options{Service: "catalog-worker", Level: cfg.LogLevel, FilePath: cfg.LogFile})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker, err := bootstrap.NewWorker(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("bootstrap_failed", zap.Error(err))
	}
	defer worker.Close()
	if worker.Events == nil && worker.SessionRepo == nil {
		logger.Fatal("worker_has_nothing_to_do", zap.String("hint", "set NATS_URL or SESSION_BACKEND=postgres"))
	}

	workerMetrics := metrics.NewWorkerMetrics("catalog-worker")
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_failed", zap.Error(err))
		}
	}()

	var wg sync.WaitGroup
	if worker.Events != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("worker_subscribed", zap.String("subject", cfg.NATSSubject))
			err := worker.Events.SubscribeTurnCompleted(ctx, func(_ context.Context, event domain.TurnEvent) error {
				workerMetrics.ObserveTurnEvent(event, time.Now())
				return nil
			})
			if err != nil {
				logger.Error("worker_subscribe_failed", zap.Error(err))
				stop()
			}
		}()
	}
	if worker.SessionRepo != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(cfg.PurgeInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					removed, err := worker.SessionRepo.PurgeIdle(ctx, time.Now().Add(-cfg.SessionTTL))
					workerMetrics.ObservePurge(removed, err)
					if err != nil {
						logger.Warn("session_purge_failed", zap.Error(err))
						continue
					}
					if removed > 0 {
						logger.Info("sessions_purged", zap.Int64("removed", removed))
					}
				}
			}
		}()
	}

	wg.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}
