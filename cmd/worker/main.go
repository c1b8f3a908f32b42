package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kirillkom/maintenance-supervisor/internal/bootstrap"
	"github.com/kirillkom/maintenance-supervisor/internal/config"
	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
	"github.com/kirillkom/maintenance-supervisor/internal/core/usecase"
	"github.com/kirillkom/maintenance-supervisor/internal/observability/logging"
	"github.com/kirillkom/maintenance-supervisor/internal/observability/metrics"
)

const (
	serviceName    = "worker"
	processTimeout = 5 * time.Minute
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:             logger,
		Observer:           workerMetrics.Pipeline(),
		ResilienceObserver: workerMetrics.Pipeline(),
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if app.Queue == nil {
		runStandalone(ctx, app, workerMetrics, logger)
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller := usecase.NewMailboxPoller(app.Source, app.Store, app.Queue, cfg.PollMaxResults)
		poller.Run(ctx, cfg.PollInterval(), func(published int, err error) {
			workerMetrics.ObservePoll(serviceName, published, err)
			if err != nil {
				logger.Error("mailbox_poll_failed", "published", published, "error", err)
				return
			}
			logger.Info("mailbox_polled", "published", published)
		})
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeEmailReceived(ctx, func(handlerCtx context.Context, emailID string) error {
		processCtx, cancel := context.WithTimeout(handlerCtx, processTimeout)
		defer cancel()

		workerMetrics.StartEmail()
		started := time.Now()
		record, err := app.Pipeline.ProcessOne(processCtx, emailID)
		workerMetrics.FinishEmail(serviceName, time.Since(started), err)
		if err != nil {
			return err
		}
		logger.Info("email_processed", "email_id", emailID, "status", record.Status)
		return nil
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
	}
	stop()
	wg.Wait()
}

// runStandalone processes unread mail in-process when no queue is configured.
func runStandalone(ctx context.Context, app *bootstrap.App, workerMetrics *metrics.WorkerMetrics, logger *slog.Logger) {
	logger.Info("worker_standalone", "interval", app.Config.PollInterval().String())
	ticker := time.NewTicker(app.Config.PollInterval())
	defer ticker.Stop()
	for {
		result, err := app.Pipeline.ProcessUnread(ctx, domain.BatchOptions{
			MaxResults:        app.Config.PollMaxResults,
			SendNotifications: true,
		})
		switch {
		case err != nil:
			workerMetrics.ObservePoll(serviceName, 0, err)
			logger.Error("batch_failed", "error", err)
		default:
			workerMetrics.ObservePoll(serviceName, len(result.Records), nil)
			logger.Info("batch_processed", "processed", len(result.Records), "failed", len(result.Errors))
			if app.Config.RunReportEnabled && app.Config.SlackConfigured() {
				if _, _, err := app.Reports.PublishRunReport(ctx, result); err != nil {
					logger.Error("run_report_failed", "error", err)
				}
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
