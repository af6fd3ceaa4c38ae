package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/zambezi-erp/zambezi-erp/internal/app"
	"github.com/zambezi-erp/zambezi-erp/internal/documents"
	"github.com/zambezi-erp/zambezi-erp/internal/escrow"
	"github.com/zambezi-erp/zambezi-erp/internal/events"
	"github.com/zambezi-erp/zambezi-erp/internal/observability"
	"github.com/zambezi-erp/zambezi-erp/internal/platform/db"
	"github.com/zambezi-erp/zambezi-erp/internal/shared"
	"github.com/zambezi-erp/zambezi-erp/jobs"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	clock := shared.SystemClock{}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	publisher := events.NewAsynqPublisher(asynqClient, logger)
	metrics := observability.NewMetrics()

	escrowService := escrow.NewService(escrow.NewRepository(pool), clock)
	documentService := documents.NewService(
		documents.NewRepository(pool, clock),
		documents.NewTenantDirectory(pool),
		publisher,
		clock,
		logger,
	)

	escrowTask, err := jobs.NewEscrowAutoReleaseTask(time.Now().UTC(), cfg.SweepBatchLimit)
	if err != nil {
		logger.Error("build escrow sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	expiryTask, err := jobs.NewQuoteExpiryTask(time.Now().UTC(), cfg.SweepBatchLimit)
	if err != nil {
		logger.Error("build quote expiry task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskEscrowAutoRelease, Handler: jobs.NewEscrowAutoReleaseHandler(escrowService, metrics, logger)},
			{Type: jobs.TaskQuoteExpiry, Handler: jobs.NewQuoteExpiryHandler(documentService, metrics, logger)},
			{Type: events.TaskNotify, Handler: jobs.NewNotifyHandler(metrics, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.EscrowSweepCron, Task: escrowTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.QuoteExpiryCron, Task: expiryTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
