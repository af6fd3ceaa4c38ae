package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/zambezi-erp/zambezi-erp/internal/app"
	"github.com/zambezi-erp/zambezi-erp/internal/declaration"
	"github.com/zambezi-erp/zambezi-erp/internal/documents"
	"github.com/zambezi-erp/zambezi-erp/internal/escrow"
	"github.com/zambezi-erp/zambezi-erp/internal/events"
	"github.com/zambezi-erp/zambezi-erp/internal/journal"
	"github.com/zambezi-erp/zambezi-erp/internal/observability"
	"github.com/zambezi-erp/zambezi-erp/internal/platform/cache"
	"github.com/zambezi-erp/zambezi-erp/internal/platform/db"
	"github.com/zambezi-erp/zambezi-erp/internal/shared"
	"github.com/zambezi-erp/zambezi-erp/internal/stock"
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis connect", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)
	metrics := observability.NewMetrics()

	clock := shared.SystemClock{}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	publisher := events.NewAsynqPublisher(asynqClient, logger)

	documentService := documents.NewService(
		documents.NewRepository(pool, clock),
		documents.NewTenantDirectory(pool),
		publisher,
		clock,
		logger,
	)

	escrowService := escrow.NewService(escrow.NewRepository(pool), clock)
	stockService := stock.NewService(stock.NewRepository(pool), clock)

	var locker declaration.Locker
	if redisClient != nil {
		locker = declaration.NewRedisLocker(redisClient, cfg.DeclarationLockTTL)
	}
	declarationService := declaration.NewService(declaration.NewRepository(pool), locker, clock)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		Pool:         pool,
		JobHandler:   jobHandler,
		Metrics:      metrics,
		Documents:    documents.NewHandler(documentService, journal.NewReader(pool), logger),
		Declarations: declaration.NewHandler(declarationService, logger),
		Escrows:      escrow.NewHandler(escrowService, logger),
		Stock:        stock.NewHandler(stockService, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("server run", slog.Any("error", err))
		os.Exit(1)
	}
}
