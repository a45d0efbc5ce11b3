package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-books/meridian/internal/accounting/journals"
	"github.com/meridian-books/meridian/internal/accounting/posting"
	postinghttp "github.com/meridian-books/meridian/internal/accounting/posting/http"
	"github.com/meridian-books/meridian/internal/app"
	"github.com/meridian-books/meridian/internal/observability"
	"github.com/meridian-books/meridian/internal/reconciliation"
	reconhttp "github.com/meridian-books/meridian/internal/reconciliation/http"
	"github.com/meridian-books/meridian/internal/shared"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)

	coordinator := posting.NewCoordinator(
		posting.NewPGStore(pool),
		posting.NewPGRunner(pool),
		auditLogger,
		logger,
		cfg.TxTimeout,
	).WithMetrics(metrics)
	journalHandler := postinghttp.NewHandler(logger, coordinator, journals.NewRepository(pool))

	reconRepo := reconciliation.NewRepository(pool)
	reconCache := reconciliation.NewRedisSummaryCache(redisClient, cfg.ReconSummaryTTL)
	reconService := reconciliation.NewService(reconRepo, reconCache, auditLogger, logger).WithMetrics(metrics)
	reconHandler := reconhttp.NewHandler(logger, reconService)

	router := app.NewRouter(app.RouterConfig{
		Logger:         logger,
		Config:         cfg,
		Metrics:        metrics,
		Journals:       journalHandler,
		Reconciliation: reconHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
