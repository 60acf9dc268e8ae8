package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fixflow-erp/fixflow/internal/app"
	"github.com/fixflow-erp/fixflow/internal/directory"
	"github.com/fixflow-erp/fixflow/internal/observability"
	"github.com/fixflow-erp/fixflow/internal/platform/cache"
	"github.com/fixflow-erp/fixflow/internal/platform/db"
	"github.com/fixflow-erp/fixflow/internal/rbac"
	"github.com/fixflow-erp/fixflow/internal/repair"
	"github.com/fixflow-erp/fixflow/internal/shared"
	"github.com/fixflow-erp/fixflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	metrics := observability.NewMetrics()
	idempotencyStore := shared.NewIdempotencyStore(pool)

	policy := rbac.NewPolicy()
	profileClient := directory.NewClient(cfg.ProfileServiceURL, 5*time.Second)
	workers := directory.New(profileClient, redisClient, cfg.ProfileCacheTTL, logger)

	repairRepo := repair.NewRepository(pool)
	repairEngine := repair.NewEngine(policy)
	repairService := repair.NewService(repairRepo, repairEngine, policy, workers, logger, metrics)

	sweepTask, err := jobs.NewArchiveSweepTask(jobs.ArchiveSweepPayload{
		RetentionDays: cfg.ArchiveRetentionDays,
		Limit:         cfg.ArchiveSweepLimit,
	})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(jobs.IdempotencyCleanupPayload{
		MaxAgeHours: cfg.IdempotencyMaxAgeHours,
	})
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskArchiveSweep, Handler: jobs.ArchiveSweepHandler(repairService, logger)},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.IdempotencyCleanupHandler(idempotencyStore, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ArchiveSweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IdempotencyCleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
