package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/fixflow-erp/fixflow/internal/app"
	"github.com/fixflow-erp/fixflow/internal/ar"
	"github.com/fixflow-erp/fixflow/internal/directory"
	"github.com/fixflow-erp/fixflow/internal/documents"
	"github.com/fixflow-erp/fixflow/internal/observability"
	"github.com/fixflow-erp/fixflow/internal/platform/cache"
	"github.com/fixflow-erp/fixflow/internal/platform/db"
	"github.com/fixflow-erp/fixflow/internal/rbac"
	"github.com/fixflow-erp/fixflow/internal/repair"
	"github.com/fixflow-erp/fixflow/internal/shared"
	"github.com/fixflow-erp/fixflow/jobs"
)

// obligationRecorder adapts the receivables service to the interface the
// documents coordinator expects.
type obligationRecorder struct {
	svc *ar.Service
}

func (o obligationRecorder) Record(ctx context.Context, doc *documents.Document) error {
	return o.svc.Record(ctx, doc)
}

func (o obligationRecorder) Settle(ctx context.Context, docID uuid.UUID) error {
	return o.svc.Settle(ctx, docID)
}

func (o obligationRecorder) Void(ctx context.Context, docID uuid.UUID) error {
	return o.svc.Void(ctx, docID)
}

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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	policy := rbac.NewPolicy()
	rbacMiddleware := rbac.Middleware{Policy: policy, Logger: logger}

	profileClient := directory.NewClient(cfg.ProfileServiceURL, 5*time.Second)
	workers := directory.New(profileClient, redisClient, cfg.ProfileCacheTTL, logger)

	repairRepo := repair.NewRepository(dbpool)
	repairEngine := repair.NewEngine(policy)
	repairService := repair.NewService(repairRepo, repairEngine, policy, workers, logger, metrics)
	repairHandler := repair.NewHandler(logger, repairService, idempotencyStore)

	arRepo := ar.NewRepository(dbpool)
	arService := ar.NewService(arRepo, logger)

	docsRepo := documents.NewRepository(dbpool)
	docsCoordinator := documents.NewCoordinator(docsRepo, obligationRecorder{svc: arService}, policy, logger, metrics)
	docsHandler := documents.NewHandler(logger, docsCoordinator, idempotencyStore)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("asynq client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, queueClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		RepairHandler:    repairHandler,
		DocumentsHandler: docsHandler,
		JobHandler:       jobHandler,
		RBACMiddleware:   rbacMiddleware,
		Metrics:          metrics,
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
