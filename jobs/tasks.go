// Package jobs defines background task types and the Asynq worker runtime.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fixflow-erp/fixflow/internal/jobs"
	"github.com/fixflow-erp/fixflow/internal/repair"
	"github.com/fixflow-erp/fixflow/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskArchiveSweep moves long-closed jobs into their year partitions.
	TaskArchiveSweep = "repair:archive_sweep"
	// TaskIdempotencyCleanup prunes expired idempotency claims.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// ArchiveSweepPayload bounds one sweep run.
type ArchiveSweepPayload struct {
	RetentionDays int `json:"retention_days"`
	Limit         int `json:"limit"`
}

// NewArchiveSweepTask constructs an archive sweep task.
func NewArchiveSweepTask(payload ArchiveSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskArchiveSweep, data), nil
}

// IdempotencyCleanupPayload bounds one cleanup run.
type IdempotencyCleanupPayload struct {
	MaxAgeHours int `json:"max_age_hours"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// ArchiveSweepHandler returns the handler for TaskArchiveSweep.
func ArchiveSweepHandler(svc *repair.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ArchiveSweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.RetentionDays <= 0 {
			payload.RetentionDays = 90
		}
		if payload.Limit <= 0 {
			payload.Limit = 200
		}
		cutoff := time.Now().AddDate(0, 0, -payload.RetentionDays)
		tracker := defaultJobMetrics.Track(TaskArchiveSweep)
		moved, err := svc.SweepArchive(ctx, cutoff, payload.Limit)
		if err := tracker.End(err); err != nil {
			return err
		}
		defaultJobMetrics.AddSwept(TaskArchiveSweep, int64(moved))
		logger.Info("archive sweep finished",
			slog.Int("moved", moved),
			slog.Time("cutoff", cutoff))
		return nil
	}
}

// IdempotencyCleanupHandler returns the handler for TaskIdempotencyCleanup.
func IdempotencyCleanupHandler(store *shared.IdempotencyStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.MaxAgeHours <= 0 {
			payload.MaxAgeHours = 48
		}
		tracker := defaultJobMetrics.Track(TaskIdempotencyCleanup)
		removed, err := store.Cleanup(ctx, time.Duration(payload.MaxAgeHours)*time.Hour)
		if err := tracker.End(err); err != nil {
			return err
		}
		defaultJobMetrics.AddSwept(TaskIdempotencyCleanup, removed)
		logger.Info("idempotency cleanup finished", slog.Int64("removed", removed))
		return nil
	}
}
