package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fixflow-erp/fixflow/internal/repair"
)

const defaultTTL = 5 * time.Minute

// Fetcher loads a worker profile from the upstream source.
type Fetcher interface {
	FetchWorker(ctx context.Context, id string) (*repair.Worker, error)
}

// Directory is a read-through cache in front of the profile service. A nil
// Redis client degrades to direct fetches.
type Directory struct {
	fetcher Fetcher
	cache   *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
}

// New constructs a directory.
func New(fetcher Fetcher, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Directory {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Directory{fetcher: fetcher, cache: cache, ttl: ttl, logger: logger}
}

// Lookup resolves a worker, serving from cache when possible.
func (d *Directory) Lookup(ctx context.Context, id string) (*repair.Worker, error) {
	key := cacheKey(id)
	if d.cache != nil {
		payload, err := d.cache.Get(ctx, key).Bytes()
		if err == nil {
			var w repair.Worker
			if uerr := json.Unmarshal(payload, &w); uerr == nil {
				return &w, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			d.logger.Warn("worker cache read failed", slog.String("worker_id", id), slog.Any("error", err))
		}
	}

	worker, err := d.fetcher.FetchWorker(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.cache != nil {
		if raw, merr := json.Marshal(worker); merr == nil {
			if serr := d.cache.Set(ctx, key, raw, d.ttl).Err(); serr != nil {
				d.logger.Warn("worker cache write failed", slog.String("worker_id", id), slog.Any("error", serr))
			}
		}
	}
	return worker, nil
}

// Invalidate drops a cached worker after an upstream profile change.
func (d *Directory) Invalidate(ctx context.Context, id string) error {
	if d.cache == nil {
		return nil
	}
	return d.cache.Del(ctx, cacheKey(id)).Err()
}

func cacheKey(id string) string {
	return fmt.Sprintf("directory:worker:%s", id)
}
