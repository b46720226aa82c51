package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/finboard/market-metrics/pkg/logging"
)

const (
	redisKeyPrefix = "metrics:entry:"
	redisKeySet    = "metrics:keys"
	redisLastWrite = "metrics:last_write"
)

// Redis is a Store backed by a shared Redis instance, for deployments that
// want several replicas to share one cache tier. Entries are stored without
// a Redis TTL: staleness is judged against the stored WrittenAt, and stale
// entries must stay readable for degraded resolutions.
type Redis struct {
	client *redis.Client
	window time.Duration
	logger zerolog.Logger
}

// NewRedis creates a Redis-backed store with the given freshness window.
func NewRedis(client *redis.Client, window time.Duration) *Redis {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	return &Redis{
		client: client,
		window: window,
		logger: logging.NewLogger("store-redis"),
	}
}

// IsFresh reports whether a fresh entry exists for the metric.
// A backend error counts as not fresh; the caller proceeds to a live fetch.
func (r *Redis) IsFresh(ctx context.Context, metric string) bool {
	entry, err := r.Get(ctx, metric)
	if err != nil {
		CacheMisses.WithLabelValues("redis").Inc()
		return false
	}
	if !entry.Fresh(time.Now(), r.window) {
		CacheMisses.WithLabelValues("redis").Inc()
		return false
	}
	CacheHits.WithLabelValues("redis").Inc()
	return true
}

// Get returns the entry for the metric, fresh or stale.
func (r *Redis) Get(ctx context.Context, metric string) (*Entry, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+metric).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("redis", "get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("redis", "get").Inc()
		return nil, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	return &entry, nil
}

// Put atomically replaces the entry for the metric. The value and timestamp
// travel in one SET, so a reader never sees them torn apart.
func (r *Redis) Put(ctx context.Context, metric string, value json.RawMessage) error {
	now := time.Now()
	entry := Entry{Value: value, WrittenAt: now}

	data, err := json.Marshal(&entry)
	if err != nil {
		CacheErrors.WithLabelValues("redis", "put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+metric, data, 0)
	pipe.SAdd(ctx, redisKeySet, metric)
	pipe.Set(ctx, redisLastWrite, now.Format(time.RFC3339Nano), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("redis", "put").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheWrites.WithLabelValues("redis").Inc()
	return nil
}

// ClearAll resets every entry to absent.
func (r *Redis) ClearAll(ctx context.Context) error {
	metrics, err := r.client.SMembers(ctx, redisKeySet).Result()
	if err != nil && err != redis.Nil {
		CacheErrors.WithLabelValues("redis", "clear").Inc()
		return fmt.Errorf("redis smembers: %w", err)
	}

	keys := make([]string, 0, len(metrics)+2)
	for _, m := range metrics {
		keys = append(keys, redisKeyPrefix+m)
	}
	keys = append(keys, redisKeySet, redisLastWrite)

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		CacheErrors.WithLabelValues("redis", "clear").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	r.logger.Info().Int("entries", len(metrics)).Msg("Cache cleared")
	return nil
}

// LastWrite returns the most recent write time across all metrics.
func (r *Redis) LastWrite(ctx context.Context) (time.Time, bool) {
	raw, err := r.client.Get(ctx, redisLastWrite).Result()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn().Err(err).Msg("Last-write lookup failed")
		}
		return time.Time{}, false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
