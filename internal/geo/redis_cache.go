package geo

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "geo:"

// DefaultRedisTTL bounds how long resolved facts stay in Redis. Geo data
// changes slowly; a day keeps lookups warm across batch runs.
const DefaultRedisTTL = 24 * time.Hour

// RedisCache layers a shared Redis cache over another Resolver so repeated
// batch runs (or multiple scoring instances) reuse each other's lookups.
// Redis being down never fails a lookup; it falls through to the inner
// resolver.
type RedisCache struct {
	client *redis.Client
	inner  Resolver
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache creates a Redis-backed cache in front of inner.
func NewRedisCache(client *redis.Client, inner Resolver, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, inner: inner, ttl: ttl, logger: logger}
}

// Resolve implements Resolver.
func (r *RedisCache) Resolve(ctx context.Context, ip string) (Facts, error) {
	key := redisKeyPrefix + ip

	val, err := r.client.Get(ctx, key).Result()
	if err == nil {
		var facts Facts
		if jsonErr := json.Unmarshal([]byte(val), &facts); jsonErr == nil {
			if !facts.Known() {
				return Facts{}, ErrUnresolved
			}
			return facts, nil
		}
		// Corrupt entry: fall through and overwrite.
	} else if !errors.Is(err, redis.Nil) {
		r.logger.Warn("redis geo cache read failed", "ip", ip, "error", err)
	}

	facts, resolveErr := r.inner.Resolve(ctx, ip)
	if resolveErr != nil && !errors.Is(resolveErr, ErrUnresolved) {
		return Facts{}, resolveErr
	}

	// Cache resolved and unresolved alike; an unresolved IP stays unresolved
	// until the database is replaced.
	payload, err := json.Marshal(facts)
	if err == nil {
		if setErr := r.client.Set(ctx, key, payload, r.ttl).Err(); setErr != nil {
			r.logger.Warn("redis geo cache write failed", "ip", ip, "error", setErr)
		}
	}

	return facts, resolveErr
}
