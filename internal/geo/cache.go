package geo

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/fraudsight/internal/syncutil"
	"github.com/mbd888/fraudsight/internal/traces"
)

// Cache memoizes Resolve results per distinct IP with compute-once-per-key
// semantics: under parallel scoring workers, each IP hits the underlying
// resolver at most once. Unresolved results are cached too, so a bad IP does
// not trigger repeated lookups within a batch.
type Cache struct {
	resolver Resolver
	timeout  time.Duration
	logger   *slog.Logger

	locks   syncutil.ShardedMutex
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	facts      Facts
	unresolved bool
}

// NewCache wraps resolver with a concurrency-safe memoizing cache.
// timeout bounds each underlying lookup; on expiry the IP degrades to
// unresolved rather than stalling the batch.
func NewCache(resolver Resolver, timeout time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		resolver: resolver,
		timeout:  timeout,
		logger:   logger,
		entries:  make(map[string]cacheEntry),
	}
}

// Resolve implements Resolver.
func (c *Cache) Resolve(ctx context.Context, ip string) (Facts, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return Facts{}, ErrUnresolved
	}

	c.mu.RLock()
	e, ok := c.entries[ip]
	c.mu.RUnlock()
	if ok {
		lookupsTotal.WithLabelValues(resultHit).Inc()
		return e.result()
	}

	// Per-key lock so concurrent workers asking for the same IP wait for one
	// lookup instead of duplicating it.
	unlock := c.locks.Lock(ip)
	defer unlock()

	c.mu.RLock()
	e, ok = c.entries[ip]
	c.mu.RUnlock()
	if ok {
		lookupsTotal.WithLabelValues(resultHit).Inc()
		return e.result()
	}

	lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	lookupCtx, span := traces.StartSpan(lookupCtx, "geo.resolve", traces.IP(ip))
	facts, err := c.resolver.Resolve(lookupCtx, ip)
	span.End()
	switch {
	case err == nil:
		e = cacheEntry{facts: facts}
		lookupsTotal.WithLabelValues(resultMiss).Inc()
	case errors.Is(err, ErrUnresolved):
		e = cacheEntry{unresolved: true}
		lookupsTotal.WithLabelValues(resultUnresolved).Inc()
	default:
		// Resolver failure (timeout, I/O). Degrade to unresolved, keep going.
		c.logger.Warn("geo lookup failed", "ip", ip, "error", err)
		e = cacheEntry{unresolved: true}
		lookupsTotal.WithLabelValues(resultError).Inc()
	}

	c.mu.Lock()
	c.entries[ip] = e
	c.mu.Unlock()

	return e.result()
}

// Len returns the number of distinct IPs cached so far.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (e cacheEntry) result() (Facts, error) {
	if e.unresolved {
		return Facts{}, ErrUnresolved
	}
	return e.facts, nil
}
