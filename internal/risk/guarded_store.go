package risk

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/fraudsight/internal/circuitbreaker"
	"github.com/mbd888/fraudsight/internal/pagination"
)

// ErrStoreUnavailable is returned while the circuit to the backing store
// is open.
var ErrStoreUnavailable = errors.New("assessment store unavailable")

const breakerKey = "assessments"

// GuardedStore wraps a Store with a circuit breaker. Persistence during
// scoring is best effort, so a struggling database should shed load
// quickly instead of stalling every batch on its timeout.
type GuardedStore struct {
	inner   Store
	breaker *circuitbreaker.Breaker
}

// NewGuardedStore wraps inner with a circuit breaker that opens after 5
// consecutive failures and probes again after 30 seconds.
func NewGuardedStore(inner Store) *GuardedStore {
	return &GuardedStore{
		inner:   inner,
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

func (g *GuardedStore) Record(ctx context.Context, a *Assessment) error {
	if !g.breaker.Allow(breakerKey) {
		return ErrStoreUnavailable
	}
	if err := g.inner.Record(ctx, a); err != nil {
		g.breaker.RecordFailure(breakerKey)
		return err
	}
	g.breaker.RecordSuccess(breakerKey)
	return nil
}

func (g *GuardedStore) ListByUser(ctx context.Context, userKey string, limit int, before *pagination.Cursor) ([]*Assessment, error) {
	if !g.breaker.Allow(breakerKey) {
		return nil, ErrStoreUnavailable
	}
	result, err := g.inner.ListByUser(ctx, userKey, limit, before)
	if err != nil {
		g.breaker.RecordFailure(breakerKey)
		return nil, err
	}
	g.breaker.RecordSuccess(breakerKey)
	return result, nil
}
