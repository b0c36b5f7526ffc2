package risk

import (
	"context"
	"sync"

	"github.com/mbd888/fraudsight/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for CLI and test use.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments map[string][]*Assessment // userKey -> assessments
}

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assessments: make(map[string][]*Assessment),
	}
}

func (s *MemoryStore) Record(ctx context.Context, a *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	cp.Factors = append([]Factor(nil), a.Factors...)

	s.assessments[a.UserKey] = append(s.assessments[a.UserKey], &cp)
	return nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userKey string, limit int, before *pagination.Cursor) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.assessments[userKey]
	if len(all) == 0 {
		return nil, nil
	}

	// Most recent first, up to limit, skipping entries at or after the cursor.
	var result []*Assessment
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		a := all[i]
		if before != nil {
			older := a.EvaluatedAt.Before(before.CreatedAt) ||
				(a.EvaluatedAt.Equal(before.CreatedAt) && a.ID < before.ID)
			if !older {
				continue
			}
		}
		cp := *a
		cp.Factors = append([]Factor(nil), a.Factors...)
		result = append(result, &cp)
	}
	return result, nil
}
