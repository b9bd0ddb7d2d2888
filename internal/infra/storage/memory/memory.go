package memory

import (
	"context"
	"sync"

	"github.com/vuxmai/sweeper/internal/core/domain"
	"github.com/vuxmai/sweeper/internal/infra/storage"
)

// OutcomeRepo is an in-memory storage.OutcomeRepository, used when no
// database is configured and in tests.
type OutcomeRepo struct {
	mu       sync.RWMutex
	outcomes map[string]*domain.ItemOutcome
}

func NewOutcomeRepo() *OutcomeRepo {
	return &OutcomeRepo{outcomes: make(map[string]*domain.ItemOutcome)}
}

func (r *OutcomeRepo) Exists(ctx context.Context, itemID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.outcomes[itemID]
	return ok, nil
}

func (r *OutcomeRepo) Upsert(ctx context.Context, outcome *domain.ItemOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *outcome
	r.outcomes[outcome.ItemID] = &cp
	return nil
}

func (r *OutcomeRepo) Get(ctx context.Context, itemID string) (*domain.ItemOutcome, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.outcomes[itemID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *OutcomeRepo) CountByStatus(ctx context.Context, requestID string, status domain.OutcomeStatus) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, o := range r.outcomes {
		if o.RequestID == requestID && o.Status == status {
			n++
		}
	}
	return n, nil
}
