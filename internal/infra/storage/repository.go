package storage

import (
	"context"
	"errors"

	"github.com/vuxmai/sweeper/internal/core/domain"
)

var (
	// ErrNotFound is returned when a record doesn't exist
	ErrNotFound = errors.New("record not found")
)

// OutcomeRepository handles per-item outcome storage. Existence of an
// outcome is the idempotency check consulted before any side-effecting
// action.
type OutcomeRepository interface {
	// Exists reports whether an outcome is recorded for the item
	Exists(ctx context.Context, itemID string) (bool, error)

	// Upsert saves or replaces the outcome for an item
	Upsert(ctx context.Context, outcome *domain.ItemOutcome) error

	// Get retrieves the outcome for an item
	Get(ctx context.Context, itemID string) (*domain.ItemOutcome, error)

	// CountByStatus returns the number of outcomes with a status for a run
	CountByStatus(ctx context.Context, requestID string, status domain.OutcomeStatus) (int, error)
}
