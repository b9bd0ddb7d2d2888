package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vuxmai/sweeper/internal/core/domain"
	"github.com/vuxmai/sweeper/internal/infra/storage"
)

// OutcomeRepo implements storage.OutcomeRepository using PostgreSQL.
type OutcomeRepo struct {
	db *DB
}

// NewOutcomeRepo creates a new PostgreSQL outcome repository.
func NewOutcomeRepo(db *DB) *OutcomeRepo {
	return &OutcomeRepo{db: db}
}

// Exists reports whether an outcome is recorded for the item.
func (r *OutcomeRepo) Exists(ctx context.Context, itemID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM item_outcomes WHERE item_id = $1)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, itemID); err != nil {
		return false, fmt.Errorf("failed to check outcome existence: %w", err)
	}
	return exists, nil
}

// Upsert saves or replaces the outcome for an item.
func (r *OutcomeRepo) Upsert(ctx context.Context, o *domain.ItemOutcome) error {
	query := `
		INSERT INTO item_outcomes (id, item_id, partition, request_id, status, screenshot_ref, error_msg, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (item_id) DO UPDATE
		SET status = EXCLUDED.status,
		    screenshot_ref = EXCLUDED.screenshot_ref,
		    error_msg = EXCLUDED.error_msg,
		    processed_at = NOW()
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		o.ID,
		o.ItemID,
		o.Partition,
		o.RequestID,
		o.Status,
		o.ScreenshotRef,
		o.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert outcome: %w", err)
	}
	return nil
}

// Get retrieves the outcome for an item.
func (r *OutcomeRepo) Get(ctx context.Context, itemID string) (*domain.ItemOutcome, error) {
	query := `
		SELECT id, item_id, partition, request_id, status, screenshot_ref, error_msg, processed_at
		FROM item_outcomes
		WHERE item_id = $1
	`

	var o domain.ItemOutcome
	err := r.db.GetContext(ctx, &o, query, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}
	return &o, nil
}

// CountByStatus returns the number of outcomes with a status for a run.
func (r *OutcomeRepo) CountByStatus(
	ctx context.Context,
	requestID string,
	status domain.OutcomeStatus,
) (int, error) {
	query := `SELECT COUNT(*) FROM item_outcomes WHERE request_id = $1 AND status = $2`

	var count int
	if err := r.db.GetContext(ctx, &count, query, requestID, status); err != nil {
		return 0, fmt.Errorf("failed to count outcomes: %w", err)
	}
	return count, nil
}
