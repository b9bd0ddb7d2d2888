// Package session abstracts the web-surface driver: authenticating an
// identity, enumerating partition items and performing the capture action
// against a single item.
package session

import (
	"context"
	"time"

	"github.com/vuxmai/sweeper/internal/core/domain"
)

// ActionResult is what one item interaction produced.
type ActionResult struct {
	ItemID      string    `json:"item_id"`
	Partition   string    `json:"partition"`
	PerformedAt time.Time `json:"performed_at"`
}

// Driver is the surface the pipeline runs against.
type Driver interface {
	// Login establishes an authenticated session for identity. When resume
	// is true the driver reuses a previous session if one survives.
	Login(ctx context.Context, identity, credentialsRef string, resume bool) error

	// ListItems enumerates the item identifiers of a partition in the
	// surface's presentation order.
	ListItems(ctx context.Context, p domain.Partition) ([]string, error)

	// PerformAction runs the capture interaction against one item.
	PerformAction(ctx context.Context, itemID string, p domain.Partition) (*ActionResult, error)

	// CaptureAndStore takes an evidence snapshot for itemID and returns a
	// reference to where it was stored.
	CaptureAndStore(ctx context.Context, itemID string) (string, error)

	// Close tears the session down.
	Close() error
}
