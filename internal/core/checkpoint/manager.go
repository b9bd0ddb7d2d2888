// Package checkpoint persists and validates the (partition, batch, index)
// position that makes a run exactly resumable.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vuxmai/sweeper/internal/core/domain"
	"github.com/vuxmai/sweeper/internal/infra/artifact"
)

var (
	// ErrIndexNotFound is returned when a run has no MasterIndex yet.
	ErrIndexNotFound = errors.New("master index not found")

	// ErrSnapshotNotFound is returned when a snapshot key doesn't exist.
	ErrSnapshotNotFound = errors.New("run snapshot not found")
)

// Manager handles MasterIndex and RunState snapshot persistence over the
// artifact store.
type Manager struct {
	store artifact.Store
}

// NewManager creates a checkpoint manager backed by store.
func NewManager(store artifact.Store) *Manager {
	return &Manager{store: store}
}

// IndexKey returns the MasterIndex artifact key for a run.
func IndexKey(requestID string) string {
	return fmt.Sprintf("runs/%s/master_index.json", requestID)
}

// BatchKey returns the BatchFile artifact key for one batch.
func BatchKey(requestID string, p domain.Partition, number int) string {
	return fmt.Sprintf("runs/%s/batches/%s/batch_%04d.json", requestID, p, number)
}

// LoadIndex retrieves the MasterIndex for a run.
func (m *Manager) LoadIndex(ctx context.Context, requestID string) (*domain.MasterIndex, error) {
	var idx domain.MasterIndex
	err := artifact.LoadJSON(ctx, m.store, IndexKey(requestID), &idx)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, ErrIndexNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load master index: %w", err)
	}
	if idx.Files == nil {
		idx.Files = make(map[domain.Partition][]string)
	}
	if idx.Metadata.Totals == nil {
		idx.Metadata.Totals = make(map[domain.Partition]int)
	}
	return &idx, nil
}

// SaveIndex persists the MasterIndex, mirroring the orchestrator position
// into its processing state so the ledger stays independently resumable.
func (m *Manager) SaveIndex(ctx context.Context, requestID string, idx *domain.MasterIndex, state *domain.RunState) error {
	idx.ProcessingState = domain.ProcessingState{
		CurrentList:      state.CurrentProcessingList,
		CurrentBatch:     state.CurrentBatch,
		CompletedBatches: append([]int(nil), state.CompletedBatches...),
		UpdatedAt:        time.Now(),
	}
	return artifact.SaveJSON(ctx, m.store, IndexKey(requestID), idx)
}

// SaveBatch persists one immutable BatchFile and returns its key.
func (m *Manager) SaveBatch(ctx context.Context, requestID string, batch *domain.BatchFile) (string, error) {
	key := BatchKey(requestID, batch.Partition, batch.Number)
	if err := artifact.SaveJSON(ctx, m.store, key, batch); err != nil {
		return "", err
	}
	return key, nil
}

// LoadBatch retrieves a BatchFile by key.
func (m *Manager) LoadBatch(ctx context.Context, key string) (*domain.BatchFile, error) {
	var batch domain.BatchFile
	if err := artifact.LoadJSON(ctx, m.store, key, &batch); err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", key, err)
	}
	return &batch, nil
}

// SaveSnapshot persists a full RunState under key.
func (m *Manager) SaveSnapshot(ctx context.Context, key string, state *domain.RunState) error {
	return artifact.SaveJSON(ctx, m.store, key, state)
}

// LoadSnapshot retrieves a RunState snapshot by key.
func (m *Manager) LoadSnapshot(ctx context.Context, key string) (*domain.RunState, error) {
	var state domain.RunState
	err := artifact.LoadJSON(ctx, m.store, key, &state)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", key, err)
	}
	if state.TotalConnections == nil {
		state.TotalConnections = make(map[domain.Partition]int)
	}
	return &state, nil
}

// ShouldSkipPartition reports whether p was fully processed in a prior
// attempt: it precedes the state's current partition in the fixed order.
func ShouldSkipPartition(state *domain.RunState, p domain.Partition) bool {
	return domain.PartitionRank(p) < domain.PartitionRank(state.CurrentProcessingList)
}

// ShouldSkipBatch reports whether batch n must not be re-entered. Batches
// below CurrentBatch are skipped even when CompletedBatches bookkeeping is
// incomplete; the orchestrator never moves backwards.
func ShouldSkipBatch(state *domain.RunState, n int) bool {
	return n < state.CurrentBatch || state.HasCompletedBatch(n)
}

// StartIndex returns the item offset to begin from within batch n.
func StartIndex(state *domain.RunState, n int) int {
	if n == state.CurrentBatch {
		return state.CurrentIndex
	}
	return 0
}
