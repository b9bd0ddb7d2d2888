package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vuxmai/sweeper/internal/core/domain"
	"github.com/vuxmai/sweeper/internal/infra/artifact"
)

// =============================================================================
// Mock Store
// =============================================================================

type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (s *mapStore) Read(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[key]
	if !ok {
		return nil, artifact.ErrNotFound
	}
	return data, nil
}

func (s *mapStore) Write(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = data
	return nil
}

func (s *mapStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

// =============================================================================
// Persistence Tests
// =============================================================================

func TestManager_IndexRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newMapStore())

	state := domain.NewRunState("req-1", "member", "creds")
	state.CurrentProcessingList = domain.PartitionFollowers
	state.CurrentBatch = 2
	state.CompletedBatches = []int{0, 1}

	idx := domain.NewMasterIndex(100)
	idx.Files[domain.PartitionFollowers] = []string{"b0", "b1", "b2"}
	idx.Metadata.Totals[domain.PartitionFollowers] = 250

	if err := m.SaveIndex(ctx, "req-1", idx, state); err != nil {
		t.Fatal(err)
	}

	loaded, err := m.LoadIndex(ctx, "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Metadata.Totals[domain.PartitionFollowers] != 250 {
		t.Errorf("totals lost in round trip: %+v", loaded.Metadata.Totals)
	}
	if loaded.ProcessingState.CurrentList != domain.PartitionFollowers {
		t.Errorf("processing state list = %s", loaded.ProcessingState.CurrentList)
	}
	if loaded.ProcessingState.CurrentBatch != 2 {
		t.Errorf("processing state batch = %d", loaded.ProcessingState.CurrentBatch)
	}
	if len(loaded.ProcessingState.CompletedBatches) != 2 {
		t.Errorf("completed batches = %v", loaded.ProcessingState.CompletedBatches)
	}
}

func TestManager_LoadIndex_NotFound(t *testing.T) {
	m := NewManager(newMapStore())
	if _, err := m.LoadIndex(context.Background(), "nope"); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestManager_BatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newMapStore())

	key, err := m.SaveBatch(ctx, "req-1", &domain.BatchFile{
		Partition: domain.PartitionConnections,
		Number:    3,
		Items:     []string{"a", "b", "c"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if key != BatchKey("req-1", domain.PartitionConnections, 3) {
		t.Errorf("unexpected batch key %s", key)
	}

	batch, err := m.LoadBatch(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if batch.Number != 3 || len(batch.Items) != 3 {
		t.Errorf("batch lost in round trip: %+v", batch)
	}
}

func TestManager_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newMapStore())

	state := domain.NewRunState("req-1", "member", "creds")
	state.RecursionCount = 2
	state.HealPhase = "processing followers batch 1 index 40"
	state.CurrentIndex = 40

	if err := m.SaveSnapshot(ctx, "heal/req-1/snap.json", state); err != nil {
		t.Fatal(err)
	}

	loaded, err := m.LoadSnapshot(ctx, "heal/req-1/snap.json")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.RecursionCount != 2 || loaded.CurrentIndex != 40 {
		t.Errorf("snapshot lost in round trip: %+v", loaded)
	}
	if !loaded.IsHealed() {
		t.Error("loaded snapshot should read as healed")
	}
	if loaded.TotalConnections == nil {
		t.Error("totals map should be re-initialized on load")
	}

	if _, err := m.LoadSnapshot(ctx, "heal/req-1/missing.json"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}

// =============================================================================
// Position Predicate Tests
// =============================================================================

func TestShouldSkipPartition(t *testing.T) {
	state := domain.NewRunState("req-1", "member", "")
	state.CurrentProcessingList = domain.PartitionFollowers

	if !ShouldSkipPartition(state, domain.PartitionConnections) {
		t.Error("partitions before the current one must be skipped")
	}
	if ShouldSkipPartition(state, domain.PartitionFollowers) {
		t.Error("the current partition must not be skipped")
	}
	if ShouldSkipPartition(state, domain.PartitionFollowing) {
		t.Error("later partitions must not be skipped")
	}
}

func TestShouldSkipBatch(t *testing.T) {
	state := domain.NewRunState("req-1", "member", "")
	state.CurrentBatch = 2
	state.CompletedBatches = []int{0, 1, 4}

	if !ShouldSkipBatch(state, 0) || !ShouldSkipBatch(state, 1) {
		t.Error("batches below the current batch must be skipped")
	}
	if ShouldSkipBatch(state, 2) {
		t.Error("the current batch must not be skipped")
	}
	if ShouldSkipBatch(state, 3) {
		t.Error("an unprocessed later batch must not be skipped")
	}
	if !ShouldSkipBatch(state, 4) {
		t.Error("a completed later batch must be skipped")
	}
}

func TestStartIndex(t *testing.T) {
	state := domain.NewRunState("req-1", "member", "")
	state.CurrentBatch = 1
	state.CurrentIndex = 40

	if got := StartIndex(state, 1); got != 40 {
		t.Errorf("StartIndex in current batch = %d, want 40", got)
	}
	if got := StartIndex(state, 2); got != 0 {
		t.Errorf("StartIndex in later batch = %d, want 0", got)
	}
}
