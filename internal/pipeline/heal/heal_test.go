package heal

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/vuxmai/sweeper/internal/core/checkpoint"
	"github.com/vuxmai/sweeper/internal/core/domain"
	"github.com/vuxmai/sweeper/internal/infra/artifact"
)

// =============================================================================
// Mocks
// =============================================================================

type mapStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	failing bool
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
	if s.failing {
		return errors.New("disk full")
	}
	s.data[key] = data
	return nil
}

func (s *mapStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

type mockSpawner struct {
	keys []string
	err  error
}

func (m *mockSpawner) Spawn(ctx context.Context, snapshotKey string) error {
	if m.err != nil {
		return m.err
	}
	m.keys = append(m.keys, snapshotKey)
	return nil
}

func newTestManager(store *mapStore, spawner *mockSpawner) (*Manager, *checkpoint.Manager) {
	cp := checkpoint.NewManager(store)
	return NewManager(Config{}, cp, spawner, slog.Default()), cp
}

// =============================================================================
// Handoff Tests
// =============================================================================

func TestHandoff_SnapshotAndSpawn(t *testing.T) {
	store := newMapStore()
	spawner := &mockSpawner{}
	m, cp := newTestManager(store, spawner)

	state := domain.NewRunState("req-1", "member", "creds")
	state.CurrentProcessingList = domain.PartitionFollowing
	state.CurrentIndex = 10
	state.MasterIndexKey = "runs/req-1/master_index.json"

	cause := errors.New("browser crashed")
	if err := m.Handoff(context.Background(), state, cause); err != nil {
		t.Fatal(err)
	}

	if len(spawner.keys) != 1 {
		t.Fatalf("expected exactly one spawn, got %d", len(spawner.keys))
	}

	snap, err := cp.LoadSnapshot(context.Background(), spawner.keys[0])
	if err != nil {
		t.Fatal(err)
	}
	if snap.RecursionCount != 1 {
		t.Errorf("snapshot recursion count = %d, want 1", snap.RecursionCount)
	}
	if snap.HealReason != "browser crashed" {
		t.Errorf("snapshot heal reason = %q", snap.HealReason)
	}
	if snap.CurrentProcessingList != domain.PartitionFollowing || snap.CurrentIndex != 10 {
		t.Errorf("snapshot position lost: %+v", snap)
	}
	if !snap.IsHealed() {
		t.Error("snapshot must carry a heal phase")
	}

	// The live state is untouched; only the snapshot is advanced.
	if state.RecursionCount != 0 {
		t.Error("handoff must not mutate the caller's state")
	}
}

func TestHandoff_RestartCeiling(t *testing.T) {
	store := newMapStore()
	spawner := &mockSpawner{}
	m, _ := newTestManager(store, spawner)

	state := domain.NewRunState("req-1", "member", "")
	state.RecursionCount = DefaultMaxRestarts

	err := m.Handoff(context.Background(), state, errors.New("still crashing"))
	if !errors.Is(err, ErrRestartCeiling) {
		t.Fatalf("expected ErrRestartCeiling, got %v", err)
	}
	if len(spawner.keys) != 0 {
		t.Error("no successor may be spawned past the ceiling")
	}
	if len(store.data) != 0 {
		t.Error("no snapshot may be written past the ceiling")
	}
}

func TestHandoff_SnapshotFailureAborts(t *testing.T) {
	store := newMapStore()
	store.failing = true
	spawner := &mockSpawner{}
	m, _ := newTestManager(store, spawner)

	state := domain.NewRunState("req-1", "member", "")
	err := m.Handoff(context.Background(), state, errors.New("browser crashed"))
	if err == nil {
		t.Fatal("expected error when the snapshot cannot be written")
	}
	if len(spawner.keys) != 0 {
		t.Error("no successor may be spawned without a snapshot")
	}
}

func TestHandoff_SpawnFailure(t *testing.T) {
	store := newMapStore()
	spawner := &mockSpawner{err: errors.New("exec format error")}
	m, _ := newTestManager(store, spawner)

	state := domain.NewRunState("req-1", "member", "")
	if err := m.Handoff(context.Background(), state, errors.New("boom")); err == nil {
		t.Fatal("expected spawn failure to surface")
	}
}

// =============================================================================
// Phase Discriminator Tests
// =============================================================================

func TestDescribePhase(t *testing.T) {
	state := domain.NewRunState("req-1", "member", "")
	if got := DescribePhase(state); got != "enumerating" {
		t.Errorf("fresh state phase = %q", got)
	}

	state.MasterIndexKey = "runs/req-1/master_index.json"
	if got := DescribePhase(state); got != "starting connections" {
		t.Errorf("indexed state phase = %q", got)
	}

	state.CurrentProcessingList = domain.PartitionFollowers
	state.CurrentBatch = 1
	state.CurrentIndex = 40
	got := DescribePhase(state)
	if !strings.Contains(got, "followers") || !strings.Contains(got, "batch 1") || !strings.Contains(got, "index 40") {
		t.Errorf("processing phase %q missing position", got)
	}
}
