package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vuxmai/sweeper/internal/core/checkpoint"
	"github.com/vuxmai/sweeper/internal/core/domain"
	"github.com/vuxmai/sweeper/internal/infra/artifact"
	"github.com/vuxmai/sweeper/internal/infra/session"
	"github.com/vuxmai/sweeper/internal/infra/storage/memory"
	"github.com/vuxmai/sweeper/internal/pipeline/behavior"
	"github.com/vuxmai/sweeper/internal/pipeline/heal"
	"github.com/vuxmai/sweeper/internal/pipeline/queue"
)

// =============================================================================
// Mocks
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

type mockDriver struct {
	mu           sync.Mutex
	items        map[domain.Partition][]string
	failures     map[string]error
	performCount map[string]int
	listCalls    int
	loginCalls   int
	lastResume   bool
}

func newMockDriver(perPartition int) *mockDriver {
	d := &mockDriver{
		items:        make(map[domain.Partition][]string),
		failures:     make(map[string]error),
		performCount: make(map[string]int),
	}
	for _, p := range domain.PartitionOrder {
		for i := 0; i < perPartition; i++ {
			d.items[p] = append(d.items[p], fmt.Sprintf("%s_%03d", p, i))
		}
	}
	return d
}

func (d *mockDriver) Login(ctx context.Context, identity, credentialsRef string, resume bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loginCalls++
	d.lastResume = resume
	return nil
}

func (d *mockDriver) ListItems(ctx context.Context, p domain.Partition) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listCalls++
	return d.items[p], nil
}

func (d *mockDriver) PerformAction(ctx context.Context, itemID string, p domain.Partition) (*session.ActionResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.performCount[itemID]++
	if err, ok := d.failures[itemID]; ok {
		return nil, err
	}
	return &session.ActionResult{ItemID: itemID, Partition: string(p), PerformedAt: time.Now()}, nil
}

func (d *mockDriver) CaptureAndStore(ctx context.Context, itemID string) (string, error) {
	return "shots/" + itemID + ".png", nil
}

func (d *mockDriver) Close() error { return nil }

func (d *mockDriver) setFailure(itemID string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, itemID)
	} else {
		d.failures[itemID] = err
	}
}

func (d *mockDriver) attempts(itemID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.performCount[itemID]
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	store    *mapStore
	driver   *mockDriver
	cp       *checkpoint.Manager
	outcomes *memory.OutcomeRepo
	orch     *Orchestrator
}

func newHarness(t *testing.T, perPartition int) *harness {
	t.Helper()

	store := newMapStore()
	driver := newMockDriver(perPartition)
	cp := checkpoint.NewManager(store)
	outcomes := memory.NewOutcomeRepo()

	// Cadence thresholds set far out of reach so pacing never interferes.
	engine := behavior.NewEngine(behavior.Config{
		ActionsPerMinute: 1 << 20,
		ActionsPerHour:   1 << 20,
	})

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := New(DefaultConfig(), driver, cp, outcomes, queue.New(1), engine, log)
	orch.SetSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() })

	return &harness{store: store, driver: driver, cp: cp, outcomes: outcomes, orch: orch}
}

// =============================================================================
// Tests
// =============================================================================

func TestRun_CompletesAllPartitions(t *testing.T) {
	h := newHarness(t, 150)
	state := domain.NewRunState("req-1", "member", "creds")

	res, err := h.orch.Run(context.Background(), state)
	if err != nil {
		t.Fatal(err)
	}

	if res.Processed != 450 {
		t.Errorf("processed = %d, want 450", res.Processed)
	}
	if res.Skipped != 0 || res.Errors != 0 {
		t.Errorf("skipped/errors = %d/%d, want 0/0", res.Skipped, res.Errors)
	}

	// 150 items at batch size 100 make ceil(150/100) = 2 batch files.
	idx, err := h.cp.LoadIndex(context.Background(), "req-1")
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range domain.PartitionOrder {
		if got := len(idx.Files[p]); got != 2 {
			t.Errorf("partition %s has %d batch files, want 2", p, got)
		}
		if idx.Metadata.Totals[p] != 150 {
			t.Errorf("partition %s total = %d, want 150", p, idx.Metadata.Totals[p])
		}
	}

	if h.driver.loginCalls != 1 {
		t.Errorf("login calls = %d, want 1", h.driver.loginCalls)
	}
	if h.driver.lastResume {
		t.Error("fresh run must not ask for session resume")
	}
}

func TestRun_IdempotentSkip(t *testing.T) {
	h := newHarness(t, 50)
	ctx := context.Background()

	// Pre-record outcomes for the first ten connection items.
	for i := 0; i < 10; i++ {
		itemID := fmt.Sprintf("%s_%03d", domain.PartitionConnections, i)
		err := h.outcomes.Upsert(ctx, &domain.ItemOutcome{
			ID:     fmt.Sprintf("pre-%d", i),
			ItemID: itemID,
			Status: domain.OutcomeCaptured,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	state := domain.NewRunState("req-1", "member", "")
	res, err := h.orch.Run(ctx, state)
	if err != nil {
		t.Fatal(err)
	}

	if res.Skipped != 10 {
		t.Errorf("skipped = %d, want 10", res.Skipped)
	}
	if res.Processed != 140 {
		t.Errorf("processed = %d, want 140", res.Processed)
	}
	for i := 0; i < 10; i++ {
		itemID := fmt.Sprintf("%s_%03d", domain.PartitionConnections, i)
		if h.driver.attempts(itemID) != 0 {
			t.Errorf("item %s with a recorded outcome was re-processed", itemID)
		}
	}
}

func TestRun_ItemErrorAbsorbed(t *testing.T) {
	h := newHarness(t, 10)
	h.driver.setFailure("connections_004", errors.New("profile not found"))

	state := domain.NewRunState("req-1", "member", "")
	res, err := h.orch.Run(context.Background(), state)
	if err != nil {
		t.Fatal(err)
	}

	if res.Errors != 1 {
		t.Errorf("errors = %d, want 1", res.Errors)
	}
	if res.Processed != 29 {
		t.Errorf("processed = %d, want 29", res.Processed)
	}

	out, err := h.outcomes.Get(context.Background(), "connections_004")
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.OutcomeFailed {
		t.Errorf("failed item outcome status = %s", out.Status)
	}
	if h.driver.attempts("connections_004") != 1 {
		t.Errorf("item-level failures must not be retried, got %d attempts",
			h.driver.attempts("connections_004"))
	}
}

func TestRun_ValidationRejected(t *testing.T) {
	h := newHarness(t, 10)
	state := domain.NewRunState("req-1", "", "")

	if _, err := h.orch.Run(context.Background(), state); err == nil {
		t.Fatal("expected validation error for empty identity")
	}
	if h.driver.loginCalls != 0 {
		t.Error("validation must fail before any session work")
	}
}

func TestRun_FixedInterBatchDelay(t *testing.T) {
	store := newMapStore()
	driver := newMockDriver(150)
	cp := checkpoint.NewManager(store)
	engine := behavior.NewEngine(behavior.Config{
		ActionsPerMinute: 1 << 20,
		ActionsPerHour:   1 << 20,
	})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	// A zero-width delay window (min == max) is a valid fixed-delay config
	// and must not blow up the jitter draw.
	cfg := Config{BatchSize: 100, InterBatchMin: 3 * time.Second, InterBatchMax: 3 * time.Second}
	orch := New(cfg, driver, cp, memory.NewOutcomeRepo(), queue.New(1), engine, log)

	var delays []time.Duration
	orch.SetSleep(func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	})

	state := domain.NewRunState("req-1", "member", "")
	res, err := orch.Run(context.Background(), state)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 450 {
		t.Errorf("processed = %d, want 450", res.Processed)
	}

	// Two batches per partition leave one inter-batch pause each.
	if len(delays) != 3 {
		t.Fatalf("inter-batch sleeps = %d, want 3", len(delays))
	}
	for i, d := range delays {
		if d != 3*time.Second {
			t.Errorf("delay %d = %s, want exactly 3s", i, d)
		}
	}
}

func TestRun_CrashHealResume(t *testing.T) {
	h := newHarness(t, 150)
	ctx := context.Background()

	// One absorbed item error mid-followers, one persistent crash at the
	// eleventh item of the last partition.
	h.driver.setFailure("followers_140", errors.New("profile not found"))
	h.driver.setFailure("following_010", errors.New("browser crashed"))

	state := domain.NewRunState("req-1", "member", "creds")
	_, err := h.orch.Run(ctx, state)

	var re *RunError
	if !errors.As(err, &re) {
		t.Fatalf("expected RunError, got %v", err)
	}
	if re.Partition != domain.PartitionFollowing || re.Batch != 0 || re.Index != 10 {
		t.Fatalf("crash position = %s/%d/%d, want following/0/10",
			re.Partition, re.Batch, re.Index)
	}
	// connections complete, followers complete minus the failed item, plus
	// the ten items before the crash.
	if re.Processed != 309 {
		t.Errorf("processed at crash = %d, want 309", re.Processed)
	}
	if re.Errors != 1 {
		t.Errorf("errors at crash = %d, want 1", re.Errors)
	}

	// Browser failures get the full local retry budget before escalating.
	if got := h.driver.attempts("following_010"); got != 3 {
		t.Errorf("crash item attempts = %d, want 3", got)
	}

	// Hand off exactly as the control layer would.
	spawner := &recordingSpawner{}
	healer := heal.NewManager(heal.Config{}, h.cp, spawner, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := healer.Handoff(ctx, state, err); err != nil {
		t.Fatal(err)
	}
	if len(spawner.keys) != 1 {
		t.Fatalf("expected one heal handoff, got %d", len(spawner.keys))
	}

	snap, err := h.cp.LoadSnapshot(ctx, spawner.keys[0])
	if err != nil {
		t.Fatal(err)
	}
	if snap.CurrentProcessingList != domain.PartitionFollowing ||
		snap.CurrentBatch != 0 || snap.CurrentIndex != 10 {
		t.Fatalf("snapshot position = %s/%d/%d, want following/0/10",
			snap.CurrentProcessingList, snap.CurrentBatch, snap.CurrentIndex)
	}
	if snap.RecursionCount != 1 {
		t.Errorf("snapshot recursion count = %d, want 1", snap.RecursionCount)
	}

	// Successor run: the crash condition is gone.
	h.driver.setFailure("following_010", nil)
	res, err := h.orch.Run(ctx, snap)
	if err != nil {
		t.Fatal(err)
	}

	if !h.driver.lastResume {
		t.Error("healed run must resume the existing session")
	}
	if res.Processed != 140 {
		t.Errorf("resumed run processed = %d, want 140", res.Processed)
	}
	if res.Errors != 0 {
		t.Errorf("resumed run errors = %d, want 0", res.Errors)
	}

	// Indices 0-9 of the crashed batch were processed before the crash and
	// must not be touched again.
	for i := 0; i < 10; i++ {
		itemID := fmt.Sprintf("%s_%03d", domain.PartitionFollowing, i)
		if got := h.driver.attempts(itemID); got != 1 {
			t.Errorf("item %s processed %d times across both runs, want 1", itemID, got)
		}
	}

	// Earlier partitions are skipped wholesale: three enumerations total.
	if h.driver.listCalls != 3 {
		t.Errorf("list calls across both runs = %d, want 3", h.driver.listCalls)
	}

	// The successor's summary still covers partitions its predecessor
	// finished, taken from the recorded index.
	if len(res.Progress) != len(domain.PartitionOrder) {
		t.Fatalf("progress covers %d partitions, want %d", len(res.Progress), len(domain.PartitionOrder))
	}
	for _, p := range []domain.Partition{domain.PartitionConnections, domain.PartitionFollowers} {
		pp := res.Progress[p]
		if pp.Items != 150 || pp.Batches != 2 || pp.CompletedBatches != 2 {
			t.Errorf("progress for predecessor-completed %s = %+v, want 150 items, 2/2 batches", p, pp)
		}
	}
}

type recordingSpawner struct {
	keys []string
}

func (s *recordingSpawner) Spawn(ctx context.Context, snapshotKey string) error {
	s.keys = append(s.keys, snapshotKey)
	return nil
}
