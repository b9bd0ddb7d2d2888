// Package heal performs the snapshot-and-respawn recovery for run-level
// failures: the full RunState is serialized to the artifact store, a fresh
// detached worker is spawned pointing at the snapshot, and the current
// worker exits. Restart depth is bounded so a deterministic failure cannot
// respawn forever.
package heal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vuxmai/sweeper/internal/core/checkpoint"
	"github.com/vuxmai/sweeper/internal/core/domain"
)

// DefaultMaxRestarts is the heal-restart ceiling per run.
const DefaultMaxRestarts = 5

// ErrRestartCeiling is returned when a run has already healed the maximum
// number of times and must fail permanently.
var ErrRestartCeiling = errors.New("heal restart ceiling reached")

// Spawner starts a detached successor worker that resumes from the given
// snapshot key. The successor must outlive this process.
type Spawner interface {
	Spawn(ctx context.Context, snapshotKey string) error
}

// Config holds healing limits.
type Config struct {
	MaxRestarts int `yaml:"max_restarts"`
}

// Manager serializes state and hands the run off to a successor process.
type Manager struct {
	checkpoints *checkpoint.Manager
	spawner     Spawner
	maxRestarts int
	log         *slog.Logger
}

// NewManager creates a healing manager. MaxRestarts at or below zero uses
// the default ceiling.
func NewManager(cfg Config, cp *checkpoint.Manager, spawner Spawner, log *slog.Logger) *Manager {
	max := cfg.MaxRestarts
	if max <= 0 {
		max = DefaultMaxRestarts
	}
	return &Manager{
		checkpoints: cp,
		spawner:     spawner,
		maxRestarts: max,
		log:         log,
	}
}

// SnapshotKey builds the artifact key for one heal snapshot.
func SnapshotKey(requestID string) string {
	return fmt.Sprintf("heal/%s/%s.json", requestID, uuid.NewString())
}

// Handoff snapshots state and spawns a successor. The caller must exit
// promptly after a nil return; the successor assumes sole ownership of the
// run. The snapshot write happens before the spawn, so a crash between the
// two leaves a resumable snapshot and no duplicate worker.
func (m *Manager) Handoff(ctx context.Context, state *domain.RunState, cause error) error {
	if state.RecursionCount >= m.maxRestarts {
		m.log.Error("refusing to heal, restart ceiling reached",
			"request_id", state.RequestID,
			"recursion_count", state.RecursionCount,
			"cause", cause)
		return fmt.Errorf("%w after %d restarts: %v", ErrRestartCeiling, state.RecursionCount, cause)
	}

	snapshot := *state
	snapshot.RecursionCount = state.RecursionCount + 1
	snapshot.HealPhase = DescribePhase(state)
	if cause != nil {
		snapshot.HealReason = cause.Error()
	}

	key := SnapshotKey(state.RequestID)
	if err := m.checkpoints.SaveSnapshot(ctx, key, &snapshot); err != nil {
		// Without a snapshot the successor would restart from nothing, so
		// the handoff fails loudly instead.
		m.log.Error("heal snapshot failed, aborting handoff",
			"request_id", state.RequestID, "error", err)
		return fmt.Errorf("failed to serialize heal snapshot: %w", err)
	}

	m.log.Warn("healing: handing off to successor worker",
		"request_id", state.RequestID,
		"snapshot", key,
		"phase", snapshot.HealPhase,
		"recursion_count", snapshot.RecursionCount,
		"cause", cause)

	if err := m.spawner.Spawn(ctx, key); err != nil {
		return fmt.Errorf("failed to spawn successor: %w", err)
	}
	return nil
}

// DescribePhase derives the run phase from which fields of the state are
// populated, so a successor can log where its predecessor died without any
// extra bookkeeping.
func DescribePhase(state *domain.RunState) string {
	switch {
	case state.MasterIndexKey == "":
		return "enumerating"
	case state.CurrentIndex > 0 || len(state.CompletedBatches) > 0 || state.CurrentBatch > 0:
		return fmt.Sprintf("processing %s batch %d index %d",
			state.CurrentProcessingList, state.CurrentBatch, state.CurrentIndex)
	default:
		return fmt.Sprintf("starting %s", state.CurrentProcessingList)
	}
}
