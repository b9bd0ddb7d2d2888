// Package orchestrator walks the partition/batch/item hierarchy of a run,
// checkpointing after every batch so any interruption resumes at the exact
// item it stopped on.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/vuxmai/sweeper/internal/core/checkpoint"
	"github.com/vuxmai/sweeper/internal/core/domain"
	"github.com/vuxmai/sweeper/internal/infra/session"
	"github.com/vuxmai/sweeper/internal/infra/storage"
	"github.com/vuxmai/sweeper/internal/pipeline/behavior"
	"github.com/vuxmai/sweeper/internal/pipeline/metrics"
	"github.com/vuxmai/sweeper/internal/pipeline/queue"
	"github.com/vuxmai/sweeper/internal/pipeline/recovery"
)

// Config holds batch sizing and pacing.
type Config struct {
	BatchSize     int           `yaml:"batch_size"`
	InterBatchMin time.Duration `yaml:"inter_batch_min"`
	InterBatchMax time.Duration `yaml:"inter_batch_max"`
}

// DefaultConfig returns the standard run shape.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		InterBatchMin: 2 * time.Second,
		InterBatchMax: 5 * time.Second,
	}
}

// PartitionProgress summarizes one partition of the run.
type PartitionProgress struct {
	Items            int `json:"items"`
	Batches          int `json:"batches"`
	CompletedBatches int `json:"completed_batches"`
}

// Result aggregates item counts across the whole run.
type Result struct {
	Processed int                                    `json:"processed"`
	Skipped   int                                    `json:"skipped"`
	Errors    int                                    `json:"errors"`
	Progress  map[domain.Partition]PartitionProgress `json:"progress"`
}

// RunError is a run-level failure. It carries the exact position and the
// counts accumulated before the failure, so the healing layer can snapshot
// and report without reconstructing anything.
type RunError struct {
	Partition domain.Partition
	Batch     int
	Index     int
	Processed int
	Skipped   int
	Errors    int
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run failed at %s/batch_%d/index_%d: %v", e.Partition, e.Batch, e.Index, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// SleepFunc pauses for d or until ctx is cancelled. Injectable for tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Orchestrator runs one RunState to completion.
type Orchestrator struct {
	cfg         Config
	driver      session.Driver
	checkpoints *checkpoint.Manager
	outcomes    storage.OutcomeRepository
	q           *queue.Queue
	behave      *behavior.Engine
	log         *slog.Logger
	sleep       SleepFunc
	rnd         *rand.Rand
}

// New creates an orchestrator over the given collaborators.
func New(cfg Config, driver session.Driver, cp *checkpoint.Manager, outcomes storage.OutcomeRepository, q *queue.Queue, behave *behavior.Engine, log *slog.Logger) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.InterBatchMin <= 0 || cfg.InterBatchMax < cfg.InterBatchMin {
		def := DefaultConfig()
		cfg.InterBatchMin = def.InterBatchMin
		cfg.InterBatchMax = def.InterBatchMax
	}
	return &Orchestrator{
		cfg:         cfg,
		driver:      driver,
		checkpoints: cp,
		outcomes:    outcomes,
		q:           q,
		behave:      behave,
		log:         log,
		sleep:       sleepFor,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetSleep replaces the pacing sleep, for tests.
func (o *Orchestrator) SetSleep(fn SleepFunc) { o.sleep = fn }

// SetRand replaces the pacing random source, for tests.
func (o *Orchestrator) SetRand(rnd *rand.Rand) { o.rnd = rnd }

// Run processes every partition of state in the fixed order, resuming from
// the recorded position. Item-level failures are absorbed into the error
// count; anything else returns a *RunError positioned at the failing item.
func (o *Orchestrator) Run(ctx context.Context, state *domain.RunState) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.RunDuration.Observe(time.Since(start).Seconds())
	}()

	if err := validate(state); err != nil {
		return nil, err
	}

	res := &Result{Progress: make(map[domain.Partition]PartitionProgress)}

	resume := state.RecursionCount > 0 || state.IsHealed()
	if _, err := o.enqueue(ctx, "login", nil, func(ctx context.Context) (any, error) {
		return nil, o.driver.Login(ctx, state.Identity, state.CredentialsRef, resume)
	}); err != nil {
		return res, o.runError(state, res, fmt.Errorf("login failed: %w", err))
	}

	idx, err := o.ensureIndex(ctx, state)
	if err != nil {
		return res, o.runError(state, res, err)
	}

	for _, p := range domain.PartitionOrder {
		if checkpoint.ShouldSkipPartition(state, p) {
			o.log.Debug("partition already completed", "request_id", state.RequestID, "partition", p)
			// Partitions finished by a predecessor still belong in the
			// run summary; their counts come from the recorded index.
			res.Progress[p] = PartitionProgress{
				Items:            idx.Metadata.Totals[p],
				Batches:          len(idx.Files[p]),
				CompletedBatches: len(idx.Files[p]),
			}
			continue
		}
		if p != state.CurrentProcessingList {
			state.AdvancePartition(p)
		}

		if err := o.runPartition(ctx, state, idx, p, res); err != nil {
			return res, err
		}

		res.Progress[p] = PartitionProgress{
			Items:            idx.Metadata.Totals[p],
			Batches:          len(idx.Files[p]),
			CompletedBatches: len(state.CompletedBatches),
		}
	}

	if err := o.checkpoints.SaveIndex(ctx, state.RequestID, idx, state); err != nil {
		return res, o.runError(state, res, err)
	}

	o.log.Info("run completed",
		"request_id", state.RequestID,
		"processed", res.Processed,
		"skipped", res.Skipped,
		"errors", res.Errors,
		"duration", time.Since(start))
	return res, nil
}

// ensureIndex loads the run's MasterIndex or creates a fresh one.
func (o *Orchestrator) ensureIndex(ctx context.Context, state *domain.RunState) (*domain.MasterIndex, error) {
	idx, err := o.checkpoints.LoadIndex(ctx, state.RequestID)
	if errors.Is(err, checkpoint.ErrIndexNotFound) {
		idx = domain.NewMasterIndex(o.cfg.BatchSize)
	} else if err != nil {
		return nil, err
	}

	state.MasterIndexKey = checkpoint.IndexKey(state.RequestID)
	return idx, nil
}

func (o *Orchestrator) runPartition(ctx context.Context, state *domain.RunState, idx *domain.MasterIndex, p domain.Partition, res *Result) error {
	if err := o.ensureBatches(ctx, state, idx, p); err != nil {
		return o.runError(state, res, err)
	}

	keys := idx.Files[p]
	for n := 0; n < len(keys); n++ {
		if checkpoint.ShouldSkipBatch(state, n) {
			continue
		}
		if n > state.CurrentBatch {
			state.CurrentBatch = n
			state.CurrentIndex = 0
		}

		batch, err := o.checkpoints.LoadBatch(ctx, keys[n])
		if err != nil {
			return o.runError(state, res, err)
		}

		if err := o.runBatch(ctx, state, batch, res); err != nil {
			return err
		}

		state.MarkBatchCompleted(n)
		metrics.BatchesCompleted.WithLabelValues(string(p)).Inc()
		if err := o.checkpoints.SaveIndex(ctx, state.RequestID, idx, state); err != nil {
			return o.runError(state, res, err)
		}

		o.log.Info("batch completed",
			"request_id", state.RequestID,
			"partition", p,
			"batch", n,
			"items", len(batch.Items))

		if n < len(keys)-1 {
			delay := o.cfg.InterBatchMin
			// Int63n panics on a zero-width window, so a fixed delay
			// (min == max) skips the jitter entirely.
			if width := o.cfg.InterBatchMax - o.cfg.InterBatchMin; width > 0 {
				delay += time.Duration(o.rnd.Int63n(int64(width)))
			}
			if err := o.sleep(ctx, delay); err != nil {
				return o.runError(state, res, err)
			}
		}
	}
	return nil
}

// ensureBatches enumerates the partition and persists its immutable batch
// files once. On resume the recorded files are reused untouched, so the
// item universe of a run never shifts under it.
func (o *Orchestrator) ensureBatches(ctx context.Context, state *domain.RunState, idx *domain.MasterIndex, p domain.Partition) error {
	if len(idx.Files[p]) > 0 {
		return nil
	}

	v, err := o.enqueue(ctx, "list_items", map[string]any{"partition": string(p)}, func(ctx context.Context) (any, error) {
		return o.driver.ListItems(ctx, p)
	})
	if err != nil {
		return fmt.Errorf("failed to enumerate %s: %w", p, err)
	}
	items := v.([]string)

	now := time.Now()
	var keys []string
	for n := 0; n*o.cfg.BatchSize < len(items); n++ {
		lo := n * o.cfg.BatchSize
		hi := lo + o.cfg.BatchSize
		if hi > len(items) {
			hi = len(items)
		}
		key, err := o.checkpoints.SaveBatch(ctx, state.RequestID, &domain.BatchFile{
			Partition:  p,
			Number:     n,
			Items:      items[lo:hi],
			CapturedAt: now,
		})
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}

	idx.Files[p] = keys
	idx.Metadata.Totals[p] = len(items)
	idx.Metadata.CapturedAt = now
	state.TotalConnections[p] = len(items)

	o.log.Info("partition enumerated",
		"request_id", state.RequestID,
		"partition", p,
		"items", len(items),
		"batches", len(keys))

	return o.checkpoints.SaveIndex(ctx, state.RequestID, idx, state)
}

func (o *Orchestrator) runBatch(ctx context.Context, state *domain.RunState, batch *domain.BatchFile, res *Result) error {
	for i := checkpoint.StartIndex(state, batch.Number); i < len(batch.Items); i++ {
		state.CurrentIndex = i
		if err := ctx.Err(); err != nil {
			return o.runError(state, res, err)
		}

		itemID := batch.Items[i]
		done, err := o.outcomes.Exists(ctx, itemID)
		if err != nil {
			return o.runError(state, res, err)
		}
		if done {
			res.Skipped++
			metrics.ItemsSkipped.WithLabelValues(string(batch.Partition)).Inc()
			continue
		}

		if err := o.processItem(ctx, state, batch.Partition, itemID, res); err != nil {
			return err
		}
	}
	return nil
}

// processItem performs the capture action for one item, retrying per the
// recovery plan. Item-level failures are recorded and absorbed; everything
// else is escalated as a run-level error.
func (o *Orchestrator) processItem(ctx context.Context, state *domain.RunState, p domain.Partition, itemID string, res *Result) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		v, err := o.enqueue(ctx, "perform_action", map[string]any{"item_id": itemID}, func(ctx context.Context) (any, error) {
			result, err := o.driver.PerformAction(ctx, itemID, p)
			if err != nil {
				return nil, err
			}
			ref, err := o.driver.CaptureAndStore(ctx, itemID)
			if err != nil {
				return nil, err
			}
			return &capturedItem{action: result, screenshotRef: ref}, nil
		})
		if err == nil {
			item := v.(*capturedItem)
			if err := o.recordOutcome(ctx, state, p, itemID, domain.OutcomeCaptured, item.screenshotRef, ""); err != nil {
				return o.runError(state, res, err)
			}
			res.Processed++
			metrics.ItemsProcessed.WithLabelValues(string(p)).Inc()
			o.log.Debug("item captured",
				"item_id", itemID,
				"partition", p,
				"screenshot_ref", item.screenshotRef,
				"performed_at", item.action.PerformedAt)
			o.pace(ctx, itemID)
			return nil
		}

		lastErr = err
		ce := recovery.Classify(err)

		if recovery.IsConnectionLevel(err) {
			if uerr := o.recordOutcome(ctx, state, p, itemID, domain.OutcomeFailed, "", err.Error()); uerr != nil {
				return o.runError(state, res, uerr)
			}
			res.Errors++
			metrics.ItemErrors.WithLabelValues(string(p)).Inc()
			o.log.Warn("item failed, continuing",
				"request_id", state.RequestID,
				"item", itemID,
				"category", ce.Category,
				"error", err)
			return nil
		}

		plan := recovery.PlanFor(ce, attempt)
		if !plan.Retryable {
			break
		}

		o.log.Warn("item attempt failed, retrying",
			"request_id", state.RequestID,
			"item", itemID,
			"attempt", attempt,
			"category", ce.Category,
			"delay", plan.Delay)
		if serr := o.sleep(ctx, plan.Delay); serr != nil {
			return o.runError(state, res, serr)
		}
	}

	return o.runError(state, res, lastErr)
}

type capturedItem struct {
	action        *session.ActionResult
	screenshotRef string
}

func (o *Orchestrator) recordOutcome(ctx context.Context, state *domain.RunState, p domain.Partition, itemID string, status domain.OutcomeStatus, screenshotRef, errMsg string) error {
	return o.outcomes.Upsert(ctx, &domain.ItemOutcome{
		ID:            uuid.NewString(),
		ItemID:        itemID,
		Partition:     p,
		RequestID:     state.RequestID,
		Status:        status,
		ScreenshotRef: screenshotRef,
		Error:         errMsg,
		ProcessedAt:   time.Now(),
	})
}

// pace records the action in the behavior log and serves any cooldown the
// engine asks for. Cooldown sleeps are best-effort; cancellation surfaces
// on the next loop iteration.
func (o *Orchestrator) pace(ctx context.Context, itemID string) {
	o.behave.RecordAction("capture", map[string]any{"item_id": itemID})

	if cd := o.behave.CheckCooldown(); cd.Needed {
		metrics.CooldownsTriggered.WithLabelValues(cd.Reason).Inc()
		o.log.Info("cooldown", "reason", cd.Reason, "duration", cd.Duration)
		_ = o.sleep(ctx, cd.Duration)
	}
}

// enqueue routes a task through the single-flight session queue and waits
// for it.
func (o *Orchestrator) enqueue(ctx context.Context, taskType string, metadata map[string]any, task queue.Task) (any, error) {
	return o.q.Enqueue(ctx, taskType, metadata, task).Wait(ctx)
}

func (o *Orchestrator) runError(state *domain.RunState, res *Result, err error) error {
	var re *RunError
	if errors.As(err, &re) {
		return err
	}
	return &RunError{
		Partition: state.CurrentProcessingList,
		Batch:     state.CurrentBatch,
		Index:     state.CurrentIndex,
		Processed: res.Processed,
		Skipped:   res.Skipped,
		Errors:    res.Errors,
		Err:       err,
	}
}

func validate(state *domain.RunState) error {
	if state.RequestID == "" {
		return &recovery.ClassifiedError{
			Category:   recovery.CategoryValidation,
			HTTPStatus: 400,
			Message:    "request_id is required",
		}
	}
	if state.Identity == "" {
		return &recovery.ClassifiedError{
			Category:   recovery.CategoryValidation,
			HTTPStatus: 400,
			Message:    "identity is required",
		}
	}
	if state.CurrentProcessingList == "" {
		state.CurrentProcessingList = domain.PartitionOrder[0]
	}
	if state.TotalConnections == nil {
		state.TotalConnections = make(map[domain.Partition]int)
	}
	return nil
}
