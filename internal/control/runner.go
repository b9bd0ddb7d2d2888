// Package control wires the run pipeline together and exposes the
// operations the CLI drives: start a run, resume a healed run, report
// status.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/vuxmai/sweeper/internal/core/checkpoint"
	"github.com/vuxmai/sweeper/internal/core/config"
	"github.com/vuxmai/sweeper/internal/core/domain"
	"github.com/vuxmai/sweeper/internal/infra/artifact"
	"github.com/vuxmai/sweeper/internal/infra/session"
	"github.com/vuxmai/sweeper/internal/infra/spawn"
	"github.com/vuxmai/sweeper/internal/infra/storage"
	"github.com/vuxmai/sweeper/internal/infra/storage/memory"
	"github.com/vuxmai/sweeper/internal/infra/storage/postgres"
	"github.com/vuxmai/sweeper/internal/pipeline/behavior"
	"github.com/vuxmai/sweeper/internal/pipeline/heal"
	"github.com/vuxmai/sweeper/internal/pipeline/health"
	"github.com/vuxmai/sweeper/internal/pipeline/metrics"
	"github.com/vuxmai/sweeper/internal/pipeline/orchestrator"
	"github.com/vuxmai/sweeper/internal/pipeline/queue"
	"github.com/vuxmai/sweeper/internal/pipeline/recovery"
)

// RunInput is the request to start a fresh run.
type RunInput struct {
	RequestID      string `json:"request_id"`
	Identity       string `json:"identity"`
	CredentialsRef string `json:"credentials_ref"`
}

// Runner owns every pipeline collaborator for one worker process.
type Runner struct {
	cfg          *config.AppConfig
	log          *slog.Logger
	store        artifact.Store
	db           *postgres.DB
	outcomes     storage.OutcomeRepository
	driver       session.Driver
	checkpoints  *checkpoint.Manager
	healer       *heal.Manager
	orch         *orchestrator.Orchestrator
	healthServer *health.Server

	mu            sync.Mutex
	activeRequest string
}

// NewRunner builds a fully wired runner from config.
func NewRunner(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{cfg: cfg, log: log}

	store, err := newArtifactStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	r.store = store

	if err := r.initOutcomes(ctx, cfg); err != nil {
		return nil, err
	}

	r.driver = session.NewHTTPDriver(cfg.Driver)
	r.checkpoints = checkpoint.NewManager(store)

	spawner := spawn.NewExecSpawner(cfg.Heal.Binary, []string{"resume"}, log)
	r.healer = heal.NewManager(cfg.Heal.Heal(), r.checkpoints, spawner, log)

	q := queue.New(1)
	engine := behavior.NewEngine(cfg.Behavior.Engine())
	r.orch = orchestrator.New(cfg.Pipeline, r.driver, r.checkpoints, r.outcomes, q, engine, log)

	monitor := health.NewMonitor()
	monitor.Register("artifacts", func(ctx context.Context) error {
		_, err := store.Exists(ctx, "health/probe")
		return err
	})
	if r.db != nil {
		monitor.Register("database", r.db.Health)
	}
	r.healthServer = health.NewServer(monitor, r.statusDoc, cfg.Server.Port)

	return r, nil
}

// StartHealthServer serves health and metrics endpoints in the background.
func (r *Runner) StartHealthServer() {
	go func() {
		if err := r.healthServer.Start(); err != nil {
			r.log.Error("health server failed", "error", err)
		}
	}()
}

// initOutcomes connects the outcome repository: postgres with migrations
// when a database URL is configured, in-memory otherwise. The first dial
// retries with backoff so the worker survives a database that comes up a
// moment later.
func (r *Runner) initOutcomes(ctx context.Context, cfg *config.AppConfig) error {
	if cfg.Database.URL == "" {
		r.outcomes = memory.NewOutcomeRepo()
		r.log.Info("using in-memory outcome storage")
		return nil
	}

	backoff := retry.WithMaxRetries(5, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			r.log.Warn("database dial failed, retrying", "error", err)
			return retry.RetryableError(err)
		}
		r.db = db
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to init db: %w", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(r.db.DB.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate db: %w", err)
	}

	r.outcomes = postgres.NewOutcomeRepo(r.db)
	r.log.Info("using PostgreSQL outcome storage")
	return nil
}

func newArtifactStore(ctx context.Context, cfg *config.AppConfig) (artifact.Store, error) {
	switch cfg.Artifacts.Backend {
	case "file":
		return artifact.NewFileStore(cfg.Artifacts.Dir)
	case "redis":
		return artifact.NewRedisStore(cfg.Artifacts.Redis)
	case "s3":
		return artifact.NewS3Store(ctx, cfg.Artifacts.S3)
	default:
		return nil, fmt.Errorf("unknown artifacts backend %q", cfg.Artifacts.Backend)
	}
}

// Run starts a fresh run from input.
func (r *Runner) Run(ctx context.Context, input RunInput) *Response {
	start := time.Now()

	if input.RequestID == "" {
		input.RequestID = uuid.NewString()
	}
	state := domain.NewRunState(input.RequestID, input.Identity, input.CredentialsRef)

	return r.execute(ctx, state, start)
}

// Resume continues a run from a heal snapshot.
func (r *Runner) Resume(ctx context.Context, snapshotKey string) *Response {
	start := time.Now()

	state, err := r.checkpoints.LoadSnapshot(ctx, snapshotKey)
	if err != nil {
		return newResponse("", start, false, fmt.Sprintf("cannot resume: %v", err), nil)
	}

	r.log.Info("resuming healed run",
		"request_id", state.RequestID,
		"phase", state.HealPhase,
		"reason", state.HealReason,
		"recursion_count", state.RecursionCount)

	return r.execute(ctx, state, start)
}

// statusDoc serves /status on the health server with the position of
// the run this worker is executing.
func (r *Runner) statusDoc(ctx context.Context) (any, error) {
	r.mu.Lock()
	id := r.activeRequest
	r.mu.Unlock()
	if id == "" {
		return nil, errors.New("no active run")
	}

	resp := r.Status(ctx, id)
	if !resp.Success {
		return nil, errors.New(resp.Message)
	}
	return resp.Data, nil
}

func (r *Runner) execute(ctx context.Context, state *domain.RunState, start time.Time) *Response {
	r.mu.Lock()
	r.activeRequest = state.RequestID
	r.mu.Unlock()

	result, err := r.orch.Run(ctx, state)
	if err == nil {
		return newResponse(state.RequestID, start, true, "run completed", result)
	}

	ce := recovery.Classify(err)

	var re *orchestrator.RunError
	if errors.As(err, &re) && !errors.Is(err, context.Canceled) {
		if herr := r.healer.Handoff(ctx, state, err); herr != nil {
			r.log.Error("heal handoff failed", "request_id", state.RequestID, "error", herr)
			return newResponse(state.RequestID, start, false,
				fmt.Sprintf("run failed and could not heal: %v", herr), classifiedData(ce, result))
		}
		// Only counted once the snapshot is written and the successor is
		// actually spawned; refused handoffs are not handoffs.
		metrics.HealHandoffs.Inc()
		return newResponse(state.RequestID, start, false,
			fmt.Sprintf("run interrupted, healing: %v", err), classifiedData(ce, result))
	}

	return newResponse(state.RequestID, start, false, err.Error(), classifiedData(ce, result))
}

// Status reports the persisted position of a run without touching the
// session.
func (r *Runner) Status(ctx context.Context, requestID string) *Response {
	start := time.Now()

	idx, err := r.checkpoints.LoadIndex(ctx, requestID)
	if err != nil {
		return newResponse(requestID, start, false, err.Error(), nil)
	}

	counts := map[string]int{}
	if r.outcomes != nil {
		for _, status := range []domain.OutcomeStatus{domain.OutcomeCaptured, domain.OutcomeSkipped, domain.OutcomeFailed} {
			n, err := r.outcomes.CountByStatus(ctx, requestID, status)
			if err == nil {
				counts[string(status)] = n
			}
		}
	}

	return newResponse(requestID, start, true, "status", map[string]any{
		"processing_state": idx.ProcessingState,
		"totals":           idx.Metadata.Totals,
		"outcomes":         counts,
	})
}

func classifiedData(ce *recovery.ClassifiedError, result *orchestrator.Result) map[string]any {
	data := map[string]any{
		"category":    ce.Category,
		"http_status": ce.HTTPStatus,
		"suggestions": ce.Suggestions,
	}
	if result != nil {
		data["partial_result"] = result
	}
	return data
}

// Close releases every collaborator.
func (r *Runner) Close(ctx context.Context) error {
	var errs []error
	if err := r.driver.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c, ok := r.store.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.healthServer != nil {
		if err := r.healthServer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
