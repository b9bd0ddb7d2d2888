// Package queue serializes access to the shared automation session. The
// session is a single stateful browser; two operations against it at once
// corrupt each other, so exactly one task runs at a time and all other
// callers wait in FIFO order.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vuxmai/sweeper/internal/pipeline/metrics"
)

// Status is the lifecycle state of a queued job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Task is a unit of work executed against the shared session.
type Task func(ctx context.Context) (any, error)

// Job is the retained record for one enqueued task. Jobs stay queryable by
// ID after completion for observability; they are mutated only by the
// queue's worker loop.
type Job struct {
	ID         string
	Type       string
	Status     Status
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Metadata   map[string]any
	Result     any
	Err        error
}

// Handle resolves to the task's result or error once it has run.
type Handle struct {
	id   string
	done chan struct{}
	q    *Queue
}

// Wait blocks until the task finishes or ctx is cancelled. Cancellation of
// the wait does not cancel the task itself; the session has no mid-task
// cancellation.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
	}

	job, _ := h.q.GetStatus(h.id)
	if job.Err != nil {
		return nil, job.Err
	}
	return job.Result, nil
}

// ID returns the generated job identifier.
func (h *Handle) ID() string { return h.id }

type entry struct {
	job    *Job
	task   Task
	ctx    context.Context
	handle *Handle
}

// Queue runs tasks with a fixed concurrency limit, default and only
// currently-used value 1.
type Queue struct {
	mu          sync.Mutex
	concurrency int
	active      int
	waiting     []*entry
	jobs        map[string]*Job
	log         *slog.Logger
}

// New creates a queue. Concurrency below 1 is clamped to 1.
func New(concurrency int) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Queue{
		concurrency: concurrency,
		jobs:        make(map[string]*Job),
		log:         slog.Default(),
	}
}

// Enqueue registers a task and returns a handle resolving to its outcome.
// The task starts as soon as the active count drops below the concurrency
// limit and all earlier waiters have run.
func (q *Queue) Enqueue(ctx context.Context, taskType string, metadata map[string]any, task Task) *Handle {
	job := &Job{
		ID:        newJobID(taskType),
		Type:      taskType,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
		Metadata:  metadata,
	}
	h := &Handle{id: job.ID, done: make(chan struct{}), q: q}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.waiting = append(q.waiting, &entry{job: job, task: task, ctx: ctx, handle: h})
	metrics.QueueDepth.Set(float64(len(q.waiting)))
	q.mu.Unlock()

	q.dispatch()
	return h
}

// GetStatus returns a copy of the job record for id.
func (q *Queue) GetStatus(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// GetResult returns the result or error for a finished job.
func (q *Queue) GetResult(id string) (any, error) {
	job, ok := q.GetStatus(id)
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	if job.Status != StatusSucceeded && job.Status != StatusFailed {
		return nil, fmt.Errorf("job %s not finished: %s", id, job.Status)
	}
	return job.Result, job.Err
}

// dispatch starts the next waiting task if a slot is free.
func (q *Queue) dispatch() {
	q.mu.Lock()
	if q.active >= q.concurrency || len(q.waiting) == 0 {
		q.mu.Unlock()
		return
	}
	e := q.waiting[0]
	q.waiting = q.waiting[1:]
	q.active++
	e.job.Status = StatusRunning
	e.job.StartedAt = time.Now()
	metrics.QueueDepth.Set(float64(len(q.waiting)))
	q.mu.Unlock()

	go q.run(e)
}

func (q *Queue) run(e *entry) {
	// Bookkeeping lives in the defer so a panicking or failing task never
	// stalls the queue.
	defer func() {
		q.mu.Lock()
		q.active--
		e.job.FinishedAt = time.Now()
		metrics.QueueWaitSeconds.Observe(e.job.StartedAt.Sub(e.job.CreatedAt).Seconds())
		q.mu.Unlock()

		close(e.handle.done)
		q.dispatch()
	}()

	result, err := e.task(e.ctx)

	q.mu.Lock()
	if err != nil {
		e.job.Status = StatusFailed
		e.job.Err = err
	} else {
		e.job.Status = StatusSucceeded
		e.job.Result = result
	}
	q.mu.Unlock()

	if err != nil {
		q.log.Debug("queued task failed", "job", e.job.ID, "type", e.job.Type, "error", err)
	}
}

// newJobID builds an identifier of the form type_millis_suffix.
func newJobID(taskType string) string {
	return fmt.Sprintf("%s_%d_%s", taskType, time.Now().UnixMilli(), uuid.NewString()[:8])
}
