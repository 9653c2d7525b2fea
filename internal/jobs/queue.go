package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/llmerrors"
)

// Processor executes one job's payload. progress reports percent complete
// in [0, 100]; calls must be monotonic.
type Processor func(ctx context.Context, job *schemas.Job, progress func(int)) (json.RawMessage, error)

// Queue runs jobs with a fixed concurrency bound, persisting every state
// transition. Interrupted work is re-enqueued by Restore on boot, so
// processors run at-least-once and must tolerate duplicate side effects.
type Queue struct {
	store         Store
	processor     Processor
	maxConcurrent int
	logger        *zap.Logger

	mu         sync.Mutex
	jobs       map[string]*schemas.Job
	pending    []string
	processing map[string]bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewQueue(cfg config.JobsConfig, store Store, processor Processor, logger *zap.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{
		store:         store,
		processor:     processor,
		maxConcurrent: maxConcurrent,
		logger:        logger.Named("jobs"),
		jobs:          make(map[string]*schemas.Job),
		processing:    make(map[string]bool),
		baseCtx:       ctx,
		cancel:        cancel,
	}
}

// Restore reloads persisted state on boot: pending jobs re-enter the queue
// and interrupted processing jobs are reset to pending from scratch.
func (q *Queue) Restore(ctx context.Context) error {
	pending, err := q.store.List(ctx, schemas.JobPending)
	if err != nil {
		return fmt.Errorf("failed to restore pending jobs: %w", err)
	}
	interrupted, err := q.store.List(ctx, schemas.JobProcessing)
	if err != nil {
		return fmt.Errorf("failed to restore processing jobs: %w", err)
	}

	for _, job := range interrupted {
		job.Status = schemas.JobPending
		job.Progress = 0
		job.StartedAt = nil
		if err := q.store.Save(ctx, job); err != nil {
			return fmt.Errorf("failed to reset interrupted job %s: %w", job.ID, err)
		}
	}

	q.mu.Lock()
	// Oldest first so restored work keeps its original order.
	restored := append(pending, interrupted...)
	for i := len(restored) - 1; i >= 0; i-- {
		job := restored[i]
		q.jobs[job.ID] = job
		q.pending = append(q.pending, job.ID)
	}
	q.mu.Unlock()

	if len(restored) > 0 {
		q.logger.Info("Restored jobs from store",
			zap.Int("pending", len(pending)),
			zap.Int("interrupted", len(interrupted)))
	}
	q.processQueue()
	return nil
}

// Create persists and enqueues a new job.
func (q *Queue) Create(ctx context.Context, data json.RawMessage) (*schemas.Job, error) {
	job := &schemas.Job{
		ID:        uuid.NewString(),
		Status:    schemas.JobPending,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist new job: %w", err)
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.pending = append(q.pending, job.ID)
	q.mu.Unlock()

	q.logger.Info("Job created", zap.String("job_id", job.ID))
	q.processQueue()
	return snapshot(job), nil
}

// Get returns the freshest view of a job: memory when the queue owns it,
// the store otherwise.
func (q *Queue) Get(ctx context.Context, id string) (*schemas.Job, error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if ok {
		out := snapshot(job)
		q.mu.Unlock()
		return out, nil
	}
	q.mu.Unlock()
	return q.store.Load(ctx, id)
}

// List returns jobs filtered by status; empty status means all.
func (q *Queue) List(ctx context.Context, status schemas.JobStatus) ([]*schemas.Job, error) {
	jobs, err := q.store.List(ctx, status)
	if err != nil {
		return nil, err
	}
	// Overlay in-memory state, which can be ahead of the persisted one
	// between progress checkpoints.
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, job := range jobs {
		if live, ok := q.jobs[job.ID]; ok {
			jobs[i] = snapshot(live)
		}
	}
	return jobs, nil
}

// Cancel cancels a pending job. Processing jobs run to completion.
func (q *Queue) Cancel(ctx context.Context, id string) (*schemas.Job, error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return nil, ErrNotFound
	}
	if job.Status != schemas.JobPending {
		status := job.Status
		q.mu.Unlock()
		return nil, llmerrors.New(llmerrors.KindInvalidInput, 409,
			fmt.Sprintf("only pending jobs can be cancelled; job is %s", status))
	}

	now := time.Now().UTC()
	job.Status = schemas.JobCancelled
	job.CompletedAt = &now
	for i, pendingID := range q.pending {
		if pendingID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	out := snapshot(job)
	q.mu.Unlock()

	if err := q.store.Save(ctx, out); err != nil {
		return nil, fmt.Errorf("failed to persist cancellation: %w", err)
	}
	q.logger.Info("Job cancelled", zap.String("job_id", id))
	return out, nil
}

// ClearCompleted drops completed and failed jobs older than ttl.
func (q *Queue) ClearCompleted(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	removed, err := q.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	q.mu.Lock()
	for id, job := range q.jobs {
		finished := job.Status == schemas.JobCompleted || job.Status == schemas.JobFailed
		if finished && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(q.jobs, id)
		}
	}
	q.mu.Unlock()
	return removed, nil
}

// Shutdown stops admitting work and waits for in-flight jobs, bounded by
// ctx.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.cancel()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// processQueue admits pending jobs until the concurrency bound is reached.
func (q *Queue) processQueue() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.processing) < q.maxConcurrent && len(q.pending) > 0 {
		if q.baseCtx.Err() != nil {
			return
		}
		id := q.pending[0]
		q.pending = q.pending[1:]
		q.processing[id] = true
		q.wg.Add(1)
		go q.runJob(id)
	}
}

func (q *Queue) runJob(id string) {
	defer q.wg.Done()
	defer func() {
		q.mu.Lock()
		delete(q.processing, id)
		q.mu.Unlock()
		q.processQueue()
	}()

	now := time.Now().UTC()
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.Status != schemas.JobPending {
		q.mu.Unlock()
		return
	}
	job.Status = schemas.JobProcessing
	job.StartedAt = &now
	input := snapshot(job)
	q.mu.Unlock()
	q.persist(input)

	progress := func(p int) {
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		q.mu.Lock()
		job.Progress = p
		checkpoint := p%10 == 0
		out := snapshot(job)
		q.mu.Unlock()
		// Persist only decade checkpoints to amortise store writes.
		if checkpoint {
			q.persist(out)
		}
	}

	result, err := q.processor(q.baseCtx, input, progress)
	finished := time.Now().UTC()

	q.mu.Lock()
	job.CompletedAt = &finished
	if err != nil {
		job.Status = schemas.JobFailed
		job.Error = err.Error()
	} else {
		job.Status = schemas.JobCompleted
		job.Result = result
		job.Progress = 100
	}
	out := snapshot(job)
	q.mu.Unlock()
	q.persist(out)

	if err != nil {
		q.logger.Warn("Job failed", zap.String("job_id", id), zap.Error(err))
	} else {
		q.logger.Info("Job completed", zap.String("job_id", id),
			zap.Duration("duration", finished.Sub(now)))
	}
}

func (q *Queue) persist(job *schemas.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.store.Save(ctx, job); err != nil {
		q.logger.Error("Failed to persist job state",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.Error(err))
	}
}

// snapshot copies a job for hand-off outside the queue's lock.
func snapshot(job *schemas.Job) *schemas.Job {
	out := cloneJob(job)
	return &out
}
