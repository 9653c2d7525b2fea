package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/llmerrors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingStore wraps MemStore and remembers every persisted progress
// value per job.
type recordingStore struct {
	*MemStore
	mu       sync.Mutex
	progress map[string][]int
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemStore: NewMemStore(), progress: make(map[string][]int)}
}

func (s *recordingStore) Save(ctx context.Context, job *schemas.Job) error {
	s.mu.Lock()
	s.progress[job.ID] = append(s.progress[job.ID], job.Progress)
	s.mu.Unlock()
	return s.MemStore.Save(ctx, job)
}

func (s *recordingStore) persistedProgress(id string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.progress[id]...)
}

func waitForStatus(t *testing.T, q *Queue, id string, want schemas.JobStatus) *schemas.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := q.Get(context.Background(), id)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, want)
	return nil
}

func shutdown(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))
}

func TestQueue_CompletesJob(t *testing.T) {
	store := NewMemStore()
	q := NewQueue(config.JobsConfig{MaxConcurrent: 2}, store,
		func(_ context.Context, job *schemas.Job, progress func(int)) (json.RawMessage, error) {
			progress(50)
			return json.RawMessage(`{"ok":true}`), nil
		}, zap.NewNop())
	defer shutdown(t, q)

	job, err := q.Create(context.Background(), json.RawMessage(`{"text":"material"}`))
	require.NoError(t, err)
	assert.Equal(t, schemas.JobPending, job.Status)
	assert.NotEmpty(t, job.ID)

	done := waitForStatus(t, q, job.ID, schemas.JobCompleted)
	assert.Equal(t, 100, done.Progress)
	assert.JSONEq(t, `{"ok":true}`, string(done.Result))
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)

	// The terminal state reached the store too.
	persisted, err := store.Load(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.JobCompleted, persisted.Status)
}

func TestQueue_FailedJobKeepsError(t *testing.T) {
	q := NewQueue(config.JobsConfig{MaxConcurrent: 1}, NewMemStore(),
		func(context.Context, *schemas.Job, func(int)) (json.RawMessage, error) {
			return nil, errors.New("provider exploded")
		}, zap.NewNop())
	defer shutdown(t, q)

	job, err := q.Create(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)

	failed := waitForStatus(t, q, job.ID, schemas.JobFailed)
	assert.Equal(t, "provider exploded", failed.Error)
	assert.NotNil(t, failed.CompletedAt)
}

func TestQueue_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})

	q := NewQueue(config.JobsConfig{MaxConcurrent: 2}, NewMemStore(),
		func(context.Context, *schemas.Job, func(int)) (json.RawMessage, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			return json.RawMessage(`{}`), nil
		}, zap.NewNop())
	defer shutdown(t, q)

	var ids []string
	for range 5 {
		job, err := q.Create(context.Background(), json.RawMessage(`{}`))
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	close(release)

	for _, id := range ids {
		waitForStatus(t, q, id, schemas.JobCompleted)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestQueue_CancelPendingOnly(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	q := NewQueue(config.JobsConfig{MaxConcurrent: 1}, NewMemStore(),
		func(context.Context, *schemas.Job, func(int)) (json.RawMessage, error) {
			close(started)
			<-release
			return json.RawMessage(`{}`), nil
		}, zap.NewNop())
	defer shutdown(t, q)

	first, err := q.Create(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	<-started
	second, err := q.Create(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)

	// The queued job cancels cleanly.
	cancelled, err := q.Cancel(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.JobCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)

	// The in-flight job does not.
	_, err = q.Cancel(context.Background(), first.ID)
	require.Error(t, err)
	assert.Equal(t, llmerrors.KindInvalidInput, llmerrors.Categorize(err))

	close(release)
	done := waitForStatus(t, q, first.ID, schemas.JobCompleted)
	assert.Equal(t, schemas.JobCompleted, done.Status)

	// The cancelled job never ran.
	got, err := q.Get(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.JobCancelled, got.Status)

	_, err = q.Cancel(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueue_ProgressPersistedOnDecades(t *testing.T) {
	store := newRecordingStore()
	q := NewQueue(config.JobsConfig{MaxConcurrent: 1}, store,
		func(_ context.Context, _ *schemas.Job, progress func(int)) (json.RawMessage, error) {
			for _, p := range []int{5, 10, 15, 20, 33, 40} {
				progress(p)
			}
			return json.RawMessage(`{}`), nil
		}, zap.NewNop())
	defer shutdown(t, q)

	job, err := q.Create(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	waitForStatus(t, q, job.ID, schemas.JobCompleted)

	persisted := store.persistedProgress(job.ID)
	assert.NotContains(t, persisted, 5)
	assert.NotContains(t, persisted, 15)
	assert.NotContains(t, persisted, 33)
	assert.Contains(t, persisted, 10)
	assert.Contains(t, persisted, 20)
	assert.Contains(t, persisted, 40)
}

func TestQueue_RestoreResetsInterruptedWork(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	started := time.Now().UTC().Add(-time.Minute)
	interrupted := &schemas.Job{
		ID:        "interrupted-job",
		Status:    schemas.JobProcessing,
		Data:      json.RawMessage(`{"text":"resume me"}`),
		Progress:  60,
		CreatedAt: time.Now().UTC().Add(-2 * time.Minute),
		StartedAt: &started,
	}
	queued := &schemas.Job{
		ID:        "queued-job",
		Status:    schemas.JobPending,
		Data:      json.RawMessage(`{"text":"waiting"}`),
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, store.Save(ctx, interrupted))
	require.NoError(t, store.Save(ctx, queued))

	var processed sync.Map
	q := NewQueue(config.JobsConfig{MaxConcurrent: 2}, store,
		func(_ context.Context, job *schemas.Job, _ func(int)) (json.RawMessage, error) {
			processed.Store(job.ID, true)
			// Interrupted work restarts from scratch.
			assert.Zero(t, job.Progress)
			return json.RawMessage(`{}`), nil
		}, zap.NewNop())
	defer shutdown(t, q)

	require.NoError(t, q.Restore(ctx))

	waitForStatus(t, q, "interrupted-job", schemas.JobCompleted)
	waitForStatus(t, q, "queued-job", schemas.JobCompleted)
	_, ok := processed.Load("interrupted-job")
	assert.True(t, ok, "interrupted jobs must run again after restart")
}

func TestQueue_ClearCompleted(t *testing.T) {
	store := NewMemStore()
	q := NewQueue(config.JobsConfig{MaxConcurrent: 1}, store,
		func(context.Context, *schemas.Job, func(int)) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		}, zap.NewNop())
	defer shutdown(t, q)

	job, err := q.Create(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	waitForStatus(t, q, job.ID, schemas.JobCompleted)

	// Nothing is old enough yet.
	removed, err := q.ClearCompleted(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = q.ClearCompleted(context.Background(), -time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = q.Get(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
