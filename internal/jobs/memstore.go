package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quizforge/quizforge/api/schemas"
)

// MemStore keeps jobs in memory. It backs storeless runs and tests; state
// does not survive a restart.
type MemStore struct {
	mu   sync.RWMutex
	jobs map[string]schemas.Job
}

func NewMemStore() *MemStore {
	return &MemStore{jobs: make(map[string]schemas.Job)}
}

func (s *MemStore) Save(_ context.Context, job *schemas.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemStore) Load(_ context.Context, id string) (*schemas.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneJob(&job)
	return &out, nil
}

func (s *MemStore) List(_ context.Context, status schemas.JobStatus) ([]*schemas.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schemas.Job
	for _, job := range s.jobs {
		if status != "" && job.Status != status {
			continue
		}
		j := cloneJob(&job)
		out = append(out, &j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, job := range s.jobs {
		finished := job.Status == schemas.JobCompleted || job.Status == schemas.JobFailed
		if finished && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// cloneJob copies a job so callers cannot mutate stored state through
// shared pointers.
func cloneJob(job *schemas.Job) schemas.Job {
	out := *job
	out.Data = append([]byte(nil), job.Data...)
	out.Result = append([]byte(nil), job.Result...)
	if job.StartedAt != nil {
		t := *job.StartedAt
		out.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
