package schemas

import (
	"encoding/json"
	"time"
)

// -- Job Schemas --

// JobStatus is the lifecycle state of an asynchronous generation job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// TerminalStatus reports whether a job can no longer change state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job is a persisted unit of asynchronous work. Data holds the original
// request; Result is populated on completion and Error on failure.
// Progress is an integer percentage in [0, 100].
type Job struct {
	ID          string          `json:"id"`
	Status      JobStatus       `json:"status"`
	Data        json.RawMessage `json:"data"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Progress    int             `json:"progress"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt"`
}
