// Package jobs runs generation requests asynchronously: a bounded queue in
// front of a durable store, with restart recovery for interrupted work.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/llmerrors"
)

// ErrNotFound is returned for unknown job IDs.
var ErrNotFound = llmerrors.New(llmerrors.KindInvalidInput, 404, "job not found")

// Store persists jobs. Writes are upserts keyed by job ID.
type Store interface {
	Save(ctx context.Context, job *schemas.Job) error
	Load(ctx context.Context, id string) (*schemas.Job, error)
	// List returns jobs with the given status, or all jobs when status is
	// empty, newest first.
	List(ctx context.Context, status schemas.JobStatus) ([]*schemas.Job, error)
	// DeleteFinishedBefore removes completed and failed jobs older than
	// cutoff, returning how many were dropped.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DBPool abstracts pgxpool.Pool so the store can run against pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore is the PostgreSQL-backed job store.
type PGStore struct {
	pool DBPool
	log  *zap.Logger
}

// NewPGStore verifies the connection and ensures the jobs table exists.
func NewPGStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PGStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := &PGStore{pool: pool, log: logger.Named("jobstore")}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

const jobsDDL = `
CREATE TABLE IF NOT EXISTS jobs (
    id           TEXT PRIMARY KEY,
    status       TEXT NOT NULL,
    data         JSONB NOT NULL,
    result       JSONB,
    error        TEXT,
    progress     INT NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL,
    started_at   TIMESTAMPTZ,
    completed_at TIMESTAMPTZ
)`

func (s *PGStore) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, jobsDDL); err != nil {
		return fmt.Errorf("failed to ensure jobs table: %w", err)
	}
	return nil
}

const upsertJobSQL = `
INSERT INTO jobs (id, status, data, result, error, progress, created_at, started_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    result = EXCLUDED.result,
    error = EXCLUDED.error,
    progress = EXCLUDED.progress,
    started_at = EXCLUDED.started_at,
    completed_at = EXCLUDED.completed_at`

func (s *PGStore) Save(ctx context.Context, job *schemas.Job) error {
	_, err := s.pool.Exec(ctx, upsertJobSQL,
		job.ID, string(job.Status), job.Data, job.Result, job.Error,
		job.Progress, job.CreatedAt, job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

const selectJobSQL = `
SELECT id, status, data, result, error, progress, created_at, started_at, completed_at
FROM jobs`

func (s *PGStore) Load(ctx context.Context, id string) (*schemas.Job, error) {
	row := s.pool.QueryRow(ctx, selectJobSQL+" WHERE id = $1", id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return job, nil
}

func (s *PGStore) List(ctx context.Context, status schemas.JobStatus) ([]*schemas.Job, error) {
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = s.pool.Query(ctx, selectJobSQL+" ORDER BY created_at DESC")
	} else {
		rows, err = s.pool.Query(ctx, selectJobSQL+" WHERE status = $1 ORDER BY created_at DESC", string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*schemas.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *PGStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE status IN ('completed', 'failed') AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*schemas.Job, error) {
	var job schemas.Job
	var status string
	if err := row.Scan(&job.ID, &status, &job.Data, &job.Result, &job.Error,
		&job.Progress, &job.CreatedAt, &job.StartedAt, &job.CompletedAt); err != nil {
		return nil, err
	}
	job.Status = schemas.JobStatus(status)
	return &job, nil
}
