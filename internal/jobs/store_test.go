package jobs

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quizforge/quizforge/api/schemas"
)

// flexibleSQL builds a whitespace-insensitive regex for SQL expectations.
func flexibleSQL(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T) (*PGStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectPing()
	mock.ExpectExec(flexibleSQL(jobsDDL)).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	store, err := NewPGStore(context.Background(), mock, zap.NewNop())
	require.NoError(t, err)
	return store, mock
}

func jobColumns() []string {
	return []string{"id", "status", "data", "result", "error", "progress", "created_at", "started_at", "completed_at"}
}

func TestPGStore_SaveUpserts(t *testing.T) {
	store, mock := newMockStore(t)

	created := time.Now().UTC()
	job := &schemas.Job{
		ID:        "job-1",
		Status:    schemas.JobPending,
		Data:      json.RawMessage(`{"text":"material"}`),
		CreatedAt: created,
	}

	mock.ExpectExec(flexibleSQL(upsertJobSQL)).
		WithArgs("job-1", "pending", job.Data, json.RawMessage(nil), "", 0, created, (*time.Time)(nil), (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_LoadRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)

	created := time.Now().UTC().Truncate(time.Second)
	started := created.Add(time.Second)
	mock.ExpectQuery(flexibleSQL(selectJobSQL+" WHERE id = $1")).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(jobColumns()).AddRow(
			"job-1", "processing", json.RawMessage(`{"text":"m"}`), json.RawMessage(nil),
			"", 40, created, &started, (*time.Time)(nil)))

	job, err := store.Load(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, schemas.JobProcessing, job.Status)
	assert.Equal(t, 40, job.Progress)
	require.NotNil(t, job.StartedAt)
	assert.Equal(t, started, *job.StartedAt)
	assert.Nil(t, job.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_LoadMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(flexibleSQL(selectJobSQL+" WHERE id = $1")).
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows(jobColumns()))

	_, err := store.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_ListByStatus(t *testing.T) {
	store, mock := newMockStore(t)

	created := time.Now().UTC()
	mock.ExpectQuery(flexibleSQL(selectJobSQL+" WHERE status = $1 ORDER BY created_at DESC")).
		WithArgs("pending").
		WillReturnRows(pgxmock.NewRows(jobColumns()).
			AddRow("job-2", "pending", json.RawMessage(`{}`), json.RawMessage(nil), "", 0, created, (*time.Time)(nil), (*time.Time)(nil)).
			AddRow("job-1", "pending", json.RawMessage(`{}`), json.RawMessage(nil), "", 0, created.Add(-time.Minute), (*time.Time)(nil), (*time.Time)(nil)))

	out, err := store.List(context.Background(), schemas.JobPending)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "job-2", out[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_DeleteFinishedBefore(t *testing.T) {
	store, mock := newMockStore(t)

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	mock.ExpectExec(flexibleSQL(`DELETE FROM jobs WHERE status IN ('completed', 'failed') AND completed_at < $1`)).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	removed, err := store.DeleteFinishedBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
