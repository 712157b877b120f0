package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pnrr-announcements/internal/store"
)

func newMockRunStore(t *testing.T) (pgxmock.PgxPoolIface, *RunStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	runs, err := NewRunStore(mock)
	require.NoError(t, err)
	return mock, runs
}

func TestRunStoreStartAndComplete(t *testing.T) {
	t.Parallel()

	mock, runs := newMockRunStore(t)
	runID := uuid.New()
	started := time.Date(2024, 1, 10, 6, 0, 0, 0, time.UTC)
	finished := started.Add(4 * time.Minute)

	mock.ExpectExec("INSERT INTO ingestion_runs").
		WithArgs(runID, started, "running").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE ingestion_runs").
		WithArgs(finished, "success", int64(3), (*string)(nil), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, runs.StartRun(context.Background(), runID, started))
	require.NoError(t, runs.CompleteRun(context.Background(), runID, finished, store.RunSuccess, 3, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreCompleteUnknownRun(t *testing.T) {
	t.Parallel()

	mock, runs := newMockRunStore(t)
	runID := uuid.New()
	msg := "boom"
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE ingestion_runs").
		WithArgs(now, "error", int64(0), &msg, runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := runs.CompleteRun(context.Background(), runID, now, store.RunError, 0, &msg)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreApplySourceDelta(t *testing.T) {
	t.Parallel()

	mock, runs := newMockRunStore(t)
	runID := uuid.New()
	at := time.Date(2024, 1, 10, 6, 1, 0, 0, time.UTC)
	delta := store.SourceDelta{Fetches: 3, Bytes: 160, Headless: 1, Scraped: 2, Failed: 1, Fetch2xx: 2, Fetch4xx: 1}

	mock.ExpectExec("INSERT INTO source_stats").
		WithArgs(
			runID, "scuola-a", at,
			int64(3), int64(160), int64(1), int64(2), int64(1),
			int64(2), int64(0), int64(1), int64(0), int64(0),
			(*string)(nil),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, runs.ApplySourceDelta(context.Background(), runID, "scuola-a", delta, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreGetRun(t *testing.T) {
	t.Parallel()

	mock, runs := newMockRunStore(t)
	runID := uuid.New()
	started := time.Date(2024, 1, 10, 6, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)

	mock.ExpectQuery("SELECT run_id, started_at").
		WithArgs(runID).
		WillReturnRows(pgxmock.NewRows([]string{"run_id", "started_at", "finished_at", "status", "new_items", "error_message"}).
			AddRow(runID, started, &finished, "success", int64(2), (*string)(nil)))

	run, err := runs.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, runID, run.ID)
	require.Equal(t, store.RunSuccess, run.Status)
	require.Equal(t, int64(2), run.NewItems)
	require.NotNil(t, run.FinishedAt)
	require.True(t, finished.Equal(*run.FinishedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreGetRunNotFound(t *testing.T) {
	t.Parallel()

	mock, runs := newMockRunStore(t)
	runID := uuid.New()
	mock.ExpectQuery("SELECT run_id, started_at").
		WithArgs(runID).
		WillReturnError(pgx.ErrNoRows)

	_, err := runs.GetRun(context.Background(), runID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunStoreListRuns(t *testing.T) {
	t.Parallel()

	mock, runs := newMockRunStore(t)
	first, second := uuid.New(), uuid.New()
	now := time.Date(2024, 1, 10, 6, 0, 0, 0, time.UTC)
	cols := []string{"run_id", "started_at", "finished_at", "status", "new_items", "error_message"}

	mock.ExpectQuery("FROM ingestion_runs").
		WithArgs((*string)(nil), 10, 0).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(second, now, (*time.Time)(nil), "running", int64(0), (*string)(nil)).
			AddRow(first, now.Add(-time.Hour), (*time.Time)(nil), "error", int64(0), (*string)(nil)))

	got, err := runs.ListRuns(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, second, got[0].ID)
	require.Equal(t, store.RunRunning, got[0].Status)
	require.Nil(t, got[0].FinishedAt)

	status := store.RunError
	filter := "error"
	mock.ExpectQuery("FROM ingestion_runs").
		WithArgs(&filter, 5, 0).
		WillReturnRows(pgxmock.NewRows(cols))
	got, err = runs.ListRuns(context.Background(), &status, 5, 0)
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreListRunSources(t *testing.T) {
	t.Parallel()

	mock, runs := newMockRunStore(t)
	runID := uuid.New()
	now := time.Date(2024, 1, 10, 6, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM source_stats").
		WithArgs(runID, 50, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"run_id", "source_id", "last_update", "fetches", "bytes_total", "headless", "scraped", "failed",
			"fetch_2xx", "fetch_3xx", "fetch_4xx", "fetch_5xx", "fetch_other", "error_message",
		}).AddRow(runID, "scuola-a", now, int64(4), int64(2048), int64(1), int64(3), int64(1),
			int64(3), int64(0), int64(1), int64(0), int64(0), (*string)(nil)))

	stats, err := runs.ListRunSources(context.Background(), runID, 50, 0)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, "scuola-a", stats[0].SourceID)
	require.Equal(t, int64(2048), stats[0].BytesTotal)
	require.Equal(t, int64(3), stats[0].Scraped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreQueryError(t *testing.T) {
	t.Parallel()

	mock, runs := newMockRunStore(t)
	mock.ExpectQuery("FROM ingestion_runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	_, err := runs.ListRuns(context.Background(), nil, 10, 0)
	require.ErrorContains(t, err, "connection reset")
}

func TestMigrateCreatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ingestion_runs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS source_stats").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS announcement_archive").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, Migrate(context.Background(), mock, ""))
	require.NoError(t, mock.ExpectationsWereMet())
	require.Error(t, Migrate(context.Background(), mock, "bad-name;"))
}
