package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/pnrr-announcements/internal/store"
)

// RunStore implements store.RunRepository.
type RunStore struct {
	pool Pool
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore wraps an open pool. The caller owns the pool.
func NewRunStore(pool Pool) (*RunStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// StartRun inserts a running row; a repeated start is ignored.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	const query = `
		INSERT INTO ingestion_runs (run_id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// CompleteRun records the final status of a run.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	newItems int64,
	errMsg *string,
) error {
	const query = `
		UPDATE ingestion_runs
		SET finished_at = $1, status = $2, new_items = $3, error_message = $4
		WHERE run_id = $5;
	`
	tag, err := s.pool.Exec(ctx, query, finishedAt, string(status), newItems, errMsg, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete run %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// ApplySourceDelta upserts the (run, source) row, adding the counters.
func (s *RunStore) ApplySourceDelta(
	ctx context.Context,
	runID uuid.UUID,
	sourceID string,
	d store.SourceDelta,
	at time.Time,
) error {
	const query = `
		INSERT INTO source_stats (
			run_id, source_id, last_update, fetches, bytes_total, headless, scraped, failed,
			fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx, fetch_other, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (run_id, source_id) DO UPDATE SET
			last_update = GREATEST(source_stats.last_update, EXCLUDED.last_update),
			fetches = source_stats.fetches + EXCLUDED.fetches,
			bytes_total = source_stats.bytes_total + EXCLUDED.bytes_total,
			headless = source_stats.headless + EXCLUDED.headless,
			scraped = source_stats.scraped + EXCLUDED.scraped,
			failed = source_stats.failed + EXCLUDED.failed,
			fetch_2xx = source_stats.fetch_2xx + EXCLUDED.fetch_2xx,
			fetch_3xx = source_stats.fetch_3xx + EXCLUDED.fetch_3xx,
			fetch_4xx = source_stats.fetch_4xx + EXCLUDED.fetch_4xx,
			fetch_5xx = source_stats.fetch_5xx + EXCLUDED.fetch_5xx,
			fetch_other = source_stats.fetch_other + EXCLUDED.fetch_other,
			error_message = COALESCE(EXCLUDED.error_message, source_stats.error_message);
	`
	_, err := s.pool.Exec(ctx, query,
		runID, sourceID, at,
		d.Fetches, d.Bytes, d.Headless, d.Scraped, d.Failed,
		d.Fetch2xx, d.Fetch3xx, d.Fetch4xx, d.Fetch5xx, d.FetchOther,
		d.Error,
	)
	if err != nil {
		return fmt.Errorf("upsert source stats: %w", err)
	}
	return nil
}

const runColumns = `run_id, started_at, finished_at, status, new_items, error_message`

// GetRun loads a run by id.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM ingestion_runs WHERE run_id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first. A nil status lists every run.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM ingestion_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`
	var filter *string
	if status != nil {
		value := string(*status)
		filter = &value
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// ListRunSources returns per-source stats of a run ordered by source id.
func (s *RunStore) ListRunSources(ctx context.Context, runID uuid.UUID, limit, offset int) ([]store.SourceStats, error) {
	const query = `
		SELECT run_id, source_id, last_update, fetches, bytes_total, headless, scraped, failed,
			fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx, fetch_other, error_message
		FROM source_stats
		WHERE run_id = $1
		ORDER BY source_id
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list run sources: %w", err)
	}
	defer rows.Close()

	stats := []store.SourceStats{}
	for rows.Next() {
		var st store.SourceStats
		if err := rows.Scan(
			&st.RunID,
			&st.SourceID,
			&st.LastUpdate,
			&st.Fetches,
			&st.BytesTotal,
			&st.Headless,
			&st.Scraped,
			&st.Failed,
			&st.Fetch2xx,
			&st.Fetch3xx,
			&st.Fetch4xx,
			&st.Fetch5xx,
			&st.FetchOther,
			&st.Error,
		); err != nil {
			return nil, fmt.Errorf("scan source stats row: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run sources: %w", err)
	}
	return stats, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	if err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.NewItems,
		&run.ErrorMessage,
	); err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
