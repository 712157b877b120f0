package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the ingestion_runs status column.
type RunStatus string

// Run statuses persisted in ingestion_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSuccess, RunError:
		return true
	}
	return false
}

// Run models one ingestion run.
type Run struct {
	ID         uuid.UUID  `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	// NewItems counts announcements first seen by the run.
	NewItems     int64   `json:"new_items"`
	ErrorMessage *string `json:"error,omitempty"`
}

// SourceStats aggregates fetch activity of one source within a run.
type SourceStats struct {
	RunID      uuid.UUID `json:"run_id"`
	SourceID   string    `json:"source_id"`
	LastUpdate time.Time `json:"last_update"`
	Fetches    int64     `json:"fetches"`
	BytesTotal int64     `json:"bytes_total"`
	Headless   int64     `json:"headless"`
	Scraped    int64     `json:"scraped"`
	Failed     int64     `json:"failed"`
	Fetch2xx   int64     `json:"fetch_2xx"`
	Fetch3xx   int64     `json:"fetch_3xx"`
	Fetch4xx   int64     `json:"fetch_4xx"`
	Fetch5xx   int64     `json:"fetch_5xx"`
	FetchOther int64     `json:"fetch_other"`
	Error      *string   `json:"error,omitempty"`
}

// SourceDelta is an increment applied to a SourceStats row. Error, when set,
// replaces the stored error.
type SourceDelta struct {
	Fetches    int64
	Bytes      int64
	Headless   int64
	Scraped    int64
	Failed     int64
	Fetch2xx   int64
	Fetch3xx   int64
	Fetch4xx   int64
	Fetch5xx   int64
	FetchOther int64
	Error      *string
}

// Empty reports whether applying d would change nothing.
func (d SourceDelta) Empty() bool {
	return d == SourceDelta{}
}

// RunRepository persists run history.
type RunRepository interface {
	// StartRun inserts the run as running; repeated calls are no-ops.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with status, new item count and error.
	CompleteRun(
		ctx context.Context,
		runID uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		newItems int64,
		errMsg *string,
	) error
	// ApplySourceDelta adds delta to the (run, source) row, creating it.
	ApplySourceDelta(ctx context.Context, runID uuid.UUID, sourceID string, delta SourceDelta, at time.Time) error

	// GetRun loads a run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunSources returns the per-source stats of a run.
	ListRunSources(ctx context.Context, runID uuid.UUID, limit, offset int) ([]SourceStats, error)
}
