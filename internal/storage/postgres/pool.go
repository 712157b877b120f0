// Package postgres provides Postgres-backed run history and the announcement
// archive.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the shared connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of *pgxpool.Pool used by the stores. pgxmock pools
// satisfy it too.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the run history tables and the archive table when missing.
func Migrate(ctx context.Context, pool Pool, archiveTable string) error {
	if archiveTable == "" {
		archiveTable = DefaultArchiveTable
	}
	if !validTableName.MatchString(archiveTable) {
		return fmt.Errorf("invalid table name %q", archiveTable)
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ingestion_runs (
	run_id        UUID PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	new_items     BIGINT NOT NULL DEFAULT 0,
	error_message TEXT
)`,
		`CREATE TABLE IF NOT EXISTS source_stats (
	run_id        UUID NOT NULL REFERENCES ingestion_runs (run_id) ON DELETE CASCADE,
	source_id     TEXT NOT NULL,
	last_update   TIMESTAMPTZ NOT NULL,
	fetches       BIGINT NOT NULL DEFAULT 0,
	bytes_total   BIGINT NOT NULL DEFAULT 0,
	headless      BIGINT NOT NULL DEFAULT 0,
	scraped       BIGINT NOT NULL DEFAULT 0,
	failed        BIGINT NOT NULL DEFAULT 0,
	fetch_2xx     BIGINT NOT NULL DEFAULT 0,
	fetch_3xx     BIGINT NOT NULL DEFAULT 0,
	fetch_4xx     BIGINT NOT NULL DEFAULT 0,
	fetch_5xx     BIGINT NOT NULL DEFAULT 0,
	fetch_other   BIGINT NOT NULL DEFAULT 0,
	error_message TEXT,
	PRIMARY KEY (run_id, source_id)
)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	school_id      TEXT NOT NULL,
	link           TEXT NOT NULL,
	title          TEXT NOT NULL,
	summary        TEXT NOT NULL,
	published_date DATE,
	status         TEXT NOT NULL,
	highlight      BOOLEAN NOT NULL DEFAULT FALSE,
	attachments    JSONB NOT NULL DEFAULT '[]',
	first_run_id   UUID NOT NULL,
	last_run_id    UUID NOT NULL,
	first_seen     TIMESTAMPTZ NOT NULL,
	last_seen      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (school_id, link)
)`, archiveTable),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
