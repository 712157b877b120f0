package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
)

// DefaultArchiveTable is used when no table name is configured.
const DefaultArchiveTable = "announcement_archive"

// Archive keeps every scraped draft keyed by (school_id, link). Unlike the
// snapshot document it is never pruned.
type Archive struct {
	pool  Pool
	table string
}

// NewArchive wraps an open pool. The caller owns the pool.
func NewArchive(pool Pool, table string) (*Archive, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = DefaultArchiveTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Archive{pool: pool, table: table}, nil
}

// Store upserts the drafts of one run in a single transaction. Drafts without
// a valid key are skipped.
func (a *Archive) Store(ctx context.Context, runID uuid.UUID, drafts []announcement.Announcement, at time.Time) (err error) {
	if len(drafts) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	school_id, link, title, summary, published_date, status, highlight,
	attachments, first_run_id, last_run_id, first_seen, last_seen
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $10, $10)
ON CONFLICT (school_id, link) DO UPDATE SET
	title = EXCLUDED.title,
	summary = EXCLUDED.summary,
	published_date = EXCLUDED.published_date,
	status = EXCLUDED.status,
	highlight = EXCLUDED.highlight,
	attachments = EXCLUDED.attachments,
	last_run_id = EXCLUDED.last_run_id,
	last_seen = EXCLUDED.last_seen`, a.table)

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, d := range drafts {
		if !d.Key().Valid() {
			continue
		}
		attachments, err := json.Marshal(nonNilAttachments(d.Attachments))
		if err != nil {
			return fmt.Errorf("marshal attachments: %w", err)
		}
		if _, err := tx.Exec(ctx, query,
			d.SchoolID,
			d.Link,
			d.Title,
			d.Summary,
			publishedDate(d.PublishedDate),
			string(d.Status),
			d.Highlight,
			attachments,
			runID,
			at,
		); err != nil {
			return fmt.Errorf("archive %s: %w", d.Link, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	return nil
}

func publishedDate(d announcement.Date) *time.Time {
	if d.IsUnknown() {
		return nil
	}
	t := d.Time()
	return &t
}

func nonNilAttachments(in []announcement.Attachment) []announcement.Attachment {
	if in == nil {
		return []announcement.Attachment{}
	}
	return in
}
