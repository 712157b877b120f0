package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
)

func TestArchiveStoreUpsertsDrafts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	archive, err := NewArchive(mock, "")
	require.NoError(t, err)

	runID := uuid.New()
	at := time.Date(2024, 1, 10, 6, 0, 0, 0, time.UTC)
	published := announcement.NewDate(2024, 1, 10)
	publishedAt := published.Time()
	drafts := []announcement.Announcement{
		{
			SchoolID:      "scuola-a",
			Link:          "https://scuola-a.edu.it/pnrr/bando-1",
			Title:         "Avviso di selezione",
			Summary:       "Selezione esperti",
			PublishedDate: published,
			Status:        announcement.StatusOpen,
			Highlight:     true,
		},
		{SchoolID: "", Link: "https://scuola-a.edu.it/skip"},
		{
			SchoolID: "scuola-a",
			Link:     "https://scuola-a.edu.it/pnrr/decreto.pdf",
			Title:    "decreto.pdf",
			Summary:  "Documento PDF",
			Status:   announcement.StatusPublished,
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO announcement_archive").
		WithArgs(
			"scuola-a", drafts[0].Link, "Avviso di selezione", "Selezione esperti", &publishedAt,
			"Open", true, []byte("[]"), runID, at,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO announcement_archive").
		WithArgs(
			"scuola-a", drafts[2].Link, "decreto.pdf", "Documento PDF", (*time.Time)(nil),
			"Published", false, []byte("[]"), runID, at,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, archive.Store(context.Background(), runID, drafts, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveStoreRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	archive, err := NewArchive(mock, "archive")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO archive").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = archive.Store(context.Background(), uuid.New(), []announcement.Announcement{
		{SchoolID: "scuola-a", Link: "https://scuola-a.edu.it/x", Status: announcement.StatusPublished},
	}, time.Now())
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRejectsInvalidTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewArchive(mock, "drop table;")
	require.Error(t, err)
	_, err = NewArchive(nil, "")
	require.Error(t, err)
}

func TestArchiveStoreNoDrafts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	archive, err := NewArchive(mock, "")
	require.NoError(t, err)
	require.NoError(t, archive.Store(context.Background(), uuid.New(), nil, time.Now()))
	require.NoError(t, mock.ExpectationsWereMet())
}
