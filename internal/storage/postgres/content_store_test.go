package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/contentvault/crawld/internal/crawler"
)

func TestInsertContentWritesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewContentStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	record := crawler.ContentRecord{
		ContentHash: "hash-1",
		JobID:       "job-1",
		URL:         "https://example.com",
		URLHash:     "url-1",
		Title:       "Example",
		TitleHash:   "title-1",
		Content:     "body",
		ContentSize: 4,
		ExtractedAt: now,
	}

	mock.ExpectExec("INSERT INTO crawl_content").
		WithArgs(
			record.ContentHash,
			record.JobID,
			record.URL,
			record.URLHash,
			record.Title,
			record.TitleHash,
			record.Content,
			record.ContentSize,
			record.ExtractedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.InsertContent(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertContentNullsEmptyTitleHash(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewContentStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	record := crawler.ContentRecord{
		ContentHash: "hash-1",
		JobID:       "job-1",
		URL:         "https://example.com",
		URLHash:     "url-1",
		Content:     "body",
		ContentSize: 4,
		ExtractedAt: now,
	}

	mock.ExpectExec("INSERT INTO crawl_content").
		WithArgs(
			record.ContentHash,
			record.JobID,
			record.URL,
			record.URLHash,
			record.Title,
			nil,
			record.Content,
			record.ContentSize,
			record.ExtractedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.InsertContent(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertContentConflictIsSuccess(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewContentStore(mock)
	require.NoError(t, err)

	record := crawler.ContentRecord{
		ContentHash: "hash-1",
		JobID:       "job-2",
		URL:         "https://example.com/mirror",
		URLHash:     "url-2",
		Title:       "Example",
		TitleHash:   "title-1",
		Content:     "body",
		ContentSize: 4,
		ExtractedAt: time.Unix(1700000000, 0).UTC(),
	}

	// ON CONFLICT DO NOTHING yields zero affected rows; still no error.
	mock.ExpectExec("INSERT INTO crawl_content").
		WithArgs(
			record.ContentHash,
			record.JobID,
			record.URL,
			record.URLHash,
			record.Title,
			record.TitleHash,
			record.Content,
			record.ContentSize,
			record.ExtractedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.InsertContent(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHashLookups(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewContentStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("hash-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	found, err := store.HasContentHash(context.Background(), "hash-1")
	require.NoError(t, err)
	require.True(t, found)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("url-9").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	found, err = store.HasURLHash(context.Background(), "url-9")
	require.NoError(t, err)
	require.False(t, found)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("title-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	found, err = store.HasTitleHash(context.Background(), "title-1")
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentContentReturnsBodies(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewContentStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT content").
		WithArgs(2).
		WillReturnRows(pgxmock.NewRows([]string{"content"}).AddRow("newest").AddRow("older"))

	recent, err := store.RecentContent(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, []string{"newest", "older"}, recent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDuplicateStatsScansCounts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewContentStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT").
		WillReturnRows(pgxmock.NewRows([]string{"total", "uc", "uu", "dc", "du"}).AddRow(10, 9, 8, 1, 2))

	stats, err := store.DuplicateStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, crawler.DuplicateStats{
		Total:            10,
		UniqueContent:    9,
		UniqueURLs:       8,
		DuplicateContent: 1,
		DuplicateURLs:    2,
	}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}
