package postgres

import (
	"context"
	"fmt"

	"github.com/contentvault/crawld/internal/crawler"
)

// ContentStore persists admitted page content in the crawl_content table.
// content_hash is the primary key; url_hash and title_hash are indexed for
// the dedup lookups.
type ContentStore struct {
	pool querier
}

// NewContentStore constructs a ContentStore over an existing pool.
func NewContentStore(pool querier) (*ContentStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ContentStore{pool: pool}, nil
}

// InsertContent stores an admitted record. A conflicting content hash means
// another job already stored identical content and is not an error.
func (s *ContentStore) InsertContent(ctx context.Context, record crawler.ContentRecord) error {
	if record.ContentHash == "" {
		return fmt.Errorf("content hash is required")
	}
	query := `
INSERT INTO crawl_content (
	content_hash, job_id, url, url_hash, title, title_hash, content, content_size, extracted_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (content_hash) DO NOTHING`

	var titleHash any
	if record.TitleHash != "" {
		titleHash = record.TitleHash
	}
	args := []any{
		record.ContentHash,
		record.JobID,
		record.URL,
		record.URLHash,
		record.Title,
		titleHash,
		record.Content,
		record.ContentSize,
		record.ExtractedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert content: %w", err)
	}
	return nil
}

// HasContentHash reports whether a record with this content hash exists.
func (s *ContentStore) HasContentHash(ctx context.Context, hash string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM crawl_content WHERE content_hash = $1)`, hash)
}

// HasURLHash reports whether a record with this normalized-URL hash exists.
func (s *ContentStore) HasURLHash(ctx context.Context, hash string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM crawl_content WHERE url_hash = $1)`, hash)
}

// HasTitleHash reports whether a record with this title hash exists.
func (s *ContentStore) HasTitleHash(ctx context.Context, hash string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM crawl_content WHERE title_hash = $1)`, hash)
}

func (s *ContentStore) exists(ctx context.Context, query, hash string) (bool, error) {
	var found bool
	if err := s.pool.QueryRow(ctx, query, hash).Scan(&found); err != nil {
		return false, fmt.Errorf("hash lookup: %w", err)
	}
	return found, nil
}

// RecentContent returns the content text of up to limit records, newest
// first by extraction time.
func (s *ContentStore) RecentContent(ctx context.Context, limit int) ([]string, error) {
	query := `
SELECT content
FROM crawl_content
ORDER BY extracted_at DESC
LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("recent content: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		out = append(out, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent content: %w", err)
	}
	return out, nil
}

// DuplicateStats summarizes stored rows for the audit endpoint.
func (s *ContentStore) DuplicateStats(ctx context.Context) (crawler.DuplicateStats, error) {
	query := `
SELECT
	COUNT(*),
	COUNT(DISTINCT content_hash),
	COUNT(DISTINCT url_hash),
	COUNT(*) - COUNT(DISTINCT content_hash),
	COUNT(*) - COUNT(DISTINCT url_hash)
FROM crawl_content`

	var stats crawler.DuplicateStats
	err := s.pool.QueryRow(ctx, query).Scan(
		&stats.Total,
		&stats.UniqueContent,
		&stats.UniqueURLs,
		&stats.DuplicateContent,
		&stats.DuplicateURLs,
	)
	if err != nil {
		return crawler.DuplicateStats{}, fmt.Errorf("duplicate stats: %w", err)
	}
	return stats, nil
}
