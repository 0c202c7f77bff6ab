package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/contentvault/crawld/internal/crawler"
)

// ContentStore keeps content records in memory with hash indexes mirroring
// the Postgres uniqueness constraints.
type ContentStore struct {
	mu          sync.RWMutex
	byContent   map[string]crawler.ContentRecord
	urlHashes   map[string]int
	titleHashes map[string]int
}

// NewContentStore creates an empty in-memory content store.
func NewContentStore() *ContentStore {
	return &ContentStore{
		byContent:   make(map[string]crawler.ContentRecord),
		urlHashes:   make(map[string]int),
		titleHashes: make(map[string]int),
	}
}

// InsertContent stores a record. A record whose content hash already exists
// is silently dropped, matching ON CONFLICT DO NOTHING.
func (s *ContentStore) InsertContent(_ context.Context, record crawler.ContentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byContent[record.ContentHash]; exists {
		return nil
	}
	s.byContent[record.ContentHash] = record
	s.urlHashes[record.URLHash]++
	if record.TitleHash != "" {
		s.titleHashes[record.TitleHash]++
	}
	return nil
}

// HasContentHash reports whether a record with this content hash exists.
func (s *ContentStore) HasContentHash(_ context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byContent[hash]
	return ok, nil
}

// HasURLHash reports whether a record with this normalized-URL hash exists.
func (s *ContentStore) HasURLHash(_ context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.urlHashes[hash] > 0, nil
}

// HasTitleHash reports whether a record with this title hash exists.
func (s *ContentStore) HasTitleHash(_ context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.titleHashes[hash] > 0, nil
}

// RecentContent returns the content text of up to limit records, newest
// first by extraction time.
func (s *ContentStore) RecentContent(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	records := make([]crawler.ContentRecord, 0, len(s.byContent))
	for _, record := range s.byContent {
		records = append(records, record)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].ExtractedAt.After(records[j].ExtractedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	out := make([]string, len(records))
	for i, record := range records {
		out[i] = record.Content
	}
	return out, nil
}

// DuplicateStats summarizes stored rows for the audit endpoint.
func (s *ContentStore) DuplicateStats(_ context.Context) (crawler.DuplicateStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := crawler.DuplicateStats{
		Total:         len(s.byContent),
		UniqueContent: len(s.byContent),
		UniqueURLs:    len(s.urlHashes),
	}
	for _, n := range s.urlHashes {
		if n > 1 {
			stats.DuplicateURLs += n - 1
		}
	}
	return stats, nil
}
