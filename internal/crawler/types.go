// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CrawlConfig captures per-job configuration knobs requested by the client.
type CrawlConfig struct {
	MaxDepth        int    `json:"max_depth"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
	RespectRobots   bool   `json:"respect_robots"`
	UserAgent       string `json:"user_agent"`
	ExtractMetadata bool   `json:"extract_metadata"`
	UseHeadless     bool   `json:"use_headless"`
}

// Timeout returns the configured fetch budget as a duration.
func (c CrawlConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Job represents the metadata persisted for each submitted crawl request.
type Job struct {
	ID          string       `json:"id"`
	URL         string       `json:"url"`
	Status      JobStatus    `json:"status"`
	Config      CrawlConfig  `json:"config"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Result      *CrawlResult `json:"result,omitempty"`
	ErrorText   string       `json:"error_text,omitempty"`
}

// CrawlResult is the immutable output of one successful fetch.
type CrawlResult struct {
	URL         string            `json:"url"`
	Title       string            `json:"title,omitempty"`
	Content     string            `json:"content"`
	ContentSize int               `json:"content_size"`
	ContentHash string            `json:"content_hash"`
	Links       []string          `json:"links,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CrawlTime   time.Duration     `json:"crawl_time"`
}

// ContentRecord is the row persisted per unique piece of fetched content,
// keyed by content hash so a duplicate insert is idempotent.
type ContentRecord struct {
	ContentHash string    `json:"content_hash"`
	JobID       string    `json:"job_id"`
	URL         string    `json:"url"`
	URLHash     string    `json:"url_hash"`
	Title       string    `json:"title,omitempty"`
	TitleHash   string    `json:"title_hash,omitempty"`
	Content     string    `json:"content"`
	ContentSize int       `json:"content_size"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// DuplicateStats is a read-only audit view over stored content.
type DuplicateStats struct {
	Total            int `json:"total_content"`
	UniqueContent    int `json:"unique_content"`
	UniqueURLs       int `json:"unique_urls"`
	DuplicateContent int `json:"duplicate_content"`
	DuplicateURLs    int `json:"duplicate_urls"`
}
