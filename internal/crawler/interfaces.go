package crawler

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned by JobStore implementations for absent ids.
var ErrJobNotFound = errors.New("job not found")

// JobStore persists job state. Every transition is a full-row upsert so the
// durable row never diverges from the manager's view of the job.
type JobStore interface {
	UpsertJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, status *JobStatus, limit int) ([]Job, error)
}

// ContentStore persists fetched content keyed by content hash and answers
// the lookups the deduplicator needs. InsertContent treats a duplicate hash
// as success.
type ContentStore interface {
	InsertContent(ctx context.Context, record ContentRecord) error
	HasContentHash(ctx context.Context, hash string) (bool, error)
	HasURLHash(ctx context.Context, hash string) (bool, error)
	HasTitleHash(ctx context.Context, hash string) (bool, error)
	RecentContent(ctx context.Context, limit int) ([]string, error)
	DuplicateStats(ctx context.Context) (DuplicateStats, error)
}

// Fetcher retrieves a single URL. One attempt, no internal retries; the
// implementation is responsible for consulting the Pacer before the request.
type Fetcher interface {
	Fetch(ctx context.Context, url string, cfg CrawlConfig) (CrawlResult, error)
}

// Pacer is the admission-control contract fetchers call around outbound
// requests.
type Pacer interface {
	WaitIfNeeded(ctx context.Context, url string) error
	HandleRateLimitResponse(url string, statusCode int, retryAfter string)
}

// Enricher is a best-effort downstream consumer of completed crawls.
// Failures are logged by the caller and never affect job status.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, job Job, result CrawlResult) error
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
