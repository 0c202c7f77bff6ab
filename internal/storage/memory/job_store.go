// Package memory provides in-memory store implementations used in tests and
// single-process deployments without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/contentvault/crawld/internal/crawler"
)

// JobStore keeps jobs in a map guarded by a RWMutex.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]crawler.Job
}

// NewJobStore creates an empty in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]crawler.Job)}
}

// UpsertJob inserts or fully replaces the job row.
func (s *JobStore) UpsertJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob returns the job or crawler.ErrJobNotFound.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// ListJobs returns jobs newest-first, optionally filtered by status.
func (s *JobStore) ListJobs(_ context.Context, status *crawler.JobStatus, limit int) ([]crawler.Job, error) {
	s.mu.RLock()
	out := make([]crawler.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if status != nil && job.Status != *status {
			continue
		}
		out = append(out, cloneJob(job))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// cloneJob copies the pointer fields so callers cannot mutate stored state.
func cloneJob(job crawler.Job) crawler.Job {
	if job.CompletedAt != nil {
		at := *job.CompletedAt
		job.CompletedAt = &at
	}
	if job.Result != nil {
		result := *job.Result
		result.Links = append([]string(nil), result.Links...)
		if result.Metadata != nil {
			meta := make(map[string]string, len(result.Metadata))
			for k, v := range result.Metadata {
				meta[k] = v
			}
			result.Metadata = meta
		}
		job.Result = &result
	}
	return job
}
