package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/contentvault/crawld/internal/crawler"
)

func TestJobStoreUpsertAndGet(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	now := time.Unix(1700000000, 0).UTC()
	job := crawler.Job{
		ID:        "job-1",
		URL:       "https://example.com",
		Status:    crawler.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.UpsertJob(context.Background(), job))

	got, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, job, got)

	job.Status = crawler.JobStatusRunning
	job.UpdatedAt = now.Add(time.Second)
	require.NoError(t, store.UpsertJob(context.Background(), job))

	got, err = store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusRunning, got.Status)
}

func TestJobStoreGetMissing(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	_, err := store.GetJob(context.Background(), "absent")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
}

func TestJobStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	now := time.Unix(1700000000, 0).UTC()
	result := &crawler.CrawlResult{
		Content:  "body",
		Links:    []string{"https://example.com/next"},
		Metadata: map[string]string{"author": "someone"},
	}
	job := crawler.Job{
		ID:        "job-1",
		URL:       "https://example.com",
		Status:    crawler.JobStatusCompleted,
		CreatedAt: now,
		UpdatedAt: now,
		Result:    result,
	}
	require.NoError(t, store.UpsertJob(context.Background(), job))

	got, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	got.Result.Links[0] = "mutated"
	got.Result.Metadata["author"] = "mutated"

	again, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/next", again.Result.Links[0])
	require.Equal(t, "someone", again.Result.Metadata["author"])
}

func TestJobStoreListNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 5; i++ {
		status := crawler.JobStatusPending
		if i%2 == 1 {
			status = crawler.JobStatusCompleted
		}
		require.NoError(t, store.UpsertJob(context.Background(), crawler.Job{
			ID:        fmt.Sprintf("job-%d", i),
			URL:       fmt.Sprintf("https://example.com/%d", i),
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := store.ListJobs(context.Background(), nil, 10)
	require.NoError(t, err)
	require.Len(t, all, 5)
	require.Equal(t, "job-4", all[0].ID)
	require.Equal(t, "job-0", all[4].ID)

	limited, err := store.ListJobs(context.Background(), nil, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "job-4", limited[0].ID)

	pending := crawler.JobStatusPending
	filtered, err := store.ListJobs(context.Background(), &pending, 10)
	require.NoError(t, err)
	require.Len(t, filtered, 3)
	for _, job := range filtered {
		require.Equal(t, crawler.JobStatusPending, job.Status)
	}
}
