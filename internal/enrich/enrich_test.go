package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contentvault/crawld/internal/crawler"
)

type fakePublisher struct {
	payloads []any
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, payload any) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.payloads = append(p.payloads, payload)
	return "msg-1", nil
}

func roundTrip(t *testing.T, payload any, out any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

func TestEmbeddingEnricherPublishesResult(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	e := NewEmbeddingEnricher(pub, zap.NewNop())
	require.Equal(t, "embedding", e.Name())

	job := crawler.Job{ID: "job-1"}
	result := crawler.CrawlResult{
		URL:         "https://example.com",
		Title:       "Example",
		Content:     "body text",
		ContentHash: "abc123",
	}
	require.NoError(t, e.Enrich(context.Background(), job, result))
	require.Len(t, pub.payloads, 1)

	var got map[string]any
	roundTrip(t, pub.payloads[0], &got)
	require.Equal(t, "job-1", got["job_id"])
	require.Equal(t, "https://example.com", got["url"])
	require.Equal(t, "body text", got["content"])
	require.Equal(t, "abc123", got["content_hash"])
}

func TestEmbeddingEnricherPropagatesPublishError(t *testing.T) {
	t.Parallel()

	e := NewEmbeddingEnricher(&fakePublisher{err: errors.New("broker down")}, zap.NewNop())
	err := e.Enrich(context.Background(), crawler.Job{ID: "job-1"}, crawler.CrawlResult{})
	require.Error(t, err)
}

func TestGraphEnricherNamesEpisodeAfterJob(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	e := NewGraphEnricher(pub, zap.NewNop())
	require.Equal(t, "graph", e.Name())

	job := crawler.Job{ID: "job-7"}
	result := crawler.CrawlResult{
		URL:     "https://example.com",
		Content: "short content",
		Links:   []string{"https://example.com/next"},
	}
	require.NoError(t, e.Enrich(context.Background(), job, result))

	var got map[string]any
	roundTrip(t, pub.payloads[0], &got)
	require.Equal(t, "crawl_job-7", got["episode"])
	require.Equal(t, "short content", got["content"])
}

func TestGraphEnricherTruncatesLongContent(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	e := NewGraphEnricher(pub, zap.NewNop())

	long := strings.Repeat("ü", graphEpisodeMaxRunes+500)
	require.NoError(t, e.Enrich(context.Background(), crawler.Job{ID: "job-1"}, crawler.CrawlResult{Content: long}))

	var got map[string]string
	roundTrip(t, pub.payloads[0], &got)
	require.Equal(t, graphEpisodeMaxRunes, len([]rune(got["content"])))
}

type fakeBlobWriter struct {
	path        string
	contentType string
	body        string
	err         error
}

func (w *fakeBlobWriter) PutObject(_ context.Context, objectPath, contentType string, r io.Reader) (string, error) {
	if w.err != nil {
		return "", w.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	w.path = objectPath
	w.contentType = contentType
	w.body = string(data)
	return "gs://bucket/" + objectPath, nil
}

func TestArchiverStoresContentByHash(t *testing.T) {
	t.Parallel()

	blobs := &fakeBlobWriter{}
	a := NewArchiver(blobs, "content", zap.NewNop())
	require.Equal(t, "archive", a.Name())

	result := crawler.CrawlResult{Content: "page body", ContentHash: "deadbeef"}
	require.NoError(t, a.Enrich(context.Background(), crawler.Job{ID: "job-1"}, result))
	require.Equal(t, "content/deadbeef.txt", blobs.path)
	require.Equal(t, "text/plain; charset=utf-8", blobs.contentType)
	require.Equal(t, "page body", blobs.body)
}

func TestArchiverRequiresContentHash(t *testing.T) {
	t.Parallel()

	a := NewArchiver(&fakeBlobWriter{}, "content", zap.NewNop())
	err := a.Enrich(context.Background(), crawler.Job{ID: "job-1"}, crawler.CrawlResult{Content: "body"})
	require.Error(t, err)
}

func TestArchiverPropagatesUploadError(t *testing.T) {
	t.Parallel()

	a := NewArchiver(&fakeBlobWriter{err: errors.New("bucket gone")}, "content", zap.NewNop())
	err := a.Enrich(context.Background(), crawler.Job{ID: "job-1"}, crawler.CrawlResult{
		Content:     "body",
		ContentHash: "abc",
	})
	require.Error(t, err)
}
