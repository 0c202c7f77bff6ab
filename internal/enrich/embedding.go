package enrich

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/contentvault/crawld/internal/crawler"
)

// EmbeddingEnricher hands completed content to the embedding pipeline via a
// queue topic.
type EmbeddingEnricher struct {
	pub    Publisher
	logger *zap.Logger
}

// NewEmbeddingEnricher builds an EmbeddingEnricher.
func NewEmbeddingEnricher(pub Publisher, logger *zap.Logger) *EmbeddingEnricher {
	return &EmbeddingEnricher{pub: pub, logger: logger}
}

// Name identifies this collaborator in logs and metrics.
func (e *EmbeddingEnricher) Name() string { return "embedding" }

type embeddingPayload struct {
	JobID       string    `json:"job_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	CrawledAt   time.Time `json:"crawled_at"`
}

// Enrich publishes the crawl result for embedding.
func (e *EmbeddingEnricher) Enrich(ctx context.Context, job crawler.Job, result crawler.CrawlResult) error {
	id, err := e.pub.Publish(ctx, embeddingPayload{
		JobID:       job.ID,
		URL:         result.URL,
		Title:       result.Title,
		Content:     result.Content,
		ContentHash: result.ContentHash,
		CrawledAt:   job.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("publish embedding payload: %w", err)
	}
	e.logger.Debug("embedding payload published",
		zap.String("job_id", job.ID),
		zap.String("message_id", id),
	)
	return nil
}
