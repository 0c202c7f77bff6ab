package enrich

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/contentvault/crawld/internal/crawler"
)

// graphEpisodeMaxRunes bounds episode content so oversized pages do not
// overwhelm the graph ingestion service.
const graphEpisodeMaxRunes = 10000

// GraphEnricher publishes each completed crawl as a knowledge-graph episode.
type GraphEnricher struct {
	pub    Publisher
	logger *zap.Logger
}

// NewGraphEnricher builds a GraphEnricher.
func NewGraphEnricher(pub Publisher, logger *zap.Logger) *GraphEnricher {
	return &GraphEnricher{pub: pub, logger: logger}
}

// Name identifies this collaborator in logs and metrics.
func (e *GraphEnricher) Name() string { return "graph" }

type graphPayload struct {
	Episode string   `json:"episode"`
	URL     string   `json:"url"`
	Title   string   `json:"title,omitempty"`
	Content string   `json:"content"`
	Links   []string `json:"links,omitempty"`
	Source  string   `json:"source_description"`
}

// Enrich publishes the crawl result as a graph episode named after the job.
func (e *GraphEnricher) Enrich(ctx context.Context, job crawler.Job, result crawler.CrawlResult) error {
	id, err := e.pub.Publish(ctx, graphPayload{
		Episode: fmt.Sprintf("crawl_%s", job.ID),
		URL:     result.URL,
		Title:   result.Title,
		Content: truncateRunes(result.Content, graphEpisodeMaxRunes),
		Links:   result.Links,
		Source:  fmt.Sprintf("web content crawled from %s", result.URL),
	})
	if err != nil {
		return fmt.Errorf("publish graph episode: %w", err)
	}
	e.logger.Debug("graph episode published",
		zap.String("job_id", job.ID),
		zap.String("message_id", id),
	)
	return nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
