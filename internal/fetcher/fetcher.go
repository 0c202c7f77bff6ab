// Package fetcher selects between the plain HTTP fetcher and the headless
// browser fetcher per job configuration.
package fetcher

import (
	"context"

	"github.com/contentvault/crawld/internal/crawler"
)

// Selector routes each fetch to the headless fetcher when the job asks for
// it and a headless fetcher is configured, otherwise to the default fetcher.
type Selector struct {
	standard crawler.Fetcher
	headless crawler.Fetcher
}

// NewSelector builds a Selector. headless may be nil when no browser pool is
// configured; such deployments serve every job with the standard fetcher.
func NewSelector(standard, headless crawler.Fetcher) *Selector {
	return &Selector{standard: standard, headless: headless}
}

// Fetch dispatches to the fetcher matching the job configuration.
func (s *Selector) Fetch(ctx context.Context, url string, cfg crawler.CrawlConfig) (crawler.CrawlResult, error) {
	if cfg.UseHeadless && s.headless != nil {
		return s.headless.Fetch(ctx, url, cfg)
	}
	return s.standard.Fetch(ctx, url, cfg)
}
