// Package collyfetcher implements the default page fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/contentvault/crawld/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// GlobalRPS caps outbound requests across all domains; the per-domain
	// pacer handles politeness, this guards the process as a whole.
	GlobalRPS   float64
	GlobalBurst int
}

// Fetcher implements crawler.Fetcher with a cloned-per-fetch Colly
// collector. Every fetch first clears the per-domain pacer, then the global
// throttle.
type Fetcher struct {
	cfg      Config
	pacer    crawler.Pacer
	hasher   crawler.Hasher
	throttle *rate.Limiter
	base     *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config, pacer crawler.Pacer, hasher crawler.Hasher) *Fetcher {
	// colly v2.1.0's Async option ignores its argument and always enables
	// async mode; set the field directly to keep the collector synchronous.
	c := colly.NewCollector()
	c.Async = false
	c.WithTransport(newHTTPTransport())

	var throttle *rate.Limiter
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = 1
		}
		throttle = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)
	}

	return &Fetcher{
		cfg:      cfg,
		pacer:    pacer,
		hasher:   hasher,
		throttle: throttle,
		base:     c,
	}
}

// Fetch executes a single HTTP GET and extracts title, text content, links
// and optional metadata from the response.
func (f *Fetcher) Fetch(ctx context.Context, url string, cfg crawler.CrawlConfig) (crawler.CrawlResult, error) {
	if f.pacer != nil {
		if err := f.pacer.WaitIfNeeded(ctx, url); err != nil {
			return crawler.CrawlResult{}, err
		}
	}
	if f.throttle != nil {
		if err := f.throttle.Wait(ctx); err != nil {
			return crawler.CrawlResult{}, fmt.Errorf("global throttle wait: %w", err)
		}
	}

	start := time.Now()
	result := crawler.CrawlResult{URL: url}
	var fetchErr error

	collector := f.buildCollector(cfg, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return crawler.CrawlResult{}, err
	}

	result.ContentSize = len(result.Content)
	result.CrawlTime = time.Since(start)
	if f.hasher != nil {
		sum, err := f.hasher.Hash([]byte(result.Content))
		if err != nil {
			return crawler.CrawlResult{}, fmt.Errorf("hash content: %w", err)
		}
		result.ContentHash = sum
	}
	return result, nil
}

func (f *Fetcher) buildCollector(cfg crawler.CrawlConfig, result *crawler.CrawlResult, fetchErr *error) *colly.Collector {
	collector := f.base.Clone()
	if ua := userAgent(cfg, f.cfg); ua != "" {
		collector.UserAgent = ua
	}
	collector.IgnoreRobotsTxt = !cfg.RespectRobots
	collector.SetRequestTimeout(cfg.Timeout())

	collector.OnResponse(func(r *colly.Response) {
		result.URL = r.Request.URL.String()
		// Fallback when the body has no parseable HTML.
		if result.Content == "" {
			result.Content = string(r.Body)
		}
		if cfg.ExtractMetadata {
			if result.Metadata == nil {
				result.Metadata = make(map[string]string)
			}
			result.Metadata["domain"] = r.Request.URL.Hostname()
			result.Metadata["scheme"] = r.Request.URL.Scheme
			if ct := r.Headers.Get("Content-Type"); ct != "" {
				result.Metadata["content_type"] = ct
			}
		}
	})

	collector.OnHTML("head > title", func(e *colly.HTMLElement) {
		if result.Title == "" {
			result.Title = strings.TrimSpace(e.Text)
		}
	})

	collector.OnHTML("body", func(e *colly.HTMLElement) {
		result.Content = strings.TrimSpace(e.Text)
	})

	seenLinks := make(map[string]struct{})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		if _, dup := seenLinks[link]; dup {
			return
		}
		seenLinks[link] = struct{}{}
		result.Links = append(result.Links, link)
	})

	if cfg.ExtractMetadata {
		collector.OnHTML(`meta[name][content], meta[property][content]`, func(e *colly.HTMLElement) {
			key := e.Attr("name")
			if key == "" {
				key = e.Attr("property")
			}
			if key == "" {
				return
			}
			if result.Metadata == nil {
				result.Metadata = make(map[string]string)
			}
			result.Metadata[key] = e.Attr("content")
		})
	}

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && isRateLimited(r.StatusCode) && f.pacer != nil {
			f.pacer.HandleRateLimitResponse(
				r.Request.URL.String(),
				r.StatusCode,
				r.Headers.Get("Retry-After"),
			)
		}
		*fetchErr = err
	})

	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func userAgent(cfg crawler.CrawlConfig, fallback Config) string {
	if cfg.UserAgent != "" {
		return cfg.UserAgent
	}
	return fallback.UserAgent
}

func isRateLimited(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode == http.StatusServiceUnavailable
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
