// Package headless fetches pages that need JavaScript execution using
// chromedp and headless Chrome.
package headless

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/contentvault/crawld/internal/crawler"
)

// Config controls the headless fetcher.
type Config struct {
	MaxParallel int
	UserAgent   string
}

// Fetcher implements crawler.Fetcher with a shared Chrome allocator and a
// bounded number of parallel tabs.
type Fetcher struct {
	cfg         Config
	pacer       crawler.Pacer
	hasher      crawler.Hasher
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless fetcher backed by chromedp.
func New(cfg Config, pacer crawler.Pacer, hasher crawler.Hasher) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		pacer:       pacer,
		hasher:      hasher,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates with a headless browser and extracts the rendered page.
func (f *Fetcher) Fetch(ctx context.Context, url string, cfg crawler.CrawlConfig) (crawler.CrawlResult, error) {
	if f.pacer != nil {
		if err := f.pacer.WaitIfNeeded(ctx, url); err != nil {
			return crawler.CrawlResult{}, err
		}
	}
	if err := f.acquire(ctx); err != nil {
		return crawler.CrawlResult{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, cfg.Timeout())
	defer cancel()

	// Propagate the caller's cancellation into the browser task.
	go func() {
		select {
		case <-ctx.Done():
			taskCancel()
		case <-taskCtx.Done():
		}
	}()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	page, err := f.runHeadless(taskCtx, url, cfg)
	if err != nil {
		return crawler.CrawlResult{}, err
	}

	if status, retryAfter := meta.rateLimitSignal(); status != 0 {
		if f.pacer != nil {
			f.pacer.HandleRateLimitResponse(url, status, retryAfter)
		}
		return crawler.CrawlResult{}, fmt.Errorf("rate limited by server: status %d", status)
	}

	result := crawler.CrawlResult{
		URL:       finalURL(page.location, url),
		Title:     strings.TrimSpace(page.title),
		Content:   strings.TrimSpace(page.text),
		Links:     dedupeLinks(page.links),
		CrawlTime: time.Since(start),
	}
	result.ContentSize = len(result.Content)
	if cfg.ExtractMetadata && len(page.meta) > 0 {
		result.Metadata = page.meta
	}
	if f.hasher != nil {
		sum, err := f.hasher.Hash([]byte(result.Content))
		if err != nil {
			return crawler.CrawlResult{}, fmt.Errorf("hash content: %w", err)
		}
		result.ContentHash = sum
	}
	return result, nil
}

type renderedPage struct {
	location string
	title    string
	text     string
	links    []string
	meta     map[string]string
}

func (f *Fetcher) runHeadless(ctx context.Context, url string, cfg crawler.CrawlConfig) (renderedPage, error) {
	var page renderedPage
	actions := []chromedp.Action{
		f.networkSetupAction(cfg),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&page.location),
		chromedp.Title(&page.title),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &page.text),
		chromedp.Evaluate(`Array.from(document.querySelectorAll("a[href]")).map(a => a.href)`, &page.links),
		chromedp.Evaluate(`Object.fromEntries(
			Array.from(document.querySelectorAll("meta[name][content], meta[property][content]"))
				.map(m => [m.getAttribute("name") || m.getAttribute("property"), m.getAttribute("content")])
		)`, &page.meta),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return renderedPage{}, fmt.Errorf("chromedp run: %w", err)
	}
	return page, nil
}

func (f *Fetcher) networkSetupAction(cfg crawler.CrawlConfig) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		ua := cfg.UserAgent
		if ua == "" {
			ua = f.cfg.UserAgent
		}
		if ua != "" {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

type responseMeta struct {
	mu         sync.RWMutex
	status     int
	retryAfter string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.retryAfter = headerValue(resp.Response.Headers, "Retry-After")
	m.mu.Unlock()
}

// rateLimitSignal returns the status and Retry-After header when the
// document response was a rate limit rejection, zero otherwise.
func (m *responseMeta) rateLimitSignal() (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == 429 || m.status == 503 {
		return m.status, m.retryAfter
	}
	return 0, ""
}

func headerValue(headers network.Headers, key string) string {
	for k, v := range headers {
		if !strings.EqualFold(k, key) {
			continue
		}
		switch value := v.(type) {
		case string:
			return value
		case float64:
			return strconv.FormatFloat(value, 'f', -1, 64)
		default:
			return fmt.Sprint(value)
		}
	}
	return ""
}

// dedupeLinks keeps the first occurrence of each href, preserving order.
func dedupeLinks(links []string) []string {
	if len(links) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(links))
	var out []string
	for _, link := range links {
		if link == "" {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out
}

func finalURL(location, requested string) string {
	if location != "" {
		return location
	}
	return requested
}
