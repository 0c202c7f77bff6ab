// Package ratelimit implements per-domain admission control for outbound
// fetches: a rolling one-minute window with burst and minimum-interval
// checks, plus server-signaled cooldowns.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/contentvault/crawld/internal/crawler"
	"github.com/contentvault/crawld/internal/telemetry"
)

const windowDuration = time.Minute

// Rule is the pacing configuration for a domain.
type Rule struct {
	RequestsPerMinute int
	Burst             int
	Cooldown          time.Duration
}

// DefaultRule is applied to domains without a registered rule.
var DefaultRule = Rule{RequestsPerMinute: 30, Burst: 5, Cooldown: time.Minute}

// domainStats is the mutable pacing state for one domain. Each domain has
// its own lock so independent domains never contend. The lock guards the
// counters only; sleeps happen unlocked so cooldown recording and snapshots
// never queue behind a sleeping waiter.
type domainStats struct {
	mu            sync.Mutex
	requestCount  int
	windowStart   time.Time
	lastRequest   time.Time
	cooldownUntil time.Time
}

// StatsSnapshot is a read-only view of one domain's pacing state.
type StatsSnapshot struct {
	RequestsThisWindow int       `json:"requests_this_window"`
	WindowStart        time.Time `json:"window_start"`
	LastRequest        time.Time `json:"last_request"`
	CooldownUntil      time.Time `json:"cooldown_until,omitempty"`
	CoolingDown        bool      `json:"is_cooling_down"`
	RequestsPerMinute  int       `json:"requests_per_minute"`
	Burst              int       `json:"burst_limit"`
}

// Limiter paces requests per target domain.
type Limiter struct {
	mu          sync.Mutex
	stats       map[string]*domainStats
	rules       map[string]Rule
	defaultRule Rule
	clock       crawler.Clock
	logger      *zap.Logger
}

// New creates a Limiter with the given default rule. A zero-valued rule
// falls back to DefaultRule.
func New(defaultRule Rule, clock crawler.Clock, logger *zap.Logger) *Limiter {
	if defaultRule.RequestsPerMinute <= 0 {
		defaultRule = DefaultRule
	}
	if defaultRule.Cooldown <= 0 {
		defaultRule.Cooldown = DefaultRule.Cooldown
	}
	l := &Limiter{
		stats:       make(map[string]*domainStats),
		rules:       make(map[string]Rule),
		defaultRule: defaultRule,
		clock:       clock,
		logger:      logger,
	}
	l.setupDefaultRules()
	return l
}

// setupDefaultRules registers conservative rules for major platforms.
func (l *Limiter) setupDefaultRules() {
	for domain, rule := range map[string]Rule{
		"google.com":        {RequestsPerMinute: 10, Burst: 2},
		"github.com":        {RequestsPerMinute: 15, Burst: 3},
		"stackoverflow.com": {RequestsPerMinute: 20, Burst: 3},
		"wikipedia.org":     {RequestsPerMinute: 60, Burst: 10},
		"reddit.com":        {RequestsPerMinute: 10, Burst: 2},
		"twitter.com":       {RequestsPerMinute: 5, Burst: 1},
		"facebook.com":      {RequestsPerMinute: 5, Burst: 1},
		"linkedin.com":      {RequestsPerMinute: 5, Burst: 1},
		"amazon.com":        {RequestsPerMinute: 10, Burst: 2},
		"youtube.com":       {RequestsPerMinute: 5, Burst: 1},
	} {
		l.rules[domain] = rule
	}
}

// SetDomainRule registers a custom rule for a domain.
func (l *Limiter) SetDomainRule(domain string, rule Rule) {
	l.mu.Lock()
	l.rules[strings.ToLower(domain)] = rule
	l.mu.Unlock()
	l.logger.Info("rate limit rule set",
		zap.String("domain", domain),
		zap.Int("requests_per_minute", rule.RequestsPerMinute),
		zap.Int("burst", rule.Burst),
	)
}

// RuleFor returns the rule for a domain, falling back to the default.
func (l *Limiter) RuleFor(domain string) Rule {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rule, ok := l.rules[strings.ToLower(domain)]; ok {
		return l.normalize(rule)
	}
	return l.normalize(l.defaultRule)
}

func (l *Limiter) normalize(rule Rule) Rule {
	if rule.RequestsPerMinute <= 0 {
		rule.RequestsPerMinute = l.defaultRule.RequestsPerMinute
	}
	if rule.Cooldown <= 0 {
		rule.Cooldown = l.defaultRule.Cooldown
	}
	return rule
}

// WaitIfNeeded blocks until a request to url's domain is allowed. The
// domain's stats are updated exactly once per call, after any sleep.
// An unparseable URL is not paced.
func (l *Limiter) WaitIfNeeded(ctx context.Context, rawURL string) error {
	domain := ExtractDomain(rawURL)
	if domain == "" {
		return nil
	}

	rule := l.RuleFor(domain)
	ds := l.statsFor(domain)

	ds.mu.Lock()
	now := l.clock.Now()

	// A cooling-down domain is fully blocked; sleep it off and return
	// without counting a request against the window.
	if now.Before(ds.cooldownUntil) {
		wait := ds.cooldownUntil.Sub(now)
		ds.mu.Unlock()
		l.logger.Debug("domain cooling down",
			zap.String("domain", domain),
			zap.Duration("wait", wait),
		)
		if err := sleep(ctx, wait); err != nil {
			return err
		}
		telemetry.ObserveRateLimitDelay(domain, wait)
		return nil
	}

	wait := calculateWait(ds, rule, now)
	ds.mu.Unlock()

	if wait > 0 {
		l.logger.Debug("rate limiting domain",
			zap.String("domain", domain),
			zap.Duration("wait", wait),
		)
		if err := sleep(ctx, wait); err != nil {
			return err
		}
		telemetry.ObserveRateLimitDelay(domain, wait)
	}

	ds.mu.Lock()
	ds.requestCount++
	ds.lastRequest = l.clock.Now()
	ds.mu.Unlock()
	return nil
}

// calculateWait returns how long to hold the next request, resetting the
// window when it has elapsed. The burst and window checks both wait for the
// window to roll over; otherwise the minimum inter-request interval applies.
func calculateWait(ds *domainStats, rule Rule, now time.Time) time.Duration {
	if ds.windowStart.IsZero() || now.Sub(ds.windowStart) >= windowDuration {
		ds.requestCount = 0
		ds.windowStart = now
	}

	if rule.Burst > 0 && ds.requestCount >= rule.Burst {
		return maxDuration(0, windowDuration-now.Sub(ds.windowStart))
	}
	if ds.requestCount >= rule.RequestsPerMinute {
		return maxDuration(0, windowDuration-now.Sub(ds.windowStart))
	}

	minInterval := windowDuration / time.Duration(rule.RequestsPerMinute)
	if !ds.lastRequest.IsZero() {
		if since := now.Sub(ds.lastRequest); since < minInterval {
			return minInterval - since
		}
	}
	return 0
}

// HandleRateLimitResponse records a server-signaled backoff for url's
// domain. retryAfter is parsed as seconds, then as an HTTP date, then the
// rule's default cooldown applies.
func (l *Limiter) HandleRateLimitResponse(rawURL string, statusCode int, retryAfter string) {
	domain := ExtractDomain(rawURL)
	if domain == "" {
		return
	}

	rule := l.RuleFor(domain)
	now := l.clock.Now()
	cooldown := rule.Cooldown
	if retryAfter != "" {
		if secs, err := strconv.ParseFloat(retryAfter, 64); err == nil {
			cooldown = time.Duration(secs * float64(time.Second))
		} else if at, err := http.ParseTime(retryAfter); err == nil {
			cooldown = at.Sub(now)
		}
	}

	ds := l.statsFor(domain)
	ds.mu.Lock()
	ds.cooldownUntil = now.Add(cooldown)
	ds.mu.Unlock()

	telemetry.ObserveCooldown(domain)
	l.logger.Warn("rate limited by server",
		zap.String("domain", domain),
		zap.Int("status", statusCode),
		zap.Duration("cooldown", cooldown),
	)
}

// Snapshot returns the current pacing state per domain.
func (l *Limiter) Snapshot() map[string]StatsSnapshot {
	l.mu.Lock()
	domains := make([]string, 0, len(l.stats))
	for domain := range l.stats {
		domains = append(domains, domain)
	}
	l.mu.Unlock()

	now := l.clock.Now()
	out := make(map[string]StatsSnapshot, len(domains))
	for _, domain := range domains {
		rule := l.RuleFor(domain)
		ds := l.statsFor(domain)
		ds.mu.Lock()
		out[domain] = StatsSnapshot{
			RequestsThisWindow: ds.requestCount,
			WindowStart:        ds.windowStart,
			LastRequest:        ds.lastRequest,
			CooldownUntil:      ds.cooldownUntil,
			CoolingDown:        now.Before(ds.cooldownUntil),
			RequestsPerMinute:  rule.RequestsPerMinute,
			Burst:              rule.Burst,
		}
		ds.mu.Unlock()
	}
	return out
}

// ResetDomain clears pacing state for a domain.
func (l *Limiter) ResetDomain(domain string) {
	l.mu.Lock()
	delete(l.stats, strings.ToLower(domain))
	l.mu.Unlock()
}

// ResetAll clears all pacing state.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	l.stats = make(map[string]*domainStats)
	l.mu.Unlock()
}

func (l *Limiter) statsFor(domain string) *domainStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	ds, ok := l.stats[domain]
	if !ok {
		ds = &domainStats{}
		l.stats[domain] = ds
	}
	return ds
}

// ExtractDomain returns the registrable domain for a URL: hostname
// lowercased with any "www." prefix stripped, or "" when unparseable.
func ExtractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	domain := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(domain, "www.")
}

// sleep waits for d or until the context finishes.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
