package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(rule Rule) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	return New(rule, clock, zap.NewNop()), clock
}

func TestExtractDomain(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want string
	}{
		{"https://www.Example.COM/path?q=1", "example.com"},
		{"http://sub.example.org", "sub.example.org"},
		{"https://example.net:8443/x", "example.net"},
		{"not a url\x7f", ""},
		{"/relative/only", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ExtractDomain(tc.raw), "url %q", tc.raw)
	}
}

func TestCalculateWaitMinInterval(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	rule := Rule{RequestsPerMinute: 60, Burst: 10}
	ds := &domainStats{}

	// First request in a fresh window goes straight through.
	require.Zero(t, calculateWait(ds, rule, now))
	ds.requestCount = 1
	ds.lastRequest = now

	// 60 rpm means one second between requests.
	require.Equal(t, time.Second, calculateWait(ds, rule, now))
	require.Equal(t, 400*time.Millisecond, calculateWait(ds, rule, now.Add(600*time.Millisecond)))
	require.Zero(t, calculateWait(ds, rule, now.Add(time.Second)))
}

func TestCalculateWaitBurstWaitsForWindow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	rule := Rule{RequestsPerMinute: 30, Burst: 2}
	ds := &domainStats{windowStart: now, requestCount: 2, lastRequest: now}

	at := now.Add(10 * time.Second)
	require.Equal(t, 50*time.Second, calculateWait(ds, rule, at))
}

func TestCalculateWaitWindowReset(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	rule := Rule{RequestsPerMinute: 30, Burst: 2}
	ds := &domainStats{windowStart: now, requestCount: 2, lastRequest: now}

	// Once the window elapses the counter resets and requests flow again.
	require.Zero(t, calculateWait(ds, rule, now.Add(windowDuration)))
	require.Zero(t, ds.requestCount)
	require.Equal(t, now.Add(windowDuration), ds.windowStart)
}

func TestWaitIfNeededFirstRequestIsImmediate(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(Rule{RequestsPerMinute: 30, Burst: 5})
	start := time.Now()
	require.NoError(t, l.WaitIfNeeded(context.Background(), "https://fresh.example.com/a"))
	require.Less(t, time.Since(start), 100*time.Millisecond)

	snap := l.Snapshot()
	require.Equal(t, 1, snap["fresh.example.com"].RequestsThisWindow)
}

func TestWaitIfNeededBlocksOverBurst(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(Rule{RequestsPerMinute: 60, Burst: 1})
	require.NoError(t, l.WaitIfNeeded(context.Background(), "https://slow.example.com/"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.WaitIfNeeded(ctx, "https://slow.example.com/")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The aborted wait never counted as a request.
	require.Equal(t, 1, l.Snapshot()["slow.example.com"].RequestsThisWindow)
}

func TestWaitIfNeededIndependentDomains(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(Rule{RequestsPerMinute: 60, Burst: 1})
	require.NoError(t, l.WaitIfNeeded(context.Background(), "https://one.example.com/"))

	// A different domain is not affected by one.example.com's burst.
	start := time.Now()
	require.NoError(t, l.WaitIfNeeded(context.Background(), "https://two.example.com/"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestHandleRateLimitResponseSeconds(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(Rule{RequestsPerMinute: 30, Burst: 5, Cooldown: time.Minute})
	l.HandleRateLimitResponse("https://api.example.com/x", 429, "5")

	snap := l.Snapshot()["api.example.com"]
	require.True(t, snap.CoolingDown)
	require.Equal(t, clock.Now().Add(5*time.Second), snap.CooldownUntil)
}

func TestHandleRateLimitResponseHTTPDate(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(Rule{RequestsPerMinute: 30, Burst: 5, Cooldown: time.Minute})
	at := clock.Now().Add(90 * time.Second)
	l.HandleRateLimitResponse("https://api.example.com/x", 503, at.Format(http.TimeFormat))

	snap := l.Snapshot()["api.example.com"]
	require.True(t, snap.CoolingDown)
	require.WithinDuration(t, at, snap.CooldownUntil, time.Second)
}

func TestHandleRateLimitResponseFallsBackToRuleCooldown(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(Rule{RequestsPerMinute: 30, Burst: 5, Cooldown: 2 * time.Minute})
	l.HandleRateLimitResponse("https://api.example.com/x", 429, "soon-ish")

	snap := l.Snapshot()["api.example.com"]
	require.Equal(t, clock.Now().Add(2*time.Minute), snap.CooldownUntil)
}

func TestSleepingWaiterDoesNotBlockCooldownRecording(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(Rule{RequestsPerMinute: 30, Burst: 5, Cooldown: time.Minute})
	url := "https://busy.example.com/page"
	require.NoError(t, l.WaitIfNeeded(context.Background(), url))

	// A second request inside the min interval sleeps for about two seconds.
	waitCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.WaitIfNeeded(waitCtx, url) }()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	l.HandleRateLimitResponse(url, 429, "30")
	require.Less(t, time.Since(start), 500*time.Millisecond)

	start = time.Now()
	snap := l.Snapshot()
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.True(t, snap["busy.example.com"].CoolingDown)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestCooldownBlocksWithoutCountingRequest(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(Rule{RequestsPerMinute: 30, Burst: 5, Cooldown: time.Minute})
	l.HandleRateLimitResponse("https://cold.example.com/", 429, "30")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.WaitIfNeeded(ctx, "https://cold.example.com/")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, l.Snapshot()["cold.example.com"].RequestsThisWindow)
}

func TestCooldownExpires(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(Rule{RequestsPerMinute: 30, Burst: 5, Cooldown: time.Minute})
	l.HandleRateLimitResponse("https://warm.example.com/", 429, "10")
	clock.advance(11 * time.Second)

	require.NoError(t, l.WaitIfNeeded(context.Background(), "https://warm.example.com/"))
	require.Equal(t, 1, l.Snapshot()["warm.example.com"].RequestsThisWindow)
}

func TestSetDomainRuleOverridesDefault(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(Rule{RequestsPerMinute: 30, Burst: 5, Cooldown: time.Minute})
	l.SetDomainRule("special.example.com", Rule{RequestsPerMinute: 120, Burst: 20})

	rule := l.RuleFor("special.example.com")
	require.Equal(t, 120, rule.RequestsPerMinute)
	require.Equal(t, 20, rule.Burst)
	// The cooldown falls back to the default when unset.
	require.Equal(t, time.Minute, rule.Cooldown)
}

func TestDefaultPlatformRules(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(Rule{})
	require.Equal(t, 10, l.RuleFor("google.com").RequestsPerMinute)
	require.Equal(t, 1, l.RuleFor("twitter.com").Burst)
	require.Equal(t, DefaultRule.RequestsPerMinute, l.RuleFor("unknown.example.com").RequestsPerMinute)
}

func TestResetDomainClearsState(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(Rule{RequestsPerMinute: 60, Burst: 5})
	require.NoError(t, l.WaitIfNeeded(context.Background(), "https://reset.example.com/"))
	require.Contains(t, l.Snapshot(), "reset.example.com")

	l.ResetDomain("reset.example.com")
	require.NotContains(t, l.Snapshot(), "reset.example.com")

	require.NoError(t, l.WaitIfNeeded(context.Background(), "https://other.example.com/"))
	l.ResetAll()
	require.Empty(t, l.Snapshot())
}
