// Package dedup decides whether freshly fetched content duplicates
// something already stored, using four checks of increasing cost: exact
// content hash, normalized-URL hash, title hash, then a bounded similarity
// scan. Every internal error fails open — new content is never dropped
// because a check could not run.
package dedup

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/contentvault/crawld/internal/crawler"
	"github.com/contentvault/crawld/internal/telemetry"
)

// DefaultSimilarityThreshold is the ratio above which content counts as a
// duplicate.
const DefaultSimilarityThreshold = 0.85

// DefaultRecentLimit bounds how many stored rows the similarity scan reads.
const DefaultRecentLimit = 1000

// trackingParams are query keys stripped during URL normalization because
// they never affect page content.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
}

// Fingerprint is the derived identity of a fetched page.
type Fingerprint struct {
	ContentHash         string
	URLHash             string
	TitleHash           string
	SimilarityThreshold float64

	content string
}

// Config controls deduplicator behavior.
type Config struct {
	SimilarityThreshold float64
	RecentLimit         int
}

// Deduplicator checks fingerprints against the content store.
type Deduplicator struct {
	store  crawler.ContentStore
	hasher crawler.Hasher
	cfg    Config
	logger *zap.Logger
}

// New constructs a Deduplicator.
func New(store crawler.ContentStore, hasher crawler.Hasher, cfg Config, logger *zap.Logger) *Deduplicator {
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = DefaultRecentLimit
	}
	return &Deduplicator{
		store:  store,
		hasher: hasher,
		cfg:    cfg,
		logger: logger,
	}
}

// CreateFingerprint derives the hash triple for a fetched page. The title
// hash is omitted for empty titles.
func (d *Deduplicator) CreateFingerprint(rawURL, content, title string) Fingerprint {
	fp := Fingerprint{
		SimilarityThreshold: d.cfg.SimilarityThreshold,
		content:             content,
	}
	fp.ContentHash = d.hash(content)
	fp.URLHash = d.hash(NormalizeURL(rawURL))
	if trimmed := strings.TrimSpace(title); trimmed != "" {
		fp.TitleHash = d.hash(strings.ToLower(trimmed))
	}
	return fp
}

// IsDuplicate runs the layered checks cheapest-first, short-circuiting on
// the first match. Errors are logged and treated as "not a duplicate".
func (d *Deduplicator) IsDuplicate(ctx context.Context, fp Fingerprint) bool {
	if ok, err := d.store.HasContentHash(ctx, fp.ContentHash); err != nil {
		d.logger.Warn("content hash check failed", zap.Error(err))
	} else if ok {
		telemetry.ObserveDedup("content_hash")
		return true
	}

	if ok, err := d.store.HasURLHash(ctx, fp.URLHash); err != nil {
		d.logger.Warn("url hash check failed", zap.Error(err))
	} else if ok {
		telemetry.ObserveDedup("url_hash")
		return true
	}

	if fp.TitleHash != "" {
		if ok, err := d.store.HasTitleHash(ctx, fp.TitleHash); err != nil {
			d.logger.Warn("title hash check failed", zap.Error(err))
		} else if ok {
			telemetry.ObserveDedup("title_hash")
			return true
		}
	}

	if d.similarToRecent(ctx, fp) {
		telemetry.ObserveDedup("similarity")
		return true
	}

	telemetry.ObserveDedup("unique")
	return false
}

// similarToRecent compares the new content against a snapshot of the most
// recent stored rows. The snapshot takes no store lock; a race between two
// jobs inserting identical content is resolved by the store's uniqueness
// constraint on content hash, not here.
func (d *Deduplicator) similarToRecent(ctx context.Context, fp Fingerprint) bool {
	recent, err := d.store.RecentContent(ctx, d.cfg.RecentLimit)
	if err != nil {
		d.logger.Warn("similarity scan failed", zap.Error(err))
		return false
	}
	for _, existing := range recent {
		if similarityRatio(fp.content, existing) >= fp.SimilarityThreshold {
			return true
		}
	}
	return false
}

// Stats returns the duplicate audit view from the store. Errors yield a
// zero view rather than propagating, matching the fail-open policy.
func (d *Deduplicator) Stats(ctx context.Context) crawler.DuplicateStats {
	stats, err := d.store.DuplicateStats(ctx)
	if err != nil {
		d.logger.Warn("duplicate stats failed", zap.Error(err))
		return crawler.DuplicateStats{}
	}
	return stats
}

func (d *Deduplicator) hash(s string) string {
	sum, err := d.hasher.Hash([]byte(s))
	if err != nil {
		// SHA-256 over a byte slice cannot fail; guard for custom hashers.
		d.logger.Warn("hash failed", zap.Error(err))
		return ""
	}
	return sum
}

// NormalizeURL canonicalizes a URL for hashing: tracking parameters are
// dropped, the remaining query is re-encoded in sorted order, the trailing
// slash is stripped, and the whole string is lowercased.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(strings.TrimRight(rawURL, "/"))
	}

	query := u.Query()
	for key := range query {
		if _, drop := trackingParams[key]; drop || strings.HasPrefix(key, "utm_") {
			query.Del(key)
		}
	}
	u.RawQuery = query.Encode()

	normalized := strings.TrimRight(u.String(), "/")
	return strings.ToLower(normalized)
}
