/**
 * Fuzzy card name index
 *
 * Holds the canonical name list as an immutable snapshot. Rebuilds swap the
 * snapshot pointer atomically, so readers never see a partial index.
 */

package nameindex

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agnivade/levenshtein"
	"golang.org/x/sync/singleflight"

	"github.com/Epetaway/mtg-proxy-generator/internal/catalog"
	scanerrors "github.com/Epetaway/mtg-proxy-generator/internal/errors"
	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
)

// DefaultThreshold is the highest accepted distance-per-query-character
const DefaultThreshold = 0.35

// DefaultMaxAge is how long a fetched name list stays fresh
const DefaultMaxAge = 7 * 24 * time.Hour

// DefaultRetryBackoff is how long EnsureReady waits after a failed fetch
// before contacting the source again
const DefaultRetryBackoff = time.Minute

type entry struct {
	name  string
	lower string
	runes int
}

type snapshot struct {
	entries []entry
	builtAt time.Time
}

// Config configures an Index
type Config struct {
	Source       catalog.NameSource
	Cache        Cache
	Threshold    float64
	MaxAge       time.Duration
	RetryBackoff time.Duration // wait after a failed fetch before the next attempt
	Logger       *logging.Logger
	Now          func() time.Time
}

// Index answers fuzzy name queries against the canonical name list
type Index struct {
	source    catalog.NameSource
	cache     Cache
	threshold float64
	maxAge    time.Duration
	backoff   time.Duration
	logger    *logging.Logger
	now       func() time.Time

	current atomic.Pointer[snapshot]
	group   singleflight.Group

	failMu  sync.Mutex
	retryAt time.Time
	lastErr error
}

// New creates an empty index; call EnsureReady before Suggest
func New(cfg Config) *Index {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("nameindex")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Index{
		source:    cfg.Source,
		cache:     cfg.Cache,
		threshold: cfg.Threshold,
		maxAge:    cfg.MaxAge,
		backoff:   cfg.RetryBackoff,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// Ready reports whether a snapshot is loaded
func (ix *Index) Ready() bool {
	return ix.current.Load() != nil
}

// Size returns the number of names in the current snapshot
func (ix *Index) Size() int {
	if s := ix.current.Load(); s != nil {
		return len(s.entries)
	}
	return 0
}

// BuiltAt returns when the name list backing the current snapshot was fetched
func (ix *Index) BuiltAt() time.Time {
	if s := ix.current.Load(); s != nil {
		return s.builtAt
	}
	return time.Time{}
}

// EnsureReady loads the index at most once per staleness window. Concurrent
// callers share a single build. After a failed fetch the outcome of that
// attempt is returned without contacting the source until the backoff expires.
func (ix *Index) EnsureReady(ctx context.Context) error {
	if s := ix.current.Load(); s != nil && ix.fresh(s.builtAt) {
		return nil
	}
	if waiting, err := ix.backingOff(); waiting {
		return err
	}
	_, err, _ := ix.group.Do("build", func() (interface{}, error) {
		if s := ix.current.Load(); s != nil && ix.fresh(s.builtAt) {
			return nil, nil
		}
		if waiting, err := ix.backingOff(); waiting {
			return nil, err
		}
		return nil, ix.build(ctx, false)
	})
	return err
}

// Refresh rebuilds from the remote source regardless of freshness or backoff
func (ix *Index) Refresh(ctx context.Context) error {
	_, err, _ := ix.group.Do("build", func() (interface{}, error) {
		return nil, ix.build(ctx, true)
	})
	return err
}

func (ix *Index) backingOff() (bool, error) {
	ix.failMu.Lock()
	defer ix.failMu.Unlock()
	if ix.retryAt.IsZero() || !ix.now().Before(ix.retryAt) {
		return false, nil
	}
	return true, ix.lastErr
}

// recordFetch starts a backoff window after a failed fetch and clears it after
// a successful one. result is what EnsureReady reports during the window.
// Failures caused by the caller's own cancellation do not start a window.
func (ix *Index) recordFetch(ctx context.Context, failed bool, result error) {
	if failed && ctx.Err() != nil {
		return
	}
	ix.failMu.Lock()
	defer ix.failMu.Unlock()
	if !failed {
		ix.retryAt = time.Time{}
		ix.lastErr = nil
		return
	}
	ix.retryAt = ix.now().Add(ix.backoff)
	ix.lastErr = result
}

func (ix *Index) fresh(at time.Time) bool {
	return ix.now().Sub(at) < ix.maxAge
}

// build prefers a fresh cache, then the remote source, then a stale cache
func (ix *Index) build(ctx context.Context, force bool) error {
	cached, cacheErr := ix.cache.Load(ctx)
	if cacheErr != nil {
		ix.logger.Warn("Name cache unreadable", "error", cacheErr)
		cached = nil
	}

	if !force && cached != nil && ix.fresh(cached.FetchedAt) {
		ix.install(cached.Names, cached.FetchedAt, "cache")
		ix.recordFetch(ctx, false, nil)
		return nil
	}

	var fetchErr error
	if ix.source == nil {
		fetchErr = errNoSource
	} else {
		names, err := ix.source.FetchAllNames(ctx)
		if err == nil && len(names) > 0 {
			fetchedAt := ix.now()
			if err := ix.cache.Store(ctx, &Snapshot{Names: names, FetchedAt: fetchedAt}); err != nil {
				ix.logger.Warn("Failed to write name cache", "error", err)
			}
			ix.install(names, fetchedAt, "remote")
			ix.recordFetch(ctx, false, nil)
			return nil
		}
		fetchErr = err
		if fetchErr == nil {
			fetchErr = errEmptyNameList
		}
	}

	if cached != nil && len(cached.Names) > 0 {
		ix.logger.Warn("Name fetch failed, using stale cache",
			"error", fetchErr, "cached_at", cached.FetchedAt, "retry_in", ix.backoff.String())
		ix.install(cached.Names, cached.FetchedAt, "stale-cache")
		ix.recordFetch(ctx, true, nil)
		return nil
	}
	if ix.current.Load() != nil {
		ix.logger.Warn("Name refresh failed, keeping current snapshot", "error", fetchErr, "retry_in", ix.backoff.String())
		ix.recordFetch(ctx, true, nil)
		return nil
	}
	err := scanerrors.NewIndexBuildError(fetchErr)
	ix.recordFetch(ctx, true, err)
	return err
}

func (ix *Index) install(names []string, builtAt time.Time, origin string) {
	entries := make([]entry, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		lower := strings.ToLower(n)
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		entries = append(entries, entry{name: n, lower: lower, runes: len([]rune(lower))})
	}
	ix.current.Store(&snapshot{entries: entries, builtAt: builtAt})
	ix.logger.Info("Name index ready", "names", len(entries), "origin", origin)
}

type scored struct {
	name  string
	score float64
	gap   int
}

// Suggest returns up to limit names closest to query, best first. Blank queries
// and an unbuilt index give an empty result.
func (ix *Index) Suggest(query string, limit int) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	s := ix.current.Load()
	if q == "" || limit <= 0 || s == nil {
		return []string{}
	}

	qLen := len([]rune(q))
	budget := int(ix.threshold * float64(qLen))

	var hits []scored
	for _, e := range s.entries {
		gap := e.runes - qLen
		if gap < 0 {
			gap = -gap
		}
		// the length gap is a lower bound on the edit distance
		if gap > budget {
			continue
		}
		d := levenshtein.ComputeDistance(q, e.lower)
		score := float64(d) / float64(qLen)
		if score <= ix.threshold {
			hits = append(hits, scored{name: e.name, score: score, gap: gap})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score < hits[j].score
		}
		if hits[i].gap != hits[j].gap {
			return hits[i].gap < hits[j].gap
		}
		return hits[i].name < hits[j].name
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.name
	}
	return out
}

// Best returns the closest name, or "" when nothing is within the threshold
func (ix *Index) Best(query string) string {
	if s := ix.Suggest(query, 1); len(s) > 0 {
		return s[0]
	}
	return ""
}
