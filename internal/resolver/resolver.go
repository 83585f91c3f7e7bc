/**
 * Match Resolver
 *
 * Turns a list of candidate names into concrete printings. Candidates are
 * deduplicated case-insensitively, looked up in the catalog with bounded
 * concurrency, and a collector number hint overrides the default pick.
 */

package resolver

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Epetaway/mtg-proxy-generator/internal/catalog"
	scanerrors "github.com/Epetaway/mtg-proxy-generator/internal/errors"
	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
	"github.com/Epetaway/mtg-proxy-generator/internal/normalize"
)

// DefaultConcurrency bounds parallel catalog lookups
const DefaultConcurrency = 4

// Resolver resolves candidates against a catalog searcher
type Resolver struct {
	searcher    catalog.Searcher
	ranker      Ranker
	concurrency int
	logger      *logging.Logger
}

// Option configures a Resolver
type Option func(*Resolver)

// WithRanker replaces the default first-hit ranking
func WithRanker(r Ranker) Option {
	return func(res *Resolver) {
		if r != nil {
			res.ranker = r
		}
	}
}

// WithConcurrency sets how many lookups run at once
func WithConcurrency(n int) Option {
	return func(res *Resolver) {
		if n > 0 {
			res.concurrency = n
		}
	}
}

// New creates a resolver
func New(searcher catalog.Searcher, logger *logging.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		searcher:    searcher,
		ranker:      FirstHit{},
		concurrency: DefaultConcurrency,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns one match per unique candidate, in first-seen order. A failed
// lookup yields a nil match for that candidate only. numberHint may be empty.
func (r *Resolver) Resolve(ctx context.Context, candidates []string, numberHint string) []catalog.ResolvedMatch {
	queries := Dedupe(candidates)
	results := make([]catalog.ResolvedMatch, len(queries))
	if len(queries) == 0 {
		return results
	}

	hint := normalize.CollectorNumber(numberHint)

	// lookups never fail the group; each writes only its own slot
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			results[i] = catalog.ResolvedMatch{Query: q, Match: r.resolveOne(ctx, q, hint)}
			return nil
		})
	}
	g.Wait()

	return results
}

func (r *Resolver) resolveOne(ctx context.Context, query, hint string) *catalog.CardIdentity {
	hits, err := r.searcher.SearchByName(ctx, query, "")
	if err != nil {
		lookupErr := scanerrors.NewCatalogLookupError(query, err)
		r.logger.Warn("Catalog lookup failed", "query", query, "code", lookupErr.Code, "error", err)
		return nil
	}
	if len(hits) == 0 {
		r.logger.Debug("No catalog match", "query", query)
		return nil
	}

	if hint != "" {
		if i := indexOfNumber(hits, hint); i >= 0 {
			match := hits[i]
			return &match
		}
		if match := r.searchNumber(ctx, hits, hint); match != nil {
			return match
		}
	}

	pick := r.ranker.Pick(hits)
	if pick < 0 || pick >= len(hits) {
		pick = 0
	}
	match := hits[pick]
	return &match
}

func indexOfNumber(hits []catalog.CardIdentity, hint string) int {
	for i := range hits {
		if normalize.CollectorNumber(hits[i].CollectorNumber) == hint {
			return i
		}
	}
	return -1
}

// searchNumber looks the hinted printing up directly when the name search
// returned a list that may have been cut short
func (r *Resolver) searchNumber(ctx context.Context, hits []catalog.CardIdentity, hint string) *catalog.CardIdentity {
	ns, ok := r.searcher.(catalog.NumberSearcher)
	if !ok || len(hits) < catalog.ListCap {
		return nil
	}
	more, err := ns.SearchByNumber(ctx, hits[0].Name, hint)
	if err != nil {
		r.logger.Warn("Collector number lookup failed", "name", hits[0].Name, "number", hint, "error", err)
		return nil
	}
	if i := indexOfNumber(more, hint); i >= 0 {
		match := more[i]
		return &match
	}
	return nil
}

// Dedupe drops case-insensitive duplicates and blank entries, keeping the first spelling
func Dedupe(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		key := strings.ToLower(c)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Tally aggregates matched printings by ID into quantities, in first-seen
// order. Unmatched entries are skipped.
func Tally(matches []catalog.ResolvedMatch) []catalog.Quantity {
	index := make(map[string]int)
	out := []catalog.Quantity{}
	for _, m := range matches {
		if m.Match == nil {
			continue
		}
		if i, ok := index[m.Match.ID]; ok {
			out[i].Quantity++
			continue
		}
		index[m.Match.ID] = len(out)
		out = append(out, catalog.Quantity{Card: *m.Match, Quantity: 1})
	}
	return out
}
