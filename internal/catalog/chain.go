package catalog

import (
	"context"
	"fmt"

	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
)

// Chain searches a local mirror first and falls back to the remote catalog when
// the mirror fails or has no hits.
type Chain struct {
	primary  Searcher
	fallback Searcher
	logger   *logging.Logger
}

// NewChain creates a mirror-first searcher; a nil primary searches only the fallback
func NewChain(primary, fallback Searcher, logger *logging.Logger) *Chain {
	return &Chain{primary: primary, fallback: fallback, logger: logger}
}

func (c *Chain) SearchByName(ctx context.Context, name, setCode string) ([]CardIdentity, error) {
	if c.primary != nil {
		hits, err := c.primary.SearchByName(ctx, name, setCode)
		switch {
		case err != nil:
			c.logger.Warn("Mirror search failed, falling back to remote catalog", "query", name, "error", err)
		case len(hits) > 0:
			return hits, nil
		}
	}

	if c.fallback == nil {
		return nil, nil
	}
	hits, err := c.fallback.SearchByName(ctx, name, setCode)
	if err != nil {
		return nil, fmt.Errorf("remote catalog search: %w", err)
	}
	return hits, nil
}

// SearchByNumber asks the mirror then the remote catalog, skipping either when
// it cannot look printings up by collector number
func (c *Chain) SearchByNumber(ctx context.Context, name, collectorNumber string) ([]CardIdentity, error) {
	if ns, ok := c.primary.(NumberSearcher); ok {
		hits, err := ns.SearchByNumber(ctx, name, collectorNumber)
		switch {
		case err != nil:
			c.logger.Warn("Mirror number search failed, falling back to remote catalog", "query", name, "number", collectorNumber, "error", err)
		case len(hits) > 0:
			return hits, nil
		}
	}

	ns, ok := c.fallback.(NumberSearcher)
	if !ok {
		return nil, nil
	}
	hits, err := ns.SearchByNumber(ctx, name, collectorNumber)
	if err != nil {
		return nil, fmt.Errorf("remote catalog number search: %w", err)
	}
	return hits, nil
}
