/**
 * Card catalog boundary
 *
 * Types and interfaces shared by the remote catalog client, the local
 * Postgres mirror and the resolver.
 */

package catalog

import (
	"context"
)

// CardIdentity is one concrete printing of a card
type CardIdentity struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	SetCode         string `json:"setCode"`
	CollectorNumber string `json:"collectorNumber"`
	IsFoil          bool   `json:"isFoil"`
	ImageURI        string `json:"imageUri,omitempty"`
	Lang            string `json:"lang,omitempty"`
}

// ResolvedMatch pairs a query with its best printing; Match is nil when nothing matched
type ResolvedMatch struct {
	Query string        `json:"query"`
	Match *CardIdentity `json:"match"`
}

// Quantity is a matched printing with how many times it was scanned
type Quantity struct {
	Card     CardIdentity `json:"card"`
	Quantity int          `json:"quantity"`
}

// Searcher finds printings by card name. Hits come in catalog relevance order;
// zero hits is not an error.
type Searcher interface {
	SearchByName(ctx context.Context, name, setCode string) ([]CardIdentity, error)
}

// ListCap is the longest printing list a Searcher needs to return in one
// call. A shorter list holds every printing of the card.
const ListCap = 60

// NumberSearcher finds the printings of a card carrying a collector number.
// Used when a hint matches none of the printings SearchByName returned.
type NumberSearcher interface {
	SearchByNumber(ctx context.Context, name, collectorNumber string) ([]CardIdentity, error)
}

// NameSource returns the full list of canonical card names
type NameSource interface {
	FetchAllNames(ctx context.Context) ([]string, error)
}
