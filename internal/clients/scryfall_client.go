/**
 * Scryfall Client for the card scanner
 *
 * Remote catalog: printing search by name (newest printing first) and the
 * canonical card name list that feeds the fuzzy name index.
 */

package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	scryfall "github.com/BlueMonday/go-scryfall"

	"github.com/Epetaway/mtg-proxy-generator/internal/catalog"
	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
)

// scryfallAPI is the subset of the go-scryfall client in use
type scryfallAPI interface {
	SearchCards(ctx context.Context, query string, opts scryfall.SearchCardsOptions) (scryfall.CardListResponse, error)
	ListCardNames(ctx context.Context) (scryfall.Catalog, error)
}

// ScryfallClient implements catalog.Searcher and catalog.NameSource
type ScryfallClient struct {
	api    scryfallAPI
	logger *logging.Logger
}

// NewScryfallClient creates a client against api.scryfall.com
func NewScryfallClient(logger *logging.Logger) (*ScryfallClient, error) {
	api, err := scryfall.NewClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create scryfall client: %w", err)
	}
	return &ScryfallClient{api: api, logger: logger}, nil
}

func newScryfallClientWithAPI(api scryfallAPI, logger *logging.Logger) *ScryfallClient {
	return &ScryfallClient{api: api, logger: logger}
}

// SearchByName returns every printing of the named card, newest release first.
// An exact-name query runs first; free text is used when it has no hits.
func (c *ScryfallClient) SearchByName(ctx context.Context, name, setCode string) ([]catalog.CardIdentity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	exact := fmt.Sprintf(`!"%s"`, strings.ReplaceAll(name, `"`, ``))
	hits, err := c.search(ctx, withSet(exact, setCode))
	if err != nil || len(hits) > 0 {
		return hits, err
	}

	c.logger.Debug("No exact name match, retrying as free text", "query", name)
	return c.search(ctx, withSet(name, setCode))
}

// SearchByNumber returns printings of the exactly named card with the given
// collector number, newest release first
func (c *ScryfallClient) SearchByNumber(ctx context.Context, name, collectorNumber string) ([]catalog.CardIdentity, error) {
	name = strings.TrimSpace(name)
	collectorNumber = strings.TrimSpace(collectorNumber)
	if name == "" || collectorNumber == "" {
		return nil, nil
	}
	query := fmt.Sprintf(`!"%s" cn:%s`, strings.ReplaceAll(name, `"`, ``), strings.ToLower(collectorNumber))
	return c.search(ctx, query)
}

func (c *ScryfallClient) search(ctx context.Context, query string) ([]catalog.CardIdentity, error) {
	resp, err := c.api.SearchCards(ctx, query, scryfall.SearchCardsOptions{
		Unique: scryfall.UniqueModePrints,
		Order:  scryfall.OrderReleased,
		Dir:    scryfall.DirDesc,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scryfall search %q failed: %w", query, err)
	}

	hits := make([]catalog.CardIdentity, 0, len(resp.Cards))
	for _, card := range resp.Cards {
		hits = append(hits, toIdentity(card))
	}
	return hits, nil
}

// FetchAllNames returns Scryfall's catalog of card names
func (c *ScryfallClient) FetchAllNames(ctx context.Context) ([]string, error) {
	cat, err := c.api.ListCardNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("scryfall card-names catalog failed: %w", err)
	}
	c.logger.Info("Fetched card name catalog", "names", len(cat.Data))
	return cat.Data, nil
}

func withSet(query, setCode string) string {
	if setCode = strings.TrimSpace(setCode); setCode != "" {
		return query + " set:" + strings.ToLower(setCode)
	}
	return query
}

func toIdentity(card scryfall.Card) catalog.CardIdentity {
	id := catalog.CardIdentity{
		ID:              card.ID,
		Name:            card.Name,
		SetCode:         card.Set,
		CollectorNumber: card.CollectorNumber,
		IsFoil:          card.Foil,
		Lang:            string(card.Lang),
	}
	if id.Lang == "" {
		id.Lang = "en"
	}
	id.ImageURI = pickImage(card.ImageURIs)
	if id.ImageURI == "" && len(card.CardFaces) > 0 {
		id.ImageURI = pickImage(card.CardFaces[0].ImageURIs)
	}
	return id
}

// pickImage prefers the normal size, then the small one
func pickImage(uris *scryfall.ImageURIs) string {
	if uris == nil {
		return ""
	}
	if uris.Normal != "" {
		return uris.Normal
	}
	return uris.Small
}

// isNotFound reports Scryfall's "no cards matched" answer, which is an empty result
func isNotFound(err error) bool {
	var apiErr *scryfall.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusNotFound || apiErr.Code == "not_found"
	}
	return false
}
