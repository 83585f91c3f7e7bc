/**
 * Scryfall Bulk Data Client
 *
 * Reads the bulk-data index and streams the default_cards dump card by card,
 * so the multi-hundred-megabyte file is never held in memory.
 */

package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultCardsType is the bulk file holding one English-or-only printing per card
const DefaultCardsType = "default_cards"

// BulkClient talks to the Scryfall bulk-data endpoint
type BulkClient struct {
	indexURL   string
	httpClient *http.Client
}

// BulkDataEntry is one item of the bulk-data index
type BulkDataEntry struct {
	Type        string    `json:"type"`
	DownloadURI string    `json:"download_uri"`
	UpdatedAt   time.Time `json:"updated_at"`
	Size        int64     `json:"size"`
}

type bulkIndexResponse struct {
	Data []BulkDataEntry `json:"data"`
}

type imageURIs struct {
	Normal string `json:"normal"`
	Small  string `json:"small"`
}

// BulkCard is the subset of a Scryfall card object kept in the mirror
type BulkCard struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	SetID           string     `json:"set_id"`
	Set             string     `json:"set"`
	SetName         string     `json:"set_name"`
	CollectorNumber string     `json:"collector_number"`
	Rarity          string     `json:"rarity"`
	Lang            string     `json:"lang"`
	ReleasedAt      string     `json:"released_at"`
	Foil            bool       `json:"foil"`
	ImageURIs       *imageURIs `json:"image_uris"`
	CardFaces       []struct {
		ImageURIs *imageURIs `json:"image_uris"`
	} `json:"card_faces"`
}

// ImageURI picks the normal image, then the small one, then the front face
func (c *BulkCard) ImageURI() string {
	pick := func(u *imageURIs) string {
		if u == nil {
			return ""
		}
		if u.Normal != "" {
			return u.Normal
		}
		return u.Small
	}
	if uri := pick(c.ImageURIs); uri != "" {
		return uri
	}
	if len(c.CardFaces) > 0 {
		return pick(c.CardFaces[0].ImageURIs)
	}
	return ""
}

// NewBulkClient creates a bulk-data client
func NewBulkClient(indexURL string) *BulkClient {
	return &BulkClient{
		indexURL: indexURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Minute, // the default_cards dump is large
		},
	}
}

func (c *BulkClient) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "cardscan/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%s returned status %d: %s", url, resp.StatusCode, string(body))
	}
	return resp, nil
}

// Find returns the index entry of the given bulk type
func (c *BulkClient) Find(ctx context.Context, bulkType string) (*BulkDataEntry, error) {
	resp, err := c.get(ctx, c.indexURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var index bulkIndexResponse
	if err := json.NewDecoder(resp.Body).Decode(&index); err != nil {
		return nil, fmt.Errorf("failed to decode bulk-data index: %w", err)
	}
	for i := range index.Data {
		if index.Data[i].Type == bulkType {
			return &index.Data[i], nil
		}
	}
	return nil, fmt.Errorf("bulk type %s not found in index", bulkType)
}

// Stream downloads a bulk file and calls fn for each card in order.
// It stops at the first error returned by fn.
func (c *BulkClient) Stream(ctx context.Context, downloadURI string, fn func(*BulkCard) error) (int, error) {
	resp, err := c.get(ctx, downloadURI)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	if tok, err := dec.Token(); err != nil || tok != json.Delim('[') {
		return 0, fmt.Errorf("bulk file is not a JSON array (token %v): %w", tok, err)
	}

	count := 0
	for dec.More() {
		var card BulkCard
		if err := dec.Decode(&card); err != nil {
			return count, fmt.Errorf("failed to decode card %d: %w", count, err)
		}
		if err := fn(&card); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// HealthCheck checks the bulk-data index is reachable
func (c *BulkClient) HealthCheck(ctx context.Context) error {
	resp, err := c.get(ctx, c.indexURL)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
