/**
 * Catalog mirror sync
 *
 * Downloads the Scryfall default_cards bulk file into the local Postgres
 * mirror. A sync is skipped when the bulk file's updated_at matches the
 * marker recorded by the previous successful load.
 */

package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/Epetaway/mtg-proxy-generator/internal/clients"
	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
	"github.com/Epetaway/mtg-proxy-generator/internal/storage"
)

// SyncStateKey records the updated_at of the last loaded bulk file
const SyncStateKey = "scryfall_default_updated_at"

// progressEvery controls how often load progress is logged
const progressEvery = 20000

// BulkSource is the bulk-data side of a sync
type BulkSource interface {
	Find(ctx context.Context, bulkType string) (*clients.BulkDataEntry, error)
	Stream(ctx context.Context, downloadURI string, fn func(*clients.BulkCard) error) (int, error)
}

// Loader receives one bulk load
type Loader interface {
	Add(card storage.MirrorCard) error
	Commit(ctx context.Context, syncKey, syncValue string) (int64, error)
	Rollback() error
}

// Store is the mirror side of a sync
type Store interface {
	GetSyncState(ctx context.Context, key string) (string, error)
	BeginLoad(ctx context.Context) (Loader, error)
}

// Result describes one sync run
type Result struct {
	Skipped   bool          `json:"skipped"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Cards     int64         `json:"cards"`
	Duration  time.Duration `json:"duration"`
}

// Syncer loads the bulk catalog into the mirror
type Syncer struct {
	bulk   BulkSource
	store  Store
	logger *logging.Logger
}

// NewSyncer creates a syncer
func NewSyncer(bulk BulkSource, store Store, logger *logging.Logger) *Syncer {
	return &Syncer{bulk: bulk, store: store, logger: logger}
}

// Sync runs one sync. Cards are only visible once the whole file has loaded.
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	start := time.Now()

	entry, err := s.bulk.Find(ctx, clients.DefaultCardsType)
	if err != nil {
		return nil, fmt.Errorf("failed to locate bulk file: %w", err)
	}
	marker := entry.UpdatedAt.UTC().Format(time.RFC3339)

	previous, err := s.store.GetSyncState(ctx, SyncStateKey)
	if err != nil {
		return nil, err
	}
	if previous == marker {
		s.logger.Info("Catalog mirror up to date", "updated_at", marker)
		return &Result{Skipped: true, UpdatedAt: entry.UpdatedAt, Duration: time.Since(start)}, nil
	}

	s.logger.Info("Syncing catalog mirror",
		"updated_at", marker,
		"previous", previous,
		"size", entry.Size)

	load, err := s.store.BeginLoad(ctx)
	if err != nil {
		return nil, err
	}

	added := 0
	streamed, err := s.bulk.Stream(ctx, entry.DownloadURI, func(card *clients.BulkCard) error {
		if card.ID == "" || card.Name == "" {
			return nil
		}
		if err := load.Add(toMirrorCard(card)); err != nil {
			return err
		}
		added++
		if added%progressEvery == 0 {
			s.logger.Debug("Bulk load progress", "cards", added)
		}
		return nil
	})
	if err != nil {
		load.Rollback()
		return nil, fmt.Errorf("bulk load aborted after %d cards: %w", streamed, err)
	}

	merged, err := load.Commit(ctx, SyncStateKey, marker)
	if err != nil {
		return nil, err
	}

	result := &Result{UpdatedAt: entry.UpdatedAt, Cards: merged, Duration: time.Since(start)}
	s.logger.Info("Catalog mirror synced",
		"cards", merged,
		"streamed", streamed,
		"duration_ms", result.Duration.Milliseconds())
	return result, nil
}

func toMirrorCard(c *clients.BulkCard) storage.MirrorCard {
	return storage.MirrorCard{
		ID:              c.ID,
		Name:            c.Name,
		SetID:           c.SetID,
		SetCode:         c.Set,
		SetName:         c.SetName,
		CollectorNumber: c.CollectorNumber,
		Rarity:          c.Rarity,
		Lang:            c.Lang,
		ImageURI:        c.ImageURI(),
		IsFoil:          c.Foil,
		ReleasedAt:      c.ReleasedAt,
	}
}

// postgresStore adapts storage.CatalogMirror to Store
type postgresStore struct {
	mirror *storage.CatalogMirror
}

// NewPostgresStore exposes a Postgres catalog mirror as a sync target
func NewPostgresStore(mirror *storage.CatalogMirror) Store {
	return &postgresStore{mirror: mirror}
}

func (p *postgresStore) GetSyncState(ctx context.Context, key string) (string, error) {
	return p.mirror.GetSyncState(ctx, key)
}

func (p *postgresStore) BeginLoad(ctx context.Context) (Loader, error) {
	load, err := p.mirror.BeginLoad(ctx)
	if err != nil {
		return nil, err
	}
	return load, nil
}
