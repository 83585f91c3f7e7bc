package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/Epetaway/mtg-proxy-generator/internal/catalog"
)

// MirrorCard is one row of the local catalog mirror
type MirrorCard struct {
	ID              string
	Name            string
	SetID           string
	SetCode         string
	SetName         string
	CollectorNumber string
	Rarity          string
	Lang            string
	ImageURI        string
	IsFoil          bool
	ReleasedAt      string // YYYY-MM-DD or empty
}

// CatalogMirror is a Postgres copy of the remote catalog. It implements catalog.Searcher.
type CatalogMirror struct {
	pg *PostgresClient
}

// NewCatalogMirror wraps a Postgres client as a catalog mirror
func NewCatalogMirror(pg *PostgresClient) *CatalogMirror {
	return &CatalogMirror{pg: pg}
}

// SearchByName returns printings whose name (or front face) equals name, newest first
func (m *CatalogMirror) SearchByName(ctx context.Context, name, setCode string) ([]catalog.CardIdentity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	query := `
		SELECT id, name, set_code, collector_number, is_foil, COALESCE(image_uri, ''), lang
		FROM cards
		WHERE (lower(name) = lower($1) OR lower(name) LIKE lower($1) || ' // %')
		  AND ($2 = '' OR set_code = lower($2))
		ORDER BY released_at DESC NULLS LAST, collector_number
		LIMIT $3
	`

	rows, err := m.pg.db.QueryContext(ctx, query, name, strings.TrimSpace(setCode), catalog.ListCap)
	if err != nil {
		return nil, fmt.Errorf("mirror search failed: %w", err)
	}
	return scanIdentities(rows)
}

// SearchByNumber returns printings of name with the given collector number,
// compared case-insensitively
func (m *CatalogMirror) SearchByNumber(ctx context.Context, name, collectorNumber string) ([]catalog.CardIdentity, error) {
	name = strings.TrimSpace(name)
	collectorNumber = strings.TrimSpace(collectorNumber)
	if name == "" || collectorNumber == "" {
		return nil, nil
	}

	query := `
		SELECT id, name, set_code, collector_number, is_foil, COALESCE(image_uri, ''), lang
		FROM cards
		WHERE (lower(name) = lower($1) OR lower(name) LIKE lower($1) || ' // %')
		  AND upper(collector_number) = upper($2)
		ORDER BY released_at DESC NULLS LAST
		LIMIT $3
	`

	rows, err := m.pg.db.QueryContext(ctx, query, name, collectorNumber, catalog.ListCap)
	if err != nil {
		return nil, fmt.Errorf("mirror number search failed: %w", err)
	}
	return scanIdentities(rows)
}

func scanIdentities(rows *sql.Rows) ([]catalog.CardIdentity, error) {
	defer rows.Close()

	var hits []catalog.CardIdentity
	for rows.Next() {
		var c catalog.CardIdentity
		if err := rows.Scan(&c.ID, &c.Name, &c.SetCode, &c.CollectorNumber, &c.IsFoil, &c.ImageURI, &c.Lang); err != nil {
			return nil, fmt.Errorf("failed to scan mirror row: %w", err)
		}
		hits = append(hits, c)
	}
	return hits, rows.Err()
}

// Count returns the number of mirrored printings
func (m *CatalogMirror) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := m.pg.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	return n, nil
}

// GetSyncState reads a sync marker; missing keys return ""
func (m *CatalogMirror) GetSyncState(ctx context.Context, key string) (string, error) {
	var value string
	err := m.pg.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read sync state %s: %w", key, err)
	}
	return value, nil
}

// MirrorLoad is an open bulk load. Rows are COPYed into a staging table and
// merged into cards on Commit, together with the sync marker.
type MirrorLoad struct {
	tx    *sql.Tx
	stmt  *sql.Stmt
	count int
}

// BeginLoad starts a bulk load transaction
func (m *CatalogMirror) BeginLoad(ctx context.Context) (*MirrorLoad, error) {
	tx, err := m.pg.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin load: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `CREATE TEMP TABLE cards_staging (LIKE cards INCLUDING DEFAULTS) ON COMMIT DROP`); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to create staging table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("cards_staging",
		"id", "name", "set_id", "set_code", "set_name", "collector_number",
		"rarity", "lang", "image_uri", "is_foil", "released_at"))
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to prepare copy: %w", err)
	}

	return &MirrorLoad{tx: tx, stmt: stmt}, nil
}

// Add queues one card
func (l *MirrorLoad) Add(c MirrorCard) error {
	lang := c.Lang
	if lang == "" {
		lang = "en"
	}
	var released interface{}
	if c.ReleasedAt != "" {
		released = c.ReleasedAt
	}
	if _, err := l.stmt.Exec(c.ID, c.Name, c.SetID, strings.ToLower(c.SetCode), c.SetName,
		c.CollectorNumber, c.Rarity, lang, c.ImageURI, c.IsFoil, released); err != nil {
		return fmt.Errorf("failed to copy card %s: %w", c.ID, err)
	}
	l.count++
	return nil
}

// Commit merges staged rows into cards and records the sync marker atomically
func (l *MirrorLoad) Commit(ctx context.Context, syncKey, syncValue string) (int64, error) {
	if _, err := l.stmt.Exec(); err != nil {
		l.Rollback()
		return 0, fmt.Errorf("failed to flush copy: %w", err)
	}
	if err := l.stmt.Close(); err != nil {
		l.tx.Rollback()
		return 0, fmt.Errorf("failed to close copy: %w", err)
	}
	l.stmt = nil

	res, err := l.tx.ExecContext(ctx, `
		INSERT INTO cards (id, name, set_id, set_code, set_name, collector_number, rarity, lang, image_uri, is_foil, released_at)
		SELECT DISTINCT ON (id) id, name, set_id, set_code, set_name, collector_number, rarity, lang, image_uri, is_foil, released_at
		FROM cards_staging
		ORDER BY id
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			set_id = EXCLUDED.set_id,
			set_code = EXCLUDED.set_code,
			set_name = EXCLUDED.set_name,
			collector_number = EXCLUDED.collector_number,
			rarity = EXCLUDED.rarity,
			lang = EXCLUDED.lang,
			image_uri = EXCLUDED.image_uri,
			is_foil = EXCLUDED.is_foil,
			released_at = EXCLUDED.released_at
	`)
	if err != nil {
		l.tx.Rollback()
		return 0, fmt.Errorf("failed to merge staged cards: %w", err)
	}
	merged, _ := res.RowsAffected()

	if _, err := l.tx.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, syncKey, syncValue); err != nil {
		l.tx.Rollback()
		return 0, fmt.Errorf("failed to write sync state: %w", err)
	}

	if err := l.tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit load: %w", err)
	}
	return merged, nil
}

// Rollback abandons the load
func (l *MirrorLoad) Rollback() error {
	if l.stmt != nil {
		l.stmt.Close()
		l.stmt = nil
	}
	return l.tx.Rollback()
}

// Staged returns how many cards were added so far
func (l *MirrorLoad) Staged() int {
	return l.count
}
