/**
 * PostgreSQL Client for the card scanner
 *
 * Owns the connection pool and schema for the local catalog mirror and the
 * finalized scan records.
 */

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS cards (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	set_id           TEXT,
	set_code         TEXT NOT NULL,
	set_name         TEXT,
	collector_number TEXT NOT NULL,
	rarity           TEXT,
	lang             TEXT NOT NULL DEFAULT 'en',
	image_uri        TEXT,
	is_foil          BOOLEAN NOT NULL DEFAULT FALSE,
	released_at      DATE
);
CREATE INDEX IF NOT EXISTS cards_lower_name_idx ON cards (lower(name));
CREATE INDEX IF NOT EXISTS cards_set_code_idx ON cards (set_code);

CREATE TABLE IF NOT EXISTS sync_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS scan_records (
	id             UUID PRIMARY KEY,
	session_id     TEXT NOT NULL,
	status         TEXT NOT NULL,
	candidates     TEXT[] NOT NULL DEFAULT '{}',
	number_hint    TEXT,
	accepted_count INTEGER NOT NULL DEFAULT 0,
	matches        JSONB,
	tally          JSONB,
	error          JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS scan_records_session_idx ON scan_records (session_id);
`

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the mirror and scan record tables when missing
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the connection pool
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
