package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Epetaway/mtg-proxy-generator/internal/catalog"
)

// Scan record statuses
const (
	ScanStatusPending  = "pending"
	ScanStatusResolved = "resolved"
	ScanStatusFailed   = "failed"
)

// ScanRecord is a finalized scan session
type ScanRecord struct {
	ID            string
	SessionID     string
	Status        string
	Candidates    []string
	NumberHint    string
	AcceptedCount int
	Matches       []catalog.ResolvedMatch
	Tally         []catalog.Quantity
	Error         map[string]interface{}
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ScanRecords persists finalized scans
type ScanRecords struct {
	pg *PostgresClient
}

// NewScanRecords wraps a Postgres client as a scan record store
func NewScanRecords(pg *PostgresClient) *ScanRecords {
	return &ScanRecords{pg: pg}
}

// Upsert inserts or updates a scan record, assigning an ID when missing
func (s *ScanRecords) Upsert(ctx context.Context, rec *ScanRecord) (string, error) {
	if rec.SessionID == "" {
		return "", fmt.Errorf("session ID is required")
	}
	if rec.Status == "" {
		return "", fmt.Errorf("status is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	matchesJSON, err := marshalNullable(rec.Matches)
	if err != nil {
		return "", fmt.Errorf("failed to marshal matches: %w", err)
	}
	tallyJSON, err := marshalNullable(rec.Tally)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tally: %w", err)
	}
	errorJSON, err := marshalNullable(rec.Error)
	if err != nil {
		return "", fmt.Errorf("failed to marshal error: %w", err)
	}

	candidates := rec.Candidates
	if candidates == nil {
		candidates = []string{}
	}

	query := `
		INSERT INTO scan_records (id, session_id, status, candidates, number_hint, accepted_count, matches, tally, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			candidates = EXCLUDED.candidates,
			number_hint = EXCLUDED.number_hint,
			accepted_count = EXCLUDED.accepted_count,
			matches = COALESCE(EXCLUDED.matches, scan_records.matches),
			tally = COALESCE(EXCLUDED.tally, scan_records.tally),
			error = EXCLUDED.error,
			updated_at = NOW()
	`

	_, err = s.pg.db.ExecContext(ctx, query,
		rec.ID, rec.SessionID, rec.Status, pq.Array(candidates), rec.NumberHint,
		rec.AcceptedCount, matchesJSON, tallyJSON, errorJSON)
	if err != nil {
		return "", fmt.Errorf("failed to upsert scan record: %w", err)
	}
	return rec.ID, nil
}

// Get loads a scan record by ID
func (s *ScanRecords) Get(ctx context.Context, id string) (*ScanRecord, error) {
	query := `
		SELECT id, session_id, status, candidates, COALESCE(number_hint, ''), accepted_count,
		       matches, tally, error, created_at, updated_at
		FROM scan_records
		WHERE id = $1
	`

	rec := &ScanRecord{}
	var matchesJSON, tallyJSON, errorJSON []byte
	err := s.pg.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.SessionID, &rec.Status, pq.Array(&rec.Candidates), &rec.NumberHint, &rec.AcceptedCount,
		&matchesJSON, &tallyJSON, &errorJSON, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("scan record not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan record: %w", err)
	}

	if err := unmarshalNullable(matchesJSON, &rec.Matches); err != nil {
		return nil, fmt.Errorf("failed to decode matches: %w", err)
	}
	if err := unmarshalNullable(tallyJSON, &rec.Tally); err != nil {
		return nil, fmt.Errorf("failed to decode tally: %w", err)
	}
	if err := unmarshalNullable(errorJSON, &rec.Error); err != nil {
		return nil, fmt.Errorf("failed to decode error: %w", err)
	}
	return rec, nil
}

// marshalNullable encodes v as JSON, mapping nil slices and maps to SQL NULL
func marshalNullable(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case []catalog.ResolvedMatch:
		if t == nil {
			return nil, nil
		}
	case []catalog.Quantity:
		if t == nil {
			return nil, nil
		}
	case map[string]interface{}:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalNullable(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
