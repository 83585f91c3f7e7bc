package nameindex

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	errNoSource      = errors.New("no name source configured")
	errEmptyNameList = errors.New("name source returned no names")
)

// Snapshot is a cached copy of the canonical name list
type Snapshot struct {
	Names     []string  `json:"names"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Cache persists the last fetched name list. Load returns nil, nil when empty.
type Cache interface {
	Load(ctx context.Context) (*Snapshot, error)
	Store(ctx context.Context, snap *Snapshot) error
}

// MemoryCache keeps the snapshot in process memory
type MemoryCache struct {
	mu   sync.Mutex
	snap *Snapshot
}

// NewMemoryCache creates an empty in-process cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (m *MemoryCache) Load(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, nil
	}
	cp := *m.snap
	return &cp, nil
}

func (m *MemoryCache) Store(ctx context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snap
	m.snap = &cp
	return nil
}
