// Package checkpoint persists the coordinator's population between generations
// so a restarted coordinator resumes instead of starting over.
package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dyluth/genegrid/internal/population"
)

// Record is one saved generation.
type Record struct {
	Instance   string                `json:"instance"`
	Generation int                   `json:"generation"`
	Population population.Population `json:"population"`
	SavedAt    time.Time             `json:"saved_at"`
}

// Store saves and loads the latest record per instance.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, instance string) (Record, bool, error)
}

// Store kinds accepted by NewStore.
const (
	KindNone   = "none"
	KindMemory = "memory"
	KindSQLite = "sqlite"
)

// NewStore opens the checkpoint store named by kind. KindNone returns a nil
// store, meaning checkpointing is disabled.
func NewStore(ctx context.Context, kind, path string) (Store, error) {
	switch kind {
	case "", KindNone:
		return nil, nil
	case KindMemory:
		return NewMemoryStore(), nil
	case KindSQLite:
		store := NewSQLiteStore(path)
		if err := store.Init(ctx); err != nil {
			return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint store: %s", kind)
	}
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Save stores a deep copy of rec.
func (s *MemoryStore) Save(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Population = rec.Population.Clone()
	s.records[rec.Instance] = rec
	return nil
}

// Load returns the latest record for instance.
func (s *MemoryStore) Load(ctx context.Context, instance string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[instance]
	if !ok {
		return Record{}, false, nil
	}
	rec.Population = rec.Population.Clone()
	return rec, true, nil
}
