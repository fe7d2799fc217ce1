package persistence

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. It backs development runs
// and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	writes  int
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) SaveSession(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec.Clone()
	m.writes++
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.Clone(), nil
}

// AbandonStale marks every WAITING or ACTIVE record ABANDONED.
func (m *MemoryStore) AbandonStale(ctx context.Context, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	swept := 0
	for id, rec := range m.records {
		if rec.Status != "WAITING" && rec.Status != "ACTIVE" {
			continue
		}
		rec.Status = "ABANDONED"
		completed := at
		rec.CompletedAt = &completed
		m.records[id] = rec
		swept++
	}
	return swept, nil
}

// Writes returns how many saves the store has accepted.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemoryStore) Close() error { return nil }
