package storage

import (
	"context"
	"sync"

	"estate-scout/models"
)

// MemoryStore is an in-process Store used by tests and the serve-mode demo.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.PropertyRecord
	Events  []models.ChangeEvent
	Runs    []*models.RunResult
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.PropertyRecord)}
}

// Seed pre-loads records, for tests that need prior state.
func (m *MemoryStore) Seed(records ...models.PropertyRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[r.ID] = r
	}
}

func (m *MemoryStore) Snapshot(ctx context.Context) (map[string]models.PropertyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.PropertyRecord, len(m.records))
	for id, r := range m.records {
		out[id] = r
	}
	return out, nil
}

func (m *MemoryStore) Commit(ctx context.Context, records map[string]models.PropertyRecord, events []models.ChangeEvent, result *models.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]models.PropertyRecord, len(records))
	for id, r := range records {
		m.records[id] = r
	}
	m.Events = append(m.Events, events...)
	m.Runs = append(m.Runs, result)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
