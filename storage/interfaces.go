package storage

import (
	"context"

	"estate-scout/models"
)

// Store is the persistence collaborator for canonical property records.
// Snapshot is read once at run start and treated as an immutable view for
// the duration of the run; Commit writes the merged batch back atomically —
// no reader observes a half-written batch.
type Store interface {
	Snapshot(ctx context.Context) (map[string]models.PropertyRecord, error)
	Commit(ctx context.Context, records map[string]models.PropertyRecord, events []models.ChangeEvent, result *models.RunResult) error
	Close() error
}

// RawArchiver persists raw listings as an audit artifact before any
// normalization touches them.
type RawArchiver interface {
	Archive(listings []models.RawListing) error
	Close() error
}
