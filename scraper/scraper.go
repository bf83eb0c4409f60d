// Package scraper defines the source-extractor capability shared by all
// listing sources. Each external site gets its own independent variant in a
// sub-package; there is no shared parent beyond this interface.
package scraper

import (
	"context"

	"estate-scout/models"
)

// Scope is one extraction unit's target search space: a single location on
// a single source, with a hard cap on the number of listings to pull.
type Scope struct {
	Location      string
	Province      string // comune's province, needed by sources whose URLs carry it
	MaxProperties int
}

// EmitFunc receives each RawListing as it is extracted. Returning an error
// stops the remaining sequence; extractors must propagate it unchanged.
type EmitFunc func(models.RawListing) error

// Extractor fetches raw listing records for a search scope.
//
// The yielded sequence is lazy, finite and non-restartable. A single
// element's failure is logged and skipped, never aborting the rest of the
// sequence. A source-level failure (auth wall, total unreachability) is
// returned as *models.SourceUnavailableError so the run can degrade to
// partially-failed without touching sibling sources. Implementations must
// go through the shared rate limiter before every network-bound step and
// honor Scope.MaxProperties.
type Extractor interface {
	Name() string
	Fetch(ctx context.Context, scope Scope, emit EmitFunc) error
}
