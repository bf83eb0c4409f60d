package models

import (
	"errors"
	"fmt"
)

// ErrRunInProgress is returned when a run trigger arrives while a run is
// still executing. Runs never overlap.
var ErrRunInProgress = errors.New("a scrape run is already in progress")

// TransientFetchError marks a fetch failure that is worth retrying within
// the same unit (timeouts, 429s, 5xx responses).
type TransientFetchError struct {
	Source string
	Err    error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("%s: transient fetch error: %v", e.Source, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var t *TransientFetchError
	return errors.As(err, &t)
}

// SourceUnavailableError aborts one source's contribution to a run while
// letting the other sources proceed.
type SourceUnavailableError struct {
	Source string
	Reason error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Reason)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Reason }

// NormalizationError drops a single record; the run continues.
type NormalizationError struct {
	Source   string
	SourceID string
	Field    string
	Reason   string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s/%s: %s: %s", e.Source, e.SourceID, e.Field, e.Reason)
}

// InvalidRubricError is fatal at configuration load time. Nothing runs
// against an invalid rubric and weights are never silently renormalized.
type InvalidRubricError struct {
	Reason string
}

func (e *InvalidRubricError) Error() string {
	return "invalid rubric: " + e.Reason
}

// ReconciliationConflictError signals a programming-invariant violation:
// the same canonical id backed by divergent sources. It is never merged.
type ReconciliationConflictError struct {
	ID             string
	ExistingSource string
	IncomingSource string
}

func (e *ReconciliationConflictError) Error() string {
	return fmt.Sprintf("reconciliation conflict on %s: existing source %q, incoming source %q",
		e.ID, e.ExistingSource, e.IncomingSource)
}
