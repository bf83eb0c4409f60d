package models

import "time"

// EventKind classifies a reconciliation decision.
type EventKind string

const (
	EventCreated          EventKind = "created"
	EventUpdated          EventKind = "updated"
	EventPriceChanged     EventKind = "price_changed"
	EventUnchanged        EventKind = "unchanged"
	EventMissing          EventKind = "missing"
	EventDuplicateInBatch EventKind = "duplicate_in_batch"
)

// ChangeEvent is one reconciliation outcome for a single record.
type ChangeEvent struct {
	Kind       EventKind `json:"kind"`
	RecordID   string    `json:"record_id"`
	Source     string    `json:"source"`
	OldPrice   float64   `json:"old_price,omitempty"`
	NewPrice   float64   `json:"new_price,omitempty"`
	PriceDelta float64   `json:"price_delta,omitempty"`
	Fields     []string  `json:"fields,omitempty"` // changed attributes, for Updated
	ObservedAt time.Time `json:"observed_at"`
}

// RunState is the pipeline runner's terminal state for one run.
type RunState string

const (
	RunIdle            RunState = "idle"
	RunRunning         RunState = "running"
	RunCompleted       RunState = "completed"
	RunPartiallyFailed RunState = "partially_failed"
)

// SourceStats tallies one source's contribution to a run.
type SourceStats struct {
	Fetched      int    `json:"fetched"`
	Normalized   int    `json:"normalized"`
	Failed       int    `json:"failed"` // record-level failures (normalization etc.)
	Unavailable  bool   `json:"unavailable"`
	FailureCause string `json:"failure_cause,omitempty"`
}

// RunResult is the immutable summary handed to the store and notifier
// after every run, successful or partial.
type RunResult struct {
	RunID      string                  `json:"run_id"`
	State      RunState                `json:"state"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
	Sources    map[string]*SourceStats `json:"sources"`

	Created      int `json:"created"`
	Updated      int `json:"updated"`
	PriceChanged int `json:"price_changed"`
	Unchanged    int `json:"unchanged"`
	Missing      int `json:"missing"`
	Duplicates   int `json:"duplicates"`

	CriticalIDs []string `json:"critical_ids"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`

	// Critical holds the full records behind CriticalIDs for reporting.
	// It is rebuilt every run and never persisted.
	Critical []PropertyRecord `json:"-"`
}

// Stats returns the stats bucket for a source, creating it on first use.
func (r *RunResult) Stats(source string) *SourceStats {
	if r.Sources == nil {
		r.Sources = make(map[string]*SourceStats)
	}
	s, ok := r.Sources[source]
	if !ok {
		s = &SourceStats{}
		r.Sources[source] = s
	}
	return s
}

// Duration is the wall-clock time the run took.
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
