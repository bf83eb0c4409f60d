package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"estate-scout/models"
	"estate-scout/notify"
	"estate-scout/scraper"
	"estate-scout/services"
	"estate-scout/storage"
	"estate-scout/utils"
)

// Options wires the runner's collaborators and limits.
type Options struct {
	Logger     *utils.Logger
	Extractors []scraper.Extractor
	Normalizer *services.Normalizer
	Evaluator  *services.Evaluator
	Reconciler *services.Reconciler
	Store      storage.Store
	Archiver   storage.RawArchiver // optional raw-listing audit trail
	Notifier   notify.Notifier

	Scopes         []scraper.Scope
	MaxConcurrency int           // concurrent sources; min 1
	UnitTimeout    time.Duration // per (source, location) extraction
	RunTimeout     time.Duration // whole run; 0 disables
}

// Runner drives one full scrape-normalize-evaluate-reconcile cycle.
// A runner accepts one run at a time; a trigger during a run is refused
// with ErrRunInProgress so overlapping runs can never race on the store.
type Runner struct {
	opts Options

	mu    sync.Mutex
	state models.RunState
}

func NewRunner(opts Options) *Runner {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.UnitTimeout <= 0 {
		opts.UnitTimeout = 10 * time.Minute
	}
	return &Runner{opts: opts, state: models.RunIdle}
}

// State reports whether a run is executing right now.
func (r *Runner) State() models.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s models.RunState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// sourceOutcome is one extractor's contribution, collected off-goroutine.
type sourceOutcome struct {
	source      string
	raw         []models.RawListing
	records     []models.PropertyRecord
	fetched     int
	normalized  int
	failed      int
	unavailable bool
	cause       string
	activeUnits []string
	errs        []string
}

// Run executes one complete cycle and always returns a RunResult when it
// actually ran, even on partial failure. Cancelling ctx aborts extraction
// but listings already yielded are still normalized, evaluated, reconciled
// and committed; the run then reports partially_failed.
func (r *Runner) Run(ctx context.Context) (*models.RunResult, error) {
	r.mu.Lock()
	if r.state == models.RunRunning {
		r.mu.Unlock()
		return nil, models.ErrRunInProgress
	}
	r.state = models.RunRunning
	r.mu.Unlock()
	defer r.setState(models.RunIdle)

	startedAt := time.Now().UTC()
	result := &models.RunResult{
		RunID:     "run_" + startedAt.Format("20060102_150405"),
		State:     models.RunRunning,
		StartedAt: startedAt,
		Sources:   make(map[string]*models.SourceStats),
	}
	r.opts.Logger.Info("starting run %s: %d sources x %d scopes",
		result.RunID, len(r.opts.Extractors), len(r.opts.Scopes))

	snapshot, err := r.opts.Store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	r.opts.Logger.Info("loaded %d known properties", len(snapshot))

	runCtx := ctx
	if r.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.opts.RunTimeout)
		defer cancel()
	}

	outcomes := make([]*sourceOutcome, len(r.opts.Extractors))
	var g errgroup.Group
	g.SetLimit(r.opts.MaxConcurrency)
	for i, ext := range r.opts.Extractors {
		i, ext := i, ext
		g.Go(func() error {
			outcomes[i] = r.runSource(runCtx, ext)
			return nil
		})
	}
	g.Wait()

	var (
		allRaw      []models.RawListing
		incoming    []models.PropertyRecord
		activeUnits = make(map[string]struct{})
		degraded    bool
	)
	for _, out := range outcomes {
		stats := result.Stats(out.source)
		stats.Fetched = out.fetched
		stats.Normalized = out.normalized
		stats.Failed = out.failed
		stats.Unavailable = out.unavailable
		stats.FailureCause = out.cause
		if out.unavailable {
			degraded = true
		}
		allRaw = append(allRaw, out.raw...)
		incoming = append(incoming, out.records...)
		for _, key := range out.activeUnits {
			activeUnits[key] = struct{}{}
		}
		result.Errors = append(result.Errors, out.errs...)
	}

	if r.opts.Archiver != nil && len(allRaw) > 0 {
		if err := r.opts.Archiver.Archive(allRaw); err != nil {
			r.opts.Logger.Error("raw archive failed: %v", err)
			result.Warnings = append(result.Warnings, "raw archive failed: "+err.Error())
		}
	}

	now := time.Now().UTC()
	updated, events, err := r.opts.Reconciler.Reconcile(snapshot, incoming, activeUnits, now)
	if err != nil {
		// Conflicts mean corrupted identity; nothing gets committed.
		result.Errors = append(result.Errors, err.Error())
		result.State = models.RunPartiallyFailed
		result.FinishedAt = time.Now().UTC()
		r.opts.Logger.Error("reconciliation aborted: %v", err)
		return result, err
	}

	r.tally(result, events)
	result.Warnings = append(result.Warnings, yieldWarnings(len(incoming))...)

	critical := criticalRecords(updated, incoming)
	result.Critical = critical
	for _, rec := range critical {
		result.CriticalIDs = append(result.CriticalIDs, rec.ID)
	}

	if degraded || runCtx.Err() != nil {
		result.State = models.RunPartiallyFailed
	} else {
		result.State = models.RunCompleted
	}
	result.FinishedAt = time.Now().UTC()

	// A cancelled run still persists what it gathered.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := r.opts.Store.Commit(commitCtx, updated, events, result); err != nil {
		result.Errors = append(result.Errors, "commit failed: "+err.Error())
		result.State = models.RunPartiallyFailed
		return result, fmt.Errorf("commit run %s: %w", result.RunID, err)
	}

	if r.opts.Notifier != nil {
		if err := r.opts.Notifier.Notify(result, critical); err != nil {
			r.opts.Logger.Error("notification failed: %v", err)
		}
	}

	r.opts.Logger.Info("run %s %s in %s: %d created, %d updated, %d price changes, %d missing",
		result.RunID, result.State, result.Duration().Round(time.Second),
		result.Created, result.Updated, result.PriceChanged, result.Missing)
	return result, nil
}

// runSource walks every scope sequentially for one extractor. Scope
// failures are recorded and the remaining scopes still run; listings
// yielded before a failure are kept.
func (r *Runner) runSource(ctx context.Context, ext scraper.Extractor) *sourceOutcome {
	out := &sourceOutcome{source: ext.Name()}
	for _, scope := range r.opts.Scopes {
		if ctx.Err() != nil {
			out.unavailable = true
			out.cause = ctx.Err().Error()
			out.errs = append(out.errs, fmt.Sprintf("%s/%s: run aborted", ext.Name(), scope.Location))
			break
		}

		raw, err := r.runUnit(ctx, ext, scope)
		out.fetched += len(raw)
		out.raw = append(out.raw, raw...)
		if err != nil {
			out.unavailable = true
			out.cause = err.Error()
			out.errs = append(out.errs, fmt.Sprintf("%s/%s: %v", ext.Name(), scope.Location, err))
			r.opts.Logger.Error("%s/%s failed after %d listings: %v",
				ext.Name(), scope.Location, len(raw), err)
		} else {
			out.activeUnits = append(out.activeUnits, services.UnitKey(ext.Name(), scope.Location))
			r.opts.Logger.Info("%s/%s: %d listings", ext.Name(), scope.Location, len(raw))
		}

		for _, rl := range raw {
			rec, err := r.opts.Normalizer.Normalize(rl)
			if err != nil {
				out.failed++
				out.errs = append(out.errs, err.Error())
				r.opts.Logger.Warn("dropping listing: %v", err)
				continue
			}
			if !r.opts.Normalizer.MeetsMinimums(rec) {
				r.opts.Logger.Debug("below minimums, skipping %s/%s", rec.Source, rec.SourceID)
				continue
			}
			r.opts.Evaluator.Apply(&rec)
			out.records = append(out.records, rec)
			out.normalized++
		}
	}
	return out
}

// runUnit fetches one (source, location) pair under the unit timeout.
// Timeouts and cancellation are reported as source unavailability so the
// reconciler leaves the unit's known records untouched.
func (r *Runner) runUnit(ctx context.Context, ext scraper.Extractor, scope scraper.Scope) ([]models.RawListing, error) {
	unitCtx, cancel := context.WithTimeout(ctx, r.opts.UnitTimeout)
	defer cancel()

	var raw []models.RawListing
	err := ext.Fetch(unitCtx, scope, func(rl models.RawListing) error {
		raw = append(raw, rl)
		return nil
	})
	if err == nil {
		return raw, nil
	}

	var unavailable *models.SourceUnavailableError
	switch {
	case errors.As(err, &unavailable):
		return raw, err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return raw, &models.SourceUnavailableError{Source: ext.Name(), Reason: err}
	default:
		return raw, &models.SourceUnavailableError{Source: ext.Name(), Reason: err}
	}
}

func (r *Runner) tally(result *models.RunResult, events []models.ChangeEvent) {
	for _, ev := range events {
		switch ev.Kind {
		case models.EventCreated:
			result.Created++
		case models.EventUpdated:
			result.Updated++
		case models.EventPriceChanged:
			result.PriceChanged++
		case models.EventUnchanged:
			result.Unchanged++
		case models.EventMissing:
			result.Missing++
		case models.EventDuplicateInBatch:
			result.Duplicates++
		}
	}
}

// criticalRecords returns this run's critical-tier records, best first.
// Only records observed in the current batch count; stale critical
// records from earlier runs do not re-alert.
func criticalRecords(updated map[string]models.PropertyRecord, incoming []models.PropertyRecord) []models.PropertyRecord {
	seen := make(map[string]struct{}, len(incoming))
	var out []models.PropertyRecord
	for _, in := range incoming {
		if _, dup := seen[in.ID]; dup {
			continue
		}
		seen[in.ID] = struct{}{}
		rec, ok := updated[in.ID]
		if ok && rec.Severity == models.SeverityCritical {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MatchScore != out[j].MatchScore {
			return out[i].MatchScore > out[j].MatchScore
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func yieldWarnings(admitted int) []string {
	switch {
	case admitted == 0:
		return []string{"no properties admitted this run"}
	case admitted < 10:
		return []string{fmt.Sprintf("low yield: only %d properties admitted", admitted)}
	}
	return nil
}
