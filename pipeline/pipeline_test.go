package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"estate-scout/config"
	"estate-scout/models"
	"estate-scout/rubric"
	"estate-scout/scraper"
	"estate-scout/services"
	"estate-scout/storage"
	"estate-scout/utils"
)

// fakeExtractor replays canned listings per location and optionally fails
// afterwards, standing in for a real source.
type fakeExtractor struct {
	name     string
	listings map[string][]models.RawListing
	err      error
}

func (f *fakeExtractor) Name() string { return f.name }

func (f *fakeExtractor) Fetch(ctx context.Context, scope scraper.Scope, emit scraper.EmitFunc) error {
	for _, rl := range f.listings[scope.Location] {
		if err := emit(rl); err != nil {
			return err
		}
	}
	return f.err
}

func rawListing(source, sourceID, location, price, description string) models.RawListing {
	return models.RawListing{
		Source:      source,
		SourceID:    sourceID,
		Title:       "Masseria " + sourceID,
		RawPrice:    price,
		Description: description,
		URL:         "https://" + source + "/annunci/" + sourceID + "/",
		Location:    location,
		FetchedAt:   time.Now().UTC(),
	}
}

func newTestRunner(store storage.Store, extractors ...scraper.Extractor) *Runner {
	logger := utils.NewTestLogger()
	gazetteer := []config.Location{
		{Name: "Monopoli", CoastKm: 0.5},
		{Name: "Ostuni", CoastKm: 8},
	}
	return NewRunner(Options{
		Logger:         logger,
		Extractors:     extractors,
		Normalizer:     services.NewNormalizer(logger, gazetteer),
		Evaluator:      services.NewEvaluator(rubric.Default()),
		Reconciler:     services.NewReconciler(logger),
		Store:          store,
		Scopes:         []scraper.Scope{{Location: "Monopoli", MaxProperties: 10}},
		MaxConcurrency: 2,
		UnitTimeout:    5 * time.Second,
	})
}

func TestRunCreatesAndScoresNewListings(t *testing.T) {
	store := storage.NewMemoryStore()
	ext := &fakeExtractor{
		name: "src-a",
		listings: map[string][]models.RawListing{
			"Monopoli": {
				rawListing("src-a", "1", "Monopoli", "€ 1.200.000",
					"Masseria storica con vista mare, piscina, zona residenziale, terreno di 10000 mq"),
				rawListing("src-a", "2", "Monopoli", "€ 600.000",
					"Villa con uliveto"),
			},
		},
	}

	result, err := newTestRunner(store, ext).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.State != models.RunCompleted {
		t.Errorf("state = %s; want completed", result.State)
	}
	if result.Created != 2 {
		t.Errorf("created = %d; want 2", result.Created)
	}

	dreamID := models.RecordID("src-a", "1")
	if len(result.CriticalIDs) != 1 || result.CriticalIDs[0] != dreamID {
		t.Errorf("critical ids = %v; want [%s]", result.CriticalIDs, dreamID)
	}

	records, _ := store.Snapshot(context.Background())
	rec, ok := records[dreamID]
	if !ok {
		t.Fatal("dream listing not committed")
	}
	if rec.Severity != models.SeverityCritical {
		t.Errorf("severity = %s (score %.1f); want CRITICAL", rec.Severity, rec.MatchScore)
	}
	if len(rec.PriceHistory) != 1 {
		t.Errorf("price history = %d points; want 1", len(rec.PriceHistory))
	}
	if len(store.Runs) != 1 {
		t.Errorf("stored runs = %d; want 1", len(store.Runs))
	}
}

func TestRunRecordsPriceChange(t *testing.T) {
	store := storage.NewMemoryStore()
	id := models.RecordID("src-a", "1")
	seeded := models.PropertyRecord{
		ID: id, Source: "src-a", SourceID: "1",
		Location: "Monopoli", Price: 900000,
		PriceHistory: []models.PricePoint{{Price: 900000, ObservedAt: time.Now().Add(-24 * time.Hour)}},
	}
	store.Seed(seeded)

	ext := &fakeExtractor{
		name: "src-a",
		listings: map[string][]models.RawListing{
			"Monopoli": {rawListing("src-a", "1", "Monopoli", "€ 910.000", "Masseria con terreno di 10000 mq")},
		},
	}

	result, err := newTestRunner(store, ext).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.PriceChanged != 1 {
		t.Errorf("price changed = %d; want 1", result.PriceChanged)
	}

	records, _ := store.Snapshot(context.Background())
	if got := records[id]; len(got.PriceHistory) != 2 || got.Price != 910000 {
		t.Errorf("record = price %.0f, %d history points; want 910000 with 2 points",
			got.Price, len(got.PriceHistory))
	}
}

func TestRunDegradesOnSourceFailure(t *testing.T) {
	store := storage.NewMemoryStore()

	// src-a is down; its known record must survive untouched.
	downID := models.RecordID("src-a", "1")
	store.Seed(models.PropertyRecord{
		ID: downID, Source: "src-a", SourceID: "1", Location: "Monopoli", Price: 900000,
	})
	// src-b answers but no longer lists its known record.
	goneID := models.RecordID("src-b", "9")
	store.Seed(models.PropertyRecord{
		ID: goneID, Source: "src-b", SourceID: "9", Location: "Monopoli", Price: 950000,
	})

	down := &fakeExtractor{
		name: "src-a",
		err:  &models.SourceUnavailableError{Source: "src-a", Reason: errors.New("blocked")},
	}
	healthy := &fakeExtractor{
		name: "src-b",
		listings: map[string][]models.RawListing{
			"Monopoli": {rawListing("src-b", "2", "Monopoli", "€ 700.000", "Trullo con terreno di 9000 mq")},
		},
	}

	result, err := newTestRunner(store, down, healthy).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.State != models.RunPartiallyFailed {
		t.Errorf("state = %s; want partially_failed", result.State)
	}
	if result.Created != 1 {
		t.Errorf("created = %d; want 1 from the healthy source", result.Created)
	}
	if !result.Stats("src-a").Unavailable {
		t.Error("src-a not marked unavailable")
	}
	if result.Stats("src-b").Unavailable {
		t.Error("src-b wrongly marked unavailable")
	}

	records, _ := store.Snapshot(context.Background())
	if got := records[downID]; got.MissingSince != nil {
		t.Errorf("record of the unavailable source marked missing at %v", *got.MissingSince)
	}
	if got := records[goneID]; got.MissingSince == nil {
		t.Error("vanished record of the healthy source not marked missing")
	}
	if result.Missing != 1 {
		t.Errorf("missing = %d; want 1", result.Missing)
	}
}

func TestRunCountsDuplicatesInBatch(t *testing.T) {
	store := storage.NewMemoryStore()
	ext := &fakeExtractor{
		name: "src-a",
		listings: map[string][]models.RawListing{
			"Monopoli": {
				rawListing("src-a", "1", "Monopoli", "€ 800.000", "Masseria"),
				rawListing("src-a", "1", "Monopoli", "€ 825.000", "Masseria"),
			},
		},
	}

	result, err := newTestRunner(store, ext).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Duplicates != 1 || result.Created != 1 {
		t.Errorf("duplicates/created = %d/%d; want 1/1", result.Duplicates, result.Created)
	}

	records, _ := store.Snapshot(context.Background())
	if got := records[models.RecordID("src-a", "1")]; got.Price != 825000 {
		t.Errorf("kept price = %.0f; want later occurrence 825000", got.Price)
	}
}

func TestRunDropsUnparseableListings(t *testing.T) {
	store := storage.NewMemoryStore()
	ext := &fakeExtractor{
		name: "src-a",
		listings: map[string][]models.RawListing{
			"Monopoli": {
				rawListing("src-a", "1", "Monopoli", "Prezzo su richiesta", "Masseria"),
				rawListing("src-a", "2", "Monopoli", "€ 800.000", "Masseria"),
			},
		},
	}

	result, err := newTestRunner(store, ext).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Created != 1 {
		t.Errorf("created = %d; want 1 (unparseable price dropped)", result.Created)
	}
	if got := result.Stats("src-a").Failed; got != 1 {
		t.Errorf("failed = %d; want 1", got)
	}
	if result.State != models.RunCompleted {
		t.Errorf("state = %s; record-level failures must not degrade the run", result.State)
	}
}

// blockingExtractor holds its unit open until released, for overlap tests.
type blockingExtractor struct {
	startOnce sync.Once
	started   chan struct{}
	release   chan struct{}
}

func (b *blockingExtractor) Name() string { return "blocking" }

func (b *blockingExtractor) Fetch(ctx context.Context, scope scraper.Scope, emit scraper.EmitFunc) error {
	b.startOnce.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestRunRefusesOverlappingTrigger(t *testing.T) {
	store := storage.NewMemoryStore()
	ext := &blockingExtractor{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	runner := newTestRunner(store, ext)

	done := make(chan error, 1)
	go func() {
		_, err := runner.Run(context.Background())
		done <- err
	}()

	<-ext.started
	if _, err := runner.Run(context.Background()); !errors.Is(err, models.ErrRunInProgress) {
		t.Errorf("overlapping Run() = %v; want ErrRunInProgress", err)
	}

	close(ext.release)
	if err := <-done; err != nil {
		t.Errorf("first Run() error = %v", err)
	}

	// The runner is idle again; a fresh trigger must be accepted.
	if _, err := runner.Run(context.Background()); err != nil {
		t.Errorf("post-run trigger error = %v", err)
	}
}

// cancellingExtractor emits one listing and then aborts the run from the
// outside, as an operator interrupt would.
type cancellingExtractor struct {
	cancel  context.CancelFunc
	listing models.RawListing
}

func (c *cancellingExtractor) Name() string { return "src-a" }

func (c *cancellingExtractor) Fetch(ctx context.Context, scope scraper.Scope, emit scraper.EmitFunc) error {
	if err := emit(c.listing); err != nil {
		return err
	}
	c.cancel()
	<-ctx.Done()
	return ctx.Err()
}

func TestRunCancellationKeepsPartialYields(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ext := &cancellingExtractor{
		cancel:  cancel,
		listing: rawListing("src-a", "1", "Monopoli", "€ 800.000", "Masseria con terreno di 9000 mq"),
	}

	result, err := newTestRunner(store, ext).Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.State != models.RunPartiallyFailed {
		t.Errorf("state = %s; want partially_failed after abort", result.State)
	}
	if result.Created != 1 {
		t.Errorf("created = %d; want the already-yielded listing kept", result.Created)
	}

	records, _ := store.Snapshot(context.Background())
	if _, ok := records[models.RecordID("src-a", "1")]; !ok {
		t.Error("partial yield not committed")
	}
}

func TestRunWarnsOnEmptyYield(t *testing.T) {
	store := storage.NewMemoryStore()
	ext := &fakeExtractor{name: "src-a"}

	result, err := newTestRunner(store, ext).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("empty run produced no warnings")
	}
}
