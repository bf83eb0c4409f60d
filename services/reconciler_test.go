package services

import (
	"errors"
	"testing"
	"time"

	"estate-scout/models"
	"estate-scout/utils"
)

func newTestReconciler() *Reconciler {
	return NewReconciler(utils.NewTestLogger())
}

func testRecord(source, sourceID, location string, price float64) models.PropertyRecord {
	return models.PropertyRecord{
		ID:       models.RecordID(source, sourceID),
		Source:   source,
		SourceID: sourceID,
		Location: location,
		Price:    price,
		Title:    "Masseria " + sourceID,
	}
}

func activeUnitsFor(records ...models.PropertyRecord) map[string]struct{} {
	units := make(map[string]struct{})
	for _, rec := range records {
		units[UnitKey(rec.Source, rec.Location)] = struct{}{}
	}
	return units
}

func eventsOfKind(events []models.ChangeEvent, kind models.EventKind) []models.ChangeEvent {
	var out []models.ChangeEvent
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestReconcileCreatesNewRecord(t *testing.T) {
	r := newTestReconciler()
	now := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	in := testRecord("immobiliare.it", "1", "Monopoli", 900000)

	updated, events, err := r.Reconcile(nil, []models.PropertyRecord{in}, activeUnitsFor(in), now)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	got, ok := updated[in.ID]
	if !ok {
		t.Fatal("new record missing from updated set")
	}
	if !got.FirstSeenAt.Equal(now) || !got.LastSeenAt.Equal(now) {
		t.Errorf("timestamps = %v/%v; want both %v", got.FirstSeenAt, got.LastSeenAt, now)
	}
	if len(got.PriceHistory) != 1 || got.PriceHistory[0].Price != 900000 {
		t.Errorf("price history = %+v; want single point at 900000", got.PriceHistory)
	}
	created := eventsOfKind(events, models.EventCreated)
	if len(created) != 1 || created[0].RecordID != in.ID {
		t.Errorf("created events = %+v; want one for %s", created, in.ID)
	}
}

func TestReconcilePriceChange(t *testing.T) {
	r := newTestReconciler()
	t0 := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	prev := testRecord("immobiliare.it", "1", "Monopoli", 900000)
	prev.FirstSeenAt = t0
	prev.PriceHistory = []models.PricePoint{{Price: 900000, ObservedAt: t0}}
	existing := map[string]models.PropertyRecord{prev.ID: prev}

	in := testRecord("immobiliare.it", "1", "Monopoli", 910000)
	updated, events, err := r.Reconcile(existing, []models.PropertyRecord{in}, activeUnitsFor(in), t1)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	changes := eventsOfKind(events, models.EventPriceChanged)
	if len(changes) != 1 {
		t.Fatalf("price change events = %d; want 1", len(changes))
	}
	if changes[0].PriceDelta != 10000 || changes[0].OldPrice != 900000 || changes[0].NewPrice != 910000 {
		t.Errorf("event = %+v; want delta +10000 from 900000", changes[0])
	}

	got := updated[in.ID]
	if len(got.PriceHistory) != 2 {
		t.Fatalf("price history length = %d; want 2", len(got.PriceHistory))
	}
	if got.PriceHistory[1].Price != 910000 || !got.PriceHistory[1].ObservedAt.Equal(t1) {
		t.Errorf("appended point = %+v; want 910000 at %v", got.PriceHistory[1], t1)
	}
	if !got.FirstSeenAt.Equal(t0) {
		t.Errorf("FirstSeenAt = %v; want preserved %v", got.FirstSeenAt, t0)
	}
	if !got.LastChangedAt.Equal(t1) {
		t.Errorf("LastChangedAt = %v; want %v", got.LastChangedAt, t1)
	}
}

func TestReconcileUnchangedKeepsHistory(t *testing.T) {
	r := newTestReconciler()
	t0 := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	prev := testRecord("immobiliare.it", "1", "Monopoli", 900000)
	prev.FirstSeenAt = t0
	prev.LastChangedAt = t0
	prev.MatchScore = 72.0
	prev.PriceHistory = []models.PricePoint{{Price: 900000, ObservedAt: t0}}
	existing := map[string]models.PropertyRecord{prev.ID: prev}

	// Same listing rescored by a fresher rubric.
	in := testRecord("immobiliare.it", "1", "Monopoli", 900000)
	in.MatchScore = 88.5
	in.Severity = models.SeverityCritical

	updated, events, err := r.Reconcile(existing, []models.PropertyRecord{in}, activeUnitsFor(in), t1)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if n := len(eventsOfKind(events, models.EventUnchanged)); n != 1 {
		t.Errorf("unchanged events = %d; want 1", n)
	}

	got := updated[in.ID]
	if got.MatchScore != 88.5 || got.Severity != models.SeverityCritical {
		t.Errorf("score = %.1f/%s; want fresh 88.5/CRITICAL", got.MatchScore, got.Severity)
	}
	if len(got.PriceHistory) != 1 {
		t.Errorf("price history grew to %d on unchanged price", len(got.PriceHistory))
	}
	if !got.LastChangedAt.Equal(t0) {
		t.Errorf("LastChangedAt = %v; want untouched %v", got.LastChangedAt, t0)
	}
	if !got.LastSeenAt.Equal(t1) {
		t.Errorf("LastSeenAt = %v; want %v", got.LastSeenAt, t1)
	}
}

func TestReconcileAttributeUpdate(t *testing.T) {
	r := newTestReconciler()
	now := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

	prev := testRecord("immobiliare.it", "1", "Monopoli", 900000)
	existing := map[string]models.PropertyRecord{prev.ID: prev}

	in := testRecord("immobiliare.it", "1", "Monopoli", 900000)
	in.Title = "Masseria ristrutturata"
	in.SeaView = true

	_, events, err := r.Reconcile(existing, []models.PropertyRecord{in}, activeUnitsFor(in), now)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	upd := eventsOfKind(events, models.EventUpdated)
	if len(upd) != 1 {
		t.Fatalf("updated events = %d; want 1", len(upd))
	}
	if len(upd[0].Fields) != 2 {
		t.Errorf("changed fields = %v; want title and sea_view", upd[0].Fields)
	}
}

func TestReconcileDuplicateInBatchLaterWins(t *testing.T) {
	r := newTestReconciler()
	now := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	first := testRecord("immobiliare.it", "1", "Monopoli", 900000)
	second := testRecord("immobiliare.it", "1", "Monopoli", 925000)

	updated, events, err := r.Reconcile(nil, []models.PropertyRecord{first, second}, activeUnitsFor(first), now)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if got := updated[first.ID]; got.Price != 925000 {
		t.Errorf("kept price = %.0f; want later occurrence 925000", got.Price)
	}
	if n := len(eventsOfKind(events, models.EventDuplicateInBatch)); n != 1 {
		t.Errorf("duplicate events = %d; want 1", n)
	}
	if n := len(eventsOfKind(events, models.EventCreated)); n != 1 {
		t.Errorf("created events = %d; want exactly 1 for the deduped id", n)
	}
}

func TestReconcileMarksMissingOnlyForActiveUnits(t *testing.T) {
	r := newTestReconciler()
	now := time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC)

	gone := testRecord("immobiliare.it", "1", "Monopoli", 900000)
	offline := testRecord("idealista.it", "2", "Monopoli", 950000)
	existing := map[string]models.PropertyRecord{
		gone.ID:    gone,
		offline.ID: offline,
	}

	// Only immobiliare.it finished its Monopoli unit; idealista.it was down.
	active := map[string]struct{}{UnitKey("immobiliare.it", "Monopoli"): {}}

	updated, events, err := r.Reconcile(existing, nil, active, now)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if got := updated[gone.ID]; got.MissingSince == nil || !got.MissingSince.Equal(now) {
		t.Errorf("MissingSince = %v; want %v", got.MissingSince, now)
	}
	if got := updated[offline.ID]; got.MissingSince != nil {
		t.Errorf("unavailable source's record marked missing at %v", *got.MissingSince)
	}
	if n := len(eventsOfKind(events, models.EventMissing)); n != 1 {
		t.Errorf("missing events = %d; want 1", n)
	}
}

func TestReconcileMissingMarkerIsSetOnce(t *testing.T) {
	r := newTestReconciler()
	t0 := time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	gone := testRecord("immobiliare.it", "1", "Monopoli", 900000)
	gone.MissingSince = &t0
	existing := map[string]models.PropertyRecord{gone.ID: gone}
	active := map[string]struct{}{UnitKey("immobiliare.it", "Monopoli"): {}}

	updated, events, err := r.Reconcile(existing, nil, active, t1)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if got := updated[gone.ID]; !got.MissingSince.Equal(t0) {
		t.Errorf("MissingSince moved to %v; want original %v", got.MissingSince, t0)
	}
	if n := len(eventsOfKind(events, models.EventMissing)); n != 0 {
		t.Errorf("missing events = %d; want 0 for already-marked record", n)
	}
}

func TestReconcileReappearanceClearsMissing(t *testing.T) {
	r := newTestReconciler()
	t0 := time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	prev := testRecord("immobiliare.it", "1", "Monopoli", 900000)
	prev.MissingSince = &t0
	existing := map[string]models.PropertyRecord{prev.ID: prev}

	in := testRecord("immobiliare.it", "1", "Monopoli", 900000)
	updated, _, err := r.Reconcile(existing, []models.PropertyRecord{in}, activeUnitsFor(in), t1)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if got := updated[in.ID]; got.MissingSince != nil {
		t.Errorf("MissingSince = %v after reappearance; want nil", *got.MissingSince)
	}
}

func TestReconcileSourceConflictIsFatal(t *testing.T) {
	r := newTestReconciler()
	now := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	prev := testRecord("immobiliare.it", "1", "Monopoli", 900000)
	existing := map[string]models.PropertyRecord{prev.ID: prev}

	// Forged incoming record claiming the same id from another source.
	in := testRecord("idealista.it", "99", "Monopoli", 900000)
	in.ID = prev.ID

	_, _, err := r.Reconcile(existing, []models.PropertyRecord{in}, activeUnitsFor(in), now)
	var conflict *models.ReconciliationConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Reconcile() = %v; want *models.ReconciliationConflictError", err)
	}
	if conflict.ExistingSource != "immobiliare.it" || conflict.IncomingSource != "idealista.it" {
		t.Errorf("conflict = %+v; want both sources named", conflict)
	}
}

func TestReconcileIgnoresPriceMagnitude(t *testing.T) {
	// Admission filtering happens upstream; any record that reaches the
	// batch is reconciled on identity alone, whatever its price.
	r := newTestReconciler()
	now := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	in := testRecord("immobiliare.it", "7", "Monopoli", 200000)
	in.MatchScore = 91.5
	in.Severity = models.SeverityCritical

	updated, events, err := r.Reconcile(nil, []models.PropertyRecord{in}, activeUnitsFor(in), now)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if got := eventsOfKind(events, models.EventCreated); len(got) != 1 {
		t.Fatalf("created events = %d; want 1", len(got))
	}
	rec, ok := updated[in.ID]
	if !ok {
		t.Fatal("record missing from updated set")
	}
	if rec.Price != 200000 || rec.Severity != models.SeverityCritical {
		t.Errorf("stored = price %.0f severity %s; want 200000 CRITICAL", rec.Price, rec.Severity)
	}
	if len(rec.PriceHistory) != 1 || rec.PriceHistory[0].Price != 200000 {
		t.Errorf("price history = %+v; want single 200000 point", rec.PriceHistory)
	}
}

func TestReconcileNeverDeletes(t *testing.T) {
	r := newTestReconciler()
	now := time.Date(2026, 3, 4, 6, 0, 0, 0, time.UTC)

	old := testRecord("immobiliare.it", "1", "Monopoli", 900000)
	existing := map[string]models.PropertyRecord{old.ID: old}
	fresh := testRecord("immobiliare.it", "2", "Monopoli", 1000000)

	updated, _, err := r.Reconcile(existing, []models.PropertyRecord{fresh}, activeUnitsFor(fresh), now)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(updated) != 2 {
		t.Errorf("updated set size = %d; want 2 (vanished record retained)", len(updated))
	}
}
