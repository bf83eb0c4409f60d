package services

import (
	"time"

	"estate-scout/models"
	"estate-scout/utils"
)

// Reconciler merges a freshly scraped, already-evaluated batch into the
// existing record set, producing create/update/missing decisions and
// price-change events. Records are never deleted here; retention is an
// external decision.
type Reconciler struct {
	logger *utils.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(logger *utils.Logger) *Reconciler {
	return &Reconciler{logger: logger}
}

// UnitKey identifies one (source, location) extraction unit for the
// missing-marker pass.
func UnitKey(source, location string) string {
	return source + "|" + location
}

// Reconcile merges incoming into existing and returns the updated map plus
// the change events, in incoming order followed by missing markers.
//
// activeUnits holds the UnitKeys whose extraction completed this run; only
// records belonging to an active unit can gain a missing_since marker. A
// source (or scope) that was unavailable contributes nothing and must not
// poison its history.
//
// If two incoming records share an id, the later one in fetch order wins
// and the earlier is dropped with a duplicate-in-batch event. The same id
// claimed by two different sources is an invariant violation and fails the
// whole reconciliation.
func (r *Reconciler) Reconcile(
	existing map[string]models.PropertyRecord,
	incoming []models.PropertyRecord,
	activeUnits map[string]struct{},
	now time.Time,
) (map[string]models.PropertyRecord, []models.ChangeEvent, error) {

	var events []models.ChangeEvent

	deduped, dupEvents := r.dedupeBatch(incoming, now)
	events = append(events, dupEvents...)

	updated := make(map[string]models.PropertyRecord, len(existing)+len(deduped))
	for id, rec := range existing {
		updated[id] = rec
	}

	seenIDs := make(map[string]struct{}, len(deduped))
	for _, in := range deduped {
		prev, known := updated[in.ID]
		if known && prev.Source != in.Source {
			return nil, nil, &models.ReconciliationConflictError{
				ID:             in.ID,
				ExistingSource: prev.Source,
				IncomingSource: in.Source,
			}
		}
		seenIDs[in.ID] = struct{}{}

		if !known {
			in.FirstSeenAt = now
			in.LastSeenAt = now
			in.LastChangedAt = now
			in.PriceHistory = []models.PricePoint{{Price: in.Price, ObservedAt: now}}
			updated[in.ID] = in
			events = append(events, models.ChangeEvent{
				Kind: models.EventCreated, RecordID: in.ID, Source: in.Source,
				NewPrice: in.Price, ObservedAt: now,
			})
			continue
		}

		merged, event := r.mergeKnown(prev, in, now)
		updated[in.ID] = merged
		events = append(events, event)
	}

	// Existing ids absent from the batch: mark missing, never delete.
	for id, rec := range updated {
		if _, present := seenIDs[id]; present {
			continue
		}
		if _, active := activeUnits[UnitKey(rec.Source, rec.Location)]; !active {
			continue
		}
		if rec.MissingSince == nil {
			t := now
			rec.MissingSince = &t
			updated[id] = rec
			events = append(events, models.ChangeEvent{
				Kind: models.EventMissing, RecordID: id, Source: rec.Source,
				ObservedAt: now,
			})
		}
	}

	return updated, events, nil
}

// dedupeBatch collapses same-id records within one batch, keeping the later
// occurrence in fetch order.
func (r *Reconciler) dedupeBatch(incoming []models.PropertyRecord, now time.Time) ([]models.PropertyRecord, []models.ChangeEvent) {
	var events []models.ChangeEvent
	lastIdx := make(map[string]int, len(incoming))
	for i, rec := range incoming {
		if _, dup := lastIdx[rec.ID]; dup {
			r.logger.Warn("[reconcile] duplicate in batch: %s (%s) — keeping later occurrence", rec.ID, rec.Source)
			events = append(events, models.ChangeEvent{
				Kind: models.EventDuplicateInBatch, RecordID: rec.ID, Source: rec.Source,
				ObservedAt: now,
			})
		}
		lastIdx[rec.ID] = i
	}

	out := make([]models.PropertyRecord, 0, len(lastIdx))
	for i, rec := range incoming {
		if lastIdx[rec.ID] == i {
			out = append(out, rec)
		}
	}
	return out, events
}

// mergeKnown merges a re-scraped record onto its stored predecessor.
// The fresh score always wins (the rubric may have changed between runs);
// a price-history entry is appended only on an actual price change.
func (r *Reconciler) mergeKnown(prev, in models.PropertyRecord, now time.Time) (models.PropertyRecord, models.ChangeEvent) {
	merged := in
	merged.FirstSeenAt = prev.FirstSeenAt
	merged.LastSeenAt = now
	merged.LastChangedAt = prev.LastChangedAt
	merged.PriceHistory = prev.PriceHistory
	merged.MissingSince = nil // reappeared

	priceChanged := in.Price != prev.Price
	changedFields := diffAttributes(prev, in)

	switch {
	case priceChanged:
		merged.PriceHistory = append(merged.PriceHistory, models.PricePoint{Price: in.Price, ObservedAt: now})
		merged.LastChangedAt = now
		return merged, models.ChangeEvent{
			Kind:       models.EventPriceChanged,
			RecordID:   in.ID,
			Source:     in.Source,
			OldPrice:   prev.Price,
			NewPrice:   in.Price,
			PriceDelta: in.Price - prev.Price,
			Fields:     changedFields,
			ObservedAt: now,
		}
	case len(changedFields) > 0:
		merged.LastChangedAt = now
		return merged, models.ChangeEvent{
			Kind: models.EventUpdated, RecordID: in.ID, Source: in.Source,
			Fields: changedFields, ObservedAt: now,
		}
	default:
		return merged, models.ChangeEvent{
			Kind: models.EventUnchanged, RecordID: in.ID, Source: in.Source,
			ObservedAt: now,
		}
	}
}

// diffAttributes lists the non-price attributes that differ between two
// snapshots of the same record.
func diffAttributes(prev, in models.PropertyRecord) []string {
	var fields []string
	add := func(name string, changed bool) {
		if changed {
			fields = append(fields, name)
		}
	}
	add("title", prev.Title != in.Title)
	add("url", prev.URL != in.URL)
	add("location", prev.Location != in.Location)
	add("area_sqm", prev.AreaSqm != in.AreaSqm)
	add("land_sqm", prev.LandSqm != in.LandSqm)
	add("property_type", prev.PropertyType != in.PropertyType)
	add("zoning", prev.Zoning != in.Zoning)
	add("sea_view", prev.SeaView != in.SeaView)
	add("pool", prev.Pool != in.Pool)
	add("historic", prev.Historic != in.Historic)
	add("masseria", prev.Masseria != in.Masseria)
	add("renovation_required", prev.RenovationRequired != in.RenovationRequired)
	add("raw_description", prev.RawDescription != in.RawDescription)
	return fields
}
