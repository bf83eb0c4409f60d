package models

import (
	"fmt"
	"time"
)

// RawListing holds unprocessed scraped data straight from a source page.
// It lives only for the duration of one extraction step and is never persisted.
type RawListing struct {
	Source      string
	SourceID    string
	Title       string
	RawPrice    string
	RawAddress  string
	RawArea     string
	RawLand     string
	RawFeatures string
	Description string
	URL         string
	Location    string // search location the listing was found under
	FetchedAt   time.Time
}

// PricePoint is one observation in a record's price history.
type PricePoint struct {
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// CriteriaScore is the per-group breakdown attached to an evaluated record.
type CriteriaScore struct {
	Criterion    string  `json:"criterion"`
	Weight       float64 `json:"weight"`
	SubScore     float64 `json:"sub_score"`    // 0..1
	Contribution float64 `json:"contribution"` // weight * sub_score * 100
}

// Severity is the coarse tier derived from the match score.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// SeverityFor maps a 0–100 match score onto its tier.
func SeverityFor(score float64) Severity {
	switch {
	case score >= 85:
		return SeverityCritical
	case score >= 70:
		return SeverityHigh
	case score >= 50:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// PropertyRecord is the canonical, persisted shape of a listing.
type PropertyRecord struct {
	ID       string `json:"id"` // fnv64(source|source_id), stable across runs
	Source   string `json:"source"`
	SourceID string `json:"source_id"`
	URL      string `json:"url"`
	Title    string `json:"title"`

	Location string  `json:"location"`
	Price    float64 `json:"price"`
	AreaSqm  float64 `json:"area_sqm"`
	LandSqm  float64 `json:"land_sqm"`

	PropertyType       string  `json:"property_type"`
	CoastKm            float64 `json:"coast_km"`
	Zoning             string  `json:"zoning"`
	SeaView            bool    `json:"sea_view"`
	Pool               bool    `json:"pool"`
	Historic           bool    `json:"historic"`
	Masseria           bool    `json:"masseria"`
	RenovationRequired bool    `json:"renovation_required"`

	RawDescription string `json:"raw_description"`

	MatchScore     float64         `json:"match_score"`
	Severity       Severity        `json:"severity"`
	Breakdown      []CriteriaScore `json:"criteria_breakdown"`
	Strengths      []string        `json:"strengths"`
	Concerns       []string        `json:"concerns"`
	Recommendation string          `json:"recommendation"`

	FirstSeenAt   time.Time    `json:"first_seen_at"`
	LastSeenAt    time.Time    `json:"last_seen_at"`
	LastChangedAt time.Time    `json:"last_changed_at"`
	MissingSince  *time.Time   `json:"missing_since,omitempty"`
	PriceHistory  []PricePoint `json:"price_history"`
}

// RecordID derives the stable identity for a (source, source-native id) pair.
// Re-scraping the same listing always reproduces the same ID.
func RecordID(source, sourceID string) string {
	return fmt.Sprintf("%016x", fnv64(source+"|"+sourceID))
}

// fnv64 is FNV-1a over the input string.
func fnv64(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	var h uint64 = offset64
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
