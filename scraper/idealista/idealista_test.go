package idealista

import (
	"testing"

	"estate-scout/scraper"
	"estate-scout/utils"
)

func testExtractor() *Extractor {
	return New(Options{
		Limiter: utils.NewRateLimiter(0),
		Logger:  utils.NewTestLogger(),
	})
}

func TestListingFromCard(t *testing.T) {
	e := testExtractor()

	card := cardData{
		Title:   "  Masseria in vendita a Monopoli  ",
		Price:   "1.250.000 €",
		Details: "600 m² · Terreno 10.000 m²",
		Desc:    "Antica masseria con vista mare",
		URL:     "/immobile/12345678/",
	}

	raw, ok := e.listingFromCard(card, "Monopoli")
	if !ok {
		t.Fatal("listingFromCard() rejected a complete card")
	}
	if raw.SourceID != "12345678" {
		t.Errorf("SourceID = %q; want 12345678", raw.SourceID)
	}
	if raw.URL != "https://www.idealista.it/immobile/12345678/" {
		t.Errorf("URL = %q; want absolute detail URL", raw.URL)
	}
	if raw.Title != "Masseria in vendita a Monopoli" {
		t.Errorf("Title = %q; want trimmed title", raw.Title)
	}
	if raw.RawFeatures != "600 m² · terreno 10.000 m²" {
		t.Errorf("RawFeatures = %q; want lowercased details", raw.RawFeatures)
	}
	if raw.Location != "Monopoli" || raw.Source != "idealista.it" {
		t.Errorf("Location/Source = %q/%q", raw.Location, raw.Source)
	}
}

func TestListingFromCardRejectsIncomplete(t *testing.T) {
	e := testExtractor()

	if _, ok := e.listingFromCard(cardData{Title: "no url"}, "Monopoli"); ok {
		t.Error("card without URL accepted")
	}
	if _, ok := e.listingFromCard(cardData{URL: "/immobile/1/"}, "Monopoli"); ok {
		t.Error("card without title accepted")
	}
}

func TestListingFromCardAbsoluteURLFallbackID(t *testing.T) {
	e := testExtractor()

	card := cardData{
		Title: "Villa Ostuni",
		URL:   "https://www.idealista.it/nuove-costruzioni/villa-ostuni/",
	}
	raw, ok := e.listingFromCard(card, "Ostuni")
	if !ok {
		t.Fatal("listingFromCard() rejected card")
	}
	if raw.SourceID != "nuove-costruzioni/villa-ostuni" {
		t.Errorf("SourceID = %q; want path-derived fallback", raw.SourceID)
	}
}

func TestSearchURLCarriesProvince(t *testing.T) {
	e := testExtractor()

	tests := []struct {
		scope scraper.Scope
		want  string
	}{
		{scraper.Scope{Location: "Ostuni", Province: "Brindisi"},
			"https://www.idealista.it/vendita-case/ostuni-brindisi/"},
		{scraper.Scope{Location: "Polignano a Mare", Province: "Bari"},
			"https://www.idealista.it/vendita-case/polignano-a-mare-bari/"},
		{scraper.Scope{Location: "Monopoli"},
			"https://www.idealista.it/vendita-case/monopoli-bari/"},
	}

	for _, tt := range tests {
		if got := e.searchURL(tt.scope); got != tt.want {
			t.Errorf("searchURL(%q/%q) = %q; want %q",
				tt.scope.Location, tt.scope.Province, got, tt.want)
		}
	}
}

func TestLocationSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Monopoli", "monopoli"},
		{"Polignano a Mare", "polignano-a-mare"},
		{" Castellana Grotte ", "castellana-grotte"},
	}

	for _, tt := range tests {
		if got := locationSlug(tt.in); got != tt.want {
			t.Errorf("locationSlug(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}
