package immobiliare

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"estate-scout/utils"
)

const cardHTML = `
<ul>
  <li class="nd-list__item">
    <a class="nd-list__title" href="/annunci/87654321/">Masseria con vista mare, Monopoli</a>
    <ul class="nd-list__meta"><li class="nd-list__price">€ 1.250.000</li></ul>
    <div class="nd-list__description">Antica masseria con terreno di 10000 mq</div>
    <ul class="nd-list__features"><li>600 mq</li><li>PISCINA</li></ul>
  </li>
  <li class="nd-list__item">
    <a class="nd-list__title" href="https://www.immobiliare.it/annunci/11112222/">Villa Ostuni</a>
    <ul class="nd-list__meta"><li class="nd-list__price">Prezzo su richiesta</li></ul>
  </li>
  <li class="nd-list__item">
    <div class="not-a-title">orphan card</div>
  </li>
</ul>`

func testExtractor() *Extractor {
	return New(Options{
		Limiter: utils.NewRateLimiter(0),
		Logger:  utils.NewTestLogger(),
	})
}

func parseCards(t *testing.T, html string) []*goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	var cards []*goquery.Selection
	doc.Find("li.nd-list__item").Each(func(_ int, s *goquery.Selection) {
		cards = append(cards, s)
	})
	return cards
}

func TestParseCardFullListing(t *testing.T) {
	e := testExtractor()
	cards := parseCards(t, cardHTML)
	if len(cards) != 3 {
		t.Fatalf("fixture cards = %d; want 3", len(cards))
	}

	raw, ok := e.parseCard(cards[0], "Monopoli")
	if !ok {
		t.Fatal("parseCard() rejected a complete card")
	}
	if raw.SourceID != "87654321" {
		t.Errorf("SourceID = %q; want 87654321", raw.SourceID)
	}
	if raw.URL != "https://www.immobiliare.it/annunci/87654321/" {
		t.Errorf("URL = %q; want absolute detail URL", raw.URL)
	}
	if raw.Title != "Masseria con vista mare, Monopoli" {
		t.Errorf("Title = %q", raw.Title)
	}
	if raw.RawPrice != "€ 1.250.000" {
		t.Errorf("RawPrice = %q", raw.RawPrice)
	}
	if raw.Location != "Monopoli" {
		t.Errorf("Location = %q; want search location carried through", raw.Location)
	}
	if !strings.Contains(raw.Description, "terreno di 10000 mq") {
		t.Errorf("Description = %q; want land size retained", raw.Description)
	}
	if !strings.Contains(raw.RawFeatures, "piscina") {
		t.Errorf("RawFeatures = %q; want lowercased features", raw.RawFeatures)
	}
	if raw.Source != "immobiliare.it" {
		t.Errorf("Source = %q; want immobiliare.it", raw.Source)
	}
}

func TestParseCardAbsoluteURL(t *testing.T) {
	e := testExtractor()
	cards := parseCards(t, cardHTML)

	raw, ok := e.parseCard(cards[1], "Ostuni")
	if !ok {
		t.Fatal("parseCard() rejected card with absolute URL")
	}
	if raw.SourceID != "11112222" {
		t.Errorf("SourceID = %q; want 11112222", raw.SourceID)
	}
	if raw.URL != "https://www.immobiliare.it/annunci/11112222/" {
		t.Errorf("URL = %q; absolute href must not be re-prefixed", raw.URL)
	}
	// Price extraction stays verbatim; the normalizer decides it is unusable.
	if raw.RawPrice != "Prezzo su richiesta" {
		t.Errorf("RawPrice = %q", raw.RawPrice)
	}
}

func TestParseCardRejectsTitlelessCard(t *testing.T) {
	e := testExtractor()
	cards := parseCards(t, cardHTML)

	if _, ok := e.parseCard(cards[2], "Monopoli"); ok {
		t.Error("parseCard() accepted a card without a title link")
	}
}

func TestLocationSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Monopoli", "monopoli"},
		{"Polignano a Mare", "polignano-a-mare"},
		{"Selva di Fasano", "selva-di-fasano"},
	}

	for _, tt := range tests {
		if got := locationSlug(tt.in); got != tt.want {
			t.Errorf("locationSlug(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}
