package immobiliare

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"estate-scout/models"
)

// listingIDRegexp pulls the numeric listing id out of a detail URL, e.g.
// https://www.immobiliare.it/annunci/12345678/
var listingIDRegexp = regexp.MustCompile(`/annunci/(\d+)`)

// parseCard turns one search-result card into a RawListing. It returns
// false when the card lacks the minimum fields (title link and URL); the
// caller logs and skips such cards without aborting the page.
func (e *Extractor) parseCard(card *goquery.Selection, location string) (models.RawListing, bool) {
	titleEl := card.Find("a.nd-list__title")
	if titleEl.Length() == 0 {
		titleEl = card.Find("a.in-card__title")
	}
	if titleEl.Length() == 0 {
		return models.RawListing{}, false
	}

	title := strings.TrimSpace(titleEl.First().Text())
	href, _ := titleEl.First().Attr("href")
	href = strings.TrimSpace(href)
	if href == "" {
		return models.RawListing{}, false
	}
	if !strings.HasPrefix(href, "http") {
		href = e.baseURL + href
	}

	sourceID := ""
	if m := listingIDRegexp.FindStringSubmatch(href); len(m) == 2 {
		sourceID = m[1]
	}
	if sourceID == "" {
		// Fall back to the full path so identity stays stable per URL.
		sourceID = strings.Trim(strings.TrimPrefix(href, e.baseURL), "/")
	}

	price := firstText(card, "li.nd-list__price", "li.in-card__price", "div.in-card__price")
	desc := firstText(card, "div.nd-list__description", "div.in-card__description")
	features := firstText(card, "ul.nd-list__features", "ul.in-card__features")

	return models.RawListing{
		Source:      sourceName,
		SourceID:    sourceID,
		Title:       title,
		RawPrice:    price,
		RawAddress:  strings.TrimSpace(title), // immobiliare puts the address in the card title
		RawFeatures: strings.ToLower(features),
		Description: desc,
		URL:         href,
		Location:    location,
		FetchedAt:   time.Now().UTC(),
	}, true
}

// firstText returns the trimmed text of the first selector that matches.
func firstText(s *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if el := s.Find(sel); el.Length() > 0 {
			return strings.TrimSpace(el.First().Text())
		}
	}
	return ""
}
