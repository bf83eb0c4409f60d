package idealista

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"estate-scout/models"
	"estate-scout/scraper"
	"estate-scout/utils"
)

const sourceName = "idealista.it"

// idRegexp pulls the listing id from a detail URL, e.g.
// https://www.idealista.it/immobile/12345678/
var idRegexp = regexp.MustCompile(`/immobile/(\d+)`)

// Extractor scrapes sale listings from idealista.it. The site renders its
// result cards client-side, so this variant drives a headless browser
// instead of parsing static HTML.
type Extractor struct {
	baseURL  string
	headless bool
	timeout  time.Duration
	limiter  *utils.RateLimiter
	retry    *utils.RetryConfig
	logger   *utils.Logger
}

// Options configures the extractor.
type Options struct {
	BaseURL    string
	Headless   bool
	Timeout    time.Duration
	MaxRetries int
	Limiter    *utils.RateLimiter
	Logger     *utils.Logger
}

// New creates a ready-to-use idealista.it extractor.
func New(opts Options) *Extractor {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://www.idealista.it"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &Extractor{
		baseURL:  base,
		headless: opts.Headless,
		timeout:  timeout,
		limiter:  opts.Limiter,
		retry: &utils.RetryConfig{
			MaxAttempts: retries,
			BaseDelay:   4 * time.Second,
			Logger:      opts.Logger,
		},
		logger: opts.Logger,
	}
}

func (e *Extractor) Name() string { return sourceName }

// searchURL builds the results page URL. idealista slugs carry the comune's
// province, which differs across the Valle d'Itria target towns.
func (e *Extractor) searchURL(scope scraper.Scope) string {
	province := scope.Province
	if province == "" {
		province = "Bari"
	}
	return fmt.Sprintf("%s/vendita-case/%s-%s/",
		e.baseURL, locationSlug(scope.Location), locationSlug(province))
}

type cardData struct {
	Title   string `json:"title"`
	Price   string `json:"price"`
	Details string `json:"details"`
	Desc    string `json:"desc"`
	URL     string `json:"url"`
}

// Fetch renders the search results page for the scope's location and emits
// one RawListing per extracted card, up to the scope cap.
func (e *Extractor) Fetch(ctx context.Context, scope scraper.Scope, emit scraper.EmitFunc) error {
	searchURL := e.searchURL(scope)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, stealthOpts(e.headless)...)
	defer cancelAlloc()

	var cards []cardData
	err := e.retry.Do(ctx, "idealista-search-"+scope.Location, func() error {
		// Every attempt is a fresh navigation, so every attempt waits its turn.
		if err := e.limiter.AcquireSource(ctx, sourceName); err != nil {
			return &models.SourceUnavailableError{Source: sourceName, Reason: err}
		}
		browserCtx, cancel := chromedp.NewContext(allocCtx,
			chromedp.WithLogf(func(string, ...interface{}) {}))
		defer cancel()

		browserCtx, cancelTimeout := context.WithTimeout(browserCtx, e.timeout)
		defer cancelTimeout()

		cards = cards[:0]
		err := chromedp.Run(browserCtx,
			chromedp.Navigate(searchURL),
			hideWebDriver(),
			chromedp.Sleep(4*time.Second),
			chromedp.Evaluate(extractCardsJS, &cards),
		)
		if err != nil {
			// Browser/navigation failures are usually transient bot
			// throttling; let the retry budget absorb them.
			return &models.TransientFetchError{Source: sourceName, Err: err}
		}
		return nil
	})
	if err != nil {
		var unavailable *models.SourceUnavailableError
		if !errors.As(err, &unavailable) {
			unavailable = &models.SourceUnavailableError{Source: sourceName, Reason: err}
		}
		return unavailable
	}

	e.logger.Debug("[%s] %s — %d cards on page", sourceName, scope.Location, len(cards))

	// Dedupe is per Fetch: a later run must observe every listing again so
	// live records are not mistaken for vanished ones.
	seen := utils.NewSeenSet()
	emitted := 0
	for i, c := range cards {
		if emitted >= scope.MaxProperties {
			break
		}
		raw, ok := e.listingFromCard(c, scope.Location)
		if !ok {
			e.logger.Warn("[%s] skipping unparseable card %d in %s", sourceName, i, scope.Location)
			continue
		}
		if !seen.Add(raw.URL) {
			continue
		}
		if err := emit(raw); err != nil {
			return err
		}
		emitted++
	}

	e.logger.Info("[%s] %s — emitted %d listings", sourceName, scope.Location, emitted)
	return nil
}

// listingFromCard maps one rendered card onto a RawListing. It returns
// false for cards missing the title link or URL.
func (e *Extractor) listingFromCard(c cardData, location string) (models.RawListing, bool) {
	if c.URL == "" || c.Title == "" {
		return models.RawListing{}, false
	}
	href := c.URL
	if !strings.HasPrefix(href, "http") {
		href = e.baseURL + href
	}

	sourceID := ""
	if m := idRegexp.FindStringSubmatch(href); len(m) == 2 {
		sourceID = m[1]
	}
	if sourceID == "" {
		sourceID = strings.Trim(strings.TrimPrefix(href, e.baseURL), "/")
	}

	return models.RawListing{
		Source:      sourceName,
		SourceID:    sourceID,
		Title:       strings.TrimSpace(c.Title),
		RawPrice:    strings.TrimSpace(c.Price),
		RawAddress:  strings.TrimSpace(c.Title),
		RawFeatures: strings.ToLower(strings.TrimSpace(c.Details)),
		Description: strings.TrimSpace(c.Desc),
		URL:         href,
		Location:    location,
		FetchedAt:   time.Now().UTC(),
	}, true
}

func locationSlug(location string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(location)), " ", "-")
}

// extractCardsJS pulls the visible result cards out of the rendered page.
const extractCardsJS = `
(function() {
	var results = [];
	var articles = document.querySelectorAll('article.item');
	for (var i = 0; i < articles.length; i++) {
		var a = articles[i];
		var link = a.querySelector('a.item-link');
		if (!link) continue;

		var details = [];
		var detailEls = a.querySelectorAll('span.item-detail');
		for (var j = 0; j < detailEls.length; j++) {
			details.push(detailEls[j].innerText.trim());
		}

		var priceEl = a.querySelector('span.item-price');
		var descEl = a.querySelector('p.ellipsis') || a.querySelector('div.item-description');

		results.push({
			title:   link.innerText.trim(),
			price:   priceEl ? priceEl.innerText.trim() : '',
			details: details.join(' · '),
			desc:    descEl ? descEl.innerText.trim() : '',
			url:     link.href
		});
	}
	return results;
})()
`
