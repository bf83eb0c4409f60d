package immobiliare

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"estate-scout/models"
	"estate-scout/scraper"
	"estate-scout/utils"
)

const sourceName = "immobiliare.it"

// Extractor scrapes sale listings from immobiliare.it search result pages.
type Extractor struct {
	baseURL   string
	client    *http.Client
	userAgent string
	limiter   *utils.RateLimiter
	retry     *utils.RetryConfig
	logger    *utils.Logger
}

// Options configures the extractor. Zero values fall back to sane defaults.
type Options struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Limiter    *utils.RateLimiter
	Logger     *utils.Logger
}

// New creates a ready-to-use immobiliare.it extractor.
func New(opts Options) *Extractor {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://www.immobiliare.it"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	return &Extractor{
		baseURL:   base,
		client:    &http.Client{Timeout: timeout},
		userAgent: opts.UserAgent,
		limiter:   opts.Limiter,
		retry: &utils.RetryConfig{
			MaxAttempts: retries,
			BaseDelay:   retryDelay,
			Logger:      opts.Logger,
		},
		logger: opts.Logger,
	}
}

func (e *Extractor) Name() string { return sourceName }

// Fetch pulls the search results page for the scope's location and emits
// one RawListing per parsed card, up to the scope cap.
func (e *Extractor) Fetch(ctx context.Context, scope scraper.Scope, emit scraper.EmitFunc) error {
	searchURL := fmt.Sprintf("%s/vendita-case/%s/", e.baseURL, locationSlug(scope.Location))

	var doc *goquery.Document
	err := e.retry.Do(ctx, "immobiliare-search-"+scope.Location, func() error {
		// Every attempt is a fresh request, so every attempt waits its turn.
		if err := e.limiter.AcquireSource(ctx, sourceName); err != nil {
			return &models.SourceUnavailableError{Source: sourceName, Reason: err}
		}
		var err error
		doc, err = e.fetchDocument(ctx, searchURL)
		return err
	})
	if err != nil {
		var unavailable *models.SourceUnavailableError
		if !errors.As(err, &unavailable) {
			unavailable = &models.SourceUnavailableError{Source: sourceName, Reason: err}
		}
		return unavailable
	}

	cards := doc.Find("li.nd-list__item")
	if cards.Length() == 0 {
		// Site periodically swaps card markup between list and grid shapes.
		cards = doc.Find("div.in-card")
	}
	e.logger.Debug("[%s] %s — %d cards on page", sourceName, scope.Location, cards.Length())

	// Dedupe is per Fetch: a later run must observe every listing again so
	// live records are not mistaken for vanished ones.
	seen := utils.NewSeenSet()
	emitted := 0
	var emitErr error
	cards.EachWithBreak(func(i int, card *goquery.Selection) bool {
		if emitted >= scope.MaxProperties {
			return false
		}
		raw, ok := e.parseCard(card, scope.Location)
		if !ok {
			e.logger.Warn("[%s] skipping unparseable card %d in %s", sourceName, i, scope.Location)
			return true
		}
		if !seen.Add(raw.URL) {
			e.logger.Debug("[%s] duplicate URL skipped: %s", sourceName, raw.URL)
			return true
		}
		if err := emit(raw); err != nil {
			emitErr = err
			return false
		}
		emitted++
		return true
	})
	if emitErr != nil {
		return emitErr
	}

	e.logger.Info("[%s] %s — emitted %d listings", sourceName, scope.Location, emitted)
	return nil
}

// fetchDocument GETs a page and parses it, classifying failures into
// transient (retryable) and source-fatal errors.
func (e *Extractor) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &models.SourceUnavailableError{Source: sourceName, Reason: err}
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept-Language", "it-IT,it;q=0.9,en;q=0.5")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &models.TransientFetchError{Source: sourceName, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to parse
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &models.TransientFetchError{
			Source: sourceName,
			Err:    fmt.Errorf("status %d from %s", resp.StatusCode, pageURL),
		}
	default:
		// 401/403 auth walls and other client errors are unit-fatal.
		return nil, &models.SourceUnavailableError{
			Source: sourceName,
			Reason: fmt.Errorf("status %d from %s", resp.StatusCode, pageURL),
		}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &models.TransientFetchError{Source: sourceName, Err: err}
	}
	return doc, nil
}

func locationSlug(location string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(location)), " ", "-")
}
