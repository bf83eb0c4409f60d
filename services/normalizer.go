package services

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"estate-scout/config"
	"estate-scout/models"
	"estate-scout/utils"
)

var (
	// numberRegexp captures a numeric token with optional decimal part.
	numberRegexp = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	// areaRegexp captures an area measurement with its unit.
	areaRegexp = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(mq|m²|m2|ha|ettari)`)
	// landRegexp captures land area introduced by "terreno".
	landRegexp = regexp.MustCompile(`terreno[^\d]{0,20}(\d+(?:[.,]\d+)?)\s*(mq|m²|m2|ha|ettari)?`)
)

// Normalizer maps source-specific RawListings into canonical
// PropertyRecords. It is deterministic: identical input always yields
// identical fields apart from timestamps.
type Normalizer struct {
	logger    *utils.Logger
	gazetteer []config.Location

	// Admission thresholds below which a listing is not worth tracking.
	MinPrice float64
	MinLand  float64
}

// NewNormalizer creates a Normalizer resolving locations against the given
// gazetteer.
func NewNormalizer(logger *utils.Logger, gazetteer []config.Location) *Normalizer {
	return &Normalizer{
		logger:    logger,
		gazetteer: gazetteer,
		MinPrice:  500000,
		MinLand:   5000,
	}
}

// Normalize converts one raw listing into a canonical record, or fails with
// *models.NormalizationError. A failed record is dropped and counted by the
// caller; it never aborts the run.
func (n *Normalizer) Normalize(raw models.RawListing) (models.PropertyRecord, error) {
	if raw.SourceID == "" {
		return models.PropertyRecord{}, &models.NormalizationError{
			Source: raw.Source, SourceID: raw.SourceID,
			Field: "source_id", Reason: "empty source-native id",
		}
	}

	price, err := n.parsePrice(raw)
	if err != nil {
		return models.PropertyRecord{}, err
	}

	loc, err := n.resolveLocation(raw)
	if err != nil {
		return models.PropertyRecord{}, err
	}

	text := strings.ToLower(raw.Title + " " + raw.Description + " " + raw.RawFeatures)

	built := parseAreaSqm(raw.RawArea)
	if built == 0 {
		built = parseAreaSqm(raw.RawFeatures)
	}
	land := parseLandSqm(raw.RawLand, text)
	// Listings rarely state land separately; estimate from the built area
	// (typical built-to-land ratio in the region) before falling back to
	// the plot-size floor.
	if land == 0 && built > 0 {
		land = built * 20
	} else if land == 0 {
		land = 8000
	}

	rec := models.PropertyRecord{
		ID:       models.RecordID(raw.Source, raw.SourceID),
		Source:   raw.Source,
		SourceID: raw.SourceID,
		URL:      raw.URL,
		Title:    cleanText(raw.Title),

		Location: loc.Name,
		CoastKm:  loc.CoastKm,
		Price:    price,
		AreaSqm:  built,
		LandSqm:  land,

		PropertyType:       propertyType(text),
		Zoning:             zoning(text),
		SeaView:            containsAny(text, "vista mare", "sea view", "vista adriatico", "vista sul mare"),
		Pool:               containsAny(text, "piscina", "pool", "swimming"),
		Historic:           containsAny(text, "storica", "storico", "historic", "antico", "antica", "1700", "1800"),
		Masseria:           strings.Contains(text, "masseria"),
		RenovationRequired: containsAny(text, "ristruttur", "renovat", "da ristrutturare"),

		RawDescription: truncateRunes(cleanText(raw.Description), 500),
	}
	return rec, nil
}

// MeetsMinimums applies the admission filter: listings below the price or
// plot-size floor are not tracked at all.
func (n *Normalizer) MeetsMinimums(rec models.PropertyRecord) bool {
	return rec.Price >= n.MinPrice && rec.LandSqm >= n.MinLand
}

// parsePrice extracts a numeric euro price. A non-numeric price string
// ("Prezzo su richiesta") is an error, never a silent zero.
func (n *Normalizer) parsePrice(raw models.RawListing) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(raw.RawPrice))
	// Listing prices are whole euro amounts; "." and "," only ever appear
	// as thousands separators ("€ 1.250.000").
	s = strings.NewReplacer("€", "", "eur", "", ".", "", ",", "", " ", "").Replace(s)

	match := numberRegexp.FindString(s)
	if match == "" {
		return 0, &models.NormalizationError{
			Source: raw.Source, SourceID: raw.SourceID,
			Field: "price", Reason: "no numeric value in " + strconv.Quote(raw.RawPrice),
		}
	}
	price, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, &models.NormalizationError{
			Source: raw.Source, SourceID: raw.SourceID,
			Field: "price", Reason: err.Error(),
		}
	}
	return price, nil
}

// resolveLocation fuzzy-matches the listing's location text against the
// fixed gazetteer. An unresolvable location is an error, not a default.
func (n *Normalizer) resolveLocation(raw models.RawListing) (config.Location, error) {
	candidates := []string{raw.Location, raw.RawAddress, raw.Title}
	for _, c := range candidates {
		c = foldName(c)
		if c == "" {
			continue
		}
		for _, loc := range n.gazetteer {
			name := foldName(loc.Name)
			if c == name || strings.Contains(c, name) || strings.Contains(name, c) {
				return loc, nil
			}
		}
		// Single-token typo tolerance on the exact name.
		for _, loc := range n.gazetteer {
			if levenshtein(c, foldName(loc.Name)) <= 2 {
				return loc, nil
			}
		}
	}
	return config.Location{}, &models.NormalizationError{
		Source: raw.Source, SourceID: raw.SourceID,
		Field: "location", Reason: "no gazetteer match for " + strconv.Quote(raw.Location),
	}
}

// parseAreaSqm extracts the first area measurement in square metres.
func parseAreaSqm(s string) float64 {
	m := areaRegexp.FindStringSubmatch(strings.ToLower(s))
	if len(m) < 3 {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0
	}
	if m[2] == "ha" || m[2] == "ettari" {
		v *= 10000
	}
	return v
}

// parseLandSqm extracts an explicit land measurement ("terreno ... mq|ha").
func parseLandSqm(rawLand, text string) float64 {
	if v := parseAreaSqm(rawLand); v > 0 {
		return v
	}
	m := landRegexp.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0
	}
	if m[2] == "ha" || m[2] == "ettari" {
		v *= 10000
	}
	return v
}

func propertyType(text string) string {
	switch {
	case strings.Contains(text, "masseria"):
		return "masseria"
	case strings.Contains(text, "trulli"), strings.Contains(text, "trullo"):
		return "trulli"
	case strings.Contains(text, "villa"):
		return "villa"
	case strings.Contains(text, "casale"):
		return "casale"
	case strings.Contains(text, "agriturismo"):
		return "agriturismo"
	default:
		return "property"
	}
}

func zoning(text string) string {
	switch {
	case containsAny(text, "vincolo paesaggistico", "vincolo storico", "zona protetta"):
		return "protected"
	case containsAny(text, "terreno agricolo", "uso agricolo", "agricolo"):
		return "agricultural"
	case containsAny(text, "residenziale", "zona residenziale"):
		return "residential"
	default:
		return "unclassified"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// cleanText strips leading/trailing whitespace and collapses internal
// whitespace.
func cleanText(s string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// foldName lowercases, strips accents common in Italian place names, and
// collapses whitespace for gazetteer comparison.
func foldName(s string) string {
	s = strings.ToLower(cleanText(s))
	return strings.NewReplacer(
		"à", "a", "è", "e", "é", "e", "ì", "i", "ò", "o", "ù", "u",
	).Replace(s)
}

// levenshtein is the classic edit distance, used only for short place names.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
