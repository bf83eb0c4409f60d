package services

import (
	"fmt"
	"math"

	"estate-scout/models"
	"estate-scout/rubric"
)

// Evaluator scores canonical records against the weighted criteria rubric.
// It is a pure computation: no I/O, no suspension points.
type Evaluator struct {
	rubric *rubric.Rubric
}

// NewEvaluator creates an Evaluator for an already-validated rubric.
func NewEvaluator(r *rubric.Rubric) *Evaluator {
	return &Evaluator{rubric: r}
}

// Score computes the 0–100 match score and the per-group breakdown.
// Missing data for a criterion yields a sub-score of 0 for that criterion:
// incomplete listings are penalized, never excluded and never errors.
func (e *Evaluator) Score(rec *models.PropertyRecord) (float64, []models.CriteriaScore) {
	breakdown := make([]models.CriteriaScore, 0, len(e.rubric.Groups))
	var total float64

	for i := range e.rubric.Groups {
		g := &e.rubric.Groups[i]
		sub := clamp01(e.groupScore(g, rec))
		contribution := g.Weight * sub * 100
		total += contribution
		breakdown = append(breakdown, models.CriteriaScore{
			Criterion:    g.Name,
			Weight:       g.Weight,
			SubScore:     round2(sub),
			Contribution: round1(contribution),
		})
	}
	return round1(total), breakdown
}

// Apply scores the record in place: match score, severity tier, breakdown,
// and the qualitative summary fields.
func (e *Evaluator) Apply(rec *models.PropertyRecord) {
	score, breakdown := e.Score(rec)
	rec.MatchScore = score
	rec.Severity = models.SeverityFor(score)
	rec.Breakdown = breakdown
	rec.Strengths = e.strengths(rec)
	rec.Concerns = e.concerns(rec)
	rec.Recommendation = recommendation(rec.PropertyType, score)
}

func (e *Evaluator) groupScore(g *rubric.Group, rec *models.PropertyRecord) float64 {
	switch g.Name {
	case "geographic":
		return geographicScore(g, rec)
	case "land_space":
		return rangeScore(rec.LandSqm, g.MinLand, g.MaxLand, g.FalloffSqm)
	case "architectural":
		return architecturalScore(g, rec)
	case "infrastructure":
		if rec.Location == "" {
			return 0
		}
		return g.BaseScore
	case "regulatory":
		return g.ZoningScores[rec.Zoning]
	case "financial":
		return financialScore(g, rec.Price)
	default:
		// Unknown group: nothing in the record can feed it.
		return 0
	}
}

// geographicScore blends preferred-location membership, sea view, and
// coast proximity using the group's sub-criteria weights.
func geographicScore(g *rubric.Group, rec *models.PropertyRecord) float64 {
	if rec.Location == "" {
		return 0
	}

	locScore := 0.4
	for _, preferred := range g.PreferredLocations {
		if preferred == rec.Location {
			locScore = 1.0
			break
		}
	}

	seaScore := 0.0
	if rec.SeaView {
		seaScore = 1.0
	}

	coastScore := 0.0
	if g.CoastDecayKm > 0 {
		coastScore = clamp01(1 - rec.CoastKm/g.CoastDecayKm)
	}

	return locScore*subWeight(g, "preferred_location") +
		seaScore*subWeight(g, "sea_view") +
		coastScore*subWeight(g, "coast_proximity")
}

// rangeScore is 1.0 inside [min,max] and falls off linearly to 0 over the
// falloff band on either side.
func rangeScore(v, min, max, falloff float64) float64 {
	if v <= 0 {
		return 0
	}
	if v >= min && v <= max {
		return 1
	}
	if falloff <= 0 {
		return 0
	}
	var dist float64
	if v < min {
		dist = min - v
	} else {
		dist = v - max
	}
	return clamp01(1 - dist/falloff)
}

func architecturalScore(g *rubric.Group, rec *models.PropertyRecord) float64 {
	if rec.PropertyType == "" && !rec.Historic && !rec.Masseria {
		return 0
	}
	score := g.BaseScore
	if rec.Historic {
		score += g.HistoricBonus
	}
	if rec.Masseria {
		score += g.MasseriaBonus
	}
	return clamp01(score)
}

func financialScore(g *rubric.Group, price float64) float64 {
	switch {
	case price <= 0:
		return 0
	case price >= g.MinPrice && price <= g.OptimalPrice:
		return 1.0
	case price > g.OptimalPrice && price <= g.MaxPrice:
		return 0.8
	case price < g.MinPrice:
		return 0.7
	default: // over budget
		return 0.5
	}
}

func (e *Evaluator) strengths(rec *models.PropertyRecord) []string {
	var out []string
	fin := e.rubric.Group("financial")
	land := e.rubric.Group("land_space")

	if rec.SeaView {
		out = append(out, "Sea view confirmed")
	}
	if rec.Masseria {
		out = append(out, fmt.Sprintf("Historic masseria %.0fm²", rec.AreaSqm))
	} else if rec.Historic {
		out = append(out, "Historic structure")
	}
	if fin != nil && rec.Price >= fin.MinPrice && rec.Price <= fin.MaxPrice {
		out = append(out, fmt.Sprintf("Price €%.0f within budget", rec.Price))
	}
	if land != nil && rec.LandSqm >= land.MinLand && rec.LandSqm <= land.MaxLand {
		out = append(out, fmt.Sprintf("Ideal land size %.0fm²", rec.LandSqm))
	}
	if rec.Pool {
		out = append(out, "Existing pool")
	}
	if len(out) == 0 {
		out = append(out, "Property in target region")
	}
	return out
}

func (e *Evaluator) concerns(rec *models.PropertyRecord) []string {
	var out []string
	fin := e.rubric.Group("financial")
	land := e.rubric.Group("land_space")

	if !rec.SeaView {
		out = append(out, "No sea view (critical requirement)")
	}
	if rec.RenovationRequired {
		out = append(out, "Renovation required")
	}
	if fin != nil && rec.Price > fin.MaxPrice {
		out = append(out, fmt.Sprintf("Over budget by €%.0f", rec.Price-fin.MaxPrice))
	}
	if land != nil && rec.LandSqm < land.MinLand {
		out = append(out, fmt.Sprintf("Land only %.0fm² (below minimum)", rec.LandSqm))
	}
	if rec.AreaSqm > 0 && rec.AreaSqm < 400 {
		out = append(out, fmt.Sprintf("Small built area %.0fm²", rec.AreaSqm))
	}
	if len(out) == 0 {
		out = append(out, "Standard due diligence required")
	}
	return out
}

func recommendation(propertyType string, score float64) string {
	switch {
	case score >= 85:
		return fmt.Sprintf("URGENT: exceptional %s — schedule site visit within 48 hours", propertyType)
	case score >= 70:
		return "HIGH PRIORITY: strong candidate — request detailed info"
	case score >= 50:
		return "PROMISING: good potential — gather more data"
	default:
		return "CONSIDER: review for specific use cases"
	}
}

func subWeight(g *rubric.Group, name string) float64 {
	for _, s := range g.Sub {
		if s.Name == name {
			return s.Weight
		}
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
