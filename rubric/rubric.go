package rubric

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v2"

	"estate-scout/models"
)

const weightTolerance = 1e-6

// SubCriterion is one weighted sub-score inside a criterion group.
type SubCriterion struct {
	Name   string  `yaml:"name"`
	Weight float64 `yaml:"weight"`
}

// Group is a named criterion group with its weight and scoring parameters.
// Only the parameters relevant to the group's scoring function are set;
// the rest stay at their zero value.
type Group struct {
	Name   string         `yaml:"name"`
	Weight float64        `yaml:"weight"`
	Sub    []SubCriterion `yaml:"sub_criteria"`

	// geographic
	PreferredLocations []string `yaml:"preferred_locations,omitempty"`
	CoastDecayKm       float64  `yaml:"coast_decay_km,omitempty"`

	// land / space (square metres)
	MinLand     float64 `yaml:"min_land,omitempty"`
	OptimalLand float64 `yaml:"optimal_land,omitempty"`
	MaxLand     float64 `yaml:"max_land,omitempty"`
	FalloffSqm  float64 `yaml:"falloff_sqm,omitempty"`

	// architectural
	BaseScore     float64 `yaml:"base_score,omitempty"`
	HistoricBonus float64 `yaml:"historic_bonus,omitempty"`
	MasseriaBonus float64 `yaml:"masseria_bonus,omitempty"`

	// regulatory: zoning keyword -> sub-score lookup
	ZoningScores map[string]float64 `yaml:"zoning_scores,omitempty"`

	// financial (euro)
	MinPrice     float64 `yaml:"min_price,omitempty"`
	OptimalPrice float64 `yaml:"optimal_price,omitempty"`
	MaxPrice     float64 `yaml:"max_price,omitempty"`
}

// Rubric is the ordered weighted criteria configuration driving evaluation.
type Rubric struct {
	Groups []Group `yaml:"groups"`
}

// Group returns the named group, or nil if absent.
func (r *Rubric) Group(name string) *Group {
	for i := range r.Groups {
		if r.Groups[i].Name == name {
			return &r.Groups[i]
		}
	}
	return nil
}

// Validate checks the weight invariants. Group weights must sum to 1.0 and
// every group's sub-criteria weights must sum to 1.0 (both ±1e-6).
// A rubric that fails validation is a fatal configuration error.
func (r *Rubric) Validate() error {
	if len(r.Groups) == 0 {
		return &models.InvalidRubricError{Reason: "no criterion groups defined"}
	}

	var total float64
	seen := make(map[string]struct{}, len(r.Groups))
	for _, g := range r.Groups {
		if g.Name == "" {
			return &models.InvalidRubricError{Reason: "group with empty name"}
		}
		if _, dup := seen[g.Name]; dup {
			return &models.InvalidRubricError{Reason: fmt.Sprintf("duplicate group %q", g.Name)}
		}
		seen[g.Name] = struct{}{}

		if g.Weight < 0 || g.Weight > 1 {
			return &models.InvalidRubricError{
				Reason: fmt.Sprintf("group %q weight %.4f outside [0,1]", g.Name, g.Weight),
			}
		}
		total += g.Weight

		if len(g.Sub) > 0 {
			var subTotal float64
			for _, s := range g.Sub {
				if s.Weight < 0 || s.Weight > 1 {
					return &models.InvalidRubricError{
						Reason: fmt.Sprintf("group %q sub-criterion %q weight %.4f outside [0,1]", g.Name, s.Name, s.Weight),
					}
				}
				subTotal += s.Weight
			}
			if math.Abs(subTotal-1.0) > weightTolerance {
				return &models.InvalidRubricError{
					Reason: fmt.Sprintf("group %q sub-criteria weights sum to %.6f, want 1.0", g.Name, subTotal),
				}
			}
		}
	}

	if math.Abs(total-1.0) > weightTolerance {
		return &models.InvalidRubricError{
			Reason: fmt.Sprintf("group weights sum to %.6f, want 1.0", total),
		}
	}
	return nil
}

// Parse decodes and validates a YAML rubric document.
func Parse(data []byte) (*Rubric, error) {
	r := &Rubric{}
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, &models.InvalidRubricError{Reason: "yaml: " + err.Error()}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Load reads and validates a YAML rubric file.
func Load(path string) (*Rubric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rubric: read %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the built-in acquisition rubric for the Puglia search.
func Default() *Rubric {
	return &Rubric{
		Groups: []Group{
			{
				Name:   "geographic",
				Weight: 0.30,
				Sub: []SubCriterion{
					{Name: "preferred_location", Weight: 0.4},
					{Name: "sea_view", Weight: 0.4},
					{Name: "coast_proximity", Weight: 0.2},
				},
				PreferredLocations: []string{"Monopoli", "Polignano a Mare", "Fasano", "Ostuni"},
				CoastDecayKm:       20,
			},
			{
				Name:        "land_space",
				Weight:      0.25,
				Sub:         []SubCriterion{{Name: "land_range", Weight: 1.0}},
				MinLand:     8000,
				OptimalLand: 10000,
				MaxLand:     12000,
				FalloffSqm:  6000,
			},
			{
				Name:          "architectural",
				Weight:        0.15,
				Sub:           []SubCriterion{{Name: "character", Weight: 1.0}},
				BaseScore:     0.70,
				HistoricBonus: 0.15,
				MasseriaBonus: 0.15,
			},
			{
				Name:      "infrastructure",
				Weight:    0.15,
				Sub:       []SubCriterion{{Name: "access", Weight: 1.0}},
				BaseScore: 0.75,
			},
			{
				Name:   "regulatory",
				Weight: 0.10,
				Sub:    []SubCriterion{{Name: "zoning", Weight: 1.0}},
				ZoningScores: map[string]float64{
					"residential":  0.90,
					"agricultural": 0.80,
					"unclassified": 0.65,
					"protected":    0.30,
				},
			},
			{
				Name:         "financial",
				Weight:       0.05,
				Sub:          []SubCriterion{{Name: "price_band", Weight: 1.0}},
				MinPrice:     800000,
				OptimalPrice: 1250000,
				MaxPrice:     1500000,
			},
		},
	}
}
