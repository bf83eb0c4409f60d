package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Location is one entry in the target-location gazetteer.
type Location struct {
	Name     string  `yaml:"name"`
	Province string  `yaml:"province"`
	CoastKm  float64 `yaml:"coast_km"`
}

// Scopes is the fixed search-scope configuration: the target locations and
// the hard cap on listings per (source, location) unit.
type Scopes struct {
	Locations             []Location `yaml:"locations"`
	MaxPropertiesPerScope int        `yaml:"max_properties_per_scope"`

	// Test mode narrows the search to a small subset with a low cap.
	TestLocations     []string `yaml:"test_locations"`
	TestMaxProperties int      `yaml:"test_max_properties"`
}

// LoadScopes reads the scope YAML document, falling back to the built-in
// Puglia search when no path is configured.
func LoadScopes(path string) (*Scopes, error) {
	if path == "" {
		return DefaultScopes(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scopes: read %s: %w", path, err)
	}
	s := &Scopes{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("scopes: parse %s: %w", path, err)
	}
	if len(s.Locations) == 0 {
		return nil, fmt.Errorf("scopes: %s defines no locations", path)
	}
	if s.MaxPropertiesPerScope <= 0 {
		s.MaxPropertiesPerScope = 50
	}
	return s, nil
}

// Active returns the location list and per-scope cap that apply for the
// given mode.
func (s *Scopes) Active(testMode bool) ([]Location, int) {
	if !testMode || len(s.TestLocations) == 0 {
		return s.Locations, s.MaxPropertiesPerScope
	}
	byName := make(map[string]Location, len(s.Locations))
	for _, l := range s.Locations {
		byName[l.Name] = l
	}
	var out []Location
	for _, name := range s.TestLocations {
		if l, ok := byName[name]; ok {
			out = append(out, l)
		}
	}
	cap := s.TestMaxProperties
	if cap <= 0 {
		cap = 5
	}
	return out, cap
}

// DefaultScopes returns the built-in Puglia gazetteer.
func DefaultScopes() *Scopes {
	return &Scopes{
		Locations: []Location{
			{Name: "Monopoli", Province: "Bari", CoastKm: 0.5},
			{Name: "Polignano a Mare", Province: "Bari", CoastKm: 0.3},
			{Name: "Fasano", Province: "Brindisi", CoastKm: 7},
			{Name: "Ostuni", Province: "Brindisi", CoastKm: 8},
			{Name: "Savelletri", Province: "Brindisi", CoastKm: 0.2},
			{Name: "Conversano", Province: "Bari", CoastKm: 9},
			{Name: "Carovigno", Province: "Brindisi", CoastKm: 6},
			{Name: "Castellana Grotte", Province: "Bari", CoastKm: 12},
			{Name: "Alberobello", Province: "Bari", CoastKm: 18},
			{Name: "Locorotondo", Province: "Bari", CoastKm: 16},
			{Name: "Cisternino", Province: "Brindisi", CoastKm: 13},
			{Name: "Selva di Fasano", Province: "Brindisi", CoastKm: 9},
		},
		MaxPropertiesPerScope: 50,
		TestLocations:         []string{"Monopoli"},
		TestMaxProperties:     5,
	}
}
