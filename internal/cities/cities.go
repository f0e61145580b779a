// Package cities holds the fixed registry of tracked cities.
package cities

import (
	"fmt"
	"sort"
	"strings"

	"github.com/i474232898/disease-trend-forecast/internal/trend"
)

// City is a registry entry.
type City struct {
	Name  string  `json:"city"`
	State string  `json:"state"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

// Registry resolves city names case-insensitively.
type Registry struct {
	byName map[string]City
	cities []City
}

// NewRegistry builds a registry from the given entries. Later duplicates win.
func NewRegistry(entries []City) *Registry {
	r := &Registry{byName: make(map[string]City, len(entries))}
	for _, c := range entries {
		r.byName[strings.ToLower(strings.TrimSpace(c.Name))] = c
	}
	for _, c := range r.byName {
		r.cities = append(r.cities, c)
	}
	sort.Slice(r.cities, func(i, j int) bool { return r.cities[i].Name < r.cities[j].Name })
	return r
}

// Lookup returns the entry for name or an error wrapping trend.ErrUnknownCity.
func (r *Registry) Lookup(name string) (City, error) {
	c, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return City{}, fmt.Errorf("%w: %q", trend.ErrUnknownCity, name)
	}
	return c, nil
}

// Key resolves city and disease into a canonical SeriesKey.
func (r *Registry) Key(city, disease string) (trend.SeriesKey, error) {
	c, err := r.Lookup(city)
	if err != nil {
		return trend.SeriesKey{}, err
	}
	return trend.SeriesKey{City: c.Name, Disease: trend.NormalizeDisease(disease)}, nil
}

// All returns every city sorted by name.
func (r *Registry) All() []City {
	out := make([]City, len(r.cities))
	copy(out, r.cities)
	return out
}

// Default returns the built-in registry of Indian cities.
func Default() *Registry {
	return NewRegistry(indianCities)
}

var indianCities = []City{
	{"New Delhi", "Delhi", 28.6139, 77.2090},
	{"Mumbai", "Maharashtra", 19.0760, 72.8777},
	{"Bengaluru", "Karnataka", 12.9716, 77.5946},
	{"Kolkata", "West Bengal", 22.5726, 88.3639},
	{"Chennai", "Tamil Nadu", 13.0827, 80.2707},
	{"Hyderabad", "Telangana", 17.3850, 78.4867},
	{"Pune", "Maharashtra", 18.5204, 73.8567},
	{"Ahmedabad", "Gujarat", 23.0225, 72.5714},
	{"Surat", "Gujarat", 21.1702, 72.8311},
	{"Jaipur", "Rajasthan", 26.9124, 75.7873},
	{"Lucknow", "Uttar Pradesh", 26.8467, 80.9462},
	{"Bhopal", "Madhya Pradesh", 23.2599, 77.4126},
	{"Patna", "Bihar", 25.5941, 85.1376},
	{"Kochi", "Kerala", 9.9312, 76.2673},
	{"Visakhapatnam", "Andhra Pradesh", 17.6868, 83.2185},
	{"Vadodara", "Gujarat", 22.3072, 73.1812},
	{"Indore", "Madhya Pradesh", 22.7196, 75.8577},
	{"Nagpur", "Maharashtra", 21.1458, 79.0882},
	{"Thiruvananthapuram", "Kerala", 8.5241, 76.9366},
	{"Ranchi", "Jharkhand", 23.3441, 85.3096},
	{"Guwahati", "Assam", 26.1445, 91.7362},
	{"Dehradun", "Uttarakhand", 30.3165, 78.0322},
	{"Chandigarh", "Chandigarh", 30.7333, 76.7794},
	{"Amritsar", "Punjab", 31.6340, 74.8723},
	{"Jodhpur", "Rajasthan", 26.2389, 73.0243},
	{"Raipur", "Chhattisgarh", 21.2514, 81.6296},
	{"Mysore", "Karnataka", 12.2958, 76.6394},
	{"Mangalore", "Karnataka", 12.9141, 74.8560},
	{"Coimbatore", "Tamil Nadu", 11.0168, 76.9558},
	{"Bhubaneswar", "Odisha", 20.2961, 85.8245},
}
