package inat

import "time"

// Observation is the raw wire shape of one observation record. Location data
// arrives in up to three redundant forms; extraction order lives in the sync
// package.
type Observation struct {
	ID           int64    `json:"id"`
	SpeciesGuess string   `json:"species_guess,omitempty"`
	Taxon        *Taxon   `json:"taxon,omitempty"`
	ObservedOn   string   `json:"observed_on"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
	QualityGrade string   `json:"quality_grade"`
	Photos       []Photo  `json:"photos,omitempty"`
	Geojson      *Geojson `json:"geojson,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Location     string   `json:"location,omitempty"`
	PlaceGuess   string   `json:"place_guess,omitempty"`
}

// Geojson carries a point geometry. Coordinates are ordered
// (longitude, latitude).
type Geojson struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

type Taxon struct {
	ID                  int64  `json:"id"`
	Name                string `json:"name"`
	Rank                string `json:"rank,omitempty"`
	PreferredCommonName string `json:"preferred_common_name,omitempty"`
	IconicTaxonName     string `json:"iconic_taxon_name,omitempty"`
	ObservationsCount   int64  `json:"observations_count,omitempty"`
}

type Photo struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

var observedOnFormats = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
}

// ObservedOnTime parses the observed_on field, which the API returns either
// as a bare date or a full timestamp. Zero time when unparseable.
func (o Observation) ObservedOnTime() time.Time {
	for _, layout := range observedOnFormats {
		if t, err := time.Parse(layout, o.ObservedOn); err == nil {
			return t
		}
	}
	return time.Time{}
}

// UpdatedAtTime parses the updated_at timestamp. Zero time when absent.
func (o Observation) UpdatedAtTime() time.Time {
	t, err := time.Parse(time.RFC3339, o.UpdatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}
