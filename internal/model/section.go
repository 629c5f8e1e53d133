package model

import (
	"fmt"
	"math"

	"github.com/twpayne/go-geom"
)

// SectionKey is the composite identity of an electoral section.
type SectionKey struct {
	State        int `json:"state"`
	Municipality int `json:"municipality"`
	Section      int `json:"section"`
}

// String renders the key as EE-MMM-SSSS.
func (k SectionKey) String() string {
	return fmt.Sprintf("%02d-%03d-%04d", k.State, k.Municipality, k.Section)
}

// SectionPolygon is one electoral-section boundary with its raw shapefile attributes.
type SectionPolygon struct {
	Key        SectionKey         `json:"key"`
	Geometry   *geom.MultiPolygon `json:"-"`
	Attributes map[string]string  `json:"attributes,omitempty"`
}

// CensusRow holds the demographic fields for one section. Null values are
// absent from Fields.
type CensusRow struct {
	Key    SectionKey         `json:"key"`
	Fields map[string]float64 `json:"fields"`
}

// EnrichedSection is a section polygon joined with its census row.
// Census is nil when the section had no census match.
type EnrichedSection struct {
	SectionPolygon
	Census map[string]float64 `json:"census,omitempty"`
	// Area is in the squared length unit of the section CRS, or km² when
	// the pipeline converted it.
	Area float64 `json:"area"`
}

// Value returns a census field and whether it is present.
func (e EnrichedSection) Value(field string) (float64, bool) {
	if e.Census == nil {
		return 0, false
	}
	v, ok := e.Census[field]
	return v, ok
}

// Ratio returns field / Area, or NaN when the field is null or the area is zero.
func (e EnrichedSection) Ratio(field string) float64 {
	v, ok := e.Value(field)
	if !ok || e.Area <= 0 {
		return math.NaN()
	}
	return v / e.Area
}

// SectionWithCount is an enriched section with the number of pharmacies it contains.
type SectionWithCount struct {
	EnrichedSection
	Count int `json:"count"`
}

// Density returns Count / Area, or NaN for a zero area.
func (s SectionWithCount) Density() float64 {
	if s.Area <= 0 {
		return math.NaN()
	}
	return float64(s.Count) / s.Area
}

// PerPopulation returns the count per `per` inhabitants using the given
// population field, or NaN when the population is null or zero.
func (s SectionWithCount) PerPopulation(field string, per float64) float64 {
	pop, ok := s.Value(field)
	if !ok || pop <= 0 {
		return math.NaN()
	}
	return float64(s.Count) / pop * per
}

// SectionResult is a counted section with its derived metrics and
// bivariate class for one run. Metrics holds NaN for undefined ratios.
type SectionResult struct {
	SectionWithCount
	Metrics  map[string]float64 `json:"metrics"`
	Category BivariateCategory  `json:"category"`
}
