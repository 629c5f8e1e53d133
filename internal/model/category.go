package model

import "strings"

// DensityCategory is an ordinal bucket produced by three-bin equal-width classification.
type DensityCategory int

const (
	Unclassified DensityCategory = iota
	Low
	Medium
	High
)

var categoryNames = map[DensityCategory]string{
	Unclassified: "NA",
	Low:          "Low",
	Medium:       "Medium",
	High:         "High",
}

func (c DensityCategory) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return "NA"
}

// ParseDensityCategory is the inverse of String. Unknown names map to Unclassified.
func ParseDensityCategory(s string) DensityCategory {
	for c, name := range categoryNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return c
		}
	}
	return Unclassified
}

// BivariateCategory combines two independent density categories.
type BivariateCategory struct {
	X DensityCategory `json:"x"`
	Y DensityCategory `json:"y"`
}

// Label renders the category as "X.Y", e.g. "Medium.High".
func (b BivariateCategory) Label() string {
	return b.X.String() + "." + b.Y.String()
}

// Valid reports whether both dimensions were classified.
func (b BivariateCategory) Valid() bool {
	return b.X != Unclassified && b.Y != Unclassified
}

// ParseBivariateLabel parses an "X.Y" label.
func ParseBivariateLabel(label string) (BivariateCategory, bool) {
	x, y, ok := strings.Cut(label, ".")
	if !ok {
		return BivariateCategory{}, false
	}
	b := BivariateCategory{X: ParseDensityCategory(x), Y: ParseDensityCategory(y)}
	return b, b.Valid()
}
