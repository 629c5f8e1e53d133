package model

// BusinessRecord is a single establishment from the business registry (DENUE).
// A record whose activity matches the pharmacy keyword is treated as a pharmacy;
// there is no separate type for the filtered subset.
type BusinessRecord struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	ActivityName     string  `json:"activity_name"`
	Longitude        float64 `json:"longitude"`
	Latitude         float64 `json:"latitude"`
	StateCode        int     `json:"state_code"`
	MunicipalityCode int     `json:"municipality_code"`
}

// Coord returns the record's position as an (x, y) pair.
func (b BusinessRecord) Coord() (float64, float64) {
	return b.Longitude, b.Latitude
}
