// Package spatial assigns points to section polygons and measures section
// areas.
package spatial

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
)

// SquareMetresPerKM2 converts projected areas to km².
const SquareMetresPerKM2 = 1e6

// Area returns the planar area of mp in squared CRS units. Holes are
// subtracted regardless of ring orientation.
func Area(mp *geom.MultiPolygon) float64 {
	if mp == nil {
		return 0
	}
	var total float64
	for i := 0; i < mp.NumPolygons(); i++ {
		total += polygonArea(mp.Polygon(i))
	}
	return total
}

// AreaKM2 returns Area in km² for a metre-based CRS.
func AreaKM2(mp *geom.MultiPolygon) float64 {
	return Area(mp) / SquareMetresPerKM2
}

func polygonArea(p *geom.Polygon) float64 {
	var a float64
	for r := 0; r < p.NumLinearRings(); r++ {
		ra := math.Abs(p.LinearRing(r).Area())
		if r == 0 {
			a += ra
		} else {
			a -= ra
		}
	}
	return math.Max(a, 0)
}

// Contains reports whether c lies inside mp. Points on an exterior
// boundary count as inside; points strictly inside a hole do not.
func Contains(mp *geom.MultiPolygon, c geom.Coord) bool {
	if mp == nil {
		return false
	}
	for i := 0; i < mp.NumPolygons(); i++ {
		if polygonContains(mp.Polygon(i), c) {
			return true
		}
	}
	return false
}

func polygonContains(p *geom.Polygon, c geom.Coord) bool {
	if p.NumLinearRings() == 0 {
		return false
	}
	if !xy.IsPointInRing(geom.XY, c, p.LinearRing(0).FlatCoords()) {
		return false
	}
	for r := 1; r < p.NumLinearRings(); r++ {
		if xy.LocatePointInRing(geom.XY, c, p.LinearRing(r).FlatCoords()) == location.Interior {
			return false
		}
	}
	return true
}
