// Package projection reprojects point coordinates between the coordinate
// reference systems used by the registry (EPSG:4326) and the electoral
// section cartography.
//
// CRS values are plain descriptors read from EPSG codes or .prj WKT; the
// coordinate math is delegated to github.com/wroge/wgs84. Supported
// methods are geographic, Web Mercator, Transverse Mercator, Lambert
// Conformal Conic (2SP, and 1SP at unit scale) and Albers Equal Area.
// No Helmert shift is applied: WGS 84 and the ITRF/GRS 80 frames INEGI
// uses agree to well under a metre.
package projection

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pharmacy-density/internal/model"
)

// Method identifies a projection method.
type Method string

const (
	MethodGeographic         Method = "geographic"
	MethodWebMercator        Method = "web_mercator"
	MethodTransverseMercator Method = "transverse_mercator"
	MethodLCC                Method = "lambert_conformal_conic"
	MethodAlbers             Method = "albers_conic_equal_area"
)

// Ellipsoid is a reference ellipsoid given by semi-major axis (metres) and
// inverse flattening. InvF == 0 denotes a sphere.
type Ellipsoid struct {
	Name string
	A    float64
	InvF float64
}

// Eccentricity returns the first eccentricity.
func (e Ellipsoid) Eccentricity() float64 {
	if e.InvF == 0 {
		return 0
	}
	f := 1 / e.InvF
	return math.Sqrt(2*f - f*f)
}

var (
	WGS84 = Ellipsoid{Name: "WGS 84", A: 6378137, InvF: 298.257223563}
	GRS80 = Ellipsoid{Name: "GRS 1980", A: 6378137, InvF: 298.257222101}
)

// utmZone returns zone n of a Transverse Mercator grid on ellipsoid e.
func utmZone(name string, code, zone int, north bool, e Ellipsoid) CRS {
	c := CRS{
		Name:            name,
		EPSG:            code,
		Method:          MethodTransverseMercator,
		Ellipsoid:       e,
		CentralMeridian: float64(zone*6 - 183),
		ScaleFactor:     0.9996,
		FalseEasting:    500000,
		UnitToMeter:     1,
	}
	if !north {
		c.FalseNorthing = 10000000
	}
	return c
}

// CRS describes a coordinate reference system. Angles are in degrees,
// false easting/northing in metres.
type CRS struct {
	Name              string
	EPSG              int
	Method            Method
	Ellipsoid         Ellipsoid
	CentralMeridian   float64
	LatitudeOfOrigin  float64
	StandardParallel1 float64
	StandardParallel2 float64
	ScaleFactor       float64
	FalseEasting      float64
	FalseNorthing     float64
	// UnitToMeter converts one projected unit to metres (1 for metre-based CRSs).
	UnitToMeter float64
}

// IsGeographic reports whether coordinates are longitude/latitude degrees.
func (c CRS) IsGeographic() bool {
	return c.Method == MethodGeographic
}

func (c CRS) String() string {
	switch {
	case c.EPSG != 0 && c.Name != "":
		return fmt.Sprintf("EPSG:%d (%s)", c.EPSG, c.Name)
	case c.EPSG != 0:
		return fmt.Sprintf("EPSG:%d", c.EPSG)
	case c.Name != "":
		return c.Name
	default:
		return string(c.Method)
	}
}

// Equivalent reports whether two CRSs describe the same projection,
// ignoring names and authority codes.
func (c CRS) Equivalent(o CRS) bool {
	if c.Method != o.Method {
		return false
	}
	if c.Method == MethodGeographic {
		return true
	}
	const tol = 1e-9
	near := func(a, b float64) bool { return math.Abs(a-b) <= tol*math.Max(1, math.Abs(a)) }
	return near(c.Ellipsoid.A, o.Ellipsoid.A) &&
		near(c.Ellipsoid.InvF, o.Ellipsoid.InvF) &&
		near(c.CentralMeridian, o.CentralMeridian) &&
		near(c.LatitudeOfOrigin, o.LatitudeOfOrigin) &&
		near(c.StandardParallel1, o.StandardParallel1) &&
		near(c.StandardParallel2, o.StandardParallel2) &&
		near(c.scale(), o.scale()) &&
		near(c.FalseEasting, o.FalseEasting) &&
		near(c.FalseNorthing, o.FalseNorthing) &&
		near(c.unit(), o.unit())
}

func (c CRS) scale() float64 {
	if c.ScaleFactor == 0 {
		return 1
	}
	return c.ScaleFactor
}

// MetersPerUnit is the length of one projected unit in metres.
func (c CRS) MetersPerUnit() float64 {
	return c.unit()
}

func (c CRS) unit() float64 {
	if c.UnitToMeter == 0 {
		return 1
	}
	return c.UnitToMeter
}

// Geographic returns the EPSG:4326 CRS.
func Geographic() CRS {
	return CRS{Name: "WGS 84", EPSG: 4326, Method: MethodGeographic, Ellipsoid: WGS84, UnitToMeter: 1}
}

// MexicoLCC returns the INEGI Lambert Conformal Conic used for national
// cartography (EPSG:6372, Mexico ITRF2008 / LCC).
func MexicoLCC() CRS {
	return CRS{
		Name:              "Mexico ITRF2008 / LCC",
		EPSG:              6372,
		Method:            MethodLCC,
		Ellipsoid:         GRS80,
		CentralMeridian:   -102,
		LatitudeOfOrigin:  12,
		StandardParallel1: 17.5,
		StandardParallel2: 29.5,
		ScaleFactor:       1,
		FalseEasting:      2500000,
		UnitToMeter:       1,
	}
}

// FromEPSG returns a known CRS by EPSG code.
func FromEPSG(code int) (CRS, error) {
	switch code {
	case 4326:
		return Geographic(), nil
	case 6365:
		return CRS{Name: "Mexico ITRF2008", EPSG: 6365, Method: MethodGeographic, Ellipsoid: GRS80, UnitToMeter: 1}, nil
	case 3857:
		return CRS{
			Name:        "WGS 84 / Pseudo-Mercator",
			EPSG:        3857,
			Method:      MethodWebMercator,
			Ellipsoid:   WGS84,
			ScaleFactor: 1,
			UnitToMeter: 1,
		}, nil
	case 6372:
		return MexicoLCC(), nil
	case 6362:
		c := MexicoLCC()
		c.Name = "Mexico ITRF92 / LCC"
		c.EPSG = 6362
		return c, nil
	}
	switch {
	case code >= 6366 && code <= 6371:
		zone := code - 6366 + 11
		return utmZone(fmt.Sprintf("Mexico ITRF2008 / UTM zone %dN", zone), code, zone, true, GRS80), nil
	case code >= 32601 && code <= 32660:
		zone := code - 32600
		return utmZone(fmt.Sprintf("WGS 84 / UTM zone %dN", zone), code, zone, true, WGS84), nil
	case code >= 32701 && code <= 32760:
		zone := code - 32700
		return utmZone(fmt.Sprintf("WGS 84 / UTM zone %dS", zone), code, zone, false, WGS84), nil
	}
	return CRS{}, eris.Wrapf(model.ErrUnsupportedCRS, "projection: EPSG:%d", code)
}

// ParseWKT reads a WKT1 (OGC or ESRI .prj) definition.
func ParseWKT(src string) (CRS, error) {
	root, err := parseWKT(strings.TrimSpace(src))
	if err != nil {
		return CRS{}, eris.Wrap(err, "projection: parse wkt")
	}

	switch root.Keyword {
	case "GEOGCS":
		c := CRS{Name: root.str(0), Method: MethodGeographic, Ellipsoid: ellipsoidOf(root), UnitToMeter: 1}
		c.EPSG = authorityOf(root)
		return c, nil
	case "PROJCS":
		return parseProjected(root)
	default:
		return CRS{}, eris.Wrapf(model.ErrUnsupportedCRS, "projection: wkt root %s", root.Keyword)
	}
}

func parseProjected(root *node) (CRS, error) {
	c := CRS{
		Name:        root.str(0),
		EPSG:        authorityOf(root),
		ScaleFactor: 1,
		UnitToMeter: 1,
	}
	if geog := root.child("GEOGCS"); geog != nil {
		c.Ellipsoid = ellipsoidOf(geog)
	} else {
		c.Ellipsoid = WGS84
	}
	if u := root.child("UNIT"); u != nil {
		if v, ok := u.num(1); ok && v > 0 {
			c.UnitToMeter = v
		}
	}

	params := map[string]float64{}
	for _, p := range root.children("PARAMETER") {
		if v, ok := p.num(1); ok {
			params[normalizeName(p.str(0))] = v
		}
	}
	lookup := func(def float64, names ...string) float64 {
		for _, n := range names {
			if v, ok := params[n]; ok {
				return v
			}
		}
		return def
	}

	c.CentralMeridian = lookup(0, "central_meridian", "longitude_of_origin", "longitude_of_center", "longitude_of_natural_origin")
	c.LatitudeOfOrigin = lookup(0, "latitude_of_origin", "latitude_of_center", "latitude_of_natural_origin")
	c.FalseEasting = lookup(0, "false_easting") * c.UnitToMeter
	c.FalseNorthing = lookup(0, "false_northing") * c.UnitToMeter
	c.ScaleFactor = lookup(1, "scale_factor", "scale_factor_at_natural_origin")

	var method string
	if p := root.child("PROJECTION"); p != nil {
		method = normalizeName(p.str(0))
	}

	switch method {
	case "lambert_conformal_conic", "lambert_conformal_conic_2sp":
		c.Method = MethodLCC
		c.StandardParallel1 = lookup(c.LatitudeOfOrigin, "standard_parallel_1", "latitude_of_1st_standard_parallel")
		c.StandardParallel2 = lookup(c.StandardParallel1, "standard_parallel_2", "latitude_of_2nd_standard_parallel")
	case "lambert_conformal_conic_1sp":
		c.Method = MethodLCC
		c.StandardParallel1 = c.LatitudeOfOrigin
		c.StandardParallel2 = c.LatitudeOfOrigin
	case "mercator_auxiliary_sphere", "popular_visualisation_pseudo_mercator":
		c.Method = MethodWebMercator
	case "transverse_mercator", "gauss_kruger":
		c.Method = MethodTransverseMercator
	case "albers", "albers_conic_equal_area", "albers_equal_area":
		c.Method = MethodAlbers
		c.StandardParallel1 = lookup(c.LatitudeOfOrigin, "standard_parallel_1", "latitude_of_1st_standard_parallel")
		c.StandardParallel2 = lookup(c.StandardParallel1, "standard_parallel_2", "latitude_of_2nd_standard_parallel")
	default:
		return CRS{}, eris.Wrapf(model.ErrUnsupportedCRS, "projection: method %q", method)
	}
	return c, nil
}

func ellipsoidOf(geog *node) Ellipsoid {
	datum := geog.child("DATUM")
	if datum == nil {
		return WGS84
	}
	sph := datum.child("SPHEROID")
	if sph == nil {
		sph = datum.child("ELLIPSOID")
	}
	if sph == nil {
		return WGS84
	}
	a, okA := sph.num(1)
	invf, okF := sph.num(2)
	if !okA || !okF || a <= 0 {
		return WGS84
	}
	return Ellipsoid{Name: sph.str(0), A: a, InvF: invf}
}

func authorityOf(n *node) int {
	auth := n.child("AUTHORITY")
	if auth == nil || !strings.EqualFold(auth.str(0), "EPSG") {
		return 0
	}
	var code int
	if _, err := fmt.Sscanf(auth.str(1), "%d", &code); err != nil {
		if v, ok := auth.num(1); ok {
			return int(v)
		}
		return 0
	}
	return code
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
