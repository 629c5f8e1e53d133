package projection

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/wroge/wgs84"

	"github.com/sells-group/pharmacy-density/internal/model"
)

// Transformer converts coordinates between two CRSs. Points pass through
// geocentric coordinates, so differing ellipsoids are honoured but no
// Helmert shift is applied. It is safe for concurrent use.
type Transformer struct {
	src, dst   CRS
	forward    wgs84.Func
	inverse    wgs84.Func
	isIdentity bool
}

// NewTransformer returns a Transformer from src to dst.
func NewTransformer(src, dst CRS) (*Transformer, error) {
	from, err := src.system()
	if err != nil {
		return nil, err
	}
	to, err := dst.system()
	if err != nil {
		return nil, err
	}
	return &Transformer{
		src:        src,
		dst:        dst,
		forward:    wgs84.Transform(from, to),
		inverse:    wgs84.Transform(to, from),
		isIdentity: src.Equivalent(dst),
	}, nil
}

// Source returns the input CRS.
func (t *Transformer) Source() CRS { return t.src }

// Target returns the output CRS.
func (t *Transformer) Target() CRS { return t.dst }

// Identity reports whether source and target describe the same CRS.
func (t *Transformer) Identity() bool { return t.isIdentity }

// Forward converts a coordinate from the source CRS to the target CRS.
func (t *Transformer) Forward(x, y float64) (float64, float64, error) {
	return convert(t.forward, t.src, t.dst, t.isIdentity, x, y)
}

// Inverse converts a coordinate from the target CRS back to the source CRS.
func (t *Transformer) Inverse(x, y float64) (float64, float64, error) {
	return convert(t.inverse, t.dst, t.src, t.isIdentity, x, y)
}

func convert(fn wgs84.Func, from, to CRS, identity bool, x, y float64) (float64, float64, error) {
	if !finite(x) || !finite(y) {
		return 0, 0, eris.Wrapf(model.ErrBadCoordinate, "projection: non-finite input (%v, %v)", x, y)
	}
	if identity {
		return x, y, nil
	}
	if from.IsGeographic() {
		if err := checkLonLat(x, y); err != nil {
			return 0, 0, err
		}
		if to.Method == MethodWebMercator && math.Abs(y) >= maxMercatorLat {
			return 0, 0, eris.Wrapf(model.ErrBadCoordinate, "projection: latitude %v has no mercator image", y)
		}
	}

	fromUnit, toUnit := from.unit(), to.unit()
	if from.IsGeographic() {
		fromUnit = 1
	}
	if to.IsGeographic() {
		toUnit = 1
	}
	ox, oy, _ := fn(x*fromUnit, y*fromUnit, 0)
	ox, oy = ox/toUnit, oy/toUnit
	if !finite(ox) || !finite(oy) {
		return 0, 0, eris.Wrapf(model.ErrBadCoordinate, "projection: (%v, %v) has no image in %s", x, y, to)
	}
	if to.IsGeographic() {
		ox = normalizeLon(ox)
	}
	return ox, oy, nil
}

// maxMercatorLat is where Web Mercator northings leave the square world
// extent of EPSG:3857.
const maxMercatorLat = 85.06

// ReprojectRecords returns copies of records with Longitude/Latitude
// replaced by coordinates in the target CRS. The input slice is not
// modified.
func ReprojectRecords(records []model.BusinessRecord, t *Transformer) ([]model.BusinessRecord, error) {
	out := make([]model.BusinessRecord, len(records))
	for i, r := range records {
		x, y, err := t.Forward(r.Longitude, r.Latitude)
		if err != nil {
			return nil, eris.Wrapf(err, "projection: record %s", r.ID)
		}
		r.Longitude, r.Latitude = x, y
		out[i] = r
	}
	return out, nil
}

// ReprojectGeometry returns a copy of mp with every vertex transformed.
func ReprojectGeometry(mp *geom.MultiPolygon, t *Transformer) (*geom.MultiPolygon, error) {
	out := mp.Clone()
	if t.Identity() {
		return out, nil
	}
	flat := out.FlatCoords()
	stride := out.Stride()
	for i := 0; i+1 < len(flat); i += stride {
		x, y, err := t.Forward(flat[i], flat[i+1])
		if err != nil {
			return nil, err
		}
		flat[i], flat[i+1] = x, y
	}
	return out, nil
}

// system builds the wgs84 reference system for c. Distances handed to
// wgs84 are always metres; convert scales by UnitToMeter.
func (c CRS) system() (wgs84.CoordinateReferenceSystem, error) {
	e := c.Ellipsoid
	if e.A == 0 {
		e = WGS84
	}
	if e.InvF == 0 {
		if c.Method != MethodWebMercator {
			return nil, eris.Wrapf(model.ErrUnsupportedCRS, "projection: spherical datum for %s", c)
		}
		// Web Mercator applies spherical formulas to ellipsoidal coordinates.
		e = WGS84
	}
	datum := wgs84.Datum{Spheroid: spheroid{a: e.A, fi: e.InvF}}

	switch c.Method {
	case MethodGeographic:
		return datum.LonLat(), nil
	case MethodWebMercator:
		if c.CentralMeridian != 0 || c.FalseEasting != 0 || c.FalseNorthing != 0 {
			return nil, eris.Wrapf(model.ErrUnsupportedCRS, "projection: offset web mercator %s", c)
		}
		return datum.WebMercator(), nil
	case MethodTransverseMercator:
		return datum.TransverseMercator(c.CentralMeridian, c.LatitudeOfOrigin, c.scale(), c.FalseEasting, c.FalseNorthing), nil
	case MethodLCC:
		if math.Abs(c.scale()-1) > 1e-12 {
			return nil, eris.Wrapf(model.ErrUnsupportedCRS, "projection: scaled lambert conic %s", c)
		}
		sp1, sp2 := c.StandardParallel1, c.StandardParallel2
		if sp1 == 0 && sp2 == 0 {
			sp1, sp2 = c.LatitudeOfOrigin, c.LatitudeOfOrigin
		}
		if sp1 == 0 && sp2 == 0 {
			return nil, eris.Wrapf(model.ErrUnsupportedCRS, "projection: degenerate conic for %s", c)
		}
		return datum.LambertConformalConic2SP(c.CentralMeridian, c.LatitudeOfOrigin, sp1, sp2, c.FalseEasting, c.FalseNorthing), nil
	case MethodAlbers:
		return datum.AlbersEqualAreaConic(c.CentralMeridian, c.LatitudeOfOrigin, c.StandardParallel1, c.StandardParallel2, c.FalseEasting, c.FalseNorthing), nil
	default:
		return nil, eris.Wrapf(model.ErrUnsupportedCRS, "projection: method %q", c.Method)
	}
}

// spheroid adapts an Ellipsoid to wgs84.Spheroid.
type spheroid struct {
	a, fi float64
}

func (s spheroid) A() float64  { return s.a }
func (s spheroid) Fi() float64 { return s.fi }

func checkLonLat(lon, lat float64) error {
	if !finite(lon) || !finite(lat) || math.Abs(lon) > 180 || math.Abs(lat) > 90 {
		return eris.Wrapf(model.ErrBadCoordinate, "projection: (%v, %v) outside geographic range", lon, lat)
	}
	return nil
}

func normalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
