package projection

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/pharmacy-density/internal/model"
)

const ineSectionPrj = `PROJCS["MEXICO_ITRF_2008_LCC",GEOGCS["GCS_ITRF_2008",` +
	`DATUM["D_ITRF_2008",SPHEROID["GRS_1980",6378137.0,298.257222101]],` +
	`PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],` +
	`PROJECTION["Lambert_Conformal_Conic"],PARAMETER["False_Easting",2500000.0],` +
	`PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",-102.0],` +
	`PARAMETER["Standard_Parallel_1",17.5],PARAMETER["Standard_Parallel_2",29.5],` +
	`PARAMETER["Latitude_Of_Origin",12.0],UNIT["Meter",1.0]]`

func TestParseWKTProjected(t *testing.T) {
	c, err := ParseWKT(ineSectionPrj)
	require.NoError(t, err)

	assert.Equal(t, MethodLCC, c.Method)
	assert.Equal(t, "MEXICO_ITRF_2008_LCC", c.Name)
	assert.Equal(t, "GRS_1980", c.Ellipsoid.Name)
	assert.InDelta(t, 298.257222101, c.Ellipsoid.InvF, 1e-12)
	assert.InDelta(t, -102.0, c.CentralMeridian, 1e-12)
	assert.InDelta(t, 12.0, c.LatitudeOfOrigin, 1e-12)
	assert.InDelta(t, 17.5, c.StandardParallel1, 1e-12)
	assert.InDelta(t, 29.5, c.StandardParallel2, 1e-12)
	assert.InDelta(t, 2500000.0, c.FalseEasting, 1e-6)
	assert.InDelta(t, 1.0, c.UnitToMeter, 1e-12)
	assert.True(t, c.Equivalent(MexicoLCC()))
}

func TestParseWKTGeographic(t *testing.T) {
	src := `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,` +
		`AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0],` +
		`UNIT["degree",0.0174532925199433],AUTHORITY["EPSG","4326"]]`
	c, err := ParseWKT(src)
	require.NoError(t, err)
	assert.True(t, c.IsGeographic())
	assert.Equal(t, 4326, c.EPSG)
	assert.Equal(t, "EPSG:4326 (WGS 84)", c.String())
}

func TestParseWKTWebMercator(t *testing.T) {
	src := `PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere",GEOGCS["GCS_WGS_1984",` +
		`DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],` +
		`PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],` +
		`PROJECTION["Mercator_Auxiliary_Sphere"],PARAMETER["False_Easting",0.0],` +
		`PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",0.0],` +
		`PARAMETER["Standard_Parallel_1",0.0],PARAMETER["Auxiliary_Sphere_Type",0.0],UNIT["Meter",1.0]]`
	c, err := ParseWKT(src)
	require.NoError(t, err)
	assert.Equal(t, MethodWebMercator, c.Method)

	want, err := FromEPSG(3857)
	require.NoError(t, err)
	assert.True(t, c.Equivalent(want))
}

func TestParseWKTErrors(t *testing.T) {
	tests := []struct {
		name        string
		src         string
		unsupported bool
	}{
		{"empty", "", false},
		{"unterminated", `GEOGCS["WGS 84"`, false},
		{"trailing", `GEOGCS["a"] junk`, false},
		{"bad string", `GEOGCS["a`, false},
		{"polyconic", `PROJCS["Brazil Polyconic",GEOGCS["SIRGAS 2000"],PROJECTION["Polyconic"]]`, true},
		{"ellipsoidal mercator", `PROJCS["World Mercator",GEOGCS["WGS 84"],PROJECTION["Mercator_1SP"]]`, true},
		{"geocentric", `GEOCCS["ECEF"]`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWKT(tt.src)
			require.Error(t, err)
			assert.Equal(t, tt.unsupported, errors.Is(err, model.ErrUnsupportedCRS))
		})
	}
}

func TestParseWKTQuotedQuote(t *testing.T) {
	c, err := ParseWKT(`GEOGCS["say ""hi""",DATUM["d",SPHEROID["s",6378137,0]]]`)
	require.NoError(t, err)
	assert.Equal(t, `say "hi"`, c.Name)
	assert.Zero(t, c.Ellipsoid.Eccentricity())
}

func TestFromEPSG(t *testing.T) {
	for _, code := range []int{4326, 6365, 3857, 6372, 6362, 6368, 32614, 32719} {
		c, err := FromEPSG(code)
		require.NoError(t, err, code)
		assert.Equal(t, code, c.EPSG)
	}

	utm, err := FromEPSG(6368)
	require.NoError(t, err)
	assert.Equal(t, MethodTransverseMercator, utm.Method)
	assert.InDelta(t, -105.0, utm.CentralMeridian, 1e-12)
	south, err := FromEPSG(32719)
	require.NoError(t, err)
	assert.InDelta(t, 10000000.0, south.FalseNorthing, 1e-6)

	_, err = FromEPSG(32661)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUnsupportedCRS))
}

func TestLCCMexicoCity(t *testing.T) {
	tr, err := NewTransformer(Geographic(), MexicoLCC())
	require.NoError(t, err)
	assert.False(t, tr.Identity())

	x, y, err := tr.Forward(-99.1332, 19.4326)
	require.NoError(t, err)
	assert.InDelta(t, 2800163.33, x, 0.01)
	assert.InDelta(t, 829057.52, y, 0.01)

	x, y, err = tr.Forward(-102, 12)
	require.NoError(t, err)
	assert.InDelta(t, 2500000.0, x, 1e-3)
	assert.InDelta(t, 0.0, y, 1e-3)
}

// EPSG Guidance Note 7-2 worked example: NAD27 / Texas South Central.
func TestLCCTexasSouthCentral(t *testing.T) {
	const usFoot = 0.30480060960121924
	texas := CRS{
		Name:              "NAD27 / Texas South Central",
		Method:            MethodLCC,
		Ellipsoid:         Ellipsoid{Name: "Clarke 1866", A: 6378206.4, InvF: 294.9786982},
		CentralMeridian:   -99,
		LatitudeOfOrigin:  27 + 50.0/60,
		StandardParallel1: 28 + 23.0/60,
		StandardParallel2: 30 + 17.0/60,
		FalseEasting:      2000000 * usFoot,
		UnitToMeter:       usFoot,
	}
	nad27 := CRS{Name: "NAD27", Method: MethodGeographic, Ellipsoid: texas.Ellipsoid, UnitToMeter: 1}
	tr, err := NewTransformer(nad27, texas)
	require.NoError(t, err)

	x, y, err := tr.Forward(-96, 28.5)
	require.NoError(t, err)
	assert.InDelta(t, 2963503.91, x, 0.01)
	assert.InDelta(t, 254759.80, y, 0.01)

	lon, lat, err := tr.Inverse(x, y)
	require.NoError(t, err)
	assert.InDelta(t, -96.0, lon, 1e-8)
	assert.InDelta(t, 28.5, lat, 1e-8)
}

func TestTransverseMercator(t *testing.T) {
	utm, err := FromEPSG(32614)
	require.NoError(t, err)
	tr, err := NewTransformer(Geographic(), utm)
	require.NoError(t, err)

	x, y, err := tr.Forward(-99, 0)
	require.NoError(t, err)
	assert.InDelta(t, 500000.0, x, 1e-3)
	assert.InDelta(t, 0.0, y, 1e-3)

	// One degree of latitude along the central meridian, scaled by k0.
	_, y, err = tr.Forward(-99, 1)
	require.NoError(t, err)
	assert.InDelta(t, 110574.4*0.9996, y, 1)

	lon, lat, err := tr.Inverse(500000, 2150000)
	require.NoError(t, err)
	assert.InDelta(t, -99.0, lon, 1e-9)
	assert.InDelta(t, 19.43, lat, 0.02)
}

func TestAlbersFromWKT(t *testing.T) {
	src := `PROJCS["USA_Contiguous_Albers_Equal_Area_Conic",GEOGCS["GCS_North_American_1983",` +
		`DATUM["D_North_American_1983",SPHEROID["GRS_1980",6378137.0,298.257222101]],` +
		`PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],` +
		`PROJECTION["Albers"],PARAMETER["False_Easting",0.0],PARAMETER["False_Northing",0.0],` +
		`PARAMETER["Central_Meridian",-96.0],PARAMETER["Standard_Parallel_1",29.5],` +
		`PARAMETER["Standard_Parallel_2",45.5],PARAMETER["Latitude_Of_Origin",37.5],UNIT["Meter",1.0]]`
	c, err := ParseWKT(src)
	require.NoError(t, err)
	assert.Equal(t, MethodAlbers, c.Method)
	assert.InDelta(t, 45.5, c.StandardParallel2, 1e-12)

	tr, err := NewTransformer(Geographic(), c)
	require.NoError(t, err)
	x, y, err := tr.Forward(-96, 37.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, x, 1e-3)
	assert.InDelta(t, 0.0, y, 1e-3)

	x, y, err = tr.Forward(-99.1332, 19.4326)
	require.NoError(t, err)
	lon, lat, err := tr.Inverse(x, y)
	require.NoError(t, err)
	assert.InDelta(t, -99.1332, lon, 1e-6)
	assert.InDelta(t, 19.4326, lat, 1e-6)
}

func TestSphericalDatumUnsupported(t *testing.T) {
	sphere := MexicoLCC()
	sphere.Ellipsoid = Ellipsoid{Name: "sphere", A: 6371000}
	_, err := NewTransformer(Geographic(), sphere)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUnsupportedCRS))

	scaled := MexicoLCC()
	scaled.ScaleFactor = 0.9999
	_, err = NewTransformer(Geographic(), scaled)
	assert.True(t, errors.Is(err, model.ErrUnsupportedCRS))
}

func TestWebMercator(t *testing.T) {
	web, err := FromEPSG(3857)
	require.NoError(t, err)
	tr, err := NewTransformer(Geographic(), web)
	require.NoError(t, err)

	x, y, err := tr.Forward(-99.1332, 19.4326)
	require.NoError(t, err)
	assert.InDelta(t, -11035457.34, x, 0.01)
	assert.InDelta(t, 2205934.36, y, 0.01)

	_, _, err = tr.Forward(0, 90)
	assert.True(t, errors.Is(err, model.ErrBadCoordinate))
}

func TestRoundTrip(t *testing.T) {
	web, _ := FromEPSG(3857)
	targets := []CRS{MexicoLCC(), web}
	points := [][2]float64{
		{-99.1332, 19.4326},
		{-117.0382, 32.5149},
		{-86.8515, 21.1619},
		{-102, 12},
	}
	for _, dst := range targets {
		tr, err := NewTransformer(Geographic(), dst)
		require.NoError(t, err)
		for _, p := range points {
			x, y, err := tr.Forward(p[0], p[1])
			require.NoError(t, err)
			lon, lat, err := tr.Inverse(x, y)
			require.NoError(t, err)
			assert.InDelta(t, p[0], lon, 1e-8, "%s lon", dst)
			assert.InDelta(t, p[1], lat, 1e-8, "%s lat", dst)
		}
	}
}

func TestIdentityTransformer(t *testing.T) {
	tr, err := NewTransformer(MexicoLCC(), MexicoLCC())
	require.NoError(t, err)
	assert.True(t, tr.Identity())

	x, y, err := tr.Forward(2800000.5, 830000.25)
	require.NoError(t, err)
	assert.Equal(t, 2800000.5, x)
	assert.Equal(t, 830000.25, y)

	_, _, err = tr.Forward(math.NaN(), 0)
	assert.True(t, errors.Is(err, model.ErrBadCoordinate))
}

func TestForwardRejectsOutOfRange(t *testing.T) {
	tr, err := NewTransformer(Geographic(), MexicoLCC())
	require.NoError(t, err)

	_, _, err = tr.Forward(-190, 19)
	assert.True(t, errors.Is(err, model.ErrBadCoordinate))
	_, _, err = tr.Forward(-99, math.Inf(1))
	assert.True(t, errors.Is(err, model.ErrBadCoordinate))
}

func TestNewTransformerUnsupported(t *testing.T) {
	_, err := NewTransformer(Geographic(), CRS{Method: "polyconic"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUnsupportedCRS))
}

func TestReprojectRecords(t *testing.T) {
	tr, err := NewTransformer(Geographic(), MexicoLCC())
	require.NoError(t, err)

	in := []model.BusinessRecord{
		{ID: "1", Name: "Farmacia Centro", Longitude: -99.1332, Latitude: 19.4326},
		{ID: "2", Name: "Botica", Longitude: -102, Latitude: 12},
	}
	out, err := ReprojectRecords(in, tr)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.InDelta(t, 2800163.33, out[0].Longitude, 0.01)
	assert.Equal(t, "Farmacia Centro", out[0].Name)
	assert.InDelta(t, 2500000.0, out[1].Longitude, 1e-3)
	// Inputs untouched.
	assert.Equal(t, -99.1332, in[0].Longitude)

	_, err = ReprojectRecords([]model.BusinessRecord{{ID: "bad", Longitude: 500, Latitude: 0}}, tr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrBadCoordinate))
	assert.Contains(t, err.Error(), "bad")
}

func TestReprojectGeometry(t *testing.T) {
	tr, err := NewTransformer(Geographic(), MexicoLCC())
	require.NoError(t, err)

	mp := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{
		{{{-99.2, 19.4}, {-99.2, 19.5}, {-99.1, 19.5}, {-99.1, 19.4}, {-99.2, 19.4}}},
	})
	out, err := ReprojectGeometry(mp, tr)
	require.NoError(t, err)

	assert.InDelta(t, -99.2, mp.FlatCoords()[0], 1e-12, "input must not change")
	first := out.Polygon(0).LinearRing(0).Coord(0)
	x, y, err := tr.Forward(-99.2, 19.4)
	require.NoError(t, err)
	assert.InDelta(t, x, first.X(), 1e-6)
	assert.InDelta(t, y, first.Y(), 1e-6)
	assert.Equal(t, 5, out.Polygon(0).LinearRing(0).NumCoords())

	id, err := NewTransformer(Geographic(), Geographic())
	require.NoError(t, err)
	same, err := ReprojectGeometry(mp, id)
	require.NoError(t, err)
	assert.Equal(t, mp.FlatCoords(), same.FlatCoords())

	bad := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{
		{{{0, 95}, {1, 95}, {1, 96}, {0, 95}}},
	})
	_, err = ReprojectGeometry(bad, tr)
	require.Error(t, err)
}

func TestMetersPerUnit(t *testing.T) {
	assert.InDelta(t, 1.0, MexicoLCC().MetersPerUnit(), 1e-12)
	feet := MexicoLCC()
	feet.UnitToMeter = 0.3048
	assert.InDelta(t, 0.3048, feet.MetersPerUnit(), 1e-12)
}
