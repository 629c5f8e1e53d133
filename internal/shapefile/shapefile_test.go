package shapefile

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/pharmacy-density/internal/model"
	"github.com/sells-group/pharmacy-density/internal/projection"
)

var keyFields = Fields{State: "ENTIDAD", Municipality: "MUNICIPIO", Section: "SECCION"}

type fixtureRecord struct {
	state, mun, sec int
	parts           [][]shp.Point
}

// square returns a clockwise unit-ish square ring.
func square(x0, y0, size float64) []shp.Point {
	return []shp.Point{
		{X: x0, Y: y0},
		{X: x0, Y: y0 + size},
		{X: x0 + size, Y: y0 + size},
		{X: x0 + size, Y: y0},
		{X: x0, Y: y0},
	}
}

func writeFixture(t *testing.T, dir string, records []fixtureRecord) string {
	t.Helper()
	path := filepath.Join(dir, "SECCION.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.NumberField("ENTIDAD", 4),
		shp.NumberField("MUNICIPIO", 4),
		shp.NumberField("SECCION", 6),
		shp.StringField("NOMBRE", 20),
	}))
	for _, r := range records {
		p := shp.Polygon(*shp.NewPolyLine(r.parts))
		row := int(w.Write(&p))
		require.NoError(t, w.WriteAttribute(row, 0, r.state))
		require.NoError(t, w.WriteAttribute(row, 1, r.mun))
		require.NoError(t, w.WriteAttribute(row, 2, r.sec))
		require.NoError(t, w.WriteAttribute(row, 3, "sec"))
	}
	w.Close()
	require.NoError(t, fixDBFName(path))
	return path
}

func TestReadSections(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, []fixtureRecord{
		{9, 15, 1, [][]shp.Point{square(0, 0, 1)}},
		{9, 15, 2, [][]shp.Point{square(1, 0, 1)}},
	})

	layer, err := ReadSections(path, keyFields, Options{})
	require.NoError(t, err)
	require.Len(t, layer.Sections, 2)
	assert.Nil(t, layer.Prj)
	assert.Zero(t, layer.Skipped)

	first := layer.Sections[0]
	assert.Equal(t, model.SectionKey{State: 9, Municipality: 15, Section: 1}, first.Key)
	assert.Equal(t, "sec", first.Attributes["NOMBRE"])
	assert.Equal(t, "1", first.Attributes["SECCION"])
	require.Equal(t, 1, first.Geometry.NumPolygons())
	assert.InDelta(t, 1.0, math.Abs(first.Geometry.Area()), 1e-12)
	assert.Equal(t, model.SectionKey{State: 9, Municipality: 15, Section: 2}, layer.Sections[1].Key)
}

func TestReadSectionsHoleAndMultiPart(t *testing.T) {
	dir := t.TempDir()
	hole := []shp.Point{
		{X: 0.25, Y: 0.25},
		{X: 0.75, Y: 0.25},
		{X: 0.75, Y: 0.75},
		{X: 0.25, Y: 0.75},
		{X: 0.25, Y: 0.25},
	}
	path := writeFixture(t, dir, []fixtureRecord{
		{1, 1, 1, [][]shp.Point{square(0, 0, 1), hole, square(5, 5, 1)}},
	})

	layer, err := ReadSections(path, keyFields, Options{})
	require.NoError(t, err)
	require.Len(t, layer.Sections, 1)

	mp := layer.Sections[0].Geometry
	require.Equal(t, 2, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings())
	assert.Equal(t, 1, mp.Polygon(1).NumLinearRings())
}

func TestReadSectionsUnclosedRing(t *testing.T) {
	open := square(0, 0, 1)[:4]

	t.Run("lenient closes", func(t *testing.T) {
		path := writeFixture(t, t.TempDir(), []fixtureRecord{{1, 1, 1, [][]shp.Point{open}}})
		layer, err := ReadSections(path, keyFields, Options{})
		require.NoError(t, err)
		require.Len(t, layer.Sections, 1)
		assert.Equal(t, 1, layer.ClosedRings)

		ring := layer.Sections[0].Geometry.Polygon(0).LinearRing(0)
		assert.Equal(t, 5, ring.NumCoords())
		assert.Equal(t, ring.Coord(0), ring.Coord(4))
	})

	t.Run("strict rejects", func(t *testing.T) {
		path := writeFixture(t, t.TempDir(), []fixtureRecord{{1, 1, 1, [][]shp.Point{open}}})
		_, err := ReadSections(path, keyFields, Options{StrictRings: true})
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrUnclosedRing))
	})
}

func TestReadSectionsSkipsDegenerate(t *testing.T) {
	line := []shp.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 0}}
	path := writeFixture(t, t.TempDir(), []fixtureRecord{
		{1, 1, 1, [][]shp.Point{line}},
		{1, 1, 2, [][]shp.Point{square(0, 0, 1)}},
	})
	layer, err := ReadSections(path, keyFields, Options{})
	require.NoError(t, err)
	require.Len(t, layer.Sections, 1)
	assert.Equal(t, 1, layer.Skipped)
	assert.Equal(t, 2, layer.Sections[0].Key.Section)
}

func TestReadSectionsMissingFile(t *testing.T) {
	_, err := ReadSections(filepath.Join(t.TempDir(), "nope.shp"), keyFields, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrFileNotFound))
}

func TestReadSectionsMissingKeyColumn(t *testing.T) {
	path := writeFixture(t, t.TempDir(), []fixtureRecord{{1, 1, 1, [][]shp.Point{square(0, 0, 1)}}})
	_, err := ReadSections(path, Fields{State: "ENTIDAD", Municipality: "MUNICIPIO", Section: "DISTRITO"}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISTRITO")
}

func TestReadSectionsWithPrj(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, []fixtureRecord{{1, 1, 1, [][]shp.Point{square(0, 0, 1)}}})
	prj := `PROJCS["MEXICO_ITRF_2008_LCC",GEOGCS["GCS_ITRF_2008",DATUM["D_ITRF_2008",` +
		`SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],` +
		`UNIT["Degree",0.0174532925199433]],PROJECTION["Lambert_Conformal_Conic"],` +
		`PARAMETER["False_Easting",2500000.0],PARAMETER["False_Northing",0.0],` +
		`PARAMETER["Central_Meridian",-102.0],PARAMETER["Standard_Parallel_1",17.5],` +
		`PARAMETER["Standard_Parallel_2",29.5],PARAMETER["Latitude_Of_Origin",12.0],UNIT["Meter",1.0]]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SECCION.prj"), []byte(prj+"\n"), 0o644))

	layer, err := ReadSections(path, keyFields, Options{})
	require.NoError(t, err)
	require.NotNil(t, layer.Prj)
	assert.Equal(t, prj, layer.Prj.WKT)
	assert.True(t, layer.Prj.CRS.Equivalent(projection.MexicoLCC()))
}

func TestReadPrjInvalid(t *testing.T) {
	dir := t.TempDir()
	shpPath := filepath.Join(dir, "x.shp")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.prj"), []byte(`PROJCS["x",PROJECTION["Polyconic"]]`), 0o644))

	_, err := ReadPrj(shpPath)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUnsupportedCRS))
}

func TestParseCode(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"12", 12, true},
		{"0007", 7, true},
		{"12.000", 12, true},
		{"12.5", 0, false},
		{"", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseCode(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	// Counter-clockwise input is reoriented on write.
	ccw := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{
		{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}},
	})
	path := filepath.Join(dir, "out", "result.shp")
	columns := []Column{
		{Name: "ENTIDAD", Kind: Integer, Size: 4},
		{Name: "MUNICIPIO", Kind: Integer, Size: 4},
		{Name: "SECCION", Kind: Integer, Size: 6},
		{Name: "DENSITY", Kind: Float, Size: 18, Precision: 4},
		{Name: "CATEGORY", Kind: String, Size: 16},
	}
	features := []Feature{
		{Geometry: ccw, Values: []any{9, 15, 1, 2.5, "Low.High"}},
		{Geometry: ccw, Values: []any{9, 15, 2, math.NaN(), "NA.NA"}},
	}
	require.NoError(t, Write(path, columns, features, `GEOGCS["WGS 84"]`))
	for _, name := range []string{"result.shp", "result.shx", "result.dbf", "result.prj"} {
		assert.FileExists(t, filepath.Join(dir, "out", name))
	}
	assert.NoFileExists(t, filepath.Join(dir, "out", "resultdbf"))

	layer, err := ReadSections(path, keyFields, Options{StrictRings: true})
	require.NoError(t, err)
	require.Len(t, layer.Sections, 2)
	assert.Equal(t, "2.5000", layer.Sections[0].Attributes["DENSITY"])
	assert.Equal(t, "", layer.Sections[1].Attributes["DENSITY"])
	assert.Equal(t, "Low.High", layer.Sections[0].Attributes["CATEGORY"])
	require.NotNil(t, layer.Prj)
	assert.True(t, layer.Prj.CRS.IsGeographic())
	assert.InDelta(t, 1.0, math.Abs(layer.Sections[0].Geometry.Area()), 1e-12)
}

func TestWriteValueCountMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.shp")
	err := Write(path, []Column{{Name: "A"}}, []Feature{{Values: []any{"x", "y"}}}, "")
	require.Error(t, err)
}

func TestEncodeWKB(t *testing.T) {
	mp := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{
		{{{0, 0}, {0, 1}, {1, 1}, {1, 0}, {0, 0}}},
	})

	data, err := EncodeWKB(mp)
	require.NoError(t, err)
	back, err := DecodeWKB(data)
	require.NoError(t, err)
	assert.Equal(t, mp.FlatCoords(), back.FlatCoords())

	ewkbData, err := EncodeEWKB(mp, 6372)
	require.NoError(t, err)
	assert.Greater(t, len(ewkbData), len(data))
	assert.Equal(t, 0, mp.SRID())

	none, err := EncodeWKB(nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}
