package shapefile

import (
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// ColumnKind is the DBF type of an output column.
type ColumnKind int

const (
	String ColumnKind = iota
	Integer
	Float
)

// Column describes one DBF output column. DBF names are limited to ten
// characters and longer names are truncated by the encoder.
type Column struct {
	Name      string
	Kind      ColumnKind
	Size      uint8
	Precision uint8
}

// Feature is one polygon and its attribute values, in column order. Values
// must be string, int or float64; NaN floats are written as blanks.
type Feature struct {
	Geometry *geom.MultiPolygon
	Values   []any
}

// Write creates a polygon shapefile (.shp, .shx, .dbf) at path. When prjWKT
// is non-empty it is written to the .prj sidecar.
func Write(path string, columns []Column, features []Feature, prjWKT string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "shapefile: create dir for %s", path)
	}

	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		return eris.Wrapf(err, "shapefile: create %s", path)
	}
	closed := false
	defer func() {
		if !closed {
			w.Close()
		}
	}()

	dbf := make([]shp.Field, len(columns))
	for i, c := range columns {
		switch c.Kind {
		case Integer:
			dbf[i] = shp.NumberField(c.Name, sizeOr(c.Size, 10))
		case Float:
			dbf[i] = shp.FloatField(c.Name, sizeOr(c.Size, 18), c.Precision)
		default:
			dbf[i] = shp.StringField(c.Name, sizeOr(c.Size, 32))
		}
	}
	if err := w.SetFields(dbf); err != nil {
		return eris.Wrap(err, "shapefile: set fields")
	}

	for _, f := range features {
		if len(f.Values) != len(columns) {
			return eris.Errorf("shapefile: feature has %d values, want %d", len(f.Values), len(columns))
		}
		row := int(w.Write(multiPolygonToShape(f.Geometry)))
		for i, v := range f.Values {
			if fv, ok := v.(float64); ok && (math.IsNaN(fv) || math.IsInf(fv, 0)) {
				v = ""
			}
			if err := w.WriteAttribute(row, i, v); err != nil {
				return eris.Wrapf(err, "shapefile: write %s for row %d", columns[i].Name, row)
			}
		}
	}

	w.Close()
	closed = true
	if err := fixDBFName(path); err != nil {
		return err
	}

	if prjWKT != "" {
		if err := os.WriteFile(prjPathFor(path), []byte(prjWKT), 0o644); err != nil {
			return eris.Wrap(err, "shapefile: write prj")
		}
	}
	return nil
}

// fixDBFName moves the attribute table go-shp writes as "<base>dbf" to
// "<base>.dbf" so readers find it next to the .shp.
func fixDBFName(path string) error {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	misnamed := base + "dbf"
	if _, err := os.Stat(misnamed); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return eris.Wrapf(err, "shapefile: stat %s", misnamed)
	}
	if err := os.Rename(misnamed, base+".dbf"); err != nil {
		return eris.Wrapf(err, "shapefile: rename %s", misnamed)
	}
	return nil
}

func sizeOr(size, def uint8) uint8 {
	if size == 0 {
		return def
	}
	return size
}

// multiPolygonToShape converts a MultiPolygon into shapefile ring order:
// exterior rings clockwise, holes counter-clockwise.
func multiPolygonToShape(mp *geom.MultiPolygon) *shp.Polygon {
	var parts [][]shp.Point
	if mp != nil {
		for i := 0; i < mp.NumPolygons(); i++ {
			poly := mp.Polygon(i)
			for r := 0; r < poly.NumLinearRings(); r++ {
				flat := poly.LinearRing(r).FlatCoords()
				clockwise := xy.SignedArea(geom.XY, flat) > 0
				wantClockwise := r == 0
				parts = append(parts, toPoints(flat, clockwise != wantClockwise))
			}
		}
	}
	shape := shp.Polygon(*shp.NewPolyLine(parts))
	return &shape
}

func toPoints(flat []float64, reverse bool) []shp.Point {
	n := len(flat) / 2
	pts := make([]shp.Point, n)
	for i := 0; i < n; i++ {
		j := i
		if reverse {
			j = n - 1 - i
		}
		pts[i] = shp.Point{X: flat[2*j], Y: flat[2*j+1]}
	}
	return pts
}
