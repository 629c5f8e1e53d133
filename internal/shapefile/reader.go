// Package shapefile reads electoral-section polygons from ESRI shapefiles
// and writes joined results back out.
package shapefile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/sells-group/pharmacy-density/internal/model"
	"github.com/sells-group/pharmacy-density/internal/projection"
)

// Fields names the DBF columns holding the section key.
type Fields struct {
	State        string
	Municipality string
	Section      string
}

// Options controls geometry validation.
type Options struct {
	// StrictRings fails the load on an unclosed ring instead of closing it.
	StrictRings bool
}

// Layer is the result of reading a section shapefile.
type Layer struct {
	Sections []model.SectionPolygon
	// Prj is the parsed .prj sidecar, nil when the file has none.
	Prj *Prj
	// Skipped counts records dropped for a missing key or empty geometry.
	Skipped int
	// ClosedRings counts rings that were closed by appending their first vertex.
	ClosedRings int
}

// ReadSections reads every polygon record in path.
func ReadSections(path string, fields Fields, opts Options) (*Layer, error) {
	log := zap.L().With(zap.String("component", "shapefile"))

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(model.ErrFileNotFound, "shapefile: %s", path)
		}
		return nil, eris.Wrapf(err, "shapefile: stat %s", path)
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "shapefile: open %s", path)
	}
	defer func() { _ = reader.Close() }()

	dbfFields := reader.Fields()
	names := make([]string, len(dbfFields))
	fieldIdx := make(map[string]int, len(dbfFields))
	for i, f := range dbfFields {
		name := strings.TrimRight(f.String(), "\x00")
		names[i] = name
		fieldIdx[strings.ToLower(name)] = i
	}
	for _, col := range []string{fields.State, fields.Municipality, fields.Section} {
		if _, ok := fieldIdx[strings.ToLower(col)]; !ok {
			return nil, eris.Errorf("shapefile: %s has no key column %q", filepath.Base(path), col)
		}
	}

	layer := &Layer{}
	for reader.Next() {
		n, shape := reader.Shape()

		attrs := make(map[string]string, len(names))
		for i, name := range names {
			attrs[name] = strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
		}
		key, ok := parseKey(attrs, fieldIdx, names, fields)
		if !ok {
			layer.Skipped++
			log.Debug("shapefile: skipping record without section key", zap.Int("record", n))
			continue
		}

		poly, isPoly := shape.(*shp.Polygon)
		if !isPoly {
			layer.Skipped++
			log.Debug("shapefile: skipping non-polygon record", zap.Int("record", n), zap.String("key", key.String()))
			continue
		}
		mp, closed, err := polygonToMultiPolygon(poly, opts.StrictRings)
		if err != nil {
			return nil, eris.Wrapf(err, "shapefile: record %d (section %s)", n, key)
		}
		layer.ClosedRings += closed
		if mp == nil {
			layer.Skipped++
			log.Debug("shapefile: skipping empty geometry", zap.Int("record", n), zap.String("key", key.String()))
			continue
		}

		layer.Sections = append(layer.Sections, model.SectionPolygon{
			Key:        key,
			Geometry:   mp,
			Attributes: attrs,
		})
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "shapefile: read %s", path)
	}

	prj, err := ReadPrj(path)
	if err != nil {
		return nil, err
	}
	layer.Prj = prj
	crsName := "unknown"
	if prj != nil {
		crsName = prj.CRS.String()
	}

	if layer.ClosedRings > 0 {
		log.Warn("shapefile: closed unclosed polygon rings", zap.Int("rings", layer.ClosedRings))
	}
	log.Info("shapefile: loaded sections",
		zap.String("path", path),
		zap.Int("sections", len(layer.Sections)),
		zap.Int("skipped", layer.Skipped),
		zap.String("crs", crsName),
	)
	return layer, nil
}

// Prj is a coordinate system sidecar: the raw WKT and its parsed CRS.
type Prj struct {
	WKT string
	CRS projection.CRS
}

// ReadPrj parses the .prj sidecar next to a .shp file. It returns nil, nil
// when the sidecar does not exist.
func ReadPrj(shpPath string) (*Prj, error) {
	prjPath := prjPathFor(shpPath)
	data, err := os.ReadFile(prjPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "shapefile: read %s", prjPath)
	}
	wkt := strings.TrimSpace(string(data))
	crs, err := projection.ParseWKT(wkt)
	if err != nil {
		return nil, eris.Wrapf(err, "shapefile: %s", filepath.Base(prjPath))
	}
	return &Prj{WKT: wkt, CRS: crs}, nil
}

func prjPathFor(shpPath string) string {
	return strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".prj"
}

func parseKey(attrs map[string]string, fieldIdx map[string]int, names []string, fields Fields) (model.SectionKey, bool) {
	get := func(col string) (int, bool) {
		i, ok := fieldIdx[strings.ToLower(col)]
		if !ok {
			return 0, false
		}
		return parseCode(attrs[names[i]])
	}
	state, ok1 := get(fields.State)
	mun, ok2 := get(fields.Municipality)
	sec, ok3 := get(fields.Section)
	if !ok1 || !ok2 || !ok3 {
		return model.SectionKey{}, false
	}
	return model.SectionKey{State: state, Municipality: mun, Section: sec}, true
}

// parseCode reads an integer code that DBF numeric columns may store as "12"
// or "12.000".
func parseCode(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// polygonToMultiPolygon converts a shapefile Polygon into a MultiPolygon.
// Clockwise rings start a new polygon; counter-clockwise rings are holes of
// the preceding polygon. Files with no clockwise ring are read as outer
// rings only. It returns the number of rings it had to close.
func polygonToMultiPolygon(p *shp.Polygon, strict bool) (*geom.MultiPolygon, int, error) {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil, 0, nil
	}

	var rings [][]float64
	closed := 0
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || end > int32(len(p.Points)) || start >= end {
			continue
		}

		flat := make([]float64, 0, (end-start+1)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		n := len(flat)
		if flat[0] != flat[n-2] || flat[1] != flat[n-1] {
			if strict {
				return nil, closed, eris.Wrapf(model.ErrUnclosedRing, "ring %d", i)
			}
			flat = append(flat, flat[0], flat[1])
			closed++
		}
		// A closed ring needs three distinct vertices.
		if len(flat) < 8 {
			zap.L().Debug("shapefile: skipping degenerate ring", zap.Int32("part", i))
			continue
		}
		rings = append(rings, flat)
	}
	if len(rings) == 0 {
		return nil, closed, nil
	}

	anyClockwise := false
	for _, r := range rings {
		if xy.SignedArea(geom.XY, r) > 0 {
			anyClockwise = true
			break
		}
	}

	mp := geom.NewMultiPolygon(geom.XY)
	var current *geom.Polygon
	flush := func() error {
		if current == nil {
			return nil
		}
		return mp.Push(current)
	}
	for _, r := range rings {
		outer := !anyClockwise || xy.SignedArea(geom.XY, r) > 0 || current == nil
		if outer {
			if err := flush(); err != nil {
				return nil, closed, eris.Wrap(err, "push polygon")
			}
			current = geom.NewPolygon(geom.XY)
		}
		if err := current.Push(geom.NewLinearRingFlat(geom.XY, r)); err != nil {
			return nil, closed, eris.Wrap(err, "push ring")
		}
	}
	if err := flush(); err != nil {
		return nil, closed, eris.Wrap(err, "push polygon")
	}
	return mp, closed, nil
}
