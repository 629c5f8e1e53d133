package pipeline

import (
	"encoding/csv"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pharmacy-density/internal/shapefile"
)

// WriteCSV writes one row per section: key, counts, area, category, every
// metric and every census field. Undefined values are left blank.
func WriteCSV(w io.Writer, result *Result) error {
	fields := censusFields(result)
	header := append([]string{"section_key", "state", "municipality", "section", "pharmacies", "area", "category"}, result.Metrics...)
	header = append(header, fields...)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "pipeline: write csv header")
	}
	for _, s := range result.Sections {
		row := []string{
			s.Key.String(),
			strconv.Itoa(s.Key.State),
			strconv.Itoa(s.Key.Municipality),
			strconv.Itoa(s.Key.Section),
			strconv.Itoa(s.Count),
			formatFloat(s.Area),
			s.Category.Label(),
		}
		for _, m := range result.Metrics {
			v, ok := s.Metrics[m]
			row = append(row, optionalFloat(v, ok))
		}
		for _, f := range fields {
			v, ok := s.Value(f)
			row = append(row, optionalFloat(v, ok))
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrapf(err, "pipeline: write csv row %s", s.Key)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "pipeline: flush csv")
}

// WriteShapefile writes the sections with their counts, metrics and
// category as a polygon shapefile. The .prj sidecar is copied from the
// section layer when the output CRS is the layer's own.
func WriteShapefile(path string, result *Result) error {
	columns := []shapefile.Column{
		{Name: "ENTIDAD", Kind: shapefile.Integer, Size: 4},
		{Name: "MUNICIPIO", Kind: shapefile.Integer, Size: 5},
		{Name: "SECCION", Kind: shapefile.Integer, Size: 6},
		{Name: "FARMACIAS", Kind: shapefile.Integer, Size: 8},
		{Name: "AREA", Kind: shapefile.Float, Size: 18, Precision: 6},
		{Name: "CATEGORIA", Kind: shapefile.String, Size: 16},
	}
	taken := make(map[string]bool, len(columns)+len(result.Metrics))
	for _, c := range columns {
		taken[c.Name] = true
	}
	for _, m := range result.Metrics {
		columns = append(columns, shapefile.Column{Name: dbfName(m, taken), Kind: shapefile.Float, Size: 18, Precision: 6})
	}

	features := make([]shapefile.Feature, 0, len(result.Sections))
	for _, s := range result.Sections {
		values := []any{s.Key.State, s.Key.Municipality, s.Key.Section, s.Count, s.Area, s.Category.Label()}
		for _, m := range result.Metrics {
			v, ok := s.Metrics[m]
			if !ok {
				v = math.NaN()
			}
			values = append(values, v)
		}
		features = append(features, shapefile.Feature{Geometry: s.Geometry, Values: values})
	}
	return shapefile.Write(path, columns, features, result.PrjWKT)
}

// dbfName shortens a metric name to a unique DBF column name of at most
// ten characters, keeping the _KM2 or _10K unit suffix.
func dbfName(metric string, taken map[string]bool) string {
	name := strings.ToUpper(metric)
	name = strings.Replace(name, "PHARMACIES", "FARM", 1)
	suffix := ""
	for _, s := range []string{"_PER_KM2", "_PER_10K"} {
		if strings.HasSuffix(name, s) {
			name = strings.TrimSuffix(name, s)
			suffix = strings.Replace(s, "_PER", "", 1)
			break
		}
	}
	if limit := 10 - len(suffix); len(name) > limit {
		name = strings.TrimRight(name[:limit], "_")
	}
	out := name + suffix
	for i := 1; taken[out]; i++ {
		tag := strconv.Itoa(i)
		base := name
		if n := 10 - len(suffix) - len(tag); len(base) > n {
			base = base[:n]
		}
		out = base + tag + suffix
	}
	taken[out] = true
	return out
}

func censusFields(result *Result) []string {
	seen := make(map[string]bool)
	for _, s := range result.Sections {
		for f := range s.Census {
			seen[f] = true
		}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func formatFloat(v float64) string {
	if !finite(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optionalFloat(v float64, ok bool) string {
	if !ok {
		return ""
	}
	return formatFloat(v)
}
