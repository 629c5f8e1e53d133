// Package census loads section-level census tables (INEGI's Estadísticas
// Censales a Escalas Geoelectorales) and joins them onto section polygons.
package census

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharmacy-density/internal/fetcher"
	"github.com/sells-group/pharmacy-density/internal/model"
)

// Columns names the key columns and the numeric fields to keep.
type Columns struct {
	State        string
	Municipality string
	Section      string
	Fields       []string
}

// Options configures reading.
type Options struct {
	Encoding  string
	Delimiter rune
	// Sheet selects the XLSX worksheet by name; empty means the first sheet.
	Sheet string
}

// Result is the outcome of a census load.
type Result struct {
	Rows []model.CensusRow
	// Skipped counts rows without a parseable section key.
	Skipped int
	// Nulls counts field values that were blank or suppressed.
	Nulls int
}

// nullMarkers are the placeholders INEGI uses for suppressed or missing values.
var nullMarkers = map[string]bool{
	"":    true,
	"*":   true,
	"**":  true,
	"N/D": true,
	"ND":  true,
	"NA":  true,
	"N/A": true,
	"-":   true,
}

// Load reads a CSV or XLSX census table, chosen by file extension.
func Load(ctx context.Context, path string, cols Columns, opts Options) (*Result, error) {
	log := zap.L().With(zap.String("component", "census"))

	table, err := readTable(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	colIdx := fetcher.ColumnIndex(table.Header)
	required := append([]string{cols.State, cols.Municipality, cols.Section}, cols.Fields...)
	for _, name := range required {
		if _, ok := colIdx[strings.ToLower(strings.TrimSpace(name))]; !ok {
			return nil, eris.Errorf("census: %s has no column %q", filepath.Base(path), name)
		}
	}

	res := &Result{Rows: make([]model.CensusRow, 0, len(table.Rows))}
	for i, record := range table.Rows {
		key, ok := parseKey(record, colIdx, cols)
		if !ok {
			res.Skipped++
			log.Debug("census: skipping row without section key", zap.Int("row", i+2))
			continue
		}
		row := model.CensusRow{Key: key, Fields: make(map[string]float64, len(cols.Fields))}
		for _, f := range cols.Fields {
			v, ok := ParseValue(fetcher.Get(record, colIdx, f))
			if !ok {
				res.Nulls++
				continue
			}
			row.Fields[f] = v
		}
		res.Rows = append(res.Rows, row)
	}

	log.Info("census: loaded rows",
		zap.String("path", path),
		zap.Int("rows", len(res.Rows)),
		zap.Int("skipped", res.Skipped),
		zap.Int("nulls", res.Nulls),
	)
	return res, nil
}

func readTable(ctx context.Context, path string, opts Options) (*fetcher.Table, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(model.ErrFileNotFound, "census: %s", path)
		}
		return nil, eris.Wrapf(err, "census: stat %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		t, err := fetcher.ReadXLSXTable(path, fetcher.XLSXOptions{SheetName: opts.Sheet})
		if err != nil {
			return nil, eris.Wrapf(err, "census: read %s", path)
		}
		return t, nil
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "census: open %s", path)
		}
		defer f.Close() //nolint:errcheck

		t, err := fetcher.ReadTable(ctx, f, fetcher.CSVOptions{
			Delimiter:  opts.Delimiter,
			LazyQuotes: true,
			TrimSpace:  true,
			Encoding:   opts.Encoding,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "census: read %s", path)
		}
		return t, nil
	}
}

func parseKey(record []string, colIdx map[string]int, cols Columns) (model.SectionKey, bool) {
	state, ok1 := parseCode(fetcher.Get(record, colIdx, cols.State))
	mun, ok2 := parseCode(fetcher.Get(record, colIdx, cols.Municipality))
	sec, ok3 := parseCode(fetcher.Get(record, colIdx, cols.Section))
	if !ok1 || !ok2 || !ok3 {
		return model.SectionKey{}, false
	}
	return model.SectionKey{State: state, Municipality: mun, Section: sec}, true
}

func parseCode(s string) (int, bool) {
	v, ok := ParseValue(s)
	if !ok || v != float64(int(v)) || v < 0 {
		return 0, false
	}
	return int(v), true
}

// ParseValue parses a numeric census cell. Blank and suppressed cells
// ("*", "N/D", ...) report ok == false. Thousands separators are accepted.
func ParseValue(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if nullMarkers[strings.ToUpper(s)] {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
