// Package registry loads establishments from the national business registry
// (DENUE) and selects the pharmacies among them.
package registry

import (
	"context"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharmacy-density/internal/fetcher"
	"github.com/sells-group/pharmacy-density/internal/model"
)

// Columns names the registry columns. Matching is case-insensitive.
// Activity, Longitude and Latitude are required; the rest may be absent.
type Columns struct {
	ID           string
	Name         string
	Activity     string
	Longitude    string
	Latitude     string
	State        string
	Municipality string
}

// Options configures parsing.
type Options struct {
	Encoding  string
	Delimiter rune
	// Strict fails the load on the first bad coordinate instead of skipping it.
	Strict bool
}

// Result is the outcome of a registry load.
type Result struct {
	Records []model.BusinessRecord
	// Rows is the number of data rows read, including skipped ones.
	Rows int
	// BadCoordinates counts rows skipped for a missing, unparseable or
	// out-of-range coordinate.
	BadCoordinates int
}

// LoadFile opens path and calls Load.
func LoadFile(ctx context.Context, path string, cols Columns, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(model.ErrFileNotFound, "registry: %s", path)
		}
		return nil, eris.Wrapf(err, "registry: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	return Load(ctx, f, cols, opts)
}

// Load parses a delimited registry export.
func Load(ctx context.Context, r io.Reader, cols Columns, opts Options) (*Result, error) {
	log := zap.L().With(zap.String("component", "registry"))

	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		Delimiter:  opts.Delimiter,
		HasHeader:  true,
		HeaderCh:   headerCh,
		LazyQuotes: true,
		TrimSpace:  true,
		Encoding:   opts.Encoding,
	})

	res := &Result{}
	var colIdx map[string]int
	var loadErr error

	for record := range rowCh {
		if loadErr != nil {
			continue // drain
		}
		if colIdx == nil {
			colIdx = fetcher.ColumnIndex(<-headerCh)
			if loadErr = requireColumns(colIdx, cols); loadErr != nil {
				continue
			}
		}

		res.Rows++
		rec, err := parseRecord(record, colIdx, cols)
		if err != nil {
			if opts.Strict {
				loadErr = eris.Wrapf(err, "registry: row %d", res.Rows+1)
				continue
			}
			res.BadCoordinates++
			log.Debug("registry: skipping row", zap.Int("row", res.Rows+1), zap.Error(err))
			continue
		}
		res.Records = append(res.Records, rec)
	}
	for err := range errCh {
		if err != nil {
			return nil, eris.Wrap(err, "registry: read")
		}
	}
	if loadErr != nil {
		return nil, loadErr
	}
	if colIdx == nil {
		// Header only, or empty input.
		select {
		case header := <-headerCh:
			if err := requireColumns(fetcher.ColumnIndex(header), cols); err != nil {
				return nil, err
			}
		default:
			return nil, eris.New("registry: input has no header row")
		}
	}

	if res.BadCoordinates > 0 {
		log.Warn("registry: skipped rows with bad coordinates",
			zap.Int("skipped", res.BadCoordinates),
			zap.Int("rows", res.Rows),
		)
	}
	log.Info("registry: loaded businesses", zap.Int("records", len(res.Records)))
	return res, nil
}

func requireColumns(colIdx map[string]int, cols Columns) error {
	for _, name := range []string{cols.Activity, cols.Longitude, cols.Latitude} {
		if _, ok := colIdx[strings.ToLower(strings.TrimSpace(name))]; !ok {
			return eris.Errorf("registry: missing required column %q", name)
		}
	}
	return nil
}

func parseRecord(record []string, colIdx map[string]int, cols Columns) (model.BusinessRecord, error) {
	lon, err := parseCoordinate(fetcher.Get(record, colIdx, cols.Longitude), 180)
	if err != nil {
		return model.BusinessRecord{}, eris.Wrap(err, "longitude")
	}
	lat, err := parseCoordinate(fetcher.Get(record, colIdx, cols.Latitude), 90)
	if err != nil {
		return model.BusinessRecord{}, eris.Wrap(err, "latitude")
	}
	return model.BusinessRecord{
		ID:               fetcher.Get(record, colIdx, cols.ID),
		Name:             fetcher.Get(record, colIdx, cols.Name),
		ActivityName:     fetcher.Get(record, colIdx, cols.Activity),
		Longitude:        lon,
		Latitude:         lat,
		StateCode:        parseIntOr(fetcher.Get(record, colIdx, cols.State), 0),
		MunicipalityCode: parseIntOr(fetcher.Get(record, colIdx, cols.Municipality), 0),
	}, nil
}

func parseCoordinate(s string, limit float64) (float64, error) {
	if s == "" {
		return 0, eris.Wrap(model.ErrBadCoordinate, "empty")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(model.ErrBadCoordinate, "%q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > limit {
		return 0, eris.Wrapf(model.ErrBadCoordinate, "%v out of range", v)
	}
	return v, nil
}

// parseIntOr parses a string as an int, returning def if parsing fails.
func parseIntOr(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
