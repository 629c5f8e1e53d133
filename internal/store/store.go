// Package store persists pipeline runs and their per-section results.
package store

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pharmacy-density/internal/config"
	"github.com/sells-group/pharmacy-density/internal/model"
	"github.com/sells-group/pharmacy-density/internal/shapefile"
)

// ErrNotFound is returned when a run ID does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies paging for ListRuns.
type RunFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Pharmacy is a filtered business record with the key of the section it
// was assigned to, or "" when it fell outside every section.
type Pharmacy struct {
	model.BusinessRecord
	Section string
}

// Store defines the persistence interface for pipeline results.
type Store interface {
	// Runs
	SaveRun(ctx context.Context, run *model.Run) (string, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Results
	SaveSections(ctx context.Context, runID string, srid int, sections []model.SectionResult) (int64, error)
	SavePharmacies(ctx context.Context, runID string, pharmacies []Pharmacy) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store selected by cfg.Driver, or nil for "none".
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "none":
		return nil, nil
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}

const defaultListLimit = 100

var sectionColumns = []string{
	"run_id", "section_key", "state", "municipality", "section",
	"pharmacies", "area", "category", "metrics", "census", "srid", "geom",
}

var pharmacyColumns = []string{"run_id", "id", "name", "activity", "x", "y", "section_key"}

// sectionRow flattens a result into sectionColumns order. encodeGeom
// serializes the geometry for the target database.
func sectionRow(runID string, s model.SectionResult, srid int, encodeGeom func(model.SectionResult) ([]byte, error)) ([]any, error) {
	metrics, err := encodeFloats(s.Metrics)
	if err != nil {
		return nil, eris.Wrapf(err, "store: metrics for %s", s.Key)
	}
	census, err := encodeFloats(s.Census)
	if err != nil {
		return nil, eris.Wrapf(err, "store: census for %s", s.Key)
	}
	var geom []byte
	if s.Geometry != nil {
		if geom, err = encodeGeom(s); err != nil {
			return nil, eris.Wrapf(err, "store: geometry for %s", s.Key)
		}
	}
	return []any{
		runID, s.Key.String(), s.Key.State, s.Key.Municipality, s.Key.Section,
		s.Count, s.Area, s.Category.Label(), metrics, census, srid, geom,
	}, nil
}

func pharmacyRow(runID string, p Pharmacy) []any {
	return []any{runID, p.ID, p.Name, p.ActivityName, p.Longitude, p.Latitude, p.Section}
}

// encodeFloats marshals m to JSON without its NaN and ±Inf entries.
func encodeFloats(m map[string]float64) (string, error) {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[k] = v
	}
	b, err := json.Marshal(out)
	return string(b), err
}

func wkbGeometry(s model.SectionResult) ([]byte, error) {
	return shapefile.EncodeWKB(s.Geometry)
}

// prepareRun assigns an ID and creation time to a run that has none.
func prepareRun(run *model.Run) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}
