package census

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharmacy-density/internal/model"
	"github.com/sells-group/pharmacy-density/internal/spatial"
)

// JoinStats reports how many sections found a census row.
type JoinStats struct {
	Sections  int
	Matched   int
	Unmatched int
	// Orphans counts census rows whose key matched no section.
	Orphans int
}

// Join attaches census fields to sections by SectionKey as a left outer
// join: every section appears exactly once, in input order, with nil Census
// when no row matched. Area is set from the geometry in squared CRS units.
// A key repeated on either side is an error wrapping model.ErrDuplicateKey.
func Join(sections []model.SectionPolygon, rows []model.CensusRow) ([]model.EnrichedSection, JoinStats, error) {
	byKey := make(map[model.SectionKey]map[string]float64, len(rows))
	for _, r := range rows {
		if _, dup := byKey[r.Key]; dup {
			return nil, JoinStats{}, eris.Wrapf(model.ErrDuplicateKey, "census: row key %s", r.Key)
		}
		byKey[r.Key] = r.Fields
	}

	seen := make(map[model.SectionKey]bool, len(sections))
	out := make([]model.EnrichedSection, 0, len(sections))
	stats := JoinStats{Sections: len(sections)}
	for _, s := range sections {
		if seen[s.Key] {
			return nil, JoinStats{}, eris.Wrapf(model.ErrDuplicateKey, "census: section key %s", s.Key)
		}
		seen[s.Key] = true

		fields, ok := byKey[s.Key]
		if ok {
			stats.Matched++
		} else {
			stats.Unmatched++
		}
		out = append(out, model.EnrichedSection{
			SectionPolygon: s,
			Census:         fields,
			Area:           spatial.Area(s.Geometry),
		})
	}
	for k := range byKey {
		if !seen[k] {
			stats.Orphans++
		}
	}

	zap.L().With(zap.String("component", "census")).Info("census: joined sections",
		zap.Int("sections", stats.Sections),
		zap.Int("matched", stats.Matched),
		zap.Int("unmatched", stats.Unmatched),
		zap.Int("orphans", stats.Orphans),
	)
	return out, stats, nil
}
