package pipeline

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharmacy-density/internal/census"
	"github.com/sells-group/pharmacy-density/internal/model"
	"github.com/sells-group/pharmacy-density/internal/projection"
	"github.com/sells-group/pharmacy-density/internal/shapefile"
	"github.com/sells-group/pharmacy-density/internal/spatial"
	"github.com/sells-group/pharmacy-density/internal/store"
)

type projected struct {
	points   []model.BusinessRecord
	sections []model.SectionPolygon
	source   projection.CRS
	target   projection.CRS
	prjWKT   string
}

// project brings points and sections into one CRS. The target is the
// section layer's own CRS unless projection.target_epsg overrides it, in
// which case the sections are reprojected too.
func (p *Pipeline) project(points []model.BusinessRecord, layer *shapefile.Layer) (*projected, error) {
	log := zap.L().With(zap.String("component", "pipeline.project"))

	source, err := projection.FromEPSG(p.cfg.Projection.SourceEPSG)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: source crs")
	}

	sectionCRS := source
	out := &projected{source: source, sections: layer.Sections}
	if layer.Prj != nil {
		sectionCRS = layer.Prj.CRS
		out.prjWKT = layer.Prj.WKT
	} else {
		log.Warn("pipeline: section layer has no .prj, assuming the business CRS",
			zap.String("crs", source.String()),
		)
	}

	out.target = sectionCRS
	if code := p.cfg.Projection.TargetEPSG; code != 0 {
		if out.target, err = projection.FromEPSG(code); err != nil {
			return nil, eris.Wrap(err, "pipeline: target crs")
		}
		if !out.target.Equivalent(sectionCRS) {
			out.prjWKT = ""
		}
	}

	pt, err := projection.NewTransformer(source, out.target)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: point transformer")
	}
	if out.points, err = projection.ReprojectRecords(points, pt); err != nil {
		return nil, eris.Wrap(err, "pipeline: reproject pharmacies")
	}

	if !sectionCRS.Equivalent(out.target) {
		st, err := projection.NewTransformer(sectionCRS, out.target)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: section transformer")
		}
		out.sections = make([]model.SectionPolygon, len(layer.Sections))
		for i, s := range layer.Sections {
			if s.Geometry, err = projection.ReprojectGeometry(s.Geometry, st); err != nil {
				return nil, eris.Wrapf(err, "pipeline: reproject section %s", s.Key)
			}
			out.sections[i] = s
		}
	}

	log.Info("pipeline: projected inputs",
		zap.String("source", source.String()),
		zap.String("sections", sectionCRS.String()),
		zap.String("target", out.target.String()),
		zap.Bool("points_identity", pt.Identity()),
	)
	return out, nil
}

type joinOutput struct {
	census     census.JoinStats
	counted    *spatial.JoinResult
	pharmacies []store.Pharmacy
}

// join attaches census rows, converts areas to km² for projected CRSs and
// counts the pharmacies inside each section.
func (p *Pipeline) join(points []model.BusinessRecord, sections []model.SectionPolygon, rows []model.CensusRow, target projection.CRS, policy spatial.JoinPolicy) (*joinOutput, error) {
	enriched, stats, err := census.Join(sections, rows)
	if err != nil {
		return nil, err
	}

	if target.IsGeographic() {
		zap.L().Warn("pipeline: target CRS is geographic, areas are in square degrees",
			zap.String("crs", target.String()),
		)
	} else {
		mpu := target.MetersPerUnit()
		for i := range enriched {
			enriched[i].Area = spatial.AreaKM2(enriched[i].Geometry) * mpu * mpu
		}
	}

	counted, err := spatial.CountWithin(points, enriched, policy)
	if err != nil {
		return nil, err
	}

	pharmacies := make([]store.Pharmacy, len(points))
	for i, r := range points {
		ph := store.Pharmacy{BusinessRecord: r}
		if a := counted.Assignment[i]; a >= 0 {
			ph.Section = enriched[a].Key.String()
		}
		pharmacies[i] = ph
	}
	return &joinOutput{census: stats, counted: counted, pharmacies: pharmacies}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
