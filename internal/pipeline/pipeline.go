// Package pipeline orchestrates the pharmacy density analysis: load the
// registry, section and census inputs, filter pharmacies, reproject, join,
// derive metrics, classify and optionally persist the run.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharmacy-density/internal/classify"
	"github.com/sells-group/pharmacy-density/internal/config"
	"github.com/sells-group/pharmacy-density/internal/fetcher"
	"github.com/sells-group/pharmacy-density/internal/model"
	"github.com/sells-group/pharmacy-density/internal/projection"
	"github.com/sells-group/pharmacy-density/internal/registry"
	"github.com/sells-group/pharmacy-density/internal/spatial"
	"github.com/sells-group/pharmacy-density/internal/store"
)

// Step names, in execution order.
const (
	StepLoad     = "1_load"
	StepFilter   = "2_filter"
	StepProject  = "3_project"
	StepJoin     = "4_join"
	StepClassify = "5_classify"
	StepPersist  = "6_persist"
)

// Pipeline runs the analysis once over the configured inputs.
type Pipeline struct {
	cfg     *config.Config
	store   store.Store
	fetcher fetcher.Fetcher
}

// New creates a Pipeline. st may be nil to skip persistence and f may be
// nil when every input is a local path.
func New(cfg *config.Config, st store.Store, f fetcher.Fetcher) *Pipeline {
	return &Pipeline{cfg: cfg, store: st, fetcher: f}
}

// Result is everything a run produced.
type Result struct {
	Run model.Run
	// Sections holds the counted sections in input order. Under the inner
	// join policy zero-count sections are absent.
	Sections []model.SectionResult
	// Pharmacies are the filtered records in the target CRS, each with the
	// key of the section it was counted in.
	Pharmacies []store.Pharmacy
	SourceCRS  projection.CRS
	TargetCRS  projection.CRS
	// PrjWKT is the .prj text for TargetCRS when it came from the section
	// shapefile, empty otherwise.
	PrjWKT  string
	XField  string
	YField  string
	XBreaks classify.Breaks
	YBreaks classify.Breaks
	// Metrics lists every metric name available on the sections.
	Metrics []string
}

// Run executes steps one through five and persists the run when a store
// is configured. Each step consumes the complete output of the previous one.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"))
	log.Info("pipeline: starting run", zap.String("keyword", p.cfg.Filter.Keyword))

	policy, err := spatial.ParsePolicy(p.cfg.Join.Policy)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: join policy")
	}

	result := &Result{
		Run: model.Run{
			Keyword:    p.cfg.Filter.Keyword,
			JoinPolicy: string(policy),
			CreatedAt:  time.Now().UTC(),
		},
		XField: p.cfg.Classify.XField,
		YField: p.cfg.Classify.YField,
	}

	trackStep := func(name string, fn func() (int, error)) error {
		start := time.Now()
		rows, fnErr := fn()
		step := model.StepResult{
			Name:     name,
			Rows:     rows,
			Duration: time.Since(start).Milliseconds(),
		}
		if fnErr != nil {
			step.Status = model.StepStatusFailed
			step.Error = fnErr.Error()
			log.Error("pipeline: step failed",
				zap.String("step", name),
				zap.Int64("duration_ms", step.Duration),
				zap.Error(fnErr),
			)
		} else {
			step.Status = model.StepStatusComplete
			log.Info("pipeline: step complete",
				zap.String("step", name),
				zap.Int("rows", rows),
				zap.Int64("duration_ms", step.Duration),
			)
		}
		result.Run.Steps = append(result.Run.Steps, step)
		return fnErr
	}

	// fail records the partial run, failed step included, before returning.
	fail := func(stepErr error) (*Result, error) {
		if p.store != nil {
			if _, saveErr := p.store.SaveRun(ctx, &result.Run); saveErr != nil {
				log.Warn("pipeline: failed to save failed run", zap.Error(saveErr))
			}
		}
		return result, stepErr
	}

	// ===== Step 1: Load (three inputs in parallel) =====
	var in *Inputs
	if err := trackStep(StepLoad, func() (int, error) {
		var loadErr error
		in, loadErr = p.Load(ctx)
		if loadErr != nil {
			return 0, loadErr
		}
		return len(in.Businesses.Records) + len(in.Layer.Sections) + len(in.Census.Rows), nil
	}); err != nil {
		return fail(err)
	}
	result.Run.Businesses = len(in.Businesses.Records)

	// ===== Step 2: Filter =====
	var pharmacies []model.BusinessRecord
	_ = trackStep(StepFilter, func() (int, error) {
		pharmacies = registry.FilterPharmacies(in.Businesses.Records, p.cfg.Filter.Keyword)
		return len(pharmacies), nil
	})
	result.Run.Pharmacies = len(pharmacies)

	// ===== Step 3: Project =====
	var sections []model.SectionPolygon
	if err := trackStep(StepProject, func() (int, error) {
		proj, projErr := p.project(pharmacies, in.Layer)
		if projErr != nil {
			return 0, projErr
		}
		pharmacies, sections = proj.points, proj.sections
		result.SourceCRS, result.TargetCRS, result.PrjWKT = proj.source, proj.target, proj.prjWKT
		return len(pharmacies) + len(sections), nil
	}); err != nil {
		return fail(err)
	}
	result.Run.SourceCRS = result.SourceCRS.String()
	result.Run.TargetCRS = result.TargetCRS.String()

	// ===== Step 4: Join + aggregate =====
	var joined *joinOutput
	if err := trackStep(StepJoin, func() (int, error) {
		var joinErr error
		joined, joinErr = p.join(pharmacies, sections, in.Census.Rows, result.TargetCRS, policy)
		if joinErr != nil {
			return 0, joinErr
		}
		return len(joined.counted.Sections), nil
	}); err != nil {
		return fail(err)
	}
	result.Run.Matched = joined.counted.Matched
	result.Run.Sections = len(joined.counted.Sections)
	result.Run.CensusMatched = joined.census.Matched
	result.Pharmacies = joined.pharmacies

	// ===== Step 5: Derive metrics + classify =====
	if err := trackStep(StepClassify, func() (int, error) {
		fields := p.cfg.Columns.Census.Fields
		rows, names := DeriveMetrics(joined.counted.Sections, fields, p.cfg.Columns.Census.Population)
		result.Metrics = names
		bx, by, clsErr := Classify(rows, result.XField, result.YField)
		if clsErr != nil {
			return 0, clsErr
		}
		result.Sections, result.XBreaks, result.YBreaks = rows, bx, by
		result.Run.Correlations = Correlations(rows, fields)
		return len(rows), nil
	}); err != nil {
		return fail(err)
	}

	// ===== Step 6: Persist =====
	if p.store != nil {
		if err := trackStep(StepPersist, func() (int, error) {
			return p.persist(ctx, result)
		}); err != nil {
			if result.Run.ID == "" {
				return result, err
			}
			return fail(err)
		}
		// Re-save so the stored summary includes the persist step.
		if _, saveErr := p.store.SaveRun(ctx, &result.Run); saveErr != nil {
			log.Warn("pipeline: failed to update run summary", zap.Error(saveErr))
		}
	}

	log.Info("pipeline: run complete",
		zap.String("run_id", result.Run.ID),
		zap.Int("businesses", result.Run.Businesses),
		zap.Int("pharmacies", result.Run.Pharmacies),
		zap.Int("matched", result.Run.Matched),
		zap.Int("sections", result.Run.Sections),
		zap.String("target_crs", result.Run.TargetCRS),
	)
	return result, nil
}

// persist saves the run, its sections and its pharmacies.
func (p *Pipeline) persist(ctx context.Context, result *Result) (int, error) {
	id, err := p.store.SaveRun(ctx, &result.Run)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: save run")
	}
	result.Run.ID = id
	n, err := p.store.SaveSections(ctx, id, result.TargetCRS.EPSG, result.Sections)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: save sections")
	}
	m, err := p.store.SavePharmacies(ctx, id, result.Pharmacies)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: save pharmacies")
	}
	return int(n + m), nil
}
