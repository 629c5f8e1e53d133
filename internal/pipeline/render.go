package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/plot/vg"

	"github.com/sells-group/pharmacy-density/internal/classify"
	"github.com/sells-group/pharmacy-density/internal/config"
	"github.com/sells-group/pharmacy-density/internal/model"
	"github.com/sells-group/pharmacy-density/internal/render"
)

// Output file stems written by Render.
const (
	DensityMapName   = "pharmacy_density"
	BivariateMapName = "bivariate"
)

// Render writes the density choropleth with pharmacy points, the bivariate
// map and the x/y scatter plot into cfg.OutDir. pal may be nil for the
// default palette. It returns the written paths.
func Render(result *Result, cfg config.RenderConfig, pal *classify.Palette) ([]string, error) {
	log := zap.L().With(zap.String("component", "pipeline.render"))

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "png"
	}
	w, h := vg.Length(cfg.WidthInch)*vg.Inch, vg.Length(cfg.HeightInch)*vg.Inch
	sections := make([]model.SectionWithCount, len(result.Sections))
	cats := make([]model.BivariateCategory, len(result.Sections))
	for i, s := range result.Sections {
		sections[i] = s.SectionWithCount
		cats[i] = s.Category
	}
	path := func(stem string) string {
		return filepath.Join(cfg.OutDir, stem+"."+format)
	}

	var written []string

	density, err := render.Choropleth(sections, MetricValues(result.Sections, MetricPharmaciesPerKM2), render.Options{
		Title: "Farmacias por km²",
	})
	if err != nil {
		return written, err
	}
	points := make([]model.BusinessRecord, len(result.Pharmacies))
	for i, ph := range result.Pharmacies {
		points[i] = ph.BusinessRecord
	}
	if err := render.PointOverlay(density, points); err != nil {
		return written, err
	}
	if err := render.Save(density, path(DensityMapName), w, h); err != nil {
		return written, err
	}
	written = append(written, path(DensityMapName))

	bivariate, err := render.BivariateMap(sections, cats, pal, render.Options{
		Title: fmt.Sprintf("%s vs %s", result.XField, result.YField),
	})
	if err != nil {
		return written, err
	}
	if err := render.Save(bivariate, path(BivariateMapName), w, h); err != nil {
		return written, err
	}
	written = append(written, path(BivariateMapName))

	scatterName := ScatterName(result.XField, result.YField)
	scatter, err := render.Scatter(MetricValues(result.Sections, result.XField), MetricValues(result.Sections, result.YField), render.Options{
		Title:     fmt.Sprintf("%s vs %s", result.XField, result.YField),
		XLabel:    result.XField,
		YLabel:    result.YField,
		TrendLine: cfg.TrendLine,
	})
	if err != nil {
		// No section has both metrics defined; the maps are still useful.
		log.Warn("pipeline: skipping scatter plot", zap.Error(err))
	} else {
		if err := render.Save(scatter, path(scatterName), w, h); err != nil {
			return written, err
		}
		written = append(written, path(scatterName))
	}

	log.Info("pipeline: rendered outputs", zap.Strings("files", written))
	return written, nil
}

// ScatterName is the file stem of the scatter plot for two metrics.
func ScatterName(x, y string) string {
	return "scatter_" + x + "_vs_" + y
}
