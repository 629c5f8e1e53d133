package pipeline

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/pharmacy-density/internal/classify"
	"github.com/sells-group/pharmacy-density/internal/model"
)

// Metric names derived for every section.
const (
	MetricPharmaciesPerKM2 = "pharmacies_per_km2"
	MetricPharmaciesPer10K = "pharmacies_per_10k"

	perKM2Suffix = "_per_km2"
)

// DensityMetric names the per-km² density of a census field.
func DensityMetric(field string) string {
	return field + perKM2Suffix
}

// DeriveMetrics computes pharmacies per km², each census field per km² and,
// when population names a census field, pharmacies per 10,000 inhabitants.
// Undefined ratios are NaN. The returned names are in column order.
func DeriveMetrics(sections []model.SectionWithCount, fields []string, population string) ([]model.SectionResult, []string) {
	names := []string{MetricPharmaciesPerKM2}
	for _, f := range fields {
		names = append(names, DensityMetric(f))
	}
	if population != "" {
		names = append(names, MetricPharmaciesPer10K)
	}

	out := make([]model.SectionResult, len(sections))
	for i, s := range sections {
		m := make(map[string]float64, len(names))
		m[MetricPharmaciesPerKM2] = s.Density()
		for _, f := range fields {
			m[DensityMetric(f)] = s.Ratio(f)
		}
		if population != "" {
			m[MetricPharmaciesPer10K] = s.PerPopulation(population, 10000)
		}
		out[i] = model.SectionResult{SectionWithCount: s, Metrics: m}
	}
	return out, names
}

// MetricValues returns one metric for every row, NaN where absent.
func MetricValues(rows []model.SectionResult, name string) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		v, ok := r.Metrics[name]
		if !ok {
			v = math.NaN()
		}
		out[i] = v
	}
	return out
}

// Classify sets each row's bivariate category from equal-width breaks of
// the xField and yField metrics and returns the breaks used.
func Classify(rows []model.SectionResult, xField, yField string) (classify.Breaks, classify.Breaks, error) {
	if len(rows) > 0 {
		for _, f := range []string{xField, yField} {
			if _, ok := rows[0].Metrics[f]; !ok {
				return classify.Breaks{}, classify.Breaks{}, eris.Errorf("pipeline: unknown metric %q (have %v)", f, sortedKeys(rows[0].Metrics))
			}
		}
	}
	cats, bx, by := classify.BivariateAll(MetricValues(rows, xField), MetricValues(rows, yField))
	for i := range rows {
		rows[i].Category = cats[i]
	}
	return bx, by, nil
}

// Correlations returns the Pearson correlation between pharmacy density
// and the density of each census field, over sections where both are
// defined. Fields with fewer than three such sections or a constant
// series are omitted.
func Correlations(rows []model.SectionResult, fields []string) map[string]float64 {
	density := MetricValues(rows, MetricPharmaciesPerKM2)
	out := make(map[string]float64, len(fields))
	for _, f := range fields {
		name := DensityMetric(f)
		xs, ys := finitePairs(density, MetricValues(rows, name))
		if len(xs) < 3 {
			continue
		}
		if r := stat.Correlation(xs, ys, nil); finite(r) {
			out[name] = r
		}
	}
	return out
}

func finitePairs(xs, ys []float64) ([]float64, []float64) {
	var fx, fy []float64
	for i := range xs {
		if i < len(ys) && finite(xs[i]) && finite(ys[i]) {
			fx = append(fx, xs[i])
			fy = append(fy, ys[i])
		}
	}
	return fx, fy
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
