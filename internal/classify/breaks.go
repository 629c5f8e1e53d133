// Package classify buckets metric values into Low/Medium/High terciles of
// the observed range and combines two such buckets into a bivariate class.
package classify

import (
	"math"

	"github.com/sells-group/pharmacy-density/internal/model"
)

// Bins is the number of equal-width classes per dimension.
const Bins = 3

// Breaks holds equal-width class edges computed from one dataset. Edges are
// data-relative: recompute them for every dataset.
type Breaks struct {
	Min   float64    `json:"min"`
	Max   float64    `json:"max"`
	Edges [2]float64 `json:"edges"`
	// N is the number of finite values the breaks were computed from.
	N int `json:"n"`
}

// EqualWidth splits [min, max] of the finite values into three equal
// intervals. NaN and ±Inf values are ignored. With no finite values every
// value later classifies as Unclassified.
func EqualWidth(values []float64) Breaks {
	b := Breaks{Min: math.NaN(), Max: math.NaN(), Edges: [2]float64{math.NaN(), math.NaN()}}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if b.N == 0 || v < b.Min {
			b.Min = v
		}
		if b.N == 0 || v > b.Max {
			b.Max = v
		}
		b.N++
	}
	if b.N == 0 {
		return b
	}
	width := (b.Max - b.Min) / Bins
	b.Edges[0] = b.Min + width
	b.Edges[1] = b.Min + 2*width
	return b
}

// Category classifies v: below the first edge is Low, above the second is
// High, anything else (edges included) is Medium. A degenerate range where
// every observed value was equal classifies everything as Low. NaN and
// empty breaks yield Unclassified.
func (b Breaks) Category(v float64) model.DensityCategory {
	if b.N == 0 || math.IsNaN(v) {
		return model.Unclassified
	}
	if b.Max == b.Min {
		return model.Low
	}
	switch {
	case v < b.Edges[0]:
		return model.Low
	case v > b.Edges[1]:
		return model.High
	default:
		return model.Medium
	}
}

// Categories classifies each value with b.
func (b Breaks) Categories(values []float64) []model.DensityCategory {
	out := make([]model.DensityCategory, len(values))
	for i, v := range values {
		out[i] = b.Category(v)
	}
	return out
}

// Bivariate combines two categories. Either side Unclassified makes the
// result invalid (its label is "NA.x" or "x.NA").
func Bivariate(x, y model.DensityCategory) model.BivariateCategory {
	return model.BivariateCategory{X: x, Y: y}
}

// BivariateAll classifies paired values with their own breaks and returns
// the per-pair categories together with the breaks used.
func BivariateAll(xs, ys []float64) ([]model.BivariateCategory, Breaks, Breaks) {
	bx, by := EqualWidth(xs), EqualWidth(ys)
	n := min(len(xs), len(ys))
	out := make([]model.BivariateCategory, n)
	for i := 0; i < n; i++ {
		out[i] = Bivariate(bx.Category(xs[i]), by.Category(ys[i]))
	}
	return out, bx, by
}
