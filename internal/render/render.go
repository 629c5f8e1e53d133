// Package render draws section maps and scatter plots with gonum/plot.
package render

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/sells-group/pharmacy-density/internal/classify"
	"github.com/sells-group/pharmacy-density/internal/model"
)

// Options controls titles and optional overlays.
type Options struct {
	Title  string
	XLabel string
	YLabel string
	// TrendLine adds an ordinary least squares fit to Scatter.
	TrendLine bool
}

var (
	outlineColor = color.NRGBA{R: 0x55, G: 0x55, B: 0x55, A: 0xff}
	pointColor   = color.NRGBA{R: 0xd7, G: 0x30, B: 0x27, A: 0xc0}
)

// Choropleth fills each section with a sequential color for values[i].
// NaN values are drawn with classify.NAColor.
func Choropleth(sections []model.SectionWithCount, values []float64, opts Options) (*plot.Plot, error) {
	if len(values) != len(sections) {
		return nil, eris.Errorf("render: %d values for %d sections", len(values), len(sections))
	}
	lo, hi, ok := finiteRange(values)
	cmap := moreland.Kindlmann()
	if ok {
		if lo == hi {
			lo, hi = lo-0.5, hi+0.5
		}
		cmap.SetMin(lo)
		cmap.SetMax(hi)
	}

	p := newMap(opts)
	for i, s := range sections {
		fill := color.Color(classify.NAColor)
		if ok && finite(values[i]) {
			c, err := cmap.At(values[i])
			if err != nil {
				return nil, eris.Wrapf(err, "render: color for section %s", s.Key)
			}
			fill = c
		}
		if err := addSection(p, s.Geometry, fill); err != nil {
			return nil, eris.Wrapf(err, "render: section %s", s.Key)
		}
	}
	if ok {
		if err := rangeLegend(p, cmap, lo, hi); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// PointOverlay draws records as small dots on top of an existing map.
func PointOverlay(p *plot.Plot, points []model.BusinessRecord) error {
	if len(points) == 0 {
		return nil
	}
	xys := make(plotter.XYs, len(points))
	for i, r := range points {
		xys[i].X, xys[i].Y = r.Coord()
	}
	sc, err := plotter.NewScatter(xys)
	if err != nil {
		return eris.Wrap(err, "render: point overlay")
	}
	sc.GlyphStyle.Shape = draw.CircleGlyph{}
	sc.GlyphStyle.Radius = vg.Points(1)
	sc.GlyphStyle.Color = pointColor
	p.Add(sc)
	return nil
}

// BivariateMap fills each section with the palette color of its category
// and adds a nine-entry legend plus one for unclassified sections.
func BivariateMap(sections []model.SectionWithCount, categories []model.BivariateCategory, pal *classify.Palette, opts Options) (*plot.Plot, error) {
	if len(categories) != len(sections) {
		return nil, eris.Errorf("render: %d categories for %d sections", len(categories), len(sections))
	}
	if pal == nil {
		pal = classify.DefaultPalette()
	}
	p := newMap(opts)
	for i, s := range sections {
		if err := addSection(p, s.Geometry, pal.Color(categories[i])); err != nil {
			return nil, eris.Wrapf(err, "render: section %s", s.Key)
		}
	}
	for _, label := range classify.Labels() {
		c, _ := model.ParseBivariateLabel(label)
		if err := legendSwatch(p, label, pal.Color(c)); err != nil {
			return nil, err
		}
	}
	if err := legendSwatch(p, "NA", classify.NAColor); err != nil {
		return nil, err
	}
	return p, nil
}

// Line is y = Intercept + Slope*x.
type Line struct {
	Intercept float64
	Slope     float64
}

// Fit returns the least squares line through the finite pairs of xs and
// ys. ok is false with fewer than two distinct x values.
func Fit(xs, ys []float64) (Line, bool) {
	fx, fy := finitePairs(xs, ys)
	if len(fx) < 2 {
		return Line{}, false
	}
	lo, hi, _ := finiteRange(fx)
	if lo == hi {
		return Line{}, false
	}
	alpha, beta := stat.LinearRegression(fx, fy, nil, false)
	return Line{Intercept: alpha, Slope: beta}, true
}

// Scatter plots the finite (x, y) pairs, optionally with a dashed OLS line.
func Scatter(xs, ys []float64, opts Options) (*plot.Plot, error) {
	if len(xs) != len(ys) {
		return nil, eris.Errorf("render: %d x values for %d y values", len(xs), len(ys))
	}
	fx, fy := finitePairs(xs, ys)
	if len(fx) == 0 {
		return nil, eris.New("render: scatter has no finite points")
	}

	p := plot.New()
	p.Title.Text = opts.Title
	p.Title.TextStyle.Font.Size = vg.Points(14)
	p.X.Label.Text = opts.XLabel
	p.Y.Label.Text = opts.YLabel
	p.Add(plotter.NewGrid())

	xys := make(plotter.XYs, len(fx))
	for i := range fx {
		xys[i] = plotter.XY{X: fx[i], Y: fy[i]}
	}
	sc, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, eris.Wrap(err, "render: scatter")
	}
	sc.GlyphStyle.Shape = draw.CircleGlyph{}
	sc.GlyphStyle.Radius = vg.Points(2)
	sc.GlyphStyle.Color = color.NRGBA{R: 0x31, G: 0x68, B: 0x9e, A: 0xb0}
	p.Add(sc)

	if opts.TrendLine {
		if fit, ok := Fit(fx, fy); ok {
			lo, hi, _ := finiteRange(fx)
			line := plotter.NewFunction(func(x float64) float64 { return fit.Intercept + fit.Slope*x })
			line.XMin, line.XMax = lo, hi
			line.Samples = 2
			line.Color = color.NRGBA{R: 0xc0, A: 0xff}
			line.Width = vg.Points(1.5)
			line.Dashes = []vg.Length{vg.Points(5), vg.Points(5)}
			p.Add(line)
			p.Legend.Add(fmt.Sprintf("y = %.3g + %.3gx", fit.Intercept, fit.Slope), line)
		}
	}
	return p, nil
}

// Save writes p to path as PNG or SVG, chosen by extension.
func Save(p *plot.Plot, path string, w, h vg.Length) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png", ".svg":
	default:
		return eris.Errorf("render: unsupported image format %q", ext)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "render: create dir for %s", path)
	}
	if err := p.Save(w, h, path); err != nil {
		return eris.Wrapf(err, "render: save %s", path)
	}
	return nil
}

func newMap(opts Options) *plot.Plot {
	p := plot.New()
	p.Title.Text = opts.Title
	p.Title.TextStyle.Font.Size = vg.Points(14)
	p.HideAxes()
	p.Legend.Top = true
	return p
}

func addSection(p *plot.Plot, mp *geom.MultiPolygon, fill color.Color) error {
	if mp == nil {
		return nil
	}
	for i := 0; i < mp.NumPolygons(); i++ {
		rings := polygonRings(mp.Polygon(i))
		if len(rings) == 0 {
			continue
		}
		poly, err := plotter.NewPolygon(rings...)
		if err != nil {
			return err
		}
		poly.Color = fill
		poly.LineStyle.Color = outlineColor
		poly.LineStyle.Width = vg.Points(0.25)
		p.Add(poly)
	}
	return nil
}

// polygonRings returns the rings of poly with the outer ring counter-clockwise
// and every hole clockwise, as the plot backends expect.
func polygonRings(poly *geom.Polygon) []plotter.XYer {
	var out []plotter.XYer
	for r := 0; r < poly.NumLinearRings(); r++ {
		coords := poly.LinearRing(r).Coords()
		if len(coords) < 3 {
			continue
		}
		xys := make(plotter.XYs, len(coords))
		for i, c := range coords {
			xys[i] = plotter.XY{X: c.X(), Y: c.Y()}
		}
		ccw := signedArea(xys) > 0
		if (r == 0) != ccw {
			reverse(xys)
		}
		out = append(out, xys)
	}
	return out
}

func signedArea(xys plotter.XYs) float64 {
	var sum float64
	for i := range xys {
		j := (i + 1) % len(xys)
		sum += xys[i].X*xys[j].Y - xys[j].X*xys[i].Y
	}
	return sum / 2
}

func reverse(xys plotter.XYs) {
	for i, j := 0, len(xys)-1; i < j; i, j = i+1, j-1 {
		xys[i], xys[j] = xys[j], xys[i]
	}
}

func rangeLegend(p *plot.Plot, cmap palette.ColorMap, lo, hi float64) error {
	for _, v := range []float64{lo, (lo + hi) / 2, hi} {
		c, err := cmap.At(v)
		if err != nil {
			return eris.Wrap(err, "render: legend color")
		}
		if err := legendSwatch(p, fmt.Sprintf("%.3g", v), c); err != nil {
			return err
		}
	}
	return legendSwatch(p, "NA", classify.NAColor)
}

func legendSwatch(p *plot.Plot, label string, c color.Color) error {
	sw, err := plotter.NewPolygon(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}})
	if err != nil {
		return eris.Wrap(err, "render: legend swatch")
	}
	sw.Color = c
	sw.LineStyle.Width = 0
	p.Legend.Add(label, sw)
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finiteRange(values []float64) (lo, hi float64, ok bool) {
	for _, v := range values {
		if !finite(v) {
			continue
		}
		if !ok || v < lo {
			lo = v
		}
		if !ok || v > hi {
			hi = v
		}
		ok = true
	}
	return lo, hi, ok
}

func finitePairs(xs, ys []float64) ([]float64, []float64) {
	n := min(len(xs), len(ys))
	fx := make([]float64, 0, n)
	fy := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if finite(xs[i]) && finite(ys[i]) {
			fx = append(fx, xs[i])
			fy = append(fy, ys[i])
		}
	}
	return fx, fy
}
