package spatial

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/pharmacy-density/internal/model"
)

// JoinPolicy decides what happens to sections that contain no points.
type JoinPolicy string

const (
	// JoinOuter keeps every section, with a zero count when empty.
	JoinOuter JoinPolicy = "outer"
	// JoinInner drops sections that contain no points.
	JoinInner JoinPolicy = "inner"
)

// ParsePolicy parses "outer" or "inner" (case-insensitive). Empty means outer.
func ParsePolicy(s string) (JoinPolicy, error) {
	switch JoinPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", JoinOuter:
		return JoinOuter, nil
	case JoinInner:
		return JoinInner, nil
	default:
		return "", eris.Errorf("spatial: unknown join policy %q", s)
	}
}

// JoinResult is the output of CountWithin.
type JoinResult struct {
	Sections []model.SectionWithCount
	// Matched is the number of points that fell inside some section.
	Matched int
	// Unmatched is the number of points outside every section.
	Unmatched int
	// Assignment holds, per input point, the index into the input sections
	// of the section it was counted in, or -1.
	Assignment []int
}

// CountWithin counts the points that fall inside each section. Points and
// sections must share a CRS. A point on a boundary shared by several
// sections is counted once, in the first containing section in input
// order. Zero matched points is an error wrapping model.ErrNoMatches.
func CountWithin(points []model.BusinessRecord, sections []model.EnrichedSection, policy JoinPolicy) (*JoinResult, error) {
	log := zap.L().With(zap.String("component", "spatial"))

	idx := NewIndex(sections)
	counts := make([]int, len(sections))
	res := &JoinResult{Assignment: make([]int, len(points))}

	for i, p := range points {
		x, y := p.Coord()
		hit := idx.Locate(x, y)
		res.Assignment[i] = hit
		if hit < 0 {
			res.Unmatched++
			continue
		}
		counts[hit]++
		res.Matched++
	}

	if res.Matched == 0 {
		return nil, eris.Wrapf(model.ErrNoMatches, "spatial: none of %d points fell inside %d sections", len(points), len(sections))
	}

	res.Sections = make([]model.SectionWithCount, 0, len(sections))
	for i, s := range sections {
		if policy == JoinInner && counts[i] == 0 {
			continue
		}
		res.Sections = append(res.Sections, model.SectionWithCount{EnrichedSection: s, Count: counts[i]})
	}

	log.Info("spatial: counted points in sections",
		zap.Int("points", len(points)),
		zap.Int("matched", res.Matched),
		zap.Int("unmatched", res.Unmatched),
		zap.Int("sections", len(res.Sections)),
		zap.String("policy", string(policy)),
	)
	return res, nil
}

// Index is a uniform grid over section bounding boxes. Each cell lists the
// sections whose bounds overlap it, in ascending input order.
type Index struct {
	sections []model.EnrichedSection
	bounds   []*geom.Bounds
	minX     float64
	minY     float64
	cellW    float64
	cellH    float64
	cols     int
	rows     int
	cells    [][]int
}

// NewIndex builds a grid with roughly one section per cell.
func NewIndex(sections []model.EnrichedSection) *Index {
	idx := &Index{sections: sections, bounds: make([]*geom.Bounds, len(sections))}

	all := geom.NewBounds(geom.XY)
	for i, s := range sections {
		if s.Geometry == nil || s.Geometry.Empty() {
			continue
		}
		b := s.Geometry.Bounds()
		idx.bounds[i] = b
		all.Extend(s.Geometry)
	}
	if all.IsEmpty() {
		return idx
	}

	side := 1
	for side*side < len(sections) {
		side++
	}
	idx.minX, idx.minY = all.Min(0), all.Min(1)
	idx.cols, idx.rows = side, side
	idx.cellW = (all.Max(0) - idx.minX) / float64(side)
	idx.cellH = (all.Max(1) - idx.minY) / float64(side)
	idx.cells = make([][]int, side*side)

	for i, b := range idx.bounds {
		if b == nil {
			continue
		}
		c0, r0 := idx.cell(b.Min(0), b.Min(1))
		c1, r1 := idx.cell(b.Max(0), b.Max(1))
		for r := r0; r <= r1; r++ {
			for c := c0; c <= c1; c++ {
				idx.cells[r*idx.cols+c] = append(idx.cells[r*idx.cols+c], i)
			}
		}
	}
	return idx
}

func (idx *Index) cell(x, y float64) (int, int) {
	c, r := 0, 0
	if idx.cellW > 0 {
		c = int((x - idx.minX) / idx.cellW)
	}
	if idx.cellH > 0 {
		r = int((y - idx.minY) / idx.cellH)
	}
	return clamp(c, idx.cols-1), clamp(r, idx.rows-1)
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

// Locate returns the index of the first section containing (x, y), or -1.
func (idx *Index) Locate(x, y float64) int {
	if idx.cells == nil {
		return -1
	}
	if x < idx.minX || y < idx.minY ||
		x > idx.minX+idx.cellW*float64(idx.cols) || y > idx.minY+idx.cellH*float64(idx.rows) {
		return -1
	}
	c, r := idx.cell(x, y)
	pt := geom.Coord{x, y}
	for _, i := range idx.cells[r*idx.cols+c] {
		if !idx.bounds[i].OverlapsPoint(geom.XY, pt) {
			continue
		}
		if Contains(idx.sections[i].Geometry, pt) {
			return i
		}
	}
	return -1
}
