// Package raster holds single band grid coverages and the raster
// algorithms run over them.
package raster

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Grid is a single band raster. Transform follows the GDAL geotransform
// layout: originX, pixel width, row rotation, originY, column rotation,
// pixel height (negative for north-up grids).
type Grid struct {
	Width     int
	Height    int
	Transform [6]float64
	NoData    float64
	HasNoData bool
	CRS       string
	Data      []float64
}

func NewGrid(width, height int, transform [6]float64) *Grid {
	return &Grid{
		Width:     width,
		Height:    height,
		Transform: transform,
		Data:      make([]float64, width*height),
	}
}

func (g *Grid) At(col, row int) float64 {
	return g.Data[row*g.Width+col]
}

func (g *Grid) Set(col, row int, v float64) {
	g.Data[row*g.Width+col] = v
}

func (g *Grid) IsNoData(v float64) bool {
	return math.IsNaN(v) || (g.HasNoData && v == g.NoData)
}

// CellSize returns the absolute pixel width and height.
func (g *Grid) CellSize() (float64, float64) {
	return math.Abs(g.Transform[1]), math.Abs(g.Transform[5])
}

func (g *Grid) CellCenter(col, row int) orb.Point {
	x := g.Transform[0] + (float64(col)+0.5)*g.Transform[1] + (float64(row)+0.5)*g.Transform[2]
	y := g.Transform[3] + (float64(col)+0.5)*g.Transform[4] + (float64(row)+0.5)*g.Transform[5]
	return orb.Point{x, y}
}

func (g *Grid) Bounds() orb.Bound {
	x0 := g.Transform[0]
	y0 := g.Transform[3]
	x1 := x0 + float64(g.Width)*g.Transform[1] + float64(g.Height)*g.Transform[2]
	y1 := y0 + float64(g.Width)*g.Transform[4] + float64(g.Height)*g.Transform[5]
	return orb.Bound{
		Min: orb.Point{math.Min(x0, x1), math.Min(y0, y1)},
		Max: orb.Point{math.Max(x0, x1), math.Max(y0, y1)},
	}
}

// CellOf returns the cell containing p. Rotated grids are not supported.
func (g *Grid) CellOf(p orb.Point) (int, int, bool) {
	if g.Transform[1] == 0 || g.Transform[5] == 0 {
		return 0, 0, false
	}
	col := int(math.Floor((p[0] - g.Transform[0]) / g.Transform[1]))
	row := int(math.Floor((p[1] - g.Transform[3]) / g.Transform[5]))
	if col < 0 || row < 0 || col >= g.Width || row >= g.Height {
		return col, row, false
	}
	return col, row, true
}

func (g *Grid) Clone() *Grid {
	c := *g
	c.Data = append([]float64(nil), g.Data...)
	return &c
}

// Values returns every valid cell value.
func (g *Grid) Values() []float64 {
	out := make([]float64, 0, len(g.Data))
	for _, v := range g.Data {
		if !g.IsNoData(v) {
			out = append(out, v)
		}
	}
	return out
}

// Aligned reports whether both grids share size and geotransform.
func (g *Grid) Aligned(o *Grid) bool {
	if g.Width != o.Width || g.Height != o.Height {
		return false
	}
	for i := range g.Transform {
		if math.Abs(g.Transform[i]-o.Transform[i]) > 1e-9*math.Max(1, math.Abs(g.Transform[i])) {
			return false
		}
	}
	return true
}

// Window returns the cell range [c0,c1]x[r0,r1] overlapping b, clamped to the
// grid. ok is false when b does not overlap the grid.
func (g *Grid) Window(b orb.Bound) (c0, r0, c1, r1 int, ok bool) {
	if !g.Bounds().Intersects(b) {
		return 0, 0, 0, 0, false
	}
	ca := (b.Min[0] - g.Transform[0]) / g.Transform[1]
	cb := (b.Max[0] - g.Transform[0]) / g.Transform[1]
	ra := (b.Min[1] - g.Transform[3]) / g.Transform[5]
	rb := (b.Max[1] - g.Transform[3]) / g.Transform[5]
	c0 = clamp(int(math.Floor(math.Min(ca, cb))), 0, g.Width-1)
	c1 = clamp(int(math.Ceil(math.Max(ca, cb)))-1, 0, g.Width-1)
	r0 = clamp(int(math.Floor(math.Min(ra, rb))), 0, g.Height-1)
	r1 = clamp(int(math.Ceil(math.Max(ra, rb)))-1, 0, g.Height-1)
	if c1 < c0 || r1 < r0 {
		return 0, 0, 0, 0, false
	}
	return c0, r0, c1, r1, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Crop returns the sub grid covering b.
func (g *Grid) Crop(b orb.Bound) (*Grid, error) {
	c0, r0, c1, r1, ok := g.Window(b)
	if !ok {
		return nil, fmt.Errorf("crop area does not overlap the coverage")
	}
	w := c1 - c0 + 1
	h := r1 - r0 + 1
	t := g.Transform
	t[0] = g.Transform[0] + float64(c0)*g.Transform[1] + float64(r0)*g.Transform[2]
	t[3] = g.Transform[3] + float64(c0)*g.Transform[4] + float64(r0)*g.Transform[5]
	out := NewGrid(w, h, t)
	out.NoData = g.NoData
	out.HasNoData = g.HasNoData
	out.CRS = g.CRS
	for r := 0; r < h; r++ {
		copy(out.Data[r*w:(r+1)*w], g.Data[(r0+r)*g.Width+c0:(r0+r)*g.Width+c0+w])
	}
	return out, nil
}

// MinMax returns the range of valid values. ok is false when every cell is
// nodata.
func (g *Grid) MinMax() (float64, float64, bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range g.Data {
		if g.IsNoData(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi, lo <= hi
}
