package raster

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
)

// CellsIn returns the indexes into g.Data of the cells covered by geom, in
// ascending order. Polygon cells are selected by centre containment, points
// take the cell they fall on and lines every cell they cross. Members of
// multi geometries and collections are merged.
func CellsIn(g *Grid, geom orb.Geometry) []int {
	if geom == nil {
		return nil
	}
	cs := &cellSet{g: g, seen: map[int]bool{}}
	cs.addGeometry(geom)
	sort.Ints(cs.out)
	return cs.out
}

type cellSet struct {
	g    *Grid
	seen map[int]bool
	out  []int
}

func (cs *cellSet) add(col, row int) {
	if col < 0 || row < 0 || col >= cs.g.Width || row >= cs.g.Height {
		return
	}
	i := row*cs.g.Width + col
	if !cs.seen[i] {
		cs.seen[i] = true
		cs.out = append(cs.out, i)
	}
}

func (cs *cellSet) addGeometry(geom orb.Geometry) {
	switch t := geom.(type) {
	case orb.Polygon, orb.MultiPolygon, orb.Ring, orb.Bound:
		cs.addAreal(geom)
	case orb.Point:
		if c, r, ok := cs.g.CellOf(t); ok {
			cs.add(c, r)
		}
	case orb.MultiPoint:
		for _, p := range t {
			cs.addGeometry(p)
		}
	case orb.LineString:
		cs.addLine(t)
	case orb.MultiLineString:
		for _, ls := range t {
			cs.addLine(ls)
		}
	case orb.Collection:
		for _, m := range t {
			cs.addGeometry(m)
		}
	}
}

func (cs *cellSet) addAreal(geom orb.Geometry) {
	c0, r0, c1, r1, ok := cs.g.Window(geom.Bound())
	if !ok {
		return
	}
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			if Covers(geom, cs.g.CellCenter(c, r)) {
				cs.add(c, r)
			}
		}
	}
}

func (cs *cellSet) addLine(ls orb.LineString) {
	if len(ls) == 1 {
		cs.addGeometry(ls[0])
		return
	}
	if cs.g.Transform[1] == 0 || cs.g.Transform[5] == 0 {
		return
	}
	for _, part := range clip.LineString(cs.g.Bounds(), ls) {
		for i := 1; i < len(part); i++ {
			cs.addSegment(part[i-1], part[i])
		}
	}
}

// addSegment walks the cells crossed by the segment a-b in grid space.
func (cs *cellSet) addSegment(a, b orb.Point) {
	t := cs.g.Transform
	x0, y0 := (a[0]-t[0])/t[1], (a[1]-t[3])/t[5]
	x1, y1 := (b[0]-t[0])/t[1], (b[1]-t[3])/t[5]
	col, row := int(math.Floor(x0)), int(math.Floor(y0))
	endCol, endRow := int(math.Floor(x1)), int(math.Floor(y1))

	stepC, tMaxC, tDeltaC := walkAxis(x0, x1)
	stepR, tMaxR, tDeltaR := walkAxis(y0, y1)
	n := abs(endCol-col) + abs(endRow-row)
	cs.add(col, row)
	for i := 0; i < n; i++ {
		if tMaxC < tMaxR {
			col += stepC
			tMaxC += tDeltaC
		} else {
			row += stepR
			tMaxR += tDeltaR
		}
		cs.add(col, row)
	}
}

// walkAxis returns the step direction, the parameter of the first cell
// boundary and the parameter distance between boundaries along one axis.
func walkAxis(from, to float64) (int, float64, float64) {
	d := to - from
	switch {
	case d > 0:
		return 1, (math.Floor(from) + 1 - from) / d, 1 / d
	case d < 0:
		return -1, (math.Floor(from) - from) / d, -1 / d
	}
	return 0, math.Inf(1), math.Inf(1)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Covers reports whether the areal geometry geom contains p.
func Covers(geom orb.Geometry, p orb.Point) bool {
	switch t := geom.(type) {
	case orb.Polygon:
		return planar.PolygonContains(t, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(t, p)
	case orb.Ring:
		return planar.RingContains(t, p)
	case orb.Bound:
		return t.Contains(p)
	case orb.Collection:
		for _, g := range t {
			if Covers(g, p) {
				return true
			}
		}
	}
	return false
}
