package raster

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
)

// ContourLine is a single isoline at Value.
type ContourLine struct {
	Value float64
	Line  orb.LineString
}

type ContourOptions struct {
	Levels    []float64
	Interval  float64
	Simplify  bool
	Smooth    bool
	Tolerance float64
}

// Levels returns the multiples of interval inside [lo, hi].
func Levels(lo, hi, interval float64) ([]float64, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("contour interval must be positive")
	}
	start := math.Ceil(lo / interval)
	var out []float64
	for i := 0; ; i++ {
		v := (start + float64(i)) * interval
		if v > hi {
			break
		}
		out = append(out, v)
		if len(out) > 10000 {
			return nil, fmt.Errorf("contour interval %g yields too many levels", interval)
		}
	}
	return out, nil
}

// edge identifies a cell side between two neighbouring sample centres.
// Horizontal edges join (c,r)-(c+1,r), vertical ones (c,r)-(c,r+1).
type edge struct {
	horizontal bool
	c, r       int
}

type segment struct {
	a, b edge
}

// Contour traces isolines through the cell centres of g with marching
// squares. Squares touching nodata are skipped.
func Contour(g *Grid, opts ContourOptions) ([]ContourLine, error) {
	levels := opts.Levels
	if len(levels) == 0 {
		lo, hi, ok := g.MinMax()
		if !ok {
			return nil, nil
		}
		var err error
		if levels, err = Levels(lo, hi, opts.Interval); err != nil {
			return nil, err
		}
	}
	var out []ContourLine
	for _, level := range levels {
		for _, line := range traceLevel(g, level) {
			if opts.Simplify {
				tol := opts.Tolerance
				if tol <= 0 {
					dx, _ := g.CellSize()
					tol = dx / 2
				}
				line = simplify.DouglasPeucker(tol).LineString(line)
			}
			if opts.Smooth {
				line = Chaikin(line, 2)
			}
			if len(line) < 2 {
				continue
			}
			out = append(out, ContourLine{Value: level, Line: line})
		}
	}
	return out, nil
}

func traceLevel(g *Grid, level float64) []orb.LineString {
	points := map[edge]orb.Point{}
	var segs []segment

	cross := func(e edge) edge {
		if _, ok := points[e]; ok {
			return e
		}
		c2, r2 := e.c, e.r+1
		if e.horizontal {
			c2, r2 = e.c+1, e.r
		}
		v1, v2 := g.At(e.c, e.r), g.At(c2, r2)
		t := (level - v1) / (v2 - v1)
		p1, p2 := g.CellCenter(e.c, e.r), g.CellCenter(c2, r2)
		points[e] = orb.Point{p1[0] + t*(p2[0]-p1[0]), p1[1] + t*(p2[1]-p1[1])}
		return e
	}

	for r := 0; r+1 < g.Height; r++ {
		for c := 0; c+1 < g.Width; c++ {
			tl, tr := g.At(c, r), g.At(c+1, r)
			br, bl := g.At(c+1, r+1), g.At(c, r+1)
			if g.IsNoData(tl) || g.IsNoData(tr) || g.IsNoData(br) || g.IsNoData(bl) {
				continue
			}
			idx := 0
			if tl >= level {
				idx |= 8
			}
			if tr >= level {
				idx |= 4
			}
			if br >= level {
				idx |= 2
			}
			if bl >= level {
				idx |= 1
			}
			if idx == 0 || idx == 15 {
				continue
			}
			top := edge{true, c, r}
			bottom := edge{true, c, r + 1}
			left := edge{false, c, r}
			right := edge{false, c + 1, r}
			add := func(a, b edge) {
				segs = append(segs, segment{cross(a), cross(b)})
			}
			centre := (tl+tr+br+bl)/4 >= level
			switch idx {
			case 1, 14:
				add(left, bottom)
			case 2, 13:
				add(bottom, right)
			case 3, 12:
				add(left, right)
			case 4, 11:
				add(top, right)
			case 6, 9:
				add(top, bottom)
			case 7, 8:
				add(left, top)
			case 5:
				if centre {
					add(left, top)
					add(bottom, right)
				} else {
					add(left, bottom)
					add(top, right)
				}
			case 10:
				if centre {
					add(top, right)
					add(left, bottom)
				} else {
					add(left, top)
					add(bottom, right)
				}
			}
		}
	}
	return stitch(segs, points)
}

// stitch joins segments sharing an edge crossing into polylines. Closed
// rings repeat their first point.
func stitch(segs []segment, points map[edge]orb.Point) []orb.LineString {
	at := map[edge][]int{}
	for i, s := range segs {
		at[s.a] = append(at[s.a], i)
		at[s.b] = append(at[s.b], i)
	}
	used := make([]bool, len(segs))
	next := func(from edge) (edge, bool) {
		for _, i := range at[from] {
			if used[i] {
				continue
			}
			used[i] = true
			if segs[i].a == from {
				return segs[i].b, true
			}
			return segs[i].a, true
		}
		return edge{}, false
	}

	var out []orb.LineString
	for i, s := range segs {
		if used[i] {
			continue
		}
		used[i] = true
		forward := []edge{s.a, s.b}
		for {
			e, ok := next(forward[len(forward)-1])
			if !ok {
				break
			}
			forward = append(forward, e)
		}
		var backward []edge
		tail := s.a
		for {
			e, ok := next(tail)
			if !ok {
				break
			}
			backward = append(backward, e)
			tail = e
		}
		line := make(orb.LineString, 0, len(backward)+len(forward))
		for j := len(backward) - 1; j >= 0; j-- {
			line = append(line, points[backward[j]])
		}
		for _, e := range forward {
			line = append(line, points[e])
		}
		out = append(out, line)
	}
	return out
}

// Chaikin smooths line with the given number of corner cutting passes.
// Endpoints of open lines are kept in place.
func Chaikin(line orb.LineString, passes int) orb.LineString {
	if len(line) < 3 {
		return line
	}
	closed := line[0].Equal(line[len(line)-1])
	for p := 0; p < passes; p++ {
		out := make(orb.LineString, 0, 2*len(line))
		if !closed {
			out = append(out, line[0])
		}
		for i := 0; i+1 < len(line); i++ {
			a, b := line[i], line[i+1]
			out = append(out,
				orb.Point{0.75*a[0] + 0.25*b[0], 0.75*a[1] + 0.25*b[1]},
				orb.Point{0.25*a[0] + 0.75*b[0], 0.25*a[1] + 0.75*b[1]},
			)
		}
		if closed {
			out = append(out, out[0])
		} else {
			out = append(out, line[len(line)-1])
		}
		line = out
	}
	return line
}
