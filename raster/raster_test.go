package raster

import (
	"bytes"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/paulmach/orb"
)

const sampleGrid = `ncols 4
nrows 3
xllcorner 0
yllcorner 0
cellsize 1
NODATA_value -9999
1 2 3 4
5 6 -9999 8
9 10 11 12
`

func TestReadArcGrid(t *testing.T) {
	g, err := ReadArcGrid(strings.NewReader(sampleGrid))
	if err != nil {
		t.Fatalf("failed to read grid: %v", err)
	}
	if g.Width != 4 || g.Height != 3 {
		t.Fatalf("unexpected size %dx%d", g.Width, g.Height)
	}
	if g.Transform[3] != 3 || g.Transform[5] != -1 {
		t.Errorf("unexpected transform %v", g.Transform)
	}
	if !g.IsNoData(g.At(2, 1)) {
		t.Errorf("expected nodata at (2,1), got %v", g.At(2, 1))
	}
	if c := g.CellCenter(0, 0); c != (orb.Point{0.5, 2.5}) {
		t.Errorf("unexpected cell centre %v", c)
	}
	col, row, ok := g.CellOf(orb.Point{3.5, 0.2})
	if !ok || col != 3 || row != 2 {
		t.Errorf("CellOf returned %d %d %v", col, row, ok)
	}
}

func TestReadArcGridCentreHeader(t *testing.T) {
	src := "NCOLS 2\nNROWS 1\nXLLCENTER 10.5\nYLLCENTER 20.5\nDX 1\nDY 1\n7 8\n"
	g, err := ReadArcGrid(strings.NewReader(src))
	if err != nil {
		t.Fatalf("failed to read grid: %v", err)
	}
	b := g.Bounds()
	if b.Min != (orb.Point{10, 20}) || b.Max != (orb.Point{12, 21}) {
		t.Errorf("unexpected bounds %v", b)
	}
}

func TestReadArcGridShort(t *testing.T) {
	src := "ncols 2\nnrows 2\nxllcorner 0\nyllcorner 0\ncellsize 1\n1 2 3\n"
	if _, err := ReadArcGrid(strings.NewReader(src)); err == nil {
		t.Errorf("expected an error for a truncated grid")
	}
}

func TestWriteArcGridRoundTrip(t *testing.T) {
	g, err := ReadArcGrid(strings.NewReader(sampleGrid))
	if err != nil {
		t.Fatal(err)
	}
	g.Set(0, 0, math.NaN())
	var buf bytes.Buffer
	if err := WriteArcGrid(&buf, g); err != nil {
		t.Fatal(err)
	}
	back, err := ReadArcGrid(&buf)
	if err != nil {
		t.Fatalf("failed to read encoded grid: %v", err)
	}
	if !back.IsNoData(back.At(0, 0)) {
		t.Errorf("NaN cell was not written as nodata")
	}
	if back.At(3, 2) != 12 || !back.Aligned(g) {
		t.Errorf("round trip changed the grid")
	}
}

func TestCrop(t *testing.T) {
	g, _ := ReadArcGrid(strings.NewReader(sampleGrid))
	c, err := g.Crop(orb.Bound{Min: orb.Point{1.2, 0.5}, Max: orb.Point{2.8, 1.5}})
	if err != nil {
		t.Fatal(err)
	}
	if c.Width != 2 || c.Height != 2 {
		t.Fatalf("unexpected crop size %dx%d", c.Width, c.Height)
	}
	if c.At(0, 0) != 6 || c.At(1, 1) != 11 {
		t.Errorf("unexpected crop values %v", c.Data)
	}
	if _, err := g.Crop(orb.Bound{Min: orb.Point{10, 10}, Max: orb.Point{11, 11}}); err == nil {
		t.Errorf("expected an error cropping outside the grid")
	}
}

func TestAccumulator(t *testing.T) {
	var a, b Accumulator
	for _, v := range []float64{2, 4, 4, 4} {
		a.Add(v)
	}
	for _, v := range []float64{5, 5, 7, 9, math.NaN()} {
		b.Add(v)
	}
	a.Merge(&b)
	s := a.Stats()
	if s.Count != 8 || s.Min != 2 || s.Max != 9 || s.Sum != 40 || s.Avg != 5 {
		t.Errorf("unexpected stats %+v", s)
	}
	if math.Abs(s.StdDev-2) > 1e-12 {
		t.Errorf("expected population stddev 2, got %v", s.StdDev)
	}
	if m := Median([]float64{3, 1, 2, 10}); m != 2.5 {
		t.Errorf("unexpected median %v", m)
	}
}

func TestBreaks(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	eq, err := Breaks(values, 3, EqualInterval)
	if err != nil {
		t.Fatal(err)
	}
	if eq[0] != 1 || eq[3] != 10 || eq[1] != 4 {
		t.Errorf("unexpected equal interval breaks %v", eq)
	}

	q, _ := Breaks(values, 2, Quantile)
	if len(q) != 3 || q[1] != 6 {
		t.Errorf("unexpected quantile breaks %v", q)
	}

	clustered := []float64{1, 1.1, 1.2, 5, 5.1, 5.2, 9, 9.1, 9.2}
	nb, err := Breaks(clustered, 3, NaturalBreaks)
	if err != nil {
		t.Fatal(err)
	}
	if nb[1] != 5 || nb[2] != 9 {
		t.Errorf("natural breaks did not find the clusters: %v", nb)
	}

	if _, err := Breaks(values, 3, "Bogus"); err == nil {
		t.Errorf("expected an error for an unknown method")
	}
	if ClassOf(eq, 10) != 2 || ClassOf(eq, 1) != 0 || ClassOf(eq, 11) != -1 {
		t.Errorf("ClassOf misplaced boundary values")
	}
}

func TestLevels(t *testing.T) {
	l, err := Levels(0.5, 10, 2.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(l) != 4 || l[0] != 2.5 || l[3] != 10 {
		t.Errorf("unexpected levels %v", l)
	}
	if _, err := Levels(0, 1, 0); err == nil {
		t.Errorf("expected an error for a zero interval")
	}
}

func TestContourClosedRing(t *testing.T) {
	g := NewGrid(3, 3, [6]float64{0, 1, 0, 3, 0, -1})
	g.Set(1, 1, 10)
	lines, err := Contour(g, ContourOptions{Levels: []float64{5}})
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected one ring, got %d", len(lines))
	}
	ring := lines[0].Line
	if len(ring) != 5 || !ring[0].Equal(ring[len(ring)-1]) {
		t.Errorf("expected a closed ring of 4 crossings, got %v", ring)
	}
	for _, p := range ring {
		if math.Abs(p[0]-1.5)+math.Abs(p[1]-1.5) != 0.5 {
			t.Errorf("crossing %v is not half way to the peak", p)
		}
	}
}

func TestContourOpenLine(t *testing.T) {
	g := NewGrid(4, 2, [6]float64{0, 1, 0, 2, 0, -1})
	for r := 0; r < 2; r++ {
		for c := 0; c < 4; c++ {
			g.Set(c, r, float64(c))
		}
	}
	lines, err := Contour(g, ContourOptions{Interval: 1.5, Smooth: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected two isolines, got %d", len(lines))
	}
	for _, l := range lines {
		if l.Line[0].Equal(l.Line[len(l.Line)-1]) {
			t.Errorf("isoline %v should be open", l.Value)
		}
	}
}

func TestContourSkipsNoData(t *testing.T) {
	g := NewGrid(2, 2, [6]float64{0, 1, 0, 2, 0, -1})
	g.Data = []float64{0, 10, 10, math.NaN()}
	lines, err := Contour(g, ContourOptions{Levels: []float64{5}})
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 0 {
		t.Errorf("expected no lines through a nodata square, got %v", lines)
	}
}

func TestCellsIn(t *testing.T) {
	g := NewGrid(4, 4, [6]float64{0, 1, 0, 4, 0, -1})
	poly := orb.Polygon{{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}}
	if cells := CellsIn(g, poly); len(cells) != 4 {
		t.Errorf("expected 4 cells in the lower left quadrant, got %v", cells)
	}
	full := orb.Polygon{{{0, 0}, {4, 0}, {4, 4}, {0, 4}, {0, 0}}}
	if cells := CellsIn(g, orb.Collection{full}); len(cells) != 16 {
		t.Errorf("expected 16 cells for a collection covering the grid, got %v", cells)
	}

	row := orb.LineString{{0.5, 3.5}, {3.5, 3.5}}
	if cells := CellsIn(g, row); !reflect.DeepEqual(cells, []int{0, 1, 2, 3}) {
		t.Errorf("expected the whole top row for the line, got %v", cells)
	}
	column := orb.LineString{{2.5, 3.9}, {2.5, 0.1}}
	if cells := CellsIn(g, column); !reflect.DeepEqual(cells, []int{2, 6, 10, 14}) {
		t.Errorf("expected the third column for the line, got %v", cells)
	}
	outside := orb.LineString{{-10, 0.5}, {1.5, 0.5}}
	if cells := CellsIn(g, outside); !reflect.DeepEqual(cells, []int{12, 13}) {
		t.Errorf("expected the clipped part of the line, got %v", cells)
	}

	mixed := orb.Collection{poly, row, orb.Point{3.5, 0.5}}
	if cells := CellsIn(g, mixed); !reflect.DeepEqual(cells, []int{0, 1, 2, 3, 8, 9, 12, 13, 15}) {
		t.Errorf("unexpected cells for a mixed collection: %v", cells)
	}
	if cells := CellsIn(g, orb.MultiPoint{{0.5, 0.5}, {0.6, 0.6}}); len(cells) != 1 {
		t.Errorf("expected 1 distinct cell for the points, got %v", cells)
	}
}
