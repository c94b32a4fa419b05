package raster

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const defaultNoData = -9999

// ReadArcGrid decodes an ESRI ASCII grid.
func ReadArcGrid(r io.Reader) (*Grid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	sc.Split(bufio.ScanWords)

	header := map[string]float64{}
	var first string
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			first = key
			break
		}
		if !sc.Scan() {
			return nil, fmt.Errorf("arcgrid: missing value for header '%s'", key)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("arcgrid: bad value for header '%s': %v", key, err)
		}
		header[key] = v
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	ncols, okc := header["ncols"]
	nrows, okr := header["nrows"]
	if !okc || !okr || ncols <= 0 || nrows <= 0 {
		return nil, fmt.Errorf("arcgrid: ncols and nrows are required")
	}
	dx, dy := header["cellsize"], header["cellsize"]
	if v, ok := header["dx"]; ok {
		dx = v
	}
	if v, ok := header["dy"]; ok {
		dy = v
	}
	if dx <= 0 || dy <= 0 {
		return nil, fmt.Errorf("arcgrid: cell size must be positive")
	}

	var x0, y0 float64
	if v, ok := header["xllcorner"]; ok {
		x0 = v
	} else if v, ok := header["xllcenter"]; ok {
		x0 = v - dx/2
	} else {
		return nil, fmt.Errorf("arcgrid: xllcorner or xllcenter is required")
	}
	if v, ok := header["yllcorner"]; ok {
		y0 = v
	} else if v, ok := header["yllcenter"]; ok {
		y0 = v - dy/2
	} else {
		return nil, fmt.Errorf("arcgrid: yllcorner or yllcenter is required")
	}

	w, h := int(ncols), int(nrows)
	g := NewGrid(w, h, [6]float64{x0, dx, 0, y0 + float64(h)*dy, 0, -dy})
	if v, ok := header["nodata_value"]; ok {
		g.NoData = v
		g.HasNoData = true
	}

	n := 0
	tok := first
	for tok != "" {
		if n >= len(g.Data) {
			return nil, fmt.Errorf("arcgrid: more than %d values", len(g.Data))
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("arcgrid: bad cell value '%s'", tok)
		}
		g.Data[n] = v
		n++
		tok = ""
		if sc.Scan() {
			tok = sc.Text()
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if n != len(g.Data) {
		return nil, fmt.Errorf("arcgrid: expected %d values, got %d", len(g.Data), n)
	}
	return g, nil
}

func ReadArcGridFile(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	g, err := ReadArcGrid(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return g, nil
}

// WriteArcGrid encodes g as an ESRI ASCII grid. NaN cells are written as the
// nodata value.
func WriteArcGrid(w io.Writer, g *Grid) error {
	if g.Transform[2] != 0 || g.Transform[4] != 0 {
		return fmt.Errorf("arcgrid: rotated grids cannot be encoded")
	}
	bw := bufio.NewWriter(w)
	dx, dy := g.CellSize()
	b := g.Bounds()
	fmt.Fprintf(bw, "ncols %d\nnrows %d\n", g.Width, g.Height)
	fmt.Fprintf(bw, "xllcorner %s\nyllcorner %s\n", formatValue(b.Min[0]), formatValue(b.Min[1]))
	if dx == dy {
		fmt.Fprintf(bw, "cellsize %s\n", formatValue(dx))
	} else {
		fmt.Fprintf(bw, "dx %s\ndy %s\n", formatValue(dx), formatValue(dy))
	}

	nodata := g.NoData
	hasNaN := false
	for _, v := range g.Data {
		if math.IsNaN(v) {
			hasNaN = true
			break
		}
	}
	if !g.HasNoData && hasNaN {
		nodata = defaultNoData
	}
	if g.HasNoData || hasNaN {
		fmt.Fprintf(bw, "NODATA_value %s\n", formatValue(nodata))
	}

	for r := 0; r < g.Height; r++ {
		for c := 0; c < g.Width; c++ {
			if c > 0 {
				bw.WriteByte(' ')
			}
			v := g.At(c, r)
			if math.IsNaN(v) {
				v = nodata
			}
			bw.WriteString(formatValue(v))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
