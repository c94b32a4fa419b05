package process

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nci/geoserve/processor"
	"github.com/nci/geoserve/raster"
	"github.com/nci/geoserve/wps"
	"github.com/paulmach/orb/geojson"
)

// defaultNoData marks masked cells of grids that carry no nodata value.
const defaultNoData = -9999

var gridResult = []wps.OutputDescriptor{complexOut("result", "Result", wps.GridFormats)}

func rasterProcesses(deps Deps) []wps.Process {
	return []wps.Process{
		newProcess("ras:ZonalStatistics", "Zonal statistics", "Computes statistics of the coverage cells covered by each zone",
			[]wps.InputDescriptor{
				gridIn("data", "Input coverage"),
				literal("dataBand", "Band used to compute statistics", wps.LiteralInteger, "0", 0),
				featuresIn("zones", "Zone polygons"),
				literal("nodata", "Value to be ignored", wps.LiteralDouble, "", 0),
			},
			[]wps.OutputDescriptor{complexOut("statistics", "Zone statistics", wps.FeatureFormats)},
			func(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
				return zonalStatistics(ctx, in, deps.Concurrency)
			}),
		newProcess("ras:Contour", "Contour", "Computes contour lines of a coverage",
			[]wps.InputDescriptor{
				gridIn("data", "Input coverage"),
				literal("band", "Band to contour", wps.LiteralInteger, "0", 0),
				many(literal("levels", "Values of the contours", wps.LiteralDouble, "", 0), 0),
				literal("interval", "Interval between contour values", wps.LiteralDouble, "", 0),
				literal("simplify", "Simplify the contour lines", wps.LiteralBoolean, "false", 0),
				literal("smooth", "Smooth the contour lines", wps.LiteralBoolean, "false", 0),
			},
			featuresResult,
			contour),
		newProcess("ras:CropCoverage", "Crop coverage", "Crops a coverage to a shape, masking the cells outside it",
			[]wps.InputDescriptor{
				gridIn("coverage", "Input coverage"),
				geometryIn("cropShape", "Crop geometry"),
			},
			gridResult,
			cropCoverage),
		newProcess("ras:RangeLookup", "Range lookup", "Reclassifies a coverage by value ranges",
			[]wps.InputDescriptor{
				gridIn("coverage", "Input coverage"),
				literal("band", "Band to reclassify", wps.LiteralInteger, "0", 0),
				many(literal("ranges", "Range in [min;max) notation", wps.LiteralString, "", 1), 1),
				many(literal("outputPixelValues", "Output value of each range", wps.LiteralDouble, "", 0), 0),
				literal("noData", "Value of the cells outside every range", wps.LiteralDouble, "0", 0),
			},
			[]wps.OutputDescriptor{complexOut("reclassified", "Reclassified coverage", wps.GridFormats)},
			rangeLookup),
		newProcess("ras:CoverageClassStats", "Coverage class statistics", "Classifies coverage values and computes statistics for each class",
			[]wps.InputDescriptor{
				gridIn("coverage", "Input coverage"),
				statsInput("stats"),
				literal("band", "Band to classify", wps.LiteralInteger, "0", 0),
				literal("classes", "Number of classes", wps.LiteralInteger, "10", 0),
				methodInput(),
				literal("noData", "Value to be ignored", wps.LiteralDouble, "", 0),
			},
			[]wps.OutputDescriptor{complexOut("results", "Class statistics", documentFormats)},
			coverageClassStats),
		newProcess("ras:RasterAsPointCollection", "Raster as point collection", "Returns a point feature for every valid cell",
			[]wps.InputDescriptor{gridIn("data", "Input coverage")},
			featuresResult,
			func(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
				return rasterAsPoints(ctx, in, progress, deps.MaxFeatures)
			}),
		newProcess("ras:AddCoverages", "Add coverages", "Adds two aligned coverages cell by cell",
			[]wps.InputDescriptor{gridIn("coverageA", "First coverage"), gridIn("coverageB", "Second coverage")},
			gridResult,
			combine(func(a, b float64) float64 { return a + b })),
		newProcess("ras:MultiplyCoverages", "Multiply coverages", "Multiplies two aligned coverages cell by cell",
			[]wps.InputDescriptor{gridIn("coverageA", "First coverage"), gridIn("coverageB", "Second coverage")},
			gridResult,
			combine(func(a, b float64) float64 { return a * b })),
		newProcess("ras:RasterCalculator", "Raster calculator", "Evaluates an expression over value, x, y, col and row for every cell",
			[]wps.InputDescriptor{
				gridIn("coverage", "Input coverage"),
				literal("expression", "Expression to evaluate", wps.LiteralString, "", 1),
			},
			gridResult,
			rasterCalculator),
	}
}

// rowProgress reports the share of rows done and fails once ctx ends.
func rowProgress(ctx context.Context, progress *wps.Progress, row, rows int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if progress != nil && rows > 0 {
		progress.Update(100 * (row + 1) / rows)
	}
	return nil
}

// applyNoData overrides the nodata value of g when id is given.
func applyNoData(in *wps.Inputs, id string, g *raster.Grid) error {
	if !in.Has(id) {
		return nil
	}
	v, err := in.Float(id, 0)
	if err != nil {
		return err
	}
	g.NoData, g.HasNoData = v, true
	return nil
}

func zonalStatistics(ctx context.Context, in *wps.Inputs, conc int) (wps.Outputs, error) {
	if err := checkBand(in, "dataBand"); err != nil {
		return nil, err
	}
	grid, err := in.Grid("data")
	if err != nil {
		return nil, err
	}
	if err := applyNoData(in, "nodata", grid); err != nil {
		return nil, err
	}
	zones, err := in.Features("zones")
	if err != nil {
		return nil, err
	}
	results, err := processor.ZonalStatistics(ctx, grid, zones, conc)
	if err != nil {
		return nil, err
	}

	out := geojson.NewFeatureCollection()
	for _, res := range results {
		f := geojson.NewFeature(res.Feature.Geometry)
		f.ID = res.Feature.ID
		for k, v := range res.Feature.Properties {
			f.Properties["z_"+k] = v
		}
		f.Properties["count"] = res.Stats.Count
		for _, s := range statNames[1:] {
			if res.Stats.Count == 0 {
				f.Properties[s] = nil
				continue
			}
			f.Properties[s] = statValue(res.Stats, s)
		}
		out.Append(f)
	}
	return wps.Outputs{"statistics": out}, nil
}

func contour(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
	if err := checkBand(in, "band"); err != nil {
		return nil, err
	}
	grid, err := in.Grid("data")
	if err != nil {
		return nil, err
	}
	levels, err := in.Floats("levels")
	if err != nil {
		return nil, err
	}
	interval, err := in.Float("interval", 0)
	if err != nil {
		return nil, err
	}
	if len(levels) == 0 && interval <= 0 {
		return nil, wps.InvalidParam("interval", "either levels or a positive interval must be given")
	}
	simplifyLines, err := in.Bool("simplify", false)
	if err != nil {
		return nil, err
	}
	smooth, err := in.Bool("smooth", false)
	if err != nil {
		return nil, err
	}
	lines, err := raster.Contour(grid, raster.ContourOptions{
		Levels:   levels,
		Interval: interval,
		Simplify: simplifyLines,
		Smooth:   smooth,
	})
	if err != nil {
		return nil, wps.InvalidParam("interval", "%v", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := geojson.NewFeatureCollection()
	for _, l := range lines {
		f := geojson.NewFeature(l.Line)
		f.Properties["value"] = l.Value
		out.Append(f)
	}
	return wps.Outputs{"result": out}, nil
}

func cropCoverage(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
	grid, err := in.Grid("coverage")
	if err != nil {
		return nil, err
	}
	shape, err := in.Geometry("cropShape")
	if err != nil {
		return nil, err
	}
	cropped, err := grid.Crop(shape.Bound())
	if err != nil {
		return nil, wps.InvalidParam("cropShape", "%v", err)
	}
	if !cropped.HasNoData {
		cropped.NoData, cropped.HasNoData = defaultNoData, true
	}
	inside := make([]bool, len(cropped.Data))
	for _, i := range raster.CellsIn(cropped, shape) {
		inside[i] = true
	}
	for i := range cropped.Data {
		if !inside[i] {
			cropped.Data[i] = cropped.NoData
		}
	}
	return wps.Outputs{"result": cropped}, nil
}

// valueRange is a parsed "[a;b)" interval. Either end may be open ended
// with an empty or infinite bound.
type valueRange struct {
	lo, hi         float64
	loIncl, hiIncl bool
}

func (r valueRange) contains(v float64) bool {
	if v < r.lo || (v == r.lo && !r.loIncl) {
		return false
	}
	if v > r.hi || (v == r.hi && !r.hiIncl) {
		return false
	}
	return true
}

func parseRange(s string) (valueRange, error) {
	s = strings.TrimSpace(s)
	if len(s) < 3 {
		return valueRange{}, fmt.Errorf("invalid range '%s'", s)
	}
	var r valueRange
	switch s[0] {
	case '[':
		r.loIncl = true
	case '(':
	default:
		return valueRange{}, fmt.Errorf("invalid range '%s', expected [ or ( at start", s)
	}
	switch s[len(s)-1] {
	case ']':
		r.hiIncl = true
	case ')':
	default:
		return valueRange{}, fmt.Errorf("invalid range '%s', expected ] or ) at end", s)
	}
	parts := strings.Split(s[1:len(s)-1], ";")
	if len(parts) != 2 {
		return valueRange{}, fmt.Errorf("invalid range '%s', expected min;max", s)
	}
	bound := func(p string, def float64) (float64, error) {
		p = strings.TrimSpace(p)
		if p == "" {
			return def, nil
		}
		return strconv.ParseFloat(p, 64)
	}
	var err error
	if r.lo, err = bound(parts[0], math.Inf(-1)); err != nil {
		return valueRange{}, fmt.Errorf("invalid range '%s': %v", s, err)
	}
	if r.hi, err = bound(parts[1], math.Inf(1)); err != nil {
		return valueRange{}, fmt.Errorf("invalid range '%s': %v", s, err)
	}
	if r.lo > r.hi {
		return valueRange{}, fmt.Errorf("invalid range '%s', min is greater than max", s)
	}
	return r, nil
}

func rangeLookup(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
	if err := checkBand(in, "band"); err != nil {
		return nil, err
	}
	grid, err := in.Grid("coverage")
	if err != nil {
		return nil, err
	}
	var ranges []valueRange
	for _, s := range in.Strings("ranges") {
		r, err := parseRange(s)
		if err != nil {
			return nil, wps.InvalidParam("ranges", "%v", err)
		}
		ranges = append(ranges, r)
	}
	if len(ranges) == 0 {
		return nil, wps.MissingParam("ranges")
	}
	values, err := in.Floats("outputPixelValues")
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		for i := range ranges {
			values = append(values, float64(i+1))
		}
	}
	if len(values) != len(ranges) {
		return nil, wps.InvalidParam("outputPixelValues", "%d output values given for %d ranges", len(values), len(ranges))
	}
	noData, err := in.Float("noData", 0)
	if err != nil {
		return nil, err
	}

	out := grid.Clone()
	out.NoData, out.HasNoData = noData, true
	for row := 0; row < grid.Height; row++ {
		for col := 0; col < grid.Width; col++ {
			v := grid.At(col, row)
			res := noData
			if !grid.IsNoData(v) {
				for i, r := range ranges {
					if r.contains(v) {
						res = values[i]
						break
					}
				}
			}
			out.Set(col, row, res)
		}
		if err := rowProgress(ctx, progress, row, grid.Height); err != nil {
			return nil, err
		}
	}
	return wps.Outputs{"reclassified": out}, nil
}

func coverageClassStats(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
	if err := checkBand(in, "band"); err != nil {
		return nil, err
	}
	grid, err := in.Grid("coverage")
	if err != nil {
		return nil, err
	}
	if err := applyNoData(in, "noData", grid); err != nil {
		return nil, err
	}
	stats, err := requestedStats(in, "stats")
	if err != nil {
		return nil, err
	}
	classes, err := in.Int("classes", 10)
	if err != nil {
		return nil, err
	}
	values := grid.Values()
	if len(values) == 0 {
		return nil, wps.InvalidParam("coverage", "the coverage has no valid cells")
	}
	cs, err := newClassStats(values, classes, in.String("method", raster.EqualInterval), stats)
	if err != nil {
		return nil, wps.InvalidParam("classes", "%v", err)
	}
	return wps.Outputs{"results": cs}, nil
}

func rasterAsPoints(ctx context.Context, in *wps.Inputs, progress *wps.Progress, maxFeatures int) (wps.Outputs, error) {
	grid, err := in.Grid("data")
	if err != nil {
		return nil, err
	}
	out := geojson.NewFeatureCollection()
	for row := 0; row < grid.Height; row++ {
		for col := 0; col < grid.Width; col++ {
			v := grid.At(col, row)
			if grid.IsNoData(v) {
				continue
			}
			if maxFeatures > 0 && len(out.Features) >= maxFeatures {
				return nil, wps.InvalidParam("data", "the coverage produces more than %d points", maxFeatures)
			}
			f := geojson.NewFeature(grid.CellCenter(col, row))
			f.Properties["value"] = v
			out.Append(f)
		}
		if err := rowProgress(ctx, progress, row, grid.Height); err != nil {
			return nil, err
		}
	}
	return wps.Outputs{"result": out}, nil
}

// combine builds a cell wise operation over two aligned coverages. A cell
// that is nodata in either input is nodata in the output.
func combine(op func(a, b float64) float64) runFunc {
	return func(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
		a, err := in.Grid("coverageA")
		if err != nil {
			return nil, err
		}
		b, err := in.Grid("coverageB")
		if err != nil {
			return nil, err
		}
		if !a.Aligned(b) {
			return nil, wps.InvalidParam("coverageB", "coverages must share the same grid")
		}
		out := a.Clone()
		if !out.HasNoData {
			if b.HasNoData {
				out.NoData = b.NoData
			} else {
				out.NoData = defaultNoData
			}
			out.HasNoData = true
		}
		for row := 0; row < a.Height; row++ {
			for col := 0; col < a.Width; col++ {
				va, vb := a.At(col, row), b.At(col, row)
				if a.IsNoData(va) || b.IsNoData(vb) {
					out.Set(col, row, out.NoData)
					continue
				}
				out.Set(col, row, op(va, vb))
			}
			if err := rowProgress(ctx, progress, row, a.Height); err != nil {
				return nil, err
			}
		}
		return wps.Outputs{"result": out}, nil
	}
}

var calculatorVars = map[string]bool{"value": true, "x": true, "y": true, "col": true, "row": true}

func rasterCalculator(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
	grid, err := in.Grid("coverage")
	if err != nil {
		return nil, err
	}
	expr, err := parseExpression("expression", in.String("expression", ""), calculatorVars)
	if err != nil {
		return nil, err
	}
	out := grid.Clone()
	if !out.HasNoData {
		out.NoData, out.HasNoData = defaultNoData, true
	}
	params := make(map[string]interface{}, len(calculatorVars))
	for row := 0; row < grid.Height; row++ {
		for col := 0; col < grid.Width; col++ {
			v := grid.At(col, row)
			if grid.IsNoData(v) {
				out.Set(col, row, out.NoData)
				continue
			}
			p := grid.CellCenter(col, row)
			params["value"] = v
			params["x"] = p[0]
			params["y"] = p[1]
			params["col"] = float64(col)
			params["row"] = float64(row)
			res, err := expr.float(params)
			if err != nil {
				return nil, wps.InvalidParam("expression", "cell (%d,%d): %v", col, row, err)
			}
			if math.IsNaN(res) || math.IsInf(res, 0) {
				res = out.NoData
			}
			out.Set(col, row, res)
		}
		if err := rowProgress(ctx, progress, row, grid.Height); err != nil {
			return nil, err
		}
	}
	return wps.Outputs{"result": out}, nil
}
