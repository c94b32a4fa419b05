package process

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/nci/geoserve/raster"
	"github.com/nci/geoserve/vector"
	"github.com/nci/geoserve/wps"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
	"github.com/paulmach/orb/simplify"
)

var aggregateFunctions = []string{"Count", "Average", "Max", "Median", "Min", "StdDev", "Sum", "SumArea"}

var featuresResult = []wps.OutputDescriptor{complexOut("result", "Result", wps.FeatureFormats)}

func vectorProcesses() []wps.Process {
	return []wps.Process{
		newProcess("gs:Aggregate", "Aggregate", "Computes one or more aggregation functions on a feature attribute",
			[]wps.InputDescriptor{
				featuresIn("features", "Input feature collection"),
				literal("aggregationAttribute", "Attribute on which to perform aggregation", wps.LiteralString, "", 0),
				many(choice("function", "An aggregate function to compute", "", 1, aggregateFunctions...), 1),
				literal("singlePass", "If true computes all aggregation values in a single pass", wps.LiteralBoolean, "false", 0),
				many(literal("groupByAttributes", "List of group by attributes", wps.LiteralString, "", 0), 0),
			},
			[]wps.OutputDescriptor{complexOut("result", "Aggregation results", documentFormats)},
			aggregate),
		newProcess("gs:Bounds", "Bounds", "Computes the bounding box of the input features",
			[]wps.InputDescriptor{featuresIn("features", "Input feature collection")},
			[]wps.OutputDescriptor{{Identifier: "bounds", Title: "Bounds", BoundingBox: true}},
			bounds),
		newProcess("gs:Count", "Count", "Computes the number of features in a feature collection",
			[]wps.InputDescriptor{featuresIn("features", "Input feature collection")},
			[]wps.OutputDescriptor{literalOut("result", "Number of features", wps.LiteralInteger)},
			count),
		newProcess("gs:Unique", "Unique", "Returns the unique values of an attribute with their number of occurrences",
			[]wps.InputDescriptor{
				featuresIn("features", "Input feature collection"),
				literal("attribute", "Attribute whose unique values are returned", wps.LiteralString, "", 1),
			},
			featuresResult,
			unique),
		newProcess("gs:Query", "Query", "Filters a feature collection and selects attributes",
			[]wps.InputDescriptor{
				featuresIn("features", "Input feature collection"),
				many(literal("attribute", "Attribute to include in the output", wps.LiteralString, "", 0), 0),
				literal("filter", "Filter expression over the feature attributes", wps.LiteralString, "", 0),
			},
			featuresResult,
			query),
		newProcess("gs:RectangularClip", "Rectangular clip", "Clips the features to the specified bounding box",
			[]wps.InputDescriptor{
				featuresIn("features", "Input feature collection"),
				bboxIn("clip", "Bounds of clipping rectangle"),
			},
			featuresResult,
			rectangularClip),
		newProcess("gs:Reproject", "Reproject", "Reprojects features between EPSG:4326 and EPSG:3857",
			[]wps.InputDescriptor{
				featuresIn("features", "Input feature collection"),
				literal("forcedCRS", "Coordinate reference system of the input", wps.LiteralString, "EPSG:4326", 0),
				literal("targetCRS", "Target coordinate reference system", wps.LiteralString, "", 1),
			},
			featuresResult,
			reproject),
		newProcess("gs:Centroid", "Centroid", "Replaces feature geometries with their centroids",
			[]wps.InputDescriptor{featuresIn("features", "Input feature collection")},
			featuresResult,
			centroid),
		newProcess("gs:CollectGeometries", "Collect geometries", "Collects the feature geometries into a single geometry",
			[]wps.InputDescriptor{featuresIn("features", "Input feature collection")},
			geometryResult,
			collectGeometries),
		newProcess("gs:Simplify", "Simplify", "Simplifies feature geometries with the Douglas-Peucker algorithm",
			[]wps.InputDescriptor{
				featuresIn("features", "Input feature collection"),
				literal("distance", "Simplification distance tolerance", wps.LiteralDouble, "", 1),
			},
			featuresResult,
			simplifyFeatures),
		newProcess("gs:FeatureClassStats", "Feature class statistics", "Classifies an attribute and computes statistics for each class",
			[]wps.InputDescriptor{
				featuresIn("features", "Input feature collection"),
				literal("attribute", "Attribute to classify", wps.LiteralString, "", 1),
				literal("numClasses", "Number of classes", wps.LiteralInteger, "10", 0),
				methodInput(),
				statsInput("stats"),
				literal("noData", "Value to be ignored", wps.LiteralDouble, "", 0),
			},
			[]wps.OutputDescriptor{complexOut("results", "Class statistics", documentFormats)},
			featureClassStats),
	}
}

func aggregate(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
	fc, err := in.Features("features")
	if err != nil {
		return nil, err
	}
	attr := in.String("aggregationAttribute", "")
	var functions []string
	for _, f := range in.Strings("function") {
		canonical := ""
		for _, a := range aggregateFunctions {
			if strings.EqualFold(a, f) {
				canonical = a
			}
		}
		if canonical == "" {
			return nil, wps.InvalidParam("function", "unknown aggregation function %s", f)
		}
		if canonical != "SumArea" && canonical != "Count" && attr == "" {
			return nil, wps.MissingParam("aggregationAttribute")
		}
		functions = append(functions, canonical)
	}
	groupBy := in.Strings("groupByAttributes")

	type group struct {
		keys   []interface{}
		values []float64
		count  int
		area   float64
	}
	groups := map[string]*group{}
	var order []string
	for _, f := range fc.Features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var keys []interface{}
		var parts []string
		for _, g := range groupBy {
			k := fmt.Sprint(f.Properties[g])
			keys = append(keys, k)
			parts = append(parts, k)
		}
		key := strings.Join(parts, "\x00")
		grp, ok := groups[key]
		if !ok {
			grp = &group{keys: keys}
			groups[key] = grp
			order = append(order, key)
		}
		if f.Geometry != nil {
			grp.area += planar.Area(f.Geometry)
		}
		if attr == "" {
			grp.count++
			continue
		}
		if v, ok := toFloat(f.Properties[attr]); ok {
			grp.values = append(grp.values, v)
			grp.count++
		}
	}
	sort.Strings(order)

	result := &aggregateResult{Attribute: attr, Functions: functions, GroupBy: groupBy}
	if len(groupBy) == 0 && len(order) == 0 {
		order = append(order, "")
		groups[""] = &group{}
	}
	for _, key := range order {
		grp := groups[key]
		row := append([]interface{}{}, grp.keys...)
		var acc raster.Accumulator
		for _, v := range grp.values {
			acc.Add(v)
		}
		st := acc.Stats()
		for _, fn := range functions {
			var v interface{}
			switch fn {
			case "Count":
				v = grp.count
			case "SumArea":
				v = grp.area
			case "Sum":
				v = st.Sum
			default:
				if st.Count == 0 {
					v = nil
					break
				}
				switch fn {
				case "Average":
					v = st.Avg
				case "Max":
					v = st.Max
				case "Min":
					v = st.Min
				case "StdDev":
					v = st.StdDev
				case "Median":
					v = raster.Median(append([]float64(nil), grp.values...))
				}
			}
			row = append(row, v)
		}
		result.Rows = append(result.Rows, row)
	}
	return wps.Outputs{"result": result}, nil
}

func bounds(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
	fc, err := in.Features("features")
	if err != nil {
		return nil, err
	}
	b, ok := vector.CollectionBound(fc)
	if !ok {
		return nil, wps.InvalidParam("features", "the feature collection has no geometries")
	}
	return wps.Outputs{"bounds": wps.BoundingBox{Bound: b, CRS: "EPSG:4326"}}, nil
}

func count(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
	fc, err := in.Features("features")
	if err != nil {
		return nil, err
	}
	return wps.Outputs{"result": len(fc.Features)}, nil
}

func unique(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
	fc, err := in.Features("features")
	if err != nil {
		return nil, err
	}
	attr := in.String("attribute", "")
	counts := map[string]int{}
	values := map[string]interface{}{}
	for _, f := range fc.Features {
		v, ok := f.Properties[attr]
		if !ok || v == nil {
			continue
		}
		k := fmt.Sprint(v)
		if _, seen := values[k]; !seen {
			values[k] = v
		}
		counts[k]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := geojson.NewFeatureCollection()
	for _, k := range keys {
		f := geojson.NewFeature(nil)
		f.Properties["value"] = values[k]
		f.Properties["count"] = counts[k]
		out.Append(f)
	}
	return wps.Outputs{"result": out}, nil
}

func query(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
	fc, err := in.Features("features")
	if err != nil {
		return nil, err
	}
	var filter *expression
	if src := in.String("filter", ""); src != "" {
		if filter, err = parseExpression("filter", src, nil); err != nil {
			return nil, err
		}
	}
	attrs := in.Strings("attribute")

	out := geojson.NewFeatureCollection()
	for _, f := range fc.Features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if filter != nil {
			params := make(map[string]interface{}, len(f.Properties))
			for k, v := range f.Properties {
				params[k] = v
			}
			keep, err := filter.bool(params)
			if err != nil {
				return nil, wps.InvalidParam("filter", "%v", err)
			}
			if !keep {
				continue
			}
		}
		nf := geojson.NewFeature(f.Geometry)
		nf.ID = f.ID
		if len(attrs) == 0 {
			for k, v := range f.Properties {
				nf.Properties[k] = v
			}
		} else {
			for _, a := range attrs {
				if v, ok := f.Properties[a]; ok {
					nf.Properties[a] = v
				}
			}
		}
		out.Append(nf)
	}
	return wps.Outputs{"result": out}, nil
}

// mapGeometries returns a copy of fc with fn applied to each geometry.
// Features whose geometry becomes nil are dropped.
func mapGeometries(ctx context.Context, fc *geojson.FeatureCollection, fn func(orb.Geometry) orb.Geometry) (*geojson.FeatureCollection, error) {
	out := geojson.NewFeatureCollection()
	for _, f := range fc.Features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.Geometry == nil {
			continue
		}
		g := fn(orb.Clone(f.Geometry))
		if g == nil {
			continue
		}
		nf := geojson.NewFeature(g)
		nf.ID = f.ID
		for k, v := range f.Properties {
			nf.Properties[k] = v
		}
		out.Append(nf)
	}
	return out, nil
}

func rectangularClip(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
	fc, err := in.Features("features")
	if err != nil {
		return nil, err
	}
	b, _, err := in.BoundingBox("clip")
	if err != nil {
		return nil, err
	}
	out, err := mapGeometries(ctx, fc, func(g orb.Geometry) orb.Geometry {
		if !g.Bound().Intersects(b) {
			return nil
		}
		return clip.Geometry(b, g)
	})
	if err != nil {
		return nil, err
	}
	return wps.Outputs{"result": out}, nil
}

func normaliseCRS(id, crs string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(crs))
	c = strings.TrimPrefix(c, "URN:OGC:DEF:CRS:")
	c = strings.Replace(c, "EPSG::", "EPSG:", 1)
	switch c {
	case "EPSG:4326", "CRS84", "OGC:1.3:CRS84":
		return "EPSG:4326", nil
	case "EPSG:3857", "EPSG:900913", "EPSG:3785":
		return "EPSG:3857", nil
	}
	return "", wps.InvalidParam(id, "unsupported CRS %s, expected EPSG:4326 or EPSG:3857", crs)
}

func reproject(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
	fc, err := in.Features("features")
	if err != nil {
		return nil, err
	}
	from, err := normaliseCRS("forcedCRS", in.String("forcedCRS", "EPSG:4326"))
	if err != nil {
		return nil, err
	}
	to, err := normaliseCRS("targetCRS", in.String("targetCRS", ""))
	if err != nil {
		return nil, err
	}
	var proj orb.Projection
	switch {
	case from == to:
		proj = func(p orb.Point) orb.Point { return p }
	case to == "EPSG:3857":
		proj = project.WGS84.ToMercator
	default:
		proj = project.Mercator.ToWGS84
	}
	out, err := mapGeometries(ctx, fc, func(g orb.Geometry) orb.Geometry {
		return project.Geometry(g, proj)
	})
	if err != nil {
		return nil, err
	}
	return wps.Outputs{"result": out}, nil
}

func centroid(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
	fc, err := in.Features("features")
	if err != nil {
		return nil, err
	}
	out, err := mapGeometries(ctx, fc, func(g orb.Geometry) orb.Geometry {
		c, _ := planar.CentroidArea(g)
		if math.IsNaN(c[0]) || math.IsNaN(c[1]) {
			return nil
		}
		return c
	})
	if err != nil {
		return nil, err
	}
	return wps.Outputs{"result": out}, nil
}

// collect merges geometries into the matching multi geometry, or a
// geometry collection when they are of different kinds.
func collect(geoms []orb.Geometry) orb.Geometry {
	var points orb.MultiPoint
	var lines orb.MultiLineString
	var polys orb.MultiPolygon
	var col orb.Collection
	mixed := false
	kind := ""
	for _, g := range geoms {
		var k string
		switch v := g.(type) {
		case orb.Point:
			k, points = "point", append(points, v)
		case orb.MultiPoint:
			k, points = "point", append(points, v...)
		case orb.LineString:
			k, lines = "line", append(lines, v)
		case orb.MultiLineString:
			k, lines = "line", append(lines, v...)
		case orb.Polygon:
			k, polys = "polygon", append(polys, v)
		case orb.MultiPolygon:
			k, polys = "polygon", append(polys, v...)
		default:
			k = "other"
		}
		if kind != "" && k != kind {
			mixed = true
		}
		kind = k
		col = append(col, g)
	}
	if mixed || kind == "other" {
		return col
	}
	switch kind {
	case "point":
		return points
	case "line":
		return lines
	case "polygon":
		return polys
	}
	return col
}

func collectGeometries(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
	fc, err := in.Features("features")
	if err != nil {
		return nil, err
	}
	var geoms []orb.Geometry
	for _, f := range fc.Features {
		if f.Geometry != nil {
			geoms = append(geoms, f.Geometry)
		}
	}
	return wps.Outputs{"result": collect(geoms)}, nil
}

func simplifyFeatures(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
	fc, err := in.Features("features")
	if err != nil {
		return nil, err
	}
	distance, err := in.Float("distance", 0)
	if err != nil {
		return nil, err
	}
	if distance < 0 {
		return nil, wps.InvalidParam("distance", "distance must not be negative")
	}
	s := simplify.DouglasPeucker(distance)
	out, err := mapGeometries(ctx, fc, func(g orb.Geometry) orb.Geometry {
		return s.Simplify(g)
	})
	if err != nil {
		return nil, err
	}
	return wps.Outputs{"result": out}, nil
}

func featureClassStats(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
	fc, err := in.Features("features")
	if err != nil {
		return nil, err
	}
	attr := in.String("attribute", "")
	classes, err := in.Int("numClasses", 10)
	if err != nil {
		return nil, err
	}
	stats, err := requestedStats(in, "stats")
	if err != nil {
		return nil, err
	}
	hasNoData := in.Has("noData")
	noData, err := in.Float("noData", 0)
	if err != nil {
		return nil, err
	}

	var values []float64
	for _, f := range fc.Features {
		v, ok := toFloat(f.Properties[attr])
		if !ok || (hasNoData && v == noData) {
			continue
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return nil, wps.InvalidParam("attribute", "attribute %s has no numeric values", attr)
	}
	cs, err := newClassStats(values, classes, in.String("method", raster.EqualInterval), stats)
	if err != nil {
		return nil, wps.InvalidParam("numClasses", "%v", err)
	}
	return wps.Outputs{"results": cs}, nil
}
