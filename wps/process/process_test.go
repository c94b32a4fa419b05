package process

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/nci/geoserve/raster"
	"github.com/nci/geoserve/wps"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const zonesJSON = `{"type":"FeatureCollection","features":[
{"type":"Feature","id":"a","properties":{"name":"west","pop":10,"kind":"x"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,4],[0,4],[0,0]]]}},
{"type":"Feature","id":"b","properties":{"name":"east","pop":30,"kind":"y"},"geometry":{"type":"Polygon","coordinates":[[[2,0],[4,0],[4,4],[2,4],[2,0]]]}},
{"type":"Feature","id":"c","properties":{"name":"point","pop":20,"kind":"x"},"geometry":{"type":"Point","coordinates":[1,1]}}
]}`

// 4x4 grid covering 0..4 with one nodata cell in the top left corner.
const gridASC = `ncols 4
nrows 4
xllcorner 0
yllcorner 0
cellsize 1
NODATA_value -1
-1 2 3 4
5 6 7 8
9 10 11 12
13 14 15 16
`

func newInputs(kv ...string) *wps.Inputs {
	in := wps.NewInputs()
	for i := 0; i+1 < len(kv); i += 2 {
		in.Add(kv[i], wps.Data{Value: []byte(kv[i+1])})
	}
	return in
}

func registry(t *testing.T) *wps.Registry {
	reg := wps.NewRegistry()
	RegisterAll(reg, Deps{MaxFeatures: 100})
	return reg
}

func run(t *testing.T, id string, in *wps.Inputs) wps.Outputs {
	t.Helper()
	p, ok := registry(t).Get(id)
	require.True(t, ok, id)
	out, err := p.Execute(context.Background(), in, wps.NewProgress(nil))
	require.NoError(t, err)
	return out
}

func runErr(t *testing.T, id string, in *wps.Inputs) *wps.Exception {
	t.Helper()
	p, ok := registry(t).Get(id)
	require.True(t, ok, id)
	_, err := p.Execute(context.Background(), in, wps.NewProgress(nil))
	require.Error(t, err)
	return wps.AsException(err)
}

func encoded(t *testing.T, v interface{}, mime string) string {
	t.Helper()
	d, err := wps.Encode(v, mime)
	require.NoError(t, err)
	return string(d.Value)
}

func TestRegisterAll(t *testing.T) {
	reg := registry(t)
	for _, id := range []string{
		"JTS:buffer", "JTS:union", "JTS:distance",
		"gs:Aggregate", "gs:Bounds", "gs:Count", "gs:Unique", "gs:Query", "gs:RectangularClip",
		"gs:Reproject", "gs:Centroid", "gs:CollectGeometries", "gs:Simplify", "gs:FeatureClassStats",
		"ras:ZonalStatistics", "ras:Contour", "ras:CropCoverage", "ras:RangeLookup", "ras:CoverageClassStats",
		"ras:RasterAsPointCollection", "ras:AddCoverages", "ras:MultiplyCoverages", "ras:RasterCalculator",
	} {
		p, ok := reg.Get(id)
		if assert.True(t, ok, id) {
			assert.Equal(t, id, p.Describe().Identifier)
			assert.NotEmpty(t, p.Describe().Outputs, id)
		}
	}
}

func TestGeometryProcesses(t *testing.T) {
	out := run(t, "JTS:area", newInputs("geom", "POLYGON((0 0,2 0,2 2,0 2,0 0))"))
	assert.InDelta(t, 4.0, out["result"], 1e-9)

	out = run(t, "JTS:intersects", newInputs("a", "POINT(1 1)", "b", "POLYGON((0 0,2 0,2 2,0 2,0 0))"))
	assert.Equal(t, true, out["result"])

	out = run(t, "JTS:distance", newInputs("a", "POINT(0 0)", "b", "POINT(3 4)"))
	assert.InDelta(t, 5.0, out["result"], 1e-9)

	out = run(t, "JTS:buffer", newInputs("geom", "POINT(0 0)", "distance", "1"))
	poly, ok := out["result"].(orb.Polygon)
	require.True(t, ok)
	assert.Len(t, poly[0], 33)

	out = run(t, "JTS:union", newInputs("geom", "POLYGON((0 0,1 0,1 1,0 1,0 0))", "geom", "POLYGON((1 0,2 0,2 1,1 1,1 0))"))
	g := out["result"].(orb.Geometry)
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2, 1}}, g.Bound())

	out = run(t, "JTS:envelope", newInputs("geom", "LINESTRING(0 0,3 2)"))
	assert.Equal(t, "POLYGON((0 0,3 0,3 2,0 2,0 0))", encoded(t, out["result"], ""))

	e := runErr(t, "JTS:area", newInputs("geom", "POLYGON((0 0"))
	assert.Equal(t, "InvalidParameterValue", e.Code)
	assert.Equal(t, "geom", e.Locator)

	e = runErr(t, "JTS:buffer", newInputs("geom", "POINT(0 0)", "distance", "1", "quadrantSegments", "0"))
	assert.Equal(t, "quadrantSegments", e.Locator)
}

func TestAggregate(t *testing.T) {
	out := run(t, "gs:Aggregate", newInputs(
		"features", zonesJSON,
		"aggregationAttribute", "pop",
		"function", "Sum", "function", "max", "function", "Median", "function", "Count"))
	res := out["result"].(*aggregateResult)
	assert.Equal(t, []string{"Sum", "Max", "Median", "Count"}, res.Functions)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []interface{}{60.0, 30.0, 20.0, 3}, res.Rows[0])
	assert.Equal(t, "<AggregationResults><Sum>60</Sum><Max>30</Max><Median>20</Median><Count>3</Count></AggregationResults>",
		encoded(t, res, wps.MimeXML))

	out = run(t, "gs:Aggregate", newInputs(
		"features", zonesJSON,
		"aggregationAttribute", "pop",
		"function", "Average",
		"groupByAttributes", "kind"))
	res = out["result"].(*aggregateResult)
	assert.Equal(t, [][]interface{}{{"x", 15.0}, {"y", 30.0}}, res.Rows)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(encoded(t, res, wps.MimeJSON)), &doc))
	assert.Equal(t, "pop", doc["AggregationAttribute"])
	assert.Equal(t, []interface{}{"kind"}, doc["GroupByAttributes"])
	assert.Contains(t, encoded(t, res, wps.MimeXML), "<GroupByResult><object-array><string>x</string><double>15</double></object-array></GroupByResult>")

	out = run(t, "gs:Aggregate", newInputs("features", zonesJSON, "function", "SumArea"))
	res = out["result"].(*aggregateResult)
	assert.Equal(t, []interface{}{16.0}, res.Rows[0])

	e := runErr(t, "gs:Aggregate", newInputs("features", zonesJSON, "function", "Sum"))
	assert.Equal(t, "aggregationAttribute", e.Locator)
}

func TestBoundsCountUnique(t *testing.T) {
	out := run(t, "gs:Bounds", newInputs("features", zonesJSON))
	assert.Equal(t, wps.BoundingBox{Bound: orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{4, 4}}, CRS: "EPSG:4326"}, out["bounds"])

	out = run(t, "gs:Count", newInputs("features", zonesJSON))
	assert.Equal(t, 3, out["result"])

	out = run(t, "gs:Unique", newInputs("features", zonesJSON, "attribute", "kind"))
	fc := out["result"].(*geojson.FeatureCollection)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "x", fc.Features[0].Properties["value"])
	assert.Equal(t, 2, fc.Features[0].Properties["count"])
	assert.Equal(t, "y", fc.Features[1].Properties["value"])

	e := runErr(t, "gs:Bounds", newInputs("features", `{"type":"FeatureCollection","features":[]}`))
	assert.Equal(t, "features", e.Locator)
}

func TestQuery(t *testing.T) {
	out := run(t, "gs:Query", newInputs("features", zonesJSON, "filter", "pop >= 20 && kind == 'x'", "attribute", "name"))
	fc := out["result"].(*geojson.FeatureCollection)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, geojson.Properties{"name": "point"}, fc.Features[0].Properties)

	out = run(t, "gs:Query", newInputs("features", zonesJSON))
	assert.Len(t, out["result"].(*geojson.FeatureCollection).Features, 3)

	e := runErr(t, "gs:Query", newInputs("features", zonesJSON, "filter", "pop +"))
	assert.Equal(t, "filter", e.Locator)
}

func TestFeatureGeometryProcesses(t *testing.T) {
	out := run(t, "gs:RectangularClip", newInputs("features", zonesJSON, "clip", "0,0,1,1"))
	fc := out["result"].(*geojson.FeatureCollection)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}, fc.Features[0].Geometry.Bound())

	out = run(t, "gs:Centroid", newInputs("features", zonesJSON))
	fc = out["result"].(*geojson.FeatureCollection)
	assert.Equal(t, orb.Point{1, 2}, fc.Features[0].Geometry)
	assert.Equal(t, "west", fc.Features[0].Properties["name"])

	out = run(t, "gs:Reproject", newInputs("features", zonesJSON, "targetCRS", "EPSG:3857"))
	fc = out["result"].(*geojson.FeatureCollection)
	p := fc.Features[2].Geometry.(orb.Point)
	assert.InDelta(t, 111319.49, p[0], 0.1)

	out = run(t, "gs:Reproject", newInputs("features", zonesJSON, "forcedCRS", "urn:ogc:def:crs:EPSG::4326", "targetCRS", "EPSG:4326"))
	assert.Equal(t, orb.Point{1, 1}, out["result"].(*geojson.FeatureCollection).Features[2].Geometry)

	e := runErr(t, "gs:Reproject", newInputs("features", zonesJSON, "targetCRS", "EPSG:28355"))
	assert.Equal(t, "targetCRS", e.Locator)

	out = run(t, "gs:CollectGeometries", newInputs("features", zonesJSON))
	_, ok := out["result"].(orb.Collection)
	assert.True(t, ok)

	assert.Equal(t, orb.MultiPoint{{0, 0}, {1, 1}}, collect([]orb.Geometry{orb.Point{0, 0}, orb.Point{1, 1}}))

	out = run(t, "gs:Simplify", newInputs("features",
		`{"type":"Feature","properties":{},"geometry":{"type":"LineString","coordinates":[[0,0],[1,0.01],[2,0]]}}`,
		"distance", "0.1"))
	fc = out["result"].(*geojson.FeatureCollection)
	assert.Equal(t, orb.LineString{{0, 0}, {2, 0}}, fc.Features[0].Geometry)
}

func TestFeatureClassStats(t *testing.T) {
	out := run(t, "gs:FeatureClassStats", newInputs("features", zonesJSON, "attribute", "pop", "numClasses", "2", "stats", "count,max"))
	cs := out["results"].(*classStats)
	require.Len(t, cs.Classes, 2)
	assert.Equal(t, 10.0, cs.Classes[0].Lower)
	assert.Equal(t, 20.0, cs.Classes[0].Upper)
	assert.Equal(t, `<Results><Class lowerBound="10" upperBound="20" count="1" max="10"/><Class lowerBound="20" upperBound="30" count="2" max="30"/></Results>`,
		encoded(t, cs, wps.MimeXML))

	e := runErr(t, "gs:FeatureClassStats", newInputs("features", zonesJSON, "attribute", "pop", "stats", "mode"))
	assert.Equal(t, "stats", e.Locator)
}

func TestZonalStatistics(t *testing.T) {
	reg := wps.NewRegistry()
	RegisterAll(reg, Deps{Concurrency: 2})
	p, _ := reg.Get("ras:ZonalStatistics")
	out, err := p.Execute(context.Background(), newInputs("data", gridASC, "zones", zonesJSON), nil)
	require.NoError(t, err)
	fc := out["statistics"].(*geojson.FeatureCollection)
	require.Len(t, fc.Features, 3)

	byName := map[string]geojson.Properties{}
	for _, f := range fc.Features {
		byName[f.Properties["z_name"].(string)] = f.Properties
	}
	west := byName["west"]
	assert.Equal(t, 7, west["count"])
	assert.Equal(t, 2.0, west["min"])
	assert.Equal(t, 14.0, west["max"])
	assert.Equal(t, 14.0, byName["point"]["sum"])

	e := runErr(t, "ras:ZonalStatistics", newInputs("data", gridASC, "zones", zonesJSON, "dataBand", "1"))
	assert.Equal(t, "dataBand", e.Locator)
}

func TestContour(t *testing.T) {
	out := run(t, "ras:Contour", newInputs("data", gridASC, "levels", "8.5"))
	fc := out["result"].(*geojson.FeatureCollection)
	require.NotEmpty(t, fc.Features)
	for _, f := range fc.Features {
		assert.Equal(t, 8.5, f.Properties["value"])
	}

	e := runErr(t, "ras:Contour", newInputs("data", gridASC))
	assert.Equal(t, "interval", e.Locator)
}

func TestCropCoverage(t *testing.T) {
	out := run(t, "ras:CropCoverage", newInputs("coverage", gridASC, "cropShape", "POLYGON((0 0,2 0,0.9 2,0 2,0 0))"))
	g := out["result"].(*raster.Grid)
	assert.Equal(t, 2, g.Width)
	assert.Equal(t, 2, g.Height)
	assert.Equal(t, []float64{9, -1, 13, 14}, g.Data)

	e := runErr(t, "ras:CropCoverage", newInputs("coverage", gridASC, "cropShape", "POINT(10 10)"))
	assert.Equal(t, "cropShape", e.Locator)
}

func TestRangeLookup(t *testing.T) {
	r, err := parseRange("[5;10)")
	require.NoError(t, err)
	assert.True(t, r.contains(5))
	assert.False(t, r.contains(10))
	r, err = parseRange("(;0]")
	require.NoError(t, err)
	assert.True(t, r.contains(math.Inf(-1)))
	_, err = parseRange("5;10")
	assert.Error(t, err)

	out := run(t, "ras:RangeLookup", newInputs("coverage", gridASC, "ranges", "[0;8)", "ranges", "[8;12]"))
	g := out["reclassified"].(*raster.Grid)
	assert.Equal(t, []float64{0, 1, 1, 1, 1, 1, 1, 2, 2, 2, 2, 2, 0, 0, 0, 0}, g.Data)

	e := runErr(t, "ras:RangeLookup", newInputs("coverage", gridASC, "ranges", "[0;8)", "outputPixelValues", "1,2"))
	assert.Equal(t, "outputPixelValues", e.Locator)
}

func TestCoverageClassStats(t *testing.T) {
	out := run(t, "ras:CoverageClassStats", newInputs("coverage", gridASC, "classes", "3", "method", "quantile"))
	cs := out["results"].(*classStats)
	require.Len(t, cs.Classes, 3)
	total := 0
	for _, c := range cs.Classes {
		total += c.Stats.Count
	}
	assert.Equal(t, 15, total)
	assert.True(t, strings.HasPrefix(encoded(t, cs, wps.MimeJSON), `{"classes":[`))
}

func TestRasterAsPointCollection(t *testing.T) {
	out := run(t, "ras:RasterAsPointCollection", newInputs("data", gridASC))
	fc := out["result"].(*geojson.FeatureCollection)
	require.Len(t, fc.Features, 15)
	assert.Equal(t, orb.Point{1.5, 3.5}, fc.Features[0].Geometry)
	assert.Equal(t, 2.0, fc.Features[0].Properties["value"])

	reg := wps.NewRegistry()
	RegisterAll(reg, Deps{MaxFeatures: 5})
	p, _ := reg.Get("ras:RasterAsPointCollection")
	_, err := p.Execute(context.Background(), newInputs("data", gridASC), nil)
	assert.Error(t, err)
}

func TestCombineCoverages(t *testing.T) {
	out := run(t, "ras:AddCoverages", newInputs("coverageA", gridASC, "coverageB", gridASC))
	g := out["result"].(*raster.Grid)
	assert.Equal(t, -1.0, g.Data[0])
	assert.Equal(t, 4.0, g.Data[1])
	assert.Equal(t, 32.0, g.Data[15])

	out = run(t, "ras:MultiplyCoverages", newInputs("coverageA", gridASC, "coverageB", gridASC))
	assert.Equal(t, 256.0, out["result"].(*raster.Grid).Data[15])

	other := strings.Replace(gridASC, "cellsize 1", "cellsize 2", 1)
	e := runErr(t, "ras:AddCoverages", newInputs("coverageA", gridASC, "coverageB", other))
	assert.Equal(t, "coverageB", e.Locator)
}

func TestRasterCalculator(t *testing.T) {
	out := run(t, "ras:RasterCalculator", newInputs("coverage", gridASC, "expression", "value * 2 + col"))
	g := out["result"].(*raster.Grid)
	assert.Equal(t, -1.0, g.Data[0])
	assert.Equal(t, 5.0, g.Data[1])
	assert.Equal(t, 35.0, g.Data[15])

	e := runErr(t, "ras:RasterCalculator", newInputs("coverage", gridASC, "expression", "band1 + 1"))
	assert.Equal(t, "expression", e.Locator)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := rasterCalculator(ctx, newInputs("coverage", gridASC, "expression", "value"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
