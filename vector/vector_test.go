package vector

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nci/geoserve/catalog"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const states = `{"type":"FeatureCollection","features":[
{"type":"Feature","id":"s.1","geometry":{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,2],[0,0]]]},
 "properties":{"name":"A","pop":100,"area":1.5,"coastal":true,"founded":"1850-09-09"}},
{"type":"Feature","id":"s.2","geometry":{"type":"MultiPolygon","coordinates":[[[[5,5],[6,5],[6,6],[5,6],[5,5]]]]},
 "properties":{"name":"B","pop":250.5,"area":null,"coastal":false}}
]}`

type dirResolver string

func (d dirResolver) ResolveURL(url string) (string, error) {
	return filepath.Join(string(d), strings.TrimPrefix(url, "file:")), nil
}

func TestDecodeGeoJSON(t *testing.T) {
	fc, err := DecodeGeoJSON([]byte(states))
	require.NoError(t, err)
	assert.Len(t, fc.Features, 2)

	fc, err = DecodeGeoJSON([]byte(`{"type":"Point","coordinates":[1,2]}`))
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, orb.Point{1, 2}, fc.Features[0].Geometry)

	fc, err = DecodeGeoJSON([]byte(`{"type":"Feature","geometry":null,"properties":{"a":1}}`))
	require.NoError(t, err)
	assert.Len(t, fc.Features, 1)

	_, err = DecodeGeoJSON([]byte(`{"features":[]}`))
	assert.Error(t, err)
}

func TestInferSchema(t *testing.T) {
	fc, err := DecodeGeoJSON([]byte(states))
	require.NoError(t, err)
	attrs := InferSchema(fc)
	require.Len(t, attrs, 6)

	byName := map[string]catalog.AttributeTypeInfo{}
	for _, a := range attrs {
		byName[a.Name] = a
	}
	assert.Equal(t, GeometryAttribute, attrs[0].Name)
	assert.Equal(t, catalog.BindingGeometry, attrs[0].Binding, "mixed geometry types widen to Geometry")
	assert.Equal(t, catalog.BindingString, byName["name"].Binding)
	assert.Equal(t, catalog.BindingDouble, byName["pop"].Binding)
	assert.Equal(t, catalog.BindingDouble, byName["area"].Binding)
	assert.True(t, byName["area"].Nillable)
	assert.Equal(t, catalog.BindingBoolean, byName["coastal"].Binding)
	assert.False(t, byName["coastal"].Nillable)
	assert.Equal(t, catalog.BindingDate, byName["founded"].Binding)
	assert.True(t, byName["founded"].Nillable)
}

func TestBoundsAndApply(t *testing.T) {
	fc, _ := DecodeGeoJSON([]byte(states))
	env := Bounds(fc, "EPSG:4326")
	assert.Equal(t, catalog.Envelope{MinX: 0, MinY: 0, MaxX: 6, MaxY: 6, CRS: "EPSG:4326"}, env)

	b := orb.Bound{Min: orb.Point{4, 4}, Max: orb.Point{10, 10}}
	sub := Apply(fc, Query{Bound: &b, Properties: []string{"name"}})
	require.Len(t, sub.Features, 1)
	assert.Equal(t, "B", sub.Features[0].Properties["name"])
	assert.Len(t, sub.Features[0].Properties, 1)
	assert.Len(t, fc.Features[1].Properties, 4, "Apply must not modify the input")

	assert.Len(t, Apply(fc, Query{MaxFeatures: 1}).Features, 1)
}

func TestDirectorySource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "states.geojson"), []byte(states), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "more"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "more", "points.json"),
		[]byte(`{"type":"Point","coordinates":[3,3]}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dem.asc"), []byte("ncols 1"), 0644))

	store := &catalog.DataStoreInfo{
		Type:                 catalog.StoreTypeDirectory,
		ConnectionParameters: map[string]string{"url": "file:."},
	}
	src, err := OpenSource(store, dirResolver(dir))
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	names, err := src.TypeNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"points", "states"}, names)

	schema, err := src.Schema(ctx, "points")
	require.NoError(t, err)
	require.Len(t, schema, 1)
	assert.Equal(t, catalog.BindingPoint, schema[0].Binding)

	fc, err := src.Features(ctx, "states", Query{})
	require.NoError(t, err)
	assert.Len(t, fc.Features, 2)

	_, err = src.Features(ctx, "missing", Query{})
	assert.Error(t, err)
}

func TestGeoJSONSourceWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "states.geojson")
	fc, _ := DecodeGeoJSON([]byte(states))
	require.NoError(t, WriteGeoJSONFile(path, Merge(nil, fc)))

	src := NewGeoJSONSource(path)
	names, err := src.TypeNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"states"}, names)
	back, err := src.Features(context.Background(), "states", Query{})
	require.NoError(t, err)
	assert.Len(t, back.Features, 2)
}

func TestPostGISSQL(t *testing.T) {
	dsn := PostGISDSN(map[string]string{"host": "db", "port": "5432", "database": "gis", "user": "geo", "passwd": "it's"})
	assert.Equal(t, `host='db' port='5432' dbname='gis' user='geo' password='it\'s' sslmode=disable`, dsn)

	q := FeatureSQL("public", "roads", "geom", true, 10)
	assert.Equal(t, `SELECT ST_AsGeoJSON(t."geom"), (to_jsonb(t) - 'geom')::text FROM "public"."roads" t`+
		` WHERE t."geom" && ST_MakeEnvelope($1, $2, $3, $4, ST_SRID(t."geom")) LIMIT 10`, q)
}

func TestPostGISSource(t *testing.T) {
	dsn := os.Getenv("GEOSERVE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("GEOSERVE_TEST_PG_DSN is not set. Skipping tests that require PostGIS")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	src := NewPostGISSourceDB(db, "public")
	defer src.Close()
	_, err = src.TypeNames(context.Background())
	assert.NoError(t, err)
}

func TestGeometryBinding(t *testing.T) {
	assert.Equal(t, catalog.BindingLineString, GeometryBinding(orb.LineString{{0, 0}, {1, 1}}))
	assert.Equal(t, catalog.BindingGeometry, GeometryBinding(orb.Collection{}))
}
