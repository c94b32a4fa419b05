package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nci/geoserve/catalog"
	"github.com/nci/geoserve/catalog/persist"
	"github.com/nci/geoserve/metrics"
	"github.com/nci/geoserve/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	t       *testing.T
	handler *Handler
	cat     *catalog.Catalog
	store   *persist.DataDir
	config  *utils.Config
}

func testConfig(t *testing.T, dir string) *utils.Config {
	admin, err := bcrypt.GenerateFromPassword([]byte("geoserver"), bcrypt.MinCost)
	require.NoError(t, err)
	reader, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	config := &utils.Config{
		ServiceConfig: utils.ServiceConfig{DataDir: dir},
		Users: []utils.User{
			{Name: "admin", Password: string(admin), Roles: []string{utils.RoleAdmin}},
			{Name: "reader", Password: string(reader)},
		},
	}
	config.ApplyDefaults()
	return config
}

func newFixture(t *testing.T, edit ...func(*utils.Config)) *fixture {
	dir := t.TempDir()
	config := testConfig(t, dir)
	for _, e := range edit {
		e(config)
	}
	cat := catalog.New()
	store := persist.NewDataDir(dir, false)
	require.NoError(t, store.Load(context.Background(), cat))
	cat.AddListener(store)
	require.NoError(t, InstallDefaultStyles(cat, store))

	h := NewHandler(config, cat, store, utils.NewRuntimeFileResolver(dir))
	return &fixture{t: t, handler: h, cat: cat, store: store, config: config}
}

func (f *fixture) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	return f.doAs("admin", "geoserver", method, path, contentType, body)
}

func (f *fixture) doAs(user, password, method, path, contentType, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "http://localhost:8080"+path, rd)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if user != "" {
		req.SetBasicAuth(user, password)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) mustDo(status int, method, path, contentType, body string) *httptest.ResponseRecorder {
	rec := f.do(method, path, contentType, body)
	require.Equal(f.t, status, rec.Code, "%s %s: %s", method, path, rec.Body.String())
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	var v map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)

	rec := f.doAs("", "", "GET", "/rest/workspaces.xml", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	rec = f.doAs("admin", "wrong", "GET", "/rest/workspaces.xml", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.doAs("reader", "secret", "GET", "/rest/workspaces.xml", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	f.mustDo(http.StatusOK, "GET", "/rest/workspaces.xml", "", "")
}

func TestAnonymousRead(t *testing.T) {
	f := newFixture(t, func(c *utils.Config) { c.REST.AnonymousRead = true })

	rec := f.doAs("", "", "GET", "/rest/workspaces.json", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.doAs("", "", "POST", "/rest/workspaces", "text/xml", "<workspace><name>topp</name></workspace>")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWorkspaces(t *testing.T) {
	f := newFixture(t)

	rec := f.mustDo(http.StatusOK, "GET", "/rest/workspaces.json", "", "")
	assert.JSONEq(t, `{"workspaces":""}`, rec.Body.String())

	rec = f.mustDo(http.StatusCreated, "POST", "/rest/workspaces", "text/xml", "<workspace><name>topp</name></workspace>")
	assert.Equal(t, "http://localhost:8080/rest/workspaces/topp", rec.Header().Get("Location"))
	assert.Equal(t, "topp", rec.Body.String())

	f.mustDo(http.StatusCreated, "POST", "/rest/workspaces", "application/json", `{"workspace":{"name":"sf"}}`)

	rec = f.mustDo(http.StatusOK, "GET", "/rest/workspaces.xml", "", "")
	assert.Contains(t, rec.Body.String(), "<name>topp</name>")
	assert.Contains(t, rec.Body.String(), "<name>sf</name>")

	rec = f.mustDo(http.StatusOK, "GET", "/rest/workspaces/topp.json", "", "")
	doc := decodeJSON(t, rec)
	ws := doc["workspace"].(map[string]interface{})
	assert.Equal(t, "topp", ws["name"])
	assert.Contains(t, ws["dataStores"], "/rest/workspaces/topp/datastores.json")

	ns := f.cat.GetNamespaceByPrefix("topp")
	require.NotNil(t, ns)
	assert.Equal(t, "http://topp", ns.URI)

	rec = f.do("POST", "/rest/workspaces", "text/xml", "<workspace><name>topp</name></workspace>")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do("POST", "/rest/workspaces", "text/xml", "<namespace><name>x</name></namespace>")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do("GET", "/rest/workspaces/nope.xml", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "nope")

	f.mustDo(http.StatusOK, "PUT", "/rest/workspaces/sf", "text/xml", "<workspace><name>sanfran</name></workspace>")
	assert.Nil(t, f.cat.GetWorkspaceByName("sf"))
	assert.NotNil(t, f.cat.GetNamespaceByPrefix("sanfran"))

	f.mustDo(http.StatusOK, "DELETE", "/rest/workspaces/sanfran", "", "")
	assert.Nil(t, f.cat.GetNamespaceByPrefix("sanfran"))
}

func TestDefaultWorkspace(t *testing.T) {
	f := newFixture(t)
	f.mustDo(http.StatusCreated, "POST", "/rest/workspaces", "text/xml", "<workspace><name>topp</name></workspace>")
	f.mustDo(http.StatusCreated, "POST", "/rest/workspaces?default=true", "text/xml", "<workspace><name>sf</name></workspace>")

	rec := f.mustDo(http.StatusOK, "GET", "/rest/workspaces/default.json", "", "")
	assert.Contains(t, rec.Body.String(), `"sf"`)

	f.mustDo(http.StatusOK, "PUT", "/rest/workspaces/default", "text/xml", "<workspace><name>topp</name></workspace>")
	assert.Equal(t, "topp", f.cat.GetDefaultWorkspace().Name)
}

const roadsGeoJSON = `{"type":"FeatureCollection","features":[
 {"type":"Feature","properties":{"name":"main","lanes":2},"geometry":{"type":"LineString","coordinates":[[0,0],[10,5]]}},
 {"type":"Feature","properties":{"name":"side","lanes":1},"geometry":{"type":"LineString","coordinates":[[2,1],[3,8]]}}
]}`

func TestDeleteRecurse(t *testing.T) {
	f := newFixture(t)
	f.mustDo(http.StatusCreated, "POST", "/rest/workspaces", "text/xml", "<workspace><name>topp</name></workspace>")
	f.mustDo(http.StatusCreated, "PUT", "/rest/workspaces/topp/datastores/roads/file.geojson", "application/json", roadsGeoJSON)

	rec := f.do("DELETE", "/rest/workspaces/topp", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotNil(t, f.cat.GetWorkspaceByName("topp"))

	f.mustDo(http.StatusOK, "DELETE", "/rest/workspaces/topp?recurse=true", "", "")
	assert.Nil(t, f.cat.GetWorkspaceByName("topp"))
	assert.Nil(t, f.cat.GetNamespaceByPrefix("topp"))
	assert.Nil(t, f.cat.GetLayerByName("topp:roads"))
}

func TestGeoJSONUpload(t *testing.T) {
	f := newFixture(t)
	f.mustDo(http.StatusCreated, "POST", "/rest/workspaces", "text/xml", "<workspace><name>topp</name></workspace>")

	rec := f.mustDo(http.StatusCreated, "PUT", "/rest/workspaces/topp/datastores/roads/file.geojson", "application/json", roadsGeoJSON)
	assert.Equal(t, "roads", rec.Body.String())
	assert.Equal(t, "http://localhost:8080/rest/workspaces/topp/datastores/roads", rec.Header().Get("Location"))

	ds := f.cat.GetDataStoreByName("topp", "roads")
	require.NotNil(t, ds)
	assert.Equal(t, catalog.StoreTypeGeoJSON, ds.Type)
	assert.Equal(t, "file:data/topp/roads/roads.geojson", ds.ConnectionParameters["url"])

	ft := f.cat.GetFeatureTypeByName("topp", "roads")
	require.NotNil(t, ft)
	geom, ok := ft.GeometryAttribute()
	require.True(t, ok)
	assert.Equal(t, catalog.BindingLineString, geom.Binding)
	assert.Equal(t, 0.0, ft.NativeBoundingBox.MinX)
	assert.Equal(t, 10.0, ft.NativeBoundingBox.MaxX)
	assert.Equal(t, 8.0, ft.NativeBoundingBox.MaxY)

	l := f.cat.GetLayerByName("topp:roads")
	require.NotNil(t, l)
	style := f.cat.GetStyle(l.DefaultStyleID)
	require.NotNil(t, style)
	assert.Equal(t, "line", style.Name)

	rec = f.mustDo(http.StatusOK, "GET", "/rest/workspaces/topp/datastores/roads/featuretypes.xml", "", "")
	assert.Contains(t, rec.Body.String(), "<name>roads</name>")

	rec = f.mustDo(http.StatusOK, "GET", "/rest/layers/topp:roads.json", "", "")
	layer := decodeJSON(t, rec)["layer"].(map[string]interface{})
	assert.Equal(t, "topp:roads", layer["name"])
	assert.Equal(t, "line", layer["defaultStyle"].(map[string]interface{})["name"])

	// A second upload replaces the data and keeps the configuration.
	f.mustDo(http.StatusOK, "PUT", "/rest/workspaces/topp/datastores/roads/file.geojson", "application/json", roadsGeoJSON)
	assert.Len(t, f.cat.GetFeatureTypesByStore(ds.ID), 1)
}

func TestFeatureTypeUpdate(t *testing.T) {
	f := newFixture(t)
	f.mustDo(http.StatusCreated, "POST", "/rest/workspaces", "text/xml", "<workspace><name>topp</name></workspace>")
	f.mustDo(http.StatusCreated, "PUT", "/rest/workspaces/topp/datastores/roads/file.geojson", "application/json", roadsGeoJSON)

	f.mustDo(http.StatusOK, "PUT", "/rest/workspaces/topp/featuretypes/roads", "text/xml",
		"<featureType><title>Roads</title><abstract>All the roads</abstract></featureType>")
	ft := f.cat.GetFeatureTypeByName("topp", "roads")
	require.NotNil(t, ft)
	assert.Equal(t, "Roads", ft.Title)
	assert.Equal(t, "All the roads", ft.Abstract)
	assert.NotEmpty(t, ft.Attributes, "attributes survive a partial update")

	rec := f.do("PUT", "/rest/workspaces/topp/datastores/roads/featuretypes", "text/xml", "<featureType/>")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCoverageUpload(t *testing.T) {
	f := newFixture(t)
	f.mustDo(http.StatusCreated, "POST", "/rest/workspaces", "text/xml", "<workspace><name>nurc</name></workspace>")

	grid := "ncols 3\nnrows 2\nxllcorner 100\nyllcorner -40\ncellsize 0.5\nNODATA_value -9999\n1 2 3\n4 -9999 6\n"
	rec := f.mustDo(http.StatusCreated, "PUT", "/rest/workspaces/nurc/coveragestores/dem/file.arcgrid?coverageName=elevation", "text/plain", grid)
	assert.Equal(t, "dem", rec.Body.String())

	c := f.cat.GetCoverageByName("nurc", "elevation")
	require.NotNil(t, c)
	assert.Equal(t, 3, c.Grid.Width)
	assert.Equal(t, 2, c.Grid.Height)
	assert.InDelta(t, 100, c.NativeBoundingBox.MinX, 1e-9)
	assert.InDelta(t, 101.5, c.NativeBoundingBox.MaxX, 1e-9)
	require.Len(t, c.Dimensions, 1)
	assert.Equal(t, []float64{-9999}, c.Dimensions[0].NullValues)
	assert.Equal(t, 1.0, c.Dimensions[0].Min)
	assert.Equal(t, 6.0, c.Dimensions[0].Max)

	l := f.cat.GetLayerByName("nurc:elevation")
	require.NotNil(t, l)
	assert.Equal(t, catalog.LayerRaster, l.Type)

	rec = f.do("PUT", "/rest/workspaces/nurc/coveragestores/dem/file.arcgrid", "text/plain", "not a grid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

const riversSLD = `<?xml version="1.0" encoding="UTF-8"?>
<StyledLayerDescriptor version="1.0.0" xmlns="http://www.opengis.net/sld">
  <NamedLayer><Name>rivers</Name>
    <UserStyle><Name>rivers</Name>
      <FeatureTypeStyle><Rule><LineSymbolizer/></Rule></FeatureTypeStyle>
    </UserStyle>
  </NamedLayer>
</StyledLayerDescriptor>`

func TestStyles(t *testing.T) {
	f := newFixture(t)

	rec := f.mustDo(http.StatusOK, "GET", "/rest/styles.xml", "", "")
	assert.Contains(t, rec.Body.String(), "<name>polygon</name>")

	rec = f.mustDo(http.StatusCreated, "POST", "/rest/styles", mimeSLD, riversSLD)
	assert.Equal(t, "rivers", rec.Body.String())
	assert.Equal(t, "http://localhost:8080/rest/styles/rivers", rec.Header().Get("Location"))

	rec = f.mustDo(http.StatusOK, "GET", "/rest/styles/rivers.sld", "", "")
	assert.Equal(t, mimeSLD, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<LineSymbolizer/>")

	rec = f.mustDo(http.StatusOK, "GET", "/rest/styles/rivers.json", "", "")
	style := decodeJSON(t, rec)["style"].(map[string]interface{})
	assert.Equal(t, "rivers.sld", style["filename"])

	rec = f.do("POST", "/rest/styles", mimeSLD, "<StyledLayerDescriptor version=\"1.0.0\"/>")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do("DELETE", "/rest/styles/point", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	f.mustDo(http.StatusOK, "DELETE", "/rest/styles/rivers?purge=true", "", "")
	assert.Nil(t, f.cat.GetStyleByName("", "rivers"))
}

func TestLayerStyles(t *testing.T) {
	f := newFixture(t)
	f.mustDo(http.StatusCreated, "POST", "/rest/workspaces", "text/xml", "<workspace><name>topp</name></workspace>")
	f.mustDo(http.StatusCreated, "PUT", "/rest/workspaces/topp/datastores/roads/file.geojson", "application/json", roadsGeoJSON)
	f.mustDo(http.StatusCreated, "POST", "/rest/workspaces/topp/styles", mimeSLD, riversSLD)

	f.mustDo(http.StatusCreated, "POST", "/rest/layers/topp:roads/styles", "text/xml", "<style><name>topp:rivers</name></style>")
	rec := f.mustDo(http.StatusOK, "GET", "/rest/layers/topp:roads/styles.xml", "", "")
	assert.Contains(t, rec.Body.String(), "<name>topp:rivers</name>")

	f.mustDo(http.StatusOK, "PUT", "/rest/layers/topp:roads", "text/xml",
		"<layer><defaultStyle><name>topp:rivers</name></defaultStyle></layer>")
	l := f.cat.GetLayerByName("topp:roads")
	require.NotNil(t, l)
	assert.Equal(t, "rivers", f.cat.GetStyle(l.DefaultStyleID).Name)

	rec = f.do("DELETE", "/rest/workspaces/topp/styles/rivers", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code, "style still in use")
	f.mustDo(http.StatusOK, "DELETE", "/rest/workspaces/topp/styles/rivers?recurse=true", "", "")
	assert.NotNil(t, f.cat.GetLayerByName("topp:roads"), "layers survive the removal of their style")
}

func TestLayerGroups(t *testing.T) {
	f := newFixture(t)
	f.mustDo(http.StatusCreated, "POST", "/rest/workspaces", "text/xml", "<workspace><name>topp</name></workspace>")
	f.mustDo(http.StatusCreated, "PUT", "/rest/workspaces/topp/datastores/roads/file.geojson", "application/json", roadsGeoJSON)

	rec := f.mustDo(http.StatusCreated, "POST", "/rest/layergroups", "text/xml",
		`<layerGroup><name>base</name><publishables><published type="layer"><name>topp:roads</name></published></publishables><styles><style><name/></style></styles></layerGroup>`)
	assert.Equal(t, "http://localhost:8080/rest/layergroups/base", rec.Header().Get("Location"))

	g := f.cat.GetLayerGroupByName("", "base")
	require.NotNil(t, g)
	assert.Equal(t, catalog.ModeSingle, g.Mode)
	require.Len(t, g.Publishables, 1)
	assert.Equal(t, 10.0, g.Bounds.MaxX)

	rec = f.mustDo(http.StatusOK, "GET", "/rest/layergroups/base.xml", "", "")
	assert.Contains(t, rec.Body.String(), "<name>topp:roads</name>")

	rec = f.do("POST", "/rest/layergroups", "text/xml",
		`<layerGroup><name>broken</name><publishables><published type="layer"><name>topp:nothing</name></published></publishables></layerGroup>`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do("DELETE", "/rest/layers/topp:roads", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code, "layer is in a group")

	f.mustDo(http.StatusOK, "DELETE", "/rest/layergroups/base", "", "")
	f.mustDo(http.StatusOK, "DELETE", "/rest/layers/topp:roads?recurse=true", "", "")
	assert.Nil(t, f.cat.GetFeatureTypeByName("topp", "roads"))
}

func TestMonitor(t *testing.T) {
	f := newFixture(t)
	rec := f.do("GET", "/rest/monitor/requests.json", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	dao := metrics.NewMemoryDAO(10)
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, p := range []string{"/ows", "/rest/workspaces", "/ows"} {
		dao.Add(&metrics.RequestData{
			ID: []string{"a", "b", "c"}[i], Status: metrics.StatusFinished, Path: p, HTTPMethod: "GET",
			StartTime: start.Add(time.Duration(i) * time.Minute), ResponseStatus: 200 + i,
		})
	}
	f.handler.Requests = dao

	rec = f.mustDo(http.StatusOK, "GET", "/rest/monitor/requests.json?filter=path:EQ:/ows&order=startTime:DESC", "", "")
	var list struct {
		Requests struct {
			Request []map[string]interface{} `json:"request"`
		} `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Requests.Request, 2)
	assert.Equal(t, "c", list.Requests.Request[0]["id"])
	assert.Equal(t, "a", list.Requests.Request[1]["id"])

	rec = f.mustDo(http.StatusOK, "GET", "/rest/monitor/requests.csv?count=1", "", "")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "id,status"))
	assert.True(t, strings.HasPrefix(lines[1], "a,"))

	rec = f.mustDo(http.StatusOK, "GET", "/rest/monitor/requests.html", "", "")
	assert.Contains(t, rec.Body.String(), "/rest/workspaces")

	rec = f.mustDo(http.StatusOK, "GET", "/rest/monitor/requests/b.xml", "", "")
	assert.Contains(t, rec.Body.String(), "<responseStatus>201</responseStatus>")

	rec = f.do("GET", "/rest/monitor/requests/zzz.xml", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do("GET", "/rest/monitor/requests.json?filter=bogus:EQ:1", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReload(t *testing.T) {
	f := newFixture(t)
	reloaded := false
	f.handler.Reload = func(ctx context.Context) error {
		reloaded = true
		return nil
	}
	f.mustDo(http.StatusOK, "POST", "/rest/reload", "", "")
	assert.True(t, reloaded)
	f.mustDo(http.StatusOK, "PUT", "/rest/reset", "", "")
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(c *utils.Config) {
		c.REST.RateLimit = 0.001
		c.REST.Burst = 1
	})
	f.mustDo(http.StatusOK, "GET", "/rest/about/version.xml", "", "")
	rec := f.do("GET", "/rest/about/version.xml", "", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestMaxUploadSize(t *testing.T) {
	f := newFixture(t, func(c *utils.Config) { c.REST.MaxUploadSize = 64 })
	f.mustDo(http.StatusCreated, "POST", "/rest/workspaces", "text/xml", "<workspace><name>topp</name></workspace>")
	rec := f.do("PUT", "/rest/workspaces/topp/datastores/roads/file.geojson", "application/json", roadsGeoJSON)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
