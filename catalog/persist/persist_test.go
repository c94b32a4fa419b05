package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nci/geoserve/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populate(t *testing.T, cat *catalog.Catalog) (*catalog.WorkspaceInfo, *catalog.StyleInfo) {
	ws := &catalog.WorkspaceInfo{Name: "topp"}
	require.NoError(t, cat.Add(ws))
	require.NoError(t, cat.Add(&catalog.NamespaceInfo{Prefix: "topp", URI: "http://topp"}))
	ns := cat.GetNamespaceByPrefix("topp")

	ds := &catalog.DataStoreInfo{
		Name: "states", Type: catalog.StoreTypeGeoJSON, Enabled: true, WorkspaceID: ws.ID,
		ConnectionParameters: map[string]string{"url": "file:data/states.geojson"},
	}
	require.NoError(t, cat.Add(ds))
	ft := &catalog.FeatureTypeInfo{
		Name: "states", NativeName: "states", NamespaceID: ns.ID, StoreID: ds.ID, Enabled: true,
		SRS: "EPSG:4326", Keywords: []string{"usa"},
		NativeBoundingBox: catalog.Envelope{MinX: -124, MinY: 24, MaxX: -66, MaxY: 49, CRS: "EPSG:4326"},
		Attributes: []catalog.AttributeTypeInfo{
			{Name: "the_geom", MinOccurs: 0, MaxOccurs: 1, Nillable: true, Binding: catalog.BindingMultiPolygon},
			{Name: "name", MaxOccurs: 1, Binding: catalog.BindingString},
		},
	}
	require.NoError(t, cat.Add(ft))

	style := &catalog.StyleInfo{Name: "polygon", Format: "sld", FormatVersion: "1.0.0", Filename: "polygon.sld"}
	require.NoError(t, cat.Add(style))
	layer := &catalog.LayerInfo{Name: "states", Type: catalog.LayerVector, ResourceID: ft.ID, DefaultStyleID: style.ID, Enabled: true}
	require.NoError(t, cat.Add(layer))
	require.NoError(t, cat.Add(&catalog.LayerGroupInfo{
		Name: "base", WorkspaceID: ws.ID, Mode: catalog.ModeSingle,
		Publishables: []catalog.PublishedRef{{Type: catalog.PublishedLayer, ID: layer.ID}},
	}))
	return ws, style
}

func TestDataDirRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cat := catalog.New()
	dd := NewDataDir(dir, false)
	require.NoError(t, dd.Load(ctx, cat))
	cat.AddListener(dd)
	_, style := populate(t, cat)
	require.NoError(t, dd.WriteStyle(style, []byte("<StyledLayerDescriptor/>")))

	for _, rel := range []string{
		"workspaces/default.xml",
		"workspaces/topp/workspace.xml",
		"workspaces/topp/namespace.xml",
		"workspaces/topp/states/datastore.xml",
		"workspaces/topp/states/states/featuretype.xml",
		"workspaces/topp/states/states/layer.xml",
		"workspaces/topp/layergroups/base.xml",
		"styles/polygon.xml",
		"styles/polygon.sld",
	} {
		assert.FileExists(t, filepath.Join(dir, rel))
	}

	back := catalog.New()
	require.NoError(t, NewDataDir(dir, false).Load(ctx, back))
	for _, k := range catalog.Kinds {
		assert.Equal(t, cat.Count(k), back.Count(k), string(k))
	}
	assert.Equal(t, "topp", back.GetDefaultWorkspace().Name)

	ft := back.GetFeatureTypeByName("topp", "states")
	require.NotNil(t, ft)
	assert.Equal(t, cat.GetFeatureTypeByName("topp", "states").Attributes, ft.Attributes)
	assert.Equal(t, -124.0, ft.NativeBoundingBox.MinX)
	assert.Equal(t, []string{"usa"}, ft.Keywords)

	ds := back.GetDataStoreByName("topp", "states")
	require.NotNil(t, ds)
	assert.Equal(t, "file:data/states.geojson", ds.ConnectionParameters["url"])

	l := back.GetLayerByName("topp:states")
	require.NotNil(t, l)
	assert.Equal(t, style.ID, l.DefaultStyleID)
}

func TestDataDirRenameAndRemove(t *testing.T) {
	dir := t.TempDir()
	cat := catalog.New()
	dd := NewDataDir(dir, false)
	require.NoError(t, dd.Load(context.Background(), cat))
	cat.AddListener(dd)
	ws, _ := populate(t, cat)

	ws.Name = "usa"
	require.NoError(t, cat.Save(ws))
	ns := cat.GetNamespaceByPrefix("topp")
	ns.Prefix = "usa"
	require.NoError(t, cat.Save(ns))

	assert.NoDirExists(t, filepath.Join(dir, "workspaces/topp"))
	assert.FileExists(t, filepath.Join(dir, "workspaces/usa/workspace.xml"))
	assert.FileExists(t, filepath.Join(dir, "workspaces/usa/namespace.xml"))
	assert.FileExists(t, filepath.Join(dir, "workspaces/usa/states/states/layer.xml"))

	require.NoError(t, cat.CascadeRemove(cat.GetWorkspaceByName("usa")))
	assert.NoDirExists(t, filepath.Join(dir, "workspaces/usa"))
	assert.NoFileExists(t, filepath.Join(dir, "workspaces/default.xml"))
	assert.FileExists(t, filepath.Join(dir, "styles/polygon.xml"))
}

func TestDataDirReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cat := catalog.New()
	dd := NewDataDir(dir, false)
	require.NoError(t, dd.Load(ctx, cat))
	cat.AddListener(dd)
	populate(t, cat)

	require.NoError(t, cat.Reload(func(fresh *catalog.Catalog) error {
		return dd.Load(ctx, fresh)
	}))
	require.NotNil(t, cat.GetFeatureTypeByName("topp", "states"))

	ws := cat.GetWorkspaceByName("topp")
	ws.Name = "usa"
	require.NoError(t, cat.Save(ws))
	assert.FileExists(t, filepath.Join(dir, "workspaces/usa/states/datastore.xml"))

	require.NoError(t, cat.Add(&catalog.StyleInfo{Name: "line", WorkspaceID: ws.ID, Format: "sld", FormatVersion: "1.0.0", Filename: "line.sld"}))
	assert.FileExists(t, filepath.Join(dir, "workspaces/usa/styles/line.xml"))
}

func TestDataDirSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "workspaces/bad"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workspaces/bad/workspace.xml"), []byte("<workspace><id>"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "workspaces/good"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workspaces/good/workspace.xml"),
		[]byte("<workspace><id>WorkspaceInfo-1</id><name>good</name></workspace>"), 0644))

	cat := catalog.New()
	require.NoError(t, NewDataDir(dir, false).Load(context.Background(), cat))
	assert.Equal(t, 1, cat.Count(catalog.KindWorkspace))
	assert.NotNil(t, cat.GetWorkspaceByName("good"))
}

func TestStyleResources(t *testing.T) {
	dir := t.TempDir()
	cat := catalog.New()
	dd := NewDataDir(dir, false)
	require.NoError(t, dd.Load(context.Background(), cat))
	cat.AddListener(dd)
	_, style := populate(t, cat)

	require.NoError(t, dd.WriteStyleResource(style, "icons/pin.png", []byte("PNG")))
	body, err := dd.ReadStyleResource(style, "icons/pin.png")
	require.NoError(t, err)
	assert.Equal(t, "PNG", string(body))

	assert.Error(t, dd.WriteStyleResource(style, "../escape.png", []byte("x")))
	_, err = dd.ReadStyleResource(style, "/etc/passwd")
	assert.Error(t, err)

	style.Resources = []string{"icons/pin.png"}
	require.NoError(t, dd.DeleteStyleFiles(style))
	assert.NoFileExists(t, filepath.Join(dir, "styles/icons/pin.png"))
}

func TestCleanResourceName(t *testing.T) {
	name, err := CleanResourceName(`icons\pin.png`)
	require.NoError(t, err)
	assert.Equal(t, "icons/pin.png", name)
	for _, bad := range []string{"", "..", "../a", "/abs", "a/../../b"} {
		_, err := CleanResourceName(bad)
		assert.Error(t, err, bad)
	}
}

func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("GEOSERVE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("GEOSERVE_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	pg, err := OpenPostgres(dsn)
	require.NoError(t, err)
	defer pg.Close()
	require.NoError(t, pg.Init(ctx))
	_, err = pg.db.ExecContext(ctx, `TRUNCATE catalog_object, catalog_default, catalog_style_body`)
	require.NoError(t, err)

	cat := catalog.New()
	require.NoError(t, pg.Load(ctx, cat))
	cat.AddListener(pg)
	_, style := populate(t, cat)
	require.NoError(t, pg.WriteStyle(style, []byte("<sld/>")))

	back := catalog.New()
	require.NoError(t, pg.Load(ctx, back))
	for _, k := range catalog.Kinds {
		assert.Equal(t, cat.Count(k), back.Count(k), string(k))
	}
	assert.Equal(t, "topp", back.GetDefaultWorkspace().Name)
	body, err := pg.ReadStyle(style)
	require.NoError(t, err)
	assert.Equal(t, "<sld/>", string(body))
}
