package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	added, modified, removed []string
	defaults                 []string
}

func (r *recorder) HandleAdd(info Info)         { r.added = append(r.added, info.GetName()) }
func (r *recorder) HandleModify(old, info Info) { r.modified = append(r.modified, info.GetName()) }
func (r *recorder) HandleRemove(info Info)      { r.removed = append(r.removed, info.GetName()) }
func (r *recorder) HandleDefaultWorkspace(ws *WorkspaceInfo) {
	name := ""
	if ws != nil {
		name = ws.Name
	}
	r.defaults = append(r.defaults, name)
}

type fixture struct {
	cat   *Catalog
	ws    *WorkspaceInfo
	ns    *NamespaceInfo
	ds    *DataStoreInfo
	ft    *FeatureTypeInfo
	layer *LayerInfo
	style *StyleInfo
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{cat: New()}
	f.ws = &WorkspaceInfo{Name: "topp"}
	require.NoError(t, f.cat.Add(f.ws))
	f.ns = &NamespaceInfo{Prefix: "topp", URI: "http://topp"}
	require.NoError(t, f.cat.Add(f.ns))
	f.ds = &DataStoreInfo{Name: "states", Type: StoreTypeGeoJSON, Enabled: true, WorkspaceID: f.ws.ID}
	require.NoError(t, f.cat.Add(f.ds))
	f.ft = &FeatureTypeInfo{
		Name: "states", NativeName: "states", NamespaceID: f.ns.ID, StoreID: f.ds.ID, Enabled: true,
		Attributes: []AttributeTypeInfo{{Name: "the_geom", Binding: BindingMultiPolygon}},
	}
	require.NoError(t, f.cat.Add(f.ft))
	f.style = &StyleInfo{Name: "polygon", Format: "sld", Filename: "polygon.sld"}
	require.NoError(t, f.cat.Add(f.style))
	f.layer = &LayerInfo{Name: "states", Type: LayerVector, ResourceID: f.ft.ID, DefaultStyleID: f.style.ID, Enabled: true}
	require.NoError(t, f.cat.Add(f.layer))
	return f
}

func TestAddAssignsIDs(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.ws.ID, "WorkspaceInfo-")
	assert.Contains(t, f.ft.ID, "FeatureTypeInfo-")
	assert.False(t, f.ws.DateCreated.IsZero())

	got := f.cat.GetWorkspaceByName("topp")
	require.NotNil(t, got)
	assert.Equal(t, f.ws.ID, got.ID)
	assert.Equal(t, "topp", f.cat.GetDefaultWorkspace().Name)
	assert.Equal(t, "http://topp", f.cat.GetDefaultNamespace().URI)
}

func TestGettersReturnCopies(t *testing.T) {
	f := newFixture(t)
	ws := f.cat.GetWorkspaceByName("topp")
	ws.Name = "changed"
	assert.NotNil(t, f.cat.GetWorkspaceByName("topp"))
	assert.Nil(t, f.cat.GetWorkspaceByName("changed"))
}

func TestDuplicateNames(t *testing.T) {
	f := newFixture(t)
	err := f.cat.Add(&WorkspaceInfo{Name: "topp"})
	assert.True(t, errors.Is(err, ErrExists))

	err = f.cat.Add(&CoverageStoreInfo{Name: "states", Type: StoreTypeArcGrid, WorkspaceID: f.ws.ID})
	assert.True(t, errors.Is(err, ErrExists), "store names are shared between data and coverage stores")

	err = f.cat.Add(&NamespaceInfo{Prefix: "other", URI: "http://topp"})
	assert.True(t, errors.Is(err, ErrExists))

	err = f.cat.Add(&LayerInfo{Name: "states", ResourceID: f.ft.ID})
	assert.True(t, errors.Is(err, ErrExists))
}

func TestValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		info Info
	}{
		{"empty name", &WorkspaceInfo{Name: " "}},
		{"colon", &WorkspaceInfo{Name: "a:b"}},
		{"store without workspace", &DataStoreInfo{Name: "x", WorkspaceID: "missing"}},
		{"feature type without store", &FeatureTypeInfo{Name: "x", NamespaceID: f.ns.ID, StoreID: "missing"}},
		{"style without file", &StyleInfo{Name: "nofile"}},
		{"layer name mismatch", &LayerInfo{Name: "other", ResourceID: f.ft.ID}},
		{"empty group", &LayerGroupInfo{Name: "g"}},
		{"group style count", &LayerGroupInfo{Name: "g", Publishables: []PublishedRef{{Type: PublishedLayer, ID: f.layer.ID}}, StyleIDs: []string{"", ""}}},
		{"bad mode", &LayerGroupInfo{Name: "g", Mode: "WRONG", Publishables: []PublishedRef{{Type: PublishedLayer, ID: f.layer.ID}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.cat.Add(tc.info)
			assert.True(t, errors.Is(err, ErrInvalid), "got %v", err)
		})
	}
}

func TestResourceNamespaceMustMatchWorkspace(t *testing.T) {
	f := newFixture(t)
	ws := &WorkspaceInfo{Name: "sf"}
	require.NoError(t, f.cat.Add(ws))
	ns := &NamespaceInfo{Prefix: "sf", URI: "http://sf"}
	require.NoError(t, f.cat.Add(ns))

	err := f.cat.Add(&FeatureTypeInfo{Name: "roads", NamespaceID: ns.ID, StoreID: f.ds.ID})
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestRemoveInUse(t *testing.T) {
	f := newFixture(t)
	assert.True(t, errors.Is(f.cat.Remove(f.ws), ErrInUse))
	assert.True(t, errors.Is(f.cat.Remove(f.ds), ErrInUse))
	assert.True(t, errors.Is(f.cat.Remove(f.ft), ErrInUse))
	assert.True(t, errors.Is(f.cat.Remove(f.style), ErrInUse))

	require.NoError(t, f.cat.Remove(f.layer))
	require.NoError(t, f.cat.Remove(f.ft))
	require.NoError(t, f.cat.Remove(f.ds))
	assert.Nil(t, f.cat.GetDataStoreByName("topp", "states"))
}

func TestRemoveMissing(t *testing.T) {
	c := New()
	err := c.Remove(&WorkspaceInfo{ID: "nope", Name: "nope"})
	assert.True(t, errors.Is(err, ErrNotFound))
	err = c.Save(&WorkspaceInfo{ID: "nope", Name: "nope"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCascadeRemoveWorkspace(t *testing.T) {
	f := newFixture(t)
	group := &LayerGroupInfo{Name: "all", Publishables: []PublishedRef{{Type: PublishedLayer, ID: f.layer.ID}}}
	require.NoError(t, f.cat.Add(group))
	rec := &recorder{}
	f.cat.AddListener(rec)

	require.NoError(t, f.cat.CascadeRemove(f.ws))

	assert.Nil(t, f.cat.GetWorkspaceByName("topp"))
	assert.Nil(t, f.cat.GetNamespaceByPrefix("topp"))
	assert.Empty(t, f.cat.GetLayers())
	assert.Empty(t, f.cat.GetFeatureTypes())
	assert.Nil(t, f.cat.GetLayerGroupByName("", "all"), "global group left empty is removed")
	assert.NotNil(t, f.cat.GetStyleByName("", "polygon"), "global styles survive")

	assert.Equal(t, []string{"all", "states", "states", "states", "topp", "topp"}, rec.removed)
	assert.Equal(t, []string{""}, rec.defaults)
}

func TestCascadeRemoveStyle(t *testing.T) {
	f := newFixture(t)
	extra := &StyleInfo{Name: "red", Filename: "red.sld"}
	require.NoError(t, f.cat.Add(extra))
	l := f.cat.GetLayer(f.layer.ID)
	l.DefaultStyleID = extra.ID
	l.StyleIDs = []string{f.style.ID}
	require.NoError(t, f.cat.Save(l))

	require.NoError(t, f.cat.CascadeRemove(extra))
	l = f.cat.GetLayer(f.layer.ID)
	assert.Equal(t, f.style.ID, l.DefaultStyleID, "falls back to the style matching the geometry")
	assert.Equal(t, []string{f.style.ID}, l.StyleIDs)
}

func TestCascadeKeepsNonEmptyGroups(t *testing.T) {
	f := newFixture(t)
	ft2 := &FeatureTypeInfo{Name: "roads", NamespaceID: f.ns.ID, StoreID: f.ds.ID}
	require.NoError(t, f.cat.Add(ft2))
	l2 := &LayerInfo{Name: "roads", ResourceID: ft2.ID}
	require.NoError(t, f.cat.Add(l2))
	group := &LayerGroupInfo{
		Name:         "both",
		WorkspaceID:  f.ws.ID,
		Publishables: []PublishedRef{{Type: PublishedLayer, ID: f.layer.ID}, {Type: PublishedLayer, ID: l2.ID}},
		StyleIDs:     []string{f.style.ID, ""},
	}
	require.NoError(t, f.cat.Add(group))

	require.NoError(t, f.cat.CascadeRemove(f.ft))
	g := f.cat.GetLayerGroupByName("topp", "both")
	require.NotNil(t, g)
	assert.Equal(t, []PublishedRef{{Type: PublishedLayer, ID: l2.ID}}, g.Publishables)
	assert.Equal(t, []string{""}, g.StyleIDs)
}

func TestDefaultWorkspacePromotion(t *testing.T) {
	c := New()
	for _, n := range []string{"b", "a", "c"} {
		require.NoError(t, c.Add(&WorkspaceInfo{Name: n}))
	}
	assert.Equal(t, "b", c.GetDefaultWorkspace().Name)
	require.NoError(t, c.SetDefaultWorkspace("c"))
	assert.Equal(t, "c", c.GetDefaultWorkspace().Name)
	require.NoError(t, c.Remove(c.GetWorkspaceByName("c")))
	assert.Equal(t, "a", c.GetDefaultWorkspace().Name)
	assert.True(t, errors.Is(c.SetDefaultWorkspace("zzz"), ErrNotFound))
}

func TestLayerByName(t *testing.T) {
	f := newFixture(t)
	assert.NotNil(t, f.cat.GetLayerByName("topp:states"))
	assert.NotNil(t, f.cat.GetLayerByName("states"))
	assert.Nil(t, f.cat.GetLayerByName("sf:states"))
	assert.Equal(t, "topp", f.cat.LayerWorkspace(f.layer).Name)
	assert.Len(t, f.cat.GetLayersUsingStyle(f.style.ID), 1)
}

func TestStyleLookupFallsBackToGlobal(t *testing.T) {
	f := newFixture(t)
	local := &StyleInfo{Name: "polygon", WorkspaceID: f.ws.ID, Filename: "polygon.sld"}
	require.NoError(t, f.cat.Add(local))
	assert.Equal(t, local.ID, f.cat.GetStyleByName("topp", "polygon").ID)
	assert.Equal(t, f.style.ID, f.cat.GetStyleByName("", "polygon").ID)
	assert.Len(t, f.cat.GetStylesByWorkspace("topp"), 1)
	assert.Len(t, f.cat.GetStylesByWorkspace(""), 1)
}

func TestGroupCycle(t *testing.T) {
	f := newFixture(t)
	inner := &LayerGroupInfo{Name: "inner", Publishables: []PublishedRef{{Type: PublishedLayer, ID: f.layer.ID}}}
	require.NoError(t, f.cat.Add(inner))
	outer := &LayerGroupInfo{Name: "outer", Publishables: []PublishedRef{{Type: PublishedLayerGroup, ID: inner.ID}}}
	require.NoError(t, f.cat.Add(outer))

	inner = f.cat.GetLayerGroup(inner.ID)
	inner.Publishables = append(inner.Publishables, PublishedRef{Type: PublishedLayerGroup, ID: outer.ID})
	assert.True(t, errors.Is(f.cat.Save(inner), ErrInvalid))
}

func TestReload(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	f.cat.AddListener(rec)

	err := f.cat.Reload(func(fresh *Catalog) error {
		fresh.Load(&WorkspaceInfo{ID: "ws-sf", Name: "sf"}, &NamespaceInfo{ID: "ns-sf", Prefix: "sf", URI: "http://sf"})
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, f.cat.GetWorkspaceByName("topp"))
	assert.Nil(t, f.cat.GetLayerByName("topp:states"))
	require.NotNil(t, f.cat.GetWorkspaceByName("sf"))
	assert.Equal(t, "sf", f.cat.GetDefaultWorkspace().Name)
	assert.Empty(t, rec.added)

	err = f.cat.Reload(func(fresh *Catalog) error {
		fresh.Load(&WorkspaceInfo{ID: "ws-it", Name: "it"})
		return errors.New("broken store")
	})
	assert.Error(t, err)
	assert.NotNil(t, f.cat.GetWorkspaceByName("sf"))
	assert.Nil(t, f.cat.GetWorkspaceByName("it"))

	require.NoError(t, f.cat.Add(&WorkspaceInfo{Name: "nurc"}))
	assert.Equal(t, []string{"nurc"}, rec.added)
}

func TestReloadBlocksMutations(t *testing.T) {
	f := newFixture(t)
	loading := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- f.cat.Reload(func(fresh *Catalog) error {
			close(loading)
			<-release
			fresh.Load(&WorkspaceInfo{ID: "ws-sf", Name: "sf"})
			return nil
		})
	}()
	<-loading
	added := make(chan error, 1)
	go func() { added <- f.cat.Add(&WorkspaceInfo{Name: "nurc"}) }()
	close(release)
	require.NoError(t, <-done)
	require.NoError(t, <-added)
	// the add cannot interleave with the reload, so it survives it
	assert.NotNil(t, f.cat.GetWorkspaceByName("nurc"))
	assert.NotNil(t, f.cat.GetWorkspaceByName("sf"))
}
