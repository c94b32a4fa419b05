package rest

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/nci/geoserve/catalog"
	"github.com/nci/geoserve/raster"
)

const (
	listConfigured = "configured"
	listAvailable  = "available"
	listAll        = "all"
)

func listParam(r *http.Request) (string, error) {
	l := strings.ToLower(r.URL.Query().Get("list"))
	switch l {
	case "":
		return listConfigured, nil
	case listConfigured, listAvailable, listAll:
		return l, nil
	}
	return "", badRequest("Invalid list parameter '%s'", l)
}

// availableFeatureTypes returns the native type names of stores that are
// not yet configured, or every native name when all is set.
func (h *Handler) availableFeatureTypes(ctx context.Context, stores []*catalog.DataStoreInfo, all bool) ([]string, error) {
	var names []string
	for _, s := range stores {
		src, err := h.openSource(s)
		if err != nil {
			return nil, err
		}
		typeNames, err := src.TypeNames(ctx)
		src.Close()
		if err != nil {
			return nil, catalog.Invalidf("Failed to list feature types of '%s': %v", s.Name, err)
		}
		configured := map[string]bool{}
		for _, ft := range h.Catalog.GetFeatureTypesByStore(s.ID) {
			configured[ft.NativeName] = true
		}
		for _, n := range typeNames {
			if all || !configured[n] {
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// featureTypeStores returns the data store named in the path, or every
// data store of the workspace.
func (h *Handler) featureTypeStores(r *http.Request) ([]*catalog.DataStoreInfo, error) {
	ws := r.PathValue("ws")
	if ds := r.PathValue("ds"); ds != "" {
		s, err := h.dataStore(ws, ds)
		if err != nil {
			return nil, err
		}
		return []*catalog.DataStoreInfo{s}, nil
	}
	if _, err := h.workspace(ws); err != nil {
		return nil, err
	}
	return h.Catalog.GetDataStoresByWorkspace(ws), nil
}

func (h *Handler) listFeatureTypes(w http.ResponseWriter, r *http.Request) error {
	mode, err := listParam(r)
	if err != nil {
		return err
	}
	stores, err := h.featureTypeStores(r)
	if err != nil {
		return err
	}
	ws := r.PathValue("ws")
	if mode != listConfigured {
		names, err := h.availableFeatureTypes(r.Context(), stores, mode == listAll)
		if err != nil {
			return err
		}
		return h.writeDoc(w, r, http.StatusOK, "list", &namesDoc{Root: "list", Elem: "featureTypeName", Names: names})
	}
	var items []namedLink
	for _, s := range stores {
		for _, ft := range h.Catalog.GetFeatureTypesByStore(s.ID) {
			items = append(items, namedLink{Name: ft.Name, Href: h.featureTypeHref(r, ws, s.Name, ft.Name)})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return h.writeList(w, r, "featureTypes", "featureType", items)
}

func (h *Handler) featureTypeHref(r *http.Request, ws, ds, name string) string {
	if r.PathValue("ds") == "" {
		return h.href(r, "workspaces", ws, "featuretypes", name)
	}
	return h.href(r, "workspaces", ws, "datastores", ds, "featuretypes", name)
}

func (h *Handler) featureType(r *http.Request) (*catalog.FeatureTypeInfo, *catalog.DataStoreInfo, error) {
	ws, name := r.PathValue("ws"), r.PathValue("ft")
	var ft *catalog.FeatureTypeInfo
	if ds := r.PathValue("ds"); ds != "" {
		s, err := h.dataStore(ws, ds)
		if err != nil {
			return nil, nil, err
		}
		ft = h.Catalog.GetFeatureTypeByStore(s.ID, name)
		if ft == nil {
			return nil, nil, catalog.NotFoundf("No such feature type: %s,%s,%s", ws, ds, name)
		}
		return ft, s, nil
	}
	if _, err := h.workspace(ws); err != nil {
		return nil, nil, err
	}
	ft = h.Catalog.GetFeatureTypeByName(ws, name)
	if ft == nil {
		return nil, nil, catalog.NotFoundf("No such feature type: %s,%s", ws, name)
	}
	s := h.Catalog.GetDataStore(ft.StoreID)
	if s == nil {
		return nil, nil, catalog.NotFoundf("Feature type %s,%s has no data store", ws, name)
	}
	return ft, s, nil
}

// postFeatureType configures a native feature type of a store. The store
// comes from the path, the doc, or is the only store of the workspace.
func (h *Handler) postFeatureType(w http.ResponseWriter, r *http.Request) error {
	ws := r.PathValue("ws")
	ns, err := h.namespace(ws)
	if err != nil {
		return err
	}
	d := &featureTypeDoc{}
	if err := decodeDoc(r, "featureType", d); err != nil {
		return err
	}
	if d.Name == "" {
		return badRequest("Feature type name is required")
	}
	dsName := r.PathValue("ds")
	if dsName == "" && d.Store != nil {
		_, dsName = splitQualified(d.Store.Name, ws)
	}
	if dsName == "" {
		stores := h.Catalog.GetDataStoresByWorkspace(ws)
		if len(stores) != 1 {
			return badRequest("No data store given for feature type %s", d.Name)
		}
		dsName = stores[0].Name
	}
	s, err := h.dataStore(ws, dsName)
	if err != nil {
		return err
	}
	nativeName := d.NativeName
	if nativeName == "" {
		nativeName = d.Name
	}

	ft := &catalog.FeatureTypeInfo{
		Name:             d.Name,
		NativeName:       nativeName,
		NamespaceID:      ns.ID,
		StoreID:          s.ID,
		Title:            d.Name,
		NativeCRS:        defaultCRS,
		SRS:              defaultCRS,
		ProjectionPolicy: catalog.ForceDeclared,
		Enabled:          true,
		Advertised:       true,
	}
	if src, err := h.openSource(s); err == nil {
		defer src.Close()
		described, err := h.newFeatureType(r.Context(), src, ns, s, nativeName, nil)
		if err != nil && d.Attributes == nil {
			return err
		}
		if err == nil {
			ft = described
			ft.Name = d.Name
		}
	} else if d.Attributes == nil {
		return err
	}
	d.NativeName = nativeName
	current := h.featureTypeDoc(r, ws, s.Name, ft)
	mergeFeatureTypeDoc(current, d)
	current.apply(ft)
	if err := h.addResource(ft); err != nil {
		return err
	}
	if r.PathValue("ds") == "" {
		return h.created(w, r, ft.Name, "workspaces", ws, "featuretypes", ft.Name)
	}
	return h.created(w, r, ft.Name, "workspaces", ws, "datastores", s.Name, "featuretypes", ft.Name)
}

// mergeFeatureTypeDoc overlays the values a client sent on the described
// defaults.
func mergeFeatureTypeDoc(dst, src *featureTypeDoc) {
	dst.Name = src.Name
	dst.NativeName = src.NativeName
	if src.Title != "" {
		dst.Title = src.Title
	}
	if src.Abstract != "" {
		dst.Abstract = src.Abstract
	}
	if src.Keywords != nil {
		dst.Keywords = src.Keywords
	}
	if src.NativeCRS != "" {
		dst.NativeCRS = src.NativeCRS
	}
	if src.SRS != "" {
		dst.SRS = src.SRS
	}
	if src.NativeBoundingBox != nil {
		dst.NativeBoundingBox = src.NativeBoundingBox
	}
	if src.LatLonBoundingBox != nil {
		dst.LatLonBoundingBox = src.LatLonBoundingBox
	}
	if src.ProjectionPolicy != "" {
		dst.ProjectionPolicy = src.ProjectionPolicy
	}
	if src.Enabled != nil {
		dst.Enabled = src.Enabled
	}
	if src.Advertised != nil {
		dst.Advertised = src.Advertised
	}
	if src.MaxFeatures != 0 {
		dst.MaxFeatures = src.MaxFeatures
	}
	if src.NumDecimals != 0 {
		dst.NumDecimals = src.NumDecimals
	}
	if src.Attributes != nil {
		dst.Attributes = src.Attributes
	}
}

func (h *Handler) getFeatureType(w http.ResponseWriter, r *http.Request) error {
	ft, s, err := h.featureType(r)
	if err != nil {
		return err
	}
	return h.writeDoc(w, r, http.StatusOK, "featureType", h.featureTypeDoc(r, r.PathValue("ws"), s.Name, ft))
}

// recalculate parses recalculate=nativebbox,latlonbbox.
func recalculate(r *http.Request) (native, latlon bool, err error) {
	for _, p := range strings.Split(r.URL.Query().Get("recalculate"), ",") {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "":
		case "nativebbox":
			native = true
		case "latlonbbox":
			latlon = true
		default:
			return false, false, badRequest("Invalid recalculate value '%s'", p)
		}
	}
	return native, latlon, nil
}

func (h *Handler) putFeatureType(w http.ResponseWriter, r *http.Request) error {
	ft, s, err := h.featureType(r)
	if err != nil {
		return err
	}
	native, latlon, err := recalculate(r)
	if err != nil {
		return err
	}
	ws := r.PathValue("ws")
	oldName := ft.Name
	d := h.featureTypeDoc(r, ws, s.Name, ft)
	if err := decodeDoc(r, "featureType", d); err != nil {
		return err
	}
	if d.Store != nil {
		if _, name := splitQualified(d.Store.Name, ws); name != s.Name {
			return forbidden("Can't change the store of feature type %s", ft.Name)
		}
	}
	d.apply(ft)
	if native || latlon {
		src, err := h.openSource(s)
		if err != nil {
			return err
		}
		defer src.Close()
		recalc := ft.Clone()
		if err := describe(r.Context(), src, recalc, false, true); err != nil {
			return err
		}
		if native {
			ft.NativeBoundingBox = recalc.NativeBoundingBox
		}
		if latlon {
			ft.LatLonBoundingBox = recalc.LatLonBoundingBox
		}
	}
	if err := h.saveResource(ft, oldName); err != nil {
		return err
	}
	return h.ok(w)
}

// saveResource saves a feature type or coverage and renames the layers
// publishing it along with it.
func (h *Handler) saveResource(resource catalog.Info, oldName string) error {
	if err := h.Catalog.Save(resource); err != nil {
		return err
	}
	if resource.GetName() == oldName {
		return nil
	}
	for _, l := range h.Catalog.GetLayersByResource(resource.GetID()) {
		l.Name = resource.GetName()
		if err := h.Catalog.Save(l); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) deleteFeatureType(w http.ResponseWriter, r *http.Request) error {
	ft, _, err := h.featureType(r)
	if err != nil {
		return err
	}
	if err := h.remove(ft, boolParam(r, "recurse")); err != nil {
		return err
	}
	return h.ok(w)
}

func (h *Handler) coverageStores(r *http.Request) ([]*catalog.CoverageStoreInfo, error) {
	ws := r.PathValue("ws")
	if cs := r.PathValue("cs"); cs != "" {
		s, err := h.coverageStore(ws, cs)
		if err != nil {
			return nil, err
		}
		return []*catalog.CoverageStoreInfo{s}, nil
	}
	if _, err := h.workspace(ws); err != nil {
		return nil, err
	}
	return h.Catalog.GetCoverageStoresByWorkspace(ws), nil
}

// nativeCoverage is the name of the single coverage an ArcGrid store
// holds: its file name without extension.
func nativeCoverage(s *catalog.CoverageStoreInfo) string {
	u := s.URL
	if i := strings.LastIndexAny(u, "/:"); i >= 0 {
		u = u[i+1:]
	}
	if i := strings.LastIndex(u, "."); i > 0 {
		u = u[:i]
	}
	return u
}

func (h *Handler) readGrid(s *catalog.CoverageStoreInfo) (*raster.Grid, error) {
	if h.Files == nil {
		return nil, catalog.Invalidf("No file resolver configured")
	}
	if s.Type != catalog.StoreTypeArcGrid {
		return nil, catalog.Invalidf("Unsupported coverage store type '%s'", s.Type)
	}
	p, err := h.Files.ResolveURL(s.URL)
	if err != nil {
		return nil, catalog.Invalidf("Coverage store '%s' has no readable file: %v", s.Name, err)
	}
	g, err := raster.ReadArcGridFile(p)
	if err != nil {
		return nil, catalog.Invalidf("Failed to read coverage store '%s': %v", s.Name, err)
	}
	return g, nil
}

func (h *Handler) listCoverages(w http.ResponseWriter, r *http.Request) error {
	mode, err := listParam(r)
	if err != nil {
		return err
	}
	stores, err := h.coverageStores(r)
	if err != nil {
		return err
	}
	ws := r.PathValue("ws")
	if mode != listConfigured {
		var names []string
		for _, s := range stores {
			native := nativeCoverage(s)
			if native == "" {
				continue
			}
			configured := false
			for _, c := range h.Catalog.GetCoveragesByStore(s.ID) {
				configured = configured || c.NativeName == native
			}
			if mode == listAll || !configured {
				names = append(names, native)
			}
		}
		sort.Strings(names)
		return h.writeDoc(w, r, http.StatusOK, "list", &namesDoc{Root: "list", Elem: "coverageName", Names: names})
	}
	var items []namedLink
	for _, s := range stores {
		for _, c := range h.Catalog.GetCoveragesByStore(s.ID) {
			items = append(items, namedLink{Name: c.Name, Href: h.coverageHref(r, ws, s.Name, c.Name)})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return h.writeList(w, r, "coverages", "coverage", items)
}

func (h *Handler) coverageHref(r *http.Request, ws, cs, name string) string {
	if r.PathValue("cs") == "" {
		return h.href(r, "workspaces", ws, "coverages", name)
	}
	return h.href(r, "workspaces", ws, "coveragestores", cs, "coverages", name)
}

func (h *Handler) coverage(r *http.Request) (*catalog.CoverageInfo, *catalog.CoverageStoreInfo, error) {
	ws, name := r.PathValue("ws"), r.PathValue("c")
	if cs := r.PathValue("cs"); cs != "" {
		s, err := h.coverageStore(ws, cs)
		if err != nil {
			return nil, nil, err
		}
		c := h.Catalog.GetCoverageByStore(s.ID, name)
		if c == nil {
			return nil, nil, catalog.NotFoundf("No such coverage: %s,%s,%s", ws, cs, name)
		}
		return c, s, nil
	}
	if _, err := h.workspace(ws); err != nil {
		return nil, nil, err
	}
	c := h.Catalog.GetCoverageByName(ws, name)
	if c == nil {
		return nil, nil, catalog.NotFoundf("No such coverage: %s,%s", ws, name)
	}
	s := h.Catalog.GetCoverageStore(c.StoreID)
	if s == nil {
		return nil, nil, catalog.NotFoundf("Coverage %s,%s has no coverage store", ws, name)
	}
	return c, s, nil
}

func (h *Handler) postCoverage(w http.ResponseWriter, r *http.Request) error {
	ws := r.PathValue("ws")
	ns, err := h.namespace(ws)
	if err != nil {
		return err
	}
	d := &coverageDoc{}
	if err := decodeDoc(r, "coverage", d); err != nil {
		return err
	}
	if d.Name == "" {
		return badRequest("Coverage name is required")
	}
	csName := r.PathValue("cs")
	if csName == "" && d.Store != nil {
		_, csName = splitQualified(d.Store.Name, ws)
	}
	if csName == "" {
		stores := h.Catalog.GetCoverageStoresByWorkspace(ws)
		if len(stores) != 1 {
			return badRequest("No coverage store given for coverage %s", d.Name)
		}
		csName = stores[0].Name
	}
	s, err := h.coverageStore(ws, csName)
	if err != nil {
		return err
	}
	g, err := h.readGrid(s)
	if err != nil {
		return err
	}
	c := newCoverage(ns, s, d.Name, g, nil)
	if d.NativeName != "" {
		c.NativeName = d.NativeName
	}
	current := h.coverageDoc(r, ws, s.Name, c)
	if d.Title != "" {
		current.Title = d.Title
	}
	if d.Abstract != "" {
		current.Abstract = d.Abstract
	}
	if d.Keywords != nil {
		current.Keywords = d.Keywords
	}
	if d.SRS != "" {
		current.SRS = d.SRS
	}
	if d.Enabled != nil {
		current.Enabled = d.Enabled
	}
	if d.Advertised != nil {
		current.Advertised = d.Advertised
	}
	if d.Dimensions != nil {
		current.Dimensions = d.Dimensions
	}
	current.apply(c)
	if err := h.addResource(c); err != nil {
		return err
	}
	if r.PathValue("cs") == "" {
		return h.created(w, r, c.Name, "workspaces", ws, "coverages", c.Name)
	}
	return h.created(w, r, c.Name, "workspaces", ws, "coveragestores", s.Name, "coverages", c.Name)
}

func (h *Handler) getCoverage(w http.ResponseWriter, r *http.Request) error {
	c, s, err := h.coverage(r)
	if err != nil {
		return err
	}
	return h.writeDoc(w, r, http.StatusOK, "coverage", h.coverageDoc(r, r.PathValue("ws"), s.Name, c))
}

func (h *Handler) putCoverage(w http.ResponseWriter, r *http.Request) error {
	c, s, err := h.coverage(r)
	if err != nil {
		return err
	}
	ws := r.PathValue("ws")
	oldName := c.Name
	d := h.coverageDoc(r, ws, s.Name, c)
	if err := decodeDoc(r, "coverage", d); err != nil {
		return err
	}
	if d.Store != nil {
		if _, name := splitQualified(d.Store.Name, ws); name != s.Name {
			return forbidden("Can't change the store of coverage %s", c.Name)
		}
	}
	d.apply(c)
	if err := h.saveResource(c, oldName); err != nil {
		return err
	}
	return h.ok(w)
}

func (h *Handler) deleteCoverage(w http.ResponseWriter, r *http.Request) error {
	c, _, err := h.coverage(r)
	if err != nil {
		return err
	}
	if err := h.remove(c, boolParam(r, "recurse")); err != nil {
		return err
	}
	return h.ok(w)
}
