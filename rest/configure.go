package rest

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/nci/geoserve/catalog"
	"github.com/nci/geoserve/crawl/extractor"
	"github.com/nci/geoserve/raster"
	"github.com/nci/geoserve/vector"
)

const defaultCRS = "EPSG:4326"

// Feature types and coverages created from store contents get their
// descriptive fields from sidecar files when present.

func (h *Handler) sidecars(ctx context.Context, dir string) map[string]*extractor.Metadata {
	out := map[string]*extractor.Metadata{}
	if dir == "" {
		return out
	}
	infos, err := extractor.Crawl(ctx, dir)
	if err != nil {
		return out
	}
	for _, info := range infos {
		if info.Metadata == nil {
			continue
		}
		base := filepath.Base(info.Path)
		out[strings.TrimSuffix(base, filepath.Ext(base))] = info.Metadata
	}
	return out
}

func applyMetadata(md *extractor.Metadata, title, abstract *string, keywords *[]string, srs *string) {
	if md == nil {
		return
	}
	if md.Title != "" {
		*title = md.Title
	}
	if md.Abstract != "" {
		*abstract = md.Abstract
	}
	if len(md.Keywords) > 0 {
		*keywords = append([]string(nil), md.Keywords...)
	}
	if md.SRS != "" {
		*srs = md.SRS
	}
}

func (h *Handler) openSource(s *catalog.DataStoreInfo) (vector.Source, error) {
	if h.Files == nil {
		return nil, catalog.Invalidf("No file resolver configured")
	}
	src, err := vector.OpenSource(s, h.Files)
	if err != nil {
		return nil, catalog.Invalidf("Failed to open data store '%s': %v", s.Name, err)
	}
	return src, nil
}

// describe fills the schema and bounds of ft from its native feature type.
func describe(ctx context.Context, src vector.Source, ft *catalog.FeatureTypeInfo, schema, bounds bool) error {
	if schema {
		attrs, err := src.Schema(ctx, ft.NativeName)
		if err != nil {
			return catalog.Invalidf("Failed to read schema of '%s': %v", ft.NativeName, err)
		}
		ft.Attributes = attrs
	}
	if !bounds {
		return nil
	}
	fc, err := src.Features(ctx, ft.NativeName, vector.Query{})
	if err != nil {
		return catalog.Invalidf("Failed to read features of '%s': %v", ft.NativeName, err)
	}
	crs := ft.NativeCRS
	if crs == "" {
		crs = defaultCRS
	}
	ft.NativeBoundingBox = vector.Bounds(fc, crs)
	ft.LatLonBoundingBox = ft.NativeBoundingBox
	ft.LatLonBoundingBox.CRS = defaultCRS
	return nil
}

// newFeatureType describes the native type name of src as a feature type
// of store.
func (h *Handler) newFeatureType(ctx context.Context, src vector.Source, ns *catalog.NamespaceInfo, s *catalog.DataStoreInfo, name string, md *extractor.Metadata) (*catalog.FeatureTypeInfo, error) {
	ft := &catalog.FeatureTypeInfo{
		Name:             name,
		NativeName:       name,
		NamespaceID:      ns.ID,
		StoreID:          s.ID,
		Title:            name,
		NativeCRS:        defaultCRS,
		SRS:              defaultCRS,
		ProjectionPolicy: catalog.ForceDeclared,
		Enabled:          true,
		Advertised:       true,
	}
	applyMetadata(md, &ft.Title, &ft.Abstract, &ft.Keywords, &ft.SRS)
	ft.NativeCRS = ft.SRS
	if err := describe(ctx, src, ft, true, true); err != nil {
		return nil, err
	}
	return ft, nil
}

// newCoverage describes grid as a single band coverage of store.
func newCoverage(ns *catalog.NamespaceInfo, s *catalog.CoverageStoreInfo, name string, g *raster.Grid, md *extractor.Metadata) *catalog.CoverageInfo {
	c := &catalog.CoverageInfo{
		Name:         name,
		NativeName:   name,
		NamespaceID:  ns.ID,
		StoreID:      s.ID,
		Title:        name,
		SRS:          g.CRS,
		Enabled:      true,
		Advertised:   true,
		NativeFormat: catalog.StoreTypeArcGrid,
	}
	if c.SRS == "" {
		c.SRS = defaultCRS
	}
	applyMetadata(md, &c.Title, &c.Abstract, &c.Keywords, &c.SRS)
	describeGrid(c, g)
	return c
}

func describeGrid(c *catalog.CoverageInfo, g *raster.Grid) {
	c.NativeCRS = c.SRS
	c.NativeBoundingBox = vector.EnvelopeOf(g.Bounds(), c.SRS)
	if c.SRS == defaultCRS {
		c.LatLonBoundingBox = c.NativeBoundingBox
	}
	c.Grid = catalog.GridInfo{Width: g.Width, Height: g.Height, Transform: g.Transform}
	dim := catalog.CoverageDimensionInfo{Name: "GRAY_INDEX", Description: "GridSampleDimension[-Infinity,Infinity]"}
	if g.HasNoData {
		dim.NullValues = []float64{g.NoData}
	}
	if lo, hi, ok := g.MinMax(); ok {
		dim.Min, dim.Max = lo, hi
	}
	c.Dimensions = []catalog.CoverageDimensionInfo{dim}
}

// publish adds a layer for a new resource, styled with the built-in style
// matching its geometry.
func (h *Handler) publish(resource catalog.Info) error {
	l := &catalog.LayerInfo{
		Name:       resource.GetName(),
		ResourceID: resource.GetID(),
		Type:       catalog.LayerVector,
		Enabled:    true,
		Queryable:  true,
		Advertised: true,
	}
	if _, ok := resource.(*catalog.CoverageInfo); ok {
		l.Type = catalog.LayerRaster
		l.Queryable = false
	}
	if s := h.Catalog.GetStyleByName("", catalog.DefaultStyleName(resource)); s != nil {
		l.DefaultStyleID = s.ID
	} else if s := h.Catalog.GetStyleByName("", "generic"); s != nil {
		l.DefaultStyleID = s.ID
	}
	return h.Catalog.Add(l)
}

// addResource adds a feature type or coverage and publishes it.
func (h *Handler) addResource(resource catalog.Info) error {
	if err := h.Catalog.Add(resource); err != nil {
		return err
	}
	if err := h.publish(resource); err != nil {
		if rmErr := h.Catalog.Remove(resource); rmErr != nil {
			return rmErr
		}
		return err
	}
	return nil
}
