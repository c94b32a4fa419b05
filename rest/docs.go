package rest

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nci/geoserve/catalog"
)

// Wire shapes of the catalog objects. Scalars are omitted when empty so a
// decoded body only carries the values the client sent; booleans are
// pointers for the same reason.

const dateLayout = "2006-01-02 15:04:05.000 UTC"

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

func boolPtr(b bool) *bool {
	return &b
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

type envelopeDoc struct {
	MinX float64 `xml:"minx" json:"minx"`
	MaxX float64 `xml:"maxx" json:"maxx"`
	MinY float64 `xml:"miny" json:"miny"`
	MaxY float64 `xml:"maxy" json:"maxy"`
	CRS  string  `xml:"crs,omitempty" json:"crs,omitempty"`
}

func envDoc(e catalog.Envelope) *envelopeDoc {
	if e.IsNull() {
		return nil
	}
	return &envelopeDoc{MinX: e.MinX, MaxX: e.MaxX, MinY: e.MinY, MaxY: e.MaxY, CRS: e.CRS}
}

func (e *envelopeDoc) envelope() catalog.Envelope {
	return catalog.Envelope{MinX: e.MinX, MinY: e.MinY, MaxX: e.MaxX, MaxY: e.MaxY, CRS: e.CRS}
}

type stringsDoc struct {
	Strings []string `xml:"string" json:"string"`
}

func keywordsDoc(kw []string) *stringsDoc {
	if len(kw) == 0 {
		return nil
	}
	return &stringsDoc{Strings: append([]string(nil), kw...)}
}

// typedRef refers to an object whose kind is given by its class, e.g. the
// store of a resource or the resource of a layer.
type typedRef struct {
	Class string    `xml:"class,attr,omitempty" json:"@class,omitempty"`
	Name  string    `xml:"name" json:"name"`
	Link  *atomLink `xml:"atom:link,omitempty" json:"-"`
	Href  string    `xml:"-" json:"href,omitempty"`
}

func (h *Handler) typedRef(r *http.Request, class, name string, parts ...string) *typedRef {
	href := h.href(r, parts...)
	return &typedRef{Class: class, Name: name, Link: atom(href), Href: href}
}

type workspaceDoc struct {
	XMLName        xml.Name `xml:"workspace" json:"-"`
	Name           string   `xml:"name,omitempty" json:"name,omitempty"`
	Isolated       *bool    `xml:"isolated,omitempty" json:"isolated,omitempty"`
	DateCreated    string   `xml:"dateCreated,omitempty" json:"dateCreated,omitempty"`
	DateModified   string   `xml:"dateModified,omitempty" json:"dateModified,omitempty"`
	DataStores     *linkDoc `xml:"dataStores,omitempty" json:"dataStores,omitempty"`
	CoverageStores *linkDoc `xml:"coverageStores,omitempty" json:"coverageStores,omitempty"`
	Styles         *linkDoc `xml:"styles,omitempty" json:"styles,omitempty"`
	LayerGroups    *linkDoc `xml:"layerGroups,omitempty" json:"layerGroups,omitempty"`
}

func (h *Handler) workspaceDoc(r *http.Request, ws *catalog.WorkspaceInfo) *workspaceDoc {
	return &workspaceDoc{
		Name:           ws.Name,
		Isolated:       boolPtr(ws.Isolated),
		DateCreated:    formatDate(ws.DateCreated),
		DateModified:   formatDate(ws.DateModified),
		DataStores:     &linkDoc{Href: h.href(r, "workspaces", ws.Name, "datastores")},
		CoverageStores: &linkDoc{Href: h.href(r, "workspaces", ws.Name, "coveragestores")},
		Styles:         &linkDoc{Href: h.href(r, "workspaces", ws.Name, "styles")},
		LayerGroups:    &linkDoc{Href: h.href(r, "workspaces", ws.Name, "layergroups")},
	}
}

func (d *workspaceDoc) apply(ws *catalog.WorkspaceInfo) {
	ws.Name = d.Name
	setBool(&ws.Isolated, d.Isolated)
}

type namespaceDoc struct {
	XMLName      xml.Name `xml:"namespace" json:"-"`
	Prefix       string   `xml:"prefix,omitempty" json:"prefix,omitempty"`
	URI          string   `xml:"uri,omitempty" json:"uri,omitempty"`
	Isolated     *bool    `xml:"isolated,omitempty" json:"isolated,omitempty"`
	FeatureTypes *linkDoc `xml:"featureTypes,omitempty" json:"featureTypes,omitempty"`
}

func (h *Handler) namespaceDoc(r *http.Request, ns *catalog.NamespaceInfo) *namespaceDoc {
	return &namespaceDoc{
		Prefix:       ns.Prefix,
		URI:          ns.URI,
		Isolated:     boolPtr(ns.Isolated),
		FeatureTypes: &linkDoc{Href: h.href(r, "workspaces", ns.Prefix, "featuretypes")},
	}
}

type entryDoc struct {
	Key   string `xml:"key,attr" json:"@key"`
	Value string `xml:",chardata" json:"$"`
}

type entriesDoc struct {
	Entries []entryDoc `xml:"entry" json:"entry"`
}

func paramsDoc(m map[string]string) *entriesDoc {
	if len(m) == 0 {
		return nil
	}
	d := &entriesDoc{}
	for _, k := range sortedKeys(m) {
		d.Entries = append(d.Entries, entryDoc{Key: k, Value: m[k]})
	}
	return d
}

func (d *entriesDoc) params() map[string]string {
	m := make(map[string]string, len(d.Entries))
	for _, e := range d.Entries {
		m[e.Key] = e.Value
	}
	return m
}

type dataStoreDoc struct {
	XMLName              xml.Name    `xml:"dataStore" json:"-"`
	Name                 string      `xml:"name,omitempty" json:"name,omitempty"`
	Description          string      `xml:"description,omitempty" json:"description,omitempty"`
	Type                 string      `xml:"type,omitempty" json:"type,omitempty"`
	Enabled              *bool       `xml:"enabled,omitempty" json:"enabled,omitempty"`
	Workspace            *nameRef    `xml:"workspace,omitempty" json:"workspace,omitempty"`
	ConnectionParameters *entriesDoc `xml:"connectionParameters,omitempty" json:"connectionParameters,omitempty"`
	DateCreated          string      `xml:"dateCreated,omitempty" json:"dateCreated,omitempty"`
	DateModified         string      `xml:"dateModified,omitempty" json:"dateModified,omitempty"`
	FeatureTypes         *linkDoc    `xml:"featureTypes,omitempty" json:"featureTypes,omitempty"`
}

func (h *Handler) dataStoreDoc(r *http.Request, ws string, s *catalog.DataStoreInfo) *dataStoreDoc {
	return &dataStoreDoc{
		Name:                 s.Name,
		Description:          s.Description,
		Type:                 s.Type,
		Enabled:              boolPtr(s.Enabled),
		Workspace:            h.ref(r, ws, "workspaces", ws),
		ConnectionParameters: paramsDoc(s.ConnectionParameters),
		DateCreated:          formatDate(s.DateCreated),
		DateModified:         formatDate(s.DateModified),
		FeatureTypes:         &linkDoc{Href: h.href(r, "workspaces", ws, "datastores", s.Name, "featuretypes")},
	}
}

func (d *dataStoreDoc) apply(s *catalog.DataStoreInfo) {
	s.Name = d.Name
	s.Description = d.Description
	s.Type = d.Type
	setBool(&s.Enabled, d.Enabled)
	if d.ConnectionParameters != nil {
		s.ConnectionParameters = d.ConnectionParameters.params()
	}
}

type coverageStoreDoc struct {
	XMLName      xml.Name `xml:"coverageStore" json:"-"`
	Name         string   `xml:"name,omitempty" json:"name,omitempty"`
	Description  string   `xml:"description,omitempty" json:"description,omitempty"`
	Type         string   `xml:"type,omitempty" json:"type,omitempty"`
	Enabled      *bool    `xml:"enabled,omitempty" json:"enabled,omitempty"`
	Workspace    *nameRef `xml:"workspace,omitempty" json:"workspace,omitempty"`
	URL          string   `xml:"url,omitempty" json:"url,omitempty"`
	DateCreated  string   `xml:"dateCreated,omitempty" json:"dateCreated,omitempty"`
	DateModified string   `xml:"dateModified,omitempty" json:"dateModified,omitempty"`
	Coverages    *linkDoc `xml:"coverages,omitempty" json:"coverages,omitempty"`
}

func (h *Handler) coverageStoreDoc(r *http.Request, ws string, s *catalog.CoverageStoreInfo) *coverageStoreDoc {
	return &coverageStoreDoc{
		Name:         s.Name,
		Description:  s.Description,
		Type:         s.Type,
		Enabled:      boolPtr(s.Enabled),
		Workspace:    h.ref(r, ws, "workspaces", ws),
		URL:          s.URL,
		DateCreated:  formatDate(s.DateCreated),
		DateModified: formatDate(s.DateModified),
		Coverages:    &linkDoc{Href: h.href(r, "workspaces", ws, "coveragestores", s.Name, "coverages")},
	}
}

func (d *coverageStoreDoc) apply(s *catalog.CoverageStoreInfo) {
	s.Name = d.Name
	s.Description = d.Description
	s.Type = d.Type
	s.URL = d.URL
	setBool(&s.Enabled, d.Enabled)
}

type attributeDoc struct {
	Name      string `xml:"name" json:"name"`
	MinOccurs int    `xml:"minOccurs" json:"minOccurs"`
	MaxOccurs int    `xml:"maxOccurs" json:"maxOccurs"`
	Nillable  bool   `xml:"nillable" json:"nillable"`
	Binding   string `xml:"binding" json:"binding"`
}

type attributesDoc struct {
	Attributes []attributeDoc `xml:"attribute" json:"attribute"`
}

type featureTypeDoc struct {
	XMLName           xml.Name       `xml:"featureType" json:"-"`
	Name              string         `xml:"name,omitempty" json:"name,omitempty"`
	NativeName        string         `xml:"nativeName,omitempty" json:"nativeName,omitempty"`
	Namespace         *nameRef       `xml:"namespace,omitempty" json:"namespace,omitempty"`
	Title             string         `xml:"title,omitempty" json:"title,omitempty"`
	Abstract          string         `xml:"abstract,omitempty" json:"abstract,omitempty"`
	Keywords          *stringsDoc    `xml:"keywords,omitempty" json:"keywords,omitempty"`
	NativeCRS         string         `xml:"nativeCRS,omitempty" json:"nativeCRS,omitempty"`
	SRS               string         `xml:"srs,omitempty" json:"srs,omitempty"`
	NativeBoundingBox *envelopeDoc   `xml:"nativeBoundingBox,omitempty" json:"nativeBoundingBox,omitempty"`
	LatLonBoundingBox *envelopeDoc   `xml:"latLonBoundingBox,omitempty" json:"latLonBoundingBox,omitempty"`
	ProjectionPolicy  string         `xml:"projectionPolicy,omitempty" json:"projectionPolicy,omitempty"`
	Enabled           *bool          `xml:"enabled,omitempty" json:"enabled,omitempty"`
	Advertised        *bool          `xml:"advertised,omitempty" json:"advertised,omitempty"`
	MaxFeatures       int            `xml:"maxFeatures,omitempty" json:"maxFeatures,omitempty"`
	NumDecimals       int            `xml:"numDecimals,omitempty" json:"numDecimals,omitempty"`
	Store             *typedRef      `xml:"store,omitempty" json:"store,omitempty"`
	Attributes        *attributesDoc `xml:"attributes,omitempty" json:"attributes,omitempty"`
}

func (h *Handler) featureTypeDoc(r *http.Request, ws, store string, ft *catalog.FeatureTypeInfo) *featureTypeDoc {
	d := &featureTypeDoc{
		Name:              ft.Name,
		NativeName:        ft.NativeName,
		Namespace:         h.ref(r, ws, "namespaces", ws),
		Title:             ft.Title,
		Abstract:          ft.Abstract,
		Keywords:          keywordsDoc(ft.Keywords),
		NativeCRS:         ft.NativeCRS,
		SRS:               ft.SRS,
		NativeBoundingBox: envDoc(ft.NativeBoundingBox),
		LatLonBoundingBox: envDoc(ft.LatLonBoundingBox),
		ProjectionPolicy:  ft.ProjectionPolicy,
		Enabled:           boolPtr(ft.Enabled),
		Advertised:        boolPtr(ft.Advertised),
		MaxFeatures:       ft.MaxFeatures,
		NumDecimals:       ft.NumDecimals,
		Store:             h.typedRef(r, "dataStore", ws+":"+store, "workspaces", ws, "datastores", store),
	}
	if len(ft.Attributes) > 0 {
		d.Attributes = &attributesDoc{}
		for _, a := range ft.Attributes {
			d.Attributes.Attributes = append(d.Attributes.Attributes, attributeDoc(a))
		}
	}
	return d
}

func (d *featureTypeDoc) apply(ft *catalog.FeatureTypeInfo) {
	ft.Name = d.Name
	ft.NativeName = d.NativeName
	ft.Title = d.Title
	ft.Abstract = d.Abstract
	if d.Keywords != nil {
		ft.Keywords = d.Keywords.Strings
	}
	ft.NativeCRS = d.NativeCRS
	ft.SRS = d.SRS
	if d.NativeBoundingBox != nil {
		ft.NativeBoundingBox = d.NativeBoundingBox.envelope()
	}
	if d.LatLonBoundingBox != nil {
		ft.LatLonBoundingBox = d.LatLonBoundingBox.envelope()
	}
	ft.ProjectionPolicy = d.ProjectionPolicy
	setBool(&ft.Enabled, d.Enabled)
	setBool(&ft.Advertised, d.Advertised)
	ft.MaxFeatures = d.MaxFeatures
	ft.NumDecimals = d.NumDecimals
	if d.Attributes != nil {
		ft.Attributes = nil
		for _, a := range d.Attributes.Attributes {
			ft.Attributes = append(ft.Attributes, catalog.AttributeTypeInfo(a))
		}
	}
}

type nullValuesDoc struct {
	Doubles []float64 `xml:"double" json:"double"`
}

type rangeDoc struct {
	Min float64 `xml:"min" json:"min"`
	Max float64 `xml:"max" json:"max"`
}

type dimensionDoc struct {
	Name        string         `xml:"name" json:"name"`
	Description string         `xml:"description,omitempty" json:"description,omitempty"`
	Range       *rangeDoc      `xml:"range,omitempty" json:"range,omitempty"`
	NullValues  *nullValuesDoc `xml:"nullValues,omitempty" json:"nullValues,omitempty"`
}

type dimensionsDoc struct {
	Dimensions []dimensionDoc `xml:"coverageDimension" json:"coverageDimension"`
}

type gridRangeDoc struct {
	Low  string `xml:"low" json:"low"`
	High string `xml:"high" json:"high"`
}

type transformDoc struct {
	ScaleX     float64 `xml:"scaleX" json:"scaleX"`
	ScaleY     float64 `xml:"scaleY" json:"scaleY"`
	ShearX     float64 `xml:"shearX" json:"shearX"`
	ShearY     float64 `xml:"shearY" json:"shearY"`
	TranslateX float64 `xml:"translateX" json:"translateX"`
	TranslateY float64 `xml:"translateY" json:"translateY"`
}

type gridDoc struct {
	Dimension string        `xml:"dimension,attr" json:"@dimension"`
	Range     *gridRangeDoc `xml:"range,omitempty" json:"range,omitempty"`
	Transform *transformDoc `xml:"transform,omitempty" json:"transform,omitempty"`
	CRS       string        `xml:"crs,omitempty" json:"crs,omitempty"`
}

type coverageDoc struct {
	XMLName           xml.Name       `xml:"coverage" json:"-"`
	Name              string         `xml:"name,omitempty" json:"name,omitempty"`
	NativeName        string         `xml:"nativeName,omitempty" json:"nativeName,omitempty"`
	Namespace         *nameRef       `xml:"namespace,omitempty" json:"namespace,omitempty"`
	Title             string         `xml:"title,omitempty" json:"title,omitempty"`
	Abstract          string         `xml:"abstract,omitempty" json:"abstract,omitempty"`
	Keywords          *stringsDoc    `xml:"keywords,omitempty" json:"keywords,omitempty"`
	NativeCRS         string         `xml:"nativeCRS,omitempty" json:"nativeCRS,omitempty"`
	SRS               string         `xml:"srs,omitempty" json:"srs,omitempty"`
	NativeBoundingBox *envelopeDoc   `xml:"nativeBoundingBox,omitempty" json:"nativeBoundingBox,omitempty"`
	LatLonBoundingBox *envelopeDoc   `xml:"latLonBoundingBox,omitempty" json:"latLonBoundingBox,omitempty"`
	Enabled           *bool          `xml:"enabled,omitempty" json:"enabled,omitempty"`
	Advertised        *bool          `xml:"advertised,omitempty" json:"advertised,omitempty"`
	NativeFormat      string         `xml:"nativeFormat,omitempty" json:"nativeFormat,omitempty"`
	Grid              *gridDoc       `xml:"grid,omitempty" json:"grid,omitempty"`
	Dimensions        *dimensionsDoc `xml:"dimensions,omitempty" json:"dimensions,omitempty"`
	Store             *typedRef      `xml:"store,omitempty" json:"store,omitempty"`
}

func (h *Handler) coverageDoc(r *http.Request, ws, store string, c *catalog.CoverageInfo) *coverageDoc {
	d := &coverageDoc{
		Name:              c.Name,
		NativeName:        c.NativeName,
		Namespace:         h.ref(r, ws, "namespaces", ws),
		Title:             c.Title,
		Abstract:          c.Abstract,
		Keywords:          keywordsDoc(c.Keywords),
		NativeCRS:         c.NativeCRS,
		SRS:               c.SRS,
		NativeBoundingBox: envDoc(c.NativeBoundingBox),
		LatLonBoundingBox: envDoc(c.LatLonBoundingBox),
		Enabled:           boolPtr(c.Enabled),
		Advertised:        boolPtr(c.Advertised),
		NativeFormat:      c.NativeFormat,
		Store:             h.typedRef(r, "coverageStore", ws+":"+store, "workspaces", ws, "coveragestores", store),
	}
	if c.Grid.Width > 0 && c.Grid.Height > 0 {
		t := c.Grid.Transform
		d.Grid = &gridDoc{
			Dimension: "2",
			Range:     &gridRangeDoc{Low: "0 0", High: fmt.Sprintf("%d %d", c.Grid.Width, c.Grid.Height)},
			Transform: &transformDoc{ScaleX: t[1], ScaleY: t[5], ShearX: t[2], ShearY: t[4], TranslateX: t[0], TranslateY: t[3]},
			CRS:       c.SRS,
		}
	}
	if len(c.Dimensions) > 0 {
		d.Dimensions = &dimensionsDoc{}
		for _, dim := range c.Dimensions {
			dd := dimensionDoc{Name: dim.Name, Description: dim.Description, Range: &rangeDoc{Min: dim.Min, Max: dim.Max}}
			if len(dim.NullValues) > 0 {
				dd.NullValues = &nullValuesDoc{Doubles: append([]float64(nil), dim.NullValues...)}
			}
			d.Dimensions.Dimensions = append(d.Dimensions.Dimensions, dd)
		}
	}
	return d
}

// apply copies the editable fields; the grid is derived from the data.
func (d *coverageDoc) apply(c *catalog.CoverageInfo) {
	c.Name = d.Name
	c.NativeName = d.NativeName
	c.Title = d.Title
	c.Abstract = d.Abstract
	if d.Keywords != nil {
		c.Keywords = d.Keywords.Strings
	}
	c.NativeCRS = d.NativeCRS
	c.SRS = d.SRS
	if d.NativeBoundingBox != nil {
		c.NativeBoundingBox = d.NativeBoundingBox.envelope()
	}
	if d.LatLonBoundingBox != nil {
		c.LatLonBoundingBox = d.LatLonBoundingBox.envelope()
	}
	setBool(&c.Enabled, d.Enabled)
	setBool(&c.Advertised, d.Advertised)
	c.NativeFormat = d.NativeFormat
	if d.Dimensions != nil {
		c.Dimensions = nil
		for _, dd := range d.Dimensions.Dimensions {
			dim := catalog.CoverageDimensionInfo{Name: dd.Name, Description: dd.Description}
			if dd.Range != nil {
				dim.Min, dim.Max = dd.Range.Min, dd.Range.Max
			}
			if dd.NullValues != nil {
				dim.NullValues = dd.NullValues.Doubles
			}
			c.Dimensions = append(c.Dimensions, dim)
		}
	}
}

type versionDoc struct {
	Version string `xml:"version" json:"version"`
}

type styleDoc struct {
	XMLName         xml.Name    `xml:"style" json:"-"`
	Name            string      `xml:"name,omitempty" json:"name,omitempty"`
	Workspace       *nameRef    `xml:"workspace,omitempty" json:"workspace,omitempty"`
	Format          string      `xml:"format,omitempty" json:"format,omitempty"`
	LanguageVersion *versionDoc `xml:"languageVersion,omitempty" json:"languageVersion,omitempty"`
	Filename        string      `xml:"filename,omitempty" json:"filename,omitempty"`
	DateCreated     string      `xml:"dateCreated,omitempty" json:"dateCreated,omitempty"`
	DateModified    string      `xml:"dateModified,omitempty" json:"dateModified,omitempty"`
}

func (h *Handler) styleDoc(r *http.Request, ws string, s *catalog.StyleInfo) *styleDoc {
	d := &styleDoc{
		Name:         s.Name,
		Workspace:    h.ref(r, ws, "workspaces", ws),
		Format:       s.Format,
		Filename:     s.Filename,
		DateCreated:  formatDate(s.DateCreated),
		DateModified: formatDate(s.DateModified),
	}
	if s.FormatVersion != "" {
		d.LanguageVersion = &versionDoc{Version: s.FormatVersion}
	}
	return d
}

func (d *styleDoc) apply(s *catalog.StyleInfo) {
	s.Name = d.Name
	if d.Format != "" {
		s.Format = d.Format
	}
	if d.LanguageVersion != nil {
		s.FormatVersion = d.LanguageVersion.Version
	}
	if d.Filename != "" {
		s.Filename = d.Filename
	}
}

type stylesDoc struct {
	Class  string    `xml:"class,attr,omitempty" json:"@class,omitempty"`
	Styles []nameRef `xml:"style" json:"style"`
}

type layerDoc struct {
	XMLName      xml.Name   `xml:"layer" json:"-"`
	Name         string     `xml:"name,omitempty" json:"name,omitempty"`
	Path         string     `xml:"path,omitempty" json:"path,omitempty"`
	Type         string     `xml:"type,omitempty" json:"type,omitempty"`
	DefaultStyle *nameRef   `xml:"defaultStyle,omitempty" json:"defaultStyle,omitempty"`
	Styles       *stylesDoc `xml:"styles,omitempty" json:"styles,omitempty"`
	Resource     *typedRef  `xml:"resource,omitempty" json:"resource,omitempty"`
	Enabled      *bool      `xml:"enabled,omitempty" json:"enabled,omitempty"`
	Queryable    *bool      `xml:"queryable,omitempty" json:"queryable,omitempty"`
	Opaque       *bool      `xml:"opaque,omitempty" json:"opaque,omitempty"`
	Advertised   *bool      `xml:"advertised,omitempty" json:"advertised,omitempty"`
}

// styleRef names a style the way layers refer to it: ws:name for
// workspace styles, name for global ones.
func (h *Handler) styleRef(r *http.Request, id string) *nameRef {
	s := h.Catalog.GetStyle(id)
	if s == nil {
		return nil
	}
	if s.WorkspaceID == "" {
		return h.ref(r, s.Name, "styles", s.Name)
	}
	ws := h.Catalog.GetWorkspace(s.WorkspaceID)
	if ws == nil {
		return nil
	}
	return h.ref(r, ws.Name+":"+s.Name, "workspaces", ws.Name, "styles", s.Name)
}

func (h *Handler) layerDoc(r *http.Request, l *catalog.LayerInfo) *layerDoc {
	d := &layerDoc{
		Name:         l.Name,
		Path:         l.Path,
		Type:         l.Type,
		DefaultStyle: h.styleRef(r, l.DefaultStyleID),
		Enabled:      boolPtr(l.Enabled),
		Queryable:    boolPtr(l.Queryable),
		Opaque:       boolPtr(l.Opaque),
		Advertised:   boolPtr(l.Advertised),
	}
	if len(l.StyleIDs) > 0 {
		d.Styles = &stylesDoc{Class: "linked-hash-set"}
		for _, id := range l.StyleIDs {
			if ref := h.styleRef(r, id); ref != nil {
				d.Styles.Styles = append(d.Styles.Styles, *ref)
			}
		}
	}
	if ws := h.Catalog.LayerWorkspace(l); ws != nil {
		d.Name = ws.Name + ":" + l.Name
		switch res := h.Catalog.GetResource(l.ResourceID).(type) {
		case *catalog.FeatureTypeInfo:
			if s := h.Catalog.GetDataStore(res.StoreID); s != nil {
				d.Resource = h.typedRef(r, "featureType", d.Name, "workspaces", ws.Name, "datastores", s.Name, "featuretypes", res.Name)
			}
		case *catalog.CoverageInfo:
			if s := h.Catalog.GetCoverageStore(res.StoreID); s != nil {
				d.Resource = h.typedRef(r, "coverage", d.Name, "workspaces", ws.Name, "coveragestores", s.Name, "coverages", res.Name)
			}
		}
	}
	return d
}

type publishedDoc struct {
	Type string    `xml:"type,attr,omitempty" json:"@type,omitempty"`
	Name string    `xml:"name" json:"name"`
	Link *atomLink `xml:"atom:link,omitempty" json:"-"`
	Href string    `xml:"-" json:"href,omitempty"`
}

type publishablesDoc struct {
	Published []publishedDoc `xml:"published" json:"published"`
}

type layerGroupDoc struct {
	XMLName      xml.Name         `xml:"layerGroup" json:"-"`
	Name         string           `xml:"name,omitempty" json:"name,omitempty"`
	Mode         string           `xml:"mode,omitempty" json:"mode,omitempty"`
	Title        string           `xml:"title,omitempty" json:"title,omitempty"`
	Abstract     string           `xml:"abstractTxt,omitempty" json:"abstractTxt,omitempty"`
	Workspace    *nameRef         `xml:"workspace,omitempty" json:"workspace,omitempty"`
	Publishables *publishablesDoc `xml:"publishables,omitempty" json:"publishables,omitempty"`
	Styles       *stylesDoc       `xml:"styles,omitempty" json:"styles,omitempty"`
	Bounds       *envelopeDoc     `xml:"bounds,omitempty" json:"bounds,omitempty"`
}

func (h *Handler) layerGroupDoc(r *http.Request, g *catalog.LayerGroupInfo) *layerGroupDoc {
	d := &layerGroupDoc{
		Name:     g.Name,
		Mode:     g.Mode,
		Title:    g.Title,
		Abstract: g.Abstract,
		Bounds:   envDoc(g.Bounds),
	}
	if ws := h.Catalog.GetWorkspace(g.WorkspaceID); ws != nil {
		d.Workspace = h.ref(r, ws.Name, "workspaces", ws.Name)
	}
	if len(g.Publishables) > 0 {
		d.Publishables = &publishablesDoc{}
		for _, p := range g.Publishables {
			pd := publishedDoc{Type: p.Type}
			switch p.Type {
			case catalog.PublishedLayer:
				l := h.Catalog.GetLayer(p.ID)
				if l == nil {
					continue
				}
				pd.Name = l.Name
				if ws := h.Catalog.LayerWorkspace(l); ws != nil {
					pd.Name = ws.Name + ":" + l.Name
				}
				pd.Href = h.href(r, "layers", pd.Name)
			case catalog.PublishedLayerGroup:
				child := h.Catalog.GetLayerGroup(p.ID)
				if child == nil {
					continue
				}
				pd.Name = child.Name
				pd.Href = h.href(r, "layergroups", child.Name)
				if ws := h.Catalog.GetWorkspace(child.WorkspaceID); ws != nil {
					pd.Name = ws.Name + ":" + child.Name
					pd.Href = h.href(r, "workspaces", ws.Name, "layergroups", child.Name)
				}
			}
			pd.Link = atom(pd.Href)
			d.Publishables.Published = append(d.Publishables.Published, pd)
		}
	}
	if len(g.StyleIDs) > 0 {
		d.Styles = &stylesDoc{}
		for _, id := range g.StyleIDs {
			ref := h.styleRef(r, id)
			if ref == nil {
				ref = &nameRef{}
			}
			d.Styles.Styles = append(d.Styles.Styles, *ref)
		}
	}
	return d
}

// splitQualified splits "ws:name" into its parts; unqualified names get
// the default workspace def.
func splitQualified(name, def string) (string, string) {
	if i := strings.Index(name, ":"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return def, name
}
