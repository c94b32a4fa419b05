package catalog

import (
	"math"
	"time"
)

// Kind identifies the type of a catalog object.
type Kind string

const (
	KindWorkspace     Kind = "workspace"
	KindNamespace     Kind = "namespace"
	KindDataStore     Kind = "dataStore"
	KindCoverageStore Kind = "coverageStore"
	KindFeatureType   Kind = "featureType"
	KindCoverage      Kind = "coverage"
	KindStyle         Kind = "style"
	KindLayer         Kind = "layer"
	KindLayerGroup    Kind = "layerGroup"
)

// Kinds lists every kind in dependency order: an object only refers to
// objects of kinds listed before its own.
var Kinds = []Kind{
	KindWorkspace,
	KindNamespace,
	KindDataStore,
	KindCoverageStore,
	KindFeatureType,
	KindCoverage,
	KindStyle,
	KindLayer,
	KindLayerGroup,
}

// Info is implemented by every catalog object.
type Info interface {
	GetID() string
	GetName() string
	Kind() Kind
}

// Envelope is an axis aligned bounding box in the given CRS.
type Envelope struct {
	MinX float64 `json:"minx"`
	MinY float64 `json:"miny"`
	MaxX float64 `json:"maxx"`
	MaxY float64 `json:"maxy"`
	CRS  string  `json:"crs,omitempty"`
}

// NullEnvelope returns an envelope that expands to the first envelope it
// includes.
func NullEnvelope(crs string) Envelope {
	return Envelope{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1), CRS: crs}
}

func (e Envelope) IsNull() bool {
	return e.MinX > e.MaxX || e.MinY > e.MaxY || (e.MinX == 0 && e.MinY == 0 && e.MaxX == 0 && e.MaxY == 0)
}

// ExpandToInclude returns the union of e and o. Null envelopes are ignored.
func (e Envelope) ExpandToInclude(o Envelope) Envelope {
	if o.IsNull() {
		return e
	}
	if e.IsNull() {
		if o.CRS == "" {
			o.CRS = e.CRS
		}
		return o
	}
	e.MinX = math.Min(e.MinX, o.MinX)
	e.MinY = math.Min(e.MinY, o.MinY)
	e.MaxX = math.Max(e.MaxX, o.MaxX)
	e.MaxY = math.Max(e.MaxY, o.MaxY)
	return e
}

type WorkspaceInfo struct {
	ID           string
	Name         string
	Isolated     bool
	DateCreated  time.Time
	DateModified time.Time
	Metadata     map[string]string
}

func (w *WorkspaceInfo) GetID() string   { return w.ID }
func (w *WorkspaceInfo) GetName() string { return w.Name }
func (w *WorkspaceInfo) Kind() Kind      { return KindWorkspace }

func (w *WorkspaceInfo) Clone() *WorkspaceInfo {
	c := *w
	c.Metadata = cloneMap(w.Metadata)
	return &c
}

// NamespaceInfo carries the URI of a workspace. Its prefix always equals the
// workspace name.
type NamespaceInfo struct {
	ID       string
	Prefix   string
	URI      string
	Isolated bool
}

func (n *NamespaceInfo) GetID() string   { return n.ID }
func (n *NamespaceInfo) GetName() string { return n.Prefix }
func (n *NamespaceInfo) Kind() Kind      { return KindNamespace }

func (n *NamespaceInfo) Clone() *NamespaceInfo {
	c := *n
	return &c
}

// Data store types understood by the vector package.
const (
	StoreTypeGeoJSON   = "GeoJSON"
	StoreTypeDirectory = "Directory of spatial files"
	StoreTypePostGIS   = "PostGIS"
	StoreTypeArcGrid   = "ArcGrid"
)

type DataStoreInfo struct {
	ID                   string
	Name                 string
	Description          string
	Type                 string
	Enabled              bool
	WorkspaceID          string
	ConnectionParameters map[string]string
	DateCreated          time.Time
	DateModified         time.Time
}

func (s *DataStoreInfo) GetID() string   { return s.ID }
func (s *DataStoreInfo) GetName() string { return s.Name }
func (s *DataStoreInfo) Kind() Kind      { return KindDataStore }

func (s *DataStoreInfo) Clone() *DataStoreInfo {
	c := *s
	c.ConnectionParameters = cloneMap(s.ConnectionParameters)
	return &c
}

type CoverageStoreInfo struct {
	ID           string
	Name         string
	Description  string
	Type         string
	Enabled      bool
	WorkspaceID  string
	URL          string
	DateCreated  time.Time
	DateModified time.Time
}

func (s *CoverageStoreInfo) GetID() string   { return s.ID }
func (s *CoverageStoreInfo) GetName() string { return s.Name }
func (s *CoverageStoreInfo) Kind() Kind      { return KindCoverageStore }

func (s *CoverageStoreInfo) Clone() *CoverageStoreInfo {
	c := *s
	return &c
}

// Attribute bindings.
const (
	BindingString          = "java.lang.String"
	BindingInteger         = "java.lang.Integer"
	BindingLong            = "java.lang.Long"
	BindingDouble          = "java.lang.Double"
	BindingBoolean         = "java.lang.Boolean"
	BindingDate            = "java.util.Date"
	BindingGeometry        = "org.locationtech.jts.geom.Geometry"
	BindingPoint           = "org.locationtech.jts.geom.Point"
	BindingLineString      = "org.locationtech.jts.geom.LineString"
	BindingPolygon         = "org.locationtech.jts.geom.Polygon"
	BindingMultiPoint      = "org.locationtech.jts.geom.MultiPoint"
	BindingMultiLineString = "org.locationtech.jts.geom.MultiLineString"
	BindingMultiPolygon    = "org.locationtech.jts.geom.MultiPolygon"
)

// IsGeometryBinding reports whether the binding names a geometry class.
func IsGeometryBinding(binding string) bool {
	switch binding {
	case BindingGeometry, BindingPoint, BindingLineString, BindingPolygon,
		BindingMultiPoint, BindingMultiLineString, BindingMultiPolygon:
		return true
	}
	return false
}

type AttributeTypeInfo struct {
	Name      string `json:"name"`
	MinOccurs int    `json:"minOccurs"`
	MaxOccurs int    `json:"maxOccurs"`
	Nillable  bool   `json:"nillable"`
	Binding   string `json:"binding"`
}

// Projection policies.
const (
	ForceDeclared       = "FORCE_DECLARED"
	ReprojectToDeclared = "REPROJECT_TO_DECLARED"
	NoneDeclared        = "NONE"
)

type FeatureTypeInfo struct {
	ID                string
	Name              string
	NativeName        string
	NamespaceID       string
	StoreID           string
	Title             string
	Abstract          string
	Keywords          []string
	NativeCRS         string
	SRS               string
	ProjectionPolicy  string
	NativeBoundingBox Envelope
	LatLonBoundingBox Envelope
	Enabled           bool
	Advertised        bool
	MaxFeatures       int
	NumDecimals       int
	Attributes        []AttributeTypeInfo
}

func (f *FeatureTypeInfo) GetID() string   { return f.ID }
func (f *FeatureTypeInfo) GetName() string { return f.Name }
func (f *FeatureTypeInfo) Kind() Kind      { return KindFeatureType }

func (f *FeatureTypeInfo) Clone() *FeatureTypeInfo {
	c := *f
	c.Keywords = append([]string(nil), f.Keywords...)
	c.Attributes = append([]AttributeTypeInfo(nil), f.Attributes...)
	return &c
}

// GeometryAttribute returns the first geometry attribute, if any.
func (f *FeatureTypeInfo) GeometryAttribute() (AttributeTypeInfo, bool) {
	for _, a := range f.Attributes {
		if IsGeometryBinding(a.Binding) {
			return a, true
		}
	}
	return AttributeTypeInfo{}, false
}

type CoverageDimensionInfo struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	NullValues  []float64 `json:"nullValues"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
}

type GridInfo struct {
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	Transform [6]float64 `json:"transform"`
}

type CoverageInfo struct {
	ID                string
	Name              string
	NativeName        string
	NamespaceID       string
	StoreID           string
	Title             string
	Abstract          string
	Keywords          []string
	NativeCRS         string
	SRS               string
	NativeBoundingBox Envelope
	LatLonBoundingBox Envelope
	Enabled           bool
	Advertised        bool
	NativeFormat      string
	Grid              GridInfo
	Dimensions        []CoverageDimensionInfo
}

func (c *CoverageInfo) GetID() string   { return c.ID }
func (c *CoverageInfo) GetName() string { return c.Name }
func (c *CoverageInfo) Kind() Kind      { return KindCoverage }

func (c *CoverageInfo) Clone() *CoverageInfo {
	o := *c
	o.Keywords = append([]string(nil), c.Keywords...)
	o.Dimensions = make([]CoverageDimensionInfo, len(c.Dimensions))
	for i, d := range c.Dimensions {
		d.NullValues = append([]float64(nil), d.NullValues...)
		o.Dimensions[i] = d
	}
	return &o
}

type StyleInfo struct {
	ID            string
	Name          string
	WorkspaceID   string
	Format        string
	FormatVersion string
	Filename      string
	Resources     []string
	DateCreated   time.Time
	DateModified  time.Time
}

func (s *StyleInfo) GetID() string   { return s.ID }
func (s *StyleInfo) GetName() string { return s.Name }
func (s *StyleInfo) Kind() Kind      { return KindStyle }

func (s *StyleInfo) Clone() *StyleInfo {
	c := *s
	c.Resources = append([]string(nil), s.Resources...)
	return &c
}

// Layer types.
const (
	LayerVector = "VECTOR"
	LayerRaster = "RASTER"
)

type LayerInfo struct {
	ID             string
	Name           string
	Type           string
	ResourceID     string
	DefaultStyleID string
	StyleIDs       []string
	Enabled        bool
	Queryable      bool
	Opaque         bool
	Advertised     bool
	Path           string
}

func (l *LayerInfo) GetID() string   { return l.ID }
func (l *LayerInfo) GetName() string { return l.Name }
func (l *LayerInfo) Kind() Kind      { return KindLayer }

func (l *LayerInfo) Clone() *LayerInfo {
	c := *l
	c.StyleIDs = append([]string(nil), l.StyleIDs...)
	return &c
}

// Layer group modes.
const (
	ModeSingle    = "SINGLE"
	ModeNamed     = "NAMED"
	ModeContainer = "CONTAINER"
	ModeEO        = "EO"
)

// Published reference types.
const (
	PublishedLayer      = "layer"
	PublishedLayerGroup = "layerGroup"
)

type PublishedRef struct {
	Type string
	ID   string
}

type LayerGroupInfo struct {
	ID           string
	Name         string
	WorkspaceID  string
	Mode         string
	Title        string
	Abstract     string
	Publishables []PublishedRef
	StyleIDs     []string
	Bounds       Envelope
}

func (g *LayerGroupInfo) GetID() string   { return g.ID }
func (g *LayerGroupInfo) GetName() string { return g.Name }
func (g *LayerGroupInfo) Kind() Kind      { return KindLayerGroup }

func (g *LayerGroupInfo) Clone() *LayerGroupInfo {
	c := *g
	c.Publishables = append([]PublishedRef(nil), g.Publishables...)
	c.StyleIDs = append([]string(nil), g.StyleIDs...)
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// CloneInfo returns a deep copy of any catalog object.
func CloneInfo(info Info) Info {
	switch o := info.(type) {
	case *WorkspaceInfo:
		return o.Clone()
	case *NamespaceInfo:
		return o.Clone()
	case *DataStoreInfo:
		return o.Clone()
	case *CoverageStoreInfo:
		return o.Clone()
	case *FeatureTypeInfo:
		return o.Clone()
	case *CoverageInfo:
		return o.Clone()
	case *StyleInfo:
		return o.Clone()
	case *LayerInfo:
		return o.Clone()
	case *LayerGroupInfo:
		return o.Clone()
	}
	return info
}
