package persist

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nci/geoserve/catalog"
	"golang.org/x/net/html/charset"
)

const timeLayout = "2006-01-02 15:04:05.000 UTC"

type ref struct {
	ID string `xml:"id"`
}

func refOf(id string) *ref {
	if id == "" {
		return nil
	}
	return &ref{ID: id}
}

func (r *ref) id() string {
	if r == nil {
		return ""
	}
	return r.ID
}

type entry struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

func entries(m map[string]string) []entry {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, entry{Key: k, Value: m[k]})
	}
	return out
}

func entryMap(es []entry) map[string]string {
	if len(es) == 0 {
		return nil
	}
	m := make(map[string]string, len(es))
	for _, e := range es {
		m[e.Key] = e.Value
	}
	return m
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

type envelopeDoc struct {
	MinX float64 `xml:"minx"`
	MaxX float64 `xml:"maxx"`
	MinY float64 `xml:"miny"`
	MaxY float64 `xml:"maxy"`
	CRS  string  `xml:"crs,omitempty"`
}

func envDoc(e catalog.Envelope) *envelopeDoc {
	if e.IsNull() {
		return nil
	}
	return &envelopeDoc{MinX: e.MinX, MaxX: e.MaxX, MinY: e.MinY, MaxY: e.MaxY, CRS: e.CRS}
}

func (e *envelopeDoc) envelope() catalog.Envelope {
	if e == nil {
		return catalog.Envelope{}
	}
	return catalog.Envelope{MinX: e.MinX, MaxX: e.MaxX, MinY: e.MinY, MaxY: e.MaxY, CRS: e.CRS}
}

type workspaceDoc struct {
	XMLName      xml.Name `xml:"workspace"`
	ID           string   `xml:"id"`
	Name         string   `xml:"name"`
	Isolated     bool     `xml:"isolated"`
	DateCreated  string   `xml:"dateCreated,omitempty"`
	DateModified string   `xml:"dateModified,omitempty"`
	Metadata     []entry  `xml:"metadata>entry,omitempty"`
}

type namespaceDoc struct {
	XMLName  xml.Name `xml:"namespace"`
	ID       string   `xml:"id"`
	Prefix   string   `xml:"prefix"`
	URI      string   `xml:"uri"`
	Isolated bool     `xml:"isolated"`
}

type dataStoreDoc struct {
	XMLName              xml.Name `xml:"dataStore"`
	ID                   string   `xml:"id"`
	Name                 string   `xml:"name"`
	Description          string   `xml:"description,omitempty"`
	Type                 string   `xml:"type"`
	Enabled              bool     `xml:"enabled"`
	Workspace            *ref     `xml:"workspace"`
	ConnectionParameters []entry  `xml:"connectionParameters>entry"`
	DateCreated          string   `xml:"dateCreated,omitempty"`
	DateModified         string   `xml:"dateModified,omitempty"`
}

type coverageStoreDoc struct {
	XMLName      xml.Name `xml:"coverageStore"`
	ID           string   `xml:"id"`
	Name         string   `xml:"name"`
	Description  string   `xml:"description,omitempty"`
	Type         string   `xml:"type"`
	Enabled      bool     `xml:"enabled"`
	Workspace    *ref     `xml:"workspace"`
	URL          string   `xml:"url"`
	DateCreated  string   `xml:"dateCreated,omitempty"`
	DateModified string   `xml:"dateModified,omitempty"`
}

type attributeDoc struct {
	Name      string `xml:"name"`
	MinOccurs int    `xml:"minOccurs"`
	MaxOccurs int    `xml:"maxOccurs"`
	Nillable  bool   `xml:"nillable"`
	Binding   string `xml:"binding"`
}

type featureTypeDoc struct {
	XMLName           xml.Name       `xml:"featureType"`
	ID                string         `xml:"id"`
	Name              string         `xml:"name"`
	NativeName        string         `xml:"nativeName"`
	Namespace         *ref           `xml:"namespace"`
	Title             string         `xml:"title,omitempty"`
	Abstract          string         `xml:"abstract,omitempty"`
	Keywords          []string       `xml:"keywords>string,omitempty"`
	NativeCRS         string         `xml:"nativeCRS,omitempty"`
	SRS               string         `xml:"srs,omitempty"`
	NativeBoundingBox *envelopeDoc   `xml:"nativeBoundingBox"`
	LatLonBoundingBox *envelopeDoc   `xml:"latLonBoundingBox"`
	ProjectionPolicy  string         `xml:"projectionPolicy,omitempty"`
	Enabled           bool           `xml:"enabled"`
	Advertised        bool           `xml:"advertised"`
	Store             *ref           `xml:"store"`
	MaxFeatures       int            `xml:"maxFeatures"`
	NumDecimals       int            `xml:"numDecimals"`
	Attributes        []attributeDoc `xml:"attributes>attribute,omitempty"`
}

type dimensionDoc struct {
	Name        string    `xml:"name"`
	Description string    `xml:"description,omitempty"`
	NullValues  []float64 `xml:"nullValues>double,omitempty"`
	Min         float64   `xml:"range>min"`
	Max         float64   `xml:"range>max"`
}

type gridDoc struct {
	Width     int    `xml:"width"`
	Height    int    `xml:"height"`
	Transform string `xml:"transform"`
}

type coverageDoc struct {
	XMLName           xml.Name       `xml:"coverage"`
	ID                string         `xml:"id"`
	Name              string         `xml:"name"`
	NativeName        string         `xml:"nativeName"`
	Namespace         *ref           `xml:"namespace"`
	Title             string         `xml:"title,omitempty"`
	Abstract          string         `xml:"abstract,omitempty"`
	Keywords          []string       `xml:"keywords>string,omitempty"`
	NativeCRS         string         `xml:"nativeCRS,omitempty"`
	SRS               string         `xml:"srs,omitempty"`
	NativeBoundingBox *envelopeDoc   `xml:"nativeBoundingBox"`
	LatLonBoundingBox *envelopeDoc   `xml:"latLonBoundingBox"`
	Enabled           bool           `xml:"enabled"`
	Advertised        bool           `xml:"advertised"`
	Store             *ref           `xml:"store"`
	NativeFormat      string         `xml:"nativeFormat,omitempty"`
	Grid              gridDoc        `xml:"grid"`
	Dimensions        []dimensionDoc `xml:"dimensions>coverageDimension,omitempty"`
}

type styleDoc struct {
	XMLName       xml.Name `xml:"style"`
	ID            string   `xml:"id"`
	Name          string   `xml:"name"`
	Workspace     *ref     `xml:"workspace"`
	Format        string   `xml:"format,omitempty"`
	FormatVersion string   `xml:"languageVersion>version,omitempty"`
	Filename      string   `xml:"filename"`
	Resources     []string `xml:"resources>resource,omitempty"`
	DateCreated   string   `xml:"dateCreated,omitempty"`
	DateModified  string   `xml:"dateModified,omitempty"`
}

type layerDoc struct {
	XMLName      xml.Name `xml:"layer"`
	ID           string   `xml:"id"`
	Name         string   `xml:"name"`
	Type         string   `xml:"type"`
	Path         string   `xml:"path,omitempty"`
	DefaultStyle *ref     `xml:"defaultStyle"`
	Styles       []ref    `xml:"styles>style,omitempty"`
	Resource     *ref     `xml:"resource"`
	Enabled      bool     `xml:"enabled"`
	Queryable    bool     `xml:"queryable"`
	Opaque       bool     `xml:"opaque"`
	Advertised   bool     `xml:"advertised"`
}

type publishedDoc struct {
	Type string `xml:"type,attr"`
	ID   string `xml:"id"`
}

type layerGroupDoc struct {
	XMLName      xml.Name       `xml:"layerGroup"`
	ID           string         `xml:"id"`
	Name         string         `xml:"name"`
	Mode         string         `xml:"mode"`
	Title        string         `xml:"title,omitempty"`
	Abstract     string         `xml:"abstractTxt,omitempty"`
	Workspace    *ref           `xml:"workspace"`
	Publishables []publishedDoc `xml:"publishables>published"`
	Styles       []ref          `xml:"styles>style"`
	Bounds       *envelopeDoc   `xml:"bounds"`
}

type defaultDoc struct {
	XMLName xml.Name `xml:"workspace"`
	Name    string   `xml:"name"`
}

func formatTransform(t [6]float64) string {
	parts := make([]string, len(t))
	for i, v := range t {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, " ")
}

func parseTransform(s string) [6]float64 {
	var t [6]float64
	fmt.Sscan(s, &t[0], &t[1], &t[2], &t[3], &t[4], &t[5])
	return t
}

// encodeXML renders info as a data directory document.
func encodeXML(info catalog.Info) ([]byte, error) {
	var doc interface{}
	switch o := info.(type) {
	case *catalog.WorkspaceInfo:
		doc = &workspaceDoc{ID: o.ID, Name: o.Name, Isolated: o.Isolated,
			DateCreated: formatTime(o.DateCreated), DateModified: formatTime(o.DateModified), Metadata: entries(o.Metadata)}
	case *catalog.NamespaceInfo:
		doc = &namespaceDoc{ID: o.ID, Prefix: o.Prefix, URI: o.URI, Isolated: o.Isolated}
	case *catalog.DataStoreInfo:
		doc = &dataStoreDoc{ID: o.ID, Name: o.Name, Description: o.Description, Type: o.Type, Enabled: o.Enabled,
			Workspace: refOf(o.WorkspaceID), ConnectionParameters: entries(o.ConnectionParameters),
			DateCreated: formatTime(o.DateCreated), DateModified: formatTime(o.DateModified)}
	case *catalog.CoverageStoreInfo:
		doc = &coverageStoreDoc{ID: o.ID, Name: o.Name, Description: o.Description, Type: o.Type, Enabled: o.Enabled,
			Workspace: refOf(o.WorkspaceID), URL: o.URL,
			DateCreated: formatTime(o.DateCreated), DateModified: formatTime(o.DateModified)}
	case *catalog.FeatureTypeInfo:
		d := &featureTypeDoc{ID: o.ID, Name: o.Name, NativeName: o.NativeName, Namespace: refOf(o.NamespaceID),
			Title: o.Title, Abstract: o.Abstract, Keywords: o.Keywords, NativeCRS: o.NativeCRS, SRS: o.SRS,
			NativeBoundingBox: envDoc(o.NativeBoundingBox), LatLonBoundingBox: envDoc(o.LatLonBoundingBox),
			ProjectionPolicy: o.ProjectionPolicy, Enabled: o.Enabled, Advertised: o.Advertised,
			Store: refOf(o.StoreID), MaxFeatures: o.MaxFeatures, NumDecimals: o.NumDecimals}
		for _, a := range o.Attributes {
			d.Attributes = append(d.Attributes, attributeDoc(a))
		}
		doc = d
	case *catalog.CoverageInfo:
		d := &coverageDoc{ID: o.ID, Name: o.Name, NativeName: o.NativeName, Namespace: refOf(o.NamespaceID),
			Title: o.Title, Abstract: o.Abstract, Keywords: o.Keywords, NativeCRS: o.NativeCRS, SRS: o.SRS,
			NativeBoundingBox: envDoc(o.NativeBoundingBox), LatLonBoundingBox: envDoc(o.LatLonBoundingBox),
			Enabled: o.Enabled, Advertised: o.Advertised, Store: refOf(o.StoreID), NativeFormat: o.NativeFormat,
			Grid: gridDoc{Width: o.Grid.Width, Height: o.Grid.Height, Transform: formatTransform(o.Grid.Transform)}}
		for _, dim := range o.Dimensions {
			d.Dimensions = append(d.Dimensions, dimensionDoc(dim))
		}
		doc = d
	case *catalog.StyleInfo:
		doc = &styleDoc{ID: o.ID, Name: o.Name, Workspace: refOf(o.WorkspaceID), Format: o.Format,
			FormatVersion: o.FormatVersion, Filename: o.Filename, Resources: o.Resources,
			DateCreated: formatTime(o.DateCreated), DateModified: formatTime(o.DateModified)}
	case *catalog.LayerInfo:
		d := &layerDoc{ID: o.ID, Name: o.Name, Type: o.Type, Path: o.Path, DefaultStyle: refOf(o.DefaultStyleID),
			Resource: refOf(o.ResourceID), Enabled: o.Enabled, Queryable: o.Queryable, Opaque: o.Opaque, Advertised: o.Advertised}
		for _, s := range o.StyleIDs {
			d.Styles = append(d.Styles, ref{ID: s})
		}
		doc = d
	case *catalog.LayerGroupInfo:
		d := &layerGroupDoc{ID: o.ID, Name: o.Name, Mode: o.Mode, Title: o.Title, Abstract: o.Abstract,
			Workspace: refOf(o.WorkspaceID), Bounds: envDoc(o.Bounds)}
		for _, p := range o.Publishables {
			d.Publishables = append(d.Publishables, publishedDoc{Type: p.Type, ID: p.ID})
		}
		for _, s := range o.StyleIDs {
			d.Styles = append(d.Styles, ref{ID: s})
		}
		doc = d
	default:
		return nil, fmt.Errorf("cannot encode %T", info)
	}
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(body, '\n'), nil
}

func newDecoder(body []byte) *xml.Decoder {
	d := xml.NewDecoder(bytes.NewReader(body))
	d.CharsetReader = charset.NewReaderLabel
	return d
}

// decodeXML parses a data directory document of the given kind.
func decodeXML(kind catalog.Kind, body []byte) (catalog.Info, error) {
	dec := newDecoder(body)
	switch kind {
	case catalog.KindWorkspace:
		var d workspaceDoc
		if err := dec.Decode(&d); err != nil {
			return nil, err
		}
		return &catalog.WorkspaceInfo{ID: d.ID, Name: d.Name, Isolated: d.Isolated,
			DateCreated: parseTime(d.DateCreated), DateModified: parseTime(d.DateModified), Metadata: entryMap(d.Metadata)}, nil
	case catalog.KindNamespace:
		var d namespaceDoc
		if err := dec.Decode(&d); err != nil {
			return nil, err
		}
		return &catalog.NamespaceInfo{ID: d.ID, Prefix: d.Prefix, URI: d.URI, Isolated: d.Isolated}, nil
	case catalog.KindDataStore:
		var d dataStoreDoc
		if err := dec.Decode(&d); err != nil {
			return nil, err
		}
		return &catalog.DataStoreInfo{ID: d.ID, Name: d.Name, Description: d.Description, Type: d.Type, Enabled: d.Enabled,
			WorkspaceID: d.Workspace.id(), ConnectionParameters: entryMap(d.ConnectionParameters),
			DateCreated: parseTime(d.DateCreated), DateModified: parseTime(d.DateModified)}, nil
	case catalog.KindCoverageStore:
		var d coverageStoreDoc
		if err := dec.Decode(&d); err != nil {
			return nil, err
		}
		return &catalog.CoverageStoreInfo{ID: d.ID, Name: d.Name, Description: d.Description, Type: d.Type, Enabled: d.Enabled,
			WorkspaceID: d.Workspace.id(), URL: d.URL,
			DateCreated: parseTime(d.DateCreated), DateModified: parseTime(d.DateModified)}, nil
	case catalog.KindFeatureType:
		var d featureTypeDoc
		if err := dec.Decode(&d); err != nil {
			return nil, err
		}
		ft := &catalog.FeatureTypeInfo{ID: d.ID, Name: d.Name, NativeName: d.NativeName, NamespaceID: d.Namespace.id(),
			StoreID: d.Store.id(), Title: d.Title, Abstract: d.Abstract, Keywords: d.Keywords, NativeCRS: d.NativeCRS,
			SRS: d.SRS, ProjectionPolicy: d.ProjectionPolicy, NativeBoundingBox: d.NativeBoundingBox.envelope(),
			LatLonBoundingBox: d.LatLonBoundingBox.envelope(), Enabled: d.Enabled, Advertised: d.Advertised,
			MaxFeatures: d.MaxFeatures, NumDecimals: d.NumDecimals}
		for _, a := range d.Attributes {
			ft.Attributes = append(ft.Attributes, catalog.AttributeTypeInfo(a))
		}
		return ft, nil
	case catalog.KindCoverage:
		var d coverageDoc
		if err := dec.Decode(&d); err != nil {
			return nil, err
		}
		c := &catalog.CoverageInfo{ID: d.ID, Name: d.Name, NativeName: d.NativeName, NamespaceID: d.Namespace.id(),
			StoreID: d.Store.id(), Title: d.Title, Abstract: d.Abstract, Keywords: d.Keywords, NativeCRS: d.NativeCRS,
			SRS: d.SRS, NativeBoundingBox: d.NativeBoundingBox.envelope(), LatLonBoundingBox: d.LatLonBoundingBox.envelope(),
			Enabled: d.Enabled, Advertised: d.Advertised, NativeFormat: d.NativeFormat,
			Grid: catalog.GridInfo{Width: d.Grid.Width, Height: d.Grid.Height, Transform: parseTransform(d.Grid.Transform)}}
		for _, dim := range d.Dimensions {
			c.Dimensions = append(c.Dimensions, catalog.CoverageDimensionInfo(dim))
		}
		return c, nil
	case catalog.KindStyle:
		var d styleDoc
		if err := dec.Decode(&d); err != nil {
			return nil, err
		}
		return &catalog.StyleInfo{ID: d.ID, Name: d.Name, WorkspaceID: d.Workspace.id(), Format: d.Format,
			FormatVersion: d.FormatVersion, Filename: d.Filename, Resources: d.Resources,
			DateCreated: parseTime(d.DateCreated), DateModified: parseTime(d.DateModified)}, nil
	case catalog.KindLayer:
		var d layerDoc
		if err := dec.Decode(&d); err != nil {
			return nil, err
		}
		l := &catalog.LayerInfo{ID: d.ID, Name: d.Name, Type: d.Type, Path: d.Path, DefaultStyleID: d.DefaultStyle.id(),
			ResourceID: d.Resource.id(), Enabled: d.Enabled, Queryable: d.Queryable, Opaque: d.Opaque, Advertised: d.Advertised}
		for _, s := range d.Styles {
			l.StyleIDs = append(l.StyleIDs, s.ID)
		}
		return l, nil
	case catalog.KindLayerGroup:
		var d layerGroupDoc
		if err := dec.Decode(&d); err != nil {
			return nil, err
		}
		g := &catalog.LayerGroupInfo{ID: d.ID, Name: d.Name, Mode: d.Mode, Title: d.Title, Abstract: d.Abstract,
			WorkspaceID: d.Workspace.id(), Bounds: d.Bounds.envelope()}
		for _, p := range d.Publishables {
			g.Publishables = append(g.Publishables, catalog.PublishedRef{Type: p.Type, ID: p.ID})
		}
		for _, s := range d.Styles {
			g.StyleIDs = append(g.StyleIDs, s.ID)
		}
		return g, nil
	}
	return nil, fmt.Errorf("unknown kind %s", kind)
}
