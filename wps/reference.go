package wps

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nci/geoserve/catalog"
	"github.com/nci/geoserve/raster"
	"github.com/nci/geoserve/utils"
	"github.com/nci/geoserve/vector"
)

// ReferenceResolver fetches referenced inputs. Hrefs on the host
// "geoserver" address local WFS and WCS resources; other http(s) urls are
// downloaded.
type ReferenceResolver struct {
	Catalog      *catalog.Catalog
	Files        vector.Resolver
	Client       *http.Client
	MaxInputSize int64
	MaxFeatures  int
}

func NewReferenceResolver(cat *catalog.Catalog, files vector.Resolver, maxInputSize int64, maxFeatures int) *ReferenceResolver {
	return &ReferenceResolver{
		Catalog:      cat,
		Files:        files,
		Client:       &http.Client{Timeout: 60 * time.Second},
		MaxInputSize: maxInputSize,
		MaxFeatures:  maxFeatures,
	}
}

// Resolve returns the data a reference points at. id is the input the
// reference belongs to and is used as exception locator.
func (r *ReferenceResolver) Resolve(ctx context.Context, id string, ref *Reference) (Data, error) {
	u, err := url.Parse(ref.Href)
	if err != nil || u.Scheme == "" {
		return Data{}, InvalidParam(id, "invalid reference '%s'", ref.Href)
	}
	if u.Host == "geoserver" {
		params, _ := utils.ParseQuery(u.RawQuery)
		switch strings.ToLower(strings.Trim(u.Path, "/")) {
		case "wfs":
			return r.resolveWFS(ctx, id, params, ref.Body)
		case "wcs":
			return r.resolveWCS(id, params, ref.Body)
		}
		return Data{}, InvalidParam(id, "unsupported internal reference '%s'", ref.Href)
	}
	switch u.Scheme {
	case "http", "https":
		return r.fetch(ctx, id, ref)
	}
	return Data{}, InvalidParam(id, "unsupported reference scheme '%s'", u.Scheme)
}

// splitName accepts "ws:name", the WCS 2.0 form "ws__name" and bare names
// resolved against the default workspace.
func (r *ReferenceResolver) splitName(name string) (string, string) {
	if i := strings.Index(name, ":"); i >= 0 {
		return name[:i], name[i+1:]
	}
	if i := strings.Index(name, "__"); i >= 0 {
		return name[:i], name[i+2:]
	}
	if ws := r.Catalog.GetDefaultWorkspace(); ws != nil {
		return ws.Name, name
	}
	return "", name
}

type wfsBody struct {
	Queries []struct {
		TypeName  string `xml:"typeName,attr"`
		TypeNames string `xml:"typeNames,attr"`
	} `xml:"Query"`
}

type wcsBody struct {
	Identifier string `xml:"Identifier"`
	CoverageID string `xml:"CoverageId"`
}

func (r *ReferenceResolver) resolveWFS(ctx context.Context, id string, params url.Values, body []byte) (Data, error) {
	typeName := params.Get("typename")
	if typeName == "" {
		typeName = params.Get("typenames")
	}
	if typeName == "" && len(body) > 0 {
		var b wfsBody
		if err := utils.UnmarshalXML(body, &b); err == nil && len(b.Queries) > 0 {
			typeName = b.Queries[0].TypeName
			if typeName == "" {
				typeName = b.Queries[0].TypeNames
			}
		}
	}
	if typeName == "" {
		return Data{}, InvalidParam(id, "WFS reference without typeName")
	}
	if r.Catalog == nil {
		return Data{}, InvalidParam(id, "no catalog available for '%s'", typeName)
	}

	ws, name := r.splitName(typeName)
	ft := r.Catalog.GetFeatureTypeByName(ws, name)
	if ft == nil {
		return Data{}, InvalidParam(id, "unknown feature type '%s'", typeName)
	}
	store := r.Catalog.GetDataStore(ft.StoreID)
	if store == nil {
		return Data{}, InvalidParam(id, "feature type '%s' has no store", typeName)
	}
	src, err := vector.OpenSource(store, r.Files)
	if err != nil {
		return Data{}, InvalidParam(id, "%v", err)
	}
	defer src.Close()

	native := ft.NativeName
	if native == "" {
		native = ft.Name
	}
	q := vector.Query{MaxFeatures: r.MaxFeatures}
	if ft.MaxFeatures > 0 && (q.MaxFeatures == 0 || ft.MaxFeatures < q.MaxFeatures) {
		q.MaxFeatures = ft.MaxFeatures
	}
	fc, err := src.Features(ctx, native, q)
	if err != nil {
		return Data{}, InvalidParam(id, "reading '%s': %v", typeName, err)
	}
	body, err = fc.MarshalJSON()
	if err != nil {
		return Data{}, err
	}
	return Data{MimeType: MimeJSON, Value: body}, nil
}

func (r *ReferenceResolver) resolveWCS(id string, params url.Values, body []byte) (Data, error) {
	name := params.Get("identifier")
	if name == "" {
		name = params.Get("coverageid")
	}
	if name == "" && len(body) > 0 {
		var b wcsBody
		if err := utils.UnmarshalXML(body, &b); err == nil {
			name = strings.TrimSpace(b.Identifier)
			if name == "" {
				name = strings.TrimSpace(b.CoverageID)
			}
		}
	}
	if name == "" {
		return Data{}, InvalidParam(id, "WCS reference without coverage identifier")
	}
	if r.Catalog == nil {
		return Data{}, InvalidParam(id, "no catalog available for '%s'", name)
	}

	ws, local := r.splitName(name)
	g, err := OpenCoverage(r.Catalog, r.Files, ws, local)
	if err != nil {
		return Data{}, InvalidParam(id, "%v", err)
	}
	var buf bytes.Buffer
	if err := raster.WriteArcGrid(&buf, g); err != nil {
		return Data{}, err
	}
	return Data{MimeType: MimeArcGrid, Value: buf.Bytes()}, nil
}

// OpenCoverage reads the grid of a catalog coverage.
func OpenCoverage(cat *catalog.Catalog, files vector.Resolver, ws, name string) (*raster.Grid, error) {
	cov := cat.GetCoverageByName(ws, name)
	if cov == nil {
		return nil, fmt.Errorf("unknown coverage '%s:%s'", ws, name)
	}
	store := cat.GetCoverageStore(cov.StoreID)
	if store == nil {
		return nil, fmt.Errorf("coverage '%s' has no store", name)
	}
	if store.Type != catalog.StoreTypeArcGrid {
		return nil, fmt.Errorf("unsupported coverage store type '%s'", store.Type)
	}
	p, err := files.ResolveURL(store.URL)
	if err != nil {
		return nil, err
	}
	g, err := raster.ReadArcGridFile(p)
	if err != nil {
		return nil, err
	}
	if g.CRS == "" {
		g.CRS = cov.SRS
	}
	for _, d := range cov.Dimensions {
		if len(d.NullValues) > 0 && !g.HasNoData {
			g.NoData, g.HasNoData = d.NullValues[0], true
		}
	}
	return g, nil
}

func (r *ReferenceResolver) fetch(ctx context.Context, id string, ref *Reference) (Data, error) {
	method := ref.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if method == http.MethodPost && len(ref.Body) > 0 {
		body = bytes.NewReader(ref.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, ref.Href, body)
	if err != nil {
		return Data{}, InvalidParam(id, "%v", err)
	}
	if body != nil {
		if root, err := utils.RootElement(ref.Body); err == nil && root != "" {
			req.Header.Set("Content-Type", MimeXML)
		}
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return Data{}, InvalidParam(id, "fetching %s: %v", ref.Href, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Data{}, InvalidParam(id, "fetching %s: HTTP %d", ref.Href, resp.StatusCode)
	}

	reader := io.Reader(resp.Body)
	if r.MaxInputSize > 0 {
		reader = io.LimitReader(resp.Body, r.MaxInputSize+1)
	}
	value, err := io.ReadAll(reader)
	if err != nil {
		return Data{}, InvalidParam(id, "fetching %s: %v", ref.Href, err)
	}
	if r.MaxInputSize > 0 && int64(len(value)) > r.MaxInputSize {
		return Data{}, InvalidParam(id, "input %s exceeds the maximum size of %d bytes", ref.Href, r.MaxInputSize)
	}
	mime := ref.MimeType
	if mime == "" {
		mime = baseMime(resp.Header.Get("Content-Type"))
	}
	return Data{MimeType: mime, Value: value}, nil
}
