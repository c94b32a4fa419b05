package rest

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nci/geoserve/catalog"
	"github.com/nci/geoserve/catalog/persist"
	"github.com/nci/geoserve/crawl/extractor"
	"github.com/nci/geoserve/raster"
	"github.com/nci/geoserve/vector"
	"golang.org/x/net/html/charset"
)

// Upload methods.
const (
	uploadFile     = "file"
	uploadURL      = "url"
	uploadExternal = "external"
)

const (
	configureFirst = "first"
	configureNone  = "none"
	configureAll   = "all"
)

const maxZipEntry = 1 << 30

var fetchClient = &http.Client{Timeout: 5 * time.Minute}

// parseUpload splits the last path element of an upload, e.g. file.geojson,
// into method and extension.
func parseUpload(r *http.Request, exts ...string) (string, string, error) {
	method := r.PathValue("upload")
	ext := explicitFormat(r)
	if ext == "" {
		if i := strings.LastIndex(method, "."); i > 0 {
			method, ext = method[:i], strings.ToLower(method[i+1:])
		}
	}
	switch method {
	case uploadFile, uploadURL, uploadExternal:
	case "featuretypes", "coverages":
		return "", "", errorf(http.StatusMethodNotAllowed, "PUT is not allowed on %s", r.URL.Path)
	default:
		return "", "", badRequest("Unsupported upload method '%s'", method)
	}
	for _, e := range exts {
		if e == ext {
			return method, ext, nil
		}
	}
	return "", "", badRequest("Unsupported upload format '%s', expected one of %s", ext, strings.Join(exts, ", "))
}

func configureParam(r *http.Request) (string, error) {
	c := strings.ToLower(r.URL.Query().Get("configure"))
	switch c {
	case "":
		return configureFirst, nil
	case configureFirst, configureNone, configureAll:
		return c, nil
	}
	return "", badRequest("Invalid configure parameter '%s'", c)
}

// uploadBody returns either the uploaded bytes or, for external uploads,
// the local path the body names. url uploads are fetched.
func (h *Handler) uploadBody(r *http.Request, method string) ([]byte, string, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, "", err
	}
	if method == uploadFile {
		if len(body) == 0 {
			return nil, "", badRequest("Request body is empty")
		}
		return body, "", nil
	}
	ref := strings.TrimSpace(string(body))
	if ref == "" {
		return nil, "", badRequest("Request body must name the %s to use", method)
	}
	if method == uploadURL && (strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")) {
		data, err := fetch(r.Context(), ref)
		if err != nil {
			return nil, "", badRequest("Failed to fetch %s: %v", ref, err)
		}
		return data, "", nil
	}
	if h.Files == nil {
		return nil, "", catalog.Invalidf("No file resolver configured")
	}
	p, err := h.Files.ResolveURL(ref)
	if err != nil {
		return nil, "", badRequest("Failed to resolve %s: %v", ref, err)
	}
	return nil, p, nil
}

func fetch(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := fetchClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// extractZip unpacks the spatial files of the given kind, and their sidecar
// files, into dir. It returns the first spatial file extracted.
func extractZip(body []byte, dir, kind string) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", badRequest("Invalid zip file: %v", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", err
	}
	var spatial []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		name, err := persist.CleanResourceName(f.Name)
		if err != nil {
			return "", badRequest("%v", err)
		}
		ext := strings.ToLower(filepath.Ext(name))
		k, _, ok := extractor.FormatOf(name)
		if !(ok && k == kind) && ext != ".yaml" && ext != ".yml" {
			continue
		}
		if f.UncompressedSize64 > maxZipEntry {
			return "", errorf(http.StatusRequestEntityTooLarge, "Zip entry %s is too large", f.Name)
		}
		dst := filepath.Join(dir, filepath.FromSlash(name))
		if err := extractEntry(f, dst); err != nil {
			return "", err
		}
		if ok && k == kind {
			spatial = append(spatial, dst)
		}
	}
	if len(spatial) == 0 {
		return "", badRequest("Zip file holds no %s data", kind)
	}
	sort.Strings(spatial)
	return spatial[0], nil
}

func extractEntry(f *zip.File, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return badRequest("Failed to read %s: %v", f.Name, err)
	}
	defer rc.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, io.LimitReader(rc, maxZipEntry)); err != nil {
		out.Close()
		return badRequest("Failed to extract %s: %v", f.Name, err)
	}
	return out.Close()
}

// writeGeoJSON stores an uploaded collection, merged into the existing file
// when appending.
func writeGeoJSON(r *http.Request, target string, body []byte, appendTo bool) error {
	if cs := r.URL.Query().Get("charset"); cs != "" {
		rd, err := charset.NewReaderLabel(cs, bytes.NewReader(body))
		if err != nil {
			return badRequest("Unsupported charset '%s'", cs)
		}
		if body, err = io.ReadAll(rd); err != nil {
			return badRequest("Failed to decode body as %s: %v", cs, err)
		}
	}
	fc, err := vector.DecodeGeoJSON(body)
	if err != nil {
		return badRequest("Invalid GeoJSON: %v", err)
	}
	if appendTo {
		if old, err := vector.ReadGeoJSONFile(target); err == nil {
			fc = vector.Merge(old, fc)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	return vector.WriteGeoJSONFile(target, fc)
}

func (h *Handler) uploadDataStore(w http.ResponseWriter, r *http.Request) error {
	method, ext, err := parseUpload(r, "geojson", "json", formatZip)
	if err != nil {
		return err
	}
	ws, err := h.workspace(r.PathValue("ws"))
	if err != nil {
		return err
	}
	ns, err := h.namespace(ws.Name)
	if err != nil {
		return err
	}
	configure, err := configureParam(r)
	if err != nil {
		return err
	}
	appendTo := false
	switch update := strings.ToLower(r.URL.Query().Get("update")); update {
	case "", "overwrite":
	case "append":
		appendTo = true
	default:
		return badRequest("Invalid update parameter '%s'", update)
	}
	if h.Files == nil {
		return catalog.Invalidf("No file resolver configured")
	}

	dsName := r.PathValue("ds")
	body, target, err := h.uploadBody(r, method)
	if err != nil {
		return err
	}
	typ := catalog.StoreTypeGeoJSON
	switch {
	case target != "":
		if fi, err := os.Stat(target); err == nil && fi.IsDir() {
			typ = catalog.StoreTypeDirectory
		}
	case ext == formatZip:
		dir := h.uploadDir(ws.Name, dsName)
		if _, err := extractZip(body, dir, extractor.KindVector); err != nil {
			return err
		}
		target, typ = dir, catalog.StoreTypeDirectory
	default:
		target = filepath.Join(h.uploadDir(ws.Name, dsName), dsName+".geojson")
		if err := writeGeoJSON(r, target, body, appendTo); err != nil {
			return err
		}
	}

	url := h.Files.RelativeURL(target)
	status := http.StatusOK
	s := h.Catalog.GetDataStoreByName(ws.Name, dsName)
	if s == nil {
		s = &catalog.DataStoreInfo{
			Name:                 dsName,
			WorkspaceID:          ws.ID,
			Type:                 typ,
			Enabled:              true,
			ConnectionParameters: map[string]string{"url": url},
		}
		if err := h.Catalog.Add(s); err != nil {
			return err
		}
		status = http.StatusCreated
	} else if s.Type != typ || s.ConnectionParameters["url"] != url {
		s.Type = typ
		if s.ConnectionParameters == nil {
			s.ConnectionParameters = map[string]string{}
		}
		s.ConnectionParameters["url"] = url
		if err := h.Catalog.Save(s); err != nil {
			return err
		}
	}
	h.Files.Forget()

	sidecarDir := target
	if typ == catalog.StoreTypeGeoJSON {
		sidecarDir = filepath.Dir(target)
	}
	if err := h.configureFeatureTypes(r.Context(), ns, s, configure, sidecarDir); err != nil {
		return err
	}
	if status == http.StatusCreated {
		w.Header().Set("Location", h.location(r, "workspaces", ws.Name, "datastores", dsName))
	}
	h.write(w, status, mimeText, []byte(dsName))
	return nil
}

// configureFeatureTypes creates feature types and layers for the native
// types of a store. Types already configured get their schema and bounds
// refreshed.
func (h *Handler) configureFeatureTypes(ctx context.Context, ns *catalog.NamespaceInfo, s *catalog.DataStoreInfo, configure, sidecarDir string) error {
	if configure == configureNone {
		return nil
	}
	src, err := h.openSource(s)
	if err != nil {
		return err
	}
	defer src.Close()
	names, err := src.TypeNames(ctx)
	if err != nil {
		return catalog.Invalidf("Failed to list feature types of '%s': %v", s.Name, err)
	}
	if configure == configureFirst && len(names) > 1 {
		names = names[:1]
	}
	existing := map[string]*catalog.FeatureTypeInfo{}
	for _, ft := range h.Catalog.GetFeatureTypesByStore(s.ID) {
		existing[ft.NativeName] = ft
	}
	metadata := h.sidecars(ctx, sidecarDir)
	for _, name := range names {
		if ft, ok := existing[name]; ok {
			if err := describe(ctx, src, ft, true, true); err != nil {
				return err
			}
			if err := h.Catalog.Save(ft); err != nil {
				return err
			}
			continue
		}
		ft, err := h.newFeatureType(ctx, src, ns, s, name, metadata[name])
		if err != nil {
			return err
		}
		if err := h.addResource(ft); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) uploadCoverageStore(w http.ResponseWriter, r *http.Request) error {
	method, ext, err := parseUpload(r, "arcgrid", "asc", formatZip)
	if err != nil {
		return err
	}
	ws, err := h.workspace(r.PathValue("ws"))
	if err != nil {
		return err
	}
	ns, err := h.namespace(ws.Name)
	if err != nil {
		return err
	}
	configure, err := configureParam(r)
	if err != nil {
		return err
	}
	if h.Files == nil {
		return catalog.Invalidf("No file resolver configured")
	}

	csName := r.PathValue("cs")
	name := r.URL.Query().Get("coverageName")
	if name == "" {
		name = csName
	}
	body, target, err := h.uploadBody(r, method)
	if err != nil {
		return err
	}
	dir := h.uploadDir(ws.Name, csName)
	switch {
	case target != "":
	case ext == formatZip:
		if target, err = extractZip(body, dir, extractor.KindRaster); err != nil {
			return err
		}
	default:
		if _, err := raster.ReadArcGrid(bytes.NewReader(body)); err != nil {
			return badRequest("Invalid ArcGrid: %v", err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		target = filepath.Join(dir, name+".asc")
		if err := os.WriteFile(target, body, 0644); err != nil {
			return err
		}
	}

	url := h.Files.RelativeURL(target)
	status := http.StatusOK
	s := h.Catalog.GetCoverageStoreByName(ws.Name, csName)
	if s == nil {
		s = &catalog.CoverageStoreInfo{Name: csName, WorkspaceID: ws.ID, Type: catalog.StoreTypeArcGrid, Enabled: true, URL: url}
		if err := h.Catalog.Add(s); err != nil {
			return err
		}
		status = http.StatusCreated
	} else if s.URL != url || s.Type != catalog.StoreTypeArcGrid {
		s.URL, s.Type = url, catalog.StoreTypeArcGrid
		if err := h.Catalog.Save(s); err != nil {
			return err
		}
	}
	h.Files.Forget()

	if configure != configureNone {
		g, err := h.readGrid(s)
		if err != nil {
			return err
		}
		if c := h.Catalog.GetCoverageByStore(s.ID, name); c != nil {
			describeGrid(c, g)
			if err := h.Catalog.Save(c); err != nil {
				return err
			}
		} else {
			base := filepath.Base(target)
			md := h.sidecars(r.Context(), filepath.Dir(target))[strings.TrimSuffix(base, filepath.Ext(base))]
			if err := h.addResource(newCoverage(ns, s, name, g, md)); err != nil {
				return err
			}
		}
	}
	if status == http.StatusCreated {
		w.Header().Set("Location", h.location(r, "workspaces", ws.Name, "coveragestores", csName))
	}
	h.write(w, status, mimeText, []byte(csName))
	return nil
}
