package rest

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/nci/geoserve/catalog"
)

// uploadDir is where files uploaded to a store are kept.
func (h *Handler) uploadDir(ws, store string) string {
	return filepath.Join(h.DataDir, "data", ws, store)
}

// purge deletes uploaded files of a removed store when asked to with
// purge=all or purge=true.
func (h *Handler) purge(r *http.Request, ws, store string) error {
	switch strings.ToLower(r.URL.Query().Get("purge")) {
	case "all", "true":
		return os.RemoveAll(h.uploadDir(ws, store))
	}
	return nil
}

// storeType guesses the type of a data store from its connection
// parameters.
func storeType(params map[string]string) string {
	if strings.EqualFold(params["dbtype"], "postgis") {
		return catalog.StoreTypePostGIS
	}
	u := strings.ToLower(params["url"])
	if strings.HasSuffix(u, ".geojson") || strings.HasSuffix(u, ".json") {
		return catalog.StoreTypeGeoJSON
	}
	return catalog.StoreTypeDirectory
}

func (h *Handler) listDataStores(w http.ResponseWriter, r *http.Request) error {
	ws, err := h.workspace(r.PathValue("ws"))
	if err != nil {
		return err
	}
	var items []namedLink
	for _, s := range h.Catalog.GetDataStoresByWorkspace(ws.Name) {
		items = append(items, namedLink{Name: s.Name, Href: h.href(r, "workspaces", ws.Name, "datastores", s.Name)})
	}
	return h.writeList(w, r, "dataStores", "dataStore", items)
}

func (h *Handler) postDataStore(w http.ResponseWriter, r *http.Request) error {
	ws, err := h.workspace(r.PathValue("ws"))
	if err != nil {
		return err
	}
	d := &dataStoreDoc{}
	if err := decodeDoc(r, "dataStore", d); err != nil {
		return err
	}
	if d.Name == "" {
		return badRequest("Data store name is required")
	}
	if name := refName(d.Workspace); name != "" && name != ws.Name {
		return forbidden("Expected workspace %s but client specified %s", ws.Name, name)
	}
	s := &catalog.DataStoreInfo{WorkspaceID: ws.ID, Enabled: true}
	d.apply(s)
	if s.Type == "" {
		s.Type = storeType(s.ConnectionParameters)
	}
	if err := h.Catalog.Add(s); err != nil {
		return err
	}
	return h.created(w, r, s.Name, "workspaces", ws.Name, "datastores", s.Name)
}

func (h *Handler) getDataStore(w http.ResponseWriter, r *http.Request) error {
	ws := r.PathValue("ws")
	s, err := h.dataStore(ws, r.PathValue("ds"))
	if err != nil {
		return err
	}
	return h.writeDoc(w, r, http.StatusOK, "dataStore", h.dataStoreDoc(r, ws, s))
}

func (h *Handler) putDataStore(w http.ResponseWriter, r *http.Request) error {
	ws := r.PathValue("ws")
	s, err := h.dataStore(ws, r.PathValue("ds"))
	if err != nil {
		return err
	}
	d := h.dataStoreDoc(r, ws, s)
	if err := decodeDoc(r, "dataStore", d); err != nil {
		return err
	}
	if d.Name != s.Name {
		return forbidden("Can't change name of data store %s", s.Name)
	}
	if refName(d.Workspace) != ws {
		return forbidden("Can't change workspace of data store %s", s.Name)
	}
	d.apply(s)
	if err := h.Catalog.Save(s); err != nil {
		return err
	}
	if h.Files != nil {
		h.Files.Forget()
	}
	return h.ok(w)
}

func (h *Handler) deleteDataStore(w http.ResponseWriter, r *http.Request) error {
	ws := r.PathValue("ws")
	s, err := h.dataStore(ws, r.PathValue("ds"))
	if err != nil {
		return err
	}
	if err := h.remove(s, boolParam(r, "recurse")); err != nil {
		return err
	}
	if err := h.purge(r, ws, s.Name); err != nil {
		return err
	}
	return h.ok(w)
}

func (h *Handler) listCoverageStores(w http.ResponseWriter, r *http.Request) error {
	ws, err := h.workspace(r.PathValue("ws"))
	if err != nil {
		return err
	}
	var items []namedLink
	for _, s := range h.Catalog.GetCoverageStoresByWorkspace(ws.Name) {
		items = append(items, namedLink{Name: s.Name, Href: h.href(r, "workspaces", ws.Name, "coveragestores", s.Name)})
	}
	return h.writeList(w, r, "coverageStores", "coverageStore", items)
}

func (h *Handler) postCoverageStore(w http.ResponseWriter, r *http.Request) error {
	ws, err := h.workspace(r.PathValue("ws"))
	if err != nil {
		return err
	}
	d := &coverageStoreDoc{}
	if err := decodeDoc(r, "coverageStore", d); err != nil {
		return err
	}
	if d.Name == "" {
		return badRequest("Coverage store name is required")
	}
	if name := refName(d.Workspace); name != "" && name != ws.Name {
		return forbidden("Expected workspace %s but client specified %s", ws.Name, name)
	}
	s := &catalog.CoverageStoreInfo{WorkspaceID: ws.ID, Enabled: true, Type: catalog.StoreTypeArcGrid}
	d.apply(s)
	if s.Type == "" {
		s.Type = catalog.StoreTypeArcGrid
	}
	if err := h.Catalog.Add(s); err != nil {
		return err
	}
	return h.created(w, r, s.Name, "workspaces", ws.Name, "coveragestores", s.Name)
}

func (h *Handler) getCoverageStore(w http.ResponseWriter, r *http.Request) error {
	ws := r.PathValue("ws")
	s, err := h.coverageStore(ws, r.PathValue("cs"))
	if err != nil {
		return err
	}
	return h.writeDoc(w, r, http.StatusOK, "coverageStore", h.coverageStoreDoc(r, ws, s))
}

func (h *Handler) putCoverageStore(w http.ResponseWriter, r *http.Request) error {
	ws := r.PathValue("ws")
	s, err := h.coverageStore(ws, r.PathValue("cs"))
	if err != nil {
		return err
	}
	d := h.coverageStoreDoc(r, ws, s)
	if err := decodeDoc(r, "coverageStore", d); err != nil {
		return err
	}
	if d.Name != s.Name {
		return forbidden("Can't change name of coverage store %s", s.Name)
	}
	if refName(d.Workspace) != ws {
		return forbidden("Can't change workspace of coverage store %s", s.Name)
	}
	d.apply(s)
	if err := h.Catalog.Save(s); err != nil {
		return err
	}
	if h.Files != nil {
		h.Files.Forget()
	}
	return h.ok(w)
}

func (h *Handler) deleteCoverageStore(w http.ResponseWriter, r *http.Request) error {
	ws := r.PathValue("ws")
	s, err := h.coverageStore(ws, r.PathValue("cs"))
	if err != nil {
		return err
	}
	if err := h.remove(s, boolParam(r, "recurse")); err != nil {
		return err
	}
	if err := h.purge(r, ws, s.Name); err != nil {
		return err
	}
	return h.ok(w)
}
