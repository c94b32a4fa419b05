package rest

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/nci/geoserve/catalog"
)

func (h *Handler) workspace(name string) (*catalog.WorkspaceInfo, error) {
	ws := h.Catalog.GetWorkspaceByName(name)
	if ws == nil {
		return nil, catalog.NotFoundf("No such workspace: '%s'", name)
	}
	return ws, nil
}

func (h *Handler) dataStore(ws, name string) (*catalog.DataStoreInfo, error) {
	if _, err := h.workspace(ws); err != nil {
		return nil, err
	}
	s := h.Catalog.GetDataStoreByName(ws, name)
	if s == nil {
		return nil, catalog.NotFoundf("No such data store: '%s:%s'", ws, name)
	}
	return s, nil
}

func (h *Handler) coverageStore(ws, name string) (*catalog.CoverageStoreInfo, error) {
	if _, err := h.workspace(ws); err != nil {
		return nil, err
	}
	s := h.Catalog.GetCoverageStoreByName(ws, name)
	if s == nil {
		return nil, catalog.NotFoundf("No such coverage store: '%s:%s'", ws, name)
	}
	return s, nil
}

func (h *Handler) style(ws, name string) (*catalog.StyleInfo, error) {
	if ws != "" {
		if _, err := h.workspace(ws); err != nil {
			return nil, err
		}
	}
	s := h.Catalog.GetStyleByName(ws, name)
	if s == nil || (ws != "" && s.WorkspaceID == "") {
		if ws == "" {
			return nil, catalog.NotFoundf("No such style: '%s'", name)
		}
		return nil, catalog.NotFoundf("No such style '%s' in workspace '%s'", name, ws)
	}
	return s, nil
}

// styleByRef resolves a style reference as found in layer documents: a
// "ws:name" reference or a bare name, looked up in ws first.
func (h *Handler) styleByRef(ws, ref string) (*catalog.StyleInfo, error) {
	refWS, name := splitQualified(ref, ws)
	s := h.Catalog.GetStyleByName(refWS, name)
	if s == nil {
		return nil, catalog.Invalidf("No such style: '%s'", ref)
	}
	return s, nil
}

func (h *Handler) layer(ws, name string) (*catalog.LayerInfo, error) {
	full := name
	if ws != "" && !strings.Contains(name, ":") {
		if _, err := h.workspace(ws); err != nil {
			return nil, err
		}
		full = ws + ":" + name
	}
	l := h.Catalog.GetLayerByName(full)
	if l == nil {
		return nil, catalog.NotFoundf("No such layer: '%s'", full)
	}
	return l, nil
}

func (h *Handler) layerGroup(ws, name string) (*catalog.LayerGroupInfo, error) {
	if ws != "" {
		if _, err := h.workspace(ws); err != nil {
			return nil, err
		}
	}
	g := h.Catalog.GetLayerGroupByName(ws, name)
	if g == nil {
		if ws == "" {
			return nil, catalog.NotFoundf("No such layer group: '%s'", name)
		}
		return nil, catalog.NotFoundf("No such layer group '%s' in workspace '%s'", name, ws)
	}
	return g, nil
}

func boolParam(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, badRequest("Invalid value '%s' for parameter %s", s, name)
	}
	return n, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// remove deletes info, together with everything depending on it when
// recurse is set.
func (h *Handler) remove(info catalog.Info, recurse bool) error {
	if recurse {
		return h.Catalog.CascadeRemove(info)
	}
	return h.Catalog.Remove(info)
}
