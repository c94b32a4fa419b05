package rest

import (
	"net/http"

	"github.com/nci/geoserve/catalog"
)

func (h *Handler) qualifiedLayerName(l *catalog.LayerInfo) string {
	if ws := h.Catalog.LayerWorkspace(l); ws != nil {
		return ws.Name + ":" + l.Name
	}
	return l.Name
}

func (h *Handler) listLayers(w http.ResponseWriter, r *http.Request) error {
	ws := r.PathValue("ws")
	var items []namedLink
	if ws == "" {
		for _, l := range h.Catalog.GetLayers() {
			name := h.qualifiedLayerName(l)
			items = append(items, namedLink{Name: name, Href: h.href(r, "layers", name)})
		}
	} else {
		if _, err := h.workspace(ws); err != nil {
			return err
		}
		for _, l := range h.Catalog.GetLayersByWorkspace(ws) {
			items = append(items, namedLink{Name: l.Name, Href: h.href(r, "workspaces", ws, "layers", l.Name)})
		}
	}
	return h.writeList(w, r, "layers", "layer", items)
}

func (h *Handler) getLayer(w http.ResponseWriter, r *http.Request) error {
	l, err := h.layer(r.PathValue("ws"), r.PathValue("layer"))
	if err != nil {
		return err
	}
	return h.writeDoc(w, r, http.StatusOK, "layer", h.layerDoc(r, l))
}

func (h *Handler) putLayer(w http.ResponseWriter, r *http.Request) error {
	l, err := h.layer(r.PathValue("ws"), r.PathValue("layer"))
	if err != nil {
		return err
	}
	wsName := ""
	if ws := h.Catalog.LayerWorkspace(l); ws != nil {
		wsName = ws.Name
	}
	d := h.layerDoc(r, l)
	if err := decodeDoc(r, "layer", d); err != nil {
		return err
	}
	if d.Name != l.Name && d.Name != wsName+":"+l.Name {
		return forbidden("Can't rename layer %s, rename its resource instead", l.Name)
	}
	if d.DefaultStyle != nil && d.DefaultStyle.Name != "" {
		s, err := h.styleByRef(wsName, d.DefaultStyle.Name)
		if err != nil {
			return err
		}
		l.DefaultStyleID = s.ID
	}
	if d.Styles != nil {
		l.StyleIDs = nil
		for _, ref := range d.Styles.Styles {
			s, err := h.styleByRef(wsName, ref.Name)
			if err != nil {
				return err
			}
			if !contains(l.StyleIDs, s.ID) {
				l.StyleIDs = append(l.StyleIDs, s.ID)
			}
		}
	}
	if d.Type != "" {
		l.Type = d.Type
	}
	l.Path = d.Path
	setBool(&l.Enabled, d.Enabled)
	setBool(&l.Queryable, d.Queryable)
	setBool(&l.Opaque, d.Opaque)
	setBool(&l.Advertised, d.Advertised)
	if err := h.Catalog.Save(l); err != nil {
		return err
	}
	return h.ok(w)
}

// deleteLayer removes a layer. With recurse the published resource goes
// too.
func (h *Handler) deleteLayer(w http.ResponseWriter, r *http.Request) error {
	l, err := h.layer(r.PathValue("ws"), r.PathValue("layer"))
	if err != nil {
		return err
	}
	if boolParam(r, "recurse") {
		if res := h.Catalog.GetResource(l.ResourceID); res != nil {
			err = h.Catalog.CascadeRemove(res)
		} else {
			err = h.Catalog.CascadeRemove(l)
		}
	} else {
		err = h.Catalog.Remove(l)
	}
	if err != nil {
		return err
	}
	return h.ok(w)
}

func (h *Handler) listLayerStyles(w http.ResponseWriter, r *http.Request) error {
	l, err := h.layer(r.PathValue("ws"), r.PathValue("layer"))
	if err != nil {
		return err
	}
	var items []namedLink
	for _, id := range l.StyleIDs {
		if ref := h.styleRef(r, id); ref != nil {
			items = append(items, namedLink{Name: ref.Name, Href: ref.Href})
		}
	}
	return h.writeList(w, r, "styles", "style", items)
}

// postLayerStyle adds an alternative style to a layer, or makes it the
// default with default=true.
func (h *Handler) postLayerStyle(w http.ResponseWriter, r *http.Request) error {
	l, err := h.layer(r.PathValue("ws"), r.PathValue("layer"))
	if err != nil {
		return err
	}
	wsName := ""
	if ws := h.Catalog.LayerWorkspace(l); ws != nil {
		wsName = ws.Name
	}
	d := &styleDoc{}
	if err := decodeDoc(r, "style", d); err != nil {
		return err
	}
	if d.Name == "" {
		return badRequest("Style name is required")
	}
	ref := d.Name
	if d.Workspace != nil && d.Workspace.Name != "" {
		ref = d.Workspace.Name + ":" + d.Name
	}
	s, err := h.styleByRef(wsName, ref)
	if err != nil {
		return err
	}
	if boolParam(r, "default") {
		if l.DefaultStyleID != "" && l.DefaultStyleID != s.ID && !contains(l.StyleIDs, l.DefaultStyleID) {
			l.StyleIDs = append(l.StyleIDs, l.DefaultStyleID)
		}
		l.DefaultStyleID = s.ID
	} else if !contains(l.StyleIDs, s.ID) {
		l.StyleIDs = append(l.StyleIDs, s.ID)
	}
	if err := h.Catalog.Save(l); err != nil {
		return err
	}
	return h.created(w, r, s.Name, "layers", h.qualifiedLayerName(l), "styles")
}

func (h *Handler) groupParts(ws, name string) []string {
	if ws == "" {
		return []string{"layergroups", name}
	}
	return []string{"workspaces", ws, "layergroups", name}
}

func (h *Handler) listLayerGroups(w http.ResponseWriter, r *http.Request) error {
	ws := r.PathValue("ws")
	if ws != "" {
		if _, err := h.workspace(ws); err != nil {
			return err
		}
	}
	var items []namedLink
	for _, g := range h.Catalog.GetLayerGroupsByWorkspace(ws) {
		items = append(items, namedLink{Name: g.Name, Href: h.href(r, h.groupParts(ws, g.Name)...)})
	}
	return h.writeList(w, r, "layerGroups", "layerGroup", items)
}

// applyLayerGroup resolves the named members and styles of d into g.
// Bounds not given are computed from the members.
func (h *Handler) applyLayerGroup(ws string, g *catalog.LayerGroupInfo, d *layerGroupDoc) error {
	g.Name = d.Name
	if d.Mode != "" {
		g.Mode = d.Mode
	}
	g.Title = d.Title
	g.Abstract = d.Abstract
	if d.Publishables != nil {
		g.Publishables = nil
		for _, p := range d.Publishables.Published {
			switch p.Type {
			case "", catalog.PublishedLayer:
				l, err := h.layer(ws, p.Name)
				if err != nil {
					return catalog.Invalidf("No such layer: '%s'", p.Name)
				}
				g.Publishables = append(g.Publishables, catalog.PublishedRef{Type: catalog.PublishedLayer, ID: l.ID})
			case catalog.PublishedLayerGroup:
				childWS, childName := splitQualified(p.Name, ws)
				child := h.Catalog.GetLayerGroupByName(childWS, childName)
				if child == nil && childWS != "" {
					child = h.Catalog.GetLayerGroupByName("", childName)
				}
				if child == nil {
					return catalog.Invalidf("No such layer group: '%s'", p.Name)
				}
				g.Publishables = append(g.Publishables, catalog.PublishedRef{Type: catalog.PublishedLayerGroup, ID: child.ID})
			default:
				return badRequest("Unknown published type '%s'", p.Type)
			}
		}
	}
	if d.Styles != nil {
		g.StyleIDs = nil
		for _, ref := range d.Styles.Styles {
			if ref.Name == "" {
				g.StyleIDs = append(g.StyleIDs, "")
				continue
			}
			s, err := h.styleByRef(ws, ref.Name)
			if err != nil {
				return err
			}
			g.StyleIDs = append(g.StyleIDs, s.ID)
		}
	}
	if d.Bounds != nil {
		g.Bounds = d.Bounds.envelope()
	} else {
		g.Bounds = h.groupBounds(g, map[string]bool{})
	}
	return nil
}

func (h *Handler) groupBounds(g *catalog.LayerGroupInfo, seen map[string]bool) catalog.Envelope {
	env := catalog.NullEnvelope(defaultCRS)
	seen[g.ID] = true
	for _, p := range g.Publishables {
		switch p.Type {
		case catalog.PublishedLayer:
			l := h.Catalog.GetLayer(p.ID)
			if l == nil {
				continue
			}
			switch res := h.Catalog.GetResource(l.ResourceID).(type) {
			case *catalog.FeatureTypeInfo:
				env = env.ExpandToInclude(res.LatLonBoundingBox)
			case *catalog.CoverageInfo:
				env = env.ExpandToInclude(res.LatLonBoundingBox)
			}
		case catalog.PublishedLayerGroup:
			if seen[p.ID] {
				continue
			}
			if child := h.Catalog.GetLayerGroup(p.ID); child != nil {
				env = env.ExpandToInclude(h.groupBounds(child, seen))
			}
		}
	}
	env.CRS = defaultCRS
	return env
}

func (h *Handler) postLayerGroup(w http.ResponseWriter, r *http.Request) error {
	ws := r.PathValue("ws")
	g := &catalog.LayerGroupInfo{Mode: catalog.ModeSingle}
	if ws != "" {
		info, err := h.workspace(ws)
		if err != nil {
			return err
		}
		g.WorkspaceID = info.ID
	}
	d := &layerGroupDoc{}
	if err := decodeDoc(r, "layerGroup", d); err != nil {
		return err
	}
	if d.Name == "" {
		return badRequest("Layer group name is required")
	}
	if name := refName(d.Workspace); name != "" && name != ws {
		return forbidden("Expected workspace %s but client specified %s", ws, name)
	}
	if err := h.applyLayerGroup(ws, g, d); err != nil {
		return err
	}
	if err := h.Catalog.Add(g); err != nil {
		return err
	}
	return h.created(w, r, g.Name, h.groupParts(ws, g.Name)...)
}

func (h *Handler) getLayerGroup(w http.ResponseWriter, r *http.Request) error {
	g, err := h.layerGroup(r.PathValue("ws"), r.PathValue("lg"))
	if err != nil {
		return err
	}
	return h.writeDoc(w, r, http.StatusOK, "layerGroup", h.layerGroupDoc(r, g))
}

func (h *Handler) putLayerGroup(w http.ResponseWriter, r *http.Request) error {
	ws := r.PathValue("ws")
	g, err := h.layerGroup(ws, r.PathValue("lg"))
	if err != nil {
		return err
	}
	d := h.layerGroupDoc(r, g)
	// Bounds follow the members unless the client sets them.
	d.Bounds = nil
	if err := decodeDoc(r, "layerGroup", d); err != nil {
		return err
	}
	if refName(d.Workspace) != ws {
		return forbidden("Can't change the workspace of layer group %s", g.Name)
	}
	if err := h.applyLayerGroup(ws, g, d); err != nil {
		return err
	}
	if err := h.Catalog.Save(g); err != nil {
		return err
	}
	return h.ok(w)
}

func (h *Handler) deleteLayerGroup(w http.ResponseWriter, r *http.Request) error {
	g, err := h.layerGroup(r.PathValue("ws"), r.PathValue("lg"))
	if err != nil {
		return err
	}
	if err := h.remove(g, boolParam(r, "recurse")); err != nil {
		return err
	}
	return h.ok(w)
}
