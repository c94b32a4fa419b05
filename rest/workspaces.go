package rest

import (
	"encoding/xml"
	"net/http"

	"github.com/nci/geoserve/catalog"
)

type aboutResource struct {
	Name    string `xml:"name,attr" json:"@name"`
	Version string `xml:"Version" json:"Version"`
}

type aboutDoc struct {
	XMLName   xml.Name        `xml:"about" json:"-"`
	Resources []aboutResource `xml:"resource" json:"resource"`
}

func (h *Handler) getVersion(w http.ResponseWriter, r *http.Request) error {
	return h.writeDoc(w, r, http.StatusOK, "about", &aboutDoc{
		Resources: []aboutResource{{Name: realm, Version: Version}},
	})
}

func (h *Handler) listWorkspaces(w http.ResponseWriter, r *http.Request) error {
	var items []namedLink
	for _, ws := range h.Catalog.GetWorkspaces() {
		items = append(items, namedLink{Name: ws.Name, Href: h.href(r, "workspaces", ws.Name)})
	}
	return h.writeList(w, r, "workspaces", "workspace", items)
}

// namespaceURI is the URI given to namespaces created along with a
// workspace.
func namespaceURI(name string) string {
	return "http://" + name
}

// addWorkspace creates a workspace and its namespace.
func (h *Handler) addWorkspace(ws *catalog.WorkspaceInfo, uri string) error {
	if err := h.Catalog.Add(ws); err != nil {
		return err
	}
	ns := &catalog.NamespaceInfo{Prefix: ws.Name, URI: uri, Isolated: ws.Isolated}
	if err := h.Catalog.Add(ns); err != nil {
		if rmErr := h.Catalog.Remove(ws); rmErr != nil {
			return rmErr
		}
		return err
	}
	return nil
}

func (h *Handler) postWorkspace(w http.ResponseWriter, r *http.Request) error {
	d := &workspaceDoc{}
	if err := decodeDoc(r, "workspace", d); err != nil {
		return err
	}
	if d.Name == "" {
		return badRequest("Workspace name is required")
	}
	ws := &catalog.WorkspaceInfo{}
	d.apply(ws)
	if err := h.addWorkspace(ws, namespaceURI(ws.Name)); err != nil {
		return err
	}
	if boolParam(r, "default") {
		if err := h.Catalog.SetDefaultWorkspace(ws.Name); err != nil {
			return err
		}
	}
	return h.created(w, r, ws.Name, "workspaces", ws.Name)
}

func (h *Handler) getDefaultWorkspace(w http.ResponseWriter, r *http.Request) error {
	ws := h.Catalog.GetDefaultWorkspace()
	if ws == nil {
		return catalog.NotFoundf("No default workspace is set")
	}
	return h.writeDoc(w, r, http.StatusOK, "workspace", h.workspaceDoc(r, ws))
}

func (h *Handler) putDefaultWorkspace(w http.ResponseWriter, r *http.Request) error {
	d := &workspaceDoc{}
	if err := decodeDoc(r, "workspace", d); err != nil {
		return err
	}
	if d.Name == "" {
		return badRequest("Workspace name is required")
	}
	if err := h.Catalog.SetDefaultWorkspace(d.Name); err != nil {
		return err
	}
	return h.ok(w)
}

func (h *Handler) getWorkspace(w http.ResponseWriter, r *http.Request) error {
	ws, err := h.workspace(r.PathValue("ws"))
	if err != nil {
		return err
	}
	return h.writeDoc(w, r, http.StatusOK, "workspace", h.workspaceDoc(r, ws))
}

// putWorkspace updates a workspace. A rename carries the namespace along.
func (h *Handler) putWorkspace(w http.ResponseWriter, r *http.Request) error {
	ws, err := h.workspace(r.PathValue("ws"))
	if err != nil {
		return err
	}
	oldName := ws.Name
	d := h.workspaceDoc(r, ws)
	if err := decodeDoc(r, "workspace", d); err != nil {
		return err
	}
	d.apply(ws)
	if err := h.Catalog.Save(ws); err != nil {
		return err
	}
	if ns := h.Catalog.GetNamespaceByPrefix(oldName); ns != nil {
		ns.Prefix = ws.Name
		ns.Isolated = ws.Isolated
		if err := h.Catalog.Save(ns); err != nil {
			return err
		}
	}
	return h.ok(w)
}

// deleteWorkspace removes a workspace and its namespace.
func (h *Handler) deleteWorkspace(w http.ResponseWriter, r *http.Request) error {
	ws, err := h.workspace(r.PathValue("ws"))
	if err != nil {
		return err
	}
	if err := h.removeWorkspace(ws, boolParam(r, "recurse")); err != nil {
		return err
	}
	return h.ok(w)
}

func (h *Handler) removeWorkspace(ws *catalog.WorkspaceInfo, recurse bool) error {
	if recurse {
		// The cascade takes the namespace with it.
		return h.Catalog.CascadeRemove(ws)
	}
	if err := h.Catalog.Remove(ws); err != nil {
		return err
	}
	if ns := h.Catalog.GetNamespaceByPrefix(ws.Name); ns != nil {
		return h.Catalog.Remove(ns)
	}
	return nil
}

func (h *Handler) listNamespaces(w http.ResponseWriter, r *http.Request) error {
	var items []namedLink
	for _, ns := range h.Catalog.GetNamespaces() {
		items = append(items, namedLink{Name: ns.Prefix, Href: h.href(r, "namespaces", ns.Prefix)})
	}
	return h.writeList(w, r, "namespaces", "namespace", items)
}

func (h *Handler) namespace(prefix string) (*catalog.NamespaceInfo, error) {
	ns := h.Catalog.GetNamespaceByPrefix(prefix)
	if ns == nil {
		return nil, catalog.NotFoundf("No such namespace: '%s'", prefix)
	}
	return ns, nil
}

// postNamespace creates a namespace together with its workspace.
func (h *Handler) postNamespace(w http.ResponseWriter, r *http.Request) error {
	d := &namespaceDoc{}
	if err := decodeDoc(r, "namespace", d); err != nil {
		return err
	}
	if d.Prefix == "" {
		return badRequest("Namespace prefix is required")
	}
	if d.URI == "" {
		return badRequest("Namespace URI is required")
	}
	ws := &catalog.WorkspaceInfo{Name: d.Prefix}
	setBool(&ws.Isolated, d.Isolated)
	if err := h.addWorkspace(ws, d.URI); err != nil {
		return err
	}
	return h.created(w, r, d.Prefix, "namespaces", d.Prefix)
}

func (h *Handler) getNamespace(w http.ResponseWriter, r *http.Request) error {
	ns, err := h.namespace(r.PathValue("prefix"))
	if err != nil {
		return err
	}
	return h.writeDoc(w, r, http.StatusOK, "namespace", h.namespaceDoc(r, ns))
}

func (h *Handler) putNamespace(w http.ResponseWriter, r *http.Request) error {
	ns, err := h.namespace(r.PathValue("prefix"))
	if err != nil {
		return err
	}
	d := h.namespaceDoc(r, ns)
	if err := decodeDoc(r, "namespace", d); err != nil {
		return err
	}
	if d.Prefix != ns.Prefix {
		return forbidden("Can't change the prefix of namespace '%s', rename the workspace instead", ns.Prefix)
	}
	ns.URI = d.URI
	setBool(&ns.Isolated, d.Isolated)
	if err := h.Catalog.Save(ns); err != nil {
		return err
	}
	return h.ok(w)
}

func (h *Handler) deleteNamespace(w http.ResponseWriter, r *http.Request) error {
	ns, err := h.namespace(r.PathValue("prefix"))
	if err != nil {
		return err
	}
	recurse := boolParam(r, "recurse")
	if ws := h.Catalog.GetWorkspaceByName(ns.Prefix); ws != nil {
		if err := h.removeWorkspace(ws, recurse); err != nil {
			return err
		}
		return h.ok(w)
	}
	if err := h.remove(ns, recurse); err != nil {
		return err
	}
	return h.ok(w)
}
