package rest

import (
	"bytes"
	"net/http"
	"path"
	"strings"

	"github.com/nci/geoserve/catalog"
	"github.com/nci/geoserve/catalog/persist"
	"github.com/nci/geoserve/sld"
	"github.com/nci/geoserve/utils"
)

const styleFormatSLD = "sld"

// InstallDefaultStyles adds the built-in global styles missing from cat
// and writes their bodies.
func InstallDefaultStyles(cat *catalog.Catalog, store persist.Store) error {
	for name, body := range sld.DefaultStyles() {
		if cat.GetStyleByName("", name) != nil {
			continue
		}
		version, err := sld.DetectVersion(body)
		if err != nil {
			return err
		}
		s := &catalog.StyleInfo{Name: name, Format: styleFormatSLD, FormatVersion: version, Filename: name + ".sld"}
		if err := store.WriteStyle(s, body); err != nil {
			return err
		}
		if err := cat.Add(s); err != nil {
			return err
		}
	}
	return nil
}

func isDefaultStyle(s *catalog.StyleInfo) bool {
	if s.WorkspaceID != "" {
		return false
	}
	for _, n := range sld.DefaultStyleNames() {
		if n == s.Name {
			return true
		}
	}
	return false
}

func (h *Handler) styleHref(r *http.Request, ws, name string) string {
	if ws == "" {
		return h.href(r, "styles", name)
	}
	return h.href(r, "workspaces", ws, "styles", name)
}

func (h *Handler) styleLocation(r *http.Request, ws, name string) []string {
	if ws == "" {
		return []string{"styles", name}
	}
	return []string{"workspaces", ws, "styles", name}
}

func (h *Handler) listStyles(w http.ResponseWriter, r *http.Request) error {
	ws := r.PathValue("ws")
	if ws != "" {
		if _, err := h.workspace(ws); err != nil {
			return err
		}
	}
	var items []namedLink
	for _, s := range h.Catalog.GetStylesByWorkspace(ws) {
		items = append(items, namedLink{Name: s.Name, Href: h.styleHref(r, ws, s.Name)})
	}
	return h.writeList(w, r, "styles", "style", items)
}

// styleBodyKind tells style documents from SLD bodies. SLD sent as plain
// XML is recognised by its root element.
func styleBodyKind(r *http.Request, body []byte) string {
	kind := bodyKind(r)
	if kind == bodyXML || kind == bodyText {
		if root, err := utils.RootElement(body); err == nil && root == "StyledLayerDescriptor" {
			return bodySLD
		}
	}
	return kind
}

// parsedStyle is an SLD body with the package resources that came with it.
type parsedStyle struct {
	name      string
	version   string
	body      []byte
	resources map[string][]byte
}

func parseStyle(r *http.Request, kind string, body []byte) (*parsedStyle, error) {
	p := &parsedStyle{body: body}
	if kind == bodyZip {
		pkg, err := sld.ReadPackageBytes(body)
		if err != nil {
			return nil, badRequest("%v", err)
		}
		p.body = pkg.SLD
		p.resources = pkg.Resources
		p.name = strings.TrimSuffix(path.Base(pkg.SLDName), path.Ext(pkg.SLDName))
	}
	version, err := sld.DetectVersion(p.body)
	if boolParam(r, "raw") {
		// Raw bodies are stored as sent.
		p.version = sld.Version100
		if err == nil {
			p.version = version
		}
	} else {
		if err != nil {
			return nil, badRequest("%v", err)
		}
		p.version = version
		doc, err := sld.ParseBytes(p.body)
		if err != nil {
			return nil, badRequest("%v", err)
		}
		if errs := sld.Validate(doc); len(errs) > 0 {
			msgs := make([]string, len(errs))
			for i, e := range errs {
				msgs[i] = e.Error()
			}
			return nil, badRequest("Invalid style: %s", strings.Join(msgs, "; "))
		}
		if n := sld.StyleName(doc); n != "" && kind != bodyZip {
			p.name = n
		}
	}
	if n := r.URL.Query().Get("name"); n != "" {
		p.name = n
	}
	return p, nil
}

// writeStyleFiles stores the body and resources of a style.
func (h *Handler) writeStyleFiles(s *catalog.StyleInfo, p *parsedStyle) error {
	if err := h.Store.WriteStyle(s, p.body); err != nil {
		return err
	}
	for name, body := range p.resources {
		if err := h.Store.WriteStyleResource(s, name, body); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) postStyle(w http.ResponseWriter, r *http.Request) error {
	ws := r.PathValue("ws")
	wsID := ""
	if ws != "" {
		info, err := h.workspace(ws)
		if err != nil {
			return err
		}
		wsID = info.ID
	}
	body, err := readBody(r)
	if err != nil {
		return err
	}
	r.Body = readCloser(body)
	kind := styleBodyKind(r, body)

	if kind == bodySLD || kind == bodyZip {
		p, err := parseStyle(r, kind, body)
		if err != nil {
			return err
		}
		if p.name == "" {
			return badRequest("Style name is required, use the name parameter")
		}
		s := &catalog.StyleInfo{
			Name:          p.name,
			WorkspaceID:   wsID,
			Format:        styleFormatSLD,
			FormatVersion: p.version,
			Filename:      p.name + ".sld",
		}
		s.Resources = sortedResourceNames(p.resources)
		if err := h.Catalog.Add(s); err != nil {
			return err
		}
		if err := h.writeStyleFiles(s, p); err != nil {
			if rmErr := h.Catalog.Remove(s); rmErr != nil {
				return rmErr
			}
			return err
		}
		return h.created(w, r, s.Name, h.styleLocation(r, ws, s.Name)...)
	}

	d := &styleDoc{}
	if err := decodeDoc(r, "style", d); err != nil {
		return err
	}
	if d.Name == "" {
		return badRequest("Style name is required")
	}
	s := &catalog.StyleInfo{WorkspaceID: wsID, Format: styleFormatSLD, FormatVersion: sld.Version100}
	d.apply(s)
	if s.Filename == "" {
		s.Filename = s.Name + ".sld"
	}
	if err := h.Catalog.Add(s); err != nil {
		return err
	}
	return h.created(w, r, s.Name, h.styleLocation(r, ws, s.Name)...)
}

func (h *Handler) getStyle(w http.ResponseWriter, r *http.Request) error {
	ws := r.PathValue("ws")
	s, err := h.style(ws, r.PathValue("s"))
	if err != nil {
		return err
	}
	switch formatOf(r) {
	case formatSLD:
		body, err := h.Store.ReadStyle(s)
		if err != nil {
			return notFound("No body found for style %s", s.Name)
		}
		contentType := mimeSLD
		if s.FormatVersion == sld.Version110 {
			contentType = mimeSE
		}
		h.write(w, http.StatusOK, contentType, body)
		return nil
	case formatZip:
		body, err := h.Store.ReadStyle(s)
		if err != nil {
			return notFound("No body found for style %s", s.Name)
		}
		pkg := &sld.Package{SLDName: s.Filename, SLD: body, Resources: map[string][]byte{}}
		for _, name := range s.Resources {
			if res, err := h.Store.ReadStyleResource(s, name); err == nil {
				pkg.Resources[name] = res
			}
		}
		var buf bytes.Buffer
		if err := sld.WritePackage(&buf, pkg); err != nil {
			return err
		}
		w.Header().Set("Content-Disposition", `attachment; filename="`+s.Name+`.zip"`)
		h.write(w, http.StatusOK, mimeZip, buf.Bytes())
		return nil
	}
	return h.writeDoc(w, r, http.StatusOK, "style", h.styleDoc(r, ws, s))
}

func (h *Handler) putStyle(w http.ResponseWriter, r *http.Request) error {
	ws := r.PathValue("ws")
	s, err := h.style(ws, r.PathValue("s"))
	if err != nil {
		return err
	}
	body, err := readBody(r)
	if err != nil {
		return err
	}
	r.Body = readCloser(body)
	kind := styleBodyKind(r, body)

	if kind == bodySLD || kind == bodyZip {
		p, err := parseStyle(r, kind, body)
		if err != nil {
			return err
		}
		s.FormatVersion = p.version
		for _, name := range sortedResourceNames(p.resources) {
			if !contains(s.Resources, name) {
				s.Resources = append(s.Resources, name)
			}
		}
		if err := h.writeStyleFiles(s, p); err != nil {
			return err
		}
		if err := h.Catalog.Save(s); err != nil {
			return err
		}
		return h.ok(w)
	}

	d := h.styleDoc(r, ws, s)
	if err := decodeDoc(r, "style", d); err != nil {
		return err
	}
	if name := refName(d.Workspace); name != ws {
		return forbidden("Can't change the workspace of style %s", s.Name)
	}
	d.apply(s)
	if err := h.Catalog.Save(s); err != nil {
		return err
	}
	return h.ok(w)
}

func (h *Handler) deleteStyle(w http.ResponseWriter, r *http.Request) error {
	ws := r.PathValue("ws")
	s, err := h.style(ws, r.PathValue("s"))
	if err != nil {
		return err
	}
	if isDefaultStyle(s) {
		return forbidden("Unable to delete built-in style %s", s.Name)
	}
	if err := h.remove(s, boolParam(r, "recurse")); err != nil {
		return err
	}
	if boolParam(r, "purge") {
		if err := h.Store.DeleteStyleFiles(s); err != nil {
			return err
		}
	}
	return h.ok(w)
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func sortedResourceNames(resources map[string][]byte) []string {
	pkg := &sld.Package{Resources: resources}
	return pkg.ResourceNames()
}
