package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strings"

	"github.com/nci/geoserve/utils"
)

// Representations, named after the path extension selecting them.
const (
	formatHTML = "html"
	formatXML  = "xml"
	formatJSON = "json"
	formatSLD  = "sld"
	formatZip  = "zip"
	formatCSV  = "csv"
)

const (
	mimeXML  = "application/xml"
	mimeJSON = "application/json"
	mimeHTML = "text/html; charset=utf-8"
	mimeSLD  = "application/vnd.ogc.sld+xml"
	mimeSE   = "application/vnd.ogc.se+xml"
	mimeZip  = "application/zip"
	mimeCSV  = "text/csv"
	mimeText = "text/plain"

	atomNS = "http://www.w3.org/2005/Atom"
)

var contentTypes = map[string]string{
	formatHTML: mimeHTML,
	formatXML:  mimeXML,
	formatJSON: mimeJSON,
	formatSLD:  mimeSLD,
	formatZip:  mimeZip,
	formatCSV:  mimeCSV,
}

type formatKey struct{}

type requestFormat struct {
	name     string
	explicit bool
}

// withFormat strips a representation extension from the path and records
// the negotiated representation in the request context.
func withFormat(r *http.Request) *http.Request {
	p := r.URL.Path
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	f := requestFormat{}
	if i := strings.LastIndex(p, "."); i > strings.LastIndex(p, "/") {
		ext := strings.ToLower(p[i+1:])
		if _, ok := contentTypes[ext]; ok {
			f = requestFormat{name: ext, explicit: true}
			p = p[:i]
		}
	}
	if f.name == "" {
		f.name = negotiate(r.Header.Get("Accept"))
	}
	r = r.WithContext(context.WithValue(r.Context(), formatKey{}, f))
	u := *r.URL
	u.Path = p
	u.RawPath = ""
	r.URL = &u
	return r
}

func negotiate(accept string) string {
	for _, part := range strings.Split(accept, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch {
		case strings.Contains(mt, "sld"), mt == mimeSE:
			return formatSLD
		case strings.Contains(mt, "json"):
			return formatJSON
		case strings.Contains(mt, "html"):
			return formatHTML
		case strings.Contains(mt, "xml"):
			return formatXML
		case mt == mimeZip:
			return formatZip
		case mt == mimeCSV:
			return formatCSV
		}
	}
	return formatHTML
}

func formatOf(r *http.Request) string {
	if f, ok := r.Context().Value(formatKey{}).(requestFormat); ok {
		return f.name
	}
	return formatHTML
}

// explicitFormat returns the extension the request path carried, if any.
func explicitFormat(r *http.Request) string {
	if f, ok := r.Context().Value(formatKey{}).(requestFormat); ok && f.explicit {
		return f.name
	}
	return ""
}

func (h *Handler) baseURL(r *http.Request) string {
	config, _ := h.current()
	if config.ServiceConfig.ProxyBaseURL != "" {
		return config.BaseURL()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}

// location is the extension-less url of a REST resource.
func (h *Handler) location(r *http.Request, parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return h.baseURL(r) + "/rest/" + strings.Join(escaped, "/")
}

// href links a REST resource in the representation of the response.
func (h *Handler) href(r *http.Request, parts ...string) string {
	ext := formatOf(r)
	switch ext {
	case formatXML, formatJSON, formatHTML:
	default:
		ext = formatXML
	}
	return h.location(r, parts...) + "." + ext
}

type atomLink struct {
	XMLName xml.Name `xml:"atom:link"`
	Atom    string   `xml:"xmlns:atom,attr"`
	Rel     string   `xml:"rel,attr"`
	Href    string   `xml:"href,attr"`
	Type    string   `xml:"type,attr"`
}

func atom(href string) *atomLink {
	return &atomLink{Atom: atomNS, Rel: "alternate", Href: href, Type: mimeXML}
}

// linkDoc is a link to a sub collection: an atom:link child in XML, the
// bare url in JSON. Incoming values are ignored.
type linkDoc struct {
	Href string
}

func (l *linkDoc) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return e.EncodeElement(struct {
		Link *atomLink
	}{atom(l.Href)}, start)
}

func (l *linkDoc) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	return d.Skip()
}

func (l *linkDoc) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Href)
}

func (l *linkDoc) UnmarshalJSON([]byte) error {
	return nil
}

// nameRef refers to another object by name.
type nameRef struct {
	Name string    `xml:"name" json:"name"`
	Link *atomLink `xml:"atom:link,omitempty" json:"-"`
	Href string    `xml:"-" json:"href,omitempty"`
}

func (h *Handler) ref(r *http.Request, name string, parts ...string) *nameRef {
	if name == "" {
		return nil
	}
	href := h.href(r, parts...)
	return &nameRef{Name: name, Link: atom(href), Href: href}
}

func refName(ref *nameRef) string {
	if ref == nil {
		return ""
	}
	return ref.Name
}

type namedLink struct {
	Name string
	Href string
}

// listDoc is a collection of links, e.g.
// <workspaces><workspace><name>ws</name><atom:link .../></workspace></workspaces>
// or {"workspace":[{"name":"ws","href":"..."}]}. Empty lists are "" in
// JSON.
type listDoc struct {
	Root  string
	Elem  string
	Items []namedLink
}

func (l *listDoc) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	start := xml.StartElement{Name: xml.Name{Local: l.Root}}
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, it := range l.Items {
		ref := nameRef{Name: it.Name}
		if it.Href != "" {
			ref.Link = atom(it.Href)
		}
		if err := e.EncodeElement(ref, xml.StartElement{Name: xml.Name{Local: l.Elem}}); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

func (l *listDoc) MarshalJSON() ([]byte, error) {
	if len(l.Items) == 0 {
		return json.Marshal("")
	}
	items := make([]nameRef, len(l.Items))
	for i, it := range l.Items {
		items[i] = nameRef{Name: it.Name, Href: it.Href}
	}
	return json.Marshal(map[string]interface{}{l.Elem: items})
}

// namesDoc lists bare names, e.g. feature types available in a store.
type namesDoc struct {
	Root  string
	Elem  string
	Names []string
}

func (n *namesDoc) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	start := xml.StartElement{Name: xml.Name{Local: n.Root}}
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, name := range n.Names {
		if err := e.EncodeElement(name, xml.StartElement{Name: xml.Name{Local: n.Elem}}); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

func (n *namesDoc) MarshalJSON() ([]byte, error) {
	if len(n.Names) == 0 {
		return json.Marshal("")
	}
	return json.Marshal(map[string][]string{"string": n.Names})
}

// writeDoc answers with doc in the negotiated representation. In JSON doc
// is wrapped in an object keyed by root; in XML doc names its own root.
func (h *Handler) writeDoc(w http.ResponseWriter, r *http.Request, status int, root string, doc interface{}) error {
	var body []byte
	var err error
	f := formatOf(r)
	switch f {
	case formatJSON:
		body, err = json.Marshal(map[string]interface{}{root: doc})
	case formatXML:
		body, err = xml.MarshalIndent(doc, "", "  ")
	case formatHTML:
		body, err = h.renderHTML(root, doc)
	default:
		return errorf(http.StatusNotAcceptable, "%s is not a valid representation of %s", f, root)
	}
	if err != nil {
		return fmt.Errorf("encoding %s: %v", root, err)
	}
	h.write(w, status, contentTypes[f], body)
	return nil
}

func (h *Handler) write(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil && h.Verbose {
		log.Printf("REST: writing response: %v", err)
	}
}

func (h *Handler) writeList(w http.ResponseWriter, r *http.Request, root, elem string, items []namedLink) error {
	return h.writeDoc(w, r, http.StatusOK, root, &listDoc{Root: root, Elem: elem, Items: items})
}

// created answers a POST with the location and name of the new object.
func (h *Handler) created(w http.ResponseWriter, r *http.Request, name string, parts ...string) error {
	w.Header().Set("Location", h.location(r, parts...))
	h.write(w, http.StatusCreated, mimeText, []byte(name))
	return nil
}

func (h *Handler) ok(w http.ResponseWriter) error {
	w.WriteHeader(http.StatusOK)
	return nil
}

// Body kinds, by Content-Type.
const (
	bodyXML  = "xml"
	bodyJSON = "json"
	bodySLD  = "sld"
	bodyZip  = "zip"
	bodyText = "text"
)

func bodyKind(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return bodyText
	}
	switch {
	case mt == mimeSLD, mt == mimeSE:
		return bodySLD
	case strings.Contains(mt, "json"):
		return bodyJSON
	case strings.Contains(mt, "xml"):
		return bodyXML
	case strings.Contains(mt, "zip"):
		return bodyZip
	}
	return bodyText
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	return io.ReadAll(r.Body)
}

// readCloser puts a consumed body back for a second read.
func readCloser(body []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(body))
}

// decodeDoc reads the request body into doc, which holds the current values
// of the object being updated. Elements missing from the body keep their
// current values.
func decodeDoc(r *http.Request, root string, doc interface{}) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return badRequest("Request body is empty")
	}
	kind := bodyKind(r)
	if kind == bodyText {
		kind = bodyXML
		if trimmed := strings.TrimSpace(string(body)); strings.HasPrefix(trimmed, "{") {
			kind = bodyJSON
		}
	}

	if kind == bodyJSON {
		raw := json.RawMessage(body)
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(body, &wrapper); err == nil {
			if inner, ok := wrapper[root]; ok {
				raw = inner
			}
		}
		if err := json.Unmarshal(raw, doc); err != nil {
			return badRequest("Invalid %s JSON: %v", root, err)
		}
		return nil
	}
	if kind != bodyXML && kind != bodySLD {
		return errorf(http.StatusUnsupportedMediaType, "Unsupported content type %s", r.Header.Get("Content-Type"))
	}

	name, err := utils.RootElement(body)
	if err != nil {
		return badRequest("Invalid %s XML: %v", root, err)
	}
	if name != root {
		return badRequest("Expected <%s> element, found <%s>", root, name)
	}
	fresh := reflect.New(reflect.TypeOf(doc).Elem()).Interface()
	if err := utils.UnmarshalXML(body, fresh); err != nil {
		return badRequest("Invalid %s XML: %v", root, err)
	}
	patch, err := json.Marshal(fresh)
	if err != nil {
		return err
	}
	return json.Unmarshal(patch, doc)
}

type htmlField struct {
	Name  string
	Value string
	Href  string
}

// renderHTML flattens the JSON form of doc into a table.
func (h *Handler) renderHTML(root string, doc interface{}) ([]byte, error) {
	if l, ok := doc.(*listDoc); ok {
		return h.templates.Render(tplList, nil, map[string]interface{}{"Title": l.Root, "Items": l.Items})
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	var fields []htmlField
	flatten("", v, &fields)
	return h.templates.Render(tplObject, nil, map[string]interface{}{"Title": root, "Fields": fields})
}

func flatten(prefix string, v interface{}, out *[]htmlField) {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			name := k
			if prefix != "" {
				name = prefix + "." + k
			}
			flatten(name, t[k], out)
		}
	case []interface{}:
		for i, e := range t {
			flatten(fmt.Sprintf("%s[%d]", prefix, i), e, out)
		}
	case nil:
		*out = append(*out, htmlField{Name: prefix})
	default:
		s := fmt.Sprint(t)
		f := htmlField{Name: prefix, Value: s}
		if strings.HasSuffix(s, ".html") && strings.Contains(s, "/rest/") {
			f.Href = s
		}
		*out = append(*out, f)
	}
}
