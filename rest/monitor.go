package rest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nci/geoserve/metrics"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, badRequest("Invalid date '%s'", s)
}

// requestQuery reads from, to, filter, order, offset and count. Order is
// field[;ASC|DESC], ascending by default.
func requestQuery(r *http.Request) (metrics.RequestQuery, error) {
	q := metrics.RequestQuery{Ascending: true}
	params := r.URL.Query()
	var err error
	if s := params.Get("from"); s != "" {
		if q.From, err = parseTime(s); err != nil {
			return q, err
		}
	}
	if s := params.Get("to"); s != "" {
		if q.To, err = parseTime(s); err != nil {
			return q, err
		}
	}
	for _, s := range params["filter"] {
		f, err := metrics.ParseFilter(s)
		if err != nil {
			return q, badRequest("%v", err)
		}
		q.Filters = append(q.Filters, f)
	}
	if s := params.Get("order"); s != "" {
		name, dir, _ := strings.Cut(strings.Replace(s, ":", ";", 1), ";")
		field, ok := metrics.FieldName(name)
		if !ok {
			return q, badRequest("Unknown order field '%s'", name)
		}
		q.SortBy = field
		switch strings.ToUpper(dir) {
		case "", "ASC":
		case "DESC":
			q.Ascending = false
		default:
			return q, badRequest("Invalid order direction '%s'", dir)
		}
	}
	if q.Offset, err = intParam(r, "offset", 0); err != nil {
		return q, err
	}
	if q.Count, err = intParam(r, "count", 0); err != nil {
		return q, err
	}
	return q, nil
}

type requestDoc struct {
	XMLName             xml.Name `xml:"request" json:"-"`
	ID                  string   `xml:"id" json:"id"`
	Status              string   `xml:"status" json:"status"`
	Category            string   `xml:"category" json:"category"`
	Path                string   `xml:"path" json:"path"`
	QueryString         string   `xml:"queryString,omitempty" json:"queryString,omitempty"`
	HTTPMethod          string   `xml:"httpMethod" json:"httpMethod"`
	StartTime           string   `xml:"startTime" json:"startTime"`
	EndTime             string   `xml:"endTime,omitempty" json:"endTime,omitempty"`
	TotalTime           int64    `xml:"totalTime" json:"totalTime"`
	RemoteAddr          string   `xml:"remoteAddr" json:"remoteAddr"`
	RemoteHost          string   `xml:"remoteHost,omitempty" json:"remoteHost,omitempty"`
	Host                string   `xml:"host" json:"host"`
	Service             string   `xml:"service,omitempty" json:"service,omitempty"`
	Operation           string   `xml:"operation,omitempty" json:"operation,omitempty"`
	OwsVersion          string   `xml:"owsVersion,omitempty" json:"owsVersion,omitempty"`
	Resources           []string `xml:"resources>resource,omitempty" json:"resources,omitempty"`
	ResponseStatus      int      `xml:"responseStatus" json:"responseStatus"`
	ResponseLength      int64    `xml:"responseLength" json:"responseLength"`
	ResponseContentType string   `xml:"responseContentType,omitempty" json:"responseContentType,omitempty"`
	ErrorMessage        string   `xml:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	BodyContentType     string   `xml:"bodyContentType,omitempty" json:"bodyContentType,omitempty"`
	BodyLength          int64    `xml:"bodyLength" json:"bodyLength"`
	Href                string   `xml:"-" json:"href,omitempty"`
}

func requestTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (h *Handler) requestDoc(r *http.Request, d *metrics.RequestData) *requestDoc {
	return &requestDoc{
		ID:                  d.ID,
		Status:              d.Status,
		Category:            d.Category,
		Path:                d.Path,
		QueryString:         d.QueryString,
		HTTPMethod:          d.HTTPMethod,
		StartTime:           requestTime(d.StartTime),
		EndTime:             requestTime(d.EndTime),
		TotalTime:           d.TotalTime,
		RemoteAddr:          d.RemoteAddr,
		RemoteHost:          d.RemoteHost,
		Host:                d.Host,
		Service:             d.Service,
		Operation:           d.Operation,
		OwsVersion:          d.OwsVersion,
		Resources:           d.Resources,
		ResponseStatus:      d.ResponseStatus,
		ResponseLength:      d.ResponseLength,
		ResponseContentType: d.ResponseContentType,
		ErrorMessage:        d.ErrorMessage,
		BodyContentType:     d.BodyContentType,
		BodyLength:          d.BodyLength,
		Href:                h.href(r, "monitor", "requests", d.ID),
	}
}

type requestsDoc struct {
	XMLName  xml.Name      `xml:"requests" json:"-"`
	Requests []*requestDoc `xml:"request" json:"request"`
}

var csvHeader = []string{
	"id", "status", "category", "httpMethod", "path", "queryString",
	"startTime", "endTime", "totalTime", "remoteAddr", "host",
	"service", "operation", "owsVersion", "resources",
	"responseStatus", "responseLength", "responseContentType", "errorMessage",
}

func (d *requestDoc) csvRecord() []string {
	return []string{
		d.ID, d.Status, d.Category, d.HTTPMethod, d.Path, d.QueryString,
		d.StartTime, d.EndTime, strconv.FormatInt(d.TotalTime, 10), d.RemoteAddr, d.Host,
		d.Service, d.Operation, d.OwsVersion, strings.Join(d.Resources, ","),
		strconv.Itoa(d.ResponseStatus), strconv.FormatInt(d.ResponseLength, 10), d.ResponseContentType, d.ErrorMessage,
	}
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) error {
	if h.Requests == nil {
		return notFound("Request monitoring is disabled")
	}
	q, err := requestQuery(r)
	if err != nil {
		return err
	}
	records, err := h.Requests.Query(r.Context(), q)
	if err != nil {
		return err
	}
	docs := make([]*requestDoc, len(records))
	for i, rec := range records {
		docs[i] = h.requestDoc(r, rec)
	}

	switch formatOf(r) {
	case formatCSV:
		var buf bytes.Buffer
		cw := csv.NewWriter(&buf)
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
		for _, d := range docs {
			if err := cw.Write(d.csvRecord()); err != nil {
				return err
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
		h.write(w, http.StatusOK, mimeCSV, buf.Bytes())
		return nil
	case formatJSON:
		body, err := json.Marshal(map[string]interface{}{"requests": &requestsDoc{Requests: docs}})
		if err != nil {
			return err
		}
		h.write(w, http.StatusOK, mimeJSON, body)
		return nil
	case formatXML:
		body, err := xml.MarshalIndent(&requestsDoc{Requests: docs}, "", "  ")
		if err != nil {
			return err
		}
		h.write(w, http.StatusOK, mimeXML, body)
		return nil
	case formatHTML:
		rows := make([]map[string]interface{}, len(docs))
		for i, d := range docs {
			rows[i] = map[string]interface{}{
				"ID": d.ID, "Href": d.Href, "Status": d.Status, "Category": d.Category,
				"HTTPMethod": d.HTTPMethod, "Path": d.Path, "Start": d.StartTime,
				"TotalTime": d.TotalTime, "ResponseStatus": d.ResponseStatus,
			}
		}
		body, err := h.templates.Render(tplRequests, nil, map[string]interface{}{"Title": "requests", "Requests": rows})
		if err != nil {
			return err
		}
		h.write(w, http.StatusOK, mimeHTML, body)
		return nil
	}
	return errorf(http.StatusNotAcceptable, "%s is not a valid representation of requests", formatOf(r))
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) error {
	if h.Requests == nil {
		return notFound("Request monitoring is disabled")
	}
	id := r.PathValue("id")
	rec, err := h.Requests.Get(r.Context(), id)
	if errors.Is(err, metrics.ErrNotFound) {
		return notFound("No such request: %s", id)
	}
	if err != nil {
		return err
	}
	return h.writeDoc(w, r, http.StatusOK, "request", h.requestDoc(r, rec))
}

// reload re-reads the catalog from persistence and drops cached file
// lookups.
func (h *Handler) reload(w http.ResponseWriter, r *http.Request) error {
	if h.Reload != nil {
		if err := h.Reload(r.Context()); err != nil {
			return err
		}
	}
	if h.Files != nil {
		h.Files.Forget()
	}
	if h.Cache != nil {
		h.Cache.Reset()
	}
	return h.ok(w)
}

// reset drops cached responses and file lookups without touching the
// catalog.
func (h *Handler) reset(w http.ResponseWriter, r *http.Request) error {
	if h.Cache != nil {
		h.Cache.Reset()
	}
	if h.Files != nil {
		h.Files.Forget()
	}
	return h.ok(w)
}
