package metrics

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	StatusWaiting   = "WAITING"
	StatusRunning   = "RUNNING"
	StatusFinished  = "FINISHED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"

	CategoryOWS   = "OWS"
	CategoryREST  = "REST"
	CategoryOther = "OTHER"
)

// RequestData is the monitoring record of one HTTP request.
type RequestData struct {
	ID                  string    `json:"id"`
	Status              string    `json:"status"`
	Category            string    `json:"category"`
	Path                string    `json:"path"`
	QueryString         string    `json:"queryString,omitempty"`
	HTTPMethod          string    `json:"httpMethod"`
	StartTime           time.Time `json:"startTime"`
	EndTime             time.Time `json:"endTime,omitempty"`
	TotalTime           int64     `json:"totalTime"`
	RemoteAddr          string    `json:"remoteAddr"`
	RemoteHost          string    `json:"remoteHost"`
	Host                string    `json:"host"`
	Service             string    `json:"service,omitempty"`
	Operation           string    `json:"operation,omitempty"`
	OwsVersion          string    `json:"owsVersion,omitempty"`
	Resources           []string  `json:"resources,omitempty"`
	ResponseStatus      int       `json:"responseStatus"`
	ResponseLength      int64     `json:"responseLength"`
	ResponseContentType string    `json:"responseContentType,omitempty"`
	ErrorMessage        string    `json:"errorMessage,omitempty"`
	Body                []byte    `json:"body,omitempty"`
	BodyContentType     string    `json:"bodyContentType,omitempty"`
	BodyLength          int64     `json:"bodyLength"`
}

func (i *RequestData) Clone() *RequestData {
	c := *i
	c.Resources = append([]string(nil), i.Resources...)
	c.Body = append([]byte(nil), i.Body...)
	return &c
}

func (i *RequestData) ToJSON() (string, error) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(i)
	if err == nil {
		return buf.String(), nil
	} else {
		return "", err
	}
}

func (i *RequestData) normaliseNetworkAddr(addr string) {
	host, _, err := net.SplitHostPort(addr)
	if err == nil {
		i.RemoteHost = host
	} else {
		i.RemoteHost = addr
	}
}

// Categorise assigns OWS, REST or OTHER from the request path.
func Categorise(path string) string {
	switch {
	case strings.HasPrefix(path, "/rest"):
		return CategoryREST
	case strings.HasPrefix(path, "/ows"), strings.HasPrefix(path, "/wps"):
		return CategoryOWS
	}
	return CategoryOther
}

// MetricsCollector follows one request. It is safe to update from the
// handler while the monitor middleware owns the record.
type MetricsCollector struct {
	mu     sync.Mutex
	Info   *RequestData
	logger Logger
	dao    RequestDAO
}

func NewMetricsCollector(logger Logger, dao RequestDAO) *MetricsCollector {
	return &MetricsCollector{
		Info: &RequestData{
			ID:     uuid.New().String(),
			Status: StatusWaiting,
		},
		logger: logger,
		dao:    dao,
	}
}

// Start records the request line and, up to maxBody bytes, its body.
func (m *MetricsCollector) Start(r *http.Request, body []byte, bodyLength int64) {
	m.mu.Lock()
	i := m.Info
	i.Status = StatusRunning
	i.Category = Categorise(r.URL.Path)
	i.Path = r.URL.Path
	i.QueryString = r.URL.RawQuery
	i.HTTPMethod = r.Method
	i.StartTime = time.Now().UTC()
	i.RemoteAddr = r.RemoteAddr
	i.normaliseNetworkAddr(r.RemoteAddr)
	i.Host = r.Host
	i.Body = body
	i.BodyLength = bodyLength
	i.BodyContentType = r.Header.Get("Content-Type")
	snapshot := i.Clone()
	m.mu.Unlock()

	if m.dao != nil {
		m.dao.Add(snapshot)
	}
}

// SetOWS records the OGC service, version and operation of the request.
func (m *MetricsCollector) SetOWS(service, version, operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if service != "" {
		m.Info.Service = service
	}
	if version != "" {
		m.Info.OwsVersion = version
	}
	if operation != "" {
		m.Info.Operation = operation
	}
}

func (m *MetricsCollector) AddResource(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		if n == "" {
			continue
		}
		found := false
		for _, r := range m.Info.Resources {
			if r == n {
				found = true
				break
			}
		}
		if !found {
			m.Info.Resources = append(m.Info.Resources, n)
		}
	}
}

func (m *MetricsCollector) SetError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Info.ErrorMessage = msg
}

// Finish closes the record, stores and logs it. Status is derived from the
// HTTP status unless cancelled is set.
func (m *MetricsCollector) Finish(httpStatus int, length int64, contentType string, cancelled bool) {
	m.mu.Lock()
	i := m.Info
	i.EndTime = time.Now().UTC()
	i.TotalTime = i.EndTime.Sub(i.StartTime).Milliseconds()
	i.ResponseStatus = httpStatus
	i.ResponseLength = length
	i.ResponseContentType = contentType
	switch {
	case cancelled:
		i.Status = StatusCancelled
	case httpStatus >= 400 || i.ErrorMessage != "":
		i.Status = StatusFailed
	default:
		i.Status = StatusFinished
	}
	snapshot := i.Clone()
	m.mu.Unlock()

	if m.dao != nil {
		m.dao.Update(snapshot)
	}
	m.Log()
}

func (m *MetricsCollector) Log() {
	if m.logger != nil {
		m.mu.Lock()
		snapshot := m.Info.Clone()
		m.mu.Unlock()
		m.logger.Log(snapshot)
	}
}
