package wps

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/nci/geoserve/metrics"
	"github.com/nci/geoserve/utils"
)

const Version = "1.0.0"

// Handler serves WPS KVP and XML requests on /ows and /wps.
type Handler struct {
	Manager  *ExecutionManager
	Renderer *Renderer

	// BaseURL is the public server url, without the service path. When
	// empty it is derived from the request.
	BaseURL     string
	MaxBodySize int64
	Verbose     bool

	reMap map[string]*regexp.Regexp
}

func NewHandler(manager *ExecutionManager, renderer *Renderer) *Handler {
	return &Handler{
		Manager:     manager,
		Renderer:    renderer,
		MaxBodySize: 32 << 20,
		reMap:       utils.CompileWPSRegexMap(),
	}
}

func (h *Handler) serviceURL(r *http.Request) string {
	base := h.BaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
			scheme = fwd
		}
		base = scheme + "://" + r.Host
	}
	return strings.TrimSuffix(base, "/") + r.URL.Path
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
	if h.Verbose {
		log.Printf("WPS: %s %s", r.Method, r.URL.String())
	}

	var params utils.WPSParams
	var req *ExecuteRequest
	var err error
	switch r.Method {
	case http.MethodGet:
		params, err = h.parseKVP(r)
	case http.MethodPost:
		params, req, err = h.parsePost(w, r)
	default:
		err = Errorf(OperationNotSupported, "request", "method %s is not supported", r.Method)
	}
	if err != nil {
		h.writeException(w, r, err)
		return
	}

	if c := metrics.FromContext(r.Context()); c != nil {
		c.SetOWS("WPS", params.Version, params.Request)
		if params.Identifier != "" {
			c.AddResource(strings.Split(params.Identifier, ",")...)
		}
	}

	if err := checkVersion(params); err != nil {
		h.writeException(w, r, err)
		return
	}

	switch params.Request {
	case "GetCapabilities":
		h.getCapabilities(w, r)
	case "DescribeProcess":
		h.describeProcess(w, r, params)
	case "Execute":
		if req == nil {
			req, err = ParseExecuteKVP(params)
			if err != nil {
				h.writeException(w, r, err)
				return
			}
		}
		h.execute(w, r, req)
	case "GetExecutionStatus":
		h.executionStatus(w, r, params)
	case "GetExecutionResult":
		h.executionResult(w, r, params)
	case "Dismiss":
		h.dismiss(w, r, params)
	default:
		h.writeException(w, r, Errorf(OperationNotSupported, "request", "unknown operation %s", params.Request))
	}
}

func (h *Handler) parseKVP(r *http.Request) (utils.WPSParams, error) {
	query, err := utils.ParseQuery(r.URL.RawQuery)
	if err != nil {
		return utils.WPSParams{}, InvalidParam("request", "failed to parse query: %v", err)
	}
	params, err := utils.WPSParamsChecker(query, h.reMap)
	if err != nil {
		return params, err
	}
	switch params.Request {
	case "DescribeProcess", "Execute":
		if params.Version == "" {
			return params, MissingParam("version")
		}
	}
	return params, nil
}

func (h *Handler) parsePost(w http.ResponseWriter, r *http.Request) (utils.WPSParams, *ExecuteRequest, error) {
	reader := io.Reader(r.Body)
	if h.MaxBodySize > 0 {
		reader = http.MaxBytesReader(w, r.Body, h.MaxBodySize)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return utils.WPSParams{}, nil, InvalidParam("request", "error reading request body: %v", err)
	}
	params, req, err := ParseXMLRequest(body)
	if err != nil {
		return params, nil, err
	}
	if params.Service != "" && params.Service != "WPS" {
		return params, nil, InvalidParam("service", "%s is not a valid value for 'service'", params.Service)
	}
	return params, req, nil
}

func checkVersion(p utils.WPSParams) error {
	if p.Version != "" && p.Version != Version {
		return Errorf(VersionNegotiationFailed, "version", "version %s is not supported, use %s", p.Version, Version)
	}
	if p.Request == "GetCapabilities" && p.AcceptVersions != "" {
		for _, v := range strings.Split(p.AcceptVersions, ",") {
			if strings.TrimSpace(v) == Version {
				return nil
			}
		}
		return Errorf(VersionNegotiationFailed, "acceptVersions", "none of the accepted versions %s is supported", p.AcceptVersions)
	}
	return nil
}

func (h *Handler) getCapabilities(w http.ResponseWriter, r *http.Request) {
	body, err := h.Renderer.Capabilities(h.serviceURL(r), h.Manager.Registry().List())
	if err != nil {
		h.writeException(w, r, err)
		return
	}
	h.writeXML(w, http.StatusOK, body)
}

func (h *Handler) describeProcess(w http.ResponseWriter, r *http.Request, p utils.WPSParams) {
	if p.Identifier == "" {
		h.writeException(w, r, MissingParam("identifier"))
		return
	}
	reg := h.Manager.Registry()
	var processes []Process
	if strings.EqualFold(p.Identifier, "ALL") {
		processes = reg.List()
	} else {
		for _, id := range strings.Split(p.Identifier, ",") {
			id = strings.TrimSpace(id)
			proc, ok := reg.Get(id)
			if !ok {
				h.writeException(w, r, Errorf(NoSuchProcess, id, "no such process %s", id))
				return
			}
			processes = append(processes, proc)
		}
	}
	body, err := h.Renderer.Describe(processes)
	if err != nil {
		h.writeException(w, r, err)
		return
	}
	h.writeXML(w, http.StatusOK, body)
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request, req *ExecuteRequest) {
	exec, err := h.Manager.Submit(r.Context(), req)
	if err != nil {
		h.writeException(w, r, err)
		return
	}
	if req.RawOutput != nil {
		if exec.Status == StatusFailed {
			h.writeException(w, r, exec.Err)
			return
		}
		data, ok := exec.Results[req.RawOutput.Identifier]
		if !ok {
			h.writeException(w, r, Errorf(NoApplicableCode, req.RawOutput.Identifier, "output %s was not produced", req.RawOutput.Identifier))
			return
		}
		h.writeData(w, data)
		return
	}
	if exec.Status == StatusFailed {
		if c := metrics.FromContext(r.Context()); c != nil && exec.Err != nil {
			c.SetError(exec.Err.Text)
		}
	}
	h.writeExecuteResponse(w, r, exec)
}

func (h *Handler) writeExecuteResponse(w http.ResponseWriter, r *http.Request, exec *Execution) {
	body, err := h.Renderer.ExecuteResponse(h.serviceURL(r), exec)
	if err != nil {
		h.writeException(w, r, err)
		return
	}
	h.writeXML(w, http.StatusOK, body)
}

func (h *Handler) executionStatus(w http.ResponseWriter, r *http.Request, p utils.WPSParams) {
	if p.ExecutionID == "" {
		h.writeException(w, r, MissingParam("executionId"))
		return
	}
	exec, err := h.Manager.Status(p.ExecutionID)
	if err != nil {
		h.writeException(w, r, err)
		return
	}
	h.writeExecuteResponse(w, r, exec)
}

func (h *Handler) executionResult(w http.ResponseWriter, r *http.Request, p utils.WPSParams) {
	if p.ExecutionID == "" {
		h.writeException(w, r, MissingParam("executionId"))
		return
	}
	data, err := h.Manager.Result(p.ExecutionID, p.OutputID)
	if err != nil {
		h.writeException(w, r, err)
		return
	}
	h.writeData(w, data)
}

func (h *Handler) dismiss(w http.ResponseWriter, r *http.Request, p utils.WPSParams) {
	if p.ExecutionID == "" {
		h.writeException(w, r, MissingParam("executionId"))
		return
	}
	exec, err := h.Manager.Dismiss(p.ExecutionID)
	if err != nil {
		h.writeException(w, r, err)
		return
	}
	body, err := h.Renderer.DismissResponse(h.serviceURL(r), exec)
	if err != nil {
		h.writeException(w, r, err)
		return
	}
	h.writeXML(w, http.StatusOK, body)
}

func (h *Handler) writeData(w http.ResponseWriter, d Data) {
	w.Header().Set("Content-Type", orDefault(d.MimeType, MimeText))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(d.Value); err != nil && h.Verbose {
		log.Printf("WPS: writing response: %v", err)
	}
}

func (h *Handler) writeXML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", MimeXML)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil && h.Verbose {
		log.Printf("WPS: writing response: %v", err)
	}
}

func (h *Handler) writeException(w http.ResponseWriter, r *http.Request, err error) {
	e := AsException(err)
	if h.Verbose {
		log.Printf("WPS: %v", e)
	}
	if c := metrics.FromContext(r.Context()); c != nil {
		c.SetError(e.Text)
	}
	body, rerr := h.Renderer.ExceptionReport(e)
	if rerr != nil {
		http.Error(w, fmt.Sprintf("%v (%v)", e, rerr), http.StatusInternalServerError)
		return
	}
	h.writeXML(w, e.HTTPStatus(), body)
}
