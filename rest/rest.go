// Package rest serves the catalog configuration API below /rest.
//
// Resources are addressed the GeoServer way, e.g.
// /rest/workspaces/{ws}/datastores/{ds}/featuretypes/{ft}, and represented
// as XML, JSON or HTML. The representation is chosen by the path extension,
// then by the Accept header, and defaults to HTML.
package rest

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/nci/geoserve/catalog"
	"github.com/nci/geoserve/catalog/persist"
	"github.com/nci/geoserve/metrics"
	"github.com/nci/geoserve/utils"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const Version = "1.0.0"

const realm = "GeoServe"

// Handler is the REST API. Catalog and Store are required; the other
// collaborators are optional.
type Handler struct {
	Catalog *catalog.Catalog
	Store   persist.Store
	Files   *utils.RuntimeFileResolver

	// Requests backs /rest/monitor. Nil disables it.
	Requests metrics.RequestDAO
	// Cache is reset by /rest/reset.
	Cache *utils.OWSCache
	// Reload re-reads the catalog from persistence for /rest/reload.
	Reload func(ctx context.Context) error

	// DataDir receives uploaded files below data/<workspace>/<store>.
	DataDir string
	Verbose bool

	templates *utils.Templates
	mux       *http.ServeMux

	mu      sync.RWMutex
	config  *utils.Config
	limiter *rate.Limiter
}

func NewHandler(config *utils.Config, cat *catalog.Catalog, store persist.Store, files *utils.RuntimeFileResolver) *Handler {
	h := &Handler{
		Catalog:   cat,
		Store:     store,
		Files:     files,
		DataDir:   config.ServiceConfig.DataDir,
		templates: utils.NewTemplates(config.ServiceConfig.TemplateDir, BuiltinTemplates, false),
		mux:       http.NewServeMux(),
	}
	h.SetConfig(config)
	h.routes()
	return h
}

// SetConfig swaps the configuration, e.g. after SIGHUP. Users, anonymous
// access and limits take effect on the next request.
func (h *Handler) SetConfig(config *utils.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.config = config
	h.limiter = metrics.NewLimiter(config.REST.RateLimit, config.REST.Burst)
}

func (h *Handler) current() (*utils.Config, *rate.Limiter) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config, h.limiter
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	config, limiter := h.current()
	if h.Verbose {
		log.Printf("REST: %s %s", r.Method, r.URL.Path)
	}
	metrics.RateLimit(limiter, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.authorize(w, r, config) {
			return
		}
		if r.Body != nil && config.REST.MaxUploadSize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, config.REST.MaxUploadSize)
		}
		r = withFormat(r)
		h.mux.ServeHTTP(w, r)
	})).ServeHTTP(w, r)
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

// authorize checks basic credentials. Mutations need the ADMIN role, reads
// too unless anonymous reads are enabled.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, config *utils.Config) bool {
	if isRead(r.Method) && config.REST.AnonymousRead {
		return true
	}
	name, password, ok := r.BasicAuth()
	if !ok {
		h.challenge(w, r, "Authentication required")
		return false
	}
	user := config.FindUser(name)
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		h.challenge(w, r, "Invalid user name or password")
		return false
	}
	if !user.HasRole(utils.RoleAdmin) {
		h.writeError(w, r, errorf(http.StatusForbidden, "User %s is not allowed to access %s", name, r.URL.Path))
		return false
	}
	return true
}

func (h *Handler) challenge(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
	h.writeError(w, r, errorf(http.StatusUnauthorized, "%s", msg))
}

// handlerFunc is a route handler. A returned error is written as a text
// response with the status it maps to.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (h *Handler) handle(pattern string, fn handlerFunc) {
	method, path, _ := strings.Cut(pattern, " ")
	h.mux.HandleFunc(method+" /rest"+path, func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			h.writeError(w, r, err)
		}
	})
}

func (h *Handler) routes() {
	h.handle("GET /about/version", h.getVersion)

	h.handle("GET /workspaces", h.listWorkspaces)
	h.handle("POST /workspaces", h.postWorkspace)
	h.handle("GET /workspaces/default", h.getDefaultWorkspace)
	h.handle("PUT /workspaces/default", h.putDefaultWorkspace)
	h.handle("GET /workspaces/{ws}", h.getWorkspace)
	h.handle("PUT /workspaces/{ws}", h.putWorkspace)
	h.handle("DELETE /workspaces/{ws}", h.deleteWorkspace)

	h.handle("GET /namespaces", h.listNamespaces)
	h.handle("POST /namespaces", h.postNamespace)
	h.handle("GET /namespaces/{prefix}", h.getNamespace)
	h.handle("PUT /namespaces/{prefix}", h.putNamespace)
	h.handle("DELETE /namespaces/{prefix}", h.deleteNamespace)

	h.handle("GET /workspaces/{ws}/datastores", h.listDataStores)
	h.handle("POST /workspaces/{ws}/datastores", h.postDataStore)
	h.handle("GET /workspaces/{ws}/datastores/{ds}", h.getDataStore)
	h.handle("PUT /workspaces/{ws}/datastores/{ds}", h.putDataStore)
	h.handle("DELETE /workspaces/{ws}/datastores/{ds}", h.deleteDataStore)
	h.handle("PUT /workspaces/{ws}/datastores/{ds}/{upload}", h.uploadDataStore)

	h.handle("GET /workspaces/{ws}/datastores/{ds}/featuretypes", h.listFeatureTypes)
	h.handle("POST /workspaces/{ws}/datastores/{ds}/featuretypes", h.postFeatureType)
	h.handle("GET /workspaces/{ws}/datastores/{ds}/featuretypes/{ft}", h.getFeatureType)
	h.handle("PUT /workspaces/{ws}/datastores/{ds}/featuretypes/{ft}", h.putFeatureType)
	h.handle("DELETE /workspaces/{ws}/datastores/{ds}/featuretypes/{ft}", h.deleteFeatureType)
	h.handle("GET /workspaces/{ws}/featuretypes", h.listFeatureTypes)
	h.handle("POST /workspaces/{ws}/featuretypes", h.postFeatureType)
	h.handle("GET /workspaces/{ws}/featuretypes/{ft}", h.getFeatureType)
	h.handle("PUT /workspaces/{ws}/featuretypes/{ft}", h.putFeatureType)
	h.handle("DELETE /workspaces/{ws}/featuretypes/{ft}", h.deleteFeatureType)

	h.handle("GET /workspaces/{ws}/coveragestores", h.listCoverageStores)
	h.handle("POST /workspaces/{ws}/coveragestores", h.postCoverageStore)
	h.handle("GET /workspaces/{ws}/coveragestores/{cs}", h.getCoverageStore)
	h.handle("PUT /workspaces/{ws}/coveragestores/{cs}", h.putCoverageStore)
	h.handle("DELETE /workspaces/{ws}/coveragestores/{cs}", h.deleteCoverageStore)
	h.handle("PUT /workspaces/{ws}/coveragestores/{cs}/{upload}", h.uploadCoverageStore)

	h.handle("GET /workspaces/{ws}/coveragestores/{cs}/coverages", h.listCoverages)
	h.handle("POST /workspaces/{ws}/coveragestores/{cs}/coverages", h.postCoverage)
	h.handle("GET /workspaces/{ws}/coveragestores/{cs}/coverages/{c}", h.getCoverage)
	h.handle("PUT /workspaces/{ws}/coveragestores/{cs}/coverages/{c}", h.putCoverage)
	h.handle("DELETE /workspaces/{ws}/coveragestores/{cs}/coverages/{c}", h.deleteCoverage)
	h.handle("GET /workspaces/{ws}/coverages", h.listCoverages)
	h.handle("POST /workspaces/{ws}/coverages", h.postCoverage)
	h.handle("GET /workspaces/{ws}/coverages/{c}", h.getCoverage)
	h.handle("PUT /workspaces/{ws}/coverages/{c}", h.putCoverage)
	h.handle("DELETE /workspaces/{ws}/coverages/{c}", h.deleteCoverage)

	for _, prefix := range []string{"", "/workspaces/{ws}"} {
		h.handle("GET "+prefix+"/styles", h.listStyles)
		h.handle("POST "+prefix+"/styles", h.postStyle)
		h.handle("GET "+prefix+"/styles/{s}", h.getStyle)
		h.handle("PUT "+prefix+"/styles/{s}", h.putStyle)
		h.handle("DELETE "+prefix+"/styles/{s}", h.deleteStyle)

		h.handle("GET "+prefix+"/layers", h.listLayers)
		h.handle("GET "+prefix+"/layers/{layer}", h.getLayer)
		h.handle("PUT "+prefix+"/layers/{layer}", h.putLayer)
		h.handle("DELETE "+prefix+"/layers/{layer}", h.deleteLayer)
		h.handle("GET "+prefix+"/layers/{layer}/styles", h.listLayerStyles)
		h.handle("POST "+prefix+"/layers/{layer}/styles", h.postLayerStyle)

		h.handle("GET "+prefix+"/layergroups", h.listLayerGroups)
		h.handle("POST "+prefix+"/layergroups", h.postLayerGroup)
		h.handle("GET "+prefix+"/layergroups/{lg}", h.getLayerGroup)
		h.handle("PUT "+prefix+"/layergroups/{lg}", h.putLayerGroup)
		h.handle("DELETE "+prefix+"/layergroups/{lg}", h.deleteLayerGroup)
	}

	h.handle("GET /monitor/requests", h.listRequests)
	h.handle("GET /monitor/requests/{id}", h.getRequest)

	for _, m := range []string{"POST", "PUT"} {
		h.handle(m+" /reload", h.reload)
		h.handle(m+" /reset", h.reset)
	}
}
