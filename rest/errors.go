package rest

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/nci/geoserve/catalog"
	"github.com/nci/geoserve/metrics"
)

// Error is a failure with the HTTP status to answer it with.
type Error struct {
	Status int
	Msg    string
}

func (e *Error) Error() string {
	return e.Msg
}

func errorf(status int, format string, args ...interface{}) error {
	return &Error{Status: status, Msg: fmt.Sprintf(format, args...)}
}

func badRequest(format string, args ...interface{}) error {
	return errorf(http.StatusBadRequest, format, args...)
}

func forbidden(format string, args ...interface{}) error {
	return errorf(http.StatusForbidden, format, args...)
}

func notFound(format string, args ...interface{}) error {
	return errorf(http.StatusNotFound, format, args...)
}

// StatusOf maps err to an HTTP status. Catalog errors map by kind: missing
// objects to 404, conflicts and objects still in use to 403, invalid
// objects to 400.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrExists), errors.Is(err, catalog.ErrInUse):
		return http.StatusForbidden
	case errors.Is(err, catalog.ErrInvalid):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	if status >= 500 || h.Verbose {
		log.Printf("REST: %s %s: %d %v", r.Method, r.URL.Path, status, err)
	}
	if c := metrics.FromContext(r.Context()); c != nil {
		c.SetError(err.Error())
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	fmt.Fprintln(w, err.Error())
}
